package config

import "errors"

var (
	// ErrNoMarket is returned when no market is configured
	ErrNoMarket = errors.New("no market provided")
	// ErrUnknownMarket is returned when the market is not supported
	ErrUnknownMarket = errors.New("unknown market")
	// ErrInvalidLocale is returned when lang or country is not a valid code
	ErrInvalidLocale = errors.New("invalid locale")
	// ErrInvalidLimit is returned when a crawl bound is out of range
	ErrInvalidLimit = errors.New("invalid limit")
	// ErrInvalidWindow is returned when freshness_window or stale_after is not greater than 0
	ErrInvalidWindow = errors.New("freshness_window and stale_after must be greater than 0")
	// ErrInvalidTimeout is returned when a timeout is not greater than 0
	ErrInvalidTimeout = errors.New("timeouts must be greater than 0")
	// ErrEmptyDatabasePath is returned when database path is empty
	ErrEmptyDatabasePath = errors.New("database_path cannot be empty")
)
