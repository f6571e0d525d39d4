// Package config provides configuration management for the crawler.
// It defines configuration structures and default values for crawl parameters.
package config

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/masahif/appsnowball/internal/marketplace"
)

// WorkerConfig locates the expansion worker process
type WorkerConfig struct {
	Address   string        `mapstructure:"address" yaml:"address"`       // unix:///path.sock or http://host:port; derived from socket_dir when empty
	Command   string        `mapstructure:"command" yaml:"command"`       // Command starting the worker; {market} and {socket} are substituted
	SocketDir string        `mapstructure:"socket_dir" yaml:"socket_dir"` // Directory holding worker sockets
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`       // Per-call timeout
	Fresh     bool          `mapstructure:"fresh" yaml:"fresh"`           // Restart the worker before use
}

// SearchConfig configures the web search engine client
type SearchConfig struct {
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`       // HTTP User-Agent header; empty uses a desktop browser agent
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`             // HTTP request timeout
	HostLanguage string        `mapstructure:"host_language" yaml:"host_language"` // hl parameter
	Region       string        `mapstructure:"region" yaml:"region"`               // gl parameter
	Backoff      time.Duration `mapstructure:"backoff" yaml:"backoff"`             // Sleep after HTTP 503
	Delay        time.Duration `mapstructure:"delay" yaml:"delay"`                 // Delay between requests per host
}

// LogConfig configures logging output
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int64  `mapstructure:"max_size" yaml:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Console    bool   `mapstructure:"console" yaml:"console"`
}

// Config holds the crawler configuration
type Config struct {
	// Market and locale
	Market   string `mapstructure:"market" yaml:"market"`     // android, ios, google-related, google-comp or bing
	Lang     string `mapstructure:"lang" yaml:"lang"`         // Language of suggestions and apps
	Country  string `mapstructure:"country" yaml:"country"`   // Store country
	Throttle int    `mapstructure:"throttle" yaml:"throttle"` // Worker requests per second

	// Crawl bounds
	AppsPerQuery     int           `mapstructure:"apps_per_query" yaml:"apps_per_query"`         // Apps requested per search term
	ReviewsPerApp    int           `mapstructure:"reviews_per_app" yaml:"reviews_per_app"`       // Review download cap per app
	MaxReviewPages   int           `mapstructure:"max_review_pages" yaml:"max_review_pages"`     // Review pages fetched per app
	ClosureLimit     int           `mapstructure:"closure_limit" yaml:"closure_limit"`           // Term closure size bound
	AppClosureLimit  int           `mapstructure:"app_closure_limit" yaml:"app_closure_limit"`   // App closure size bound
	SimilarAppsLimit int           `mapstructure:"similar_apps_limit" yaml:"similar_apps_limit"` // Similar ids followed per app
	StaleAfter       time.Duration `mapstructure:"stale_after" yaml:"stale_after"`               // App updates older than this are not re-stored
	FreshnessWindow  time.Duration `mapstructure:"freshness_window" yaml:"freshness_window"`     // Rows inside the current window are fresh
	Threshold        float64       `mapstructure:"threshold" yaml:"threshold"`                   // Relevance score below which terms are not expanded

	// Database configuration
	DatabasePath     string `mapstructure:"database_path" yaml:"database_path"`           // Production SQLite database
	TestDatabasePath string `mapstructure:"test_database_path" yaml:"test_database_path"` // Database used without --prod
	Prod             bool   `mapstructure:"prod" yaml:"prod"`

	// Term expansion
	SeedTerms     []string `mapstructure:"seed_terms" yaml:"seed_terms"`
	BlockPatterns []string `mapstructure:"block_patterns" yaml:"block_patterns"` // Regex patterns blocking expansion
	AllowPatterns []string `mapstructure:"allow_patterns" yaml:"allow_patterns"` // Regex patterns overriding a block

	// Crawl outputs
	MissedItemsPath string `mapstructure:"missed_items_path" yaml:"missed_items_path"`
	SnowballDir     string `mapstructure:"snowball_dir" yaml:"snowball_dir"`

	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`
	Search SearchConfig `mapstructure:"search" yaml:"search"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// DefaultSeedTerms start a crawl when none are configured.
var DefaultSeedTerms = []string{
	"spy app",
	"phone tracker",
	"location tracker",
	"track my wife",
	"parental control",
	"keylogger",
	"sms tracker",
	"call recorder",
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Lang:             "en",
		Country:          "us",
		Throttle:         10,
		AppsPerQuery:     50,
		ReviewsPerApp:    200,
		MaxReviewPages:   1000,
		ClosureLimit:     1000,
		AppClosureLimit:  100,
		SimilarAppsLimit: 10,
		StaleAfter:       720 * time.Hour,
		FreshnessWindow:  24 * time.Hour,
		Threshold:        0.5,
		DatabasePath:     "./appsnowball.db",
		TestDatabasePath: "./appsnowball_test.db",
		SeedTerms:        append([]string(nil), DefaultSeedTerms...),
		MissedItemsPath:  "./missed_items.txt",
		Worker: WorkerConfig{
			Command:   "node worker/index.js --market {market} --socket {socket}",
			SocketDir: "/tmp",
			Timeout:   60 * time.Second,
		},
		Search: SearchConfig{
			Timeout:      30 * time.Second,
			HostLanguage: "en",
			Region:       "us",
			Backoff:      60 * time.Second,
			Delay:        1 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			File:       "appsnowball.log",
			MaxSize:    100,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Validate checks if the configuration is valid. Lang and country are
// normalized to their canonical lower-case form.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Market) == "" {
		return ErrNoMarket
	}
	market, err := marketplace.ParseMarket(c.Market)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, c.Market)
	}
	c.Market = market.String()

	lang, err := language.ParseBase(c.Lang)
	if err != nil {
		return fmt.Errorf("%w: language %q", ErrInvalidLocale, c.Lang)
	}
	region, err := language.ParseRegion(c.Country)
	if err != nil {
		return fmt.Errorf("%w: country %q", ErrInvalidLocale, c.Country)
	}
	c.Lang = lang.String()
	c.Country = strings.ToLower(region.String())

	limits := []struct {
		name  string
		value int
	}{
		{"apps_per_query", c.AppsPerQuery},
		{"reviews_per_app", c.ReviewsPerApp},
		{"closure_limit", c.ClosureLimit},
		{"app_closure_limit", c.AppClosureLimit},
		{"similar_apps_limit", c.SimilarAppsLimit},
	}
	for _, l := range limits {
		if l.value <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidLimit, l.name)
		}
	}
	if c.MaxReviewPages < 0 || c.Throttle < 0 {
		return fmt.Errorf("%w: negative throttle or max_review_pages", ErrInvalidLimit)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [0, 1]", ErrInvalidLimit)
	}

	if c.FreshnessWindow <= 0 || c.StaleAfter <= 0 {
		return ErrInvalidWindow
	}
	if c.Worker.Timeout <= 0 || c.Search.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.ActiveDatabasePath() == "" {
		return ErrEmptyDatabasePath
	}

	return nil
}

// ActiveDatabasePath returns the production database with Prod set and the
// test database otherwise.
func (c *Config) ActiveDatabasePath() string {
	if c.Prod {
		return c.DatabasePath
	}
	return c.TestDatabasePath
}

// Locale returns the configured language/country pair.
func (c *Config) Locale() marketplace.Locale {
	return marketplace.Locale{Lang: c.Lang, Country: c.Country}
}

// Settings returns the configuration as the key/value pairs recorded with
// every crawl run.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"lang":               c.Lang,
		"country":            c.Country,
		"throttle":           c.Throttle,
		"apps_per_query":     c.AppsPerQuery,
		"reviews_per_app":    c.ReviewsPerApp,
		"closure_limit":      c.ClosureLimit,
		"app_closure_limit":  c.AppClosureLimit,
		"similar_apps_limit": c.SimilarAppsLimit,
		"stale_after":        c.StaleAfter.String(),
		"freshness_window":   c.FreshnessWindow.String(),
		"threshold":          c.Threshold,
		"prod":               c.Prod,
		"seed_terms":         c.SeedTerms,
		"block_patterns":     c.BlockPatterns,
		"allow_patterns":     c.AllowPatterns,
	}
}
