package crawler

import (
	"time"

	"github.com/masahif/appsnowball/internal/marketplace"
	"github.com/masahif/appsnowball/internal/relevance"
)

// Options configures a Snowball.
type Options struct {
	Market          marketplace.Market
	Locale          marketplace.Locale
	ClosureLimit    int           // term closure size bound
	AppClosureLimit int           // app closure size bound
	SimilarLimit    int           // similar ids followed per app in app closures
	AppsPerQuery    int           // apps requested per search term
	ReviewsPerApp   int           // review download cap per app
	MaxReviewPages  int           // review pages fetched per app (0=unbounded)
	StaleAfter      time.Duration // app updates older than this are not re-stored
	FreshnessWindow time.Duration // rows inside the current window are fresh
	Threshold       float64       // relevance below this blocks expansion
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions(market marketplace.Market) Options {
	return Options{
		Market:          market,
		Locale:          marketplace.Locale{Lang: "en", Country: "us"},
		ClosureLimit:    1000,
		AppClosureLimit: 100,
		SimilarLimit:    10,
		AppsPerQuery:    50,
		ReviewsPerApp:   200,
		MaxReviewPages:  1000,
		StaleAfter:      30 * 24 * time.Hour,
		FreshnessWindow: 24 * time.Hour,
		Threshold:       relevance.DefaultThreshold,
	}
}

// TermResult is the stored or freshly computed expansion of one term.
type TermResult struct {
	Term   string            `json:"term" yaml:"term"`
	Terms  map[string]string `json:"terms" yaml:"terms"` // closure: term -> discovering term
	Apps   []string          `json:"apps" yaml:"apps"`
	Cached bool              `json:"cached" yaml:"cached"` // served from the store
}

// Outcome is what happened to one app details download.
type Outcome int

// App details outcomes.
const (
	OutcomeStored       Outcome = iota // a new snapshot row was written
	OutcomeUnchanged                   // an identical snapshot already existed
	OutcomeDiscarded                   // fresh or stale rule kept the fetch out of the store
	OutcomeDiscontinued                // the marketplace no longer lists a known app
	OutcomeMissing                     // unknown app not listed by the marketplace
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeDiscontinued:
		return "discontinued"
	default:
		return "missing"
	}
}

// ReviewStats summarizes one review download.
type ReviewStats struct {
	AppID  string `json:"app_id" yaml:"app_id"`
	Target int    `json:"target" yaml:"target"` // reviews wanted in the store
	Stored int    `json:"stored" yaml:"stored"` // reviews in the store afterwards
	Added  int    `json:"added" yaml:"added"`
	Pages  int    `json:"pages" yaml:"pages"`
}

// RunStats summarizes a crawl.
type RunStats struct {
	RunID       string
	SeedClosure int
	Terms       int
	Missed      int
	Apps        int
	Outcomes    map[Outcome]int
	Reviews     int
	StartTime   time.Time
	Duration    time.Duration
}
