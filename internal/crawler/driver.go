package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/masahif/appsnowball/internal/marketplace"
	"github.com/masahif/appsnowball/internal/storage"
)

// iosBorrowedTerms is how many of the most frequent android terms an ios
// crawl adds to its candidates.
const iosBorrowedTerms = 1000

// smokeTestReviews is the review count fetched by SmokeTest.
const smokeTestReviews = 41

// RunOptions configures a crawl.
type RunOptions struct {
	Seeds       []string
	Settings    map[string]any // recorded in the configs table
	Reviews     bool           // also download reviews
	SnowballDir string         // where to dump the seed closure; empty disables
	Missed      io.Writer      // receives terms whose closure escapes the candidates
}

// Crawl runs a full crawl: it records the configuration, snowballs the
// seeds, refreshes the expansion of every known term of the locale and
// finally downloads details for every app found so far.
func (s *Snowball) Crawl(ctx context.Context, opts RunOptions) (*RunStats, error) {
	stats := &RunStats{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	slog.Info("Starting crawl", "market", s.opts.Market, "run_id", stats.RunID, "seeds", len(opts.Seeds))

	if err := s.recordConfig(ctx, stats.RunID, opts.Settings); err != nil {
		slog.Error("Failed to record configuration", "error", err)
	}

	seedClosure, err := s.ClosureOfTerms(ctx, opts.Seeds, s.opts.ClosureLimit)
	if err != nil {
		return stats, fmt.Errorf("failed to snowball seeds: %w", err)
	}
	stats.SeedClosure = seedClosure.Len()
	if err := s.recordSetting(ctx, stats.RunID, "snowball", seedClosure.Parents); err != nil {
		slog.Error("Failed to record seed closure", "error", err)
	}
	if opts.SnowballDir != "" {
		if err := s.dumpClosure(opts.SnowballDir, seedClosure.Parents); err != nil {
			slog.Error("Failed to write seed closure", "error", err)
		}
	}

	candidates, err := s.candidateTerms(ctx, seedClosure.Nodes())
	if err != nil {
		return stats, err
	}
	inCandidates := make(map[string]bool, len(candidates))
	for _, t := range candidates {
		inCandidates[t] = true
	}
	slog.Info("Term set ready", "market", s.opts.Market, "terms", len(candidates))

	for i, term := range candidates {
		if i%10 == 0 {
			slog.Info("Term progress", "market", s.opts.Market, "done", i)
		}
		res, err := s.TermsAndApps(ctx, term, true)
		if err != nil {
			return stats, err
		}
		stats.Terms++

		var missed []string
		for t := range res.Terms {
			if !inCandidates[t] {
				missed = append(missed, t)
			}
		}
		if len(missed) > 0 {
			sort.Strings(missed)
			stats.Missed++
			slog.Warn("Closure escapes the candidate terms", "term", term, "missed", missed)
			if opts.Missed != nil {
				if _, err := fmt.Fprintf(opts.Missed, "Missed for %q: %q\n", term, missed); err != nil {
					slog.Error("Failed to record missed terms", "error", err)
				}
			}
		}
	}

	outcomes, added, err := s.DownloadAllAppDetails(ctx, opts.Reviews)
	stats.Outcomes = outcomes
	stats.Reviews = added
	for _, n := range outcomes {
		stats.Apps += n
	}
	stats.Duration = time.Since(stats.StartTime)
	if err != nil {
		return stats, err
	}

	slog.Info("Crawl finished", "market", s.opts.Market, "terms", stats.Terms, "apps", stats.Apps,
		"missed", stats.Missed, "reviews", stats.Reviews, "duration", stats.Duration)
	return stats, nil
}

// candidateTerms returns the seed closure followed by every stored term of
// the locale. ios crawls also borrow the most frequent android terms since
// ios completions are sparse.
func (s *Snowball) candidateTerms(ctx context.Context, closureTerms []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(terms []string) {
		for _, t := range terms {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	add(closureTerms)

	stored, err := s.store.ColumnValues(ctx, s.termsTable, "term", s.locale())
	if err != nil {
		slog.Error("Failed to read stored terms", "error", err)
	}
	add(stored)

	if s.opts.Market == marketplace.IOS {
		android := storage.TermsTable(marketplace.Android)
		if err := s.store.EnsureTables(ctx, android); err != nil {
			return nil, fmt.Errorf("failed to prepare android terms: %w", err)
		}
		borrowed, err := s.store.MostFrequent(ctx, android.Name, "term", s.locale(), iosBorrowedTerms)
		if err != nil {
			slog.Error("Failed to read android terms", "error", err)
		}
		add(borrowed)
	}
	return out, nil
}

// recordConfig stores every setting as one configs row sharing runID.
func (s *Snowball) recordConfig(ctx context.Context, runID string, settings map[string]any) error {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]storage.Row, 0, len(keys)+1)
	for _, k := range keys {
		value, err := json.Marshal(settings[k])
		if err != nil {
			return fmt.Errorf("failed to encode setting %s: %w", k, err)
		}
		rows = append(rows, storage.Row{"run_id": runID, "key": k, "value": string(value)})
	}
	rows = append(rows, storage.Row{"run_id": runID, "key": "market", "value": s.opts.Market.String()})
	return s.store.InsertMany(ctx, storage.ConfigsTable().Name, rows)
}

func (s *Snowball) recordSetting(ctx context.Context, runID, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.store.InsertMany(ctx, storage.ConfigsTable().Name,
		[]storage.Row{{"run_id": runID, "key": key, "value": string(encoded)}})
}

func (s *Snowball) dumpClosure(dir string, parents map[string]string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(parents, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode closure: %w", err)
	}
	name := fmt.Sprintf("query_closure_%s_%d.json", s.opts.Market, s.opts.ClosureLimit)
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}

// SmokeAppID is the well known app SmokeTest downloads reviews for.
func SmokeAppID(market marketplace.Market) string {
	if market == marketplace.IOS {
		return "com.nerdyoctopus.dots"
	}
	return "com.mojang.minecraftpe"
}

// SmokeTest downloads a handful of reviews for a well known app to check the
// worker and the store end to end.
func (s *Snowball) SmokeTest(ctx context.Context) (*ReviewStats, error) {
	if !s.opts.Market.IsAppStore() {
		return nil, fmt.Errorf("smoke test needs an app store market, got %s", s.opts.Market)
	}
	return s.DownloadReviews(ctx, SmokeAppID(s.opts.Market), smokeTestReviews)
}
