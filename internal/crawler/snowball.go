// Package crawler drives the snowball crawl: term and app closures backed by
// the crawl-state store, app details snapshots, and review downloads.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/masahif/appsnowball/internal/closure"
	"github.com/masahif/appsnowball/internal/expansion"
	"github.com/masahif/appsnowball/internal/marketplace"
	"github.com/masahif/appsnowball/internal/relevance"
	"github.com/masahif/appsnowball/internal/storage"
	"github.com/masahif/appsnowball/internal/worker"
)

// termUnique identifies a stored term expansion.
var termUnique = []string{"term", "terms", "apps"}

// Snowball runs the expansion pipelines for one market.
type Snowball struct {
	opts     Options
	store    Storage
	source   Marketplace
	registry expansion.Registry
	filter   *relevance.Filter

	termsTable   string
	appsTable    string
	reviewsTable string
	descTable    string
}

// New creates a Snowball and makes sure the market's tables exist. engine
// may be nil for app store markets.
func New(ctx context.Context, opts Options, store Storage, source Marketplace, engine expansion.WebEngine, filter *relevance.Filter) (*Snowball, error) {
	if _, err := marketplace.ParseMarket(opts.Market.String()); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = relevance.Default()
	}
	if err := store.EnsureTables(ctx, storage.MarketTables(opts.Market)...); err != nil {
		return nil, fmt.Errorf("failed to prepare %s tables: %w", opts.Market, err)
	}

	return &Snowball{
		opts:   opts,
		store:  store,
		source: source,
		registry: expansion.Registry{
			Source:       source,
			Engine:       engine,
			SimilarLimit: opts.SimilarLimit,
			SearchNum:    opts.AppsPerQuery,
		},
		filter:       filter,
		termsTable:   storage.TermsTable(opts.Market).Name,
		appsTable:    storage.AppsTable(opts.Market).Name,
		reviewsTable: storage.ReviewsTable(opts.Market).Name,
		descTable:    storage.DescTable(opts.Market).Name,
	}, nil
}

// Options returns the active options.
func (s *Snowball) Options() Options {
	return s.opts
}

func (s *Snowball) locale() storage.Where {
	return storage.Where{"lang": s.opts.Locale.Lang, "country": s.opts.Locale.Country}
}

// ClosureOfTerms snowballs seeds through the market's term completion.
// Terms the relevance filter rejects are kept but not expanded.
func (s *Snowball) ClosureOfTerms(ctx context.Context, seeds []string, limit int) (*closure.Result[string], error) {
	capability, err := s.registry.TermExpansion(s.opts.Market)
	if err != nil {
		return nil, err
	}
	return closure.Compute[string](ctx, capability, seeds, limit, s.filter.Blacklist(s.opts.Threshold))
}

// ClosureOfApps snowballs app ids through the similar apps of each app.
func (s *Snowball) ClosureOfApps(ctx context.Context, appIDs []string, limit int) (*closure.Result[string], error) {
	capability, err := s.registry.AppExpansion(s.opts.Market)
	if err != nil {
		return nil, err
	}
	return closure.Compute[string](ctx, capability, appIDs, limit, nil)
}

// AppIDsForQuery returns the ids of the apps the marketplace lists for term.
// Search engine markets have no app search and return nothing.
func (s *Snowball) AppIDsForQuery(ctx context.Context, term string) ([]string, error) {
	capability, err := s.registry.AppLookup(s.opts.Market)
	if errors.Is(err, worker.ErrUnsupported) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return capability.Expand(ctx, term)
}

// TermsAndApps returns the term closure and app ids for term. A stored row
// is reused when one exists; with fresh only rows inside the current
// freshness window count. Rows that fail to decode are recomputed.
func (s *Snowball) TermsAndApps(ctx context.Context, term string, fresh bool) (*TermResult, error) {
	within := s.opts.FreshnessWindow
	if !fresh {
		within = 0
	}

	check := s.store.Exists(ctx, s.termsTable, "term", term, within)
	switch check.Presence {
	case storage.Present:
		if res, ok := s.storedTerm(ctx, term); ok {
			return res, nil
		}
	case storage.ReadFailed:
		slog.Warn("Term lookup failed, recomputing", "term", term, "error", check.Err)
	}

	return s.computeTerm(ctx, term)
}

func (s *Snowball) storedTerm(ctx context.Context, term string) (*TermResult, bool) {
	row, corrupt, err := s.store.FindLatest(ctx, s.termsTable, storage.Where{"term": term})
	if err != nil {
		slog.Warn("Failed to load stored term, recomputing", "term", term, "error", err)
		return nil, false
	}
	if row == nil {
		return nil, false
	}
	if len(corrupt) > 0 {
		slog.Warn("Stored term is corrupt, recomputing", "term", term, "columns", corrupt)
		return nil, false
	}

	res := &TermResult{
		Term:   term,
		Terms:  make(map[string]string),
		Apps:   marketplace.StringList(row["apps"]),
		Cached: true,
	}
	if m, ok := row["terms"].(map[string]any); ok {
		for k, v := range m {
			parent, _ := v.(string)
			res.Terms[k] = parent
		}
	}
	if res.Apps == nil {
		res.Apps = []string{}
	}
	return res, true
}

func (s *Snowball) computeTerm(ctx context.Context, term string) (*TermResult, error) {
	snowball, err := s.ClosureOfTerms(ctx, []string{term}, s.opts.ClosureLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to compute closure of %q: %w", term, err)
	}
	apps, err := s.AppIDsForQuery(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("failed to search apps for %q: %w", term, err)
	}

	res := &TermResult{Term: term, Terms: snowball.Parents, Apps: apps}
	row := storage.Row{
		"term":    term,
		"terms":   res.Terms,
		"apps":    res.Apps,
		"lang":    s.opts.Locale.Lang,
		"country": s.opts.Locale.Country,
	}
	if _, err := s.store.InsertIfAbsent(ctx, s.termsTable, row, termUnique); err != nil {
		slog.Error("Failed to store term", "term", term, "error", err)
	}
	return res, nil
}
