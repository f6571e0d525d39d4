// Package expansion defines the closed set of expansion capabilities that
// drive closures: term suggestion from an app store, term suggestion from a
// web search engine, app similarity and app search.
package expansion

import (
	"context"
	"fmt"

	"github.com/masahif/appsnowball/internal/marketplace"
	"github.com/masahif/appsnowball/internal/worker"
)

// Kind identifies a capability variant.
type Kind int

// Capability variants.
const (
	KindTermSuggestion Kind = iota
	KindWebSuggestion
	KindAppSimilarity
	KindAppSearch
)

func (k Kind) String() string {
	switch k {
	case KindTermSuggestion:
		return "term-suggestion"
	case KindWebSuggestion:
		return "web-suggestion"
	case KindAppSimilarity:
		return "app-similarity"
	case KindAppSearch:
		return "app-search"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Capability expands a node (a term or an app id) into related nodes.
type Capability interface {
	Kind() Kind
	Expand(ctx context.Context, node string) ([]string, error)
}

// Marketplace is the part of the worker API the capabilities use.
type Marketplace interface {
	Suggest(ctx context.Context, market marketplace.Market, term string) ([]string, error)
	Similar(ctx context.Context, market marketplace.Market, appID string, limit int) ([]string, error)
	Search(ctx context.Context, market marketplace.Market, term string, num int) ([]marketplace.SearchHit, error)
}

// WebEngine is the part of the search engine client the capabilities use.
type WebEngine interface {
	BingSuggest(ctx context.Context, q string) ([]string, error)
	GoogleComplete(ctx context.Context, q string) ([]string, error)
	GoogleRelated(ctx context.Context, q string) ([]string, error)
	PlayComplete(ctx context.Context, q string) ([]string, error)
}

// TermSuggestion expands a term through an app store's completion API.
type TermSuggestion struct {
	Market marketplace.Market
	Source Marketplace
}

// Kind implements Capability.
func (TermSuggestion) Kind() Kind { return KindTermSuggestion }

// Expand implements Capability.
func (c TermSuggestion) Expand(ctx context.Context, term string) ([]string, error) {
	return c.Source.Suggest(ctx, c.Market, term)
}

// Service selects a web suggestion endpoint.
type Service string

// Web suggestion services.
const (
	ServiceBing           Service = "bing"
	ServiceGoogleComplete Service = "google-comp"
	ServiceGoogleRelated  Service = "google-related"
	ServicePlayComplete   Service = "play-comp"
)

// WebSuggestion expands a term through a search engine.
type WebSuggestion struct {
	Service Service
	Engine  WebEngine
}

// Kind implements Capability.
func (WebSuggestion) Kind() Kind { return KindWebSuggestion }

// Expand implements Capability.
func (c WebSuggestion) Expand(ctx context.Context, term string) ([]string, error) {
	switch c.Service {
	case ServiceBing:
		return c.Engine.BingSuggest(ctx, term)
	case ServiceGoogleComplete:
		return c.Engine.GoogleComplete(ctx, term)
	case ServiceGoogleRelated:
		return c.Engine.GoogleRelated(ctx, term)
	case ServicePlayComplete:
		return c.Engine.PlayComplete(ctx, term)
	default:
		return nil, fmt.Errorf("unknown web service %q", c.Service)
	}
}

// AppSimilarity expands an app id into the ids of similar apps.
type AppSimilarity struct {
	Market marketplace.Market
	Source Marketplace
	Limit  int // ids kept per app
}

// Kind implements Capability.
func (AppSimilarity) Kind() Kind { return KindAppSimilarity }

// Expand implements Capability.
func (c AppSimilarity) Expand(ctx context.Context, appID string) ([]string, error) {
	return c.Source.Similar(ctx, c.Market, appID, c.Limit)
}

// AppSearch expands a term into the ids of the apps the store lists for it.
type AppSearch struct {
	Market marketplace.Market
	Source Marketplace
	Num    int
}

// Kind implements Capability.
func (AppSearch) Kind() Kind { return KindAppSearch }

// Expand implements Capability. Ids are deduplicated in result order.
func (c AppSearch) Expand(ctx context.Context, term string) ([]string, error) {
	hits, err := c.Source.Search(ctx, c.Market, term, c.Num)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if !seen[h.AppID] {
			seen[h.AppID] = true
			ids = append(ids, h.AppID)
		}
	}
	return ids, nil
}

// Registry maps markets to capabilities.
type Registry struct {
	Source       Marketplace
	Engine       WebEngine
	SimilarLimit int
	SearchNum    int
}

// TermExpansion returns the term completion capability for market.
func (r Registry) TermExpansion(market marketplace.Market) (Capability, error) {
	switch market {
	case marketplace.Android, marketplace.IOS:
		return TermSuggestion{Market: market, Source: r.Source}, nil
	case marketplace.GoogleRelated:
		return WebSuggestion{Service: ServiceGoogleRelated, Engine: r.Engine}, nil
	case marketplace.GoogleComplete:
		return WebSuggestion{Service: ServiceGoogleComplete, Engine: r.Engine}, nil
	case marketplace.Bing:
		return WebSuggestion{Service: ServiceBing, Engine: r.Engine}, nil
	default:
		return nil, fmt.Errorf("%w: term expansion for %s", worker.ErrUnsupported, market)
	}
}

// AppExpansion returns the app similarity capability for market.
func (r Registry) AppExpansion(market marketplace.Market) (Capability, error) {
	if !market.IsAppStore() {
		return nil, fmt.Errorf("%w: app similarity for %s", worker.ErrUnsupported, market)
	}
	return AppSimilarity{Market: market, Source: r.Source, Limit: r.SimilarLimit}, nil
}

// AppLookup returns the app search capability for market.
func (r Registry) AppLookup(market marketplace.Market) (Capability, error) {
	if !market.IsAppStore() {
		return nil, fmt.Errorf("%w: app search for %s", worker.ErrUnsupported, market)
	}
	return AppSearch{Market: market, Source: r.Source, Num: r.SearchNum}, nil
}
