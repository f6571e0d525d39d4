package expansion

import (
	"context"
	"errors"
	"testing"

	"github.com/masahif/appsnowball/internal/marketplace"
	"github.com/masahif/appsnowball/internal/worker"
)

type fakeSource struct {
	calls []string
}

func (f *fakeSource) Suggest(_ context.Context, m marketplace.Market, term string) ([]string, error) {
	f.calls = append(f.calls, "suggest:"+m.String())
	return []string{term + " free"}, nil
}

func (f *fakeSource) Similar(_ context.Context, m marketplace.Market, appID string, limit int) ([]string, error) {
	f.calls = append(f.calls, "similar:"+m.String())
	ids := []string{"a", "b", "c"}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeSource) Search(_ context.Context, m marketplace.Market, term string, num int) ([]marketplace.SearchHit, error) {
	f.calls = append(f.calls, "search:"+m.String())
	return []marketplace.SearchHit{{AppID: "x"}, {AppID: "y"}, {AppID: "x"}}, nil
}

type fakeEngine struct{ last string }

func (f *fakeEngine) BingSuggest(_ context.Context, q string) ([]string, error) {
	f.last = "bing"
	return []string{q}, nil
}

func (f *fakeEngine) GoogleComplete(_ context.Context, q string) ([]string, error) {
	f.last = "google-comp"
	return []string{q}, nil
}

func (f *fakeEngine) GoogleRelated(_ context.Context, q string) ([]string, error) {
	f.last = "google-related"
	return []string{q}, nil
}

func (f *fakeEngine) PlayComplete(_ context.Context, q string) ([]string, error) {
	f.last = "play-comp"
	return []string{q}, nil
}

func TestRegistryTermExpansion(t *testing.T) {
	src := &fakeSource{}
	eng := &fakeEngine{}
	r := Registry{Source: src, Engine: eng, SimilarLimit: 2, SearchNum: 50}
	ctx := context.Background()

	tests := []struct {
		market   marketplace.Market
		wantKind Kind
		wantEng  string
	}{
		{marketplace.Android, KindTermSuggestion, ""},
		{marketplace.IOS, KindTermSuggestion, ""},
		{marketplace.GoogleRelated, KindWebSuggestion, "google-related"},
		{marketplace.GoogleComplete, KindWebSuggestion, "google-comp"},
		{marketplace.Bing, KindWebSuggestion, "bing"},
	}
	for _, tt := range tests {
		t.Run(tt.market.String(), func(t *testing.T) {
			eng.last = ""
			c, err := r.TermExpansion(tt.market)
			if err != nil {
				t.Fatalf("TermExpansion() error = %v", err)
			}
			if c.Kind() != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", c.Kind(), tt.wantKind)
			}
			if _, err := c.Expand(ctx, "spy app"); err != nil {
				t.Fatalf("Expand() error = %v", err)
			}
			if eng.last != tt.wantEng {
				t.Errorf("engine service = %q, want %q", eng.last, tt.wantEng)
			}
		})
	}
}

func TestRegistryAppCapabilities(t *testing.T) {
	src := &fakeSource{}
	r := Registry{Source: src, SimilarLimit: 2, SearchNum: 50}
	ctx := context.Background()

	sim, err := r.AppExpansion(marketplace.Android)
	if err != nil {
		t.Fatalf("AppExpansion() error = %v", err)
	}
	ids, _ := sim.Expand(ctx, "com.a")
	if len(ids) != 2 {
		t.Errorf("similar ids = %v, want 2 (limit)", ids)
	}

	search, err := r.AppLookup(marketplace.IOS)
	if err != nil {
		t.Fatalf("AppLookup() error = %v", err)
	}
	ids, _ = search.Expand(ctx, "spy")
	if len(ids) != 2 || ids[0] != "x" || ids[1] != "y" {
		t.Errorf("search ids = %v, want [x y]", ids)
	}

	if _, err := r.AppExpansion(marketplace.Bing); !errors.Is(err, worker.ErrUnsupported) {
		t.Errorf("AppExpansion(bing) error = %v, want ErrUnsupported", err)
	}
	if _, err := r.AppLookup(marketplace.GoogleComplete); !errors.Is(err, worker.ErrUnsupported) {
		t.Errorf("AppLookup(google-comp) error = %v, want ErrUnsupported", err)
	}
}

func TestWebSuggestionPlayAndUnknown(t *testing.T) {
	eng := &fakeEngine{}
	ctx := context.Background()
	if _, err := (WebSuggestion{Service: ServicePlayComplete, Engine: eng}).Expand(ctx, "x"); err != nil || eng.last != "play-comp" {
		t.Errorf("play completion not dispatched: last=%q err=%v", eng.last, err)
	}
	if _, err := (WebSuggestion{Service: "yahoo", Engine: eng}).Expand(ctx, "x"); err == nil {
		t.Error("unknown service should fail")
	}
}
