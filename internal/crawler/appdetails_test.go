package crawler

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/masahif/appsnowball/internal/marketplace"
	"github.com/masahif/appsnowball/internal/storage"
)

func TestDownloadAppDetails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, marketplace.Android)
	apps := storage.AppsTable(marketplace.Android).Name
	desc := storage.DescTable(marketplace.Android).Name

	env.market.apps["com.spy"] = &marketplace.App{
		AppID:       "com.spy",
		Title:       "Spy",
		Description: "Find your phone",
		Updated:     env.clock.Now().Add(-24 * time.Hour),
		Reviews:     50,
	}
	env.market.similar["com.spy"] = []string{"com.track"}
	env.market.permissions["com.spy"] = []string{"location"}

	count := func(table string) int {
		t.Helper()
		n, err := env.store.Count(ctx, table, storage.Where{"appId": "com.spy"})
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		return n
	}

	steps := []struct {
		name      string
		advance   time.Duration
		mutate    func(app *marketplace.App)
		want      Outcome
		wantApps  int
		wantDescs int
	}{
		{name: "NewApp", want: OutcomeStored, wantApps: 1, wantDescs: 1},
		{name: "FreshRowDiscards", advance: time.Hour, want: OutcomeDiscarded, wantApps: 1, wantDescs: 1},
		{name: "SameSnapshotNextDay", advance: 24 * time.Hour, want: OutcomeUnchanged, wantApps: 1, wantDescs: 1},
		{
			name:    "ChangedDescription",
			advance: 24 * time.Hour,
			mutate: func(app *marketplace.App) {
				app.Description = "Find your family"
				app.Updated = env.clock.Now().Add(-time.Hour)
			},
			want: OutcomeStored, wantApps: 2, wantDescs: 2,
		},
		{
			name:    "StaleUpdateDiscards",
			advance: 60 * 24 * time.Hour,
			mutate: func(app *marketplace.App) {
				app.Title = "Spy 2"
			},
			want: OutcomeDiscarded, wantApps: 2, wantDescs: 2,
		},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			env.clock.Advance(step.advance)
			if step.mutate != nil {
				step.mutate(env.market.apps["com.spy"])
			}
			got, err := env.snowball.DownloadAppDetails(ctx, "com.spy")
			if err != nil {
				t.Fatalf("DownloadAppDetails() error = %v", err)
			}
			if got != step.want {
				t.Errorf("outcome = %v, want %v", got, step.want)
			}
			if n := count(apps); n != step.wantApps {
				t.Errorf("app rows = %d, want %d", n, step.wantApps)
			}
			if n := count(desc); n != step.wantDescs {
				t.Errorf("description rows = %d, want %d", n, step.wantDescs)
			}
		})
	}

	row, _, err := env.store.FindLatest(ctx, apps, storage.Where{"appId": "com.spy"})
	if err != nil || row == nil {
		t.Fatalf("FindLatest() = %v, %v", row, err)
	}
	if lastseen, ok := row.Int("lastseen"); !ok || lastseen != env.clock.Now().Unix() {
		t.Errorf("lastseen = %d (%v), want %d", lastseen, ok, env.clock.Now().Unix())
	}
	if perms := marketplace.StringList(row["permissions"]); !reflect.DeepEqual(perms, []string{"location"}) {
		t.Errorf("permissions = %v", perms)
	}
	if reviews, _ := row.Int("reviews"); reviews != 50 {
		t.Errorf("reviews = %d, want 50", reviews)
	}
}

func TestDownloadAppDetailsDiscontinued(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, marketplace.Android)
	apps := storage.AppsTable(marketplace.Android).Name
	env.market.apps["com.gone"] = &marketplace.App{AppID: "com.gone", Title: "Gone"}

	if got, err := env.snowball.DownloadAppDetails(ctx, "com.gone"); err != nil || got != OutcomeStored {
		t.Fatalf("DownloadAppDetails() = %v, %v", got, err)
	}

	delete(env.market.apps, "com.gone")
	env.clock.Advance(time.Hour)
	got, err := env.snowball.DownloadAppDetails(ctx, "com.gone")
	if err != nil || got != OutcomeDiscontinued {
		t.Fatalf("DownloadAppDetails() = %v, %v; want discontinued", got, err)
	}
	first := env.clock.Now().Unix()

	env.clock.Advance(time.Hour)
	if _, err := env.snowball.DownloadAppDetails(ctx, "com.gone"); err != nil {
		t.Fatalf("DownloadAppDetails() error = %v", err)
	}
	row, _, err := env.store.FindLatest(ctx, apps, storage.Where{"appId": "com.gone"})
	if err != nil || row == nil {
		t.Fatalf("FindLatest() = %v, %v", row, err)
	}
	if stamp, _ := row.Int("discontinued"); stamp != first {
		t.Errorf("discontinued = %d, want the first stamp %d", stamp, first)
	}

	got, err = env.snowball.DownloadAppDetails(ctx, "com.never")
	if err != nil || got != OutcomeMissing {
		t.Errorf("unknown app = %v, %v; want missing", got, err)
	}
}

func TestDownloadAppDetailsIOS(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, marketplace.IOS)
	apps := storage.AppsTable(marketplace.IOS).Name

	app := &marketplace.App{AppID: "com.nerdyoctopus.dots", IOSID: "632285588", Title: "Dots"}
	env.market.apps["com.nerdyoctopus.dots"] = app
	env.market.apps["id632285588"] = app

	if got, err := env.snowball.DownloadAppDetails(ctx, "com.nerdyoctopus.dots"); err != nil || got != OutcomeStored {
		t.Fatalf("DownloadAppDetails() = %v, %v", got, err)
	}
	if env.market.count("permissions") != 0 {
		t.Error("ios apps have no permissions capability")
	}
	row, _, err := env.store.FindLatest(ctx, apps, storage.Where{"iosid": "632285588"})
	if err != nil || row == nil {
		t.Fatalf("FindLatest() = %v, %v", row, err)
	}
	if perms := marketplace.StringList(row["permissions"]); !reflect.DeepEqual(perms, noPermissions) {
		t.Errorf("permissions = %v, want %v", perms, noPermissions)
	}

	// The track id resolves to the stored bundle id, so the fresh row wins.
	got, err := env.snowball.DownloadAppDetails(ctx, "id632285588")
	if err != nil || got != OutcomeDiscarded {
		t.Errorf("track id lookup = %v, %v; want discarded", got, err)
	}
}

func TestDownloadAllAppDetails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, marketplace.Android)
	env.market.searches["spy app"] = []string{"com.spy", "com.track"}
	env.market.searches["gps tracker"] = []string{"com.track", "com.gone"}
	env.market.suggestions["spy app"] = []string{"gps tracker"}
	for _, id := range []string{"com.spy", "com.track"} {
		env.market.apps[id] = &marketplace.App{AppID: id, Title: id, Reviews: -1}
	}

	for _, term := range []string{"spy app", "gps tracker"} {
		if _, err := env.snowball.TermsAndApps(ctx, term, true); err != nil {
			t.Fatalf("TermsAndApps(%q) error = %v", term, err)
		}
	}

	outcomes, added, err := env.snowball.DownloadAllAppDetails(ctx, false)
	if err != nil {
		t.Fatalf("DownloadAllAppDetails() error = %v", err)
	}
	want := map[Outcome]int{OutcomeStored: 2, OutcomeMissing: 1}
	if !reflect.DeepEqual(outcomes, want) {
		t.Errorf("outcomes = %v, want %v", outcomes, want)
	}
	if added != 0 {
		t.Errorf("reviews added = %d, want 0", added)
	}
}

func TestDownloadAllAppDetailsStopsOnDuplicateReview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, marketplace.Android)
	env.market.searches["spy app"] = []string{"com.dup", "com.ok"}
	for _, id := range []string{"com.dup", "com.ok"} {
		env.market.apps[id] = &marketplace.App{AppID: id, Title: id, Reviews: 3}
	}
	env.market.reviews["com.dup"] = [][]map[string]any{{{"id": "a"}, {"id": "a"}, {"id": "b"}}}
	env.market.reviews["com.ok"] = reviewPages(3, 3)

	if _, err := env.snowball.TermsAndApps(ctx, "spy app", true); err != nil {
		t.Fatalf("TermsAndApps() error = %v", err)
	}

	_, _, err := env.snowball.DownloadAllAppDetails(ctx, true)
	if !errors.Is(err, ErrDuplicateReview) {
		t.Fatalf("DownloadAllAppDetails() error = %v, want ErrDuplicateReview", err)
	}
	if n := env.market.count("reviews"); n != 1 {
		t.Errorf("review pages fetched = %d, want 1 (run stops at the first app)", n)
	}
	n, _ := env.store.Count(ctx, env.snowball.reviewsTable, storage.Where{"appId": "com.ok"})
	if n != 0 {
		t.Errorf("reviews of com.ok = %d, want 0", n)
	}
}
