package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/masahif/appsnowball/internal/marketplace"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T, clock *fakeClock) *Store {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test_appsnowball.db")
	s, err := Open(dbFile, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.EnsureTables(context.Background(), MarketTables(marketplace.Android)...); err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}
	return s
}

func TestInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 10, 12, 30, 45, 0, time.UTC)}
	s := newTestStore(t, clock)
	terms := TermsTable(marketplace.Android).Name

	row := Row{
		"term":    "spy app",
		"terms":   map[string]any{"spy app": "", "gps tracker": "spy app"},
		"apps":    []string{"com.a", "com.b"},
		"lang":    "en",
		"country": "us",
	}
	unique := []string{"term", "terms", "apps"}

	t.Run("Idempotent", func(t *testing.T) {
		inserted, err := s.InsertIfAbsent(ctx, terms, row, unique)
		if err != nil || !inserted {
			t.Fatalf("first InsertIfAbsent() = %v, %v; want true, nil", inserted, err)
		}
		inserted, err = s.InsertIfAbsent(ctx, terms, row, unique)
		if err != nil || inserted {
			t.Fatalf("second InsertIfAbsent() = %v, %v; want false, nil", inserted, err)
		}
		n, err := s.Count(ctx, terms, Where{"term": "spy app"})
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != 1 {
			t.Errorf("Count() = %d, want 1", n)
		}
	})

	t.Run("CaseInsensitiveKey", func(t *testing.T) {
		upper := Row{}
		for k, v := range row {
			upper[k] = v
		}
		upper["term"] = "SPY APP"
		inserted, err := s.InsertIfAbsent(ctx, terms, upper, unique)
		if err != nil {
			t.Fatalf("InsertIfAbsent() error = %v", err)
		}
		if inserted {
			t.Errorf("term comparison should ignore case")
		}
	})

	t.Run("DifferentValueInserts", func(t *testing.T) {
		changed := Row{"term": "spy app", "terms": map[string]any{"spy app": ""}, "apps": []string{"com.a"}}
		inserted, err := s.InsertIfAbsent(ctx, terms, changed, unique)
		if err != nil || !inserted {
			t.Fatalf("InsertIfAbsent() = %v, %v; want true, nil", inserted, err)
		}
	})

	t.Run("StampsMinuteResolution", func(t *testing.T) {
		latest, _, err := s.FindLatest(ctx, terms, Where{"term": "spy app"})
		if err != nil {
			t.Fatalf("FindLatest() error = %v", err)
		}
		got, ok := latest.Int(TimeColumn)
		want := time.Date(2024, 3, 10, 12, 30, 0, 0, time.UTC).Unix()
		if !ok || got != want {
			t.Errorf("time = %d, want %d", got, want)
		}
	})

	t.Run("UnknownTable", func(t *testing.T) {
		_, err := s.InsertIfAbsent(ctx, "nope", row, unique)
		if !errors.Is(err, ErrUnknownTable) {
			t.Errorf("error = %v, want ErrUnknownTable", err)
		}
	})

	t.Run("UnknownColumnWithoutSpill", func(t *testing.T) {
		_, err := s.InsertIfAbsent(ctx, terms, Row{"term": "x", "bogus": 1}, []string{"term"})
		if !errors.Is(err, ErrUnknownColumn) {
			t.Errorf("error = %v, want ErrUnknownColumn", err)
		}
	})

	t.Run("CheckFailureStillInserts", func(t *testing.T) {
		// An undeclared uniqueness column makes the check fail.
		inserted, err := s.InsertIfAbsent(ctx, terms, Row{"term": "fallback"}, []string{"missing"})
		if err != nil || !inserted {
			t.Fatalf("InsertIfAbsent() = %v, %v; want true, nil", inserted, err)
		}
	})
}

func TestExistsFreshnessWindow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	terms := TermsTable(marketplace.Android).Name

	if _, err := s.InsertIfAbsent(ctx, terms, Row{"term": "gps tracker"}, []string{"term"}); err != nil {
		t.Fatalf("InsertIfAbsent() error = %v", err)
	}

	tests := []struct {
		name   string
		now    time.Time
		within time.Duration
		want   Presence
	}{
		{"same day", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), 24 * time.Hour, Present},
		{"next day", time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), 24 * time.Hour, Absent},
		{"no window", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), 0, Present},
		{"same minute", time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC), time.Minute, Present},
		{"previous minute", time.Date(2024, 3, 10, 23, 58, 59, 0, time.UTC), time.Minute, Absent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.t = tt.now
			got := s.Exists(ctx, terms, "term", "GPS Tracker", tt.within)
			if got.Presence != tt.want {
				t.Errorf("Exists() = %v (err %v), want %v", got.Presence, got.Err, tt.want)
			}
		})
	}

	t.Run("ReadFailedCountsAsAbsent", func(t *testing.T) {
		got := s.Exists(ctx, terms, "no_such_column", "x", 0)
		if got.Presence != ReadFailed || got.Err == nil {
			t.Fatalf("Exists() = %+v, want ReadFailed with error", got)
		}
		if got.Exists() {
			t.Errorf("ReadFailed must not report existence")
		}
		if missing := s.Exists(ctx, terms, "term", "unknown", 0); missing.Presence != Absent || missing.Err != nil {
			t.Errorf("Exists() = %+v, want Absent without error", missing)
		}
	})
}

func TestWindowAt(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 4, 5, 0, time.FixedZone("JST", 9*3600))
	w := WindowAt(now, 24*time.Hour)
	if want := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC); !w.Start.Equal(want) {
		t.Errorf("Start = %v, want %v", w.Start, want)
	}
	if !w.Contains(w.Start) {
		t.Errorf("window must include its start")
	}
	if w.Contains(w.End) {
		t.Errorf("window must exclude its end")
	}
}

func TestFindLatestCorruptColumn(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	terms := TermsTable(marketplace.Android).Name

	if _, err := s.db.Exec(`INSERT INTO "android_terms" (term, terms, apps, time) VALUES (?, ?, ?, ?)`,
		"broken", "{not json", `["com.a"]`, clock.t.Unix()); err != nil {
		t.Fatalf("Failed to seed row: %v", err)
	}

	row, corrupt, err := s.FindLatest(ctx, terms, Where{"term": "broken"})
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	if len(corrupt) != 1 || corrupt[0] != "terms" {
		t.Errorf("corrupt = %v, want [terms]", corrupt)
	}
	if m, ok := row["terms"].(map[string]any); !ok || len(m) != 0 {
		t.Errorf("terms = %#v, want empty object", row["terms"])
	}
	if apps, ok := row["apps"].([]any); !ok || len(apps) != 1 {
		t.Errorf("apps = %#v, want one element", row["apps"])
	}

	missing, _, err := s.FindLatest(ctx, terms, Where{"term": "absent"})
	if err != nil || missing != nil {
		t.Errorf("FindLatest(absent) = %v, %v; want nil, nil", missing, err)
	}
}

func TestFindLatestPrefersNewestRow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	terms := TermsTable(marketplace.Android).Name

	for _, apps := range [][]string{{"com.old"}, {"com.new"}} {
		if _, err := s.InsertIfAbsent(ctx, terms, Row{"term": "t", "apps": apps}, []string{"term", "apps"}); err != nil {
			t.Fatalf("InsertIfAbsent() error = %v", err)
		}
	}
	row, _, err := s.FindLatest(ctx, terms, Where{"term": "t"})
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	apps := row["apps"].([]any)
	if apps[0] != "com.new" {
		t.Errorf("apps = %v, want the last inserted row on a time tie", apps)
	}
}

func TestUnionAndFrequency(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	terms := TermsTable(marketplace.Android).Name

	rows := []Row{
		{"term": "a", "apps": []string{"com.1", "com.2"}, "lang": "en", "country": "us"},
		{"term": "b", "apps": []string{"com.2", "com.3"}, "lang": "en", "country": "us"},
		{"term": "a", "apps": []string{"com.4"}, "lang": "en", "country": "us"},
		{"term": "c", "apps": []string{"com.9"}, "lang": "de", "country": "de"},
	}
	for _, r := range rows {
		if _, err := s.InsertIfAbsent(ctx, terms, r, []string{"term", "apps", "lang"}); err != nil {
			t.Fatalf("InsertIfAbsent() error = %v", err)
		}
	}
	locale := Where{"lang": "en", "country": "us"}

	apps, err := s.UnionJSONSets(ctx, terms, "apps", locale)
	if err != nil {
		t.Fatalf("UnionJSONSets() error = %v", err)
	}
	want := []string{"com.1", "com.2", "com.3", "com.4"}
	if len(apps) != len(want) {
		t.Fatalf("UnionJSONSets() = %v, want %v", apps, want)
	}
	for i := range want {
		if apps[i] != want[i] {
			t.Errorf("UnionJSONSets()[%d] = %q, want %q", i, apps[i], want[i])
		}
	}

	top, err := s.MostFrequent(ctx, terms, "term", locale, 1)
	if err != nil {
		t.Fatalf("MostFrequent() error = %v", err)
	}
	if len(top) != 1 || top[0] != "a" {
		t.Errorf("MostFrequent() = %v, want [a]", top)
	}

	all, err := s.ColumnValues(ctx, terms, "term", Where{"lang": "de"})
	if err != nil {
		t.Fatalf("ColumnValues() error = %v", err)
	}
	if len(all) != 1 || all[0] != "c" {
		t.Errorf("ColumnValues() = %v, want [c]", all)
	}
}

func TestInsertManyAtomic(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	reviews := ReviewsTable(marketplace.Android).Name

	batch := []Row{
		{"id": "r1", "appId": "com.a", "text": "ok", "thumbsUp": 2},
		{"id": "r2", "appId": "com.a", "text": "fine"},
	}
	if err := s.InsertMany(ctx, reviews, batch); err != nil {
		t.Fatalf("InsertMany() error = %v", err)
	}

	dup := []Row{
		{"id": "r3", "appId": "com.a"},
		{"id": "r1", "appId": "COM.A"},
	}
	if err := s.InsertMany(ctx, reviews, dup); err == nil {
		t.Fatal("InsertMany() with a duplicate (appId, id) should fail")
	}
	n, err := s.Count(ctx, reviews, Where{"appId": "com.a"})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2 (failed batch rolled back)", n)
	}

	row, _, err := s.FindLatest(ctx, reviews, Where{"id": "r1"})
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	extra, _ := row["extra"].(map[string]any)
	if extra["thumbsUp"] != float64(2) {
		t.Errorf("extra = %v, want undeclared keys spilled", row["extra"])
	}
}

func TestStamp(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	apps := AppsTable(marketplace.Android).Name

	for _, title := range []string{"v1", "v2"} {
		if _, err := s.InsertIfAbsent(ctx, apps, Row{"appId": "com.a", "title": title}, []string{"appId", "title"}); err != nil {
			t.Fatalf("InsertIfAbsent() error = %v", err)
		}
	}

	n, err := s.Stamp(ctx, apps, "appId", "com.a", "discontinued", true)
	if err != nil || n != 2 {
		t.Fatalf("Stamp() = %d, %v; want 2, nil", n, err)
	}
	clock.t = clock.t.Add(48 * time.Hour)
	n, err = s.Stamp(ctx, apps, "appId", "com.a", "discontinued", true)
	if err != nil || n != 0 {
		t.Errorf("Stamp(onlyIfNull) second call = %d, %v; want 0, nil", n, err)
	}
	n, err = s.Stamp(ctx, apps, "appId", "com.a", "lastseen", false)
	if err != nil || n != 2 {
		t.Errorf("Stamp(lastseen) = %d, %v; want 2, nil", n, err)
	}
	if _, err := s.Stamp(ctx, apps, "appId", "com.a", "bogus", false); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("Stamp(bogus) error = %v, want ErrUnknownColumn", err)
	}
}
