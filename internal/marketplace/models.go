// Package marketplace defines the app marketplaces and search engines the
// crawler talks to, and the records they return.
package marketplace

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Market identifies an app store or a web search engine.
type Market string

// Supported markets.
const (
	Android        Market = "android"
	IOS            Market = "ios"
	GoogleRelated  Market = "google-related"
	GoogleComplete Market = "google-comp"
	Bing           Market = "bing"
)

// Markets lists every supported market.
var Markets = []Market{Android, IOS, GoogleRelated, GoogleComplete, Bing}

// ParseMarket validates a market name.
func ParseMarket(name string) (Market, error) {
	m := Market(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Markets {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown market %q", name)
}

// IsAppStore reports whether the market serves app records (details,
// similar apps, reviews) rather than only search suggestions.
func (m Market) IsAppStore() bool {
	return m == Android || m == IOS
}

// String returns the market name.
func (m Market) String() string {
	return string(m)
}

// Locale is the language/country context of a crawl.
type Locale struct {
	Lang    string `json:"lang"`
	Country string `json:"country"`
}

// App is a marketplace app record. Fields not modelled explicitly are kept in
// Extra.
type App struct {
	AppID       string
	IOSID       string
	Title       string
	Description string
	Developer   string
	Score       float64
	Updated     time.Time
	Reviews     int // -1 when the marketplace did not report a count
	Similar     []string
	Permissions []string
	Extra       map[string]any
}

// Review is a single user review of an app.
type Review struct {
	ID       string
	AppID    string
	UserName string
	Date     string
	Score    float64
	Text     string
	Extra    map[string]any
}

// SearchHit is one app returned by a marketplace search.
type SearchHit struct {
	AppID string
	Title string
}

// appKeys are the explicitly modelled keys of an app record.
var appKeys = map[string]bool{
	"appId": true, "id": true, "title": true, "description": true,
	"developer": true, "score": true, "updated": true, "reviews": true,
	"similar": true, "permissions": true,
}

// AppFromRecord converts a raw marketplace record into an App. ok is false
// when the record is empty.
func AppFromRecord(rec map[string]any) (app *App, ok bool) {
	if len(rec) == 0 {
		return nil, false
	}
	app = &App{
		AppID:       stringField(rec, "appId"),
		Title:       stringField(rec, "title"),
		Description: stringField(rec, "description"),
		Developer:   stringField(rec, "developer"),
		Score:       floatField(rec, "score"),
		Reviews:     -1,
		Extra:       make(map[string]any),
	}
	if id := stringField(rec, "id"); id != "" {
		app.IOSID = id
	}
	if v, present := rec["reviews"]; present && v != nil {
		app.Reviews = int(floatField(rec, "reviews"))
	}
	if v := floatField(rec, "updated"); v > 0 {
		app.Updated = epochToTime(v)
	} else if s := stringField(rec, "updated"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			app.Updated = t
		}
	}
	app.Similar = StringList(rec["similar"])
	app.Permissions = StringList(rec["permissions"])
	for k, v := range rec {
		if !appKeys[k] {
			app.Extra[k] = v
		}
	}
	return app, true
}

// reviewKeys are the explicitly modelled keys of a review record.
var reviewKeys = map[string]bool{
	"id": true, "appId": true, "userName": true, "date": true,
	"score": true, "text": true,
}

// ReviewFromRecord converts a raw review record. ok is false when the record
// carries no id.
func ReviewFromRecord(rec map[string]any) (review Review, ok bool) {
	review = Review{
		ID:       stringField(rec, "id"),
		AppID:    stringField(rec, "appId"),
		UserName: stringField(rec, "userName"),
		Date:     stringField(rec, "date"),
		Score:    floatField(rec, "score"),
		Text:     stringField(rec, "text"),
		Extra:    make(map[string]any),
	}
	for k, v := range rec {
		if !reviewKeys[k] {
			review.Extra[k] = v
		}
	}
	return review, review.ID != ""
}

// epochToTime accepts seconds or milliseconds since the epoch.
func epochToTime(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}

func stringField(rec map[string]any, key string) string {
	switch v := rec[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func floatField(rec map[string]any, key string) float64 {
	switch v := rec[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// StringList accepts a list of strings or a list of records carrying an
// appId, permission or term field. Blank entries are dropped.
func StringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		ss, ok := v.([]string)
		if !ok {
			return nil
		}
		items = make([]any, len(ss))
		for i, s := range ss {
			items[i] = s
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			if strings.TrimSpace(it) != "" {
				out = append(out, it)
			}
		case map[string]any:
			for _, key := range []string{"appId", "permission", "term"} {
				if s := stringField(it, key); s != "" {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}
