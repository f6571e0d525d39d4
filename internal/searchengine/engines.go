// Package searchengine queries web search engines and suggestion endpoints
// for related search terms.
package searchengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/masahif/appsnowball/internal/parser"
	"github.com/masahif/appsnowball/internal/ratelimit"
	"github.com/masahif/appsnowball/internal/relevance"
)

// DefaultUserAgent is a desktop browser user agent; the result pages differ
// for unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 6.0) AppleWebKit/537.11 (KHTML, like Gecko) Chrome/23.0.1271.97 Safari/537.11"

// Endpoints are the base URLs of the supported services.
type Endpoints struct {
	BingSuggest    string
	GoogleSearch   string
	GoogleComplete string
	PlayComplete   string
}

// DefaultEndpoints returns the public service URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		BingSuggest:    "http://api.bing.com/osjson.aspx",
		GoogleSearch:   "https://www.google.com/search",
		GoogleComplete: "http://suggestqueries.google.com/complete/search",
		PlayComplete:   "https://market.android.com/suggest/SuggRequest",
	}
}

// Config configures a Client.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	HostLanguage string // hl
	Region       string // cr, e.g. US
	Backoff      time.Duration
	Delay        time.Duration
	Endpoints    Endpoints
	// Blacklist rejects suggestions; nil uses the default relevance filter
	// at the default threshold.
	Blacklist func(string) bool
}

// Client queries search engines. Non-success responses yield empty results;
// a 503 additionally pauses the client for the back-off period.
type Client struct {
	http      *HTTPClient
	limiter   *ratelimit.Limiter
	blacklist func(string) bool
	endpoints Endpoints
	hl, cr    string
	backoff   time.Duration
	sleep     func(context.Context, time.Duration) error
}

// NewClient creates a search engine client.
func NewClient(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = DefaultEndpoints()
	}
	if cfg.Blacklist == nil {
		cfg.Blacklist = relevance.Default().Blacklist(relevance.DefaultThreshold)
	}
	httpClient := NewHTTPClient(cfg.UserAgent, cfg.Timeout)
	httpClient.SetHeader("Accept-Language", cfg.HostLanguage)

	return &Client{
		http:      httpClient,
		limiter:   ratelimit.New(cfg.Delay),
		blacklist: cfg.Blacklist,
		endpoints: cfg.Endpoints,
		hl:        cfg.HostLanguage,
		cr:        strings.ToUpper(cfg.Region),
		backoff:   cfg.Backoff,
		sleep:     sleepContext,
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// filterList keeps candidates longer than three characters that the
// blacklist does not reject.
func (c *Client) filterList(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, s := range candidates {
		s = strings.TrimSpace(s)
		if len([]rune(s)) > 3 && !c.blacklist(s) {
			out = append(out, s)
		}
	}
	return out
}

// fetch GETs rawURL. ok is false when the service answered with a failure
// status; transport errors are returned.
func (c *Client) fetch(ctx context.Context, service, rawURL string) (body []byte, ok bool, err error) {
	if err := c.limiter.WaitURL(ctx, rawURL); err != nil {
		return nil, false, err
	}
	resp, err := c.http.Get(ctx, rawURL)
	if err != nil {
		return nil, false, fmt.Errorf("%s request failed: %w", service, err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		slog.Warn("Search engine is throttling, backing off", "service", service, "backoff", c.backoff)
		if err := c.sleep(ctx, c.backoff); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Search failed", "service", service, "url", rawURL, "status", resp.StatusCode)
		return nil, false, nil
	}
	return resp.Body, true, nil
}

func withQuery(base string, params url.Values) string {
	return base + "?" + params.Encode()
}

// BingSuggest returns Bing's query suggestions for q.
func (c *Client) BingSuggest(ctx context.Context, q string) ([]string, error) {
	body, ok, err := c.fetch(ctx, "bing", withQuery(c.endpoints.BingSuggest, url.Values{"query": {q}}))
	if err != nil || !ok {
		return nil, err
	}
	// [query, [suggestion, ...]]
	var resp []json.RawMessage
	var suggestions []string
	if err := json.Unmarshal(body, &resp); err != nil || len(resp) < 2 || json.Unmarshal(resp[1], &suggestions) != nil {
		slog.Error("Unexpected bing response", "query", q)
		return nil, nil
	}
	return c.filterList(suggestions), nil
}

// GoogleComplete returns Google's query completions for q.
func (c *Client) GoogleComplete(ctx context.Context, q string) ([]string, error) {
	params := url.Values{
		"q":      {q},
		"client": {"firefox"},
		"hl":     {c.hl},
		"cr":     {"country" + c.cr},
	}
	body, ok, err := c.fetch(ctx, "google-comp", withQuery(c.endpoints.GoogleComplete, params))
	if err != nil || !ok {
		return nil, err
	}
	var resp []json.RawMessage
	var suggestions []string
	if err := json.Unmarshal(body, &resp); err != nil || len(resp) < 2 || json.Unmarshal(resp[1], &suggestions) != nil {
		slog.Error("Unexpected google completion response", "query", q)
		return nil, nil
	}
	return c.filterList(suggestions), nil
}

// GoogleRelated returns the "searches related to" terms of Google's result
// page for q.
func (c *Client) GoogleRelated(ctx context.Context, q string) ([]string, error) {
	params := url.Values{
		"source": {"hp"},
		"q":      {q},
		"hl":     {c.hl},
		"cr":     {"country" + c.cr},
	}
	page, err := c.searchPage(ctx, "google-related", withQuery(c.endpoints.GoogleSearch, params))
	if err != nil || page == nil {
		return nil, err
	}
	return c.filterList(page.Related), nil
}

// SearchPage is the extracted content of one result page.
type SearchPage struct {
	Links       []parser.Link
	Suggestions []string
	Ads         []parser.Ad
}

// GoogleSearch returns the top results, filtered suggestions and ads of the
// Google result page for q, optionally restricted to site.
func (c *Client) GoogleSearch(ctx context.Context, q, site string) (*SearchPage, error) {
	if site != "" {
		q = "site:" + site + " " + q
	}
	params := url.Values{
		"source": {"hp"},
		"num":    {"30"},
		"start":  {"0"},
		"q":      {q},
	}
	page, err := c.searchPage(ctx, "google-search", withQuery(c.endpoints.GoogleSearch, params))
	if err != nil {
		return nil, err
	}
	if page == nil {
		return &SearchPage{}, nil
	}
	return &SearchPage{
		Links:       page.Links,
		Suggestions: c.filterList(page.Suggestions),
		Ads:         page.Ads,
	}, nil
}

func (c *Client) searchPage(ctx context.Context, service, rawURL string) (*parser.ParseResult, error) {
	body, ok, err := c.fetch(ctx, service, rawURL)
	if err != nil || !ok {
		return nil, err
	}
	p, err := parser.NewHTMLParser(rawURL)
	if err != nil {
		return nil, err
	}
	page, err := p.Parse(body)
	if err != nil {
		slog.Error("Failed to parse result page", "service", service, "error", err)
		return nil, nil
	}
	return page, nil
}

// PlayComplete returns the Play Store's legacy query completions for q.
func (c *Client) PlayComplete(ctx context.Context, q string) ([]string, error) {
	params := url.Values{
		"json":  {"1"},
		"c":     {"3"},
		"query": {q},
		"hl":    {c.hl},
		"gl":    {c.cr},
	}
	body, ok, err := c.fetch(ctx, "play-complete", withQuery(c.endpoints.PlayComplete, params))
	if err != nil || !ok {
		return nil, err
	}
	var resp []struct {
		S string `json:"s"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Error("Unexpected play completion response", "query", q)
		return nil, nil
	}
	suggestions := make([]string, 0, len(resp))
	for _, r := range resp {
		suggestions = append(suggestions, r.S)
	}
	return c.filterList(suggestions), nil
}
