// Package worker talks to the out-of-process marketplace worker that wraps
// the app store scraping libraries. Each operation is addressed as
// POST /<market>_<op> with a JSON request body.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/masahif/appsnowball/internal/marketplace"
	"github.com/masahif/appsnowball/internal/ratelimit"
)

// ErrUnsupported is returned for operations a market does not offer.
var ErrUnsupported = errors.New("operation not supported for market")

// Op names a worker operation.
type Op string

// Worker operations.
const (
	OpSimilar     Op = "similar"
	OpPermissions Op = "permissions"
	OpApp         Op = "app"
	OpReviews     Op = "reviews"
	OpSuggest     Op = "suggest"
	OpSearch      Op = "search"
)

// Request is the structured argument of every worker operation. Zero fields
// are omitted from the wire.
type Request struct {
	AppID      string `json:"appId,omitempty"`
	ID         string `json:"id,omitempty"`
	Term       string `json:"term,omitempty"`
	Lang       string `json:"lang,omitempty"`
	Country    string `json:"country,omitempty"`
	Throttle   int    `json:"throttle,omitempty"`
	Page       *int   `json:"page,omitempty"`
	Num        int    `json:"num,omitempty"`
	Price      string `json:"price,omitempty"`
	FullDetail *bool  `json:"fullDetail,omitempty"`
	Short      bool   `json:"short,omitempty"`
}

// Client is an RPC client for one worker endpoint.
type Client struct {
	client   *http.Client
	baseURL  string
	locale   marketplace.Locale
	throttle int
	limiter  *ratelimit.Limiter
}

// Options configures a Client.
type Options struct {
	Address  string // unix:///path/to.sock or http://host:port
	Timeout  time.Duration
	Locale   marketplace.Locale
	Throttle int // requests per second forwarded to the worker
	Limiter  *ratelimit.Limiter
}

// NewClient creates a client for the worker at opts.Address.
func NewClient(opts Options) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	baseURL := strings.TrimRight(opts.Address, "/")
	switch {
	case strings.HasPrefix(opts.Address, "unix://"):
		path := strings.TrimPrefix(opts.Address, "unix://")
		if path == "" {
			return nil, fmt.Errorf("invalid worker address %q", opts.Address)
		}
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		}
		baseURL = "http://worker"
	case strings.HasPrefix(opts.Address, "http://"), strings.HasPrefix(opts.Address, "https://"):
	default:
		return nil, fmt.Errorf("invalid worker address %q", opts.Address)
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.PerSecond(opts.Throttle))
	}

	return &Client{
		client:   &http.Client{Transport: transport, Timeout: opts.Timeout},
		baseURL:  baseURL,
		locale:   opts.Locale,
		throttle: opts.Throttle,
		limiter:  limiter,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// Call invokes op for market and returns the raw JSON result. A worker-side
// failure (non-2xx status) yields a nil result and a nil error; only
// transport failures are returned as errors.
func (c *Client) Call(ctx context.Context, market marketplace.Market, op Op, req Request) (json.RawMessage, error) {
	if !market.IsAppStore() {
		return nil, fmt.Errorf("%w: %s_%s", ErrUnsupported, market, op)
	}
	if err := c.limiter.Wait(ctx, market.String()); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	name := fmt.Sprintf("%s_%s", market, op)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+name, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("worker call %s failed: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("Worker returned an error", "op", name, "status", resp.StatusCode, "body", truncate(string(data), 200))
		return nil, nil
	}
	return data, nil
}

// records decodes a list result. Anything that is not a list of objects is
// treated as empty.
func records(raw json.RawMessage) []map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *Client) base() Request {
	return Request{Lang: c.locale.Lang, Country: c.locale.Country, Throttle: c.throttle}
}

// Suggest returns term completions for term. The ios worker answers with
// objects carrying a term and a priority; only the term is kept.
func (c *Client) Suggest(ctx context.Context, market marketplace.Market, term string) ([]string, error) {
	req := c.base()
	req.Term = term
	raw, err := c.Call(ctx, market, OpSuggest, req)
	if err != nil || raw == nil {
		return nil, err
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil
	}
	return marketplace.StringList(items), nil
}

// Search returns the apps the marketplace lists for term.
func (c *Client) Search(ctx context.Context, market marketplace.Market, term string, num int) ([]marketplace.SearchHit, error) {
	req := c.base()
	req.Term = term
	req.Num = num
	req.Price = "all"
	full := false
	req.FullDetail = &full

	raw, err := c.Call(ctx, market, OpSearch, req)
	if err != nil {
		return nil, err
	}
	var hits []marketplace.SearchHit
	for _, rec := range records(raw) {
		app, ok := marketplace.AppFromRecord(rec)
		if !ok || app.AppID == "" {
			continue
		}
		hits = append(hits, marketplace.SearchHit{AppID: app.AppID, Title: app.Title})
	}
	return hits, nil
}

// Similar returns up to limit app ids the marketplace considers similar to
// appID. A non-positive limit returns all of them.
func (c *Client) Similar(ctx context.Context, market marketplace.Market, appID string, limit int) ([]string, error) {
	req := c.base()
	req.AppID = appID
	full := false
	req.FullDetail = &full

	raw, err := c.Call(ctx, market, OpSimilar, req)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, rec := range records(raw) {
		if id, ok := rec["appId"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Permissions returns the short permission list of an android app.
func (c *Client) Permissions(ctx context.Context, market marketplace.Market, appID string) ([]string, error) {
	if market != marketplace.Android {
		return nil, fmt.Errorf("%w: %s_%s", ErrUnsupported, market, OpPermissions)
	}
	raw, err := c.Call(ctx, market, OpPermissions, Request{AppID: appID, Short: true})
	if err != nil || raw == nil {
		return nil, err
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil
	}
	return marketplace.StringList(items), nil
}

// App fetches one app record. A nil app with a nil error means the
// marketplace no longer lists it. For ios, numeric ids are looked up by
// track id instead of bundle id.
func (c *Client) App(ctx context.Context, market marketplace.Market, appID string) (*marketplace.App, error) {
	req := c.base()
	if market == marketplace.IOS && IsIOSTrackID(appID) {
		req = Request{ID: strings.TrimPrefix(appID, "id"), Throttle: c.throttle}
	} else {
		req.AppID = appID
	}

	raw, err := c.Call(ctx, market, OpApp, req)
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		// The worker answers [] when the app is gone.
		return nil, nil
	}
	app, ok := marketplace.AppFromRecord(rec)
	if !ok {
		return nil, nil
	}
	return app, nil
}

// Reviews fetches one page of reviews for appID. Pages are numbered from 0.
func (c *Client) Reviews(ctx context.Context, market marketplace.Market, appID string, page int) ([]map[string]any, error) {
	req := Request{AppID: appID, Lang: c.locale.Lang, Page: &page, Throttle: reviewThrottle(c.throttle)}
	raw, err := c.Call(ctx, market, OpReviews, req)
	if err != nil {
		return nil, err
	}
	return records(raw), nil
}

// reviewThrottle slows review paging, which the stores rate limit harder.
func reviewThrottle(throttle int) int {
	if throttle > 3 {
		return throttle - 3
	}
	if throttle > 0 {
		return 1
	}
	return 0
}

// IsIOSTrackID reports whether id is a numeric iTunes track id, optionally
// prefixed with "id".
func IsIOSTrackID(id string) bool {
	id = strings.TrimPrefix(id, "id")
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
