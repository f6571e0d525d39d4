// Package parser extracts organic results, query suggestions and ads from
// search engine result pages.
package parser

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// NoURL stands in for a result block that carries no anchor.
const NoURL = "[no-url]"

// HTMLParser extracts search results from a result page.
type HTMLParser struct {
	baseURL        *url.URL
	allowedSchemes []string
}

// ParseResult contains the data extracted from one result page.
type ParseResult struct {
	Links       []Link
	Suggestions []string // text of every paragraph
	Related     []string // anchor text inside paragraphs
	Ads         []Ad
}

// Link is an organic search result.
type Link struct {
	Title string
	URL   string
}

// Ad is a sponsored result and the display URL it advertises.
type Ad struct {
	Text       string
	DisplayURL string
}

// NewHTMLParser creates a parser resolving relative hrefs against baseURL.
func NewHTMLParser(baseURL string) (*HTMLParser, error) {
	return NewHTMLParserWithSchemes(baseURL, []string{"https://", "http://"})
}

// NewHTMLParserWithSchemes creates a parser that keeps only result URLs
// using one of allowedSchemes.
func NewHTMLParserWithSchemes(baseURL string, allowedSchemes []string) (*HTMLParser, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if len(allowedSchemes) == 0 {
		allowedSchemes = []string{"https://", "http://"}
	}

	return &HTMLParser{
		baseURL:        parsedURL,
		allowedSchemes: allowedSchemes,
	}, nil
}

// Parse parses a result page. Result blocks are elements with class "r",
// ads are elements with class "ads-ad" whose display URL sits in a cite
// under "ads-visurl".
func (p *HTMLParser) Parse(htmlContent []byte) (*ParseResult, error) {
	doc, err := html.Parse(strings.NewReader(string(htmlContent)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	result := &ParseResult{}
	p.traverse(doc, result)
	return result, nil
}

// traverse recursively walks the HTML tree
func (p *HTMLParser) traverse(n *html.Node, result *ParseResult) {
	if n.Type == html.ElementNode {
		switch {
		case hasClass(n, "r"):
			result.Links = append(result.Links, p.parseResult(n))
		case hasClass(n, "ads-ad"):
			result.Ads = append(result.Ads, p.parseAd(n))
		}
		if n.Data == "p" {
			result.Suggestions = append(result.Suggestions, extractText(n))
			for _, a := range findAll(n, func(c *html.Node) bool { return c.Type == html.ElementNode && c.Data == "a" }) {
				if text := extractText(a); text != "" {
					result.Related = append(result.Related, text)
				}
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.traverse(c, result)
	}
}

func (p *HTMLParser) parseResult(n *html.Node) Link {
	link := Link{Title: extractText(n), URL: NoURL}
	anchors := findAll(n, func(c *html.Node) bool { return c.Type == html.ElementNode && c.Data == "a" })
	if len(anchors) == 0 {
		return link
	}
	href := attr(anchors[0], "href")
	if href == "" {
		return link
	}
	target := unwrapRedirect(href)
	if !p.isAllowedScheme(target) {
		return link
	}
	if abs, err := p.resolveURL(target); err == nil {
		link.URL = abs
	}
	return link
}

func (p *HTMLParser) parseAd(n *html.Node) Ad {
	ad := Ad{Text: extractText(n)}
	for _, vis := range findAll(n, func(c *html.Node) bool { return hasClass(c, "ads-visurl") }) {
		cites := findAll(vis, func(c *html.Node) bool { return c.Type == html.ElementNode && c.Data == "cite" })
		if len(cites) > 0 {
			ad.DisplayURL = extractText(cites[0])
			break
		}
	}
	return ad
}

// unwrapRedirect returns the q parameter of a /url?q=... redirect link, or
// href unchanged.
func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.Path != "/url" {
		return href
	}
	if q := u.Query().Get("q"); q != "" {
		return q
	}
	return href
}

// resolveURL converts relative URLs to absolute URLs
func (p *HTMLParser) resolveURL(href string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return p.baseURL.ResolveReference(u).String(), nil
}

// isAllowedScheme checks if the URL has an allowed scheme
func (p *HTMLParser) isAllowedScheme(href string) bool {
	if strings.Contains(href, "://") {
		for _, scheme := range p.allowedSchemes {
			if strings.HasPrefix(href, scheme) {
				return true
			}
		}
		return false
	}

	// tel:, mailto:, javascript: and friends
	if strings.Contains(href, ":") && !strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "?") && !strings.HasPrefix(href, "#") {
		return false
	}

	return true
}

// extractText recursively extracts text content from a node
func extractText(n *html.Node) string {
	if n.Type == html.TextNode {
		return strings.TrimSpace(n.Data)
	}

	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if text := extractText(c); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			out = append(out, c)
		}
		out = append(out, findAll(c, match)...)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
