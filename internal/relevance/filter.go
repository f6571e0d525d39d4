// Package relevance decides whether a candidate search term is worth
// exploring. Candidates are allowed by default, blocked when they match a
// blocking pattern, and allowed again when they also match an override.
package relevance

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// DefaultThreshold is the score below which a candidate is blacklisted.
const DefaultThreshold = 0.5

// DefaultBlockPatterns discard noisy completions: games, fitness, finance,
// unrelated social apps and security suites.
var DefaultBlockPatterns = []string{
	`game`, `sport`, `mile`, `gta`, `xbox`, `royale`, `golf`,
	`fit`, `food`, `flight`, `run`, `tracks$`, `\bcar\b`, `cheating tom`,
	`cheat.*code`, `refund`, `cheatsheet`, `chart`,
	`cheat.*sheet`, `cheat.*engine`, `\bgas budd?y\b`,
	`calorie`, `money`, `expense`, `spending`,
	`tax`, `budget`, `period|diet|pregnancy|fertility`, `weight`,
	`gym`, `water`, `work ?out`, `track and field`, `exercise`,
	`cheats`, `baby.*photos`, `\btv\b`,
	`time|hour|minute|day|month|year`, `sale`, `ski`, `sleep`,
	`walking`, `block`, `anti.*tracking`, `\Wrent`, `nutrition`,
	`corporate`, `insta(gram)?\W|facebook|twitter|tinder`, `spyfall`, `\bforms?\b`,
	`\b(dhl|fedex|ups)\b`, `read.*loud`, `quotes`, `ps(4|3)`,
	`anti.*vi`, `windows`, `nod32`, `clam`, `security`, `\Wmac`, `stickman`,
}

// DefaultAllowPatterns rescue known-relevant phrases that a blocking
// keyword would otherwise catch.
var DefaultAllowPatterns = []string{
	`(track|cheat(ing)?).*(wife|girlfriend|spouse)`,
	`(location|family|phone) tracker`,
	`gps`,
	`location track(ing)?`,
	`cheat(s|ing) on`,
	`keylogger`,
	`anti.*theft`,
}

// Filter scores candidate terms against blocking and override patterns.
type Filter struct {
	block *regexp.Regexp
	allow *regexp.Regexp
}

// NewFilter compiles the pattern sets case-insensitively. Empty sets never
// match.
func NewFilter(blockPatterns, allowPatterns []string) (*Filter, error) {
	block, err := compileUnion(blockPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid block pattern: %w", err)
	}
	allow, err := compileUnion(allowPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid allow pattern: %w", err)
	}
	return &Filter{block: block, allow: allow}, nil
}

// Default returns a filter with the built-in pattern sets.
func Default() *Filter {
	f, err := NewFilter(DefaultBlockPatterns, DefaultAllowPatterns)
	if err != nil {
		panic(err)
	}
	return f
}

func compileUnion(patterns []string) (*regexp.Regexp, error) {
	var parts []string
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		parts = append(parts, "(?:"+p+")")
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return regexp.Compile("(?i)" + strings.Join(parts, "|"))
}

// Score returns 1 when the candidate should be explored and 0 otherwise.
func (f *Filter) Score(candidate string) float64 {
	blocked, ok := match(f.block, candidate)
	if !ok {
		return 1
	}
	if allowed, ok := match(f.allow, candidate); ok {
		slog.Debug("Allowing blocked candidate", "candidate", candidate, "block", blocked, "allow", allowed)
		return 1
	}
	slog.Debug("Blocking candidate", "candidate", candidate, "match", blocked)
	return 0
}

// Allow reports whether the candidate scores at or above DefaultThreshold.
func (f *Filter) Allow(candidate string) bool {
	return f.Score(candidate) >= DefaultThreshold
}

// Blacklist returns a predicate that is true for candidates scoring below
// threshold.
func (f *Filter) Blacklist(threshold float64) func(string) bool {
	return func(candidate string) bool {
		return f.Score(candidate) < threshold
	}
}

func match(re *regexp.Regexp, s string) (string, bool) {
	if re == nil {
		return "", false
	}
	loc := re.FindStringIndex(s)
	if loc == nil {
		return "", false
	}
	return s[loc[0]:loc[1]], true
}
