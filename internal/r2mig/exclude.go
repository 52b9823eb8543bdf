package r2mig

import (
	"path"
	"strings"
)

// excludePattern is a parsed exclude glob.
type excludePattern struct {
	pattern  string
	matchKey bool // true = match the full key; false = basename only
}

// ExcludeMatcher decides which listed objects are never migrated.
// Patterns without '/' match an object's basename ("*.tmp", ".DS_Store").
// Patterns with '/' match the whole key ("receipts/tmp/*").
type ExcludeMatcher struct {
	patterns []excludePattern
}

// NewExcludeMatcher parses raw glob patterns. Blank entries and entries
// starting with '#' are skipped.
func NewExcludeMatcher(raw []string) *ExcludeMatcher {
	var patterns []excludePattern
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		patterns = append(patterns, excludePattern{
			pattern:  p,
			matchKey: strings.Contains(p, "/"),
		})
	}
	return &ExcludeMatcher{patterns: patterns}
}

// Match reports whether key is excluded.
func (m *ExcludeMatcher) Match(key string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	base := path.Base(key)
	for _, p := range m.patterns {
		subject := base
		if p.matchKey {
			subject = key
		}
		matched, err := path.Match(p.pattern, subject)
		if err != nil {
			// malformed pattern
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// Patterns returns the active patterns.
func (m *ExcludeMatcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.pattern
	}
	return out
}
