package config

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Matcher decides which page URLs the daemon attaches to.
type Matcher struct {
	patterns []glob.Glob
}

// NewMatcher compiles URL patterns. "*" matches any run of characters,
// slashes included, as in browser extension match patterns.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("config: invalid match pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

// Match reports whether url matches any pattern.
func (m *Matcher) Match(url string) bool {
	for _, g := range m.patterns {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// Matcher returns the compiled Matches. Validate has already checked them.
func (c *Config) Matcher() *Matcher {
	m, err := NewMatcher(c.Matches)
	if err != nil {
		return &Matcher{}
	}
	return m
}
