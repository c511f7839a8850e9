package ignore

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

type rule struct {
	pattern string
	g       glob.Glob
	// anchored rules contain a slash and match the whole relative path or
	// one of its ancestors; the rest match any single path component.
	anchored bool
}

// Matcher decides whether a project-relative path is ignored.
type Matcher struct {
	rules []rule
}

// NewMatcher compiles patterns. A trailing slash marks a directory
// pattern; a leading slash anchors the pattern at the project root.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, raw := range patterns {
		pat := strings.TrimSpace(raw)
		pat = strings.TrimSuffix(pat, "/")
		if pat == "" {
			continue
		}
		anchored := strings.Contains(pat, "/")
		pat = strings.TrimPrefix(pat, "/")

		var (
			g   glob.Glob
			err error
		)
		if anchored {
			g, err = glob.Compile(pat, '/')
		} else {
			g, err = glob.Compile(pat)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", raw, err)
		}
		m.rules = append(m.rules, rule{pattern: raw, g: g, anchored: anchored})
	}
	return m, nil
}

// Match reports whether rel, a path relative to the project root, is
// ignored. Either separator style is accepted. A path is ignored when it or
// any of its parent directories matches.
func (m *Matcher) Match(rel string) bool {
	_, ok := m.MatchRule(rel)
	return ok
}

// MatchRule is Match that also returns the pattern responsible.
func (m *Matcher) MatchRule(rel string) (string, bool) {
	rel = path.Clean(filepath.ToSlash(rel))
	rel = strings.TrimPrefix(rel, "/")
	if rel == "." || rel == "" {
		return "", false
	}
	parts := strings.Split(rel, "/")

	for _, part := range parts {
		for _, name := range alwaysIgnored {
			if part == name {
				return name, true
			}
		}
	}

	if m == nil {
		return "", false
	}
	for _, r := range m.rules {
		if r.anchored {
			for i := 1; i <= len(parts); i++ {
				if r.g.Match(strings.Join(parts[:i], "/")) {
					return r.pattern, true
				}
			}
			continue
		}
		for _, part := range parts {
			if r.g.Match(part) {
				return r.pattern, true
			}
		}
	}
	return "", false
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

// Matcher compiles the policy's patterns.
func (p *Policy) Matcher() (*Matcher, error) {
	return NewMatcher(p.Patterns())
}
