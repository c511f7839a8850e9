// Package ignore builds the per-project ignore policy. The same rendered
// pattern list is written as the version-control engine's ignore file and
// consumed by the file change monitor, so both agree on what is tracked.
package ignore

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/jbacus/auxin/internal/apptype"
)

// DefaultFileName is the engine's ignore file inside a project root.
const DefaultFileName = ".gitignore"

// alwaysIgnored directory names are never tracked or watched, regardless of
// the rendered policy.
var alwaysIgnored = []string{".git", ".oxen", ".auxin"}

// basePatterns apply to every application type.
var basePatterns = []string{
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"*.smbdelete*",
	".TemporaryItems",
	".Trashes",
	".fseventsd",
	"*.cache",
	"*.tmp",
	"*~",
}

// Policy is the ordered ignore pattern set for one project.
type Policy struct {
	AppType string
	app     []string
	custom  []string
}

// New creates a policy for the given capability plus any custom patterns.
func New(c apptype.Capability, custom ...string) *Policy {
	p := &Policy{AppType: apptype.GenericName}
	if c != nil {
		p.AppType = c.Name()
		p.app = c.IgnoredPatterns()
	}
	p.custom = custom
	return p
}

// Patterns returns base, application and custom patterns in that order,
// with duplicates and blanks removed.
func (p *Policy) Patterns() []string {
	seen := make(map[string]bool)
	var out []string
	for _, group := range [][]string{basePatterns, p.app, p.custom} {
		for _, pat := range group {
			pat = strings.TrimSpace(pat)
			if pat == "" || seen[pat] {
				continue
			}
			seen[pat] = true
			out = append(out, pat)
		}
	}
	return out
}

// Render produces the ignore file contents. Output is deterministic for a
// given policy.
func (p *Policy) Render() string {
	var sb strings.Builder
	sb.WriteString("# Generated by auxin for this project's application type.\n")
	section := func(title string, patterns []string, seen map[string]bool) {
		var lines []string
		for _, pat := range patterns {
			pat = strings.TrimSpace(pat)
			if pat == "" || seen[pat] {
				continue
			}
			seen[pat] = true
			lines = append(lines, pat)
		}
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&sb, "\n# %s\n", title)
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}

	seen := make(map[string]bool)
	section("System files", basePatterns, seen)
	section(fmt.Sprintf("Application: %s", p.AppType), p.app, seen)
	section("Custom", p.custom, seen)
	return sb.String()
}

// Parse reads an ignore file, returning its patterns in order. Comments and
// blank lines are skipped. Negation patterns are not supported and are
// rejected.
func Parse(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if strings.HasPrefix(text, "!") {
			return nil, fmt.Errorf("line %d: negated patterns are not supported", line)
		}
		out = append(out, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ignore file: %w", err)
	}
	return out, nil
}
