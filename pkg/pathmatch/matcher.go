package pathmatch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPattern is returned for patterns that do not follow the
// directory/leaf syntax, such as a "//" that is not in final position.
var ErrInvalidPattern = errors.New("invalid path pattern")

var (
	// patternSyntax splits a pattern into directory, descendant marker and leaf.
	patternSyntax = regexp.MustCompile(`^(/(?:[^/]+/)*)(/)?([^/]*)$`)
	// pathSyntax splits a normalized request path into directory and leaf.
	pathSyntax = regexp.MustCompile(`^(.*/)?([^/]*)$`)
)

// Matcher decides whether a request path is covered by a compiled pattern.
// A Matcher is immutable and safe for concurrent use.
type Matcher struct {
	pattern     string
	dirPattern  string
	leafPattern string
	descendants bool
	dotted      bool
	empty       bool

	dir        *regexp.Regexp // whole directory path
	dirPrefix  *regexp.Regexp // directory path prefix
	leaf       *regexp.Regexp // nil when the pattern declares no leaf
	wildcardOf *regexp.Regexp // base prefix for the bare "*" leaf
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithDottedPaths makes the matcher treat dots in request paths as segment
// separators, so legacy dotted names such as "batch.user.Import" are
// matched as "/batch/user/Import".
func WithDottedPaths() Option {
	return func(m *Matcher) { m.dotted = true }
}

// Compile parses pattern. Compiling the same pattern with the same options
// always yields a behaviourally identical Matcher.
func Compile(pattern string, opts ...Option) (*Matcher, error) {
	m := &Matcher{pattern: pattern}
	for _, opt := range opts {
		opt(m)
	}

	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		m.empty = true
		return m, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}

	parts := patternSyntax.FindStringSubmatch(trimmed)
	if parts == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	m.dirPattern = parts[1]
	m.descendants = parts[2] != ""
	m.leafPattern = parts[3]

	dirExpr := GlobToRegexp(m.dirPattern)
	m.dir = regexp.MustCompile("^" + dirExpr + "$")
	m.dirPrefix = regexp.MustCompile("^" + dirExpr)
	if m.leafPattern != "" {
		m.leaf = regexp.MustCompile("^" + GlobToRegexp(m.leafPattern) + "$")
	}
	if m.leafPattern == "*" {
		base := GlobToRegexp(strings.TrimSuffix(m.dirPattern, "/"))
		m.wildcardOf = regexp.MustCompile("^" + base + "(?:/|$)")
	}
	return m, nil
}

// MustCompile is like Compile but panics on an invalid pattern.
func MustCompile(pattern string, opts ...Option) *Matcher {
	m, err := Compile(pattern, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Pattern returns the source pattern.
func (m *Matcher) Pattern() string { return m.pattern }

// AffectsDescendants reports whether the pattern ends in "//" and therefore
// covers every node beneath its directory.
func (m *Matcher) AffectsDescendants() bool { return m.descendants }

// DirectoryPattern returns the directory part of the pattern.
func (m *Matcher) DirectoryPattern() string { return m.dirPattern }

// LeafPattern returns the leaf-name glob, or "" when none was declared.
func (m *Matcher) LeafPattern() string { return m.leafPattern }

// Match reports whether path is covered by the pattern.
func (m *Matcher) Match(path string) bool {
	if m.empty {
		return !strings.Contains(strings.TrimSpace(path), "/")
	}

	normalized := m.normalize(path)
	dir, leaf := Split(normalized)

	switch {
	case m.descendants:
		if !m.dirPrefix.MatchString(dir) {
			return false
		}
		if m.leaf == nil {
			return true
		}
		return m.leaf.MatchString(leaf)

	case m.leafPattern == "*":
		if !m.wildcardOf.MatchString(normalized) {
			return false
		}
		if strings.HasSuffix(normalized, "/") {
			return false
		}
		return !strings.Contains(leaf, ".")

	default:
		if !m.dir.MatchString(dir) {
			return false
		}
		if m.leaf == nil {
			return leaf == ""
		}
		return m.leaf.MatchString(leaf)
	}
}

func (m *Matcher) normalize(path string) string {
	p := strings.TrimSpace(path)
	if m.dotted {
		p = strings.ReplaceAll(p, ".", "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (m *Matcher) String() string { return m.pattern }

// Split divides a request path into its directory path, which always ends
// in "/", and its leaf name, which may be empty. A missing leading slash is
// added first.
func Split(path string) (dir, leaf string) {
	p := strings.TrimSpace(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	parts := pathSyntax.FindStringSubmatch(p)
	return parts[1], parts[2]
}

// GlobToRegexp translates a glob into an unanchored regular expression.
// Literal runs are quoted, "*" becomes "[^/]*?" and "?" becomes "[^/]".
func GlobToRegexp(glob string) string {
	var b strings.Builder
	literal := 0
	flush := func(i int) {
		if i > literal {
			b.WriteString(regexp.QuoteMeta(glob[literal:i]))
		}
	}
	for i := 0; i < len(glob); i++ {
		switch glob[i] {
		case '*':
			flush(i)
			b.WriteString(`[^/]*?`)
			literal = i + 1
		case '?':
			flush(i)
			b.WriteString(`[^/]`)
			literal = i + 1
		}
	}
	flush(len(glob))
	return b.String()
}
