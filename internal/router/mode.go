package router

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type Mode int

const (
	// ModeExact matches when the route path equals the request path.
	ModeExact Mode = iota
	// ModePrefix matches when the route path is a prefix of the request path.
	ModePrefix
	// ModeGlob treats route paths as doublestar patterns, e.g. "orders/**".
	ModeGlob
)

func (m Mode) String() string {
	switch m {
	case ModeExact:
		return "exact"
	case ModePrefix:
		return "prefix"
	case ModeGlob:
		return "glob"
	default:
		return "unknown"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exact":
		return ModeExact, nil
	case "prefix":
		return ModePrefix, nil
	case "glob":
		return ModeGlob, nil
	default:
		return ModeExact, fmt.Errorf("unknown route mode %q", s)
	}
}

// Match reports whether route matches path under m. Comparison is
// case-sensitive and trailing slashes are significant. An empty route never
// matches.
func (m Mode) Match(route, path string) bool {
	if route == "" {
		return false
	}

	switch m {
	case ModePrefix:
		return strings.HasPrefix(path, route)
	case ModeGlob:
		ok, err := doublestar.Match(route, path)
		return err == nil && ok
	default:
		return route == path
	}
}
