package inventory

import "strings"

// Filter restricts a scan to namespaces matching a pattern. The only
// metacharacter is "*", matching any run of characters. An empty pattern
// matches everything.
type Filter struct {
	pattern string
}

// NewFilter compiles a namespace filter pattern.
func NewFilter(pattern string) *Filter {
	return &Filter{pattern: pattern}
}

// Matches reports whether the namespace name passes the filter.
func (f *Filter) Matches(name string) bool {
	if f == nil || f.pattern == "" || f.pattern == "*" {
		return true
	}
	parts := strings.Split(f.pattern, "*")

	// No wildcard: exact match.
	if len(parts) == 1 {
		return name == f.pattern
	}

	if !strings.HasPrefix(name, parts[0]) {
		return false
	}
	name = name[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(name, last) {
		return false
	}
	name = name[:len(name)-len(last)]

	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		i := strings.Index(name, mid)
		if i < 0 {
			return false
		}
		name = name[i+len(mid):]
	}
	return true
}
