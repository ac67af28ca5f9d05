package config

import (
	"fmt"
	"slices"
	"strings"
)

// sections are the top-level keys of the config file.
var sections = []string{"bot", "channels", "system", "git", "store", "dispatch", "logging"}

// KeyPath addresses one value in the raw config tree, e.g. "channels.irc.nick".
type KeyPath []string

// ParseKeyPath splits a dotted key and checks that it starts with a known
// section.
func ParseKeyPath(raw string) (KeyPath, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config key"}
	}
	parts := strings.Split(raw, ".")
	if slices.Contains(parts, "") {
		return nil, &ConfigError{Message: fmt.Sprintf("config key %q has an empty segment", raw)}
	}
	if !slices.Contains(sections, parts[0]) {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown config section %q (want one of %s)", parts[0], strings.Join(sections, ", "))}
	}
	return KeyPath(parts), nil
}

func (k KeyPath) String() string { return strings.Join(k, ".") }

// Get returns the value at k.
func (k KeyPath) Get(root map[string]any) (any, bool) {
	var cur any = root
	for _, seg := range k {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores v at k. Missing or scalar intermediate values are replaced
// by maps.
func (k KeyPath) Set(root map[string]any, v any) {
	m := root
	for _, seg := range k[:len(k)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	m[k[len(k)-1]] = v
}

// Unset removes the value at k and reports whether there was one.
// Sections left empty are removed too.
func (k KeyPath) Unset(root map[string]any) bool {
	parent := root
	if len(k) > 1 {
		v, ok := KeyPath(k[:len(k)-1]).Get(root)
		if !ok {
			return false
		}
		if parent, ok = v.(map[string]any); !ok {
			return false
		}
	}
	last := k[len(k)-1]
	if _, ok := parent[last]; !ok {
		return false
	}
	delete(parent, last)
	if len(parent) == 0 && len(k) > 1 {
		KeyPath(k[:len(k)-1]).Unset(root)
	}
	return true
}
