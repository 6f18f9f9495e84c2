// Package strings provides string helpers for configuration parsing.
package strings

import "strings"

// SplitList splits raw on sep, trims each element, and drops empty and
// repeated elements. Order of first occurrence is kept. An empty input
// yields nil.
func SplitList(raw, sep string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, sep)
	seen := make(map[string]struct{}, len(parts))
	var out []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
