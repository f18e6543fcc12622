// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package globutil expands shell-style brace alternation ({alt1,alt2})
// in glob patterns. github.com/bmatcuk/doublestar/v4 implements every
// other meta character (?, *, **, [seq]) but has no concept of brace
// groups, so a pattern containing one is expanded here into the set of
// concrete patterns it denotes before being handed to doublestar.
package globutil

import "strings"

// ExpandBraces returns every concrete pattern denoted by pattern's brace
// groups. A pattern with no braces expands to itself. Nested braces
// expand outside-in.
func ExpandBraces(pattern string) []string {
	start := strings.IndexByte(pattern, '{')
	if start == -1 {
		return []string{pattern}
	}
	end := matchingBrace(pattern, start)
	if end == -1 {
		return []string{pattern}
	}

	prefix := pattern[:start]
	suffix := pattern[end+1:]
	alts := splitTopLevel(pattern[start+1 : end])

	var out []string
	for _, alt := range alts {
		for _, expanded := range ExpandBraces(prefix + alt + suffix) {
			out = append(out, expanded)
		}
	}
	return out
}

func matchingBrace(pattern string, start int) int {
	depth := 0
	for i := start; i < len(pattern); i++ {
		switch pattern[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits s on commas that are not nested inside an inner
// brace group, so a group like "a,b{1,2}" yields ["a", "b{1,2}"]
// instead of splitting on the comma inside the nested group.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, s[last:])
	return parts
}
