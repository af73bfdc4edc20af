package proxypool

import (
	"regexp"
	"strings"
)

var addressPattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}:\d{1,5}$`)

// ValidAddress reports whether s is an IPv4 literal with a port ("a.b.c.d:port").
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ParseList trims each line, skips blanks and '#' comments, and keeps the lines
// that are valid addresses. Duplicates are dropped; first appearance wins.
func ParseList(lines []string) []string {
	out := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !ValidAddress(line) {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}

// ParseText splits a plaintext document into lines and parses them.
func ParseText(doc string) []string {
	return ParseList(strings.Split(doc, "\n"))
}
