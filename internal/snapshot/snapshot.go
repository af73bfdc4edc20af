// Package snapshot holds the on-disk form shared by the proxy list snapshot
// backends: one address per line.
package snapshot

import (
	"bytes"
	"strings"
)

// Encode renders addrs one per line with a trailing newline.
func Encode(addrs []string) []byte {
	var buf bytes.Buffer
	for _, addr := range addrs {
		buf.WriteString(addr)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Decode splits data into trimmed, non-empty lines.
func Decode(data []byte) []string {
	lines := strings.Split(string(data), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
