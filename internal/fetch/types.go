// Package fetch defines core types shared across the fetch engine subsystems.
package fetch

import (
	"net/http"
	"time"
)

// Request is a single outbound send handed to a Transport.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the fully-read reply returned by a Transport.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Options are the caller-controlled knobs of a fetch.
type Options struct {
	Method string `json:"method"`
	Body   string `json:"body,omitempty"`
}

// Result is returned by the engine on a classified success.
type Result struct {
	Body       []byte      `json:"-"`
	Headers    http.Header `json:"headers"`
	StatusCode int         `json:"status_code"`
	OK         bool        `json:"ok"`
}

// Diff summarizes how a proxy list refresh changed the pool.
type Diff struct {
	Before   int    `json:"before"`
	After    int    `json:"after"`
	Added    int    `json:"added"`
	Removed  int    `json:"removed"`
	Retained int    `json:"retained"`
	// Checksum is the hex SHA-256 of the new list in snapshot encoding.
	Checksum string `json:"checksum,omitempty"`
}

// ComputeDiff compares two address sets.
func ComputeDiff(before, after []string) Diff {
	prev := make(map[string]struct{}, len(before))
	for _, addr := range before {
		prev[addr] = struct{}{}
	}
	next := make(map[string]struct{}, len(after))
	for _, addr := range after {
		next[addr] = struct{}{}
	}
	d := Diff{Before: len(prev), After: len(next)}
	for addr := range next {
		if _, ok := prev[addr]; ok {
			d.Retained++
		} else {
			d.Added++
		}
	}
	for addr := range prev {
		if _, ok := next[addr]; !ok {
			d.Removed++
		}
	}
	return d
}
