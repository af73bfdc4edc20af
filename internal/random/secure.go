// Package random provides the cryptographically-sourced fraction generator used
// for jitter and fingerprint selection.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"math"
)

// Secure draws uniform fractions in [0, 1) from crypto/rand.
type Secure struct{}

// NewSecure returns a Secure source.
func NewSecure() *Secure {
	return &Secure{}
}

// Float64 returns a uniform fraction in [0, 1). The top 53 bits of a random
// uint64 fill the float mantissa exactly.
func (Secure) Float64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0.5
	}
	return float64(binary.LittleEndian.Uint64(buf[:])>>11) / (1 << 53)
}

// Index maps a fraction onto [0, n).
func Index(fraction float64, n int) int {
	if n <= 0 {
		return 0
	}
	i := int(math.Floor(fraction * float64(n)))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
