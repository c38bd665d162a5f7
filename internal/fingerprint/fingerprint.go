// Package fingerprint computes the 32-bit content fingerprints used to
// deduplicate fetched resource payloads.
//
// The algorithm is a one-at-a-time style mix over a sequence of 32-bit
// words. Persisted fingerprints depend on it, so it must not change.
package fingerprint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidFormat is returned when a formatted fingerprint cannot be parsed.
var ErrInvalidFormat = errors.New("invalid fingerprint format")

const prefix = "fp32:"

// Hash mixes the words in order into a 32-bit value. Arithmetic wraps
// modulo 2^32. Hash(nil) is the finalization of a zero accumulator, which
// is 0.
func Hash(words []uint32) uint32 {
	var h uint32
	for _, e := range words {
		h += e
		h += h << 10
		h ^= h >> 6
	}
	return finalize(h)
}

// OfBytes fingerprints a fetched buffer. Every byte contributes one word.
func OfBytes(buf []byte) uint32 {
	var h uint32
	for _, b := range buf {
		h += uint32(b)
		h += h << 10
		h ^= h >> 6
	}
	return finalize(h)
}

// Combine hashes an ordered list of fingerprints into a single digest.
func Combine(fps ...uint32) uint32 {
	return Hash(fps)
}

// Verify reports whether buf fingerprints to expected.
func Verify(buf []byte, expected uint32) bool {
	return OfBytes(buf) == expected
}

// Format renders a fingerprint as "fp32:" followed by 8 hex digits.
func Format(fp uint32) string {
	return fmt.Sprintf("%s%08x", prefix, fp)
}

// Parse is the inverse of Format.
func Parse(s string) (uint32, error) {
	if !strings.HasPrefix(s, prefix) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	v, err := strconv.ParseUint(s[len(prefix):], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return uint32(v), nil
}

func finalize(h uint32) uint32 {
	h += h << 3
	h ^= h >> 11
	h += h << 15
	return h
}
