// Package random generates seeds for the deterministic dice roller.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// Source supplies seeds. Tests substitute a fixed sequence.
type Source func() (int64, error)

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	return SeedFrom(crand.Reader)
}

// SeedFrom reads eight bytes from r as a little-endian seed.
func SeedFrom(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}
