package engine

import (
	"crypto/sha256"
	"encoding/binary"
)

// IndexSource draws oracle indexes. Implementations must be deterministic in
// their inputs so an assignment can be reproduced from the persisted seed and
// nonce.
type IndexSource interface {
	// Indexes returns n distinct values in [0, space).
	Indexes(seed, caller string, nonce uint64, n, space int) []int
}

// SHA256Indexes hashes (seed, caller, nonce, counter) and reduces each digest
// modulo space, skipping repeats.
type SHA256Indexes struct{}

func (SHA256Indexes) Indexes(seed, caller string, nonce uint64, n, space int) []int {
	if n <= 0 || space <= 0 {
		return nil
	}
	if n > space {
		n = space
	}
	out := make([]int, 0, n)
	seen := make(map[int]bool, n)
	var buf [8]byte
	for counter := uint64(0); len(out) < n; counter++ {
		h := sha256.New()
		h.Write([]byte(seed))
		h.Write([]byte{0})
		h.Write([]byte(caller))
		binary.BigEndian.PutUint64(buf[:], nonce)
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], counter)
		h.Write(buf[:])
		sum := h.Sum(nil)
		v := int(binary.BigEndian.Uint64(sum[:8]) % uint64(space))
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
