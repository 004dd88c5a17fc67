package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSHA256IndexesDistinctAndDeterministic(t *testing.T) {
	src := SHA256Indexes{}
	for nonce := uint64(0); nonce < 200; nonce++ {
		got := src.Indexes("seed", "oracle-1", nonce, 3, 10)
		if assert.Len(t, got, 3) {
			assert.NotEqual(t, got[0], got[1])
			assert.NotEqual(t, got[0], got[2])
			assert.NotEqual(t, got[1], got[2])
			for _, v := range got {
				assert.True(t, v >= 0 && v < 10, "index %d out of range", v)
			}
		}
		assert.Equal(t, got, src.Indexes("seed", "oracle-1", nonce, 3, 10))
	}
	assert.NotEqual(t, src.Indexes("seed-a", "o", 1, 3, 1000), src.Indexes("seed-b", "o", 1, 3, 1000))
	assert.Len(t, src.Indexes("s", "o", 1, 5, 3), 3, "cannot draw more distinct values than the space holds")
}

func TestQuorum(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 2: 1, 3: 2, 4: 2, 5: 3}
	for basis, want := range cases {
		assert.Equal(t, want, quorum(basis), "basis %d", basis)
	}
}
