package utils

import (
	crand "crypto/rand"
	"encoding/binary"

	"golang.org/x/exp/rand"
)

// Rand is a fast PRNG, seeded from crypto/rand.
// It is used for decisions that need to be unpredictable to the peer, but not
// cryptographically strong: packet number skipping, connection ID rotation
// jitter, greased version placement.
type Rand struct {
	src *rand.Rand
}

// NewRand returns a seeded Rand.
func NewRand() *Rand {
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("utils: failed to seed PRNG: " + err.Error())
	}
	return &Rand{src: rand.New(rand.NewSource(binary.BigEndian.Uint64(seed[:])))}
}

// Int31n returns a random number in [0, n).
func (r *Rand) Int31n(n int32) int32 {
	if r.src == nil {
		*r = *NewRand()
	}
	return r.src.Int31n(n)
}

// Int63n returns a random number in [0, n).
func (r *Rand) Int63n(n int64) int64 {
	if r.src == nil {
		*r = *NewRand()
	}
	return r.src.Int63n(n)
}
