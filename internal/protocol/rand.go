package protocol

import (
	crand "crypto/rand"
	"encoding/binary"
)

// randomSeed seeds a fast PRNG from crypto/rand.
func randomSeed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic("protocol: failed to read random seed: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:])
}
