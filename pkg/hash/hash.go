// Package hash places application keys on the ring.
package hash

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/zde37/vdht/pkg/ring"
)

// Key hashes data to a key of space. The first eight bytes of the SHA-256
// digest are read big-endian and reduced modulo 2^L.
func Key(space ring.Space, data []byte) ring.Key {
	sum := sha256.Sum256(data)
	return space.Mod(binary.BigEndian.Uint64(sum[:8]))
}

// String hashes s to a key of space.
func String(space ring.Space, s string) ring.Key {
	return Key(space, []byte(s))
}
