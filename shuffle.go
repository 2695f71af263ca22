package endolium

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.

// Shuffle returns a permutation of b. For i from len(b)-1 down to 1, position i is swapped
// with j = Keccak-256(le64(i) || current)[:8] mod (i+1), read little-endian, so every swap
// depends on the state left by the previous one. b itself is not modified.
func Shuffle(b []byte) []byte {
	out := append([]byte(nil), b...)
	if len(out) <= 1 {
		return out
	}

	h, index, sum := sha3.NewLegacyKeccak256(), [8]byte{}, make([]byte, 0, HashSize)
	for i := uint64(len(out) - 1); i > 0; i-- {
		binary.LittleEndian.PutUint64(index[:], i)
		h.Reset()
		h.Write(index[:])
		h.Write(out)
		sum = h.Sum(sum[:0])
		j := binary.LittleEndian.Uint64(sum) % (i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
