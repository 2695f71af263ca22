package endolium

import (
	"encoding/binary"

	"github.com/minio/sha256-simd"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.

var separator = []byte{'|'}

// Fuse mixes identity and text with each of the 17 language labels and concatenates the
// resulting SHA-256 digests. The output is always len(Languages)*HashSize bytes long, then
// XORed in place with the entropy tag cycled over its length.
func (p Params) Fuse(identity, text []byte) []byte {
	if len(p.Entropy) == 0 {
		panic("endolium: Fuse: empty entropy tag")
	}
	fused, index, h := make([]byte, 0, len(Languages)*HashSize), [8]byte{}, sha256.New()
	for i, tag := range Languages {
		binary.LittleEndian.PutUint64(index[:], uint64(i))
		h.Reset()
		h.Write(identity)
		h.Write(separator)
		h.Write(text)
		h.Write(separator)
		h.Write([]byte(tag))
		h.Write(separator)
		h.Write(index[:])
		fused = h.Sum(fused)
	}

	for i := range fused {
		fused[i] ^= p.Entropy[i%len(p.Entropy)]
	}
	return fused
}
