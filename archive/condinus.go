package archive

import (
	"encoding/binary"
	"strconv"

	"github.com/p7r0x7/endolium"
	"golang.org/x/crypto/sha3"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.

// Condinus is the blob stored for a page of text. The text is fused with the 17 language labels
// under Keccak-256, overlaid with a hash-chained noise stream seeded by the text, and shuffled.
func Condinus(text string) []byte {
	h := sha3.NewLegacyKeccak256()
	fused := make([]byte, 0, len(endolium.Languages)*endolium.HashSize)
	for i, lang := range endolium.Languages {
		n := strconv.Itoa(i)
		h.Reset()
		h.Write([]byte(text + "|" + lang + "|" + n + "|" + n))
		fused = h.Sum(fused)
	}
	return endolium.Shuffle(noise(fused, []byte(text)))
}

// noise XORs byte i of data with byte i%32 of the i-th link of a Keccak-256 chain:
// link_i = Keccak-256(link_{i-1} || le64(i)), link_{-1} = Keccak-256(seed).
func noise(data, seed []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(seed)
	state, index := h.Sum(nil), [8]byte{}

	out := append([]byte(nil), data...)
	for i := range out {
		binary.LittleEndian.PutUint64(index[:], uint64(i))
		h.Reset()
		h.Write(state)
		h.Write(index[:])
		state = h.Sum(state[:0])
		out[i] ^= state[i%len(state)]
	}
	return out
}
