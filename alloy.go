package endolium

import (
	"crypto/hmac"
	"encoding/binary"

	"github.com/aead/chacha20/chacha"
	"github.com/minio/sha256-simd"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.

// Alloy enciphers blob under a key stretched from (blob, salt) and returns
// SHA-256(ciphertext) || ciphertext. Identical inputs always produce identical output.
func (p Params) Alloy(blob, salt []byte) []byte {
	h := sha256.New()
	h.Write(blob)
	h.Write(salt)
	key := h.Sum(make([]byte, 0, HashSize))[:keySize]

	// Key stretching
	var round [8]byte
	for i := 0; i < p.AlloyRounds; i++ {
		binary.LittleEndian.PutUint64(round[:], uint64(i))
		mac := hmac.New(sha256.New, key)
		mac.Write(round[:])
		mac.Write(salt)
		for j, v := range mac.Sum(nil) {
			key[j] ^= v
		}
	}

	h.Reset()
	h.Write(salt)
	h.Write(blob)
	iv := h.Sum(make([]byte, 0, HashSize))[:ivSize]

	// Encryption
	if len(key) != chacha.KeySize || len(iv) != chacha.INonceSize {
		panic("endolium: Alloy: key or iv length mismatch")
	}
	stream, err := chacha.NewCipher(iv, key, 20)
	if err != nil {
		panic("endolium: Alloy: " + err.Error())
	}
	out := make([]byte, HashSize+len(blob))
	stream.XORKeyStream(out[HashSize:], blob)

	digest := sha256.Sum256(out[HashSize:])
	copy(out, digest[:])
	return out
}
