package endolium

import (
	"github.com/minio/sha256-simd"
	"lukechampine.com/uint128"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.

// Cascade expands every byte of blob into the 16 little-endian bytes of
// (b[0] + ... + b[i]) * (i+1), computed modulo 2^128, and prefixes the expansion with its
// SHA-256 digest. A change at position i alters every word from i onward and none before it.
func Cascade(blob []byte) []byte {
	out := make([]byte, HashSize+len(blob)*cascadeWidth)
	body := out[HashSize:]

	var sum uint128.Uint128
	for i, b := range blob {
		sum = sum.AddWrap64(uint64(b)) /* Wraps, never saturates. */
		sum.MulWrap64(uint64(i) + 1).PutBytes(body[i*cascadeWidth:])
	}

	digest := sha256.Sum256(body)
	copy(out, digest[:])
	return out
}
