package pow

import (
	"context"
	"encoding/binary"
	"math"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/uint128"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.
// Write operations are gated by a proof of work whose difficulty only ever grows: the
// threshold is halved for every doubling of the characters an aggregate has accumulated, on
// top of the aggregate's own base difficulty.

// MaxBits is the difficulty at and beyond which no proof value other than zero is accepted.
const MaxBits = 127

var ErrExhausted = errors.New("pow: nonce space exhausted")

var threads = runtime.NumCPU()

// ExtraBits returns floor(log2(1 + totalChars)).
func ExtraBits(totalChars uint64) uint8 {
	if totalChars == math.MaxUint64 {
		return 64 /* 1 + totalChars is exactly 2^64. */
	}
	return uint8(bits.Len64(totalChars+1) - 1)
}

// Threshold returns the largest proof value accepted for the given aggregate state.
func Threshold(totalChars uint64, baseBits uint8) uint128.Uint128 {
	n := uint(baseBits) + uint(ExtraBits(totalChars))
	if n >= MaxBits {
		return uint128.Zero
	}
	return uint128.Max.Rsh(n)
}

// Value is the first 16 bytes, little-endian, of Keccak-256(identity || text || le64(nonce)).
func Value(identity, text []byte, nonce uint64) uint128.Uint128 {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], nonce)
	h := sha3.NewLegacyKeccak256()
	h.Write(identity)
	h.Write(text)
	h.Write(le[:])
	return uint128.FromBytes(h.Sum(nil)[:16])
}

func Verify(identity, text []byte, nonce uint64, threshold uint128.Uint128) bool {
	return Value(identity, text, nonce).Cmp(threshold) <= 0
}

// Solve searches for a nonce satisfying threshold, starting at start, with one worker per CPU.
// Worker w tries start+w, start+w+threads, and so on. When several workers succeed the first to
// report wins, so the returned nonce is not necessarily the smallest.
func Solve(ctx context.Context, identity, text []byte, threshold uint128.Uint128, start uint64) (uint64, error) {
	if threshold.IsZero() {
		return 0, errors.Wrap(ErrExhausted, "zero threshold")
	}

	var (
		found   = make(chan uint64, threads)
		stop    atomic.Bool
		working sync.WaitGroup
		stride  = uint64(threads)
	)
	working.Add(threads)
	for w := uint64(0); w < stride; w++ {
		go func(w uint64) {
			defer working.Done()
			last := (math.MaxUint64 - w) / stride
			for n, i := start+w, uint64(0); ; n, i = n+stride, i+1 {
				if i&1023 == 0 && (stop.Load() || ctx.Err() != nil) {
					return
				}
				if Verify(identity, text, n, threshold) {
					stop.Store(true)
					found <- n
					return
				}
				if i == last {
					return /* Every nonce in this worker's lane was tried. */
				}
			}
		}(w)
	}
	go func() {
		working.Wait()
		close(found)
	}()

	select {
	case n, ok := <-found:
		stop.Store(true)
		if !ok {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			return 0, ErrExhausted
		}
		return n, nil
	case <-ctx.Done():
		stop.Store(true)
		return 0, ctx.Err()
	}
}
