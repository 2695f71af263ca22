package endolium

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/binary"
	"math/bits"

	"github.com/aead/chacha20/chacha"
	"github.com/minio/sha256-simd"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.
// Keys rotate on a schedule that tightens with age: RotationBase seconds at creation, shrinking
// by RotationStep seconds for every whole year elapsed, never below RotationFloor.

// Interval returns the rotation width in seconds. now < createdAt counts as zero years.
func (p Params) Interval(createdAt, now uint64) uint64 {
	var years uint64
	if now > createdAt {
		years = (now - createdAt) / yearSeconds
	}
	hi, shrink := bits.Mul64(p.RotationStep, years)
	if hi != 0 || shrink >= p.RotationBase || p.RotationBase-shrink < p.RotationFloor {
		return p.RotationFloor
	}
	return p.RotationBase - shrink
}

// Epoch reduces now to a rotation bucket index. A zero interval is treated as one second.
func Epoch(now, interval uint64) uint64 {
	if interval == 0 {
		interval = 1
	}
	return now / interval
}

// Pick draws PickCount characters, with replacement, from the unpadded base64url encoding of
// blob. The draws come from a ChaCha12 keystream keyed by HMAC-SHA256(PickKey, blob || epoch).
func (p Params) Pick(blob []byte, epoch uint64) string {
	pool := base64.RawURLEncoding.EncodeToString(blob)
	if len(pool) == 0 {
		panic("endolium: Pick: empty character pool")
	}

	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], epoch)
	mac := hmac.New(sha256.New, []byte(p.PickKey))
	mac.Write(blob)
	mac.Write(le[:])
	rng := newStream(mac.Sum(nil))

	picked, n := make([]byte, p.PickCount), uint64(len(pool))
	for i := range picked {
		picked[i] = pool[rng.Uint64()%n]
	}
	return string(picked)
}

// stream is a deterministic generator reading 64-bit little-endian words off a ChaCha12
// keystream with a zero 64-bit nonce and a counter starting at block zero.
type stream struct {
	cipher *chacha.Cipher
	word   [8]byte
}

func newStream(seed []byte) *stream {
	if len(seed) != chacha.KeySize {
		panic("endolium: stream: seed length mismatch")
	}
	nonce := [chacha.NonceSize]byte{}
	c, err := chacha.NewCipher(nonce[:], seed, 12)
	if err != nil {
		panic("endolium: stream: " + err.Error())
	}
	return &stream{cipher: c}
}

func (s *stream) Uint64() uint64 {
	s.word = [8]byte{}
	s.cipher.XORKeyStream(s.word[:], s.word[:])
	return binary.LittleEndian.Uint64(s.word[:])
}
