package endolium

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
)

// N.B.: This is a deterministic obfuscation and derivation construction, not an audited
// cryptographic scheme.
// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.
// Generate chains the stages: Fuse, Cascade, Alloy, the rotation schedule, Pick, and finally the
// envelope. Every stage is a pure function of its inputs; a stage that detects a broken internal
// invariant panics, so a partial derivation is never returned.

type Identity [IdentitySize]byte

func ParseIdentity(s string) (Identity, error) {
	var id Identity
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.Wrap(err, "endolium: parse identity")
	}
	if len(b) != IdentitySize {
		return id, errors.Errorf("endolium: identity of %d bytes, must be %d", len(b), IdentitySize)
	}
	copy(id[:], b)
	return id, nil
}

func (id Identity) String() string { return hex.EncodeToString(id[:]) }

// Derivation holds everything Generate computed on the way to its key and envelope.
type Derivation struct {
	Key      string
	Envelope Envelope
	Interval uint64
}

// Derive runs the whole pipeline for identity and text at the instant now.
func (p Params) Derive(id Identity, text string, createdAt, now uint64) *Derivation {
	fused := p.Fuse(id[:], []byte(text))
	cascaded := Cascade(fused)

	salt := make([]byte, IdentitySize+1+8)
	copy(salt, id[:]) /* salt[IdentitySize] stays zero. */
	binary.LittleEndian.PutUint64(salt[IdentitySize+1:], now)
	alloy := p.Alloy(cascaded, salt)

	interval := p.Interval(createdAt, now)
	epoch := Epoch(now, interval)

	return &Derivation{
		Key:      p.Pick(alloy, epoch),
		Envelope: Envelope{Identity: id, CreatedAt: createdAt, Epoch: epoch, Alloy: alloy},
		Interval: interval,
	}
}

// Generate returns the rotating key and the encoded envelope for identity and text.
func (p Params) Generate(id Identity, text string, createdAt, now uint64) (key, envelope string) {
	d := p.Derive(id, text, createdAt, now)
	return d.Key, d.Envelope.Encode()
}

func Generate(id Identity, text string, createdAt, now uint64) (key, envelope string) {
	return DefaultParams().Generate(id, text, createdAt, now)
}
