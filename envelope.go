package endolium

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.
// An envelope is an anchor record, not a secret. Its unpadded base64url payload is laid out as:
//
//	identity (32) | created_at (8, LE) | epoch (8, LE) | lowercase hex of the alloy blob

var ErrMalformedEnvelope = errors.New("endolium: malformed envelope")

const headerSize = IdentitySize + 1 + 8 + 1 + 8 + 1

type Envelope struct {
	Identity  Identity
	CreatedAt uint64
	Epoch     uint64
	Alloy     []byte
}

func (e *Envelope) Encode() string {
	raw := make([]byte, headerSize, headerSize+hex.EncodedLen(len(e.Alloy)))
	copy(raw, e.Identity[:])
	raw[IdentitySize] = '|'
	binary.LittleEndian.PutUint64(raw[IdentitySize+1:], e.CreatedAt)
	raw[IdentitySize+9] = '|'
	binary.LittleEndian.PutUint64(raw[IdentitySize+10:], e.Epoch)
	raw[IdentitySize+18] = '|'
	raw = hex.AppendEncode(raw, e.Alloy)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func DecodeEnvelope(s string) (*Envelope, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedEnvelope, err.Error())
	}
	if len(raw) < headerSize {
		return nil, errors.Wrapf(ErrMalformedEnvelope, "%d bytes is shorter than the header", len(raw))
	}
	if raw[IdentitySize] != '|' || raw[IdentitySize+9] != '|' || raw[IdentitySize+18] != '|' {
		return nil, errors.Wrap(ErrMalformedEnvelope, "missing field separator")
	}

	text := raw[headerSize:]
	alloy, err := hex.DecodeString(string(text))
	if err != nil {
		return nil, errors.Wrap(ErrMalformedEnvelope, err.Error())
	}
	if !bytes.Equal(hex.AppendEncode(nil, alloy), text) {
		return nil, errors.Wrap(ErrMalformedEnvelope, "alloy hex is not lowercase")
	}
	if len(alloy) < HashSize {
		return nil, errors.Wrapf(ErrMalformedEnvelope, "alloy blob of %d bytes", len(alloy))
	}

	e := &Envelope{
		CreatedAt: binary.LittleEndian.Uint64(raw[IdentitySize+1:]),
		Epoch:     binary.LittleEndian.Uint64(raw[IdentitySize+10:]),
		Alloy:     alloy,
	}
	copy(e.Identity[:], raw)
	return e, nil
}

// Key re-derives the key anchored by the envelope's own epoch.
func (e *Envelope) Key(p Params) string { return p.Pick(e.Alloy, e.Epoch) }

// KeyAt re-derives the key that is current at now under the envelope's rotation schedule.
func (e *Envelope) KeyAt(p Params, now uint64) string {
	return p.Pick(e.Alloy, Epoch(now, p.Interval(e.CreatedAt, now)))
}
