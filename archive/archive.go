package archive

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/p7r0x7/endolium"
	"github.com/p7r0x7/endolium/pow"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"lukechampine.com/uint128"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.
// An Archive is the aggregate that accumulates characters, pages and litrium across every record
// its author writes; its counters saturate instead of wrapping. Records hold the transformed
// blob of their pages.

var (
	ErrInvalidProofOfWork = errors.New("archive: invalid proof of work")
	ErrNotFound           = errors.New("archive: not found")
	ErrExists             = errors.New("archive: already exists")
	ErrNotAuthor          = errors.New("archive: not the record author")
)

type Archive struct {
	Author      endolium.Identity
	TotalChars  uint64
	TotalPages  uint64
	LitriumPool uint64
	Difficulty  uint8
	CreatedAt   uint64
}

// Threshold is the largest proof value the archive currently accepts.
func (a *Archive) Threshold() uint128.Uint128 { return pow.Threshold(a.TotalChars, a.Difficulty) }

// ID is the BLAKE3-256 digest of a record's author, title and creation timestamp.
type ID [32]byte

func RecordID(author endolium.Identity, title string, createdAt uint64) ID {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], createdAt)
	h := blake3.New()
	h.Write(author[:])
	h.Write([]byte(title))
	h.Write(le[:])
	var id ID
	h.Sum(id[:0])
	return id
}

func (id ID) String() string { return hex.EncodeToString(id[:]) }

func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, errors.Wrapf(ErrNotFound, "bad record id %q", s)
	}
	copy(id[:], b)
	return id, nil
}

type Record struct {
	ID            ID
	Author        endolium.Identity
	Title         string
	CreatedAt     uint64
	TotalChars    uint64
	PageCount     uint64
	LitriumEarned uint64
	Blob          []byte
	Pages         []string
}

func (r *Record) clone() *Record {
	c := *r
	c.Blob = append([]byte(nil), r.Blob...)
	c.Pages = append([]string(nil), r.Pages...)
	return &c
}

// addSat adds without wrapping; ok is false when the sum saturated.
func addSat(a, b uint64) (sum uint64, ok bool) {
	if sum = a + b; sum < a {
		return math.MaxUint64, false
	}
	return sum, true
}

// raise returns bits increased by one for every multiple of step that lies in (before, after].
func raise(bits uint8, before, after, step uint64) uint8 {
	crossed := after/step - before/step
	if crossed > uint64(math.MaxUint8-bits) {
		return math.MaxUint8
	}
	return bits + uint8(crossed)
}

// litrium returns floor(chars * elapsed / denom), clamped to the uint64 range.
func litrium(chars, elapsed, denom uint64) uint64 {
	if elapsed == 0 {
		elapsed = 1
	}
	q := uint128.From64(chars).Mul64(elapsed).Div64(denom)
	if q.Hi != 0 {
		return math.MaxUint64
	}
	return q.Lo
}
