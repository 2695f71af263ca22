package endolium

import (
	"encoding/hex"
	"io"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.
// Every constant the derivation depends on lives in Params so that existing envelopes and keys
// can be reproduced bit-for-bit by anyone holding the same values.

// EntropyTag is the protocol version tag folded into every fused vector. Builds may pin another
// tag with -ldflags "-X github.com/p7r0x7/endolium.EntropyTag=...".
var EntropyTag = "ENDOLIUM_COMPILED_CONST_V1"

// Languages are the labels of the 17 fusion rounds, in round order.
var Languages = [17]string{
	"en", "es", "fr", "de", "ru", "ja", "zh", "ar", "hi", "pt", "it", "nl", "sv", "no", "fi", "ko", "tr",
}

const (
	IdentitySize = 32
	HashSize     = 32
	keySize      = 32
	ivSize       = 12
	cascadeWidth = 16 /* bytes emitted per input byte */
	yearSeconds  = 365 * 24 * 3600
)

var ErrInvalidParams = errors.New("endolium: invalid params")

type Params struct {
	Entropy        string `yaml:"entropy"`
	AlloyRounds    int    `yaml:"alloy_rounds"`
	PickKey        string `yaml:"pick_key"`
	PickCount      int    `yaml:"pick_count"`
	RotationBase   uint64 `yaml:"rotation_base"`
	RotationStep   uint64 `yaml:"rotation_step"`
	RotationFloor  uint64 `yaml:"rotation_floor"`
	DifficultyBits uint8  `yaml:"difficulty_bits"`
	DifficultyStep uint64 `yaml:"difficulty_step"`
}

func DefaultParams() Params {
	return Params{
		Entropy:        EntropyTag,
		AlloyRounds:    8,
		PickKey:        "endolium-seed-key-derivation",
		PickCount:      9,
		RotationBase:   33,
		RotationStep:   3,
		RotationFloor:  3,
		DifficultyBits: 16,
		DifficultyStep: 1024,
	}
}

// LoadParams decodes a YAML document over DefaultParams. Keys absent from the document keep
// their default values. An entropy value prefixed with "hex:" is decoded as raw bytes.
func LoadParams(r io.Reader) (Params, error) {
	p := DefaultParams()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return Params{}, errors.Wrap(err, "endolium: decode params")
	}
	if raw, ok := strings.CutPrefix(p.Entropy, "hex:"); ok {
		b, err := hex.DecodeString(raw)
		if err != nil {
			return Params{}, errors.Wrap(ErrInvalidParams, "entropy: "+err.Error())
		}
		p.Entropy = string(b)
	}
	return p, p.Validate()
}

// Validate rejects values for which the pipeline would be undefined.
func (p Params) Validate() error {
	switch {
	case p.Entropy == "":
		return errors.Wrap(ErrInvalidParams, "entropy tag is empty")
	case p.AlloyRounds <= 0:
		return errors.Wrapf(ErrInvalidParams, "alloy rounds %d", p.AlloyRounds)
	case p.PickKey == "":
		return errors.Wrap(ErrInvalidParams, "pick key is empty")
	case p.PickCount <= 0:
		return errors.Wrapf(ErrInvalidParams, "pick count %d", p.PickCount)
	case p.RotationFloor == 0:
		return errors.Wrap(ErrInvalidParams, "rotation floor is zero")
	case p.RotationBase < p.RotationFloor:
		return errors.Wrapf(ErrInvalidParams, "rotation base %d below floor %d", p.RotationBase, p.RotationFloor)
	case p.DifficultyStep == 0:
		return errors.Wrap(ErrInvalidParams, "difficulty step is zero")
	}
	return nil
}
