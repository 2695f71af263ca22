package main

import (
	"context"
	. "fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/p7r0x7/endolium"
	"github.com/p7r0x7/endolium/pow"
	"github.com/p7r0x7/vainpath"
	. "github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.

const n = "\n"
const success, failure = 0, 1

var warnings = 0

func main() { os.Exit(program()) }

// help prints a usage menu. To consistently render this menu in most terminal windows, its
// content should be no wider than 80 columns.
func help() {
	origin, err := os.Executable()
	if err != nil {
		origin = "endosum" /* Default binary name */
	} else {
		origin = filepath.Base(origin)
	}
	name := vainpath.Trim(origin, "…", 12)
	spaces := strings.Repeat(" ", utf8.RuneCountInString(name)+3)
	Fprint(os.Stderr, yell, "Rotating content-bound keys and progressive proofs of work.", zero, n+n+
		"Usage:"+n+
		"  ", name, " [-h]"+n,
		spaces, "[-t] [-i HEX] [-c SECS] [-n SECS] [--config FILE] -|PATH..."+n,
		spaces, "[-t] [-i HEX] [-c SECS] [-n SECS] [--config FILE] -s STRING..."+n,
		spaces, "[-i HEX] [--at SECS] -e ENVELOPE..."+n,
		spaces, "[-i HEX] [--chars N] [--bits N] --solve|--verify [-s] ARG..."+n+n+
			"Options:"+n)
	PrintDefaults()
	name = vainpath.Trim(origin, "…", 15)
	Fprint(os.Stderr, n+"Order of arguments placed after `", name, "` does not matter unless `--` is"+
		n+"specified, signaling the end of parsed flags. `-` is treated as a reference to"+
		n+os.Stdin.Name(), " on this platform. ENDOLIUM_SOURCE_HASH overrides the entropy tag."+n)
}

// This program is a command-line interface for endolium: it derives keys and envelopes for
// messages, decodes envelopes, and solves or checks proofs of work.
func program() int {
	if pHelp || NArg() == 0 {
		help()
		return success
	}

	logger := zap.NewNop()
	if pDebug {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			panic(err)
		}
		defer logger.Sync()
	}

	if tag := os.Getenv("ENDOLIUM_SOURCE_HASH"); tag != "" {
		endolium.EntropyTag = tag
	}
	params := endolium.DefaultParams()
	if pConfig != "" {
		f, err := os.Open(pConfig)
		if err != nil {
			Fprint(os.Stderr, purp, err, zero, n)
			return failure
		}
		params, err = endolium.LoadParams(f)
		f.Close()
		if err != nil {
			Fprint(os.Stderr, purp, err, zero, n)
			return failure
		}
	}
	if !CommandLine.Changed("bits") {
		pBits = params.DifficultyBits
	}

	var id endolium.Identity
	if pIdentity != "" {
		var err error
		if id, err = endolium.ParseIdentity(pIdentity); err != nil {
			Fprint(os.Stderr, purp, err, zero, n)
			return failure
		}
	}
	if !CommandLine.Changed("now") {
		pNow = uint64(time.Now().Unix())
	}
	if !CommandLine.Changed("created") {
		pCreated = pNow
	}
	logger.Debug("parameters",
		zap.Stringer("identity", id), zap.Uint64("created", pCreated), zap.Uint64("now", pNow),
		zap.Int("alloy_rounds", params.AlloyRounds), zap.Uint8("bits", pBits))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	for _, target := range Args() {
		start, delta := time.Now(), ""
		if pEnvelope {
			envelope(params, target, logger)
			continue
		}

		message, err := read(target)
		if err != nil {
			warn(err)
			continue
		}

		var result string
		switch {
		case pSolve:
			threshold := pow.Threshold(pChars, pBits)
			logger.Debug("solving", zap.Stringer("threshold", threshold), zap.Uint64("start", pStart))
			nonce, err := pow.Solve(ctx, id[:], message, threshold, pStart)
			if err != nil {
				warn(err)
				continue
			}
			result = Sprint(nonce)
		case pVerify:
			if pow.Verify(id[:], message, pNonce, pow.Threshold(pChars, pBits)) {
				result = "ok"
			} else {
				result = "invalid"
				warnings++
			}
		default:
			d := params.Derive(id, string(message), pCreated, pNow)
			logger.Debug("derived",
				zap.Uint64("interval", d.Interval), zap.Uint64("epoch", d.Envelope.Epoch),
				zap.Int("alloy_bytes", len(d.Envelope.Alloy)))
			result = d.Key + zero + "  " + d.Envelope.Encode()
		}

		if pTime {
			d := time.Since(start)
			if d.Microseconds() > 99 {
				d = d.Truncate(10 * time.Microsecond)
			}
			delta = " (" + d.String() + ")"
		}

		switch {
		case pQuiet:
			Print(result, n)
		case pString:
			Print(yell, result, zero, `  "`, target, `"`, delta, n)
		case pNoCodes:
			Print(result, `  `, filepath.Clean(target), delta, n)
		default:
			Print(yell, result, zero, `  `, und, vainpath.Simplify(target), zero, delta, n)
		}
	}

	if !pQuiet {
		if warnings == 1 {
			Fprint(os.Stderr, "1 ", purp, "target failed or is otherwise inaccessible.", zero, n)
		} else if warnings > 1 {
			Fprint(os.Stderr, warnings, " ", purp, "targets failed or are otherwise inaccessible.", zero, n)
		}
	}
	if warnings > 0 {
		return failure
	}
	return success
}

func envelope(params endolium.Params, s string, logger *zap.Logger) {
	e, err := endolium.DecodeEnvelope(s)
	if err != nil {
		logger.Debug("envelope rejected", zap.Error(err))
		warn(err)
		return
	}
	key := e.Key(params)
	if CommandLine.Changed("at") {
		key = e.KeyAt(params, pAt)
	}
	if pQuiet {
		Print(key, n)
		return
	}
	Print(yell, key, zero, "  identity ", e.Identity, "  created ", e.CreatedAt,
		"  epoch ", e.Epoch, "  alloy ", len(e.Alloy), " bytes", n)
}

func read(target string) ([]byte, error) {
	switch {
	case pString:
		return []byte(target), nil
	case target == "-" || target == os.Stdin.Name():
		return io.ReadAll(os.Stdin)
	default:
		return os.ReadFile(target)
	}
}

func warn(err error) {
	if !pQuiet {
		Fprint(os.Stderr, purp, err, zero, n)
	}
	warnings++
}
