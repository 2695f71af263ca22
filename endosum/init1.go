package main

import (
	"os"

	. "github.com/spf13/pflag"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.

var pCreated, pNow, pAt, pChars, pNonce, pStart uint64
var pBits, pIdentity, pConfig, pNoCodesDefault = uint8(16), "", "", false
var pHelp, pEnvelope, pNoCodes, pQuiet, pSolve, pString, pTime, pVerify, pDebug bool
var yell, purp, und, zero = "\033[33m", "\033[35m", "\033[4m", "\033[0m"

func init() {
	pNoCodes = pNoCodesDefault
	for _, arg := range os.Args[1:] {
		switch arg {
		case "--no-codes=false":
			pNoCodes = false
		case "--quiet", "--quiet=true":
			pNoCodes, pQuiet = true, true
		case "--no-codes", "--no-codes=true":
			pNoCodes = true
		}
	}
	if pNoCodes {
		yell, purp, und, zero = "", "", "", ""
	}

	BoolVarP(&pHelp, "help", "h", false,
		purp+"print this help menu"+zero+n)

	Uint64Var(&pAt, "at", 0,
		purp+"with --envelope, re-derive the key current at this unix"+zero+
			n+purp+"time"+zero)

	Uint8Var(&pBits, "bits", 16,
		purp+"base difficulty in bits for --solve and --verify"+zero)

	Uint64VarP(&pCreated, "created", "c", 0,
		purp+"creation time in unix seconds"+zero+" (default --now)")

	Uint64Var(&pChars, "chars", 0,
		purp+"characters already accumulated, for --solve and --verify"+zero)

	StringVar(&pConfig, "config", "",
		purp+"read derivation params from a YAML file"+zero)

	BoolVar(&pDebug, "debug", false, "")
	CommandLine.MarkHidden("debug")

	BoolVarP(&pEnvelope, "envelope", "e", false,
		purp+"decode arguments as envelopes and re-derive their keys"+zero)

	StringVarP(&pIdentity, "identity", "i", "",
		purp+"identity as 64 hex digits"+zero+" (default all zeroes)")

	Uint64VarP(&pNow, "now", "n", 0,
		purp+"derivation time in unix seconds"+zero+" (default current time)")

	Bool("no-codes", pNoCodesDefault,
		purp+"print to console w/o formatting codes or simplified"+zero+
			n+purp+"filepaths"+zero)

	Uint64Var(&pNonce, "nonce", 0,
		purp+"proof-of-work nonce checked by --verify"+zero)

	Bool("quiet", false,
		purp+"suppress non-breaking errors and print ONLY results"+zero+
			n+"(enables --no-codes)")

	BoolVar(&pSolve, "solve", false,
		purp+"search for a proof-of-work nonce for each message"+zero)

	Uint64Var(&pStart, "start", 0,
		purp+"first nonce tried by --solve"+zero)

	BoolVarP(&pString, "string", "s", false,
		purp+"process arguments instead as UTF-8 strings"+zero)

	BoolVarP(&pTime, "time", "t", false,
		purp+"print time taken to read and process each message"+zero)

	BoolVar(&pVerify, "verify", false,
		purp+"check --nonce against each message"+zero)

	/* Order flags alphabetically except for help, which is hoisted to the top. */
	CommandLine.SortFlags = false
	Parse()
}
