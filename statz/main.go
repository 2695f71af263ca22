package main

import (
	. "fmt"
	"math"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/dterei/gotsc"
	"github.com/minio/sha256-simd"
	"github.com/p7r0x7/endolium"
	"github.com/p7r0x7/endolium/pow"
	"github.com/zeebo/blake3"
	"golang.org/x/sys/cpu"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.
// Statz reports throughput, cycles per byte and allocations for every pipeline stage against
// plain SHA-256 and BLAKE3 over the same messages.

var sizes = [...]int{64, 1 << 10, 16 << 10, 256 << 10}
var calltime = gotsc.TSCOverhead()
var params = endolium.DefaultParams()

// A stage prepares its input from a message and reports how many bytes one call consumes.
// Cascade and Alloy always run over the fixed-size fused vector, whatever the message size.
type stage struct {
	name    string
	prepare func(message []byte) (bytes int, call func(i int))
}

var stages = []stage{
	{"endolium fuse", func(m []byte) (int, func(int)) {
		id := make([]byte, endolium.IdentitySize)
		return len(m), func(int) { params.Fuse(id, m) }
	}},
	{"endolium cascade", func(m []byte) (int, func(int)) {
		fused := params.Fuse(nil, m)
		return len(fused), func(int) { endolium.Cascade(fused) }
	}},
	{"endolium alloy", func(m []byte) (int, func(int)) {
		cascaded := endolium.Cascade(params.Fuse(nil, m))
		salt := make([]byte, endolium.IdentitySize+9)
		return len(cascaded), func(int) { params.Alloy(cascaded, salt) }
	}},
	{"endolium generate", func(m []byte) (int, func(int)) {
		text := string(m)
		return len(m), func(i int) {
			params.Generate(endolium.Identity{}, text, 1_600_000_000, uint64(1_600_000_000+i))
		}
	}},
	{"pow verify (keccak-256)", func(m []byte) (int, func(int)) {
		id, threshold := make([]byte, endolium.IdentitySize), pow.Threshold(0, params.DifficultyBits)
		return len(m), func(i int) { pow.Verify(id, m, uint64(i), threshold) }
	}},
	{"github.com/minio/sha256-simd", func(m []byte) (int, func(int)) {
		return len(m), func(int) { sha256.Sum256(m) }
	}},
	{"github.com/zeebo/blake3", func(m []byte) (int, func(int)) {
		return len(m), func(int) { blake3.Sum256(m) }
	}},
}

func (s stage) benchmark(message []byte) func(b *testing.B) {
	n, call := s.prepare(message)
	return func(b *testing.B) {
		b.SetBytes(int64(n))
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			call(i)
		}
	}
}

// sampleHz estimates the TSC frequency until done is closed, then sends the mean and exits.
// It sends 0 when the counter is unavailable or no sample completed.
func sampleHz(done <-chan struct{}) <-chan float64 {
	mean := make(chan float64, 1)
	go func() {
		var sum, polls float64
		for calltime > 0 {
			select {
			case <-done:
				if polls > 0 {
					mean <- sum / polls
				} else {
					mean <- 0
				}
				return
			case <-time.After(9 * time.Millisecond):
			}
			start := gotsc.BenchStart()
			time.Sleep(time.Millisecond)
			sum += float64(gotsc.BenchEnd()-start-calltime) * 1e3
			polls++
		}
		<-done
		mean <- 0
	}()
	return mean
}

func report(s stage) {
	var rows [3][len(sizes)]float64 /* MB/s, cycles per byte, B/op */
	for i, v := range sizes {
		message := []byte(strings.Repeat("endolium ", v/9+1)[:v])
		done := make(chan struct{})
		hz := sampleHz(done)
		r := testing.Benchmark(s.benchmark(message))
		close(done)

		perSecond := float64(r.Bytes*int64(r.N)) / r.T.Seconds()
		rows[0][i] = perSecond / 1e6
		if f := <-hz; f > 0 {
			rows[1][i] = f / perSecond
		}
		rows[2][i] = float64(r.AllocedBytesPerOp())
	}

	Println(s.name)
	for i, unit := range [...]string{"MB/s", "cpb", "B/op"} {
		if i == 1 && calltime == 0 {
			continue
		}
		var line strings.Builder
		for _, v := range rows[i] {
			line.WriteString("  " + cell(v))
		}
		Printf("%-6s%s   %s\n", [...]string{"Speed", "", "Usage"}[i], line.String(), unit)
	}
	Println()
}

// cell renders v in eight columns with as many decimals as still fit.
func cell(v float64) string {
	switch {
	case v == math.Trunc(v) && v < 1e8:
		return Sprintf("%8.f", v)
	case v >= 1e8 || v < 1e-3:
		return Sprintf("%8.3g", v)
	}
	decimals := 6 - int(math.Log10(v))
	if decimals < 0 {
		decimals = 0
	} else if decimals > 6 {
		decimals = 6
	}
	return Sprintf("%8.*f", decimals, v)
}

func features() string {
	var f []string
	switch runtime.GOARCH {
	case "amd64", "386":
		for _, c := range []struct {
			name string
			ok   bool
		}{{"avx2", cpu.X86.HasAVX2}, {"avx512", cpu.X86.HasAVX512F}, {"sha", cpu.X86.HasSHA}, {"ssse3", cpu.X86.HasSSSE3}} {
			if c.ok {
				f = append(f, c.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasSHA2 {
			f = append(f, "sha2")
		}
		if cpu.ARM64.HasASIMD {
			f = append(f, "asimd")
		}
	}
	if len(f) == 0 {
		return "none detected"
	}
	return strings.Join(f, " ")
}

func main() {
	Printf("Running Statz on %d CPUs!\n%s/%s, features: %s\n\n"+
		"           64B        1K       16K     256K\n",
		runtime.NumCPU(), runtime.GOOS, runtime.GOARCH, features())
	t := time.Now()
	for _, s := range stages {
		report(s)
	}
	Println("Finished in " + time.Since(t).Truncate(time.Millisecond).String() + ".")
}
