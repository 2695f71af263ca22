package archive

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/p7r0x7/endolium"
	"github.com/p7r0x7/endolium/pow"
)

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *fakeClock) Set(sec int64) {
	c.mu.Lock()
	c.now = sec
	c.mu.Unlock()
}

func newLedger(t *testing.T, bits uint8, clock *fakeClock) *Ledger {
	t.Helper()
	p := endolium.DefaultParams()
	p.DifficultyBits = bits
	l, err := NewLedger(WithParams(p), WithClock(clock.Now), WithStripes(4))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func solve(t *testing.T, l *Ledger, author endolium.Identity, text string) uint64 {
	t.Helper()
	a, err := l.Archive(author)
	if err != nil {
		t.Fatal(err)
	}
	nonce, err := pow.Solve(context.Background(), author[:], []byte(text), a.Threshold(), 0)
	if err != nil {
		t.Fatal(err)
	}
	return nonce
}

func TestInitialize(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: 1_000}
	l := newLedger(t, 16, clock)
	author := endolium.Identity{9}

	a, err := l.Initialize(author)
	if err != nil {
		t.Fatal(err)
	}
	if a.Difficulty != 16 || a.CreatedAt != 1_000 || a.TotalChars != 0 {
		t.Fatalf("%+v", a)
	}
	if _, err = l.Initialize(author); !errors.Is(err, ErrExists) {
		t.Fatalf("second Initialize: %v", err)
	}
	if _, err = l.Archive(endolium.Identity{8}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown archive: %v", err)
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: 1_000}
	l := newLedger(t, 8, clock)
	author := endolium.Identity{1}
	if _, err := l.Initialize(author); err != nil {
		t.Fatal(err)
	}
	clock.Set(1_100)

	r, err := l.Create(author, "title", "hello", 900, solve(t, l, author, "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if r.ID != RecordID(author, "title", 900) || r.PageCount != 1 || r.TotalChars != 5 {
		t.Fatalf("%+v", r)
	}
	if r.LitriumEarned != 5*100/2 {
		t.Fatalf("litrium %d, want 250", r.LitriumEarned)
	}
	if !bytes.Equal(r.Blob, Condinus("hello")) || len(r.Blob) != 17*32 {
		t.Fatal("stored blob is not the condinus transform")
	}

	a, _ := l.Archive(author)
	if a.TotalChars != 5 || a.TotalPages != 1 || a.LitriumPool != 250 || a.Difficulty != 8 {
		t.Fatalf("%+v", a)
	}

	if _, err = l.Create(author, "title", "hello", 900, solve(t, l, author, "hello")); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate record: %v", err)
	}
	if _, err = l.Create(endolium.Identity{2}, "t", "x", 1, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing archive: %v", err)
	}
}

func TestCreate_CountsRunes(t *testing.T) {
	t.Parallel()
	l := newLedger(t, 0, &fakeClock{now: 10})
	author := endolium.Identity{3}
	l.Initialize(author)
	text := "日本語テキスト"
	r, err := l.Create(author, "jp", text, 10, solve(t, l, author, text))
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalChars != 7 {
		t.Fatalf("counted %d characters in %q", r.TotalChars, text)
	}
}

func TestCreate_InvalidProof(t *testing.T) {
	t.Parallel()
	l := newLedger(t, 126, &fakeClock{now: 10})
	author := endolium.Identity{4}
	l.Initialize(author)

	/* The threshold is 3; no small nonce maps that low. */
	for nonce := uint64(0); nonce < 4; nonce++ {
		if _, err := l.Create(author, "t", "text", 1, nonce); !errors.Is(err, ErrInvalidProofOfWork) {
			t.Fatalf("nonce %d: %v", nonce, err)
		}
	}
	if a, _ := l.Archive(author); a.TotalChars != 0 || a.TotalPages != 0 {
		t.Fatalf("rejected proof mutated the archive: %+v", a)
	}
}

func TestAppend(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: 1_000}
	l := newLedger(t, 4, clock)
	author := endolium.Identity{5}
	l.Initialize(author)
	r, err := l.Create(author, "t", "hello", 1_000, solve(t, l, author, "hello"))
	if err != nil {
		t.Fatal(err)
	}
	created := append([]byte(nil), r.Blob...)

	clock.Set(1_060)
	r, err = l.Append(author, r.ID, "world!", solve(t, l, author, "world!"))
	if err != nil {
		t.Fatal(err)
	}
	/* 2 from creation (5 chars, elapsed clamped to 1 s, over 2), then 6 chars over 60 s with
	denominator 1 + floor(log2(1 + 5)) = 3. */
	if r.LitriumEarned != 2+120 || r.PageCount != 2 || r.TotalChars != 11 {
		t.Fatalf("%+v", r)
	}
	if len(r.Blob) != 2*17*32 {
		t.Fatalf("blob length %d", len(r.Blob))
	}
	want := append(created, Condinus("world!")...)
	got := append([]byte(nil), r.Blob...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if !bytes.Equal(want, got) {
		t.Fatal("merged blob is not a permutation of both pages")
	}

	a, _ := l.Archive(author)
	if a.TotalChars != 11 || a.TotalPages != 2 || a.LitriumPool != 122 {
		t.Fatalf("%+v", a)
	}
}

func TestAppend_Errors(t *testing.T) {
	t.Parallel()
	l := newLedger(t, 0, &fakeClock{now: 10})
	alice, bob := endolium.Identity{6}, endolium.Identity{7}
	l.Initialize(alice)
	l.Initialize(bob)
	r, err := l.Create(alice, "t", "alice", 10, solve(t, l, alice, "alice"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = l.Append(bob, r.ID, "bob", solve(t, l, bob, "bob")); !errors.Is(err, ErrNotAuthor) {
		t.Fatalf("foreign append: %v", err)
	}
	if _, err = l.Append(alice, ID{}, "x", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing record: %v", err)
	}
}

func TestDifficultyRaise(t *testing.T) {
	t.Parallel()
	l := newLedger(t, 0, &fakeClock{now: 10})
	author := endolium.Identity{10}
	l.Initialize(author)

	first := strings.Repeat("a", 1000)
	r, err := l.Create(author, "t", first, 10, solve(t, l, author, first))
	if err != nil {
		t.Fatal(err)
	}
	if a, _ := l.Archive(author); a.Difficulty != 0 {
		t.Fatalf("difficulty %d below the first step", a.Difficulty)
	}

	for _, c := range []struct {
		chars int
		want  uint8
	}{{30, 1}, {10, 1}, {2090, 3}} {
		text := strings.Repeat("b", c.chars)
		if _, err = l.Append(author, r.ID, text, solve(t, l, author, text)); err != nil {
			t.Fatal(err)
		}
		if a, _ := l.Archive(author); a.Difficulty != c.want {
			t.Fatalf("after %d chars difficulty %d, want %d", a.TotalChars, a.Difficulty, c.want)
		}
	}
}

func TestConcurrentAppends(t *testing.T) {
	t.Parallel()
	l := newLedger(t, 0, &fakeClock{now: 10})
	author := endolium.Identity{11}
	l.Initialize(author)
	r, err := l.Create(author, "t", "seed", 10, solve(t, l, author, "seed"))
	if err != nil {
		t.Fatal(err)
	}

	const writers = 8
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				a, err := l.Archive(author)
				if err != nil {
					t.Error(err)
					return
				}
				nonce, err := pow.Solve(context.Background(), author[:], []byte("page"), a.Threshold(), 0)
				if err != nil {
					t.Error(err)
					return
				}
				if _, err = l.Append(author, r.ID, "page", nonce); err == nil {
					return
				} else if !errors.Is(err, ErrInvalidProofOfWork) {
					t.Error(err)
					return
				}
				/* Another writer raised the difficulty first; solve again. */
			}
		}()
	}
	wg.Wait()

	got, err := l.Record(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PageCount != writers+1 || got.TotalChars != 4+4*writers {
		t.Fatalf("%+v", got)
	}
}

func TestDerive(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: 1_600_000_000}
	l := newLedger(t, 0, clock)
	author := endolium.Identity{12}
	l.Initialize(author)
	r, err := l.Create(author, "t", "hello", 1_600_000_000, solve(t, l, author, "hello"))
	if err != nil {
		t.Fatal(err)
	}

	d, err := l.Derive(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	key, env := endolium.Generate(author, "hello", 1_600_000_000, 1_600_000_000)
	if d.Key != key || d.Envelope.Encode() != env {
		t.Fatal("ledger derivation differs from the pipeline")
	}

	/* A later clock reading moves the derivation instant but not the creation time. */
	clock.Set(1_600_000_100)
	if d, err = l.Derive(r.ID); err != nil {
		t.Fatal(err)
	}
	key, env = endolium.Generate(author, "hello", 1_600_000_000, 1_600_000_100)
	if d.Key != key || d.Envelope.Encode() != env || d.Envelope.CreatedAt != 1_600_000_000 {
		t.Fatal("ledger derivation ignores its clock")
	}
	if _, err = l.Derive(ID{1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing record: %v", err)
	}
}

func TestStripe(t *testing.T) {
	t.Parallel()
	l := newLedger(t, 0, &fakeClock{})
	used := map[*sync.Mutex]bool{}
	for i := 0; i < 64; i++ {
		author := endolium.Identity{byte(i)}
		m := l.stripe(author)
		if m != l.stripe(author) {
			t.Fatalf("author %d moved between stripes", i)
		}
		used[m] = true
	}
	if len(used) < 2 {
		t.Fatalf("64 authors share %d of 4 stripes", len(used))
	}
}

func TestRecordID(t *testing.T) {
	t.Parallel()
	a := RecordID(endolium.Identity{1}, "title", 5)
	if a != RecordID(endolium.Identity{1}, "title", 5) || a == RecordID(endolium.Identity{1}, "title", 6) {
		t.Fatal("record ids are not content bound")
	}
	parsed, err := ParseID(a.String())
	if err != nil || parsed != a {
		t.Fatalf("%v %v", parsed, err)
	}
	if _, err = ParseID("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bad id: %v", err)
	}
}

func TestArithmetic(t *testing.T) {
	t.Parallel()
	if s, ok := addSat(math.MaxUint64-1, 5); ok || s != math.MaxUint64 {
		t.Fatalf("addSat = %d %v", s, ok)
	}
	if s, ok := addSat(1, 2); !ok || s != 3 {
		t.Fatalf("addSat = %d %v", s, ok)
	}
	if got := litrium(math.MaxUint64, math.MaxUint64, 1); got != math.MaxUint64 {
		t.Fatalf("litrium did not clamp: %d", got)
	}
	if got := litrium(7, 0, 2); got != 3 {
		t.Fatalf("zero elapsed time: %d", got)
	}
	if got := raise(250, 0, 100*1024, 1024); got != math.MaxUint8 {
		t.Fatalf("raise did not saturate: %d", got)
	}
	if got := raise(16, 1023, 1024, 1024); got != 17 {
		t.Fatalf("raise = %d", got)
	}
}

func TestCondinus(t *testing.T) {
	t.Parallel()
	a := Condinus("text")
	if len(a) != 17*32 || !bytes.Equal(a, Condinus("text")) || bytes.Equal(a, Condinus("texT")) {
		t.Fatal("condinus is not a fixed-length content-bound transform")
	}
}
