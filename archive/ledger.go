package archive

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/p7r0x7/endolium"
	"github.com/p7r0x7/endolium/pow"
	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// Copyright © 2022 Matthew R Bonnette. Licensed under the Apache-2.0 license.
// The Ledger serializes every read-verify-mutate sequence per archive: each author identity maps
// onto one of a fixed set of stripe locks, held from the threshold read until the counters are
// written back. Archives on different stripes proceed in parallel.

type Ledger struct {
	params  endolium.Params
	logger  *zap.Logger
	clock   func() time.Time
	stripes []sync.Mutex

	mapping  sync.RWMutex
	archives map[endolium.Identity]*Archive
	records  map[ID]*Record
}

type Option func(*Ledger) error

func WithParams(p endolium.Params) Option {
	return func(l *Ledger) error {
		if err := p.Validate(); err != nil {
			return err
		}
		l.params = p
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) error {
		if logger == nil {
			return errors.New("archive: logger cannot be nil")
		}
		l.logger = logger
		return nil
	}
}

func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) error {
		if clock == nil {
			return errors.New("archive: clock cannot be nil")
		}
		l.clock = clock
		return nil
	}
}

func WithStripes(n int) Option {
	return func(l *Ledger) error {
		if n <= 0 {
			return errors.Errorf("archive: %d stripes", n)
		}
		l.stripes = make([]sync.Mutex, n)
		return nil
	}
}

func NewLedger(opts ...Option) (*Ledger, error) {
	l := &Ledger{
		params:   endolium.DefaultParams(),
		logger:   zap.NewNop(),
		clock:    time.Now,
		stripes:  make([]sync.Mutex, 64),
		archives: map[endolium.Identity]*Archive{},
		records:  map[ID]*Record{},
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// stripe is the mutex guarding every archive whose author hashes onto it.
func (l *Ledger) stripe(author endolium.Identity) *sync.Mutex {
	return &l.stripes[xxh3.Hash(author[:])%uint64(len(l.stripes))]
}

func (l *Ledger) lock(author endolium.Identity) func() {
	m := l.stripe(author)
	m.Lock()
	return m.Unlock
}

func (l *Ledger) now() uint64 {
	if t := l.clock().Unix(); t > 0 {
		return uint64(t)
	}
	return 0
}

// Initialize opens an empty archive for author at the ledger's base difficulty.
func (l *Ledger) Initialize(author endolium.Identity) (Archive, error) {
	defer l.lock(author)()
	l.mapping.Lock()
	defer l.mapping.Unlock()

	if _, ok := l.archives[author]; ok {
		return Archive{}, errors.Wrapf(ErrExists, "archive %s", author)
	}
	a := &Archive{Author: author, Difficulty: l.params.DifficultyBits, CreatedAt: l.now()}
	l.archives[author] = a
	l.logger.Info("archive initialized",
		zap.Stringer("author", author), zap.Uint8("difficulty", a.Difficulty))
	return *a, nil
}

func (l *Ledger) Archive(author endolium.Identity) (Archive, error) {
	defer l.lock(author)()
	a, err := l.archive(author)
	if err != nil {
		return Archive{}, err
	}
	return *a, nil
}

func (l *Ledger) Record(id ID) (*Record, error) {
	l.mapping.RLock()
	r, ok := l.records[id]
	l.mapping.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "record %s", id)
	}
	defer l.lock(r.Author)()
	return r.clone(), nil
}

func (l *Ledger) archive(author endolium.Identity) (*Archive, error) {
	l.mapping.RLock()
	defer l.mapping.RUnlock()
	a, ok := l.archives[author]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "archive %s", author)
	}
	return a, nil
}

// verify checks nonce against the archive's current threshold. The stripe lock must be held.
func (l *Ledger) verify(a *Archive, text string, nonce uint64) error {
	threshold := a.Threshold()
	if !pow.Verify(a.Author[:], []byte(text), nonce, threshold) {
		l.logger.Warn("proof of work rejected",
			zap.Stringer("author", a.Author), zap.Uint64("nonce", nonce),
			zap.Stringer("threshold", threshold), zap.Uint64("total_chars", a.TotalChars))
		return errors.Wrapf(ErrInvalidProofOfWork, "nonce %d", nonce)
	}
	return nil
}

// Create verifies the proof of work for text, stores its transformed blob as a new record of
// author's archive and credits the archive.
func (l *Ledger) Create(author endolium.Identity, title, text string, timestamp, nonce uint64) (*Record, error) {
	defer l.lock(author)()
	a, err := l.archive(author)
	if err != nil {
		return nil, err
	}
	if err = l.verify(a, text, nonce); err != nil {
		return nil, err
	}

	id := RecordID(author, title, timestamp)
	l.mapping.RLock()
	_, taken := l.records[id]
	l.mapping.RUnlock()
	if taken {
		return nil, errors.Wrapf(ErrExists, "record %s", id)
	}

	chars := uint64(utf8.RuneCountInString(text))
	var elapsed uint64
	if now := l.now(); now > a.CreatedAt {
		elapsed = now - a.CreatedAt
	}
	r := &Record{
		ID:            id,
		Author:        author,
		Title:         title,
		CreatedAt:     timestamp,
		TotalChars:    chars,
		PageCount:     1,
		LitriumEarned: litrium(chars, elapsed, 2), /* E + H, both held at 1. */
		Blob:          Condinus(text),
		Pages:         []string{text},
	}
	l.credit(a, chars, r.LitriumEarned)

	l.mapping.Lock()
	l.records[id] = r
	l.mapping.Unlock()
	l.logger.Debug("record created",
		zap.Stringer("author", author), zap.Stringer("record", id),
		zap.Uint64("chars", chars), zap.Uint64("litrium", r.LitriumEarned))
	return r.clone(), nil
}

// Append verifies the proof of work for text, merges its transformed blob into the record and
// credits the archive with diminishing litrium.
func (l *Ledger) Append(author endolium.Identity, id ID, text string, nonce uint64) (*Record, error) {
	defer l.lock(author)()
	a, err := l.archive(author)
	if err != nil {
		return nil, err
	}
	l.mapping.RLock()
	r, ok := l.records[id]
	l.mapping.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "record %s", id)
	}
	if r.Author != author {
		return nil, errors.Wrapf(ErrNotAuthor, "record %s", id)
	}
	if err = l.verify(a, text, nonce); err != nil {
		return nil, err
	}

	chars := uint64(utf8.RuneCountInString(text))
	var elapsed uint64
	if now := l.now(); now > r.CreatedAt {
		elapsed = now - r.CreatedAt
	}
	lit := litrium(chars, elapsed, 1+uint64(pow.ExtraBits(a.TotalChars)))

	r.Blob = endolium.Shuffle(append(r.Blob, Condinus(text)...))
	r.Pages = append(r.Pages, text)
	r.TotalChars, _ = addSat(r.TotalChars, chars)
	r.PageCount, _ = addSat(r.PageCount, 1)
	r.LitriumEarned, _ = addSat(r.LitriumEarned, lit)
	l.credit(a, chars, lit)

	l.logger.Debug("page appended",
		zap.Stringer("author", author), zap.Stringer("record", id),
		zap.Uint64("chars", chars), zap.Uint64("litrium", lit), zap.Uint8("difficulty", a.Difficulty))
	return r.clone(), nil
}

// credit adds to the archive's counters and raises its difficulty for every multiple of the
// difficulty step that TotalChars passes. The stripe lock must be held.
func (l *Ledger) credit(a *Archive, chars, lit uint64) {
	before := a.TotalChars
	var ok [3]bool
	a.TotalChars, ok[0] = addSat(a.TotalChars, chars)
	a.TotalPages, ok[1] = addSat(a.TotalPages, 1)
	a.LitriumPool, ok[2] = addSat(a.LitriumPool, lit)
	if !ok[0] || !ok[1] || !ok[2] {
		l.logger.Warn("archive counter saturated",
			zap.Stringer("author", a.Author), zap.Bools("ok", ok[:]))
	}
	a.Difficulty = raise(a.Difficulty, before, a.TotalChars, l.params.DifficultyStep)
}

// Derive generates the current key and envelope for a record, bound to its author and to the
// concatenation of its pages.
func (l *Ledger) Derive(id ID) (*endolium.Derivation, error) {
	r, err := l.Record(id)
	if err != nil {
		return nil, err
	}
	return l.params.Derive(r.Author, strings.Join(r.Pages, ""), r.CreatedAt, l.now()), nil
}
