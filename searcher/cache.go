// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package searcher

import (
	"hash/fnv"
	"sync"

	"github.com/greatroar/blobloom"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is one cached symbol or section: its address and, where
// meaningful, its size.
type Entry struct {
	Address uint64
	Size    uint64
}

type table struct {
	entries map[string]Entry
	bloom   *blobloom.Filter
}

func newTable(entries map[string]Entry) *table {
	f := blobloom.NewOptimized(blobloom.Config{
		Capacity: uint64(len(entries)) + 1,
		FPRate:   0.01,
	})
	for name := range entries {
		f.Add(nameHash(name))
	}
	return &table{entries: entries, bloom: f}
}

func (t *table) lookup(name string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	if !t.bloom.Has(nameHash(name)) {
		return Entry{}, false
	}
	e, ok := t.entries[name]
	return e, ok
}

func nameHash(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// TableInitializer builds the full symbol or section table for one ELF in
// a single batch enumeration. Returning ErrNotImplemented falls back to
// the single-shot per-symbol/-section lookup path.
type TableInitializer func(elf string) (map[string]Entry, error)

// OpcodeLookup performs a single-shot opcode search, used to populate the
// per-(elf,pattern) opcode cache on first touch.
type OpcodeLookup func(elf string, pattern Pattern) ([]uint64, error)

// CacheBase is a mixin offering optional per-binary memoization of full
// symbol/section tables (populated by one batch enumeration on first
// touch) plus per-(elf,pattern) opcode memoization, exactly as spec'd for
// the cacheable searcher base. Concrete searchers embed a *CacheBase,
// supply InitSymbols/InitSections, and wrap their own opcode search in
// LookupOpcodes/StoreOpcodes; a nil initializer means "this searcher
// can't build that table", and lookups then report ErrNotImplemented
// (see searcher/native and searcher/radare for the two concrete uses).
type CacheBase struct {
	Cached bool

	mu       sync.Mutex
	symbols  *lru.Cache[string, *table]
	sections *lru.Cache[string, *table]
	opcodes  map[opcodeKey][]uint64

	InitSymbols  TableInitializer
	InitSections TableInitializer
}

type opcodeKey struct {
	elf     string
	asm     string
	isBytes bool
	bytes   string
}

// NewCacheBase constructs a CacheBase bounding its per-ELF table cache to
// maxELFs entries (a finder may hand a searcher many binaries across one
// version's set; this bounds memory rather than growing unboundedly).
func NewCacheBase(maxELFs int) *CacheBase {
	if maxELFs <= 0 {
		maxELFs = 32
	}
	symbols, _ := lru.New[string, *table](maxELFs)
	sections, _ := lru.New[string, *table](maxELFs)
	return &CacheBase{
		Cached:   true,
		symbols:  symbols,
		sections: sections,
		opcodes:  make(map[opcodeKey][]uint64),
	}
}

func (c *CacheBase) symbolTable(elf string) (*table, error) {
	if t, ok := c.symbols.Get(elf); ok {
		return t, nil
	}
	if c.InitSymbols == nil {
		return nil, ErrNotImplemented
	}
	entries, err := c.InitSymbols(elf)
	if err != nil {
		return nil, err
	}
	t := newTable(entries)
	c.symbols.Add(elf, t)
	return t, nil
}

func (c *CacheBase) sectionTable(elf string) (*table, error) {
	if t, ok := c.sections.Get(elf); ok {
		return t, nil
	}
	if c.InitSections == nil {
		return nil, ErrNotImplemented
	}
	entries, err := c.InitSections(elf)
	if err != nil {
		return nil, err
	}
	t := newTable(entries)
	c.sections.Add(elf, t)
	return t, nil
}

// LookupSymbol returns (entry, found, err), where entry carries the
// address and size. err is non-nil only when
// the underlying table could not be built at all (ErrNotImplemented, to
// signal "fall back", or a genuine find-failure). When Cached is false,
// InitSymbols is invoked fresh on every call rather than through the
// memoized table, matching the original's un-cached single-shot search
// path.
func (c *CacheBase) LookupSymbol(elf, name string) (Entry, bool, error) {
	if !c.Cached {
		return c.lookupUncached(c.InitSymbols, elf, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.symbolTable(elf)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := t.lookup(name)
	return e, ok, nil
}

// LookupSection mirrors LookupSymbol for sections.
func (c *CacheBase) LookupSection(elf, name string) (Entry, bool, error) {
	if !c.Cached {
		return c.lookupUncached(c.InitSections, elf, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.sectionTable(elf)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := t.lookup(name)
	return e, ok, nil
}

func (c *CacheBase) lookupUncached(init TableInitializer, elf, name string) (Entry, bool, error) {
	if init == nil {
		return Entry{}, false, ErrNotImplemented
	}
	entries, err := init(elf)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := entries[name]
	return e, ok, nil
}

// LookupOpcodes returns a previously cached opcode match set, or
// (nil, false) on a cache miss (the caller is expected to perform the
// single-shot search and call StoreOpcodes). Always reports a miss when
// Cached is false, so every opcode search is performed fresh.
func (c *CacheBase) LookupOpcodes(elf string, p Pattern) ([]uint64, bool) {
	if !c.Cached {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.opcodes[opcodeKeyFor(elf, p)]
	return v, ok
}

// StoreOpcodes memoizes an opcode match set for (elf, pattern). A no-op
// when Cached is false.
func (c *CacheBase) StoreOpcodes(elf string, p Pattern, matches []uint64) {
	if !c.Cached {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opcodes[opcodeKeyFor(elf, p)] = matches
}

func opcodeKeyFor(elf string, p Pattern) opcodeKey {
	if p.IsBytes() {
		return opcodeKey{elf: elf, isBytes: true, bytes: string(p.Bytes)}
	}
	return opcodeKey{elf: elf, asm: p.Asm}
}
