// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

// Package elfdwarf implements the searcher surface by parsing ELF
// structures and DWARF debug-information entries directly, using the
// standard library's debug/elf and debug/dwarf packages. No suitable
// third-party ELF/DWARF library was carried into the retrieved example
// corpus for this concern, and the standard library's own packages are
// the idiomatic, complete choice here — see DESIGN.md.
package elfdwarf

import (
	"context"
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"os"
	"sync"

	"github.com/binfuzz/binoffset/logger"
	"github.com/binfuzz/binoffset/searcher"
	"github.com/binfuzz/binoffset/searcher/selector"
)

var log = logger.DefaultLogger.NewFacility("elfdwarf", "direct ELF/DWARF symbol and section resolution")

func init() {
	selector.Register("elfdwarf",
		func(context.Context) error { return nil }, // pure Go, always available
		func(b searcher.Binaries) (searcher.Searcher, error) { return New(b, false) },
	)
}

type handle struct {
	primary   *elf.File
	primaryF  *os.File
	companion *elf.File
	companionF *os.File
}

func (h *handle) close() {
	if h.primary != nil {
		h.primary.Close()
	}
	if h.companion != nil {
		h.companion.Close()
	}
	// elf.File.Close does not close a file handed to elf.NewFile.
	if h.primaryF != nil {
		h.primaryF.Close()
	}
	if h.companionF != nil {
		h.companionF.Close()
	}
}

// Searcher implements searcher.Searcher over debug/elf and debug/dwarf.
type Searcher struct {
	binaries      searcher.Binaries
	mu            sync.Mutex
	handles       map[string]*handle
	DeepDWARF     bool // opt-in DIE-tree walk fallback
}

// New opens every binary in the set eagerly (mirroring the original's
// eager file-descriptor-manager construction) and returns a ready
// Searcher. deepDWARF enables the opt-in DW_AT_name DIE-tree walk
// fallback.
func New(binaries searcher.Binaries, deepDWARF bool) (*Searcher, error) {
	s := &Searcher{
		binaries:  binaries,
		handles:   make(map[string]*handle),
		DeepDWARF: deepDWARF,
	}
	for _, name := range binaries.Names() {
		primary, companion, _ := binaries.Paths(name)
		h := &handle{}
		f, err := os.Open(primary)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("elfdwarf: open %s: %w", primary, err)
		}
		ef, err := elf.NewFile(f)
		if err != nil {
			f.Close()
			s.Close()
			return nil, fmt.Errorf("elfdwarf: parse %s: %w", primary, err)
		}
		h.primary, h.primaryF = ef, f

		if companion != "" {
			cf, err := os.Open(companion)
			if err == nil {
				cef, err := elf.NewFile(cf)
				if err == nil {
					h.companion, h.companionF = cef, cf
				} else {
					cf.Close()
					log.Warnf("elfdwarf: companion %s for %s unparsable: %v", companion, name, err)
				}
			} else {
				log.Warnf("elfdwarf: companion %s for %s unopenable: %v", companion, name, err)
			}
		}
		s.handles[name] = h
	}
	return s, nil
}

func (s *Searcher) Name() string { return "elfdwarf" }

// Close releases every opened file descriptor. Safe to call multiple
// times.
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		h.close()
	}
	s.handles = map[string]*handle{}
	return nil
}

func (s *Searcher) handleFor(elfName string) (*handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[elfName]
	return h, ok
}

const (
	attrAddress = iota
	attrSize
)

func (s *Searcher) SearchSymbol(_ context.Context, name, elfName string) ([]uint64, error) {
	v, err := s.symbolAttr(elfName, name, attrAddress)
	if v == nil || err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Searcher) SearchSymbolSize(_ context.Context, name, elfName string) ([]uint64, error) {
	return s.symbolAttr(elfName, name, attrSize)
}

func (s *Searcher) symbolAttr(elfName, name string, attr int) ([]uint64, error) {
	h, ok := s.handleFor(elfName)
	if !ok {
		return nil, fmt.Errorf("elfdwarf: unknown elf %q", elfName)
	}

	if v, ok, ambiguous := symbolTableLookup(h.primary, name, attr); ambiguous {
		log.Warnf("elfdwarf: ambiguous symbol %q in %s, entries disagree", name, elfName)
		return nil, nil
	} else if ok {
		return []uint64{v}, nil
	}

	if h.companion != nil {
		if v, ok, ambiguous := symbolTableLookup(h.companion, name, attr); ambiguous {
			log.Warnf("elfdwarf: ambiguous symbol %q in companion of %s, entries disagree", name, elfName)
			return nil, nil
		} else if ok {
			return []uint64{v}, nil
		}
	}

	if !s.DeepDWARF {
		return nil, nil
	}

	for _, candidate := range []*elf.File{h.primary, h.companion} {
		if candidate == nil {
			continue
		}
		if v, ok := deepDWARFLookup(candidate, name, attr); ok {
			return []uint64{v}, nil
		}
	}
	return nil, nil
}

// symbolTableLookup scans .symtab then .dynsym for entries named name. If
// more than one entry matches, they must agree on the requested attribute
// or the lookup reports "not found" with ambiguous=true (logged by the
// caller), per spec.
func symbolTableLookup(ef *elf.File, name string, attr int) (value uint64, found, ambiguous bool) {
	if ef == nil {
		return 0, false, false
	}
	var matches []elf.Symbol

	for _, syms := range [][]elf.Symbol{mustSymbols(ef), mustDynSymbols(ef)} {
		for _, sym := range syms {
			if sym.Name == name {
				matches = append(matches, sym)
			}
		}
		if len(matches) > 0 {
			break
		}
	}

	if len(matches) == 0 {
		return 0, false, false
	}

	var want uint64
	switch attr {
	case attrAddress:
		want = matches[0].Value
	case attrSize:
		want = matches[0].Size
	}
	for _, m := range matches[1:] {
		var v uint64
		switch attr {
		case attrAddress:
			v = m.Value
		case attrSize:
			v = m.Size
		}
		if v != want {
			return 0, false, true
		}
	}
	return want, true, false
}

func mustSymbols(ef *elf.File) []elf.Symbol {
	syms, err := ef.Symbols()
	if err != nil {
		return nil
	}
	return syms
}

func mustDynSymbols(ef *elf.File) []elf.Symbol {
	syms, err := ef.DynamicSymbols()
	if err != nil {
		return nil
	}
	return syms
}

// deepDWARFLookup walks every compilation unit's DIE tree matching
// DW_AT_name, returning DW_AT_low_pc for addresses and DW_AT_high_pc for
// sizes.
func deepDWARFLookup(ef *elf.File, name string, attr int) (uint64, bool) {
	data, err := ef.DWARF()
	if err != nil {
		return 0, false
	}
	reader := data.Reader()
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		nameAttr, ok := entry.Val(dwarf.AttrName).(string)
		if !ok || nameAttr != name {
			continue
		}
		var field dwarf.Attr
		switch attr {
		case attrAddress:
			field = dwarf.AttrLowpc
		case attrSize:
			field = dwarf.AttrHighpc
		}
		switch v := entry.Val(field).(type) {
		case uint64:
			return v, true
		case int64:
			return uint64(v), true
		}
	}
	return 0, false
}

// SearchSection returns the section's sh_offset, per this port's §9
// convention (see SPEC_FULL.md). SectionLinkAddr exposes sh_addr for
// callers who specifically need the load-time virtual address.
func (s *Searcher) SearchSection(_ context.Context, name, elfName string) ([]uint64, error) {
	sec, ok := s.section(elfName, name)
	if !ok {
		return nil, nil
	}
	return []uint64{sec.Offset}, nil
}

func (s *Searcher) SearchSectionSize(_ context.Context, name, elfName string) ([]uint64, error) {
	sec, ok := s.section(elfName, name)
	if !ok {
		return nil, nil
	}
	return []uint64{sec.Size}, nil
}

// SectionLinkAddr returns a section's sh_addr, the load-time virtual
// address, distinct from SearchSection's sh_offset convention.
func (s *Searcher) SectionLinkAddr(elfName, name string) (uint64, bool) {
	sec, ok := s.section(elfName, name)
	if !ok {
		return 0, false
	}
	return sec.Addr, true
}

func (s *Searcher) section(elfName, name string) (*elf.Section, bool) {
	h, ok := s.handleFor(elfName)
	if !ok || h.primary == nil {
		return nil, false
	}
	sec := h.primary.Section(name)
	if sec == nil {
		return nil, false
	}
	return sec, true
}

// SearchOpcodes is not implemented by this searcher: ELF/DWARF parsing
// exposes no assembler, per spec.
func (s *Searcher) SearchOpcodes(context.Context, searcher.Pattern, string) ([]uint64, error) {
	return nil, searcher.ErrNotImplemented
}
