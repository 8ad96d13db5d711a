// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package extractor

import (
	"context"

	"github.com/binfuzz/binoffset/searcher"
)

// fakeSearcher is a hand-maintained stand-in for a counterfeiter-generated
// fake searcher.Searcher, giving deterministic, table-driven control over
// every capability without touching a real binary or subprocess.
type fakeSearcher struct {
	name string

	symbols      map[string]map[string][]uint64 // elf -> name -> candidates
	symbolSizes  map[string]map[string][]uint64
	sections     map[string]map[string][]uint64
	sectionSizes map[string]map[string][]uint64

	opcodeErr error // returned by every SearchOpcodes call, when set
}

func newFakeSearcher(name string) *fakeSearcher {
	return &fakeSearcher{
		name:         name,
		symbols:      map[string]map[string][]uint64{},
		symbolSizes:  map[string]map[string][]uint64{},
		sections:     map[string]map[string][]uint64{},
		sectionSizes: map[string]map[string][]uint64{},
	}
}

func (f *fakeSearcher) withSymbol(elf, name string, candidates ...uint64) *fakeSearcher {
	if f.symbols[elf] == nil {
		f.symbols[elf] = map[string][]uint64{}
	}
	f.symbols[elf][name] = candidates
	return f
}

func (f *fakeSearcher) withSection(elf, name string, candidates ...uint64) *fakeSearcher {
	if f.sections[elf] == nil {
		f.sections[elf] = map[string][]uint64{}
	}
	f.sections[elf][name] = candidates
	return f
}

func (f *fakeSearcher) Name() string { return f.name }
func (f *fakeSearcher) Close() error { return nil }

func (f *fakeSearcher) SearchSymbol(_ context.Context, name, elf string) ([]uint64, error) {
	return f.symbols[elf][name], nil
}

func (f *fakeSearcher) SearchSymbolSize(_ context.Context, name, elf string) ([]uint64, error) {
	return f.symbolSizes[elf][name], nil
}

func (f *fakeSearcher) SearchSection(_ context.Context, name, elf string) ([]uint64, error) {
	return f.sections[elf][name], nil
}

func (f *fakeSearcher) SearchSectionSize(_ context.Context, name, elf string) ([]uint64, error) {
	return f.sectionSizes[elf][name], nil
}

func (f *fakeSearcher) SearchOpcodes(context.Context, searcher.Pattern, string) ([]uint64, error) {
	if f.opcodeErr != nil {
		return nil, f.opcodeErr
	}
	return nil, searcher.ErrNotImplemented
}

// fakeBinaries is a minimal searcher.Binaries over an in-memory name list.
type fakeBinaries []string

func (b fakeBinaries) Names() []string { return b }

func (b fakeBinaries) Paths(elf string) (string, string, bool) {
	for _, n := range b {
		if n == elf {
			return "/fake/" + elf, "", true
		}
	}
	return "", "", false
}
