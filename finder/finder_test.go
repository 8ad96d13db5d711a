// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package finder

import (
	"context"
	"testing"

	"github.com/binfuzz/binoffset/offset"
	"github.com/binfuzz/binoffset/searcher"
	"github.com/binfuzz/binoffset/searcher/selector"
)

// versionAwareSearcher resolves "main" to a fixed address only for
// binaries named "good.bin", letting tests simulate a version whose
// extraction succeeds and one whose extraction fails, without touching
// any real binary.
type versionAwareSearcher struct{}

func (versionAwareSearcher) Name() string { return "version-aware" }
func (versionAwareSearcher) Close() error { return nil }

func (versionAwareSearcher) SearchSymbol(_ context.Context, name, elf string) ([]uint64, error) {
	if name == "main" && elf == "good.bin" {
		return []uint64{0x1234}, nil
	}
	return nil, nil
}

func (versionAwareSearcher) SearchSymbolSize(context.Context, string, string) ([]uint64, error) {
	return nil, nil
}
func (versionAwareSearcher) SearchSection(context.Context, string, string) ([]uint64, error) {
	return nil, nil
}
func (versionAwareSearcher) SearchSectionSize(context.Context, string, string) ([]uint64, error) {
	return nil, nil
}
func (versionAwareSearcher) SearchOpcodes(context.Context, searcher.Pattern, string) ([]uint64, error) {
	return nil, searcher.ErrNotImplemented
}

func init() {
	selector.Register("version-aware",
		func(context.Context) error { return nil },
		func(searcher.Binaries) (searcher.Searcher, error) { return versionAwareSearcher{}, nil },
	)
}

func testConfig(t *testing.T) *offset.Config {
	t.Helper()
	general := offset.MustNewGroup("general", offset.Symbol("main_addr", "main"))
	cfg, err := offset.NewConfig(general)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return cfg
}

func TestFindSequentialSeparatesSuccessAndFailure(t *testing.T) {
	cfg := testConfig(t)
	f := New(cfg, WithSearchers("version-aware"))

	versions := map[string]offset.BinarySet{
		"v1": {{Primary: "/path/good.bin"}},
		"v2": {{Primary: "/path/bad.bin"}},
	}

	results, failed, err := f.Find(context.Background(), versions)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if _, ok := results["v1"]; !ok {
		t.Fatalf("expected v1 to succeed, got results=%v failed=%v", results, failed)
	}
	if len(failed) != 1 || failed[0] != "v2" {
		t.Fatalf("expected v2 to fail, got failed=%v", failed)
	}
}

func TestFindParallelSeparatesSuccessAndFailure(t *testing.T) {
	cfg := testConfig(t)
	f := New(cfg, WithSearchers("version-aware"), WithParallel(4))

	versions := map[string]offset.BinarySet{
		"v1": {{Primary: "/path/good.bin"}},
		"v2": {{Primary: "/path/bad.bin"}},
		"v3": {{Primary: "/path/good.bin"}},
	}

	results, failed, err := f.Find(context.Background(), versions)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 successes, got %v", results)
	}
	if len(failed) != 1 || failed[0] != "v2" {
		t.Fatalf("expected v2 to fail, got %v", failed)
	}
}
