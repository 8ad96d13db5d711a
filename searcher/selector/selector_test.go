// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package selector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/binfuzz/binoffset/offset"
	"github.com/binfuzz/binoffset/searcher"
)

type stubSearcher struct{ name string }

func (s stubSearcher) Name() string { return s.name }
func (s stubSearcher) Close() error { return nil }
func (s stubSearcher) SearchSymbol(context.Context, string, string) ([]uint64, error) {
	return nil, nil
}
func (s stubSearcher) SearchSymbolSize(context.Context, string, string) ([]uint64, error) {
	return nil, nil
}
func (s stubSearcher) SearchSection(context.Context, string, string) ([]uint64, error) {
	return nil, nil
}
func (s stubSearcher) SearchSectionSize(context.Context, string, string) ([]uint64, error) {
	return nil, nil
}
func (s stubSearcher) SearchOpcodes(context.Context, searcher.Pattern, string) ([]uint64, error) {
	return nil, searcher.ErrNotImplemented
}

type stubBinaries struct{}

func (stubBinaries) Names() []string                           { return nil }
func (stubBinaries) Paths(string) (string, string, bool) { return "", "", false }

func TestSelectSkipsUnavailableAndKeepsRest(t *testing.T) {
	registryMu.Lock()
	registry = map[string]registration{}
	Default = nil
	registryMu.Unlock()

	Register("always", func(context.Context) error { return nil },
		func(searcher.Binaries) (searcher.Searcher, error) { return stubSearcher{name: "always"}, nil })
	Register("never", func(context.Context) error { return fmt.Errorf("unavailable") },
		func(searcher.Binaries) (searcher.Searcher, error) { return stubSearcher{name: "never"}, nil })

	got, err := Select(context.Background(), nil, stubBinaries{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 1 || got[0].Name() != "always" {
		t.Fatalf("expected only the available searcher, got %v", got)
	}
}

func TestSelectFailsWhenNoneAvailable(t *testing.T) {
	registryMu.Lock()
	registry = map[string]registration{}
	Default = nil
	registryMu.Unlock()

	Register("never", func(context.Context) error { return fmt.Errorf("unavailable") },
		func(searcher.Binaries) (searcher.Searcher, error) { return stubSearcher{name: "never"}, nil })

	_, err := Select(context.Background(), nil, stubBinaries{})
	if !errors.Is(err, offset.ErrSearcherUnavailable) {
		t.Fatalf("expected ErrSearcherUnavailable, got %v", err)
	}
}

func TestSelectRejectsUnknownName(t *testing.T) {
	registryMu.Lock()
	registry = map[string]registration{}
	Default = nil
	registryMu.Unlock()

	_, err := Select(context.Background(), []string{"ghost"}, stubBinaries{})
	if !errors.Is(err, offset.ErrSearcherUnavailable) {
		t.Fatalf("expected ErrSearcherUnavailable for an unregistered name, got %v", err)
	}
}
