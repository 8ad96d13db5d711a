// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

// Package selector resolves a caller-supplied list of searcher names into
// constructed searcher.Searcher instances, skipping (and logging) any
// whose prerequisites are unmet, and failing only if none survive.
package selector

import (
	"context"
	"fmt"
	"sync"

	"github.com/binfuzz/binoffset/logger"
	"github.com/binfuzz/binoffset/offset"
	"github.com/binfuzz/binoffset/searcher"
)

var log = logger.DefaultLogger.NewFacility("selector", "searcher availability and construction")

// Availability is probed before a registered searcher is constructed.
// Returning a non-nil error skips that searcher (logged, non-fatal)
// unless it is the only one requested.
type Availability func(ctx context.Context) error

// registration pairs an Availability probe with the searcher.Factory it
// guards.
type registration struct {
	name      string
	available Availability
	build     searcher.Factory
}

var (
	registryMu sync.Mutex
	registry   = map[string]registration{}
	// Default lists the built-in searchers in priority order: the first
	// to answer a given offset wins.
	Default []string
)

// Register adds a searcher to the static registry under name, to be
// looked up by that name from a caller-supplied list. Searcher packages
// call this from their init(), which is the idiomatic Go analogue of the
// original's dynamic per-file module import: selection is still driven
// by names supplied at call time, just without real dynamic loading.
func Register(name string, available Availability, build searcher.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = registration{name: name, available: available, build: build}
	Default = append(Default, name)
}

// Select constructs, in order, every searcher named in names (or every
// registered searcher, in registration order, if names is empty) whose
// Availability probe passes. Construction failures and unavailable
// searchers are logged and skipped. Select fails with
// offset.ErrSearcherUnavailable if zero searchers survive.
func Select(ctx context.Context, names []string, binaries searcher.Binaries) ([]searcher.Searcher, error) {
	if len(names) == 0 {
		names = Default
	}

	registryMu.Lock()
	regs := make([]registration, 0, len(names))
	for _, n := range names {
		r, ok := registry[n]
		if !ok {
			registryMu.Unlock()
			return nil, fmt.Errorf("selector: %w: %q is not a registered searcher", offset.ErrSearcherUnavailable, n)
		}
		regs = append(regs, r)
	}
	registryMu.Unlock()

	var out []searcher.Searcher
	for _, r := range regs {
		if err := r.available(ctx); err != nil {
			log.Warnf("searcher %q unavailable, skipping: %v", r.name, err)
			continue
		}
		s, err := r.build(binaries)
		if err != nil {
			log.Warnf("searcher %q failed to construct, skipping: %v", r.name, err)
			continue
		}
		out = append(out, s)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("selector: %w: no requested searcher is available", offset.ErrSearcherUnavailable)
	}
	return out, nil
}
