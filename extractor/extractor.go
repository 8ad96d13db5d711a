// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

// Package extractor resolves an offset.Config against a set of
// searchers over a single version's binaries, producing an
// offset.Context.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/binfuzz/binoffset/logger"
	"github.com/binfuzz/binoffset/offset"
	"github.com/binfuzz/binoffset/searcher"
)

var log = logger.DefaultLogger.NewFacility("extractor", "per-version offset resolution")

var (
	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "binoffset_extractor_resolve_seconds",
		Help:    "Time spent resolving one offset.Spec.",
		Buckets: prometheus.DefBuckets,
	}, []string{"flavor", "outcome"})

	searcherMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binoffset_extractor_searcher_miss_total",
		Help: "Searcher calls that returned no candidates or a non-fatal error, by searcher name.",
	}, []string{"searcher"})

	chainFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binoffset_extractor_chain_failure_total",
		Help: "Chains that failed to resolve to completion, by chain name.",
	}, []string{"chain"})
)

// Extractor dispatches one offset.Config's specs to an ordered list of
// searchers over one version's binaries.
type Extractor struct {
	searchers []searcher.Searcher
	binaries  searcher.Binaries
}

// New builds an Extractor. searchers are tried in order for every
// offset; the first to return a non-empty candidate set wins.
func New(searchers []searcher.Searcher, binaries searcher.Binaries) *Extractor {
	return &Extractor{searchers: searchers, binaries: binaries}
}

// Resolve runs cfg's general group, then every declared chain, returning
// the combined offset.Context. Resolve fails only if general's required
// offsets do not all resolve, or (when chains were declared) zero chains
// resolve to completion.
func (e *Extractor) Resolve(ctx context.Context, cfg *offset.Config) (*offset.Context, error) {
	general, err := e.resolveGroup(ctx, cfg.General, nil)
	if err != nil {
		return nil, fmt.Errorf("extractor: general: %w", err)
	}

	generalScope := make(map[string]offset.Found, len(general))
	for _, f := range general {
		generalScope[f.Name] = f
	}

	if !cfg.HasChains() {
		return &offset.Context{General: general}, nil
	}

	var chainsOut []offset.FoundChain
	for _, c := range cfg.Chains() {
		found, err := e.resolveGroup(ctx, c.Group, generalScope)
		if err != nil {
			chainFailures.WithLabelValues(c.Name).Inc()
			log.Warnf("chain %q failed: %v", c.Name, err)
			continue
		}
		chainsOut = append(chainsOut, offset.FoundChain{Name: c.Name, Offsets: found})
	}

	if len(chainsOut) == 0 {
		return nil, fmt.Errorf("extractor: %w: no chain resolved to completion", offset.ErrFindFailure)
	}
	return &offset.Context{General: general, Chains: chainsOut}, nil
}

// resolveGroup resolves every spec in g, in topological order, against a
// scope seeded from outer (an enclosing general scope, or nil for a
// top-level/private group). An optional spec that fails to resolve is
// skipped rather than failing the group.
func (e *Extractor) resolveGroup(ctx context.Context, g *offset.Group, outer map[string]offset.Found) ([]offset.Found, error) {
	outerNames := make(map[string]struct{}, len(outer))
	for n := range outer {
		outerNames[n] = struct{}{}
	}
	order, err := g.Order(outerNames)
	if err != nil {
		return nil, err
	}

	scope := make(map[string]offset.Found, len(outer)+len(order))
	for k, v := range outer {
		scope[k] = v
	}

	found := make([]offset.Found, 0, len(order))
	for _, spec := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := e.resolveSpec(ctx, spec, scope)
		if err != nil {
			if spec.Optional() {
				log.Debugf("offset %q optional, skipping after: %v", spec.Name(), err)
				continue
			}
			return nil, fmt.Errorf("offset %q: %w", spec.Name(), err)
		}
		scope[spec.Name()] = f
		found = append(found, f)
	}
	return found, nil
}

// resolveSpec resolves one Spec's dependency scope (splicing in any
// private nested groups), searches for candidates if the spec carries a
// search key, and applies its Filter then Modify.
func (e *Extractor) resolveSpec(ctx context.Context, spec *offset.Spec, scope map[string]offset.Found) (f offset.Found, rerr error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if rerr != nil {
			outcome = "error"
		}
		resolveDuration.WithLabelValues(spec.Flavor().String(), outcome).Observe(time.Since(start).Seconds())
	}()

	localScope := make(map[string]offset.Found, len(spec.Dependencies())+1)
	for _, dep := range spec.Dependencies() {
		if name, isName := dep.Name(); isName {
			found, ok := scope[name]
			if !ok {
				return offset.Found{}, fmt.Errorf("dependency %q: %w", name, offset.ErrFindFailure)
			}
			localScope[name] = found
			continue
		}
		group, _ := dep.Group()
		nested, err := e.resolveGroup(ctx, group, nil)
		if err != nil {
			return offset.Found{}, fmt.Errorf("nested group %q: %w", group.Name(), err)
		}
		for _, nf := range nested {
			localScope[nf.Name] = nf
		}
	}

	if !spec.Data().Present() {
		value, ok := spec.Filter()(nil, localScope)
		value, err := spec.Modify()(value, ok, localScope)
		if err != nil {
			return offset.Found{}, err
		}
		return offset.Found{Name: spec.Name(), Value: value}, nil
	}

	candidates, elfName, err := e.search(ctx, spec)
	if err != nil {
		return offset.Found{}, err
	}
	if candidates == nil {
		return offset.Found{}, fmt.Errorf("offset %q: %w: search exhausted with no candidates", spec.Name(), offset.ErrFindFailure)
	}
	value, ok := spec.Filter()(candidates, localScope)
	value, err = spec.Modify()(value, ok, localScope)
	if err != nil {
		return offset.Found{}, err
	}
	return offset.Found{Name: spec.Name(), Value: value, ELF: elfName}, nil
}

// search dispatches a data-bearing spec across its matched ELFs and the
// extractor's searchers, in order, returning the first non-empty
// candidate set and the ELF name it came from. A searcher reporting
// searcher.ErrNotImplemented is tried again on the next searcher; any
// other error is logged and treated the same way (non-fatal here). When
// no searcher answers for any matched ELF, search returns no candidates
// and a nil error; resolveSpec then fails the spec with ErrFindFailure,
// which resolveGroup tolerates only for an optional spec.
func (e *Extractor) search(ctx context.Context, spec *offset.Spec) ([]uint64, string, error) {
	matched := spec.ELFFilter().Match(e.binaries.Names())
	if spec.ELFFilter().Explicit() && len(matched) == 0 {
		return nil, "", fmt.Errorf("offset %q: %w: elf filter matched nothing in this binary set", spec.Name(), offset.ErrInvalidELF)
	}

	p := patternFor(spec)
	for _, elfName := range matched {
		for _, s := range e.searchers {
			candidates, err := dispatch(ctx, s, spec.Flavor(), spec.Data(), p, elfName)
			if errors.Is(err, searcher.ErrNotImplemented) {
				continue
			}
			if err != nil {
				searcherMisses.WithLabelValues(s.Name()).Inc()
				log.Warnf("searcher %q failed on %q (%s) in %s: %v", s.Name(), spec.Name(), spec.Flavor(), elfName, err)
				continue
			}
			if len(candidates) > 0 {
				return candidates, elfName, nil
			}
			searcherMisses.WithLabelValues(s.Name()).Inc()
		}
	}
	return nil, "", nil
}

func patternFor(spec *offset.Spec) searcher.Pattern {
	if spec.Flavor() != offset.FlavorOpcodes {
		return searcher.Pattern{}
	}
	if spec.Data().IsBytes() {
		return searcher.BytePattern(spec.Data().BytesValue())
	}
	return searcher.AsmPattern(spec.Data().Text())
}

func dispatch(ctx context.Context, s searcher.Searcher, flavor offset.Flavor, data offset.Data, p searcher.Pattern, elfName string) ([]uint64, error) {
	switch flavor {
	case offset.FlavorSymbol:
		return s.SearchSymbol(ctx, data.Text(), elfName)
	case offset.FlavorSymbolSize:
		return s.SearchSymbolSize(ctx, data.Text(), elfName)
	case offset.FlavorSection:
		return s.SearchSection(ctx, data.Text(), elfName)
	case offset.FlavorSectionSize:
		return s.SearchSectionSize(ctx, data.Text(), elfName)
	case offset.FlavorOpcodes:
		return s.SearchOpcodes(ctx, p, elfName)
	default:
		return nil, fmt.Errorf("extractor: unknown flavor %v", flavor)
	}
}
