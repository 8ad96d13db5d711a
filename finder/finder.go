// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

// Package finder resolves one offset.Config against many binary-set
// versions, one extractor.Extractor per version, optionally fanned out
// concurrently.
package finder

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/thejerf/suture/v4"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/binfuzz/binoffset/extractor"
	"github.com/binfuzz/binoffset/logger"
	"github.com/binfuzz/binoffset/offset"
	"github.com/binfuzz/binoffset/searcher"
	"github.com/binfuzz/binoffset/searcher/selector"
	"github.com/binfuzz/binoffset/telemetry"
)

var log = logger.DefaultLogger.NewFacility("finder", "multi-version offset resolution")

var procsOnce sync.Once

// Finder runs cfg against many binary-set versions, constructing a
// fresh extractor.Extractor per version (searchers and their caches are
// never shared across versions — each version's symbol/section tables
// differ).
type Finder struct {
	cfg           *offset.Config
	searcherNames []string
	parallel      int
	telemetry     *telemetry.Reporter
}

// Option configures a Finder at construction time.
type Option func(*Finder)

// WithSearchers restricts which registered searchers Find uses, and in
// what priority order. Unset means "every registered searcher, in
// registration order" (see package selector).
func WithSearchers(names ...string) Option {
	return func(f *Finder) { f.searcherNames = names }
}

// WithParallel fans version extractions out over up to n concurrent
// in-flight extractions. n <= 1 (the default) runs versions
// sequentially.
func WithParallel(n int) Option {
	return func(f *Finder) { f.parallel = n }
}

// WithTelemetry reports FindFailures to r as they occur.
func WithTelemetry(r *telemetry.Reporter) Option {
	return func(f *Finder) { f.telemetry = r }
}

// New builds a Finder for cfg.
func New(cfg *offset.Config, opts ...Option) *Finder {
	f := &Finder{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	if f.parallel > 1 {
		procsOnce.Do(func() {
			if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
				log.Debugf(format, args...)
			})); err != nil {
				log.Warnf("automaxprocs: %v", err)
			}
		})
	}
	return f
}

// Find resolves cfg against every version in versions, returning the
// successfully resolved contexts keyed by version name and the list of
// version names that failed entirely (offset.ErrFindFailure, an
// unresolvable binary set, no searcher available for that version, or
// cancellation). Every failure is reported per version through the
// return values; the returned error is always nil.
func (f *Finder) Find(ctx context.Context, versions map[string]offset.BinarySet) (map[string]*offset.Context, []string, error) {
	if f.parallel > 1 {
		return f.findParallel(ctx, versions)
	}
	return f.findSequential(ctx, versions)
}

func (f *Finder) findSequential(ctx context.Context, versions map[string]offset.BinarySet) (map[string]*offset.Context, []string, error) {
	results := make(map[string]*offset.Context, len(versions))
	var failed []string

	for version, set := range versions {
		if err := ctx.Err(); err != nil {
			log.Warnf("find cancelled before version %q: %v", version, err)
			failed = append(failed, version)
			continue
		}
		found, err := f.resolveVersion(ctx, version, set)
		if err != nil {
			f.reportFailure(version, err)
			failed = append(failed, version)
			continue
		}
		results[version] = found
	}
	return results, failed, nil
}

// findParallel runs up to f.parallel version extractions concurrently
// under a suture supervisor tree: each in-flight extraction is its own
// supervised service, so a panic in one extraction is contained and
// logged rather than taking the whole run down. Results are collected
// into an xsync.Map, keyed on version name (a real Go map key, so
// collisions are structurally impossible), before being drained into
// the final return values.
func (f *Finder) findParallel(ctx context.Context, versions map[string]offset.BinarySet) (map[string]*offset.Context, []string, error) {
	sup := suture.New("finder", suture.Spec{
		EventHook: func(e suture.Event) { log.Debugf("finder supervisor: %s", e.String()) },
	})
	supCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sup.ServeBackground(supCtx)

	results := xsync.NewMapOf[string, *offset.Context]()
	failures := xsync.NewMapOf[string, error]()
	sem := make(chan struct{}, f.parallel)
	var wg sync.WaitGroup

	for version, set := range versions {
		version, set := version, set
		wg.Add(1)
		sup.Add(&versionService{
			run: func(runCtx context.Context) error {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-runCtx.Done():
					failures.Store(version, runCtx.Err())
					return nil
				}
				if err := runCtx.Err(); err != nil {
					failures.Store(version, err)
					return nil
				}
				found, err := f.resolveVersion(runCtx, version, set)
				if err != nil {
					f.reportFailure(version, err)
					failures.Store(version, err)
					return nil
				}
				results.Store(version, found)
				return nil
			},
		})
	}

	wg.Wait()
	cancel()

	out := make(map[string]*offset.Context)
	results.Range(func(version string, ctx *offset.Context) bool {
		out[version] = ctx
		return true
	})
	var failed []string
	failures.Range(func(version string, _ error) bool {
		failed = append(failed, version)
		return true
	})
	return out, failed, nil
}

// versionService adapts a single version extraction into a
// suture.Service: run once, and exit (suture does not restart it,
// matching a batch extraction's one-shot semantics rather than a
// long-lived daemon's).
type versionService struct {
	run func(ctx context.Context) error
}

func (s *versionService) Serve(ctx context.Context) error {
	if err := s.run(ctx); err != nil {
		return err
	}
	return suture.ErrDoNotRestart
}

func (f *Finder) resolveVersion(ctx context.Context, version string, set offset.BinarySet) (*offset.Context, error) {
	binaries := searcher.FromBinarySet(set)
	searchers, err := selector.Select(ctx, f.searcherNames, binaries)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", version, err)
	}
	defer func() {
		for _, s := range searchers {
			if cerr := s.Close(); cerr != nil {
				log.Warnf("version %s: closing searcher %q: %v", version, s.Name(), cerr)
			}
		}
	}()

	ex := extractor.New(searchers, binaries)
	found, err := ex.Resolve(ctx, f.cfg)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", version, err)
	}
	return found, nil
}

func (f *Finder) reportFailure(version string, err error) {
	log.Warnf("version %q failed: %v", version, err)
	if f.telemetry != nil {
		f.telemetry.ReportFindFailure(version, err)
	}
}
