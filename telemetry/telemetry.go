// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

// Package telemetry is a thin, optional wrapper over a crash/event
// reporting backend, used to surface find failures and skipped
// searchers to an operator without putting network I/O on the
// resolution hot path. Off by default: the engine never requires it.
package telemetry

import (
	"fmt"

	raven "github.com/getsentry/raven-go"
)

// Reporter reports engine events to a remote crash-reporting service.
// The zero value is not usable; construct with NewReporter.
type Reporter struct {
	client *raven.Client
}

// NewReporter constructs a Reporter posting to dsn. An empty dsn
// disables reporting: every method becomes a no-op, so callers can pass
// the resulting Reporter to finder.WithTelemetry unconditionally.
func NewReporter(dsn string) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{}, nil
	}
	client, err := raven.New(dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return &Reporter{client: client}, nil
}

// ReportFindFailure reports that a version failed to resolve entirely.
func (r *Reporter) ReportFindFailure(version string, cause error) {
	if r == nil || r.client == nil {
		return
	}
	r.client.CaptureError(fmt.Errorf("version %s: %w", version, cause), map[string]string{
		"component": "finder",
		"version":   version,
	})
}

// ReportSearcherUnavailable reports that a searcher was skipped during
// selection.
func (r *Reporter) ReportSearcherUnavailable(name string, cause error) {
	if r == nil || r.client == nil {
		return
	}
	r.client.CaptureError(fmt.Errorf("searcher %s unavailable: %w", name, cause), map[string]string{
		"component": "selector",
		"searcher":  name,
	})
}
