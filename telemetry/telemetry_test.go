// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package telemetry

import (
	"errors"
	"testing"
)

func TestNewReporterWithEmptyDSNIsNoop(t *testing.T) {
	r, err := NewReporter("")
	if err != nil {
		t.Fatalf("NewReporter: %v", err)
	}
	// Must not panic or attempt any network I/O with a nil client.
	r.ReportFindFailure("v1.0", errors.New("boom"))
	r.ReportSearcherUnavailable("native", errors.New("missing binutils"))
}

func TestNilReporterIsNoop(t *testing.T) {
	var r *Reporter
	r.ReportFindFailure("v1.0", errors.New("boom"))
	r.ReportSearcherUnavailable("native", errors.New("missing binutils"))
}

func TestNewReporterRejectsMalformedDSN(t *testing.T) {
	if _, err := NewReporter("not-a-valid-dsn"); err == nil {
		t.Fatalf("expected an error constructing a Reporter from a malformed DSN")
	}
}
