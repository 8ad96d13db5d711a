// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package native

import (
	"context"
	"strings"
	"testing"

	"github.com/binfuzz/binoffset/searcher"
)

type fakeBinaries struct{ names []string }

func (f fakeBinaries) Names() []string { return f.names }
func (f fakeBinaries) Paths(name string) (string, string, bool) {
	return "/fake/" + name, "", true
}

func TestSanitizeStripsNonPrintableBytes(t *testing.T) {
	in := []byte("main\x01\x02 0000000000401000 T main\x7f\n")
	got := sanitize(in)
	for _, b := range got {
		if isNonPrintable(rune(b)) {
			t.Fatalf("sanitize left a non-printable byte: %q", got)
		}
	}
	if !strings.Contains(string(got), "0000000000401000 T main") {
		t.Fatalf("sanitize corrupted the printable payload: %q", got)
	}
}

func TestStripVersionSuffix(t *testing.T) {
	cases := map[string]string{
		"memcpy@GLIBC_2.14": "memcpy",
		"plain_symbol":       "plain_symbol",
		"a@b@c":              "a",
	}
	for in, want := range cases {
		if got := stripVersionSuffix(in); got != want {
			t.Fatalf("stripVersionSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSymbolLineRegexParsesNmOutput(t *testing.T) {
	line := "0000000000028dd0 0000000000000032 T __libc_start_main"
	m := symbolLineRE.FindStringSubmatch(line)
	if m == nil {
		t.Fatalf("symbolLineRE did not match a well-formed nm line")
	}
	if m[1] != "0000000000028dd0" || m[2] != "0000000000000032" || m[3] != "T" || m[4] != "__libc_start_main" {
		t.Fatalf("unexpected capture groups: %#v", m)
	}
}

func TestSectionLineRegexParsesReadelfOutput(t *testing.T) {
	line := "  [13] .text             PROGBITS        0000000000028dd0 028dd0 01caa5d"
	m := sectionLineRE.FindStringSubmatch(line)
	if m == nil {
		t.Fatalf("sectionLineRE did not match a well-formed readelf line")
	}
	if m[1] != ".text" || m[2] != "0000000000028dd0" || m[3] != "01caa5d" {
		t.Fatalf("unexpected capture groups: %#v", m)
	}
}

func TestAvailableErrorShapeWhenUnavailable(t *testing.T) {
	err := Available(context.Background())
	if err != nil && !strings.HasPrefix(err.Error(), "native:") {
		t.Fatalf("expected a native:-prefixed error, got %v", err)
	}
}

func TestNewConstructsSearcher(t *testing.T) {
	s, err := New(fakeBinaries{names: []string{"bin"}}, DefaultArch)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Name() != "native" {
		t.Fatalf("expected Name() == \"native\", got %q", s.Name())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWithCacheOptionTogglesCached(t *testing.T) {
	s, err := New(fakeBinaries{names: []string{"bin"}}, DefaultArch, WithCache(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.CacheBase.Cached {
		t.Fatalf("expected WithCache(false) to clear Cached")
	}
}

func TestSearchOpcodesUsesCache(t *testing.T) {
	s, err := New(fakeBinaries{names: []string{"bin"}}, DefaultArch)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := searcher.AsmPattern("nop")
	s.StoreOpcodes("bin", p, []uint64{0x500})

	got, err := s.SearchOpcodes(context.Background(), p, "bin")
	if err != nil {
		t.Fatalf("SearchOpcodes: %v", err)
	}
	if len(got) != 1 || got[0] != 0x500 {
		t.Fatalf("expected cached result [0x500], got %v", got)
	}
}
