// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package searcher

import (
	"testing"

	"github.com/binfuzz/binoffset/offset"
)

func TestFromBinarySetAdaptsNamesAndPaths(t *testing.T) {
	set := offset.BinarySet{
		{Primary: "/bin/a.out", Companion: "/bin/a.out.debug"},
		{Primary: "/bin/b.out"},
	}
	b := FromBinarySet(set)

	names := b.Names()
	if len(names) != 2 || names[0] != "a.out" || names[1] != "b.out" {
		t.Fatalf("unexpected Names(): %v", names)
	}

	primary, companion, ok := b.Paths("a.out")
	if !ok || primary != "/bin/a.out" || companion != "/bin/a.out.debug" {
		t.Fatalf("unexpected Paths(%q): %q, %q, %v", "a.out", primary, companion, ok)
	}

	if _, _, ok := b.Paths("ghost"); ok {
		t.Fatalf("expected Paths to report false for an unknown elf name")
	}
}
