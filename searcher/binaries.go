// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package searcher

import "github.com/binfuzz/binoffset/offset"

// FromBinarySet adapts an offset.BinarySet to the Binaries view searchers
// consume.
func FromBinarySet(set offset.BinarySet) Binaries {
	return binarySetView{set: set}
}

type binarySetView struct {
	set offset.BinarySet
}

func (v binarySetView) Names() []string { return v.set.Names() }

func (v binarySetView) Paths(elf string) (primary, companion string, ok bool) {
	b, found := v.set.ByName(elf)
	if !found {
		return "", "", false
	}
	return b.Primary, b.Companion, true
}
