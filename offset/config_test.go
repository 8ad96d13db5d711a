// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package offset

import (
	"errors"
	"testing"
)

func TestNewConfigRejectsDuplicateAcrossGeneralAndChain(t *testing.T) {
	general := MustNewGroup("general", New("shared", FlavorSymbol, Text("x")))
	chain := MustNewGroup("chain", New("shared", FlavorSymbol, Text("y")))

	_, err := NewConfig(general, Chain{Name: "c1", Group: chain})
	if !errors.Is(err, ErrDuplicateNames) {
		t.Fatalf("expected ErrDuplicateNames, got %v", err)
	}
}

func TestNewConfigRejectsDuplicateChainNames(t *testing.T) {
	general := MustNewGroup("general")
	c1 := MustNewGroup("c1", New("a", FlavorSymbol, Text("a")))
	c2 := MustNewGroup("c2", New("b", FlavorSymbol, Text("b")))

	_, err := NewConfig(general, Chain{Name: "dup", Group: c1}, Chain{Name: "dup", Group: c2})
	if !errors.Is(err, ErrDuplicateNames) {
		t.Fatalf("expected ErrDuplicateNames for repeated chain name, got %v", err)
	}
}

func TestOrderedChainSeesGeneralAsOuterScope(t *testing.T) {
	general := MustNewGroup("general", New("base", FlavorSymbol, Text("base")))
	chain := MustNewGroup("c1", New("derived", FlavorSymbol, Text("d"), DependsOn(Dep("base"))))
	cfg, err := NewConfig(general, Chain{Name: "c1", Group: chain})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}

	order, err := cfg.OrderedChain("c1")
	if err != nil {
		t.Fatalf("OrderedChain: %v", err)
	}
	if len(order) != 1 || order[0].Name() != "derived" {
		t.Fatalf("expected chain order to contain only its own offset, got %v", names(order))
	}
}

func TestContextEqualIsOrderIndependent(t *testing.T) {
	a := &Context{
		General: []Found{{Name: "x", Value: 1, ELF: "bin"}, {Name: "y", Value: 2}},
		Chains:  []FoundChain{{Name: "c", Offsets: []Found{{Name: "z", Value: 3}}}},
	}
	b := &Context{
		General: []Found{{Name: "y", Value: 2}, {Name: "x", Value: 1, ELF: "bin"}},
		Chains:  []FoundChain{{Name: "c", Offsets: []Found{{Name: "z", Value: 3}}}},
	}
	if !a.Equal(b) {
		t.Fatalf("expected set-equal contexts to compare equal regardless of order")
	}
}

func TestContextEqualDetectsValueDivergence(t *testing.T) {
	a := &Context{General: []Found{{Name: "x", Value: 1}}}
	b := &Context{General: []Found{{Name: "x", Value: 2}}}
	if a.Equal(b) {
		t.Fatalf("expected differing values to compare unequal")
	}
}

func TestContextXDRRoundTrip(t *testing.T) {
	want := &Context{
		General: []Found{{Name: "x", Value: 0xdeadbeef, ELF: "bin"}},
		Chains:  []FoundChain{{Name: "c", Offsets: []Found{{Name: "z", Value: 42}}}},
	}
	raw := want.MarshalXDR()

	got := &Context{}
	if err := got.UnmarshalXDR(raw); err != nil {
		t.Fatalf("UnmarshalXDR: %v", err)
	}
	if !want.Equal(got) {
		t.Fatalf("round trip mismatch: want %+v, got %+v", want, got)
	}
}
