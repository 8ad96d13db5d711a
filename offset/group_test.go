// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package offset

import (
	"errors"
	"testing"
)

func TestGroupOrderRespectsDependencies(t *testing.T) {
	a := New("a", FlavorSymbol, Text("a"))
	b := New("b", FlavorSymbol, Text("b"), DependsOn(Dep("a")))
	c := New("c", FlavorSymbol, Text("c"), DependsOn(Dep("a"), Dep("b")))

	g, err := NewGroup("g", c, a, b) // declared out of dependency order
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	order, err := g.Order(nil)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, s := range order {
		pos[s.Name()] = i
	}
	if pos["a"] >= pos["b"] {
		t.Errorf("a must precede b, got order %v", names(order))
	}
	if pos["b"] >= pos["c"] {
		t.Errorf("b must precede c, got order %v", names(order))
	}
}

func TestGroupOrderIsMemoized(t *testing.T) {
	a := New("a", FlavorSymbol, Text("a"))
	g := MustNewGroup("g", a)
	first, err := g.Order(nil)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	second, err := g.Order(nil)
	if err != nil {
		t.Fatalf("Order (cached): %v", err)
	}
	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Errorf("expected memoized identical result, got %v and %v", first, second)
	}
}

func TestGroupOrderDetectsCycle(t *testing.T) {
	a := New("a", FlavorSymbol, Text("a"), DependsOn(Dep("b")))
	b := New("b", FlavorSymbol, Text("b"), DependsOn(Dep("a")))
	g := MustNewGroup("g", a, b)

	if _, err := g.Order(nil); !errors.Is(err, ErrDependencyLoop) {
		t.Fatalf("expected ErrDependencyLoop, got %v", err)
	}
}

func TestGroupOrderDetectsMissingDependency(t *testing.T) {
	a := New("a", FlavorSymbol, Text("a"), DependsOn(Dep("ghost")))
	g := MustNewGroup("g", a)

	if _, err := g.Order(nil); !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
}

func TestGroupOrderTreatsOuterScopeAsResolved(t *testing.T) {
	// "shared" is resolved by an enclosing scope (e.g. general, for a
	// chain); it must not be required to exist within this group.
	a := New("a", FlavorSymbol, Text("a"), DependsOn(Dep("shared")))
	g := MustNewGroup("g", a)

	outer := map[string]struct{}{"shared": {}}
	order, err := g.Order(outer)
	if err != nil {
		t.Fatalf("Order with outer scope: %v", err)
	}
	if len(order) != 1 || order[0].Name() != "a" {
		t.Fatalf("expected [a], got %v", names(order))
	}
}

func TestGroupOrderIgnoresNestedGroupEdges(t *testing.T) {
	nested := Anonymous(New("inner", FlavorSymbol, Text("inner")))
	a := New("a", FlavorSymbol, Text("a"), DependsOn(DepGroup(nested)))
	g := MustNewGroup("g", a)

	order, err := g.Order(nil)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if len(order) != 1 || order[0].Name() != "a" {
		t.Fatalf("nested group dependency must not appear in this group's order, got %v", names(order))
	}
}

func TestNewGroupRejectsDuplicateNames(t *testing.T) {
	a1 := New("dup", FlavorSymbol, Text("a"))
	a2 := New("dup", FlavorSymbol, Text("b"))
	if _, err := NewGroup("g", a1, a2); !errors.Is(err, ErrDuplicateNames) {
		t.Fatalf("expected ErrDuplicateNames, got %v", err)
	}
}

func names(specs []*Spec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name()
	}
	return out
}
