// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package offset

import "fmt"

// Group is an ordered list of offset Specs. Names within a group are
// unique (enforced at construction). The zero-value name is "anonymous",
// matching the default of the nested, private groups used by
// Dependency/DepGroup.
type Group struct {
	name    string
	specs   []*Spec
	byName  map[string]*Spec

	orderedOnce bool
	ordered     []*Spec
	orderedErr  error
}

// NewGroup builds a named offset Group, failing with ErrDuplicateNames if
// two offsets share a name.
func NewGroup(name string, specs ...*Spec) (*Group, error) {
	if name == "" {
		name = "anonymous"
	}
	g := &Group{name: name, specs: specs, byName: make(map[string]*Spec, len(specs))}
	for _, s := range specs {
		if _, dup := g.byName[s.Name()]; dup {
			return nil, fmt.Errorf("offset: group %q: %w: %q", name, ErrDuplicateNames, s.Name())
		}
		g.byName[s.Name()] = s
	}
	return g, nil
}

// MustNewGroup is NewGroup, panicking on error. Intended for package-level
// var initializers in caller code, analogous to regexp.MustCompile.
func MustNewGroup(name string, specs ...*Spec) *Group {
	g, err := NewGroup(name, specs...)
	if err != nil {
		panic(err)
	}
	return g
}

// Anonymous builds an unnamed, private Group — the shape used for nested
// dependency groups (see DepGroup).
func Anonymous(specs ...*Spec) *Group {
	return MustNewGroup("anonymous", specs...)
}

func (g *Group) Name() string    { return g.name }
func (g *Group) Specs() []*Spec  { return g.specs }

// Spec looks up an offset by name within this group only.
func (g *Group) Spec(name string) (*Spec, bool) {
	s, ok := g.byName[name]
	return s, ok
}

// Order computes a topological extraction order: for every offset, all of
// its name-dependencies appear earlier in the result. outer is the set of
// already-resolved names from an enclosing scope (e.g. general's names,
// when ordering a chain); a name-dependency found there is treated as
// already resolved and contributes no edge. Nested group dependencies are
// ignored for ordering purposes — they are resolved lazily, in their own
// private scope, during extraction.
//
// Order is memoized: the first call computes and caches the result (and
// any error); later calls return the cached values. This mirrors the
// "cached views" the config exposes per spec.
func (g *Group) Order(outer map[string]struct{}) ([]*Spec, error) {
	if g.orderedOnce {
		return g.ordered, g.orderedErr
	}
	g.orderedOnce = true
	g.ordered, g.orderedErr = computeOrder(g.specs, g.byName, outer)
	return g.ordered, g.orderedErr
}

func computeOrder(specs []*Spec, byName map[string]*Spec, outer map[string]struct{}) ([]*Spec, error) {
	visiting := make(map[string]struct{})
	found := make(map[string]struct{})
	var result []*Spec

	var enter func(s *Spec) error
	enter = func(s *Spec) error {
		if _, ok := visiting[s.Name()]; ok {
			cycle := make([]string, 0, len(visiting))
			for n := range visiting {
				cycle = append(cycle, n)
			}
			return fmt.Errorf("offset: %w: offset %q re-entered, cycle participants: %v", ErrDependencyLoop, s.Name(), cycle)
		}
		visiting[s.Name()] = struct{}{}

		for _, dep := range s.Dependencies() {
			name, isName := dep.Name()
			if !isName {
				// Nested group: ignored for ordering, resolved lazily
				// during extraction in its own private scope.
				continue
			}
			if _, already := found[name]; already {
				continue
			}
			if outer != nil {
				if _, inOuter := outer[name]; inOuter {
					continue
				}
			}
			depSpec, ok := byName[name]
			if !ok {
				return fmt.Errorf("offset: %w: offset %q depends on %q, which does not exist in its scope", ErrMissingDependency, s.Name(), name)
			}
			if err := enter(depSpec); err != nil {
				return err
			}
		}

		result = append(result, s)
		found[s.Name()] = struct{}{}
		delete(visiting, s.Name())
		return nil
	}

	for _, s := range specs {
		if _, already := found[s.Name()]; already {
			continue
		}
		if err := enter(s); err != nil {
			return nil, err
		}
	}
	return result, nil
}
