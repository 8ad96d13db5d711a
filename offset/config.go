// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package offset

import "fmt"

// Chain is a named offset Group used as an independent alternative: a
// Config may declare many chains, and at least one succeeding is enough
// for the overall extraction to succeed (see Config.New and the
// extractor package).
type Chain struct {
	Name  string
	Group *Group
}

// Config is the top-level offset declaration: a general group (whose
// offsets are in scope for every chain) plus zero or more independent
// chains. Scope rules: general offsets may depend only on other general
// offsets (and their own private nested groups); chain offsets may depend
// on general offsets and on offsets in the same chain, never on other
// chains. Names are unique across general ∪ every chain's offsets.
type Config struct {
	General *Group
	chains  []Chain

	chainsByName map[string]*Group
	orderedChains map[string][]*Spec
}

// NewConfig validates and builds a Config. general may be nil (an empty
// general group). Duplicate names across general and any chain fail
// construction with ErrDuplicateNames; a dependency loop or a missing
// name-dependency in general or in any chain (ordered with general's
// names as outer scope) fails it with ErrDependencyLoop or
// ErrMissingDependency.
func NewConfig(general *Group, chains ...Chain) (*Config, error) {
	if general == nil {
		general, _ = NewGroup("general")
	}

	seen := make(map[string]string, len(general.Specs()))
	for _, s := range general.Specs() {
		seen[s.Name()] = "general"
	}

	chainsByName := make(map[string]*Group, len(chains))
	for _, c := range chains {
		if _, dup := chainsByName[c.Name]; dup {
			return nil, fmt.Errorf("offset: config: %w: duplicate chain name %q", ErrDuplicateNames, c.Name)
		}
		chainsByName[c.Name] = c.Group
		for _, s := range c.Group.Specs() {
			if owner, dup := seen[s.Name()]; dup {
				return nil, fmt.Errorf("offset: config: %w: name %q appears in both %s and chain %q", ErrDuplicateNames, s.Name(), owner, c.Name)
			}
			seen[s.Name()] = "chain:" + c.Name
		}
	}

	if _, err := general.Order(nil); err != nil {
		return nil, fmt.Errorf("offset: config: general: %w", err)
	}
	generalNames := make(map[string]struct{}, len(general.Specs()))
	for _, s := range general.Specs() {
		generalNames[s.Name()] = struct{}{}
	}
	for _, c := range chains {
		if _, err := c.Group.Order(generalNames); err != nil {
			return nil, fmt.Errorf("offset: config: chain %q: %w", c.Name, err)
		}
	}

	return &Config{
		General:      general,
		chains:       chains,
		chainsByName: chainsByName,
	}, nil
}

// Chains returns the configured chains, in declaration order.
func (c *Config) Chains() []Chain { return c.chains }

// HasChains reports whether the config declared at least one chain.
func (c *Config) HasChains() bool { return len(c.chains) > 0 }

// OrderedGeneral returns general's offsets in a valid topological order.
func (c *Config) OrderedGeneral() ([]*Spec, error) {
	return c.General.Order(nil)
}

// OrderedChain returns the named chain's offsets in a valid topological
// order, computed with general's name set as the outer scope.
func (c *Config) OrderedChain(name string) ([]*Spec, error) {
	g, ok := c.chainsByName[name]
	if !ok {
		return nil, fmt.Errorf("offset: config: no such chain %q", name)
	}
	outer := make(map[string]struct{}, len(c.General.Specs()))
	for _, s := range c.General.Specs() {
		outer[s.Name()] = struct{}{}
	}
	return g.Order(outer)
}

// Context is the extraction output: general found offsets plus found
// chains. Immutable once produced.
type Context struct {
	General []Found
	Chains  []FoundChain
}

// GeneralMap indexes General by name, for convenience.
func (c *Context) GeneralMap() map[string]Found {
	m := make(map[string]Found, len(c.General))
	for _, f := range c.General {
		m[f.Name] = f
	}
	return m
}

// Chain looks up a found chain by name.
func (c *Context) Chain(name string) (FoundChain, bool) {
	for _, fc := range c.Chains {
		if fc.Name == name {
			return fc, true
		}
	}
	return FoundChain{}, false
}

// Equal reports set-equality on names/values/elf for General and for each
// Chain's offsets, irrespective of order — the equality the round-trip
// property requires.
func (c *Context) Equal(o *Context) bool {
	if c == nil || o == nil {
		return c == o
	}
	if !foundSetEqual(c.General, o.General) {
		return false
	}
	if len(c.Chains) != len(o.Chains) {
		return false
	}
	byName := make(map[string]FoundChain, len(o.Chains))
	for _, fc := range o.Chains {
		byName[fc.Name] = fc
	}
	for _, fc := range c.Chains {
		other, ok := byName[fc.Name]
		if !ok || !foundSetEqual(fc.Offsets, other.Offsets) {
			return false
		}
	}
	return true
}

func foundSetEqual(a, b []Found) bool {
	if len(a) != len(b) {
		return false
	}
	byName := make(map[string]Found, len(b))
	for _, f := range b {
		byName[f.Name] = f
	}
	for _, f := range a {
		other, ok := byName[f.Name]
		if !ok || other.Value != f.Value || other.ELF != f.ELF {
			return false
		}
	}
	return true
}
