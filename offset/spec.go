// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package offset

import "github.com/gobwas/glob"

// ELFFilter narrows which binaries in a set an offset's search considers.
// The zero ELFFilter (AnyELF) means "search every binary, first hit wins".
type ELFFilter struct {
	kind  elfFilterKind
	one   string
	many  map[string]struct{}
	pred  func(string) bool
}

type elfFilterKind int

const (
	elfFilterNone elfFilterKind = iota
	elfFilterOne
	elfFilterMany
	elfFilterPred
)

// AnyELF is the zero ELFFilter: search every binary in the set.
var AnyELF = ELFFilter{kind: elfFilterNone}

// ELF restricts the search to a single, named binary.
func ELF(name string) ELFFilter {
	return ELFFilter{kind: elfFilterOne, one: name}
}

// ELFs restricts the search to any of the named binaries.
func ELFs(names ...string) ELFFilter {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return ELFFilter{kind: elfFilterMany, many: m}
}

// ELFFunc restricts the search to binaries for which pred returns true.
func ELFFunc(pred func(name string) bool) ELFFilter {
	return ELFFilter{kind: elfFilterPred, pred: pred}
}

// ELFGlob restricts the search to binaries whose name matches any of the
// given glob patterns (e.g. "libc-*.so.6"). Sugar over ELFFunc: it does
// not introduce new filter semantics, only pattern ergonomics for
// version fleets with varying file-name suffixes.
func ELFGlob(patterns ...string) ELFFilter {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if g, err := glob.Compile(p); err == nil {
			globs = append(globs, g)
		}
	}
	return ELFFunc(func(name string) bool {
		for _, g := range globs {
			if g.Match(name) {
				return true
			}
		}
		return false
	})
}

// Explicit reports whether this filter was given an explicit selection
// (as opposed to AnyELF), which is what makes an empty match set an
// ErrInvalidELF rather than simply "search every binary".
func (f ELFFilter) Explicit() bool { return f.kind != elfFilterNone }

// Match returns the subset of known (in binary-set order) that this
// filter selects.
func (f ELFFilter) Match(known []string) []string {
	switch f.kind {
	case elfFilterNone:
		return known
	case elfFilterOne:
		for _, k := range known {
			if k == f.one {
				return []string{k}
			}
		}
		return nil
	case elfFilterMany:
		var out []string
		for _, k := range known {
			if _, ok := f.many[k]; ok {
				out = append(out, k)
			}
		}
		return out
	case elfFilterPred:
		var out []string
		for _, k := range known {
			if f.pred(k) {
				out = append(out, k)
			}
		}
		return out
	default:
		return nil
	}
}

// Dependency is either a reference to a sibling offset's name, or a
// private, anonymous Group resolved locally and visible only to the
// dependent offset.
type Dependency struct {
	name  string
	group *Group
}

// Dep references a sibling offset by name (in the same group, or in the
// general scope when used from within a chain).
func Dep(name string) Dependency { return Dependency{name: name} }

// DepGroup introduces a private, anonymous group of offsets resolved in
// isolation and spliced only into the dependent offset's local scope.
func DepGroup(g *Group) Dependency { return Dependency{group: g} }

// Name returns the referenced name and true, or ("", false) if this
// dependency is a nested group instead.
func (d Dependency) Name() (string, bool) {
	if d.group != nil {
		return "", false
	}
	return d.name, true
}

// Group returns the nested private group and true, or (nil, false) if
// this dependency is a name reference instead.
func (d Dependency) Group() (*Group, bool) {
	if d.group == nil {
		return nil, false
	}
	return d.group, true
}

// Spec is a single user-authored offset declaration. Specs are immutable
// once constructed; build one with New.
type Spec struct {
	name         string
	flavor       Flavor
	data         Data
	elfFilter    ELFFilter
	optional     bool
	dependencies []Dependency
	filter       Filter
	modify       Modify
}

// Option configures a Spec at construction time.
type Option func(*Spec)

// WithELFFilter sets the offset's elf_filter.
func WithELFFilter(f ELFFilter) Option { return func(s *Spec) { s.elfFilter = f } }

// Optional marks the offset as optional: a search miss yields no found
// offset but does not fail the enclosing group.
func Optional() Option { return func(s *Spec) { s.optional = true } }

// DependsOn appends dependencies, in order.
func DependsOn(deps ...Dependency) Option {
	return func(s *Spec) { s.dependencies = append(s.dependencies, deps...) }
}

// WithFilter overrides the default "first candidate" result filter.
func WithFilter(f Filter) Option { return func(s *Spec) { s.filter = f } }

// WithModify overrides the default identity modification.
func WithModify(m Modify) Option { return func(s *Spec) { s.modify = m } }

// New constructs an offset Spec of the given flavor and search key.
func New(name string, flavor Flavor, data Data, opts ...Option) *Spec {
	s := &Spec{
		name:   name,
		flavor: flavor,
		data:   data,
		filter: DefaultFilter(),
		modify: IdentityModify(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Symbol declares a FlavorSymbol offset searched by symbol name.
func Symbol(name, symbolName string, opts ...Option) *Spec {
	return New(name, FlavorSymbol, Text(symbolName), opts...)
}

// SymbolSize declares a FlavorSymbolSize offset searched by symbol name.
func SymbolSize(name, symbolName string, opts ...Option) *Spec {
	return New(name, FlavorSymbolSize, Text(symbolName), opts...)
}

// Section declares a FlavorSection offset searched by section name.
func Section(name, sectionName string, opts ...Option) *Spec {
	return New(name, FlavorSection, Text(sectionName), opts...)
}

// SectionSize declares a FlavorSectionSize offset searched by section name.
func SectionSize(name, sectionName string, opts ...Option) *Spec {
	return New(name, FlavorSectionSize, Text(sectionName), opts...)
}

// Opcodes declares a FlavorOpcodes offset searched by assembly mnemonic.
func Opcodes(name, asm string, opts ...Option) *Spec {
	return New(name, FlavorOpcodes, Text(asm), opts...)
}

// OpcodeBytes declares a FlavorOpcodes offset searched by a literal byte
// pattern.
func OpcodeBytes(name string, pattern []byte, opts ...Option) *Spec {
	return New(name, FlavorOpcodes, Bytes(pattern), opts...)
}

// Derived declares an offset with no search key at all: its value comes
// entirely from a WithModify hook over its dependencies' scope.
func Derived(name string, flavor Flavor, opts ...Option) *Spec {
	return New(name, flavor, NoData(), opts...)
}

func (s *Spec) Name() string               { return s.name }
func (s *Spec) Flavor() Flavor              { return s.flavor }
func (s *Spec) Data() Data                  { return s.data }
func (s *Spec) ELFFilter() ELFFilter        { return s.elfFilter }
func (s *Spec) Optional() bool              { return s.optional }
func (s *Spec) Dependencies() []Dependency  { return s.dependencies }
func (s *Spec) Filter() Filter              { return s.filter }
func (s *Spec) Modify() Modify              { return s.modify }
