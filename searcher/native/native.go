// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

// Package native implements the searcher surface by shelling out to
// standard Linux binutils (nm, readelf, objcopy) and parsing their
// textual output. Parsing that output is inherently brittle: the regex
// capture groups below are a versioned contract of THIS searcher's
// binutils version, not of the engine (spec.md §9).
package native

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"github.com/binfuzz/binoffset/assemble"
	"github.com/binfuzz/binoffset/logger"
	"github.com/binfuzz/binoffset/searcher"
	"github.com/binfuzz/binoffset/searcher/selector"
)

var log = logger.DefaultLogger.NewFacility("native", "binutils-backed symbol/section/opcode resolution")

func init() {
	selector.Register("native", Available, func(b searcher.Binaries) (searcher.Searcher, error) {
		return New(b, DefaultArch)
	})
}

// DefaultArch is the architecture opcode assembly defaults to (spec.md §9
// open question, resolved: configurable, defaulting to x86-64).
const DefaultArch = assemble.ArchX86_64

// sectionLineRE parses one `readelf -S -W` line:
//
//	[ 13] .text             PROGBITS        0000000000028dd0 028dd0 01caa5d ...
//
// Capture groups: (1) section name, (2) address (sh_addr), (3) size.
var sectionLineRE = regexp.MustCompile(`\[\s*\d+\]\s+([\w.\-]+)\s+\w+\s+([0-9a-f]+)\s+[0-9a-f]+\s+([0-9a-f]+)`)

// symbolLineRE parses one `nm --no-sort -C -S` line:
//
//	0000000000028dd0 0000000000000032 T __libc_start_main
//
// Capture groups: (1) address, (2) size, (3) type, (4) name.
var symbolLineRE = regexp.MustCompile(`^([0-9a-f]+)\s+([0-9a-f]+)\s+(\w)\s+(.+)$`)

// Available reports whether this host can run the native searcher: a
// Linux-family OS (checked via runtime.GOOS; on failure gopsutil supplies
// the kernel version for the error message) plus nm/readelf/objcopy on
// PATH.
func Available(ctx context.Context) error {
	if runtime.GOOS != "linux" {
		info, _ := host.InfoWithContext(ctx)
		rel := "unknown"
		if info != nil {
			rel = info.KernelVersion
		}
		return fmt.Errorf("native: not running on a Linux-family OS (GOOS=%s, kernel=%s)", runtime.GOOS, rel)
	}
	for _, tool := range []string{"nm", "readelf", "objcopy"} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("native: missing required binutils tool %q: %w", tool, err)
		}
	}
	return nil
}

// Searcher shells out to nm/readelf/objcopy, with per-binary table
// memoization via searcher.CacheBase.
type Searcher struct {
	*searcher.CacheBase
	binaries searcher.Binaries
	arch     assemble.Arch
	limiter  *rate.Limiter
}

// Option configures a Searcher at construction time.
type Option func(*Searcher)

// WithCache toggles per-binary table memoization (on by default). With
// caching disabled, every lookup re-runs nm/readelf and re-parses their
// output rather than consulting the memoized table, matching the
// original's un-cached single-shot search path.
func WithCache(cached bool) Option {
	return func(s *Searcher) { s.CacheBase.Cached = cached }
}

// New constructs a native Searcher. Available should be checked by the
// caller (normally via package selector) first.
func New(binaries searcher.Binaries, arch assemble.Arch, opts ...Option) (*Searcher, error) {
	s := &Searcher{
		CacheBase: searcher.NewCacheBase(len(binaries.Names())),
		binaries:  binaries,
		arch:      arch,
		// 20 subprocesses/sec with a burst of 5: bounds fork pressure
		// when resolving a large config full of cache misses without
		// meaningfully slowing a small one.
		limiter: rate.NewLimiter(20, 5),
	}
	s.InitSymbols = s.initSymbols
	s.InitSections = s.initSections
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Searcher) Name() string { return "native" }
func (s *Searcher) Close() error { return nil }

func (s *Searcher) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("native: rate limiter: %w", err)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("native: %s %s: %w: %s", name, strings.Join(args, " "), err, errOut.String())
	}
	return sanitize(out.Bytes()), nil
}

// sanitize strips non-printable bytes that nm -C's C++ demangler can
// occasionally emit from malformed debug info, before regex parsing sees
// the output.
func sanitize(b []byte) []byte {
	t := transform.Chain(runes.Remove(runes.Predicate(isNonPrintable)))
	out, _, err := transform.Bytes(t, b)
	if err != nil {
		return b
	}
	return out
}

func isNonPrintable(r rune) bool {
	return r < 0x09 || (r > 0x0d && r < 0x20) || r == 0x7f
}

func (s *Searcher) SearchSymbol(_ context.Context, name, elf string) ([]uint64, error) {
	return s.lookupSymbolAttr(elf, name, false)
}

func (s *Searcher) SearchSymbolSize(_ context.Context, name, elf string) ([]uint64, error) {
	return s.lookupSymbolAttr(elf, name, true)
}

func (s *Searcher) lookupSymbolAttr(elf, name string, wantSize bool) ([]uint64, error) {
	e, ok, err := s.LookupSymbol(elf, stripVersionSuffix(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if wantSize {
		return []uint64{e.Size}, nil
	}
	return []uint64{e.Address}, nil
}

func (s *Searcher) SearchSection(_ context.Context, name, elf string) ([]uint64, error) {
	e, ok, err := s.LookupSection(elf, name)
	if err != nil || !ok {
		return nil, err
	}
	return []uint64{e.Address}, nil
}

func (s *Searcher) SearchSectionSize(_ context.Context, name, elf string) ([]uint64, error) {
	e, ok, err := s.LookupSection(elf, name)
	if err != nil || !ok {
		return nil, err
	}
	return []uint64{e.Size}, nil
}

// stripVersionSuffix matches the original's dynamic-symbol handling:
// versioned symbols like memcpy@GLIBC_2.14 are matched on the
// suffix-stripped name.
func stripVersionSuffix(name string) string {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[:i]
	}
	return name
}

// initSymbols probes both .symtab and .dynsym via `nm`, matching the
// original's "" then "-D" pass, and strips @version suffixes from dynamic
// symbol names so lookups key on the bare name.
func (s *Searcher) initSymbols(elf string) (map[string]searcher.Entry, error) {
	primary, companion, ok := s.binaries.Paths(elf)
	if !ok {
		return nil, fmt.Errorf("native: unknown elf %q", elf)
	}
	out := make(map[string]searcher.Entry)
	for _, path := range []string{primary, companion} {
		if path == "" {
			continue
		}
		for _, dynFlag := range []string{"", "-D"} {
			args := []string{"--no-sort", "--quiet", "-C", "-S"}
			if dynFlag != "" {
				args = append(args, dynFlag)
			}
			args = append(args, path)
			raw, err := s.run(context.Background(), "nm", args...)
			if err != nil {
				log.Debugf("native: nm %s on %s produced no table: %v", dynFlag, path, err)
				continue // missing table of this kind is not fatal
			}
			for _, line := range strings.Split(string(raw), "\n") {
				line = stripVersionSuffix(line)
				m := symbolLineRE.FindStringSubmatch(line)
				if m == nil {
					continue
				}
				addr, aerr := strconv.ParseUint(m[1], 16, 64)
				size, serr := strconv.ParseUint(m[2], 16, 64)
				if aerr != nil || serr != nil {
					continue
				}
				out[strings.TrimSpace(m[4])] = searcher.Entry{Address: addr, Size: size}
			}
		}
	}
	return out, nil
}

// initSections parses one `readelf -S -W` pass over the primary file —
// debug companions carry no independent section layout worth searching.
func (s *Searcher) initSections(elf string) (map[string]searcher.Entry, error) {
	primary, _, ok := s.binaries.Paths(elf)
	if !ok {
		return nil, fmt.Errorf("native: unknown elf %q", elf)
	}
	raw, err := s.run(context.Background(), "readelf", "-S", "-W", primary)
	if err != nil {
		return nil, fmt.Errorf("native: readelf: %w", err)
	}
	out := make(map[string]searcher.Entry)
	for _, line := range strings.Split(string(raw), "\n") {
		m := sectionLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		addr, aerr := strconv.ParseUint(m[2], 16, 64)
		size, serr := strconv.ParseUint(m[3], 16, 64)
		if aerr != nil || serr != nil {
			continue
		}
		out[m[1]] = searcher.Entry{Address: addr, Size: size}
	}
	return out, nil
}

// SearchOpcodes assembles (or takes literal) a byte pattern, dumps the
// primary ELF's .text section via objcopy, and scans it for every
// occurrence of the pattern, reporting `.text_base + match_offset`.
func (s *Searcher) SearchOpcodes(ctx context.Context, p searcher.Pattern, elf string) ([]uint64, error) {
	if cached, ok := s.LookupOpcodes(elf, p); ok {
		if len(cached) == 0 {
			return nil, nil
		}
		return cached, nil
	}

	textBase, ok, err := s.LookupSection(elf, ".text")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("native: could not find .text section base for %q", elf)
	}

	pattern := p.Bytes
	if !p.IsBytes() {
		pattern, err = assemble.Assemble(ctx, s.arch, p.Asm)
		if err != nil {
			return nil, fmt.Errorf("native: assemble %q: %w", p.Asm, err)
		}
	}
	if len(pattern) == 0 {
		return nil, fmt.Errorf("native: empty opcode pattern")
	}

	primary, _, _ := s.binaries.Paths(elf)
	textBytes, err := s.dumpTextSection(ctx, primary)
	if err != nil {
		return nil, err
	}

	var matches []uint64
	for offset := 0; ; {
		idx := bytes.Index(textBytes[offset:], pattern)
		if idx < 0 {
			break
		}
		matches = append(matches, textBase.Address+uint64(offset+idx))
		offset += idx + 1
	}

	s.StoreOpcodes(elf, p, matches)
	if len(matches) == 0 {
		return nil, nil
	}
	return matches, nil
}

func (s *Searcher) dumpTextSection(ctx context.Context, elfPath string) ([]byte, error) {
	f, err := os.CreateTemp("", "binoffset-text-*.bin")
	if err != nil {
		return nil, fmt.Errorf("native: temp file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "objcopy", "--dump-section", ".text="+path, elfPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("native: objcopy dump-section: %w: %s", err, out)
	}
	return os.ReadFile(path)
}
