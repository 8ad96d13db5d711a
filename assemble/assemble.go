// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

// Package assemble turns a human-readable assembly mnemonic into the raw
// machine-code bytes an opcode offset searches for. It is deliberately a
// thin boundary interface (spec.md §1 names the assembler as an external
// collaborator): this package shells out to the host's own `as`/`objcopy`
// binutils, the same family the native searcher already depends on,
// rather than vendoring a full assembler — see DESIGN.md for why no
// pure-Go assembler library was available in the retrieved corpus for
// this concern.
package assemble

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Arch is the target instruction set to assemble for. The original
// implementation hard-codes x86-64; this port exposes it as a first-class
// parameter on every call site instead (spec.md §9 open question).
type Arch int

const (
	ArchX86_64 Arch = iota
	ArchARM64
)

func (a Arch) asFlag() (string, error) {
	switch a {
	case ArchX86_64:
		return "--64", nil
	case ArchARM64:
		return "", fmt.Errorf("assemble: arm64 assembly requires an aarch64 cross `as`, not auto-detected")
	default:
		return "", fmt.Errorf("assemble: unknown architecture %d", int(a))
	}
}

// Available reports whether the host toolchain needed to assemble can be
// found (as, objcopy).
func Available() error {
	for _, tool := range []string{"as", "objcopy"} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("assemble: required tool %q not on PATH: %w", tool, err)
		}
	}
	return nil
}

// Assemble converts an assembly-text pattern into its machine-code bytes
// for the given architecture, by writing a minimal .s stub, assembling it,
// and extracting the resulting .text section.
func Assemble(ctx context.Context, arch Arch, asm string) ([]byte, error) {
	flag, err := arch.asFlag()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "binoffset-asm-*")
	if err != nil {
		return nil, fmt.Errorf("assemble: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "pattern.s")
	obj := filepath.Join(dir, "pattern.o")
	bin := filepath.Join(dir, "pattern.bin")

	if err := os.WriteFile(src, []byte(".text\n"+asm+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("assemble: write source: %w", err)
	}

	asCmd := exec.CommandContext(ctx, "as", flag, "-o", obj, src)
	if out, err := asCmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("assemble: as failed: %w: %s", err, out)
	}

	dumpCmd := exec.CommandContext(ctx, "objcopy", "-O", "binary", "--only-section=.text", obj, bin)
	if out, err := dumpCmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("assemble: objcopy failed: %w: %s", err, out)
	}

	return os.ReadFile(bin)
}
