// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

package assemble

import (
	"bytes"
	"context"
	"testing"
)

func TestAssembleNop(t *testing.T) {
	if err := Available(); err != nil {
		t.Skipf("host assembler not available: %v", err)
	}

	got, err := Assemble(context.Background(), ArchX86_64, "nop")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !bytes.Equal(got, []byte{0x90}) {
		t.Fatalf("Assemble(\"nop\") = %x, want 90", got)
	}
}

func TestAssembleRejectsARM64WithoutCrossToolchain(t *testing.T) {
	_, err := Assemble(context.Background(), ArchARM64, "nop")
	if err == nil {
		t.Fatalf("expected an error assembling arm64 without a cross `as`")
	}
}

func TestAssembleUnknownArch(t *testing.T) {
	_, err := Assemble(context.Background(), Arch(99), "nop")
	if err == nil {
		t.Fatalf("expected an error for an unknown architecture")
	}
}
