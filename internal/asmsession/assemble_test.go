// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package asmsession

import (
	"testing"

	"github.com/clrx-go/clrxasm/internal/gcnregs"
	"github.com/clrx-go/clrxasm/internal/quirks"
)

func TestAssembleSource_SingleKernel(t *testing.T) {
	source := ".kernel add\n" +
		"    v_mov_b32 v0, 1\n" +
		"    v_add_f32 v1, v0, v2\n" +
		"    s_endpgm\n"

	var diags Diagnostics
	kernels := AssembleSource(source, gcnregs.ArchGCN112, &diags)
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %+v", diags.Entries())
	}
	if len(kernels) != 1 {
		t.Fatalf("got %d kernels, want 1", len(kernels))
	}
	if kernels[0].Name != "add" {
		t.Errorf("kernel name = %q, want %q", kernels[0].Name, "add")
	}
	if !kernels[0].UseConfig {
		t.Error("expected UseConfig to be true for a source-assembled kernel")
	}
	if len(kernels[0].Code) != 3*8 {
		t.Errorf("code length = %d, want %d", len(kernels[0].Code), 3*8)
	}
}

func TestAssembleSource_MultipleKernels(t *testing.T) {
	source := ".kernel first\n" +
		"    s_endpgm\n" +
		".kernel second\n" +
		"    v_mov_b32 v0, v1\n" +
		"    s_endpgm\n"

	var diags Diagnostics
	kernels := AssembleSource(source, gcnregs.ArchGCN112, &diags)
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %+v", diags.Entries())
	}
	if len(kernels) != 2 || kernels[0].Name != "first" || kernels[1].Name != "second" {
		t.Fatalf("got %+v", kernels)
	}
}

func TestAssembleSource_UnknownMnemonic(t *testing.T) {
	source := ".kernel k\n" +
		"    v_bogus_op v0, v1\n"

	var diags Diagnostics
	kernels := AssembleSource(source, gcnregs.ArchGCN112, &diags)
	if !diags.HasErrors() {
		t.Fatal("expected a diagnostic for an unknown mnemonic")
	}
	if len(kernels) != 1 || len(kernels[0].Code) != 0 {
		t.Errorf("expected the kernel to still be emitted with empty code, got %+v", kernels)
	}
}

func TestAssembleSource_CodeOutsideKernel(t *testing.T) {
	source := "    s_endpgm\n"

	var diags Diagnostics
	kernels := AssembleSource(source, gcnregs.ArchGCN112, &diags)
	if !diags.HasErrors() {
		t.Fatal("expected a diagnostic for code outside any kernel block")
	}
	if len(kernels) != 0 {
		t.Errorf("expected no kernels, got %+v", kernels)
	}
}

func TestAssembleSource_SextWithDPPIsRejected(t *testing.T) {
	source := ".kernel k\n" +
		"    v_add_f32 v0, sext(v1), v2 bank_mask:15 row_mask:15\n"

	var diags Diagnostics
	AssembleSource(source, gcnregs.ArchGCN112, &diags)
	if !diags.HasErrors() {
		t.Fatal("expected SEXT combined with a DPP modifier to be rejected")
	}
}

func TestDriver_Compile_FromSource(t *testing.T) {
	source := ".kernel k\n" +
		"    v_mov_b32 v0, v1\n" +
		"    s_endpgm\n"

	prog := &Program{
		Source: source,
		Devices: []Request{
			{DeviceType: quirks.Tahiti},
		},
	}
	var driver Driver
	results := driver.Compile(prog)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Device != StatusSuccess {
		t.Fatalf("expected success, got %+v", results[0])
	}
	if len(results[0].Binary) == 0 {
		t.Error("expected a non-empty binary for an assembled source kernel")
	}
}
