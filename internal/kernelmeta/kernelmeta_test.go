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

package kernelmeta

import (
	"strings"
	"testing"

	"github.com/clrx-go/clrxasm/internal/quirks"
)

func TestSynthesize_VersionLineGatedByDriver(t *testing.T) {
	cfg := KernelConfig{}
	r, err := Resolve(cfg, quirks.For(150005))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	meta, err := Synthesize("foo", cfg, r, 1, false, quirks.Tahiti, quirks.For(150005))
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if !strings.Contains(meta, ";version:3:1:111\n") {
		t.Errorf("driver 150005 should emit ;version:3:1:111, got:\n%s", meta)
	}

	r2, err := Resolve(cfg, quirks.For(100000))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	meta2, err := Synthesize("foo", cfg, r2, 1, false, quirks.Tahiti, quirks.For(100000))
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if !strings.Contains(meta2, ";version:3:1:104\n") {
		t.Errorf("driver 100000 should emit ;version:3:1:104, got:\n%s", meta2)
	}
}

func TestSynthesize_ArgStartEnd(t *testing.T) {
	cfg := KernelConfig{
		Args: []KernelArg{
			{Name: "n", TypeName: "int", ArgType: ArgI32, VecSize: 1},
		},
	}
	q := quirks.For(150005)
	r, err := Resolve(cfg, q)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	meta, err := Synthesize("mykernel", cfg, r, 7, false, quirks.Tahiti, q)
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if !strings.HasPrefix(meta, ";ARGSTART:__OpenCL_mykernel_kernel\n") {
		t.Errorf("missing ARGSTART prefix, got:\n%s", meta)
	}
	if !strings.HasSuffix(meta, ";ARGEND:__OpenCL_mykernel_kernel\n") {
		t.Errorf("missing ARGEND suffix, got:\n%s", meta)
	}
	if !strings.Contains(meta, ";value:n:i32:1:0\n") {
		t.Errorf("expected scalar value line for arg n, got:\n%s", meta)
	}
}

func TestResolve_UavIDDriverGate(t *testing.T) {
	r, err := Resolve(KernelConfig{}, quirks.For(100000))
	if err != nil {
		t.Fatal(err)
	}
	if r.UavID != 9 {
		t.Errorf("older driver UavID = %d, want 9", r.UavID)
	}
	r2, err := Resolve(KernelConfig{}, quirks.For(150005))
	if err != nil {
		t.Fatal(err)
	}
	if r2.UavID != 11 {
		t.Errorf("newer driver UavID = %d, want 11", r2.UavID)
	}
}

func TestResolve_ConstBufferAndPrintfNotSupplied(t *testing.T) {
	r, err := Resolve(KernelConfig{}, quirks.For(100000))
	if err != nil {
		t.Fatal(err)
	}
	if r.ConstBufferID != NotSupplied {
		t.Errorf("older driver ConstBufferID = %d, want NotSupplied", r.ConstBufferID)
	}
	if r.PrintfID != NotSupplied {
		t.Errorf("older driver PrintfID = %d, want NotSupplied", r.PrintfID)
	}
}

func TestResolve_UserDataElemsNumRange(t *testing.T) {
	_, err := Resolve(KernelConfig{UserDataElemsNum: 17}, quirks.For(150005))
	if err == nil {
		t.Fatal("expected range error for UserDataElemsNum > 16")
	}
}

func TestResolve_UavPrivateDerivedFromPointerArgs(t *testing.T) {
	cfg := KernelConfig{
		Args: []KernelArg{
			{Name: "buf", ArgType: ArgPointer, PointerType: ArgFloat, PtrSpace: SpaceGlobal},
		},
	}
	r, err := Resolve(cfg, quirks.For(100000))
	if err != nil {
		t.Fatal(err)
	}
	if r.UavPrivate != 32 {
		t.Errorf("UavPrivate = %d, want 32", r.UavPrivate)
	}
}

func TestParseUint32(t *testing.T) {
	v, err := ParseUint32("0x10")
	if err != nil || v != 16 {
		t.Errorf("ParseUint32(0x10) = %d, %v, want 16, nil", v, err)
	}
	if _, err := ParseUint32("notanumber"); err == nil {
		t.Error("expected error for invalid input")
	}
}
