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

package amdbin

import (
	"bytes"
	"testing"

	"github.com/clrx-go/clrxasm/internal/kernelmeta"
	"github.com/clrx-go/clrxasm/internal/quirks"
)

func sampleInput() AmdInput {
	return AmdInput{
		Is64Bit:       false,
		DeviceType:    quirks.CapeVerde,
		DriverVersion: 150005,
		Kernels: []KernelInput{
			{
				Name:      "add",
				Code:      []byte{0x01, 0x02, 0x03, 0x04},
				UseConfig: true,
				Config: kernelmeta.KernelConfig{
					Args: []kernelmeta.KernelArg{
						{Name: "n", TypeName: "int", ArgType: kernelmeta.ArgI32, VecSize: 1},
					},
				},
			},
		},
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	in := sampleInput()
	first, err := Generate(in)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	second, err := Generate(in)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("Generate(in) is not idempotent across repeated calls")
	}
}

func TestGenerate_OuterMachineForCapeVerde(t *testing.T) {
	in := sampleInput()
	out, err := Generate(in)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if len(out) < 20 {
		t.Fatal("output too short to contain e_machine")
	}
	machine := uint16(out[18]) | uint16(out[19])<<8
	if machine != 0x3ff {
		t.Errorf("e_machine = 0x%X, want 0x3ff for capeverde", machine)
	}
}

func TestGenerate_UndefinedDeviceRejected(t *testing.T) {
	in := sampleInput()
	in.DeviceType = quirks.Undefined
	if _, err := Generate(in); err == nil {
		t.Fatal("expected a ParseError for an undefined device type")
	}
}

func TestKernelHeaderWords_E7Scenario(t *testing.T) {
	q := quirks.For(164205)
	got := KernelHeaderWords(q, 128, 256, true)
	want := [8]uint32{128, 0, 128, 256, 8, 1, 0, 0}
	if got != want {
		t.Errorf("KernelHeaderWords = %v, want %v", got, want)
	}
}

func TestPlanUAVs_CountsSamplerArgsAndPointers(t *testing.T) {
	cfg := kernelmeta.KernelConfig{
		Args: []kernelmeta.KernelArg{
			{ArgType: kernelmeta.ArgSampler},
			{ArgType: kernelmeta.ArgPointer, PtrSpace: kernelmeta.SpaceGlobal, Used: true},
		},
	}
	plan := planUAVs(cfg)
	if plan.samplersNum != 1 {
		t.Errorf("samplersNum = %d, want 1", plan.samplersNum)
	}
	if plan.uavsNum != 2 {
		t.Errorf("uavsNum = %d, want 2", plan.uavsNum)
	}
}
