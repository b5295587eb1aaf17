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

package modifier

import "testing"

func TestParseVOPModifiers_CrossEncodingRejected(t *testing.T) {
	_, _, err := ParseVOPModifiers("mul:2 dst_sel:b0", Options{Src0IsVGPR: true})
	if err == nil {
		t.Fatal("expected an error mixing VOP3 and SDWA modifiers")
	}
	if err.Error() != "Mixing modifiers from different encodings is illegal" {
		t.Errorf("got %q, want exact mixing message", err.Error())
	}
}

func TestParseVOPModifiers_DPPEncodingValues(t *testing.T) {
	tests := []struct {
		name string
		tok  string
		want uint16
	}{
		{"quad_perm", "quad_perm:[1,0,3,2]", 0x1 | 0x0<<2 | 0x3<<4 | 0x2<<6},
		{"row_shl", "row_shl:3", 0x100 | 3},
		{"row_ror", "row_ror:5", 0x100 | 0x20 | 5},
		{"wave_ror", "wave_ror", 0x13c},
		{"row_bcast15", "row_bcast15", 0x142},
		{"row_bcast31", "row_bcast31", 0x143},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, err := ParseVOPModifiers(tt.tok, Options{Src0IsVGPR: true})
			if err != nil {
				t.Fatalf("ParseVOPModifiers(%q) error: %v", tt.tok, err)
			}
			if m.DPPCtrl != tt.want {
				t.Errorf("ParseVOPModifiers(%q).DPPCtrl = 0x%X, want 0x%X", tt.tok, m.DPPCtrl, tt.want)
			}
		})
	}
}

func TestParseVOPModifiers_ClampPermittedWithWithClamp(t *testing.T) {
	m, _, err := ParseVOPModifiers("mul:2 clamp", Options{WithClamp: true})
	if err != nil {
		t.Fatalf("mul:2 clamp with WithClamp=true should succeed, got %v", err)
	}
	if !m.Clamp || m.OMod != OModMul2 {
		t.Errorf("got %+v, want Clamp=true OMod=OModMul2", m)
	}
}

func TestParseVOPModifiers_ClampRejectedWithoutWithClamp(t *testing.T) {
	_, _, err := ParseVOPModifiers("clamp", Options{WithClamp: false})
	if err == nil {
		t.Fatal("expected clamp to be rejected when WithClamp is false")
	}
}

func TestParseVOPModifiers_DuplicateWarns(t *testing.T) {
	_, warnings, err := ParseVOPModifiers("clamp clamp", Options{WithClamp: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("expected 1 duplicate warning, got %d", len(warnings))
	}
}

func TestParseVOPModifiers_SDWARequiresVGPRSrc0(t *testing.T) {
	_, _, err := ParseVOPModifiers("dst_sel:b0", Options{RequiredEnc: EncSDWA, Src0IsVGPR: false})
	if err == nil {
		t.Fatal("expected SDWA src0-must-be-VGPR error")
	}
}

func TestParseVOPModifiers_DPPRejectsLiteral(t *testing.T) {
	_, _, err := ParseVOPModifiers("row_shl:1", Options{RequiredEnc: EncDPP, Src0IsVGPR: true, HasLiteral: true})
	if err == nil {
		t.Fatal("expected literal-in-DPP rejection")
	}
}

func TestParseVOPModifiers_UnknownModifier(t *testing.T) {
	_, _, err := ParseVOPModifiers("frobnicate:1", Options{})
	if err == nil {
		t.Fatal("expected an unknown-modifier error")
	}
}
