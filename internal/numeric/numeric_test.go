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

package numeric

import "testing"

func TestParseInt_Bases(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want uint64
	}{
		{"decimal", "123", 123},
		{"octal", "017", 15},
		{"hex", "0x1F", 31},
		{"hexLower", "0xff", 255},
		{"binary", "0b1010", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInt(tt.in, 32, false)
			if err != nil {
				t.Fatalf("ParseInt(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseInt(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseInt_RangeErrors(t *testing.T) {
	if _, err := ParseInt("256", 8, false); err == nil {
		t.Error("expected range error for 256 in u8")
	}
	if _, err := ParseInt("-1", 8, false); err == nil {
		t.Error("expected range error for negative value in unsigned width")
	}
	if _, err := ParseInt("128", 8, true); err == nil {
		t.Error("expected range error for 128 in i8")
	}
	if _, err := ParseInt("-129", 8, true); err == nil {
		t.Error("expected range error for -129 in i8")
	}
}

func TestRoundTripInt(t *testing.T) {
	radixes := []int{2, 8, 10, 16}
	values := []int64{0, 1, -1, 127, -128, 255, 32767, -32768}
	for _, radix := range radixes {
		for _, v := range values {
			formatted := FormatInt(uint64(v)&0xFFFF, 16, true, radix, 0)
			got, err := ParseInt(formatted, 16, true)
			if err != nil {
				t.Fatalf("radix %d: round-trip parse of %q failed: %v", radix, formatted, err)
			}
			want := uint64(v) & 0xFFFF
			if got != want {
				t.Errorf("radix %d: round-trip(%d) = %d, want %d (formatted=%q)", radix, v, got, want, formatted)
			}
		}
	}
}

func TestParseFloat_IEEEFidelity(t *testing.T) {
	tests := []struct {
		in     string
		prec   Precision
		wantHi uint64
	}{
		{"1.0", Single, 0x3F800000},
		{"1.0", Double, 0x3FF0000000000000},
		{"1.0", Half, 0x3C00},
		{"0.5", Single, 0x3F000000},
		{"2.0", Single, 0x40000000},
		{"4.0", Single, 0x40800000},
		{"-1.0", Single, 0xBF800000},
		{"-2.0", Single, 0xC0000000},
		{"-4.0", Single, 0xC0800000},
		{"-0.5", Single, 0xBF000000},
	}
	for _, tt := range tests {
		got, err := ParseFloat(tt.in, tt.prec)
		if err != nil {
			t.Fatalf("ParseFloat(%q) error: %v", tt.in, err)
		}
		if got != tt.wantHi {
			t.Errorf("ParseFloat(%q, %v) = 0x%X, want 0x%X", tt.in, tt.prec, got, tt.wantHi)
		}
	}
}

func TestIsOnlyFloatToken(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"1.0", true},
		{"1e10", true},
		{"0x1p4", true},
		{"123", false},
		{"foo", false},
		{"0x1F", false},
	}
	for _, tt := range tests {
		if got := IsOnlyFloatToken(tt.in); got != tt.want {
			t.Errorf("IsOnlyFloatToken(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatFloat_RoundTrip(t *testing.T) {
	bits, err := ParseFloat("3.5", Single)
	if err != nil {
		t.Fatal(err)
	}
	s := FormatFloat(bits, Single, false)
	bits2, err := ParseFloat(s, Single)
	if err != nil {
		t.Fatal(err)
	}
	if bits != bits2 {
		t.Errorf("round trip mismatch: %x != %x", bits, bits2)
	}
}
