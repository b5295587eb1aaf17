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

package cli

import "testing"

func TestParseCompilerOptions_RequiresXAsm(t *testing.T) {
	if _, err := ParseCompilerOptions(""); err == nil {
		t.Fatal("expected -x asm to be required")
	}
	opts, err := ParseCompilerOptions("-x asm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !opts.Warnings {
		t.Error("expected default Warnings=true")
	}
}

func TestParseCompilerOptions_RejectsOtherX(t *testing.T) {
	if _, err := ParseCompilerOptions("-x c"); err == nil {
		t.Fatal("expected rejection of -x c")
	}
	if _, err := ParseCompilerOptions("-xc"); err == nil {
		t.Fatal("expected rejection of -xc")
	}
}

func TestParseCompilerOptions_WarningsAndForceAddSymbols(t *testing.T) {
	opts, err := ParseCompilerOptions("-x asm -w -forceAddSymbols")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Warnings {
		t.Error("expected Warnings=false after -w")
	}
	if !opts.ForceAddSymbols {
		t.Error("expected ForceAddSymbols=true")
	}
}

func TestParseCompilerOptions_IncludePathsAndDefines(t *testing.T) {
	opts, err := ParseCompilerOptions("-x asm -I/usr/include -includepath=/opt/inc -DFOO=1 -D BAR=2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantPaths := []string{"/usr/include", "/opt/inc"}
	if len(opts.IncludePaths) != len(wantPaths) {
		t.Fatalf("got %v, want %v", opts.IncludePaths, wantPaths)
	}
	for i, p := range wantPaths {
		if opts.IncludePaths[i] != p {
			t.Errorf("IncludePaths[%d] = %q, want %q", i, opts.IncludePaths[i], p)
		}
	}
	if len(opts.Defines) != 2 {
		t.Fatalf("got %d defines, want 2", len(opts.Defines))
	}
	if opts.Defines[0].Name != "FOO" || opts.Defines[0].Value != "1" {
		t.Errorf("Defines[0] = %+v, want FOO=1", opts.Defines[0])
	}
	if opts.Defines[1].Name != "BAR" || opts.Defines[1].Value != "2" {
		t.Errorf("Defines[1] = %+v, want BAR=2", opts.Defines[1])
	}
}

func TestParseCompilerOptions_InvalidSymbolName(t *testing.T) {
	if _, err := ParseCompilerOptions("-x asm -D1FOO=1"); err == nil {
		t.Fatal("expected an error for a symbol name starting with a digit")
	}
}

func TestParseCompilerOptions_UnrecognizedOption(t *testing.T) {
	if _, err := ParseCompilerOptions("-x asm -bogus"); err == nil {
		t.Fatal("expected an error for an unrecognized option")
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"1", false, true},
		{"TRUE", false, true},
		{"off", true, false},
		{"no", true, false},
	}
	for _, tt := range tests {
		got, err := ParseBoolEnv(tt.value, tt.def)
		if err != nil {
			t.Fatalf("ParseBoolEnv(%q, %v) error: %v", tt.value, tt.def, err)
		}
		if got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
	if _, err := ParseBoolEnv("maybe", false); err == nil {
		t.Error("expected an error for an unrecognized boolean spelling")
	}
}

func TestLoadEnvironment_DefaultsWhenUnset(t *testing.T) {
	t.Setenv("CLRX_FORCE_ORIGINAL_AMDOCL", "")
	t.Setenv("CLRX_AMDOCL_PATH", "")
	t.Setenv("GPU_FORCE_64BIT_PTR", "")
	env, err := LoadEnvironment()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.ForceOriginalAMDOCL || env.Force64BitPtr || env.AMDOCLPath != "" {
		t.Errorf("got %+v, want all zero values", env)
	}
}
