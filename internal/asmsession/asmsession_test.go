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

	"github.com/clrx-go/clrxasm/internal/quirks"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want LineKind
	}{
		{"", LineBlank},
		{"   ", LineBlank},
		{".text", LineAttribute},
		{"mylabel:", LineLabel},
		{"  s_endpgm", LineCode},
	}
	for _, tt := range tests {
		if got := ClassifyLine(tt.line); got != tt.want {
			t.Errorf("ClassifyLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestDiagnostics_AddAndHasErrors(t *testing.T) {
	var d Diagnostics
	if d.HasErrors() {
		t.Error("empty Diagnostics should not have errors")
	}
	d.Add(3, "bad operand")
	if !d.HasErrors() {
		t.Error("expected HasErrors to be true after Add")
	}
	entries := d.Entries()
	if len(entries) != 1 || entries[0].LineNo != 3 {
		t.Errorf("got %+v, want one entry at line 3", entries)
	}
}

func TestDriver_Compile_CachesPerDeviceType(t *testing.T) {
	prog := &Program{
		Source: "",
		Devices: []Request{
			{DeviceType: quirks.CapeVerde},
			{DeviceType: quirks.CapeVerde},
			{DeviceType: quirks.Undefined},
		},
	}
	var driver Driver
	results := driver.Compile(prog)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Device != StatusSuccess || results[1].Device != StatusSuccess {
		t.Errorf("expected both capeverde requests to succeed, got %+v", results)
	}
	if string(results[0].Binary) != string(results[1].Binary) {
		t.Error("expected identical cached binaries for repeated device requests")
	}
	if results[2].Device != StatusError {
		t.Error("expected undefined device type to fail")
	}
}

func TestFailedDevices(t *testing.T) {
	entries := []ProgDeviceEntry{
		{Device: StatusSuccess},
		{Device: StatusError},
		{Device: StatusSuccess},
		{Device: StatusError},
	}
	got := FailedDevices(entries)
	want := []int{1, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
