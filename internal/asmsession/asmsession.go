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

// Package asmsession is the top-level assembler driver: it groups a
// compilation's requested devices, assembles once per distinct device
// type, and aggregates per-device binaries and diagnostics.
package asmsession

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/samber/lo"

	"github.com/clrx-go/clrxasm/internal/amdbin"
	"github.com/clrx-go/clrxasm/internal/quirks"
)

var (
	attributeLine = regexp.MustCompile(`^\s*\..+$`)
	labelLine     = regexp.MustCompile(`^\s*\.?\w+:\s*$`)
	codeLine      = regexp.MustCompile(`^\s+\S.*$`)
)

// LineKind classifies one line of source text, mirroring the
// blank/attribute/label/code line split used for assembly sources.
type LineKind int

const (
	LineBlank LineKind = iota
	LineAttribute
	LineLabel
	LineCode
)

// ClassifyLine returns the LineKind of a raw source line.
func ClassifyLine(line string) LineKind {
	switch {
	case len(line) == 0 || isBlank(line):
		return LineBlank
	case attributeLine.MatchString(line):
		return LineAttribute
	case labelLine.MatchString(line):
		return LineLabel
	case codeLine.MatchString(line):
		return LineCode
	default:
		return LineCode
	}
}

func isBlank(line string) bool {
	for _, r := range line {
		if r != ' ' && r != '\t' {
			return false
		}
	}
	return true
}

// Status is the outcome of assembling one device's program.
type Status int

const (
	StatusInProgress Status = iota
	StatusSuccess
	StatusError
)

// Diagnostic is one accumulated parse/semantic/range/IO diagnostic,
// carrying the source position it was raised at.
type Diagnostic struct {
	LineNo  int
	Message string
}

// Diagnostics accumulates per-source-position diagnostics in source
// order for a single compilation.
type Diagnostics struct {
	entries []Diagnostic
}

func (d *Diagnostics) Add(lineNo int, message string) {
	d.entries = append(d.entries, Diagnostic{LineNo: lineNo, Message: message})
}

func (d *Diagnostics) Entries() []Diagnostic { return d.entries }

func (d *Diagnostics) HasErrors() bool { return len(d.entries) > 0 }

// ProgDeviceEntry is the per-device compilation record returned by the
// driver, per §4.7.
type ProgDeviceEntry struct {
	Device Status
	Binary []byte
	Log    []Diagnostic
}

// Request is one device target in a compilation request.
type Request struct {
	DeviceType quirks.GPUDeviceType
	Is64Bit    bool
}

// Program is the per-compilation state guarded by Driver's mutex: a
// live compilation's source text and requested device list.
type Program struct {
	Source        string
	CompileOpts   string
	DriverVersion uint32
	DriverInfo    string
	GlobalData    []byte
	Kernels       []amdbin.KernelInput
	Devices       []Request

	mu sync.Mutex
}

// Driver is the top-level assembler entry point. A Driver instance may
// be shared across goroutines; each Compile call acquires the target
// Program's own mutex, so distinct programs compile concurrently while
// a single program serializes repeated entry.
type Driver struct{}

// Compile assembles prog once per distinct requested GPUDeviceType,
// reusing identical bytes across devices of the same type, and returns
// a device-ordered list of per-device results. Failure of one device
// is recorded in its own entry without aborting the others.
func (Driver) Compile(prog *Program) []ProgDeviceEntry {
	prog.mu.Lock()
	defer prog.mu.Unlock()

	results := make([]ProgDeviceEntry, len(prog.Devices))
	binaryCache := map[quirks.GPUDeviceType][]byte{}
	errCache := map[quirks.GPUDeviceType]error{}
	logCache := map[quirks.GPUDeviceType][]Diagnostic{}

	for i, req := range prog.Devices {
		if cached, ok := binaryCache[req.DeviceType]; ok {
			results[i] = ProgDeviceEntry{Device: StatusSuccess, Binary: cached}
			continue
		}
		if _, ok := errCache[req.DeviceType]; ok {
			results[i] = ProgDeviceEntry{Device: StatusError, Log: logCache[req.DeviceType]}
			continue
		}

		kernels := prog.Kernels
		var diags Diagnostics
		if prog.Source != "" {
			arch, archErr := req.DeviceType.Arch()
			if archErr != nil {
				errCache[req.DeviceType] = archErr
				logCache[req.DeviceType] = []Diagnostic{{Message: archErr.Error()}}
				results[i] = ProgDeviceEntry{Device: StatusError, Log: logCache[req.DeviceType]}
				continue
			}
			kernels = AssembleSource(prog.Source, arch, &diags)
		}
		if diags.HasErrors() {
			err := fmt.Errorf("%d assembly diagnostic(s)", len(diags.Entries()))
			errCache[req.DeviceType] = err
			logCache[req.DeviceType] = diags.Entries()
			results[i] = ProgDeviceEntry{Device: StatusError, Log: diags.Entries()}
			continue
		}

		in := amdbin.AmdInput{
			Is64Bit:       req.Is64Bit,
			DeviceType:    req.DeviceType,
			DriverVersion: prog.DriverVersion,
			DriverInfo:    prog.DriverInfo,
			GlobalData:    prog.GlobalData,
			CompileOpts:   prog.CompileOpts,
			Kernels:       kernels,
		}
		binBytes, err := amdbin.Generate(in)
		if err != nil {
			errCache[req.DeviceType] = err
			logCache[req.DeviceType] = []Diagnostic{{Message: err.Error()}}
			results[i] = ProgDeviceEntry{Device: StatusError, Log: logCache[req.DeviceType]}
			continue
		}
		binaryCache[req.DeviceType] = binBytes
		results[i] = ProgDeviceEntry{Device: StatusSuccess, Binary: binBytes}
	}
	return results
}

// FailedDevices filters a Compile result down to the devices whose
// compilation failed, preserving their original positional index.
func FailedDevices(entries []ProgDeviceEntry) []int {
	return lo.FilterMap(entries, func(e ProgDeviceEntry, i int) (int, bool) {
		return i, e.Device == StatusError
	})
}
