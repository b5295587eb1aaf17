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

// Package quirks centralizes the AMD driver-version gated behaviors and
// the per-device ELF machine/name tables so that no raw integer
// comparison against a driver version appears anywhere else in the
// binary generator.
package quirks

import (
	"fmt"

	"github.com/clrx-go/clrxasm/internal/gcnregs"
)

// GPUDeviceType enumerates the supported GCN 1.0/1.1/1.2 device codenames,
// indexed identically to the three device tables below.
type GPUDeviceType int

const (
	Undefined GPUDeviceType = iota
	CapeVerde
	Pitcairn
	Tahiti
	Oland
	Bonaire
	Spectre
	Spooky
	Kalindi
	Hainan
	Hawaii
	Iceland
	Tonga
	Mullins

	deviceMax = Mullins
)

var deviceCodeTable = [14]uint32{
	0,     // Undefined
	0x3ff, // CapeVerde
	0x3fe, // Pitcairn
	0x3fd, // Tahiti
	0x402, // Oland
	0x403, // Bonaire
	0x404, // Spectre
	0x405, // Spooky
	0x406, // Kalindi
	0x407, // Hainan
	0x408, // Hawaii
	0x409, // Iceland
	0x40a, // Tonga
	0x40b, // Mullins
}

var deviceInnerCodeTable = [14]uint16{
	0,    // Undefined
	0x1c, // CapeVerde
	0x1b, // Pitcairn
	0x1a, // Tahiti
	0x20, // Oland
	0x21, // Bonaire
	0x22, // Spectre
	0x23, // Spooky
	0x24, // Kalindi
	0x25, // Hainan
	0x27, // Hawaii
	0x29, // Iceland
	0x2a, // Tonga
	0x2b, // Mullins
}

var deviceNameTable = [14]string{
	"UNDEFINED",
	"capeverde",
	"pitcairn",
	"tahiti",
	"oland",
	"bonaire",
	"spectre",
	"spooky",
	"kalindi",
	"hainan",
	"hawaii",
	"iceland",
	"tonga",
	"mullins",
}

// RangeError reports a device type outside the known table.
type RangeError struct{ Message string }

func (e *RangeError) Error() string { return e.Message }

// MachineCode returns the outer-ELF e_machine value for the device.
func (d GPUDeviceType) MachineCode() (uint32, error) {
	if d < Undefined || d > deviceMax {
		return 0, &RangeError{Message: fmt.Sprintf("device type %d out of range", d)}
	}
	return deviceCodeTable[d], nil
}

// InnerMachineCode returns the inner-ELF (per-kernel) e_machine value.
func (d GPUDeviceType) InnerMachineCode() (uint16, error) {
	if d < Undefined || d > deviceMax {
		return 0, &RangeError{Message: fmt.Sprintf("device type %d out of range", d)}
	}
	return deviceInnerCodeTable[d], nil
}

// Name returns the lowercase codename used in kernel metadata and
// driver-info strings.
func (d GPUDeviceType) Name() (string, error) {
	if d < Undefined || d > deviceMax {
		return "", &RangeError{Message: fmt.Sprintf("device type %d out of range", d)}
	}
	return deviceNameTable[d], nil
}

// Arch returns the gcnregs.Arch generation flags for the device, so
// that no component outside this package needs its own GCN1/1.1/1.2
// device classification.
func (d GPUDeviceType) Arch() (gcnregs.Arch, error) {
	if d < Undefined || d > deviceMax {
		return 0, &RangeError{Message: fmt.Sprintf("device type %d out of range", d)}
	}
	switch d {
	case Iceland, Tonga, Mullins:
		return gcnregs.ArchRX3X0 | gcnregs.ArchGCN112, nil
	case Bonaire, Spectre, Spooky, Kalindi, Hainan, Hawaii:
		return gcnregs.ArchGCN112, nil
	default:
		return 0, nil
	}
}

// Max is the highest valid GPUDeviceType value.
const Max = deviceMax

// DriverQuirks centralizes the pervasive driver-version-gated behaviors.
// Compute once per AmdInput and pass by reference; no component should
// compare a raw driverVersion integer itself.
type DriverQuirks struct {
	DriverVersion uint32

	// OlderThan1124 gates metadata/UAV ordering changes introduced in
	// driver 1124.02.
	OlderThan1124 bool
	// OlderThan1384 gates a metadata formatting change introduced in
	// driver 1384.05.
	OlderThan1384 bool
	// OlderThan1598 gates a further metadata change introduced in
	// driver 1598.05.
	OlderThan1598 bool
	// UavPrivateInHeader is true when driverVersion>=164205, enabling
	// emission of uavPrivate into the first header word (see
	// kernelHeader in package amdbin).
	UavPrivateInHeader bool
	// ReverseROImageNumbering is true for the two exact driver
	// versions that numbered read-only images as N-1-k instead of
	// ascending (a legacy quirk preserved for byte-exact output).
	ReverseROImageNumbering bool
}

// For computes the DriverQuirks record for a given driver version.
func For(driverVersion uint32) DriverQuirks {
	return DriverQuirks{
		DriverVersion:           driverVersion,
		OlderThan1124:           driverVersion < 112402,
		OlderThan1384:           driverVersion < 138405,
		OlderThan1598:           driverVersion < 159805,
		UavPrivateInHeader:      driverVersion >= 164205,
		ReverseROImageNumbering: driverVersion == 101602 || driverVersion == 112402,
	}
}

// NewestPossible is substituted when driverVersion is left unspecified
// and no driverInfo parse recovers one, matching the "assume the newest
// driver" fallback of the original generator.
const NewestPossible uint32 = 99999909
