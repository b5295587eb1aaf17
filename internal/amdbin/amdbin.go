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

// Package amdbin assembles the two-level AMD "calx" ELF binary: an
// outer ELF listing kernels, and a per-kernel inner ELF carrying CAL
// notes, proginfo, code and data. ELF section/note bytes are emitted
// directly with encoding/binary rather than through a generic ELF
// writer: the containers themselves are primitive byte layouts here,
// not a reusable object model.
package amdbin

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/clrx-go/clrxasm/internal/kernelmeta"
	"github.com/clrx-go/clrxasm/internal/quirks"
)

// Fixed ELF constants used by both the outer and inner binaries.
const (
	elfClass32    = 1
	elfClass64    = 2
	elfData2LSB   = 1
	elfOSABISysV  = 0
	elfVersion    = 1
	elfTypeExec   = 2
	shtNull       = 0
	shtProgBits   = 1
	shtStrTab     = 3
	shtSymTab     = 2
	shtNote       = 7
	ptLoad        = 1
	ptNote        = 4
	ptCALEncoding = 0x70000002
	innerMachine  = 0x7d
	innerOSABI    = 0x64
)

// CAL note type codes, as used by the legacy calx note sections.
const (
	calNoteProgInfo      = 1
	calNoteInputs        = 2
	calNoteOutputs       = 3
	calNoteCondOut       = 4
	calNoteFloat32Consts = 5
	calNoteInt32Consts   = 6
	calNoteBool32Consts  = 7
	calNoteEarlyExit     = 8
	calNoteGlobalBuffers = 9
	calNoteConstBuffers  = 10
	calNoteUAVMboxSize   = 11
	calNoteUAV           = 16
	calNoteScratchBuffers = 12
	calNotePersistBuffers = 13
)

// CALNote is a pre-baked note section, used when a KernelInput supplies
// its binary payload directly instead of going through KernelConfig
// synthesis.
type CALNote struct {
	Type uint32
	Data []byte
}

// KernelInput mirrors §3's KernelInput record. The two construction
// modes are mutually exclusive: either UseConfig is true and Config is
// populated, or CalNotes/Header/Metadata carry a pre-baked inner image.
type KernelInput struct {
	Name      string
	Code      []byte
	Data      []byte
	UseConfig bool
	Config    kernelmeta.KernelConfig

	CalNotes []CALNote
	Header   []byte
	Metadata string
}

// AmdInput mirrors §3's AmdInput record: the full compilation unit
// handed to the binary generator.
type AmdInput struct {
	Is64Bit       bool
	DeviceType    quirks.GPUDeviceType
	DriverVersion uint32
	DriverInfo    string
	GlobalData    []byte
	CompileOpts   string
	Kernels       []KernelInput
}

// ParseError reports a malformed AmdInput that the generator cannot
// reconcile (bad device type, unparsable driverInfo).
type ParseError struct{ Message string }

func (e *ParseError) Error() string { return e.Message }

// resolvedDriverInfo computes the driverVersion/driverInfo pair used
// throughout generation, per §4.6's synthesis/parse rule.
func resolvedDriverInfo(in AmdInput) (uint32, string) {
	driverVersion := in.DriverVersion
	driverInfo := in.DriverInfo

	if driverInfo == "" {
		maj := driverVersion / 100
		min := driverVersion % 100
		driverInfo = fmt.Sprintf("@(#) OpenCL 1.2 AMD-APP (%d.%d).  Driver version: %d.%d (VM)", maj, min, maj, min)
		return driverVersion, driverInfo
	}
	if driverVersion == 0 {
		if v, ok := parseDriverVersionFromInfo(driverInfo); ok {
			driverVersion = v
		} else {
			driverVersion = quirks.NewestPossible
		}
	}
	return driverVersion, driverInfo
}

func parseDriverVersionFromInfo(info string) (uint32, bool) {
	const marker = "AMD-APP ("
	idx := strings.Index(info, marker)
	if idx < 0 {
		return 0, false
	}
	rest := info[idx+len(marker):]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return 0, false
	}
	parts := strings.SplitN(rest[:end], ".", 2)
	if len(parts) != 2 {
		return 0, false
	}
	maj, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return uint32(maj*100 + min), true
}

// kernelHeader computes the 32-byte little-endian kernel header, per
// §4.6's fixed word layout and the driverVersion>=164205 gate.
func kernelHeader(q quirks.DriverQuirks, uavPrivate, hwLocalSize uint32, is64Bit bool) []byte {
	words := [8]uint32{0, 0, uavPrivate, hwLocalSize, 0, 1, 0, 0}
	if q.UavPrivateInHeader {
		words[0] = uavPrivate
	}
	if is64Bit {
		words[4] = 8
	}
	buf := make([]byte, 32)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

// KernelHeaderWords exposes the 32-byte kernel header as its eight
// constituent u32 words, matching §8 testable scenario E7's
// expectation shape.
func KernelHeaderWords(q quirks.DriverQuirks, uavPrivate, hwLocalSize uint32, is64Bit bool) [8]uint32 {
	buf := kernelHeader(q, uavPrivate, hwLocalSize, is64Bit)
	var words [8]uint32
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return words
}

// uavPlan is the resolved UAV table, computed once per kernel for CAL
// note emission.
type uavPlan struct {
	readOnlyImages   int
	writeOnlyImages  int
	uavsNum          int
	notUsedUav       bool
	samplersNum      int
	constBuffersNum  int
}

func planUAVs(cfg kernelmeta.KernelConfig) uavPlan {
	samplerArgs := lo.CountBy(cfg.Args, func(a kernelmeta.KernelArg) bool { return a.ArgType == kernelmeta.ArgSampler })
	p := uavPlan{uavsNum: 1, constBuffersNum: 2, samplersNum: len(cfg.Samplers) + samplerArgs}
	for _, arg := range cfg.Args {
		switch {
		case arg.ArgType >= kernelmeta.ArgImage1D && arg.ArgType <= kernelmeta.ArgImage3D:
			switch arg.PtrAccess & kernelmeta.ImgAccessMask {
			case kernelmeta.AccessReadOnly:
				p.readOnlyImages++
			case kernelmeta.AccessWriteOnly:
				p.writeOnlyImages++
				p.uavsNum++
			}
		case arg.ArgType == kernelmeta.ArgPointer:
			if arg.PtrSpace == kernelmeta.SpaceGlobal {
				if arg.Used {
					p.uavsNum++
				} else {
					p.notUsedUav = true
				}
			}
			if arg.PtrSpace == kernelmeta.SpaceConstant {
				p.constBuffersNum++
			}
		}
	}
	if p.notUsedUav {
		p.uavsNum++
	}
	return p
}

// Generate assembles the full outer ELF binary for in. Kernels are
// emitted in input order. The section contents (.shstrtab, .strtab,
// .symtab, .comment, .rodata, .text) are concatenated directly after the
// ELF header; no section header table is written and e_shoff is 0, so
// the output carries no per-section offsets. The inner per-kernel ELFs
// keep the CALNOTE_UAV header with a zero name size and the argument
// loop bounded by the argument list (see SPEC_FULL.md).
func Generate(in AmdInput) ([]byte, error) {
	if in.DeviceType == quirks.Undefined || in.DeviceType > quirks.Max {
		return nil, &ParseError{Message: "undefined GPU device type"}
	}
	driverVersion, driverInfo := resolvedDriverInfo(in)
	q := quirks.For(driverVersion)

	type resolvedKernel struct {
		resolved kernelmeta.Resolved
		metadata string
		inner    []byte
	}
	uniqueID := 1025
	resolvedKernels := make([]resolvedKernel, len(in.Kernels))
	for i, k := range in.Kernels {
		if k.UseConfig {
			r, err := kernelmeta.Resolve(k.Config, q)
			if err != nil {
				return nil, err
			}
			meta, err := kernelmeta.Synthesize(k.Name, k.Config, r, uniqueID, in.Is64Bit, in.DeviceType, q)
			if err != nil {
				return nil, err
			}
			resolvedKernels[i] = resolvedKernel{resolved: r, metadata: meta}
		}
		inner, err := buildInnerELF(in, k, q, resolvedKernels[i].resolved)
		if err != nil {
			return nil, err
		}
		resolvedKernels[i].inner = inner
		uniqueID++
	}

	var shstrtab bytes.Buffer
	shstrtab.WriteString("\x00.shstrtab\x00.strtab\x00.symtab\x00.comment\x00.rodata\x00.text")

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	strtab.WriteString("__OpenCL_compile_options\x00")
	if in.GlobalData != nil {
		if !q.OlderThan1384 {
			strtab.WriteString("__OpenCL_0_global\x00")
		} else {
			strtab.WriteString("__OpenCL_2_global\x00")
		}
	}
	for _, k := range in.Kernels {
		fmt.Fprintf(&strtab, "__OpenCL_%s_metadata\x00", k.Name)
		fmt.Fprintf(&strtab, "__OpenCL_%s_kernel\x00", k.Name)
		fmt.Fprintf(&strtab, "__OpenCL_%s_header\x00", k.Name)
	}

	var comment bytes.Buffer
	comment.WriteString(in.CompileOpts)
	comment.WriteString(driverInfo)

	var rodata bytes.Buffer
	if in.GlobalData != nil {
		rodata.Write(in.GlobalData)
	}
	for i, k := range in.Kernels {
		if k.UseConfig {
			rodata.WriteString(resolvedKernels[i].metadata)
			rodata.Write(kernelHeader(q, resolvedKernels[i].resolved.UavPrivate, k.Config.HwLocalSize, in.Is64Bit))
		} else {
			rodata.WriteString(k.Metadata)
			rodata.Write(k.Header)
		}
	}

	var text bytes.Buffer
	for _, rk := range resolvedKernels {
		text.Write(rk.inner)
	}

	symtab := buildSymtab(in, resolvedKernels, q)

	var out bytes.Buffer
	writeOuterHeader(&out, in, q)
	sections := [][]byte{shstrtab.Bytes(), strtab.Bytes(), symtab, comment.Bytes(), rodata.Bytes(), text.Bytes()}
	for _, s := range sections {
		out.Write(s)
	}
	return out.Bytes(), nil
}

func writeOuterHeader(out *bytes.Buffer, in AmdInput, q quirks.DriverQuirks) {
	machine, _ := in.DeviceType.MachineCode()
	ehdrSize := 52
	if in.Is64Bit {
		ehdrSize = 64
	}
	ident := make([]byte, 16)
	ident[0], ident[1], ident[2], ident[3] = 0x7f, 'E', 'L', 'F'
	if in.Is64Bit {
		ident[4] = elfClass64
	} else {
		ident[4] = elfClass32
	}
	ident[5] = elfData2LSB
	ident[6] = elfVersion
	ident[7] = elfOSABISysV
	out.Write(ident)

	u16 := func(v uint16) { binary.Write(out, binary.LittleEndian, v) }
	u32 := func(v uint32) { binary.Write(out, binary.LittleEndian, v) }
	uWord := func(v uint64) {
		if in.Is64Bit {
			binary.Write(out, binary.LittleEndian, v)
		} else {
			binary.Write(out, binary.LittleEndian, uint32(v))
		}
	}

	u16(elfTypeExec)
	u16(uint16(machine))
	u32(elfVersion)
	uWord(0) // e_entry
	uWord(0) // e_phoff
	uWord(0) // e_shoff (appended implicitly; sections are concatenated immediately after)
	u32(0)   // e_flags
	u16(uint16(ehdrSize))
	u16(0) // e_phentsize
	u16(0) // e_phnum
	shentsize := 40
	if in.Is64Bit {
		shentsize = 64
	}
	u16(uint16(shentsize))
	u16(7) // e_shnum
	u16(1) // e_shstrndx
}

// buildSymtab emits the .symtab section: three symbols per kernel
// (metadata, kernel code, header), plus optional globaldata and
// compile-options symbols.
func buildSymtab(in AmdInput, resolved []struct {
	resolved kernelmeta.Resolved
	metadata string
	inner    []byte
}, q quirks.DriverQuirks) []byte {
	var buf bytes.Buffer
	entSize := 16
	if in.Is64Bit {
		entSize = 24
	}
	numSyms := 2 + len(in.Kernels)*3 // null entry + compile-options + per-kernel triples
	if in.GlobalData != nil {
		numSyms++
	}
	buf.Grow(numSyms * entSize)
	buf.Write(make([]byte, entSize)) // null symbol

	nameOff := uint32(1)
	advance := func(n int) uint32 { v := nameOff; nameOff += uint32(n); return v }
	compileOptsOff := advance(len("__OpenCL_compile_options") + 1)
	writeSym(&buf, in.Is64Bit, compileOptsOff, 4 /* .comment */)
	if in.GlobalData != nil {
		var globalOff uint32
		if !q.OlderThan1384 {
			globalOff = advance(len("__OpenCL_0_global") + 1)
		} else {
			globalOff = advance(len("__OpenCL_2_global") + 1)
		}
		writeSym(&buf, in.Is64Bit, globalOff, 5 /* .rodata */)
	}
	for _, k := range in.Kernels {
		metaOff := advance(len("__OpenCL_"+k.Name+"_metadata") + 1)
		kernOff := advance(len("__OpenCL_"+k.Name+"_kernel") + 1)
		hdrOff := advance(len("__OpenCL_"+k.Name+"_header") + 1)
		writeSym(&buf, in.Is64Bit, metaOff, 5 /* .rodata */)
		writeSym(&buf, in.Is64Bit, kernOff, 6 /* .text */)
		writeSym(&buf, in.Is64Bit, hdrOff, 5 /* .rodata */)
	}
	return buf.Bytes()
}

func writeSym(buf *bytes.Buffer, is64Bit bool, name uint32, shndx uint16) {
	if is64Bit {
		binary.Write(buf, binary.LittleEndian, name)
		buf.WriteByte(0) // info
		buf.WriteByte(0) // other
		binary.Write(buf, binary.LittleEndian, shndx)
		binary.Write(buf, binary.LittleEndian, uint64(0)) // value
		binary.Write(buf, binary.LittleEndian, uint64(0)) // size
	} else {
		binary.Write(buf, binary.LittleEndian, name)
		binary.Write(buf, binary.LittleEndian, uint32(0)) // value
		binary.Write(buf, binary.LittleEndian, uint32(0)) // size
		buf.WriteByte(0)                                  // info
		buf.WriteByte(0)                                  // other
		binary.Write(buf, binary.LittleEndian, shndx)
	}
}
