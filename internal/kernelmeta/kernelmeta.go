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

// Package kernelmeta synthesizes the textual `;KEY:...` kernel metadata
// grammar that the AMD OpenCL runtime reads out of a kernel binary's
// .rodata section.
package kernelmeta

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/clrx-go/clrxasm/internal/quirks"
)

// ArgType enumerates the kernel argument kinds. Vector widths are
// carried in KernelArg.VecSize rather than as separate enum values,
// collapsing what the original generator represented as dozens of
// VECTOR_<T>_<N> table rows into one (baseType, vecSize) pair.
type ArgType int

const (
	ArgU8 ArgType = iota
	ArgI8
	ArgU16
	ArgI16
	ArgU32
	ArgI32
	ArgU64
	ArgI64
	ArgFloat
	ArgDouble
	ArgPointer
	ArgImage1D
	ArgImage1DArray
	ArgImage1DBuffer
	ArgImage2D
	ArgImage2DArray
	ArgImage3D
	ArgSampler
	ArgCounter32
	ArgStructure
)

type scalarInfo struct {
	name     string
	elemSize int
}

var scalarInfoTable = map[ArgType]scalarInfo{
	ArgU8:     {"u8", 1},
	ArgI8:     {"i8", 1},
	ArgU16:    {"u16", 2},
	ArgI16:    {"i16", 2},
	ArgU32:    {"u32", 4},
	ArgI32:    {"i32", 4},
	ArgU64:    {"u64", 8},
	ArgI64:    {"i64", 8},
	ArgFloat:  {"float", 4},
	ArgDouble: {"double", 8},
	ArgSampler: {"u32", 4},
}

var imageTypeNames = map[ArgType]string{
	ArgImage1D:       "1D",
	ArgImage1DArray:  "1DA",
	ArgImage1DBuffer: "1DB",
	ArgImage2D:       "2D",
	ArgImage2DArray:  "2DA",
	ArgImage3D:       "3D",
}

func isImage(t ArgType) bool { _, ok := imageTypeNames[t]; return ok }

// PtrSpace is the address space of a POINTER argument.
type PtrSpace int

const (
	SpacePrivate PtrSpace = iota
	SpaceLocal
	SpaceGlobal
	SpaceConstant
)

// PtrAccess is a bitset of pointer-argument access qualifiers.
type PtrAccess uint8

const (
	AccessReadOnly  PtrAccess = 1 << iota // images only
	AccessWriteOnly                       // images only
	AccessReadWrite                       // images only
	AccessConst
	AccessRestrict
	AccessVolatile
)

// ImgAccessMask isolates the three mutually exclusive image-access bits.
const ImgAccessMask = AccessReadOnly | AccessWriteOnly | AccessReadWrite

// KernelArg mirrors §3's KernelArg record.
type KernelArg struct {
	Name        string
	TypeName    string
	ArgType     ArgType
	VecSize     int // 1 for scalars; 2,3,4,8,16 for vectors
	PointerType ArgType
	PointerVecSize int // pointee vector width; 0/1 for scalar pointee
	PtrSpace    PtrSpace
	PtrAccess   PtrAccess
	StructSize  uint32
	Used        bool
}

func (a KernelArg) typeSize() int {
	info, ok := scalarInfoTable[a.ArgType]
	if !ok {
		return 0
	}
	vecSize := a.VecSize
	if vecSize == 3 {
		vecSize = 4
	}
	if vecSize == 0 {
		vecSize = 1
	}
	return vecSize * info.elemSize
}

// pointerElemSize computes the `;pointer:...:<elemSize>:...` field for a
// POINTER argument, applying the same (vecSize==3 -> 4) widening the
// original uses for the pointee's vector width, not the pointer arg's
// own VecSize.
func (a KernelArg) pointerElemSize(elemSize int) int {
	vecSize := a.PointerVecSize
	if vecSize == 3 {
		vecSize = 4
	}
	if vecSize == 0 {
		vecSize = 1
	}
	return vecSize * elemSize
}

// KernelConfig mirrors §3's KernelConfig record. Fields that accept the
// driver-version-gated DEFAULT sentinel are *uint32/*int pointers; a nil
// pointer requests derivation.
type KernelConfig struct {
	Args               []KernelArg
	Samplers           []uint32
	ReqdWorkGroupSize  [3]uint32
	HwLocalSize        uint32
	ScratchBufferSize  uint32
	UavID              *int
	ConstBufferID      *int
	PrintfID           *int
	PrivateID          *int
	UavPrivate         *uint32
	HwRegion           *uint32
	UserDataElemsNum   int
	CondOut            uint32
	EarlyExit          uint32
	ConstDataRequired  bool
}

// NotSupplied marks a derived ID slot that is absent from the metadata
// entirely (printfid/cbid on older drivers).
const NotSupplied = -1

// Resolved holds the per-kernel values derived from DEFAULT sentinels,
// computed once so the emitter never re-derives them (mirrors
// TempAmdKernelConfig upstream).
type Resolved struct {
	HwRegion      uint32
	UavPrivate    uint32
	UavID         int
	ConstBufferID int
	PrintfID      int
	PrivateID     int
}

// RangeError reports a configuration value outside its allowed domain.
type RangeError struct{ Message string }

func (e *RangeError) Error() string { return e.Message }

// SemanticError reports an unsupported argument type combination.
type SemanticError struct{ Message string }

func (e *SemanticError) Error() string { return e.Message }

// Resolve fills in the DEFAULT-sentinel fields of a KernelConfig using
// the driver-version gates in q.
func Resolve(cfg KernelConfig, q quirks.DriverQuirks) (Resolved, error) {
	if cfg.UserDataElemsNum > 16 {
		return Resolved{}, &RangeError{Message: "UserDataElemsNum must not be greater than 16"}
	}

	var r Resolved
	if cfg.HwRegion != nil {
		r.HwRegion = *cfg.HwRegion
	}

	if cfg.UavPrivate != nil {
		r.UavPrivate = *cfg.UavPrivate
	} else {
		hasStructures := false
		var amountOfArgs uint32
		for _, arg := range cfg.Args {
			if arg.ArgType != ArgStructure {
				hasStructures = true
			}
			if !q.OlderThan1598 && arg.ArgType != ArgStructure {
				continue
			}
			switch arg.ArgType {
			case ArgPointer:
				amountOfArgs += 32
			case ArgStructure:
				if q.OlderThan1598 {
					amountOfArgs += (arg.StructSize + 15) &^ 15
				} else {
					amountOfArgs += 32 // preserved driver bug
				}
			default:
				typeSize := uint32(arg.typeSize())
				amountOfArgs += ((typeSize + 15) >> 4) << 5
			}
		}
		if hasStructures || cfg.ScratchBufferSize != 0 {
			r.UavPrivate = cfg.ScratchBufferSize + amountOfArgs
		}
	}

	if cfg.UavID != nil {
		r.UavID = *cfg.UavID
	} else if q.OlderThan1384 {
		r.UavID = 9
	} else {
		r.UavID = 11
	}

	if cfg.ConstBufferID != nil {
		r.ConstBufferID = *cfg.ConstBufferID
	} else if q.OlderThan1384 {
		r.ConstBufferID = NotSupplied
	} else {
		r.ConstBufferID = 10
	}

	if cfg.PrintfID != nil {
		r.PrintfID = *cfg.PrintfID
	} else if q.OlderThan1384 {
		r.PrintfID = NotSupplied
	} else {
		r.PrintfID = 9
	}

	if cfg.PrivateID != nil {
		r.PrivateID = *cfg.PrivateID
	} else {
		r.PrivateID = 8
	}

	return r, nil
}

// Synthesize renders the full ";ARGSTART...;ARGEND" metadata text for a
// kernel, in the fixed §4.5 field order.
func Synthesize(kernelName string, cfg KernelConfig, r Resolved, uniqueID int, is64Bit bool, deviceType quirks.GPUDeviceType, q quirks.DriverQuirks) (string, error) {
	deviceName, err := deviceType.Name()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, ";ARGSTART:__OpenCL_%s_kernel\n", kernelName)
	if q.OlderThan1124 {
		b.WriteString(";version:3:1:104\n")
	} else {
		b.WriteString(";version:3:1:111\n")
	}
	fmt.Fprintf(&b, ";device:%s\n", deviceName)
	fmt.Fprintf(&b, ";uniqueid:%d\n", uniqueID)
	fmt.Fprintf(&b, ";memory:uavprivate:%d\n", r.UavPrivate)
	fmt.Fprintf(&b, ";memory:hwlocal:%d\n", cfg.HwLocalSize)
	fmt.Fprintf(&b, ";memory:hwregion:%d\n", r.HwRegion)
	if cfg.ReqdWorkGroupSize[0] != 0 || cfg.ReqdWorkGroupSize[1] != 0 || cfg.ReqdWorkGroupSize[2] != 0 {
		fmt.Fprintf(&b, ";cws:%d:%d:%d\n", cfg.ReqdWorkGroupSize[0], cfg.ReqdWorkGroupSize[1], cfg.ReqdWorkGroupSize[2])
	}

	var argOffset uint32
	readOnlyImageCount := 0
	writeOnlyImageCount := 0
	uavID := r.UavID + 1
	constantID := 2

	for k, arg := range cfg.Args {
		switch {
		case arg.ArgType == ArgStructure:
			fmt.Fprintf(&b, ";value:%s:struct:%d:1:%d\n", arg.Name, arg.StructSize, argOffset)
			argOffset += (arg.StructSize + 15) >> 4

		case arg.ArgType == ArgPointer:
			info, ok := scalarInfoTable[arg.PointerType]
			typeName := info.name
			typeSize := info.elemSize
			if !ok && arg.PointerType != ArgStructure {
				return "", &SemanticError{Message: fmt.Sprintf("pointer element type not supported for arg %q", arg.Name)}
			}
			if arg.PointerType == ArgStructure {
				typeName = "opaque"
				typeSize = 0
			}
			fmt.Fprintf(&b, ";pointer:%s:%s:1:1:%d:", arg.Name, typeName, argOffset)
			switch arg.PtrSpace {
			case SpaceLocal:
				b.WriteString("hl:1")
			case SpaceConstant:
				if q.OlderThan1384 {
					fmt.Fprintf(&b, "hc%d", constantID)
					constantID++
				} else if arg.Used {
					fmt.Fprintf(&b, "c%d", uavID)
					uavID++
				} else {
					fmt.Fprintf(&b, "c%d", r.UavID)
				}
			case SpaceGlobal:
				fmt.Fprintf(&b, "uav:%d", uavID)
				uavID++
			}
			elemSize := arg.pointerElemSize(typeSize)
			if arg.PointerType == ArgStructure {
				if arg.StructSize != 0 {
					elemSize = int(arg.StructSize)
				} else {
					elemSize = 4
				}
			}
			ro := "RW"
			if arg.PtrAccess&AccessConst != 0 {
				ro = "RO"
			}
			vol := 0
			if arg.PtrAccess&AccessVolatile != 0 {
				vol = 1
			}
			restr := 0
			if arg.PtrAccess&AccessRestrict != 0 {
				restr = 1
			}
			fmt.Fprintf(&b, ":%d:%s:%d:%d\n", elemSize, ro, vol, restr)
			argOffset += 32

		case isImage(arg.ArgType):
			imgType := imageTypeNames[arg.ArgType]
			access := arg.PtrAccess & ImgAccessMask
			var accessName string
			var index int
			switch access {
			case AccessReadOnly:
				accessName = "RO"
				index = readOnlyImageCount
				readOnlyImageCount++
			case AccessWriteOnly:
				accessName = "WO"
				index = writeOnlyImageCount
				writeOnlyImageCount++
			case AccessReadWrite:
				accessName = "RW"
			default:
				return "", &SemanticError{Message: fmt.Sprintf("invalid image access qualifier for arg %q", arg.Name)}
			}
			fmt.Fprintf(&b, ";image:%s:%s:%s:%d:1:%d\n", arg.Name, imgType, accessName, index, argOffset)
			argOffset += 32

		case arg.ArgType == ArgCounter32:
			fmt.Fprintf(&b, ";counter:%s:32:0:1:%d\n", arg.Name, argOffset)
			argOffset += 16

		default:
			info, ok := scalarInfoTable[arg.ArgType]
			if !ok {
				return "", &SemanticError{Message: fmt.Sprintf("arg type not supported for arg %q", arg.Name)}
			}
			typeSize := uint32(arg.typeSize())
			fmt.Fprintf(&b, ";value:%s:%s:%d:%d\n", arg.Name, info.name, arg.VecSize, argOffset)
			argOffset += (typeSize + 15) >> 4
		}

		if arg.PtrAccess&AccessConst != 0 {
			fmt.Fprintf(&b, ";constant:%d:%s\n", k, arg.Name)
		}
	}

	if cfg.ConstDataRequired {
		b.WriteString(";memory:datareqd\n")
	}
	fmt.Fprintf(&b, ";function:1:%d\n", uniqueID)

	sampID := 0
	for ; sampID < len(cfg.Samplers); sampID++ {
		samp := cfg.Samplers[sampID]
		fmt.Fprintf(&b, ";sampler:unknown_%d:%d:1:%d\n", samp, sampID, samp)
	}
	for _, arg := range lo.Filter(cfg.Args, func(a KernelArg, _ int) bool { return a.ArgType == ArgSampler }) {
		fmt.Fprintf(&b, ";sampler:%s:%d:0:0\n", arg.Name, sampID)
	}

	if is64Bit {
		b.WriteString(";memory:64bitABI\n")
	}
	fmt.Fprintf(&b, ";uavid:%d\n", r.UavID)
	if r.PrintfID != NotSupplied {
		fmt.Fprintf(&b, ";printfid:%d\n", r.PrintfID)
	}
	if r.ConstBufferID != NotSupplied {
		fmt.Fprintf(&b, ";cbid:%d\n", r.ConstBufferID)
	}
	fmt.Fprintf(&b, ";privateid:%d\n", r.PrivateID)

	for k, arg := range cfg.Args {
		fmt.Fprintf(&b, ";reflection:%d:%s\n", k, arg.TypeName)
	}

	fmt.Fprintf(&b, ";ARGEND:__OpenCL_%s_kernel\n", kernelName)
	return b.String(), nil
}

// ParseUint32 is a thin wrapper used by callers building KernelConfig
// from textual configuration sources (kept here, rather than in the
// numeric package, since its error type is this package's own).
func ParseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, &RangeError{Message: fmt.Sprintf("invalid unsigned 32-bit value %q", s)}
	}
	return uint32(v), nil
}
