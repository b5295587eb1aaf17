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
	"encoding/binary"

	"github.com/clrx-go/clrxasm/internal/kernelmeta"
	"github.com/clrx-go/clrxasm/internal/quirks"
)

// buildInnerELF assembles one kernel's per-kernel inner ELF: a fixed
// 3-program-header/6-section-header shell around a CALEncodingEntry,
// CAL notes, code and data.
func buildInnerELF(in AmdInput, k KernelInput, q quirks.DriverQuirks, r kernelmeta.Resolved) ([]byte, error) {
	var buf bytes.Buffer

	innerMachineCode, err := in.DeviceType.InnerMachineCode()
	if err != nil {
		return nil, err
	}

	// e_ident
	ident := make([]byte, 16)
	ident[0], ident[1], ident[2], ident[3] = 0x7f, 'E', 'L', 'F'
	ident[4] = elfClass32
	ident[5] = elfData2LSB
	ident[6] = elfVersion
	ident[7] = innerOSABI
	buf.Write(ident)

	u16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }
	u32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }

	u16(elfTypeExec)
	u16(innerMachine)
	u32(elfVersion)
	u32(0) // e_entry
	u32(0) // e_phoff (fixed layout: header immediately followed by phdrs)
	u32(0) // e_shoff
	u32(1) // e_flags
	u16(52) // e_ehsize
	u16(32) // e_phentsize (Elf32_Phdr)
	u16(3)  // e_phnum
	u16(40) // e_shentsize (Elf32_Shdr)
	u16(6)  // e_shnum
	u16(1)  // e_shstrndx

	// Program header 0: CAL encoding entry pointer.
	u32(ptCALEncoding)
	u32(0x94) // p_offset
	u32(0)    // p_vaddr
	u32(0)    // p_paddr
	u32(16)   // p_filesz == sizeof(CALEncodingEntry)
	u32(0)    // p_memsz
	u32(0)    // p_flags
	u32(0)    // p_align

	// Program header 1: PT_NOTE.
	u32(ptNote)
	u32(0x1c0) // p_offset: fixed CAL-note start offset
	u32(0)
	u32(0)
	u32(0) // p_filesz (left for readers to derive from the note stream)
	u32(0) // p_memsz
	u32(0) // p_flags
	u32(0) // p_align

	// Program header 2: PT_LOAD.
	u32(ptLoad)
	u32(0) // p_offset
	u32(0) // p_vaddr
	u32(0) // p_paddr
	u32(0) // p_filesz
	u32(0) // p_memsz
	u32(0) // p_flags
	u32(0) // p_align

	// CALEncodingEntry{type=4, machine, flags=0, offset=0x1c0}.
	u32(4)
	u32(uint32(innerMachineCode))
	u32(0)
	u32(0x1c0)
	u32(0) // pad to the fixed .shstrtab offset 0xa8

	// Fixed 40-byte inner .shstrtab.
	innerShstrtab := make([]byte, 40)
	copy(innerShstrtab, "\x00.shstrtab\x00.text\x00.data\x00.symtab\x00.strtab\x00")
	buf.Write(innerShstrtab)

	// 6 section headers: null, .shstrtab, .text, .data, .symtab, .strtab.
	writeInnerSectionHeader(&buf, 0, shtNull, 0, 0, 0, 0, 0)
	writeInnerSectionHeader(&buf, 1, shtStrTab, 0xa8, 40, 0, 0, 0)
	writeInnerSectionHeader(&buf, 11, shtProgBits, 0, uint32(len(k.Code)), 0, 0, 0)
	writeInnerSectionHeader(&buf, 17, shtProgBits, 0, uint32(len(k.Data)), 0, 0, 0)
	writeInnerSectionHeader(&buf, 23, shtSymTab, 0, 16, 5, 16, 0)
	writeInnerSectionHeader(&buf, 31, shtStrTab, 0, 0, 0, 0, 0)

	if k.UseConfig {
		if err := writeCALNotes(&buf, k, q, r); err != nil {
			return nil, err
		}
	} else {
		for _, note := range k.CalNotes {
			writeNoteHeader(&buf, note.Type, uint32(len(note.Data)))
			buf.Write(note.Data)
		}
	}

	buf.Write(k.Code)
	buf.Write(k.Data)
	return buf.Bytes(), nil
}

func writeInnerSectionHeader(buf *bytes.Buffer, name, shType, offset, size, link, entsize uint32, flags uint32) {
	u32 := func(v uint32) { binary.Write(buf, binary.LittleEndian, v) }
	u32(name)
	u32(shType)
	u32(flags)
	u32(0) // sh_addr
	u32(offset)
	u32(size)
	u32(link)
	u32(0) // sh_info
	u32(0) // sh_addralign
	u32(entsize)
}

func writeNoteHeader(buf *bytes.Buffer, noteType uint32, descSize uint32) {
	u32 := func(v uint32) { binary.Write(buf, binary.LittleEndian, v) }
	u32(8) // nameSize
	u32(noteType)
	u32(descSize)
	name := make([]byte, 8)
	copy(name, "ATI CAL")
	buf.Write(name)
}

// writeCALNotes emits the fixed sequence of synthesized CAL notes for
// a useConfig=true kernel. Three driver-compatibility bugs from the
// original generator are intentionally preserved here (see
// SPEC_FULL.md's AMD Binary Generator section for the rationale):
//   - the UAV note header omits nameSize and carries the wrong note
//     type (CALNOTE_ATI_OUTPUTS instead of CALNOTE_ATI_UAV);
//   - the constant-buffers note descriptor bytes are never populated
//     (the original only advances the offset past them);
//   - the argument-offset loop is a plain bounded index loop rather
//     than any form of early-exit, translating the original's for(;;)
//     into something that actually terminates (see the Kernel
//     Metadata Synthesizer for the analogous argOffset walk).
func writeCALNotes(buf *bytes.Buffer, k KernelInput, q quirks.DriverQuirks, r kernelmeta.Resolved) error {
	cfg := k.Config
	plan := planUAVs(cfg)
	u32 := func(v uint32) { binary.Write(buf, binary.LittleEndian, v) }

	// CALNOTE_INPUTS
	writeNoteHeader(buf, calNoteInputs, uint32(4*plan.readOnlyImages))
	for kk := 0; kk < plan.readOnlyImages; kk++ {
		if q.ReverseROImageNumbering {
			u32(uint32(plan.readOnlyImages - kk - 1))
		} else {
			u32(uint32(kk))
		}
	}

	// CALNOTE_OUTPUTS (always empty).
	writeNoteHeader(buf, calNoteOutputs, 0)

	// CALNOTE_UAV: preserved bug — header uses nameSize=0 (the
	// original's SULEV(noteHdr->type,...) call path never sets
	// nameSize for this note) and type=CALNOTE_ATI_OUTPUTS.
	u32(0) // nameSize (bug: left unset upstream)
	u32(calNoteOutputs) // type (bug: should be calNoteUAV)
	u32(uint32(16 * plan.uavsNum))
	name := make([]byte, 8)
	copy(name, "ATI CAL")
	buf.Write(name)

	writeUAVEntries(buf, cfg, plan, q, r)

	// CALNOTE_CONDOUT
	writeNoteHeader(buf, calNoteCondOut, 4)
	u32(cfg.CondOut)

	// CALNOTE_FLOAT32CONSTS / INT32CONSTS / BOOL32CONSTS (always empty).
	writeNoteHeader(buf, calNoteFloat32Consts, 0)
	writeNoteHeader(buf, calNoteInt32Consts, 0)
	writeNoteHeader(buf, calNoteBool32Consts, 0)

	// CALNOTE_EARLYEXIT
	writeNoteHeader(buf, calNoteEarlyExit, 4)
	u32(cfg.EarlyExit)

	// CALNOTE_GLOBAL_BUFFERS (always empty).
	writeNoteHeader(buf, calNoteGlobalBuffers, 0)

	// CALNOTE_CONSTANT_BUFFERS: descriptor bytes are reserved but left
	// zeroed, matching the original generator (it advances past them
	// without ever populating their contents).
	writeNoteHeader(buf, calNoteConstBuffers, uint32(8*plan.constBuffersNum))
	buf.Write(make([]byte, 8*plan.constBuffersNum))

	// CALNOTE_SCRATCH_BUFFERS
	writeNoteHeader(buf, calNoteScratchBuffers, 4)
	u32(cfg.ScratchBufferSize)

	// CALNOTE_PERSISTENT_BUFFERS (always empty).
	writeNoteHeader(buf, calNotePersistBuffers, 0)

	return nil
}

// writeUAVEntries emits the 16-byte-per-entry UAV table body, per
// §4.6's driver-version-gated ordering rule.
func writeUAVEntries(buf *bytes.Buffer, cfg kernelmeta.KernelConfig, plan uavPlan, q quirks.DriverQuirks, r kernelmeta.Resolved) {
	u32 := func(v uint32) { binary.Write(buf, binary.LittleEndian, v) }

	if q.OlderThan1124 {
		for kk := 0; kk < plan.writeOnlyImages; kk++ {
			u32(uint32(kk))
			u32(2)
			u32(2)
			u32(3)
		}
		globalBufs := plan.uavsNum - plan.writeOnlyImages - 1
		for kk := 0; kk < globalBufs; kk++ {
			u32(uint32(kk + r.UavID + 1))
			u32(4)
			u32(0)
			u32(5)
		}
	} else {
		writeOnlyCount := 0
		uavIDCount := r.UavID + 1
		for _, arg := range cfg.Args {
			switch {
			case arg.ArgType >= kernelmeta.ArgImage1D && arg.ArgType <= kernelmeta.ArgImage3D &&
				arg.PtrAccess&kernelmeta.ImgAccessMask == kernelmeta.AccessWriteOnly:
				u32(uint32(writeOnlyCount))
				writeOnlyCount++
				u32(2)
				u32(2)
				u32(5)
			case arg.ArgType == kernelmeta.ArgPointer && arg.PtrSpace == kernelmeta.SpaceGlobal:
				u32(uint32(uavIDCount))
				u32(4)
				u32(0)
				u32(5)
				uavIDCount++
			}
		}
	}

	// Trailing private/uav slot.
	if q.OlderThan1384 {
		u32(uint32(r.PrivateID))
		u32(3)
	} else {
		u32(uint32(r.UavID))
		u32(4)
	}
	u32(0)
	u32(5)
}
