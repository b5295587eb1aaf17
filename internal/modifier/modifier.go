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

// Package modifier parses the post-operand VOP modifier stream (mul/div,
// clamp, SDWA selects, DPP controls) and rejects illegal cross-encoding
// mixing.
package modifier

import (
	"fmt"
	"strconv"
	"strings"
)

// GCNVOPEnc is the encoding the caller expects the instruction to use.
type GCNVOPEnc int

const (
	EncNormal GCNVOPEnc = iota
	EncDPP
	EncSDWA
)

// BitWidth is the instruction's required encoding width.
type BitWidth int

const (
	Bit32 BitWidth = iota
	Bit64
)

// DataSel enumerates the SDWA byte/word/dword select values.
type DataSel uint8

const (
	SelB0 DataSel = iota
	SelB1
	SelB2
	SelB3
	SelW0
	SelW1
	SelDWord // default
	selInvalid
)

var selNames = map[string]DataSel{
	"b0": SelB0, "byte_0": SelB0,
	"b1": SelB1, "byte_1": SelB1,
	"b2": SelB2, "byte_2": SelB2,
	"b3": SelB3, "byte_3": SelB3,
	"w0": SelW0, "word_0": SelW0,
	"w1": SelW1, "word_1": SelW1,
	"dword": SelDWord,
}

// DstUnused enumerates the SDWA dst_unused behaviors.
type DstUnused uint8

const (
	UnusedPad DstUnused = iota
	UnusedSext
	UnusedPreserve
)

// OMod is the 2-bit mul/div output modifier field.
type OMod uint8

const (
	OModNone OMod = iota
	OModMul2
	OModMul4
	OModDiv2
)

// Modifiers is the parsed result, per §3's Modifiers record.
type Modifiers struct {
	DstSel     DataSel
	Src0Sel    DataSel
	Src1Sel    DataSel
	DstUnused  DstUnused
	BankMask   uint8
	RowMask    uint8
	DPPCtrl    uint16
	NeedSDWA   bool
	NeedDPP    bool
	OMod       OMod
	Clamp      bool
	BoundCtrl  bool
	ForceVOP3  bool

	hasDstSel, hasSrc0Sel, hasSrc1Sel   bool
	hasDstUnused, hasBankMask, hasRowMask bool
	hasDPPCtrl, hasBoundCtrl             bool
}

// SemanticError mirrors the §7 taxonomy entry used throughout this
// package (cross-encoding mixing, unknown modifier names).
type SemanticError struct{ Message string }

func (e *SemanticError) Error() string { return e.Message }

// Warning is a non-fatal diagnostic (duplicate modifier definitions).
type Warning struct{ Message string }

// Options controls the VOP3/SDWA/DPP precondition checks applied after
// the token stream is parsed.
type Options struct {
	RequiredEnc   GCNVOPEnc
	RequiredWidth BitWidth
	// WithClamp reports whether the surrounding instruction encoding
	// permits a clamp modifier at all. VOP3B instructions (the
	// compare/carry-out forms) do not, so clamp fails there even
	// though the token itself parses.
	WithClamp  bool
	HasLiteral bool
	Src0IsVGPR bool
	// HasSext reports whether the operand being modified carries a
	// sext() wrapper (internal/operand's ModSext). SEXT is incompatible
	// with the DPP encoding.
	HasSext bool
}

// ParseVOPModifiers parses a whitespace-separated "name[:value]" token
// stream into Modifiers, applying the §4.4 cross-encoding checks.
func ParseVOPModifiers(source string, opts Options) (Modifiers, []Warning, error) {
	var m Modifiers
	m.DstSel, m.Src0Sel, m.Src1Sel = SelDWord, SelDWord, SelDWord
	var warnings []Warning
	quadPermSet := false

	for _, tok := range strings.Fields(source) {
		name, value, hasValue := splitToken(tok)
		switch {
		case name == "mul" && hasValue:
			var newMod OMod
			switch value {
			case "2":
				newMod = OModMul2
			case "4":
				newMod = OModMul4
			default:
				return m, warnings, &SemanticError{Message: fmt.Sprintf("invalid mul modifier value %q", value)}
			}
			if m.OMod != OModNone && m.OMod != newMod {
				warnings = append(warnings, Warning{Message: "duplicate omod modifier"})
			}
			m.OMod = newMod
		case name == "div" && hasValue && value == "2":
			if m.OMod != OModNone && m.OMod != OModDiv2 {
				warnings = append(warnings, Warning{Message: "duplicate omod modifier"})
			}
			m.OMod = OModDiv2
		case name == "clamp":
			if m.Clamp {
				warnings = append(warnings, Warning{Message: "duplicate clamp modifier"})
			}
			m.Clamp = true
		case name == "vop3":
			m.ForceVOP3 = true
		case name == "dst_sel" && hasValue:
			sel, ok := selNames[value]
			if !ok {
				return m, warnings, &SemanticError{Message: fmt.Sprintf("unknown dst_sel value %q", value)}
			}
			if m.hasDstSel {
				warnings = append(warnings, Warning{Message: "duplicate dst_sel modifier"})
			}
			m.hasDstSel = true
			m.DstSel = sel
		case name == "src0_sel" && hasValue:
			sel, ok := selNames[value]
			if !ok {
				return m, warnings, &SemanticError{Message: fmt.Sprintf("unknown src0_sel value %q", value)}
			}
			if m.hasSrc0Sel {
				warnings = append(warnings, Warning{Message: "duplicate src0_sel modifier"})
			}
			m.hasSrc0Sel = true
			m.Src0Sel = sel
		case name == "src1_sel" && hasValue:
			sel, ok := selNames[value]
			if !ok {
				return m, warnings, &SemanticError{Message: fmt.Sprintf("unknown src1_sel value %q", value)}
			}
			if m.hasSrc1Sel {
				warnings = append(warnings, Warning{Message: "duplicate src1_sel modifier"})
			}
			m.hasSrc1Sel = true
			m.Src1Sel = sel
		case name == "dst_unused" && hasValue:
			du, ok := parseDstUnused(value)
			if !ok {
				return m, warnings, &SemanticError{Message: fmt.Sprintf("unknown dst_unused value %q", value)}
			}
			if m.hasDstUnused {
				warnings = append(warnings, Warning{Message: "duplicate dst_unused modifier"})
			}
			m.hasDstUnused = true
			m.DstUnused = du
		case name == "quad_perm" && hasValue:
			ctrl, err := parseQuadPerm(value)
			if err != nil {
				return m, warnings, err
			}
			if quadPermSet {
				warnings = append(warnings, Warning{Message: "duplicate quad_perm modifier"})
			}
			quadPermSet = true
			m.hasDPPCtrl = true
			m.DPPCtrl = ctrl
		case name == "bank_mask" && hasValue:
			v, err := parseU4(value)
			if err != nil {
				return m, warnings, err
			}
			if m.hasBankMask {
				warnings = append(warnings, Warning{Message: "duplicate bank_mask modifier"})
			}
			m.hasBankMask = true
			m.BankMask = v
		case name == "row_mask" && hasValue:
			v, err := parseU4(value)
			if err != nil {
				return m, warnings, err
			}
			if m.hasRowMask {
				warnings = append(warnings, Warning{Message: "duplicate row_mask modifier"})
			}
			m.hasRowMask = true
			m.RowMask = v
		case name == "bound_ctrl":
			if m.hasBoundCtrl {
				warnings = append(warnings, Warning{Message: "duplicate bound_ctrl modifier"})
			}
			m.hasBoundCtrl = true
			m.BoundCtrl = true
		case name == "row_shl" && hasValue:
			n, err := parseShift(value)
			if err != nil {
				return m, warnings, err
			}
			m.hasDPPCtrl = true
			m.DPPCtrl = 0x100 | n
		case name == "row_shr" && hasValue:
			n, err := parseShift(value)
			if err != nil {
				return m, warnings, err
			}
			m.hasDPPCtrl = true
			m.DPPCtrl = 0x100 | 0x10 | n
		case name == "row_ror" && hasValue:
			n, err := parseShift(value)
			if err != nil {
				return m, warnings, err
			}
			m.hasDPPCtrl = true
			m.DPPCtrl = 0x100 | 0x20 | n
		case name == "wave_shl":
			m.hasDPPCtrl = true
			m.DPPCtrl = 0x130
		case name == "wave_rol":
			m.hasDPPCtrl = true
			m.DPPCtrl = 0x134
		case name == "wave_shr":
			m.hasDPPCtrl = true
			m.DPPCtrl = 0x138
		case name == "wave_ror":
			m.hasDPPCtrl = true
			m.DPPCtrl = 0x13c
		case name == "row_mirror":
			m.hasDPPCtrl = true
			m.DPPCtrl = 0x140
		case name == "row_half_mirror" || name == "row_hmirror":
			m.hasDPPCtrl = true
			m.DPPCtrl = 0x141
		case name == "row_bcast15" || (name == "row_bcast" && value == "15"):
			m.hasDPPCtrl = true
			m.DPPCtrl = 0x142
		case name == "row_bcast31" || (name == "row_bcast" && value == "31"):
			m.hasDPPCtrl = true
			m.DPPCtrl = 0x143
		default:
			return m, warnings, &SemanticError{Message: fmt.Sprintf("unknown modifier %q", tok)}
		}
	}

	if err := checkEncodingMix(m, opts); err != nil {
		return m, warnings, err
	}
	return m, warnings, nil
}

func (m Modifiers) vopSDWA() bool {
	return m.hasDstSel || m.hasDstUnused || m.hasSrc0Sel || m.hasSrc1Sel
}

func (m Modifiers) vopDPP() bool {
	return m.hasDPPCtrl || m.hasBoundCtrl || m.hasBankMask || m.hasRowMask
}

func (m Modifiers) vop3() bool {
	return m.OMod != OModNone || m.ForceVOP3
}

func checkEncodingMix(m Modifiers, opts Options) error {
	if m.Clamp && !opts.WithClamp {
		return &SemanticError{Message: "clamp is not permitted in this instruction encoding"}
	}
	flags := 0
	if m.vopSDWA() {
		flags++
	}
	if m.vopDPP() {
		flags++
	}
	if m.vop3() {
		flags++
	}
	if flags > 1 {
		return &SemanticError{Message: "Mixing modifiers from different encodings is illegal"}
	}
	if m.Clamp && m.vopDPP() {
		return &SemanticError{Message: "Mixing modifiers from different encodings is illegal"}
	}
	if opts.HasSext && (opts.RequiredEnc == EncDPP || m.vopDPP()) {
		return &SemanticError{Message: "SEXT modifiers is unavailable for DPP word"}
	}

	switch opts.RequiredEnc {
	case EncSDWA:
		if opts.HasLiteral {
			return &SemanticError{Message: "Literal in VOP3 is illegal"}
		}
		if !opts.Src0IsVGPR {
			return &SemanticError{Message: "SDWA src0 must be a VGPR"}
		}
		if m.vop3() {
			return &SemanticError{Message: "VOP3 and SDWA are mutually exclusive"}
		}
	case EncDPP:
		if opts.HasLiteral {
			return &SemanticError{Message: "Literal in VOP3 is illegal"}
		}
		if !opts.Src0IsVGPR {
			return &SemanticError{Message: "DPP src0 must be a VGPR"}
		}
		if m.vop3() {
			return &SemanticError{Message: "VOP3 and DPP are mutually exclusive"}
		}
	}
	return nil
}

func splitToken(tok string) (name, value string, hasValue bool) {
	idx := strings.IndexByte(tok, ':')
	if idx < 0 {
		return tok, "", false
	}
	return tok[:idx], tok[idx+1:], true
}

func parseDstUnused(value string) (DstUnused, bool) {
	value = strings.TrimPrefix(value, "unused_")
	switch value {
	case "pad":
		return UnusedPad, true
	case "sext":
		return UnusedSext, true
	case "preserve":
		return UnusedPreserve, true
	}
	return 0, false
}

func parseQuadPerm(value string) (uint16, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "[")
	value = strings.TrimSuffix(value, "]")
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return 0, &SemanticError{Message: "quad_perm requires exactly 4 lane indices"}
	}
	var ctrl uint16
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 3 {
			return 0, &SemanticError{Message: fmt.Sprintf("invalid quad_perm lane index %q", p)}
		}
		ctrl |= uint16(n) << (uint(i) * 2)
	}
	return ctrl, nil
}

func parseU4(value string) (uint8, error) {
	n, err := strconv.ParseUint(value, 0, 8)
	if err != nil || n > 0xf {
		return 0, &SemanticError{Message: fmt.Sprintf("value %q out of range for 4-bit field", value)}
	}
	return uint8(n), nil
}

func parseShift(value string) (uint16, error) {
	n, err := strconv.ParseUint(value, 0, 8)
	if err != nil || n == 0 || n > 0xf {
		return 0, &SemanticError{Message: fmt.Sprintf("invalid row shift amount %q", value)}
	}
	return uint16(n), nil
}
