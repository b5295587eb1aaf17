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

// Package gcnregs resolves textual GCN register references into index
// ranges against the unified 10-bit register space.
package gcnregs

import (
	"fmt"
	"strconv"
	"strings"
)

// Arch is a bitmask of architecture-generation flags.
type Arch uint32

const (
	ArchRX3X0    Arch = 1 << iota // GCN 1.2
	ArchGCN112                   // GCN 1.1/1.2 shared features
)

// Flags controls which register classes/behaviors a resolve call accepts.
type Flags uint32

const (
	InstropSRegs Flags = 1 << iota
	InstropVRegs
	InstropSSource
	InstropUnaligned
	InstropSymRegRange
	InstropLDS
)

// RegRange is a half-open [Start,End) interval in the unified register
// space. Both endpoints zero means "absent".
type RegRange struct {
	Start uint16
	End   uint16
}

func (r RegRange) Len() int      { return int(r.End) - int(r.Start) }
func (r RegRange) IsAbsent() bool { return r.Start == 0 && r.End == 0 }

// MaxSGPR returns the number of scalar registers for the architecture.
func MaxSGPR(arch Arch) int {
	if arch&ArchRX3X0 != 0 {
		return 102
	}
	return 104
}

// ParseError mirrors the §7 ParseError taxonomy entry.
type ParseError struct{ Message string }

func (e *ParseError) Error() string { return e.Message }

// RangeError mirrors the §7 RangeError taxonomy entry (alignment,
// out-of-pool, register-count mismatches).
type RangeError struct{ Message string }

func (e *RangeError) Error() string { return e.Message }

// RegVarType distinguishes named register-variable classes.
type RegVarType int

const (
	RegVarSGPR RegVarType = iota
	RegVarVGPR
)

// RegVar is a named register-range symbol, resolved against the current
// section's symbol table before falling through to the literal grammar.
type RegVar struct {
	Name string
	Type RegVarType
	Size uint16
}

// UsageRecord is produced whenever a RegVar resolves successfully, for
// consumption by a later (out-of-scope) register-allocation pass.
type UsageRecord struct {
	OutPos int
	Field  string
	RStart uint16
	REnd   uint16
	Read   bool
	Write  bool
	RegVar *RegVar
}

// SymbolTable resolves RegVar names within the current assembler section.
type SymbolTable interface {
	LookupRegVar(name string) (*RegVar, bool)
	RecordUsage(u UsageRecord)
}

// Cursor is a minimal restorable scan position over source text.
type Cursor struct {
	Text string
	Pos  int
}

func (c *Cursor) mark() int       { return c.Pos }
func (c *Cursor) restore(mark int) { c.Pos = mark }

func (c *Cursor) skipSpaces() {
	for c.Pos < len(c.Text) && (c.Text[c.Pos] == ' ' || c.Text[c.Pos] == '\t') {
		c.Pos++
	}
}

func (c *Cursor) peekIdent() string {
	start := c.Pos
	i := c.Pos
	for i < len(c.Text) && isIdentByte(c.Text[i]) {
		i++
	}
	return c.Text[start:i]
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

var specialSingle = map[string]uint16{
	"vccz":  251,
	"execz": 252,
	"scc":   253,
}

var specialLDS = map[string]uint16{
	"lds":          254,
	"lds_direct":   254,
	"src_lds_direct": 254,
}

type namedPair struct {
	base     uint16
	hasLo    bool
	needsGen int // 0 = any, 1 = GCN1.1+, 2 = GCN1.2-only
}

// ParseRegRange recognizes the full §4.2 grammar at the cursor. It
// returns (range, matched, error): matched=false with no error is a
// polite miss (cursor restored) when required=false.
func ParseRegRange(c *Cursor, arch Arch, regsNum int, flags Flags, required bool, sym SymbolTable) (RegRange, bool, error) {
	start := c.mark()
	c.skipSpaces()

	rr, ok, err := tryNamed(c, arch, flags)
	if err != nil {
		return RegRange{}, false, err
	}
	if !ok {
		rr, ok, err = tryVectorOrScalar(c, arch, flags)
		if err != nil {
			return RegRange{}, false, err
		}
	}
	if !ok && flags&InstropSymRegRange != 0 && sym != nil {
		rr, ok, err = trySymbolic(c, sym)
		if err != nil {
			return RegRange{}, false, err
		}
	}

	if !ok {
		c.restore(start)
		if required {
			return RegRange{}, false, &ParseError{Message: "expected register operand"}
		}
		return RegRange{}, false, nil
	}

	if err := checkAlignment(rr, arch, flags); err != nil {
		return RegRange{}, false, err
	}
	if regsNum != 0 && rr.Len() != regsNum {
		return RegRange{}, false, &RangeError{Message: fmt.Sprintf("register count required %d, got %d", regsNum, rr.Len())}
	}
	return rr, true, nil
}

func tryNamed(c *Cursor, arch Arch, flags Flags) (RegRange, bool, error) {
	start := c.mark()
	ident := c.peekIdent()
	lower := strings.ToLower(ident)

	match := func(n int, rr RegRange) (RegRange, bool, error) {
		c.Pos = start + n
		return rr, true, nil
	}

	switch {
	case lower == "vcc_lo":
		return match(len(ident), RegRange{106, 107})
	case lower == "vcc_hi":
		return match(len(ident), RegRange{107, 108})
	case lower == "vcc":
		return match(len(ident), RegRange{106, 108})
	case lower == "exec_lo":
		return match(len(ident), RegRange{126, 127})
	case lower == "exec_hi":
		return match(len(ident), RegRange{127, 128})
	case lower == "exec":
		return match(len(ident), RegRange{126, 128})
	case lower == "tba_lo":
		return match(len(ident), RegRange{108, 109})
	case lower == "tba_hi":
		return match(len(ident), RegRange{109, 110})
	case lower == "tba":
		return match(len(ident), RegRange{108, 110})
	case lower == "tma_lo":
		return match(len(ident), RegRange{110, 111})
	case lower == "tma_hi":
		return match(len(ident), RegRange{111, 112})
	case lower == "tma":
		return match(len(ident), RegRange{110, 112})
	case lower == "m0":
		return match(len(ident), RegRange{124, 125})
	case lower == "flat_scratch_lo" || lower == "flat_scratch_hi" || lower == "flat_scratch":
		base := uint16(MaxSGPR(arch))
		switch lower {
		case "flat_scratch_lo":
			return match(len(ident), RegRange{base, base + 1})
		case "flat_scratch_hi":
			return match(len(ident), RegRange{base + 1, base + 2})
		default:
			return match(len(ident), RegRange{base, base + 2})
		}
	case (lower == "xnack_mask_lo" || lower == "xnack_mask_hi" || lower == "xnack_mask") && arch&ArchRX3X0 != 0:
		base := uint16(MaxSGPR(arch))
		switch lower {
		case "xnack_mask_lo":
			return match(len(ident), RegRange{base, base + 1})
		case "xnack_mask_hi":
			return match(len(ident), RegRange{base + 1, base + 2})
		default:
			return match(len(ident), RegRange{base, base + 2})
		}
	case lower == "vccz":
		if flags&InstropSSource == 0 {
			return RegRange{}, false, nil
		}
		return match(len(ident), RegRange{specialSingle["vccz"], specialSingle["vccz"] + 1})
	case lower == "execz":
		if flags&InstropSSource == 0 {
			return RegRange{}, false, nil
		}
		return match(len(ident), RegRange{specialSingle["execz"], specialSingle["execz"] + 1})
	case lower == "scc":
		if flags&InstropSSource == 0 {
			return RegRange{}, false, nil
		}
		return match(len(ident), RegRange{specialSingle["scc"], specialSingle["scc"] + 1})
	case lower == "lds" || lower == "lds_direct" || lower == "src_lds_direct":
		if flags&InstropLDS == 0 {
			return RegRange{}, false, nil
		}
		return match(len(ident), RegRange{254, 255})
	case strings.HasPrefix(lower, "ttmp"):
		return tryIndexedOrRange(c, start, ident, "ttmp", 112, 12)
	}
	return RegRange{}, false, nil
}

func tryIndexedOrRange(c *Cursor, start int, ident, prefix string, base uint16, poolSize int) (RegRange, bool, error) {
	rest := ident[len(prefix):]
	if rest != "" {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 || n >= poolSize {
			return RegRange{}, false, nil
		}
		c.Pos = start + len(ident)
		return RegRange{base + uint16(n), base + uint16(n) + 1}, true, nil
	}
	// bracketed range form: prefix[lo:hi]
	p := start + len(prefix)
	if p >= len(c.Text) || c.Text[p] != '[' {
		return RegRange{}, false, nil
	}
	lo, hi, newPos, ok := parseBracketRange(c.Text, p)
	if !ok || lo > hi || hi >= poolSize {
		return RegRange{}, false, &ParseError{Message: fmt.Sprintf("malformed %s range", prefix)}
	}
	c.Pos = newPos
	return RegRange{base + uint16(lo), base + uint16(hi) + 1}, true, nil
}

func tryVectorOrScalar(c *Cursor, arch Arch, flags Flags) (RegRange, bool, error) {
	start := c.mark()
	if c.Pos >= len(c.Text) {
		return RegRange{}, false, nil
	}
	lower := byte(0)
	if c.Text[c.Pos] == 'v' || c.Text[c.Pos] == 'V' {
		lower = 'v'
	} else if c.Text[c.Pos] == 's' || c.Text[c.Pos] == 'S' {
		lower = 's'
	} else {
		return RegRange{}, false, nil
	}
	if lower == 'v' && flags&InstropVRegs == 0 {
		return RegRange{}, false, nil
	}
	if lower == 's' && flags&InstropSRegs == 0 {
		return RegRange{}, false, nil
	}
	p := c.Pos + 1
	if p < len(c.Text) && c.Text[p] == '[' {
		loHi, hiHi, newPos, ok := parseBracketRange(c.Text, p)
		if !ok {
			return RegRange{}, false, &ParseError{Message: "malformed register range"}
		}
		poolSize := 256
		var base uint16
		if lower == 'v' {
			base = 256
		} else {
			base = 0
			poolSize = MaxSGPR(arch)
		}
		if loHi > hiHi || hiHi >= poolSize {
			return RegRange{}, false, &RangeError{Message: "register range out of pool"}
		}
		c.Pos = newPos
		return RegRange{base + uint16(loHi), base + uint16(hiHi) + 1}, true, nil
	}
	// vN / sN
	digitsStart := p
	for p < len(c.Text) && c.Text[p] >= '0' && c.Text[p] <= '9' {
		p++
	}
	if p == digitsStart {
		return RegRange{}, false, nil
	}
	n, err := strconv.Atoi(c.Text[digitsStart:p])
	if err != nil {
		return RegRange{}, false, nil
	}
	poolSize := 256
	var base uint16
	if lower == 'v' {
		base = 256
	} else {
		poolSize = MaxSGPR(arch)
	}
	if n < 0 || n >= poolSize {
		c.Pos = start
		return RegRange{}, false, &RangeError{Message: "register index out of pool"}
	}
	c.Pos = p
	return RegRange{base + uint16(n), base + uint16(n) + 1}, true, nil
}

// parseBracketRange parses "[lo:hi]" starting at the '[' byte.
func parseBracketRange(text string, bracketPos int) (lo, hi, newPos int, ok bool) {
	p := bracketPos + 1
	loStart := p
	for p < len(text) && text[p] >= '0' && text[p] <= '9' {
		p++
	}
	if p == loStart || p >= len(text) || text[p] != ':' {
		return 0, 0, 0, false
	}
	loVal, err := strconv.Atoi(text[loStart:p])
	if err != nil {
		return 0, 0, 0, false
	}
	p++ // skip ':'
	hiStart := p
	for p < len(text) && text[p] >= '0' && text[p] <= '9' {
		p++
	}
	if p == hiStart || p >= len(text) || text[p] != ']' {
		return 0, 0, 0, false
	}
	hiVal, err := strconv.Atoi(text[hiStart:p])
	if err != nil {
		return 0, 0, 0, false
	}
	return loVal, hiVal, p + 1, true
}

func trySymbolic(c *Cursor, sym SymbolTable) (RegRange, bool, error) {
	start := c.mark()
	ident := c.peekIdent()
	if ident == "" {
		return RegRange{}, false, nil
	}
	name := ident
	rest := c.Pos + len(ident)
	lo, hi := 0, -1
	newPos := rest
	if rest < len(c.Text) && c.Text[rest] == '[' {
		l, h, np, ok := parseBracketRange(c.Text, rest)
		if !ok {
			return RegRange{}, false, &ParseError{Message: "malformed symbolic register sub-range"}
		}
		lo, hi, newPos = l, h, np
	}
	rv, ok := sym.LookupRegVar(name)
	if !ok {
		c.restore(start)
		return RegRange{}, false, nil
	}
	if hi < 0 {
		hi = int(rv.Size) - 1
	}
	if lo > hi || hi >= int(rv.Size) {
		return RegRange{}, false, &RangeError{Message: fmt.Sprintf("sub-range out of bounds for register variable %q", name)}
	}
	c.Pos = newPos
	rr := RegRange{uint16(lo), uint16(hi + 1)}
	sym.RecordUsage(UsageRecord{RStart: rr.Start, REnd: rr.End, RegVar: rv})
	return rr, true, nil
}

func checkAlignment(rr RegRange, arch Arch, flags Flags) error {
	if flags&InstropUnaligned != 0 {
		return nil
	}
	if int(rr.Start) >= MaxSGPR(arch) {
		return nil // not scalar pool
	}
	n := rr.Len()
	if n == 2 && rr.Start%2 != 0 {
		return &RangeError{Message: "Unaligned scalar register range"}
	}
	if n >= 3 && rr.Start%4 != 0 {
		return &RangeError{Message: "Unaligned scalar register range"}
	}
	return nil
}

// ParseSRegRange is a convenience entry point used by the §8 testable
// properties (parseSRegRange("s[2:3]"), parseSRegRange("vcc"), ...).
func ParseSRegRange(text string, arch Arch) (RegRange, error) {
	c := &Cursor{Text: text}
	rr, ok, err := ParseRegRange(c, arch, 0, InstropSRegs|InstropSSource, true, nil)
	if err != nil {
		return RegRange{}, err
	}
	if !ok {
		return RegRange{}, &ParseError{Message: fmt.Sprintf("not a scalar register: %q", text)}
	}
	return rr, nil
}
