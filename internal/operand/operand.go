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

// Package operand parses a single GCN source/destination operand with
// optional VOP3/SDWA/DPP modifiers, inline-constant folding, and literal
// embedding.
package operand

import (
	"strings"

	"github.com/clrx-go/clrxasm/internal/gcnregs"
	"github.com/clrx-go/clrxasm/internal/numeric"
)

// Flags is the capability-bit union accepted by ParseOperand.
type Flags uint32

const (
	SRegs Flags = 1 << iota
	VRegs
	SSource
	LDS
	OnlyInlineConsts
	NoLiteralError
	NoLiteralErrorMUBUF
	VOP3Mods
	VOP3Neg
	ParseWithNeg
)

// TypeMask selects the operand's default numeric precision.
type TypeMask int

const (
	TypeF16 TypeMask = iota
	TypeF32
	TypeV64Bit
	TypeInt
)

// VOPMod is a bitset over {NEG, ABS, SEXT}.
type VOPMod uint8

const (
	ModNeg VOPMod = 1 << iota
	ModAbs
	ModSext
)

// Operand is the parsed representation of a single instruction operand.
type Operand struct {
	Range   gcnregs.RegRange
	Literal uint32
	VOPMods VOPMod
}

// UnresolvedExpr is returned when an operand references a symbol that is
// not yet defined; it is opaque to this package (§1: the expression
// evaluator is an external collaborator).
type UnresolvedExpr struct {
	Source string
}

// Evaluator is the narrow external contract this package consumes an
// expression evaluator through (§1).
type Evaluator func(source string) (value uint64, sectionID int, resolved bool)

// DependencyError mirrors the §7 taxonomy entry for unresolved
// expressions where only inline constants are permitted.
type DependencyError struct{ Message string }

func (e *DependencyError) Error() string { return e.Message }

// SemanticError mirrors the §7 taxonomy entry for illegal literal usage.
type SemanticError struct{ Message string }

func (e *SemanticError) Error() string { return e.Message }

// ParseError mirrors the §7 taxonomy entry for malformed operand syntax.
type ParseError struct{ Message string }

func (e *ParseError) Error() string { return e.Message }

// Context bundles the parameters threaded through ParseOperand's
// recursive descent.
type Context struct {
	Arch        gcnregs.Arch
	RegsNum     int
	Flags       Flags
	TypeMask    TypeMask
	BuggyFPLit  bool
	Sym         gcnregs.SymbolTable
	Eval        Evaluator
}

// ParseOperand implements the §4.3 nine-step sequence.
func ParseOperand(c *gcnregs.Cursor, ctx Context) (Operand, *UnresolvedExpr, bool, error) {
	var op Operand

	// Step 1: modifier prefix (sext(/-/abs(/|).
	if ctx.Flags&VOP3Mods != 0 {
		mark := c.Pos
		skipSpaces(c)
		switch {
		case hasPrefixAt(c, "sext("):
			c.Pos += len("sext(")
			op.VOPMods |= ModSext
			inner := ctx
			inner.Flags = ctx.Flags &^ VOP3Mods
			sub, expr, ok, err := ParseOperand(c, inner)
			if err != nil {
				return Operand{}, nil, false, err
			}
			if !ok {
				return Operand{}, nil, false, &ParseError{Message: "expected operand inside sext(...)"}
			}
			skipSpaces(c)
			if !consumeByte(c, ')') {
				return Operand{}, nil, false, &ParseError{Message: "expected ')' to close sext(...)"}
			}
			sub.VOPMods |= op.VOPMods
			return sub, expr, true, nil
		case hasPrefixAt(c, "abs("):
			c.Pos += len("abs(")
			op.VOPMods |= ModAbs
			inner := ctx
			inner.Flags = ctx.Flags &^ VOP3Mods
			sub, expr, ok, err := ParseOperand(c, inner)
			if err != nil {
				return Operand{}, nil, false, err
			}
			if !ok {
				return Operand{}, nil, false, &ParseError{Message: "expected operand inside abs(...)"}
			}
			skipSpaces(c)
			if !consumeByte(c, ')') {
				return Operand{}, nil, false, &ParseError{Message: "expected ')' to close abs(...)"}
			}
			sub.VOPMods |= op.VOPMods
			return sub, expr, true, nil
		case hasPrefixAt(c, "|"):
			c.Pos += 1
			op.VOPMods |= ModAbs
			inner := ctx
			inner.Flags = ctx.Flags &^ VOP3Mods
			sub, expr, ok, err := ParseOperand(c, inner)
			if err != nil {
				return Operand{}, nil, false, err
			}
			if !ok {
				return Operand{}, nil, false, &ParseError{Message: "expected operand inside |...|"}
			}
			skipSpaces(c)
			if !consumeByte(c, '|') {
				return Operand{}, nil, false, &ParseError{Message: "expected closing '|'"}
			}
			sub.VOPMods |= op.VOPMods
			return sub, expr, true, nil
		case hasPrefixAt(c, "-"):
			c.Pos += 1
			op.VOPMods |= ModNeg
			inner := ctx
			inner.Flags = (ctx.Flags &^ VOP3Mods) | ParseWithNeg
			sub, expr, ok, err := ParseOperand(c, inner)
			if err != nil {
				return Operand{}, nil, false, err
			}
			if !ok {
				return Operand{}, nil, false, &ParseError{Message: "expected operand after '-'"}
			}
			sub.VOPMods |= op.VOPMods
			return sub, expr, true, nil
		default:
			c.Pos = mark
		}
	}

	// Step 2: bare negation.
	if ctx.Flags&(VOP3Neg|ParseWithNeg) != 0 {
		skipSpaces(c)
		if hasPrefixAt(c, "-") {
			c.Pos++
			op.VOPMods |= ModNeg
		}
	}

	skipSpaces(c)

	// Step 3: register attempt.
	var regFlags gcnregs.Flags
	if ctx.Flags&SRegs != 0 {
		regFlags |= gcnregs.InstropSRegs
	}
	if ctx.Flags&VRegs != 0 {
		regFlags |= gcnregs.InstropVRegs
	}
	if ctx.Flags&SSource != 0 {
		regFlags |= gcnregs.InstropSSource
	}
	if ctx.Flags&LDS != 0 {
		regFlags |= gcnregs.InstropLDS
	}
	regFlags |= gcnregs.InstropSymRegRange
	rr, ok, err := gcnregs.ParseRegRange(c, ctx.Arch, ctx.RegsNum, regFlags, false, ctx.Sym)
	if err != nil {
		return Operand{}, nil, false, err
	}
	if ok {
		op.Range = rr
		return op, nil, true, nil
	}

	// Step 4: special scalar names (handled inside gcnregs via SSource flag
	// already; step 5 lit(), step 6-9 below).

	// Step 5: lit(expr) wrapper.
	if hasPrefixAt(c, "lit(") {
		c.Pos += len("lit(")
		tokStart := c.Pos
		depth := 1
		for c.Pos < len(c.Text) && depth > 0 {
			switch c.Text[c.Pos] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					goto closed
				}
			}
			c.Pos++
		}
		return Operand{}, nil, false, &ParseError{Message: "unterminated lit(...)"}
	closed:
		inner := strings.TrimSpace(c.Text[tokStart:c.Pos])
		c.Pos++ // consume ')'
		bitsVal, derr := parseLiteralValue(inner, ctx)
		if derr != nil {
			return Operand{}, nil, false, derr
		}
		op.Range = gcnregs.RegRange{Start: 255, End: 0}
		op.Literal = bitsVal
		return op, nil, true, nil
	}

	// Steps 6-9: numeric literal / inline-constant folding / unresolved expr.
	tokStart := c.Pos
	tok := scanToken(c)
	if tok == "" {
		return Operand{}, nil, false, &ParseError{Message: "expected operand"}
	}

	precision := defaultPrecision(ctx)
	if body, suffixPrec, hasSuffix := numeric.SplitFloatSuffix(tok); hasSuffix {
		tok = body
		precision = suffixPrec
	}
	isFloatTok := numeric.IsOnlyFloatToken(tok)
	if ctx.BuggyFPLit && ctx.TypeMask == TypeV64Bit {
		isFloatTok = false
	}

	if isFloatTok {
		bitsVal, ferr := numeric.ParseFloat(tok, precision)
		if ferr != nil {
			return Operand{}, nil, false, ferr
		}
		foldPrecision := precision
		if ctx.BuggyFPLit {
			foldPrecision = numeric.Single
		}
		if rng, folded := foldFloatConst(bitsVal, foldPrecision, ctx.Arch); folded {
			op.Range = rng
			return op, nil, true, nil
		}
		return emitLiteral(op, uint32(bitsVal), ctx)
	}

	// integer or symbol/expression.
	v, ierr := numeric.ParseInt(tok, 32, true)
	if ierr == nil {
		iv := int64(int32(v))
		if rng, folded := foldIntConst(iv); folded {
			op.Range = rng
			return op, nil, true, nil
		}
		return emitLiteral(op, uint32(v), ctx)
	}

	// Not a plain literal: consult the external expression evaluator.
	c.Pos = tokStart
	exprTok := scanExprToken(c)
	if ctx.Eval != nil {
		if val, _, resolved := ctx.Eval(exprTok); resolved {
			if rng, folded := foldIntConst(int64(int32(val))); folded {
				op.Range = rng
				return op, nil, true, nil
			}
			return emitLiteral(op, uint32(val), ctx)
		}
	}
	// unresolved.
	if ctx.Flags&OnlyInlineConsts != 0 {
		return Operand{}, nil, false, &DependencyError{Message: "expression must resolve to inline constant"}
	}
	op.Range = gcnregs.RegRange{Start: 255, End: 0}
	return op, &UnresolvedExpr{Source: exprTok}, true, nil
}

func emitLiteral(op Operand, bitsVal uint32, ctx Context) (Operand, *UnresolvedExpr, bool, error) {
	if ctx.Flags&NoLiteralError != 0 {
		return Operand{}, nil, false, &SemanticError{Message: "Literal in VOP3 is illegal"}
	}
	if ctx.Flags&NoLiteralErrorMUBUF != 0 {
		return Operand{}, nil, false, &SemanticError{Message: "Literal in MUBUF is illegal"}
	}
	op.Range = gcnregs.RegRange{Start: 255, End: 0}
	op.Literal = bitsVal
	return op, nil, true, nil
}

func parseLiteralValue(tok string, ctx Context) (uint32, error) {
	precision := defaultPrecision(ctx)
	if body, suffixPrec, hasSuffix := numeric.SplitFloatSuffix(tok); hasSuffix {
		tok = body
		precision = suffixPrec
	}
	if numeric.IsOnlyFloatToken(tok) {
		bitsVal, err := numeric.ParseFloat(tok, precision)
		return uint32(bitsVal), err
	}
	v, err := numeric.ParseInt(tok, 32, true)
	return uint32(v), err
}

func defaultPrecision(ctx Context) numeric.Precision {
	switch ctx.TypeMask {
	case TypeF16:
		return numeric.Half
	case TypeV64Bit:
		return numeric.Double
	default:
		return numeric.Single
	}
}

// foldIntConst implements §4.3 step 7's integer inline-constant table.
func foldIntConst(v int64) (gcnregs.RegRange, bool) {
	if v >= 0 && v <= 64 {
		base := uint16(128 + v)
		return gcnregs.RegRange{Start: base, End: 0}, true
	}
	if v >= -16 && v < 0 {
		base := uint16(192 - v)
		return gcnregs.RegRange{Start: base, End: 0}, true
	}
	return gcnregs.RegRange{}, false
}

// foldFloatConst implements §4.3 step 7's float inline-constant table.
func foldFloatConst(bitsVal uint64, prec numeric.Precision, arch gcnregs.Arch) (gcnregs.RegRange, bool) {
	constants := map[uint64]uint16{}
	switch prec {
	case numeric.Double:
		constants = map[uint64]uint16{
			0x0000000000000000: 128,
			0x3FE0000000000000: 240, 0xBFE0000000000000: 241,
			0x3FF0000000000000: 242, 0xBFF0000000000000: 243,
			0x4000000000000000: 244, 0xC000000000000000: 245,
			0x4010000000000000: 246, 0xC010000000000000: 247,
		}
	case numeric.Half:
		constants = map[uint64]uint16{
			0x0000: 128,
			0x3800: 240, 0xB800: 241,
			0x3C00: 242, 0xBC00: 243,
			0x4000: 244, 0xC000: 245,
			0x4400: 246, 0xC400: 247,
		}
	default: // Single
		constants = map[uint64]uint16{
			0x00000000: 128,
			0x3F000000: 240, 0xBF000000: 241,
			0x3F800000: 242, 0xBF800000: 243,
			0x40000000: 244, 0xC0000000: 245,
			0x40800000: 246, 0xC0800000: 247,
		}
	}
	if base, ok := constants[bitsVal]; ok {
		return gcnregs.RegRange{Start: base, End: 0}, true
	}
	if arch&gcnregs.ArchRX3X0 != 0 {
		invTwoPi := map[numeric.Precision]uint64{
			numeric.Double: 0x3FC45F306DC9C883,
			numeric.Single: 0x3E22F983,
			numeric.Half:   0x3118,
		}
		if bitsVal == invTwoPi[prec] {
			return gcnregs.RegRange{Start: 248, End: 0}, true
		}
	}
	return gcnregs.RegRange{}, false
}

func skipSpaces(c *gcnregs.Cursor) {
	for c.Pos < len(c.Text) && (c.Text[c.Pos] == ' ' || c.Text[c.Pos] == '\t') {
		c.Pos++
	}
}

func hasPrefixAt(c *gcnregs.Cursor, prefix string) bool {
	return strings.HasPrefix(c.Text[c.Pos:], prefix)
}

func consumeByte(c *gcnregs.Cursor, b byte) bool {
	if c.Pos < len(c.Text) && c.Text[c.Pos] == b {
		c.Pos++
		return true
	}
	return false
}

func scanToken(c *gcnregs.Cursor) string {
	start := c.Pos
	for c.Pos < len(c.Text) {
		b := c.Text[c.Pos]
		if b == ' ' || b == '\t' || b == ',' || b == ')' || b == '|' {
			break
		}
		c.Pos++
	}
	return c.Text[start:c.Pos]
}

func scanExprToken(c *gcnregs.Cursor) string {
	return scanToken(c)
}
