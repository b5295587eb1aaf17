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

// Package cli parses the embedded compiler-options grammar carried in
// an AmdInput's compileOptions string, and the three environment
// variables that steer legacy ICD behavior.
package cli

import (
	"os"
	"regexp"
	"strings"

	"github.com/clrx-go/clrxasm/internal/numeric"
)

var symbolNameRe = regexp.MustCompile(`^[A-Za-z._$][A-Za-z0-9._$]*$`)

// DefSym is one `-D`/`-defsym` definition.
type DefSym struct {
	Name  string
	Value string // empty when the symbol has no "=value" part
}

// Options holds the parsed compiler-options grammar, per §6.
type Options struct {
	Warnings        bool
	ForceAddSymbols bool
	IncludePaths    []string
	Defines         []DefSym
}

// SemanticError reports a malformed compiler-options token.
type SemanticError struct{ Message string }

func (e *SemanticError) Error() string { return e.Message }

// ParseCompilerOptions tokenizes a whitespace-separated options string.
// `-x asm` is required; any other `-x` value is rejected.
func ParseCompilerOptions(source string) (Options, error) {
	opts := Options{Warnings: true}
	tokens := strings.Fields(source)
	sawX := false

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok == "-w":
			opts.Warnings = false
		case tok == "-forceAddSymbols":
			opts.ForceAddSymbols = true
		case tok == "-x":
			i++
			if i >= len(tokens) || tokens[i] != "asm" {
				return opts, &SemanticError{Message: "only '-x asm' is supported"}
			}
			sawX = true
		case strings.HasPrefix(tok, "-x"):
			value := strings.TrimPrefix(tok, "-x")
			if value != "asm" {
				return opts, &SemanticError{Message: "only '-x asm' is supported"}
			}
			sawX = true
		case tok == "-I" || tok == "-includepath":
			i++
			if i >= len(tokens) {
				return opts, &SemanticError{Message: "missing argument to " + tok}
			}
			opts.IncludePaths = append(opts.IncludePaths, tokens[i])
		case strings.HasPrefix(tok, "-includepath="):
			opts.IncludePaths = append(opts.IncludePaths, strings.TrimPrefix(tok, "-includepath="))
		case strings.HasPrefix(tok, "-I"):
			opts.IncludePaths = append(opts.IncludePaths, strings.TrimPrefix(tok, "-I"))
		case tok == "-D" || tok == "-defsym":
			i++
			if i >= len(tokens) {
				return opts, &SemanticError{Message: "missing argument to " + tok}
			}
			def, err := parseDefSym(tokens[i])
			if err != nil {
				return opts, err
			}
			opts.Defines = append(opts.Defines, def)
		case strings.HasPrefix(tok, "-defsym="):
			def, err := parseDefSym(strings.TrimPrefix(tok, "-defsym="))
			if err != nil {
				return opts, err
			}
			opts.Defines = append(opts.Defines, def)
		case strings.HasPrefix(tok, "-D"):
			def, err := parseDefSym(strings.TrimPrefix(tok, "-D"))
			if err != nil {
				return opts, err
			}
			opts.Defines = append(opts.Defines, def)
		default:
			return opts, &SemanticError{Message: "unrecognized compiler option " + tok}
		}
	}

	if !sawX {
		return opts, &SemanticError{Message: "-x asm is required"}
	}
	return opts, nil
}

func parseDefSym(tok string) (DefSym, error) {
	name, value, hasValue := strings.Cut(tok, "=")
	if !symbolNameRe.MatchString(name) {
		return DefSym{}, &SemanticError{Message: "invalid symbol name " + name}
	}
	if hasValue {
		if _, err := numeric.ParseInt(value, 64, true); err != nil {
			return DefSym{}, &SemanticError{Message: "invalid value for symbol " + name + ": " + err.Error()}
		}
	}
	return DefSym{Name: name, Value: value}, nil
}

// boolTrue / boolFalse enumerate the accepted spellings for the
// environment-variable boolean grammar, case-insensitively.
var boolTrue = map[string]bool{"1": true, "true": true, "t": true, "on": true, "yes": true, "y": true}
var boolFalse = map[string]bool{"0": true, "false": true, "f": true, "off": true, "no": true, "n": true}

// ParseBoolEnv parses one of the accepted boolean spellings, defaulting
// to defaultVal when the variable is unset or empty.
func ParseBoolEnv(value string, defaultVal bool) (bool, error) {
	if value == "" {
		return defaultVal, nil
	}
	lower := strings.ToLower(value)
	if boolTrue[lower] {
		return true, nil
	}
	if boolFalse[lower] {
		return false, nil
	}
	return false, &SemanticError{Message: "invalid boolean value " + value}
}

// Environment mirrors §6's three recognized environment variables.
type Environment struct {
	ForceOriginalAMDOCL bool
	AMDOCLPath          string
	Force64BitPtr       bool
}

// LoadEnvironment reads CLRX_FORCE_ORIGINAL_AMDOCL, CLRX_AMDOCL_PATH
// and GPU_FORCE_64BIT_PTR from the process environment.
func LoadEnvironment() (Environment, error) {
	var env Environment
	var err error
	if env.ForceOriginalAMDOCL, err = ParseBoolEnv(os.Getenv("CLRX_FORCE_ORIGINAL_AMDOCL"), false); err != nil {
		return env, err
	}
	env.AMDOCLPath = os.Getenv("CLRX_AMDOCL_PATH")
	if env.Force64BitPtr, err = ParseBoolEnv(os.Getenv("GPU_FORCE_64BIT_PTR"), false); err != nil {
		return env, err
	}
	return env, nil
}
