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
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clrx-go/clrxasm/internal/asmsession"
	"github.com/clrx-go/clrxasm/internal/cli"
	"github.com/clrx-go/clrxasm/internal/quirks"
)

var deviceNames = map[string]quirks.GPUDeviceType{
	"capeverde": quirks.CapeVerde,
	"pitcairn":  quirks.Pitcairn,
	"tahiti":    quirks.Tahiti,
	"oland":     quirks.Oland,
	"bonaire":   quirks.Bonaire,
	"spectre":   quirks.Spectre,
	"spooky":    quirks.Spooky,
	"kalindi":   quirks.Kalindi,
	"hainan":    quirks.Hainan,
	"hawaii":    quirks.Hawaii,
	"iceland":   quirks.Iceland,
	"tonga":     quirks.Tonga,
	"mullins":   quirks.Mullins,
}

var command = &cobra.Command{
	Use:  "clrxasm source [-d device] [-o output]",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sourcePath := args[0]
		output, _ := cmd.PersistentFlags().GetString("output")
		deviceName, _ := cmd.PersistentFlags().GetString("device")
		is64Bit, _ := cmd.PersistentFlags().GetBool("64bit")
		driverVersionStr, _ := cmd.PersistentFlags().GetString("driver-version")
		compileOpts, _ := cmd.PersistentFlags().GetString("compile-options")

		deviceType, ok := deviceNames[strings.ToLower(deviceName)]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown device %q\n", deviceName)
			os.Exit(1)
		}

		if _, err := cli.ParseCompilerOptions(compileOpts); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		var driverVersion uint32
		if driverVersionStr != "" {
			v, err := strconv.ParseUint(driverVersionStr, 10, 32)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid -driver-version: %v\n", err)
				os.Exit(1)
			}
			driverVersion = uint32(v)
		}

		source, err := os.ReadFile(sourcePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		prog := &asmsession.Program{
			Source:        string(source),
			CompileOpts:   compileOpts,
			DriverVersion: driverVersion,
			Devices:       []asmsession.Request{{DeviceType: deviceType, Is64Bit: is64Bit}},
		}

		var driver asmsession.Driver
		results := driver.Compile(prog)

		exitCode := 0
		for i, entry := range results {
			if entry.Device == asmsession.StatusError {
				exitCode = 1
				for _, diag := range entry.Log {
					fmt.Fprintf(os.Stderr, "device %d: %s\n", i, diag.Message)
				}
				continue
			}
			if output == "" {
				output = sourcePath + ".bin"
			}
			if err := os.WriteFile(output, entry.Binary, 0o644); err != nil {
				fmt.Fprintln(os.Stderr, err)
				exitCode = 1
			}
		}
		os.Exit(exitCode)
	},
}

func init() {
	command.PersistentFlags().StringP("output", "o", "", "output binary path")
	command.PersistentFlags().StringP("device", "d", "tahiti", "target GPU device codename")
	command.PersistentFlags().Bool("64bit", false, "generate a 64-bit ELF binary")
	command.PersistentFlags().String("driver-version", "", "assume this AMD driver version (e.g. 164205)")
	command.PersistentFlags().StringP("compile-options", "O", "-x asm", "compiler-options grammar string (must include -x asm)")
}

func main() {
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
