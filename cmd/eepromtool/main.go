// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// eepromtool inspects and, on request, reprograms the configuration EEPROMs
// of Axxon PCIe-to-PCI bridge cards: the PEX8112 bridge itself and the
// OX16PCI954 multi-UART chips it carries. Run with no subcommand, it walks
// the whole bus and reports (or, with --flash, fixes) every card it finds;
// the list/info/dump_resource/dump_eeprom/axxon subcommands target one
// endpoint at a time.
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run())
}

// run builds and executes the command tree, translating its outcome into
// the process exit code spec.md §6.4 defines: 0 success, 1 failure, 11
// when a bulk walk found a stale device but was not asked to fix it.
func run() int {
	root := newRootCmd()
	root.SilenceUsage = true
	root.SilenceErrors = true
	if err := root.Execute(); err != nil {
		if ec, ok := err.(exitCoder); ok {
			if msg := ec.Error(); msg != "" {
				fmt.Fprintf(os.Stderr, "eepromtool: %s.\n", msg)
			}
			return ec.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "eepromtool: %s.\n", err)
		return 1
	}
	return 0
}

// exitCoder lets a subcommand request a specific process exit code (e.g.
// 11 for "devices out of date, --flash not requested") instead of the
// default 1 any other error maps to.
type exitCoder interface {
	error
	ExitCode() int
}

// exitCodeError wraps an error (possibly nil, for a silent non-zero exit)
// with an explicit exit code.
type exitCodeError struct {
	err  error
	code int
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitCodeError) ExitCode() int { return e.code }

var _ exitCoder = (*exitCodeError)(nil)
