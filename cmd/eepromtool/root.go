// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/axxon/eepromtool/conn/pciwindow"
	"github.com/axxon/eepromtool/host/pci"
	"github.com/axxon/eepromtool/orchestrate"
)

// globalFlags holds the persistent flags shared by every verb, mirroring
// the teacher's cmd/spi-io-style "-v" verbosity flag generalized to
// cobra's persistent-flag mechanism.
type globalFlags struct {
	flash   bool
	dryRun  bool
	json    bool
	verbose bool
}

func newRootCmd() *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:   "eepromtool",
		Short: "Inspect and reprogram Axxon PEX8112/OX16PCI954 configuration EEPROMs",
		Long: "eepromtool walks the host's PCI bus, identifies Axxon PEX8112 bridges\n" +
			"and their attached OX16PCI954 UARTs, and compares (or, with --flash,\n" +
			"reprograms) each card's configuration EEPROM against its reference image.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulkSweep(cmd, gf)
		},
	}

	root.PersistentFlags().BoolVar(&gf.flash, "flash", false, "reprogram any out-of-date EEPROM found")
	root.PersistentFlags().BoolVar(&gf.dryRun, "dry-run", false, "with --flash, report what would be written without writing it")
	root.PersistentFlags().BoolVar(&gf.json, "json", false, "emit machine-readable JSON instead of text")
	root.PersistentFlags().BoolVarP(&gf.verbose, "verbose", "v", false, "log progress at debug level")

	root.AddCommand(
		newListCmd(&gf),
		newListAllCmd(&gf),
		newInfoCmd(&gf),
		newDumpResourceCmd(&gf),
		newDumpEEPROMCmd(&gf),
		newAxxonCmd(&gf),
	)
	return root
}

// newLogger builds the logger every verb shares, at Warn level normally and
// Debug with -v, matching the teacher's "-v enables verbose logging"
// convention (e.g. cmd/spi-io) adapted to charmbracelet/log's leveled API.
func newLogger(gf *globalFlags) *log.Logger {
	l := log.New(os.Stderr)
	if gf.verbose {
		l.SetLevel(log.DebugLevel)
	} else {
		l.SetLevel(log.WarnLevel)
	}
	return l
}

// newHost opens the real sysfs-backed PCI host; every verb but the test
// suite goes through this one constructor.
func newHost() pciwindow.Host {
	return pci.NewHost()
}

// runBulkSweep is the root command's default action: walk every endpoint,
// compare it, flash it if asked, and map the outcome to spec.md §6.4's
// exit codes.
func runBulkSweep(cmd *cobra.Command, gf globalFlags) error {
	logger := newLogger(&gf)
	h := newHost()

	reports, err := orchestrate.Sweep(h, orchestrate.Options{
		Flash:  gf.flash,
		DryRun: gf.dryRun,
		Log:    logger,
	})
	if err != nil {
		return err
	}

	if gf.json {
		return printJSON(cmd, reports)
	}
	printReports(cmd, reports)

	var anyErr, anyStale bool
	for _, r := range reports {
		if r.Err != nil {
			anyErr = true
		}
		if !r.UpToDate && r.Skipped == "" {
			anyStale = true
		}
	}
	if anyErr {
		return &exitCodeError{err: fmt.Errorf("one or more endpoints failed"), code: 1}
	}
	if anyStale && !gf.flash {
		return &exitCodeError{err: nil, code: 11}
	}
	return nil
}

func printReports(cmd *cobra.Command, reports []orchestrate.Report) {
	out := cmd.OutOrStdout()
	for _, r := range reports {
		switch {
		case r.Skipped != "":
			fmt.Fprintf(out, "%s [%s]: skipped (%s)\n", r.Endpoint, kindName(r.Kind), r.Skipped)
		case r.Err != nil:
			fmt.Fprintf(out, "%s [%s]: error: %s\n", r.Endpoint, kindName(r.Kind), r.Err)
		case r.Flashed:
			fmt.Fprintf(out, "%s [%s]: flashed, now up to date\n", r.Endpoint, kindName(r.Kind))
		case r.UpToDate:
			fmt.Fprintf(out, "%s [%s]: up to date\n", r.Endpoint, kindName(r.Kind))
		default:
			fmt.Fprintf(out, "%s [%s]: out of date\n%s", r.Endpoint, kindName(r.Kind), indent(r.Diff))
		}
	}
}

func kindName(k orchestrate.Kind) string {
	switch k {
	case orchestrate.KindPEX8112Bridge:
		return "pex8112"
	case orchestrate.KindOX16PCI954:
		return "ox16pci954"
	default:
		return "unsupported"
	}
}

func indent(s string) string {
	if s == "" {
		return ""
	}
	out := ""
	for _, line := range splitLines(s) {
		out += "    " + line + "\n"
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
