// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axxon/eepromtool/orchestrate"
)

// newAxxonCmd groups the verbs that only make sense against a PEX8112
// bridge specifically, matching spec.md §6.4's "axxon verify"/"axxon
// dump_eeprom" naming (the card vendor, not the chip).
func newAxxonCmd(gf *globalFlags) *cobra.Command {
	axxon := &cobra.Command{
		Use:   "axxon",
		Short: "PEX8112-specific verbs",
	}
	axxon.AddCommand(newAxxonVerifyCmd(gf), newAxxonDumpEEPROMCmd(gf))
	return axxon
}

func newAxxonVerifyCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <ep>",
		Short: "Compare one PEX8112 bridge's EEPROM against the reference image without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := parseEndpoint(args[0])
			if err != nil {
				return err
			}
			r, err := orchestrate.VerifyPEX8112(newHost(), ep)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if r.UpToDate {
				fmt.Fprintf(out, "%s: up to date\n", ep)
				return nil
			}
			fmt.Fprintf(out, "%s: out of date\n%s", ep, indent(r.Diff))
			return nil
		},
	}
}

func newAxxonDumpEEPROMCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump_eeprom <ep>",
		Short: "Dump a PEX8112 bridge's raw configuration EEPROM contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := parseEndpoint(args[0])
			if err != nil {
				return err
			}
			h := newHost()
			if err := orchestrate.RequireKind(h, ep, orchestrate.KindPEX8112Bridge); err != nil {
				return err
			}
			buf, _, err := orchestrate.DumpEEPROM(h, ep)
			if err != nil {
				return err
			}
			return emitBytes(cmd, gf, "eeprom", buf)
		},
	}
}
