// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/axxon/eepromtool/orchestrate"
)

func newDumpResourceCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump_resource <ep> <n>",
		Short: "Dump one endpoint's numbered BAR resource window, byte by byte",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := parseEndpoint(args[0])
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid resource number %q: %w", args[1], err)
			}
			buf, err := orchestrate.DumpResource(newHost(), ep, n)
			if err != nil {
				return err
			}
			return emitBytes(cmd, gf, "resource", buf)
		},
	}
}

func newDumpEEPROMCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump_eeprom <ep>",
		Short: "Dump one endpoint's raw configuration EEPROM contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := parseEndpoint(args[0])
			if err != nil {
				return err
			}
			pexBytes, ox16Words, err := orchestrate.DumpEEPROM(newHost(), ep)
			if err != nil {
				return err
			}
			if pexBytes != nil {
				return emitBytes(cmd, gf, "eeprom", pexBytes)
			}
			return emitWords(cmd, gf, ox16Words)
		},
	}
}

func emitBytes(cmd *cobra.Command, gf *globalFlags, label string, buf []byte) error {
	out := cmd.OutOrStdout()
	if gf.json {
		fmt.Fprintf(out, "{\"%s\":\"%s\"}\n", label, hex.EncodeToString(buf))
		return nil
	}
	for off := 0; off < len(buf); off += 16 {
		end := off + 16
		if end > len(buf) {
			end = len(buf)
		}
		fmt.Fprintf(out, "%04x: %s\n", off, hex.EncodeToString(buf[off:end]))
	}
	return nil
}

func emitWords(cmd *cobra.Command, gf *globalFlags, words []uint16) error {
	out := cmd.OutOrStdout()
	if gf.json {
		fmt.Fprint(out, "[")
		for i, w := range words {
			if i > 0 {
				fmt.Fprint(out, ",")
			}
			fmt.Fprintf(out, "%d", w)
		}
		fmt.Fprintln(out, "]")
		return nil
	}
	for i, w := range words {
		if i%8 == 0 {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "%04x:", i)
		}
		fmt.Fprintf(out, " %04x", w)
	}
	fmt.Fprintln(out)
	return nil
}
