// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"github.com/spf13/cobra"

	"github.com/axxon/eepromtool/orchestrate"
)

func newListCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List PEX8112 bridges and OX16PCI954 UARTs on the bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := orchestrate.ListEndpoints(newHost())
			if err != nil {
				return err
			}
			filtered := infos[:0]
			for _, info := range infos {
				if info.Kind != orchestrate.KindUnsupported {
					filtered = append(filtered, info)
				}
			}
			return emitEndpointInfos(cmd, gf, filtered)
		},
	}
}

func newListAllCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list_all",
		Short: "List every PCI endpoint on the bus, classified",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := orchestrate.ListEndpoints(newHost())
			if err != nil {
				return err
			}
			return emitEndpointInfos(cmd, gf, infos)
		},
	}
}

func emitEndpointInfos(cmd *cobra.Command, gf *globalFlags, infos []orchestrate.EndpointInfo) error {
	if gf.json {
		return printEndpointInfosJSON(cmd, infos)
	}
	printEndpointInfos(cmd, infos)
	return nil
}
