// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axxon/eepromtool/orchestrate"
)

func newInfoCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info <ep>",
		Short: "Print scalar metadata (and, for an OX16PCI954, its decoded local configuration) for one endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := parseEndpoint(args[0])
			if err != nil {
				return err
			}
			info, err := orchestrate.Info(newHost(), ep)
			if err != nil {
				return err
			}
			if gf.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				type full struct {
					jsonEndpointInfo
					LocalConfig interface{} `json:"local_config,omitempty"`
				}
				return enc.Encode(full{jsonEndpointInfo: toJSONEndpointInfo(*info), LocalConfig: info.LocalConfig})
			}
			printEndpointInfos(cmd, []orchestrate.EndpointInfo{*info})
			if info.LocalConfig != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "local configuration: %+v\n", *info.LocalConfig)
			}
			return nil
		},
	}
}
