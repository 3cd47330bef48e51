// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/axxon/eepromtool/conn/pciwindow"
	"github.com/axxon/eepromtool/orchestrate"
)

// parseEndpoint parses the "<ep>" CLI argument, the inverse of
// pciwindow.Endpoint.String(): "DDDD:BB:SS.F".
func parseEndpoint(s string) (pciwindow.Endpoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return pciwindow.Endpoint{}, fmt.Errorf("malformed endpoint %q, want DDDD:BB:SS.F", s)
	}
	domain, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return pciwindow.Endpoint{}, fmt.Errorf("invalid domain in %q: %w", s, err)
	}
	bus, err := strconv.ParseUint(parts[1], 16, 8)
	if err != nil {
		return pciwindow.Endpoint{}, fmt.Errorf("invalid bus in %q: %w", s, err)
	}
	slot, fn, err := pciwindow.ParseSlotFunction(parts[2])
	if err != nil {
		return pciwindow.Endpoint{}, fmt.Errorf("invalid slot.function in %q: %w", s, err)
	}
	return pciwindow.Endpoint{Domain: uint16(domain), Bus: uint8(bus), Slot: slot, Function: fn}, nil
}

// jsonReport is orchestrate.Report reshaped for --json output: the
// endpoint and kind render as strings rather than the library's internal
// numeric encodings.
type jsonReport struct {
	Endpoint string `json:"endpoint"`
	Kind     string `json:"kind"`
	UpToDate bool   `json:"up_to_date"`
	Flashed  bool   `json:"flashed"`
	Diff     string `json:"diff,omitempty"`
	Skipped  string `json:"skipped,omitempty"`
	Err      string `json:"error,omitempty"`
}

func toJSONReport(r orchestrate.Report) jsonReport {
	jr := jsonReport{
		Endpoint: r.Endpoint.String(),
		Kind:     kindName(r.Kind),
		UpToDate: r.UpToDate,
		Flashed:  r.Flashed,
		Diff:     r.Diff,
		Skipped:  r.Skipped,
	}
	if r.Err != nil {
		jr.Err = r.Err.Error()
	}
	return jr
}

func printJSON(cmd *cobra.Command, reports []orchestrate.Report) error {
	jrs := make([]jsonReport, len(reports))
	for i, r := range reports {
		jrs[i] = toJSONReport(r)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(jrs)
}

// jsonEndpointInfo reshapes orchestrate.EndpointInfo for --json output the
// same way jsonReport does for Report.
type jsonEndpointInfo struct {
	Endpoint   string `json:"endpoint"`
	Kind       string `json:"kind"`
	Vendor     uint16 `json:"vendor"`
	Device     uint16 `json:"device"`
	SubVendor  uint16 `json:"sub_vendor"`
	SubDevice  uint16 `json:"sub_device"`
	Class      byte   `json:"class"`
	Subclass   byte   `json:"subclass"`
	ProgIF     byte   `json:"prog_if"`
	SecondBus  byte   `json:"secondary_bus"`
	Enabled    bool   `json:"enabled"`
	DriverName string `json:"driver,omitempty"`
}

func toJSONEndpointInfo(info orchestrate.EndpointInfo) jsonEndpointInfo {
	return jsonEndpointInfo{
		Endpoint:   info.Endpoint.String(),
		Kind:       kindName(info.Kind),
		Vendor:     info.Vendor,
		Device:     info.Device,
		SubVendor:  info.SubVendor,
		SubDevice:  info.SubDevice,
		Class:      info.Class,
		Subclass:   info.Subclass,
		ProgIF:     info.ProgIF,
		SecondBus:  info.SecondaryBus,
		Enabled:    info.Enabled,
		DriverName: info.DriverName,
	}
}

func printEndpointInfos(cmd *cobra.Command, infos []orchestrate.EndpointInfo) {
	out := cmd.OutOrStdout()
	for _, info := range infos {
		fmt.Fprintf(out, "%s  vendor=%04x device=%04x class=%02x.%02x.%02x enabled=%t kind=%s",
			info.Endpoint, info.Vendor, info.Device, info.Class, info.Subclass, info.ProgIF, info.Enabled, kindName(info.Kind))
		if info.DriverName != "" {
			fmt.Fprintf(out, " driver=%s", info.DriverName)
		}
		fmt.Fprintln(out)
	}
}

func printEndpointInfosJSON(cmd *cobra.Command, infos []orchestrate.EndpointInfo) error {
	jis := make([]jsonEndpointInfo, len(infos))
	for i, info := range infos {
		jis[i] = toJSONEndpointInfo(info)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(jis)
}
