// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package orchestrate

import (
	"fmt"

	"github.com/axxon/eepromtool/conn/microwire"
	"github.com/axxon/eepromtool/conn/pciwindow"
	"github.com/axxon/eepromtool/devices/ox16pci954"
	"github.com/axxon/eepromtool/devices/pex8112"
)

// EndpointInfo is the scalar metadata the "list"/"list_all"/"info" verbs
// print for one endpoint.
type EndpointInfo struct {
	Endpoint             pciwindow.Endpoint
	Kind                 Kind
	Vendor, Device       uint16
	SubVendor, SubDevice uint16
	Class, Subclass, ProgIF byte
	SecondaryBus         byte
	Enabled              bool
	DriverName           string // empty if no driver bound

	// LocalConfig is populated only for KindOX16PCI954 endpoints, since
	// that's the only chip this tool knows how to decode BAR3's local
	// configuration registers for.
	LocalConfig *ox16pci954.LocalConfig
}

// ListEndpoints returns every endpoint on h in sorted order, classified.
// This backs both "list" (callers filter to KindPEX8112Bridge/
// KindOX16PCI954) and "list_all" (callers keep everything).
func ListEndpoints(h pciwindow.Host) ([]EndpointInfo, error) {
	endpoints, err := h.Endpoints()
	if err != nil {
		return nil, fmt.Errorf("orchestrate: listing endpoints: %w", err)
	}
	sortEndpoints(endpoints)

	infos := make([]EndpointInfo, 0, len(endpoints))
	for _, e := range endpoints {
		info, err := Info(h, e)
		if err != nil {
			infos = append(infos, EndpointInfo{Endpoint: e})
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// Info gathers e's scalar metadata plus, for an OX16PCI954 endpoint, its
// decoded local configuration.
func Info(h pciwindow.Host, e pciwindow.Endpoint) (*EndpointInfo, error) {
	info := &EndpointInfo{Endpoint: e}

	var err error
	if info.Vendor, info.Device, err = h.VendorDevice(e); err != nil {
		return nil, fmt.Errorf("orchestrate: vendor/device for %s: %w", e, err)
	}
	if info.SubVendor, info.SubDevice, err = h.SubsystemVendorDevice(e); err != nil {
		return nil, fmt.Errorf("orchestrate: subsystem vendor/device for %s: %w", e, err)
	}
	if info.Class, info.Subclass, info.ProgIF, err = h.Class(e); err != nil {
		return nil, fmt.Errorf("orchestrate: class for %s: %w", e, err)
	}
	if sb, err := h.SecondaryBus(e); err == nil {
		info.SecondaryBus = sb
	}
	if info.Enabled, err = h.IsEnabled(e); err != nil {
		return nil, fmt.Errorf("orchestrate: enabled state for %s: %w", e, err)
	}
	if drv, err := h.Driver(e); err == nil && drv != nil {
		info.DriverName = drv.Name()
	}

	info.Kind, _ = Classify(h, e)
	if info.Kind == KindOX16PCI954 {
		if res, err := h.OpenResource(e, eepromResourceNumber); err == nil {
			defer res.Close()
			if lc, err := ox16pci954.DecodeLocalConfig(res); err == nil {
				info.LocalConfig = lc
			}
		}
	}
	return info, nil
}

// DumpResource reads the whole of e's numbered resource window, byte by
// byte, for the "dump_resource" verb.
func DumpResource(h pciwindow.Host, e pciwindow.Endpoint, n int) ([]byte, error) {
	res, err := h.OpenResource(e, n)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: opening resource %d on %s: %w", n, e, err)
	}
	defer res.Close()
	buf := make([]byte, res.Len())
	for i := range buf {
		b, err := res.ReadByte(i)
		if err != nil {
			return nil, fmt.Errorf("orchestrate: reading resource %d on %s at %#x: %w", n, e, i, err)
		}
		buf[i] = b
	}
	return buf, nil
}

// DumpEEPROM reads e's configuration EEPROM contents, dispatching on its
// chip family. A PEX8112 result is the image as ExtractImage reads it from
// address 0 (a flash without a valid image is an error); an OX16PCI954
// result is every 16-bit word of the EEPROM.
func DumpEEPROM(h pciwindow.Host, e pciwindow.Endpoint) (pex8112Bytes []byte, ox16Words []uint16, err error) {
	kind, err := Classify(h, e)
	if err != nil {
		return nil, nil, err
	}
	switch kind {
	case KindPEX8112Bridge:
		cs, err := h.OpenConfigSpace(e)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrate: opening config space for %s: %w", e, err)
		}
		defer cs.Close()
		flash, err := pex8112.OpenFlashRecovery(cs, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrate: opening PEX8112 flash at %s: %w", e, err)
		}
		buf, err := readPEX8112Image(flash)
		return buf, nil, err
	case KindOX16PCI954:
		res, err := h.OpenResource(e, eepromResourceNumber)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrate: opening BAR%d for %s: %w", eepromResourceNumber, e, err)
		}
		defer res.Close()
		ops := microwire.NewOps(ox16pci954.New(res))
		words, err := ops.ReadAll()
		return nil, words, err
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedDevice, e)
	}
}

// VerifyPEX8112 compares e's current PEX8112 image against the reference
// image without writing anything, for the "axxon verify" verb.
func VerifyPEX8112(h pciwindow.Host, e pciwindow.Endpoint) (Report, error) {
	if kind, err := Classify(h, e); err != nil {
		return Report{}, err
	} else if kind != KindPEX8112Bridge {
		return Report{}, fmt.Errorf("%w: %s", ErrUnsupportedDevice, e)
	}
	opts := Options{}
	r := processPEX8112(h, e, opts, opts.logger())
	return r, r.Err
}
