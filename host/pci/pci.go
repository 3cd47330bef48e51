// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pci implements pciwindow.Host against the Linux sysfs PCI bus
// tree (/sys/bus/pci/devices/<DDDD:BB:SS.F>/...), the host-specific
// backing for the conn/pciwindow capability surface, the same way
// host/sysfs backs conn/gpio and conn/i2c for the teacher library.
package pci

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/axxon/eepromtool/conn/pciwindow"
)

// SysfsRoot is the root of the sysfs PCI device tree. It is a variable so
// tests can point it at a scratch directory tree instead of the real
// /sys, matching the teacher's practice of making host paths overridable
// (see host/sysfs's inhibit-for-tests support).
var SysfsRoot = "/sys/bus/pci/devices"

// Host opens the real sysfs-backed PCI bus on this machine.
type Host struct {
	root string
}

// NewHost returns a Host rooted at SysfsRoot.
func NewHost() *Host {
	return &Host{root: SysfsRoot}
}

func (h *Host) devDir(e pciwindow.Endpoint) string {
	return filepath.Join(h.root, fmt.Sprintf("%04x:%02x:%02x.%d", e.Domain, e.Bus, e.Slot, e.Function))
}

// Endpoints lists every PCI function sysfs exposes, sorted by
// (domain, bus, slot, function).
func (h *Host) Endpoints() ([]pciwindow.Endpoint, error) {
	entries, err := os.ReadDir(h.root)
	if err != nil {
		return nil, fmt.Errorf("pci: reading %s: %w", h.root, err)
	}
	out := make([]pciwindow.Endpoint, 0, len(entries))
	for _, ent := range entries {
		ep, ok := parseEndpointDir(ent.Name())
		if !ok {
			continue
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		if a.Bus != b.Bus {
			return a.Bus < b.Bus
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.Function < b.Function
	})
	return out, nil
}

func parseEndpointDir(name string) (pciwindow.Endpoint, bool) {
	// DDDD:BB:SS.F
	parts := strings.SplitN(name, ":", 3)
	if len(parts) != 3 {
		return pciwindow.Endpoint{}, false
	}
	domain, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return pciwindow.Endpoint{}, false
	}
	bus, err := strconv.ParseUint(parts[1], 16, 8)
	if err != nil {
		return pciwindow.Endpoint{}, false
	}
	slot, fn, err := pciwindow.ParseSlotFunction(parts[2])
	if err != nil {
		return pciwindow.Endpoint{}, false
	}
	return pciwindow.Endpoint{Domain: uint16(domain), Bus: uint8(bus), Slot: slot, Function: fn}, true
}

func (h *Host) readHexAttr(e pciwindow.Endpoint, name string) (uint64, error) {
	b, err := os.ReadFile(filepath.Join(h.devDir(e), name))
	if err != nil {
		return 0, fmt.Errorf("pci: reading %s/%s: %w", e, name, err)
	}
	s := strings.TrimSpace(string(b))
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, 64)
}

func (h *Host) VendorDevice(e pciwindow.Endpoint) (uint16, uint16, error) {
	v, err := h.readHexAttr(e, "vendor")
	if err != nil {
		return 0, 0, err
	}
	d, err := h.readHexAttr(e, "device")
	if err != nil {
		return 0, 0, err
	}
	return uint16(v), uint16(d), nil
}

func (h *Host) SubsystemVendorDevice(e pciwindow.Endpoint) (uint16, uint16, error) {
	v, err := h.readHexAttr(e, "subsystem_vendor")
	if err != nil {
		return 0, 0, err
	}
	d, err := h.readHexAttr(e, "subsystem_device")
	if err != nil {
		return 0, 0, err
	}
	return uint16(v), uint16(d), nil
}

func (h *Host) Class(e pciwindow.Endpoint) (byte, byte, byte, error) {
	v, err := h.readHexAttr(e, "class")
	if err != nil {
		return 0, 0, 0, err
	}
	// class attribute is a 24-bit value: class<<16 | subclass<<8 | progif.
	return byte(v >> 16), byte(v >> 8), byte(v), nil
}

func (h *Host) SecondaryBus(e pciwindow.Endpoint) (uint8, error) {
	v, err := h.readHexAttr(e, "secondary_bus_number")
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

func (h *Host) IsEnabled(e pciwindow.Endpoint) (bool, error) {
	v, err := h.readHexAttr(e, "enable")
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (h *Host) Enable(e pciwindow.Endpoint) error {
	return os.WriteFile(filepath.Join(h.devDir(e), "enable"), []byte("1"), 0644)
}

func (h *Host) Disable(e pciwindow.Endpoint) error {
	return os.WriteFile(filepath.Join(h.devDir(e), "enable"), []byte("0"), 0644)
}

// Driver resolves the driver symlink at <dev>/driver, if present.
func (h *Host) Driver(e pciwindow.Endpoint) (pciwindow.Driver, error) {
	link := filepath.Join(h.devDir(e), "driver")
	target, err := os.Readlink(link)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("pci: resolving driver for %s: %w", e, err)
	}
	return &sysfsDriver{name: filepath.Base(target)}, nil
}

var _ pciwindow.Host = (*Host)(nil)

type sysfsDriver struct {
	name string
}

func (d *sysfsDriver) Name() string { return d.name }

func (d *sysfsDriver) driverDir() string {
	return filepath.Join("/sys/bus/pci/drivers", d.name)
}

func (d *sysfsDriver) Bind(e pciwindow.Endpoint) error {
	return os.WriteFile(filepath.Join(d.driverDir(), "bind"), []byte(e.String()), 0200)
}

func (d *sysfsDriver) Unbind(e pciwindow.Endpoint) error {
	return os.WriteFile(filepath.Join(d.driverDir(), "unbind"), []byte(e.String()), 0200)
}

var _ pciwindow.Driver = (*sysfsDriver)(nil)
