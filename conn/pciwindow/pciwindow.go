// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pciwindow defines the host PCI surface that the Axxon EEPROM
// drivers are built on: a byte/dword addressable configuration-space
// window and a set of numbered, possibly memory-mapped, resource windows
// per endpoint, plus the handful of scalar metadata accessors and the
// driver bind/unbind capability needed to take exclusive control of a
// device.
//
// Enumerating the host bus, resolving sysfs paths, and mapping BARs are
// host-specific concerns implemented by host/pci; this package only
// defines the capability surface that the EEPROM drivers depend on, the
// same way conn/spi and conn/i2c define protocols without specifying how
// a given host exposes them.
package pciwindow

import (
	"encoding/binary"
	"fmt"
)

// Endpoint identifies one PCI function: domain:bus:slot.function.
//
// It is an immutable value, safe to use as a map key and to format with
// String() as "DDDD:BB:SS.F".
type Endpoint struct {
	Domain   uint16
	Bus      uint8
	Slot     uint8 // 0..0x1f
	Function uint8 // 0..7
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%d", e.Domain, e.Bus, e.Slot, e.Function)
}

// ParseSlotFunction parses the "SS.F" suffix of an endpoint string, e.g.
// "1f.3", into (slot, function).
//
// It rejects anything that isn't one or more hex digits naming a slot no
// greater than 0x1f, a dot, and one digit 0-7: "00.8", "20.0", ".0",
// "0.", "" and "0000" all fail.
func ParseSlotFunction(s string) (slot uint8, fn uint8, err error) {
	dot := -1
	for i, c := range s {
		if c == '.' {
			if dot != -1 {
				return 0, 0, fmt.Errorf("pciwindow: malformed slot.function %q", s)
			}
			dot = i
		}
	}
	if dot < 1 || dot != len(s)-2 {
		return 0, 0, fmt.Errorf("pciwindow: malformed slot.function %q", s)
	}
	var slotVal uint64
	if _, err := fmt.Sscanf(s[:dot], "%x", &slotVal); err != nil || len(s[:dot]) == 0 {
		return 0, 0, fmt.Errorf("pciwindow: invalid slot in %q", s)
	}
	if slotVal > 0x1f {
		return 0, 0, fmt.Errorf("pciwindow: slot out of range in %q", s)
	}
	fc := s[dot+1]
	if fc < '0' || fc > '7' {
		return 0, 0, fmt.Errorf("pciwindow: invalid function in %q", s)
	}
	return uint8(slotVal), uint8(fc - '0'), nil
}

// FormatSlotFunction is the inverse of ParseSlotFunction.
func FormatSlotFunction(slot, fn uint8) string {
	return fmt.Sprintf("%02x.%d", slot, fn)
}

// ConfigSpace is a byte/dword addressable, little-endian window onto one
// endpoint's PCI configuration space.
//
// Writes are guaranteed little-endian dword semantics; on a window that
// could only be opened read-only, WriteByte and WriteDword return an error.
type ConfigSpace interface {
	Endpoint() Endpoint
	Len() int
	ReadByte(off int) (byte, error)
	WriteByte(off int, v byte) error
	ReadDword(off int) (uint32, error)
	WriteDword(off int, v uint32) error
	// Close releases the window. It must be safe to call more than once.
	Close() error
}

// Resource is a byte/dword addressable window onto one of an endpoint's
// numbered BAR resources. It is backed by a memory mapping when the host
// supports it.
type Resource interface {
	Endpoint() Endpoint
	Number() int
	Len() int
	ReadByte(off int) (byte, error)
	WriteByte(off int, v byte) error
	ReadDword(off int) (uint32, error)
	WriteDword(off int, v uint32) error
	Close() error
}

// Driver is an opaque handle on the host driver bound to an endpoint, if
// any.
type Driver interface {
	Name() string
	Bind(Endpoint) error
	Unbind(Endpoint) error
}

// Host is the entry point into the host PCI surface: endpoint discovery
// and scalar metadata, window opening, and driver resolution.
type Host interface {
	// Endpoints returns every PCI function visible on the host, sorted by
	// (domain, bus, slot, function).
	Endpoints() ([]Endpoint, error)

	VendorDevice(e Endpoint) (vendor, device uint16, err error)
	SubsystemVendorDevice(e Endpoint) (vendor, device uint16, err error)
	Class(e Endpoint) (class, subclass, progif byte, err error)
	SecondaryBus(e Endpoint) (uint8, error)

	IsEnabled(e Endpoint) (bool, error)
	Enable(e Endpoint) error
	Disable(e Endpoint) error

	// Driver resolves the host driver currently bound to e, or (nil, nil)
	// if none is bound.
	Driver(e Endpoint) (Driver, error)

	OpenConfigSpace(e Endpoint) (ConfigSpace, error)
	OpenResource(e Endpoint, n int) (Resource, error)
}

// ScopedEnable is a RAII-style token recording whether Acquire had to
// transition the endpoint from disabled to enabled. Release disables the
// endpoint again iff Acquire enabled it; if the endpoint was already
// enabled, Release is a no-op, guaranteeing that is_enabled(e) after
// Release always equals is_enabled(e) from before Acquire.
type ScopedEnable struct {
	host      Host
	ep        Endpoint
	weEnabled bool
	released  bool
}

// AcquireEnable enables e if it isn't already, returning a token that
// restores the prior state on Release.
func AcquireEnable(h Host, e Endpoint) (*ScopedEnable, error) {
	enabled, err := h.IsEnabled(e)
	if err != nil {
		return nil, fmt.Errorf("pciwindow: checking enabled state of %s: %w", e, err)
	}
	s := &ScopedEnable{host: h, ep: e}
	if !enabled {
		if err := h.Enable(e); err != nil {
			return nil, fmt.Errorf("pciwindow: enabling %s: %w", e, err)
		}
		s.weEnabled = true
	}
	return s, nil
}

// Release disables the endpoint iff this token enabled it. Safe to call
// more than once; only the first call has effect.
func (s *ScopedEnable) Release() error {
	if s == nil || s.released || !s.weEnabled {
		if s != nil {
			s.released = true
		}
		return nil
	}
	s.released = true
	return s.host.Disable(s.ep)
}

// ScopedDriverUnbind unbinds d from e on Acquire and rebinds it on
// Release, regardless of how Release is reached.
type ScopedDriverUnbind struct {
	ep       Endpoint
	drv      Driver
	released bool
}

// AcquireDriverUnbind unbinds the driver currently attached to e, if any.
// If no driver is bound, it returns a token whose Release is a no-op.
func AcquireDriverUnbind(h Host, e Endpoint) (*ScopedDriverUnbind, error) {
	drv, err := h.Driver(e)
	if err != nil {
		return nil, fmt.Errorf("pciwindow: resolving driver for %s: %w", e, err)
	}
	if drv == nil {
		return &ScopedDriverUnbind{ep: e}, nil
	}
	if err := drv.Unbind(e); err != nil {
		return nil, fmt.Errorf("pciwindow: unbinding %s from %s: %w", drv.Name(), e, err)
	}
	return &ScopedDriverUnbind{ep: e, drv: drv}, nil
}

// Release rebinds the driver unbound by Acquire, if any.
func (s *ScopedDriverUnbind) Release() error {
	if s == nil || s.released || s.drv == nil {
		if s != nil {
			s.released = true
		}
		return nil
	}
	s.released = true
	return s.drv.Bind(s.ep)
}

// LittleEndianDword packs four bytes, LSB first, per the little-endian
// dword semantics ConfigSpace/Resource guarantee.
func LittleEndianDword(b [4]byte) uint32 {
	return binary.LittleEndian.Uint32(b[:])
}

// DwordBytes is the inverse of LittleEndianDword.
func DwordBytes(v uint32) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b
}
