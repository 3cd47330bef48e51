// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ox16pci954 drives the Microchip/Oxford OX16PCI954 multi-UART
// chip's attached 93C46 serial EEPROM: the pin adapter that maps
// conn/microwire onto a single byte of BAR3, the zone-encoded program
// codec, and the decoder for the chip's local-configuration registers
// (also exposed through BAR3).
package ox16pci954

import (
	"time"

	"github.com/axxon/eepromtool/conn/microwire"
	"github.com/axxon/eepromtool/conn/pciwindow"
)

// VendorID identifies an OX16PCI954 multi-UART function in PCI
// configuration space.
const VendorID = 0x1415

// Device IDs the chip enumerates under, one per function and wiring
// strapping: function 0 is disabled or the UART, function 1 is disabled or
// one of three local-bus widths/modes.
const (
	DeviceDisabledF0   = 0x9500
	DeviceUartF0       = 0x9501
	DeviceDisabledF1   = 0x9510
	DeviceLocalBus8F1  = 0x9511
	DeviceLocalBus32F1 = 0x9512
	DeviceParallelF1   = 0x9513
)

// IsDevice reports whether device is one of the OX16PCI954's known device
// IDs, across both functions and every strapping.
func IsDevice(device uint16) bool {
	switch device {
	case DeviceDisabledF0, DeviceUartF0, DeviceDisabledF1, DeviceLocalBus8F1, DeviceLocalBus32F1, DeviceParallelF1:
		return true
	default:
		return false
	}
}

// pinByteOffset is where CLK/CS/DOUT/DIN live within BAR3, per the chip's
// EEPROM control register.
const pinByteOffset = 3

// Pin bit positions within that byte. DIN is read-only; the other three
// are driven by the host.
const (
	bitClock = 1 << 0
	bitCS    = 1 << 1
	bitDOUT  = 1 << 2
	bitDIN   = 1 << 3
)

// EEPROM adapts a conn/pciwindow.Resource (BAR3) to microwire.Hardware,
// packing the three output pins into pinByteOffset and reading DIN back
// from the same byte. It ignores every other bit of BAR3 on write, the
// way the chip's datasheet specifies.
type EEPROM struct {
	res pciwindow.Resource
}

// New wraps res, BAR3 of an OX16PCI954 endpoint, as Microwire hardware.
func New(res pciwindow.Resource) *EEPROM {
	return &EEPROM{res: res}
}

// SetPins implements microwire.Hardware.
func (e *EEPROM) SetPins(p microwire.OutPins) error {
	var b byte
	if p.Clock {
		b |= bitClock
	}
	if p.ChipSelect {
		b |= bitCS
	}
	if p.Data {
		b |= bitDOUT
	}
	return e.res.WriteByte(pinByteOffset, b)
}

// ReadPin implements microwire.Hardware.
func (e *EEPROM) ReadPin() (bool, error) {
	b, err := e.res.ReadByte(pinByteOffset)
	if err != nil {
		return false, err
	}
	return b&bitDIN != 0, nil
}

// Delay implements microwire.Hardware with the reliable-sleep contract:
// real BAR3 access over the PCI bus already takes longer than HalfEdge, but
// the datasheet's setup/hold time is still honored explicitly rather than
// assumed from bus latency.
func (e *EEPROM) Delay(d time.Duration) error {
	return microwire.ReliableSleep(d)
}

var _ microwire.Hardware = (*EEPROM)(nil)
