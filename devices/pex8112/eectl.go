// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pex8112 drives the PLX/Broadcom PEX8112 PCIe-to-PCI bridge's
// indirect serial EEPROM interface: the 32-bit EECTL control word, the
// byte-level SPI-like flash primitives built on it, and the register/shared
// memory image codec.
package pex8112

// AddressWidth is the detected (or configured) EEPROM addressing width in
// bytes, as reported by EECTL or established by auto-detect.
type AddressWidth int

// The address_width[24:23] encoding EECTL reports; UnknownWidth means the
// field read back 00 (bridge could not determine it itself).
const (
	UnknownWidth AddressWidth = 0
	Width1       AddressWidth = 1
	Width2       AddressWidth = 2
	Width3       AddressWidth = 3
)

func decodeAddressWidth(bits uint32) AddressWidth {
	switch bits {
	case 0b01:
		return Width1
	case 0b10:
		return Width2
	case 0b11:
		return Width3
	default:
		return UnknownWidth
	}
}

// EeControlRead is a typed, read-only view over a 32-bit EECTL register
// value. It never mutates the word it was built from; WithXxx methods live
// on EeControlWrite instead, the same split conn/gpio draws between a
// Level you read and the pin you call Out() on.
type EeControlRead uint32

// ReadData returns read_data[15:8], valid once Busy() is false.
func (r EeControlRead) ReadData() byte { return byte(uint32(r) >> 8) }

// Busy returns busy[19].
func (r EeControlRead) Busy() bool { return uint32(r)&(1<<19) != 0 }

// Valid returns valid[20].
func (r EeControlRead) Valid() bool { return uint32(r)&(1<<20) != 0 }

// Present returns present[21].
func (r EeControlRead) Present() bool { return uint32(r)&(1<<21) != 0 }

// ChipSelectActive returns chip_select_active[22].
func (r EeControlRead) ChipSelectActive() bool { return uint32(r)&(1<<22) != 0 }

// AddressWidth decodes address_width[24:23].
func (r EeControlRead) AddressWidth() AddressWidth {
	return decodeAddressWidth((uint32(r) >> 23) & 0b11)
}

// IsOff reports whether the five writable fields (write_data,
// byte_write_start, byte_read_start, chip_select, reload) all read back
// zero, the idle "off" state ee_off leaves the register in.
func (r EeControlRead) IsOff() bool {
	const writable = 0xFF | 1<<16 | 1<<17 | 1<<18 | 1<<31
	return uint32(r)&writable == 0
}

func (r EeControlRead) String() string {
	return "EeControlRead(" +
		"busy=" + boolStr(r.Busy()) +
		" valid=" + boolStr(r.Valid()) +
		" present=" + boolStr(r.Present()) +
		" width=" + widthStr(r.AddressWidth()) +
		")"
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func widthStr(w AddressWidth) string {
	switch w {
	case Width1, Width2, Width3:
		return string(rune('0' + int(w)))
	default:
		return "?"
	}
}

// EeControlWrite is a typed builder for the writable fields of EECTL:
// write_data, byte_write_start, byte_read_start, chip_select and reload.
// The zero value is the "off" command (all writable fields clear).
type EeControlWrite uint32

// WithWriteData sets write_data[7:0].
func (w EeControlWrite) WithWriteData(b byte) EeControlWrite {
	return EeControlWrite(uint32(w)&^0xFF | uint32(b))
}

// WithByteWriteStart sets or clears byte_write_start[16].
func (w EeControlWrite) WithByteWriteStart(v bool) EeControlWrite {
	return withBit(w, 16, v)
}

// WithByteReadStart sets or clears byte_read_start[17].
func (w EeControlWrite) WithByteReadStart(v bool) EeControlWrite {
	return withBit(w, 17, v)
}

// WithChipSelect sets or clears chip_select[18].
func (w EeControlWrite) WithChipSelect(v bool) EeControlWrite {
	return withBit(w, 18, v)
}

// WithReload sets or clears reload[31].
func (w EeControlWrite) WithReload(v bool) EeControlWrite {
	return withBit(w, 31, v)
}

func withBit(w EeControlWrite, bit uint, v bool) EeControlWrite {
	if v {
		return EeControlWrite(uint32(w) | 1<<bit)
	}
	return EeControlWrite(uint32(w) &^ (1 << bit))
}

// Raw returns the 32-bit dword ready to write to MAIN_DATA.
func (w EeControlWrite) Raw() uint32 { return uint32(w) }

// offWrite is the all-zero EeControlWrite ee_off writes when the register
// isn't already off.
const offWrite EeControlWrite = 0
