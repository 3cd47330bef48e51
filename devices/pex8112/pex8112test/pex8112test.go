// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pex8112test is meant to be used to test drivers over a simulated
// PEX8112 indirect EEPROM interface, the same way conn/microwire/microwiretest
// lets a driver be tested without real hardware. It mirrors the bridge's
// published MAIN_INDEX/MAIN_DATA/EECTL register protocol directly rather
// than reaching into devices/pex8112's internals.
package pex8112test

import (
	"fmt"

	"github.com/axxon/eepromtool/conn/pciwindow"
	"github.com/axxon/eepromtool/devices/pex8112"
)

const (
	mainIndex = 0x84
	mainData  = 0x88

	devinitAddr = 0x00
	eectlAddr   = 0x04

	opWrite = 0x02
	opRead  = 0x03
	opWRDI  = 0x04
	opRDSR  = 0x05
	opWREN  = 0x06

	// SignatureOffset is the fixed EEPROM byte offset holding the card
	// signature, matching devices/pex8112's eepromSignatureOffset.
	SignatureOffset = 0x78
)

// Signature is the 5-byte card signature a flashed EEPROM carries at
// SignatureOffset, matching devices/pex8112's axxonSignature.
var Signature = []byte("axxon")

// DevinitDefault is a DEVINIT word reporting PCIe and PCI both enabled at
// the bridge's default link speed, matching a healthy, already-configured
// card.
const DevinitDefault = 1<<4 | 1<<5 | 0b0011

// chip is a faithful byte-level simulation of an SPI-like serial flash chip
// behind the PEX8112's indirect EECTL interface: every byte transfer,
// whether driven by a write-start or a read-start, advances the same
// address-shift counter, so a driver that enters receive mode before
// sending any address bits (a passive address-width probe) still shifts the
// chip's internal address register one implicit zero byte at a time,
// exactly as real silicon would.
type chip struct {
	mem         []byte
	width       int
	writeEnable bool

	haveOpcode      bool
	opcode          byte
	addrBytesNeeded int
	addrBytesGot    int
	curAddr         int
	dataPhase       bool
}

func newChip(width int, mem []byte) *chip {
	return &chip{mem: mem, width: width}
}

func (c *chip) reset() {
	c.haveOpcode = false
	c.opcode = 0
	c.addrBytesGot = 0
	c.dataPhase = false
}

func (c *chip) sendByte(b byte) {
	if !c.haveOpcode {
		c.haveOpcode = true
		c.opcode = b
		c.curAddr = 0
		c.addrBytesGot = 0
		switch b {
		case opRead, opWrite:
			c.addrBytesNeeded = c.width
			c.dataPhase = false
		default:
			c.addrBytesNeeded = 0
			c.dataPhase = true
			c.applyNoAddressOpcode()
		}
		return
	}
	if !c.dataPhase {
		c.curAddr = c.curAddr<<8 | int(b)
		c.addrBytesGot++
		if c.addrBytesGot >= c.addrBytesNeeded {
			c.dataPhase = true
		}
		return
	}
	if c.opcode == opWrite {
		if c.writeEnable && c.curAddr >= 0 && c.curAddr < len(c.mem) {
			c.mem[c.curAddr] = b
		}
		c.curAddr++
	}
}

func (c *chip) applyNoAddressOpcode() {
	switch c.opcode {
	case opWREN:
		c.writeEnable = true
	case opWRDI:
		c.writeEnable = false
	}
}

func (c *chip) readByte() byte {
	if !c.haveOpcode {
		return 0xFF
	}
	if !c.dataPhase {
		c.curAddr = c.curAddr << 8
		c.addrBytesGot++
		if c.addrBytesGot >= c.addrBytesNeeded {
			c.dataPhase = true
		}
		return 0xFF
	}
	switch c.opcode {
	case opRDSR:
		return 0
	case opRead:
		v := byte(0xFF)
		if c.curAddr >= 0 && c.curAddr < len(c.mem) {
			v = c.mem[c.curAddr]
		}
		c.curAddr++
		return v
	default:
		return 0xFF
	}
}

// Bus implements pciwindow.ConfigSpace over MAIN_INDEX/MAIN_DATA, backing a
// single EECTL register, a fixed DEVINIT word and a simulated flash chip.
// Tests construct one with New and pass it to pex8112.OpenFlash /
// pex8112.OpenFlashRecovery the same way production code passes a real
// pciwindow.ConfigSpace.
type Bus struct {
	index        uint32
	Present      bool
	Valid        bool
	widthBits    uint32
	Devinit      uint32
	lastReadData byte
	ctrl         uint32 // writable EECTL bits last written, read back as-is
	BusyForever  bool
	chip         *chip

	Mem []byte
}

// New returns a simulated PEX8112 config space reporting the given address
// width and backed by mem (the EEPROM's contents). Present and Valid start
// true and Devinit reports DevinitDefault, matching a healthy card; tests
// override fields directly to script other scenarios.
func New(width pex8112.AddressWidth, mem []byte) *Bus {
	return &Bus{
		Present:   true,
		Valid:     true,
		widthBits: uint32(width),
		Devinit:   DevinitDefault,
		chip:      newChip(int(width), mem),
		Mem:       mem,
	}
}

// SetWriteEnabled forces the simulated chip's write-enable latch, letting a
// test exercise a fallback write probe without going through the WREN
// instruction sequence.
func (s *Bus) SetWriteEnabled(v bool) { s.chip.writeEnable = v }

func (s *Bus) Endpoint() pciwindow.Endpoint { return pciwindow.Endpoint{} }
func (s *Bus) Len() int                     { return 0x100 }
func (s *Bus) Close() error                 { return nil }

func (s *Bus) ReadByte(int) (byte, error) { return 0, fmt.Errorf("pex8112test: byte access unsupported") }
func (s *Bus) WriteByte(int, byte) error  { return fmt.Errorf("pex8112test: byte access unsupported") }

func (s *Bus) ReadDword(off int) (uint32, error) {
	switch off {
	case mainData:
		switch s.index {
		case eectlAddr:
			return s.computeEECTL(), nil
		case devinitAddr:
			return s.Devinit, nil
		}
	}
	return 0, fmt.Errorf("pex8112test: unexpected read at %#x (index=%#x)", off, s.index)
}

func (s *Bus) WriteDword(off int, v uint32) error {
	switch off {
	case mainIndex:
		s.index = v
		return nil
	case mainData:
		if s.index == eectlAddr {
			return s.applyEECTLWrite(v)
		}
		return fmt.Errorf("pex8112test: write to unsupported main-address %#x", s.index)
	}
	return fmt.Errorf("pex8112test: unexpected write at %#x", off)
}

func (s *Bus) computeEECTL() uint32 {
	var v uint32
	if s.BusyForever {
		v |= 1 << 19
	}
	if s.Valid {
		v |= 1 << 20
	}
	if s.Present {
		v |= 1 << 21
	}
	v |= s.widthBits << 23
	v |= uint32(s.lastReadData) << 8
	v |= s.ctrl
	return v
}

func (s *Bus) applyEECTLWrite(v uint32) error {
	cs := v&(1<<18) != 0
	writeStart := v&(1<<16) != 0
	readStart := v&(1<<17) != 0
	data := byte(v)
	s.ctrl = v & (0xFF | 1<<18 | 1<<31)
	if !cs {
		s.chip.reset()
		return nil
	}
	if writeStart {
		s.chip.sendByte(data)
	} else if readStart {
		s.lastReadData = s.chip.readByte()
	}
	return nil
}

var _ pciwindow.ConfigSpace = (*Bus)(nil)

// ReferenceFlashBytes returns an up-to-date card image: pex8112.ReferenceImage
// followed by 0xFF padding and the "axxon" signature at its fixed offset,
// matching a card that has already been flashed and verified.
func ReferenceFlashBytes() []byte {
	buf := make([]byte, SignatureOffset+len(Signature))
	for i := range buf {
		buf[i] = 0xFF
	}
	copy(buf, pex8112.ReferenceImage)
	copy(buf[SignatureOffset:], Signature)
	return buf
}
