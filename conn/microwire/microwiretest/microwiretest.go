// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package microwiretest is meant to be used to test drivers over a
// simulated Microwire EEPROM, the same way conn/gpio/gpiotest lets a
// driver be tested without real hardware.
package microwiretest

import (
	"time"

	"github.com/axxon/eepromtool/conn/microwire"
)

// Chip simulates a 93C46-family Microwire EEPROM: it interprets the bit
// stream microwire.Low drives against it and replies the way real silicon
// would, so ops.go's instruction encoding can be exercised without real
// hardware.
type Chip struct {
	// Words is the chip's backing memory, indexed by address. Tests can
	// pre-seed it and inspect it afterwards.
	Words []uint16
	// AddressBits is the chip's real address width, used to decide how
	// many bits of the incoming address to consume.
	AddressBits int

	pins         microwire.OutPins
	programming  bool
	shiftIn      uint64
	shiftInBits  int
	phase        phase
	readBits     []bool
	readPos      int
	lastWasClockHigh bool
	curAddr      int
	writeData    uint16
	writeDataBits int
	streamAddr   int
}

type phase int

const (
	phaseIdle phase = iota
	phaseStart
	phaseOpcode
	phaseAddress
	phaseReadData
	phaseWriteData
)

// NewChip returns a simulated chip of 2^addressBits words, all 0xFFFF
// (erased), matching a factory-fresh 93C46.
func NewChip(addressBits int) *Chip {
	c := &Chip{AddressBits: addressBits}
	c.Words = make([]uint16, 1<<uint(addressBits))
	for i := range c.Words {
		c.Words[i] = 0xFFFF
	}
	return c
}

// SetPins implements microwire.Hardware.
func (c *Chip) SetPins(p microwire.OutPins) error {
	risingEdge := p.Clock && !c.lastWasClockHigh
	c.lastWasClockHigh = p.Clock
	c.pins = p
	if !p.ChipSelect {
		c.reset()
		return nil
	}
	if risingEdge {
		c.clockIn(p.Data)
	}
	return nil
}

func (c *Chip) reset() {
	c.phase = phaseIdle
	c.shiftIn = 0
	c.shiftInBits = 0
	c.readBits = nil
	c.readPos = 0
}

func (c *Chip) clockIn(data bool) {
	switch c.phase {
	case phaseIdle:
		if data {
			c.phase = phaseOpcode
			c.shiftIn = 0
			c.shiftInBits = 0
		}
	case phaseOpcode:
		c.shiftIn = c.shiftIn<<1 | b2u(data)
		c.shiftInBits++
		if c.shiftInBits == 2 {
			c.phase = phaseAddress
			c.shiftInBits = 0
			c.curAddr = 0
		}
	case phaseAddress:
		op := c.shiftIn
		c.curAddr = c.curAddr<<1 | int(b2u(data))
		c.shiftInBits++
		if c.shiftInBits == c.AddressBits {
			c.dispatch(op)
		}
	case phaseWriteData:
		c.writeData = c.writeData<<1 | uint16(b2u(data))
		c.writeDataBits++
		if c.writeDataBits == 16 {
			c.applyWrite()
			c.phase = phaseIdle
		}
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (c *Chip) dispatch(op uint64) {
	addrMask := (1 << uint(c.AddressBits)) - 1
	addr := c.curAddr & addrMask
	switch op {
	case 0b10: // READ
		c.prepareReadWithDummy(addr)
		c.phase = phaseReadData
	case 0b01: // WRITE
		c.writeData = 0
		c.writeDataBits = 0
		c.curAddr = addr
		c.phase = phaseWriteData
	case 0b11: // ERASE
		if c.programming {
			c.Words[addr] = 0xFFFF
		}
		c.phase = phaseIdle
	case 0b00: // extended
		sub := (addr >> uint(c.AddressBits-2)) & 0b11
		switch sub {
		case 0b11: // EWEN
			c.programming = true
		case 0b00: // EWDS
			c.programming = false
		case 0b10: // ERAL
			if c.programming {
				for i := range c.Words {
					c.Words[i] = 0xFFFF
				}
			}
		case 0b01: // WRAL
			c.writeData = 0
			c.writeDataBits = 0
			c.curAddr = -1 // sentinel: write-all
			c.phase = phaseWriteData
		}
		if sub != 0b01 {
			c.phase = phaseIdle
		}
	}
}

func (c *Chip) applyWrite() {
	if !c.programming {
		return
	}
	if c.curAddr == -1 {
		for i := range c.Words {
			c.Words[i] = c.writeData
		}
		return
	}
	c.Words[c.curAddr] = c.writeData
}

func (c *Chip) prepareRead(addr int) {
	c.streamAddr = addr
	word := c.Words[addr]
	bits := make([]bool, 0, 16)
	for i := 15; i >= 0; i-- {
		bits = append(bits, (word>>uint(i))&1 != 0)
	}
	c.readBits = bits
	c.readPos = 0
}

// prepareReadWithDummy is prepareRead plus the guaranteed dummy 0 bit the
// real chip drives once, immediately after the address finishes shifting in
// and before the first data word. It lets the address-width probe terminate
// unambiguously on that 0 regardless of what bit pattern the word at
// address 0 happens to start with; ReadAll's word-to-word auto-increment
// (prepareReadFollowing) does not repeat it.
func (c *Chip) prepareReadWithDummy(addr int) {
	c.prepareRead(addr)
	c.readBits = append([]bool{false}, c.readBits...)
}

// ReadPin implements microwire.Hardware. In the command/address phase it
// always reads HIGH (no contention); in the read-data phase it streams
// out the word prepared by prepareRead, looping to the next word to
// support ReadAll's back-to-back streaming.
func (c *Chip) ReadPin() (bool, error) {
	if !c.pins.ChipSelect {
		return true, nil
	}
	switch c.phase {
	case phaseReadData:
		if c.readPos >= len(c.readBits) {
			addr := (c.readAddrHint() + 1) % len(c.Words)
			c.prepareReadFollowing(addr)
		}
		v := c.readBits[c.readPos]
		c.readPos++
		return v, nil
	default:
		return true, nil
	}
}

// readAddrHint tracks the address of the word currently streaming, so
// ReadAll can auto-increment across word boundaries the way real silicon
// does while CS stays asserted.
func (c *Chip) readAddrHint() int {
	return c.streamAddr
}

func (c *Chip) prepareReadFollowing(addr int) {
	c.prepareRead(addr)
}

// Delay implements microwire.Hardware; the simulated chip has no real
// timing requirements, so this is a no-op (still calling ReliableSleep
// with a zero duration would be wasteful in tests).
func (c *Chip) Delay(d time.Duration) error {
	return nil
}

// Programming reports whether the chip is currently in its
// erase/write-enabled state (the last instruction it saw was EWEN, with
// no intervening EWDS), for tests asserting on ProgrammingEnabled's
// scoping behavior.
func (c *Chip) Programming() bool {
	return c.programming
}

var _ microwire.Hardware = (*Chip)(nil)
