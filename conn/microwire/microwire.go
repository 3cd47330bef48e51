// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package microwire implements the three-wire Microwire protocol used by
// 93C46-family serial EEPROMs (CS, CLK, DI/DO), bit-banged over a pin-level
// Hardware capability the same way experimental/devices/bitbang bit-bangs
// SPI and I²C over raw GPIO pins.
//
// It is deliberately narrow: a Hardware implementation only needs to drive
// three output pins and sample one input pin with a reliable delay between
// edges; everything above that (instruction encoding, address-width
// detection, scoped erase/write-enable) lives in ops.go.
package microwire

import (
	"errors"
	"time"
)

// HalfEdge is the minimum time to hold the bus stable after any pin change,
// per the 93C46 datasheet's setup/hold requirements. Hardware.Delay must
// sleep for at least this long, re-sleeping if the host's sleep call
// returns early (the "reliable delay" contract): a short host sleep here
// would violate the chip's setup time and desynchronize the protocol.
const HalfEdge = 250 * time.Nanosecond

// OutPins is the set of output pin states driven towards the EEPROM.
type OutPins struct {
	ChipSelect bool
	Clock      bool
	Data       bool
}

// Hardware is the pin-level capability the Microwire layer is built on: set
// the three output pins as one unit, sample the single data-in pin, and
// reliably delay at least one half clock edge. It is the only polymorphism
// point in this package — one method set, not a class hierarchy.
type Hardware interface {
	// SetPins drives CS/CLK/DATA to the given levels.
	SetPins(p OutPins) error
	// ReadPin samples the input (DO) pin.
	ReadPin() (bool, error)
	// Delay sleeps for at least d, reliably: if the underlying sleep
	// primitive returns early, it must re-sleep for the remainder.
	Delay(d time.Duration) error
}

// ReliableSleep sleeps for at least d using time.Sleep, re-sleeping if, as
// observed on some hosts, the OS returns a short sleep. It is provided so
// Hardware implementations backed by a plain OS sleep can satisfy the
// reliable-delay contract without reimplementing the retry loop.
func ReliableSleep(d time.Duration) error {
	for remaining := d; remaining > 0; {
		start := time.Now()
		time.Sleep(remaining)
		elapsed := time.Since(start)
		if elapsed >= remaining {
			return nil
		}
		remaining -= elapsed
	}
	return nil
}

// Signal is one of the three electrical states the Microwire low-level
// layer drives on every clock phase: Clear (cs=0, data=0), Zero (cs=1,
// data=0) or One (cs=1, data=1). There is no "cs=0, data=1" state; the
// chip doesn't distinguish it from Clear.
type Signal int

const (
	// Clear drops chip-select, ending any in-progress command.
	Clear Signal = iota
	// Zero holds chip-select with DATA low.
	Zero
	// One holds chip-select with DATA high; it is also the Microwire start
	// bit.
	One
)

func (s Signal) pins(clk bool) OutPins {
	switch s {
	case Clear:
		return OutPins{ChipSelect: false, Clock: clk, Data: false}
	case One:
		return OutPins{ChipSelect: true, Clock: clk, Data: true}
	default:
		return OutPins{ChipSelect: true, Clock: clk, Data: false}
	}
}

// withClock returns the OutPins for s with the given clock level, letting
// callers drive the low and high clock phases of one cycle explicitly.
func (s Signal) withClock(clk bool) OutPins {
	return s.pins(clk)
}

// bit returns Zero or One for a data bit, MSB-first callers shift out one
// bit at a time with this helper.
func bit(b bool) Signal {
	if b {
		return One
	}
	return Zero
}

// Low is the low-level Microwire driver: one signal() cycle, BUSY-wait, and
// bit-at-a-time send/receive built directly on a Hardware. Instruction
// encoding lives in ops.go, one layer up.
type Low struct {
	hw Hardware
}

// NewLow wraps hw as a Microwire low-level driver.
func NewLow(hw Hardware) *Low {
	return &Low{hw: hw}
}

// signal drives s for one full clock cycle: CLK low while DATA/CS settle,
// delay, CLK high, delay. This guarantees the device sees stable data on
// every rising edge with adequate setup time, per the datasheet.
func (l *Low) signal(s Signal) error {
	if err := l.hw.SetPins(s.withClock(false)); err != nil {
		return err
	}
	if err := l.hw.Delay(HalfEdge); err != nil {
		return err
	}
	if err := l.hw.SetPins(s.withClock(true)); err != nil {
		return err
	}
	return l.hw.Delay(HalfEdge)
}

// signalAndRead is signal, plus a sample of the input pin while CLK is
// high, then CLK is returned low. Data is read on the rising CLK per the
// datasheet, so the sampled value corresponds to the last bit shifted out.
func (l *Low) signalAndRead(s Signal) (bool, error) {
	if err := l.hw.SetPins(s.withClock(false)); err != nil {
		return false, err
	}
	if err := l.hw.Delay(HalfEdge); err != nil {
		return false, err
	}
	if err := l.hw.SetPins(s.withClock(true)); err != nil {
		return false, err
	}
	v, err := l.hw.ReadPin()
	if err != nil {
		return false, err
	}
	if err := l.hw.SetPins(s.withClock(false)); err != nil {
		return false, err
	}
	return v, nil
}

// startInstruction ensures the previous operation completed (busyWait),
// then issues the Microwire start bit (signal(One)).
func (l *Low) startInstruction() error {
	if err := l.busyWait(); err != nil {
		return err
	}
	return l.signal(One)
}

// finishInstruction drives Clear with CLK low and delays one half-edge.
func (l *Low) finishInstruction() error {
	if err := l.hw.SetPins(Clear.withClock(false)); err != nil {
		return err
	}
	return l.hw.Delay(HalfEdge)
}

// busyWait pulses Clear then Zero, then loops issuing Zero signals while
// the input pin reads low; it reads high once the chip is READY. After an
// ERASE/WRITE the EEPROM drives DO low until it finishes; the pin is
// otherwise pulled high.
func (l *Low) busyWait() error {
	if err := l.signal(Clear); err != nil {
		return err
	}
	for {
		ready, err := l.signalAndRead(Zero)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
	}
}

// sendBitAndReadPrevious places b on DATA while CLK is low, samples the
// input (which reflects the previous cycle's output), then raises CLK and
// delays.
func (l *Low) sendBitAndReadPrevious(b bool) (bool, error) {
	s := bit(b)
	if err := l.hw.SetPins(s.withClock(false)); err != nil {
		return false, err
	}
	prev, err := l.hw.ReadPin()
	if err != nil {
		return false, err
	}
	if err := l.hw.SetPins(s.withClock(true)); err != nil {
		return false, err
	}
	if err := l.hw.Delay(HalfEdge); err != nil {
		return false, err
	}
	return prev, nil
}

// sendBit is sendBitAndReadPrevious, asserting that the previous sampled
// bit was HIGH: during the command phase this catches spurious bus
// contention.
func (l *Low) sendBit(b bool) error {
	prev, err := l.sendBitAndReadPrevious(b)
	if err != nil {
		return err
	}
	if !prev {
		return errors.New("microwire: bus contention detected during command phase")
	}
	return nil
}

// forceReceive drops CLK and delays, entering data-in mode, then samples
// the input. The protocol requires this CLK toggle after a write-phase
// command to move into the receive phase.
func (l *Low) forceReceive() (bool, error) {
	if err := l.hw.SetPins(Zero.withClock(false)); err != nil {
		return false, err
	}
	if err := l.hw.Delay(HalfEdge); err != nil {
		return false, err
	}
	return l.hw.ReadPin()
}

// receiveBit raises and lowers CLK with DATA=0 and samples on the low
// half.
func (l *Low) receiveBit() (bool, error) {
	if err := l.hw.SetPins(Zero.withClock(true)); err != nil {
		return false, err
	}
	if err := l.hw.Delay(HalfEdge); err != nil {
		return false, err
	}
	if err := l.hw.SetPins(Zero.withClock(false)); err != nil {
		return false, err
	}
	if err := l.hw.Delay(HalfEdge); err != nil {
		return false, err
	}
	return l.hw.ReadPin()
}

// receiveWord16 reads a plain 16-bit word, MSB first, with receiveBit alone.
// It assumes the chip's guaranteed dummy 0 bit (the transition out of the
// address-shift phase) has already been consumed by the caller — either by
// receiveWord, or, during the address-width probe, by the
// leading-ones count itself terminating on it.
func (l *Low) receiveWord16() (uint16, error) {
	var v uint16
	for i := 15; i >= 0; i-- {
		bitVal, err := l.receiveBit()
		if err != nil {
			return 0, err
		}
		if bitVal {
			v |= 1 << uint(i)
		}
	}
	return v, nil
}

// receiveWord discards the chip's dummy bit with forceReceive, then reads
// the 16-bit word that follows. Used after an explicit (non-probed)
// address has been sent: the probe path consumes the dummy bit itself as
// the terminator of its leading-ones count and must call receiveWord16
// directly instead.
func (l *Low) receiveWord() (uint16, error) {
	if _, err := l.forceReceive(); err != nil {
		return 0, err
	}
	return l.receiveWord16()
}
