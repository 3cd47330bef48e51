// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package microwire

import (
	"errors"
	"fmt"
)

// Default93C46AddressBits is the address width of a 93C46 (64x16) EEPROM,
// the chip this system's OX16PCI954 carries. Ops defaults to this width
// until ProbeAddressWidth overrides it, since every device this tool talks
// to is a 93C46, but the probe mechanism itself stays width-generic so it
// can be exercised and tested against other Microwire EEPROM variants.
const Default93C46AddressBits = 6

// maxAddressWidthProbe bounds ProbeAddressWidth's leading-ones count, so a
// hung input pin (stuck high) can't spin forever.
const maxAddressWidthProbe = 16

// instruction opcodes, 2 bits, sent after the start bit.
const (
	opRead     = 0b10
	opWrite    = 0b01
	opErase    = 0b11
	opExtended = 0b00
)

// extended (opExtended) sub-opcodes, 2 bits, sent in place of the top two
// address bits.
const (
	subEWDS = 0b00
	subWRAL = 0b01
	subERAL = 0b10
	subEWEN = 0b11
)

// ErrAddressWidthIndeterminate is returned by ProbeAddressWidth and ReadAll
// when the leading-ones count exceeds maxAddressWidthProbe without a
// terminating 0.
var ErrAddressWidthIndeterminate = errors.New("microwire: address width probe did not terminate")

// Transaction is a scoped Microwire session: Begin issues the start bit
// (after waiting for any previous operation to complete), the caller
// drives the instruction-specific bits, and Close runs the terminal step
// — pull CS and DATA low and wait one half-edge — regardless of how the
// caller reached Close. Every Begin must be paired with exactly one
// Close, normally via defer.
type Transaction struct {
	low    *Low
	closed bool
}

// Begin starts a new Microwire instruction.
func (l *Low) Begin() (*Transaction, error) {
	if err := l.startInstruction(); err != nil {
		return nil, err
	}
	return &Transaction{low: l}, nil
}

// Close runs the transaction's terminal step. Safe to call more than once.
func (t *Transaction) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.low.finishInstruction()
}

// ReadTransaction is a Transaction used for a READ (or the address-width
// probe, which is a READ with the address elided); its terminal step is
// identical to Transaction's.
type ReadTransaction struct {
	Transaction
}

// BeginRead starts a new READ-shaped Microwire session.
func (l *Low) BeginRead() (*ReadTransaction, error) {
	tx, err := l.Begin()
	if err != nil {
		return nil, err
	}
	return &ReadTransaction{Transaction: *tx}, nil
}

// ProgramTransaction is a Transaction whose terminal step additionally
// BUSY-waits before the common finish, for instructions (ERASE, ERAL,
// WRAL) that the chip executes asynchronously after the last clocked bit.
type ProgramTransaction struct {
	Transaction
}

// BeginProgram starts a new program-shaped (ERASE/ERAL/WRAL) Microwire
// session.
func (l *Low) BeginProgram() (*ProgramTransaction, error) {
	tx, err := l.Begin()
	if err != nil {
		return nil, err
	}
	return &ProgramTransaction{Transaction: *tx}, nil
}

// Close BUSY-waits, then runs the common terminal step. Safe to call more
// than once.
func (t *ProgramTransaction) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.low.busyWait(); err != nil {
		return err
	}
	return t.low.finishInstruction()
}

func (l *Low) sendBits(v uint, n int) error {
	for i := n - 1; i >= 0; i-- {
		if err := l.sendBit((v>>uint(i))&1 != 0); err != nil {
			return err
		}
	}
	return nil
}

// Ops is the 93C46 instruction set layered on a Hardware: ERASE, READ,
// WRITE, EWEN, EWDS, ERAL, WRAL, the address-width probe, and the
// batched ReadAll stream.
type Ops struct {
	low             *Low
	width           int // address width in bits; Default93C46AddressBits until probed or set
	programmingDepth int
}

// NewOps wraps hw, defaulting to Default93C46AddressBits until
// ProbeAddressWidth is called or SetAddressWidth overrides it.
func NewOps(hw Hardware) *Ops {
	return &Ops{low: NewLow(hw), width: Default93C46AddressBits}
}

// AddressWidth returns the currently configured address width in bits.
func (o *Ops) AddressWidth() int { return o.width }

// SetAddressWidth overrides the address width without probing, for
// devices whose width is already known.
func (o *Ops) SetAddressWidth(bits int) { o.width = bits }

// ProbeAddressWidth sends a READ start+opcode and enters receive mode
// before sending any address bits. Since the host drives no real address
// bits, the chip keeps shifting in zeros for its own internal address
// register; DO reads 1 for every cycle the chip is still waiting on the
// address and then emits a guaranteed dummy 0 the instant the address is
// (spuriously) complete, right before the data word. The probe counts
// consecutive 1s before that terminating 0, which equals the chip's true
// address width, independent of what the stored data actually contains.
// The count is capped at maxAddressWidthProbe to prevent an infinite loop
// on a hung input pin.
//
// On success, the probed width becomes AddressWidth(). Callers that want
// the full dump should use ReadAll instead, which performs the same probe
// and then continues reading every word.
func (o *Ops) ProbeAddressWidth() (int, error) {
	tx, err := o.low.BeginRead()
	if err != nil {
		return 0, err
	}
	defer tx.Close()
	if err := o.low.sendBits(opRead, 2); err != nil {
		return 0, err
	}
	ones := 0
	for {
		b, err := o.low.forceReceiveOnce(ones == 0)
		if err != nil {
			return 0, err
		}
		if !b {
			break
		}
		ones++
		if ones > maxAddressWidthProbe {
			return 0, ErrAddressWidthIndeterminate
		}
	}
	o.width = ones
	return ones, nil
}

// forceReceiveOnce samples one bit in receive mode: the first bit of a
// stream uses forceReceive (drops CLK to enter receive mode), subsequent
// bits use receiveBit.
func (l *Low) forceReceiveOnce(first bool) (bool, error) {
	if first {
		return l.forceReceive()
	}
	return l.receiveBit()
}

// Read reads the 16-bit word at addr.
func (o *Ops) Read(addr int) (uint16, error) {
	tx, err := o.low.BeginRead()
	if err != nil {
		return 0, err
	}
	defer tx.Close()
	if err := o.low.sendBits(opRead, 2); err != nil {
		return 0, err
	}
	if err := o.low.sendBits(uint(addr), o.width); err != nil {
		return 0, err
	}
	return o.low.receiveWord()
}

// Write writes data to addr. The caller must be inside a programming
// scope (StartProgramming) or the chip silently ignores the write.
func (o *Ops) Write(addr int, data uint16) error {
	tx, err := o.low.BeginProgram()
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := o.low.sendBits(opWrite, 2); err != nil {
		return err
	}
	if err := o.low.sendBits(uint(addr), o.width); err != nil {
		return err
	}
	return o.low.sendBits(uint(data), 16)
}

// Erase erases addr to all-ones.
func (o *Ops) Erase(addr int) error {
	tx, err := o.low.BeginProgram()
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := o.low.sendBits(opErase, 2); err != nil {
		return err
	}
	return o.low.sendBits(uint(addr), o.width)
}

func (o *Ops) extended(sub uint) (*Transaction, error) {
	tx, err := o.low.Begin()
	if err != nil {
		return nil, err
	}
	if err := o.low.sendBits(opExtended, 2); err != nil {
		tx.Close()
		return nil, err
	}
	if err := o.low.sendBits(sub, 2); err != nil {
		tx.Close()
		return nil, err
	}
	if err := o.low.sendBits(0, o.width-2); err != nil {
		tx.Close()
		return nil, err
	}
	return tx, nil
}

// ewen is the raw EWEN instruction, unconditionally issued.
func (o *Ops) ewen() error {
	tx, err := o.extended(subEWEN)
	if err != nil {
		return err
	}
	return tx.Close()
}

// ewds is the raw EWDS instruction, unconditionally issued.
func (o *Ops) ewds() error {
	tx, err := o.extended(subEWDS)
	if err != nil {
		return err
	}
	return tx.Close()
}

// EraseAll erases every word to all-ones. Must be called within a
// programming scope.
func (o *Ops) EraseAll() error {
	low, err := o.extendedProgram(subERAL)
	if err != nil {
		return err
	}
	return low.Close()
}

// WriteAll writes data to every word. Must be called within a programming
// scope.
func (o *Ops) WriteAll(data uint16) error {
	tx, err := o.low.BeginProgram()
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := o.low.sendBits(opExtended, 2); err != nil {
		return err
	}
	if err := o.low.sendBits(subWRAL, 2); err != nil {
		return err
	}
	if err := o.low.sendBits(0, o.width-2); err != nil {
		return err
	}
	return o.low.sendBits(uint(data), 16)
}

func (o *Ops) extendedProgram(sub uint) (*ProgramTransaction, error) {
	tx, err := o.low.BeginProgram()
	if err != nil {
		return nil, err
	}
	if err := o.low.sendBits(opExtended, 2); err != nil {
		tx.Close()
		return nil, err
	}
	if err := o.low.sendBits(sub, 2); err != nil {
		tx.Close()
		return nil, err
	}
	if err := o.low.sendBits(0, o.width-2); err != nil {
		tx.Close()
		return nil, err
	}
	return tx, nil
}

// ReadAll probes the address width (on every call, updating
// AddressWidth()) and then
// continues sampling 16-bit words back to back, yielding 2^width words
// total. This is the only batched-read path and remains one open
// transaction: the chip auto-increments its internal address register
// only while CS is held.
func (o *Ops) ReadAll() ([]uint16, error) {
	tx, err := o.low.BeginRead()
	if err != nil {
		return nil, err
	}
	defer tx.Close()
	if err := o.low.sendBits(opRead, 2); err != nil {
		return nil, err
	}
	ones := 0
	for {
		b, err := o.low.forceReceiveOnce(ones == 0)
		if err != nil {
			return nil, err
		}
		if !b {
			break
		}
		ones++
		if ones > maxAddressWidthProbe {
			return nil, ErrAddressWidthIndeterminate
		}
	}
	o.width = ones
	n := 1 << uint(ones)
	words := make([]uint16, 0, n)
	// The dummy bit that separates the address-shift phase from data is
	// already consumed above, as the terminator of the leading-ones count;
	// every word from here, including the first, is a plain 16-bit read.
	for len(words) < n {
		word, err := o.low.receiveWord16()
		if err != nil {
			return nil, err
		}
		words = append(words, word)
	}
	return words, nil
}

// ProgrammingEnabled is a scoped wrapper recording that EWEN was issued on
// entry; Close issues EWDS unless an outer scope is still active, in which
// case nested scopes share the outer envelope and do nothing on Close.
type ProgrammingEnabled struct {
	ops    *Ops
	closed bool
}

// StartProgramming issues EWEN if this is the outermost programming scope
// on ops, and returns a handle whose Close issues EWDS once the outermost
// scope closes.
func (o *Ops) StartProgramming() (*ProgrammingEnabled, error) {
	if o.programmingDepth == 0 {
		if err := o.ewen(); err != nil {
			return nil, err
		}
	}
	o.programmingDepth++
	return &ProgrammingEnabled{ops: o}, nil
}

// Close ends this programming scope, issuing EWDS iff it was the
// outermost. Safe to call more than once.
func (p *ProgrammingEnabled) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.ops.programmingDepth--
	if p.ops.programmingDepth < 0 {
		p.ops.programmingDepth = 0
	}
	if p.ops.programmingDepth == 0 {
		return p.ops.ewds()
	}
	return nil
}

func (o *Ops) String() string {
	return fmt.Sprintf("microwire.Ops(width=%d)", o.width)
}
