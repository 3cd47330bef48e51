// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pex8112

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/axxon/eepromtool/conn/pciwindow"
)

// VendorID and DeviceID identify a PEX8112 PCIe-to-PCI bridge function in
// PCI configuration space. ClassCode/SubclassCode/ProgIf are the class
// triple a bridge function additionally reports: Bridge Device /
// PCI-to-PCI Bridge / Normal Decode.
const (
	VendorID = 0x10B5
	DeviceID = 0x8112

	ClassCode    = 0x06
	SubclassCode = 0x04
	ProgIf       = 0x00
)

// MAIN_INDEX / MAIN_DATA: the indirect register pair EECTL and DEVINIT are
// reached through. Neither is persistent across unrelated operations — a
// read always needs a fresh index write first.
const (
	mainIndex = 0x84
	mainData  = 0x88
)

// Sub-addresses selected through MAIN_INDEX.
const (
	devinitAddr = 0x00
	eectlAddr   = 0x04
)

// SPI-like opcodes the bridge forwards to the EEPROM once chip-select is
// asserted through EECTL.
const (
	opWrite = 0x02
	opRead  = 0x03
	opWRDI  = 0x04
	opRDSR  = 0x05
	opWREN  = 0x06
)

// eepromSignatureOffset is where ProgramImage plants the trailing "axxon"
// signature and VerifySignature expects to find it.
const eepromSignatureOffset = 0x78

// maxIdlePolls bounds the EECTL BUSY poll: the only timeout in this system.
const maxIdlePolls = 65536

// ErrIdleTimeout is returned when EECTL.busy never clears within
// maxIdlePolls reads.
var ErrIdleTimeout = errors.New("pex8112: EEPROM control register stayed busy")

// ErrAddressWidthUndetected is returned by the passive and active
// auto-detect algorithms when neither can pin down the EEPROM's address
// width.
var ErrAddressWidthUndetected = errors.New("pex8112: could not determine EEPROM address width")

// ErrNotPresent is returned by OpenFlash when EECTL reports no EEPROM
// attached.
var ErrNotPresent = errors.New("pex8112: no EEPROM present")

// ErrVerifyMismatch is returned when a post-write readback differs from
// what was written.
var ErrVerifyMismatch = errors.New("pex8112: verify mismatch")

// ErrImageMalformed is returned by ExtractImage on a bad magic byte,
// invalid flags, or a register/shared-memory count not aligned to its
// required multiple.
var ErrImageMalformed = errors.New("pex8112: malformed image")

// ErrUnsupportedDevice is returned when the requested operation targets
// an endpoint that isn't a PEX8112 bridge.
var ErrUnsupportedDevice = errors.New("pex8112: not a PEX8112 bridge")

// Bus is the indirect MAIN_INDEX/MAIN_DATA register pair over one
// endpoint's PCI configuration space; it is the plumbing every EECTL
// read/write and DEVINIT read goes through.
type Bus struct {
	cs pciwindow.ConfigSpace
}

// NewBus wraps cs as an indirect register bus.
func NewBus(cs pciwindow.ConfigSpace) *Bus {
	return &Bus{cs: cs}
}

// mainRead writes addr to MAIN_INDEX then reads MAIN_DATA.
func (b *Bus) mainRead(addr uint32) (uint32, error) {
	if err := b.cs.WriteDword(mainIndex, addr); err != nil {
		return 0, err
	}
	return b.cs.ReadDword(mainData)
}

// mainWrite writes addr to MAIN_INDEX then data to MAIN_DATA.
func (b *Bus) mainWrite(addr, data uint32) error {
	if err := b.cs.WriteDword(mainIndex, addr); err != nil {
		return err
	}
	return b.cs.WriteDword(mainData, data)
}

func (b *Bus) readEECTL() (EeControlRead, error) {
	v, err := b.mainRead(eectlAddr)
	return EeControlRead(v), err
}

func (b *Bus) writeEECTL(w EeControlWrite) error {
	return b.mainWrite(eectlAddr, w.Raw())
}

// readDEVINIT reads the device-initialization word at main-address 0x00.
func (b *Bus) readDEVINIT() (uint32, error) {
	return b.mainRead(devinitAddr)
}

// waitIdle polls EECTL up to maxIdlePolls times, returning the first read
// with busy=0.
func (b *Bus) waitIdle() (EeControlRead, error) {
	for i := 0; i < maxIdlePolls; i++ {
		r, err := b.readEECTL()
		if err != nil {
			return 0, err
		}
		if !r.Busy() {
			return r, nil
		}
	}
	return 0, ErrIdleTimeout
}

// eeOff waits idle, then writes the all-zero EECTL unless it's already
// off. It is the only way chip-select is deasserted.
func (b *Bus) eeOff() error {
	r, err := b.waitIdle()
	if err != nil {
		return err
	}
	if r.IsOff() {
		return nil
	}
	return b.writeEECTL(offWrite)
}

// eeSendByte waits idle, then clocks data out with byte_write_start and
// chip_select asserted.
func (b *Bus) eeSendByte(data byte) error {
	if _, err := b.waitIdle(); err != nil {
		return err
	}
	return b.writeEECTL(EeControlWrite(0).WithWriteData(data).WithByteWriteStart(true).WithChipSelect(true))
}

// eeReadByte waits idle, issues byte_read_start with chip_select asserted,
// waits idle again, and returns read_data.
func (b *Bus) eeReadByte() (byte, error) {
	if _, err := b.waitIdle(); err != nil {
		return 0, err
	}
	if err := b.writeEECTL(EeControlWrite(0).WithByteReadStart(true).WithChipSelect(true)); err != nil {
		return 0, err
	}
	r, err := b.waitIdle()
	if err != nil {
		return 0, err
	}
	return r.ReadData(), nil
}

// Flash is an opened PEX8112 indirect EEPROM session: a Bus plus the
// address width established at open time (from EECTL, or by auto-detect
// in recovery mode).
type Flash struct {
	bus   *Bus
	Width AddressWidth
}

// sendAddress writes addr MSB-first using f.Width bytes.
func (f *Flash) sendAddress(addr int) error {
	switch f.Width {
	case Width1:
		return f.bus.eeSendByte(byte(addr))
	case Width2:
		if err := f.bus.eeSendByte(byte(addr >> 8)); err != nil {
			return err
		}
		return f.bus.eeSendByte(byte(addr))
	case Width3:
		if err := f.bus.eeSendByte(byte(addr >> 16)); err != nil {
			return err
		}
		if err := f.bus.eeSendByte(byte(addr >> 8)); err != nil {
			return err
		}
		return f.bus.eeSendByte(byte(addr))
	default:
		return fmt.Errorf("pex8112: address width not set")
	}
}

// ReadStatus issues RDSR and returns the one status byte.
func (f *Flash) ReadStatus() (byte, error) {
	if err := f.bus.eeOff(); err != nil {
		return 0, err
	}
	if err := f.bus.eeSendByte(opRDSR); err != nil {
		return 0, err
	}
	b, err := f.bus.eeReadByte()
	if err != nil {
		return 0, err
	}
	return b, f.bus.eeOff()
}

// FlashReader is a single open READ command: chip-select stays asserted
// across every ReadByte, and Close (deferred by callers) is the only path
// that ever calls ee_off to release it.
type FlashReader struct {
	flash  *Flash
	closed bool
}

// Reader opens a READ session at addr. The caller must Close it — normally
// via defer — exactly once.
func (f *Flash) Reader(addr int) (*FlashReader, error) {
	if err := f.bus.eeOff(); err != nil {
		return nil, err
	}
	if err := f.bus.eeSendByte(opRead); err != nil {
		return nil, err
	}
	if err := f.sendAddress(addr); err != nil {
		return nil, err
	}
	return &FlashReader{flash: f}, nil
}

// ReadByte reads the next byte in the open session.
func (r *FlashReader) ReadByte() (byte, error) {
	return r.flash.bus.eeReadByte()
}

// Read fills buf one byte at a time.
func (r *FlashReader) Read(buf []byte) error {
	for i := range buf {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// Close deasserts chip-select. Safe to call more than once.
func (r *FlashReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.flash.bus.eeOff()
}

// FlashWriter is a single open WRITE command, mirroring FlashReader.
type FlashWriter struct {
	flash  *Flash
	closed bool
}

// Writer opens a WRITE session at addr, issuing WREN first. The caller
// must Close it exactly once.
func (f *Flash) Writer(addr int) (*FlashWriter, error) {
	if err := f.bus.eeOff(); err != nil {
		return nil, err
	}
	if err := f.bus.eeSendByte(opWREN); err != nil {
		return nil, err
	}
	if err := f.bus.eeOff(); err != nil {
		return nil, err
	}
	if err := f.bus.eeSendByte(opWrite); err != nil {
		return nil, err
	}
	if err := f.sendAddress(addr); err != nil {
		return nil, err
	}
	return &FlashWriter{flash: f}, nil
}

// WriteByte sends the next data byte of the open session.
func (w *FlashWriter) WriteByte(b byte) error {
	return w.flash.bus.eeSendByte(b)
}

// Write sends every byte of data in order.
func (w *FlashWriter) Write(data []byte) error {
	for _, b := range data {
		if err := w.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}

// Close deasserts chip-select, clearing WEL. Safe to call more than once.
func (w *FlashWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.flash.bus.eeOff()
}

// WriteByte opens a one-byte WRITE session at addr, writes data, and closes
// it.
func (f *Flash) WriteByte(addr int, data byte) error {
	w, err := f.Writer(addr)
	if err != nil {
		return err
	}
	if err := w.WriteByte(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ReadByte opens a one-byte READ session at addr, reads one byte, and
// closes it.
func (f *Flash) ReadByte(addr int) (byte, error) {
	r, err := f.Reader(addr)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return r.ReadByte()
}

var axxonSignature = []byte("axxon")

// ReadSignature reads the 5-byte signature field at eepromSignatureOffset.
func (f *Flash) ReadSignature() ([5]byte, error) {
	var sig [5]byte
	r, err := f.Reader(eepromSignatureOffset)
	if err != nil {
		return sig, err
	}
	defer r.Close()
	if err := r.Read(sig[:]); err != nil {
		return sig, err
	}
	return sig, nil
}

// VerifySignature fails unless the signature field reads exactly "axxon".
func (f *Flash) VerifySignature() error {
	sig, err := f.ReadSignature()
	if err != nil {
		return err
	}
	if !bytes.Equal(sig[:], axxonSignature) {
		return fmt.Errorf("pex8112: unexpected signature %q (expected %q)", sig, axxonSignature)
	}
	return nil
}

// devinitField bit masks within the DEVINIT word this system inspects.
const (
	devinitPCIeEnabled = 1 << 4
	devinitPCIEnabled  = 1 << 5
	devinitSpeedMask   = 0b1111
	devinitDefaultSpeed = 0b0011
)

// OpenFlash is the strict open path: present ∧ valid, a known address
// width, PCIe-and-PCI both enabled at the default speed, and a verified
// "axxon" signature.
func OpenFlash(cs pciwindow.ConfigSpace) (*Flash, error) {
	bus := NewBus(cs)
	eectl, err := bus.readEECTL()
	if err != nil {
		return nil, err
	}
	if !eectl.Present() {
		return nil, ErrNotPresent
	}
	if !eectl.Valid() {
		return nil, errors.New("pex8112: EEPROM invalid")
	}
	width := eectl.AddressWidth()
	if width == UnknownWidth {
		return nil, errors.New("pex8112: EEPROM address width unknown")
	}
	devinit, err := bus.readDEVINIT()
	if err != nil {
		return nil, err
	}
	if devinit&devinitPCIeEnabled == 0 {
		return nil, errors.New("pex8112: PCI Express not enabled")
	}
	if devinit&devinitPCIEnabled == 0 {
		return nil, errors.New("pex8112: PCI not enabled")
	}
	if devinit&devinitSpeedMask != devinitDefaultSpeed {
		return nil, errors.New("pex8112: speed not default (33.3/66/62.5)")
	}
	f := &Flash{bus: bus, Width: width}
	if err := f.VerifySignature(); err != nil {
		return nil, err
	}
	return f, nil
}

// Warner receives non-fatal diagnostics from OpenFlashRecovery, the way
// the strict open path's hard failures are downgraded to warnings. Passing
// nil discards them.
type Warner func(format string, args ...interface{})

// OpenFlashRecovery is the lenient open path: an EEPROM that EECTL reports
// as not present is still an error (ErrNotPresent), but an invalid EEPROM
// is only a warning, the DEVINIT and signature checks OpenFlash makes are
// skipped, and the passive address-width probe runs if EECTL doesn't
// report a width.
func OpenFlashRecovery(cs pciwindow.ConfigSpace, warn Warner) (*Flash, error) {
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}
	bus := NewBus(cs)
	eectl, err := bus.readEECTL()
	if err != nil {
		return nil, err
	}
	if !eectl.Present() {
		return nil, ErrNotPresent
	}
	if !eectl.Valid() {
		warn("EEPROM invalid")
	}
	width := eectl.AddressWidth()
	if width == UnknownWidth {
		warn("EEPROM address width unknown, trying to determine manually")
		width, err = DetectAddressWidth(bus)
		if err != nil {
			return nil, err
		}
	}
	devinit, err := bus.readDEVINIT()
	if err != nil {
		return nil, err
	}
	if devinit&devinitPCIeEnabled == 0 {
		warn("PCI Express not enabled")
	}
	if devinit&devinitPCIEnabled == 0 {
		warn("PCI not enabled")
	}
	if devinit&devinitSpeedMask != devinitDefaultSpeed {
		warn("speed not default (33.3/66/62.5)")
	}
	return &Flash{bus: bus, Width: width}, nil
}

// DetectAddressWidth runs the passive auto-detect algorithm: with
// chip-select held after a READ opcode and no address bytes sent, the
// EEPROM keeps emitting 0xFF for every byte it is still waiting on as
// address, then starts returning real data once it believes the address
// is complete (all-zero, since the host sent none). The probe watches for
// the first non-0xFF byte and works out, from its position, which of the
// three address widths actually produced it.
func DetectAddressWidth(bus *Bus) (AddressWidth, error) {
	if err := bus.eeOff(); err != nil {
		return UnknownWidth, err
	}
	if err := bus.eeSendByte(opRead); err != nil {
		return UnknownWidth, err
	}
	b0, err := bus.eeReadByte()
	if err != nil {
		return UnknownWidth, err
	}
	if b0 != 0xFF {
		return UnknownWidth, errors.New("pex8112: first data byte with empty address is not 0xff")
	}
	b1, err := bus.eeReadByte()
	if err != nil {
		return UnknownWidth, err
	}
	if b1 != 0xFF {
		return Width1, nil
	}
	addr := 2
	var data byte
	for {
		data, err = bus.eeReadByte()
		if err != nil {
			return UnknownWidth, err
		}
		if data != 0xFF {
			break
		}
		addr++
		if addr >= 0x200 {
			return UnknownWidth, fmt.Errorf("pex8112: %w: no non-0xff byte found", ErrAddressWidthUndetected)
		}
	}

	if addr < 0x101 {
		candidate := addr - 1
		if w, ok, err := tryWidthCandidate(bus, Width1, candidate, data); err != nil {
			return UnknownWidth, err
		} else if ok {
			return w, nil
		}
	}
	if addr < 0x10002 {
		candidate := addr - 2
		if w, ok, err := tryWidthCandidate(bus, Width2, candidate, data); err != nil {
			return UnknownWidth, err
		} else if ok {
			return w, nil
		}
	}
	if addr < 0x1000003 {
		candidate := addr - 3
		if w, ok, err := tryWidthCandidate(bus, Width3, candidate, data); err != nil {
			return UnknownWidth, err
		} else if ok {
			return w, nil
		}
	}
	if err := bus.eeOff(); err != nil {
		return UnknownWidth, err
	}
	return UnknownWidth, fmt.Errorf("pex8112: %w: found non-0xff byte at offset %d but no candidate width matched", ErrAddressWidthUndetected, addr)
}

// tryWidthCandidate re-opens a READ at candidate using width bytes of
// address and reports whether it reproduces the original observed byte.
func tryWidthCandidate(bus *Bus, width AddressWidth, candidate int, want byte) (AddressWidth, bool, error) {
	f := &Flash{bus: bus, Width: width}
	if err := bus.eeOff(); err != nil {
		return UnknownWidth, false, err
	}
	if err := bus.eeSendByte(opRead); err != nil {
		return UnknownWidth, false, err
	}
	if err := f.sendAddress(candidate); err != nil {
		return UnknownWidth, false, err
	}
	got, err := bus.eeReadByte()
	if err != nil {
		return UnknownWidth, false, err
	}
	if got != want {
		return UnknownWidth, false, nil
	}
	return width, true, bus.eeOff()
}

// DetectAddressWidthAllowWriting falls back to destructive probing when
// DetectAddressWidth fails because the flash reads as all-0xFF: for each
// width candidate it writes a known 0x00 at address 0 and checks whether
// it landed. A width that doesn't match leaves the chip unwritten (the
// command went to the wrong address), so this is safe to try in order
// until one succeeds; the probed value is restored to 0xFF immediately.
func DetectAddressWidthAllowWriting(bus *Bus) (AddressWidth, error) {
	passive, passiveErr := DetectAddressWidth(bus)
	if passiveErr == nil {
		return passive, nil
	}
	if !errors.Is(passiveErr, ErrAddressWidthUndetected) {
		return UnknownWidth, passiveErr
	}

	if err := bus.eeOff(); err != nil {
		return UnknownWidth, err
	}
	if err := bus.eeSendByte(opRead); err != nil {
		return UnknownWidth, err
	}
	for i := 0; i < 0x100; i++ {
		b, err := bus.eeReadByte()
		if err != nil {
			return UnknownWidth, err
		}
		if b != 0xFF {
			// Already found non-0xFF data but couldn't place it; writing
			// won't help disambiguate further.
			return UnknownWidth, passiveErr
		}
	}
	if err := bus.eeOff(); err != nil {
		return UnknownWidth, err
	}

	for _, w := range []AddressWidth{Width1, Width2, Width3} {
		f := &Flash{bus: bus, Width: w}
		if err := f.WriteByte(0, 0x00); err != nil {
			return UnknownWidth, err
		}
		data, err := f.ReadByte(0)
		if err != nil {
			return UnknownWidth, err
		}
		if data != 0xFF {
			if err := f.WriteByte(0, 0xFF); err != nil {
				return UnknownWidth, err
			}
			if data != 0x00 {
				return UnknownWidth, fmt.Errorf("pex8112: address width detection failed: wrote 0x00 over 0xff, got %#02x back", data)
			}
			return w, nil
		}
	}
	return UnknownWidth, fmt.Errorf("pex8112: %w: even writing 0x00 at address 0 did not pin it down", ErrAddressWidthUndetected)
}
