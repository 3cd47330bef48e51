// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package orchestrate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axxon/eepromtool/conn/microwire"
	"github.com/axxon/eepromtool/conn/microwire/microwiretest"
	"github.com/axxon/eepromtool/conn/pciwindow"
	"github.com/axxon/eepromtool/conn/pciwindow/pcitest"
	"github.com/axxon/eepromtool/devices/ox16pci954"
	"github.com/axxon/eepromtool/devices/pex8112"
	"github.com/axxon/eepromtool/devices/pex8112/pex8112test"
)

// ox16PinByteOffset mirrors devices/ox16pci954's pinByteOffset: BAR3 byte 3
// carries CLK/CS/DOUT/DIN, the same protocol fact pex8112test hardcodes for
// the PEX8112's indirect registers.
const ox16PinByteOffset = 3

// chipResource bridges a microwiretest.Chip into a pciwindow.Resource,
// translating byte access at ox16PinByteOffset into SetPins/ReadPin calls
// exactly as the real OX16PCI954 EEPROM adapter does in the other
// direction, so Sweep can be exercised against a fully simulated Microwire
// EEPROM rather than a dumb byte buffer.
type chipResource struct {
	ep   pciwindow.Endpoint
	num  int
	buf  [32]byte
	chip *microwiretest.Chip
}

func newChipResource(ep pciwindow.Endpoint, chip *microwiretest.Chip) *chipResource {
	return &chipResource{ep: ep, num: eepromResourceNumber, chip: chip}
}

func (r *chipResource) Endpoint() pciwindow.Endpoint { return r.ep }
func (r *chipResource) Number() int                  { return r.num }
func (r *chipResource) Len() int                     { return len(r.buf) }
func (r *chipResource) Close() error                 { return nil }

func (r *chipResource) ReadByte(off int) (byte, error) {
	if off < 0 || off >= len(r.buf) {
		return 0, fmt.Errorf("chipResource: offset out of range")
	}
	if off != ox16PinByteOffset {
		return r.buf[off], nil
	}
	din, err := r.chip.ReadPin()
	if err != nil {
		return 0, err
	}
	b := r.buf[off] &^ 0x08
	if din {
		b |= 0x08
	}
	return b, nil
}

func (r *chipResource) WriteByte(off int, v byte) error {
	if off < 0 || off >= len(r.buf) {
		return fmt.Errorf("chipResource: offset out of range")
	}
	r.buf[off] = v
	if off != ox16PinByteOffset {
		return nil
	}
	return r.chip.SetPins(microwire.OutPins{
		Clock:      v&0x01 != 0,
		ChipSelect: v&0x02 != 0,
		Data:       v&0x04 != 0,
	})
}

func (r *chipResource) ReadDword(off int) (uint32, error) {
	if off < 0 || off+4 > len(r.buf) {
		return 0, fmt.Errorf("chipResource: offset out of range")
	}
	return binary.LittleEndian.Uint32(r.buf[off : off+4]), nil
}

func (r *chipResource) WriteDword(off int, v uint32) error {
	if off < 0 || off+4 > len(r.buf) {
		return fmt.Errorf("chipResource: offset out of range")
	}
	binary.LittleEndian.PutUint32(r.buf[off:off+4], v)
	return nil
}

var _ pciwindow.Resource = (*chipResource)(nil)

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

// TestSweepPEX8112UpToDate is §8 scenario 1.
func TestSweepPEX8112UpToDate(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	h.AddEndpoint(ep, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)
	h.SetConfigSpace(ep, pex8112test.New(pex8112.Width2, pex8112test.ReferenceFlashBytes()))

	reports, err := Sweep(h, Options{Log: discardLogger()})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].UpToDate)
	assert.False(t, reports[0].Flashed)
	assert.NoError(t, reports[0].Err)
}

// TestSweepPEX8112StaleCompareOnly is §8 scenario 2.
func TestSweepPEX8112StaleCompareOnly(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	mem := pex8112test.ReferenceFlashBytes()
	mem[0x10] = 0x11
	h.AddEndpoint(ep, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)
	h.SetConfigSpace(ep, pex8112test.New(pex8112.Width2, mem))

	reports, err := Sweep(h, Options{Log: discardLogger()})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].UpToDate)
	assert.False(t, reports[0].Flashed)
	assert.Contains(t, reports[0].Diff, "0010:")
}

// TestSweepPEX8112FlashAndVerify is §8 scenario 3.
func TestSweepPEX8112FlashAndVerify(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	mem := make([]byte, pex8112test.SignatureOffset+5)
	for i := range mem {
		mem[i] = 0xFF
	}
	h.AddEndpoint(ep, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)
	h.SetConfigSpace(ep, pex8112test.New(pex8112.Width2, mem))

	reports, err := Sweep(h, Options{Flash: true, Log: discardLogger()})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Flashed)
	assert.True(t, reports[0].UpToDate)
	assert.NoError(t, reports[0].Err)
	assert.Equal(t, pex8112.ReferenceImage, mem[:len(pex8112.ReferenceImage)])
}

func TestSweepPEX8112DryRunDoesNotWrite(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	mem := make([]byte, pex8112test.SignatureOffset+5)
	for i := range mem {
		mem[i] = 0xFF
	}
	h.AddEndpoint(ep, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)
	h.SetConfigSpace(ep, pex8112test.New(pex8112.Width2, mem))

	reports, err := Sweep(h, Options{Flash: true, DryRun: true, Log: discardLogger()})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Flashed)
	assert.False(t, reports[0].UpToDate)
	assert.Equal(t, byte(0xFF), mem[0])
}

func bridgeAndUART(t *testing.T, h *pcitest.Host, chip *microwiretest.Chip) (bridge, uart pciwindow.Endpoint) {
	t.Helper()
	bridge = pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	uart = pciwindow.Endpoint{Bus: 1, Slot: 0, Function: 1}
	h.AddEndpoint(bridge, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)
	h.SetConfigSpace(bridge, pex8112test.New(pex8112.Width2, pex8112test.ReferenceFlashBytes()))
	h.SetSecondaryBus(bridge, 1)

	h.AddEndpoint(uart, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)
	h.SetResource(uart, eepromResourceNumber, newChipResource(uart, chip))
	return bridge, uart
}

// TestSweepOX16PCI954EmptyFlashFlashAndVerify is §8 scenario 4.
func TestSweepOX16PCI954EmptyFlashFlashAndVerify(t *testing.T) {
	h := pcitest.NewHost()
	chip := microwiretest.NewChip(microwire.Default93C46AddressBits)
	bridge, uart := bridgeAndUART(t, h, chip)

	reports, err := Sweep(h, Options{Flash: true, Log: discardLogger()})
	require.NoError(t, err)
	require.Len(t, reports, 2)

	var bridgeReport, uartReport *Report
	for i := range reports {
		switch reports[i].Endpoint {
		case bridge:
			bridgeReport = &reports[i]
		case uart:
			uartReport = &reports[i]
		}
	}
	require.NotNil(t, bridgeReport)
	require.NotNil(t, uartReport)
	assert.True(t, bridgeReport.UpToDate)
	assert.True(t, uartReport.Flashed)
	assert.True(t, uartReport.UpToDate)

	got, err := ox16pci954.Decode(chip.Words)
	require.NoError(t, err)
	assert.Equal(t, ox16pci954.Image, got)
}

func TestSweepOX16PCI954AlreadyUpToDate(t *testing.T) {
	h := pcitest.NewHost()
	chip := microwiretest.NewChip(microwire.Default93C46AddressBits)
	copy(chip.Words, ox16pci954.Image)
	_, uart := bridgeAndUART(t, h, chip)

	reports, err := Sweep(h, Options{Log: discardLogger()})
	require.NoError(t, err)

	var uartReport *Report
	for i := range reports {
		if reports[i].Endpoint == uart {
			uartReport = &reports[i]
		}
	}
	require.NotNil(t, uartReport)
	assert.True(t, uartReport.UpToDate)
	assert.False(t, uartReport.Flashed)
}

// TestSweepOX16PCI954NotBehindBridgeStillChecked confirms an OX16PCI954
// endpoint on a bus no PEX8112 bridge claimed as its secondary bus is still
// read and compared, with no driver bound to stop it — "not behind an
// Axxon bridge" is only a warning, matching is_axxon_card in the original
// flash tool, not a reason to skip the check outright.
func TestSweepOX16PCI954NotBehindBridgeStillChecked(t *testing.T) {
	h := pcitest.NewHost()
	chip := microwiretest.NewChip(microwire.Default93C46AddressBits)
	uart := pciwindow.Endpoint{Bus: 5, Slot: 0, Function: 1}
	h.AddEndpoint(uart, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)
	h.SetResource(uart, eepromResourceNumber, newChipResource(uart, chip))

	reports, err := Sweep(h, Options{Log: discardLogger()})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, uart, reports[0].Endpoint)
	assert.False(t, reports[0].UpToDate)
	assert.NoError(t, reports[0].Err)
}

// TestSweepOX16PCI954NotBehindBridgeWithDriverSkipped confirms the one case
// that does skip the check: a driver bound on an endpoint that isn't behind
// a recognized Axxon bridge, matching the original's "not checking flash,
// as OX16PCI954 is in use by driver ... (and this is not an Axxon card)".
func TestSweepOX16PCI954NotBehindBridgeWithDriverSkipped(t *testing.T) {
	h := pcitest.NewHost()
	chip := microwiretest.NewChip(microwire.Default93C46AddressBits)
	uart := pciwindow.Endpoint{Bus: 5, Slot: 0, Function: 1}
	h.AddEndpoint(uart, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)
	h.SetResource(uart, eepromResourceNumber, newChipResource(uart, chip))
	h.SetDriver(uart, pcitest.NewFakeDriver("serial", uart))

	reports, err := Sweep(h, Options{Log: discardLogger()})
	require.NoError(t, err)
	assert.Empty(t, reports)
}

// TestSweepOX16PCI954Function0DeferredAndResolved is the deferral path: a
// driver is bound to function 0, so its check is deferred pending function
// 1 on the same bus, which then resolves it with no error reported.
func TestSweepOX16PCI954Function0DeferredAndResolved(t *testing.T) {
	h := pcitest.NewHost()
	bridge := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	h.AddEndpoint(bridge, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)
	h.SetConfigSpace(bridge, pex8112test.New(pex8112.Width2, pex8112test.ReferenceFlashBytes()))
	h.SetSecondaryBus(bridge, 1)

	fn0 := pciwindow.Endpoint{Bus: 1, Slot: 0, Function: 0}
	fn1 := pciwindow.Endpoint{Bus: 1, Slot: 0, Function: 1}
	h.AddEndpoint(fn0, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)
	h.SetDriver(fn0, pcitest.NewFakeDriver("serial", fn0))

	chip := microwiretest.NewChip(microwire.Default93C46AddressBits)
	copy(chip.Words, ox16pci954.Image)
	h.AddEndpoint(fn1, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)
	h.SetResource(fn1, eepromResourceNumber, newChipResource(fn1, chip))

	reports, err := Sweep(h, Options{Log: discardLogger()})
	require.NoError(t, err)

	var fn1Report *Report
	for i := range reports {
		if reports[i].Endpoint == fn1 {
			fn1Report = &reports[i]
		}
		assert.NotEqual(t, fn0, reports[i].Endpoint, "a deferred function 0 never gets its own final report")
	}
	require.NotNil(t, fn1Report)
	assert.True(t, fn1Report.UpToDate)
}

// TestSweepOX16PCI954Function0DeferredNeverResolved is the unresolved
// deferral path: function 0 has a bound driver but no function 1 on the
// same bus ever shows up, so the sweep reports ErrPendingFunction1.
func TestSweepOX16PCI954Function0DeferredNeverResolved(t *testing.T) {
	h := pcitest.NewHost()
	bridge := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	h.AddEndpoint(bridge, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)
	h.SetConfigSpace(bridge, pex8112test.New(pex8112.Width2, pex8112test.ReferenceFlashBytes()))
	h.SetSecondaryBus(bridge, 1)

	fn0 := pciwindow.Endpoint{Bus: 1, Slot: 0, Function: 0}
	h.AddEndpoint(fn0, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)
	h.SetDriver(fn0, pcitest.NewFakeDriver("serial", fn0))

	reports, err := Sweep(h, Options{Log: discardLogger()})
	require.NoError(t, err)

	var found bool
	for _, r := range reports {
		if errors.Is(r.Err, ErrPendingFunction1) {
			found = true
		}
	}
	assert.True(t, found, "expected a report carrying ErrPendingFunction1")
}

func TestSweepUnsupportedEndpointSkipped(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 2, Slot: 0, Function: 0}
	h.AddEndpoint(ep, 0x8086, 0x1234, 0x02, 0x00, 0, 0x100)

	reports, err := Sweep(h, Options{Log: discardLogger()})
	require.NoError(t, err)
	assert.Empty(t, reports)
}
