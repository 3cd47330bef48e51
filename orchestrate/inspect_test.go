// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package orchestrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axxon/eepromtool/conn/pciwindow"
	"github.com/axxon/eepromtool/conn/pciwindow/pcitest"
	"github.com/axxon/eepromtool/devices/ox16pci954"
	"github.com/axxon/eepromtool/devices/pex8112"
	"github.com/axxon/eepromtool/devices/pex8112/pex8112test"
)

func TestInfoPEX8112Bridge(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	h.AddEndpoint(ep, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)
	h.SetSecondaryBus(ep, 1)

	info, err := Info(h, ep)
	require.NoError(t, err)
	assert.Equal(t, KindPEX8112Bridge, info.Kind)
	assert.Equal(t, uint8(1), info.SecondaryBus)
	assert.True(t, info.Enabled)
	assert.Empty(t, info.DriverName)
	assert.Nil(t, info.LocalConfig)
}

func TestInfoOX16PCI954DecodesLocalConfig(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 1, Slot: 0, Function: 1}
	h.AddEndpoint(ep, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)
	res := h.AddResource(ep, eepromResourceNumber, 32)
	res.Bytes()[0x00] = 0x03 // ThirtyTwoBitLocalBus

	info, err := Info(h, ep)
	require.NoError(t, err)
	assert.Equal(t, KindOX16PCI954, info.Kind)
	require.NotNil(t, info.LocalConfig)
	assert.Equal(t, ox16pci954.ThirtyTwoBitLocalBus, info.LocalConfig.Mode)
}

func TestInfoReportsBoundDriverName(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 1, Slot: 0, Function: 0}
	h.AddEndpoint(ep, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)
	h.SetDriver(ep, pcitest.NewFakeDriver("serial", ep))

	info, err := Info(h, ep)
	require.NoError(t, err)
	assert.Equal(t, "serial", info.DriverName)
}

func TestListEndpointsSortsAndClassifiesAll(t *testing.T) {
	h := pcitest.NewHost()
	ep1 := pciwindow.Endpoint{Bus: 1, Slot: 0, Function: 1}
	ep0 := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	h.AddEndpoint(ep1, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)
	h.AddEndpoint(ep0, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)

	infos, err := ListEndpoints(h)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, ep0, infos[0].Endpoint)
	assert.Equal(t, ep1, infos[1].Endpoint)
}

func TestDumpResourceReadsWholeWindow(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 1, Slot: 0, Function: 1}
	h.AddEndpoint(ep, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)
	res := h.AddResource(ep, eepromResourceNumber, 4)
	copy(res.Bytes(), []byte{0xDE, 0xAD, 0xBE, 0xEF})

	buf, err := DumpResource(h, ep, eepromResourceNumber)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, buf)
}

func TestDumpEEPROMPEX8112(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	h.AddEndpoint(ep, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)
	h.SetConfigSpace(ep, pex8112test.New(pex8112.Width2, pex8112test.ReferenceFlashBytes()))

	buf, words, err := DumpEEPROM(h, ep)
	require.NoError(t, err)
	assert.Nil(t, words)
	assert.Equal(t, pex8112.ReferenceImage, buf)
}

func TestDumpEEPROMUnsupportedKind(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 2, Slot: 0, Function: 0}
	h.AddEndpoint(ep, 0x8086, 0x1234, 0x02, 0x00, 0, 0x100)

	_, _, err := DumpEEPROM(h, ep)
	assert.ErrorIs(t, err, ErrUnsupportedDevice)
}

func TestVerifyPEX8112RejectsNonBridge(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 1, Slot: 0, Function: 1}
	h.AddEndpoint(ep, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)

	_, err := VerifyPEX8112(h, ep)
	assert.ErrorIs(t, err, ErrUnsupportedDevice)
}

func TestVerifyPEX8112UpToDate(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	h.AddEndpoint(ep, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)
	h.SetConfigSpace(ep, pex8112test.New(pex8112.Width2, pex8112test.ReferenceFlashBytes()))

	r, err := VerifyPEX8112(h, ep)
	require.NoError(t, err)
	assert.True(t, r.UpToDate)
}
