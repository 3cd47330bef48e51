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
)

func TestClassifyPEX8112Bridge(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	h.AddEndpoint(ep, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)

	kind, err := Classify(h, ep)
	require.NoError(t, err)
	assert.Equal(t, KindPEX8112Bridge, kind)
}

func TestClassifyOX16PCI954(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 1, Slot: 0, Function: 1}
	h.AddEndpoint(ep, ox16pci954.VendorID, 0x9501, 0x07, 0x00, 2, 0x100)

	kind, err := Classify(h, ep)
	require.NoError(t, err)
	assert.Equal(t, KindOX16PCI954, kind)
}

func TestClassifyUnsupported(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 2, Slot: 0, Function: 0}
	h.AddEndpoint(ep, 0x8086, 0x1234, 0x02, 0x00, 0, 0x100)

	kind, err := Classify(h, ep)
	require.NoError(t, err)
	assert.Equal(t, KindUnsupported, kind)
}

func TestRequireKindMismatchFails(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 2, Slot: 0, Function: 0}
	h.AddEndpoint(ep, 0x8086, 0x1234, 0x02, 0x00, 0, 0x100)

	err := RequireKind(h, ep, KindPEX8112Bridge)
	assert.ErrorIs(t, err, ErrUnsupportedDevice)
}

func TestRequireKindMatch(t *testing.T) {
	h := pcitest.NewHost()
	ep := pciwindow.Endpoint{Bus: 0, Slot: 0, Function: 0}
	h.AddEndpoint(ep, pex8112.VendorID, pex8112.DeviceID, 0x06, 0x04, 0, 0x100)

	assert.NoError(t, RequireKind(h, ep, KindPEX8112Bridge))
}
