// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ox16pci954

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axxon/eepromtool/conn/microwire"
	"github.com/axxon/eepromtool/conn/pciwindow"
	"github.com/axxon/eepromtool/conn/pciwindow/pcitest"
)

func TestSetPinsPacksClockCSData(t *testing.T) {
	res := pcitest.New(pciwindow.Endpoint{}, 3, 16)
	e := New(res)

	require.NoError(t, e.SetPins(microwire.OutPins{Clock: true, ChipSelect: true, Data: true}))
	assert.Equal(t, byte(bitClock|bitCS|bitDOUT), res.Bytes()[pinByteOffset])

	require.NoError(t, e.SetPins(microwire.OutPins{}))
	assert.Equal(t, byte(0), res.Bytes()[pinByteOffset])
}

func TestSetPinsLeavesOtherBitsUnset(t *testing.T) {
	res := pcitest.New(pciwindow.Endpoint{}, 3, 16)
	e := New(res)
	require.NoError(t, e.SetPins(microwire.OutPins{Clock: true}))
	assert.Equal(t, byte(bitClock), res.Bytes()[pinByteOffset])
}

func TestReadPinReportsDIN(t *testing.T) {
	res := pcitest.New(pciwindow.Endpoint{}, 3, 16)
	e := New(res)

	res.Bytes()[pinByteOffset] = bitDIN
	v, err := e.ReadPin()
	require.NoError(t, err)
	assert.True(t, v)

	res.Bytes()[pinByteOffset] = 0
	v, err = e.ReadPin()
	require.NoError(t, err)
	assert.False(t, v)
}

func TestReadPinIgnoresOtherBits(t *testing.T) {
	res := pcitest.New(pciwindow.Endpoint{}, 3, 16)
	e := New(res)
	res.Bytes()[pinByteOffset] = bitClock | bitCS | bitDOUT
	v, err := e.ReadPin()
	require.NoError(t, err)
	assert.False(t, v)
}
