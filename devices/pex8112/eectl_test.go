// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pex8112

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEeControlReadFields(t *testing.T) {
	// busy=1, valid=1, present=1, chip_select_active=1, width=10 (Width2),
	// read_data=0xAB.
	v := uint32(0xAB00) | 1<<19 | 1<<20 | 1<<21 | 1<<22 | 0b10<<23
	r := EeControlRead(v)
	assert.Equal(t, byte(0xAB), r.ReadData())
	assert.True(t, r.Busy())
	assert.True(t, r.Valid())
	assert.True(t, r.Present())
	assert.True(t, r.ChipSelectActive())
	assert.Equal(t, Width2, r.AddressWidth())
}

func TestEeControlReadAddressWidthEncodings(t *testing.T) {
	cases := []struct {
		bits uint32
		want AddressWidth
	}{
		{0b00, UnknownWidth},
		{0b01, Width1},
		{0b10, Width2},
		{0b11, Width3},
	}
	for _, c := range cases {
		r := EeControlRead(c.bits << 23)
		assert.Equal(t, c.want, r.AddressWidth(), "bits=%02b", c.bits)
	}
}

func TestEeControlReadIsOff(t *testing.T) {
	assert.True(t, EeControlRead(0).IsOff())
	// busy/valid/present/chip_select_active/width/read_data are all
	// read-only status bits, not part of "off"; only the writable fields
	// must be clear.
	assert.True(t, EeControlRead(1<<19|1<<20|1<<21|0xAB00).IsOff())
	assert.False(t, EeControlRead(1<<18).IsOff(), "chip_select set")
	assert.False(t, EeControlRead(1<<16).IsOff(), "byte_write_start set")
	assert.False(t, EeControlRead(1<<17).IsOff(), "byte_read_start set")
	assert.False(t, EeControlRead(1<<31).IsOff(), "reload set")
	assert.False(t, EeControlRead(0xFF).IsOff(), "write_data set")
}

func TestEeControlWriteBuilders(t *testing.T) {
	w := EeControlWrite(0).
		WithWriteData(0x5A).
		WithByteWriteStart(true).
		WithChipSelect(true)
	assert.Equal(t, uint32(0x5A)|1<<16|1<<18, w.Raw())

	w2 := w.WithByteWriteStart(false)
	assert.Equal(t, uint32(0x5A)|1<<18, w2.Raw())

	w3 := EeControlWrite(0).WithReload(true)
	assert.Equal(t, uint32(1<<31), w3.Raw())
}

func TestOffWriteIsZero(t *testing.T) {
	assert.Equal(t, uint32(0), offWrite.Raw())
}
