// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ox16pci954

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReferenceImage(t *testing.T) {
	got, err := Decode(Image)
	require.NoError(t, err)
	assert.Equal(t, Image, got)
}

func TestDecodeStopsAtGrammarEnd(t *testing.T) {
	// Trailing words past what the grammar consumes (e.g. the rest of a
	// freshly-read 64-word flash) must be ignored, not rejected.
	words := append(append([]uint16{}, Image...), 0xFFFF, 0xFFFF, 0xFFFF)
	got, err := Decode(words)
	require.NoError(t, err)
	assert.Equal(t, Image, got)
}

func TestDecodeEmptyFlash(t *testing.T) {
	words := make([]uint16, 64)
	for i := range words {
		words[i] = 0xFFFF
	}
	_, err := Decode(words)
	assert.ErrorIs(t, err, ErrFlashEmpty)
}

func TestDecodeNoWords(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)
}

func TestDecodeBadMagic(t *testing.T) {
	_, err := Decode([]uint16{0x0000, 0x0000})
	assert.ErrorIs(t, err, ErrImageMalformed)
}

func TestDecodeReservedZoneBitSet(t *testing.T) {
	_, err := Decode([]uint16{0x9508})
	assert.ErrorIs(t, err, ErrImageMalformed)
}

func TestDecodeZoneRunOffEnd(t *testing.T) {
	// zone1 enabled, but the continuation run never finds a top-bit-clear
	// terminator before the input runs out.
	_, err := Decode([]uint16{0x9504, 0x84FF, 0x85FF})
	assert.Error(t, err)
}

func TestDecodeZone2Only(t *testing.T) {
	words := []uint16{0x9502, 0x1234}
	got, err := Decode(words)
	require.NoError(t, err)
	assert.Equal(t, words, got)
}

func TestDecodeNoZonesJustHeader(t *testing.T) {
	words := []uint16{0x9500}
	got, err := Decode(words)
	require.NoError(t, err)
	assert.Equal(t, words, got)
}
