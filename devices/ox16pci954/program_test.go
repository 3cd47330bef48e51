// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ox16pci954

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axxon/eepromtool/conn/microwire"
	"github.com/axxon/eepromtool/conn/microwire/microwiretest"
)

// TestProgramAndReadProgramRoundTrip is the §8 round-trip property: for any
// program terminating correctly under the zone grammar,
// read_flash_program(flash_program(P)) == P.
func TestProgramAndReadProgramRoundTrip(t *testing.T) {
	chip := microwiretest.NewChip(microwire.Default93C46AddressBits)
	ops := microwire.NewOps(chip)

	require.NoError(t, Program(ops, Image))

	got, err := ReadProgram(ops)
	require.NoError(t, err)
	assert.Equal(t, Image, got)
}

func TestProgramLeavesWriteDisabled(t *testing.T) {
	chip := microwiretest.NewChip(microwire.Default93C46AddressBits)
	ops := microwire.NewOps(chip)
	require.NoError(t, Program(ops, Image))
	assert.False(t, chip.Programming(), "Program must close its EWEN scope")

	// With EWDS in effect, a write outside a new programming scope is
	// silently ignored.
	require.NoError(t, ops.Write(0, 0x0000))
	assert.Equal(t, Image[0], chip.Words[0])
}

func TestProgramErasesBeforeWriting(t *testing.T) {
	chip := microwiretest.NewChip(microwire.Default93C46AddressBits)
	for i := range chip.Words {
		chip.Words[i] = 0x1234
	}
	ops := microwire.NewOps(chip)
	require.NoError(t, Program(ops, Image))
	for i := len(Image); i < len(chip.Words); i++ {
		assert.Equal(t, uint16(0xFFFF), chip.Words[i], "word %d should have been erased", i)
	}
}

func TestReadProgramOnEmptyFlash(t *testing.T) {
	chip := microwiretest.NewChip(microwire.Default93C46AddressBits)
	ops := microwire.NewOps(chip)
	_, err := ReadProgram(ops)
	assert.ErrorIs(t, err, ErrFlashEmpty)
}
