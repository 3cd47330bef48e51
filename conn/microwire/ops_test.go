// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package microwire_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axxon/eepromtool/conn/microwire"
	"github.com/axxon/eepromtool/conn/microwire/microwiretest"
)

// TestProbeAddressWidth is §8 scenario 5: a simulated 6-bit-address chip
// responds with its first word 0x950A; the probe must see 6 leading 1s
// before the terminating dummy 0 and conclude width=6.
func TestProbeAddressWidth(t *testing.T) {
	chip := microwiretest.NewChip(6)
	chip.Words[0] = 0x950A

	ops := microwire.NewOps(chip)
	width, err := ops.ProbeAddressWidth()
	require.NoError(t, err)
	assert.Equal(t, 6, width)
	assert.Equal(t, 6, ops.AddressWidth())
}

// TestProbeAddressWidthIdempotent is the §8 invariant: running the probe
// twice in a row on unchanged flash returns the same width.
func TestProbeAddressWidthIdempotent(t *testing.T) {
	chip := microwiretest.NewChip(6)
	chip.Words[0] = 0x8001

	ops := microwire.NewOps(chip)
	w1, err := ops.ProbeAddressWidth()
	require.NoError(t, err)
	w2, err := ops.ProbeAddressWidth()
	require.NoError(t, err)
	assert.Equal(t, w1, w2)
}

func TestReadAllYieldsEveryWord(t *testing.T) {
	chip := microwiretest.NewChip(6)
	for i := range chip.Words {
		chip.Words[i] = uint16(0x1000 + i)
	}

	ops := microwire.NewOps(chip)
	words, err := ops.ReadAll()
	require.NoError(t, err)
	require.Len(t, words, 64)
	for i, w := range words {
		assert.Equal(t, uint16(0x1000+i), w, "word %d", i)
	}
}

func TestWriteRequiresProgrammingScope(t *testing.T) {
	chip := microwiretest.NewChip(6)
	ops := microwire.NewOps(chip)
	require.NoError(t, ops.Write(3, 0xBEEF))
	// Without EWEN the chip silently ignores the write.
	assert.Equal(t, uint16(0xFFFF), chip.Words[3])
}

func TestWriteReadRoundTripWithinProgrammingScope(t *testing.T) {
	chip := microwiretest.NewChip(6)
	ops := microwire.NewOps(chip)

	scope, err := ops.StartProgramming()
	require.NoError(t, err)
	require.NoError(t, ops.Write(5, 0xBEEF))
	require.NoError(t, scope.Close())

	got, err := ops.Read(5)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), got)
}

func TestEraseSetsAllOnes(t *testing.T) {
	chip := microwiretest.NewChip(6)
	ops := microwire.NewOps(chip)
	scope, err := ops.StartProgramming()
	require.NoError(t, err)
	require.NoError(t, ops.Write(1, 0x0000))
	require.NoError(t, ops.Erase(1))
	require.NoError(t, scope.Close())

	got, err := ops.Read(1)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), got)
}

func TestEraseAllAndWriteAll(t *testing.T) {
	chip := microwiretest.NewChip(6)
	ops := microwire.NewOps(chip)

	scope, err := ops.StartProgramming()
	require.NoError(t, err)
	require.NoError(t, ops.WriteAll(0x1234))
	require.NoError(t, scope.Close())
	for _, w := range chip.Words {
		assert.Equal(t, uint16(0x1234), w)
	}

	scope, err = ops.StartProgramming()
	require.NoError(t, err)
	require.NoError(t, ops.EraseAll())
	require.NoError(t, scope.Close())
	for _, w := range chip.Words {
		assert.Equal(t, uint16(0xFFFF), w)
	}
}

// TestProgrammingEnabledNesting is the §3/§4.2 invariant: EWEN precedes
// any ERASE/WRITE/ERAL/WRAL in the scope, and EWDS follows unless a
// nested scope is still active; the inner Close of a nested scope must not
// re-issue EWDS.
func TestProgrammingEnabledNesting(t *testing.T) {
	chip := microwiretest.NewChip(6)
	ops := microwire.NewOps(chip)

	outer, err := ops.StartProgramming()
	require.NoError(t, err)
	assert.True(t, chip.Programming())

	inner, err := ops.StartProgramming()
	require.NoError(t, err)
	require.NoError(t, inner.Close())
	assert.True(t, chip.Programming(), "nested Close must not disable programming while outer scope is open")

	require.NoError(t, ops.Write(2, 0x4242))

	require.NoError(t, outer.Close())
	assert.False(t, chip.Programming(), "outer Close must issue EWDS")

	got, err := ops.Read(2)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x4242), got)
}

func TestProbeAddressWidthCapsOnHungInput(t *testing.T) {
	chip := &stuckHighChip{}
	ops := microwire.NewOps(chip)
	_, err := ops.ProbeAddressWidth()
	assert.ErrorIs(t, err, microwire.ErrAddressWidthIndeterminate)
}

// stuckHighChip simulates a hung DO pin that never reads low, exercising
// ProbeAddressWidth's maxAddressWidthProbe cap.
type stuckHighChip struct{}

func (stuckHighChip) SetPins(microwire.OutPins) error    { return nil }
func (stuckHighChip) ReadPin() (bool, error)              { return true, nil }
func (stuckHighChip) Delay(d time.Duration) error         { return nil }

var _ microwire.Hardware = stuckHighChip{}
