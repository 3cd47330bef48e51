// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package orchestrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatHexDiffNoDifference(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04}
	assert.Equal(t, "", FormatHexDiff(buf, buf))
}

func TestFormatHexDiffSingleLine(t *testing.T) {
	old := []byte{0x10, 0x11, 0x12}
	want := []byte{0x10, 0x99, 0x12}
	out := FormatHexDiff(old, want)
	assert.Equal(t, "0000: 10 11 12 | 10 99 12\n", out)
}

func TestFormatHexDiffOnlyDifferingLines(t *testing.T) {
	old := make([]byte, 32)
	want := make([]byte, 32)
	want[20] = 0xFF // second 16-byte line differs; first line is identical
	out := FormatHexDiff(old, want)
	assert.Contains(t, out, "0010:")
	assert.NotContains(t, out, "0000:")
}

func TestFormatHexDiffUnequalLengths(t *testing.T) {
	old := []byte{0x01, 0x02}
	want := []byte{0x01, 0x02, 0x03, 0x04}
	out := FormatHexDiff(old, want)
	assert.Contains(t, out, "03 04")
}
