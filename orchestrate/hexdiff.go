// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package orchestrate walks the host's PCI bus, identifies Axxon PEX8112
// bridges and their attached OX16PCI954 UARTs, and drives the two EEPROM
// driver stacks (devices/pex8112, devices/ox16pci954) to compare and, on
// request, reprogram each device's configuration EEPROM.
package orchestrate

import (
	"fmt"
	"strings"
)

// FormatHexDiff renders an objdump-style two-column hex diff of old vs.
// new, 16 bytes per line, omitting lines where the two sides agree. It's
// used to show an operator exactly what a stale device's flash would
// change to.
func FormatHexDiff(old, want []byte) string {
	n := len(old)
	if len(want) > n {
		n = len(want)
	}
	var b strings.Builder
	for off := 0; off < n; off += 16 {
		end := off + 16
		if end > n {
			end = n
		}
		oldLine := sliceOrPad(old, off, end)
		wantLine := sliceOrPad(want, off, end)
		if bytesEqual(oldLine, wantLine) {
			continue
		}
		fmt.Fprintf(&b, "%04x: %s | %s\n", off, hexBytes(oldLine), hexBytes(wantLine))
	}
	return b.String()
}

func sliceOrPad(buf []byte, off, end int) []byte {
	if off >= len(buf) {
		return nil
	}
	if end > len(buf) {
		end = len(buf)
	}
	return buf[off:end]
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, " ")
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
