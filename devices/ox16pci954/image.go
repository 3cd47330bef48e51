// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ox16pci954

import (
	"errors"
	"fmt"
)

// Image is the flash tool's known-good configuration: a 0x9505 header
// enabling zone1 and zone3, multi-purpose IO all configured as input,
// default interrupt masking, and function-1 left at its power-on device
// ID and interrupt pin.
var Image = []uint16{
	0x9505, 0x84FF, 0x85FF, 0x86FF,
	0x9E0F, 0x1F00, 0x8001, 0x8200,
	0x3D00, 0x0000,
}

// ErrFlashEmpty is returned by Decode when the first word reads 0xFFFF,
// which the chip treats as a factory-erased, unprogrammed EEPROM.
var ErrFlashEmpty = errors.New("ox16pci954: flash is empty")

// ErrImageMalformed is returned by Decode on a bad magic, invalid zone
// flags, or a continuation run that runs off the end of the supplied
// words.
var ErrImageMalformed = errors.New("ox16pci954: malformed image")

// Decode interprets a stream of words already read from flash (typically
// via Ops.ReadAll) as a zone0..zone3 program and returns the words that
// belong to it — the header plus every zone word actually present,
// stopping as soon as the grammar is satisfied. It does not assign
// meaning to the zone payload; this system only needs to compare and
// rewrite the program, not interpret individual registers it configures.
func Decode(words []uint16) ([]uint16, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("ox16pci954: %w: no words available", errUnexpectedEnd)
	}
	header := words[0]
	if header == 0xFFFF {
		return nil, ErrFlashEmpty
	}
	if header&0xFFF0 != 0x9500 {
		return nil, fmt.Errorf("%w: invalid magic %#04x (expected 0x9500)", ErrImageMalformed, header&0xFFF0)
	}
	if header&0x0008 != 0 {
		return nil, fmt.Errorf("%w: invalid zone flags %#04x (bit 3 must be zero)", ErrImageMalformed, header&0x0008)
	}
	zone1 := header&0x0004 != 0
	zone2 := header&0x0002 != 0
	zone3 := header&0x0001 != 0

	buf := []uint16{header}
	pos := 1
	readContinued := func() error {
		for {
			if pos >= len(words) {
				return errUnexpectedEnd
			}
			w := words[pos]
			buf = append(buf, w)
			pos++
			if w&0x8000 == 0 {
				return nil
			}
		}
	}

	if zone1 {
		if err := readContinued(); err != nil {
			return nil, fmt.Errorf("ox16pci954: zone1: %w", err)
		}
	}
	if zone2 {
		if err := readContinued(); err != nil {
			return nil, fmt.Errorf("ox16pci954: zone2: %w", err)
		}
	}
	if zone3 {
		// Zone3 is a run of sub-entries, each itself a continued run
		// terminated by a top-bit-clear word, until the outer run's own
		// top-bit-clear word ends zone3 as a whole.
		for {
			if pos >= len(words) {
				return nil, fmt.Errorf("ox16pci954: zone3: %w", errUnexpectedEnd)
			}
			w := words[pos]
			buf = append(buf, w)
			pos++
			if w&0x8000 == 0 {
				break
			}
			if err := readContinued(); err != nil {
				return nil, fmt.Errorf("ox16pci954: zone3: %w", err)
			}
		}
	}
	return buf, nil
}

var errUnexpectedEnd = fmt.Errorf("%w: unexpected end of flash data", ErrImageMalformed)
