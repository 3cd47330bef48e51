// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ox16pci954

import (
	"errors"
	"fmt"

	"github.com/axxon/eepromtool/conn/microwire"
)

// ErrVerifyMismatch is returned by Program when a post-write readback
// differs from the word just written.
var ErrVerifyMismatch = errors.New("ox16pci954: verify mismatch")

// Program erases the whole EEPROM and writes program word-for-word, then
// reads every word back and fails on the first mismatch.
func Program(ops *microwire.Ops, program []uint16) error {
	scope, err := ops.StartProgramming()
	if err != nil {
		return err
	}
	if err := ops.EraseAll(); err != nil {
		scope.Close()
		return err
	}
	for addr, word := range program {
		if err := ops.Write(addr, word); err != nil {
			scope.Close()
			return err
		}
	}
	if err := scope.Close(); err != nil {
		return err
	}
	for addr, want := range program {
		got, err := ops.Read(addr)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%w: at %#02x: expected %#04x, flash is %#04x", ErrVerifyMismatch, addr, want, got)
		}
	}
	return nil
}

// ReadProgram reads the whole EEPROM and decodes it as a zone0..zone3
// program via Decode.
func ReadProgram(ops *microwire.Ops) ([]uint16, error) {
	words, err := ops.ReadAll()
	if err != nil {
		return nil, err
	}
	return Decode(words)
}
