// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pex8112

import "fmt"

// ReferenceImage is the known-good PEX8112 EEPROM image this tool writes:
// 10 configuration-space register overrides (disabling Power Management
// Capability, resetting Device-Specific Control and the PCI Capability
// pointer, widening the PCI-to-PCIe retry counts, enabling GPIO[1:3]
// output) followed by 4 bytes of shared memory.
var ReferenceImage = []byte{
	0x5A, 0x03, 0x3C, 0x00, 0x10, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xB5, 0x10, 0x12, 0x81,
	0x64, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00, 0x01,
	0x04, 0x00, 0x01, 0x00, 0x0C, 0x10, 0x00, 0xFE,
	0xFE, 0x03, 0x20, 0x10, 0xF0, 0x10, 0x00, 0x00,
	0x00, 0x10, 0x33, 0x00, 0x00, 0x00, 0x70, 0x00,
	0x00, 0x00, 0x11, 0x00, 0x48, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x34, 0x00, 0x50, 0x00, 0x00, 0x00,
	0x04, 0x00, 0x55, 0x66, 0x77, 0x88,
}

// imageMagic identifies a valid PEX8112 EEPROM image.
const imageMagic = 0x5A

// WriteImage writes image starting at address 0 and pads the remainder of
// the configuration area up to eepromSignatureOffset with 0xFF. It neither
// reads back nor writes the signature; ProgramImage does both. image must
// be no larger than eepromSignatureOffset.
func WriteImage(w *FlashWriter, image []byte) error {
	if len(image) > eepromSignatureOffset {
		return fmt.Errorf("pex8112: image of %d bytes exceeds signature offset %#x", len(image), eepromSignatureOffset)
	}
	for _, b := range image {
		if err := w.WriteByte(b); err != nil {
			return err
		}
	}
	for i := len(image); i < eepromSignatureOffset; i++ {
		if err := w.WriteByte(0xFF); err != nil {
			return err
		}
	}
	return nil
}

// VerifyImage re-reads address 0 and compares it byte-for-byte against
// image, the way WriteImage's caller is expected to do immediately after
// a write.
func VerifyImage(r *FlashReader, image []byte) error {
	for addr, want := range image {
		got, err := r.ReadByte()
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%w: at %#02x: expected %#02x, flash is %#02x", ErrVerifyMismatch, addr, want, got)
		}
	}
	return nil
}

// ProgramImage writes image to f starting at address 0, verifies it was
// written correctly, and stamps the "axxon" signature — the full
// sequence write_image performs in one call.
func ProgramImage(f *Flash, image []byte) error {
	w, err := f.Writer(0)
	if err != nil {
		return err
	}
	werr := WriteImage(w, image)
	if cerr := w.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return werr
	}

	r, err := f.Reader(0)
	if err != nil {
		return err
	}
	verr := VerifyImage(r, image)
	if cerr := r.Close(); verr == nil {
		verr = cerr
	}
	if verr != nil {
		return verr
	}

	sw, err := f.Writer(eepromSignatureOffset)
	if err != nil {
		return err
	}
	if err := sw.Write(axxonSignature); err != nil {
		sw.Close()
		return err
	}
	return sw.Close()
}

// ExtractImage reads back a previously-written image: the 0x5A magic, a
// flags byte with only bits [1:0] meaningful, a little-endian register
// byte count (a multiple of 6) and that many register-override bytes,
// then a little-endian shared-memory byte count (a multiple of 4) and
// that many shared-memory bytes. It returns the image exactly as
// WriteImage would have written it, for comparison against ReferenceImage.
func ExtractImage(r *FlashReader) ([]byte, error) {
	var buf []byte

	magic, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if magic != imageMagic {
		return nil, fmt.Errorf("%w: invalid image (first byte: %#02x)", ErrImageMalformed, magic)
	}
	buf = append(buf, magic)

	flags, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if flags&^0x03 != 0 {
		return nil, fmt.Errorf("%w: invalid image (second byte: %#02x)", ErrImageMalformed, flags)
	}
	buf = append(buf, flags)

	regCountLo, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	regCountHi, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	regCount := int(regCountLo) + int(regCountHi)<<8
	if regCount%6 != 0 {
		return nil, fmt.Errorf("%w: invalid size of register byte count: %d", ErrImageMalformed, regCount)
	}
	buf = append(buf, regCountLo, regCountHi)
	for i := 0; i < regCount; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
	}

	memCountLo, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	memCountHi, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	memCount := int(memCountLo) + int(memCountHi)<<8
	if memCount%4 != 0 {
		return nil, fmt.Errorf("%w: invalid size of shared memory byte count: %d", ErrImageMalformed, memCount)
	}
	buf = append(buf, memCountLo, memCountHi)
	for i := 0; i < memCount; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
	}

	return buf, nil
}
