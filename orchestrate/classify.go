// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package orchestrate

import (
	"fmt"

	"github.com/axxon/eepromtool/conn/pciwindow"
	"github.com/axxon/eepromtool/devices/ox16pci954"
	"github.com/axxon/eepromtool/devices/pex8112"
)

// Kind classifies an endpoint for this tool's purposes.
type Kind int

const (
	KindUnsupported Kind = iota
	KindPEX8112Bridge
	KindOX16PCI954
)

// RequireKind classifies e and fails with ErrUnsupportedDevice unless it
// matches want — used by single-endpoint CLI verbs that only make sense
// for one chip family (e.g. "axxon verify" targets a PEX8112 bridge).
func RequireKind(h pciwindow.Host, e pciwindow.Endpoint, want Kind) error {
	kind, err := Classify(h, e)
	if err != nil {
		return err
	}
	if kind != want {
		return fmt.Errorf("%w: %s", ErrUnsupportedDevice, e)
	}
	return nil
}

// Classify resolves h's vendor/device/class into a Kind. A PEX8112 bridge
// additionally requires the Bridge Device / PCI-to-PCI Bridge / Normal
// Decode class triple, not just the vendor/device pair: a card with the
// right IDs strapped into some other mode shouldn't be treated as a bridge.
// An OX16PCI954 is identified by its device ID, since the chip enumerates
// under a different device ID per function and per local-bus strapping —
// vendor alone would also match unrelated Oxford Semiconductor silicon.
func Classify(h pciwindow.Host, e pciwindow.Endpoint) (Kind, error) {
	vendor, device, err := h.VendorDevice(e)
	if err != nil {
		return KindUnsupported, err
	}
	switch {
	case vendor == pex8112.VendorID && device == pex8112.DeviceID:
		class, subclass, progif, err := h.Class(e)
		if err != nil {
			return KindUnsupported, err
		}
		if class == pex8112.ClassCode && subclass == pex8112.SubclassCode && progif == pex8112.ProgIf {
			return KindPEX8112Bridge, nil
		}
		return KindUnsupported, nil
	case vendor == ox16pci954.VendorID && ox16pci954.IsDevice(device):
		return KindOX16PCI954, nil
	default:
		return KindUnsupported, nil
	}
}
