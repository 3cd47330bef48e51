// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux

package pci

import (
	"errors"

	"github.com/axxon/eepromtool/conn/pciwindow"
)

// OpenConfigSpace is unsupported outside Linux: the sysfs PCI tree this
// driver depends on (per spec.md's Non-goal on non-equivalent host OSes)
// doesn't exist elsewhere.
func (h *Host) OpenConfigSpace(e pciwindow.Endpoint) (pciwindow.ConfigSpace, error) {
	return nil, errors.New("pci: sysfs PCI config space is only supported on linux")
}

// OpenResource is unsupported outside Linux, for the same reason.
func (h *Host) OpenResource(e pciwindow.Endpoint, n int) (pciwindow.Resource, error) {
	return nil, errors.New("pci: sysfs PCI resources are only supported on linux")
}
