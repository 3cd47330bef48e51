// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package pci

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/axxon/eepromtool/conn/pciwindow"
)

// configSpace is a byte-addressable I/O window over <dev>/config, read and
// written with Pread/Pwrite rather than mmap: config space access goes
// through the host bridge's indirect CONFIG_ADDRESS/CONFIG_DATA ports, not
// a linear memory range, so sysfs exposes it as an ordinary seekable file.
type configSpace struct {
	ep pciwindow.Endpoint
	f  *os.File
}

func (h *Host) OpenConfigSpace(e pciwindow.Endpoint) (pciwindow.ConfigSpace, error) {
	f, err := os.OpenFile(filepath.Join(h.devDir(e), "config"), os.O_RDWR, 0)
	if err != nil {
		if f, err = os.OpenFile(filepath.Join(h.devDir(e), "config"), os.O_RDONLY, 0); err != nil {
			return nil, fmt.Errorf("pci: opening config space of %s: %w", e, err)
		}
	}
	return &configSpace{ep: e, f: f}, nil
}

func (c *configSpace) Endpoint() pciwindow.Endpoint { return c.ep }

func (c *configSpace) Len() int {
	fi, err := c.f.Stat()
	if err != nil {
		return 0
	}
	return int(fi.Size())
}

func (c *configSpace) ReadByte(off int) (byte, error) {
	var b [1]byte
	if _, err := c.f.ReadAt(b[:], int64(off)); err != nil {
		return 0, fmt.Errorf("pci: reading config byte at %#x: %w", off, err)
	}
	return b[0], nil
}

func (c *configSpace) WriteByte(off int, v byte) error {
	if _, err := c.f.WriteAt([]byte{v}, int64(off)); err != nil {
		return fmt.Errorf("pci: writing config byte at %#x: %w", off, err)
	}
	return nil
}

func (c *configSpace) ReadDword(off int) (uint32, error) {
	var b [4]byte
	if _, err := c.f.ReadAt(b[:], int64(off)); err != nil {
		return 0, fmt.Errorf("pci: reading config dword at %#x: %w", off, err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (c *configSpace) WriteDword(off int, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	if _, err := c.f.WriteAt(b[:], int64(off)); err != nil {
		return fmt.Errorf("pci: writing config dword at %#x: %w", off, err)
	}
	return nil
}

func (c *configSpace) Close() error {
	return c.f.Close()
}

var _ pciwindow.ConfigSpace = (*configSpace)(nil)

// resource is a memory-mapped BAR window over <dev>/resourceN.
type resource struct {
	ep  pciwindow.Endpoint
	num int
	f   *os.File
	mem []byte
}

func (h *Host) OpenResource(e pciwindow.Endpoint, n int) (pciwindow.Resource, error) {
	path := filepath.Join(h.devDir(e), fmt.Sprintf("resource%d", n))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("pci: opening resource %d of %s: %w", n, e, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pci: stat resource %d of %s: %w", n, e, err)
	}
	size := int(fi.Size())
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("pci: resource %d of %s is empty", n, e)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pci: mmap resource %d of %s: %w", n, e, err)
	}
	return &resource{ep: e, num: n, f: f, mem: mem}, nil
}

func (r *resource) Endpoint() pciwindow.Endpoint { return r.ep }
func (r *resource) Number() int                  { return r.num }
func (r *resource) Len() int                     { return len(r.mem) }

func (r *resource) ReadByte(off int) (byte, error) {
	if off < 0 || off >= len(r.mem) {
		return 0, fmt.Errorf("pci: resource offset %#x out of range", off)
	}
	return r.mem[off], nil
}

func (r *resource) WriteByte(off int, v byte) error {
	if off < 0 || off >= len(r.mem) {
		return fmt.Errorf("pci: resource offset %#x out of range", off)
	}
	r.mem[off] = v
	return nil
}

func (r *resource) ReadDword(off int) (uint32, error) {
	if off < 0 || off+4 > len(r.mem) {
		return 0, fmt.Errorf("pci: resource offset %#x out of range", off)
	}
	return binary.LittleEndian.Uint32(r.mem[off : off+4]), nil
}

func (r *resource) WriteDword(off int, v uint32) error {
	if off < 0 || off+4 > len(r.mem) {
		return fmt.Errorf("pci: resource offset %#x out of range", off)
	}
	binary.LittleEndian.PutUint32(r.mem[off:off+4], v)
	return nil
}

func (r *resource) Close() error {
	err := unix.Munmap(r.mem)
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ pciwindow.Resource = (*resource)(nil)
