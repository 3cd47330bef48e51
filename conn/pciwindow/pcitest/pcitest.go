// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pcitest is meant to be used to test drivers over a simulated PCI
// configuration space or resource window, the same way conn/i2c/i2ctest and
// conn/spi/spitest let a driver be tested without real hardware.
package pcitest

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/axxon/eepromtool/conn/pciwindow"
)

// Space is an in-memory byte buffer implementing both pciwindow.ConfigSpace
// and pciwindow.Resource, backed by a plain []byte that the test can
// inspect and mutate directly (Bytes) to script scenarios or assert on the
// result of a write/verify pass.
type Space struct {
	mu   sync.Mutex
	ep   pciwindow.Endpoint
	num  int
	buf  []byte
	// ReadHook, if set, is called on every ReadByte before the backing
	// buffer is consulted; it lets a test script a chip's dynamic behavior
	// (e.g. BUSY bits, echoing bytes) rather than a fixed buffer. ReadDword
	// reads the buffer directly and does not call it.
	ReadHook func(off int) (overrideByte byte, override bool)
	closed   bool
}

// New returns a simulated window of the given size, all zero bytes.
func New(ep pciwindow.Endpoint, num int, size int) *Space {
	return &Space{ep: ep, num: num, buf: make([]byte, size)}
}

// Bytes returns the backing buffer for direct test inspection/mutation.
// Callers must not resize it.
func (s *Space) Bytes() []byte { return s.buf }

func (s *Space) Endpoint() pciwindow.Endpoint { return s.ep }
func (s *Space) Number() int                  { return s.num }
func (s *Space) Len() int                     { return len(s.buf) }

func (s *Space) ReadByte(off int) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("pcitest: window closed")
	}
	if off < 0 || off >= len(s.buf) {
		return 0, errors.New("pcitest: offset out of range")
	}
	if s.ReadHook != nil {
		if v, ok := s.ReadHook(off); ok {
			return v, nil
		}
	}
	return s.buf[off], nil
}

func (s *Space) WriteByte(off int, v byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("pcitest: window closed")
	}
	if off < 0 || off >= len(s.buf) {
		return errors.New("pcitest: offset out of range")
	}
	s.buf[off] = v
	return nil
}

func (s *Space) ReadDword(off int) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("pcitest: window closed")
	}
	if off < 0 || off+4 > len(s.buf) {
		return 0, errors.New("pcitest: offset out of range")
	}
	return binary.LittleEndian.Uint32(s.buf[off : off+4]), nil
}

func (s *Space) WriteDword(off int, v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("pcitest: window closed")
	}
	if off < 0 || off+4 > len(s.buf) {
		return errors.New("pcitest: offset out of range")
	}
	binary.LittleEndian.PutUint32(s.buf[off:off+4], v)
	return nil
}

// Close marks the window closed; subsequent operations fail, matching the
// real sysfs-backed window's behavior after its file is released.
func (s *Space) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	_ pciwindow.ConfigSpace = (*Space)(nil)
	_ pciwindow.Resource    = (*Space)(nil)
)

// Host is a simulated pciwindow.Host over a fixed endpoint list, for bus
// sweep tests (orchestrate).
type Host struct {
	mu        sync.Mutex
	eps       []pciwindow.Endpoint
	vendor    map[pciwindow.Endpoint][2]uint16
	subsys    map[pciwindow.Endpoint][2]uint16
	class     map[pciwindow.Endpoint][3]byte
	secBus    map[pciwindow.Endpoint]uint8
	enabled   map[pciwindow.Endpoint]bool
	drivers   map[pciwindow.Endpoint]*FakeDriver
	configs   map[pciwindow.Endpoint]pciwindow.ConfigSpace
	resources map[pciwindow.Endpoint]map[int]pciwindow.Resource
}

// NewHost returns an empty simulated host; use the Add* helpers to script
// endpoints before passing it to code under test.
func NewHost() *Host {
	return &Host{
		vendor:    map[pciwindow.Endpoint][2]uint16{},
		subsys:    map[pciwindow.Endpoint][2]uint16{},
		class:     map[pciwindow.Endpoint][3]byte{},
		secBus:    map[pciwindow.Endpoint]uint8{},
		enabled:   map[pciwindow.Endpoint]bool{},
		drivers:   map[pciwindow.Endpoint]*FakeDriver{},
		configs:   map[pciwindow.Endpoint]pciwindow.ConfigSpace{},
		resources: map[pciwindow.Endpoint]map[int]pciwindow.Resource{},
	}
}

// AddEndpoint registers ep with the given identification, a config space
// of the given size, and marks it enabled.
func (h *Host) AddEndpoint(ep pciwindow.Endpoint, vendor, device uint16, class, subclass, progif byte, configSize int) *Space {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.eps = append(h.eps, ep)
	h.vendor[ep] = [2]uint16{vendor, device}
	h.class[ep] = [3]byte{class, subclass, progif}
	h.enabled[ep] = true
	cs := New(ep, -1, configSize)
	h.configs[ep] = cs
	h.resources[ep] = map[int]pciwindow.Resource{}
	return cs
}

// AddResource registers a resource window of the given size for ep.
func (h *Host) AddResource(ep pciwindow.Endpoint, n int, size int) *Space {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := New(ep, n, size)
	h.resources[ep][n] = r
	return r
}

// SetConfigSpace overrides ep's config space with an arbitrary
// pciwindow.ConfigSpace, for tests that need a protocol-aware fake (e.g. one
// modeling indirect register access) rather than the plain byte-buffer
// Space. ep must already be registered via AddEndpoint.
func (h *Host) SetConfigSpace(ep pciwindow.Endpoint, cs pciwindow.ConfigSpace) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configs[ep] = cs
}

// SetResource overrides resource n of ep with an arbitrary pciwindow.Resource.
func (h *Host) SetResource(ep pciwindow.Endpoint, n int, r pciwindow.Resource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resources[ep] == nil {
		h.resources[ep] = map[int]pciwindow.Resource{}
	}
	h.resources[ep][n] = r
}

// SetSecondaryBus records the secondary bus number reported by ep (used to
// simulate a PEX8112 bridge).
func (h *Host) SetSecondaryBus(ep pciwindow.Endpoint, bus uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.secBus[ep] = bus
}

// SetDriver attaches a fake driver handle to ep, simulating a host driver
// already bound to the device.
func (h *Host) SetDriver(ep pciwindow.Endpoint, d *FakeDriver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drivers[ep] = d
}

func (h *Host) Endpoints() ([]pciwindow.Endpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]pciwindow.Endpoint, len(h.eps))
	copy(out, h.eps)
	return out, nil
}

func (h *Host) VendorDevice(e pciwindow.Endpoint) (uint16, uint16, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.vendor[e]
	return v[0], v[1], nil
}

func (h *Host) SubsystemVendorDevice(e pciwindow.Endpoint) (uint16, uint16, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.subsys[e]
	return v[0], v[1], nil
}

func (h *Host) Class(e pciwindow.Endpoint) (byte, byte, byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.class[e]
	return c[0], c[1], c[2], nil
}

func (h *Host) SecondaryBus(e pciwindow.Endpoint) (uint8, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.secBus[e], nil
}

func (h *Host) IsEnabled(e pciwindow.Endpoint) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled[e], nil
}

func (h *Host) Enable(e pciwindow.Endpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled[e] = true
	return nil
}

func (h *Host) Disable(e pciwindow.Endpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled[e] = false
	return nil
}

func (h *Host) Driver(e pciwindow.Endpoint) (pciwindow.Driver, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.drivers[e]
	if d == nil || !d.isBoundTo(e) {
		return nil, nil
	}
	return d, nil
}

func (h *Host) OpenConfigSpace(e pciwindow.Endpoint) (pciwindow.ConfigSpace, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cs, ok := h.configs[e]
	if !ok {
		return nil, errors.New("pcitest: no such endpoint")
	}
	return cs, nil
}

func (h *Host) OpenResource(e pciwindow.Endpoint, n int) (pciwindow.Resource, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.resources[e][n]
	if !ok {
		return nil, errors.New("pcitest: no such resource")
	}
	return r, nil
}

var _ pciwindow.Host = (*Host)(nil)

// FakeDriver simulates a bound host driver, recording Bind/Unbind calls so
// tests can assert on rebind-on-every-exit-path behavior.
type FakeDriver struct {
	mu           sync.Mutex
	name         string
	BoundTo      map[pciwindow.Endpoint]bool
	UnbindErr    error
	BindErr      error
	UnbindCalls  int
	BindCalls    int
}

// NewFakeDriver returns a fake driver named name, already bound to every
// endpoint in boundTo.
func NewFakeDriver(name string, boundTo ...pciwindow.Endpoint) *FakeDriver {
	d := &FakeDriver{name: name, BoundTo: map[pciwindow.Endpoint]bool{}}
	for _, e := range boundTo {
		d.BoundTo[e] = true
	}
	return d
}

func (d *FakeDriver) Name() string { return d.name }

func (d *FakeDriver) isBoundTo(e pciwindow.Endpoint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.BoundTo[e]
}

func (d *FakeDriver) Bind(e pciwindow.Endpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.BindCalls++
	if d.BindErr != nil {
		return d.BindErr
	}
	d.BoundTo[e] = true
	return nil
}

func (d *FakeDriver) Unbind(e pciwindow.Endpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.UnbindCalls++
	if d.UnbindErr != nil {
		return d.UnbindErr
	}
	delete(d.BoundTo, e)
	return nil
}

var _ pciwindow.Driver = (*FakeDriver)(nil)
