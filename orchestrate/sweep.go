// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package orchestrate

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/axxon/eepromtool/conn/microwire"
	"github.com/axxon/eepromtool/conn/pciwindow"
	"github.com/axxon/eepromtool/devices/ox16pci954"
	"github.com/axxon/eepromtool/devices/pex8112"
)

// ErrPendingFunction1 is reported when an OX16PCI954 function 0 deferred
// its EEPROM check because a driver was bound, and no corresponding
// function 1 check on the same bus ever completed during the sweep.
var ErrPendingFunction1 = errors.New("orchestrate: function 0 deferred with no matching function 1 check")

// eepromResourceNumber is the BAR carrying the OX16PCI954's Microwire
// pins; see devices/ox16pci954.
const eepromResourceNumber = 3

// Report is the outcome of examining (and possibly reprogramming) one
// endpoint.
type Report struct {
	Endpoint pciwindow.Endpoint
	Kind     Kind
	UpToDate bool
	Flashed  bool
	Diff     string
	Skipped  string // non-empty when this endpoint's check was deferred
	Err      error
}

// Options configures a Sweep.
type Options struct {
	// Flash rewrites any stale device found; without it Sweep only compares.
	Flash bool
	// DryRun reports what Flash would do without writing anything.
	DryRun bool
	Log    *log.Logger
}

func (o Options) logger() *log.Logger {
	if o.Log != nil {
		return o.Log
	}
	return log.New(os.Stderr)
}

// pendingFunction1 tracks a deferred OX16PCI954 function-0 endpoint,
// awaiting its sibling function 1's verification on the same bus.
type pendingFunction1 struct {
	endpoint pciwindow.Endpoint
}

// Sweep walks every endpoint on h in sorted (domain, bus, slot, function)
// order, identifies PEX8112 bridges and OX16PCI954 UARTs, and compares
// (and, if requested, reprograms) each one's configuration EEPROM.
//
// A per-endpoint failure is recorded in that endpoint's Report and does
// not stop the sweep; a failure during an actual flash write aborts the
// sweep immediately, since a half-written EEPROM is worse than an
// unexamined one.
func Sweep(h pciwindow.Host, opts Options) ([]Report, error) {
	logger := opts.logger()
	endpoints, err := h.Endpoints()
	if err != nil {
		return nil, fmt.Errorf("orchestrate: listing endpoints: %w", err)
	}
	sortEndpoints(endpoints)

	var reports []Report
	secondaryBuses := map[uint8]bool{}
	pending := map[uint8]*pendingFunction1{}
	resolved := map[uint8]bool{}

	for _, e := range endpoints {
		kind, err := Classify(h, e)
		if err != nil {
			reports = append(reports, Report{Endpoint: e, Err: fmt.Errorf("classifying %s: %w", e, err)})
			continue
		}
		switch kind {
		case KindPEX8112Bridge:
			r := processPEX8112(h, e, opts, logger)
			reports = append(reports, r)
			if r.Err != nil && r.Flashed {
				return reports, r.Err
			}
			if sb, err := h.SecondaryBus(e); err == nil {
				secondaryBuses[sb] = true
			} else {
				logger.Warn("reading secondary bus", "endpoint", e, "err", err)
			}
		case KindOX16PCI954:
			r, deferred := processOX16PCI954(h, e, opts, logger, pending, resolved, secondaryBuses)
			if deferred {
				continue
			}
			reports = append(reports, r)
			if r.Err != nil && r.Flashed {
				return reports, r.Err
			}
		default:
			continue
		}
	}

	for bus, p := range pending {
		if resolved[bus] {
			continue
		}
		reports = append(reports, Report{
			Endpoint: p.endpoint,
			Kind:     KindOX16PCI954,
			Err:      fmt.Errorf("%w: bus %#02x", ErrPendingFunction1, bus),
		})
	}
	return reports, nil
}

func processPEX8112(h pciwindow.Host, e pciwindow.Endpoint, opts Options, logger *log.Logger) Report {
	r := Report{Endpoint: e, Kind: KindPEX8112Bridge}

	enable, err := pciwindow.AcquireEnable(h, e)
	if err != nil {
		r.Err = err
		return r
	}
	defer func() {
		if err := enable.Release(); err != nil {
			logger.Warn("releasing scoped enable", "endpoint", e, "err", err)
		}
	}()

	cs, err := h.OpenConfigSpace(e)
	if err != nil {
		r.Err = fmt.Errorf("opening config space for %s: %w", e, err)
		return r
	}
	defer cs.Close()

	flash, err := pex8112.OpenFlash(cs)
	if err != nil {
		r.Err = fmt.Errorf("opening PEX8112 flash at %s: %w", e, err)
		return r
	}

	current, err := readPEX8112Image(flash)
	if err != nil {
		r.Err = fmt.Errorf("reading PEX8112 image at %s: %w", e, err)
		return r
	}

	if bytes.Equal(current, pex8112.ReferenceImage) {
		r.UpToDate = true
		return r
	}
	r.Diff = FormatHexDiff(current, pex8112.ReferenceImage)

	if !opts.Flash {
		return r
	}
	if opts.DryRun {
		logger.Info("dry-run: would flash PEX8112", "endpoint", e)
		return r
	}
	if err := pex8112.ProgramImage(flash, pex8112.ReferenceImage); err != nil {
		r.Flashed = true
		r.Err = fmt.Errorf("flashing PEX8112 at %s: %w", e, err)
		return r
	}
	verify, err := readPEX8112Image(flash)
	if err != nil {
		r.Flashed = true
		r.Err = fmt.Errorf("verifying PEX8112 at %s: %w", e, err)
		return r
	}
	if !bytes.Equal(verify, pex8112.ReferenceImage) {
		r.Flashed = true
		r.Err = fmt.Errorf("%w: after flashing %s", pex8112.ErrVerifyMismatch, e)
		return r
	}
	r.Flashed = true
	r.UpToDate = true
	logger.Info("flashed PEX8112", "endpoint", e)
	return r
}

func readPEX8112Image(flash *pex8112.Flash) ([]byte, error) {
	reader, err := flash.Reader(0)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return pex8112.ExtractImage(reader)
}

// processOX16PCI954 handles one OX16PCI954 endpoint. Whether its bus is a
// recorded Axxon secondary bus only gates what happens when a driver is
// bound: an unrecognized card with no driver bound is still read and
// compared (just with a warning), matching is_axxon_card's role in the
// original flash tool — it is informational, not a hard skip.
func processOX16PCI954(h pciwindow.Host, e pciwindow.Endpoint, opts Options, logger *log.Logger, pending map[uint8]*pendingFunction1, resolved map[uint8]bool, secondaryBuses map[uint8]bool) (Report, bool) {
	r := Report{Endpoint: e, Kind: KindOX16PCI954}

	enable, err := pciwindow.AcquireEnable(h, e)
	if err != nil {
		r.Err = err
		return r, false
	}
	defer func() {
		if err := enable.Release(); err != nil {
			logger.Warn("releasing scoped enable", "endpoint", e, "err", err)
		}
	}()

	isAxxonCard := secondaryBuses[e.Bus]
	if !isAxxonCard {
		logger.Warn("found OX16PCI954 device, but not behind an Axxon bridge", "endpoint", e)
	}

	drv, err := h.Driver(e)
	if err != nil {
		r.Err = fmt.Errorf("resolving driver for %s: %w", e, err)
		return r, false
	}

	var unbind *pciwindow.ScopedDriverUnbind
	if drv != nil {
		switch {
		case !isAxxonCard:
			r.Skipped = "in use by driver, not behind an Axxon bridge: not checking flash"
			return r, true
		case e.Function == 0:
			pending[e.Bus] = &pendingFunction1{endpoint: e}
			r.Skipped = "function 0 deferred: driver bound, awaiting function 1"
			return r, true
		default:
			logger.Warn("in use by driver but shouldn't be wired, unbinding", "endpoint", e)
			unbind, err = pciwindow.AcquireDriverUnbind(h, e)
			if err != nil {
				r.Err = err
				return r, false
			}
			defer func() {
				if err := unbind.Release(); err != nil {
					logger.Warn("rebinding driver", "endpoint", e, "err", err)
				}
			}()
		}
	}

	resolved[e.Bus] = true

	res, err := h.OpenResource(e, eepromResourceNumber)
	if err != nil {
		r.Err = fmt.Errorf("opening BAR%d for %s: %w", eepromResourceNumber, e, err)
		return r, false
	}
	defer res.Close()

	ops := microwire.NewOps(ox16pci954.New(res))
	current, err := ox16pci954.ReadProgram(ops)
	if err != nil && !errors.Is(err, ox16pci954.ErrFlashEmpty) {
		r.Err = fmt.Errorf("reading OX16PCI954 program at %s: %w", e, err)
		return r, false
	}

	if wordsEqual(current, ox16pci954.Image) {
		r.UpToDate = true
		return r, false
	}
	r.Diff = fmt.Sprintf("current=%04x want=%04x", current, ox16pci954.Image)

	if !opts.Flash {
		return r, false
	}
	if opts.DryRun {
		logger.Info("dry-run: would flash OX16PCI954", "endpoint", e)
		return r, false
	}
	if err := ox16pci954.Program(ops, ox16pci954.Image); err != nil {
		r.Flashed = true
		r.Err = fmt.Errorf("flashing OX16PCI954 at %s: %w", e, err)
		return r, false
	}
	r.Flashed = true
	r.UpToDate = true
	logger.Info("flashed OX16PCI954", "endpoint", e)
	return r, false
}

// sortEndpoints orders endpoints by (domain, bus, slot, function), the
// enumeration order both the sweep and the list verbs rely on: a
// PEX8112 bridge's primary bus is always numerically lower than the
// secondary bus its children are assigned, so a single forward pass
// always sees a bridge before its UARTs.
func sortEndpoints(endpoints []pciwindow.Endpoint) {
	sort.Slice(endpoints, func(i, j int) bool {
		a, b := endpoints[i], endpoints[j]
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		if a.Bus != b.Bus {
			return a.Bus < b.Bus
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.Function < b.Function
	})
}

func wordsEqual(a, b []uint16) bool {
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
