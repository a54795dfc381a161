// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ownet

import (
	"fmt"
	"iter"
	"sync"

	"go.uber.org/zap"
)

// Opts contains options to pass to New.
type Opts struct {
	// Logger receives discovery diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
	// SkipDuplicates makes Discover ignore ROM codes whose address is already
	// in the registry. By default every Discover call appends what it finds.
	SkipDuplicates bool
}

// Stats summarizes the last call to Discover.
type Stats struct {
	Present     bool // a presence pulse was seen on reset
	Single      bool // Read ROM returned a valid code, so one device answered
	Found       int  // devices added to the registry
	Checksum    int  // candidates dropped on CRC mismatch
	Unsupported int  // candidates dropped for lack of a driver
	Duplicates  int  // candidates skipped because of SkipDuplicates
}

// Network is the registry of devices discovered on a Bus, in discovery order.
//
// Registry accessors are safe for concurrent use. Iterating while another
// goroutine calls Clear or Discover is not supported: iteration works on a
// snapshot and does not see those changes.
type Network struct {
	bus            *Bus
	log            *zap.Logger
	skipDuplicates bool

	mu      sync.Mutex
	devices []Device
	stats   Stats
}

// New returns an empty Network on b. opts may be nil.
func New(b *Bus, opts *Opts) *Network {
	n := &Network{bus: b, log: zap.NewNop()}
	if opts != nil {
		if opts.Logger != nil {
			n.log = opts.Logger
		}
		n.skipDuplicates = opts.SkipDuplicates
	}
	return n
}

// Bus returns the bus shared by the network and its devices.
func (n *Network) Bus() *Bus {
	return n.bus
}

// Discover enumerates the bus and appends every valid device to the registry.
//
// CRC failures and unsupported families drop the candidate and the search
// goes on. Only transport errors abort the enumeration; devices found before
// the error stay in the registry.
func (n *Network) Discover() error {
	var st Stats
	err := n.bus.Tx(func(t Transport) error {
		present, err := t.Reset()
		if err != nil {
			return fmt.Errorf("ownet: reset: %w", err)
		}
		st.Present = present
		if !present {
			n.log.Warn("1-Wire device not present", zap.Error(ErrNoPresence))
		} else {
			n.log.Debug("1-Wire device present")
			if st.Single, err = readROM(t); err != nil {
				return err
			}
			if st.Single {
				n.log.Debug("single device present")
			} else {
				n.log.Debug("multiple devices present")
			}
		}

		var rom [8]byte
		deviation := 0
		for {
			if deviation, err = t.Search(rom[:], deviation); err != nil {
				return fmt.Errorf("ownet: search: %w", err)
			}
			if deviation == -1 {
				return nil
			}
			n.accept(t, rom[:], &st)
			if deviation <= 0 {
				return nil
			}
		}
	})
	n.mu.Lock()
	n.stats = st
	n.mu.Unlock()
	n.log.Info("discovery done",
		zap.Int("found", st.Found),
		zap.Int("checksum", st.Checksum),
		zap.Int("unsupported", st.Unsupported),
		zap.Int("total", n.Len()),
		zap.Error(err))
	return err
}

// Stats returns the summary of the last Discover call.
func (n *Network) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Contains reports whether a device with the same address as d is in the
// registry.
func (n *Network) Contains(d Device) bool {
	return n.containsAddress(d.Address())
}

// IndexOf returns the index of d in the registry, or -1.
//
// Unlike Contains, the device itself must be in the registry; another
// instance with the same address does not match.
func (n *Network) IndexOf(d Device) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, x := range n.devices {
		if x == d {
			return i
		}
	}
	return -1
}

// At returns the device at index i. It panics if i is out of range.
func (n *Network) At(i int) Device {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.devices[i]
}

// Len returns the number of devices in the registry.
func (n *Network) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.devices)
}

// Clear empties the registry.
//
// Devices already handed out keep working, the bus is left untouched.
func (n *Network) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.devices = nil
}

// Devices returns a copy of the registry.
func (n *Network) Devices() []Device {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Device(nil), n.devices...)
}

// All returns an iterator over the registry.
//
// Each iteration walks a copy of the registry taken when it starts, so the
// sequence is finite and can be ranged over again.
func (n *Network) All() iter.Seq2[int, Device] {
	return func(yield func(int, Device) bool) {
		for i, d := range n.Devices() {
			if !yield(i, d) {
				return
			}
		}
	}
}

//

// accept turns a search candidate into a registered device.
func (n *Network) accept(t Transport, buf []byte, st *Stats) {
	if !IsValid(t, buf) {
		st.Checksum++
		n.log.Debug("dropping candidate", zap.String("rom", fmt.Sprintf("%X", buf)), zap.Error(ErrChecksum))
		return
	}
	// ROM is an array: the device does not alias the search buffer.
	rom, _ := ParseROM(buf)
	f, ok := lookup(rom.Family())
	if !ok {
		st.Unsupported++
		n.log.Info("dropping device", zap.Stringer("rom", rom), zap.Stringer("family", rom.Family()), zap.Error(ErrUnsupportedFamily))
		return
	}
	if n.skipDuplicates && n.containsAddress(rom.Address()) {
		st.Duplicates++
		n.log.Debug("skipping known device", zap.String("address", rom.Address()))
		return
	}
	d := f.new(n.bus, rom)
	n.mu.Lock()
	n.devices = append(n.devices, d)
	n.mu.Unlock()
	st.Found++
	n.log.Info("device found", zap.Stringer("rom", rom), zap.String("address", rom.Address()), zap.String("family", f.name))
}

func (n *Network) containsAddress(addr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, x := range n.devices {
		if x.Address() == addr {
			return true
		}
	}
	return false
}

// readROM issues Read ROM right after a reset. When more than one device
// answers their codes collide and the CRC fails.
func readROM(t Transport) (bool, error) {
	if err := t.WriteByte(CmdReadROM); err != nil {
		return false, fmt.Errorf("ownet: read rom: %w", err)
	}
	var rom [8]byte
	if _, err := t.Read(rom[:]); err != nil {
		return false, fmt.Errorf("ownet: read rom: %w", err)
	}
	return IsValid(t, rom[:]), nil
}
