// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ownet

import (
	"fmt"
	"sync"
)

// ROM commands understood by every 1-Wire slave.
const (
	CmdReadROM   = 0x33 // read the ROM code of the only device on the bus
	CmdMatchROM  = 0x55 // address one device by its ROM code
	CmdSearchROM = 0xf0 // start a ROM search cycle
	CmdSkipROM   = 0xcc // address all devices at once
)

// Checksummer computes the Dallas/Maxim CRC8 (x⁸+x⁵+x⁴+1, seed 0, reflected)
// over a buffer.
type Checksummer interface {
	CRC8(p []byte) byte
}

// Transport is the byte level access to a 1-Wire bus.
//
// A Transport is not safe for concurrent use; it must be wrapped in a Bus
// which serializes transactions.
type Transport interface {
	Checksummer
	// Reset pulses the bus and reports whether a slave answered with a
	// presence pulse.
	Reset() (bool, error)
	// WriteByte writes one byte on the bus.
	WriteByte(b byte) error
	// Write writes all of p on the bus.
	Write(p []byte) (int, error)
	// ReadByte reads one byte from the bus.
	ReadByte() (byte, error)
	// Read fills p completely from the bus or returns an error.
	Read(p []byte) (int, error)
	// Search runs one ROM search cycle.
	//
	// rom must be 8 bytes long. Its current content is used as the path to
	// repeat up to lastDiscrepancy and it receives the candidate ROM code.
	// Search returns the 1-based bit position of the next unresolved
	// collision, 0 when the candidate is the last branch, or -1 when no
	// device answered. A lastDiscrepancy of 0 starts a new search.
	Search(rom []byte, lastDiscrepancy int) (int, error)
}

// Bus is the shared handle on a Transport.
//
// It is created once and passed by reference to the Network and to every
// Device. Bus never closes the underlying Transport.
type Bus struct {
	mu sync.Mutex
	t  Transport
}

// NewBus wraps t.
func NewBus(t Transport) *Bus {
	return &Bus{t: t}
}

// Tx runs fn as one complete bus transaction.
//
// No other transaction runs on the bus until fn returns, including any time
// fn spends sleeping.
func (b *Bus) Tx(fn func(t Transport) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(b.t)
}

func (b *Bus) String() string {
	if s, ok := b.t.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", b.t)
}
