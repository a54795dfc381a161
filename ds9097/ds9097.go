// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds9097 drives a 1-Wire bus through a plain UART, in the manner of
// the DS9097U adapter and of a TX/RX pair wired to the bus with a diode.
//
// The reset pulse is a 0xF0 byte sent at 9600 bauds; a device answering with
// a presence pulse corrupts the echo. Every time slot is one byte at 115200
// bauds: 0xFF writes a 1 or opens a read slot, 0x00 writes a 0. A read slot
// echoes 0xFF only if no device pulled the line low.
//
// More details at
// https://www.analog.com/en/resources/technical-articles/using-a-uart-to-implement-a-1wire-bus-master.html
package ds9097

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"

	"github.com/GermanBionicSystems/weatherstation/ownet"
)

// Port is the part of serial.Port used by Dev.
type Port interface {
	io.ReadWriteCloser
	SetMode(mode *serial.Mode) error
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Opts contains options to pass to the constructor.
type Opts struct {
	// ReadTimeout bounds the wait for the echo of each write.
	ReadTimeout time.Duration
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	ReadTimeout: 100 * time.Millisecond,
}

// Open opens the serial port name and returns a bus master on it. opts may be
// nil, DefaultOpts is then used.
func Open(name string, opts *Opts) (*Dev, error) {
	p, err := serial.Open(name, mode(slotBaud))
	if err != nil {
		return nil, fmt.Errorf("ds9097: %s: %w", name, err)
	}
	d, err := New(p, opts)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	d.name = name
	return d, nil
}

// New returns a bus master on an already opened port.
func New(p Port, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if err := p.SetReadTimeout(opts.ReadTimeout); err != nil {
		return nil, fmt.Errorf("ds9097: setting read timeout: %w", err)
	}
	d := &Dev{port: p, name: "port"}
	if err := d.setBaud(slotBaud); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a UART based 1-Wire bus master. It implements ownet.Transport.
type Dev struct {
	mu   sync.Mutex
	port Port
	name string
	baud int
}

func (d *Dev) String() string {
	return "DS9097{" + d.name + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Close closes the serial port.
func (d *Dev) Close() error {
	return d.port.Close()
}

// Reset implements ownet.Transport.
func (d *Dev) Reset() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setBaud(resetBaud); err != nil {
		return false, err
	}
	echo := []byte{resetPulse}
	err := d.exchange(echo)
	if err2 := d.setBaud(slotBaud); err == nil {
		err = err2
	}
	if err != nil {
		return false, err
	}
	switch echo[0] {
	case resetPulse:
		return false, nil
	case 0x00:
		return false, shortedBusError("ds9097: bus has a short")
	default:
		return true, nil
	}
}

// WriteByte implements ownet.Transport.
func (d *Dev) WriteByte(b byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeByte(b)
}

// Write implements ownet.Transport.
func (d *Dev) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range p {
		if err := d.writeByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// ReadByte implements ownet.Transport.
func (d *Dev) ReadByte() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readByte()
}

// Read implements ownet.Transport.
func (d *Dev) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range p {
		b, err := d.readByte()
		if err != nil {
			return i, err
		}
		p[i] = b
	}
	return len(p), nil
}

// SearchTriplet implements ownet.TripletBus: two read slots for the bit and
// its complement, then a write slot for the direction taken.
func (d *Dev) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	slots := []byte{0xff, 0xff}
	if err := d.exchange(slots); err != nil {
		return onewire.TripletResult{}, err
	}
	tr := onewire.TripletResult{
		GotZero: slots[0] != 0xff,
		GotOne:  slots[1] != 0xff,
	}
	switch {
	case tr.GotZero && tr.GotOne:
		if direction != 0 {
			tr.Taken = 1
		}
	case tr.GotZero:
	default:
		tr.Taken = 1
	}
	slot := []byte{0x00}
	if tr.Taken != 0 {
		slot[0] = 0xff
	}
	return tr, d.exchange(slot)
}

// Search implements ownet.Transport.
func (d *Dev) Search(rom []byte, lastDiscrepancy int) (int, error) {
	return ownet.SearchStep(d, rom, lastDiscrepancy)
}

// CRC8 implements ownet.Transport.
func (d *Dev) CRC8(p []byte) byte {
	return onewire.CalcCRC(p)
}

//

func (d *Dev) writeByte(b byte) error {
	var slots [8]byte
	for i := range slots {
		if b&(1<<uint(i)) != 0 {
			slots[i] = 0xff
		}
	}
	return d.exchange(slots[:])
}

func (d *Dev) readByte() (byte, error) {
	slots := [8]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if err := d.exchange(slots[:]); err != nil {
		return 0, err
	}
	var b byte
	for i, s := range slots {
		if s == 0xff {
			b |= 1 << uint(i)
		}
	}
	return b, nil
}

// exchange writes p and replaces it with the echo read back.
func (d *Dev) exchange(p []byte) error {
	if _, err := d.port.Write(p); err != nil {
		return fmt.Errorf("ds9097: write: %w", err)
	}
	for n := 0; n < len(p); {
		m, err := d.port.Read(p[n:])
		if err != nil {
			return fmt.Errorf("ds9097: read: %w", err)
		}
		if m == 0 {
			return errNoEcho
		}
		n += m
	}
	return nil
}

func (d *Dev) setBaud(baud int) error {
	if d.baud == baud {
		return nil
	}
	if err := d.port.SetMode(mode(baud)); err != nil {
		return fmt.Errorf("ds9097: setting %d bauds: %w", baud, err)
	}
	if err := d.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("ds9097: flushing input: %w", err)
	}
	d.baud = baud
	return nil
}

func mode(baud int) *serial.Mode {
	return &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
}

// shortedBusError implements error and onewire.ShortedBusError.
type shortedBusError string

func (e shortedBusError) Error() string   { return string(e) }
func (e shortedBusError) IsShorted() bool { return true }
func (e shortedBusError) BusError() bool  { return true }

var errNoEcho = errors.New("ds9097: no echo, is TX looped back to RX?")

const (
	resetBaud  = 9600
	slotBaud   = 115200
	resetPulse = 0xf0
)

var _ conn.Resource = &Dev{}
var _ ownet.Transport = &Dev{}
var _ ownet.TripletBus = &Dev{}
var _ Port = serial.Port(nil)
