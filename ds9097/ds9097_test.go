// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds9097

import (
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/onewire"

	"github.com/GermanBionicSystems/weatherstation/ds18b20"
	"github.com/GermanBionicSystems/weatherstation/ownet"
)

func TestReset(t *testing.T) {
	w := &wire{roms: []ownet.ROM{ownet.FromOneWire(0x740000070e41ac28)}}
	d := newDev(t, w)
	if present, err := d.Reset(); err != nil || !present {
		t.Fatalf("Reset() = %t, %v", present, err)
	}
	if w.baud != slotBaud {
		t.Fatalf("expected slot speed after reset, got %d", w.baud)
	}
	if present, err := newDev(t, &wire{}).Reset(); err != nil || present {
		t.Fatalf("Reset() = %t, %v", present, err)
	}
}

func TestReset_shorted(t *testing.T) {
	d := newDev(t, &wire{shorted: true})
	_, err := d.Reset()
	var s onewire.ShortedBusError
	if !errors.As(err, &s) {
		t.Fatalf("expected shorted bus error, got %v", err)
	}
}

func TestNoEcho(t *testing.T) {
	d := newDev(t, &wire{mute: true})
	if _, err := d.Reset(); !errors.Is(err, errNoEcho) {
		t.Fatalf("expected no echo, got %v", err)
	}
	if _, err := d.ReadByte(); !errors.Is(err, errNoEcho) {
		t.Fatalf("expected no echo, got %v", err)
	}
}

func TestWriteByte(t *testing.T) {
	w := &wire{}
	d := newDev(t, w)
	if err := d.WriteByte(0xa5); err != nil {
		t.Fatal(err)
	}
	expected := []byte{0xff, 0x00, 0xff, 0x00, 0x00, 0xff, 0x00, 0xff}
	if string(w.slots) != string(expected) {
		t.Fatalf("unexpected slots %#v", w.slots)
	}
}

func TestDiscover(t *testing.T) {
	roms := []ownet.ROM{
		ownet.FromOneWire(0x740000070e41ac28),
		mkROM(0x28, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00),
		mkROM(0x28, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00),
	}
	w := &wire{roms: roms}
	n := ownet.New(ownet.NewBus(newDev(t, w)), nil)
	if err := n.Discover(); err != nil {
		t.Fatal(err)
	}
	if n.Len() != len(roms) {
		t.Fatalf("found %d devices, expected %d", n.Len(), len(roms))
	}
	for _, r := range roms {
		if !n.Contains(&ownet.Dev{Code: r}) {
			t.Errorf("%s not found", r)
		}
	}
	if st := n.Stats(); !st.Present || st.Single {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestReadTemperature(t *testing.T) {
	rom := ownet.FromOneWire(0x740000070e41ac28)
	w := &wire{
		roms: []ownet.ROM{rom, mkROM(0x28, 1, 2, 3, 4, 5, 6)},
		data: []byte{0x91, 0x01},
	}
	dev, err := ds18b20.New(ownet.NewBus(newDev(t, w)), rom)
	if err != nil {
		t.Fatal(err)
	}
	c, err := dev.ReadTemperature()
	if err != nil {
		t.Fatal(err)
	}
	if c != 25.0625 {
		t.Fatalf("expected 25.0625°C, got %f", c)
	}
	if string(w.commands) != string([]byte{ds18b20.ConvertT, ds18b20.ReadScratchpad}) {
		t.Fatalf("unexpected commands %#v", w.commands)
	}
}

func TestString(t *testing.T) {
	if s := newDev(t, &wire{}).String(); s != "DS9097{port}" {
		t.Fatal(s)
	}
}

//

func newDev(t *testing.T, w *wire) *Dev {
	d, err := New(w, nil)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func mkROM(family byte, serial ...byte) ownet.ROM {
	var r ownet.ROM
	r[0] = family
	copy(r[1:7], serial)
	r[7] = onewire.CalcCRC(r[:7])
	return r
}

const (
	stIdle = iota
	stCommand
	stSearch
	stReadROM
	stMatch
	stFunction
	stData
)

// wire simulates devices on a 1-Wire bus behind a looped back UART, one time
// slot per byte.
type wire struct {
	roms     []ownet.ROM
	data     []byte // served to a matched device's read slots
	shorted  bool
	mute     bool
	baud     int
	slots    []byte // slot bytes written by the master
	commands []byte // function commands received by a matched device

	echo    []byte
	active  []bool
	state   int
	bits    int
	cmd     byte
	pos     int
	phase   int
	dataBit int
}

func (w *wire) SetMode(m *serial.Mode) error {
	w.baud = m.BaudRate
	return nil
}

func (w *wire) ResetInputBuffer() error {
	w.echo = nil
	return nil
}

func (w *wire) SetReadTimeout(time.Duration) error { return nil }

func (w *wire) Close() error { return nil }

func (w *wire) Write(p []byte) (int, error) {
	for _, b := range p {
		if w.mute {
			continue
		}
		if w.baud == resetBaud {
			w.echo = append(w.echo, w.reset(b))
			continue
		}
		w.slots = append(w.slots, b)
		if w.slot(b == 0xff) {
			w.echo = append(w.echo, b)
		} else {
			w.echo = append(w.echo, b&0xfe)
		}
	}
	return len(p), nil
}

func (w *wire) Read(p []byte) (int, error) {
	n := copy(p, w.echo)
	w.echo = w.echo[n:]
	return n, nil
}

func (w *wire) reset(b byte) byte {
	w.active = make([]bool, len(w.roms))
	for i := range w.active {
		w.active[i] = true
	}
	w.state, w.bits, w.cmd = stCommand, 0, 0
	switch {
	case w.shorted:
		return 0x00
	case len(w.roms) == 0:
		return b
	default:
		return 0xe0
	}
}

// slot runs one time slot and returns the line level.
func (w *wire) slot(host bool) bool {
	switch w.state {
	case stCommand, stFunction:
		if host {
			w.cmd |= 1 << uint(w.bits)
		}
		if w.bits++; w.bits < 8 {
			return host
		}
		cmd := w.cmd
		w.bits, w.cmd, w.pos, w.phase = 0, 0, 0, 0
		if w.state == stFunction {
			w.commands = append(w.commands, cmd)
			w.state = stData
			return host
		}
		switch cmd {
		case ownet.CmdSearchROM:
			w.state = stSearch
		case ownet.CmdReadROM:
			w.state = stReadROM
		case ownet.CmdMatchROM:
			w.state = stMatch
		default:
			w.state = stIdle
		}
		return host
	case stSearch:
		switch w.phase {
		case 0:
			w.phase = 1
			return host && w.and(func(r ownet.ROM) bool { return bit(r, w.pos) })
		case 1:
			w.phase = 2
			return host && w.and(func(r ownet.ROM) bool { return !bit(r, w.pos) })
		default:
			w.deselect(host)
			w.phase = 0
			if w.pos++; w.pos == 64 {
				w.state = stIdle
			}
			return host
		}
	case stReadROM:
		line := w.and(func(r ownet.ROM) bool { return bit(r, w.pos) })
		if w.pos++; w.pos == 64 {
			w.state = stIdle
		}
		return host && line
	case stMatch:
		w.deselect(host)
		if w.pos++; w.pos == 64 {
			w.state = stFunction
		}
		return host
	case stData:
		if !w.anyActive() || w.dataBit >= 8*len(w.data) {
			return host
		}
		v := w.data[w.dataBit>>3]&(1<<uint(w.dataBit&7)) != 0
		w.dataBit++
		return host && v
	}
	return host
}

func (w *wire) and(f func(r ownet.ROM) bool) bool {
	for i, r := range w.roms {
		if w.active[i] && !f(r) {
			return false
		}
	}
	return true
}

func (w *wire) deselect(host bool) {
	for i, r := range w.roms {
		if bit(r, w.pos) != host {
			w.active[i] = false
		}
	}
}

func (w *wire) anyActive() bool {
	for _, a := range w.active {
		if a {
			return true
		}
	}
	return false
}

func bit(r ownet.ROM, pos int) bool {
	return r[pos>>3]&(1<<uint(pos&7)) != 0
}

var _ Port = &wire{}
