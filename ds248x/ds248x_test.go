// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds248x

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/onewire"

	"github.com/GermanBionicSystems/weatherstation/ds18b20"
	"github.com/GermanBionicSystems/weatherstation/ownet"
)

// initOps is what New exchanges with a DS2482-100 at 0x18. The DS2483 and
// DS2482-800 probes fail against the next recorded op.
var initOps = []i2ctest.IO{
	{Addr: 0x18, W: []byte{cmdReset}},
	{Addr: 0x18, W: []byte{cmdSetReadPtr, regStatus}, R: []byte{0x18}},
	{Addr: 0x18, W: []byte{cmdWriteConfig, 0xe1}, R: []byte{0x01}},
}

func status(s byte) i2ctest.IO {
	return i2ctest.IO{Addr: 0x18, R: []byte{s}}
}

func newDev(t *testing.T, ops ...i2ctest.IO) (*Dev, *i2ctest.Playback) {
	bus := &i2ctest.Playback{Ops: append(append([]i2ctest.IO{}, initOps...), ops...), DontPanic: true}
	d, err := New(bus, 0x18, nil)
	if err != nil {
		t.Fatal(err)
	}
	return d, bus
}

func TestNew(t *testing.T) {
	d, bus := newDev(t)
	if s := d.String(); s != "DS2482-100{playback(24)}" {
		t.Fatal(s)
	}
	if d.SelectedChannel() != 0 {
		t.Fatal("only the DS2482-800 has channels")
	}
	if err := d.ChannelSelect(3); err != nil {
		t.Fatal(err)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNew_addr(t *testing.T) {
	var ops []i2ctest.IO
	for _, op := range initOps {
		op.Addr = 0x1f
		ops = append(ops, op)
	}
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	d, err := New(bus, 0x1f, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s := d.String(); s != "DS2482-100{playback(31)}" {
		t.Fatal(s)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNew_fail_addr(t *testing.T) {
	for _, addr := range []uint16{0x17, 0x20, 0x21, 0x30} {
		if _, err := New(&i2ctest.Playback{DontPanic: true}, addr, nil); err == nil {
			t.Fatalf("%#x is not a ds248x address", addr)
		}
	}
}

func TestNew_fail_status(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x18, W: []byte{cmdReset}},
			{Addr: 0x18, W: []byte{cmdSetReadPtr, regStatus}, R: []byte{0x00}},
		},
		DontPanic: true,
	}
	if _, err := New(bus, 0x18, nil); err == nil {
		t.Fatal("bad status register must fail")
	}
}

func TestReset(t *testing.T) {
	d, bus := newDev(t,
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WReset}}, status(0x02),
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WReset}}, status(0x00),
	)
	if present, err := d.Reset(); err != nil || !present {
		t.Fatalf("Reset() = %t, %v", present, err)
	}
	if present, err := d.Reset(); err != nil || present {
		t.Fatalf("Reset() = %t, %v", present, err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReset_shorted(t *testing.T) {
	d, _ := newDev(t, i2ctest.IO{Addr: 0x18, W: []byte{cmd1WReset}}, status(0x04))
	_, err := d.Reset()
	var s onewire.ShortedBusError
	if !errors.As(err, &s) || !s.IsShorted() {
		t.Fatalf("expected shorted bus error, got %v", err)
	}
	if d.err != nil {
		t.Fatal("bus errors are not persistent")
	}
}

func TestWriteRead(t *testing.T) {
	d, bus := newDev(t,
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WWrite, ownet.CmdMatchROM}}, status(0x00),
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WWrite, ds18b20.ConvertT}}, status(0x00),
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WRead}}, status(0x00),
		i2ctest.IO{Addr: 0x18, W: []byte{cmdSetReadPtr, regRDR}, R: []byte{0x90}},
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WRead}}, status(0x00),
		i2ctest.IO{Addr: 0x18, W: []byte{cmdSetReadPtr, regRDR}, R: []byte{0x01}},
	)
	if err := d.WriteByte(ownet.CmdMatchROM); err != nil {
		t.Fatal(err)
	}
	if n, err := d.Write([]byte{ds18b20.ConvertT}); n != 1 || err != nil {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	b, err := d.ReadByte()
	if err != nil || b != 0x90 {
		t.Fatalf("ReadByte() = %#x, %v", b, err)
	}
	var p [1]byte
	if n, err := d.Read(p[:]); n != 1 || err != nil || p[0] != 0x01 {
		t.Fatalf("Read() = %d, %v, %#x", n, err, p[0])
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPersistentError(t *testing.T) {
	d, _ := newDev(t)
	if err := d.WriteByte(0x44); err == nil {
		t.Fatal("expected the playback to be exhausted")
	}
	first := d.err
	if _, err := d.ReadByte(); err != first {
		t.Fatalf("expected persistent error %v, got %v", first, err)
	}
	if _, err := d.Reset(); err != first {
		t.Fatalf("expected persistent error %v, got %v", first, err)
	}
}

func TestSearchTriplet(t *testing.T) {
	d, _ := newDev(t,
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WTriplet, 0x80}}, status(0xa0),
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WTriplet, 0x00}}, status(0x00),
	)
	r, err := d.SearchTriplet(1)
	if err != nil {
		t.Fatal(err)
	}
	if r.GotZero || !r.GotOne || r.Taken != 1 {
		t.Fatalf("unexpected %#v", r)
	}
	if r, err = d.SearchTriplet(0); err != nil {
		t.Fatal(err)
	}
	if !r.GotZero || !r.GotOne || r.Taken != 0 {
		t.Fatalf("unexpected %#v", r)
	}
}

// TestDiscover runs a full discovery of a single DS18B20 through the bridge.
func TestDiscover(t *testing.T) {
	rom := ownet.FromOneWire(0x740000070e41ac28)
	var ops []i2ctest.IO
	// Fast path: Read ROM.
	ops = append(ops,
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WReset}}, status(0x02),
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WWrite, ownet.CmdReadROM}}, status(0x00),
	)
	for _, b := range rom {
		ops = append(ops,
			i2ctest.IO{Addr: 0x18, W: []byte{cmd1WRead}}, status(0x00),
			i2ctest.IO{Addr: 0x18, W: []byte{cmdSetReadPtr, regRDR}, R: []byte{b}},
		)
	}
	// Search: a lone device answers every bit without discrepancy.
	ops = append(ops,
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WReset}}, status(0x02),
		i2ctest.IO{Addr: 0x18, W: []byte{cmd1WWrite, ownet.CmdSearchROM}}, status(0x00),
	)
	for bit := 0; bit < 64; bit++ {
		s := byte(0x40)
		if rom[bit>>3]&(1<<uint(bit&7)) != 0 {
			s = 0xa0
		}
		ops = append(ops, i2ctest.IO{Addr: 0x18, W: []byte{cmd1WTriplet, 0x00}}, status(s))
	}
	d, bus := newDev(t, ops...)
	n := ownet.New(ownet.NewBus(d), nil)
	if err := n.Discover(); err != nil {
		t.Fatal(err)
	}
	if n.Len() != 1 || n.At(0).ROM() != rom {
		t.Fatalf("unexpected devices %v", n.Devices())
	}
	if _, ok := n.At(0).(*ds18b20.Dev); !ok {
		t.Fatalf("unexpected type %T", n.At(0))
	}
	if st := n.Stats(); !st.Single || st.Found != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCRC8(t *testing.T) {
	d, _ := newDev(t)
	rom := ownet.FromOneWire(0x740000070e41ac28)
	if c := d.CRC8(rom[:7]); c != 0x74 {
		t.Fatalf("CRC8() = %#x", c)
	}
	if !ownet.IsValid(d, rom[:]) {
		t.Fatal("expected valid ROM")
	}
}

func init() {
	sleep = func(time.Duration) {}
}
