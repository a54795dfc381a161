// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package moisture

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestSense_polarity(t *testing.T) {
	a := &gpiotest.Pin{N: "A", Num: 17, L: gpio.High}
	b := &gpiotest.Pin{N: "B", Num: 27, L: gpio.High}
	adc := &fakeADC{read: func() int32 {
		switch {
		case a.L == gpio.High && b.L == gpio.Low:
			return 800
		case b.L == gpio.High && a.L == gpio.Low:
			return 200
		}
		return -1
	}}
	d, err := New(adc, a, b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.L || b.L {
		t.Fatal("probe must not be fed after New")
	}
	var sleeps []time.Duration
	sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	defer func() { sleep = func(time.Duration) {} }()

	level, err := d.Sense()
	if err != nil {
		t.Fatal(err)
	}
	if level != 300 {
		t.Fatalf("expected 300, got %f", level)
	}
	if a.L || b.L {
		t.Fatal("probe must not be fed after Sense")
	}
	if !reflect.DeepEqual(sleeps, []time.Duration{time.Second}) {
		t.Fatalf("unexpected settle %v", sleeps)
	}
	if adc.reads != 2 {
		t.Fatalf("expected 2 reads, got %d", adc.reads)
	}
}

func TestSense_reversed(t *testing.T) {
	a := &gpiotest.Pin{N: "A"}
	b := &gpiotest.Pin{N: "B"}
	adc := &fakeADC{read: func() int32 {
		if a.L {
			return 100
		}
		return 500
	}}
	d, err := New(adc, a, b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if level, err := d.Sense(); err != nil || level != 200 {
		t.Fatalf("Sense() = %f, %v", level, err)
	}
}

func TestSense_single(t *testing.T) {
	values := []int32{100, 200, 600}
	adc := &fakeADC{}
	adc.read = func() int32 { return values[adc.reads-1] }
	d, err := New(adc, nil, nil, &Opts{Settle: 10 * time.Millisecond, Samples: 3})
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	sleep = func(time.Duration) { n++ }
	defer func() { sleep = func(time.Duration) {} }()
	level, err := d.Sense()
	if err != nil {
		t.Fatal(err)
	}
	if level != 300 {
		t.Fatalf("expected 300, got %f", level)
	}
	if n != 2 {
		t.Fatalf("expected 2 waits, got %d", n)
	}
}

func TestSense_fail(t *testing.T) {
	adc := &fakeADC{err: errors.New("adc gone")}
	d, err := New(adc, &gpiotest.Pin{N: "A"}, &gpiotest.Pin{N: "B"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Sense(); !errors.Is(err, adc.err) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNew_fail(t *testing.T) {
	if _, err := New(nil, nil, nil, nil); err == nil {
		t.Fatal("adc is required")
	}
	if _, err := New(&fakeADC{}, &gpiotest.Pin{N: "A"}, nil, nil); err == nil {
		t.Fatal("a single polarity pin must fail")
	}
	if _, err := New(&fakeADC{}, nil, nil, &Opts{Settle: -1}); err == nil {
		t.Fatal("negative settle must fail")
	}
}

func TestHalt(t *testing.T) {
	a := &gpiotest.Pin{N: "A"}
	b := &gpiotest.Pin{N: "B"}
	d, err := New(&fakeADC{}, a, b, nil)
	if err != nil {
		t.Fatal(err)
	}
	a.L = gpio.High
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if a.L {
		t.Fatal("Halt must stop feeding the probe")
	}
	if s := d.String(); s != "Moisture{ADC0}" {
		t.Fatal(s)
	}
}

//

type fakeADC struct {
	read  func() int32
	err   error
	reads int
}

func (f *fakeADC) String() string   { return "ADC0" }
func (f *fakeADC) Halt() error      { return nil }
func (f *fakeADC) Name() string     { return "ADC0" }
func (f *fakeADC) Number() int      { return 0 }
func (f *fakeADC) Function() string { return "ADC" }

func (f *fakeADC) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, analog.Sample{Raw: 1023}
}

func (f *fakeADC) Read() (analog.Sample, error) {
	if f.err != nil {
		return analog.Sample{}, f.err
	}
	f.reads++
	var raw int32
	if f.read != nil {
		raw = f.read()
	}
	return analog.Sample{Raw: raw}, nil
}

var _ analog.PinADC = &fakeADC{}

func init() {
	sleep = func(time.Duration) {}
}
