// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package iio exposes Linux Industrial I/O voltage channels as
// analog.PinADC.
//
// See https://www.kernel.org/doc/html/latest/driver-api/iio/index.html
package iio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// Root is where the kernel lists IIO devices.
const Root = "/sys/bus/iio/devices"

// Opts contains options to pass to Open.
type Opts struct {
	Root string // defaults to Root
	Bits int    // converter resolution, defaults to 12
}

// Open returns the voltage channel ch of the IIO device dev, e.g.
// "iio:device0". opts may be nil.
func Open(dev string, ch int, opts *Opts) (*Pin, error) {
	root, bits := Root, 12
	if opts != nil {
		if opts.Root != "" {
			root = opts.Root
		}
		if opts.Bits > 0 {
			bits = opts.Bits
		}
	}
	if ch < 0 {
		return nil, errors.New("iio: negative channel")
	}
	dir := filepath.Join(root, dev)
	p := &Pin{
		name: fmt.Sprintf("%s/in_voltage%d", dev, ch),
		num:  ch,
		raw:  filepath.Join(dir, fmt.Sprintf("in_voltage%d_raw", ch)),
		max:  int32(1)<<uint(bits) - 1,
	}
	if _, err := os.Stat(p.raw); err != nil {
		return nil, fmt.Errorf("iio: %w", err)
	}
	// The scale is per channel or shared by all channels, in mV per LSB.
	for _, f := range []string{fmt.Sprintf("in_voltage%d_scale", ch), "in_voltage_scale"} {
		if s, err := readFloat(filepath.Join(dir, f)); err == nil {
			p.scale = s
			break
		}
	}
	return p, nil
}

// Pin is an IIO voltage channel.
type Pin struct {
	name  string
	num   int
	raw   string
	scale float64 // mV per LSB, 0 when unknown
	max   int32
}

func (p *Pin) String() string {
	return p.name
}

// Halt implements conn.Resource.
func (p *Pin) Halt() error {
	return nil
}

// Name implements pin.Pin.
func (p *Pin) Name() string {
	return p.name
}

// Number implements pin.Pin.
func (p *Pin) Number() int {
	return p.num
}

// Function implements pin.Pin.
func (p *Pin) Function() string {
	return string(p.Func())
}

// Func implements pin.PinFunc.
func (p *Pin) Func() pin.Func {
	return analog.ADC
}

// Range implements analog.PinADC.
func (p *Pin) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, p.sample(p.max)
}

// Read implements analog.PinADC.
func (p *Pin) Read() (analog.Sample, error) {
	v, err := readFloat(p.raw)
	if err != nil {
		return analog.Sample{}, fmt.Errorf("iio: %w", err)
	}
	return p.sample(int32(v)), nil
}

func (p *Pin) sample(raw int32) analog.Sample {
	s := analog.Sample{Raw: raw}
	if p.scale != 0 {
		s.V = physic.ElectricPotential(float64(raw) * p.scale * float64(physic.MilliVolt))
	}
	return s
}

func readFloat(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}

var _ analog.PinADC = &Pin{}
