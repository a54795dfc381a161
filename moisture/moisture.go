// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package moisture reads a resistive soil moisture probe through an ADC.
//
// Two GPIO outputs feed the probe in turn, reversing the current between the
// two readings so the electrodes do not corrode. A probe wired with a single
// supply pin is also supported; its readings are then averaged.
package moisture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
)

// Opts contains options to pass to the constructor.
type Opts struct {
	// Settle is the wait between two readings.
	Settle time.Duration
	// Samples is the number of readings averaged by a probe without polarity
	// pins. It is ignored when polarity pins are used.
	Samples int
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Settle:  time.Second,
	Samples: 1,
}

// New returns a probe read on adc and fed by the polarity pins a and b.
//
// a and b must both be set or both be nil. opts may be nil, DefaultOpts is
// then used.
func New(adc analog.PinADC, a, b gpio.PinOut, opts *Opts) (*Dev, error) {
	if adc == nil {
		return nil, errors.New("moisture: adc is required")
	}
	if (a == nil) != (b == nil) {
		return nil, errors.New("moisture: both polarity pins must be set")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.Settle < 0 {
		return nil, errors.New("moisture: negative settle time")
	}
	d := &Dev{adc: adc, a: a, b: b, settle: opts.Settle, samples: max(opts.Samples, 1)}
	if err := d.off(); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a handle to a moisture probe.
type Dev struct {
	mu      sync.Mutex
	adc     analog.PinADC
	a, b    gpio.PinOut
	settle  time.Duration
	samples int
}

func (d *Dev) String() string {
	return fmt.Sprintf("Moisture{%s}", d.adc)
}

// Halt implements conn.Resource.
//
// It stops feeding the probe.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.off()
}

// Sense returns the moisture level in raw ADC units.
//
// With polarity pins, the level is half the difference of the readings taken
// in both polarities, in absolute value.
func (d *Dev) Sense() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.a == nil {
		return d.average()
	}
	m1, err := d.readWith(d.a, d.b)
	if err != nil {
		return 0, err
	}
	sleep(d.settle)
	m2, err := d.readWith(d.b, d.a)
	if err != nil {
		return 0, err
	}
	if err := d.off(); err != nil {
		return 0, err
	}
	level := (float64(m1) - float64(m2)) / 2
	if level < 0 {
		level = -level
	}
	return level, nil
}

//

// readWith drives hi high and lo low, then reads the ADC.
func (d *Dev) readWith(hi, lo gpio.PinOut) (int32, error) {
	if err := lo.Out(gpio.Low); err != nil {
		return 0, fmt.Errorf("moisture: %w", err)
	}
	if err := hi.Out(gpio.High); err != nil {
		return 0, fmt.Errorf("moisture: %w", err)
	}
	s, err := d.adc.Read()
	if err != nil {
		return 0, fmt.Errorf("moisture: %s: %w", d.adc, err)
	}
	return s.Raw, nil
}

func (d *Dev) average() (float64, error) {
	var sum float64
	for i := 0; i < d.samples; i++ {
		if i != 0 {
			sleep(d.settle)
		}
		s, err := d.adc.Read()
		if err != nil {
			return 0, fmt.Errorf("moisture: %s: %w", d.adc, err)
		}
		sum += float64(s.Raw)
	}
	return sum / float64(d.samples), nil
}

func (d *Dev) off() error {
	if d.a == nil {
		return nil
	}
	if err := d.a.Out(gpio.Low); err != nil {
		return fmt.Errorf("moisture: %w", err)
	}
	if err := d.b.Out(gpio.Low); err != nil {
		return fmt.Errorf("moisture: %w", err)
	}
	return nil
}

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
