// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package heatstrip shows temperatures on the terminal as a strip of ANSI
// colored blocks, blue for cold up to red for hot.
package heatstrip

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"sync"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
)

// Opts represents the options available for the strip.
type Opts struct {
	Min, Max float64 // °C shown as full blue and full red
	Palette  *ansi256.Palette
	W        io.Writer // defaults to stdout

	_ struct{}
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{Min: -10, Max: 40}

// Dev renders temperatures to the console.
type Dev struct {
	mu       sync.Mutex
	w        io.Writer
	min, max float64
	palette  ansi256.Palette

	buf bytes.Buffer
}

// New returns a Dev that displays at the console. opts may be nil, DefaultOpts
// is then used.
func New(opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.Max <= opts.Min {
		return nil, fmt.Errorf("heatstrip: invalid range [%g, %g]", opts.Min, opts.Max)
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	return &Dev{w: w, min: opts.Min, max: opts.Max, palette: *p}, nil
}

func (d *Dev) String() string {
	return "HeatStrip"
}

// Halt implements conn.Resource.
//
// It resets the terminal colors so the console is not corrupted.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Show redraws the strip with one block per temperature, in °C.
func (d *Dev) Show(temps []float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for _, c := range temps {
		_, _ = io.WriteString(&d.buf, d.palette.Block(d.Color(c)))
	}
	_, _ = d.buf.WriteString("\033[0m ")
	_, err := d.buf.WriteTo(d.w)
	return err
}

// Color maps a temperature to the strip gradient. Values out of range are
// clamped.
func (d *Dev) Color(c float64) color.NRGBA {
	t := (c - d.min) / (d.max - d.min)
	t = min(max(t, 0), 1)
	g := 1 - 2*t
	if g < 0 {
		g = -g
	}
	return color.NRGBA{
		R: byte(255 * t),
		G: byte(255 * (1 - g)),
		B: byte(255 * (1 - t)),
		A: 255,
	}
}

var _ fmt.Stringer = &Dev{}
