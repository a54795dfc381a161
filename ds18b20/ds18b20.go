// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds18b20 reads the Dallas Semi / Maxim DS18B20 1-Wire temperature
// sensor.
//
// Importing the package registers the DS18B20 family with ownet, so devices
// found by ownet.Network.Discover are *Dev.
//
// Only the conversion and the temperature register are used: resolution is
// left as configured in the device, and the conversion wait always covers the
// 12 bits worst case.
package ds18b20

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/weatherstation/ownet"
)

// DS18B20 is the family code of the device.
const DS18B20 ownet.Family = 0x28

// Function commands, datasheet p.11.
const (
	ConvertT        = 0x44
	CopyScratchpad  = 0x48
	WriteScratchpad = 0x4e
	ReadPowerSupply = 0xb4
	RecallE2        = 0xb8
	ReadScratchpad  = 0xbe
)

// ConversionTime is the worst case conversion time, at 12 bits resolution.
const ConversionTime = 750 * time.Millisecond

func init() {
	ownet.MustRegister(DS18B20, "DS18B20", func(b *ownet.Bus, rom ownet.ROM) ownet.Device {
		return &Dev{onewire: ownet.Dev{Bus: b, Code: rom}}
	})
}

// New returns a handle to the DS18B20 with the given ROM code on b.
//
// Devices are normally created by ownet.Network.Discover; New is for callers
// that already know the ROM code.
func New(b *ownet.Bus, rom ownet.ROM) (*Dev, error) {
	if rom.Family() != DS18B20 {
		return nil, fmt.Errorf("ds18b20: family %s is not a DS18B20", rom.Family())
	}
	if !rom.Valid() {
		return nil, fmt.Errorf("ds18b20: %s: %w", rom, ownet.ErrChecksum)
	}
	return &Dev{onewire: ownet.Dev{Bus: b, Code: rom}}, nil
}

// Dev is a handle to a DS18B20 temperature sensor on a 1-Wire bus.
type Dev struct {
	onewire ownet.Dev // device on 1-wire bus

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// ROM implements ownet.Device.
func (d *Dev) ROM() ownet.ROM {
	return d.onewire.ROM()
}

// Address implements ownet.Device.
func (d *Dev) Address() string {
	return d.onewire.Address()
}

// Family implements ownet.Device.
func (d *Dev) Family() ownet.Family {
	return d.onewire.Family()
}

func (d *Dev) String() string {
	return "DS18B20{" + d.onewire.Address() + "}"
}

// Halt implements conn.Resource.
//
// It stops a SenseContinuous loop, if any.
func (d *Dev) Halt() error {
	d.mu.Lock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

// ReadTemperature triggers a conversion and returns the result in °C.
//
// The bus is held for the whole exchange, including the conversion wait.
func (d *Dev) ReadTemperature() (float64, error) {
	raw, err := d.convert()
	if err != nil {
		return 0, err
	}
	return float64(raw) / 16, nil
}

// Sense implements physic.SenseEnv.
func (d *Dev) Sense(e *physic.Env) error {
	raw, err := d.convert()
	if err != nil {
		return err
	}
	e.Temperature = parseTemperature(raw)
	return nil
}

// SenseContinuous implements physic.SenseEnv.
//
// interval must be at least ConversionTime. Call Halt to stop.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < ConversionTime {
		return nil, errors.New("ds18b20: interval shorter than the conversion time")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil, errors.New("ds18b20: already sensing continuously")
	}
	stop := make(chan struct{})
	d.stop = stop
	ch := make(chan physic.Env)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(ch)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			var e physic.Env
			if err := d.Sense(&e); err == nil {
				select {
				case ch <- e:
				case <-stop:
					return
				}
			}
			select {
			case <-t.C:
			case <-stop:
				return
			}
		}
	}()
	return ch, nil
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 16
}

// convert runs Match ROM + Convert T, waits for the conversion, then Match
// ROM + Read Scratchpad and returns the raw temperature register.
//
// Only the two temperature bytes are read, so the scratchpad CRC is not
// checked.
func (d *Dev) convert() (int16, error) {
	var lsb, msb byte
	err := d.onewire.Bus.Tx(func(t ownet.Transport) error {
		if err := d.onewire.Select(t); err != nil {
			return err
		}
		if err := t.WriteByte(ConvertT); err != nil {
			return err
		}
		sleep(ConversionTime)
		if err := d.onewire.Select(t); err != nil {
			return err
		}
		if err := t.WriteByte(ReadScratchpad); err != nil {
			return err
		}
		var err error
		if lsb, err = t.ReadByte(); err != nil {
			return err
		}
		msb, err = t.ReadByte()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ds18b20: %s: %w", d.onewire.Address(), err)
	}
	return int16(uint16(msb)<<8 | uint16(lsb)), nil
}

// parseTemperature converts the temperature register, which has 4 fractional
// bits, datasheet p.4.
func parseTemperature(raw int16) physic.Temperature {
	return physic.Temperature(raw)*physic.Kelvin/16 + physic.ZeroCelsius
}

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
var _ ownet.Device = &Dev{}
