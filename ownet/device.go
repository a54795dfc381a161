// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ownet

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Device is a device found on a 1-Wire bus.
type Device interface {
	// ROM returns the device's ROM code.
	ROM() ROM
	// Address returns the 12 character serial number, see ROM.Address.
	Address() string
	// Family returns the family code.
	Family() Family
}

// NewFunc builds the driver for a device of a registered family.
type NewFunc func(b *Bus, rom ROM) Device

// Compare orders devices by address.
func Compare(a, b Device) int {
	return strings.Compare(a.Address(), b.Address())
}

// Register maps a family code to the constructor used by Discover.
//
// It returns an error if the family is already registered.
func Register(f Family, name string, fn NewFunc) error {
	if fn == nil {
		return errors.New("ownet: nil constructor")
	}
	mu.Lock()
	defer mu.Unlock()
	if e, ok := families[f]; ok {
		return fmt.Errorf("ownet: family 0x%02X already registered by %s", byte(f), e.name)
	}
	families[f] = family{name: name, new: fn}
	return nil
}

// MustRegister calls Register and panics on error.
//
// It is meant to be called from a driver's init function.
func MustRegister(f Family, name string, fn NewFunc) {
	if err := Register(f, name, fn); err != nil {
		panic(err)
	}
}

// Unregister removes a family registration.
func Unregister(f Family) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := families[f]; !ok {
		return fmt.Errorf("ownet: family 0x%02X not registered", byte(f))
	}
	delete(families, f)
	return nil
}

// Dev holds what every device driver needs: the shared bus and the device's
// ROM code. Drivers embed or wrap it.
type Dev struct {
	Bus  *Bus
	Code ROM
}

// ROM implements Device.
func (d *Dev) ROM() ROM {
	return d.Code
}

// Address implements Device.
func (d *Dev) Address() string {
	return d.Code.Address()
}

// Family implements Device.
func (d *Dev) Family() Family {
	return d.Code.Family()
}

func (d *Dev) String() string {
	return d.Code.Family().String() + "{" + d.Code.Address() + "}"
}

// Select resets the bus and addresses this device with Match ROM.
//
// It must be called from within Bus.Tx. The presence pulse is not checked.
func (d *Dev) Select(t Transport) error {
	if _, err := t.Reset(); err != nil {
		return err
	}
	var w [9]byte
	w[0] = CmdMatchROM
	copy(w[1:], d.Code[:])
	_, err := t.Write(w[:])
	return err
}

//

type family struct {
	name string
	new  NewFunc
}

var (
	mu       sync.Mutex
	families = map[Family]family{}
)

func lookup(f Family) (family, bool) {
	mu.Lock()
	defer mu.Unlock()
	e, ok := families[f]
	return e, ok
}
