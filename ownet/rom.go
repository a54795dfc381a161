// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ownet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/onewire"
)

var (
	// ErrInvalidROM is returned when a ROM code is not exactly 8 bytes long.
	ErrInvalidROM = errors.New("ownet: ROM code must be 8 bytes")
	// ErrChecksum reports a ROM code whose CRC8 does not match.
	ErrChecksum = errors.New("ownet: ROM code checksum mismatch")
	// ErrUnsupportedFamily reports a ROM code with no registered driver.
	ErrUnsupportedFamily = errors.New("ownet: unsupported device family")
	// ErrNoPresence reports a reset without presence pulse.
	ErrNoPresence = errors.New("ownet: no presence pulse")
)

const hexDigits = "0123456789ABCDEF"

// Family is the device type tag held in the first byte of a ROM code.
type Family byte

func (f Family) String() string {
	if e, ok := lookup(f); ok {
		return e.name
	}
	return fmt.Sprintf("family(0x%02X)", byte(f))
}

// ROM is the 64 bit identity of a 1-Wire device: family code, 48 bit serial
// number and CRC8, in bus order.
type ROM [8]byte

// ParseROM copies b into a ROM.
//
// It returns ErrInvalidROM when b is not 8 bytes long. The checksum is not
// verified, use Valid for that.
func ParseROM(b []byte) (ROM, error) {
	var r ROM
	if len(b) != len(r) {
		return r, ErrInvalidROM
	}
	copy(r[:], b)
	return r, nil
}

// IsValid reports whether rom is 8 bytes long and its last byte is the CRC8
// of the first 7, as computed by c.
func IsValid(c Checksummer, rom []byte) bool {
	if len(rom) != 8 {
		return false
	}
	return c.CRC8(rom[:7]) == rom[7]
}

// Family returns the family code.
func (r ROM) Family() Family {
	return Family(r[0])
}

// Valid reports whether the CRC8 byte matches.
func (r ROM) Valid() bool {
	return onewire.CheckCRC(r[:])
}

// Address returns the 12 character hexadecimal form of the serial number.
//
// Bytes are rendered from the last serial byte to the first, high nibble
// first, so the string reads like the number printed on the device.
func (r ROM) Address() string {
	var buf [12]byte
	for i, c := 6, 0; i >= 1; i-- {
		buf[c] = hexDigits[r[i]>>4]
		buf[c+1] = hexDigits[r[i]&0x0f]
		c += 2
	}
	return string(buf[:])
}

// String returns the whole ROM code in hexadecimal, CRC byte first.
func (r ROM) String() string {
	var buf [16]byte
	for i, c := 7, 0; i >= 0; i-- {
		buf[c] = hexDigits[r[i]>>4]
		buf[c+1] = hexDigits[r[i]&0x0f]
		c += 2
	}
	return string(buf[:])
}

// OneWire returns the ROM code as a periph onewire.Address.
func (r ROM) OneWire() onewire.Address {
	return onewire.Address(binary.LittleEndian.Uint64(r[:]))
}

// FromOneWire converts a periph onewire.Address back to a ROM.
func FromOneWire(a onewire.Address) ROM {
	var r ROM
	binary.LittleEndian.PutUint64(r[:], uint64(a))
	return r
}
