// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ownet

import (
	"periph.io/x/conn/v3/onewire"
)

// TripletBus is a bus master able to run the search triplet: read a bit and
// its complement, then write the chosen direction.
type TripletBus interface {
	Reset() (bool, error)
	WriteByte(b byte) error
	// SearchTriplet performs a single bit search triplet, see
	// onewire.BusSearcher.
	SearchTriplet(direction byte) (onewire.TripletResult, error)
}

// SearchStep runs one ROM search cycle on b, following Maxim's AppNote 187.
//
// It has the semantics of Transport.Search and is meant to be used by
// Transport implementations.
//
// https://www.analog.com/en/resources/app-notes/1wire-search-algorithm.html
func SearchStep(b TripletBus, rom []byte, lastDiscrepancy int) (int, error) {
	if len(rom) != 8 {
		return -1, ErrInvalidROM
	}
	present, err := b.Reset()
	if err != nil {
		return -1, err
	}
	if !present {
		return -1, nil
	}
	if err := b.WriteByte(CmdSearchROM); err != nil {
		return -1, err
	}
	lastZero := 0
	for bit := 1; bit <= 64; bit++ {
		i := (bit - 1) >> 3
		mask := byte(1) << uint((bit-1)&7)
		// Repeat the previous path before the last discrepancy, take the one
		// branch on it and the zero branch after it.
		var dir byte
		if bit < lastDiscrepancy {
			if rom[i]&mask != 0 {
				dir = 1
			}
		} else if bit == lastDiscrepancy {
			dir = 1
		}
		r, err := b.SearchTriplet(dir)
		if err != nil {
			return -1, err
		}
		if !r.GotZero && !r.GotOne {
			// Devices went away during the search.
			return -1, nil
		}
		if r.GotZero && r.GotOne && r.Taken == 0 {
			lastZero = bit
		}
		if r.Taken != 0 {
			rom[i] |= mask
		} else {
			rom[i] &^= mask
		}
	}
	return lastZero, nil
}
