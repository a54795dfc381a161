// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ownettest is meant to be used to test code using a fake
// ownet.Transport.
//
// Playback answers from a script and records every operation. Sim emulates a
// set of devices well enough to run a real ROM search against them.
package ownettest

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/onewire"

	"github.com/GermanBionicSystems/weatherstation/ownet"
)

// Kind is the type of a recorded operation.
type Kind int

// Kinds of recorded operations.
const (
	Reset Kind = iota
	Write
	Read
	Search
)

func (k Kind) String() string {
	switch k {
	case Reset:
		return "Reset"
	case Write:
		return "Write"
	case Read:
		return "Read"
	case Search:
		return "Search"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IO is one operation that happened on the fake bus.
type IO struct {
	Kind Kind
	W    []byte // bytes written
	R    []byte // bytes read, or the candidate returned by Search
	// Discrepancy is the lastDiscrepancy argument passed to Search.
	Discrepancy int
}

// Candidate is one scripted answer of Playback.Search.
type Candidate struct {
	ROM  ownet.ROM
	Next int // value returned by Search
}

// Playback implements ownet.Transport and replays scripted answers.
type Playback struct {
	sync.Mutex
	Presence   bool        // returned by every Reset
	Candidates []Candidate // consumed by Search; -1 once exhausted
	Data       []byte      // consumed by Read and ReadByte
	Ops        []IO        // everything that happened so far

	searches int
	reads    int
}

func (p *Playback) String() string {
	return "playback"
}

// Reset implements ownet.Transport.
func (p *Playback) Reset() (bool, error) {
	p.Lock()
	defer p.Unlock()
	p.Ops = append(p.Ops, IO{Kind: Reset})
	return p.Presence, nil
}

// WriteByte implements ownet.Transport.
func (p *Playback) WriteByte(b byte) error {
	p.Lock()
	defer p.Unlock()
	p.Ops = append(p.Ops, IO{Kind: Write, W: []byte{b}})
	return nil
}

// Write implements ownet.Transport.
func (p *Playback) Write(w []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	p.Ops = append(p.Ops, IO{Kind: Write, W: append([]byte(nil), w...)})
	return len(w), nil
}

// ReadByte implements ownet.Transport.
func (p *Playback) ReadByte() (byte, error) {
	var b [1]byte
	_, err := p.Read(b[:])
	return b[0], err
}

// Read implements ownet.Transport.
func (p *Playback) Read(r []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if len(p.Data)-p.reads < len(r) {
		return 0, fmt.Errorf("ownettest: unexpected read of %d bytes, %d left", len(r), len(p.Data)-p.reads)
	}
	copy(r, p.Data[p.reads:])
	p.reads += len(r)
	p.Ops = append(p.Ops, IO{Kind: Read, R: append([]byte(nil), r...)})
	return len(r), nil
}

// Search implements ownet.Transport.
func (p *Playback) Search(rom []byte, lastDiscrepancy int) (int, error) {
	p.Lock()
	defer p.Unlock()
	io := IO{Kind: Search, Discrepancy: lastDiscrepancy}
	next := -1
	if p.searches < len(p.Candidates) {
		c := p.Candidates[p.searches]
		p.searches++
		copy(rom, c.ROM[:])
		io.R = append([]byte(nil), c.ROM[:]...)
		next = c.Next
	}
	p.Ops = append(p.Ops, io)
	return next, nil
}

// CRC8 implements ownet.Transport.
func (p *Playback) CRC8(b []byte) byte {
	return onewire.CalcCRC(b)
}

// Sim implements ownet.Transport by emulating the ROM function layer of a set
// of devices: Search ROM, Read ROM and Match ROM.
//
// Read ROM with several devices returns the wired-AND of their codes, like a
// real bus does.
type Sim struct {
	sync.Mutex
	ROMs []ownet.ROM
	// Data is what a device selected with Match ROM sends back; 0xFF when
	// exhausted.
	Data []byte
	// Written records function command bytes sent after Match ROM.
	Written []byte
	// Resets counts Reset calls.
	Resets int

	state  simState
	active []bool
	bit    int
	match  []byte
	out    []byte
}

type simState int

const (
	simIdle simState = iota
	simSearch
	simReadROM
	simMatch
	simSelected
	simDone
)

func (s *Sim) String() string {
	return "sim"
}

// Reset implements ownet.Transport.
func (s *Sim) Reset() (bool, error) {
	s.Lock()
	defer s.Unlock()
	s.Resets++
	s.state = simIdle
	s.active = make([]bool, len(s.ROMs))
	for i := range s.active {
		s.active[i] = true
	}
	s.bit = 0
	s.match = s.match[:0]
	s.out = nil
	return len(s.ROMs) != 0, nil
}

// WriteByte implements ownet.Transport.
func (s *Sim) WriteByte(b byte) error {
	s.Lock()
	defer s.Unlock()
	return s.writeByte(b)
}

// Write implements ownet.Transport.
func (s *Sim) Write(w []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	for i, b := range w {
		if err := s.writeByte(b); err != nil {
			return i, err
		}
	}
	return len(w), nil
}

// ReadByte implements ownet.Transport.
func (s *Sim) ReadByte() (byte, error) {
	var b [1]byte
	_, err := s.Read(b[:])
	return b[0], err
}

// Read implements ownet.Transport.
func (s *Sim) Read(r []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	for i := range r {
		r[i] = 0xff
		switch s.state {
		case simReadROM:
			if len(s.out) != 0 {
				r[i], s.out = s.out[0], s.out[1:]
			}
		case simSelected:
			if len(s.Data) != 0 {
				r[i], s.Data = s.Data[0], s.Data[1:]
			}
		}
	}
	return len(r), nil
}

// Search implements ownet.Transport.
func (s *Sim) Search(rom []byte, lastDiscrepancy int) (int, error) {
	return ownet.SearchStep(s, rom, lastDiscrepancy)
}

// SearchTriplet implements ownet.TripletBus.
func (s *Sim) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	s.Lock()
	defer s.Unlock()
	if s.state != simSearch || s.bit >= 64 {
		return onewire.TripletResult{}, errors.New("ownettest: triplet outside of a search")
	}
	var r onewire.TripletResult
	for i, rom := range s.ROMs {
		if !s.active[i] {
			continue
		}
		if romBit(rom, s.bit) == 0 {
			r.GotZero = true
		} else {
			r.GotOne = true
		}
	}
	switch {
	case r.GotZero && r.GotOne:
		r.Taken = direction & 1
	case r.GotZero:
		r.Taken = 0
	default:
		r.Taken = 1
	}
	for i, rom := range s.ROMs {
		if s.active[i] && romBit(rom, s.bit) != r.Taken {
			s.active[i] = false
		}
	}
	s.bit++
	return r, nil
}

// CRC8 implements ownet.Transport.
func (s *Sim) CRC8(b []byte) byte {
	return onewire.CalcCRC(b)
}

func (s *Sim) writeByte(b byte) error {
	switch s.state {
	case simIdle:
		switch b {
		case ownet.CmdSearchROM:
			s.state = simSearch
		case ownet.CmdReadROM:
			s.state = simReadROM
			out := [8]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
			for _, rom := range s.ROMs {
				for i := range out {
					out[i] &= rom[i]
				}
			}
			s.out = out[:]
		case ownet.CmdMatchROM:
			s.state = simMatch
		default:
			return fmt.Errorf("ownettest: unsupported ROM command 0x%02X", b)
		}
	case simMatch:
		s.match = append(s.match, b)
		if len(s.match) == 8 {
			s.state = simDone
			for i, rom := range s.ROMs {
				if s.active[i] && string(rom[:]) == string(s.match) {
					s.state = simSelected
				}
			}
		}
	case simSelected:
		s.Written = append(s.Written, b)
	case simDone:
	default:
		return fmt.Errorf("ownettest: unexpected write 0x%02X", b)
	}
	return nil
}

func romBit(rom ownet.ROM, bit int) byte {
	return (rom[bit>>3] >> uint(bit&7)) & 1
}

var _ ownet.Transport = &Playback{}
var _ ownet.Transport = &Sim{}
var _ ownet.TripletBus = &Sim{}
