// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package station runs the measurement loop: soil moisture, 1-Wire
// temperatures and the compensated humidity, reported at a fixed interval.
package station

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"

	"github.com/GermanBionicSystems/weatherstation/internal/metrics"
	"github.com/GermanBionicSystems/weatherstation/internal/report"
	"github.com/GermanBionicSystems/weatherstation/ownet"
)

// Thermometer is a 1-Wire device able to read a temperature in °C.
type Thermometer interface {
	ownet.Device
	ReadTemperature() (float64, error)
}

// Reporter sends readings upstream. report.Reporter implements it.
type Reporter interface {
	Soil(ctx context.Context, level float64) error
	Humidity(ctx context.Context, rh float64) error
	Temperature(ctx context.Context, address string, celsius float64) error
}

// Moisture reads the soil probe.
type Moisture interface {
	Sense() (float64, error)
}

// Display shows the temperatures of a cycle, e.g. heatstrip.Dev.
type Display interface {
	Show(temps []float64) error
}

// Opts contains options to pass to New.
type Opts struct {
	Network  *ownet.Network // required
	Reporter Reporter       // required
	Interval time.Duration  // required
	// Align starts each cycle on a multiple of Interval, in wall clock time.
	Align bool
	// RediscoverEvery clears and rediscovers the bus every that many cycles,
	// 0 to never.
	RediscoverEvery int

	Moisture      Moisture      // optional
	Humidity      analog.PinADC // optional
	HumidityProbe string        // address of the probe compensating Humidity
	LED           gpio.PinOut   // optional, lit while reporting
	Display       Display       // optional
	Metrics       *metrics.Station
	Logger        *zap.Logger
}

// Readings is the outcome of the last cycle.
type Readings struct {
	Time         time.Time          `json:"time"`
	Moisture     *float64           `json:"moisture,omitempty"`
	Humidity     *float64           `json:"humidity,omitempty"`
	Temperatures map[string]float64 `json:"temperatures"`
}

// Station is the measurement loop.
type Station struct {
	opts  Opts
	log   *zap.Logger
	ready atomic.Bool
	cycle int

	mu   sync.Mutex
	last Readings

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// New returns a Station.
func New(opts Opts) (*Station, error) {
	if opts.Network == nil || opts.Reporter == nil {
		return nil, errors.New("station: network and reporter are required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("station: interval must be positive")
	}
	if opts.RediscoverEvery < 0 {
		return nil, errors.New("station: negative rediscovery period")
	}
	s := &Station{opts: opts, log: opts.Logger, now: time.Now, wait: wait}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s, nil
}

// Ready reports whether a discovery completed.
func (s *Station) Ready() bool {
	return s.ready.Load()
}

// Readings returns the readings of the last cycle.
func (s *Station) Readings() Readings {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.last
	r.Temperatures = maps.Clone(s.last.Temperatures)
	return r
}

// Discover enumerates the bus and logs what was found.
func (s *Station) Discover() error {
	n := s.opts.Network
	err := n.Discover()
	st := n.Stats()
	addrs := make([]string, 0, n.Len())
	for _, d := range n.All() {
		addrs = append(addrs, d.Address())
	}
	if m := s.opts.Metrics; m != nil {
		m.Discoveries.WithLabelValues(metrics.Result(err)).Inc()
		m.Devices.Set(float64(len(addrs)))
		m.Dropped.WithLabelValues("checksum").Add(float64(st.Checksum))
		m.Dropped.WithLabelValues("unsupported").Add(float64(st.Unsupported))
		m.Dropped.WithLabelValues("duplicate").Add(float64(st.Duplicates))
	}
	if err != nil {
		s.log.Error("discovery failed", zap.Error(err), zap.Strings("addresses", addrs))
		return err
	}
	s.ready.Store(true)
	s.log.Info("devices discovered", zap.Int("count", len(addrs)), zap.Strings("addresses", addrs))
	return nil
}

// Run discovers the bus then runs a cycle every interval until ctx is done.
//
// Failures are logged and never stop the loop.
func (s *Station) Run(ctx context.Context) error {
	_ = s.Discover()
	for {
		if err := s.wait(ctx, s.delay()); err != nil {
			return nil
		}
		s.Cycle(ctx)
	}
}

// Cycle reads and reports every sensor once.
func (s *Station) Cycle(ctx context.Context) {
	start := s.now()
	s.cycle++
	if e := s.opts.RediscoverEvery; e > 0 && s.cycle%e == 0 {
		s.opts.Network.Clear()
		_ = s.Discover()
	}
	r := Readings{Time: start, Temperatures: map[string]float64{}}

	if s.opts.Moisture != nil {
		if level, err := s.opts.Moisture.Sense(); err != nil {
			s.readError("moisture", err)
		} else {
			s.log.Info("soil moisture", zap.Float64("level", level))
			r.Moisture = &level
			s.observe(func(m *metrics.Station) { m.Moisture.Set(level) })
			s.report(report.EndpointSoil, func() error { return s.opts.Reporter.Soil(ctx, level) })
		}
	}

	var temps []float64
	for _, d := range s.opts.Network.All() {
		if ctx.Err() != nil {
			break
		}
		th, ok := d.(Thermometer)
		if !ok {
			continue
		}
		addr := d.Address()
		c, err := th.ReadTemperature()
		if err != nil {
			s.readError("temperature", err, zap.String("address", addr))
			continue
		}
		s.log.Info("temperature", zap.String("address", addr), zap.Float64("celsius", c))
		r.Temperatures[addr] = c
		temps = append(temps, c)
		s.observe(func(m *metrics.Station) { m.Temperature.WithLabelValues(addr).Set(c) })

		if s.opts.Humidity != nil && addr == s.opts.HumidityProbe {
			if raw, err := s.opts.Humidity.Read(); err != nil {
				s.readError("humidity", err)
			} else {
				rh := Compensate(float64(raw.Raw), c)
				s.log.Info("humidity", zap.Float64("rh", rh), zap.Int32("raw", raw.Raw))
				r.Humidity = &rh
				s.observe(func(m *metrics.Station) { m.Humidity.Set(rh) })
				s.report(report.EndpointHumidity, func() error { return s.opts.Reporter.Humidity(ctx, rh) })
			}
		}
		s.report(report.EndpointTemperature, func() error { return s.opts.Reporter.Temperature(ctx, addr, c) })
	}

	if s.opts.Display != nil {
		if err := s.opts.Display.Show(temps); err != nil {
			s.log.Warn("display failed", zap.Error(err))
		}
	}
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
	s.observe(func(m *metrics.Station) { m.CycleDuration.Observe(s.now().Sub(start).Seconds()) })
}

// Compensate corrects a raw humidity reading with the temperature in °C.
func Compensate(raw, celsius float64) float64 {
	return raw / (1.0546 - 0.00216*celsius)
}

// Delay returns the wait until the next multiple of interval after now.
func Delay(now time.Time, interval time.Duration) time.Duration {
	return interval - time.Duration(now.UnixNano()%int64(interval))
}

//

func (s *Station) delay() time.Duration {
	if !s.opts.Align {
		return s.opts.Interval
	}
	return Delay(s.now(), s.opts.Interval)
}

func (s *Station) report(endpoint string, post func() error) {
	if s.opts.LED != nil {
		_ = s.opts.LED.Out(gpio.High)
		defer func() { _ = s.opts.LED.Out(gpio.Low) }()
	}
	err := post()
	s.observe(func(m *metrics.Station) { m.Reports.WithLabelValues(endpoint, metrics.Result(err)).Inc() })
	if err != nil {
		s.log.Warn("report failed", zap.String("endpoint", endpoint), zap.Error(err))
	}
}

func (s *Station) readError(sensor string, err error, fields ...zap.Field) {
	s.log.Warn("read failed", append(fields, zap.String("sensor", sensor), zap.Error(err))...)
	s.observe(func(m *metrics.Station) { m.ReadErrors.WithLabelValues(sensor).Inc() })
}

func (s *Station) observe(f func(m *metrics.Station)) {
	if s.opts.Metrics != nil {
		f(s.opts.Metrics)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
