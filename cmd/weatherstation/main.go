// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// weatherstation reads soil moisture, humidity and the 1-Wire temperature
// probes at a fixed interval and posts them to the monitor server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	_ "github.com/GermanBionicSystems/weatherstation/ds18b20"
	"github.com/GermanBionicSystems/weatherstation/ds248x"
	"github.com/GermanBionicSystems/weatherstation/ds9097"
	"github.com/GermanBionicSystems/weatherstation/heatstrip"
	"github.com/GermanBionicSystems/weatherstation/internal/config"
	"github.com/GermanBionicSystems/weatherstation/internal/httpserver"
	"github.com/GermanBionicSystems/weatherstation/internal/iio"
	"github.com/GermanBionicSystems/weatherstation/internal/logging"
	"github.com/GermanBionicSystems/weatherstation/internal/metrics"
	"github.com/GermanBionicSystems/weatherstation/internal/report"
	"github.com/GermanBionicSystems/weatherstation/internal/station"
	"github.com/GermanBionicSystems/weatherstation/moisture"
	"github.com/GermanBionicSystems/weatherstation/ownet"
)

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "weatherstation: %s.\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	cfgPath := flag.String("config", "", "configuration file, defaults to $WS_CONFIG")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	discoverOnly := flag.Bool("discover-only", false, "list the 1-Wire devices and exit")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *printConfig {
		out, err := cfg.Dump()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("station", cfg.Station.ID))

	if _, err := host.Init(); err != nil {
		return err
	}

	t, closer, err := openBus(cfg.Bus)
	if err != nil {
		return err
	}
	defer release(log, "1-Wire bus", closer.Close)
	log.Info("1-Wire bus opened", zap.String("master", fmt.Sprint(t)))
	network := ownet.New(ownet.NewBus(t), &ownet.Opts{Logger: log.Named("ownet"), SkipDuplicates: cfg.Bus.SkipDuplicates})

	if *discoverOnly {
		if err := network.Discover(); err != nil {
			return err
		}
		for _, d := range network.All() {
			fmt.Printf("%s  %s\n", d.ROM(), d)
		}
		return nil
	}

	reg := metrics.NewRegistry()
	m := metrics.NewStation(reg)

	rep, err := report.New(report.Opts{
		BaseURL:   cfg.Report.BaseURL,
		StationID: cfg.Station.ID,
		Timeout:   cfg.Report.Timeout,
		Retries:   cfg.Report.Retries,
		Pace:      cfg.Report.Pace,
		Logger:    log.Named("report"),
	})
	if err != nil {
		return err
	}

	opts := station.Opts{
		Network:         network,
		Reporter:        rep,
		Interval:        cfg.Station.Interval,
		Align:           cfg.Station.Align,
		RediscoverEvery: cfg.Station.RediscoverEvery,
		HumidityProbe:   cfg.Humidity.Probe,
		Metrics:         m,
		Logger:          log.Named("station"),
	}
	if cfg.Moisture.Enable {
		probe, err := openMoisture(cfg.Moisture)
		if err != nil {
			return err
		}
		defer release(log, "moisture probe", probe.Halt)
		opts.Moisture = probe
	}
	if cfg.Humidity.Enable {
		adc, err := iio.Open(cfg.Humidity.ADC.Device, cfg.Humidity.ADC.Channel, nil)
		if err != nil {
			return err
		}
		opts.Humidity = adc
	}
	if cfg.Station.LED != "" {
		led, err := pinByName(cfg.Station.LED)
		if err != nil {
			return err
		}
		opts.LED = led
	}
	if cfg.Console.Enable {
		strip, err := heatstrip.New(&heatstrip.Opts{Min: cfg.Console.Min, Max: cfg.Console.Max})
		if err != nil {
			return err
		}
		defer release(log, "heat strip", strip.Halt)
		opts.Display = strip
	}

	s, err := station.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HTTP.Enable {
		var metricsHandler = metrics.Handler(reg)
		if !cfg.Metrics.Enable {
			metricsHandler = nil
		}
		srv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, s.Ready, func() any { return s.Readings() })
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("http server error", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			release(log, "http server", func() error { return srv.Shutdown(ctx) })
		}()
	}

	log.Info("station running", zap.Duration("interval", cfg.Station.Interval))
	err = s.Run(ctx)
	log.Info("station stopped")
	return err
}

// openBus returns the configured 1-Wire master and what to close when done.
func openBus(cfg config.BusConfig) (ownet.Transport, io.Closer, error) {
	switch cfg.Driver {
	case "ds248x":
		bus, err := i2creg.Open(cfg.I2C)
		if err != nil {
			return nil, nil, err
		}
		d, err := ds248x.New(bus, uint16(cfg.Addr), nil)
		if err != nil {
			_ = bus.Close()
			return nil, nil, err
		}
		if err := d.ChannelSelect(cfg.Channel); err != nil {
			_ = bus.Close()
			return nil, nil, err
		}
		return d, &haltCloser{r: d, c: bus}, nil
	case "ds9097":
		d, err := ds9097.Open(cfg.Serial, nil)
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	}
	return nil, nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
}

// haltCloser halts a device before closing the port it is on.
type haltCloser struct {
	r conn.Resource
	c io.Closer
}

func (h *haltCloser) Close() error {
	return errors.Join(h.r.Halt(), h.c.Close())
}

// release runs a deferred cleanup and logs its failure.
func release(log *zap.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn("release failed", zap.String("resource", what), zap.Error(err))
	}
}

func openMoisture(cfg config.MoistureConfig) (*moisture.Dev, error) {
	adc, err := iio.Open(cfg.ADC.Device, cfg.ADC.Channel, nil)
	if err != nil {
		return nil, err
	}
	var a, b gpio.PinOut
	if cfg.PinA != "" {
		if a, err = pinByName(cfg.PinA); err != nil {
			return nil, err
		}
		if b, err = pinByName(cfg.PinB); err != nil {
			return nil, err
		}
	}
	return moisture.New(adc, a, b, &moisture.Opts{Settle: cfg.Settle, Samples: cfg.Samples})
}

func pinByName(name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no GPIO pin named %q", name)
	}
	return p, nil
}
