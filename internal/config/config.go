// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the station configuration from a YAML file, defaults
// and WS_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// StationConfig is the measurement loop.
type StationConfig struct {
	ID              string        `mapstructure:"id" yaml:"id"`
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	Align           bool          `mapstructure:"align" yaml:"align"`
	RediscoverEvery int           `mapstructure:"rediscoverEvery" yaml:"rediscoverEvery"`
	LED             string        `mapstructure:"led" yaml:"led"`
}

// BusConfig selects the 1-Wire bus master.
type BusConfig struct {
	Driver         string `mapstructure:"driver" yaml:"driver"` // ds248x | ds9097
	I2C            string `mapstructure:"i2c" yaml:"i2c"`
	Addr           int    `mapstructure:"addr" yaml:"addr"`
	Channel        int    `mapstructure:"channel" yaml:"channel"`
	Serial         string `mapstructure:"serial" yaml:"serial"`
	SkipDuplicates bool   `mapstructure:"skipDuplicates" yaml:"skipDuplicates"`
}

// ADCConfig is a Linux IIO voltage input.
type ADCConfig struct {
	Device  string `mapstructure:"device" yaml:"device"`
	Channel int    `mapstructure:"channel" yaml:"channel"`
}

// MoistureConfig is the soil probe.
type MoistureConfig struct {
	Enable  bool          `mapstructure:"enable" yaml:"enable"`
	ADC     ADCConfig     `mapstructure:"adc" yaml:"adc"`
	PinA    string        `mapstructure:"pinA" yaml:"pinA"`
	PinB    string        `mapstructure:"pinB" yaml:"pinB"`
	Settle  time.Duration `mapstructure:"settle" yaml:"settle"`
	Samples int           `mapstructure:"samples" yaml:"samples"`
}

// HumidityConfig is the analog humidity sensor and the probe compensating it.
type HumidityConfig struct {
	Enable bool      `mapstructure:"enable" yaml:"enable"`
	ADC    ADCConfig `mapstructure:"adc" yaml:"adc"`
	Probe  string    `mapstructure:"probe" yaml:"probe"`
}

// ReportConfig is the upstream monitor server.
type ReportConfig struct {
	BaseURL string        `mapstructure:"baseURL" yaml:"baseURL"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries int           `mapstructure:"retries" yaml:"retries"`
	Pace    time.Duration `mapstructure:"pace" yaml:"pace"`
}

// HTTPConfig is the status server.
type HTTPConfig struct {
	Enable       bool          `mapstructure:"enable" yaml:"enable"`
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout"`
}

// LumberjackConfig is the rolling log file.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize" yaml:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge" yaml:"maxAge"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// LoggingConfig is the log level and outputs.
type LoggingConfig struct {
	Level  string           `mapstructure:"level" yaml:"level"`
	Format string           `mapstructure:"format" yaml:"format"`
	File   LumberjackConfig `mapstructure:"file" yaml:"file"`
}

// MetricsConfig is the Prometheus endpoint.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable" yaml:"enable"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// ConsoleConfig is the terminal heat strip.
type ConsoleConfig struct {
	Enable bool    `mapstructure:"enable" yaml:"enable"`
	Min    float64 `mapstructure:"min" yaml:"min"`
	Max    float64 `mapstructure:"max" yaml:"max"`
}

// Config is the whole configuration.
type Config struct {
	Station  StationConfig  `mapstructure:"station" yaml:"station"`
	Bus      BusConfig      `mapstructure:"bus" yaml:"bus"`
	Moisture MoistureConfig `mapstructure:"moisture" yaml:"moisture"`
	Humidity HumidityConfig `mapstructure:"humidity" yaml:"humidity"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Console  ConsoleConfig  `mapstructure:"console" yaml:"console"`
}

// Load reads the configuration file at path, then applies WS_ environment
// overrides, e.g. WS_STATION_INTERVAL=5m.
//
// When path is empty, WS_CONFIG is used; failing that weatherstation.yaml is
// looked up in . and ./configs and may be missing. An empty station.id gets a
// random one.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("WS_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("weatherstation")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("WS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Station.ID == "" {
		cfg.Station.ID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that would otherwise fail late, at the first
// cycle.
func (c *Config) Validate() error {
	if c.Station.Interval <= 0 {
		return errors.New("config: station.interval must be positive")
	}
	if c.Station.RediscoverEvery < 0 {
		return errors.New("config: station.rediscoverEvery must not be negative")
	}
	switch c.Bus.Driver {
	case "ds248x":
		if c.Bus.Addr < 0x18 || c.Bus.Addr > 0x1f {
			return fmt.Errorf("config: bus.addr %#x is not a ds248x address", c.Bus.Addr)
		}
	case "ds9097":
		if c.Bus.Serial == "" {
			return errors.New("config: bus.serial is required by ds9097")
		}
	default:
		return fmt.Errorf("config: unknown bus.driver %q", c.Bus.Driver)
	}
	if c.Moisture.Enable && (c.Moisture.PinA == "") != (c.Moisture.PinB == "") {
		return errors.New("config: moisture.pinA and moisture.pinB go together")
	}
	if c.Report.BaseURL == "" {
		return errors.New("config: report.baseURL is required")
	}
	if _, err := zapcore.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		return fmt.Errorf("config: logging.level: %w", err)
	}
	if c.Console.Enable && c.Console.Max <= c.Console.Min {
		return errors.New("config: console.max must be above console.min")
	}
	return nil
}

// Dump renders the configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("station.id", "")
	v.SetDefault("station.interval", "30m")
	v.SetDefault("station.align", true)
	v.SetDefault("station.rediscoverEvery", 0)
	v.SetDefault("station.led", "")

	v.SetDefault("bus.driver", "ds248x")
	v.SetDefault("bus.i2c", "")
	v.SetDefault("bus.addr", 0x18)
	v.SetDefault("bus.channel", 0)
	v.SetDefault("bus.serial", "")
	v.SetDefault("bus.skipDuplicates", false)

	v.SetDefault("moisture.enable", false)
	v.SetDefault("moisture.adc.device", "iio:device0")
	v.SetDefault("moisture.adc.channel", 3)
	v.SetDefault("moisture.pinA", "")
	v.SetDefault("moisture.pinB", "")
	v.SetDefault("moisture.settle", "1s")
	v.SetDefault("moisture.samples", 1)

	v.SetDefault("humidity.enable", false)
	v.SetDefault("humidity.adc.device", "iio:device0")
	v.SetDefault("humidity.adc.channel", 5)
	v.SetDefault("humidity.probe", "0000038BFA02")

	v.SetDefault("report.baseURL", "http://192.168.1.34")
	v.SetDefault("report.timeout", "30s")
	v.SetDefault("report.retries", 3)
	v.SetDefault("report.pace", "1s")

	v.SetDefault("http.enable", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/weatherstation.log")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("console.enable", false)
	v.SetDefault("console.min", -10)
	v.SetDefault("console.max", 40)
}
