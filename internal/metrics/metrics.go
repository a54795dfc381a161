// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package metrics holds the station's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Station is the set of station metrics.
type Station struct {
	Temperature   *prometheus.GaugeVec   // labels: address
	Moisture      prometheus.Gauge       // raw ADC units
	Humidity      prometheus.Gauge       // %RH
	ReadErrors    *prometheus.CounterVec // labels: sensor
	Devices       prometheus.Gauge       // devices in the registry
	Discoveries   *prometheus.CounterVec // labels: result=ok|error
	Dropped       *prometheus.CounterVec // labels: reason=checksum|unsupported|duplicate
	Reports       *prometheus.CounterVec // labels: endpoint, result=ok|error
	CycleDuration prometheus.Histogram
}

// NewStation registers and returns the station metrics.
func NewStation(reg prometheus.Registerer) *Station {
	m := &Station{
		Temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weatherstation_temperature_celsius",
			Help: "Last temperature read per 1-Wire probe.",
		}, []string{"address"}),
		Moisture: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weatherstation_soil_moisture",
			Help: "Last soil moisture level, in ADC units.",
		}),
		Humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weatherstation_humidity_percent",
			Help: "Last temperature compensated relative humidity.",
		}),
		ReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weatherstation_read_errors_total",
			Help: "Failed sensor reads.",
		}, []string{"sensor"}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weatherstation_devices",
			Help: "Devices in the 1-Wire registry.",
		}),
		Discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weatherstation_discoveries_total",
			Help: "1-Wire discoveries by result.",
		}, []string{"result"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weatherstation_dropped_devices_total",
			Help: "Search candidates not registered, by reason.",
		}, []string{"reason"}),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weatherstation_reports_total",
			Help: "Posts to the monitor server by endpoint and result.",
		}, []string{"endpoint", "result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weatherstation_cycle_duration_seconds",
			Help:    "Duration of a measurement cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
	}
	reg.MustRegister(m.Temperature, m.Moisture, m.Humidity, m.ReadErrors, m.Devices,
		m.Discoveries, m.Dropped, m.Reports, m.CycleDuration)
	return m
}

// Result returns the result label for err.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
