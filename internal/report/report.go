// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package report posts readings to the monitor server as HTML forms.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Monitor server endpoints, under <base>/monitor/.
const (
	EndpointSoil        = "receive.soil.php"
	EndpointHumidity    = "receive.humidity.php"
	EndpointTemperature = "receive.php"
)

// Opts contains options to pass to New.
type Opts struct {
	BaseURL   string
	StationID string        // sent as X-Station-Id when set
	Client    *http.Client  // defaults to a client with Timeout
	Timeout   time.Duration // per request, defaults to 30s
	Retries   int           // retries after the first attempt
	Backoff   []time.Duration
	Pace      time.Duration // minimum spacing between posts, 0 to disable
	Logger    *zap.Logger
}

// StatusError is returned when the server answers with a non 2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("report: http %d: %s", e.Code, e.Body)
}

// Reporter posts readings. It is safe for concurrent use.
type Reporter struct {
	base      *url.URL
	stationID string
	client    *http.Client
	retries   int
	backoff   []time.Duration
	limiter   *rate.Limiter
	log       *zap.Logger
}

// New returns a Reporter for the monitor server at opts.BaseURL.
func New(opts Opts) (*Reporter, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("report: unsupported base URL %q", opts.BaseURL)
	}
	r := &Reporter{
		base:      base,
		stationID: opts.StationID,
		client:    opts.Client,
		retries:   max(opts.Retries, 0),
		backoff:   opts.Backoff,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		log:       opts.Logger,
	}
	if r.client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		r.client = &http.Client{Timeout: timeout}
	}
	if len(r.backoff) == 0 {
		r.backoff = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 5 * time.Second}
	}
	if opts.Pace > 0 {
		r.limiter = rate.NewLimiter(rate.Every(opts.Pace), 1)
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r, nil
}

// Soil reports the soil moisture level.
func (r *Reporter) Soil(ctx context.Context, level float64) error {
	return r.Post(ctx, EndpointSoil, url.Values{"value": {formatFloat(level)}})
}

// Humidity reports the compensated relative humidity.
func (r *Reporter) Humidity(ctx context.Context, rh float64) error {
	return r.Post(ctx, EndpointHumidity, url.Values{"value": {formatFloat(rh)}})
}

// Temperature reports the temperature of the probe at address, in °C.
func (r *Reporter) Temperature(ctx context.Context, address string, celsius float64) error {
	return r.Post(ctx, EndpointTemperature, url.Values{
		"tempName":  {address},
		"tempValue": {formatFloat(celsius)},
	})
}

// Post sends form to <base>/monitor/<endpoint>.
//
// Network errors and 5xx answers are retried with backoff; other failures are
// returned right away.
func (r *Reporter) Post(ctx context.Context, endpoint string, form url.Values) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	target := r.base.JoinPath("monitor", endpoint).String()
	body := form.Encode()
	id := uuid.NewString()
	log := r.log.With(zap.String("endpoint", endpoint), zap.String("request_id", id))

	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt != 0 {
			backoff := r.backoff[min(attempt-1, len(r.backoff)-1)]
			log.Debug("retrying", zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return fmt.Errorf("report: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
		var retry bool
		if retry, lastErr = r.send(ctx, target, id, body); lastErr == nil {
			log.Debug("reported", zap.String("form", body))
			return nil
		}
		if !retry {
			break
		}
	}
	return lastErr
}

// send does one attempt and tells whether a failure may be retried.
func (r *Reporter) send(ctx context.Context, target, id, body string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("report: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Request-Id", id)
	if r.stationID != "" {
		req.Header.Set("X-Station-Id", r.stationID)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("report: %w", err)
	}
	rb, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	return resp.StatusCode >= 500, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(rb))}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var s *StatusError
	return errors.As(err, &s) && s.Code == code
}
