// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package iio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

func fakeDevice(t *testing.T, files map[string]string) string {
	root := t.TempDir()
	dir := filepath.Join(root, "iio:device0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return root
}

func TestRead(t *testing.T) {
	root := fakeDevice(t, map[string]string{
		"in_voltage3_raw":  "2048\n",
		"in_voltage_scale": "0.5\n",
	})
	p, err := Open("iio:device0", 3, &Opts{Root: root})
	require.NoError(t, err)
	assert.Equal(t, "iio:device0/in_voltage3", p.String())
	assert.Equal(t, 3, p.Number())
	assert.Equal(t, "ADC", p.Function())

	s, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, int32(2048), s.Raw)
	assert.Equal(t, 1024*physic.MilliVolt, s.V)

	lo, hi := p.Range()
	assert.Equal(t, int32(0), lo.Raw)
	assert.Equal(t, int32(4095), hi.Raw)

	require.NoError(t, os.WriteFile(filepath.Join(root, "iio:device0", "in_voltage3_raw"), []byte("17"), 0o644))
	s, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, int32(17), s.Raw)
}

func TestChannelScale(t *testing.T) {
	root := fakeDevice(t, map[string]string{
		"in_voltage5_raw":   "100",
		"in_voltage5_scale": "2",
		"in_voltage_scale":  "0.5",
	})
	p, err := Open("iio:device0", 5, &Opts{Root: root, Bits: 10})
	require.NoError(t, err)
	s, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, 200*physic.MilliVolt, s.V)
	_, hi := p.Range()
	assert.Equal(t, int32(1023), hi.Raw)
}

func TestNoScale(t *testing.T) {
	root := fakeDevice(t, map[string]string{"in_voltage0_raw": "7"})
	p, err := Open("iio:device0", 0, &Opts{Root: root})
	require.NoError(t, err)
	s, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, int32(7), s.Raw)
	assert.Zero(t, s.V)
}

func TestOpenFail(t *testing.T) {
	root := fakeDevice(t, nil)
	_, err := Open("iio:device0", 1, &Opts{Root: root})
	assert.Error(t, err)
	_, err = Open("iio:device0", -1, &Opts{Root: root})
	assert.Error(t, err)
}

func TestReadFail(t *testing.T) {
	root := fakeDevice(t, map[string]string{"in_voltage0_raw": "garbage"})
	p, err := Open("iio:device0", 0, &Opts{Root: root})
	require.NoError(t, err)
	_, err = p.Read()
	assert.Error(t, err)
}
