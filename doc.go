// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package weatherstation is a container for the weather station node: the
// 1-Wire device registry in ownet, its bus masters ds248x and ds9097, the
// ds18b20 temperature probe and the moisture soil probe.
//
// The station program itself is cmd/weatherstation.
package weatherstation
