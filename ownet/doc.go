// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ownet discovers and addresses devices on a shared 1-Wire bus.
//
// A Network enumerates the bus with the ROM search, validates every candidate
// ROM code with the Dallas/Maxim CRC8 and turns it into a typed Device through
// the family constructor table filled by Register. Device drivers, such as
// ds18b20, register themselves from their init function.
//
// Electrical signalling is left to a Transport implementation, for example
// ds248x (I²C bridge) or ds9097 (serial adapter). The Transport is wrapped
// once in a Bus which serializes complete bus transactions between the
// Network and all the devices it created.
//
// Known limitations:
//
//   - ROM codes of families without a registered constructor are dropped.
//   - Discover appends on every call; set Opts.SkipDuplicates to skip
//     addresses already present in the registry.
package ownet
