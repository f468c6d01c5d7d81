// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hatmini is a container for Pimoroni Display HAT Mini drivers.
//
// The driver itself lives in the displayhatmini package. The termhat
// package emulates the board on a terminal for development without
// hardware.
package hatmini
