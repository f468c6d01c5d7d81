// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package displayhatmini controls the GPIO side of the Pimoroni Display
// HAT Mini: the dimmable backlight, the RGB status LED and the four face
// buttons.
//
// The 320x240 ST7789 panel on the board is not driven by this package.
// It sits on SPI0 CE1 with data/command on GPIO9 and belongs to whatever
// display driver the application prefers; Width and Height are exported
// so frames can be composed for it.
//
// # Backlight
//
// With Opts.BacklightPWM set the backlight dims over a fixed 2 kHz PWM
// channel. The host PWM driver is probed once at construction and the
// channel silently falls back to a software toggle loop when the kernel
// side is unavailable; UsingHardwarePWM reports which one was selected.
// Without Opts.BacklightPWM the backlight is plain on/off.
//
// # Buttons
//
// The four buttons are monitored from construction on. Transitions are
// debounced and delivered both to the registered callback and to every
// Subscribe channel; ReadButton returns the last debounced state without
// blocking.
//
// # Wiring
//
//	backlight  GPIO13
//	LED        GPIO17 (red), GPIO27 (green), GPIO22 (blue), active-low
//	buttons    GPIO5 (A), GPIO6 (B), GPIO16 (X), GPIO24 (Y), active-low
package displayhatmini

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3/rpi"
)

// Width and Height are the pixel dimensions of the ST7789 panel.
const (
	Width  = 320
	Height = 240
)

// The backlight frequency is a board characteristic, not a preference:
// above roughly 5 kHz the shortest on-pulse no longer lights the backlight
// LEDs and low duty cycles read as fully off. 2 kHz is the highest
// frequency with a visually continuous 0-100% range on this panel.
const (
	backlightFreq = 2 * physic.KiloHertz
	ledFreq       = 2 * physic.KiloHertz
)

// Opts holds the device configuration.
type Opts struct {
	// BacklightPWM selects dimmable backlight control. When false the
	// backlight is driven as a plain on/off output and SetBacklight
	// treats every value above 0 as fully on.
	BacklightPWM bool

	_ struct{}
}

// DefaultOpts is the default configuration: on/off backlight control.
var DefaultOpts = Opts{}

// Dev is a handle to the Display HAT Mini.
type Dev struct {
	opts      Opts
	backlight *pwmChannel
	blHW      bool

	ledMu sync.Mutex
	led   [3]*pwmChannel

	buttons *buttonDispatcher
}

// New opens the device on the given pins. The backlight starts fully on
// and the LED starts off, matching power-up expectations for the board.
// A nil opts selects DefaultOpts.
//
// Button monitoring starts immediately; a line that cannot be configured
// for edge detection fails construction.
func New(backlight, ledR, ledG, ledB gpio.PinOut, a, b, x, y gpio.PinIn, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	switch {
	case nilPin(backlight):
		return nil, wrap(errors.New("nil backlight pin"))
	case nilPin(ledR) || nilPin(ledG) || nilPin(ledB):
		return nil, wrap(errors.New("nil LED pin"))
	case nilPin(a) || nilPin(b) || nilPin(x) || nilPin(y):
		return nil, wrap(errors.New("nil button pin"))
	}

	d := &Dev{opts: *opts}
	var err error
	if opts.BacklightPWM {
		d.backlight, err = newPWMChannel(backlight, backlightFreq, 1, true, false)
		if err == nil {
			d.blHW = d.backlight.currentMode() == pwmKernel
		}
	} else {
		d.backlight, err = newOnOffChannel(backlight, true, false)
	}
	if err != nil {
		return nil, wrap(err)
	}

	for i, p := range [3]gpio.PinOut{ledR, ledG, ledB} {
		// Indicator LED: software PWM is good enough, no kernel probe.
		c, cerr := newPWMChannel(p, ledFreq, 0, false, true)
		if cerr != nil {
			_ = d.haltOutputs()
			return nil, wrap(cerr)
		}
		d.led[i] = c
	}

	d.buttons, err = newButtonDispatcher(a, b, x, y)
	if err != nil {
		_ = d.haltOutputs()
		return nil, wrap(err)
	}
	return d, nil
}

// NewHat opens the device with the fixed HAT wiring on a Raspberry Pi.
// Call host.Init before using it.
func NewHat(opts *Opts) (*Dev, error) {
	backlight := rpi.P1_33 // GPIO13
	ledR := rpi.P1_11      // GPIO17
	ledG := rpi.P1_13      // GPIO27
	ledB := rpi.P1_15      // GPIO22
	a := rpi.P1_29         // GPIO5
	b := rpi.P1_31         // GPIO6
	x := rpi.P1_36         // GPIO16
	y := rpi.P1_18         // GPIO24
	return New(backlight, ledR, ledG, ledB, a, b, x, y, opts)
}

// SetBacklight sets the backlight brightness. value is clamped to [0, 1].
// Without BacklightPWM any value above 0 turns the backlight fully on.
func (d *Dev) SetBacklight(value float64) error {
	if !d.opts.BacklightPWM {
		return wrap(d.backlight.setOnOff(clamp(value) > 0))
	}
	return wrap(d.backlight.setDuty(value))
}

// UsingHardwarePWM reports whether the backlight runs on the host PWM
// driver rather than the software fallback. The value is determined once
// at construction and never changes.
func (d *Dev) UsingHardwarePWM() bool {
	return d.blHW
}

// SetLED sets the RGB LED color. Each component is clamped to [0, 1]
// independently. The three channels are written as one step; no reader
// observes a half-applied color.
func (d *Dev) SetLED(r, g, b float64) error {
	d.ledMu.Lock()
	defer d.ledMu.Unlock()
	var first error
	for i, v := range [3]float64{r, g, b} {
		if err := d.led[i].setDuty(v); err != nil && first == nil {
			first = err
		}
	}
	return wrap(first)
}

// ReadButton returns the current debounced state of b, true when pressed.
// It never blocks.
func (d *Dev) ReadButton(b Button) bool {
	return d.buttons.read(b)
}

// OnButtonPressed registers fn as the button callback, replacing any
// previous registration; nil unregisters. fn is invoked on the monitoring
// goroutine for every accepted transition, press and release alike, with
// the button and its resulting state.
func (d *Dev) OnButtonPressed(fn func(b Button, pressed bool)) {
	d.buttons.setCallback(fn)
}

// Subscribe returns a channel of debounced button events and a cancel
// func. Subscribers are independent and each receives events in the order
// they occurred; a subscriber that stops draining loses events instead of
// stalling the others. The channel is closed by cancel and by Halt.
func (d *Dev) Subscribe() (<-chan ButtonEvent, func()) {
	return d.buttons.subscribe()
}

// Halt stops button monitoring, turns the LED and the backlight off and
// releases the PWM channels. Implements conn.Resource. Safe to call more
// than once.
func (d *Dev) Halt() error {
	d.buttons.stop()
	return wrap(d.haltOutputs())
}

func (d *Dev) String() string {
	mode := "on/off"
	if d.opts.BacklightPWM {
		mode = "software"
		if d.blHW {
			mode = "hardware"
		}
	}
	return fmt.Sprintf("displayhatmini.Dev{backlight: %s %s}", d.backlight.pin, mode)
}

func (d *Dev) haltOutputs() error {
	var first error
	for _, c := range d.led {
		if c == nil {
			continue
		}
		if err := c.halt(); err != nil && first == nil {
			first = err
		}
	}
	if d.backlight != nil {
		if err := d.backlight.halt(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("displayhatmini: %w", err)
}

// nilPin reports whether p holds no usable pin. A nil concrete pointer
// boxed in a non-nil interface compares unequal to nil but still
// dereferences to nothing on the first Out or In call.
func nilPin(p interface{}) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

var _ conn.Resource = &Dev{}
