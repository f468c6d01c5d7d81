// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package displayhatmini

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// devPins is a full fake pin set wired like the HAT.
type devPins struct {
	backlight        *gpiotest.Pin
	ledR, ledG, ledB *gpiotest.Pin
	a, b, x, y       *gpiotest.Pin
}

func newDevPins() *devPins {
	btn := func(n string, num int) *gpiotest.Pin {
		return &gpiotest.Pin{N: n, Num: num, L: gpio.High, EdgesChan: make(chan gpio.Level)}
	}
	return &devPins{
		backlight: &gpiotest.Pin{N: "BL", Num: 13},
		ledR:      &gpiotest.Pin{N: "LED_R", Num: 17},
		ledG:      &gpiotest.Pin{N: "LED_G", Num: 27},
		ledB:      &gpiotest.Pin{N: "LED_B", Num: 22},
		a:         btn("A", 5),
		b:         btn("B", 6),
		x:         btn("X", 16),
		y:         btn("Y", 24),
	}
}

func (p *devPins) open(t *testing.T, opts *Opts) *Dev {
	t.Helper()
	d, err := New(p.backlight, p.ledR, p.ledG, p.ledB, p.a, p.b, p.x, p.y, opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Halt() })
	return d
}

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		name   string
		opts   *Opts
		noPWM  bool
		wantHW bool
		want   string
	}{
		{
			name: "default on off",
			want: "displayhatmini.Dev{backlight: BL(13) on/off}",
		},
		{
			name:   "pwm hardware",
			opts:   &Opts{BacklightPWM: true},
			wantHW: true,
			want:   "displayhatmini.Dev{backlight: BL(13) hardware}",
		},
		{
			name:  "pwm software fallback",
			opts:  &Opts{BacklightPWM: true},
			noPWM: true,
			want:  "displayhatmini.Dev{backlight: BL(13) software}",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pins := newDevPins()
			var bl gpio.PinOut = pins.backlight
			if tc.noPWM {
				bl = &noPWMPin{Pin: gpiotest.Pin{N: "BL", Num: 13}}
			}
			d, err := New(bl, pins.ledR, pins.ledG, pins.ledB, pins.a, pins.b, pins.x, pins.y, tc.opts)
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}
			t.Cleanup(func() { _ = d.Halt() })

			if got := d.String(); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
			// The selection is made once at construction; asking twice
			// gives the same answer.
			if got := d.UsingHardwarePWM(); got != tc.wantHW {
				t.Errorf("UsingHardwarePWM() = %t, want %t", got, tc.wantHW)
			}
			if got := d.UsingHardwarePWM(); got != tc.wantHW {
				t.Errorf("repeated UsingHardwarePWM() = %t, want %t", got, tc.wantHW)
			}
		})
	}
}

func TestNewNilPin(t *testing.T) {
	// The devPins fields are concrete pointers, so a nil here reaches
	// New as a typed nil boxed in a non-nil interface. It must fail
	// validation the same way an untyped nil does, not crash on the
	// first pin call.
	for _, tc := range []struct {
		name string
		mod  func(*devPins)
	}{
		{"typed nil backlight", func(p *devPins) { p.backlight = nil }},
		{"typed nil led", func(p *devPins) { p.ledG = nil }},
		{"typed nil button", func(p *devPins) { p.x = nil }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pins := newDevPins()
			tc.mod(pins)
			if _, err := New(pins.backlight, pins.ledR, pins.ledG, pins.ledB, pins.a, pins.b, pins.x, pins.y, nil); err == nil {
				t.Fatal("New() with a nil pin succeeded")
			}
		})
	}
	t.Run("untyped nil", func(t *testing.T) {
		pins := newDevPins()
		if _, err := New(nil, pins.ledR, pins.ledG, pins.ledB, pins.a, pins.b, pins.x, pins.y, nil); err == nil {
			t.Fatal("New() with a nil pin succeeded")
		}
	})
}

func TestSetBacklightPWM(t *testing.T) {
	pins := newDevPins()
	d := pins.open(t, &Opts{BacklightPWM: true})
	if !d.UsingHardwarePWM() {
		t.Fatal("UsingHardwarePWM() = false, want true")
	}
	// The backlight powers up at full brightness.
	if got := d.backlight.currentDuty(); got != 1 {
		t.Fatalf("initial duty = %v, want 1", got)
	}

	for _, tc := range []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{0.25, 0.25},
		{0.5, 0.5},
		{1, 1},
		{-0.2, 0},
		{1.7, 1},
	} {
		if err := d.SetBacklight(tc.in); err != nil {
			t.Fatalf("SetBacklight(%v) failed: %v", tc.in, err)
		}
		if got := d.backlight.currentDuty(); got != tc.want {
			t.Errorf("duty after SetBacklight(%v) = %v, want %v", tc.in, got, tc.want)
		}
		if diff := cmp.Diff(dutyFraction(pins.backlight.D), tc.want, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
			t.Errorf("applied duty after SetBacklight(%v) difference (-got +want):\n%s", tc.in, diff)
		}
	}
}

func TestSetBacklightSoftwareFallback(t *testing.T) {
	pins := newDevPins()
	bl := &noPWMPin{Pin: gpiotest.Pin{N: "BL", Num: 13}}
	d, err := New(bl, pins.ledR, pins.ledG, pins.ledB, pins.a, pins.b, pins.x, pins.y, &Opts{BacklightPWM: true})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Halt() })

	if d.UsingHardwarePWM() {
		t.Fatal("UsingHardwarePWM() = true, want false")
	}
	// Dimming still works, it just runs on the toggle goroutine.
	if err := d.SetBacklight(0.5); err != nil {
		t.Fatalf("SetBacklight(0.5) failed: %v", err)
	}
	if got := d.backlight.currentDuty(); got != 0.5 {
		t.Errorf("duty = %v, want 0.5", got)
	}
	if d.UsingHardwarePWM() {
		t.Error("UsingHardwarePWM() changed after SetBacklight")
	}
}

func TestSetBacklightBinary(t *testing.T) {
	pins := newDevPins()
	d := pins.open(t, nil)

	// Full on at power-up.
	if got := pins.backlight.Read(); got != gpio.High {
		t.Fatalf("initial level = %s, want %s", got, gpio.High)
	}
	for _, tc := range []struct {
		in       float64
		want     gpio.Level
		wantDuty float64
	}{
		{0, gpio.Low, 0},
		{0.7, gpio.High, 1},
		{-0.2, gpio.Low, 0},
		{1.7, gpio.High, 1},
	} {
		if err := d.SetBacklight(tc.in); err != nil {
			t.Fatalf("SetBacklight(%v) failed: %v", tc.in, err)
		}
		if got := pins.backlight.Read(); got != tc.want {
			t.Errorf("level after SetBacklight(%v) = %s, want %s", tc.in, got, tc.want)
		}
		if got := d.backlight.currentDuty(); got != tc.wantDuty {
			t.Errorf("duty after SetBacklight(%v) = %v, want %v", tc.in, got, tc.wantDuty)
		}
	}
	if d.UsingHardwarePWM() {
		t.Error("UsingHardwarePWM() = true in on/off mode")
	}
}

func TestSetLED(t *testing.T) {
	pins := newDevPins()
	d := pins.open(t, nil)

	// The LED is wired active-low, so off means all three lines high.
	for _, p := range []*gpiotest.Pin{pins.ledR, pins.ledG, pins.ledB} {
		if got := p.Read(); got != gpio.High {
			t.Fatalf("initial %s level = %s, want %s", p, got, gpio.High)
		}
	}

	ledDuties := func() [3]float64 {
		var out [3]float64
		for i, c := range d.led {
			out[i] = c.currentDuty()
		}
		return out
	}

	if err := d.SetLED(0.25, 0.5, 0.75); err != nil {
		t.Fatalf("SetLED() failed: %v", err)
	}
	if diff := cmp.Diff(ledDuties(), [3]float64{0.25, 0.5, 0.75}); diff != "" {
		t.Errorf("duty difference (-got +want):\n%s", diff)
	}

	// Components clamp independently.
	if err := d.SetLED(-1, 0.5, 2); err != nil {
		t.Fatalf("SetLED() failed: %v", err)
	}
	if diff := cmp.Diff(ledDuties(), [3]float64{0, 0.5, 1}); diff != "" {
		t.Errorf("clamped duty difference (-got +want):\n%s", diff)
	}

	if err := d.SetLED(1, 0, 0); err != nil {
		t.Fatalf("SetLED() failed: %v", err)
	}
	if diff := cmp.Diff(ledDuties(), [3]float64{1, 0, 0}); diff != "" {
		t.Errorf("duty difference (-got +want):\n%s", diff)
	}
}

func TestHalt(t *testing.T) {
	pins := newDevPins()
	d := pins.open(t, &Opts{BacklightPWM: true})
	if err := d.SetLED(1, 0.5, 0); err != nil {
		t.Fatalf("SetLED() failed: %v", err)
	}

	if err := d.Halt(); err != nil {
		t.Fatalf("Halt() failed: %v", err)
	}
	// Backlight off, LED lines back at their idle high level.
	if got := pins.backlight.Read(); got != gpio.Low {
		t.Errorf("backlight level after Halt = %s, want %s", got, gpio.Low)
	}
	for _, p := range []*gpiotest.Pin{pins.ledR, pins.ledG, pins.ledB} {
		if got := p.Read(); got != gpio.High {
			t.Errorf("%s level after Halt = %s, want %s", p, got, gpio.High)
		}
	}

	if err := d.Halt(); err != nil {
		t.Fatalf("second Halt() failed: %v", err)
	}
	if err := d.SetBacklight(0.5); !errors.Is(err, errHalted) {
		t.Errorf("SetBacklight() after Halt = %v, want errHalted", err)
	}
	if err := d.SetLED(1, 1, 1); !errors.Is(err, errHalted) {
		t.Errorf("SetLED() after Halt = %v, want errHalted", err)
	}
	if d.ReadButton(ButtonA) {
		t.Error("ReadButton(A) = true after Halt, want false")
	}
	ch, cancel := d.Subscribe()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Error("Subscribe() after Halt returned an open channel")
	}
}

func TestDevButtons(t *testing.T) {
	clock := stubClock(t)
	pins := newDevPins()
	d := pins.open(t, nil)
	events := make(chan ButtonEvent, 16)
	d.OnButtonPressed(func(b Button, pressed bool) {
		events <- ButtonEvent{Button: b, Pressed: pressed}
	})

	// The pin order given to New fixes the button identities.
	pins.a.EdgesChan <- gpio.Low
	if diff := cmp.Diff(recvEvent(t, events), ButtonEvent{Button: ButtonA, Pressed: true}); diff != "" {
		t.Errorf("event difference (-got +want):\n%s", diff)
	}
	if !d.ReadButton(ButtonA) {
		t.Error("ReadButton(A) = false, want true")
	}
	pins.y.EdgesChan <- gpio.Low
	if diff := cmp.Diff(recvEvent(t, events), ButtonEvent{Button: ButtonY, Pressed: true}); diff != "" {
		t.Errorf("event difference (-got +want):\n%s", diff)
	}

	sub, cancel := d.Subscribe()
	defer cancel()
	clock.Advance(debounceWindow)
	pins.a.EdgesChan <- gpio.High
	want := ButtonEvent{Button: ButtonA, Pressed: false}
	if diff := cmp.Diff(recvEvent(t, events), want); diff != "" {
		t.Errorf("callback event difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(recvEvent(t, sub), want); diff != "" {
		t.Errorf("subscriber event difference (-got +want):\n%s", diff)
	}
	if d.ReadButton(ButtonA) {
		t.Error("ReadButton(A) = true after release, want false")
	}
}
