// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package termhat emulates the GPIO surface of the Pimoroni Display HAT
// Mini on a terminal. The backlight and RGB LED render as ANSI colored
// blocks on a status line rewritten in place; button presses are injected
// with Press and Release.
//
// Useful while the board is in the mail: a displayhatmini.Dev opened on
// the termhat pins behaves like one opened on the real HAT, software
// backlight dimming included. Output lines are integrated over time, so
// a 2 kHz toggle shows up as perceived brightness instead of flicker.
package termhat

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/FireHawken/pimoroni-display-hat-mini/displayhatmini"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

const (
	// renderInterval caps how often the status line is rewritten. Output
	// pins toggle thousands of times per second under software PWM; the
	// terminal only needs a fresh line a few times per second.
	renderInterval = 50 * time.Millisecond

	backlightBarWidth = 8
)

var (
	nowFn   = time.Now
	afterFn = time.AfterFunc
)

// Opts represents the options available for the emulator.
type Opts struct {
	// W receives the rendered output. nil selects stdout.
	W io.Writer

	// Palette selects the ANSI palette. nil selects ansi256.Default.
	Palette *ansi256.Palette

	// Plain disables ANSI control sequences and prints one key=value
	// line per refresh instead. Selected automatically when W is nil and
	// stdout is not a terminal.
	Plain bool

	_ struct{}
}

// Dev is a Display HAT Mini emulator that outputs to the console.
type Dev struct {
	mu      sync.Mutex
	w       io.Writer
	palette ansi256.Palette
	plain   bool

	backlight        *outPin
	ledR, ledG, ledB *outPin
	btns             [4]*buttonPin

	buf        bytes.Buffer
	lastRender time.Time
	timer      *time.Timer
	halted     bool
}

// New returns a Dev that displays at the console.
//
// Permits local testing of backlight, LED and button handling.
func New(opts *Opts) *Dev {
	if opts == nil {
		opts = &Opts{}
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	plain := opts.Plain
	if w == nil {
		w = colorable.NewColorableStdout()
		if !isatty.IsTerminal(os.Stdout.Fd()) {
			plain = true
		}
	}
	d := &Dev{w: w, palette: *p, plain: plain}
	now := nowFn()
	d.backlight = newOutPin(d, "BL", 13, gpio.Low, now)
	d.ledR = newOutPin(d, "LED_R", 17, gpio.High, now)
	d.ledG = newOutPin(d, "LED_G", 27, gpio.High, now)
	d.ledB = newOutPin(d, "LED_B", 22, gpio.High, now)
	d.btns = [4]*buttonPin{
		newButtonPin(d, "A", 5),
		newButtonPin(d, "B", 6),
		newButtonPin(d, "X", 16),
		newButtonPin(d, "Y", 24),
	}
	return d
}

func (d *Dev) String() string {
	return "TermHAT"
}

// Backlight returns the backlight line.
func (d *Dev) Backlight() gpio.PinIO {
	return d.backlight
}

// LED returns the three LED lines. They are active-low like the board.
func (d *Dev) LED() (r, g, b gpio.PinIO) {
	return d.ledR, d.ledG, d.ledB
}

// Buttons returns the four button lines, pulled up and driven low while
// held.
func (d *Dev) Buttons() (a, b, x, y gpio.PinIO) {
	return d.btns[0], d.btns[1], d.btns[2], d.btns[3]
}

// Press injects a press edge on b.
func (d *Dev) Press(b displayhatmini.Button) error {
	return d.inject(b, gpio.Low)
}

// Release injects a release edge on b.
func (d *Dev) Release(b displayhatmini.Button) error {
	return d.inject(b, gpio.High)
}

func (d *Dev) inject(b displayhatmini.Button, l gpio.Level) error {
	if b < displayhatmini.ButtonA || b > displayhatmini.ButtonY {
		return fmt.Errorf("termhat: unknown button %s", b)
	}
	d.btns[b].inject(l)
	return nil
}

// Halt implements conn.Resource.
//
// It writes one last status line and restores the terminal attributes.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return nil
	}
	d.renderLocked(nowFn())
	d.halted = true
	if d.plain {
		return nil
	}
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

func (d *Dev) markDirty() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirtyLocked(nowFn())
}

// dirtyLocked renders immediately when the last render is old enough and
// otherwise schedules one trailing render, so a burst of line activity
// costs one rewrite. d.mu must be held.
func (d *Dev) dirtyLocked(now time.Time) {
	if d.halted {
		return
	}
	since := now.Sub(d.lastRender)
	if since >= renderInterval {
		d.renderLocked(now)
		return
	}
	if d.timer == nil {
		d.timer = afterFn(renderInterval-since, d.refresh)
	}
}

func (d *Dev) refresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timer = nil
	if d.halted {
		return
	}
	d.renderLocked(nowFn())
}

func (d *Dev) renderLocked(now time.Time) {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	bl := d.backlight.fractionLocked(now)
	// The LED lines sink current, so brightness is the share of time
	// spent low.
	r := 1 - d.ledR.fractionLocked(now)
	g := 1 - d.ledG.fractionLocked(now)
	b := 1 - d.ledB.fractionLocked(now)
	keys := make([]byte, 4)
	for i, p := range d.btns {
		keys[i] = '-'
		if p.Read() == gpio.Low {
			keys[i] = "ABXY"[i]
		}
	}

	// This code is designed to minimize the amount of memory allocated
	// per call.
	d.buf.Reset()
	if d.plain {
		fmt.Fprintf(&d.buf, "backlight=%.2f led=%.2f,%.2f,%.2f keys=%s\n", bl, r, g, b, keys)
	} else {
		_, _ = d.buf.WriteString("\r\033[0mBL:")
		gray := uint8(math.Round(255 * bl))
		blk := d.palette.Block(color.NRGBA{R: gray, G: gray, B: gray, A: 255})
		for i := 0; i < backlightBarWidth; i++ {
			_, _ = io.WriteString(&d.buf, blk)
		}
		_, _ = d.buf.WriteString("\033[0m LED:")
		lc := d.palette.Block(color.NRGBA{
			R: uint8(math.Round(255 * r)),
			G: uint8(math.Round(255 * g)),
			B: uint8(math.Round(255 * b)),
			A: 255,
		})
		_, _ = io.WriteString(&d.buf, lc)
		_, _ = io.WriteString(&d.buf, lc)
		_, _ = d.buf.WriteString("\033[0m keys:")
		_, _ = d.buf.Write(keys)
		_, _ = d.buf.WriteString(" ")
	}
	_, _ = d.buf.WriteTo(d.w)
	d.lastRender = now
}

var _ conn.Resource = &Dev{}
var _ fmt.Stringer = &Dev{}
