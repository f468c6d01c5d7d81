// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package displayhatmini

import (
	"errors"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// pwmMode selects how a channel drives its line.
type pwmMode int

const (
	// pwmDisabled drives the line as a plain on/off output.
	pwmDisabled pwmMode = iota
	// pwmKernel delegates to the host PWM driver behind gpio.PinOut.PWM.
	pwmKernel
	// pwmSoftware toggles the line from a timing goroutine.
	pwmSoftware
)

var errHalted = errors.New("halted")

// pwmChannel drives a single output line at a fixed frequency and a
// variable duty cycle. The stored duty cycle is the authoritative value;
// gpio.Duty is derived from it only when talking to the hardware.
type pwmChannel struct {
	pin       gpio.PinOut
	freq      physic.Frequency
	activeLow bool

	mu     sync.Mutex
	mode   pwmMode
	duty   float64
	halted bool

	// Software mode only.
	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// newPWMChannel opens a PWM channel on pin at the given frequency and
// initial duty cycle. With preferHardware set it probes the host PWM
// driver once; a probe failure is not an error, the channel silently runs
// in software mode instead. activeLow inverts the output phase for loads
// wired between the line and 3v3.
func newPWMChannel(pin gpio.PinOut, freq physic.Frequency, duty float64, preferHardware, activeLow bool) (*pwmChannel, error) {
	c := &pwmChannel{pin: pin, freq: freq, activeLow: activeLow, duty: clamp(duty)}
	if preferHardware {
		if err := pin.PWM(c.hwDuty(c.duty), freq); err == nil {
			c.mode = pwmKernel
			return c, nil
		}
	}
	c.mode = pwmSoftware
	if err := pin.Out(c.levelFor(c.duty)); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.startLoopLocked()
	c.mu.Unlock()
	return c, nil
}

// newOnOffChannel opens a channel that only ever drives the line fully on
// or fully off.
func newOnOffChannel(pin gpio.PinOut, on, activeLow bool) (*pwmChannel, error) {
	c := &pwmChannel{pin: pin, activeLow: activeLow, mode: pwmDisabled}
	if on {
		c.duty = 1
	}
	if err := pin.Out(c.levelFor(c.duty)); err != nil {
		return nil, err
	}
	return c, nil
}

// setDuty clamps v to [0, 1] and applies it. A hardware PWM failure after
// construction downgrades the channel to software mode at the stored duty;
// it is never surfaced to the caller.
func (c *pwmChannel) setDuty(v float64) error {
	v = clamp(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted {
		return errHalted
	}
	c.duty = v
	switch c.mode {
	case pwmKernel:
		if err := c.pin.PWM(c.hwDuty(v), c.freq); err == nil {
			return nil
		}
		c.mode = pwmSoftware
		c.startLoopLocked()
	case pwmSoftware:
		select {
		case c.kick <- struct{}{}:
		default:
		}
	case pwmDisabled:
		return c.pin.Out(c.levelFor(v))
	}
	return nil
}

// setOnOff is a degenerate duty cycle set to exactly 0.0 or 1.0.
func (c *pwmChannel) setOnOff(on bool) error {
	if on {
		return c.setDuty(1)
	}
	return c.setDuty(0)
}

func (c *pwmChannel) currentDuty() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duty
}

func (c *pwmChannel) currentMode() pwmMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// halt stops the timing goroutine if one is running and leaves the line at
// its off level. Safe to call more than once.
func (c *pwmChannel) halt() error {
	c.mu.Lock()
	if c.halted {
		c.mu.Unlock()
		return nil
	}
	c.halted = true
	stop := c.stop
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		c.wg.Wait()
	}
	if err := c.pin.Halt(); err != nil {
		return err
	}
	return c.pin.Out(c.offLevel())
}

// startLoopLocked starts the software toggle goroutine. c.mu must be held.
func (c *pwmChannel) startLoopLocked() {
	c.kick = make(chan struct{}, 1)
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.loop()
}

// loop toggles the line at the channel frequency. Duty cycles of exactly 0
// or 1 park the line at a steady level and wait for the next update.
func (c *pwmChannel) loop() {
	defer c.wg.Done()
	period := c.freq.Period()
	for {
		c.mu.Lock()
		duty := c.duty
		c.mu.Unlock()

		if duty <= 0 || duty >= 1 {
			l := c.offLevel()
			if duty >= 1 {
				l = c.onLevel()
			}
			_ = c.pin.Out(l)
			select {
			case <-c.stop:
				return
			case <-c.kick:
			}
			continue
		}

		on := time.Duration(duty * float64(period))
		_ = c.pin.Out(c.onLevel())
		select {
		case <-c.stop:
			return
		case <-c.kick:
			continue
		case <-time.After(on):
		}
		_ = c.pin.Out(c.offLevel())
		select {
		case <-c.stop:
			return
		case <-c.kick:
			continue
		case <-time.After(period - on):
		}
	}
}

func (c *pwmChannel) onLevel() gpio.Level {
	if c.activeLow {
		return gpio.Low
	}
	return gpio.High
}

func (c *pwmChannel) offLevel() gpio.Level {
	return !c.onLevel()
}

func (c *pwmChannel) levelFor(duty float64) gpio.Level {
	if duty > 0 {
		return c.onLevel()
	}
	return c.offLevel()
}

// hwDuty converts the stored [0, 1] duty cycle to the 24 bit gpio.Duty
// range, inverted for active-low loads.
func (c *pwmChannel) hwDuty(v float64) gpio.Duty {
	d := gpio.Duty(math.Round(v * float64(gpio.DutyMax)))
	if c.activeLow {
		d = gpio.DutyMax - d
	}
	return d
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
