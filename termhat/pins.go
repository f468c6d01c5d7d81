// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package termhat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

var errInputOnly = errors.New("termhat: button pins are inputs")

type lineMode int

const (
	lineOut lineMode = iota
	linePWM
)

// outPin is a fake output line. It records level changes with timestamps
// so the device can integrate how long the line spent high; a 2 kHz
// software toggle then renders as its perceived brightness instead of
// flicker.
type outPin struct {
	d      *Dev
	name   string
	number int

	// Guarded by d.mu.
	mode        lineMode
	level       gpio.Level
	duty        gpio.Duty
	freq        physic.Frequency
	highFor     time.Duration
	lastChange  time.Time
	windowStart time.Time
}

func newOutPin(d *Dev, name string, number int, level gpio.Level, now time.Time) *outPin {
	return &outPin{d: d, name: name, number: number, level: level, lastChange: now, windowStart: now}
}

func (p *outPin) Name() string {
	return p.name
}

func (p *outPin) Number() int {
	return p.number
}

func (p *outPin) String() string {
	return fmt.Sprintf("%s(%d)", p.name, p.number)
}

func (p *outPin) Function() string {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	if p.mode == linePWM {
		return "PWM"
	}
	return "Out"
}

func (p *outPin) DefaultPull() gpio.Pull {
	return gpio.Float
}

func (p *outPin) Pull() gpio.Pull {
	return gpio.Float
}

func (p *outPin) In(pull gpio.Pull, edge gpio.Edge) error {
	return errors.New("termhat: output pins cannot be used as inputs")
}

func (p *outPin) Read() gpio.Level {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	return p.level
}

func (p *outPin) WaitForEdge(timeout time.Duration) bool {
	return false
}

func (p *outPin) Out(l gpio.Level) error {
	d := p.d
	d.mu.Lock()
	defer d.mu.Unlock()
	now := nowFn()
	p.sampleLocked(now)
	p.mode = lineOut
	p.level = l
	d.dirtyLocked(now)
	return nil
}

func (p *outPin) PWM(duty gpio.Duty, f physic.Frequency) error {
	d := p.d
	d.mu.Lock()
	defer d.mu.Unlock()
	now := nowFn()
	p.sampleLocked(now)
	p.mode = linePWM
	p.duty = duty
	p.freq = f
	d.dirtyLocked(now)
	return nil
}

func (p *outPin) Halt() error {
	d := p.d
	d.mu.Lock()
	defer d.mu.Unlock()
	now := nowFn()
	p.sampleLocked(now)
	p.mode = lineOut
	p.level = gpio.Low
	d.dirtyLocked(now)
	return nil
}

// sampleLocked folds the time since the last change into the high-time
// accumulator. d.mu must be held.
func (p *outPin) sampleLocked(now time.Time) {
	if p.mode == lineOut && p.level == gpio.High {
		p.highFor += now.Sub(p.lastChange)
	}
	p.lastChange = now
}

// fractionLocked returns the share of the current observation window the
// line spent high and starts a new window. d.mu must be held.
func (p *outPin) fractionLocked(now time.Time) float64 {
	if p.mode == linePWM {
		return float64(p.duty) / float64(gpio.DutyMax)
	}
	p.sampleLocked(now)
	window := now.Sub(p.windowStart)
	high := p.highFor
	p.highFor = 0
	p.windowStart = now
	if window <= 0 {
		if p.level == gpio.High {
			return 1
		}
		return 0
	}
	return float64(high) / float64(window)
}

// buttonPin is a fake button line, pulled up and driven low while the
// button is held. Press and Release on the device inject the edges.
type buttonPin struct {
	d      *Dev
	name   string
	number int
	edges  chan gpio.Level

	mu    sync.Mutex
	level gpio.Level
	pull  gpio.Pull
}

func newButtonPin(d *Dev, name string, number int) *buttonPin {
	return &buttonPin{
		d:      d,
		name:   name,
		number: number,
		edges:  make(chan gpio.Level, 16),
		level:  gpio.High,
		pull:   gpio.PullUp,
	}
}

func (p *buttonPin) Name() string {
	return p.name
}

func (p *buttonPin) Number() int {
	return p.number
}

func (p *buttonPin) String() string {
	return fmt.Sprintf("%s(%d)", p.name, p.number)
}

func (p *buttonPin) Function() string {
	return "In"
}

func (p *buttonPin) DefaultPull() gpio.Pull {
	return gpio.PullUp
}

func (p *buttonPin) Pull() gpio.Pull {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pull
}

func (p *buttonPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	p.pull = pull
	if pull == gpio.PullUp {
		p.level = gpio.High
	} else if pull == gpio.PullDown {
		p.level = gpio.Low
	}
	p.mu.Unlock()
	// Edges injected before the line was configured are stale.
	for {
		select {
		case <-p.edges:
		default:
			return nil
		}
	}
}

func (p *buttonPin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *buttonPin) WaitForEdge(timeout time.Duration) bool {
	var l gpio.Level
	if timeout < 0 {
		l = <-p.edges
	} else {
		select {
		case <-time.After(timeout):
			return false
		case l = <-p.edges:
		}
	}
	p.mu.Lock()
	p.level = l
	p.mu.Unlock()
	p.d.markDirty()
	return true
}

func (p *buttonPin) Out(l gpio.Level) error {
	return errInputOnly
}

func (p *buttonPin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return errInputOnly
}

func (p *buttonPin) Halt() error {
	return nil
}

// inject queues an edge. A full queue drops the edge rather than block.
func (p *buttonPin) inject(l gpio.Level) {
	select {
	case p.edges <- l:
	default:
	}
}

var _ gpio.PinIO = &outPin{}
var _ gpio.PinIO = &buttonPin{}
