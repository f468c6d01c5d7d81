// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package displayhatmini

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Button identifies one of the four face buttons.
type Button int

const (
	ButtonA Button = iota
	ButtonB
	ButtonX
	ButtonY
)

func (b Button) String() string {
	switch b {
	case ButtonA:
		return "A"
	case ButtonB:
		return "B"
	case ButtonX:
		return "X"
	case ButtonY:
		return "Y"
	}
	return fmt.Sprintf("Button(%d)", int(b))
}

// ButtonEvent is a single accepted, debounced transition on one button.
type ButtonEvent struct {
	Button  Button
	Pressed bool
}

const (
	// debounceWindow is the minimum time between accepted transitions on
	// the same button. Edges closer together than this are contact bounce.
	debounceWindow = 10 * time.Millisecond

	// edgeTimeout bounds each edge wait so a stopped watcher exits
	// promptly.
	edgeTimeout = 50 * time.Millisecond

	// subscriberBuffer is the per-subscriber event backlog. A subscriber
	// that falls further behind loses events instead of stalling delivery.
	subscriberBuffer = 16
)

var nowFn = time.Now

// buttonDispatcher converts raw edges on the four button lines into
// debounced events. One watcher goroutine per line feeds a single dispatch
// goroutine, so transitions on the same button reach the callback in the
// order they occurred.
type buttonDispatcher struct {
	pins    [4]gpio.PinIn
	pressed [4]atomic.Bool

	events chan ButtonEvent
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	mu       sync.Mutex
	callback func(Button, bool)
	subs     []chan ButtonEvent
	stopped  bool

	debounce time.Duration
}

// newButtonDispatcher configures the four lines as pulled-up inputs with
// both-edge detection and starts monitoring them.
func newButtonDispatcher(a, b, x, y gpio.PinIn) (*buttonDispatcher, error) {
	d := &buttonDispatcher{
		pins:     [4]gpio.PinIn{a, b, x, y},
		events:   make(chan ButtonEvent, 16),
		quit:     make(chan struct{}),
		debounce: debounceWindow,
	}
	for i, p := range d.pins {
		if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
			return nil, err
		}
		// Pressed pulls the line low.
		d.pressed[i].Store(p.Read() == gpio.Low)
	}
	for i := range d.pins {
		d.wg.Add(1)
		go d.watch(Button(i))
	}
	d.wg.Add(1)
	go d.dispatch()
	return d, nil
}

// read returns the last debounced state of b. It never blocks.
func (d *buttonDispatcher) read(b Button) bool {
	if b < ButtonA || b > ButtonY {
		return false
	}
	return d.pressed[b].Load()
}

// setCallback replaces the registered callback. nil clears it.
func (d *buttonDispatcher) setCallback(fn func(Button, bool)) {
	d.mu.Lock()
	d.callback = fn
	d.mu.Unlock()
}

// subscribe returns a channel of debounced events and a cancel func. The
// channel is closed on cancel and when the dispatcher stops.
func (d *buttonDispatcher) subscribe() (<-chan ButtonEvent, func()) {
	ch := make(chan ButtonEvent, subscriberBuffer)
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	d.subs = append(d.subs, ch)
	d.mu.Unlock()

	cancel := func() {
		d.mu.Lock()
		found := false
		for i, s := range d.subs {
			if s == ch {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				found = true
				break
			}
		}
		d.mu.Unlock()
		if found {
			close(ch)
		}
	}
	return ch, cancel
}

// stop ends all monitoring. Once it returns no callback invocation can
// begin and every subscriber channel is closed. Must not be called from
// the callback itself.
func (d *buttonDispatcher) stop() {
	d.once.Do(func() {
		close(d.quit)
		d.wg.Wait()
		d.mu.Lock()
		d.stopped = true
		subs := d.subs
		d.subs = nil
		d.mu.Unlock()
		for _, s := range subs {
			close(s)
		}
	})
}

// watch accepts at most one transition per debounce window on a single
// button, resynchronizing the debounced state from the line on every
// accepted edge.
func (d *buttonDispatcher) watch(b Button) {
	defer d.wg.Done()
	pin := d.pins[b]
	var lastAccepted time.Time
	for {
		select {
		case <-d.quit:
			return
		default:
		}
		if !pin.WaitForEdge(edgeTimeout) {
			continue
		}
		now := nowFn()
		if !lastAccepted.IsZero() && now.Sub(lastAccepted) < d.debounce {
			continue
		}
		lastAccepted = now
		pressed := pin.Read() == gpio.Low
		d.pressed[b].Store(pressed)
		select {
		case d.events <- ButtonEvent{Button: b, Pressed: pressed}:
		case <-d.quit:
			return
		}
	}
}

func (d *buttonDispatcher) dispatch() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case ev := <-d.events:
			d.deliver(ev)
		}
	}
}

func (d *buttonDispatcher) deliver(ev ButtonEvent) {
	d.mu.Lock()
	for _, s := range d.subs {
		select {
		case s <- ev:
		default:
		}
	}
	cb := d.callback
	d.mu.Unlock()
	if cb != nil {
		cb(ev.Button, ev.Pressed)
	}
}
