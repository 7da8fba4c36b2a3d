// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts.
const (
	DefaultIdleTimeout = 90 * time.Second
	DefaultLoadTimeout = 30 * time.Second
)

// relayBuffer is the per-subscription event buffer.
const relayBuffer = 64

// Options configures a Bridge.
type Options struct {
	// IdleTimeout ends a relay with an error when no message arrives for
	// this long. Zero means DefaultIdleTimeout, negative disables it.
	IdleTimeout time.Duration

	// LoadTimeout bounds Page.Load. Zero means DefaultLoadTimeout.
	LoadTimeout time.Duration

	Logger *slog.Logger
}

// =============================================================================
// BRIDGE
// =============================================================================

// Bridge owns a Page and runs at most one relay at a time. All state is
// owned by a single goroutine; public methods post commands to it.
type Bridge struct {
	page Page
	opts Options
	log  *slog.Logger

	root   context.Context
	stop   context.CancelFunc
	cmds   chan bridgeCmd
	quit   chan struct{}
	done   chan struct{}
	nextID atomic.Uint64

	closeOnce sync.Once
}

type bridgeCmd interface{ isBridgeCmd() }

type openCmd struct{ r *relay }
type cancelCmd struct{ id uint64 }
type loadedCmd struct{ err error }
type finishedCmd struct {
	id       uint64
	pageLost bool
}

func (openCmd) isBridgeCmd()     {}
func (cancelCmd) isBridgeCmd()   {}
func (loadedCmd) isBridgeCmd()   {}
func (finishedCmd) isBridgeCmd() {}

// NewBridge creates a bridge over page and starts its goroutine. The page is
// loaded lazily on the first Open.
func NewBridge(page Page, opts Options) *Bridge {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	root, stop := context.WithCancel(context.Background())
	b := &Bridge{
		page: page,
		opts: opts,
		log:  logger.With("component", "stream"),
		root: root,
		stop: stop,
		cmds: make(chan bridgeCmd),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go b.loop()
	return b
}

// Open starts relaying the event stream at url. Any relay still running is
// cancelled first. If the page is not ready yet the relay is queued and
// starts once loading completes; a newer Open replaces a queued relay.
func (b *Bridge) Open(url string) *Subscription {
	ctx, cancel := context.WithCancel(b.root)
	r := &relay{
		id:     b.nextID.Add(1),
		url:    url,
		ctx:    ctx,
		cancel: cancel,
		ch:     make(chan Event, relayBuffer),
	}
	sub := &Subscription{r: r, b: b}

	select {
	case b.cmds <- openCmd{r: r}:
	case <-b.quit:
		r.fail(ErrBridgeClosed)
	}
	return sub
}

// Close cancels any relay, stops the bridge goroutine and closes the page.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.quit)
		b.stop()
		<-b.done
		err = b.page.Close()
	})
	return err
}

func (b *Bridge) post(cmd bridgeCmd) {
	select {
	case b.cmds <- cmd:
	case <-b.quit:
	}
}

func (b *Bridge) loop() {
	defer close(b.done)

	var (
		ready   bool
		loading bool
		active  *relay
		pending *relay
	)

	for {
		select {
		case <-b.quit:
			if active != nil {
				active.cancel()
			}
			if pending != nil {
				pending.fail(ErrBridgeClosed)
			}
			return

		case cmd := <-b.cmds:
			switch c := cmd.(type) {
			case openCmd:
				if active != nil {
					b.log.Debug("RELAY_SUPERSEDED", "relay", active.id)
					active.cancel()
					active = nil
				}
				if pending != nil {
					pending.abort()
					pending = nil
				}
				if c.r.ctx.Err() != nil {
					// Cancelled before the bridge saw it.
					c.r.abort()
					continue
				}
				if ready {
					active = c.r
					b.start(c.r)
					continue
				}
				pending = c.r
				if !loading {
					loading = true
					b.load()
				}

			case loadedCmd:
				loading = false
				if c.err != nil {
					b.log.Warn("PAGE_LOAD_FAILED", "error", c.err)
					if pending != nil {
						pending.fail(errors.Join(ErrPageLoad, c.err))
						pending = nil
					}
					continue
				}
				ready = true
				b.log.Info("PAGE_READY")
				if pending != nil {
					active = pending
					pending = nil
					b.start(active)
				}

			case cancelCmd:
				if active != nil && active.id == c.id {
					active.cancel()
					active = nil
				}
				if pending != nil && pending.id == c.id {
					pending.abort()
					pending = nil
				}

			case finishedCmd:
				if active != nil && active.id == c.id {
					active = nil
				}
				if c.pageLost {
					b.log.Warn("PAGE_LOST", "relay", c.id)
					ready = false
				}
			}
		}
	}
}

func (b *Bridge) load() {
	go func() {
		ctx, cancel := context.WithTimeout(b.root, b.opts.LoadTimeout)
		defer cancel()
		b.post(loadedCmd{err: b.page.Load(ctx)})
	}()
}

func (b *Bridge) start(r *relay) {
	b.log.Debug("RELAY_OPEN", "relay", r.id)
	go b.run(r)
}

// run drives one relay. It is the only writer of r.ch once started. The
// relay context is cancelled on every exit so the page releases its stream.
func (b *Bridge) run(r *relay) {
	pageLost := false
	defer func() {
		r.cancel()
		close(r.ch)
		b.post(finishedCmd{id: r.id, pageLost: pageLost})
	}()

	msgs, err := b.page.Stream(r.ctx, r.url)
	if err != nil {
		if r.ctx.Err() != nil {
			return
		}
		b.log.Warn("RELAY_REFUSED", "relay", r.id, "error", err)
		pageLost = true
		r.send(Event{Kind: EventError, Err: errors.Join(ErrStreamRefused, err)})
		return
	}

	var idle <-chan time.Time
	var timer *time.Timer
	if b.opts.IdleTimeout > 0 {
		timer = time.NewTimer(b.opts.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	tokens := 0
	var historyID *int64

	finish := func() {
		if tokens > 0 {
			r.send(Event{Kind: EventDone, HistoryID: historyID})
			return
		}
		r.send(Event{Kind: EventError, Err: ErrNoData})
	}

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-idle:
			b.log.Warn("RELAY_IDLE_TIMEOUT", "relay", r.id, "tokens", tokens)
			r.send(Event{Kind: EventError, Err: ErrIdleTimeout})
			return

		case m, ok := <-msgs:
			if !ok {
				if r.ctx.Err() == nil {
					finish()
				}
				return
			}
			if timer != nil {
				timer.Reset(b.opts.IdleTimeout)
			}

			switch m.Type {
			case MessageData:
				p, ok := ParsePayload(m.Payload)
				if !ok {
					b.log.Debug("RELAY_BAD_PAYLOAD", "relay", r.id)
					continue
				}
				if p.HistoryID != nil {
					historyID = p.HistoryID
				}
				if p.TokenText == "" {
					continue
				}
				tokens++
				if !r.send(Event{Kind: EventToken, Token: p.TokenText}) {
					return
				}
			case MessageDone, MessageError:
				b.log.Debug("RELAY_END", "relay", r.id, "signal", m.Type, "tokens", tokens)
				finish()
				return
			}
		}
	}
}

// =============================================================================
// RELAY / SUBSCRIPTION
// =============================================================================

type relay struct {
	id     uint64
	url    string
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan Event

	cancelled atomic.Bool
}

func (r *relay) send(ev Event) bool {
	select {
	case r.ch <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// fail reports err on a relay that never started and closes it.
func (r *relay) fail(err error) {
	r.ch <- Event{Kind: EventError, Err: err}
	close(r.ch)
	r.cancel()
}

// abort closes a relay that never started without reporting anything.
func (r *relay) abort() {
	r.cancel()
	close(r.ch)
}

// Subscription is the consumer side of one relay.
type Subscription struct {
	r *relay
	b *Bridge
}

// ID returns the relay id, unique per bridge.
func (s *Subscription) ID() uint64 { return s.r.id }

// Next blocks until the next event. It reports false once the relay is over
// or has been cancelled; nothing is delivered after Cancel returns.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	if s.r.cancelled.Load() {
		return Event{}, false
	}
	select {
	case ev, ok := <-s.r.ch:
		if !ok || s.r.cancelled.Load() {
			return Event{}, false
		}
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}

// All yields events until the terminal one.
func (s *Subscription) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, ok := s.Next(context.Background())
			if !ok || !yield(ev) || ev.IsTerminal() {
				return
			}
		}
	}
}

// Cancel stops the relay and closes its connection. Safe to call more than
// once and after the relay finished.
func (s *Subscription) Cancel() {
	if s.r.cancelled.Swap(true) {
		return
	}
	s.r.cancel()
	s.b.post(cancelCmd{id: s.r.id})
}
