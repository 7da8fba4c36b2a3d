// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// FAKE PAGE
// =============================================================================

type fakeStream struct {
	url string
	ctx context.Context
	ch  chan PageMessage
}

func (s *fakeStream) data(payload string) {
	s.ch <- PageMessage{Type: MessageData, Payload: payload}
}

func (s *fakeStream) end(kind string) {
	s.ch <- PageMessage{Type: kind}
}

type fakePage struct {
	mu       sync.Mutex
	loadErr  error
	loadGate chan struct{}
	loads    int
	closed   bool
	opened   chan *fakeStream
}

func newFakePage() *fakePage {
	return &fakePage{opened: make(chan *fakeStream, 8)}
}

func (p *fakePage) Load(ctx context.Context) error {
	p.mu.Lock()
	p.loads++
	gate, err := p.loadGate, p.loadErr
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *fakePage) Stream(ctx context.Context, url string) (<-chan PageMessage, error) {
	s := &fakeStream{url: url, ctx: ctx, ch: make(chan PageMessage, 16)}
	p.opened <- s
	return s.ch, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePage) loadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

func waitStream(t *testing.T, p *fakePage) *fakeStream {
	t.Helper()
	select {
	case s := <-p.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream to open")
		return nil
	}
}

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, ok := sub.Next(ctx)
	if !ok {
		t.Fatal("subscription ended before expected event")
	}
	return ev
}

func expectEnded(t *testing.T, sub *Subscription) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ev, ok := sub.Next(ctx); ok {
		t.Fatalf("unexpected event after end: %+v", ev)
	}
	if ctx.Err() != nil {
		t.Fatal("subscription did not end")
	}
}

// =============================================================================
// TERMINATION RULE
// =============================================================================

func TestBridge_TokensThenDone(t *testing.T) {
	page := newFakePage()
	b := NewBridge(page, Options{})
	defer b.Close()

	sub := b.Open("http://svc/stream?prompt=hi")
	s := waitStream(t, page)
	if s.url != "http://svc/stream?prompt=hi" {
		t.Errorf("url = %q", s.url)
	}

	s.data(`{"tokenText":"Hel"}`)
	s.data(`{"tokenText":"lo","conversationHistoryId":7}`)
	s.end(MessageDone)

	if ev := nextEvent(t, sub); ev.Kind != EventToken || ev.Token != "Hel" {
		t.Errorf("event 1 = %+v, want token Hel", ev)
	}
	if ev := nextEvent(t, sub); ev.Kind != EventToken || ev.Token != "lo" {
		t.Errorf("event 2 = %+v, want token lo", ev)
	}
	ev := nextEvent(t, sub)
	if ev.Kind != EventDone {
		t.Fatalf("event 3 kind = %v, want done", ev.Kind)
	}
	if ev.HistoryID == nil || *ev.HistoryID != 7 {
		t.Errorf("HistoryID = %v, want 7", ev.HistoryID)
	}
	expectEnded(t, sub)
}

func TestBridge_ErrorSignalAfterTokensIsDone(t *testing.T) {
	page := newFakePage()
	b := NewBridge(page, Options{})
	defer b.Close()

	sub := b.Open("u")
	s := waitStream(t, page)
	s.data(`{"tokenText":"x"}`)
	s.end(MessageError)

	nextEvent(t, sub)
	ev := nextEvent(t, sub)
	if ev.Kind != EventDone {
		t.Errorf("kind = %v, want done", ev.Kind)
	}
	if ev.HistoryID != nil {
		t.Errorf("HistoryID = %v, want nil", *ev.HistoryID)
	}
}

func TestBridge_ZeroTokensIsError(t *testing.T) {
	for _, signal := range []string{MessageDone, MessageError} {
		t.Run(signal, func(t *testing.T) {
			page := newFakePage()
			b := NewBridge(page, Options{})
			defer b.Close()

			sub := b.Open("u")
			s := waitStream(t, page)
			s.data(`{"conversationHistoryId":3}`)
			s.end(signal)

			ev := nextEvent(t, sub)
			if ev.Kind != EventError {
				t.Fatalf("kind = %v, want error", ev.Kind)
			}
			if !errors.Is(ev.Err, ErrNoData) {
				t.Errorf("err = %v, want ErrNoData", ev.Err)
			}
			expectEnded(t, sub)
		})
	}
}

func TestBridge_MalformedPayloadSkipped(t *testing.T) {
	page := newFakePage()
	b := NewBridge(page, Options{})
	defer b.Close()

	sub := b.Open("u")
	s := waitStream(t, page)
	s.data(`not json`)
	s.data(`{"tokenText":"ok"}`)
	s.end(MessageDone)

	if ev := nextEvent(t, sub); ev.Token != "ok" {
		t.Errorf("token = %q, want ok", ev.Token)
	}
	if ev := nextEvent(t, sub); ev.Kind != EventDone {
		t.Errorf("kind = %v, want done", ev.Kind)
	}
}

func TestBridge_PageClosesChannelWithoutSignal(t *testing.T) {
	page := newFakePage()
	b := NewBridge(page, Options{})
	defer b.Close()

	sub := b.Open("u")
	s := waitStream(t, page)
	s.data(`{"tokenText":"a"}`)
	close(s.ch)

	nextEvent(t, sub)
	if ev := nextEvent(t, sub); ev.Kind != EventDone {
		t.Errorf("kind = %v, want done", ev.Kind)
	}
}

// =============================================================================
// PAGE READINESS
// =============================================================================

func TestBridge_QueuesUntilPageReady(t *testing.T) {
	page := newFakePage()
	page.loadGate = make(chan struct{})
	b := NewBridge(page, Options{})
	defer b.Close()

	sub := b.Open("queued")

	select {
	case <-page.opened:
		t.Fatal("stream opened before page was ready")
	case <-time.After(50 * time.Millisecond):
	}

	close(page.loadGate)
	s := waitStream(t, page)
	if s.url != "queued" {
		t.Errorf("url = %q, want queued", s.url)
	}
	s.data(`{"tokenText":"t"}`)
	s.end(MessageDone)
	nextEvent(t, sub)
	if ev := nextEvent(t, sub); ev.Kind != EventDone {
		t.Errorf("kind = %v, want done", ev.Kind)
	}
}

func TestBridge_NewerOpenReplacesQueuedRelay(t *testing.T) {
	page := newFakePage()
	page.loadGate = make(chan struct{})
	b := NewBridge(page, Options{})
	defer b.Close()

	first := b.Open("first")
	second := b.Open("second")
	close(page.loadGate)

	s := waitStream(t, page)
	if s.url != "second" {
		t.Errorf("url = %q, want second", s.url)
	}
	expectEnded(t, first)

	s.data(`{"tokenText":"t"}`)
	s.end(MessageDone)
	nextEvent(t, second)
	if page.loadCount() != 1 {
		t.Errorf("loads = %d, want 1", page.loadCount())
	}
}

func TestBridge_LoadFailureFailsRelayAndRetries(t *testing.T) {
	page := newFakePage()
	page.loadErr = errors.New("navigation failed")
	b := NewBridge(page, Options{})
	defer b.Close()

	sub := b.Open("u")
	ev := nextEvent(t, sub)
	if ev.Kind != EventError || !errors.Is(ev.Err, ErrPageLoad) {
		t.Fatalf("event = %+v, want page load error", ev)
	}
	expectEnded(t, sub)

	page.mu.Lock()
	page.loadErr = nil
	page.mu.Unlock()

	sub = b.Open("u2")
	s := waitStream(t, page)
	if s.url != "u2" {
		t.Errorf("url = %q, want u2", s.url)
	}
	if page.loadCount() != 2 {
		t.Errorf("loads = %d, want 2", page.loadCount())
	}
	s.end(MessageDone)
	if ev := nextEvent(t, sub); ev.Kind != EventError {
		t.Errorf("kind = %v, want error", ev.Kind)
	}
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestBridge_OpenSupersedesActiveRelay(t *testing.T) {
	page := newFakePage()
	b := NewBridge(page, Options{})
	defer b.Close()

	first := b.Open("a")
	sa := waitStream(t, page)
	sa.data(`{"tokenText":"a1"}`)
	nextEvent(t, first)

	second := b.Open("b")
	sb := waitStream(t, page)

	select {
	case <-sa.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("superseded stream was not cancelled")
	}
	expectEnded(t, first)

	sb.data(`{"tokenText":"b1"}`)
	sb.end(MessageDone)
	if ev := nextEvent(t, second); ev.Token != "b1" {
		t.Errorf("token = %q, want b1", ev.Token)
	}
}

func TestSubscription_CancelStopsDelivery(t *testing.T) {
	page := newFakePage()
	b := NewBridge(page, Options{})
	defer b.Close()

	sub := b.Open("u")
	s := waitStream(t, page)
	s.data(`{"tokenText":"one"}`)
	nextEvent(t, sub)

	s.data(`{"tokenText":"two"}`)
	sub.Cancel()
	sub.Cancel()

	if ev, ok := sub.Next(context.Background()); ok {
		t.Errorf("event after cancel: %+v", ev)
	}
	select {
	case <-s.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream context not cancelled")
	}
}

func TestBridge_IdleTimeout(t *testing.T) {
	page := newFakePage()
	b := NewBridge(page, Options{IdleTimeout: 50 * time.Millisecond})
	defer b.Close()

	sub := b.Open("u")
	s := waitStream(t, page)
	s.data(`{"tokenText":"slow"}`)
	nextEvent(t, sub)

	ev := nextEvent(t, sub)
	if ev.Kind != EventError || !errors.Is(ev.Err, ErrIdleTimeout) {
		t.Errorf("event = %+v, want idle timeout error", ev)
	}
	waitReleased(t, s)
}

func TestBridge_FinishedRelayReleasesPageStream(t *testing.T) {
	page := newFakePage()
	b := NewBridge(page, Options{})
	defer b.Close()

	sub := b.Open("u")
	s := waitStream(t, page)
	s.data(`{"tokenText":"hi"}`)
	s.end(MessageDone)

	nextEvent(t, sub)
	if ev := nextEvent(t, sub); ev.Kind != EventDone {
		t.Fatalf("event = %+v, want done", ev)
	}
	waitReleased(t, s)
}

// waitReleased fails unless the page stream's context is cancelled.
func waitReleased(t *testing.T, s *fakeStream) {
	t.Helper()
	select {
	case <-s.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("page stream context still live after the relay ended")
	}
}

func TestBridge_OpenAfterClose(t *testing.T) {
	page := newFakePage()
	b := NewBridge(page, Options{})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !page.closed {
		t.Error("page not closed")
	}

	sub := b.Open("u")
	ev := nextEvent(t, sub)
	if ev.Kind != EventError || !errors.Is(ev.Err, ErrBridgeClosed) {
		t.Errorf("event = %+v, want bridge closed error", ev)
	}
}

func TestSubscription_All(t *testing.T) {
	page := newFakePage()
	b := NewBridge(page, Options{})
	defer b.Close()

	sub := b.Open("u")
	s := waitStream(t, page)
	s.data(`{"tokenText":"a"}`)
	s.data(`{"tokenText":"b"}`)
	s.end(MessageDone)

	var kinds []EventKind
	text := ""
	for ev := range sub.All() {
		kinds = append(kinds, ev.Kind)
		text += ev.Token
	}
	if text != "ab" {
		t.Errorf("text = %q, want ab", text)
	}
	if len(kinds) != 3 || kinds[2] != EventDone {
		t.Errorf("kinds = %v", kinds)
	}
}
