// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// bindingName is the page-global function the stream script posts through.
const bindingName = "__chatlinkRelay"

// closeScriptTimeout bounds the script that closes a cancelled EventSource.
const closeScriptTimeout = 2 * time.Second

// openScript opens an EventSource for one stream id and posts every message
// through the binding. An error while the source is CLOSED (readyState 2) is
// a failure; any other error is how the backend ends a stream.
const openScript = `(function() {
  var id = %[1]s;
  var post = function(type, payload) {
    window.%[3]s(JSON.stringify({stream: id, type: type, payload: payload || ""}));
  };
  var sources = window.__chatlinkSources = window.__chatlinkSources || {};
  try {
    var source = new EventSource(%[2]s);
    sources[id] = source;
    source.onmessage = function(e) { post("data", e.data); };
    source.onerror = function() {
      post(source.readyState === 2 ? "error" : "done");
      source.close();
      delete sources[id];
    };
  } catch (err) {
    post("error");
  }
  return true;
})()`

const closeScript = `(function() {
  var sources = window.__chatlinkSources || {};
  var source = sources[%[1]s];
  if (source) { source.close(); delete sources[%[1]s]; }
  return true;
})()`

// BrowserPageOptions configures a BrowserPage.
type BrowserPageOptions struct {
	// Origin is navigated to on Load so streams run same-origin.
	Origin    string
	UserAgent string
	Headless  bool

	// ExecPath overrides browser discovery.
	ExecPath string

	Logger *slog.Logger
}

// BrowserPage runs event streams inside a headless Chrome tab driven over
// the DevTools protocol.
type BrowserPage struct {
	opts BrowserPageOptions
	log  *slog.Logger

	mu          sync.Mutex
	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	streamsMu sync.Mutex
	streams   map[string]*mailbox
	seq       uint64
}

// NewBrowserPage creates a BrowserPage. No browser starts until Load.
func NewBrowserPage(opts BrowserPageOptions) *BrowserPage {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserPage{
		opts:    opts,
		log:     logger.With("component", "browser"),
		streams: make(map[string]*mailbox),
	}
}

// Load starts the browser, installs the binding and navigates to the
// origin. A page that is still alive is not reloaded.
func (p *BrowserPage) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tab != nil && p.tab.Err() == nil {
		return nil
	}
	p.shutdownLocked()

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if p.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(p.opts.UserAgent))
	}
	if !p.opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if p.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(p.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)
	chromedp.ListenTarget(tab, p.onTargetEvent)

	// The first Run binds the browser lifetime to tab, so it gets no deadline.
	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	p.tab, p.tabCancel, p.allocCancel = tab, tabCancel, allocCancel

	actions := []chromedp.Action{runtime.AddBinding(bindingName)}
	if p.opts.Origin != "" {
		actions = append(actions, chromedp.Navigate(p.opts.Origin))
	}
	if err := runBounded(ctx, tab, actions...); err != nil {
		p.shutdownLocked()
		return fmt.Errorf("failed to load %s: %w", p.opts.Origin, err)
	}

	p.log.Info("BROWSER_READY", "origin", p.opts.Origin)
	return nil
}

// Stream injects an EventSource for url into the tab.
func (p *BrowserPage) Stream(ctx context.Context, url string) (<-chan PageMessage, error) {
	p.streamsMu.Lock()
	p.seq++
	id := fmt.Sprintf("s%d", p.seq)
	box := newMailbox()
	p.streams[id] = box
	p.streamsMu.Unlock()

	idJS, _ := json.Marshal(id)
	urlJS, _ := json.Marshal(url)

	var ok bool
	script := fmt.Sprintf(openScript, idJS, urlJS, bindingName)
	if err := p.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		p.unregister(id)
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	out := make(chan PageMessage, relayBuffer)
	go func() {
		defer close(out)
		defer p.unregister(id)

		for {
			m, more := box.next(ctx)
			if !more {
				p.closeSource(idJS)
				return
			}
			select {
			case out <- m:
			case <-ctx.Done():
				p.closeSource(idJS)
				return
			}
			if m.IsTerminal() {
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the browser down.
func (p *BrowserPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdownLocked()
	return nil
}

func (p *BrowserPage) shutdownLocked() {
	if p.tabCancel != nil {
		p.tabCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	p.tab, p.tabCancel, p.allocCancel = nil, nil, nil
}

// run executes actions on the tab, bounded by ctx.
func (p *BrowserPage) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	tab := p.tab
	p.mu.Unlock()
	if tab == nil || tab.Err() != nil {
		return errors.New("browser page not loaded")
	}
	return runBounded(ctx, tab, actions...)
}

func runBounded(ctx, tab context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *BrowserPage) closeSource(idJS []byte) {
	p.mu.Lock()
	tab := p.tab
	p.mu.Unlock()
	if tab == nil || tab.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeScriptTimeout)
	defer cancel()
	var ok bool
	if err := runBounded(ctx, tab, chromedp.Evaluate(fmt.Sprintf(closeScript, idJS), &ok)); err != nil {
		p.log.Debug("STREAM_CLOSE_FAILED", "error", err)
	}
}

func (p *BrowserPage) unregister(id string) {
	p.streamsMu.Lock()
	delete(p.streams, id)
	p.streamsMu.Unlock()
}

// onTargetEvent runs on the DevTools event goroutine and must not block.
func (p *BrowserPage) onTargetEvent(ev interface{}) {
	called, ok := ev.(*runtime.EventBindingCalled)
	if !ok || called.Name != bindingName {
		return
	}

	var msg struct {
		Stream  string `json:"stream"`
		Type    string `json:"type"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal([]byte(called.Payload), &msg); err != nil {
		p.log.Debug("BINDING_BAD_MESSAGE", "error", err)
		return
	}

	p.streamsMu.Lock()
	box := p.streams[msg.Stream]
	p.streamsMu.Unlock()
	if box == nil {
		return
	}
	box.put(PageMessage{Type: msg.Type, Payload: msg.Payload})
}

// =============================================================================
// MAILBOX
// =============================================================================

// mailbox is an unbounded FIFO so the DevTools event goroutine never waits
// on a slow consumer.
type mailbox struct {
	mu     sync.Mutex
	items  []PageMessage
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) put(msg PageMessage) {
	m.mu.Lock()
	m.items = append(m.items, msg)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) next(ctx context.Context) (PageMessage, bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			msg := m.items[0]
			m.items = m.items[1:]
			m.mu.Unlock()
			return msg, true
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return PageMessage{}, false
		}
	}
}
