// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPPageOptions configures an HTTPPage.
type HTTPPageOptions struct {
	// Origin is checked by Load and sent as the Origin header. Empty skips
	// the check.
	Origin    string
	UserAgent string
	Client    *http.Client
}

// HTTPPage opens event streams with a plain HTTP client. It suits backends
// that do not check the client fingerprint and local test servers.
type HTTPPage struct {
	opts   HTTPPageOptions
	client *http.Client
}

// NewHTTPPage creates an HTTPPage.
func NewHTTPPage(opts HTTPPageOptions) *HTTPPage {
	client := opts.Client
	if client == nil {
		// No client timeout: streams are long-lived and bounded by the
		// bridge idle timeout instead.
		client = &http.Client{}
	}
	return &HTTPPage{opts: opts, client: client}
}

// Load checks the origin so that an unreachable service fails early.
func (p *HTTPPage) Load(ctx context.Context) error {
	if p.opts.Origin == "" {
		return nil
	}
	status, err := Reach(ctx, p.client, p.opts.Origin, p.opts.UserAgent)
	if err != nil {
		return err
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("origin returned status %d", status)
	}
	return nil
}

// Stream opens url and relays its events until the body ends.
func (p *HTTPPage) Stream(ctx context.Context, url string) (<-chan PageMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	p.decorate(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	out := make(chan PageMessage, relayBuffer)
	go func() {
		defer close(out)

		emit := func(m PageMessage) bool {
			select {
			case out <- m:
				return true
			case <-ctx.Done():
				return false
			}
		}

		resp, err := p.client.Do(req)
		if err != nil {
			emit(PageMessage{Type: MessageError})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, MaxEventSize))
			emit(PageMessage{Type: MessageError})
			return
		}

		reader := NewSSEReader(resp.Body)
		for {
			ev, err := reader.ReadEvent()
			if err != nil {
				if errors.Is(err, io.EOF) {
					emit(PageMessage{Type: MessageDone})
				} else {
					emit(PageMessage{Type: MessageError})
				}
				return
			}
			// EventSource.onmessage sees only unnamed and "message" events.
			if ev.Type != "" && ev.Type != "message" {
				continue
			}
			if strings.TrimSpace(ev.Data) == DoneSentinel {
				emit(PageMessage{Type: MessageDone})
				return
			}
			if !emit(PageMessage{Type: MessageData, Payload: ev.Data}) {
				return
			}
		}
	}()
	return out, nil
}

// Close releases idle connections.
func (p *HTTPPage) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *HTTPPage) decorate(req *http.Request) {
	if p.opts.UserAgent != "" {
		req.Header.Set("User-Agent", p.opts.UserAgent)
	}
	if p.opts.Origin != "" {
		req.Header.Set("Origin", strings.TrimRight(p.opts.Origin, "/"))
		req.Header.Set("Referer", p.opts.Origin)
	}
}
