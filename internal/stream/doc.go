// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream relays server-push answer tokens from the assistant backend.
//
// The stream endpoint rejects clients whose TLS/HTTP fingerprint is not a
// real browser, so the event stream is opened from inside a rendering
// context (a Page) that has loaded the service origin. The Bridge owns that
// context and exposes a message-passing API: Open posts a command to the
// bridge goroutine and returns a Subscription that yields token events
// terminated by exactly one Done or Error, unless it is cancelled first.
//
// # Key Types
//
//   - Bridge: owns the Page, enforces one relay at a time, queues relays
//     until the page is ready
//   - Subscription: lazy, finite, non-restartable sequence of Events
//   - Page: rendering context abstraction (BrowserPage, HTTPPage)
//   - SSEReader: event-stream parser used by HTTPPage
//
// # Termination Rule
//
// A relay whose connection ends after at least one token reports Done
// (carrying the last conversationHistoryId seen). Ending with zero tokens is
// reported as Error, because the backend uses connection errors both as a
// benign end-of-stream and as a failure signal.
//
// # Usage
//
//	page := stream.NewBrowserPage(stream.BrowserPageOptions{Origin: origin})
//	bridge := stream.NewBridge(page, stream.Options{})
//	defer bridge.Close()
//
//	url, _ := stream.BuildURL(endpoint, "Hello", sessionID, "en")
//	sub := bridge.Open(url)
//	for ev := range sub.All() {
//	    switch ev.Kind {
//	    case stream.EventToken:
//	        fmt.Print(ev.Token)
//	    case stream.EventDone, stream.EventError:
//	    }
//	}
package stream
