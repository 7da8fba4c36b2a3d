// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatlink/internal/handover"
	"github.com/jeranaias/chatlink/internal/logging"
	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/stomp"
	"github.com/jeranaias/chatlink/internal/storage"
	"github.com/jeranaias/chatlink/internal/stream"
)

const testStreamURL = "https://chat.example.test/chatbot-ai/stream-assistant"

// =============================================================================
// FAKE STREAMER
// =============================================================================

type fakeRelay struct {
	url       string
	events    chan stream.Event
	cancelled chan struct{}
	once      sync.Once
}

func newFakeRelay(url string) *fakeRelay {
	return &fakeRelay{
		url:       url,
		events:    make(chan stream.Event, 64),
		cancelled: make(chan struct{}),
	}
}

func (r *fakeRelay) Next(ctx context.Context) (stream.Event, bool) {
	select {
	case <-r.cancelled:
		return stream.Event{}, false
	default:
	}
	select {
	case ev := <-r.events:
		select {
		case <-r.cancelled:
			return stream.Event{}, false
		default:
		}
		return ev, true
	case <-r.cancelled:
		return stream.Event{}, false
	case <-ctx.Done():
		return stream.Event{}, false
	}
}

func (r *fakeRelay) Cancel() {
	r.once.Do(func() { close(r.cancelled) })
}

func (r *fakeRelay) isCancelled() bool {
	select {
	case <-r.cancelled:
		return true
	default:
		return false
	}
}

func (r *fakeRelay) token(s string) {
	r.events <- stream.Event{Kind: stream.EventToken, Token: s}
}

func (r *fakeRelay) done(historyID *int64) {
	r.events <- stream.Event{Kind: stream.EventDone, HistoryID: historyID}
}

func (r *fakeRelay) fail(err error) {
	r.events <- stream.Event{Kind: stream.EventError, Err: err}
}

type fakeStreamer struct {
	mu     sync.Mutex
	relays []*fakeRelay
}

func (s *fakeStreamer) Open(url string) Relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.relays); n > 0 {
		s.relays[n-1].Cancel()
	}
	r := newFakeRelay(url)
	s.relays = append(s.relays, r)
	return r
}

func (s *fakeStreamer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.relays)
}

func (s *fakeStreamer) last(t *testing.T) *fakeRelay {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.relays, "no relay opened")
	return s.relays[len(s.relays)-1]
}

// =============================================================================
// FAKE CHANNEL
// =============================================================================

type sentFrame struct {
	dest string
	body []byte
}

type fakeChannel struct {
	connectErr error

	mu           sync.Mutex
	onConnect    func()
	onDisconnect func(error)
	connected    bool
	subs         map[string]stomp.Handler
	sent         []sentFrame
	disconnects  int
	dialed       chan struct{}
	dialOnce     sync.Once
}

func newFakeChannel(connectErr error) *fakeChannel {
	return &fakeChannel{
		connectErr: connectErr,
		subs:       make(map[string]stomp.Handler),
		dialed:     make(chan struct{}),
	}
}

func (c *fakeChannel) Connect(ctx context.Context, onConnect func(), onDisconnect func(error)) error {
	c.mu.Lock()
	c.onConnect = onConnect
	c.onDisconnect = onDisconnect
	c.mu.Unlock()
	c.dialOnce.Do(func() { close(c.dialed) })
	return c.connectErr
}

func (c *fakeChannel) Subscribe(dest string, handler stomp.Handler) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[dest] = handler
	return "sub-0"
}

func (c *fakeChannel) Send(dest string, body []byte, kv ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return stomp.ErrNotConnected
	}
	c.sent = append(c.sent, sentFrame{dest: dest, body: body})
	return nil
}

func (c *fakeChannel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
	return nil
}

func (c *fakeChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// accept completes the handshake as a broker sending CONNECTED would.
func (c *fakeChannel) accept(t *testing.T) {
	t.Helper()
	select {
	case <-c.dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("channel never dialed")
	}
	c.mu.Lock()
	c.connected = true
	cb := c.onConnect
	c.mu.Unlock()
	cb()
}

// drop simulates a lost socket.
func (c *fakeChannel) drop(t *testing.T, err error) {
	t.Helper()
	c.mu.Lock()
	c.connected = false
	cb := c.onDisconnect
	c.mu.Unlock()
	cb(err)
}

// deliver hands body to the handler subscribed on dest.
func (c *fakeChannel) deliver(t *testing.T, dest string, body []byte) {
	t.Helper()
	c.mu.Lock()
	h, ok := c.subs[dest]
	c.mu.Unlock()
	require.True(t, ok, "no subscription on %s", dest)
	h(stomp.Frame{Command: stomp.CmdMessage, Body: body})
}

func (c *fakeChannel) sentFrames() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentFrame(nil), c.sent...)
}

func (c *fakeChannel) subscribed(dest string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[dest]
	return ok
}

func (c *fakeChannel) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakeChannels struct {
	connectErr error

	mu    sync.Mutex
	chans []*fakeChannel
}

func (f *fakeChannels) factory() ChannelFactory {
	return func() Channel {
		f.mu.Lock()
		defer f.mu.Unlock()
		ch := newFakeChannel(f.connectErr)
		f.chans = append(f.chans, ch)
		return ch
	}
}

func (f *fakeChannels) last(t *testing.T) *fakeChannel {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.chans, "no channel created")
	return f.chans[len(f.chans)-1]
}

// =============================================================================
// STORES
// =============================================================================

// failingStore fails every write.
type failingStore struct{}

var errDiskFull = errors.New("disk full")

func (failingStore) Load(context.Context) (*model.Session, error)        { return nil, errDiskFull }
func (failingStore) Save(context.Context, *model.Session) error          { return errDiskFull }
func (failingStore) Clear(context.Context) error                         { return errDiskFull }
func (failingStore) SaveDetails(context.Context, handover.Details) error { return errDiskFull }

type recordingArchive struct {
	mu       sync.Mutex
	sessions []*model.Session
}

func (a *recordingArchive) Put(sess *model.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, sess)
	return nil
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	orch     *Orchestrator
	streamer *fakeStreamer
	channels *fakeChannels
	kv       *storage.MemoryKV
	store    *storage.SessionStore
	archive  *recordingArchive
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	kv := storage.NewMemoryKV()
	h := &harness{
		streamer: &fakeStreamer{},
		channels: &fakeChannels{},
		kv:       kv,
		store:    storage.NewSessionStore(kv),
		archive:  &recordingArchive{},
	}
	opts := Options{
		Streamer:        h.streamer,
		Channels:        h.channels.factory(),
		Store:           h.store,
		Archive:         h.archive,
		StreamURL:       testStreamURL,
		RequireLanguage: true,
		Logger:          logging.Discard(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	orch, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close() })
	h.orch = orch
	return h
}

// ready returns a harness with English selected.
func ready(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := newHarness(t, mutate...)
	require.NoError(t, h.orch.SelectLanguage("en"))
	return h
}

func (h *harness) eventually(t *testing.T, cond func(Snapshot) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.orch.Snapshot()) }, 2*time.Second, 5*time.Millisecond, msg)
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	h.eventually(t, func(s Snapshot) bool { return s.State == want }, "state never became "+string(want))
}

func (h *harness) stored(t *testing.T) *model.Session {
	t.Helper()
	sess, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return sess
}

// storedRaw decodes the persisted session as written, before Load
// normalizes it.
func (h *harness) storedRaw(t *testing.T) *model.Session {
	t.Helper()
	data, err := h.kv.Get(context.Background(), storage.SessionKey)
	require.NoError(t, err)
	var sess model.Session
	require.NoError(t, json.Unmarshal(data, &sess))
	return &sess
}

func int64p(v int64) *int64 { return &v }
