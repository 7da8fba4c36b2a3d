// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stomp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// AcceptVersion is sent on CONNECT.
const AcceptVersion = "1.2,1.1,1.0"

// DefaultHeartbeat is the client heart-beat interval in both directions.
const DefaultHeartbeat = 4 * time.Second

var (
	// ErrNotConnected is returned by Send when no CONNECTED frame has been
	// received on the current connection. Nothing is sent.
	ErrNotConnected = errors.New("stomp: not connected")

	// ErrAlreadyConnected is returned by Connect on a client with a live
	// connection.
	ErrAlreadyConnected = errors.New("stomp: already connected")

	// ErrHeartbeatTimeout is reported when the broker stays silent for twice
	// the negotiated inbound interval.
	ErrHeartbeatTimeout = errors.New("stomp: heart-beat timeout")
)

// ServerError is reported when the broker sends an ERROR frame.
type ServerError struct {
	Message string
	Body    string
}

func (e *ServerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("stomp: server error: %s: %s", e.Message, e.Body)
	}
	return "stomp: server error: " + e.Message
}

// Handler receives MESSAGE frames for one subscription.
type Handler func(Frame)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Heartbeat is offered in both directions. Zero means DefaultHeartbeat,
	// negative disables heart-beating.
	Heartbeat time.Duration

	// Host is sent as the CONNECT host header when set.
	Host string

	// ConnectHeaders are added to CONNECT (login, passcode).
	ConnectHeaders map[string]string

	Logger *slog.Logger
}

type subscription struct {
	dest    string
	handler Handler
	sent    bool
}

// Client is a STOMP client over a message-oriented connection.
type Client struct {
	url    string
	dialer Dialer
	opts   ClientOptions
	log    *slog.Logger

	mu           sync.Mutex
	conn         Conn
	gen          uint64
	connected    bool
	subs         map[string]*subscription
	order        []string
	nextSub      int
	onConnect    func()
	onDisconnect func(error)
	stopBeat     chan struct{}

	writeMu  sync.Mutex
	lastRead atomic.Int64
}

// NewClient creates a client for url. No connection is made until Connect.
func NewClient(url string, dialer Dialer, opts ClientOptions) *Client {
	if opts.Heartbeat == 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		dialer: dialer,
		opts:   opts,
		log:    logger.With("component", "stomp"),
		subs:   make(map[string]*subscription),
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Connect dials the broker and sends CONNECT. It returns once the frame is
// written; onConnect runs when CONNECTED arrives and onDisconnect runs at
// most once if the connection is later lost. Both run on the client's
// reader goroutine.
func (c *Client) Connect(ctx context.Context, onConnect func(), onDisconnect func(error)) error {
	c.mu.Lock()
	busy := c.conn != nil
	c.mu.Unlock()
	if busy {
		return ErrAlreadyConnected
	}

	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("stomp: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyConnected
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.connected = false
	c.onConnect = onConnect
	c.onDisconnect = onDisconnect
	c.mu.Unlock()

	frame := NewFrame(CmdConnect, HdrAcceptVersion, AcceptVersion)
	frame.Headers[HdrHeartBeat] = c.offeredHeartbeat()
	if c.opts.Host != "" {
		frame.Headers[HdrHost] = c.opts.Host
	}
	for k, v := range c.opts.ConnectHeaders {
		frame.Headers[k] = v
	}

	c.lastRead.Store(time.Now().UnixNano())
	if err := c.write(conn, Encode(frame)); err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.resetLocked()
		}
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("stomp: send CONNECT: %w", err)
	}

	c.log.Debug("STOMP_CONNECT_SENT", "url", c.url)
	go c.readLoop(conn, gen)
	return nil
}

// Disconnect sends DISCONNECT when connected, closes the socket and forgets
// all subscriptions. onDisconnect is not invoked.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.resetLocked()
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if connected {
		if err := c.write(conn, Encode(NewFrame(CmdDisconnect))); err != nil {
			c.log.Debug("STOMP_DISCONNECT_SEND_FAILED", "error", err)
		}
	}
	c.log.Debug("STOMP_DISCONNECTED")
	return conn.Close()
}

// IsConnected reports whether CONNECTED was received on the live connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// resetLocked drops the live connection state. Callbacks of the dropped
// connection become stale through the generation bump.
func (c *Client) resetLocked() {
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
	c.conn = nil
	c.connected = false
	c.gen++
	c.subs = make(map[string]*subscription)
	c.order = nil
	c.onConnect = nil
	c.onDisconnect = nil
}

// drop tears down connection gen after a failure and reports it once.
func (c *Client) drop(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn, cb := c.conn, c.onDisconnect
	c.resetLocked()
	c.mu.Unlock()

	conn.Close()
	c.log.Info("STOMP_CONNECTION_LOST", "error", cause)
	if cb != nil {
		cb(cause)
	}
}

// =============================================================================
// SUBSCRIBE / SEND
// =============================================================================

// Subscribe registers handler for dest and returns the subscription id. The
// SUBSCRIBE frame is sent now when connected, otherwise when CONNECTED
// arrives.
func (c *Client) Subscribe(dest string, handler Handler) string {
	c.mu.Lock()
	id := "sub-" + strconv.Itoa(c.nextSub)
	c.nextSub++
	sub := &subscription{dest: dest, handler: handler, sent: c.connected}
	c.subs[id] = sub
	c.order = append(c.order, id)
	conn, connected := c.conn, c.connected
	c.mu.Unlock()

	if connected {
		if err := c.write(conn, Encode(subscribeFrame(id, dest))); err != nil {
			c.log.Warn("STOMP_SUBSCRIBE_FAILED", "destination", dest, "error", err)
		}
	}
	return id
}

// Unsubscribe forgets subscription id.
func (c *Client) Unsubscribe(id string) error {
	c.mu.Lock()
	sub, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
		for i, o := range c.order {
			if o == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	conn, connected := c.conn, c.connected
	c.mu.Unlock()

	if !ok || !connected || !sub.sent {
		return nil
	}
	return c.write(conn, Encode(NewFrame(CmdUnsubscribe, HdrID, id)))
}

// Send publishes body to dest. Extra headers are key/value pairs. While not
// connected nothing is sent and ErrNotConnected is returned.
func (c *Client) Send(dest string, body []byte, kv ...string) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	frame := NewFrame(CmdSend, kv...)
	frame.Headers[HdrDestination] = dest
	frame.Headers[HdrContentLength] = strconv.Itoa(len(body))
	frame.Body = body
	return c.write(conn, Encode(frame))
}

func subscribeFrame(id, dest string) Frame {
	return NewFrame(CmdSubscribe, HdrID, id, HdrDestination, dest)
}

func (c *Client) write(conn Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(data)
}

// =============================================================================
// READER / HEART-BEAT
// =============================================================================

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.drop(gen, err)
			return
		}
		c.lastRead.Store(time.Now().UnixNano())

		frames, err := Decode(data)
		for _, f := range frames {
			if !c.handle(conn, gen, f) {
				return
			}
		}
		if err != nil {
			c.log.Warn("STOMP_BAD_FRAME", "error", err)
		}
	}
}

// handle processes one inbound frame and reports whether reading continues.
func (c *Client) handle(conn Conn, gen uint64, f Frame) bool {
	switch f.Command {
	case CmdConnected:
		c.mu.Lock()
		if gen != c.gen || c.connected {
			live := gen == c.gen
			c.mu.Unlock()
			return live
		}
		c.connected = true
		var pending []string
		for _, id := range c.order {
			if s := c.subs[id]; !s.sent {
				s.sent = true
				pending = append(pending, id, s.dest)
			}
		}
		out, in := negotiateHeartbeat(c.opts.Heartbeat, f.Header(HdrHeartBeat))
		stop := make(chan struct{})
		c.stopBeat = stop
		onConnect := c.onConnect
		c.mu.Unlock()

		c.log.Info("STOMP_CONNECTED", "version", f.Header(HdrVersion), "heartbeat_out", out, "heartbeat_in", in)
		for i := 0; i+1 < len(pending); i += 2 {
			if err := c.write(conn, Encode(subscribeFrame(pending[i], pending[i+1]))); err != nil {
				c.log.Warn("STOMP_SUBSCRIBE_FAILED", "destination", pending[i+1], "error", err)
			}
		}
		if out > 0 || in > 0 {
			go c.heartbeat(conn, gen, out, in, stop)
		}
		if onConnect != nil {
			onConnect()
		}

	case CmdMessage:
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return false
		}
		sub := c.subs[f.Header(HdrSubscription)]
		c.mu.Unlock()
		if sub == nil {
			c.log.Debug("STOMP_UNROUTED_MESSAGE", "subscription", f.Header(HdrSubscription))
			return true
		}
		sub.handler(f)

	case CmdError:
		c.drop(gen, &ServerError{Message: f.Header(HdrMessage), Body: string(f.Body)})
		return false
	}
	return true
}

func (c *Client) heartbeat(conn Conn, gen uint64, out, in time.Duration, stop <-chan struct{}) {
	var outC, inC <-chan time.Time
	if out > 0 {
		t := time.NewTicker(out)
		defer t.Stop()
		outC = t.C
	}
	if in > 0 {
		t := time.NewTicker(in)
		defer t.Stop()
		inC = t.C
	}

	for {
		select {
		case <-stop:
			return
		case <-outC:
			if err := c.write(conn, []byte("\n")); err != nil {
				c.drop(gen, err)
				return
			}
		case <-inC:
			last := time.Unix(0, c.lastRead.Load())
			if time.Since(last) > 2*in {
				c.drop(gen, ErrHeartbeatTimeout)
				return
			}
		}
	}
}

func (c *Client) offeredHeartbeat() string {
	ms := int64(0)
	if c.opts.Heartbeat > 0 {
		ms = c.opts.Heartbeat.Milliseconds()
	}
	s := strconv.FormatInt(ms, 10)
	return s + "," + s
}

// negotiateHeartbeat returns the outgoing and incoming intervals for a
// client offering local in both directions and a broker header "sx,sy".
func negotiateHeartbeat(local time.Duration, header string) (out, in time.Duration) {
	if local <= 0 {
		return 0, 0
	}
	sx, sy, ok := parseHeartbeat(header)
	if !ok {
		return 0, 0
	}
	if sy > 0 {
		out = max(local, sy)
	}
	if sx > 0 {
		in = max(local, sx)
	}
	return out, in
}

func parseHeartbeat(v string) (x, y time.Duration, ok bool) {
	a, b, found := strings.Cut(strings.TrimSpace(v), ",")
	if !found {
		return 0, 0, false
	}
	xi, err1 := strconv.Atoi(strings.TrimSpace(a))
	yi, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || xi < 0 || yi < 0 {
		return 0, 0, false
	}
	return time.Duration(xi) * time.Millisecond, time.Duration(yi) * time.Millisecond, true
}
