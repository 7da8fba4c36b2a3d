// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/chatlink/internal/handover"
	"github.com/jeranaias/chatlink/internal/i18n"
	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/stomp"
	"github.com/jeranaias/chatlink/internal/storage"
	"github.com/jeranaias/chatlink/internal/stream"
)

// Defaults.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultStoreTimeout   = 5 * time.Second
)

// Sentinel errors returned by operations that are not valid in the current
// state. None of them changes the session.
var (
	ErrBusy           = errors.New("session: an answer is still streaming")
	ErrNoLanguage     = errors.New("session: no language selected")
	ErrOperatorActive = errors.New("session: an operator is handling the conversation")
	ErrNotOperator    = errors.New("session: no operator conversation")
	ErrEmptyMessage   = errors.New("session: empty message")
	ErrUnknownAction  = errors.New("session: unknown quick action")
	ErrClosed         = errors.New("session: orchestrator closed")
	ErrNoConnection   = errors.New("session: no connection")
)

// ConnectionError is returned when the connectivity check before a send
// fails. Message is in the session language.
type ConnectionError struct {
	Message string
	Err     error
}

func (e *ConnectionError) Error() string { return e.Message }

func (e *ConnectionError) Unwrap() []error { return []error{ErrNoConnection, e.Err} }

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures an Orchestrator.
type Options struct {
	// Streamer opens assistant relays. Required.
	Streamer Streamer

	// Channels creates operator channels. Without it RequestOperator only
	// records the request.
	Channels ChannelFactory

	// Store persists the session. Required.
	Store Store

	// Archive receives sessions replaced by ResetSession. Optional.
	Archive Archiver

	// StreamURL is the event-stream endpoint. Required.
	StreamURL string

	// TopicPrefix and Destination address the operator broker.
	TopicPrefix string
	Destination string

	// RequireLanguage keeps a fresh session IDLE until SelectLanguage.
	// Otherwise DefaultLang is applied.
	RequireLanguage bool
	DefaultLang     model.Lang

	// CheckConnection runs before every send. When it fails the message is
	// not appended and a *ConnectionError is returned. Optional.
	CheckConnection func(context.Context) error

	ConnectTimeout time.Duration
	StoreTimeout   time.Duration

	Logger *slog.Logger
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator owns the conversation. All fields below the channels are
// touched only by the loop goroutine.
type Orchestrator struct {
	opts Options
	log  *slog.Logger

	root   context.Context
	stop   context.CancelFunc
	cmds   chan command
	events chan event
	quit   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	pub       publisher

	sess *model.Session

	// relay state
	epoch uint64
	relay *activeRelay

	// operator state
	gen       uint64
	channel   Channel
	connected bool
}

type activeRelay struct {
	epoch   uint64
	relay   Relay
	started int64
	tokens  strings.Builder
}

type command struct {
	fn    func() error
	reply chan error
}

// New loads the stored session, or starts a fresh one, and starts the loop.
// A storage failure is logged and the session starts fresh in memory.
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Streamer == nil {
		return nil, errors.New("session: Streamer is required")
	}
	if opts.Store == nil {
		return nil, errors.New("session: Store is required")
	}
	if opts.StreamURL == "" {
		return nil, errors.New("session: StreamURL is required")
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = handover.TopicPrefix
	}
	if opts.Destination == "" {
		opts.Destination = handover.Destination
	}
	if opts.DefaultLang == "" {
		opts.DefaultLang = model.LangEN
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	root, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:   opts,
		log:    logger.With("component", "session"),
		root:   root,
		stop:   stop,
		cmds:   make(chan command),
		events: make(chan event),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	sess, err := opts.Store.Load(ctx)
	if err != nil {
		o.log.Warn("SESSION_LOAD_FAILED", "error", err)
	}
	if sess == nil {
		sess = o.freshSession(opts.DefaultLang)
		o.sess = sess
		if sess.HasLang() {
			o.persist()
		}
	} else {
		o.sess = sess
		if !sess.HasLang() && !opts.RequireLanguage {
			sess.SetLang(opts.DefaultLang)
			sess.Append(model.NewAssistantMessage(i18n.For(opts.DefaultLang).Welcome, nil))
			o.persist()
		}
		o.log.Info("SESSION_RESTORED", "session", sess.ID, "messages", len(sess.Messages))
	}

	o.publish()
	go o.loop()
	return o, nil
}

// freshSession creates a new session, applying lang when a language choice
// is not required.
func (o *Orchestrator) freshSession(lang model.Lang) *model.Session {
	sess := model.NewSession()
	if !o.opts.RequireLanguage && lang != "" {
		sess.SetLang(lang)
		sess.Append(model.NewAssistantMessage(i18n.For(lang).Welcome, nil))
	}
	return sess
}

// Close cancels any relay, disconnects any operator channel and stops the
// loop. The session stays persisted.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		close(o.quit)
		<-o.done
		o.stop()
		o.pub.closeAll()
	})
	return nil
}

// =============================================================================
// LOOP
// =============================================================================

func (o *Orchestrator) loop() {
	defer close(o.done)
	for {
		select {
		case cmd := <-o.cmds:
			cmd.reply <- cmd.fn()
		case ev := <-o.events:
			ev.apply(o)
		case <-o.quit:
			o.cancelRelay()
			o.dropChannel()
			return
		}
	}
}

// call runs fn on the loop goroutine and returns its result.
func (o *Orchestrator) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case o.cmds <- command{fn: fn, reply: reply}:
	case <-o.quit:
		return ErrClosed
	}
	return <-reply
}

// post delivers an event from a relay pump or a channel callback. It gives
// up once the orchestrator is closed.
func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.quit:
	}
}

// =============================================================================
// AI MODE
// =============================================================================

// SendMessage appends text as a user message and streams the answer.
func (o *Orchestrator) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if err := o.checkConnection(); err != nil {
		return err
	}
	return o.call(func() error {
		return o.send(text, text)
	})
}

// SendQuickAction streams the keyword of a quick action while showing its
// localized label as the user's message.
func (o *Orchestrator) SendQuickAction(prompt string) error {
	if err := o.checkConnection(); err != nil {
		return err
	}
	return o.call(func() error {
		lang := o.sess.LangOr(o.opts.DefaultLang)
		qa, ok := i18n.QuickActionByPrompt(lang, prompt)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAction, prompt)
		}
		return o.send(qa.Label, qa.Prompt)
	})
}

// checkConnection runs Options.CheckConnection outside the loop, after the
// session has been found ready to send.
func (o *Orchestrator) checkConnection() error {
	if o.opts.CheckConnection == nil {
		return nil
	}
	var lang model.Lang
	err := o.call(func() error {
		if err := o.checkAIActive(); err != nil {
			return err
		}
		lang = *o.sess.Lang
		return nil
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(o.root, o.opts.ConnectTimeout)
	defer cancel()
	if err := o.opts.CheckConnection(ctx); err != nil {
		o.log.Warn("NO_CONNECTION", "error", err)
		return &ConnectionError{Message: i18n.For(lang).NoConnection, Err: err}
	}
	return nil
}

// send runs on the loop.
func (o *Orchestrator) send(display, prompt string) error {
	if err := o.checkAIActive(); err != nil {
		return err
	}

	o.sess.Append(model.NewUserMessage(display))
	o.persist()

	url, err := stream.BuildURL(o.opts.StreamURL, prompt, o.sess.ID, string(*o.sess.Lang))
	if err != nil {
		o.log.Error("STREAM_URL_INVALID", "error", err)
		o.commitError()
		o.publish()
		return nil
	}

	o.epoch++
	r := o.opts.Streamer.Open(url)
	o.relay = &activeRelay{epoch: o.epoch, relay: r, started: model.NowMillis()}
	o.log.Debug("RELAY_OPEN", "epoch", o.epoch, "session", o.sess.ID)
	go o.pump(o.epoch, r)

	o.publish()
	return nil
}

func (o *Orchestrator) checkAIActive() error {
	switch {
	case !o.sess.HasLang():
		return ErrNoLanguage
	case o.relay != nil:
		return ErrBusy
	case o.sess.Mode == model.ModeOperator:
		return ErrOperatorActive
	}
	return nil
}

// pump forwards relay events into the loop tagged with their epoch.
func (o *Orchestrator) pump(epoch uint64, r Relay) {
	for {
		ev, ok := r.Next(o.root)
		if !ok {
			o.post(relayEnded{epoch: epoch})
			return
		}
		o.post(relayEvent{epoch: epoch, ev: ev})
		if ev.IsTerminal() {
			return
		}
	}
}

func (o *Orchestrator) onRelayEvent(epoch uint64, ev stream.Event) {
	ar := o.relay
	if ar == nil || ar.epoch != epoch {
		return
	}

	switch ev.Kind {
	case stream.EventToken:
		ar.tokens.WriteString(ev.Token)

	case stream.EventDone:
		o.relay = nil
		if text := ar.tokens.String(); text != "" {
			o.sess.Append(model.NewAssistantMessage(text, ev.HistoryID))
		}
		o.log.Debug("RELAY_DONE", "epoch", epoch, "chars", ar.tokens.Len())
		o.persist()

	case stream.EventError:
		o.relay = nil
		o.log.Warn("RELAY_FAILED", "epoch", epoch, "error", ev.Err)
		o.commitError()
	}
	o.publish()
}

// onRelayEnded handles a relay whose event channel closed without a
// terminal event.
func (o *Orchestrator) onRelayEnded(epoch uint64) {
	ar := o.relay
	if ar == nil || ar.epoch != epoch {
		return
	}
	o.relay = nil
	o.log.Warn("RELAY_LOST", "epoch", epoch)
	o.commitError()
	o.publish()
}

// commitError appends the localized error message and persists.
func (o *Orchestrator) commitError() {
	texts := i18n.For(o.sess.LangOr(o.opts.DefaultLang))
	o.sess.Append(model.NewErrorMessage(texts.Error))
	o.persist()
}

func (o *Orchestrator) cancelRelay() {
	o.epoch++
	if o.relay == nil {
		return
	}
	o.relay.relay.Cancel()
	o.log.Debug("RELAY_CANCELLED", "epoch", o.relay.epoch)
	o.relay = nil
}

// =============================================================================
// OPERATOR MODE
// =============================================================================

// RequestOperator hands the conversation over to a human operator. The
// channel connects in the background; a failed connection silently returns
// the session to AI mode.
func (o *Orchestrator) RequestOperator(details handover.Details) error {
	return o.call(func() error {
		if err := o.checkAIActive(); err != nil {
			return err
		}
		if details.Language == "" {
			details.Language = string(*o.sess.Lang)
		}
		o.saveDetails(details)

		texts := i18n.For(*o.sess.Lang)
		o.sess.Append(model.NewAssistantMessage(texts.OperatorConnecting, nil))
		o.sess.Mode = model.ModeOperator
		o.persist()

		if o.opts.Channels != nil {
			o.openChannel(details)
		}
		o.publish()
		return nil
	})
}

func (o *Orchestrator) openChannel(details handover.Details) {
	o.gen++
	gen := o.gen
	ch := o.opts.Channels()
	o.channel = ch
	o.connected = false
	o.log.Info("OPERATOR_REQUESTED", "gen", gen, "session", o.sess.ID)

	go func() {
		ctx, cancel := context.WithTimeout(o.root, o.opts.ConnectTimeout)
		defer cancel()
		err := ch.Connect(ctx,
			func() { o.post(channelConnected{gen: gen, ch: ch, details: details}) },
			func(cause error) { o.post(channelDropped{gen: gen, ch: ch, err: cause}) },
		)
		if err != nil {
			o.post(channelDropped{gen: gen, ch: ch, err: err})
			return
		}
		o.post(channelDialed{gen: gen, ch: ch})
	}()
}

func (o *Orchestrator) onChannelDialed(gen uint64, ch Channel) {
	if gen != o.gen || ch != o.channel {
		// Reset or close raced the dial.
		ch.Disconnect()
	}
}

func (o *Orchestrator) onChannelConnected(gen uint64, ch Channel, details handover.Details) {
	if gen != o.gen || ch != o.channel {
		ch.Disconnect()
		return
	}
	o.connected = true
	sid := o.sess.ID
	ch.Subscribe(o.opts.TopicPrefix+sid, func(f stomp.Frame) {
		o.post(channelMessage{gen: gen, body: f.Body})
	})

	body, err := handover.RequestHandover(sid, details)
	if err != nil {
		o.log.Error("HANDOVER_ENCODE_FAILED", "error", err)
		return
	}
	if err := ch.Send(o.opts.Destination, body, stomp.HdrContentType, "application/json"); err != nil {
		o.log.Warn("HANDOVER_SEND_FAILED", "error", err)
	}
	o.log.Info("OPERATOR_CONNECTED", "gen", gen, "session", sid)
	o.publish()
}

func (o *Orchestrator) onChannelMessage(gen uint64, body []byte) {
	if gen != o.gen || o.channel == nil {
		return
	}
	in, err := handover.Parse(body)
	if err != nil {
		o.log.Debug("OPERATOR_MESSAGE_IGNORED", "error", err)
		return
	}

	switch {
	case in.Displayable():
		o.sess.Append(model.NewAssistantMessage(in.Message, nil))
		o.persist()
		o.publish()
	case in.Closes():
		o.log.Info("OPERATOR_CLOSED", "gen", gen)
		o.closeOperator()
	}
}

func (o *Orchestrator) onChannelDropped(gen uint64, ch Channel, cause error) {
	if gen != o.gen || ch != o.channel {
		return
	}
	o.log.Warn("OPERATOR_CHANNEL_LOST", "gen", gen, "error", cause)
	o.dropChannel()
	o.sess.Mode = model.ModeAI
	o.persist()
	o.publish()
}

// SendMentorMessage sends text to the operator. Outside a connected
// operator conversation it behaves like SendMessage.
func (o *Orchestrator) SendMentorMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	return o.call(func() error {
		if o.sess.Mode != model.ModeOperator || o.channel == nil || !o.connected {
			return o.send(text, text)
		}

		o.sess.Append(model.NewUserMessage(text))
		o.persist()

		body, err := handover.SendMessage(o.sess.ID, text)
		if err == nil {
			err = o.channel.Send(o.opts.Destination, body, stomp.HdrContentType, "application/json")
		}
		if err != nil {
			o.log.Warn("OPERATOR_SEND_FAILED", "error", err)
		}
		o.publish()
		return nil
	})
}

// EndOperator closes the operator conversation from the user's side.
func (o *Orchestrator) EndOperator() error {
	return o.call(func() error {
		if o.sess.Mode != model.ModeOperator {
			return ErrNotOperator
		}
		if o.channel != nil && o.connected {
			body, err := handover.CloseConversation(o.sess.ID)
			if err == nil {
				err = o.channel.Send(o.opts.Destination, body, stomp.HdrContentType, "application/json")
			}
			if err != nil {
				o.log.Warn("OPERATOR_CLOSE_SEND_FAILED", "error", err)
			}
		}
		o.log.Info("OPERATOR_ENDED", "gen", o.gen)
		o.closeOperator()
		return nil
	})
}

// closeOperator disconnects, appends the closing notice and returns to AI
// mode.
func (o *Orchestrator) closeOperator() {
	o.dropChannel()
	texts := i18n.For(o.sess.LangOr(o.opts.DefaultLang))
	o.sess.Append(model.NewAssistantMessage(texts.ConversationClosed, nil))
	o.sess.Mode = model.ModeAI
	o.persist()
	o.publish()
}

// dropChannel disconnects the current channel and invalidates its
// callbacks.
func (o *Orchestrator) dropChannel() {
	o.gen++
	if o.channel == nil {
		return
	}
	if err := o.channel.Disconnect(); err != nil {
		o.log.Debug("OPERATOR_DISCONNECT_FAILED", "error", err)
	}
	o.channel = nil
	o.connected = false
}

func (o *Orchestrator) saveDetails(d handover.Details) {
	saver, ok := o.opts.Store.(DetailsSaver)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(o.root, o.opts.StoreTimeout)
	defer cancel()
	if err := saver.SaveDetails(ctx, d); err != nil {
		o.log.Warn("DETAILS_SAVE_FAILED", "error", err)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// ResetSession abandons the current conversation and starts a new one. Any
// relay is cancelled and any operator channel disconnected first.
func (o *Orchestrator) ResetSession() error {
	return o.call(func() error {
		o.cancelRelay()
		o.dropChannel()

		old := o.sess
		if o.opts.Archive != nil && storage.Worth(old) {
			if err := o.opts.Archive.Put(old.Clone()); err != nil {
				o.log.Warn("SESSION_ARCHIVE_FAILED", "session", old.ID, "error", err)
			}
		}

		ctx, cancel := context.WithTimeout(o.root, o.opts.StoreTimeout)
		err := o.opts.Store.Clear(ctx)
		cancel()
		if err != nil {
			o.log.Warn("SESSION_CLEAR_FAILED", "error", err)
		}

		o.sess = o.freshSession(old.LangOr(o.opts.DefaultLang))
		if o.sess.HasLang() {
			o.persist()
		}
		o.log.Info("SESSION_RESET", "old", old.ID, "new", o.sess.ID)
		o.publish()
		return nil
	})
}

// SelectLanguage sets the conversation language and greets the user in it.
func (o *Orchestrator) SelectLanguage(tag string) error {
	lang, err := model.ParseLang(tag)
	if err != nil {
		return err
	}
	return o.call(func() error {
		if o.relay != nil {
			return ErrBusy
		}
		o.sess.SetLang(lang)
		o.sess.Append(model.NewAssistantMessage(i18n.For(lang).Welcome, nil))
		o.persist()
		o.publish()
		return nil
	})
}

// persist writes the session. Failures are logged and the session carries
// on in memory.
func (o *Orchestrator) persist() {
	ctx, cancel := context.WithTimeout(o.root, o.opts.StoreTimeout)
	defer cancel()
	if err := o.opts.Store.Save(ctx, o.sess); err != nil {
		o.log.Warn("SESSION_SAVE_FAILED", "session", o.sess.ID, "error", err)
	}
}

// =============================================================================
// EVENTS
// =============================================================================

type event interface{ apply(o *Orchestrator) }

type relayEvent struct {
	epoch uint64
	ev    stream.Event
}

type relayEnded struct{ epoch uint64 }

type channelDialed struct {
	gen uint64
	ch  Channel
}

type channelConnected struct {
	gen     uint64
	ch      Channel
	details handover.Details
}

type channelMessage struct {
	gen  uint64
	body []byte
}

type channelDropped struct {
	gen uint64
	ch  Channel
	err error
}

func (e relayEvent) apply(o *Orchestrator) {
	o.onRelayEvent(e.epoch, e.ev)
}

func (e relayEnded) apply(o *Orchestrator) {
	o.onRelayEnded(e.epoch)
}

func (e channelDialed) apply(o *Orchestrator) {
	o.onChannelDialed(e.gen, e.ch)
}

func (e channelConnected) apply(o *Orchestrator) {
	o.onChannelConnected(e.gen, e.ch, e.details)
}

func (e channelMessage) apply(o *Orchestrator) {
	o.onChannelMessage(e.gen, e.body)
}

func (e channelDropped) apply(o *Orchestrator) {
	o.onChannelDropped(e.gen, e.ch, e.err)
}
