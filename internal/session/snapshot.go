// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"sync/atomic"

	"github.com/jeranaias/chatlink/internal/i18n"
	"github.com/jeranaias/chatlink/internal/model"
)

// State is the orchestrator state shown to the UI.
type State string

const (
	StateIdle              State = "IDLE"
	StateAIActive          State = "AI_ACTIVE"
	StateStreaming         State = "STREAMING"
	StateOperatorConnected State = "OPERATOR_CONNECTED"
)

// Snapshot is an immutable view of the conversation.
type Snapshot struct {
	// Version increases with every published change.
	Version   uint64
	SessionID string
	Lang      model.Lang // empty until chosen

	// Messages are the committed messages followed, while streaming, by a
	// placeholder with ID model.StreamingID holding the text so far.
	Messages []model.Message

	State               State
	Busy                bool
	Operator            bool // operator mode, connected or connecting
	OperatorConnected   bool
	QuickActionsVisible bool
}

// Streaming returns the in-progress answer, if any.
func (s Snapshot) Streaming() (model.Message, bool) {
	if n := len(s.Messages); n > 0 && s.Messages[n-1].IsStreaming() {
		return s.Messages[n-1], true
	}
	return model.Message{}, false
}

// QuickActions returns the actions to offer, or nil when hidden.
func (s Snapshot) QuickActions() []i18n.QuickAction {
	if !s.QuickActionsVisible {
		return nil
	}
	return i18n.For(s.Lang).QuickActions
}

// Snapshot returns the latest published view. Safe from any goroutine.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.pub.latest.Load()
}

// Subscribe returns a channel that always holds the most recent snapshot.
// Intermediate snapshots are dropped when the reader falls behind. The
// channel is closed by cancel or Close.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	return o.pub.subscribe()
}

// publish builds a snapshot from loop state. Loop goroutine only.
func (o *Orchestrator) publish() {
	sess := o.sess
	snap := Snapshot{
		SessionID: sess.ID,
		Operator:  sess.Mode == model.ModeOperator,
	}
	if sess.HasLang() {
		snap.Lang = *sess.Lang
	}
	snap.OperatorConnected = snap.Operator && o.channel != nil && o.connected

	msgs := sess.Clone().Messages
	if o.relay != nil {
		content := o.relay.tokens.String()
		if content == "" {
			content = i18n.For(sess.LangOr(o.opts.DefaultLang)).StreamingPlaceholder
		}
		msgs = append(msgs, model.Message{
			ID:        model.StreamingID,
			Role:      model.RoleAssistant,
			Content:   content,
			Timestamp: o.relay.started,
		})
	}
	snap.Messages = msgs

	switch {
	case !sess.HasLang():
		snap.State = StateIdle
	case o.relay != nil:
		snap.State = StateStreaming
		snap.Busy = true
	case snap.Operator:
		snap.State = StateOperatorConnected
	default:
		snap.State = StateAIActive
	}

	snap.QuickActionsVisible = quickActionsVisible(sess, o.relay != nil)
	o.pub.publish(snap)
}

// quickActionsVisible: a language is set, nothing is streaming, and the
// conversation is either fresh or ended in an error.
func quickActionsVisible(sess *model.Session, streaming bool) bool {
	if !sess.HasLang() || streaming {
		return false
	}
	if len(sess.Messages) <= 2 {
		return true
	}
	last, _ := sess.LastMessage()
	return last.IsError
}

// =============================================================================
// PUBLISHER
// =============================================================================

// publisher fans snapshots out to subscribers. publish is called from one
// goroutine only.
type publisher struct {
	latest atomic.Pointer[Snapshot]

	mu      sync.Mutex
	version uint64
	subs    map[int]chan Snapshot
	nextID  int
	closed  bool
}

func (p *publisher) publish(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.version++
	snap.Version = p.version
	p.latest.Store(&snap)

	for _, ch := range p.subs {
		// Replace whatever the reader has not taken yet.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (p *publisher) subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	if p.subs == nil {
		p.subs = make(map[int]chan Snapshot)
	}
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	if cur := p.latest.Load(); cur != nil {
		ch <- *cur
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if c, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(c)
			}
		})
	}
}

func (p *publisher) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
