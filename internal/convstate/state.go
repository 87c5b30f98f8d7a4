// Package convstate tracks the authoritative status of conversations as a
// client observes it. Status is derived from server responses and realtime
// events; the only optimism allowed is the short-lived "waiting" shown right
// after a successful hand-off request, and any authoritative read overwrites
// it.
package convstate

import (
	"sync"

	"chat-console-core/internal/model"
)

const (
	// Bounds for events buffered on behalf of conversations the client has
	// not listed yet (race between conversation:created and room join).
	maxBufferedConversations = 64
	maxBufferedMessages      = 256
)

type entry struct {
	conversation model.Conversation
	agentPending bool
}

// Tracker holds the client's view of every conversation it knows about.
// Safe for concurrent use: realtime dispatch and UI reads race freely.
type Tracker struct {
	mu            sync.Mutex
	conversations map[string]*entry
	buffered      map[string][]model.Message
	bufferedTotal int
}

func NewTracker() *Tracker {
	return &Tracker{
		conversations: make(map[string]*entry),
		buffered:      make(map[string][]model.Message),
	}
}

// ApplySnapshot records an authoritative conversation read (history fetch,
// list refresh). It overwrites optimistic status, clears the hand-off gate
// once a terminal outcome is visible, and never un-closes a conversation.
func (t *Tracker) ApplySnapshot(conversation model.Conversation) model.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()

	conversation.Status = conversation.Status.Normalize()

	e, ok := t.conversations[conversation.ID]
	if !ok {
		e = &entry{}
		t.conversations[conversation.ID] = e
	} else {
		if e.conversation.Status.Terminal() {
			conversation.Status = model.StatusClosed
		}
		if conversation.LastActiveAt.Before(e.conversation.LastActiveAt) {
			conversation.LastActiveAt = e.conversation.LastActiveAt
		}
	}

	e.conversation = conversation
	if conversation.Status.Terminal() || conversation.Status.AgentEngaged() {
		e.agentPending = false
	}
	return e.conversation
}

// ApplyClosed latches the terminal state for a conversation. Unknown ids are
// recorded so a later snapshot cannot resurrect the thread.
func (t *Tracker) ApplyClosed(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.conversations[conversationID]
	if !ok {
		e = &entry{conversation: model.Conversation{ID: conversationID}}
		t.conversations[conversationID] = e
	}
	e.conversation.Status = model.StatusClosed
	e.agentPending = false
}

// ApplyMessage records a realtime message for a known conversation, bumping
// its activity timestamp (never backwards). A message for a closed
// conversation is historical only: accepted, but the status stays closed.
// Messages for unknown conversations are buffered, bounded, and reported as
// not known so the caller can trigger a list refresh.
func (t *Tracker) ApplyMessage(message model.Message) (known bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.conversations[message.ConversationID]
	if !ok {
		t.bufferLocked(message)
		return false
	}

	if message.CreatedAt.After(e.conversation.LastActiveAt) {
		e.conversation.LastActiveAt = message.CreatedAt
	}
	return true
}

func (t *Tracker) bufferLocked(message model.Message) {
	if _, ok := t.buffered[message.ConversationID]; !ok {
		if len(t.buffered) >= maxBufferedConversations {
			return
		}
	}
	if t.bufferedTotal >= maxBufferedMessages {
		return
	}
	t.buffered[message.ConversationID] = append(t.buffered[message.ConversationID], message)
	t.bufferedTotal++
}

// DrainBuffered returns and clears messages buffered for a conversation,
// called once the conversation shows up in a list refresh.
func (t *Tracker) DrainBuffered(conversationID string) []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	buffered := t.buffered[conversationID]
	if len(buffered) == 0 {
		return nil
	}
	delete(t.buffered, conversationID)
	t.bufferedTotal -= len(buffered)
	return buffered
}

// MarkAgentRequested applies the outcome of a requestAgent call. Busy and
// available set the pending gate and show the optimistic waiting status;
// offline changes nothing so the user may retry.
func (t *Tracker) MarkAgentRequested(conversationID string, state model.AgentAvailability) {
	if state == model.AgentOffline {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.conversations[conversationID]
	if !ok || e.conversation.Status.Terminal() {
		return
	}
	e.agentPending = true
	if !e.conversation.Status.AgentEngaged() {
		e.conversation.Status = model.StatusWaiting
	}
}

// CanRequestAgent reports whether the hand-off affordance should be enabled:
// not while a request is pending, and never once an agent is engaged or the
// conversation has closed.
func (t *Tracker) CanRequestAgent(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.conversations[conversationID]
	if !ok {
		return false
	}
	if e.agentPending {
		return false
	}
	status := e.conversation.Status
	return !status.Terminal() && !status.AgentEngaged() && !status.HandOffPending()
}

// Get returns the tracked conversation, if any.
func (t *Tracker) Get(conversationID string) (model.Conversation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.conversations[conversationID]
	if !ok {
		return model.Conversation{}, false
	}
	return e.conversation, true
}

// Known reports whether the conversation has been loaded.
func (t *Tracker) Known(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.conversations[conversationID]
	return ok
}

// Conversations returns a copy of every tracked conversation.
func (t *Tracker) Conversations() []model.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.Conversation, 0, len(t.conversations))
	for _, e := range t.conversations {
		out = append(out, e.conversation)
	}
	return out
}
