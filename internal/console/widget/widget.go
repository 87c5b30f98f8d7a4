// Package widget implements the embeddable visitor-facing client role. A
// widget owns exactly one conversation, the one bound to its persisted
// session id.
package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-console-core/internal/convstate"
	"chat-console-core/internal/credential"
	"chat-console-core/internal/model"
	"chat-console-core/internal/realtime"
	"chat-console-core/internal/session"
	"chat-console-core/internal/timeline"
	"chat-console-core/internal/transport"
)

type Config struct {
	BaseURL     string
	RealtimeURL string
	BotID       string
	Token       string
	// Sessions defaults to the file store under the user config dir.
	Sessions session.Store
	Now      func() time.Time
}

// InlineError is a failed action surfaced in the conversation thread itself,
// keeping the user's place instead of popping a toast.
type InlineError struct {
	Text      string
	Retriable bool
	At        time.Time
}

type Widget struct {
	cfg      Config
	client   *transport.Client
	tracker  *convstate.Tracker
	identity credential.Identity
	now      func() time.Time

	mu             sync.Mutex
	sessionID      string
	conversationID string
	messages       []model.Message
	errors         []InlineError
	typing         bool
	channel        *realtime.Channel
}

// New validates configuration up front. A missing bot id or token is fatal:
// a half-configured widget would silently fail every subsequent call, so it
// refuses to come up at all.
func New(cfg Config) (*Widget, error) {
	if cfg.BotID == "" {
		return nil, fmt.Errorf("widget: bot id is required; refusing to initialize")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("widget: auth token is required; refusing to initialize")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("widget: API base URL is required; refusing to initialize")
	}

	identity, err := credential.Parse(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("widget: invalid credential: %w", err)
	}

	if cfg.Sessions == nil {
		store, err := session.DefaultFileStore()
		if err != nil {
			return nil, fmt.Errorf("widget: session store: %w", err)
		}
		cfg.Sessions = store
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Widget{
		cfg:      cfg,
		client:   transport.NewClient(cfg.BaseURL, cfg.Token),
		tracker:  convstate.NewTracker(),
		identity: identity,
		now:      cfg.Now,
	}, nil
}

// Start resumes or opens the conversation for this bot's session and loads
// its history. Safe to call after a restart: the same session id is always
// presented, and the server resumes rather than duplicates.
func (w *Widget) Start(ctx context.Context) error {
	sessionID, err := session.GetOrCreateSessionID(w.cfg.Sessions, w.cfg.BotID)
	if err != nil {
		return err
	}

	conversation, err := w.client.Start(ctx, w.cfg.BotID, sessionID)
	if err != nil {
		return fmt.Errorf("widget: start conversation: %w", err)
	}

	history, err := w.client.FetchHistory(ctx, sessionID, w.cfg.BotID)
	if err != nil {
		return fmt.Errorf("widget: fetch history: %w", err)
	}

	w.mu.Lock()
	w.sessionID = sessionID
	w.conversationID = conversation.ID
	w.messages = timeline.Replace(history)
	w.mu.Unlock()

	w.tracker.ApplySnapshot(conversation)
	return nil
}

// Connect establishes the realtime channel. A failed connection is not
// fatal; the channel retries on its own and REST stays usable meanwhile.
func (w *Widget) Connect() {
	if w.cfg.RealtimeURL == "" {
		return
	}
	channel := realtime.Dial(w.cfg.RealtimeURL, w.cfg.Token, w.identity.TenantID, w)

	w.mu.Lock()
	w.channel = channel
	w.mu.Unlock()
}

// Send appends an optimistic echo, issues the request, and rolls the echo
// back with an inline error entry when delivery fails. The typing indicator
// is local UI sugar held exactly for the duration of the call.
func (w *Widget) Send(ctx context.Context, text string) error {
	w.mu.Lock()
	if !w.inputEnabledLocked() {
		w.mu.Unlock()
		return fmt.Errorf("widget: conversation is closed")
	}
	echo := timeline.NewLocalEcho(w.conversationID, text, w.now())
	w.messages = timeline.Merge(w.messages, echo)
	w.typing = true
	sessionID := w.sessionID
	w.mu.Unlock()

	err := w.client.Send(ctx, w.cfg.BotID, sessionID, text)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.typing = false

	if err != nil {
		w.messages = timeline.Remove(w.messages, echo.ID)
		w.errors = append(w.errors, inlineErrorFor(err, w.now()))
		return err
	}
	return nil
}

// RequestAgent drives the "Talk to a human" affordance. Offline re-enables
// the button; busy and available leave the hand-off pending until realtime
// reports a terminal outcome.
func (w *Widget) RequestAgent(ctx context.Context) (model.AgentAvailability, error) {
	w.mu.Lock()
	conversationID := w.conversationID
	sessionID := w.sessionID
	w.mu.Unlock()

	if !w.tracker.CanRequestAgent(conversationID) {
		return "", fmt.Errorf("widget: hand-off already pending or resolved")
	}

	state, err := w.client.RequestAgent(ctx, sessionID, w.cfg.BotID)
	if err != nil {
		w.mu.Lock()
		w.errors = append(w.errors, inlineErrorFor(err, w.now()))
		w.mu.Unlock()
		return "", err
	}

	w.tracker.MarkAgentRequested(conversationID, state)
	return state, nil
}

// Close tears down the realtime channel and notifies the server that the
// session ended. The persisted session id is deliberately kept so the next
// visit resumes.
func (w *Widget) Close() {
	w.mu.Lock()
	channel := w.channel
	w.channel = nil
	sessionID := w.sessionID
	w.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	if sessionID != "" {
		w.client.EndSession(sessionID, w.cfg.BotID)
	}
}

// HandleMessageNew implements realtime.Handler. Events for other tenant
// conversations are filtered with a single id comparison.
func (w *Widget) HandleMessageNew(message model.Message) {
	w.mu.Lock()
	if message.ConversationID != w.conversationID {
		w.mu.Unlock()
		return
	}
	w.messages = timeline.Reconcile(w.messages, message)
	w.mu.Unlock()

	w.tracker.ApplyMessage(message)
}

// HandleConversationCreated doubles as a snapshot upsert: assignment and
// status changes for the widget's own conversation arrive on this event, and
// the authoritative snapshot overwrites the optimistic waiting status. Other
// conversations of the tenant are irrelevant here.
func (w *Widget) HandleConversationCreated(conversation model.Conversation) {
	w.mu.Lock()
	mine := conversation.ID == w.conversationID
	w.mu.Unlock()
	if mine {
		w.tracker.ApplySnapshot(conversation)
	}
}

func (w *Widget) HandleConversationClosed(conversationID string) {
	w.mu.Lock()
	mine := conversationID == w.conversationID
	w.mu.Unlock()
	if mine {
		w.tracker.ApplyClosed(conversationID)
	}
}

// Messages returns a copy of the visible timeline.
func (w *Widget) Messages() []model.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Errors returns the inline error entries shown in the thread.
func (w *Widget) Errors() []InlineError {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]InlineError, len(w.errors))
	copy(out, w.errors)
	return out
}

func (w *Widget) Status() model.ConversationStatus {
	w.mu.Lock()
	conversationID := w.conversationID
	w.mu.Unlock()

	conversation, ok := w.tracker.Get(conversationID)
	if !ok {
		return model.StatusAI
	}
	return conversation.Status
}

// Typing reports the local typing indicator; it has no server-side state.
func (w *Widget) Typing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.typing
}

// CanRequestAgent reports whether the hand-off button is enabled.
func (w *Widget) CanRequestAgent() bool {
	w.mu.Lock()
	conversationID := w.conversationID
	w.mu.Unlock()
	return w.tracker.CanRequestAgent(conversationID)
}

// InputEnabled reports whether the chat input accepts text.
func (w *Widget) InputEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inputEnabledLocked()
}

func (w *Widget) inputEnabledLocked() bool {
	conversation, ok := w.tracker.Get(w.conversationID)
	if !ok {
		return w.conversationID != ""
	}
	return !conversation.Status.Terminal()
}

// SessionID exposes the resolved session id, mainly for diagnostics.
func (w *Widget) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// AvailabilityNotice is the line shown to the visitor for a hand-off
// outcome.
func AvailabilityNotice(state model.AgentAvailability) string {
	switch state {
	case model.AgentOffline:
		return "No agents are currently available."
	case model.AgentBusy:
		return "All agents are busy right now; you are in the queue."
	case model.AgentAvailable:
		return "An agent will join the conversation shortly."
	default:
		return ""
	}
}

func inlineErrorFor(err error, at time.Time) InlineError {
	entry := InlineError{Text: err.Error(), At: at}
	var transportErr *transport.Error
	if errors.As(err, &transportErr) {
		entry.Retriable = transportErr.Retriable()
		if transportErr.Kind == transport.ErrorKindAuthorization {
			entry.Text = transportErr.Message
		}
		if transportErr.WidgetError {
			entry.Text = "widget misconfigured: " + transportErr.Message
		}
	}
	return entry
}
