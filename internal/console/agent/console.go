// Package agent implements the individual agent console: the tenant console
// view narrowed to one agent's assignments, plus reply capability.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chat-console-core/internal/convstate"
	"chat-console-core/internal/credential"
	"chat-console-core/internal/model"
	"chat-console-core/internal/realtime"
	"chat-console-core/internal/timeline"
	"chat-console-core/internal/transport"
)

type Config struct {
	BaseURL     string
	RealtimeURL string
	Token       string
	// AgentID defaults to the id claim of the bearer credential.
	AgentID string
	Now     func() time.Time
}

type InlineError struct {
	Text      string
	Retriable bool
	At        time.Time
}

type Console struct {
	cfg      Config
	client   *transport.Client
	tracker  *convstate.Tracker
	identity credential.Identity
	agentID  string
	now      func() time.Time

	mu       sync.Mutex
	selected string
	thread   []model.Message
	errors   []InlineError
	channel  *realtime.Channel
}

func New(cfg Config) (*Console, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("agent console: API base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("agent console: bearer token is required")
	}
	identity, err := credential.Parse(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("agent console: invalid credential: %w", err)
	}

	agentID := cfg.AgentID
	if agentID == "" {
		agentID = identity.UserID
	}
	if agentID == "" {
		return nil, fmt.Errorf("agent console: agent id missing from config and credential")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Console{
		cfg:      cfg,
		client:   transport.NewClient(cfg.BaseURL, cfg.Token),
		tracker:  convstate.NewTracker(),
		identity: identity,
		agentID:  agentID,
		now:      cfg.Now,
	}, nil
}

func (c *Console) Connect() {
	if c.cfg.RealtimeURL == "" {
		return
	}
	channel := realtime.Dial(c.cfg.RealtimeURL, c.cfg.Token, c.identity.TenantID, c)

	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()
}

// Refresh reloads the agent's assigned conversations.
func (c *Console) Refresh(ctx context.Context) error {
	conversations, err := c.client.ListAgentConversations(ctx, c.agentID)
	if err != nil {
		return fmt.Errorf("agent console: list conversations: %w", err)
	}

	for _, conversation := range conversations {
		c.tracker.ApplySnapshot(conversation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected != "" {
		if buffered := c.tracker.DrainBuffered(c.selected); len(buffered) > 0 {
			c.thread = timeline.Merge(c.thread, buffered...)
		}
	}
	return nil
}

// Open selects a conversation and loads its history, discarding the response
// if the selection changed while the fetch was in flight.
func (c *Console) Open(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.selected = conversationID
	c.thread = nil
	c.mu.Unlock()

	history, err := c.client.ListMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("agent console: open %s: %w", conversationID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected != conversationID {
		return nil
	}
	c.thread = timeline.Replace(history)
	if buffered := c.tracker.DrainBuffered(conversationID); len(buffered) > 0 {
		c.thread = timeline.Merge(c.thread, buffered...)
	}
	return nil
}

// Reply posts an agent message with an optimistic echo into the open thread.
// Refused locally once the conversation has closed.
func (c *Console) Reply(ctx context.Context, conversationID, text string) error {
	if !c.ReplyEnabled(conversationID) {
		return fmt.Errorf("agent console: conversation %s is closed", conversationID)
	}

	echo := timeline.NewLocalEcho(conversationID, text, c.now())
	echo.Sender = model.SenderAgent

	c.mu.Lock()
	if c.selected == conversationID {
		c.thread = timeline.Merge(c.thread, echo)
	}
	c.mu.Unlock()

	err := c.client.AgentReply(ctx, conversationID, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.thread = timeline.Remove(c.thread, echo.ID)
		c.errors = append(c.errors, inlineErrorFor(err, c.now()))
		return err
	}
	return nil
}

func (c *Console) Close() {
	c.mu.Lock()
	channel := c.channel
	c.channel = nil
	c.mu.Unlock()
	if channel != nil {
		channel.Close()
	}
}

// HandleMessageNew implements realtime.Handler. Tenant fan-out delivers every
// conversation's messages; anything not tracked for this agent is either
// buffered (possibly an assignment racing the list refresh) or dropped by
// the bounded buffer.
func (c *Console) HandleMessageNew(message model.Message) {
	c.tracker.ApplyMessage(message)

	c.mu.Lock()
	defer c.mu.Unlock()
	if message.ConversationID != c.selected {
		return
	}
	if message.Sender == model.SenderAgent {
		c.thread = timeline.Reconcile(c.thread, message)
		return
	}
	c.thread = timeline.Merge(c.thread, message)
}

// HandleConversationCreated is irrelevant here: a brand-new conversation has
// no assignment yet, so the agent console only picks it up once a refresh
// shows it assigned.
func (c *Console) HandleConversationCreated(conversation model.Conversation) {
	if conversation.AssignedAgent == c.agentID {
		c.tracker.ApplySnapshot(conversation)
	}
}

func (c *Console) HandleConversationClosed(conversationID string) {
	c.tracker.ApplyClosed(conversationID)
}

// Conversations returns this agent's assignments, most recently active first.
func (c *Console) Conversations() []model.Conversation {
	all := c.tracker.Conversations()
	mine := all[:0]
	for _, conversation := range all {
		if conversation.AssignedAgent == c.agentID {
			mine = append(mine, conversation)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool {
		return mine[i].LastActiveAt.After(mine[j].LastActiveAt)
	})
	return mine
}

func (c *Console) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Console) Thread() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.thread))
	copy(out, c.thread)
	return out
}

func (c *Console) Errors() []InlineError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]InlineError, len(c.errors))
	copy(out, c.errors)
	return out
}

// ReplyEnabled reports whether the reply input accepts text for a
// conversation.
func (c *Console) ReplyEnabled(conversationID string) bool {
	conversation, ok := c.tracker.Get(conversationID)
	if !ok {
		return false
	}
	return !conversation.Status.Terminal()
}

func (c *Console) Status(conversationID string) (model.ConversationStatus, bool) {
	conversation, ok := c.tracker.Get(conversationID)
	if !ok {
		return "", false
	}
	return conversation.Status, true
}

func inlineErrorFor(err error, at time.Time) InlineError {
	entry := InlineError{Text: err.Error(), At: at}
	var transportErr *transport.Error
	if errors.As(err, &transportErr) {
		entry.Retriable = transportErr.Retriable()
	}
	return entry
}
