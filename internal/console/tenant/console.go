// Package tenant implements the tenant "chats" console: it observes every
// conversation belonging to the tenant, with no reply capability.
package tenant

import (
	"context"
	"fmt"
	"sort"
	"sync"

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
}

type Console struct {
	cfg      Config
	client   *transport.Client
	tracker  *convstate.Tracker
	identity credential.Identity

	mu       sync.Mutex
	selected string
	thread   []model.Message
	channel  *realtime.Channel
}

func New(cfg Config) (*Console, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tenant console: API base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("tenant console: bearer token is required")
	}
	identity, err := credential.Parse(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("tenant console: invalid credential: %w", err)
	}

	return &Console{
		cfg:      cfg,
		client:   transport.NewClient(cfg.BaseURL, cfg.Token),
		tracker:  convstate.NewTracker(),
		identity: identity,
	}, nil
}

// Connect establishes the tenant room subscription. Non-fatal on failure;
// Refresh keeps the list correct without it.
func (c *Console) Connect() {
	if c.cfg.RealtimeURL == "" {
		return
	}
	channel := realtime.Dial(c.cfg.RealtimeURL, c.cfg.Token, c.identity.TenantID, c)

	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()
}

// Refresh reloads the authoritative conversation list. Messages buffered for
// the currently open thread while it was unknown are merged in here rather
// than dropped.
func (c *Console) Refresh(ctx context.Context) error {
	conversations, err := c.client.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("tenant console: list conversations: %w", err)
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

// Open selects a conversation and loads its history. A history response that
// resolves after the selection moved on is discarded; there is no request
// cancellation, only this staleness guard.
func (c *Console) Open(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.selected = conversationID
	c.thread = nil
	c.mu.Unlock()

	history, err := c.client.ListMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("tenant console: open %s: %w", conversationID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected != conversationID {
		// User switched threads while the fetch was in flight.
		return nil
	}
	c.thread = timeline.Replace(history)
	if buffered := c.tracker.DrainBuffered(conversationID); len(buffered) > 0 {
		c.thread = timeline.Merge(c.thread, buffered...)
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

// HandleMessageNew implements realtime.Handler.
func (c *Console) HandleMessageNew(message model.Message) {
	c.tracker.ApplyMessage(message)

	c.mu.Lock()
	defer c.mu.Unlock()
	if message.ConversationID == c.selected {
		c.thread = timeline.Merge(c.thread, message)
	}
}

func (c *Console) HandleConversationCreated(conversation model.Conversation) {
	c.tracker.ApplySnapshot(conversation)
}

func (c *Console) HandleConversationClosed(conversationID string) {
	c.tracker.ApplyClosed(conversationID)
}

// Conversations returns the tenant's conversations, most recently active
// first.
func (c *Console) Conversations() []model.Conversation {
	conversations := c.tracker.Conversations()
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastActiveAt.After(conversations[j].LastActiveAt)
	})
	return conversations
}

// Selected returns the currently open conversation id, if any.
func (c *Console) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Thread returns a copy of the open conversation's timeline.
func (c *Console) Thread() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.thread))
	copy(out, c.thread)
	return out
}

// Status reports the tracked status of a conversation.
func (c *Console) Status(conversationID string) (model.ConversationStatus, bool) {
	conversation, ok := c.tracker.Get(conversationID)
	if !ok {
		return "", false
	}
	return conversation.Status, true
}
