package model

import "time"

type ConversationStatus string

const (
	StatusAI       ConversationStatus = "ai"
	StatusBot      ConversationStatus = "bot"
	StatusWaiting  ConversationStatus = "waiting"
	StatusQueued   ConversationStatus = "queued"
	StatusAssigned ConversationStatus = "assigned"
	StatusActive   ConversationStatus = "active"
	StatusClosed   ConversationStatus = "closed"
)

// Normalize collapses the legacy "bot" alias into "ai".
func (s ConversationStatus) Normalize() ConversationStatus {
	if s == StatusBot {
		return StatusAI
	}
	return s
}

// Terminal reports whether no further transition may be observed.
func (s ConversationStatus) Terminal() bool {
	return s == StatusClosed
}

// HandOffPending reports whether a human agent was requested but none has
// been assigned yet.
func (s ConversationStatus) HandOffPending() bool {
	n := s.Normalize()
	return n == StatusWaiting || n == StatusQueued
}

// AgentEngaged reports whether a human agent owns the conversation.
func (s ConversationStatus) AgentEngaged() bool {
	n := s.Normalize()
	return n == StatusAssigned || n == StatusActive
}

// AgentAvailability is the outcome of a hand-off request. Offline means no
// action was taken; busy and available both leave the hand-off pending.
type AgentAvailability string

const (
	AgentOffline   AgentAvailability = "offline"
	AgentBusy      AgentAvailability = "busy"
	AgentAvailable AgentAvailability = "available"
)

type Sender string

const (
	SenderUser  Sender = "user"
	SenderBot   Sender = "bot"
	SenderAgent Sender = "agent"
)

type Conversation struct {
	ID            string
	BotID         string
	SessionID     string
	Status        ConversationStatus
	AssignedAgent string
	LastActiveAt  time.Time
}

type Message struct {
	ID             string
	ConversationID string
	Sender         Sender
	Text           string
	Sources        []string
	CreatedAt      time.Time
}
