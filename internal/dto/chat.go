package dto

import (
	"time"

	"chat-console-core/internal/model"
)

type ConversationPayload struct {
	ID            string `json:"id"`
	BotID         string `json:"botId"`
	SessionID     string `json:"sessionId"`
	Status        string `json:"status"`
	AssignedAgent string `json:"assignedAgent,omitempty"`
	LastActiveAt  string `json:"lastActiveAt,omitempty"`
}

type MessagePayload struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversationId"`
	Sender         string   `json:"sender"`
	Text           string   `json:"text"`
	Sources        []string `json:"sources,omitempty"`
	CreatedAt      string   `json:"createdAt"`
}

type StartConversationRequest struct {
	BotID     string `json:"botId"`
	SessionID string `json:"sessionId"`
}

type StartConversationResponse struct {
	Success      bool                `json:"success"`
	Conversation ConversationPayload `json:"conversation"`
}

type ListMessagesResponse struct {
	Success  bool             `json:"success"`
	Messages []MessagePayload `json:"messages"`
}

type SendMessageRequest struct {
	BotID     string `json:"botId"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type SendMessageResponse struct {
	Success bool           `json:"success"`
	Reply   MessagePayload `json:"reply"`
}

type RequestAgentRequest struct {
	SessionID string `json:"sessionId"`
	BotID     string `json:"botId"`
}

type RequestAgentResponse struct {
	State string `json:"state"`
}

type EndSessionRequest struct {
	SessionID string `json:"sessionId"`
	BotID     string `json:"botId"`
}

type ListConversationsResponse struct {
	Success       bool                  `json:"success"`
	Conversations []ConversationPayload `json:"conversations"`
}

type AgentReplyRequest struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error       string `json:"error"`
	WidgetError bool   `json:"widgetError,omitempty"`
}

func (c ConversationPayload) ToModel() model.Conversation {
	lastActive, _ := time.Parse(time.RFC3339, c.LastActiveAt)
	return model.Conversation{
		ID:            c.ID,
		BotID:         c.BotID,
		SessionID:     c.SessionID,
		Status:        model.ConversationStatus(c.Status).Normalize(),
		AssignedAgent: c.AssignedAgent,
		LastActiveAt:  lastActive,
	}
}

func FromConversation(c model.Conversation) ConversationPayload {
	payload := ConversationPayload{
		ID:            c.ID,
		BotID:         c.BotID,
		SessionID:     c.SessionID,
		Status:        string(c.Status),
		AssignedAgent: c.AssignedAgent,
	}
	if !c.LastActiveAt.IsZero() {
		payload.LastActiveAt = c.LastActiveAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func (m MessagePayload) ToModel() model.Message {
	createdAt, _ := time.Parse(time.RFC3339, m.CreatedAt)
	return model.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         model.Sender(m.Sender),
		Text:           m.Text,
		Sources:        m.Sources,
		CreatedAt:      createdAt,
	}
}

func FromMessage(m model.Message) MessagePayload {
	return MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         string(m.Sender),
		Text:           m.Text,
		Sources:        m.Sources,
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func ToMessages(payloads []MessagePayload) []model.Message {
	if len(payloads) == 0 {
		return nil
	}
	out := make([]model.Message, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p.ToModel())
	}
	return out
}

func ToConversations(payloads []ConversationPayload) []model.Conversation {
	if len(payloads) == 0 {
		return nil
	}
	out := make([]model.Conversation, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p.ToModel())
	}
	return out
}
