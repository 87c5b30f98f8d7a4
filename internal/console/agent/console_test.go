package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"

	"chat-console-core/internal/dto"
	"chat-console-core/internal/model"
	"chat-console-core/internal/timeline"
)

var consoleTime = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func testToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       "agent-7",
		"tenantId": "tenant-1",
		"role":     "agent",
		"exp":      consoleTime.Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

type fakeBackend struct {
	mu            sync.Mutex
	conversations []dto.ConversationPayload
	messages      map[string][]dto.MessagePayload
	replyStatus   int
	replies       []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages:    make(map[string][]dto.MessagePayload),
		replyStatus: http.StatusCreated,
	}
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/agents/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		conversations := append([]dto.ConversationPayload(nil), b.conversations...)
		b.mu.Unlock()
		json.NewEncoder(w).Encode(dto.ListConversationsResponse{Success: true, Conversations: conversations})
	})
	mux.HandleFunc("/user/conversations/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		conversationID := parts[2]
		b.mu.Lock()
		messages := append([]dto.MessagePayload(nil), b.messages[conversationID]...)
		b.mu.Unlock()
		json.NewEncoder(w).Encode(dto.ListMessagesResponse{Success: true, Messages: messages})
	})
	mux.HandleFunc("/agents/conversations/", func(w http.ResponseWriter, r *http.Request) {
		var req dto.AgentReplyRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		status := b.replyStatus
		b.replies = append(b.replies, req.Message)
		b.mu.Unlock()
		if status >= 400 {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "reply rejected"})
			return
		}
		w.WriteHeader(status)
	})
	return mux
}

func newTestConsole(t *testing.T, backend *fakeBackend) *Console {
	t.Helper()
	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	console, err := New(Config{
		BaseURL: server.URL,
		Token:   testToken(t),
		Now:     func() time.Time { return consoleTime },
	})
	if err != nil {
		t.Fatalf("new console: %v", err)
	}
	return console
}

func assignedConversation(id string, agentID string) dto.ConversationPayload {
	return dto.ConversationPayload{
		ID:            id,
		BotID:         "bot-1",
		SessionID:     "sess-" + id,
		Status:        "assigned",
		AssignedAgent: agentID,
		LastActiveAt:  consoleTime.Format(time.RFC3339),
	}
}

func TestAgentIDFromCredential(t *testing.T) {
	console := newTestConsole(t, newFakeBackend())
	if console.agentID != "agent-7" {
		t.Fatalf("agent id not derived from credential: %s", console.agentID)
	}
}

func TestConversationsFilteredToOwnAssignments(t *testing.T) {
	backend := newFakeBackend()
	console := newTestConsole(t, backend)

	// Tenant-wide fan-out delivers foreign assignments too; the console
	// filters by ownership with O(1) comparisons.
	console.HandleConversationCreated(model.Conversation{
		ID: "conv-mine", AssignedAgent: "agent-7", Status: model.StatusAssigned, LastActiveAt: consoleTime,
	})
	console.HandleConversationCreated(model.Conversation{
		ID: "conv-other", AssignedAgent: "agent-9", Status: model.StatusAssigned, LastActiveAt: consoleTime,
	})

	conversations := console.Conversations()
	if len(conversations) != 1 || conversations[0].ID != "conv-mine" {
		t.Fatalf("assignment filter failed: %+v", conversations)
	}
}

func TestReplyOptimisticEchoAndReconcile(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = []dto.ConversationPayload{assignedConversation("conv-1", "agent-7")}

	console := newTestConsole(t, backend)
	if err := console.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := console.Open(context.Background(), "conv-1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := console.Reply(context.Background(), "conv-1", "on it"); err != nil {
		t.Fatalf("reply: %v", err)
	}

	thread := console.Thread()
	if len(thread) != 1 || thread[0].Text != "on it" || thread[0].Sender != model.SenderAgent {
		t.Fatalf("optimistic agent echo missing: %+v", thread)
	}
	if !timeline.IsLocalEcho(thread[0]) {
		t.Fatal("echo should carry a temporary id until confirmed")
	}

	console.HandleMessageNew(model.Message{
		ID:             "m50",
		ConversationID: "conv-1",
		Sender:         model.SenderAgent,
		Text:           "on it",
		CreatedAt:      consoleTime.Add(time.Second),
	})

	thread = console.Thread()
	if len(thread) != 1 || thread[0].ID != "m50" {
		t.Fatalf("agent echo not reconciled: %+v", thread)
	}
}

func TestReplyFailureRollsBack(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = []dto.ConversationPayload{assignedConversation("conv-1", "agent-7")}
	backend.replyStatus = http.StatusBadRequest

	console := newTestConsole(t, backend)
	if err := console.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := console.Open(context.Background(), "conv-1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := console.Reply(context.Background(), "conv-1", "on it"); err == nil {
		t.Fatal("expected reply to fail")
	}
	if len(console.Thread()) != 0 {
		t.Fatalf("failed echo not rolled back: %+v", console.Thread())
	}
	if len(console.Errors()) != 1 {
		t.Fatal("inline error entry missing")
	}
}

func TestClosedEventDisablesReplyKeepsHistory(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = []dto.ConversationPayload{assignedConversation("conv-1", "agent-7")}
	backend.messages["conv-1"] = []dto.MessagePayload{
		{ID: "m1", ConversationID: "conv-1", Sender: "user", Text: "help", CreatedAt: consoleTime.Format(time.RFC3339)},
	}

	console := newTestConsole(t, backend)
	if err := console.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := console.Open(context.Background(), "conv-1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	console.HandleConversationClosed("conv-1")

	if console.ReplyEnabled("conv-1") {
		t.Fatal("reply input must be disabled once the thread is closed")
	}
	status, _ := console.Status("conv-1")
	if status != model.StatusClosed {
		t.Fatalf("expected closed, got %s", status)
	}
	if len(console.Thread()) != 1 {
		t.Fatal("message history must be preserved")
	}
	if err := console.Reply(context.Background(), "conv-1", "too late"); err == nil {
		t.Fatal("reply must be refused locally after close")
	}

	backend.mu.Lock()
	replies := len(backend.replies)
	backend.mu.Unlock()
	if replies != 0 {
		t.Fatalf("refused reply still reached the server %d times", replies)
	}
}
