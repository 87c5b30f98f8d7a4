package stubserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chat-console-core/internal/credential"
	"chat-console-core/internal/dto"
	"chat-console-core/internal/model"
	"chat-console-core/internal/realtime"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(Config{TenantID: "tenant-1", TokenSecret: testSecret})
	s.store.RegisterBot("bot-1")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(s.Shutdown)
	return s, ts
}

func mintTestToken(t *testing.T, role credential.Role, userID string) string {
	t.Helper()
	token, err := MintToken(testSecret, role, "tenant-1", userID, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, method, url, token string, body, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil && resp.StatusCode < 400 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func TestWidgetConversationFlow(t *testing.T) {
	s, ts := newTestServer(t)
	s.store.SetAvailability(model.AgentAvailable)
	token := mintTestToken(t, credential.RoleVisitor, "visitor-1")

	var started dto.StartConversationResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/conversation/start", token,
		dto.StartConversationRequest{BotID: "bot-1", SessionID: "sess-1"}, &started)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d", resp.StatusCode)
	}
	if started.Conversation.Status != string(model.StatusAI) {
		t.Fatalf("start: status %q, want %q", started.Conversation.Status, model.StatusAI)
	}

	// Starting again with the same session resumes the same conversation.
	var resumed dto.StartConversationResponse
	doJSON(t, http.MethodPost, ts.URL+"/conversation/start", token,
		dto.StartConversationRequest{BotID: "bot-1", SessionID: "sess-1"}, &resumed)
	if resumed.Conversation.ID != started.Conversation.ID {
		t.Fatalf("resume opened a new conversation: %q vs %q", resumed.Conversation.ID, started.Conversation.ID)
	}

	var sent dto.SendMessageResponse
	doJSON(t, http.MethodPost, ts.URL+"/chat/message", token,
		dto.SendMessageRequest{BotID: "bot-1", SessionID: "sess-1", Message: "hello"}, &sent)
	if sent.Reply.Sender != string(model.SenderBot) {
		t.Fatalf("expected a bot reply, got sender %q", sent.Reply.Sender)
	}
	if len(sent.Reply.Sources) == 0 {
		t.Fatalf("bot reply carries no sources")
	}

	var history dto.ListMessagesResponse
	doJSON(t, http.MethodGet, ts.URL+"/conversation/sess-1/messages?botId=bot-1", token, nil, &history)
	if len(history.Messages) != 2 {
		t.Fatalf("history length = %d, want 2", len(history.Messages))
	}
	if history.Messages[0].Sender != string(model.SenderUser) || history.Messages[1].Sender != string(model.SenderBot) {
		t.Fatalf("history order wrong: %q, %q", history.Messages[0].Sender, history.Messages[1].Sender)
	}

	var handOff dto.RequestAgentResponse
	doJSON(t, http.MethodPost, ts.URL+"/chat/request-agent", token,
		dto.RequestAgentRequest{BotID: "bot-1", SessionID: "sess-1"}, &handOff)
	if handOff.State != string(model.AgentAvailable) {
		t.Fatalf("request-agent state = %q, want available", handOff.State)
	}

	doJSON(t, http.MethodPost, ts.URL+"/chat/end-session", token,
		dto.EndSessionRequest{BotID: "bot-1", SessionID: "sess-1"}, nil)

	resp = doJSON(t, http.MethodPost, ts.URL+"/chat/message", token,
		dto.SendMessageRequest{BotID: "bot-1", SessionID: "sess-1", Message: "anyone?"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("message after close: status %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	// A fresh start after close opens a new conversation.
	var reopened dto.StartConversationResponse
	doJSON(t, http.MethodPost, ts.URL+"/conversation/start", token,
		dto.StartConversationRequest{BotID: "bot-1", SessionID: "sess-1"}, &reopened)
	if reopened.Conversation.ID == started.Conversation.ID {
		t.Fatalf("start after close resumed the closed conversation")
	}
}

func TestUnknownBotFlaggedAsWidgetError(t *testing.T) {
	_, ts := newTestServer(t)
	token := mintTestToken(t, credential.RoleVisitor, "visitor-1")

	resp := doJSON(t, http.MethodPost, ts.URL+"/conversation/start", token,
		dto.StartConversationRequest{BotID: "nope", SessionID: "sess-1"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	var errResp dto.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if !errResp.WidgetError {
		t.Fatalf("widgetError flag not set: %+v", errResp)
	}
}

func TestWidgetRoutesRejectInvalidToken(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/chat/message", "garbage",
		dto.SendMessageRequest{BotID: "bot-1", SessionID: "sess-1", Message: "hi"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestConsoleRoutesRequireRole(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"visitor token", mintTestToken(t, credential.RoleVisitor, "v1"), http.StatusUnauthorized},
		{"wrong secret", func() string {
			tok, _ := MintToken("other-secret", credential.RoleTenant, "tenant-1", "u1", time.Hour)
			return tok
		}(), http.StatusUnauthorized},
		{"tenant token", mintTestToken(t, credential.RoleTenant, "u1"), http.StatusOK},
		{"agent token", mintTestToken(t, credential.RoleAgent, "agent-1"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodGet, ts.URL+"/user/conversations", tt.token, nil, nil)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestAgentReplyAssignsAndSilencesBot(t *testing.T) {
	_, ts := newTestServer(t)
	visitorToken := mintTestToken(t, credential.RoleVisitor, "visitor-1")
	agentToken := mintTestToken(t, credential.RoleAgent, "agent-7")

	var started dto.StartConversationResponse
	doJSON(t, http.MethodPost, ts.URL+"/conversation/start", visitorToken,
		dto.StartConversationRequest{BotID: "bot-1", SessionID: "sess-1"}, &started)
	conversationID := started.Conversation.ID

	var replied dto.SendMessageResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/agents/conversations/"+conversationID+"/reply", agentToken,
		dto.AgentReplyRequest{Message: "hi, agent here"}, &replied)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reply: status %d", resp.StatusCode)
	}
	if replied.Reply.Sender != string(model.SenderAgent) {
		t.Fatalf("reply sender = %q, want agent", replied.Reply.Sender)
	}

	var mine dto.ListConversationsResponse
	doJSON(t, http.MethodGet, ts.URL+"/user/agents/agent-7/conversations", agentToken, nil, &mine)
	if len(mine.Conversations) != 1 || mine.Conversations[0].ID != conversationID {
		t.Fatalf("agent assignments = %+v", mine.Conversations)
	}
	if mine.Conversations[0].Status != string(model.StatusActive) {
		t.Fatalf("status after reply = %q, want active", mine.Conversations[0].Status)
	}

	// With an agent engaged the canned bot stays quiet.
	var sent dto.SendMessageResponse
	doJSON(t, http.MethodPost, ts.URL+"/chat/message", visitorToken,
		dto.SendMessageRequest{BotID: "bot-1", SessionID: "sess-1", Message: "thanks"}, &sent)
	if sent.Reply.Sender != string(model.SenderUser) {
		t.Fatalf("expected no bot reply, got sender %q", sent.Reply.Sender)
	}

	// Replying as a visitor-role credential is rejected.
	resp = doJSON(t, http.MethodPost, ts.URL+"/agents/conversations/"+conversationID+"/reply", visitorToken,
		dto.AgentReplyRequest{Message: "spoof"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("visitor reply: status %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestRealtimeDeliversTenantEvents(t *testing.T) {
	_, ts := newTestServer(t)
	visitorToken := mintTestToken(t, credential.RoleVisitor, "visitor-1")
	tenantToken := mintTestToken(t, credential.RoleTenant, "owner-1")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime?token=" + tenantToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial realtime: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "room:join", "tenantId": "tenant-1"}); err != nil {
		t.Fatalf("join room: %v", err)
	}

	readEvent := func() realtime.Event {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var event realtime.Event
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("read event: %v", err)
		}
		return event
	}

	var started dto.StartConversationResponse
	doJSON(t, http.MethodPost, ts.URL+"/conversation/start", visitorToken,
		dto.StartConversationRequest{BotID: "bot-1", SessionID: "sess-1"}, &started)

	event := readEvent()
	if event.Type != realtime.EventConversationCreated {
		t.Fatalf("first event = %q, want %q", event.Type, realtime.EventConversationCreated)
	}
	if event.Conversation == nil || event.Conversation.ID != started.Conversation.ID {
		t.Fatalf("created event payload = %+v", event.Conversation)
	}

	doJSON(t, http.MethodPost, ts.URL+"/chat/message", visitorToken,
		dto.SendMessageRequest{BotID: "bot-1", SessionID: "sess-1", Message: "hello"}, nil)

	first := readEvent()
	second := readEvent()
	if first.Type != realtime.EventMessageNew || second.Type != realtime.EventMessageNew {
		t.Fatalf("message events = %q, %q", first.Type, second.Type)
	}
	if first.Message == nil || first.Message.Sender != string(model.SenderUser) {
		t.Fatalf("first message event = %+v", first.Message)
	}
	if second.Message == nil || second.Message.Sender != string(model.SenderBot) {
		t.Fatalf("second message event = %+v", second.Message)
	}

	doJSON(t, http.MethodPost, ts.URL+"/chat/end-session", visitorToken,
		dto.EndSessionRequest{BotID: "bot-1", SessionID: "sess-1"}, nil)

	closed := readEvent()
	if closed.Type != realtime.EventConversationClosed || closed.ConversationID != started.Conversation.ID {
		t.Fatalf("closed event = %+v", closed)
	}
}

func TestRealtimeRejectsBadToken(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial succeeded with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}
