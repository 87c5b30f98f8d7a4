package stubserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-console-core/internal/credential"
	"chat-console-core/internal/dto"
	"chat-console-core/internal/model"
	"chat-console-core/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func methodHandler(w http.ResponseWriter, r *http.Request, allowed map[string]apiFunc) error {
	if handler, ok := allowed[r.Method]; ok {
		return handler(w, r)
	}
	return &HTTPError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    "method not allowed",
		ErrorLog:   fmt.Errorf("method %s not allowed on %s", r.Method, r.URL.Path),
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "invalid request body",
			ErrorLog:   err,
		}
	}
	return nil
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) error {
	return methodHandler(w, r, map[string]apiFunc{
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
			var req dto.StartConversationRequest
			if err := decodeBody(r, &req); err != nil {
				return err
			}

			conversation, created, err := s.store.StartConversation(req.BotID, req.SessionID)
			if err != nil {
				return err
			}
			if created {
				s.notifyConversation(realtime.EventConversationCreated, conversation)
			}

			return WriteJSON(w, http.StatusOK, dto.StartConversationResponse{
				Success:      true,
				Conversation: dto.FromConversation(conversation),
			})
		},
	})
}

// handleSessionMessages serves GET /conversation/{sessionId}/messages?botId=.
func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) error {
	return methodHandler(w, r, map[string]apiFunc{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			rest := strings.TrimPrefix(r.URL.Path, "/conversation/")
			sessionID, ok := strings.CutSuffix(strings.TrimRight(rest, "/"), "/messages")
			if !ok || sessionID == "" || strings.Contains(sessionID, "/") {
				return &HTTPError{StatusCode: http.StatusNotFound, Message: "not found"}
			}

			messages, err := s.store.History(r.URL.Query().Get("botId"), sessionID)
			if err != nil {
				return err
			}

			payloads := make([]dto.MessagePayload, 0, len(messages))
			for _, message := range messages {
				payloads = append(payloads, dto.FromMessage(message))
			}
			return WriteJSON(w, http.StatusOK, dto.ListMessagesResponse{
				Success:  true,
				Messages: payloads,
			})
		},
	})
}

func (s *Server) handleVisitorMessage(w http.ResponseWriter, r *http.Request) error {
	return methodHandler(w, r, map[string]apiFunc{
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
			var req dto.SendMessageRequest
			if err := decodeBody(r, &req); err != nil {
				return err
			}

			message, reply, err := s.store.AppendVisitorMessage(req.BotID, req.SessionID, req.Message)
			if err != nil {
				return err
			}

			s.notifyMessage(message)
			responseReply := message
			if reply != nil {
				s.notifyMessage(*reply)
				responseReply = *reply
			}

			return WriteJSON(w, http.StatusOK, dto.SendMessageResponse{
				Success: true,
				Reply:   dto.FromMessage(responseReply),
			})
		},
	})
}

func (s *Server) handleRequestAgent(w http.ResponseWriter, r *http.Request) error {
	return methodHandler(w, r, map[string]apiFunc{
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
			var req dto.RequestAgentRequest
			if err := decodeBody(r, &req); err != nil {
				return err
			}

			state, err := s.store.RequestAgent(req.BotID, req.SessionID)
			if err != nil {
				return err
			}

			// Consoles learn about the pending hand-off without polling.
			if state != model.AgentOffline {
				if conversation, err := s.store.ConversationBySession(req.BotID, req.SessionID); err == nil {
					s.notifyConversation(realtime.EventConversationCreated, conversation)
				}
			}

			return WriteJSON(w, http.StatusOK, dto.RequestAgentResponse{State: string(state)})
		},
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) error {
	return methodHandler(w, r, map[string]apiFunc{
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
			var req dto.EndSessionRequest
			if err := decodeBody(r, &req); err != nil {
				return err
			}

			conversation, err := s.store.EndSession(req.BotID, req.SessionID)
			if err != nil {
				return err
			}
			s.notifier.Notify(s.cfg.TenantID, realtime.Event{
				Type:           realtime.EventConversationClosed,
				ConversationID: conversation.ID,
			})

			return WriteJSON(w, http.StatusOK, struct {
				Success bool `json:"success"`
			}{true})
		},
	})
}

func (s *Server) handleTenantConversations(w http.ResponseWriter, r *http.Request) error {
	return methodHandler(w, r, map[string]apiFunc{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			return writeConversations(w, s.store.ListConversations())
		},
	})
}

// handleAgentConversations serves GET /user/agents/{agentId}/conversations.
func (s *Server) handleAgentConversations(w http.ResponseWriter, r *http.Request) error {
	return methodHandler(w, r, map[string]apiFunc{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			rest := strings.TrimPrefix(r.URL.Path, "/user/agents/")
			agentID, ok := strings.CutSuffix(strings.TrimRight(rest, "/"), "/conversations")
			if !ok || agentID == "" || strings.Contains(agentID, "/") {
				return &HTTPError{StatusCode: http.StatusNotFound, Message: "not found"}
			}
			return writeConversations(w, s.store.ListAgentConversations(agentID))
		},
	})
}

// handleConversationMessages serves GET /user/conversations/{id}/messages.
func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) error {
	return methodHandler(w, r, map[string]apiFunc{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			rest := strings.TrimPrefix(r.URL.Path, "/user/conversations/")
			conversationID, ok := strings.CutSuffix(strings.TrimRight(rest, "/"), "/messages")
			if !ok || conversationID == "" || strings.Contains(conversationID, "/") {
				return &HTTPError{StatusCode: http.StatusNotFound, Message: "not found"}
			}

			messages, err := s.store.Messages(conversationID)
			if err != nil {
				return err
			}
			payloads := make([]dto.MessagePayload, 0, len(messages))
			for _, message := range messages {
				payloads = append(payloads, dto.FromMessage(message))
			}
			return WriteJSON(w, http.StatusOK, dto.ListMessagesResponse{
				Success:  true,
				Messages: payloads,
			})
		},
	})
}

// handleAgentReply serves POST /agents/conversations/{id}/reply.
func (s *Server) handleAgentReply(w http.ResponseWriter, r *http.Request) error {
	return methodHandler(w, r, map[string]apiFunc{
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
			identity, err := s.authorize(r, credential.RoleAgent)
			if err != nil {
				return &HTTPError{StatusCode: http.StatusUnauthorized, Message: "unauthorized", ErrorLog: err}
			}

			rest := strings.TrimPrefix(r.URL.Path, "/agents/conversations/")
			conversationID, ok := strings.CutSuffix(strings.TrimRight(rest, "/"), "/reply")
			if !ok || conversationID == "" || strings.Contains(conversationID, "/") {
				return &HTTPError{StatusCode: http.StatusNotFound, Message: "not found"}
			}

			var req dto.AgentReplyRequest
			if err := decodeBody(r, &req); err != nil {
				return err
			}

			message, conversation, err := s.store.AppendAgentReply(identity.UserID, conversationID, req.Message)
			if err != nil {
				return err
			}
			s.notifyMessage(message)
			// Assignment and status ride along as a snapshot upsert.
			s.notifyConversation(realtime.EventConversationCreated, conversation)

			return WriteJSON(w, http.StatusOK, dto.SendMessageResponse{
				Success: true,
				Reply:   dto.FromMessage(message),
			})
		},
	})
}

// handleRealtime upgrades the connection and parks the client in its
// tenant's room. Auth rides the token query parameter because browser
// websockets cannot set headers.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	identity, err := VerifyToken(s.cfg.TokenSecret, r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan any, 32),
		id:       uuid.NewString(),
		tenantID: identity.TenantID,
		done:     make(chan struct{}),
	}
	s.hub.Register <- client

	go client.writePump()
	go client.keepAlive()
	go client.readPump(s.hub)
}

func (s *Server) notifyMessage(message model.Message) {
	payload := dto.FromMessage(message)
	s.notifier.Notify(s.cfg.TenantID, realtime.Event{
		Type:           realtime.EventMessageNew,
		ConversationID: message.ConversationID,
		Message:        &payload,
	})
}

func (s *Server) notifyConversation(eventType realtime.EventType, conversation model.Conversation) {
	payload := dto.FromConversation(conversation)
	s.notifier.Notify(s.cfg.TenantID, realtime.Event{
		Type:           eventType,
		ConversationID: conversation.ID,
		Conversation:   &payload,
	})
}

func writeConversations(w http.ResponseWriter, conversations []model.Conversation) error {
	payloads := make([]dto.ConversationPayload, 0, len(conversations))
	for _, conversation := range conversations {
		payloads = append(payloads, dto.FromConversation(conversation))
	}
	return WriteJSON(w, http.StatusOK, dto.ListConversationsResponse{
		Success:       true,
		Conversations: payloads,
	})
}
