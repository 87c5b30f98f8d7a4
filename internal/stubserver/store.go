package stubserver

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-console-core/internal/model"
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeWidget       ErrorCode = "widget_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Store keeps all stub state in memory. Durable persistence and scaling are
// deliberately absent; this exists to honor the client contract in local
// development and tests.
type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	bots          map[string]struct{}
	conversations map[string]*model.Conversation
	bySession     map[string]string // botID#sessionID -> conversationID
	messages      map[string][]model.Message
	availability  model.AgentAvailability
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:           now,
		bots:          make(map[string]struct{}),
		conversations: make(map[string]*model.Conversation),
		bySession:     make(map[string]string),
		messages:      make(map[string][]model.Message),
		availability:  model.AgentOffline,
	}
}

// RegisterBot makes a bot id valid; messages to unknown bots fail with the
// widget misconfiguration flag.
func (s *Store) RegisterBot(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[botID] = struct{}{}
}

// SetAvailability flips the canned hand-off outcome.
func (s *Store) SetAvailability(state model.AgentAvailability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.availability = state
}

func sessionKey(botID, sessionID string) string {
	return botID + "#" + sessionID
}

// StartConversation opens a conversation for the session or resumes the
// existing open one. Idempotency lives here, server-side, keyed by the
// session id the client persists.
func (s *Store) StartConversation(botID, sessionID string) (model.Conversation, bool, error) {
	botID = strings.TrimSpace(botID)
	sessionID = strings.TrimSpace(sessionID)
	if botID == "" || sessionID == "" {
		return model.Conversation{}, false, newError(ErrorCodeValidation, "botId and sessionId are required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bots[botID]; !ok {
		return model.Conversation{}, false, newError(ErrorCodeWidget, "unknown bot id", nil)
	}

	key := sessionKey(botID, sessionID)
	if id, ok := s.bySession[key]; ok {
		if existing := s.conversations[id]; existing != nil && !existing.Status.Terminal() {
			return *existing, false, nil
		}
	}

	now := s.now().UTC()
	conversation := &model.Conversation{
		ID:           uuid.NewString(),
		BotID:        botID,
		SessionID:    sessionID,
		Status:       model.StatusAI,
		LastActiveAt: now,
	}
	s.conversations[conversation.ID] = conversation
	s.bySession[key] = conversation.ID
	return *conversation, true, nil
}

// AppendVisitorMessage stores the visitor's message and, while no agent is
// engaged, a canned bot reply with citation sources.
func (s *Store) AppendVisitorMessage(botID, sessionID, text string) (model.Message, *model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, nil, newError(ErrorCodeValidation, "message text is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bots[botID]; !ok {
		return model.Message{}, nil, newError(ErrorCodeWidget, "unknown bot id", nil)
	}

	conversation, err := s.lookupBySessionLocked(botID, sessionID)
	if err != nil {
		return model.Message{}, nil, err
	}
	if conversation.Status.Terminal() {
		return model.Message{}, nil, newError(ErrorCodeConflict, "conversation is closed", nil)
	}

	now := s.now().UTC()
	message := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		Sender:         model.SenderUser,
		Text:           text,
		CreatedAt:      now,
	}
	s.appendLocked(conversation, message)

	if conversation.Status.AgentEngaged() || conversation.Status.HandOffPending() {
		return message, nil, nil
	}

	reply := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		Sender:         model.SenderBot,
		Text:           fmt.Sprintf("You said: %q. A human can take over anytime.", text),
		Sources:        []string{"stub-kb/welcome"},
		CreatedAt:      now.Add(time.Millisecond),
	}
	s.appendLocked(conversation, reply)
	return message, &reply, nil
}

// History returns the ordered message log of the session's conversation.
func (s *Store) History(botID, sessionID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, err := s.lookupBySessionLocked(botID, sessionID)
	if err != nil {
		return nil, err
	}
	return append([]model.Message(nil), s.messages[conversation.ID]...), nil
}

// RequestAgent reports the canned availability and, unless offline, parks
// the conversation in waiting until an agent reply assigns it.
func (s *Store) RequestAgent(botID, sessionID string) (model.AgentAvailability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, err := s.lookupBySessionLocked(botID, sessionID)
	if err != nil {
		return "", err
	}
	if conversation.Status.Terminal() {
		return "", newError(ErrorCodeConflict, "conversation is closed", nil)
	}

	state := s.availability
	if state == model.AgentOffline {
		return state, nil
	}
	if !conversation.Status.AgentEngaged() {
		conversation.Status = model.StatusWaiting
	}
	return state, nil
}

// ConversationBySession resolves the session's current conversation.
func (s *Store) ConversationBySession(botID, sessionID string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, err := s.lookupBySessionLocked(botID, sessionID)
	if err != nil {
		return model.Conversation{}, err
	}
	return *conversation, nil
}

// EndSession closes the session's conversation. The session key stays
// mapped so a resumed session opens a fresh conversation.
func (s *Store) EndSession(botID, sessionID string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, err := s.lookupBySessionLocked(botID, sessionID)
	if err != nil {
		return model.Conversation{}, err
	}
	conversation.Status = model.StatusClosed
	return *conversation, nil
}

// ListConversations returns every conversation, most recent activity first
// left to the client; order here is insertion-stable enough for a stub.
func (s *Store) ListConversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Conversation, 0, len(s.conversations))
	for _, conversation := range s.conversations {
		out = append(out, *conversation)
	}
	return out
}

// ListAgentConversations filters to one agent's assignments.
func (s *Store) ListAgentConversations(agentID string) []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Conversation, 0)
	for _, conversation := range s.conversations {
		if conversation.AssignedAgent == agentID {
			out = append(out, *conversation)
		}
	}
	return out
}

// Messages returns the log for one conversation id.
func (s *Store) Messages(conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, newError(ErrorCodeNotFound, "conversation not found", nil)
	}
	return append([]model.Message(nil), s.messages[conversationID]...), nil
}

// AppendAgentReply stores an agent message. The first reply assigns the
// conversation to that agent and activates it.
func (s *Store) AppendAgentReply(agentID, conversationID, text string) (model.Message, model.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, model.Conversation{}, newError(ErrorCodeValidation, "message text is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[conversationID]
	if !ok {
		return model.Message{}, model.Conversation{}, newError(ErrorCodeNotFound, "conversation not found", nil)
	}
	if conversation.Status.Terminal() {
		return model.Message{}, model.Conversation{}, newError(ErrorCodeConflict, "conversation is closed", nil)
	}

	if conversation.AssignedAgent == "" {
		conversation.AssignedAgent = agentID
	}
	conversation.Status = model.StatusActive

	message := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		Sender:         model.SenderAgent,
		Text:           text,
		CreatedAt:      s.now().UTC(),
	}
	s.appendLocked(conversation, message)
	return message, *conversation, nil
}

func (s *Store) lookupBySessionLocked(botID, sessionID string) (*model.Conversation, error) {
	id, ok := s.bySession[sessionKey(botID, sessionID)]
	if !ok {
		return nil, newError(ErrorCodeNotFound, "conversation not found", nil)
	}
	conversation, ok := s.conversations[id]
	if !ok {
		return nil, newError(ErrorCodeNotFound, "conversation not found", nil)
	}
	return conversation, nil
}

func (s *Store) appendLocked(conversation *model.Conversation, message model.Message) {
	s.messages[conversation.ID] = append(s.messages[conversation.ID], message)
	if message.CreatedAt.After(conversation.LastActiveAt) {
		conversation.LastActiveAt = message.CreatedAt
	}
}
