// Package transport wraps the REST contract of the chat backend. One Client
// is created per logical client (widget, tenant console, agent console); the
// resulting message flow is expected over the realtime channel, not over
// these calls' return values.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chat-console-core/internal/dto"
	"chat-console-core/internal/model"
)

const (
	defaultTimeout    = 10 * time.Second
	endSessionTimeout = 3 * time.Second
)

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, bearerToken string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(bearerToken),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// NewClientWithHTTP lets tests substitute the underlying HTTP client.
func NewClientWithHTTP(baseURL, bearerToken string, httpClient *http.Client) *Client {
	c := NewClient(baseURL, bearerToken)
	if httpClient != nil {
		c.client = httpClient
	}
	return c
}

// Start opens or resumes the conversation bound to sessionID. The server is
// the source of truth for idempotency; passing the same session id for the
// life of the local session is the client's whole obligation.
func (c *Client) Start(ctx context.Context, botID, sessionID string) (model.Conversation, error) {
	var resp dto.StartConversationResponse
	err := c.do(ctx, http.MethodPost, "/conversation/start", dto.StartConversationRequest{
		BotID:     botID,
		SessionID: sessionID,
	}, &resp)
	if err != nil {
		return model.Conversation{}, err
	}
	conversation := resp.Conversation.ToModel()
	if conversation.SessionID == "" {
		conversation.SessionID = sessionID
	}
	if conversation.BotID == "" {
		conversation.BotID = botID
	}
	return conversation, nil
}

// FetchHistory returns the full ordered history for the session's
// conversation. Called once per conversation open, not polled.
func (c *Client) FetchHistory(ctx context.Context, sessionID, botID string) ([]model.Message, error) {
	path := fmt.Sprintf("/conversation/%s/messages?botId=%s", url.PathEscape(sessionID), url.QueryEscape(botID))
	var resp dto.ListMessagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return dto.ToMessages(resp.Messages), nil
}

// Send posts a visitor message. The authoritative copy arrives via the
// realtime channel; a non-nil error means the optimistic echo must be rolled
// back and the user offered a retry.
func (c *Client) Send(ctx context.Context, botID, sessionID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return newError(ErrorKindApplication, "message text is required", nil)
	}
	var resp dto.SendMessageResponse
	return c.do(ctx, http.MethodPost, "/chat/message", dto.SendMessageRequest{
		BotID:     botID,
		SessionID: sessionID,
		Message:   text,
	}, &resp)
}

// RequestAgent asks for a human hand-off. This is query-and-intent, not a
// guarantee: offline means nothing happened and retry is allowed; busy and
// available both leave the hand-off pending until a terminal outcome arrives
// over realtime.
func (c *Client) RequestAgent(ctx context.Context, sessionID, botID string) (model.AgentAvailability, error) {
	var resp dto.RequestAgentResponse
	err := c.do(ctx, http.MethodPost, "/chat/request-agent", dto.RequestAgentRequest{
		SessionID: sessionID,
		BotID:     botID,
	}, &resp)
	if err != nil {
		return "", err
	}

	switch state := model.AgentAvailability(resp.State); state {
	case model.AgentOffline, model.AgentBusy, model.AgentAvailable:
		return state, nil
	default:
		return "", newError(ErrorKindApplication, fmt.Sprintf("unknown agent state %q", resp.State), nil)
	}
}

// EndSession notifies the server that the client is going away. Fire and
// forget: it runs detached with its own deadline, never blocks teardown and
// never surfaces an error. The local session id is kept for resumption.
func (c *Client) EndSession(sessionID, botID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), endSessionTimeout)
		defer cancel()

		if err := c.do(ctx, http.MethodPost, "/chat/end-session", dto.EndSessionRequest{
			SessionID: sessionID,
			BotID:     botID,
		}, nil); err != nil {
			log.Printf("transport: end-session for %s: %v", sessionID, err)
		}
	}()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return newError(ErrorKindApplication, "encode request payload", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return newError(ErrorKindApplication, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return newError(ErrorKindNetwork, "server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &Error{
			Kind:       ErrorKindAuthorization,
			Message:    "token invalid, contact administrator",
			StatusCode: resp.StatusCode,
		}
	}

	if resp.StatusCode >= 400 {
		var errResp dto.ErrorResponse
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &errResp); err != nil || errResp.Error == "" {
			return &Error{
				Kind:       ErrorKindApplication,
				Message:    fmt.Sprintf("request failed: %s", resp.Status),
				StatusCode: resp.StatusCode,
			}
		}
		return &Error{
			Kind:        ErrorKindApplication,
			Message:     errResp.Error,
			WidgetError: errResp.WidgetError,
			StatusCode:  resp.StatusCode,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(ErrorKindApplication, "decode response payload", err)
	}
	return nil
}
