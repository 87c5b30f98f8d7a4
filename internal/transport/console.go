package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"chat-console-core/internal/dto"
	"chat-console-core/internal/model"
)

// Console operations used by the tenant and agent consoles. They share the
// same client and error taxonomy as the widget-facing calls.

// ListConversations returns every conversation for the caller's tenant.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var resp dto.ListConversationsResponse
	if err := c.do(ctx, http.MethodGet, "/user/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return dto.ToConversations(resp.Conversations), nil
}

// ListAgentConversations returns only the conversations assigned to agentID.
func (c *Client) ListAgentConversations(ctx context.Context, agentID string) ([]model.Conversation, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, newError(ErrorKindApplication, "agentId is required", nil)
	}
	path := fmt.Sprintf("/user/agents/%s/conversations", url.PathEscape(agentID))
	var resp dto.ListConversationsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return dto.ToConversations(resp.Conversations), nil
}

// ListMessages returns the full ordered history of one conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, newError(ErrorKindApplication, "conversationId is required", nil)
	}
	path := fmt.Sprintf("/user/conversations/%s/messages", url.PathEscape(conversationID))
	var resp dto.ListMessagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return dto.ToMessages(resp.Messages), nil
}

// AgentReply posts a human agent's message into a conversation.
func (c *Client) AgentReply(ctx context.Context, conversationID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return newError(ErrorKindApplication, "message text is required", nil)
	}
	if strings.TrimSpace(conversationID) == "" {
		return newError(ErrorKindApplication, "conversationId is required", nil)
	}
	path := fmt.Sprintf("/agents/conversations/%s/reply", url.PathEscape(conversationID))
	return c.do(ctx, http.MethodPost, path, dto.AgentReplyRequest{Message: text}, nil)
}
