// Package realtime maintains the single long-lived websocket connection a
// client role holds to the tenant event room. Realtime delivery is a
// consistency aid, not the only path to correctness: every event here is
// also obtainable by re-fetching over REST, so connection failures are
// logged and counted, never fatal.
package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-console-core/internal/dto"
	"chat-console-core/internal/model"
)

type EventType string

const (
	EventMessageNew          EventType = "message:new"
	EventConversationCreated EventType = "conversation:created"
	EventConversationClosed  EventType = "conversation:closed"

	controlJoinRoom = "room:join"
)

// Event is the wire shape of a tenant room broadcast.
type Event struct {
	Type           EventType                `json:"type"`
	ConversationID string                   `json:"conversationId,omitempty"`
	Conversation   *dto.ConversationPayload `json:"conversation,omitempty"`
	Message        *dto.MessagePayload      `json:"message,omitempty"`
}

type joinRoomFrame struct {
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
}

// Handler receives decoded tenant room events. Every member of the room sees
// every tenant event; filtering by conversation or agent ownership is the
// handler's job and must stay cheap.
type Handler interface {
	HandleMessageNew(message model.Message)
	HandleConversationCreated(conversation model.Conversation)
	HandleConversationClosed(conversationID string)
}

// Channel owns one websocket connection. UI components consume its events
// but never write to it; the join control frame is the only outbound
// traffic.
type Channel struct {
	url      string
	token    string
	tenantID string
	handler  Handler

	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	pingInterval   time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	isClosed bool
}

// Dial starts the channel's connect loop and returns immediately. The
// connection is re-established after failures, and the tenant room join is
// re-issued after every reconnect because room membership does not survive
// a transport-level reconnect.
func Dial(url, bearerToken, tenantID string, handler Handler) *Channel {
	c := &Channel{
		url:            url,
		token:          bearerToken,
		tenantID:       tenantID,
		handler:        handler,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: 2 * time.Second,
		pingInterval:   30 * time.Second,
		done:           make(chan struct{}),
	}
	go c.run()
	return c
}

// SetReconnectDelay must be called before any reconnect happens; tests use
// it to keep the loop fast.
func (c *Channel) SetReconnectDelay(d time.Duration) {
	c.mu.Lock()
	c.reconnectDelay = d
	c.mu.Unlock()
}

func (c *Channel) run() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		conn, _, err := c.dialer.Dial(c.dialURL(), nil)
		if err != nil {
			incConnectFailures()
			log.Printf("realtime: connect to %s: %v", c.url, err)
			if !c.sleep() {
				return
			}
			continue
		}

		if err := c.joinRoom(conn); err != nil {
			incConnectFailures()
			log.Printf("realtime: join tenant room %s: %v", c.tenantID, err)
			conn.Close()
			if !c.sleep() {
				return
			}
			continue
		}

		incConnects()
		c.setConn(conn)

		stopPing := make(chan struct{})
		go c.keepAlive(conn, stopPing)

		c.readLoop(conn)
		close(stopPing)
		c.setConn(nil)
		conn.Close()

		select {
		case <-c.done:
			return
		default:
			log.Printf("realtime: connection lost, reconnecting to tenant room %s", c.tenantID)
			if !c.sleep() {
				return
			}
		}
	}
}

func (c *Channel) dialURL() string {
	if c.token == "" {
		return c.url
	}
	sep := "?"
	for _, r := range c.url {
		if r == '?' {
			sep = "&"
			break
		}
	}
	return c.url + sep + "token=" + c.token
}

func (c *Channel) joinRoom(conn *websocket.Conn) error {
	return conn.WriteJSON(joinRoomFrame{
		Type:     controlJoinRoom,
		TenantID: c.tenantID,
	})
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(512 * 1024)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				if closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
					return
				}
			}
			select {
			case <-c.done:
			default:
				log.Printf("realtime: read: %v", err)
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("realtime: decode event: %v", err)
			continue
		}
		c.dispatch(event)
	}
}

func (c *Channel) dispatch(event Event) {
	incEvents(string(event.Type))

	switch event.Type {
	case EventMessageNew:
		if event.Message == nil {
			return
		}
		c.handler.HandleMessageNew(event.Message.ToModel())

	case EventConversationCreated:
		if event.Conversation == nil {
			return
		}
		c.handler.HandleConversationCreated(event.Conversation.ToModel())

	case EventConversationClosed:
		id := event.ConversationID
		if id == "" && event.Conversation != nil {
			id = event.Conversation.ID
		}
		if id == "" {
			return
		}
		c.handler.HandleConversationClosed(id)

	default:
		// Irrelevant or unknown events are tolerated cheaply.
	}
}

func (c *Channel) keepAlive(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Printf("realtime: ping: %v", err)
				return
			}
		}
	}
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// sleep waits out the reconnect delay; false means the channel was closed.
func (c *Channel) sleep() bool {
	c.mu.Lock()
	delay := c.reconnectDelay
	c.mu.Unlock()

	select {
	case <-c.done:
		return false
	case <-time.After(delay):
		return true
	}
}

// Close tears the channel down. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return
	}
	c.isClosed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}
