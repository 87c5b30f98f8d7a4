package stubserver

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type joinFrame struct {
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan any
	id       string
	tenantID string
	done     chan struct{}
	mu       sync.Mutex
	isClosed bool
}

func (cl *wsClient) keepAlive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.conn.WriteMessage(websocket.PingMessage, nil)
			cl.mu.Unlock()

			if err != nil {
				log.Printf("stubserver: ping to %s: %v", cl.id, err)
				return
			}
		}
	}
}

func (cl *wsClient) writePump() {
	defer func() {
		cl.mu.Lock()
		cl.isClosed = true
		cl.conn.Close()
		cl.mu.Unlock()
	}()

	for {
		select {
		case <-cl.done:
			return
		case event, ok := <-cl.send:
			if !ok {
				return
			}

			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.conn.WriteJSON(event)
			cl.mu.Unlock()

			if err != nil {
				log.Printf("stubserver: write to %s: %v", cl.id, err)
				return
			}
		}
	}
}

// readPump consumes inbound frames. Clients only ever send the room join
// control frame; anything else is drained and ignored. The pump also drives
// disconnect detection.
func (cl *wsClient) readPump(hub *Hub) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("stubserver: recovered in readPump: %v", r)
		}
		close(cl.done)
		hub.Unregister <- cl
	}()

	cl.conn.SetReadLimit(512 * 1024)

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				if closeErr.Code == websocket.CloseNormalClosure ||
					closeErr.Code == websocket.CloseGoingAway ||
					closeErr.Code == websocket.CloseNoStatusReceived {
					return
				}
			}
			return
		}

		var frame joinFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		// Repeated joins on a live connection are harmless no-ops; the
		// tenant was fixed by the credential at upgrade time.
		if frame.Type != "room:join" {
			log.Printf("stubserver: ignoring frame type %q from %s", frame.Type, cl.id)
		}
	}
}
