package relay

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendQueueSize bounds queued control messages per connection. Video
	// frames do not pass through this queue; they have their own bounded
	// stream queues.
	sendQueueSize = 64

	writeTimeout = 10 * time.Second

	// maxFrameSize caps inbound frames. Key frames at 1080p stay well
	// under this.
	maxFrameSize = 4 << 20
)

// connection is one WebSocket client, device or controller. The reader
// goroutine owns all reads; writePump owns all writes.
type connection struct {
	id          string
	ws          *websocket.Conn
	server      *Server
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	remoteAddr  string
	connectedAt time.Time

	mu            sync.Mutex
	authenticated bool
	role          connRole
	sessionID     string
	userID        string
	frameSignal   <-chan struct{}
}

func (c *connection) state() (authenticated bool, role connRole, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated, c.role, c.sessionID
}

// promote marks the connection authenticated. The transition happens at
// most once; repeated auth attempts keep the first identity.
func (c *connection) promote(role connRole, sessionID, userID string, frameSignal <-chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated {
		return false
	}
	c.authenticated = true
	c.role = role
	c.sessionID = sessionID
	c.userID = userID
	c.frameSignal = frameSignal
	return true
}

func (c *connection) signal() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameSignal
}

// enqueue queues a control payload without blocking. A peer that cannot
// drain its own control channel forfeits the message.
func (c *connection) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	case <-c.done:
	default:
		log.Printf("[WS] Send queue full, dropping message for %s", c.id)
	}
}

func (c *connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		close(c.done)
		_ = c.ws.Close()
	})
}

// readLoop consumes inbound frames until the peer goes away. All
// message handling faults are contained here; nothing propagates past
// the connection.
func (c *connection) readLoop() {
	c.ws.SetReadLimit(maxFrameSize)

	for {
		msgType, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[WS] Read error on %s: %v", c.id, err)
			}
			return
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[WS] Handler panic on %s: %v", c.id, r)
					c.enqueue(invalidMessagePayload())
				}
			}()

			switch msgType {
			case websocket.TextMessage:
				c.server.handleText(c, payload)
			case websocket.BinaryMessage:
				c.server.handleBinary(c, payload)
			}
		}()
	}
}

// writePump is the sole writer on the socket. It drains the control
// queue and, for controllers, the session's frame queue.
func (c *connection) writePump() {
	for {
		sig := c.signal()
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if !c.write(websocket.TextMessage, payload) {
				return
			}
		case <-sig:
			if !c.drainFrames() {
				return
			}
		}
	}
}

func (c *connection) drainFrames() bool {
	_, _, sessionID := c.state()
	for {
		frame, ok := c.server.deps.Streams.GetFrame(sessionID, c.id)
		if !ok {
			return true
		}
		if !c.write(websocket.BinaryMessage, frame) {
			return false
		}
	}
}

func (c *connection) write(msgType int, payload []byte) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(msgType, payload); err != nil {
		log.Printf("[WS] Write failed on %s: %v", c.id, err)
		c.close(websocket.CloseAbnormalClosure, "")
		return false
	}
	return true
}
