package services

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ExecutionEvent is the message broadcast to connected clients when a run
// resolves. It is a notification feed, not an audit source; the execution
// log is authoritative.
type ExecutionEvent struct {
	AutomationID   string    `json:"automation_id"`
	AutomationName string    `json:"automation_name"`
	ExecutionLogID string    `json:"execution_log_id"`
	Status         string    `json:"status"`
	ActionCount    int       `json:"action_count"`
	FailedActions  int       `json:"failed_actions"`
	Timestamp      time.Time `json:"timestamp"`
}

type eventClient struct {
	id   string
	conn *websocket.Conn
	send chan ExecutionEvent
	hub  *ExecutionEventHub
}

// ExecutionEventHub fans run outcomes out to websocket clients. Slow clients
// are dropped rather than back-pressuring the engine.
type ExecutionEventHub struct {
	clients    map[string]*eventClient
	broadcast  chan ExecutionEvent
	register   chan *eventClient
	unregister chan *eventClient
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

var eventUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin checks belong to the deployment's proxy layer
	},
}

func NewExecutionEventHub(logger *logrus.Logger) *ExecutionEventHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecutionEventHub{
		clients:    make(map[string]*eventClient),
		broadcast:  make(chan ExecutionEvent, 64),
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		logger:     logger,
	}
}

func (h *ExecutionEventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			h.logger.Infof("execution feed client %s connected", client.id)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				h.logger.Infof("execution feed client %s disconnected", client.id)
			}
			h.mutex.Unlock()

		case event := <-h.broadcast:
			h.mutex.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- event:
				default:
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Publish enqueues an event for broadcast. Never blocks the caller; if the
// hub's buffer is full the event is dropped.
func (h *ExecutionEventHub) Publish(event ExecutionEvent) {
	select {
	case h.broadcast <- event:
	default:
	}
}

// ClientCount reports the number of connected feed clients.
func (h *ExecutionEventHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and attaches the client to the feed.
func (h *ExecutionEventHub) HandleWebSocket(c *gin.Context) {
	conn, err := eventUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("execution feed upgrade failed: %v", err)
		return
	}

	client := &eventClient{
		id:   time.Now().Format("20060102T150405.000000000"),
		conn: conn,
		send: make(chan ExecutionEvent, 64),
		hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump discards inbound frames; the feed is one-way. It exists to detect
// disconnects and answer pings.
func (c *eventClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
