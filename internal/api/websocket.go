package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/paramdnoid/weppixpress-sub004/internal/upload"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins, tighten for production
		return true
	},
}

// wsConn serializes writes to one websocket connection. gorilla/websocket
// supports at most one concurrent writer per connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// ConnectionManager tracks WebSocket subscribers per folder path and fans
// completion events out to them. It implements upload.Notifier.
type ConnectionManager struct {
	connections map[string][]*wsConn
	mutex       sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string][]*wsConn),
	}
}

// AddConnection registers a subscriber for a folder path and returns the
// write handle all messages to this subscriber must go through.
func (cm *ConnectionManager) AddConnection(folder string, conn *websocket.Conn) *wsConn {
	wc := &wsConn{conn: conn}
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connections[folder] = append(cm.connections[folder], wc)
	return wc
}

// RemoveConnection drops a subscriber.
func (cm *ConnectionManager) RemoveConnection(folder string, wc *wsConn) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	connections := cm.connections[folder]
	for i, c := range connections {
		if c == wc {
			cm.connections[folder] = append(connections[:i], connections[i+1:]...)
			break
		}
	}
	if len(cm.connections[folder]) == 0 {
		delete(cm.connections, folder)
	}
}

// FileCreated delivers the completion event to subscribers of the
// destination folder and of its ancestor.
func (cm *ConnectionManager) FileCreated(event upload.Event) {
	folder := filepath.Dir(event.Path)
	msg := FileEventMessage{Type: event.Type, Path: event.Path, Size: event.Size}

	cm.broadcast(folder, msg)
	if parent := filepath.Dir(folder); parent != folder {
		cm.broadcast(parent, msg)
	}
}

func (cm *ConnectionManager) broadcast(folder string, msg FileEventMessage) {
	cm.mutex.RLock()
	connections := append([]*wsConn(nil), cm.connections[folder]...)
	cm.mutex.RUnlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		logrus.Errorf("Error marshaling file event: %v", err)
		return
	}

	for _, wc := range connections {
		if err := wc.write(payload); err != nil {
			logrus.Errorf("Error sending file event: %v", err)
			// Remove the connection if it's no longer valid
			cm.RemoveConnection(folder, wc)
		}
	}
}

func wsHandler(cm *ConnectionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		folder := c.Query("path")
		if folder == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "folder path required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.Errorf("WebSocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		wc := cm.AddConnection(folder, conn)
		defer cm.RemoveConnection(folder, wc)

		// Send initial connection confirmation
		wc.write([]byte(`{"type": "connected", "path": "` + folder + `"}`))

		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}
