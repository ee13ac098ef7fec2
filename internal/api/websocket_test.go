package api

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paramdnoid/weppixpress-sub004/internal/upload"
)

func dialSubscriber(t *testing.T, srv *httptest.Server, folder string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?path=" + folder
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// connection confirmation comes first
	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "connected", hello["type"])
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) FileEventMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg FileEventMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestFileCreatedReachesFolderAndAncestorSubscribers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cm := NewConnectionManager()
	r := gin.New()
	r.GET("/ws", wsHandler(cm))
	srv := httptest.NewServer(r)
	defer srv.Close()

	inFolder := dialSubscriber(t, srv, "/data/1/docs")
	ancestor := dialSubscriber(t, srv, "/data/1")
	unrelated := dialSubscriber(t, srv, "/data/2")

	cm.FileCreated(upload.Event{
		Type: upload.EventFileCreated,
		Path: "/data/1/docs/report.pdf",
		Size: 4096,
	})

	for _, conn := range []*websocket.Conn{inFolder, ancestor} {
		msg := readEvent(t, conn)
		assert.Equal(t, upload.EventFileCreated, msg.Type)
		assert.Equal(t, "/data/1/docs/report.pdf", msg.Path)
		assert.Equal(t, int64(4096), msg.Size)
	}

	unrelated.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := unrelated.ReadMessage()
	assert.Error(t, err, "subscriber of an unrelated folder must not receive the event")
}

func TestConcurrentBroadcastsSerializeConnectionWrites(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cm := NewConnectionManager()
	r := gin.New()
	r.GET("/ws", wsHandler(cm))
	srv := httptest.NewServer(r)
	defer srv.Close()

	// every event lands on the same subscriber, so all writes race
	conn := dialSubscriber(t, srv, "/data/1")

	const events = 25
	var wg sync.WaitGroup
	for i := 0; i < events; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cm.FileCreated(upload.Event{
				Type: upload.EventFileCreated,
				Path: fmt.Sprintf("/data/1/f%d.bin", i),
				Size: int64(i),
			})
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < events; i++ {
		msg := readEvent(t, conn)
		assert.Equal(t, upload.EventFileCreated, msg.Type)
		assert.False(t, seen[msg.Path], "each event delivered once")
		seen[msg.Path] = true
	}
	assert.Len(t, seen, events)
}

func TestWSHandlerRequiresFolderPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", wsHandler(NewConnectionManager()))
	srv := httptest.NewServer(r)
	defer srv.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ws", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, 400, w.Code)
}
