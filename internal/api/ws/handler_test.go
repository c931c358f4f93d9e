package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/kernel"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSource struct{}

func (stubSource) BootID() string { return "boot-ws" }
func (stubSource) Snapshot() kernel.Snapshot {
	return kernel.Snapshot{BootID: "boot-ws", VPEs: []kernel.VPEInfo{{ID: 0, Name: "root"}}}
}

type reply struct {
	Type       string          `json:"type"`
	BootID     string          `json:"boot_id"`
	Message    string          `json:"message"`
	IntervalMS int64           `json:"interval_ms"`
	Data       kernel.Snapshot `json:"data"`
}

func dial(t *testing.T) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", NewHandler(stubSource{}, zap.NewNop()).HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello reply
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "system", hello.Type)
	assert.Equal(t, "boot-ws", hello.BootID)
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg Message) reply {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var r reply
	require.NoError(t, conn.ReadJSON(&r))
	return r
}

func TestPingAndSnapshot(t *testing.T) {
	conn := dial(t)

	assert.Equal(t, "pong", roundTrip(t, conn, Message{Type: "ping"}).Type)

	r := roundTrip(t, conn, Message{Type: "snapshot"})
	assert.Equal(t, "snapshot", r.Type)
	assert.Equal(t, "boot-ws", r.Data.BootID)
	require.Len(t, r.Data.VPEs, 1)
	assert.Equal(t, "root", r.Data.VPEs[0].Name)
}

func TestUnknownMessage(t *testing.T) {
	conn := dial(t)

	r := roundTrip(t, conn, Message{Type: "reboot"})
	assert.Equal(t, "error", r.Type)
	assert.Equal(t, "unknown message type", r.Message)
}

func TestSubscribe(t *testing.T) {
	conn := dial(t)

	r := roundTrip(t, conn, Message{Type: "subscribe", IntervalMS: 1})
	assert.Equal(t, "subscribed", r.Type)
	assert.EqualValues(t, MinInterval.Milliseconds(), r.IntervalMS)

	for i := 0; i < 2; i++ {
		var push reply
		require.NoError(t, conn.ReadJSON(&push))
		assert.Equal(t, "snapshot", push.Type)
	}

	require.NoError(t, conn.WriteJSON(Message{Type: "unsubscribe"}))
	// pushes already in flight may arrive before the acknowledgement
	for {
		var r reply
		require.NoError(t, conn.ReadJSON(&r))
		if r.Type == "unsubscribed" {
			break
		}
		assert.Equal(t, "snapshot", r.Type)
	}
}

func TestSubscribeDefaultInterval(t *testing.T) {
	conn := dial(t)

	r := roundTrip(t, conn, Message{Type: "subscribe"})
	assert.EqualValues(t, DefaultInterval.Milliseconds(), r.IntervalMS)
}
