package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultation_chat/pkg/logger"
)

var testWSConfig = WSConfig{
	WriteWait:      time.Second,
	PongWait:       5 * time.Second,
	PingInterval:   time.Second,
	MaxMessageSize: 64 * 1024,
	SendBuffer:     8,
}

// newEchoServer поднимает сервер, который отвечает heartbeat-pong на каждый входящий кадр.
func newEchoServer(t *testing.T, transports chan<- *WSTransport) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		transport := NewWSTransport(conn, testWSConfig, logger.NewNop())
		transports <- transport

		_ = transport.Serve(func(data []byte) {
			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				return
			}
			_ = transport.Send(MustEnvelope(EventHeartbeatPong, PongPayload{ServerTime: time.Now()}))
		})
	}))
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWSTransport_RoundTrip(t *testing.T) {
	transports := make(chan *WSTransport, 1)
	server := newEchoServer(t, transports)
	defer server.Close()

	client := dial(t, server)
	defer client.Close()

	require.NoError(t, client.WriteJSON(Envelope{Type: EventHeartbeatPing}))

	var reply Envelope
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, client.ReadJSON(&reply))
	assert.Equal(t, EventHeartbeatPong, reply.Type)
}

func TestWSTransport_ClientCloseMarksDisconnected(t *testing.T) {
	transports := make(chan *WSTransport, 1)
	server := newEchoServer(t, transports)
	defer server.Close()

	client := dial(t, server)
	transport := <-transports
	assert.True(t, transport.Connected())

	_ = client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = client.Close()

	assert.Eventually(t, func() bool { return !transport.Connected() }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, transport.Send(Envelope{Type: EventHeartbeatPong}), ErrTransportClosed)
}

func TestWSTransport_ServerCloseEndsClientRead(t *testing.T) {
	transports := make(chan *WSTransport, 1)
	server := newEchoServer(t, transports)
	defer server.Close()

	client := dial(t, server)
	defer client.Close()
	transport := <-transports

	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close(), "close is idempotent")

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	assert.Error(t, err)
}
