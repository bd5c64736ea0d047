package realtime

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"consultation_chat/pkg/logger"
)

type WSConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// WSTransport - транспорт поверх gorilla/websocket с отдельной горутиной записи
// и ограниченной очередью исходящих кадров.
type WSTransport struct {
	conn *websocket.Conn
	cfg  WSConfig
	log  logger.Logger

	egress    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

func NewWSTransport(conn *websocket.Conn, cfg WSConfig, log logger.Logger) *WSTransport {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}

	t := &WSTransport{
		conn:   conn,
		cfg:    cfg,
		log:    log,
		egress: make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
	t.connected.Store(true)
	return t
}

// Send ставит кадр в очередь без блокировки. При переполненной очереди кадр отбрасывается.
func (t *WSTransport) Send(env Envelope) error {
	if !t.connected.Load() {
		return ErrTransportClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case <-t.done:
		return ErrTransportClosed
	case t.egress <- data:
		return nil
	default:
		t.log.Warn("Egress buffer full, dropping frame", "event", env.Type)
		return ErrSendBufferFull
	}
}

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.done)

		deadline := time.Now().Add(t.cfg.WriteWait)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = t.conn.Close()
	})
	return err
}

func (t *WSTransport) Connected() bool {
	return t.connected.Load()
}

// Serve запускает запись и читает кадры до разрыва соединения, передавая каждый в onFrame.
// По возврату транспорт закрыт.
func (t *WSTransport) Serve(onFrame func(data []byte)) error {
	go t.writePump()
	defer t.Close()

	t.conn.SetReadLimit(t.cfg.MaxMessageSize)
	_ = t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.connected.Store(false)
			return classifyReadError(err)
		}
		onFrame(data)
	}
}

func (t *WSTransport) writePump() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case data := <-t.egress:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.log.Debug("Failed to write frame", "error", err)
				t.connected.Store(false)
				_ = t.Close()
				return
			}
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteWait)); err != nil {
				t.log.Debug("Failed to write ping", "error", err)
				t.connected.Store(false)
				_ = t.Close()
				return
			}
		}
	}
}

// classifyReadError отделяет штатное закрытие от сбоев транспорта.
func classifyReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
