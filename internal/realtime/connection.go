package realtime

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrSendBufferFull  = errors.New("send buffer full")
)

// Transport - физическое соединение, через которое сервер пишет клиенту.
type Transport interface {
	Send(env Envelope) error
	Close() error
	// Connected возвращает false, как только транспорт узнал о разрыве
	Connected() bool
}

// Connection - дескриптор одного физического соединения пользователя.
// Время последней активности хранится в реестре и меняется только под его блокировкой.
type Connection struct {
	ID          string
	UserID      uuid.UUID
	Role        string
	ConnectedAt time.Time

	transport Transport
}

func NewConnection(userID uuid.UUID, role string, transport Transport, connectedAt time.Time) *Connection {
	return &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Role:        role,
		ConnectedAt: connectedAt,
		transport:   transport,
	}
}

func (c *Connection) Send(env Envelope) error {
	return c.transport.Send(env)
}

func (c *Connection) Close() error {
	return c.transport.Close()
}

func (c *Connection) Connected() bool {
	return c.transport.Connected()
}
