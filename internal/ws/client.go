package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"estatehub/internal/domain"
)

var (
	ErrClientClosed = errors.New("connection closed")
	ErrBufferFull   = errors.New("connection buffer exceeded")
)

// Client wraps one websocket and serialises outbound writes through a
// buffered channel. Send is safe for concurrent use.
type Client struct {
	ID   string
	User *domain.User

	ws           *websocket.Conn
	send         chan []byte
	closed       chan struct{}
	once         sync.Once
	writeTimeout time.Duration
	pingPeriod   time.Duration
}

func NewClient(user *domain.User, conn *websocket.Conn, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		ID:           uuid.NewString(),
		User:         user,
		ws:           conn,
		send:         make(chan []byte, opts.SendBuffer),
		closed:       make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		pingPeriod:   opts.ReadTimeout * 9 / 10,
	}
}

// Start launches the write loop. Call it once.
func (c *Client) Start() {
	go c.writeLoop()
}

// Send enqueues payload. A client whose buffer is full is closed.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}
	select {
	case <-c.closed:
		return ErrClientClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.ClosePolicyViolation, "send buffer full")
		return ErrBufferFull
	}
}

func (c *Client) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(c.writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Client) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
