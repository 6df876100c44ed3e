package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/relay"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// inboxSize — сколько входящих сообщений ждут обработки, пока идёт предыдущее.
const inboxSize = 16

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client represents a single WebSocket connection.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump, dispatchPump] -> Close -> Wait.
//
// Входящие сообщения обрабатываются по одному в dispatchPump, поэтому readPump
// продолжает отвечать на pong, пока ответ ассистента генерируется.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	id    string
	role  relay.SessionRole
	send  chan relay.Event
	inbox chan IncomingMessage

	// done is used as a non-blocking guard in Send.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, role relay.SessionRole) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		id:    uuid.NewString(),
		role:  role,
		send:  make(chan relay.Event, hub.cfg.SendBufferSize),
		inbox: make(chan IncomingMessage, inboxSize),
		done:  make(chan struct{}),
	}
}

// ConnID — идентификатор соединения в реестре комнат.
func (c *Client) ConnID() string { return c.id }

func (c *Client) Role() relay.SessionRole { return c.role }

// Send ставит событие в очередь записи. Переполненный буфер закрывает медленного клиента.
// Вызывается под блокировкой комнаты, поэтому сокет закрывается в отдельной горутине.
func (c *Client) Send(ev relay.Event) bool {
	select {
	case c.send <- ev:
		return true
	case <-c.done:
		return false
	default:
		logger.Warnf("ws send buffer full, closing slow client conn=%s", c.id)
		go c.Close()
		return false
	}
}

// Start launches the pump goroutines with controlled lifecycle.
// ctx controls pump lifetime; cancel is stored for Close().
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(3)
	go c.writePump(ctx)
	go c.readPump(ctx)
	go c.dispatchPump(ctx)
}

// Wait blocks until all pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

// readPump reads messages from the WebSocket connection.
// Exits on read error (triggered by conn.Close from Close() or writePump exit).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait)); err != nil {
		logger.Errorf("ws set read deadline conn=%s: %v", c.id, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error conn=%s: %v", c.id, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warnf("ws unmarshal error conn=%s: %v", c.id, err)
			c.Send(relay.ErrorEvent(relay.ErrBadRequest))
			continue
		}

		select {
		case c.inbox <- msg:
		default:
			c.Send(busyEvent)
		}
	}
}

// dispatchPump обрабатывает входящие сообщения последовательно.
// При выходе снимает все подписки соединения.
func (c *Client) dispatchPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		if n := c.hub.rooms.DetachAll(c.id); n > 0 {
			logger.Debugf("ws conn=%s detached from %d rooms", c.id, n)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbox:
			c.hub.HandleMessage(ctx, c, msg)
		}
	}
}

// writePump writes messages to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.hub.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(time.Second))
			return
		case ev := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline conn=%s: %v", c.id, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(ev); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error conn=%s event=%s: %v", c.id, ev.Type, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline conn=%s: %v", c.id, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
