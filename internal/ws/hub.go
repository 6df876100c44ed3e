package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/relay"
	"github.com/go-playground/validator/v10"
)

// RateLimiter ограничивает частоту сообщений студента. Реализуется storage.StateStore.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string) (allowed bool, err error)
}

// ChatStore — то, что хабу нужно от хранилища напрямую: создание чата и история.
type ChatStore interface {
	CreateChat(ctx context.Context) (*model.Chat, error)
	ListMessages(ctx context.Context, chatID int64) ([]model.Message, error)
}

// Config — параметры соединений.
type Config struct {
	MaxConns       int
	SendBufferSize int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	StorageTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = 10000
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = 5 * time.Second
	}
	return c
}

func (c Config) pingPeriod() time.Duration { return (c.PongWait * 9) / 10 }

// Hub — таблица сессий и разбор входящих операций.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	cfg     Config

	rooms    *relay.Registry
	router   *relay.Router
	store    ChatStore
	limiter  RateLimiter
	metrics  *metrics.Metrics
	validate *validator.Validate

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub создаёт хаб. limiter и m могут быть nil.
func NewHub(rooms *relay.Registry, router *relay.Router, store ChatStore, limiter RateLimiter, m *metrics.Metrics, cfg Config) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		cfg:        cfg.withDefaults(),
		rooms:      rooms,
		router:     router,
		store:      store,
		limiter:    limiter,
		metrics:    m,
		validate:   validator.New(),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Unregister из readPump не должен блокироваться, пока ждём клиентов.
	close(h.done)
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
		h.metrics.ConnectionClosed()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.cfg.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting conn=%s", h.cfg.MaxConns, c.id)
		c.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
	logger.Debugf("ws connected conn=%s role=%s", c.id, c.role)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
	h.metrics.ConnectionClosed()
	logger.Debugf("ws disconnected conn=%s", c.id)
}

// Clients — число активных соединений.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.Type.role() != c.role {
		h.reject(c, msg, fmt.Errorf("%w: %s not allowed for %s session", relay.ErrBadRequest, msg.Type, c.role))
		return
	}
	switch msg.Type {
	case OpStudentConnect:
		h.handleStudentConnect(ctx, c, msg)
	case OpStudentMessage:
		h.handleSubmit(ctx, c, msg, model.RoleStudent)
	case OpStudentDisconnect:
		h.handleStudentDisconnect(c, msg)
	case OpAdminConnect:
		h.handleAdminConnect(ctx, c, msg)
	case OpAdminDisconnect:
		h.handleAdminDisconnect(c, msg)
	case OpAdminMessage:
		h.handleSubmit(ctx, c, msg, model.RoleOperator)
	case OpToggleHuman:
		h.handleToggleHuman(ctx, c, msg)
	default:
		h.reject(c, msg, fmt.Errorf("%w: unknown type %q", relay.ErrBadRequest, msg.Type))
	}
}

func (h *Hub) handleStudentConnect(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleStudentConnect", time.Now())()
	chatID := msg.chatID()
	if msg.ChatID == nil {
		sctx, cancel := context.WithTimeout(ctx, h.cfg.StorageTimeout)
		chat, err := h.store.CreateChat(sctx)
		cancel()
		if err != nil {
			h.reject(c, msg, fmt.Errorf("%w: create chat: %w", relay.ErrStorage, err))
			return
		}
		chatID = chat.ID
		logger.Infof("ws chat created chat=%d conn=%s", chatID, c.id)
		c.Send(relay.Event{Type: relay.EventChatCreated, Payload: relay.ChatCreatedPayload{ChatID: chatID}})
	} else if err := h.validate.Struct(chatRequest{ChatID: chatID}); err != nil {
		h.reject(c, msg, fmt.Errorf("%w: %w", relay.ErrBadRequest, err))
		return
	}

	st, history, err := h.join(ctx, c, chatID)
	if err != nil {
		h.reject(c, msg, err)
		return
	}
	c.Send(relay.Event{Type: relay.EventStudentConnected, Payload: relay.StudentConnectedPayload{
		ChatID:           chatID,
		Chat:             st.Chat(),
		History:          history,
		IsAdminConnected: st.AdminConnected,
	}})
}

func (h *Hub) handleAdminConnect(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleAdminConnect", time.Now())()
	chatID := msg.chatID()
	if err := h.validate.Struct(chatRequest{ChatID: chatID}); err != nil {
		h.reject(c, msg, fmt.Errorf("%w: %w", relay.ErrBadRequest, err))
		return
	}
	st, history, err := h.join(ctx, c, chatID)
	if err != nil {
		h.reject(c, msg, err)
		return
	}
	c.Send(relay.Event{Type: relay.EventAdminConnected, Payload: relay.AdminConnectedPayload{
		ChatID:  chatID,
		Chat:    st.Chat(),
		History: history,
	}})
}

// join подписывает соединение на комнату и читает историю. Подписка идёт первой:
// сообщение, пришедшее между шагами, попадёт в историю и в new_message, но не потеряется.
func (h *Hub) join(ctx context.Context, c *Client, chatID int64) (relay.RoomState, []model.Message, error) {
	st, err := h.rooms.Attach(ctx, chatID, c, c.role)
	if err != nil {
		return relay.RoomState{}, nil, err
	}
	sctx, cancel := context.WithTimeout(ctx, h.cfg.StorageTimeout)
	defer cancel()
	history, err := h.store.ListMessages(sctx, chatID)
	if err != nil {
		return st, nil, fmt.Errorf("%w: list messages: %w", relay.ErrStorage, err)
	}
	if history == nil {
		history = []model.Message{}
	}
	return st, history, nil
}

// handleStudentDisconnect отписывает студента от чата. Ответа нет, в том числе
// без chat_id или для чата, на который соединение не подписано.
func (h *Hub) handleStudentDisconnect(c *Client, msg IncomingMessage) {
	if chatID := msg.chatID(); chatID > 0 {
		h.rooms.Detach(chatID, c.id)
	}
	logger.Debugf("ws student_disconnect conn=%s chat=%d", c.id, msg.chatID())
}

func (h *Hub) handleAdminDisconnect(c *Client, msg IncomingMessage) {
	chatID := msg.chatID()
	if err := h.validate.Struct(chatRequest{ChatID: chatID}); err != nil {
		h.reject(c, msg, fmt.Errorf("%w: %w", relay.ErrBadRequest, err))
		return
	}
	if !h.rooms.Detach(chatID, c.id) {
		logger.Debugf("ws admin_disconnect: conn=%s not in chat=%d", c.id, chatID)
	}
}

func (h *Hub) handleSubmit(ctx context.Context, c *Client, msg IncomingMessage, role model.Role) {
	defer logger.DeferLogDuration("ws.handleSubmit", time.Now())()
	chatID := msg.chatID()
	if err := h.validate.Struct(chatRequest{ChatID: chatID}); err != nil {
		h.reject(c, msg, fmt.Errorf("%w: %w", relay.ErrBadRequest, err))
		return
	}
	if role == model.RoleStudent && h.limiter != nil {
		allowed, err := h.limiter.CheckRateLimit(ctx, "student:"+c.id)
		if err != nil {
			logger.Errorf("ws rate limit conn=%s: %v", c.id, err)
		} else if !allowed {
			c.Send(rateLimitedEvent)
			return
		}
	}
	if _, err := h.router.Submit(ctx, chatID, role, msg.Message); err != nil {
		h.reject(c, msg, err)
	}
}

func (h *Hub) handleToggleHuman(ctx context.Context, c *Client, msg IncomingMessage) {
	req := toggleRequest{ChatID: msg.chatID(), IsEnabled: msg.IsEnabled}
	if err := h.validate.Struct(req); err != nil {
		h.reject(c, msg, fmt.Errorf("%w: %w", relay.ErrBadRequest, err))
		return
	}
	if err := h.rooms.SetHumanEnabled(ctx, req.ChatID, *req.IsEnabled); err != nil {
		h.reject(c, msg, err)
		return
	}
	logger.Infof("ws human mode chat=%d enabled=%t by conn=%s", req.ChatID, *req.IsEnabled, c.id)
}

// reject отправляет инициатору событие error. Детали попадают только в лог.
func (h *Hub) reject(c *Client, msg IncomingMessage, err error) {
	if errors.Is(err, relay.ErrStorage) {
		logger.Errorf("ws %s conn=%s chat=%d: %v", msg.Type, c.id, msg.chatID(), err)
	} else {
		logger.Warnf("ws %s conn=%s chat=%d: %v", msg.Type, c.id, msg.chatID(), err)
	}
	c.Send(relay.ErrorEvent(err))
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
