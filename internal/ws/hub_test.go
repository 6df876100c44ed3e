package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/relay"
	"github.com/chatrelay/internal/repository"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	nextID int64
	chats  map[int64]*model.Chat
	msgs   []model.Message
}

func newMemStore() *memStore { return &memStore{chats: make(map[int64]*model.Chat)} }

func (s *memStore) CreateChat(context.Context) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := &model.Chat{ID: s.nextID, CreatedAt: time.Now()}
	s.chats[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *memStore) GetChat(_ context.Context, id int64) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) SetHumanEnabled(_ context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.IsHumanEnabled = enabled
	return nil
}

func (s *memStore) AppendMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = time.Now()
	s.msgs = append(s.msgs, *m)
	return nil
}

func (s *memStore) ListMessages(_ context.Context, chatID int64) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.msgs {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) ListAvailableSlots(context.Context) ([]model.BookingSlot, error) { return nil, nil }

func (s *memStore) ClaimSlot(context.Context, int64, int64) (bool, error) { return false, nil }

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, req relay.GenerateRequest) (relay.Decision, error) {
	return relay.Decision{Reply: "echo: " + req.Message}, nil
}

type denyAll struct{}

func (denyAll) CheckRateLimit(context.Context, string) (bool, error) { return false, nil }

type testEnv struct {
	url   string
	store *memStore
	hub   *Hub
}

func newTestEnv(t *testing.T, limiter RateLimiter) *testEnv {
	t.Helper()
	store := newMemStore()
	rooms := relay.NewRegistry(store, time.Second, nil)
	booking := relay.NewBookingCoordinator(store, time.Second, nil)
	router := relay.NewRouter(rooms, store, echoGenerator{}, booking, relay.RouterConfig{
		HistoryLimit:     10,
		GeneratorTimeout: time.Second,
		StorageTimeout:   time.Second,
	})
	hub := NewHub(rooms, router, store, limiter, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := relay.SessionStudent
		if r.URL.Query().Get("role") == "admin" {
			role = relay.SessionAdmin
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn, role)
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	t.Cleanup(srv.Close)
	return &testEnv{url: "ws" + strings.TrimPrefix(srv.URL, "http"), store: store, hub: hub}
}

func (e *testEnv) dial(t *testing.T, role string) *websocket.Conn {
	t.Helper()
	url := e.url
	if role != "" {
		url += "?role=" + role
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireEvent struct {
	Type    relay.EventType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func next(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func expect[T any](t *testing.T, conn *websocket.Conn, typ relay.EventType) T {
	t.Helper()
	ev := next(t, conn)
	require.Equal(t, typ, ev.Type, "payload: %s", ev.Payload)
	var p T
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	return p
}

func connectStudent(t *testing.T, conn *websocket.Conn) int64 {
	t.Helper()
	send(t, conn, map[string]any{"type": OpStudentConnect})
	created := expect[relay.ChatCreatedPayload](t, conn, relay.EventChatCreated)
	connected := expect[relay.StudentConnectedPayload](t, conn, relay.EventStudentConnected)
	require.Equal(t, created.ChatID, connected.ChatID)
	return created.ChatID
}

func TestStudentConversation(t *testing.T) {
	env := newTestEnv(t, nil)
	student := env.dial(t, "")
	chatID := connectStudent(t, student)

	send(t, student, map[string]any{"type": OpStudentMessage, "chat_id": chatID, "message": "hi"})
	first := expect[model.Message](t, student, relay.EventNewMessage)
	assert.Equal(t, model.RoleStudent, first.Role)
	assert.Equal(t, "hi", first.Text)
	reply := expect[model.Message](t, student, relay.EventNewMessage)
	assert.Equal(t, model.RoleAI, reply.Role)
	assert.Equal(t, "echo: hi", reply.Text)

	again := env.dial(t, "")
	send(t, again, map[string]any{"type": OpStudentConnect, "chat_id": chatID})
	st := expect[relay.StudentConnectedPayload](t, again, relay.EventStudentConnected)
	require.Len(t, st.History, 2)
	assert.Equal(t, first.ID, st.History[0].ID)
	assert.False(t, st.IsAdminConnected)
}

func TestAdminTakeover(t *testing.T) {
	env := newTestEnv(t, nil)
	student := env.dial(t, "")
	chatID := connectStudent(t, student)

	admin := env.dial(t, "admin")
	send(t, admin, map[string]any{"type": OpAdminConnect, "chat_id": chatID})
	ac := expect[relay.AdminConnectedPayload](t, admin, relay.EventAdminConnected)
	assert.Equal(t, chatID, ac.ChatID)
	assert.Empty(t, ac.History)
	status := expect[relay.AdminStatusPayload](t, student, relay.EventAdminStatusChanged)
	assert.True(t, status.IsAdminConnected)

	send(t, admin, map[string]any{"type": OpAdminMessage, "chat_id": chatID, "message": "too early"})
	ev := expect[relay.ErrorPayload](t, admin, relay.EventError)
	assert.Equal(t, relay.ClientMessage(relay.ErrHumanNotEnabled), ev.Message)

	send(t, admin, map[string]any{"type": OpToggleHuman, "chat_id": chatID, "is_enabled": true})
	for _, conn := range []*websocket.Conn{student, admin} {
		p := expect[relay.HumanEnabledPayload](t, conn, relay.EventHumanEnabledChanged)
		assert.True(t, p.IsHumanEnabled)
	}

	send(t, admin, map[string]any{"type": OpAdminMessage, "chat_id": chatID, "message": "Hello, I'm an advisor"})
	for _, conn := range []*websocket.Conn{student, admin} {
		m := expect[model.Message](t, conn, relay.EventNewMessage)
		assert.Equal(t, model.RoleOperator, m.Role)
	}

	send(t, student, map[string]any{"type": OpStudentMessage, "chat_id": chatID, "message": "thanks"})
	for _, conn := range []*websocket.Conn{student, admin} {
		m := expect[model.Message](t, conn, relay.EventNewMessage)
		assert.Equal(t, model.RoleStudent, m.Role)
	}

	send(t, admin, map[string]any{"type": OpAdminDisconnect, "chat_id": chatID})
	status = expect[relay.AdminStatusPayload](t, student, relay.EventAdminStatusChanged)
	assert.False(t, status.IsAdminConnected)
}

func TestAdminDisconnectOnClose(t *testing.T) {
	env := newTestEnv(t, nil)
	student := env.dial(t, "")
	chatID := connectStudent(t, student)

	admin := env.dial(t, "admin")
	send(t, admin, map[string]any{"type": OpAdminConnect, "chat_id": chatID})
	expect[relay.AdminConnectedPayload](t, admin, relay.EventAdminConnected)
	expect[relay.AdminStatusPayload](t, student, relay.EventAdminStatusChanged)

	require.NoError(t, admin.Close())
	status := expect[relay.AdminStatusPayload](t, student, relay.EventAdminStatusChanged)
	assert.False(t, status.IsAdminConnected)
}

func TestRejectedOperations(t *testing.T) {
	env := newTestEnv(t, nil)
	student := env.dial(t, "")

	cases := []struct {
		name string
		msg  map[string]any
		want error
	}{
		{"admin op from student", map[string]any{"type": OpToggleHuman, "chat_id": 1, "is_enabled": true}, relay.ErrBadRequest},
		{"unknown chat", map[string]any{"type": OpStudentConnect, "chat_id": 404}, relay.ErrChatNotFound},
		{"missing chat id", map[string]any{"type": OpStudentMessage, "message": "hi"}, relay.ErrBadRequest},
		{"unknown type", map[string]any{"type": "typing"}, relay.ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			send(t, student, tc.msg)
			ev := expect[relay.ErrorPayload](t, student, relay.EventError)
			assert.Equal(t, relay.ClientMessage(tc.want), ev.Message)
		})
	}

	chatID := connectStudent(t, student)
	send(t, student, map[string]any{"type": OpStudentMessage, "chat_id": chatID, "message": "   "})
	ev := expect[relay.ErrorPayload](t, student, relay.EventError)
	assert.Equal(t, relay.ClientMessage(relay.ErrInvalidMessage), ev.Message)

	require.NoError(t, student.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev = expect[relay.ErrorPayload](t, student, relay.EventError)
	assert.Equal(t, relay.ClientMessage(relay.ErrBadRequest), ev.Message)
}

func TestStudentDisconnectIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)
	student := env.dial(t, "")
	chatID := connectStudent(t, student)

	send(t, student, map[string]any{"type": OpStudentDisconnect})
	send(t, student, map[string]any{"type": OpStudentDisconnect, "chat_id": chatID})
	// операции соединения обрабатываются по очереди: ответ на typing значит, что отписка уже выполнена
	send(t, student, map[string]any{"type": "typing"})
	expect[relay.ErrorPayload](t, student, relay.EventError)

	admin := env.dial(t, "admin")
	send(t, admin, map[string]any{"type": OpAdminConnect, "chat_id": chatID})
	expect[relay.AdminConnectedPayload](t, admin, relay.EventAdminConnected)

	// отписанный студент не получает admin_status_changed
	send(t, student, map[string]any{"type": "typing"})
	ev := expect[relay.ErrorPayload](t, student, relay.EventError)
	assert.Equal(t, relay.ClientMessage(relay.ErrBadRequest), ev.Message)
}

func TestStudentRateLimited(t *testing.T) {
	env := newTestEnv(t, denyAll{})
	student := env.dial(t, "")
	chatID := connectStudent(t, student)

	send(t, student, map[string]any{"type": OpStudentMessage, "chat_id": chatID, "message": "hi"})
	ev := expect[relay.ErrorPayload](t, student, relay.EventError)
	assert.Contains(t, ev.Message, "Too many messages")

	msgs, err := env.store.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHubTracksConnections(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "")
	connectStudent(t, conn)
	assert.Equal(t, 1, env.hub.Clients())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
