package relay

import (
	"context"
	"sync"
	"time"

	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
)

type memStore struct {
	mu     sync.Mutex
	nextID int64
	chats  map[int64]*model.Chat
	msgs   []model.Message
	slots  map[int64]*model.BookingSlot

	getChatCalls int
	getChatDelay time.Duration
	appendErr    error
	setHumanErr  error
	claimErr     error
}

func newMemStore() *memStore {
	return &memStore{chats: make(map[int64]*model.Chat), slots: make(map[int64]*model.BookingSlot)}
}

func (s *memStore) addChat() int64 {
	c, _ := s.CreateChat(context.Background())
	return c.ID
}

func (s *memStore) addSlot(id int64, date time.Time, clock string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[id] = &model.BookingSlot{ID: id, Date: date, Time: clock}
}

func (s *memStore) CreateChat(_ context.Context) (*model.Chat, error) {
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
	delay := s.getChatDelay
	s.mu.Unlock()
	time.Sleep(delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.getChatCalls++
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
	if s.setHumanErr != nil {
		return s.setHumanErr
	}
	c, ok := s.chats[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.IsHumanEnabled = enabled
	return nil
}

func (s *memStore) humanEnabled(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats[id].IsHumanEnabled
}

func (s *memStore) AppendMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
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

func (s *memStore) ListAvailableSlots(_ context.Context) ([]model.BookingSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BookingSlot
	for _, sl := range s.slots {
		if sl.ClaimedByChatID == nil {
			out = append(out, *sl)
		}
	}
	return out, nil
}

func (s *memStore) ClaimSlot(_ context.Context, slotID, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	sl, ok := s.slots[slotID]
	if !ok || sl.ClaimedByChatID != nil {
		return false, nil
	}
	id := chatID
	sl.ClaimedByChatID = &id
	return true, nil
}

type recorder struct {
	id string
	mu sync.Mutex
	ev []Event
}

func newRecorder(id string) *recorder { return &recorder{id: id} }

func (r *recorder) ConnID() string { return r.id }

func (r *recorder) Send(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev = append(r.ev, ev)
	return true
}

func (r *recorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.ev...)
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, ev := range r.events() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) messages() []model.Message {
	var out []model.Message
	for _, ev := range r.events() {
		if ev.Type == EventNewMessage {
			out = append(out, ev.Payload.(model.Message))
		}
	}
	return out
}

type generatorFunc func(ctx context.Context, req GenerateRequest) (Decision, error)

func (f generatorFunc) Generate(ctx context.Context, req GenerateRequest) (Decision, error) {
	return f(ctx, req)
}

func replyWith(text string) generatorFunc {
	return func(context.Context, GenerateRequest) (Decision, error) {
		return Decision{Reply: text}, nil
	}
}
