package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
	"golang.org/x/sync/singleflight"
)

// RoomState — снимок комнаты на момент операции.
type RoomState struct {
	ChatID         int64
	HumanEnabled   bool
	CreatedAt      time.Time
	AdminConnected bool
	Subscribers    int
}

func (s RoomState) Chat() model.Chat {
	return model.Chat{ID: s.ChatID, IsHumanEnabled: s.HumanEnabled, CreatedAt: s.CreatedAt}
}

// room живёт в памяти, пока на неё есть ссылки: подписки и выполняющиеся операции.
// Все изменения присутствия, режима и рассылка идут под room.mu.
type room struct {
	chatID    int64
	createdAt time.Time
	pins      int // под Registry.mu

	mu          sync.Mutex
	mode        Mode
	subscribers map[string]Subscriber
	admins      map[string]struct{}
}

func newRoom(c *model.Chat) *room {
	return &room{
		chatID:      c.ID,
		createdAt:   c.CreatedAt,
		mode:        modeOf(c.IsHumanEnabled),
		subscribers: make(map[string]Subscriber),
		admins:      make(map[string]struct{}),
	}
}

func (rm *room) broadcast(ev Event) {
	rm.broadcastExcept("", ev)
}

func (rm *room) broadcastExcept(skip string, ev Event) {
	for id, s := range rm.subscribers {
		if id == skip {
			continue
		}
		if !s.Send(ev) {
			logger.Warnf("relay: drop %s chat=%d conn=%s", ev.Type, rm.chatID, id)
		}
	}
}

func (rm *room) snapshot() RoomState {
	return RoomState{
		ChatID:         rm.chatID,
		HumanEnabled:   rm.mode.HumanEnabled(),
		CreatedAt:      rm.createdAt,
		AdminConnected: len(rm.admins) > 0,
		Subscribers:    len(rm.subscribers),
	}
}

// Registry владеет комнатами и присутствием. Комнаты разных чатов не блокируют друг друга.
// Порядок захвата: Registry.mu никогда не берётся под room.mu.
type Registry struct {
	store          ChatStore
	storageTimeout time.Duration
	metrics        *metrics.Metrics

	mu      sync.Mutex
	rooms   map[int64]*room
	members map[string]map[int64]struct{} // conn -> chats

	loads singleflight.Group
}

func NewRegistry(store ChatStore, storageTimeout time.Duration, m *metrics.Metrics) *Registry {
	if storageTimeout <= 0 {
		storageTimeout = 5 * time.Second
	}
	return &Registry{
		store:          store,
		storageTimeout: storageTimeout,
		metrics:        m,
		rooms:          make(map[int64]*room),
		members:        make(map[string]map[int64]struct{}),
	}
}

// acquire возвращает комнату с удержанием; парный вызов release обязателен.
func (r *Registry) acquire(ctx context.Context, chatID int64) (*room, error) {
	for {
		r.mu.Lock()
		if rm, ok := r.rooms[chatID]; ok {
			rm.pins++
			r.mu.Unlock()
			return rm, nil
		}
		r.mu.Unlock()

		_, err, _ := r.loads.Do(strconv.FormatInt(chatID, 10), func() (any, error) {
			return nil, r.load(ctx, chatID)
		})
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrChatNotFound
			}
			return nil, fmt.Errorf("%w: load chat %d: %w", ErrStorage, chatID, err)
		}
	}
}

// load читает чат и ставит комнату без удержаний. Вызывается только внутри loads.Do:
// пока ключ chatID занят, другой комнаты для этого чата появиться не может.
// Если комната уже есть, чтение пропускается: прочитанное могло бы отстать от неё.
func (r *Registry) load(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	_, ok := r.rooms[chatID]
	r.mu.Unlock()
	if ok {
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, r.storageTimeout)
	defer cancel()
	chat, err := r.store.GetChat(lctx, chatID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.rooms[chatID]; !ok {
		r.rooms[chatID] = newRoom(chat)
	}
	n := len(r.rooms)
	r.mu.Unlock()
	r.metrics.SetRooms(n)
	return nil
}

func (r *Registry) release(rm *room) {
	r.mu.Lock()
	rm.pins--
	evicted := false
	if rm.pins == 0 && r.rooms[rm.chatID] == rm {
		delete(r.rooms, rm.chatID)
		evicted = true
	}
	n := len(r.rooms)
	r.mu.Unlock()
	if evicted {
		r.metrics.SetRooms(n)
	}
}

// withRoom выполняет fn под блокировкой комнаты chatID.
func (r *Registry) withRoom(ctx context.Context, chatID int64, fn func(rm *room) error) error {
	rm, err := r.acquire(ctx, chatID)
	if err != nil {
		return err
	}
	defer r.release(rm)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return fn(rm)
}

// EnsureRoom загружает комнату при первом обращении. Повторные и параллельные вызовы
// не создают вторую комнату и не пишут в хранилище.
func (r *Registry) EnsureRoom(ctx context.Context, chatID int64) (RoomState, error) {
	var st RoomState
	err := r.withRoom(ctx, chatID, func(rm *room) error {
		st = rm.snapshot()
		return nil
	})
	return st, err
}

// Attach подписывает соединение на комнату. Первый администратор в комнате
// вызывает admin_status_changed для остальных подписчиков. Повторный Attach ничего не меняет.
func (r *Registry) Attach(ctx context.Context, chatID int64, sub Subscriber, role SessionRole) (RoomState, error) {
	defer logger.DeferLogDuration("relay.Attach", time.Now())()
	rm, err := r.acquire(ctx, chatID)
	if err != nil {
		return RoomState{}, err
	}
	id := sub.ConnID()

	rm.mu.Lock()
	_, dup := rm.subscribers[id]
	rm.subscribers[id] = sub
	if role == SessionAdmin {
		if _, ok := rm.admins[id]; !ok {
			rm.admins[id] = struct{}{}
			if len(rm.admins) == 1 {
				rm.broadcastExcept(id, adminStatusEvent(chatID, true))
			}
		}
	}
	st := rm.snapshot()
	rm.mu.Unlock()

	if dup {
		r.release(rm)
		return st, nil
	}
	r.mu.Lock()
	set, ok := r.members[id]
	if !ok {
		set = make(map[int64]struct{})
		r.members[id] = set
	}
	set[chatID] = struct{}{}
	r.mu.Unlock()
	return st, nil
}

// Detach отписывает соединение от комнаты. Уход последнего администратора
// рассылает admin_status_changed. false, если соединение не было подписано.
func (r *Registry) Detach(chatID int64, connID string) bool {
	r.mu.Lock()
	set := r.members[connID]
	if _, ok := set[chatID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(set, chatID)
	if len(set) == 0 {
		delete(r.members, connID)
	}
	rm := r.rooms[chatID]
	r.mu.Unlock()

	rm.mu.Lock()
	delete(rm.subscribers, connID)
	if _, ok := rm.admins[connID]; ok {
		delete(rm.admins, connID)
		if len(rm.admins) == 0 {
			rm.broadcast(adminStatusEvent(chatID, false))
		}
	}
	rm.mu.Unlock()

	r.release(rm)
	return true
}

// DetachAll снимает все подписки соединения. Вызывающий не должен выполнять
// Attach для того же соединения параллельно.
func (r *Registry) DetachAll(connID string) int {
	r.mu.Lock()
	chats := make([]int64, 0, len(r.members[connID]))
	for id := range r.members[connID] {
		chats = append(chats, id)
	}
	r.mu.Unlock()

	n := 0
	for _, id := range chats {
		if r.Detach(id, connID) {
			n++
		}
	}
	return n
}

func (r *Registry) IsHumanEnabled(ctx context.Context, chatID int64) (bool, error) {
	st, err := r.EnsureRoom(ctx, chatID)
	return st.HumanEnabled, err
}

// SetHumanEnabled — явное переключение оператором. Сначала запись в хранилище,
// затем память и рассылка human_enabled_changed. При ошибке хранилища ничего не меняется.
func (r *Registry) SetHumanEnabled(ctx context.Context, chatID int64, enabled bool) error {
	defer logger.DeferLogDuration("relay.SetHumanEnabled", time.Now())()
	t := TriggerOperatorDisable
	if enabled {
		t = TriggerOperatorEnable
	}
	return r.withRoom(ctx, chatID, func(rm *room) error {
		_, err := r.applyLocked(ctx, rm, t)
		return err
	})
}

// escalate переводит комнату в HumanHandled, если она ещё у бота.
func (r *Registry) escalate(ctx context.Context, chatID int64) (bool, error) {
	var changed bool
	err := r.withRoom(ctx, chatID, func(rm *room) error {
		var err error
		changed, err = r.applyLocked(ctx, rm, TriggerEscalation)
		return err
	})
	return changed, err
}

func (r *Registry) applyLocked(ctx context.Context, rm *room, t Trigger) (bool, error) {
	next, ok := rm.mode.Next(t)
	if !ok {
		return false, nil
	}
	sctx, cancel := context.WithTimeout(ctx, r.storageTimeout)
	defer cancel()
	if err := r.store.SetHumanEnabled(sctx, rm.chatID, next.HumanEnabled()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrChatNotFound
		}
		return false, fmt.Errorf("%w: set human enabled chat=%d: %w", ErrStorage, rm.chatID, err)
	}
	changed := rm.mode != next
	rm.mode = next
	rm.broadcast(humanEnabledEvent(rm.chatID, next.HumanEnabled()))
	return changed, nil
}

// Rooms — число комнат в памяти.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Memberships — комнаты, на которые подписано соединение.
func (r *Registry) Memberships(connID string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.members[connID]))
	for id := range r.members[connID] {
		out = append(out, id)
	}
	return out
}
