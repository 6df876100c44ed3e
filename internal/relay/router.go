package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
)

const (
	// FallbackReply публикуется, когда генератор упал или не ответил вовремя.
	FallbackReply = "I'm having trouble processing your request right now. Would you like to speak with a human advisor?"
	// BookingFailedReply исправляет ответ ИИ, если слот успели занять.
	BookingFailedReply = "Sorry, that time slot has just been taken. Please choose another available time."
)

type RouterConfig struct {
	HistoryLimit     int
	GeneratorTimeout time.Duration
	StorageTimeout   time.Duration
}

// Outcome — что произошло при обработке сообщения.
type Outcome struct {
	Message   model.Message
	Reply     *model.Message
	Escalated bool
	Booking   *BookingResult
}

// BookingResult — итог захвата слота. Err: ErrSlotUnavailable, если слот заняли раньше,
// или ошибка хранилища.
type BookingResult struct {
	SlotID  int64
	Claimed bool
	Err     error
}

// Router принимает сообщения, сохраняет их до рассылки и вызывает генератор
// для студентов в комнатах у бота.
type Router struct {
	rooms     *Registry
	store     MessageStore
	generator Generator
	booking   *BookingCoordinator
	notifier  EscalationNotifier
	metrics   *metrics.Metrics
	cfg       RouterConfig
}

func NewRouter(rooms *Registry, store MessageStore, gen Generator, booking *BookingCoordinator, cfg RouterConfig) *Router {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.GeneratorTimeout <= 0 {
		cfg.GeneratorTimeout = 60 * time.Second
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 5 * time.Second
	}
	return &Router{rooms: rooms, store: store, generator: gen, booking: booking, cfg: cfg}
}

func (r *Router) WithNotifier(n EscalationNotifier) *Router {
	r.notifier = n
	return r
}

func (r *Router) WithMetrics(m *metrics.Metrics) *Router {
	r.metrics = m
	return r
}

// Submit обрабатывает сообщение роли role в чат chatID.
// Ошибки валидации возвращаются до любых побочных эффектов. Если исходное сообщение
// уже записано, ошибка означает сбой последующего шага, а Outcome.Message заполнен.
// Отключение отправителя не прерывает обработку: ограничивают её только таймауты.
func (r *Router) Submit(ctx context.Context, chatID int64, role model.Role, text string) (Outcome, error) {
	defer logger.DeferLogDuration("relay.Submit", time.Now())()
	ctx = context.WithoutCancel(ctx)

	if !role.Valid() || strings.TrimSpace(text) == "" {
		return Outcome{}, ErrInvalidMessage
	}

	var (
		out    Outcome
		invoke bool
	)
	err := r.rooms.withRoom(ctx, chatID, func(rm *room) error {
		if role == model.RoleOperator && !rm.mode.HumanEnabled() {
			return ErrHumanNotEnabled
		}
		msg, err := r.appendLocked(ctx, rm, role, text)
		if err != nil {
			return err
		}
		out.Message = msg
		invoke = role == model.RoleStudent && !rm.mode.HumanEnabled()
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if !invoke {
		return out, nil
	}

	dec := r.generate(ctx, out.Message)

	var firstErr error
	if dec.Reply != "" {
		err := r.rooms.withRoom(ctx, chatID, func(rm *room) error {
			reply, err := r.appendLocked(ctx, rm, model.RoleAI, dec.Reply)
			if err != nil {
				return err
			}
			out.Reply = &reply
			return nil
		})
		if err != nil {
			logger.Errorf("relay: append ai reply chat=%d: %v", chatID, err)
			firstErr = err
		}
	}

	if dec.BookingSlotID != nil {
		res, err := r.claim(ctx, chatID, *dec.BookingSlotID)
		out.Booking = res
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if dec.Escalate {
		changed, err := r.rooms.escalate(ctx, chatID)
		if err != nil {
			logger.Errorf("relay: escalate chat=%d: %v", chatID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if changed {
			out.Escalated = true
			r.metrics.Escalated()
			if r.notifier != nil {
				go r.notifier.NotifyEscalation(ctx, chatID)
			}
		}
	}
	return out, firstErr
}

// appendLocked пишет сообщение и рассылает его. Вызывается под room.mu,
// поэтому порядок рассылки совпадает с порядком записи.
func (r *Router) appendLocked(ctx context.Context, rm *room, role model.Role, text string) (model.Message, error) {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.StorageTimeout)
	defer cancel()
	m := &model.Message{ChatID: rm.chatID, Role: role, Text: text}
	if err := r.store.AppendMessage(sctx, m); err != nil {
		return model.Message{}, fmt.Errorf("%w: append message chat=%d: %w", ErrStorage, rm.chatID, err)
	}
	rm.broadcast(newMessageEvent(*m))
	r.metrics.MessageRouted(string(role))
	return *m, nil
}

// generate вызывает генератор вне блокировки комнаты. Сбой или таймаут
// превращаются в извинение и эскалацию.
func (r *Router) generate(ctx context.Context, msg model.Message) Decision {
	history := r.history(ctx, msg)

	gctx, cancel := context.WithTimeout(ctx, r.cfg.GeneratorTimeout)
	defer cancel()
	start := time.Now()
	dec, err := r.generator.Generate(gctx, GenerateRequest{ChatID: msg.ChatID, Message: msg.Text, History: history})
	switch {
	case errors.Is(err, context.DeadlineExceeded) || (err == nil && gctx.Err() != nil):
		r.metrics.GeneratorCall("timeout", time.Since(start))
		logger.Errorf("relay: generator timeout chat=%d after %s", msg.ChatID, time.Since(start))
		return Decision{Reply: FallbackReply, Escalate: true}
	case err != nil:
		r.metrics.GeneratorCall("error", time.Since(start))
		logger.Errorf("relay: generator chat=%d: %v", msg.ChatID, fmt.Errorf("%w: %w", ErrGenerator, err))
		return Decision{Reply: FallbackReply, Escalate: true}
	}
	r.metrics.GeneratorCall("ok", time.Since(start))
	return dec
}

// history — до HistoryLimit сообщений, записанных раньше msg.
func (r *Router) history(ctx context.Context, msg model.Message) []model.Message {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.StorageTimeout)
	defer cancel()
	all, err := r.store.ListMessages(sctx, msg.ChatID)
	if err != nil {
		logger.Warnf("relay: history chat=%d: %v", msg.ChatID, err)
		return nil
	}
	prior := make([]model.Message, 0, len(all))
	for _, m := range all {
		if m.ID < msg.ID {
			prior = append(prior, m)
		}
	}
	if len(prior) > r.cfg.HistoryLimit {
		prior = prior[len(prior)-r.cfg.HistoryLimit:]
	}
	return prior
}

// claim закрепляет слот и сообщает комнате итог. Сбой хранилища уходит только
// инициатору: комната не получает ни поправки, ни booking_failed.
func (r *Router) claim(ctx context.Context, chatID, slotID int64) (*BookingResult, error) {
	res := &BookingResult{SlotID: slotID}
	ok, err := r.booking.Claim(ctx, slotID, chatID)
	if err != nil {
		logger.Errorf("relay: claim slot=%d chat=%d: %v", slotID, chatID, err)
		res.Err = err
		return res, err
	}
	res.Claimed = ok
	if !ok {
		res.Err = ErrSlotUnavailable
		logger.Infof("relay: slot=%d taken before chat=%d", slotID, chatID)
	}

	payload := BookingPayload{ChatID: chatID, BookingID: slotID}
	err = r.rooms.withRoom(ctx, chatID, func(rm *room) error {
		if ok {
			rm.broadcast(Event{Type: EventBookingConfirmed, Payload: payload})
			return nil
		}
		if _, err := r.appendLocked(ctx, rm, model.RoleAI, BookingFailedReply); err != nil {
			logger.Errorf("relay: append booking correction chat=%d: %v", chatID, err)
		}
		rm.broadcast(Event{Type: EventBookingFailed, Payload: payload})
		return nil
	})
	return res, err
}
