package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Приоритеты событий. При переполнении буфера события ниже PriorityHigh отбрасываются.
const (
	PriorityLow      = 0
	PriorityHigh     = 5
	PriorityCritical = 9
)

// Envelope - конверт события с JSON полезной нагрузкой
type Envelope struct {
	ID            string            // UUID, ключ дедупликации
	Timestamp     time.Time         // UTC
	Source        string            // Подсистема-источник
	EventType     string            // region.enter, region.saved, ...
	Version       int               // Версия схемы Payload
	CorrelationID string            // Связывает события одной операции
	Priority      int               // 0..9
	Payload       []byte            // JSON
	Metadata      map[string]string // region, world
}

// Filter отбирает события по типу и источнику. Пустой список пропускает всё.
type Filter struct {
	Types   []string
	Sources []string
}

// Matches проверяет, проходит ли событие фильтр
func (f Filter) Matches(ev *Envelope) bool {
	return oneOf(ev.EventType, f.Types) && oneOf(ev.Source, f.Sources)
}

func oneOf(val string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == val {
			return true
		}
	}
	return false
}

// Subscription отменяет подписку
type Subscription interface {
	Unsubscribe()
}

// Handler обрабатывает событие
type Handler func(ctx context.Context, ev *Envelope)

// Stats - счётчики шины
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus - шина событий регионов
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

// memoryBus - шина внутри процесса. Каждый подписчик получает события
// по порядку публикации в собственной горутине.
type memoryBus struct {
	// closeMu охраняет отправку в queue от одновременного закрытия
	closeMu sync.RWMutex
	closed  bool
	queue   chan *Envelope

	mu     sync.RWMutex
	subs   map[uint64]*mailbox
	nextID uint64

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64

	dispatched chan struct{}
	workers    sync.WaitGroup
}

type mailbox struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	inbox   chan *Envelope
}

// NewMemoryBus создаёт шину с буфером на capacity событий
func NewMemoryBus(capacity int) EventBus {
	mb := newMemoryBus(capacity)
	go mb.dispatch()
	return mb
}

func newMemoryBus(capacity int) *memoryBus {
	if capacity <= 0 {
		capacity = 1
	}
	return &memoryBus{
		queue:      make(chan *Envelope, capacity),
		subs:       make(map[uint64]*mailbox),
		dispatched: make(chan struct{}),
	}
}

// Publish ставит событие в буфер. При переполнении событие с низким
// приоритетом отбрасывается без ошибки, остальные ждут места или отмены ctx.
func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.closeMu.RLock()
	defer mb.closeMu.RUnlock()
	if mb.closed {
		return ErrBusClosed
	}

	select {
	case mb.queue <- ev:
		mb.published.Add(1)
		return nil
	default:
	}
	if ev.Priority < PriorityHigh {
		mb.dropped.Add(1)
		return nil
	}
	select {
	case mb.queue <- ev:
		mb.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.closeMu.RLock()
	defer mb.closeMu.RUnlock()
	if mb.closed {
		return nil, ErrBusClosed
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	box := &mailbox{filter: f, handler: h, ctx: sctx, cancel: cancel, inbox: make(chan *Envelope, cap(mb.queue))}
	id := mb.nextID
	mb.nextID++
	mb.subs[id] = box

	mb.workers.Add(1)
	go mb.serve(box)
	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) serve(box *mailbox) {
	defer mb.workers.Done()
	for {
		select {
		case ev, ok := <-box.inbox:
			if !ok {
				return
			}
			box.handler(box.ctx, ev)
			mb.consumed.Add(1)
		case <-box.ctx.Done():
			return
		}
	}
}

func (mb *memoryBus) dispatch() {
	defer close(mb.dispatched)
	for ev := range mb.queue {
		mb.mu.RLock()
		boxes := make([]*mailbox, 0, len(mb.subs))
		for _, box := range mb.subs {
			if box.filter.Matches(ev) {
				boxes = append(boxes, box)
			}
		}
		mb.mu.RUnlock()

		for _, box := range boxes {
			select {
			case box.inbox <- ev:
			case <-box.ctx.Done():
			}
		}
	}
}

func (mb *memoryBus) Metrics() Stats {
	return Stats{
		Published: mb.published.Load(),
		Consumed:  mb.consumed.Load(),
		Dropped:   mb.dropped.Load(),
		InFlight:  len(mb.queue),
	}
}

// Close перестаёт принимать события, доставляет уже принятые и ждёт подписчиков.
// Повторный вызов ничего не делает.
func (mb *memoryBus) Close() error {
	mb.closeMu.Lock()
	if mb.closed {
		mb.closeMu.Unlock()
		return nil
	}
	mb.closed = true
	close(mb.queue)
	mb.closeMu.Unlock()

	<-mb.dispatched

	mb.mu.Lock()
	for _, box := range mb.subs {
		close(box.inbox)
	}
	mb.subs = make(map[uint64]*mailbox)
	mb.mu.Unlock()

	mb.workers.Wait()
	return nil
}

type memSub struct {
	bus *memoryBus
	id  uint64
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if box, ok := s.bus.subs[s.id]; ok {
		box.cancel()
		delete(s.bus.subs, s.id)
	}
}
