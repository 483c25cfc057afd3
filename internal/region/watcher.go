package region

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/regionkeeper/internal/eventbus"
	"github.com/annel0/regionkeeper/internal/logging"
	"github.com/annel0/regionkeeper/internal/observability"
	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/google/uuid"
)

// ActorSource перечисляет миры и присутствующих в них актёров
type ActorSource interface {
	Worlds() []string
	ActorsIn(world string) []uuid.UUID
}

// MessageSink доставляет строку текста актёру
type MessageSink interface {
	SendMessage(actor uuid.UUID, text string)
}

// Dispatcher ставит функцию в очередь потока мутаций
type Dispatcher interface {
	Exec(fn func(ctx context.Context)) bool
}

// Sample - позиция актёра, записанная при перемещении
type Sample struct {
	World  string
	Pos    vec.Vec3Float
	Reason Reason
}

// EventKind - вход или выход
type EventKind uint8

const (
	EventEnter EventKind = iota
	EventLeave
)

func (k EventKind) String() string {
	if k == EventEnter {
		return "enter"
	}
	return "leave"
}

// Event - вход актёра в регион-наблюдатель или выход из него
type Event struct {
	Kind   EventKind
	Actor  uuid.UUID
	Region View
	Sample Sample
}

// tracker хранит очередь позиций и кэш членства одного актёра
type tracker struct {
	mu      sync.Mutex
	samples []Sample
	members map[*Region]struct{}
}

// drain забирает накопленные позиции (обмен с очисткой под блокировкой)
func (t *tracker) drain() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	samples := t.samples
	t.samples = nil
	return samples
}

// Watcher периодически сравнивает положение актёров с регионами-наблюдателями
// и порождает события входа и выхода.
type Watcher struct {
	index    *Index
	actors   ActorSource
	sink     MessageSink
	dispatch Dispatcher
	interval time.Duration

	bus     eventbus.EventBus
	metrics *observability.Metrics
	logger  *logging.Logger

	mu       sync.Mutex
	trackers map[uuid.UUID]*tracker

	listenersMu sync.RWMutex
	listeners   []func(ctx context.Context, ev Event)
}

// WatcherOption настраивает наблюдателя
type WatcherOption func(*Watcher)

// WithEventBus публикует события входа и выхода в шину
func WithEventBus(bus eventbus.EventBus) WatcherOption {
	return func(w *Watcher) { w.bus = bus }
}

// WithWatcherMetrics включает метрики наблюдателя
func WithWatcherMetrics(m *observability.Metrics) WatcherOption {
	return func(w *Watcher) { w.metrics = m }
}

// NewWatcher создаёт наблюдателя. sink может быть nil (сообщения не отправляются).
func NewWatcher(index *Index, actors ActorSource, sink MessageSink, dispatch Dispatcher, interval time.Duration, opts ...WatcherOption) *Watcher {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	w := &Watcher{
		index:    index,
		actors:   actors,
		sink:     sink,
		dispatch: dispatch,
		interval: interval,
		logger:   logging.GetWatcherLogger(),
		trackers: make(map[uuid.UUID]*tracker),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnEvent подписывает обработчик; вызывается в потоке мутаций после хуков региона
func (w *Watcher) OnEvent(fn func(ctx context.Context, ev Event)) {
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.listeners = append(w.listeners, fn)
}

func (w *Watcher) tracker(actor uuid.UUID, create bool) *tracker {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.trackers[actor]
	if !ok && create {
		t = &tracker{members: make(map[*Region]struct{})}
		w.trackers[actor] = t
	}
	return t
}

// Record добавляет позицию актёра в очередь. Безопасен для любой горутины.
func (w *Watcher) Record(actor uuid.UUID, world string, pos vec.Vec3Float, reason Reason) {
	t := w.tracker(actor, true)
	t.mu.Lock()
	t.samples = append(t.samples, Sample{World: world, Pos: pos, Reason: reason})
	t.mu.Unlock()
}

// Invalidate очищает кэш членства актёра без событий
func (w *Watcher) Invalidate(actor uuid.UUID) {
	if t := w.tracker(actor, false); t != nil {
		t.mu.Lock()
		t.members = make(map[*Region]struct{})
		t.mu.Unlock()
	}
}

// Forget перестаёт отслеживать актёра
func (w *Watcher) Forget(actor uuid.UUID) {
	w.mu.Lock()
	delete(w.trackers, actor)
	w.mu.Unlock()
}

// Members возвращает регионы, в которых актёр сейчас считается находящимся
func (w *Watcher) Members(actor uuid.UUID) []View {
	t := w.tracker(actor, false)
	if t == nil {
		return nil
	}
	t.mu.Lock()
	out := make([]*Region, 0, len(t.members))
	for r := range t.members {
		out = append(out, r)
	}
	t.mu.Unlock()
	sortRegions(out)
	return toViews(out)
}

// Run выполняет циклы наблюдателя до отмены контекста
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("👀 Наблюдатель регионов запущен (интервал %v)", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("🛑 Наблюдатель регионов остановлен")
			return ctx.Err()
		case <-ticker.C:
			w.Cycle(ctx)
		}
	}
}

// Cycle выполняет один проход и возвращает количество порождённых событий
func (w *Watcher) Cycle(ctx context.Context) int {
	start := time.Now()
	total := 0

	for _, world := range w.actors.Worlds() {
		hasWatchers := w.index.HasWatchers(world)
		for _, actor := range w.actors.ActorsIn(world) {
			t := w.tracker(actor, false)
			if t == nil {
				continue
			}
			samples := t.drain()
			if len(samples) == 0 {
				// Отсутствие движения не означает выхода
				continue
			}

			t.mu.Lock()
			empty := len(t.members) == 0
			t.mu.Unlock()
			if !hasWatchers && empty {
				continue
			}

			events := w.diff(actor, t, samples)
			total += len(events)
			for _, ev := range events {
				w.emit(ctx, ev)
			}
		}
	}

	w.metrics.ObserveWatcherCycle(time.Since(start))
	if total > 0 {
		w.logger.Trace("Цикл наблюдателя: %d событий за %v", total, time.Since(start))
	}
	return total
}

// diff сравнивает каждую позицию с изменяющимся кэшем членства по порядку поступления
func (w *Watcher) diff(actor uuid.UUID, t *tracker, samples []Sample) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []Event
	for _, s := range samples {
		inside := make(map[*Region]struct{})
		for _, r := range w.index.queryWatchers(s.World, s.Pos.Floor()) {
			inside[r] = struct{}{}
		}

		left := make([]*Region, 0)
		for r := range t.members {
			if _, ok := inside[r]; !ok {
				left = append(left, r)
			}
		}
		sortRegions(left)
		for _, r := range left {
			delete(t.members, r)
			events = append(events, Event{Kind: EventLeave, Actor: actor, Region: r, Sample: s})
		}

		entered := make([]*Region, 0)
		for r := range inside {
			if _, ok := t.members[r]; !ok {
				entered = append(entered, r)
			}
		}
		sortRegions(entered)
		for _, r := range entered {
			t.members[r] = struct{}{}
			events = append(events, Event{Kind: EventEnter, Actor: actor, Region: r, Sample: s})
		}
	}
	return events
}

// emit публикует событие и передаёт хуки в поток мутаций
func (w *Watcher) emit(ctx context.Context, ev Event) {
	w.metrics.WatcherEvent(ev.Kind.String())

	eventType := eventbus.EventRegionEnter
	if ev.Kind == EventLeave {
		eventType = eventbus.EventRegionLeave
	}
	payload := eventbus.MembershipPayload{
		Region: ev.Region.Namespace() + ":" + ev.Region.Key(),
		World:  ev.Sample.World,
		Actor:  ev.Actor.String(),
		Reason: ev.Sample.Reason.String(),
		X:      ev.Sample.Pos.X,
		Y:      ev.Sample.Pos.Y,
		Z:      ev.Sample.Pos.Z,
	}
	if err := eventbus.Emit(ctx, w.bus, "watcher", eventType, payload); err != nil {
		w.logger.Warn("Не удалось опубликовать событие %s: %v", eventType, err)
	}

	if !w.dispatch.Exec(func(ctx context.Context) { w.deliver(ctx, ev) }) {
		w.logger.Warn("Поток мутаций остановлен, событие %s для %s потеряно", ev.Kind, ev.Actor)
	}
}

// deliver выполняется в потоке мутаций
func (w *Watcher) deliver(ctx context.Context, ev Event) {
	hooks := ev.Region.Hooks()
	var own string
	if ev.Kind == EventEnter {
		hooks.ActorEntered(ctx, ev.Region, ev.Actor, ev.Sample.Reason)
		own = ev.Region.EntryMessage()
	} else {
		hooks.ActorLeft(ctx, ev.Region, ev.Actor, ev.Sample.Reason)
		own = ev.Region.ExitMessage()
	}

	if w.sink != nil {
		if own != "" {
			w.sink.SendMessage(ev.Actor, own)
		}
		collaborators := ev.Region.CollaboratorMessages()
		for _, name := range collaboratorNames(collaborators) {
			msg := collaborators[name].Exit
			if ev.Kind == EventEnter {
				msg = collaborators[name].Entry
			}
			if msg != "" {
				w.sink.SendMessage(ev.Actor, msg)
			}
		}
	}

	w.listenersMu.RLock()
	listeners := w.listeners
	w.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, ev)
	}
}
