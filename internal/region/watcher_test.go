package region

import (
	"context"
	"sync"
	"testing"

	"github.com/annel0/regionkeeper/internal/eventbus"
	"github.com/annel0/regionkeeper/internal/queue"
	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeActors struct {
	worlds map[string][]uuid.UUID
}

func (f *fakeActors) Worlds() []string {
	out := make([]string, 0, len(f.worlds))
	for w := range f.worlds {
		out = append(out, w)
	}
	return out
}

func (f *fakeActors) ActorsIn(world string) []uuid.UUID {
	return f.worlds[world]
}

type fakeSink struct {
	mu       sync.Mutex
	messages map[uuid.UUID][]string
}

func (s *fakeSink) SendMessage(actor uuid.UUID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		s.messages = make(map[uuid.UUID][]string)
	}
	s.messages[actor] = append(s.messages[actor], text)
}

type membershipHooks struct {
	NopHooks
	log []string
}

func (h *membershipHooks) ActorEntered(ctx context.Context, r View, _ uuid.UUID, reason Reason) {
	if queue.IsMainThread(ctx) {
		h.log = append(h.log, "enter:"+r.Key()+":"+reason.String())
	}
}

func (h *membershipHooks) ActorLeft(ctx context.Context, r View, _ uuid.UUID, reason Reason) {
	if queue.IsMainThread(ctx) {
		h.log = append(h.log, "leave:"+r.Key()+":"+reason.String())
	}
}

type watcherFixture struct {
	ix      *Index
	loop    *queue.Loop
	actors  *fakeActors
	sink    *fakeSink
	watcher *Watcher
	hooks   *membershipHooks
	actor   uuid.UUID
	region  *Region
}

func newWatcherFixture(t *testing.T, opts ...WatcherOption) *watcherFixture {
	t.Helper()
	f := &watcherFixture{
		ix:    NewIndex(nil),
		loop:  queue.NewLoop(0, 100),
		sink:  &fakeSink{},
		hooks: &membershipHooks{},
		actor: uuid.New(),
	}
	f.actors = &fakeActors{worlds: map[string][]uuid.UUID{"world": {f.actor}}}
	f.watcher = NewWatcher(f.ix, f.actors, f.sink, f.loop, 0, opts...)
	f.region = defineRegion(t, f.ix, "gate", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 9, Y: 9, Z: 9},
		WithWatcher(true), WithHooks(f.hooks))
	f.region.SetMessages("welcome", "goodbye")
	return f
}

var (
	outside = vec.Vec3Float{X: 20.5, Y: 5, Z: 5}
	inside  = vec.Vec3Float{X: 5.5, Y: 5, Z: 5.2}
)

func TestEnterThenLeaveFromOneBatch(t *testing.T) {
	f := newWatcherFixture(t)

	var kinds []EventKind
	f.watcher.OnEvent(func(ctx context.Context, ev Event) { kinds = append(kinds, ev.Kind) })

	f.watcher.Record(f.actor, "world", outside, ReasonMove)
	f.watcher.Record(f.actor, "world", inside, ReasonTeleport)
	f.watcher.Record(f.actor, "world", outside, ReasonMove)

	assert.Equal(t, 2, f.watcher.Cycle(context.Background()))
	assert.Empty(t, f.hooks.log, "хуки выполняются только в потоке мутаций")

	f.loop.Tick(context.Background())
	assert.Equal(t, []string{"enter:gate:teleport", "leave:gate:move"}, f.hooks.log)
	assert.Equal(t, []EventKind{EventEnter, EventLeave}, kinds)
	assert.Equal(t, []string{"welcome", "goodbye"}, f.sink.messages[f.actor])
	assert.Empty(t, f.watcher.Members(f.actor))
}

func TestNoSamplesNoEvents(t *testing.T) {
	f := newWatcherFixture(t)

	f.watcher.Record(f.actor, "world", inside, ReasonJoin)
	require.Equal(t, 1, f.watcher.Cycle(context.Background()))
	require.Len(t, f.watcher.Members(f.actor), 1)

	// Актёр стоит на месте: новых позиций нет, членство сохраняется
	assert.Equal(t, 0, f.watcher.Cycle(context.Background()))
	assert.Len(t, f.watcher.Members(f.actor), 1)

	f.watcher.Record(f.actor, "world", inside, ReasonMove)
	assert.Equal(t, 0, f.watcher.Cycle(context.Background()), "повторный вход не порождает событие")
}

func TestLeaveWhenRegionStopsWatching(t *testing.T) {
	f := newWatcherFixture(t)

	f.watcher.Record(f.actor, "world", inside, ReasonMove)
	require.Equal(t, 1, f.watcher.Cycle(context.Background()))

	f.region.SetWatcher(false)
	require.False(t, f.ix.HasWatchers("world"))

	// Кэш не пуст, поэтому позиция обрабатывается и даёт выход
	f.watcher.Record(f.actor, "world", inside, ReasonMove)
	assert.Equal(t, 1, f.watcher.Cycle(context.Background()))
	assert.Empty(t, f.watcher.Members(f.actor))

	// Теперь мир без наблюдателей и кэш пуст - позиции отбрасываются
	f.watcher.Record(f.actor, "world", inside, ReasonMove)
	assert.Equal(t, 0, f.watcher.Cycle(context.Background()))
}

func TestInvalidateAndForget(t *testing.T) {
	f := newWatcherFixture(t)

	f.watcher.Record(f.actor, "world", inside, ReasonMove)
	require.Equal(t, 1, f.watcher.Cycle(context.Background()))

	f.watcher.Invalidate(f.actor)
	assert.Empty(t, f.watcher.Members(f.actor))

	// После сброса кэша актёр снова "входит"
	f.watcher.Record(f.actor, "world", inside, ReasonMove)
	assert.Equal(t, 1, f.watcher.Cycle(context.Background()))

	f.watcher.Forget(f.actor)
	assert.Nil(t, f.watcher.Members(f.actor))
	assert.Equal(t, 0, f.watcher.Cycle(context.Background()))
}

func TestTeleportToOtherWorldLeaves(t *testing.T) {
	f := newWatcherFixture(t)

	f.watcher.Record(f.actor, "world", inside, ReasonMove)
	require.Equal(t, 1, f.watcher.Cycle(context.Background()))

	f.actors.worlds = map[string][]uuid.UUID{"nether": {f.actor}}
	f.watcher.Record(f.actor, "nether", inside, ReasonTeleport)
	assert.Equal(t, 1, f.watcher.Cycle(context.Background()))
	assert.Empty(t, f.watcher.Members(f.actor))
}

func TestCollaboratorMessagesAndBus(t *testing.T) {
	bus := eventbus.NewMemoryBus(8)
	received := make(chan string, 4)
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		received <- ev.EventType
	})
	require.NoError(t, err)

	f := newWatcherFixture(t, WithEventBus(bus))
	f.region.SetCollaboratorMessages("quests", Messages{Entry: "quest started"})

	f.watcher.Record(f.actor, "world", inside, ReasonPlugin)
	require.Equal(t, 1, f.watcher.Cycle(context.Background()))
	f.loop.Tick(context.Background())
	require.NoError(t, bus.Close())

	assert.Equal(t, []string{"welcome", "quest started"}, f.sink.messages[f.actor])
	assert.Equal(t, eventbus.EventRegionEnter, <-received)
}
