package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"
)

// SubjectPrefix - корень subject'ов событий регионов: regions.<мир>.<тип>
const SubjectPrefix = "regions"

const (
	defaultStream = "REGIONS"
	ackWait       = 30 * time.Second
	// noWorld подставляется вместо мира для событий без метаданных мира
	noWorld = "_"
)

// JetStreamBus - EventBus поверх NATS JetStream. Подписки эфемерные:
// слушатель получает события, опубликованные после подписки.
type JetStreamBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewJetStreamBus подключается к NATS и создаёт стрим, если его ещё нет.
// Пустое имя стрима заменяется на REGIONS; retention ограничивает возраст сообщений.
func NewJetStreamBus(url, stream string, retention time.Duration) (*JetStreamBus, error) {
	if stream == "" {
		stream = defaultStream
	}

	nc, err := nats.Connect(url, nats.Name("regionkeeper"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("подключение к nats %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("контекст jetstream: %w", err)
	}
	if err := ensureStream(js, stream, retention); err != nil {
		nc.Close()
		return nil, err
	}
	return &JetStreamBus{nc: nc, js: js, stream: stream}, nil
}

func ensureStream(js nats.JetStreamContext, stream string, retention time.Duration) error {
	if _, err := js.StreamInfo(stream); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{SubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    retention,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("создание стрима %s: %w", stream, err)
	}
	return nil
}

// Subject возвращает subject события: regions.<мир>.<тип>
func Subject(ev *Envelope) string {
	world := ev.Metadata["world"]
	if world == "" || strings.ContainsAny(world, ".*> ") {
		world = noWorld
	}
	return SubjectPrefix + "." + world + "." + ev.EventType
}

// filterSubject сужает подписку до одного типа, если фильтр это позволяет.
// Остальные условия фильтра проверяются после разбора сообщения.
func filterSubject(f Filter) string {
	if len(f.Types) == 1 {
		return SubjectPrefix + ".*." + f.Types[0]
	}
	return SubjectPrefix + ".>"
}

// Publish публикует Envelope в JSON; ID события служит ключом дедупликации
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err == nil {
		_, err = jb.js.Publish(Subject(ev), data, nats.Context(ctx), nats.MsgId(ev.ID))
	}
	if err != nil {
		jb.dropped.Add(1)
		return fmt.Errorf("публикация %s: %w", ev.EventType, err)
	}
	jb.published.Add(1)
	return nil
}

// Subscribe создаёт эфемерного потребителя с ручным подтверждением
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	sub, err := jb.js.Subscribe(filterSubject(f), func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			jb.dropped.Add(1)
			_ = msg.Term()
			return
		}
		if f.Matches(&ev) {
			h(ctx, &ev)
			jb.consumed.Add(1)
		}
		_ = msg.Ack()
	}, nats.BindStream(jb.stream), nats.DeliverNew(), nats.ManualAck(), nats.AckWait(ackWait))
	if err != nil {
		return nil, fmt.Errorf("подписка на %s: %w", filterSubject(f), err)
	}

	jb.mu.Lock()
	jb.subs = append(jb.subs, sub)
	jb.mu.Unlock()
	return &jetSub{bus: jb, sub: sub}, nil
}

func (jb *JetStreamBus) forget(sub *nats.Subscription) {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	for i, s := range jb.subs {
		if s == sub {
			jb.subs = append(jb.subs[:i], jb.subs[i+1:]...)
			return
		}
	}
}

type jetSub struct {
	bus *JetStreamBus
	sub *nats.Subscription
}

func (s *jetSub) Unsubscribe() {
	s.bus.forget(s.sub)
	_ = s.sub.Unsubscribe()
}

// Metrics возвращает счётчики шины. Очередь хранит сам JetStream, поэтому InFlight всегда 0.
func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: jb.published.Load(),
		Consumed:  jb.consumed.Load(),
		Dropped:   jb.dropped.Load(),
	}
}

// Close снимает подписки и закрывает соединение после отправки буфера
func (jb *JetStreamBus) Close() error {
	jb.mu.Lock()
	subs := jb.subs
	jb.subs = nil
	jb.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return jb.nc.Drain()
}
