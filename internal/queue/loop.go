package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/regionkeeper/internal/logging"
)

// ErrLoopStopped - поток мутаций остановлен, команда не будет выполнена
var ErrLoopStopped = errors.New("поток мутаций остановлен")

type mainThreadKey struct{}

// WithMainThread помечает контекст как контекст потока мутаций
func WithMainThread(ctx context.Context) context.Context {
	return context.WithValue(ctx, mainThreadKey{}, true)
}

// IsMainThread сообщает, выполняется ли код в потоке мутаций
func IsMainThread(ctx context.Context) bool {
	v, _ := ctx.Value(mainThreadKey{}).(bool)
	return v
}

// offMainThread снимает пометку для работы, уходящей в другие горутины
func offMainThread(ctx context.Context) context.Context {
	if !IsMainThread(ctx) {
		return ctx
	}
	return context.WithValue(ctx, mainThreadKey{}, false)
}

type command struct {
	fn    func(ctx context.Context)
	abort func()
}

// Loop - единственный поток мутаций мира. Все изменения мира выполняются
// командами, которые Loop исполняет на своих тиках, не более tasksPerTick за тик.
type Loop struct {
	interval     time.Duration
	tasksPerTick int

	mu      sync.Mutex
	pending []command
	stopped bool // После abortPending команды не принимаются

	handlersMu sync.RWMutex
	handlers   []func(ctx context.Context)

	tickMu    sync.Mutex
	closing   chan struct{}
	closeOnce sync.Once

	ticks    atomic.Int64
	executed atomic.Int64
}

// NewLoop создаёт поток мутаций
func NewLoop(interval time.Duration, tasksPerTick int) *Loop {
	if interval <= 0 {
		interval = 50 * time.Millisecond // 20 Hz
	}
	if tasksPerTick <= 0 {
		tasksPerTick = 64
	}
	return &Loop{
		interval:     interval,
		tasksPerTick: tasksPerTick,
		closing:      make(chan struct{}),
	}
}

// OnTick регистрирует обработчик, вызываемый в начале каждого тика
func (l *Loop) OnTick(fn func(ctx context.Context)) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers = append(l.handlers, fn)
}

// Exec ставит команду в очередь потока мутаций. Возвращает false, если поток остановлен.
func (l *Loop) Exec(fn func(ctx context.Context)) bool {
	return l.enqueue(command{fn: fn})
}

func (l *Loop) enqueue(cmd command) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	select {
	case <-l.closing:
		return false
	default:
	}
	l.pending = append(l.pending, cmd)
	return true
}

// Call выполняет fn в потоке мутаций и ждёт результата. Если ctx уже
// принадлежит потоку мутаций, fn выполняется сразу.
func (l *Loop) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if IsMainThread(ctx) {
		return fn(ctx)
	}

	result := make(chan error, 1)
	ok := l.enqueue(command{
		fn: func(mctx context.Context) {
			sent := false
			defer func() {
				if !sent {
					result <- errors.New("паника при выполнении команды")
				}
			}()
			err := fn(mctx)
			sent = true
			result <- err
		},
		abort: func() {
			result <- ErrLoopStopped
		},
	})
	if !ok {
		return ErrLoopStopped
	}
	// Поставленная команда всегда доводится до конца или прерывается Stop
	return <-result
}

// Pending возвращает длину очереди команд
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Run исполняет тики до отмены ctx или Stop. Горутина, вызвавшая Run, и есть поток мутаций.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	logging.Info("🔁 Поток мутаций запущен (тик %v, %d задач за тик)", l.interval, l.tasksPerTick)
	defer l.abortPending()

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.closing:
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick выполняет один тик синхронно: обработчики тика, затем очередь команд
func (l *Loop) Tick(ctx context.Context) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	mctx := WithMainThread(ctx)
	l.ticks.Add(1)

	l.handlersMu.RLock()
	handlers := l.handlers
	l.handlersMu.RUnlock()
	for _, h := range handlers {
		l.safeRun(mctx, h)
	}

	for _, cmd := range l.take(l.tasksPerTick) {
		l.safeRun(mctx, cmd.fn)
		l.executed.Add(1)
	}
}

// Drain выполняет тики, пока очередь не опустеет
func (l *Loop) Drain(ctx context.Context) {
	for l.Pending() > 0 {
		l.Tick(ctx)
	}
}

// Stop останавливает поток; команды в очереди прерываются
func (l *Loop) Stop() {
	l.closeOnce.Do(func() {
		close(l.closing)
	})
	l.tickMu.Lock()
	l.abortPending()
	l.tickMu.Unlock()
}

// Stats возвращает число тиков и выполненных команд
func (l *Loop) Stats() (ticks, executed int64) {
	return l.ticks.Load(), l.executed.Load()
}

// String возвращает строку статистики
func (l *Loop) String() string {
	ticks, executed := l.Stats()
	return fmt.Sprintf("Loop: %d ticks, %d commands, %d pending", ticks, executed, l.Pending())
}

func (l *Loop) take(n int) []command {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.pending) {
		n = len(l.pending)
	}
	batch := make([]command, n)
	copy(batch, l.pending[:n])
	l.pending = append(l.pending[:0], l.pending[n:]...)
	return batch
}

func (l *Loop) abortPending() {
	l.mu.Lock()
	l.stopped = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, cmd := range pending {
		if cmd.abort != nil {
			cmd.abort()
		}
	}
}

// safeRun не даёт панике в команде остановить поток мутаций
func (l *Loop) safeRun(ctx context.Context, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("💥 Паника в потоке мутаций: %v\n%s", r, debug.Stack())
		}
	}()
	fn(ctx)
}
