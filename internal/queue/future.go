package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrProjectCancelled - задача не запускалась, так как проект был отменён
	ErrProjectCancelled = errors.New("проект отменён")
	// ErrPartialFailure - часть подпроектов завершилась с ошибкой
	ErrPartialFailure = errors.New("частичный сбой")
)

// CancelledError описывает отменённую операцию. Reason - читаемая причина,
// Cause - исходная ошибка (может быть nil).
type CancelledError struct {
	Reason string
	Cause  error
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return "операция отменена"
	}
	return fmt.Sprintf("операция отменена: %s", e.Reason)
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// Future - результат асинхронной операции: завершена успешно или отменена с причиной.
type Future struct {
	done      chan struct{}
	once      sync.Once
	mu        sync.Mutex
	err       *CancelledError
	callbacks []func(*Future)
}

// NewFuture создаёт неразрешённый Future
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// CancelledFuture возвращает уже отменённый Future
func CancelledFuture(reason string, cause error) *Future {
	f := NewFuture()
	f.cancel(reason, cause)
	return f
}

// Resolved возвращает успешно завершённый Future
func Resolved() *Future {
	f := NewFuture()
	f.complete()
	return f
}

// Done закрывается при разрешении
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsDone сообщает, разрешён ли Future
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// IsCancelled сообщает, был ли Future отменён
func (f *Future) IsCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err != nil
}

// Reason возвращает причину отмены или пустую строку
func (f *Future) Reason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		return ""
	}
	return f.err.Reason
}

// Err возвращает *CancelledError для отменённого Future и nil иначе
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		return nil
	}
	return f.err
}

// Wait ожидает разрешения или отмены контекста
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnDone регистрирует продолжение. Если Future уже разрешён, fn вызывается сразу.
func (f *Future) OnDone(fn func(*Future)) {
	f.mu.Lock()
	if !f.IsDone() {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn(f)
}

// Finally возвращает Future, который разрешается тем же результатом,
// но только после выполнения fn
func (f *Future) Finally(fn func(*Future)) *Future {
	next := NewFuture()
	f.OnDone(func(done *Future) {
		fn(done)
		done.mu.Lock()
		err := done.err
		done.mu.Unlock()
		next.resolve(err)
	})
	return next
}

func (f *Future) complete() bool {
	return f.resolve(nil)
}

func (f *Future) cancel(reason string, cause error) bool {
	return f.resolve(&CancelledError{Reason: reason, Cause: cause})
}

func (f *Future) resolve(err *CancelledError) bool {
	resolved := false
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		callbacks := f.callbacks
		f.callbacks = nil
		close(f.done)
		f.mu.Unlock()

		for _, cb := range callbacks {
			cb(f)
		}
		resolved = true
	})
	return resolved
}
