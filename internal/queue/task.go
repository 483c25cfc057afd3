package queue

import (
	"context"
	"sync"
)

// Requirement - требование задачи к потоку исполнения
type Requirement uint8

const (
	// MayRunOffThread - задача может выполняться в фоновом воркере
	MayRunOffThread Requirement = iota
	// MustRunOnMainThread - задача изменяет мир и выполняется только в потоке мутаций
	MustRunOnMainThread
)

// String возвращает строковое представление требования
func (r Requirement) String() string {
	switch r {
	case MayRunOffThread:
		return "MAY_RUN_OFF_THREAD"
	case MustRunOnMainThread:
		return "MUST_RUN_ON_MAIN_THREAD"
	default:
		return "UNKNOWN"
	}
}

// Task - единица работы с требованием к потоку и собственным Future
type Task interface {
	Name() string
	Requirement() Requirement
	Run(ctx context.Context) error
	Cancel(reason string, cause error) bool
	Complete() bool
	Future() *Future
}

// Finisher реализуется задачами с обязательной очисткой (закрытие файлов).
// Finish вызывается после Run при любом исходе.
type Finisher interface {
	Finish()
}

// FuncTask - задача из функции
type FuncTask struct {
	name   string
	req    Requirement
	fn     func(ctx context.Context) error
	future *Future

	finishMu sync.Mutex
	finish   []func()
}

// NewTask создаёт задачу из функции
func NewTask(name string, req Requirement, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{
		name:   name,
		req:    req,
		fn:     fn,
		future: NewFuture(),
	}
}

// OnFinish добавляет шаг очистки, выполняемый после Run
func (t *FuncTask) OnFinish(fn func()) *FuncTask {
	t.finishMu.Lock()
	t.finish = append(t.finish, fn)
	t.finishMu.Unlock()
	return t
}

func (t *FuncTask) Name() string             { return t.name }
func (t *FuncTask) Requirement() Requirement { return t.req }
func (t *FuncTask) Future() *Future          { return t.future }

func (t *FuncTask) Run(ctx context.Context) error {
	return t.fn(ctx)
}

func (t *FuncTask) Cancel(reason string, cause error) bool {
	return t.future.cancel(reason, cause)
}

func (t *FuncTask) Complete() bool {
	return t.future.complete()
}

// Finish выполняет шаги очистки в обратном порядке регистрации
func (t *FuncTask) Finish() {
	t.finishMu.Lock()
	steps := t.finish
	t.finish = nil
	t.finishMu.Unlock()

	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// dispatchFunc выполняет Run задачи в подходящем потоке
type dispatchFunc func(ctx context.Context, t Task) error

func inline(ctx context.Context, t Task) error {
	return t.Run(ctx)
}

// runLeaf выполняет листовую задачу и разрешает её Future
func runLeaf(ctx context.Context, t Task, dispatch dispatchFunc) error {
	if t.Future().IsDone() {
		// Отменена до запуска
		return t.Future().Err()
	}
	if f, ok := t.(Finisher); ok {
		defer f.Finish()
	}

	if err := dispatch(ctx, t); err != nil {
		t.Cancel(err.Error(), err)
		return err
	}
	t.Complete()
	return nil
}
