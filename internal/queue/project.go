package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Project - упорядоченный набор задач и вложенных проектов с общим Future.
//
// Отмена проекта не даёт стартовать ещё не запущенным дочерним задачам;
// выполняющаяся задача не прерывается. Ошибка листовой задачи отменяет её
// непосредственный проект. Ошибка вложенного проекта только фиксируется:
// остальные дочерние элементы выполняются, а Future проекта в конце
// отменяется с ErrPartialFailure.
type Project struct {
	name     string
	children []Task
	future   *Future

	mu        sync.Mutex
	started   bool
	cancelled bool
	reason    string
	cause     error
	failures  []string
	causes    []error
}

// NewProject создаёт пустой проект
func NewProject(name string) *Project {
	return &Project{
		name:   name,
		future: NewFuture(),
	}
}

// Add добавляет задачи в конец проекта. Вызывается до запуска.
func (p *Project) Add(tasks ...Task) *Project {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children = append(p.children, tasks...)
	return p
}

// Tasks возвращает копию списка дочерних задач
func (p *Project) Tasks() []Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Task, len(p.children))
	copy(out, p.children)
	return out
}

// Len возвращает количество дочерних задач
func (p *Project) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.children)
}

func (p *Project) Name() string             { return p.name }
func (p *Project) Requirement() Requirement { return MayRunOffThread }
func (p *Project) Future() *Future          { return p.future }

// Run выполняет проект в текущей горутине без учёта требований к потоку
func (p *Project) Run(ctx context.Context) error {
	return p.execute(ctx, inline)
}

// Complete принудительно завершает Future проекта
func (p *Project) Complete() bool {
	return p.future.complete()
}

// Cancel отменяет проект. Если проект ещё не запускался, его Future
// и Future всех дочерних задач разрешаются сразу.
func (p *Project) Cancel(reason string, cause error) bool {
	p.mu.Lock()
	if p.cancelled || p.future.IsDone() {
		p.mu.Unlock()
		return false
	}
	p.cancelled = true
	p.reason = reason
	p.cause = cause
	notStarted := !p.started
	p.started = true
	children := p.children
	p.mu.Unlock()

	if notStarted {
		for _, child := range children {
			child.Cancel(reason, ErrProjectCancelled)
		}
		p.future.cancel(reason, cause)
	}
	return true
}

// IsCancelled сообщает, отменён ли проект
func (p *Project) IsCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

func (p *Project) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return false
	}
	p.started = true
	return true
}

func (p *Project) cancelState() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason, p.cancelled
}

func (p *Project) recordFailure(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reason := err.Error()
	var ce *CancelledError
	if errors.As(err, &ce) {
		reason = ce.Reason
		if ce.Cause != nil {
			err = ce.Cause
		}
	}
	p.failures = append(p.failures, fmt.Sprintf("%s: %s", name, reason))
	p.causes = append(p.causes, err)
}

// execute последовательно выполняет дочерние элементы
func (p *Project) execute(ctx context.Context, dispatch dispatchFunc) error {
	if !p.begin() {
		<-p.future.Done()
		return p.future.Err()
	}
	for _, child := range p.Tasks() {
		p.runChild(ctx, child, dispatch)
	}
	p.finish()
	return p.future.Err()
}

// executeParallel раздаёт дочерние элементы через submit; Future проекта
// разрешается последним завершившимся элементом.
func (p *Project) executeParallel(ctx context.Context, submit func(func()) bool, dispatch dispatchFunc) {
	if !p.begin() {
		return
	}
	children := p.Tasks()
	if len(children) == 0 {
		p.finish()
		return
	}

	var remaining atomic.Int32
	remaining.Store(int32(len(children)))
	done := func() {
		if remaining.Add(-1) == 0 {
			p.finish()
		}
	}

	for _, child := range children {
		child := child
		ok := submit(func() {
			defer done()
			p.runChild(ctx, child, dispatch)
		})
		if !ok {
			child.Cancel("фоновый пул остановлен", ErrPoolStopped)
			p.Cancel("фоновый пул остановлен", ErrPoolStopped)
			done()
		}
	}
}

func (p *Project) runChild(ctx context.Context, child Task, dispatch dispatchFunc) {
	if reason, cancelled := p.cancelState(); cancelled {
		child.Cancel(reason, ErrProjectCancelled)
		return
	}
	if err := ctx.Err(); err != nil {
		p.Cancel("контекст отменён", err)
		child.Cancel("контекст отменён", err)
		return
	}

	if sub, ok := child.(*Project); ok {
		if err := sub.execute(ctx, dispatch); err != nil {
			p.recordFailure(sub.Name(), err)
		}
		return
	}

	if err := runLeaf(ctx, child, dispatch); err != nil {
		p.Cancel(fmt.Sprintf("%s: %v", child.Name(), err), err)
	}
}

func (p *Project) finish() {
	p.mu.Lock()
	cancelled, reason, cause := p.cancelled, p.reason, p.cause
	failures, causes := p.failures, p.causes
	p.mu.Unlock()

	switch {
	case cancelled:
		p.future.cancel(reason, cause)
	case len(failures) > 0:
		reason := fmt.Sprintf("%d из %d подпроектов завершились с ошибкой: %s",
			len(failures), p.Len(), strings.Join(failures, "; "))
		p.future.cancel(reason, errors.Join(append([]error{ErrPartialFailure}, causes...)...))
	default:
		p.future.complete()
	}
}
