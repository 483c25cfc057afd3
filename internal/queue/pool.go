package queue

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/annel0/regionkeeper/internal/logging"
)

// ErrPoolStopped - фоновый пул остановлен
var ErrPoolStopped = errors.New("фоновый пул остановлен")

// Pool - общий фоновый воркер для задач, допускающих выполнение вне потока мутаций
type Pool struct {
	workerCount  int
	jobs         chan func()
	shutdownChan chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	stats        PoolStats
}

// PoolStats содержит статистику пула
type PoolStats struct {
	queued    atomic.Int64
	running   atomic.Int64
	completed atomic.Int64
}

// NewPool создаёт пул и запускает воркеров
func NewPool(workerCount, queueSize int) *Pool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workerCount * 2
	}

	p := &Pool{
		workerCount:  workerCount,
		jobs:         make(chan func(), queueSize),
		shutdownChan: make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p
}

// Submit ставит задание в очередь. Блокируется, если очередь заполнена.
func (p *Pool) Submit(job func()) bool {
	select {
	case <-p.shutdownChan:
		return false
	default:
	}

	select {
	case p.jobs <- job:
		p.stats.queued.Add(1)
		return true
	case <-p.shutdownChan:
		return false
	}
}

// Stop останавливает воркеров. Задания, оставшиеся в очереди, выполняются в вызывающей горутине.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.shutdownChan)
		p.wg.Wait()

		for {
			select {
			case job := <-p.jobs:
				p.stats.queued.Add(-1)
				p.run(job)
			default:
				return
			}
		}
	})
}

// Queued возвращает количество ожидающих заданий
func (p *Pool) Queued() int64 {
	return p.stats.queued.Load()
}

// GetStats возвращает статистику пула
func (p *Pool) GetStats() string {
	return fmt.Sprintf("Pool: %d workers, %d queued, %d running, %d completed",
		p.workerCount, p.stats.queued.Load(), p.stats.running.Load(), p.stats.completed.Load())
}

// worker обрабатывает задания
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.shutdownChan:
			return
		case job := <-p.jobs:
			p.stats.queued.Add(-1)
			p.run(job)
		}
	}
}

func (p *Pool) run(job func()) {
	p.stats.running.Add(1)
	defer func() {
		p.stats.running.Add(-1)
		p.stats.completed.Add(1)
		if r := recover(); r != nil {
			logging.Error("💥 Паника в фоновом воркере: %v", r)
		}
	}()
	job()
}
