package queue

import (
	"context"
	"fmt"
	"strings"
)

// BuildMethod - стратегия исполнения проекта
type BuildMethod uint8

const (
	// BuildPerformance - проект уходит в фоновый пул, задачи потока мутаций
	// выполняются на обычных тиках вперемешку с остальной нагрузкой
	BuildPerformance BuildMethod = iota
	// BuildBalanced - проект выполняется синхронно, требования к потоку соблюдаются
	BuildBalanced
	// BuildFast - все задачи выполняются немедленно в вызывающей горутине
	BuildFast
)

// String возвращает строковое представление метода
func (m BuildMethod) String() string {
	switch m {
	case BuildPerformance:
		return "PERFORMANCE"
	case BuildBalanced:
		return "BALANCED"
	case BuildFast:
		return "FAST"
	default:
		return "UNKNOWN"
	}
}

// ParseBuildMethod разбирает метод из строки конфигурации
func ParseBuildMethod(s string) (BuildMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PERFORMANCE", "":
		return BuildPerformance, nil
	case "BALANCED":
		return BuildBalanced, nil
	case "FAST":
		return BuildFast, nil
	}
	return BuildPerformance, fmt.Errorf("неизвестный метод сборки: %q", s)
}

// Scheduler исполняет проекты выбранным методом
type Scheduler struct {
	loop *Loop
	pool *Pool
}

// NewScheduler создаёт планировщик поверх потока мутаций и фонового пула
func NewScheduler(loop *Loop, pool *Pool) *Scheduler {
	return &Scheduler{loop: loop, pool: pool}
}

// Loop возвращает поток мутаций
func (s *Scheduler) Loop() *Loop {
	return s.loop
}

// Execute запускает проект. Для BuildPerformance возвращается сразу,
// для BuildBalanced и BuildFast - после завершения проекта.
func (s *Scheduler) Execute(ctx context.Context, p *Project, method BuildMethod) *Future {
	switch method {
	case BuildFast:
		_ = p.execute(ctx, inline)
	case BuildBalanced:
		_ = p.execute(ctx, s.affine)
	default:
		go p.executeParallel(offMainThread(ctx), s.pool.Submit, s.affine)
	}
	return p.Future()
}

// affine выполняет задачу потока мутаций через Loop, остальные - на месте
func (s *Scheduler) affine(ctx context.Context, t Task) error {
	if t.Requirement() == MustRunOnMainThread && !IsMainThread(ctx) {
		return s.loop.Call(ctx, t.Run)
	}
	return t.Run(ctx)
}
