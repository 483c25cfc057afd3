package logging

import (
	"io"
	"os"
	"sort"
	"sync"
)

// Component - подсистема, чьё имя выводится в префиксе строки лога
type Component string

const (
	ComponentRegion      Component = "region"
	ComponentWatcher     Component = "watcher"
	ComponentPersistence Component = "persistence"
	ComponentEventBus    Component = "eventbus"
)

// Registry выдаёт логгеры подсистем. Все логгеры реестра пишут в один поток
// и следуют общему уровню.
type Registry struct {
	mu      sync.Mutex
	out     io.Writer
	level   LogLevel
	loggers map[Component]*Logger
}

// NewRegistry создаёт реестр, пишущий в out с уровнем INFO
func NewRegistry(out io.Writer) *Registry {
	return &Registry{
		out:     out,
		level:   INFO,
		loggers: make(map[Component]*Logger),
	}
}

// For возвращает логгер подсистемы; повторные вызовы отдают тот же логгер
func (r *Registry) For(c Component) *Logger {
	r.mu.Lock()
	defer r.mu.Unlock()

	if logger, ok := r.loggers[c]; ok {
		return logger
	}
	logger := NewConsoleLogger(string(c), r.out)
	logger.SetLevels(r.level, r.level)
	r.loggers[c] = logger
	return logger
}

// SetLevel меняет уровень у выданных логгеров и у тех, что будут выданы позже
func (r *Registry) SetLevel(level LogLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.level = level
	for _, logger := range r.loggers {
		logger.SetLevels(level, level)
	}
}

// Components возвращает отсортированные имена выданных логгеров
func (r *Registry) Components() []Component {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Component, 0, len(r.loggers))
	for c := range r.loggers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var components = NewRegistry(os.Stdout)

// GetComponentLogger возвращает логгер подсистемы из общего реестра
func GetComponentLogger(c Component) *Logger {
	return components.For(c)
}

func GetRegionLogger() *Logger      { return components.For(ComponentRegion) }
func GetWatcherLogger() *Logger     { return components.For(ComponentWatcher) }
func GetPersistenceLogger() *Logger { return components.For(ComponentPersistence) }
