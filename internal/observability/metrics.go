package observability

import (
	"errors"
	"time"

	"github.com/annel0/regionkeeper/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics содержит метрики сервиса регионов. Все методы безопасны для nil-получателя.
type Metrics struct {
	Saves             *prometheus.CounterVec
	Restores          *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ChunksWritten     prometheus.Counter
	ChunksRead        prometheus.Counter
	DiffsApplied      prometheus.Counter
	WatcherCycles     prometheus.Counter
	WatcherEvents     *prometheus.CounterVec
	WatcherDuration   prometheus.Histogram
	IndexedRegions    prometheus.Gauge
	LoopPending       prometheus.Gauge
	PoolQueued        prometheus.Gauge
}

// NewMetrics создаёт метрики и регистрирует их в reg (если reg != nil)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regions_saves_total",
			Help: "Количество операций сохранения регионов по результату",
		}, []string{"result"}),
		Restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regions_restores_total",
			Help: "Количество операций восстановления регионов по результату и методу",
		}, []string{"result", "method"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regions_operation_duration_seconds",
			Help:    "Длительность сохранения и восстановления",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"operation"}),
		ChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regions_chunks_written_total",
			Help: "Количество записанных файлов снимков чанков",
		}),
		ChunksRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regions_chunks_read_total",
			Help: "Количество прочитанных файлов снимков чанков",
		}),
		DiffsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regions_diffs_applied_total",
			Help: "Количество применённых отличий блоков",
		}),
		WatcherCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regions_watcher_cycles_total",
			Help: "Количество циклов наблюдателя",
		}),
		WatcherEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regions_watcher_events_total",
			Help: "События входа и выхода актёров",
		}, []string{"kind"}),
		WatcherDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "regions_watcher_cycle_duration_seconds",
			Help:    "Длительность цикла наблюдателя",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		IndexedRegions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regions_indexed",
			Help: "Количество регионов в пространственном индексе",
		}),
		LoopPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regions_loop_pending",
			Help: "Команды в очереди потока мутаций",
		}),
		PoolQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regions_pool_queued",
			Help: "Задания в очереди фонового пула",
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				// Игнорируем ошибки дублирования метрик
				var already prometheus.AlreadyRegisteredError
				if !errors.As(err, &already) {
					logging.Warn("Не удалось зарегистрировать метрику: %v", err)
				}
			}
		}
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Saves, m.Restores, m.OperationDuration,
		m.ChunksWritten, m.ChunksRead, m.DiffsApplied,
		m.WatcherCycles, m.WatcherEvents, m.WatcherDuration,
		m.IndexedRegions, m.LoopPending, m.PoolQueued,
	}
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// ObserveSave учитывает завершённое сохранение
func (m *Metrics) ObserveSave(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.Saves.WithLabelValues(result(err)).Inc()
	m.OperationDuration.WithLabelValues("save").Observe(d.Seconds())
}

// ObserveRestore учитывает завершённое восстановление
func (m *Metrics) ObserveRestore(method string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.Restores.WithLabelValues(result(err), method).Inc()
	m.OperationDuration.WithLabelValues("restore").Observe(d.Seconds())
}

// ChunkWritten учитывает записанный файл чанка
func (m *Metrics) ChunkWritten() {
	if m == nil {
		return
	}
	m.ChunksWritten.Inc()
}

// ChunkRead учитывает прочитанный файл чанка
func (m *Metrics) ChunkRead() {
	if m == nil {
		return
	}
	m.ChunksRead.Inc()
}

// AddDiffs учитывает применённые отличия
func (m *Metrics) AddDiffs(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DiffsApplied.Add(float64(n))
}

// ObserveWatcherCycle учитывает цикл наблюдателя
func (m *Metrics) ObserveWatcherCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.WatcherCycles.Inc()
	m.WatcherDuration.Observe(d.Seconds())
}

// WatcherEvent учитывает событие "enter" или "leave"
func (m *Metrics) WatcherEvent(kind string) {
	if m == nil {
		return
	}
	m.WatcherEvents.WithLabelValues(kind).Inc()
}

// SetIndexed задаёт количество регионов в индексе
func (m *Metrics) SetIndexed(n int) {
	if m == nil {
		return
	}
	m.IndexedRegions.Set(float64(n))
}

// SetQueues задаёт длины очередей потока мутаций и пула
func (m *Metrics) SetQueues(loopPending int, poolQueued int64) {
	if m == nil {
		return
	}
	m.LoopPending.Set(float64(loopPending))
	m.PoolQueued.Set(float64(poolQueued))
}
