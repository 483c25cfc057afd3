package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BusCollector отдаёт счётчики шины в Prometheus. Значения читаются
// из Stats в момент сбора, поэтому фоновое обновление не требуется.
type BusCollector struct {
	published prometheus.CounterFunc
	consumed  prometheus.CounterFunc
	dropped   prometheus.CounterFunc
	inflight  prometheus.GaugeFunc
}

// NewBusCollector создаёт коллектор для bus; регистрирует его вызывающий
func NewBusCollector(bus EventBus) *BusCollector {
	counter := func(name, help string, read func(Stats) uint64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(bus.Metrics())) })
	}
	return &BusCollector{
		published: counter("messages_published_total", "Опубликовано событий.",
			func(s Stats) uint64 { return s.Published }),
		consumed: counter("messages_consumed_total", "Событий доставлено подписчикам.",
			func(s Stats) uint64 { return s.Consumed }),
		dropped: counter("messages_dropped_total", "Событий отброшено при ошибке или переполнении буфера.",
			func(s Stats) uint64 { return s.Dropped }),
		inflight: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "eventbus",
			Name:      "messages_inflight",
			Help:      "Событий в буфере шины.",
		}, func() float64 { return float64(bus.Metrics().InFlight) }),
	}
}

func (c *BusCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{c.published, c.consumed, c.dropped, c.inflight}
}

// Describe реализует prometheus.Collector
func (c *BusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

// Collect реализует prometheus.Collector
func (c *BusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}
