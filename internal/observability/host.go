package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// NewHostCollector возвращает метрики загрузки хоста. Значения снимаются
// при каждом сборе; ошибка чтения даёт 0.
func NewHostCollector() prometheus.Collector {
	return hostCollector{
		cpu: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "host_cpu_percent",
			Help: "Загрузка CPU хоста с предыдущего сбора, %",
		}, hostCPUPercent),
		mem: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "host_memory_used_percent",
			Help: "Занятая память хоста, %",
		}, hostMemoryPercent),
	}
}

type hostCollector struct {
	cpu prometheus.GaugeFunc
	mem prometheus.GaugeFunc
}

func (h hostCollector) Describe(ch chan<- *prometheus.Desc) {
	h.cpu.Describe(ch)
	h.mem.Describe(ch)
}

func (h hostCollector) Collect(ch chan<- prometheus.Metric) {
	h.cpu.Collect(ch)
	h.mem.Collect(ch)
}

// hostCPUPercent не блокируется: интервал 0 считает загрузку с прошлого вызова
func hostCPUPercent() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}

func hostMemoryPercent() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.UsedPercent
}
