package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordAndRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveSave(nil, 10*time.Millisecond)
	m.ObserveSave(errors.New("x"), time.Millisecond)
	m.ObserveRestore("FAST", nil, time.Millisecond)
	m.AddDiffs(5)
	m.AddDiffs(0)
	m.WatcherEvent("enter")
	m.SetIndexed(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Saves.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Saves.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Restores.WithLabelValues("ok", "FAST")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.DiffsApplied))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.IndexedRegions))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// Повторная регистрация не паникует
	NewMetrics(reg)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSave(nil, time.Second)
		m.ChunkWritten()
		m.SetQueues(1, 2)
	})
}

func TestHostCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewHostCollector()))

	n, err := testutil.GatherAndCount(reg, "host_cpu_percent", "host_memory_used_percent")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
