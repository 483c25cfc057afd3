package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleLoggerFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger("region", &buf)

	logger.Debug("не должно попасть")
	logger.Info("регион %s создан", "spawn")
	logger.Error("ошибка: %d", 42)

	out := buf.String()
	assert.NotContains(t, out, "не должно попасть")
	assert.Contains(t, out, "[INFO] [region] регион spawn создан")
	assert.Contains(t, out, "[ERROR] [region] ошибка: 42")

	buf.Reset()
	logger.SetLevels(TRACE, TRACE)
	logger.Trace("трассировка")
	assert.Contains(t, buf.String(), "[TRACE]")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, WARN, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, INFO, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestRegistryReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	reg := NewRegistry(&buf)

	a := reg.For(ComponentWatcher)
	b := reg.For(ComponentWatcher)
	assert.Same(t, a, b)
	reg.For(ComponentRegion)
	assert.Equal(t, []Component{ComponentRegion, ComponentWatcher}, reg.Components())
}

func TestRegistryLevelAppliesToAllLoggers(t *testing.T) {
	var buf bytes.Buffer
	reg := NewRegistry(&buf)
	early := reg.For(ComponentPersistence)

	reg.SetLevel(DEBUG)
	late := reg.For(ComponentEventBus)

	early.Debug("запись %d", 1)
	late.Debug("запись %d", 2)
	out := buf.String()
	assert.Contains(t, out, "[DEBUG] [persistence] запись 1")
	assert.Contains(t, out, "[DEBUG] [eventbus] запись 2")

	buf.Reset()
	reg.SetLevel(ERROR)
	early.Warn("скрыто")
	assert.Empty(t, buf.String())
}
