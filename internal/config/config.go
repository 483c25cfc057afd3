package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервиса регионов.
type Config struct {
	DataDir     string            `yaml:"data_dir"`
	LogLevel    string            `yaml:"log_level"`
	World       WorldConfig       `yaml:"world"`
	Watcher     WatcherConfig     `yaml:"watcher"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Storage     StorageConfig     `yaml:"storage"`
	EventBus    EventBusConfig    `yaml:"eventbus"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// WorldConfig описывает мир и поток мутаций
type WorldConfig struct {
	Name         string `yaml:"name"`
	MinY         int    `yaml:"min_y"`
	MaxY         int    `yaml:"max_y"`
	Seed         int64  `yaml:"seed"`
	TickMillis   int    `yaml:"tick_ms"`
	TasksPerTick int    `yaml:"tasks_per_tick"`
}

// TickInterval возвращает период тика потока мутаций
func (w WorldConfig) TickInterval() time.Duration {
	return time.Duration(w.TickMillis) * time.Millisecond
}

type WatcherConfig struct {
	IntervalMillis int `yaml:"interval_ms"`
}

// Interval возвращает период цикла наблюдателя
func (w WatcherConfig) Interval() time.Duration {
	return time.Duration(w.IntervalMillis) * time.Millisecond
}

type PersistenceConfig struct {
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
	Compression string `yaml:"compression"`
	Light       bool   `yaml:"light"`
	BuildMethod string `yaml:"build_method"`
}

type StorageConfig struct {
	Driver   string      `yaml:"driver"`
	Path     string      `yaml:"path"`
	Redis    RedisConfig `yaml:"redis"`
	MySQLDSN string      `yaml:"mysql_dsn"`
	Mongo    MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type EventBusConfig struct {
	Driver    string `yaml:"driver"`
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

type MetricsConfig struct {
	Port int `yaml:"port"`
}

// GetPort возвращает порт Prometheus метрик с поддержкой fallback значений
func (m *MetricsConfig) GetPort() int {
	return getPortWithEnvFallback(m.Port, "REGIONS_METRICS_PORT", 2112)
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default возвращает полностью заполненную конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		DataDir:  "data",
		LogLevel: "info",
		World: WorldConfig{
			Name:         "world",
			MinY:         0,
			MaxY:         127,
			Seed:         1,
			TickMillis:   50, // 20 Hz
			TasksPerTick: 64,
		},
		Watcher: WatcherConfig{IntervalMillis: 250},
		Persistence: PersistenceConfig{
			Workers:     2,
			QueueSize:   256,
			Compression: "none",
			Light:       true,
			BuildMethod: "performance",
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   "data/storage",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "regions:",
			},
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "regionkeeper",
				Collection: "documents",
			},
		},
		EventBus: EventBusConfig{
			Driver:    "memory",
			URL:       "nats://127.0.0.1:4222",
			Stream:    "REGIONS",
			Retention: 24,
			Buffer:    1024,
		},
		Telemetry: TelemetryConfig{ServiceName: "regionkeeper"},
	}
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	if c.World.Name == "" {
		return fmt.Errorf("world.name не задан")
	}
	if c.World.MinY >= c.World.MaxY {
		return fmt.Errorf("world.min_y (%d) должен быть меньше world.max_y (%d)", c.World.MinY, c.World.MaxY)
	}
	if c.World.TickMillis <= 0 || c.World.TasksPerTick <= 0 {
		return fmt.Errorf("world.tick_ms и world.tasks_per_tick должны быть положительными")
	}
	if c.Watcher.IntervalMillis <= 0 {
		return fmt.Errorf("watcher.interval_ms должен быть положительным")
	}
	if c.Persistence.Workers <= 0 {
		return fmt.Errorf("persistence.workers должен быть положительным")
	}
	switch strings.ToLower(c.Persistence.Compression) {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("неизвестное сжатие: %q", c.Persistence.Compression)
	}
	switch strings.ToLower(c.Persistence.BuildMethod) {
	case "performance", "balanced", "fast":
	default:
		return fmt.Errorf("неизвестный метод сборки: %q", c.Persistence.BuildMethod)
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "memory", "file", "badger", "redis", "mysql", "mongo":
	default:
		return fmt.Errorf("неизвестный драйвер хранилища: %q", c.Storage.Driver)
	}
	switch strings.ToLower(c.EventBus.Driver) {
	case "memory", "nats":
	default:
		return fmt.Errorf("неизвестный драйвер шины событий: %q", c.EventBus.Driver)
	}
	if c.Telemetry.SampleRatio < 0 {
		return fmt.Errorf("telemetry.sample_ratio не может быть отрицательным")
	}
	return nil
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV REGIONS_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("REGIONS_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать конфигурацию %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("не удалось разобрать конфигурацию %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
