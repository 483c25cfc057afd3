package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/annel0/regionkeeper/internal/config"
	"github.com/annel0/regionkeeper/internal/eventbus"
	"github.com/annel0/regionkeeper/internal/logging"
	"github.com/annel0/regionkeeper/internal/observability"
	"github.com/annel0/regionkeeper/internal/persistence"
	"github.com/annel0/regionkeeper/internal/queue"
	"github.com/annel0/regionkeeper/internal/region"
	"github.com/annel0/regionkeeper/internal/snapshot"
	"github.com/annel0/regionkeeper/internal/storage"
	"github.com/annel0/regionkeeper/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metaRestoreOnStart - регионы с этим ключом метаданных восстанавливаются при запуске
const metaRestoreOnStart = "restore_on_start"

func main() {
	configPath := flag.String("config", "", "Путь к YAML конфигурации (по умолчанию $REGIONS_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if err := logging.InitDefaultLogger("regiond"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		logging.Warn("%v, используется INFO", err)
	}
	logging.SetDefaultLevel(level)

	logging.Info("🗺️ Запуск сервиса регионов (мир %s, данные %s)", cfg.World.Name, cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === ТЕЛЕМЕТРИЯ И МЕТРИКИ ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, observability.TelemetryOptions{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			logging.Warn("⚠️ Телеметрия отключена: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logging.Error("❌ Ошибка остановки телеметрии: %v", err)
				}
			}()
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		observability.NewHostCollector(),
	)
	metrics := observability.NewMetrics(registry)

	// === ХРАНИЛИЩЕ И ШИНА СОБЫТИЙ ===
	backend, err := storage.OpenBackend(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
	}
	defer backend.Close()

	doc, err := storage.Open(ctx, backend, "regions")
	if err != nil {
		log.Fatalf("❌ Ошибка чтения определений регионов: %v", err)
	}

	bus, err := openBus(cfg.EventBus)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения шины событий: %v", err)
	}
	defer bus.Close()

	registry.MustRegister(eventbus.NewBusCollector(bus))
	if _, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		logging.Warn("⚠️ Логирование событий недоступно: %v", err)
	}

	// === МИР И ОЧЕРЕДЬ ЗАДАЧ ===
	universe := world.NewUniverse()
	universe.AddWorld(world.NewWorld(cfg.World.Name, cfg.World.MinY, cfg.World.MaxY, world.NewPerlinGenerator(cfg.World.Seed)))

	loop := queue.NewLoop(cfg.World.TickInterval(), cfg.World.TasksPerTick)
	pool := queue.NewPool(cfg.Persistence.Workers, cfg.Persistence.QueueSize)
	defer pool.Stop()
	scheduler := queue.NewScheduler(loop, pool)
	loop.OnTick(func(context.Context) {
		metrics.SetQueues(loop.Pending(), pool.Queued())
	})

	// === РЕГИОНЫ ===
	index := region.NewIndex(metrics)
	manager := region.NewManager(index, doc, filepath.Join(cfg.DataDir, "regions"), region.WithManagerBus(bus))
	if err := manager.Load(ctx); err != nil {
		logging.Error("❌ Часть регионов не загружена: %v", err)
	}

	watcher := region.NewWatcher(index, universe, universe, loop, cfg.Watcher.Interval(),
		region.WithEventBus(bus), region.WithWatcherMetrics(metrics))
	universe.OnActorMove(func(m world.ActorMove) {
		watcher.Record(m.Actor, m.World, m.Pos, reasonOf(m.Cause))
	})
	universe.OnActorLeave(watcher.Forget)

	compression, err := snapshot.ParseCompression(cfg.Persistence.Compression)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	method, err := queue.ParseBuildMethod(cfg.Persistence.BuildMethod)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	orchestrator := persistence.New(persistence.Options{
		World:       universe,
		Scheduler:   scheduler,
		Codec:       snapshot.Codec{Light: cfg.Persistence.Light},
		Compression: compression,
		Metrics:     metrics,
		Bus:         bus,
		Source:      "regiond",
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = loop.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = watcher.Run(ctx)
	}()

	restoreOnStart(ctx, manager, orchestrator, method)

	// === HTTP МЕТРИКИ ===
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.GetPort()),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("❌ Сервер метрик: %v", err)
		}
	}()

	logging.Info("✅ Сервис регионов запущен: %d регионов, метрики на %s/metrics", index.Len(), srv.Addr)

	<-ctx.Done()
	logging.Info("📡 Получен сигнал завершения, остановка...")

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки сервера метрик: %v", err)
	}
	wg.Wait()
	logging.Info("📊 %s; %s", loop, pool.GetStats())
	if err := manager.Save(shutdownCtx); err != nil {
		logging.Error("❌ %v", err)
	}
	logging.Info("👋 Сервис регионов остановлен")
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.Driver == "nats" {
		return eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	}
	return eventbus.NewMemoryBus(cfg.Buffer), nil
}

func reasonOf(cause world.MoveCause) region.Reason {
	switch cause {
	case world.CauseTeleport:
		return region.ReasonTeleport
	case world.CauseJoin:
		return region.ReasonJoin
	case world.CausePlugin:
		return region.ReasonPlugin
	default:
		return region.ReasonMove
	}
}

// restoreOnStart возвращает отмеченные регионы к сохранённому состоянию
func restoreOnStart(ctx context.Context, manager *region.Manager, orchestrator *persistence.Orchestrator, method queue.BuildMethod) {
	for _, r := range manager.List() {
		if v, _ := r.Meta(metaRestoreOnStart); v != "true" {
			continue
		}
		if _, ok := region.AsRestorable(r); !ok {
			logging.Warn("⚠️ Регион %s отмечен для восстановления, но не поддерживает снимки", r.ID())
			continue
		}
		id := r.ID()
		orchestrator.Restore(ctx, r, method).OnDone(func(f *queue.Future) {
			if f.IsCancelled() {
				logging.Warn("⚠️ Восстановление %s при запуске: %s", id, f.Reason())
			}
		})
	}
}
