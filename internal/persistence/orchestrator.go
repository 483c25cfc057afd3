package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/annel0/regionkeeper/internal/eventbus"
	"github.com/annel0/regionkeeper/internal/logging"
	"github.com/annel0/regionkeeper/internal/observability"
	"github.com/annel0/regionkeeper/internal/queue"
	"github.com/annel0/regionkeeper/internal/region"
	"github.com/annel0/regionkeeper/internal/snapshot"
	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/annel0/regionkeeper/internal/world"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNotRestorable - у региона нет возможности сохранения
	ErrNotRestorable = errors.New("регион не поддерживает снимки")
	// ErrNoChunks - регион не пересекает ни одного чанка в пределах высот мира
	ErrNoChunks = errors.New("регион не пересекает ни одного чанка")
	// ErrBusy - для региона уже выполняется сохранение или восстановление
	ErrBusy = errors.New("сохранение или восстановление уже выполняется")
	// ErrMissingSnapshot - для части чанков нет файла снимка
	ErrMissingSnapshot = errors.New("файлы снимка отсутствуют")
)

const publishTimeout = 2 * time.Second

// WorldAccess - операции мира, нужные для сохранения и восстановления
type WorldAccess interface {
	CaptureChunk(worldName string, coords vec.Vec2) (*world.ChunkSnapshot, error)
	SetCell(worldName string, pos vec.Vec3, cell world.Cell) error
	PutBlockEntity(worldName string, be world.BlockEntity) error
	SpawnEntity(worldName string, e world.Entity) error
	RemoveVolatileEntities(worldName string, min, max vec.Vec3) (int, error)
	HeightRange(worldName string) (minY, maxY int, err error)
}

// Options - зависимости оркестратора
type Options struct {
	World       WorldAccess
	Scheduler   *queue.Scheduler
	Codec       snapshot.Codec
	Compression snapshot.Compression
	Metrics     *observability.Metrics
	Bus         eventbus.EventBus
	Source      string // Источник событий в шине
}

// Orchestrator сохраняет и восстанавливает регионы по чанкам через очередь задач
type Orchestrator struct {
	world       WorldAccess
	scheduler   *queue.Scheduler
	codec       snapshot.Codec
	compression snapshot.Compression
	metrics     *observability.Metrics
	bus         eventbus.EventBus
	source      string
	tracer      trace.Tracer
	logger      *logging.Logger
}

// New создаёт оркестратор
func New(opts Options) *Orchestrator {
	source := opts.Source
	if source == "" {
		source = "persistence"
	}
	return &Orchestrator{
		world:       opts.World,
		scheduler:   opts.Scheduler,
		codec:       opts.Codec,
		compression: opts.Compression,
		metrics:     opts.Metrics,
		bus:         opts.Bus,
		source:      source,
		tracer:      observability.Tracer(),
		logger:      logging.GetPersistenceLogger(),
	}
}

// chunkSection - чанк региона и его часть внутри региона
type chunkSection struct {
	coords  vec.Vec2
	section snapshot.Section
}

func regionID(v region.View) string {
	return v.Namespace() + ":" + v.Key()
}

// sections возвращает непустые пересечения региона с чанками в порядке X, затем Z
func (o *Orchestrator) sections(r region.Restorable) ([]chunkSection, error) {
	b, ok := r.Bounds()
	if !ok {
		return nil, fmt.Errorf("%w: %s", region.ErrUndefined, regionID(r))
	}
	minY, maxY, err := o.world.HeightRange(r.World())
	if err != nil {
		return nil, err
	}
	var out []chunkSection
	for _, c := range b.Chunks() {
		sec, ok := snapshot.SectionOf(b.Min, b.Max, c, minY, maxY)
		if ok {
			out = append(out, chunkSection{coords: c, section: sec})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoChunks, regionID(r))
	}
	return out, nil
}

func (o *Orchestrator) filePath(r region.Restorable, c vec.Vec2, version string) string {
	return filepath.Join(r.DataDir(), snapshot.FileName(r.FilePrefix(), c.X, c.Y, version))
}

func restorable(v region.View) (region.Restorable, error) {
	r, ok := region.AsRestorable(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRestorable, regionID(v))
	}
	return r, nil
}

// currentVersion - выбранный снимок региона; пусто для основного
func currentVersion(v region.View) string {
	if ms, ok := region.AsMultiSnapshot(v); ok {
		return ms.SnapshotVersion()
	}
	return ""
}

func (o *Orchestrator) checkVersion(v region.View, version string) error {
	if version == "" {
		return nil
	}
	if _, ok := region.AsMultiSnapshot(v); !ok {
		return fmt.Errorf("%w: регион %s не поддерживает именованные снимки", region.ErrInvalidName, regionID(v))
	}
	if !region.ValidName(version) {
		return fmt.Errorf("%w: версия %q", region.ErrInvalidName, version)
	}
	return nil
}

// Chunks возвращает координаты чанков, которые затрагивает сохранение региона
func (o *Orchestrator) Chunks(v region.View) ([]vec.Vec2, error) {
	r, err := restorable(v)
	if err != nil {
		return nil, err
	}
	secs, err := o.sections(r)
	if err != nil {
		return nil, err
	}
	out := make([]vec.Vec2, len(secs))
	for i, s := range secs {
		out[i] = s.coords
	}
	return out, nil
}

// MissingChunks возвращает чанки, для которых нет файла снимка указанной версии
func (o *Orchestrator) MissingChunks(v region.View, version string) ([]vec.Vec2, error) {
	r, err := restorable(v)
	if err != nil {
		return nil, err
	}
	secs, err := o.sections(r)
	if err != nil {
		return nil, err
	}
	return o.missing(r, secs, version), nil
}

func (o *Orchestrator) missing(r region.Restorable, secs []chunkSection, version string) []vec.Vec2 {
	var out []vec.Vec2
	for _, s := range secs {
		if _, err := os.Stat(o.filePath(r, s.coords, version)); err != nil {
			out = append(out, s.coords)
		}
	}
	return out
}

// Versions перечисляет снимки региона на диске. Основной снимок обозначается пустой строкой.
func (o *Orchestrator) Versions(v region.View) ([]string, error) {
	r, err := restorable(v)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(r.DataDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, ok := snapshot.ParseFileName(e.Name())
		if !ok || info.Prefix != r.FilePrefix() {
			continue
		}
		seen[info.Version] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for version := range seen {
		out = append(out, version)
	}
	sort.Strings(out)
	return out, nil
}

// DeleteSnapshot удаляет все файлы снимка указанной версии
func (o *Orchestrator) DeleteSnapshot(v region.View, version string) (int, error) {
	r, err := restorable(v)
	if err != nil {
		return 0, err
	}
	if err := o.checkVersion(v, version); err != nil {
		return 0, err
	}
	if !r.TryBeginSave() {
		return 0, fmt.Errorf("%w: %s", ErrBusy, regionID(r))
	}
	defer r.EndSave()

	entries, err := os.ReadDir(r.DataDir())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		info, ok := snapshot.ParseFileName(e.Name())
		if !ok || info.Prefix != r.FilePrefix() || info.Version != version {
			continue
		}
		if err := os.Remove(filepath.Join(r.DataDir(), e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	o.logger.Info("🗑️ Снимок %s региона %s удалён (%d файлов)", versionLabel(version), regionID(r), removed)
	return removed, errors.Join(errs...)
}

func versionLabel(version string) string {
	if version == "" {
		return "<основной>"
	}
	return version
}

// Save сохраняет текущий снимок региона
func (o *Orchestrator) Save(ctx context.Context, v region.View) *queue.Future {
	return o.SaveVersion(ctx, v, currentVersion(v))
}

// SaveVersion записывает по файлу на каждый чанк региона. Возвращённый Future
// разрешается после снятия флага сохранения.
func (o *Orchestrator) SaveVersion(ctx context.Context, v region.View, version string) *queue.Future {
	r, err := restorable(v)
	if err != nil {
		return o.reject("сохранение", v, err)
	}
	if err := o.checkVersion(v, version); err != nil {
		return o.reject("сохранение", v, err)
	}
	secs, err := o.sections(r)
	if err != nil {
		return o.reject("сохранение", v, err)
	}
	if !r.TryBeginSave() {
		return o.reject("сохранение", v, fmt.Errorf("%w: %s", ErrBusy, regionID(r)))
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "region.save", trace.WithAttributes(
		attribute.String("region", regionID(r)),
		attribute.String("world", r.World()),
		attribute.String("version", version),
		attribute.Int("chunks", len(secs)),
	))
	r.Hooks().BeforeSave(ctx, r)

	p1, p2, _ := r.Corners()
	header := snapshot.Header{Region: r.Name(), World: r.World(), P1: p1, P2: p2}

	project := queue.NewProject("сохранение " + regionID(r))
	for _, s := range secs {
		project.Add(o.writeTask(r, header, s, version))
	}

	method := r.BuildMethod()
	o.logger.Info("💾 Сохранение %s (%s): %d чанков, метод %s", regionID(r), versionLabel(version), len(secs), method)

	return o.scheduler.Execute(ctx, project, method).Finally(func(f *queue.Future) {
		err := f.Err()
		r.EndSave()
		o.finishSpan(span, err)
		o.metrics.ObserveSave(err, time.Since(start))
		o.publish(eventbus.EventRegionSaved, r, version, len(secs), "", err, start)
		if err != nil {
			o.logger.Error("❌ Сохранение %s не удалось: %v", regionID(r), err)
		} else {
			o.logger.Info("✅ Регион %s сохранён за %v", regionID(r), time.Since(start))
		}
		o.afterHook(func(hctx context.Context) { r.Hooks().AfterSave(hctx, r, err) })
	})
}

// writeTask снимает копию чанка и записывает секцию во временный файл
func (o *Orchestrator) writeTask(r region.Restorable, h snapshot.Header, s chunkSection, version string) *queue.FuncTask {
	path := o.filePath(r, s.coords, version)
	var w *snapshot.FileWriter

	task := queue.NewTask("запись чанка "+s.coords.String(), queue.MayRunOffThread, func(ctx context.Context) error {
		snap, err := o.world.CaptureChunk(r.World(), s.coords)
		if err != nil {
			return err
		}
		w, err = snapshot.CreateFile(path, o.compression)
		if err != nil {
			return err
		}
		if err := o.codec.Write(w, h, s.section, snap); err != nil {
			return fmt.Errorf("запись %s: %w", path, err)
		}
		if err := w.Commit(); err != nil {
			return err
		}
		o.metrics.ChunkWritten()
		return nil
	})
	task.OnFinish(func() {
		if w != nil {
			_ = w.Close()
		}
	})
	return task
}

// Restore восстанавливает текущий снимок региона
func (o *Orchestrator) Restore(ctx context.Context, v region.View, method queue.BuildMethod) *queue.Future {
	return o.RestoreVersion(ctx, v, currentVersion(v), method)
}

// RestoreVersion возвращает блоки и сущности региона к сохранённому состоянию.
// Каждый чанк - подпроект из чтения с вычислением отличий и применения в потоке мутаций.
func (o *Orchestrator) RestoreVersion(ctx context.Context, v region.View, version string, method queue.BuildMethod) *queue.Future {
	r, err := restorable(v)
	if err != nil {
		return o.reject("восстановление", v, err)
	}
	if err := o.checkVersion(v, version); err != nil {
		return o.reject("восстановление", v, err)
	}
	secs, err := o.sections(r)
	if err != nil {
		return o.reject("восстановление", v, err)
	}
	if !r.TryBeginRestore() {
		return o.reject("восстановление", v, fmt.Errorf("%w: %s", ErrBusy, regionID(r)))
	}
	if missing := o.missing(r, secs, version); len(missing) > 0 {
		r.EndRestore()
		return o.reject("восстановление", v, fmt.Errorf("%w: %s, чанки %v", ErrMissingSnapshot, regionID(r), missing))
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "region.restore", trace.WithAttributes(
		attribute.String("region", regionID(r)),
		attribute.String("world", r.World()),
		attribute.String("version", version),
		attribute.String("method", method.String()),
		attribute.Int("chunks", len(secs)),
	))
	r.Hooks().BeforeRestore(ctx, r)

	done := func(err error) {
		r.EndRestore()
		o.finishSpan(span, err)
		o.metrics.ObserveRestore(method.String(), err, time.Since(start))
		o.publish(eventbus.EventRegionRestored, r, version, len(secs), method.String(), err, start)
		if err != nil {
			o.logger.Error("❌ Восстановление %s не удалось: %v", regionID(r), err)
		} else {
			o.logger.Info("✅ Регион %s восстановлен за %v (%s)", regionID(r), time.Since(start), method)
		}
		o.afterHook(func(hctx context.Context) { r.Hooks().AfterRestore(hctx, r, err) })
	}

	if err := o.removeVolatile(ctx, r, method); err != nil {
		done(err)
		return queue.CancelledFuture("удаление временных сущностей: "+err.Error(), err)
	}

	project := queue.NewProject("восстановление " + regionID(r))
	for _, s := range secs {
		project.Add(o.chunkProject(r, s, version))
	}
	o.logger.Info("♻️ Восстановление %s (%s): %d чанков, метод %s", regionID(r), versionLabel(version), len(secs), method)

	return o.scheduler.Execute(ctx, project, method).Finally(func(f *queue.Future) {
		done(f.Err())
	})
}

// removeVolatile удаляет временные сущности региона в потоке мутаций до запуска проекта
func (o *Orchestrator) removeVolatile(ctx context.Context, r region.Restorable, method queue.BuildMethod) error {
	b, _ := r.Bounds()
	remove := func(context.Context) error {
		n, err := o.world.RemoveVolatileEntities(r.World(), b.Min, b.Max)
		if err == nil && n > 0 {
			o.logger.Debug("Удалено временных сущностей в %s: %d", regionID(r), n)
		}
		return err
	}
	if method == queue.BuildFast || queue.IsMainThread(ctx) {
		return remove(ctx)
	}
	return o.scheduler.Loop().Call(ctx, remove)
}

// chunkProject строит подпроект чанка: чтение и сравнение, затем применение
func (o *Orchestrator) chunkProject(r region.Restorable, s chunkSection, version string) *queue.Project {
	path := o.filePath(r, s.coords, version)
	var result *snapshot.Result

	read := queue.NewTask("чтение "+filepath.Base(path), queue.MayRunOffThread, func(ctx context.Context) error {
		snap, err := o.world.CaptureChunk(r.World(), s.coords)
		if err != nil {
			return err
		}
		f, err := snapshot.OpenFile(path)
		if err != nil {
			return err
		}
		defer f.Close()

		res, err := o.codec.Read(f, s.section, snap)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		o.metrics.ChunkRead()
		result = res
		return nil
	})

	apply := queue.NewTask("применение чанка "+s.coords.String(), queue.MustRunOnMainThread, func(ctx context.Context) error {
		if result == nil {
			return fmt.Errorf("чанк %s не прочитан", s.coords)
		}
		return o.apply(r.World(), result)
	})

	return queue.NewProject("чанк "+s.coords.String()).Add(read, apply)
}

// apply записывает отличия в мир: одиночные ячейки, затем двухблочные структуры
// снизу вверх, затем блочные и подвижные сущности
func (o *Orchestrator) apply(worldName string, res *snapshot.Result) error {
	var pairs []snapshot.Diff
	for _, d := range res.Diffs {
		if world.IsDoubleHeight(d.Cell.Material) {
			pairs = append(pairs, d)
			continue
		}
		if err := o.world.SetCell(worldName, d.Pos, d.Cell); err != nil {
			return err
		}
	}
	for _, group := range GroupPairs(pairs) {
		for _, d := range group {
			if err := o.world.SetCell(worldName, d.Pos, d.Cell); err != nil {
				return err
			}
		}
	}
	o.metrics.AddDiffs(len(res.Diffs))

	for _, be := range res.BlockEntities {
		if err := o.world.PutBlockEntity(worldName, be); err != nil {
			return err
		}
	}
	for _, e := range res.Entities {
		if err := o.world.SpawnEntity(worldName, e); err != nil {
			return err
		}
	}
	return nil
}

// reject возвращает отменённый Future без создания задач
func (o *Orchestrator) reject(op string, v region.View, err error) *queue.Future {
	o.logger.Warn("⚠️ %s %s отклонено: %v", op, regionID(v), err)
	return queue.CancelledFuture(err.Error(), err)
}

// afterHook вызывает хук в потоке мутаций с его ctx. Если поток остановлен,
// хук вызывается на месте: ожидание потока тогда сразу вернёт ErrLoopStopped.
func (o *Orchestrator) afterHook(fn func(ctx context.Context)) {
	if o.scheduler.Loop().Exec(fn) {
		return
	}
	fn(context.Background())
}

func (o *Orchestrator) finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (o *Orchestrator) publish(eventType string, r region.Restorable, version string, chunks int, method string, err error, start time.Time) {
	payload := eventbus.PersistencePayload{
		Region:     regionID(r),
		World:      r.World(),
		Version:    version,
		Chunks:     chunks,
		Method:     method,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		payload.Cancelled = true
		payload.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if perr := eventbus.Emit(ctx, o.bus, o.source, eventType, payload); perr != nil {
		o.logger.Warn("Не удалось опубликовать %s для %s: %v", eventType, regionID(r), perr)
	}
}
