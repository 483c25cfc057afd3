package region

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/annel0/regionkeeper/internal/queue"
	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/google/uuid"
)

var (
	// ErrUndefined - у региона не заданы оба угла
	ErrUndefined = errors.New("регион не определён")
	// ErrInvalidName - имя региона или версии снимка содержит недопустимые символы
	ErrInvalidName = errors.New("недопустимое имя")
	// ErrDisposed - регион уже удалён
	ErrDisposed = errors.New("регион удалён")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName проверяет имя региона или версии снимка
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Capability - набор дополнительных возможностей региона
type Capability uint8

const (
	CapBuildable Capability = 1 << iota
	CapRestorable
	CapMultiSnapshot
)

// normalize добавляет возможности, от которых зависит заданная
func (c Capability) normalize() Capability {
	if c&CapMultiSnapshot != 0 {
		c |= CapRestorable
	}
	if c&CapRestorable != 0 {
		c |= CapBuildable
	}
	return c
}

// Has проверяет наличие всех возможностей other
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapBuildable, "buildable"},
	{CapRestorable, "restorable"},
	{CapMultiSnapshot, "multi_snapshot"},
}

// Names возвращает имена возможностей для хранения
func (c Capability) Names() []string {
	out := make([]string, 0, len(capabilityNames))
	for _, cn := range capabilityNames {
		if c&cn.cap != 0 {
			out = append(out, cn.name)
		}
	}
	return out
}

// ParseCapabilities разбирает имена возможностей; неизвестные имена игнорируются
func ParseCapabilities(names []string) Capability {
	var c Capability
	for _, n := range names {
		for _, cn := range capabilityNames {
			if strings.EqualFold(n, cn.name) {
				c |= cn.cap
			}
		}
	}
	return c.normalize()
}

// Reason - причина входа или выхода актёра
type Reason uint8

const (
	ReasonMove Reason = iota
	ReasonTeleport
	ReasonJoin
	ReasonPlugin
)

func (r Reason) String() string {
	switch r {
	case ReasonMove:
		return "move"
	case ReasonTeleport:
		return "teleport"
	case ReasonJoin:
		return "join"
	case ReasonPlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// Messages - сообщения при входе и выходе
type Messages struct {
	Entry string
	Exit  string
}

// Bounds - производные границы определённого региона (включительно)
type Bounds struct {
	Min      vec.Vec3
	Max      vec.Vec3
	ChunkMin vec.Vec2
	ChunkMax vec.Vec2
}

func boundsOf(p1, p2 vec.Vec3) Bounds {
	lo, hi := vec.Min(p1, p2), vec.Max(p1, p2)
	return Bounds{
		Min:      lo,
		Max:      hi,
		ChunkMin: lo.ChunkCoords(),
		ChunkMax: hi.ChunkCoords(),
	}
}

// Size возвращает ширину по каждой оси
func (b Bounds) Size() vec.Vec3 {
	return vec.Vec3{X: b.Max.X - b.Min.X + 1, Y: b.Max.Y - b.Min.Y + 1, Z: b.Max.Z - b.Min.Z + 1}
}

// Volume возвращает количество блоков
func (b Bounds) Volume() int64 {
	s := b.Size()
	return int64(s.X) * int64(s.Y) * int64(s.Z)
}

// Center возвращает геометрический центр
func (b Bounds) Center() vec.Vec3Float {
	return vec.Vec3Float{
		X: float64(b.Min.X+b.Max.X+1) / 2,
		Y: float64(b.Min.Y+b.Max.Y+1) / 2,
		Z: float64(b.Min.Z+b.Max.Z+1) / 2,
	}
}

// Contains проверяет попадание блока в кубоид
func (b Bounds) Contains(p vec.Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Chunks возвращает все чанки, которые пересекает регион (X, затем Z)
func (b Bounds) Chunks() []vec.Vec2 {
	out := make([]vec.Vec2, 0, (b.ChunkMax.X-b.ChunkMin.X+1)*(b.ChunkMax.Y-b.ChunkMin.Y+1))
	for cx := b.ChunkMin.X; cx <= b.ChunkMax.X; cx++ {
		for cz := b.ChunkMin.Y; cz <= b.ChunkMax.Y; cz++ {
			out = append(out, vec.Vec2{X: cx, Y: cz})
		}
	}
	return out
}

// View - регион только для чтения. Индекс и наблюдатель выдают регионы через него.
type View interface {
	Name() string
	Key() string
	Namespace() string
	World() string
	IsDefined() bool
	Bounds() (Bounds, bool)
	Corners() (p1, p2 vec.Vec3, ok bool)
	Contains(world string, p vec.Vec3) bool
	IsWatcher() bool
	Owner() uuid.UUID
	Meta(key string) (string, bool)
	EntryMessage() string
	ExitMessage() string
	CollaboratorMessages() map[string]Messages
	Capabilities() Capability
	Hooks() Hooks
}

// Buildable - регион, к которому применяется стратегия построения
type Buildable interface {
	View
	BuildMethod() queue.BuildMethod
	SetBuildMethod(m queue.BuildMethod)
}

// Restorable - регион со снимком на диске
type Restorable interface {
	Buildable
	DataDir() string
	FilePrefix() string
	TryBeginSave() bool
	EndSave()
	TryBeginRestore() bool
	EndRestore()
	IsSaving() bool
	IsRestoring() bool
}

// MultiSnapshot - регион с несколькими именованными снимками
type MultiSnapshot interface {
	Restorable
	SnapshotVersion() string
	SetSnapshotVersion(version string) error
}

// AsBuildable сужает View до Buildable, если у региона есть эта возможность
func AsBuildable(v View) (Buildable, bool) {
	r, ok := v.(*Region)
	if !ok || !r.caps.Has(CapBuildable) {
		return nil, false
	}
	return r, true
}

// AsRestorable сужает View до Restorable
func AsRestorable(v View) (Restorable, bool) {
	r, ok := v.(*Region)
	if !ok || !r.caps.Has(CapRestorable) {
		return nil, false
	}
	return r, true
}

// AsMultiSnapshot сужает View до MultiSnapshot
func AsMultiSnapshot(v View) (MultiSnapshot, bool) {
	r, ok := v.(*Region)
	if !ok || !r.caps.Has(CapMultiSnapshot) {
		return nil, false
	}
	return r, true
}

// Region - именованный кубоид в мире
type Region struct {
	name      string
	key       string
	namespace string
	caps      Capability
	hooks     Hooks
	index     *Index
	dataDir   string

	// mu охраняет изменяемое состояние ниже: его читает наблюдатель, пишет поток мутаций
	mu              sync.RWMutex
	world           string
	p1, p2          vec.Vec3
	hasP1, hasP2    bool
	bounds          Bounds
	watcher         bool
	owner           uuid.UUID
	meta            map[string]string
	messages        Messages
	collaborators   map[string]Messages
	buildMethod     queue.BuildMethod
	snapshotVersion string
	disposed        bool

	flagsMu   sync.Mutex
	saving    bool
	restoring bool
}

// Option настраивает регион при создании
type Option func(*Region)

// WithCapabilities задаёт возможности региона
func WithCapabilities(c Capability) Option {
	return func(r *Region) { r.caps = c.normalize() }
}

// WithHooks задаёт обработчики событий жизненного цикла
func WithHooks(h Hooks) Option {
	return func(r *Region) {
		if h != nil {
			r.hooks = h
		}
	}
}

// WithIndex привязывает регион к пространственному индексу
func WithIndex(ix *Index) Option {
	return func(r *Region) { r.index = ix }
}

// WithWatcher включает отслеживание входа и выхода актёров
func WithWatcher(on bool) Option {
	return func(r *Region) { r.watcher = on }
}

// WithDataDir задаёт каталог файлов снимков
func WithDataDir(dir string) Option {
	return func(r *Region) { r.dataDir = dir }
}

// WithBuildMethod задаёт стратегию построения по умолчанию
func WithBuildMethod(m queue.BuildMethod) Option {
	return func(r *Region) { r.buildMethod = m }
}

// New создаёт неопределённый регион
func New(namespace, name, world string, opts ...Option) (*Region, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: регион %q", ErrInvalidName, name)
	}
	if !ValidName(namespace) {
		return nil, fmt.Errorf("%w: пространство имён %q", ErrInvalidName, namespace)
	}
	r := &Region{
		name:          name,
		key:           strings.ToLower(name),
		namespace:     strings.ToLower(namespace),
		hooks:         NopHooks{},
		world:         world,
		meta:          make(map[string]string),
		collaborators: make(map[string]Messages),
		buildMethod:   queue.BuildBalanced,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Region) Name() string             { return r.name }
func (r *Region) Key() string              { return r.key }
func (r *Region) Namespace() string        { return r.namespace }
func (r *Region) Capabilities() Capability { return r.caps }
func (r *Region) Hooks() Hooks             { return r.hooks }

// ID возвращает полный идентификатор "namespace:key"
func (r *Region) ID() string {
	return r.namespace + ":" + r.key
}

func (r *Region) String() string {
	return r.ID()
}

func (r *Region) World() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.world
}

func (r *Region) IsDefined() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasP1 && r.hasP2
}

func (r *Region) Bounds() (Bounds, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bounds, r.hasP1 && r.hasP2
}

func (r *Region) Corners() (vec.Vec3, vec.Vec3, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.p1, r.p2, r.hasP1 && r.hasP2
}

func (r *Region) Contains(world string, p vec.Vec3) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.hasP1 || !r.hasP2 || r.world != world {
		return false
	}
	return r.bounds.Contains(p)
}

// placement возвращает данные для индекса одним снимком
func (r *Region) placement() (world string, b Bounds, watcher, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.world, r.bounds, r.watcher, r.hasP1 && r.hasP2 && !r.disposed
}

// SetCorners задаёт оба угла и переносит регион в индексе
func (r *Region) SetCorners(p1, p2 vec.Vec3) error {
	return r.updateCorners(func() {
		r.p1, r.p2 = p1, p2
		r.hasP1, r.hasP2 = true, true
	})
}

// SetP1 задаёт первый угол
func (r *Region) SetP1(p vec.Vec3) error {
	return r.updateCorners(func() {
		r.p1, r.hasP1 = p, true
	})
}

// SetP2 задаёт второй угол
func (r *Region) SetP2(p vec.Vec3) error {
	return r.updateCorners(func() {
		r.p2, r.hasP2 = p, true
	})
}

// SetWorld переносит регион в другой мир
func (r *Region) SetWorld(world string) error {
	return r.updateCorners(func() {
		r.world = world
	})
}

// ClearCorners делает регион неопределённым
func (r *Region) ClearCorners() error {
	return r.updateCorners(func() {
		r.hasP1, r.hasP2 = false, false
		r.bounds = Bounds{}
	})
}

func (r *Region) updateCorners(apply func()) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return ErrDisposed
	}
	apply()
	defined := r.hasP1 && r.hasP2
	if defined {
		r.bounds = boundsOf(r.p1, r.p2)
	}
	r.mu.Unlock()

	if r.index != nil {
		r.index.Unregister(r)
		if defined {
			r.index.Register(r)
		}
	}
	r.hooks.CoordsChanged(r)
	return nil
}

func (r *Region) IsWatcher() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.watcher
}

// SetWatcher включает или выключает отслеживание актёров
func (r *Region) SetWatcher(on bool) {
	r.mu.Lock()
	changed := r.watcher != on
	r.watcher = on
	defined := r.hasP1 && r.hasP2 && !r.disposed
	r.mu.Unlock()

	if changed && defined && r.index != nil {
		r.index.Register(r)
	}
}

func (r *Region) Owner() uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// SetOwner задаёт владельца (uuid.Nil - без владельца)
func (r *Region) SetOwner(id uuid.UUID) {
	r.mu.Lock()
	old := r.owner
	r.owner = id
	r.mu.Unlock()

	if old != id {
		r.hooks.OwnerChanged(r, old, id)
	}
}

func (r *Region) Meta(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.meta[key]
	return v, ok
}

// SetMeta записывает значение метаданных
func (r *Region) SetMeta(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta[key] = value
}

// RemoveMeta удаляет значение метаданных
func (r *Region) RemoveMeta(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.meta[key]
	delete(r.meta, key)
	return ok
}

// MetaMap возвращает копию метаданных
func (r *Region) MetaMap() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.meta))
	for k, v := range r.meta {
		out[k] = v
	}
	return out
}

func (r *Region) EntryMessage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.messages.Entry
}

func (r *Region) ExitMessage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.messages.Exit
}

// SetMessages задаёт собственные сообщения входа и выхода
func (r *Region) SetMessages(entry, exit string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = Messages{Entry: entry, Exit: exit}
}

// SetCollaboratorMessages задаёт сообщения от имени внешнего участника; пустые удаляют запись
func (r *Region) SetCollaboratorMessages(collaborator string, m Messages) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Entry == "" && m.Exit == "" {
		delete(r.collaborators, collaborator)
		return
	}
	r.collaborators[collaborator] = m
}

func (r *Region) CollaboratorMessages() map[string]Messages {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Messages, len(r.collaborators))
	for k, v := range r.collaborators {
		out[k] = v
	}
	return out
}

// collaboratorNames возвращает отсортированные имена участников
func collaboratorNames(m map[string]Messages) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r *Region) BuildMethod() queue.BuildMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buildMethod
}

func (r *Region) SetBuildMethod(m queue.BuildMethod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buildMethod = m
}

func (r *Region) DataDir() string {
	return r.dataDir
}

// FilePrefix - префикс имён файлов снимков
func (r *Region) FilePrefix() string {
	return r.key
}

func (r *Region) SnapshotVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotVersion
}

// SetSnapshotVersion выбирает текущий снимок; пустая строка - основной
func (r *Region) SetSnapshotVersion(version string) error {
	if version != "" && !ValidName(version) {
		return fmt.Errorf("%w: версия %q", ErrInvalidName, version)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotVersion = version
	return nil
}

// TryBeginSave помечает начало сохранения, если регион свободен
func (r *Region) TryBeginSave() bool {
	r.flagsMu.Lock()
	defer r.flagsMu.Unlock()
	if r.saving || r.restoring {
		return false
	}
	r.saving = true
	return true
}

func (r *Region) EndSave() {
	r.flagsMu.Lock()
	r.saving = false
	r.flagsMu.Unlock()
}

// TryBeginRestore помечает начало восстановления, если регион свободен
func (r *Region) TryBeginRestore() bool {
	r.flagsMu.Lock()
	defer r.flagsMu.Unlock()
	if r.saving || r.restoring {
		return false
	}
	r.restoring = true
	return true
}

func (r *Region) EndRestore() {
	r.flagsMu.Lock()
	r.restoring = false
	r.flagsMu.Unlock()
}

func (r *Region) IsSaving() bool {
	r.flagsMu.Lock()
	defer r.flagsMu.Unlock()
	return r.saving
}

func (r *Region) IsRestoring() bool {
	r.flagsMu.Lock()
	defer r.flagsMu.Unlock()
	return r.restoring
}

// Dispose удаляет регион из индекса. Повторный вызов ничего не делает.
func (r *Region) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	r.mu.Unlock()

	if r.index != nil {
		r.index.Unregister(r)
	}
}

// IsDisposed сообщает, удалён ли регион
func (r *Region) IsDisposed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disposed
}
