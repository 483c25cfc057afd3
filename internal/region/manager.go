package region

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/annel0/regionkeeper/internal/eventbus"
	"github.com/annel0/regionkeeper/internal/logging"
	"github.com/annel0/regionkeeper/internal/queue"
	"github.com/annel0/regionkeeper/internal/storage"
	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/google/uuid"
)

// ErrExists - регион с таким именем уже есть в пространстве имён
var ErrExists = errors.New("регион уже существует")

// ErrNotFound - регион не найден
var ErrNotFound = errors.New("регион не найден")

const rootPath = "regions"

// Manager владеет регионами, индексирует их и хранит определения в документе.
// Создаётся явно при старте приложения и передаётся зависимым компонентам.
type Manager struct {
	index   *Index
	doc     *storage.Document
	dataDir string
	bus     eventbus.EventBus
	hooks   func(namespace, name string) Hooks
	logger  *logging.Logger

	mu      sync.RWMutex
	regions map[string]map[string]*Region
}

// ManagerOption настраивает менеджер
type ManagerOption func(*Manager)

// WithManagerBus публикует события определения и удаления регионов
func WithManagerBus(bus eventbus.EventBus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithHooksFactory задаёт хуки для регионов, загружаемых из документа
func WithHooksFactory(fn func(namespace, name string) Hooks) ManagerOption {
	return func(m *Manager) { m.hooks = fn }
}

// NewManager создаёт менеджер регионов
func NewManager(index *Index, doc *storage.Document, dataDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		index:   index,
		doc:     doc,
		dataDir: dataDir,
		logger:  logging.GetRegionLogger(),
		regions: make(map[string]map[string]*Region),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Index возвращает пространственный индекс менеджера
func (m *Manager) Index() *Index {
	return m.index
}

func (m *Manager) regionDir(namespace, name string) string {
	return filepath.Join(m.dataDir, strings.ToLower(namespace), strings.ToLower(name))
}

// Create создаёт неопределённый регион
func (m *Manager) Create(namespace, name, world string, opts ...Option) (*Region, error) {
	base := []Option{WithIndex(m.index), WithDataDir(m.regionDir(namespace, name))}
	if m.hooks != nil {
		base = append(base, WithHooks(m.hooks(namespace, name)))
	}
	r, err := New(namespace, name, world, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.regions[r.Namespace()]
	if !ok {
		ns = make(map[string]*Region)
		m.regions[r.Namespace()] = ns
	}
	if _, exists := ns[r.Key()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, r.ID())
	}
	ns[r.Key()] = r
	return r, nil
}

// Define создаёт регион с заданными углами и регистрирует его в индексе
func (m *Manager) Define(namespace, name, world string, p1, p2 vec.Vec3, opts ...Option) (*Region, error) {
	r, err := m.Create(namespace, name, world, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.SetCorners(p1, p2); err != nil {
		return nil, err
	}
	m.logger.Info("📦 Регион %s определён в мире %s: %s..%s", r.ID(), world, vec.Min(p1, p2), vec.Max(p1, p2))
	if err := eventbus.Emit(context.Background(), m.bus, "manager", eventbus.EventRegionDefined,
		eventbus.RegionPayload{Region: r.ID(), World: world}); err != nil {
		m.logger.Warn("Не удалось опубликовать определение %s: %v", r.ID(), err)
	}
	return r, nil
}

// Get ищет регион без учёта регистра
func (m *Manager) Get(namespace, name string) (*Region, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.regions[strings.ToLower(namespace)][strings.ToLower(name)]
	return r, ok
}

// Remove удаляет регион из менеджера, индекса и документа
func (m *Manager) Remove(namespace, name string) error {
	ns, key := strings.ToLower(namespace), strings.ToLower(name)

	r, ok := m.detach(ns, key)
	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrNotFound, ns, key)
	}

	r.Dispose()
	m.doc.Remove(rootPath + "." + ns + "." + key)
	if err := eventbus.Emit(context.Background(), m.bus, "manager", eventbus.EventRegionRemoved,
		eventbus.RegionPayload{Region: r.ID(), World: r.World()}); err != nil {
		m.logger.Warn("Не удалось опубликовать удаление %s: %v", r.ID(), err)
	}
	m.logger.Info("🗑️ Регион %s удалён", r.ID())
	return nil
}

// detach убирает регион из менеджера, не трогая документ
func (m *Manager) detach(ns, key string) (*Region, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[ns][key]
	if !ok {
		return nil, false
	}
	delete(m.regions[ns], key)
	if len(m.regions[ns]) == 0 {
		delete(m.regions, ns)
	}
	return r, true
}

// List возвращает все регионы, отсортированные по идентификатору
func (m *Manager) List() []*Region {
	m.mu.RLock()
	out := make([]*Region, 0)
	for _, ns := range m.regions {
		for _, r := range ns {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sortRegions(out)
	return out
}

// ListNamespace возвращает регионы одного пространства имён
func (m *Manager) ListNamespace(namespace string) []*Region {
	m.mu.RLock()
	ns := m.regions[strings.ToLower(namespace)]
	out := make([]*Region, 0, len(ns))
	for _, r := range ns {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sortRegions(out)
	return out
}

// Load перечитывает документ и создаёт описанные в нём регионы.
// Уже загруженные регионы удаляются из индекса и заменяются.
func (m *Manager) Load(ctx context.Context) error {
	if err := m.doc.Reload(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	old := m.regions
	m.regions = make(map[string]map[string]*Region)
	m.mu.Unlock()
	for _, ns := range old {
		for _, r := range ns {
			r.Dispose()
		}
	}

	var errs []error
	loaded := 0
	for _, ns := range m.doc.Children(rootPath) {
		for _, key := range m.doc.Children(rootPath + "." + ns) {
			if err := m.loadRegion(ns, key); err != nil {
				errs = append(errs, fmt.Errorf("%s:%s: %w", ns, key, err))
				continue
			}
			loaded++
		}
	}
	m.logger.Info("📂 Загружено регионов: %d", loaded)
	return errors.Join(errs...)
}

func (m *Manager) loadRegion(ns, key string) error {
	path := rootPath + "." + ns + "." + key + "."
	name := m.doc.String(path+"name", key)

	opts := []Option{
		WithCapabilities(ParseCapabilities(m.doc.StringSlice(path + "capabilities"))),
		WithWatcher(m.doc.Bool(path+"watcher", false)),
	}
	if method := m.doc.String(path+"build_method", ""); method != "" {
		parsed, err := queue.ParseBuildMethod(method)
		if err != nil {
			return err
		}
		opts = append(opts, WithBuildMethod(parsed))
	}

	r, err := m.Create(ns, name, m.doc.String(path+"world", ""), opts...)
	if err != nil {
		return err
	}
	// Регион с повреждённым определением не остаётся загруженным наполовину
	if err := m.applyDefinition(r, path); err != nil {
		m.detach(r.Namespace(), r.Key())
		r.Dispose()
		return err
	}
	return nil
}

func (m *Manager) applyDefinition(r *Region, path string) error {
	if owner := m.doc.String(path+"owner", ""); owner != "" {
		id, err := uuid.Parse(owner)
		if err != nil {
			return fmt.Errorf("владелец: %w", err)
		}
		r.SetOwner(id)
	}
	for k, v := range m.doc.StringMap(path + "meta") {
		r.SetMeta(k, v)
	}
	r.SetMessages(m.doc.String(path+"entry", ""), m.doc.String(path+"exit", ""))
	for _, collaborator := range m.doc.Children(path + "messages") {
		p := path + "messages." + collaborator + "."
		r.SetCollaboratorMessages(collaborator, Messages{
			Entry: m.doc.String(p+"entry", ""),
			Exit:  m.doc.String(p+"exit", ""),
		})
	}
	if err := r.SetSnapshotVersion(m.doc.String(path+"snapshot_version", "")); err != nil {
		return err
	}

	if m.doc.Bool(path+"defined", false) {
		p1, ok1 := readVec(m.doc, path+"p1")
		p2, ok2 := readVec(m.doc, path+"p2")
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: углы повреждены", ErrUndefined)
		}
		return r.SetCorners(p1, p2)
	}
	return nil
}

func readVec(doc *storage.Document, path string) (vec.Vec3, bool) {
	v, ok := doc.IntSlice(path)
	if !ok || len(v) != 3 {
		return vec.Vec3{}, false
	}
	return vec.Vec3{X: v[0], Y: v[1], Z: v[2]}, true
}

// store записывает определение региона в документ
func (m *Manager) store(r *Region) {
	path := rootPath + "." + r.Namespace() + "." + r.Key()
	m.doc.Remove(path)
	path += "."

	m.doc.Set(path+"name", r.Name())
	m.doc.Set(path+"world", r.World())
	p1, p2, defined := r.Corners()
	m.doc.Set(path+"defined", defined)
	if defined {
		m.doc.Set(path+"p1", []int{p1.X, p1.Y, p1.Z})
		m.doc.Set(path+"p2", []int{p2.X, p2.Y, p2.Z})
	}
	m.doc.Set(path+"watcher", r.IsWatcher())
	if owner := r.Owner(); owner != uuid.Nil {
		m.doc.Set(path+"owner", owner.String())
	}
	if meta := r.MetaMap(); len(meta) > 0 {
		m.doc.Set(path+"meta", meta)
	}
	if entry := r.EntryMessage(); entry != "" {
		m.doc.Set(path+"entry", entry)
	}
	if exit := r.ExitMessage(); exit != "" {
		m.doc.Set(path+"exit", exit)
	}
	for collaborator, msgs := range r.CollaboratorMessages() {
		m.doc.Set(path+"messages."+collaborator, map[string]interface{}{"entry": msgs.Entry, "exit": msgs.Exit})
	}
	if caps := r.Capabilities(); caps != 0 {
		m.doc.Set(path+"capabilities", caps.Names())
		m.doc.Set(path+"build_method", r.BuildMethod().String())
	}
	if v := r.SnapshotVersion(); v != "" {
		m.doc.Set(path+"snapshot_version", v)
	}
}

// Save записывает все определения в документ и сохраняет его
func (m *Manager) Save(ctx context.Context) error {
	for _, r := range m.List() {
		m.store(r)
	}
	if err := m.doc.Save(ctx); err != nil {
		return fmt.Errorf("сохранение определений регионов: %w", err)
	}
	return nil
}

// SaveAsync записывает определения и сохраняет документ в фоне
func (m *Manager) SaveAsync() <-chan error {
	for _, r := range m.List() {
		m.store(r)
	}
	return m.doc.SaveAsync()
}

// Namespaces возвращает отсортированные пространства имён
func (m *Manager) Namespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.regions))
	for ns := range m.regions {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}
