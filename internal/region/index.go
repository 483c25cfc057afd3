package region

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/regionkeeper/internal/logging"
	"github.com/annel0/regionkeeper/internal/observability"
	"github.com/annel0/regionkeeper/internal/vec"
)

// ChunkKey - ключ корзины индекса
type ChunkKey struct {
	World string
	X, Z  int
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%s[%d,%d]", k.World, k.X, k.Z)
}

// KeyOf возвращает ключ чанка, содержащего блок
func KeyOf(world string, p vec.Vec3) ChunkKey {
	c := p.ChunkCoords()
	return ChunkKey{World: world, X: c.X, Z: c.Y}
}

type regionSet map[*Region]struct{}

// placement - корзины, в которые регион был добавлен при последней регистрации
type placement struct {
	world   string
	keys    []ChunkKey
	watcher bool
}

// Index - пространственный индекс регионов по чанкам.
// Корзина - грубый фильтр; точное попадание проверяется на каждом запросе.
type Index struct {
	mu            sync.Mutex
	all           map[ChunkKey]regionSet
	watchers      map[ChunkKey]regionSet
	placed        map[*Region]placement
	watcherWorlds map[string]int

	metrics *observability.Metrics
	logger  *logging.Logger
}

// NewIndex создаёт пустой индекс. metrics может быть nil.
func NewIndex(metrics *observability.Metrics) *Index {
	return &Index{
		all:           make(map[ChunkKey]regionSet),
		watchers:      make(map[ChunkKey]regionSet),
		placed:        make(map[*Region]placement),
		watcherWorlds: make(map[string]int),
		metrics:       metrics,
		logger:        logging.GetRegionLogger(),
	}
}

// Register добавляет регион во все корзины, которые он пересекает.
// Повторная регистрация переносит регион; неопределённый регион не добавляется.
func (ix *Index) Register(r *Region) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	world, bounds, watcher, ok := r.placement()
	if !ok {
		ix.logger.Warn("⚠️ Регион %s не определён, регистрация в индексе пропущена", r.ID())
		return
	}

	ix.removeLocked(r)

	chunks := bounds.Chunks()
	keys := make([]ChunkKey, 0, len(chunks))
	for _, c := range chunks {
		key := ChunkKey{World: world, X: c.X, Z: c.Y}
		keys = append(keys, key)
		addTo(ix.all, key, r)
		if watcher {
			addTo(ix.watchers, key, r)
		}
	}
	ix.placed[r] = placement{world: world, keys: keys, watcher: watcher}
	if watcher {
		ix.watcherWorlds[world]++
	}
	ix.metrics.SetIndexed(len(ix.placed))
	ix.logger.Debug("🗺️ Регион %s зарегистрирован в %d чанках (watcher=%v)", r.ID(), len(keys), watcher)
}

// Unregister удаляет регион из всех корзин
func (ix *Index) Unregister(r *Region) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.removeLocked(r) {
		ix.metrics.SetIndexed(len(ix.placed))
	}
}

func (ix *Index) removeLocked(r *Region) bool {
	p, ok := ix.placed[r]
	if !ok {
		return false
	}
	for _, key := range p.keys {
		removeFrom(ix.all, key, r)
		removeFrom(ix.watchers, key, r)
	}
	if p.watcher {
		ix.watcherWorlds[p.world]--
		if ix.watcherWorlds[p.world] <= 0 {
			delete(ix.watcherWorlds, p.world)
		}
	}
	delete(ix.placed, r)
	return true
}

func addTo(m map[ChunkKey]regionSet, key ChunkKey, r *Region) {
	set, ok := m[key]
	if !ok {
		set = make(regionSet)
		m[key] = set
	}
	set[r] = struct{}{}
}

func removeFrom(m map[ChunkKey]regionSet, key ChunkKey, r *Region) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, r)
	if len(set) == 0 {
		delete(m, key)
	}
}

// Query возвращает регионы, содержащие блок
func (ix *Index) Query(world string, p vec.Vec3) []View {
	return toViews(ix.query(ix.all, world, p))
}

// QueryWatchers возвращает регионы-наблюдатели, содержащие блок
func (ix *Index) QueryWatchers(world string, p vec.Vec3) []View {
	return toViews(ix.query(ix.watchers, world, p))
}

func (ix *Index) queryWatchers(world string, p vec.Vec3) []*Region {
	return ix.query(ix.watchers, world, p)
}

func (ix *Index) query(m map[ChunkKey]regionSet, world string, p vec.Vec3) []*Region {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	set := m[KeyOf(world, p)]
	out := make([]*Region, 0, len(set))
	for r := range set {
		if r.Contains(world, p) {
			out = append(out, r)
		}
	}
	sortRegions(out)
	return out
}

// RegionsInChunk возвращает корзину без проверки попадания
func (ix *Index) RegionsInChunk(key ChunkKey) []View {
	ix.mu.Lock()
	set := ix.all[key]
	out := make([]*Region, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	ix.mu.Unlock()

	sortRegions(out)
	return toViews(out)
}

// HasWatchers сообщает, есть ли в мире хотя бы один регион-наблюдатель
func (ix *Index) HasWatchers(world string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.watcherWorlds[world] > 0
}

// Len возвращает количество зарегистрированных регионов
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.placed)
}

// ChunkKeys возвращает корзины, в которых сейчас находится регион
func (ix *Index) ChunkKeys(r *Region) []ChunkKey {
	ix.mu.Lock()
	p := ix.placed[r]
	keys := make([]ChunkKey, len(p.keys))
	copy(keys, p.keys)
	ix.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Z < keys[j].Z
	})
	return keys
}

// GetStats возвращает строку статистики индекса
func (ix *Index) GetStats() string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return fmt.Sprintf("Regions: %d, Buckets: %d, WatcherBuckets: %d, WatcherWorlds: %d",
		len(ix.placed), len(ix.all), len(ix.watchers), len(ix.watcherWorlds))
}

func sortRegions(rs []*Region) {
	sort.Slice(rs, func(i, j int) bool {
		return rs[i].ID() < rs[j].ID()
	})
}

func toViews(rs []*Region) []View {
	out := make([]View, len(rs))
	for i, r := range rs {
		out[i] = r
	}
	return out
}
