package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/google/uuid"
)

// World - один мир: чанки, генерируемые по требованию, и подвижные сущности
type World struct {
	name      string
	minY      int
	maxY      int
	generator Generator

	chunksMu sync.RWMutex
	chunks   map[vec.Vec2]*Chunk

	entitiesMu sync.RWMutex
	entities   map[uuid.UUID]Entity
}

// NewWorld создаёт мир. Если generator == nil, чанки создаются пустыми.
func NewWorld(name string, minY, maxY int, generator Generator) *World {
	return &World{
		name:      name,
		minY:      minY,
		maxY:      maxY,
		generator: generator,
		chunks:    make(map[vec.Vec2]*Chunk),
		entities:  make(map[uuid.UUID]Entity),
	}
}

func (w *World) Name() string { return w.name }
func (w *World) MinY() int    { return w.minY }
func (w *World) MaxY() int    { return w.maxY }

// Chunk возвращает чанк, генерируя его при первом обращении
func (w *World) Chunk(coords vec.Vec2) *Chunk {
	w.chunksMu.RLock()
	chunk, ok := w.chunks[coords]
	w.chunksMu.RUnlock()
	if ok {
		return chunk
	}

	w.chunksMu.Lock()
	defer w.chunksMu.Unlock()
	if chunk, ok := w.chunks[coords]; ok {
		return chunk
	}

	if w.generator != nil {
		chunk = w.generator.GenerateChunk(coords, w.minY, w.maxY)
	} else {
		chunk = NewChunk(coords, w.minY, w.maxY)
	}
	w.chunks[coords] = chunk
	return chunk
}

// LoadedChunks возвращает координаты загруженных чанков
func (w *World) LoadedChunks() []vec.Vec2 {
	w.chunksMu.RLock()
	defer w.chunksMu.RUnlock()
	out := make([]vec.Vec2, 0, len(w.chunks))
	for c := range w.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

// Block возвращает ячейку по мировым координатам
func (w *World) Block(pos vec.Vec3) Cell {
	if pos.Y < w.minY || pos.Y > w.maxY {
		return Air()
	}
	return w.Chunk(pos.ChunkCoords()).Cell(pos)
}

// SetBlock устанавливает ячейку
func (w *World) SetBlock(pos vec.Vec3, cell Cell) error {
	if pos.Y < w.minY || pos.Y > w.maxY {
		return fmt.Errorf("высота %d вне диапазона мира %s [%d, %d]", pos.Y, w.name, w.minY, w.maxY)
	}
	w.Chunk(pos.ChunkCoords()).SetCell(pos, cell)
	return nil
}

// Snapshot снимает неизменяемую копию чанка вместе с сущностями его колонны
func (w *World) Snapshot(coords vec.Vec2) *ChunkSnapshot {
	origin := coords.ChunkOrigin()
	min := vec.Vec3{X: origin.X, Y: w.minY, Z: origin.Y}
	max := vec.Vec3{X: origin.X + vec.ChunkSize - 1, Y: w.maxY, Z: origin.Y + vec.ChunkSize - 1}
	return w.Chunk(coords).snapshot(w.name, w.EntitiesWithin(min, max))
}

// SpawnEntity добавляет сущность или заменяет сущность с тем же ID
func (w *World) SpawnEntity(e Entity) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	w.entitiesMu.Lock()
	defer w.entitiesMu.Unlock()
	w.entities[e.ID] = e.Clone()
}

// Entity возвращает сущность по ID
func (w *World) Entity(id uuid.UUID) (Entity, bool) {
	w.entitiesMu.RLock()
	defer w.entitiesMu.RUnlock()
	e, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	return e.Clone(), true
}

// RemoveEntity удаляет сущность
func (w *World) RemoveEntity(id uuid.UUID) bool {
	w.entitiesMu.Lock()
	defer w.entitiesMu.Unlock()
	if _, ok := w.entities[id]; !ok {
		return false
	}
	delete(w.entities, id)
	return true
}

// EntitiesWithin возвращает сущности, чей блок лежит в [min, max] включительно
func (w *World) EntitiesWithin(min, max vec.Vec3) []Entity {
	w.entitiesMu.RLock()
	defer w.entitiesMu.RUnlock()

	out := make([]Entity, 0)
	for _, e := range w.entities {
		if within(e.Pos.Floor(), min, max) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// RemoveVolatileWithin удаляет временные сущности в [min, max] и возвращает их количество
func (w *World) RemoveVolatileWithin(min, max vec.Vec3) int {
	w.entitiesMu.Lock()
	defer w.entitiesMu.Unlock()

	removed := 0
	for id, e := range w.entities {
		if e.Volatile && within(e.Pos.Floor(), min, max) {
			delete(w.entities, id)
			removed++
		}
	}
	return removed
}

// EntityCount возвращает количество сущностей
func (w *World) EntityCount() int {
	w.entitiesMu.RLock()
	defer w.entitiesMu.RUnlock()
	return len(w.entities)
}

func within(p, min, max vec.Vec3) bool {
	return p.X >= min.X && p.X <= max.X &&
		p.Y >= min.Y && p.Y <= max.Y &&
		p.Z >= min.Z && p.Z <= max.Z
}
