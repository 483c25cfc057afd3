package world

import (
	"sort"
	"time"

	"github.com/annel0/regionkeeper/internal/vec"
)

// ChunkSnapshot - неизменяемая копия чанка, безопасная для чтения из любой горутины
type ChunkSnapshot struct {
	World      string
	Coords     vec.Vec2
	MinY       int
	MaxY       int
	CapturedAt time.Time

	cells         []Cell
	blockEntities []BlockEntity
	entities      []Entity
}

// snapshot копирует чанк под блокировкой чтения
func (c *Chunk) snapshot(worldName string, entities []Entity) *ChunkSnapshot {
	c.Mu.RLock()
	defer c.Mu.RUnlock()

	cells := make([]Cell, len(c.cells))
	copy(cells, c.cells)

	bes := make([]BlockEntity, 0, len(c.blockEntities))
	for _, be := range c.blockEntities {
		bes = append(bes, be.Clone())
	}
	sort.Slice(bes, func(i, j int) bool { return lessVec3(bes[i].Pos, bes[j].Pos) })

	return &ChunkSnapshot{
		World:         worldName,
		Coords:        c.Coords,
		MinY:          c.MinY,
		MaxY:          c.MaxY,
		CapturedAt:    time.Now(),
		cells:         cells,
		blockEntities: bes,
		entities:      entities,
	}
}

// Contains проверяет, что позиция принадлежит снимку
func (s *ChunkSnapshot) Contains(pos vec.Vec3) bool {
	return pos.ChunkCoords() == s.Coords && pos.Y >= s.MinY && pos.Y <= s.MaxY
}

// Cell возвращает ячейку по мировым координатам
func (s *ChunkSnapshot) Cell(pos vec.Vec3) (Cell, bool) {
	if !s.Contains(pos) {
		return Cell{}, false
	}
	lx := pos.X & 0xF
	lz := pos.Z & 0xF
	return s.cells[((pos.Y-s.MinY)*vec.ChunkSize+lz)*vec.ChunkSize+lx], true
}

// BlockEntities возвращает блочные сущности, отсортированные по позиции
func (s *ChunkSnapshot) BlockEntities() []BlockEntity {
	out := make([]BlockEntity, len(s.blockEntities))
	copy(out, s.blockEntities)
	return out
}

// Entities возвращает подвижные сущности, находившиеся в колонне чанка
func (s *ChunkSnapshot) Entities() []Entity {
	out := make([]Entity, len(s.entities))
	copy(out, s.entities)
	return out
}

func lessVec3(a, b vec.Vec3) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}
