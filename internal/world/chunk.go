package world

import (
	"fmt"
	"sync"

	"github.com/annel0/regionkeeper/internal/vec"
)

// Cell - состояние одного блока: материал, вспомогательное значение и освещение
type Cell struct {
	Material string
	Data     int16
	Light    uint8 // Старший полубайт - собственный свет, младший - окружающий
}

// Air возвращает пустую ячейку
func Air() Cell {
	return Cell{Material: MaterialAir}
}

// PackLight упаковывает пару значений освещения
func PackLight(emitted, ambient uint8) uint8 {
	return (emitted&0xF)<<4 | ambient&0xF
}

// Emitted возвращает собственное свечение
func (c Cell) Emitted() uint8 { return c.Light >> 4 }

// Ambient возвращает окружающее освещение
func (c Cell) Ambient() uint8 { return c.Light & 0xF }

// SameBlock сравнивает материал и вспомогательное значение; свет не учитывается
func (c Cell) SameBlock(other Cell) bool {
	return normalizeMaterial(c.Material) == normalizeMaterial(other.Material) && c.Data == other.Data
}

// String возвращает строковое представление
func (c Cell) String() string {
	return fmt.Sprintf("%s:%d", normalizeMaterial(c.Material), c.Data)
}

// BlockEntity - неподвижная сущность, привязанная к блоку (сундук, табличка)
type BlockEntity struct {
	Pos  vec.Vec3
	Kind string
	Data map[string]interface{}
}

// Clone возвращает глубокую копию верхнего уровня данных
func (b BlockEntity) Clone() BlockEntity {
	out := b
	if b.Data != nil {
		out.Data = make(map[string]interface{}, len(b.Data))
		for k, v := range b.Data {
			out.Data[k] = v
		}
	}
	return out
}

// Chunk представляет колонну мира 16 x (maxY-minY+1) x 16 блоков
type Chunk struct {
	Coords vec.Vec2 // Координаты чанка в мире
	MinY   int
	MaxY   int

	cells         []Cell
	blockEntities map[vec.Vec3]BlockEntity

	ChangeCounter int          // Счетчик изменений
	Mu            sync.RWMutex // Мьютекс для безопасного доступа
}

// NewChunk создаёт чанк, заполненный воздухом
func NewChunk(coords vec.Vec2, minY, maxY int) *Chunk {
	height := maxY - minY + 1
	cells := make([]Cell, vec.ChunkSize*vec.ChunkSize*height)
	for i := range cells {
		cells[i].Material = MaterialAir
	}
	return &Chunk{
		Coords:        coords,
		MinY:          minY,
		MaxY:          maxY,
		cells:         cells,
		blockEntities: make(map[vec.Vec3]BlockEntity),
	}
}

// Contains проверяет, что мировые координаты принадлежат чанку
func (c *Chunk) Contains(pos vec.Vec3) bool {
	return pos.ChunkCoords() == c.Coords && pos.Y >= c.MinY && pos.Y <= c.MaxY
}

// index возвращает индекс ячейки в порядке Y, Z, X
func (c *Chunk) index(pos vec.Vec3) (int, bool) {
	if !c.Contains(pos) {
		return 0, false
	}
	lx := pos.X & 0xF
	lz := pos.Z & 0xF
	return ((pos.Y-c.MinY)*vec.ChunkSize+lz)*vec.ChunkSize + lx, true
}

// Cell возвращает ячейку по мировым координатам; вне чанка - воздух
func (c *Chunk) Cell(pos vec.Vec3) Cell {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.cellLocked(pos)
}

func (c *Chunk) cellLocked(pos vec.Vec3) Cell {
	i, ok := c.index(pos)
	if !ok {
		return Air()
	}
	return c.cells[i]
}

// SetCell устанавливает ячейку. Возвращает false, если координаты вне чанка.
// При смене материала блочная сущность в позиции удаляется.
func (c *Chunk) SetCell(pos vec.Vec3, cell Cell) bool {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.setCellLocked(pos, cell)
}

func (c *Chunk) setCellLocked(pos vec.Vec3, cell Cell) bool {
	i, ok := c.index(pos)
	if !ok {
		return false
	}
	cell.Material = normalizeMaterial(cell.Material)
	// Замена материала уничтожает блочную сущность старого блока
	if c.cells[i].Material != cell.Material {
		delete(c.blockEntities, pos)
	}
	c.cells[i] = cell
	c.ChangeCounter++
	return true
}

// BlockEntity возвращает блочную сущность в позиции
func (c *Chunk) BlockEntity(pos vec.Vec3) (BlockEntity, bool) {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	be, ok := c.blockEntities[pos]
	if !ok {
		return BlockEntity{}, false
	}
	return be.Clone(), true
}

// SetBlockEntity добавляет или заменяет блочную сущность
func (c *Chunk) SetBlockEntity(be BlockEntity) bool {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if !c.Contains(be.Pos) {
		return false
	}
	c.blockEntities[be.Pos] = be.Clone()
	c.ChangeCounter++
	return true
}

// RemoveBlockEntity удаляет блочную сущность
func (c *Chunk) RemoveBlockEntity(pos vec.Vec3) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if _, ok := c.blockEntities[pos]; ok {
		delete(c.blockEntities, pos)
		c.ChangeCounter++
	}
}

// BlockEntityCount возвращает количество блочных сущностей
func (c *Chunk) BlockEntityCount() int {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return len(c.blockEntities)
}
