package vec

import "fmt"

// ChunkSize - размер чанка по X и Z в блоках
const ChunkSize = 16

// Vec2 представляет 2D координаты. Для чанков X - ось X мира, Y - ось Z мира.
type Vec2 struct {
	X, Y int
}

// LocalInChunk возвращает локальные координаты внутри чанка
func (v Vec2) LocalInChunk() Vec2 {
	return Vec2{X: v.X & 0xF, Y: v.Y & 0xF} // Модуль 16
}

// ChunkOrigin возвращает мировые координаты блока (X, Z) в углу чанка
func (v Vec2) ChunkOrigin() Vec2 {
	return Vec2{X: v.X * ChunkSize, Y: v.Y * ChunkSize}
}

// String возвращает строковое представление
func (v Vec2) String() string {
	return fmt.Sprintf("(%d, %d)", v.X, v.Y)
}
