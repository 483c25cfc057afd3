package snapshot

import (
	"fmt"

	"github.com/annel0/regionkeeper/internal/vec"
)

// Section - часть чанка, принадлежащая региону (границы включительно)
type Section struct {
	Min vec.Vec3
	Max vec.Vec3
}

// SectionOf пересекает кубоид региона с колонной чанка и диапазоном высот мира.
// ok == false, если пересечение пусто.
func SectionOf(regionMin, regionMax vec.Vec3, chunk vec.Vec2, minY, maxY int) (Section, bool) {
	origin := chunk.ChunkOrigin()
	s := Section{
		Min: vec.Vec3{
			X: max(regionMin.X, origin.X),
			Y: max(regionMin.Y, minY),
			Z: max(regionMin.Z, origin.Y),
		},
		Max: vec.Vec3{
			X: min(regionMax.X, origin.X+vec.ChunkSize-1),
			Y: min(regionMax.Y, maxY),
			Z: min(regionMax.Z, origin.Y+vec.ChunkSize-1),
		},
	}
	if s.Min.X > s.Max.X || s.Min.Y > s.Max.Y || s.Min.Z > s.Max.Z {
		return Section{}, false
	}
	return s, true
}

// Volume возвращает количество ячеек
func (s Section) Volume() int64 {
	return int64(s.Max.X-s.Min.X+1) * int64(s.Max.Y-s.Min.Y+1) * int64(s.Max.Z-s.Min.Z+1)
}

// Contains проверяет принадлежность блока секции
func (s Section) Contains(p vec.Vec3) bool {
	return p.X >= s.Min.X && p.X <= s.Max.X &&
		p.Y >= s.Min.Y && p.Y <= s.Max.Y &&
		p.Z >= s.Min.Z && p.Z <= s.Max.Z
}

// Each обходит ячейки в порядке файла: X внешний, затем Y, затем Z.
// Обход прерывается первой ошибкой fn.
func (s Section) Each(fn func(p vec.Vec3) error) error {
	for x := s.Min.X; x <= s.Max.X; x++ {
		for y := s.Min.Y; y <= s.Max.Y; y++ {
			for z := s.Min.Z; z <= s.Max.Z; z++ {
				if err := fn(vec.Vec3{X: x, Y: y, Z: z}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s Section) String() string {
	return fmt.Sprintf("%s..%s", s.Min, s.Max)
}
