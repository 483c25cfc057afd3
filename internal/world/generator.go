package world

import (
	"math/rand"

	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/aquilax/go-perlin"
)

// Generator создаёт содержимое новых чанков
type Generator interface {
	GenerateChunk(coords vec.Vec2, minY, maxY int) *Chunk
}

// BiomeType представляет тип биома
type BiomeType int

const (
	BiomePlains BiomeType = iota
	BiomeDesert
	BiomeForest
	BiomeMountains
	BiomeWater
)

// Константы высот для генерации (доли диапазона высот мира)
const (
	ShallowWaterMax = 0.30 // Ниже - вода
	MountainStart   = 0.80 // Выше - горы
	SeaLevel        = 0.35
)

// PerlinGenerator генерирует ландшафт шумом Перлина
type PerlinGenerator struct {
	Seed          int64   // Сид для генерации шума
	NoiseScale    float64 // Масштаб основного шума (высота)
	BiomeScale    float64 // Масштаб шума биомов
	ForestDensity float64 // Плотность растительности (от 0 до 1)

	height *perlin.Perlin
	biome  *perlin.Perlin
}

// NewPerlinGenerator создаёт генератор ландшафта
func NewPerlinGenerator(seed int64) *PerlinGenerator {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав

	return &PerlinGenerator{
		Seed:          seed,
		NoiseScale:    0.02,
		BiomeScale:    0.01,
		ForestDensity: 0.05,
		height:        perlin.NewPerlin(alpha, beta, n, seed),
		biome:         perlin.NewPerlin(alpha, beta, n, seed+42),
	}
}

// noise01 переводит шум из [-1, 1] в [0, 1]
func noise01(p *perlin.Perlin, x, y float64) float64 {
	v := (p.Noise2D(x, y) + 1.0) / 2.0
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// GenerateChunk генерирует колонну чанка
func (g *PerlinGenerator) GenerateChunk(coords vec.Vec2, minY, maxY int) *Chunk {
	chunk := NewChunk(coords, minY, maxY)

	// Уникальный сид чанка для детерминированности
	chunkSeed := g.Seed + int64(coords.X*31) + int64(coords.Y*17)
	rng := rand.New(rand.NewSource(chunkSeed))

	span := float64(maxY - minY)
	sea := minY + int(SeaLevel*span)
	origin := coords.ChunkOrigin()

	for lz := 0; lz < vec.ChunkSize; lz++ {
		for lx := 0; lx < vec.ChunkSize; lx++ {
			gx := origin.X + lx
			gz := origin.Y + lz

			h := noise01(g.height, float64(gx)*g.NoiseScale, float64(gz)*g.NoiseScale)
			b := noise01(g.biome, float64(gx)*g.BiomeScale, float64(gz)*g.BiomeScale)
			biome := g.getBiomeType(h, b)

			top := minY + int(h*span*0.8)
			for y := minY; y <= top; y++ {
				pos := vec.Vec3{X: gx, Y: y, Z: gz}
				chunk.cells[mustIndex(chunk, pos)] = Cell{Material: g.getMaterial(biome, top-y)}
			}
			for y := top + 1; y <= sea && y <= maxY; y++ {
				pos := vec.Vec3{X: gx, Y: y, Z: gz}
				chunk.cells[mustIndex(chunk, pos)] = Cell{Material: MaterialWater, Light: PackLight(0, 15)}
			}

			// Растительность над поверхностью суши
			if top > sea && top+2 <= maxY {
				g.decorate(chunk, vec.Vec3{X: gx, Y: top + 1, Z: gz}, biome, rng)
			}
		}
	}

	return chunk
}

func mustIndex(c *Chunk, pos vec.Vec3) int {
	i, _ := c.index(pos)
	return i
}

// decorate размещает растения; двухблочные ставятся снизу вверх
func (g *PerlinGenerator) decorate(chunk *Chunk, base vec.Vec3, biome BiomeType, rng *rand.Rand) {
	switch {
	case biome == BiomeDesert && rng.Float64() < 0.02:
		chunk.cells[mustIndex(chunk, base)] = Cell{Material: MaterialCactus}
	case biome == BiomeForest && rng.Float64() < 0.15,
		biome == BiomePlains && rng.Float64() < g.ForestDensity:
		material := MaterialTallGrass
		if rng.Float64() < 0.2 {
			material = MaterialSunflower
		}
		chunk.cells[mustIndex(chunk, base)] = Cell{Material: material, Data: 0}
		chunk.cells[mustIndex(chunk, base.Up())] = Cell{Material: material, Data: 1}
	}
}

// getMaterial возвращает материал слоя на глубине depth от поверхности
func (g *PerlinGenerator) getMaterial(biome BiomeType, depth int) string {
	switch biome {
	case BiomeDesert, BiomeWater:
		if depth < 3 {
			return MaterialSand
		}
	case BiomeMountains:
		return MaterialStone
	default:
		if depth == 0 {
			return MaterialGrass
		}
		if depth < 3 {
			return MaterialDirt
		}
	}
	return MaterialStone
}

// getBiomeType определяет тип биома на основе значений шума
func (g *PerlinGenerator) getBiomeType(height, biomeValue float64) BiomeType {
	if height < ShallowWaterMax {
		return BiomeWater
	}
	if height > MountainStart {
		return BiomeMountains
	}
	if biomeValue < 0.35 {
		return BiomeDesert
	} else if biomeValue > 0.65 {
		return BiomeForest
	}
	return BiomePlains
}

// FlatGenerator заполняет нижние слои заданными материалами
type FlatGenerator struct {
	Layers []string // Снизу вверх начиная с minY
}

// GenerateChunk генерирует плоский чанк
func (g FlatGenerator) GenerateChunk(coords vec.Vec2, minY, maxY int) *Chunk {
	chunk := NewChunk(coords, minY, maxY)
	origin := coords.ChunkOrigin()
	for i, material := range g.Layers {
		y := minY + i
		if y > maxY {
			break
		}
		for lz := 0; lz < vec.ChunkSize; lz++ {
			for lx := 0; lx < vec.ChunkSize; lx++ {
				pos := vec.Vec3{X: origin.X + lx, Y: y, Z: origin.Y + lz}
				chunk.cells[mustIndex(chunk, pos)] = Cell{Material: material}
			}
		}
	}
	return chunk
}
