package world

import "sync"

// Material описывает тип блока
type Material struct {
	ID           string
	Solid        bool
	DoubleHeight bool  // Двухблочная структура: основание + верхняя часть (двери, высокие растения)
	Emission     uint8 // Собственное свечение 0..15
}

// Константы материалов
const (
	MaterialAir       = "air"
	MaterialStone     = "stone"
	MaterialDirt      = "dirt"
	MaterialGrass     = "grass"
	MaterialSand      = "sand"
	MaterialWater     = "water"
	MaterialLog       = "oak_log"
	MaterialLeaves    = "oak_leaves"
	MaterialCactus    = "cactus"
	MaterialGlowstone = "glowstone"
	MaterialChest     = "chest"
	MaterialDoor      = "oak_door"
	MaterialIronDoor  = "iron_door"
	MaterialTallGrass = "tall_grass"
	MaterialSunflower = "sunflower"
)

var (
	materials   = make(map[string]Material)
	materialsMu sync.RWMutex
)

func init() {
	for _, m := range []Material{
		{ID: MaterialAir},
		{ID: MaterialStone, Solid: true},
		{ID: MaterialDirt, Solid: true},
		{ID: MaterialGrass, Solid: true},
		{ID: MaterialSand, Solid: true},
		{ID: MaterialWater},
		{ID: MaterialLog, Solid: true},
		{ID: MaterialLeaves, Solid: true},
		{ID: MaterialCactus, Solid: true},
		{ID: MaterialGlowstone, Solid: true, Emission: 15},
		{ID: MaterialChest, Solid: true},
		{ID: MaterialDoor, Solid: true, DoubleHeight: true},
		{ID: MaterialIronDoor, Solid: true, DoubleHeight: true},
		{ID: MaterialTallGrass, DoubleHeight: true},
		{ID: MaterialSunflower, DoubleHeight: true},
	} {
		RegisterMaterial(m)
	}
}

// RegisterMaterial добавляет материал в регистр
func RegisterMaterial(m Material) {
	materialsMu.Lock()
	defer materialsMu.Unlock()
	materials[m.ID] = m
}

// LookupMaterial возвращает материал по идентификатору
func LookupMaterial(id string) (Material, bool) {
	materialsMu.RLock()
	defer materialsMu.RUnlock()
	m, ok := materials[normalizeMaterial(id)]
	return m, ok
}

// IsDoubleHeight сообщает, образует ли материал двухблочную структуру
func IsDoubleHeight(id string) bool {
	m, ok := LookupMaterial(id)
	return ok && m.DoubleHeight
}

func normalizeMaterial(id string) string {
	if id == "" {
		return MaterialAir
	}
	return id
}
