package world

import (
	"testing"

	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUniverse(t *testing.T) (*Universe, *World) {
	t.Helper()
	u := NewUniverse()
	w := NewWorld("world", 0, 31, FlatGenerator{Layers: []string{MaterialStone, MaterialDirt, MaterialGrass}})
	u.AddWorld(w)
	return u, w
}

func TestChunkSetAndGet(t *testing.T) {
	chunk := NewChunk(vec.Vec2{X: -1, Y: 2}, 0, 15)
	pos := vec.Vec3{X: -3, Y: 7, Z: 40}

	assert.Equal(t, MaterialAir, chunk.Cell(pos).Material)
	require.True(t, chunk.SetCell(pos, Cell{Material: MaterialStone, Data: 3, Light: PackLight(4, 12)}))

	got := chunk.Cell(pos)
	assert.Equal(t, MaterialStone, got.Material)
	assert.Equal(t, int16(3), got.Data)
	assert.Equal(t, uint8(4), got.Emitted())
	assert.Equal(t, uint8(12), got.Ambient())

	assert.False(t, chunk.SetCell(vec.Vec3{X: 0, Y: 7, Z: 40}, Air()), "соседний чанк")
	assert.False(t, chunk.SetCell(vec.Vec3{X: -3, Y: 16, Z: 40}, Air()), "выше чанка")
}

func TestReplacingMaterialDropsBlockEntity(t *testing.T) {
	chunk := NewChunk(vec.Vec2{}, 0, 15)
	pos := vec.Vec3{X: 2, Y: 4, Z: 2}
	require.True(t, chunk.SetCell(pos, Cell{Material: MaterialChest}))
	require.True(t, chunk.SetBlockEntity(BlockEntity{Pos: pos, Kind: "chest"}))

	require.True(t, chunk.SetCell(pos, Cell{Material: MaterialChest, Data: 2}))
	_, ok := chunk.BlockEntity(pos)
	assert.True(t, ok, "тот же материал сохраняет сущность")

	require.True(t, chunk.SetCell(pos, Air()))
	_, ok = chunk.BlockEntity(pos)
	assert.False(t, ok)
	assert.Zero(t, chunk.BlockEntityCount())
}

func TestWorldLoadsChunksOnDemand(t *testing.T) {
	_, w := newTestUniverse(t)
	assert.Empty(t, w.LoadedChunks())

	assert.Equal(t, MaterialGrass, w.Block(vec.Vec3{X: 20, Y: 2, Z: -1}).Material)
	assert.Equal(t, MaterialStone, w.Block(vec.Vec3{X: -1, Y: 0, Z: 5}).Material)
	assert.Equal(t, []vec.Vec2{{X: -1, Y: 0}, {X: 1, Y: -1}}, w.LoadedChunks())
}

func TestCellSameBlockIgnoresLight(t *testing.T) {
	a := Cell{Material: MaterialDirt, Data: 1, Light: 0xFF}
	b := Cell{Material: MaterialDirt, Data: 1}
	assert.True(t, a.SameBlock(b))
	assert.False(t, a.SameBlock(Cell{Material: MaterialDirt, Data: 2}))
	assert.True(t, Cell{}.SameBlock(Air()), "пустой материал - воздух")
}

func TestSnapshotIsImmutable(t *testing.T) {
	_, w := newTestUniverse(t)
	pos := vec.Vec3{X: 5, Y: 1, Z: 5}

	snap := w.Snapshot(pos.ChunkCoords())
	require.NoError(t, w.SetBlock(pos, Cell{Material: MaterialGlowstone}))

	cell, ok := snap.Cell(pos)
	require.True(t, ok)
	assert.Equal(t, MaterialDirt, cell.Material)
	assert.Equal(t, MaterialGlowstone, w.Block(pos).Material)
}

func TestSnapshotCollectsEntities(t *testing.T) {
	_, w := newTestUniverse(t)
	inside := Entity{ID: uuid.New(), Kind: "sheep", Pos: vec.Vec3Float{X: 3.5, Y: 3, Z: 3.5}}
	outside := Entity{ID: uuid.New(), Kind: "sheep", Pos: vec.Vec3Float{X: 17, Y: 3, Z: 3}}
	w.SpawnEntity(inside)
	w.SpawnEntity(outside)
	w.Chunk(vec.Vec2{}).SetBlockEntity(BlockEntity{Pos: vec.Vec3{X: 1, Y: 3, Z: 1}, Kind: "chest"})

	snap := w.Snapshot(vec.Vec2{})
	require.Len(t, snap.Entities(), 1)
	assert.Equal(t, inside.ID, snap.Entities()[0].ID)
	require.Len(t, snap.BlockEntities(), 1)
	assert.Equal(t, "chest", snap.BlockEntities()[0].Kind)
}

func TestRemoveVolatileWithin(t *testing.T) {
	_, w := newTestUniverse(t)
	w.SpawnEntity(Entity{Kind: "item", Volatile: true, Pos: vec.Vec3Float{X: 1, Y: 5, Z: 1}})
	w.SpawnEntity(Entity{Kind: "item", Volatile: true, Pos: vec.Vec3Float{X: 100, Y: 5, Z: 1}})
	w.SpawnEntity(Entity{Kind: "armor_stand", Pos: vec.Vec3Float{X: 2, Y: 5, Z: 2}})

	removed := w.RemoveVolatileWithin(vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 10, Y: 10, Z: 10})
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, w.EntityCount())
}

func TestUniverseActorsAndListeners(t *testing.T) {
	u, _ := newTestUniverse(t)
	u.AddWorld(NewWorld("nether", 0, 15, nil))

	var moves []ActorMove
	u.OnActorMove(func(m ActorMove) { moves = append(moves, m) })
	var left []uuid.UUID
	u.OnActorLeave(func(id uuid.UUID) { left = append(left, id) })

	actor, err := u.Join("steve", "world", vec.Vec3Float{X: 1, Y: 4, Z: 1})
	require.NoError(t, err)
	require.NoError(t, u.Move(actor.ID, vec.Vec3Float{X: 2, Y: 4, Z: 1}))
	require.NoError(t, u.Teleport(actor.ID, "nether", vec.Vec3Float{X: 0, Y: 4, Z: 0}))

	require.Len(t, moves, 3)
	assert.Equal(t, CauseJoin, moves[0].Cause)
	assert.Equal(t, CauseMove, moves[1].Cause)
	assert.Equal(t, CauseTeleport, moves[2].Cause)
	assert.Equal(t, "nether", moves[2].World)

	assert.Empty(t, u.ActorsIn("world"))
	assert.Equal(t, []uuid.UUID{actor.ID}, u.ActorsIn("nether"))

	u.SendMessage(actor.ID, "привет")
	assert.Equal(t, []string{"привет"}, actor.Messages())

	u.Leave(actor.ID)
	assert.Equal(t, []uuid.UUID{actor.ID}, left)
	assert.Error(t, u.Move(actor.ID, vec.Vec3Float{}))
	assert.Error(t, u.Teleport(uuid.New(), "world", vec.Vec3Float{}))
}

func TestPerlinGeneratorDeterministic(t *testing.T) {
	a := NewPerlinGenerator(7).GenerateChunk(vec.Vec2{X: 3, Y: -2}, 0, 63)
	b := NewPerlinGenerator(7).GenerateChunk(vec.Vec2{X: 3, Y: -2}, 0, 63)
	assert.Equal(t, a.cells, b.cells)

	// Нижний слой никогда не пустой
	origin := vec.Vec2{X: 3, Y: -2}.ChunkOrigin()
	assert.NotEqual(t, MaterialAir, a.Cell(vec.Vec3{X: origin.X, Y: 0, Z: origin.Y}).Material)
}

func TestDoubleHeightMaterials(t *testing.T) {
	assert.True(t, IsDoubleHeight(MaterialDoor))
	assert.True(t, IsDoubleHeight(MaterialTallGrass))
	assert.False(t, IsDoubleHeight(MaterialStone))
	assert.False(t, IsDoubleHeight("unknown"))
}
