package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkCoordsNegative(t *testing.T) {
	assert.Equal(t, Vec2{X: 0, Y: 0}, Vec3{X: 0, Y: 64, Z: 15}.ChunkCoords())
	assert.Equal(t, Vec2{X: -1, Y: -1}, Vec3{X: -1, Y: 0, Z: -16}.ChunkCoords())
	assert.Equal(t, Vec2{X: -2, Y: 1}, Vec3{X: -17, Y: 0, Z: 16}.ChunkCoords())
}

func TestFloor(t *testing.T) {
	assert.Equal(t, Vec3{X: -1, Y: 10, Z: 3}, Vec3Float{X: -0.5, Y: 10.99, Z: 3.0}.Floor())
}

func TestMinMax(t *testing.T) {
	a := Vec3{X: 5, Y: -2, Z: 9}
	b := Vec3{X: -3, Y: 4, Z: 9}
	assert.Equal(t, Vec3{X: -3, Y: -2, Z: 9}, Min(a, b))
	assert.Equal(t, Vec3{X: 5, Y: 4, Z: 9}, Max(a, b))
}

func TestLocalInChunk(t *testing.T) {
	assert.Equal(t, Vec2{X: 15, Y: 0}, Vec2{X: -1, Y: 16}.LocalInChunk())
	assert.Equal(t, Vec2{X: -32, Y: 16}, Vec2{X: -2, Y: 1}.ChunkOrigin())
}
