package region

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defineRegion(t *testing.T, ix *Index, name string, p1, p2 vec.Vec3, opts ...Option) *Region {
	t.Helper()
	r, err := New("test", name, "world", append([]Option{WithIndex(ix)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, r.SetCorners(p1, p2))
	return r
}

func randVec(rng *rand.Rand, span int) vec.Vec3 {
	return vec.Vec3{X: rng.Intn(2*span) - span, Y: rng.Intn(64), Z: rng.Intn(2*span) - span}
}

func TestQueryMatchesContainment(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ix := NewIndex(nil)

	regions := make([]*Region, 0, 40)
	for i := 0; i < 40; i++ {
		regions = append(regions, defineRegion(t, ix, fmt.Sprintf("r%d", i), randVec(rng, 60), randVec(rng, 60)))
	}

	for i := 0; i < 2000; i++ {
		p := randVec(rng, 70)
		found := make(map[View]bool)
		for _, v := range ix.Query("world", p) {
			found[v] = true
		}
		for _, r := range regions {
			assert.Equal(t, r.Contains("world", p), found[r], "регион %s, точка %s", r.ID(), p)
		}
		assert.Empty(t, ix.Query("other", p))
	}
}

func TestReregistrationRemovesStaleBuckets(t *testing.T) {
	ix := NewIndex(nil)
	r := defineRegion(t, ix, "moving", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 40, Y: 10, Z: 5})
	assert.Len(t, ix.ChunkKeys(r), 3)

	require.NoError(t, r.SetCorners(vec.Vec3{X: -20, Y: 0, Z: -20}, vec.Vec3{X: -18, Y: 5, Z: -18}))
	assert.Equal(t, []ChunkKey{{World: "world", X: -2, Z: -2}}, ix.ChunkKeys(r))

	for _, key := range []ChunkKey{{"world", 0, 0}, {"world", 1, 0}, {"world", 2, 0}} {
		assert.Empty(t, ix.RegionsInChunk(key), "старая корзина %s", key)
	}
	assert.Len(t, ix.RegionsInChunk(ChunkKey{"world", -2, -2}), 1)
	assert.Empty(t, ix.Query("world", vec.Vec3{X: 1, Y: 1, Z: 1}))
}

func TestRegisterTwiceDoesNotDuplicate(t *testing.T) {
	ix := NewIndex(nil)
	r := defineRegion(t, ix, "twice", vec.Vec3{}, vec.Vec3{X: 5, Y: 5, Z: 5})
	ix.Register(r)
	ix.Register(r)

	assert.Len(t, ix.RegionsInChunk(ChunkKey{"world", 0, 0}), 1)
	assert.Len(t, ix.Query("world", vec.Vec3{X: 1, Y: 1, Z: 1}), 1)
	assert.Equal(t, 1, ix.Len())
}

func TestRegisterUndefinedIsNoop(t *testing.T) {
	ix := NewIndex(nil)
	r, err := New("test", "undefined", "world", WithIndex(ix))
	require.NoError(t, err)

	ix.Register(r)
	assert.Equal(t, 0, ix.Len())
	assert.Empty(t, ix.ChunkKeys(r))
}

func TestWatcherBuckets(t *testing.T) {
	ix := NewIndex(nil)
	plain := defineRegion(t, ix, "plain", vec.Vec3{}, vec.Vec3{X: 10, Y: 10, Z: 10})
	watched := defineRegion(t, ix, "watched", vec.Vec3{}, vec.Vec3{X: 10, Y: 10, Z: 10}, WithWatcher(true))

	p := vec.Vec3{X: 5, Y: 5, Z: 5}
	assert.Len(t, ix.Query("world", p), 2)
	assert.Equal(t, []View{watched}, ix.QueryWatchers("world", p))
	assert.True(t, ix.HasWatchers("world"))

	watched.SetWatcher(false)
	assert.Empty(t, ix.QueryWatchers("world", p))
	assert.False(t, ix.HasWatchers("world"))

	plain.SetWatcher(true)
	assert.Equal(t, []View{plain}, ix.QueryWatchers("world", p))

	plain.Dispose()
	assert.False(t, ix.HasWatchers("world"))
	assert.Equal(t, 1, ix.Len())
}

func TestRegionsInChunkSkipsContainment(t *testing.T) {
	ix := NewIndex(nil)
	defineRegion(t, ix, "corner", vec.Vec3{X: 14, Y: 0, Z: 14}, vec.Vec3{X: 15, Y: 2, Z: 15})

	assert.Empty(t, ix.Query("world", vec.Vec3{X: 0, Y: 0, Z: 0}))
	assert.Len(t, ix.RegionsInChunk(KeyOf("world", vec.Vec3{X: 0, Y: 0, Z: 0})), 1)
	assert.Contains(t, ix.GetStats(), "Regions: 1")
}

func TestNegativeCoordinatesBucketCorrectly(t *testing.T) {
	ix := NewIndex(nil)
	r := defineRegion(t, ix, "neg", vec.Vec3{X: -1, Y: 0, Z: -1}, vec.Vec3{X: -1, Y: 0, Z: -1})
	assert.Equal(t, []ChunkKey{{World: "world", X: -1, Z: -1}}, ix.ChunkKeys(r))
	assert.Len(t, ix.Query("world", vec.Vec3{X: -1, Y: 0, Z: -1}), 1)
	assert.Empty(t, ix.Query("world", vec.Vec3{X: 0, Y: 0, Z: 0}))
}
