package region

import (
	"testing"

	"github.com/annel0/regionkeeper/internal/queue"
	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHooks struct {
	NopHooks
	coords int
	owners []uuid.UUID
}

func (h *recordingHooks) CoordsChanged(View) { h.coords++ }

func (h *recordingHooks) OwnerChanged(_ View, _, next uuid.UUID) {
	h.owners = append(h.owners, next)
}

func TestNewRegionValidatesName(t *testing.T) {
	_, err := New("lobby", "bad name", "world")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = New("lo.bby", "ok", "world")
	assert.ErrorIs(t, err, ErrInvalidName)

	r, err := New("Lobby", "Spawn", "world")
	require.NoError(t, err)
	assert.Equal(t, "spawn", r.Key())
	assert.Equal(t, "lobby:spawn", r.ID())
	assert.False(t, r.IsDefined())
	_, ok := r.Bounds()
	assert.False(t, ok)
}

func TestBoundsDerivedFromCorners(t *testing.T) {
	hooks := &recordingHooks{}
	r, err := New("lobby", "arena", "world", WithHooks(hooks))
	require.NoError(t, err)

	require.NoError(t, r.SetP1(vec.Vec3{X: 20, Y: 70, Z: -3}))
	assert.False(t, r.IsDefined(), "один угол не определяет регион")
	require.NoError(t, r.SetP2(vec.Vec3{X: -5, Y: 64, Z: 17}))
	require.True(t, r.IsDefined())

	b, ok := r.Bounds()
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{X: -5, Y: 64, Z: -3}, b.Min)
	assert.Equal(t, vec.Vec3{X: 20, Y: 70, Z: 17}, b.Max)
	assert.Equal(t, vec.Vec3{X: 26, Y: 7, Z: 21}, b.Size())
	assert.Equal(t, int64(26*7*21), b.Volume())
	assert.Equal(t, vec.Vec2{X: -1, Y: -1}, b.ChunkMin)
	assert.Equal(t, vec.Vec2{X: 1, Y: 1}, b.ChunkMax)
	assert.Len(t, b.Chunks(), 9)
	assert.Equal(t, vec.Vec3Float{X: 8, Y: 67.5, Z: 7.5}, b.Center())

	assert.True(t, r.Contains("world", vec.Vec3{X: -5, Y: 64, Z: -3}))
	assert.True(t, r.Contains("world", vec.Vec3{X: 20, Y: 70, Z: 17}))
	assert.False(t, r.Contains("world", vec.Vec3{X: 21, Y: 70, Z: 17}))
	assert.False(t, r.Contains("nether", vec.Vec3{X: 0, Y: 65, Z: 0}))
	assert.Equal(t, 2, hooks.coords)

	require.NoError(t, r.ClearCorners())
	assert.False(t, r.Contains("world", vec.Vec3{X: 0, Y: 65, Z: 0}))
}

func TestOwnerChangedHook(t *testing.T) {
	hooks := &recordingHooks{}
	r, err := New("lobby", "home", "world", WithHooks(hooks))
	require.NoError(t, err)

	id := uuid.New()
	r.SetOwner(id)
	r.SetOwner(id)
	r.SetOwner(uuid.Nil)
	assert.Equal(t, []uuid.UUID{id, uuid.Nil}, hooks.owners)
}

func TestCapabilities(t *testing.T) {
	plain, err := New("lobby", "plain", "world")
	require.NoError(t, err)
	_, ok := AsBuildable(plain)
	assert.False(t, ok)
	_, ok = AsRestorable(plain)
	assert.False(t, ok)

	multi, err := New("lobby", "multi", "world", WithCapabilities(CapMultiSnapshot))
	require.NoError(t, err)
	assert.True(t, multi.Capabilities().Has(CapBuildable|CapRestorable|CapMultiSnapshot))

	ms, ok := AsMultiSnapshot(multi)
	require.True(t, ok)
	assert.ErrorIs(t, ms.SetSnapshotVersion("bad version"), ErrInvalidName)
	require.NoError(t, ms.SetSnapshotVersion("v2"))
	assert.Equal(t, "v2", ms.SnapshotVersion())

	b, ok := AsBuildable(multi)
	require.True(t, ok)
	b.SetBuildMethod(queue.BuildFast)
	assert.Equal(t, queue.BuildFast, multi.BuildMethod())

	assert.Equal(t, []string{"buildable", "restorable", "multi_snapshot"}, multi.Capabilities().Names())
	assert.Equal(t, CapBuildable|CapRestorable, ParseCapabilities([]string{"Restorable", "unknown"}))
}

func TestSingleFlightFlags(t *testing.T) {
	r, err := New("lobby", "flags", "world", WithCapabilities(CapRestorable))
	require.NoError(t, err)

	require.True(t, r.TryBeginSave())
	assert.False(t, r.TryBeginSave())
	assert.False(t, r.TryBeginRestore())
	r.EndSave()

	require.True(t, r.TryBeginRestore())
	assert.True(t, r.IsRestoring())
	assert.False(t, r.TryBeginSave())
	r.EndRestore()
	assert.False(t, r.IsRestoring())
}

func TestMessagesAndMeta(t *testing.T) {
	r, err := New("lobby", "msg", "world")
	require.NoError(t, err)

	r.SetMessages("hi", "bye")
	r.SetCollaboratorMessages("quests", Messages{Entry: "quest zone"})
	r.SetCollaboratorMessages("empty", Messages{})
	assert.Equal(t, "hi", r.EntryMessage())
	assert.Equal(t, "bye", r.ExitMessage())
	assert.Equal(t, map[string]Messages{"quests": {Entry: "quest zone"}}, r.CollaboratorMessages())

	r.SetMeta("pvp", "off")
	v, ok := r.Meta("pvp")
	assert.True(t, ok)
	assert.Equal(t, "off", v)
	assert.True(t, r.RemoveMeta("pvp"))
	assert.Empty(t, r.MetaMap())
}

func TestDisposedRegionRejectsCorners(t *testing.T) {
	ix := NewIndex(nil)
	r, err := New("lobby", "gone", "world", WithIndex(ix))
	require.NoError(t, err)
	require.NoError(t, r.SetCorners(vec.Vec3{}, vec.Vec3{X: 3, Y: 3, Z: 3}))
	require.Equal(t, 1, ix.Len())

	r.Dispose()
	r.Dispose()
	assert.Equal(t, 0, ix.Len())
	assert.True(t, r.IsDisposed())
	assert.ErrorIs(t, r.SetCorners(vec.Vec3{}, vec.Vec3{X: 1, Y: 1, Z: 1}), ErrDisposed)
	assert.Equal(t, 0, ix.Len())
}
