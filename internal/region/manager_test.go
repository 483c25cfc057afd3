package region

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/annel0/regionkeeper/internal/queue"
	"github.com/annel0/regionkeeper/internal/storage"
	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, backend storage.Backend) *Manager {
	t.Helper()
	doc, err := storage.Open(context.Background(), backend, "regions")
	require.NoError(t, err)
	return NewManager(NewIndex(nil), doc, "/data")
}

func TestManagerCreateAndGet(t *testing.T) {
	m := newManager(t, storage.NewMemoryBackend())

	r, err := m.Define("Lobby", "Spawn", "world", vec.Vec3{}, vec.Vec3{X: 4, Y: 4, Z: 4})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "lobby", "spawn"), r.DataDir())

	got, ok := m.Get("LOBBY", "spawn")
	require.True(t, ok)
	assert.Same(t, r, got)

	_, err = m.Create("lobby", "SPAWN", "world")
	assert.ErrorIs(t, err, ErrExists)

	_, err = m.Create("lobby", "other", "world")
	require.NoError(t, err)
	assert.Len(t, m.ListNamespace("lobby"), 2)
	assert.Equal(t, 1, m.Index().Len(), "неопределённый регион не индексируется")

	require.NoError(t, m.Remove("lobby", "spawn"))
	assert.ErrorIs(t, m.Remove("lobby", "spawn"), ErrNotFound)
	assert.Equal(t, 0, m.Index().Len())
	assert.Equal(t, []string{"lobby"}, m.Namespaces())
}

func TestManagerSaveLoadRoundTrip(t *testing.T) {
	backend := storage.NewMemoryBackend()
	m := newManager(t, backend)

	owner := uuid.New()
	r, err := m.Define("lobby", "Arena", "world", vec.Vec3{X: -10, Y: 60, Z: 3}, vec.Vec3{X: 12, Y: 80, Z: 30},
		WithWatcher(true), WithCapabilities(CapMultiSnapshot), WithBuildMethod(queue.BuildPerformance))
	require.NoError(t, err)
	r.SetOwner(owner)
	r.SetMeta("pvp", "on")
	r.SetMessages("fight!", "coward")
	r.SetCollaboratorMessages("quests", Messages{Entry: "q in", Exit: "q out"})
	require.NoError(t, r.SetSnapshotVersion("night"))

	_, err = m.Create("other", "draft", "nether")
	require.NoError(t, err)

	require.NoError(t, m.Save(context.Background()))

	loaded := newManager(t, backend)
	require.NoError(t, loaded.Load(context.Background()))
	require.Len(t, loaded.List(), 2)

	got, ok := loaded.Get("lobby", "arena")
	require.True(t, ok)
	assert.Equal(t, "Arena", got.Name())
	p1, p2, defined := got.Corners()
	require.True(t, defined)
	assert.Equal(t, vec.Vec3{X: -10, Y: 60, Z: 3}, p1)
	assert.Equal(t, vec.Vec3{X: 12, Y: 80, Z: 30}, p2)
	assert.True(t, got.IsWatcher())
	assert.Equal(t, owner, got.Owner())
	assert.Equal(t, map[string]string{"pvp": "on"}, got.MetaMap())
	assert.Equal(t, "fight!", got.EntryMessage())
	assert.Equal(t, "coward", got.ExitMessage())
	assert.Equal(t, Messages{Entry: "q in", Exit: "q out"}, got.CollaboratorMessages()["quests"])
	assert.True(t, got.Capabilities().Has(CapMultiSnapshot))
	assert.Equal(t, queue.BuildPerformance, got.BuildMethod())
	assert.Equal(t, "night", got.SnapshotVersion())
	assert.Len(t, loaded.Index().QueryWatchers("world", vec.Vec3{X: 0, Y: 70, Z: 10}), 1)

	draft, ok := loaded.Get("other", "draft")
	require.True(t, ok)
	assert.False(t, draft.IsDefined())
	assert.Equal(t, "nether", draft.World())
}

func TestManagerReloadReplacesRegions(t *testing.T) {
	backend := storage.NewMemoryBackend()
	m := newManager(t, backend)
	old, err := m.Define("lobby", "spawn", "world", vec.Vec3{}, vec.Vec3{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	require.NoError(t, m.Save(context.Background()))

	require.NoError(t, m.Load(context.Background()))
	assert.True(t, old.IsDisposed())
	assert.Equal(t, 1, m.Index().Len())
}

func TestManagerLoadSkipsBrokenDefinitions(t *testing.T) {
	backend := storage.NewMemoryBackend()
	m := newManager(t, backend)
	_, err := m.Define("lobby", "good", "world", vec.Vec3{}, vec.Vec3{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	_, err = m.Define("lobby", "owner", "world", vec.Vec3{X: 5}, vec.Vec3{X: 6, Y: 1, Z: 1})
	require.NoError(t, err)
	_, err = m.Define("lobby", "version", "world", vec.Vec3{X: 9}, vec.Vec3{X: 10, Y: 1, Z: 1})
	require.NoError(t, err)
	require.NoError(t, m.Save(context.Background()))

	doc, err := storage.Open(context.Background(), backend, "regions")
	require.NoError(t, err)
	doc.Set(rootPath+".lobby.owner.owner", "не-uuid")
	doc.Set(rootPath+".lobby.version.snapshot_version", "../x")
	require.NoError(t, doc.Save(context.Background()))

	loaded := newManager(t, backend)
	err = loaded.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lobby:owner")
	assert.Contains(t, err.Error(), "lobby:version")

	require.Len(t, loaded.List(), 1)
	_, ok := loaded.Get("lobby", "good")
	assert.True(t, ok)
	_, ok = loaded.Get("lobby", "owner")
	assert.False(t, ok, "повреждённый регион не остаётся в менеджере")
	assert.Equal(t, 1, loaded.Index().Len())
}

func TestManagerSaveAsync(t *testing.T) {
	backend := storage.NewMemoryBackend()
	m := newManager(t, backend)
	_, err := m.Define("lobby", "async", "world", vec.Vec3{}, vec.Vec3{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)

	require.NoError(t, <-m.SaveAsync())
	data, err := backend.Load(context.Background(), "regions")
	require.NoError(t, err)
	assert.Contains(t, string(data), "async")
}
