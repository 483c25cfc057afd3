package snapshot

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/annel0/regionkeeper/internal/world"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorld() *world.World {
	return world.NewWorld("world", 0, 15, world.FlatGenerator{
		Layers: []string{world.MaterialStone, world.MaterialDirt, world.MaterialGrass},
	})
}

var (
	regionMin = vec.Vec3{X: 2, Y: 0, Z: 3}
	regionMax = vec.Vec3{X: 20, Y: 5, Z: 9}
	chunk00   = vec.Vec2{X: 0, Y: 0}
)

func section(t *testing.T) Section {
	t.Helper()
	sec, ok := SectionOf(regionMin, regionMax, chunk00, 0, 15)
	require.True(t, ok)
	return sec
}

func header() Header {
	return Header{Region: "arena", World: "world", P1: regionMin, P2: regionMax}
}

func TestSectionOf(t *testing.T) {
	sec := section(t)
	assert.Equal(t, vec.Vec3{X: 2, Y: 0, Z: 3}, sec.Min)
	assert.Equal(t, vec.Vec3{X: 15, Y: 5, Z: 9}, sec.Max)
	assert.Equal(t, int64(14*6*7), sec.Volume())

	other, ok := SectionOf(regionMin, regionMax, vec.Vec2{X: 1, Y: 0}, 0, 15)
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{X: 16, Y: 0, Z: 3}, other.Min)
	assert.Equal(t, vec.Vec3{X: 20, Y: 5, Z: 9}, other.Max)

	_, ok = SectionOf(regionMin, regionMax, vec.Vec2{X: 5, Y: 5}, 0, 15)
	assert.False(t, ok)

	clamped, ok := SectionOf(vec.Vec3{X: 0, Y: -10, Z: 0}, vec.Vec3{X: 1, Y: 100, Z: 1}, chunk00, 0, 15)
	require.True(t, ok)
	assert.Equal(t, 0, clamped.Min.Y)
	assert.Equal(t, 15, clamped.Max.Y)
}

func TestSectionScanOrder(t *testing.T) {
	sec := Section{Min: vec.Vec3{}, Max: vec.Vec3{X: 1, Y: 1, Z: 1}}
	var order []vec.Vec3
	require.NoError(t, sec.Each(func(p vec.Vec3) error {
		order = append(order, p)
		return nil
	}))
	assert.Equal(t, []vec.Vec3{
		{X: 0, Y: 0, Z: 0}, {X: 0, Y: 0, Z: 1}, {X: 0, Y: 1, Z: 0}, {X: 0, Y: 1, Z: 1},
		{X: 1, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 1}, {X: 1, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 1},
	}, order)
}

func TestRoundTripUnchangedWorldHasNoDiffs(t *testing.T) {
	for _, codec := range []Codec{{Light: false}, {Light: true}} {
		w := newTestWorld()
		sec := section(t)

		var buf bytes.Buffer
		require.NoError(t, codec.Write(&buf, header(), sec, w.Snapshot(chunk00)))

		res, err := codec.Read(&buf, sec, w.Snapshot(chunk00))
		require.NoError(t, err)
		assert.Empty(t, res.Diffs)
		assert.Equal(t, codec.Version(), res.Header.Version)
		assert.Equal(t, sec.Volume(), res.Header.Volume)
		assert.Equal(t, "arena", res.Header.Region)
		assert.Equal(t, regionMax, res.Header.P2)
	}
}

func TestSingleChangedCellYieldsOneDiff(t *testing.T) {
	w := newTestWorld()
	sec := section(t)
	codec := Codec{}

	var buf bytes.Buffer
	require.NoError(t, codec.Write(&buf, header(), sec, w.Snapshot(chunk00)))

	changed := vec.Vec3{X: 7, Y: 2, Z: 4}
	require.NoError(t, w.SetBlock(changed, world.Cell{Material: world.MaterialSand}))
	// Изменение вне секции не влияет на результат
	require.NoError(t, w.SetBlock(vec.Vec3{X: 0, Y: 2, Z: 0}, world.Cell{Material: world.MaterialSand}))

	res, err := codec.Read(&buf, sec, w.Snapshot(chunk00))
	require.NoError(t, err)
	require.Len(t, res.Diffs, 1)
	assert.Equal(t, changed, res.Diffs[0].Pos)
	assert.Equal(t, world.MaterialGrass, res.Diffs[0].Cell.Material)
}

func TestEntitiesRoundTrip(t *testing.T) {
	w := newTestWorld()
	sec := section(t)
	codec := Codec{Light: true}

	chest := world.BlockEntity{Pos: vec.Vec3{X: 5, Y: 3, Z: 5}, Kind: "chest", Data: map[string]interface{}{"items": "diamond"}}
	require.NoError(t, w.SetBlock(chest.Pos, world.Cell{Material: world.MaterialChest}))
	w.Chunk(chunk00).SetBlockEntity(chest)
	w.Chunk(chunk00).SetBlockEntity(world.BlockEntity{Pos: vec.Vec3{X: 0, Y: 3, Z: 0}, Kind: "sign"})

	cow := world.Entity{ID: uuid.New(), Kind: "cow", Pos: vec.Vec3Float{X: 6.5, Y: 3, Z: 6.5}, Yaw: 90, Pitch: -10}
	item := world.Entity{ID: uuid.New(), Kind: "item", Pos: vec.Vec3Float{X: 4.2, Y: 3, Z: 4.1}, Volatile: true,
		Data: map[string]interface{}{"count": 3.0}}
	w.SpawnEntity(cow)
	w.SpawnEntity(item)
	w.SpawnEntity(world.Entity{ID: uuid.New(), Kind: "far", Pos: vec.Vec3Float{X: 30, Y: 3, Z: 30}})

	var buf bytes.Buffer
	require.NoError(t, codec.Write(&buf, header(), sec, w.Snapshot(chunk00)))
	res, err := codec.Read(&buf, sec, w.Snapshot(chunk00))
	require.NoError(t, err)

	require.Len(t, res.BlockEntities, 1)
	assert.Equal(t, chest.Pos, res.BlockEntities[0].Pos)
	assert.Equal(t, "diamond", res.BlockEntities[0].Data["items"])

	require.Len(t, res.Entities, 2)
	byID := map[uuid.UUID]world.Entity{}
	for _, e := range res.Entities {
		byID[e.ID] = e
	}
	assert.Equal(t, float32(90), byID[cow.ID].Yaw)
	assert.Equal(t, cow.Pos, byID[cow.ID].Pos)
	assert.Nil(t, byID[cow.ID].Data)
	assert.True(t, byID[item.ID].Volatile)
	assert.Equal(t, 3.0, byID[item.ID].Data["count"])
}

func TestVersionMismatch(t *testing.T) {
	w := newTestWorld()
	sec := section(t)

	var buf bytes.Buffer
	require.NoError(t, Codec{Light: true}.Write(&buf, header(), sec, w.Snapshot(chunk00)))

	_, err := Codec{Light: false}.Read(&buf, sec, w.Snapshot(chunk00))
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestVolumeMismatch(t *testing.T) {
	w := newTestWorld()
	sec := section(t)

	var buf bytes.Buffer
	require.NoError(t, Codec{}.Write(&buf, header(), sec, w.Snapshot(chunk00)))

	// Границы региона изменились после сохранения
	grown, ok := SectionOf(regionMin, vec.Vec3{X: 20, Y: 6, Z: 9}, chunk00, 0, 15)
	require.True(t, ok)
	_, err := Codec{}.Read(&buf, grown, w.Snapshot(chunk00))
	assert.ErrorIs(t, err, ErrVolumeMismatch)
	assert.Contains(t, err.Error(), "объём")
}

func TestTruncatedFileIsFatal(t *testing.T) {
	w := newTestWorld()
	sec := section(t)

	var buf bytes.Buffer
	require.NoError(t, Codec{}.Write(&buf, header(), sec, w.Snapshot(chunk00)))
	data := buf.Bytes()[:buf.Len()/2]

	res, err := Codec{}.Read(bytes.NewReader(data), sec, w.Snapshot(chunk00))
	assert.Nil(t, res, "частичный результат не возвращается")
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestNegativeCountIsCorrupted(t *testing.T) {
	w := newTestWorld()
	sec := Section{Min: vec.Vec3{}, Max: vec.Vec3{}}

	var buf bytes.Buffer
	require.NoError(t, Codec{}.Write(&buf, header(), sec, w.Snapshot(chunk00)))
	data := buf.Bytes()
	// Количество блочных сущностей идёт сразу после единственной ячейки
	trailer := 4 + 4
	binary.BigEndian.PutUint32(data[len(data)-trailer:], uint32(0xFFFFFFFF))

	_, err := Codec{}.Read(bytes.NewReader(data), sec, w.Snapshot(chunk00))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestReadHeader(t *testing.T) {
	w := newTestWorld()
	var buf bytes.Buffer
	require.NoError(t, Codec{Light: true}.Write(&buf, header(), section(t), w.Snapshot(chunk00)))

	h, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, VersionLight, h.Version)
	assert.Equal(t, "world", h.World)

	_, err = ReadHeader(bytes.NewReader([]byte{0, 0}))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "arena.chunk.-1.2.bin", FileName("arena", -1, 2, ""))
	assert.Equal(t, "arena.chunk.0.0.night.bin", FileName("arena", 0, 0, "night"))

	info, ok := ParseFileName("/data/lobby/arena/arena.chunk.-1.2.bin")
	require.True(t, ok)
	assert.Equal(t, FileInfo{Prefix: "arena", CX: -1, CZ: 2}, info)

	info, ok = ParseFileName("arena.chunk.3.-4.night.bin")
	require.True(t, ok)
	assert.Equal(t, "night", info.Version)
	assert.Equal(t, -4, info.CZ)

	for _, bad := range []string{"arena.bin", "arena.chunk.x.1.bin", "arena.chunk.1.1.bin.tmp", "arena.block.1.1.bin", "a.chunk.1.1.v.extra.bin"} {
		_, ok := ParseFileName(bad)
		assert.False(t, ok, bad)
	}
}

func TestFileRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			w := newTestWorld()
			sec := section(t)
			path := filepath.Join(t.TempDir(), "arena", FileName("arena", 0, 0, ""))

			fw, err := CreateFile(path, compression)
			require.NoError(t, err)
			require.NoError(t, Codec{}.Write(fw, header(), sec, w.Snapshot(chunk00)))
			_, err = os.Stat(path)
			assert.True(t, os.IsNotExist(err), "до Commit итоговый файл не существует")
			require.NoError(t, fw.Commit())
			require.NoError(t, fw.Close())

			_, err = os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err))

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, compression == CompressionZstd, bytes.HasPrefix(raw, zstdMagic))

			r, err := OpenFile(path)
			require.NoError(t, err)
			defer r.Close()
			res, err := Codec{}.Read(r, sec, w.Snapshot(chunk00))
			require.NoError(t, err)
			assert.Empty(t, res.Diffs)
		})
	}
}

func TestFileWriterCloseDiscards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.chunk.0.0.bin")
	fw, err := CreateFile(path, CompressionZstd)
	require.NoError(t, err)
	_, err = io.WriteString(fw, "partial")
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
	assert.Error(t, fw.Commit())
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)
	c, err = ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)
	_, err = ParseCompression("gzip")
	assert.Error(t, err)
}
