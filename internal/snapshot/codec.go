package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/annel0/regionkeeper/internal/world"
	"github.com/google/uuid"
)

// Версии формата файла снимка
const (
	VersionBasic int32 = 1 // без байта освещения
	VersionLight int32 = 2 // с байтом освещения на ячейку
)

const maxPayload = 16 << 20

var (
	ErrVersionMismatch = errors.New("версия формата не совпадает")
	ErrVolumeMismatch  = errors.New("объём секции не совпадает")
	ErrCorrupted       = errors.New("файл снимка повреждён")
)

// FormatError - ошибка содержимого файла снимка
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	return "формат снимка: " + e.Reason
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Header - заголовок файла снимка чанка
type Header struct {
	Version int32
	Region  string
	World   string
	P1      vec.Vec3
	P2      vec.Vec3
	Volume  int64
}

// Diff - ячейка, сохранённое состояние которой отличается от текущего
type Diff struct {
	Pos  vec.Vec3
	Cell world.Cell
}

// Result - результат чтения файла против живого снимка чанка
type Result struct {
	Header        Header
	Diffs         []Diff
	BlockEntities []world.BlockEntity
	Entities      []world.Entity
}

// Codec читает и пишет снимки секций чанков
type Codec struct {
	Light bool // Сохранять освещение (версия 2)
}

// Version возвращает версию формата, которую пишет и ожидает кодек
func (c Codec) Version() int32 {
	if c.Light {
		return VersionLight
	}
	return VersionBasic
}

// Write записывает заголовок, все ячейки секции, затем блочные и подвижные сущности секции
func (c Codec) Write(w io.Writer, h Header, sec Section, snap *world.ChunkSnapshot) error {
	h.Version = c.Version()
	h.Volume = sec.Volume()

	e := &encoder{w: w}
	e.header(h)

	err := sec.Each(func(p vec.Vec3) error {
		cell, ok := snap.Cell(p)
		if !ok {
			return fmt.Errorf("ячейка %s вне чанка %s", p, snap.Coords)
		}
		material := cell.Material
		if material == "" {
			material = world.MaterialAir
		}
		e.string(material)
		e.int16(cell.Data)
		if c.Light {
			e.uint8(cell.Light)
		}
		return e.err
	})
	if err != nil {
		return err
	}

	var bes []world.BlockEntity
	for _, be := range snap.BlockEntities() {
		if sec.Contains(be.Pos) {
			bes = append(bes, be)
		}
	}
	e.int32(int32(len(bes)))
	for _, be := range bes {
		e.vec(be.Pos)
		e.string(be.Kind)
		e.json(be.Data)
	}

	var ents []world.Entity
	for _, ent := range snap.Entities() {
		if sec.Contains(ent.Pos.Floor()) {
			ents = append(ents, ent)
		}
	}
	e.int32(int32(len(ents)))
	for _, ent := range ents {
		e.string(ent.ID.String())
		e.string(ent.Kind)
		e.float64(ent.Pos.X)
		e.float64(ent.Pos.Y)
		e.float64(ent.Pos.Z)
		e.float32(ent.Yaw)
		e.float32(ent.Pitch)
		if ent.Volatile {
			e.uint8(1)
		} else {
			e.uint8(0)
		}
		e.json(ent.Data)
	}
	return e.err
}

// ReadHeader читает только заголовок
func ReadHeader(r io.Reader) (Header, error) {
	d := &decoder{r: r}
	h := d.header()
	if d.err != nil {
		return Header{}, d.fail("заголовок", d.err)
	}
	return h, nil
}

// Read проверяет заголовок и сравнивает каждую сохранённую ячейку с живым снимком.
// В результат попадают только отличающиеся ячейки. Любая ошибка чтения ячейки
// делает весь результат непригодным.
func (c Codec) Read(r io.Reader, sec Section, snap *world.ChunkSnapshot) (*Result, error) {
	d := &decoder{r: r}
	h := d.header()
	if d.err != nil {
		return nil, d.fail("заголовок", d.err)
	}
	if h.Version != c.Version() {
		return nil, &FormatError{
			Reason: fmt.Sprintf("версия %d, ожидалась %d", h.Version, c.Version()),
			Err:    ErrVersionMismatch,
		}
	}
	if h.Volume != sec.Volume() {
		return nil, &FormatError{
			Reason: fmt.Sprintf("объём %d, у секции %s объём %d (границы региона изменились?)", h.Volume, sec, sec.Volume()),
			Err:    ErrVolumeMismatch,
		}
	}

	res := &Result{Header: h}
	err := sec.Each(func(p vec.Vec3) error {
		stored := world.Cell{Material: d.string(), Data: d.int16()}
		if c.Light {
			stored.Light = d.uint8()
		}
		if d.err != nil {
			return d.fail(fmt.Sprintf("ячейка %s", p), d.err)
		}
		live, ok := snap.Cell(p)
		if !ok {
			return fmt.Errorf("ячейка %s вне чанка %s", p, snap.Coords)
		}
		if !stored.SameBlock(live) {
			res.Diffs = append(res.Diffs, Diff{Pos: p, Cell: stored})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	n := d.count()
	for i := 0; i < n && d.err == nil; i++ {
		be := world.BlockEntity{Pos: d.vec(), Kind: d.string()}
		be.Data = d.json()
		res.BlockEntities = append(res.BlockEntities, be)
	}
	if d.err != nil {
		return nil, d.fail("блочные сущности", d.err)
	}

	n = d.count()
	for i := 0; i < n && d.err == nil; i++ {
		ent := world.Entity{}
		rawID := d.string()
		ent.Kind = d.string()
		ent.Pos = vec.Vec3Float{X: d.float64(), Y: d.float64(), Z: d.float64()}
		ent.Yaw = d.float32()
		ent.Pitch = d.float32()
		ent.Volatile = d.uint8() != 0
		ent.Data = d.json()
		if d.err != nil {
			break
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			d.err = fmt.Errorf("%w: идентификатор сущности %q", ErrCorrupted, rawID)
			break
		}
		ent.ID = id
		res.Entities = append(res.Entities, ent)
	}
	if d.err != nil {
		return nil, d.fail("сущности", d.err)
	}
	return res, nil
}

//================ binary helpers =================//

type encoder struct {
	w   io.Writer
	buf [8]byte
	err error
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) uint8(v uint8) {
	e.buf[0] = v
	e.write(e.buf[:1])
}

func (e *encoder) int16(v int16) {
	binary.BigEndian.PutUint16(e.buf[:2], uint16(v))
	e.write(e.buf[:2])
}

func (e *encoder) int32(v int32) {
	binary.BigEndian.PutUint32(e.buf[:4], uint32(v))
	e.write(e.buf[:4])
}

func (e *encoder) uint32(v uint32) {
	binary.BigEndian.PutUint32(e.buf[:4], v)
	e.write(e.buf[:4])
}

func (e *encoder) int64(v int64) {
	binary.BigEndian.PutUint64(e.buf[:8], uint64(v))
	e.write(e.buf[:8])
}

func (e *encoder) float32(v float32) {
	e.uint32(math.Float32bits(v))
}

func (e *encoder) float64(v float64) {
	binary.BigEndian.PutUint64(e.buf[:8], math.Float64bits(v))
	e.write(e.buf[:8])
}

func (e *encoder) string(s string) {
	if len(s) > math.MaxUint16 {
		if e.err == nil {
			e.err = fmt.Errorf("строка длиной %d не помещается в запись", len(s))
		}
		return
	}
	binary.BigEndian.PutUint16(e.buf[:2], uint16(len(s)))
	e.write(e.buf[:2])
	e.write([]byte(s))
}

func (e *encoder) vec(v vec.Vec3) {
	e.int32(int32(v.X))
	e.int32(int32(v.Y))
	e.int32(int32(v.Z))
}

func (e *encoder) json(data map[string]interface{}) {
	if e.err != nil {
		return
	}
	var raw []byte
	if len(data) > 0 {
		raw, e.err = json.Marshal(data)
		if e.err != nil {
			return
		}
	}
	e.uint32(uint32(len(raw)))
	e.write(raw)
}

func (e *encoder) header(h Header) {
	e.int32(h.Version)
	e.string(h.Region)
	e.string(h.World)
	e.vec(h.P1)
	e.vec(h.P2)
	e.int64(h.Volume)
}

type decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (d *decoder) fail(what string, err error) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &FormatError{Reason: what + ": неожиданный конец файла", Err: ErrCorrupted}
	}
	if errors.Is(err, ErrCorrupted) {
		return &FormatError{Reason: what + ": " + err.Error(), Err: err}
	}
	return fmt.Errorf("чтение снимка (%s): %w", what, err)
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return d.buf[:n]
	}
	_, d.err = io.ReadFull(d.r, d.buf[:n])
	return d.buf[:n]
}

func (d *decoder) uint8() uint8 {
	return d.read(1)[0]
}

func (d *decoder) int16() int16 {
	return int16(binary.BigEndian.Uint16(d.read(2)))
}

func (d *decoder) int32() int32 {
	return int32(binary.BigEndian.Uint32(d.read(4)))
}

func (d *decoder) uint32() uint32 {
	return binary.BigEndian.Uint32(d.read(4))
}

func (d *decoder) int64() int64 {
	return int64(binary.BigEndian.Uint64(d.read(8)))
}

func (d *decoder) float32() float32 {
	return math.Float32frombits(d.uint32())
}

func (d *decoder) float64() float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(d.read(8)))
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	_, d.err = io.ReadFull(d.r, b)
	return b
}

func (d *decoder) string() string {
	n := int(binary.BigEndian.Uint16(d.read(2)))
	return string(d.bytes(n))
}

func (d *decoder) vec() vec.Vec3 {
	return vec.Vec3{X: int(d.int32()), Y: int(d.int32()), Z: int(d.int32())}
}

func (d *decoder) count() int {
	n := d.int32()
	if d.err == nil && n < 0 {
		d.err = fmt.Errorf("%w: отрицательное количество %d", ErrCorrupted, n)
	}
	return int(n)
}

func (d *decoder) json() map[string]interface{} {
	n := d.uint32()
	if d.err != nil || n == 0 {
		return nil
	}
	if n > maxPayload {
		d.err = fmt.Errorf("%w: данные сущности %d байт", ErrCorrupted, n)
		return nil
	}
	raw := d.bytes(int(n))
	if d.err != nil {
		return nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		d.err = fmt.Errorf("%w: %v", ErrCorrupted, err)
		return nil
	}
	return data
}

func (d *decoder) header() Header {
	return Header{
		Version: d.int32(),
		Region:  d.string(),
		World:   d.string(),
		P1:      d.vec(),
		P2:      d.vec(),
		Volume:  d.int64(),
	}
}
