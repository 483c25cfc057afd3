package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/regionkeeper/internal/logging"
	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/google/uuid"
)

// ActorMove - событие перемещения актёра
type ActorMove struct {
	Actor uuid.UUID
	World string
	Pos   vec.Vec3Float
	Cause MoveCause
}

// Universe объединяет миры и актёров. Реализует доступ к миру для
// сохранения регионов, источник актёров и доставку сообщений.
type Universe struct {
	worldsMu sync.RWMutex
	worlds   map[string]*World

	actorsMu sync.RWMutex
	actors   map[uuid.UUID]*Actor

	listenersMu    sync.RWMutex
	moveListeners  []func(ActorMove)
	leaveListeners []func(uuid.UUID)
}

// NewUniverse создаёт пустую вселенную
func NewUniverse() *Universe {
	return &Universe{
		worlds: make(map[string]*World),
		actors: make(map[uuid.UUID]*Actor),
	}
}

// AddWorld регистрирует мир
func (u *Universe) AddWorld(w *World) {
	u.worldsMu.Lock()
	defer u.worldsMu.Unlock()
	u.worlds[w.Name()] = w
	logging.Info("🌍 Мир %s зарегистрирован (y %d..%d)", w.Name(), w.MinY(), w.MaxY())
}

// World возвращает мир по имени
func (u *Universe) World(name string) (*World, bool) {
	u.worldsMu.RLock()
	defer u.worldsMu.RUnlock()
	w, ok := u.worlds[name]
	return w, ok
}

// Worlds возвращает отсортированные имена миров
func (u *Universe) Worlds() []string {
	u.worldsMu.RLock()
	defer u.worldsMu.RUnlock()
	names := make([]string, 0, len(u.worlds))
	for name := range u.worlds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (u *Universe) mustWorld(name string) (*World, error) {
	w, ok := u.World(name)
	if !ok {
		return nil, fmt.Errorf("мир %q не найден", name)
	}
	return w, nil
}

// OnActorMove подписывает слушателя на перемещения актёров
func (u *Universe) OnActorMove(fn func(ActorMove)) {
	u.listenersMu.Lock()
	defer u.listenersMu.Unlock()
	u.moveListeners = append(u.moveListeners, fn)
}

// OnActorLeave подписывает слушателя на выход актёров
func (u *Universe) OnActorLeave(fn func(uuid.UUID)) {
	u.listenersMu.Lock()
	defer u.listenersMu.Unlock()
	u.leaveListeners = append(u.leaveListeners, fn)
}

// Join добавляет актёра в мир
func (u *Universe) Join(name, worldName string, pos vec.Vec3Float) (*Actor, error) {
	if _, err := u.mustWorld(worldName); err != nil {
		return nil, err
	}
	actor := NewActor(uuid.New(), name, worldName, pos)

	u.actorsMu.Lock()
	u.actors[actor.ID] = actor
	u.actorsMu.Unlock()

	u.notifyMove(ActorMove{Actor: actor.ID, World: worldName, Pos: pos, Cause: CauseJoin})
	return actor, nil
}

// Leave удаляет актёра
func (u *Universe) Leave(id uuid.UUID) {
	u.actorsMu.Lock()
	_, ok := u.actors[id]
	delete(u.actors, id)
	u.actorsMu.Unlock()
	if !ok {
		return
	}

	u.listenersMu.RLock()
	listeners := u.leaveListeners
	u.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(id)
	}
}

// Move перемещает актёра в пределах текущего мира
func (u *Universe) Move(id uuid.UUID, pos vec.Vec3Float) error {
	actor, ok := u.Actor(id)
	if !ok {
		return fmt.Errorf("актёр %s не найден", id)
	}
	worldName, _ := actor.Position()
	actor.setPosition(worldName, pos)
	u.notifyMove(ActorMove{Actor: id, World: worldName, Pos: pos, Cause: CauseMove})
	return nil
}

// Teleport переносит актёра, возможно в другой мир
func (u *Universe) Teleport(id uuid.UUID, worldName string, pos vec.Vec3Float) error {
	actor, ok := u.Actor(id)
	if !ok {
		return fmt.Errorf("актёр %s не найден", id)
	}
	if _, err := u.mustWorld(worldName); err != nil {
		return err
	}
	actor.setPosition(worldName, pos)
	u.notifyMove(ActorMove{Actor: id, World: worldName, Pos: pos, Cause: CauseTeleport})
	return nil
}

func (u *Universe) notifyMove(m ActorMove) {
	u.listenersMu.RLock()
	listeners := u.moveListeners
	u.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(m)
	}
}

// Actor возвращает актёра по ID
func (u *Universe) Actor(id uuid.UUID) (*Actor, bool) {
	u.actorsMu.RLock()
	defer u.actorsMu.RUnlock()
	a, ok := u.actors[id]
	return a, ok
}

// ActorsIn возвращает ID актёров, находящихся в мире
func (u *Universe) ActorsIn(worldName string) []uuid.UUID {
	u.actorsMu.RLock()
	defer u.actorsMu.RUnlock()
	out := make([]uuid.UUID, 0)
	for id, a := range u.actors {
		if w, _ := a.Position(); w == worldName {
			out = append(out, id)
		}
	}
	return out
}

// SendMessage доставляет сообщение актёру; неизвестные актёры игнорируются
func (u *Universe) SendMessage(id uuid.UUID, text string) {
	if a, ok := u.Actor(id); ok {
		a.SendMessage(text)
	}
}

// CaptureChunk снимает неизменяемую копию чанка
func (u *Universe) CaptureChunk(worldName string, coords vec.Vec2) (*ChunkSnapshot, error) {
	w, err := u.mustWorld(worldName)
	if err != nil {
		return nil, err
	}
	return w.Snapshot(coords), nil
}

// SetCell устанавливает ячейку в мире
func (u *Universe) SetCell(worldName string, pos vec.Vec3, cell Cell) error {
	w, err := u.mustWorld(worldName)
	if err != nil {
		return err
	}
	return w.SetBlock(pos, cell)
}

// PutBlockEntity добавляет или заменяет блочную сущность
func (u *Universe) PutBlockEntity(worldName string, be BlockEntity) error {
	w, err := u.mustWorld(worldName)
	if err != nil {
		return err
	}
	if be.Pos.Y < w.MinY() || be.Pos.Y > w.MaxY() {
		return fmt.Errorf("блочная сущность %s вне диапазона высот мира %s", be.Pos, worldName)
	}
	w.Chunk(be.Pos.ChunkCoords()).SetBlockEntity(be)
	return nil
}

// SpawnEntity добавляет подвижную сущность (заменяя сущность с тем же ID)
func (u *Universe) SpawnEntity(worldName string, e Entity) error {
	w, err := u.mustWorld(worldName)
	if err != nil {
		return err
	}
	w.SpawnEntity(e)
	return nil
}

// RemoveVolatileEntities удаляет временные сущности в области
func (u *Universe) RemoveVolatileEntities(worldName string, min, max vec.Vec3) (int, error) {
	w, err := u.mustWorld(worldName)
	if err != nil {
		return 0, err
	}
	return w.RemoveVolatileWithin(min, max), nil
}

// HeightRange возвращает диапазон высот мира
func (u *Universe) HeightRange(worldName string) (int, int, error) {
	w, err := u.mustWorld(worldName)
	if err != nil {
		return 0, 0, err
	}
	return w.MinY(), w.MaxY(), nil
}
