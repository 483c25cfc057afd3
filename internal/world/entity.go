package world

import (
	"sync"

	"github.com/annel0/regionkeeper/internal/vec"
	"github.com/google/uuid"
)

// Entity - подвижная сущность мира (моб, выпавший предмет, стойка)
type Entity struct {
	ID       uuid.UUID
	Kind     string
	Pos      vec.Vec3Float
	Yaw      float32
	Pitch    float32
	Volatile bool // Удаляется из региона перед восстановлением снимка
	Data     map[string]interface{}
}

// Clone возвращает копию сущности
func (e Entity) Clone() Entity {
	out := e
	if e.Data != nil {
		out.Data = make(map[string]interface{}, len(e.Data))
		for k, v := range e.Data {
			out.Data[k] = v
		}
	}
	return out
}

// MoveCause - причина изменения позиции актёра
type MoveCause uint8

const (
	CauseMove MoveCause = iota
	CauseTeleport
	CauseJoin
	CausePlugin
)

// String возвращает строковое представление причины
func (c MoveCause) String() string {
	switch c {
	case CauseMove:
		return "move"
	case CauseTeleport:
		return "teleport"
	case CauseJoin:
		return "join"
	case CausePlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// Actor - игрок или другой управляемый участник с позицией и входящими сообщениями
type Actor struct {
	ID   uuid.UUID
	Name string

	mu    sync.Mutex
	world string
	pos   vec.Vec3Float
	inbox []string
}

// NewActor создаёт актёра
func NewActor(id uuid.UUID, name, worldName string, pos vec.Vec3Float) *Actor {
	return &Actor{ID: id, Name: name, world: worldName, pos: pos}
}

// Position возвращает мир и позицию актёра
func (a *Actor) Position() (string, vec.Vec3Float) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.world, a.pos
}

func (a *Actor) setPosition(worldName string, pos vec.Vec3Float) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.world = worldName
	a.pos = pos
}

// SendMessage доставляет текстовое сообщение актёру
func (a *Actor) SendMessage(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbox = append(a.inbox, text)
}

// Messages возвращает копию полученных сообщений
func (a *Actor) Messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.inbox))
	copy(out, a.inbox)
	return out
}
