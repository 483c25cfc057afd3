package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrBusClosed возвращается при публикации в закрытую шину
var ErrBusClosed = errors.New("eventbus: шина закрыта")

// Типы событий сервиса регионов
const (
	EventRegionEnter    = "region.enter"
	EventRegionLeave    = "region.leave"
	EventRegionSaved    = "region.saved"
	EventRegionRestored = "region.restored"
	EventRegionDefined  = "region.defined"
	EventRegionRemoved  = "region.removed"
)

// MembershipPayload описывает вход или выход актёра
type MembershipPayload struct {
	Region string  `json:"region"`
	World  string  `json:"world"`
	Actor  string  `json:"actor"`
	Name   string  `json:"name"`
	Reason string  `json:"reason"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
}

// PersistencePayload описывает завершённое сохранение или восстановление
type PersistencePayload struct {
	Region     string `json:"region"`
	World      string `json:"world"`
	Version    string `json:"version,omitempty"`
	Chunks     int    `json:"chunks"`
	Method     string `json:"method,omitempty"`
	Cancelled  bool   `json:"cancelled"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// RegionPayload описывает изменение определения региона
type RegionPayload struct {
	Region string `json:"region"`
	World  string `json:"world"`
}

// NewEnvelope сериализует payload в JSON и заворачивает его в Envelope
func NewEnvelope(source, eventType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Payload:   data,
		Metadata:  make(map[string]string),
	}, nil
}

// Decode разбирает JSON полезной нагрузки
func (ev *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(ev.Payload, v)
}

// Emit собирает и публикует событие. Нулевая шина допустима: событие отбрасывается.
func Emit(ctx context.Context, bus EventBus, source, eventType string, payload interface{}) error {
	if bus == nil {
		return nil
	}
	ev, err := NewEnvelope(source, eventType, payload)
	if err != nil {
		return err
	}
	switch p := payload.(type) {
	case MembershipPayload:
		ev.Metadata["region"], ev.Metadata["world"] = p.Region, p.World
	case PersistencePayload:
		ev.Metadata["region"], ev.Metadata["world"] = p.Region, p.World
		// Сохранения и восстановления не отбрасываются при переполнении
		ev.Priority = PriorityHigh
	case RegionPayload:
		ev.Metadata["region"], ev.Metadata["world"] = p.Region, p.World
	}
	return bus.Publish(ctx, ev)
}
