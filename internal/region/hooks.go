package region

import (
	"context"

	"github.com/google/uuid"
)

// Hooks - переопределяемые уведомления жизненного цикла региона.
//
// OwnerChanged и CoordsChanged вызываются в горутине, изменившей регион.
// BeforeSave и BeforeRestore вызываются в горутине, запустившей операцию, с её ctx.
// AfterSave, AfterRestore, ActorEntered и ActorLeft вызываются в потоке мутаций,
// ctx помечен queue.WithMainThread; его нужно передавать в вызовы, ждущие поток
// мутаций, иначе поток заблокирует сам себя.
type Hooks interface {
	OwnerChanged(r View, prev, next uuid.UUID)
	CoordsChanged(r View)
	BeforeSave(ctx context.Context, r View)
	AfterSave(ctx context.Context, r View, err error)
	BeforeRestore(ctx context.Context, r View)
	AfterRestore(ctx context.Context, r View, err error)
	ActorEntered(ctx context.Context, r View, actor uuid.UUID, reason Reason)
	ActorLeft(ctx context.Context, r View, actor uuid.UUID, reason Reason)
}

// NopHooks ничего не делает; встраивается, чтобы переопределять только нужные методы
type NopHooks struct{}

func (NopHooks) OwnerChanged(View, uuid.UUID, uuid.UUID)               {}
func (NopHooks) CoordsChanged(View)                                    {}
func (NopHooks) BeforeSave(context.Context, View)                      {}
func (NopHooks) AfterSave(context.Context, View, error)                {}
func (NopHooks) BeforeRestore(context.Context, View)                   {}
func (NopHooks) AfterRestore(context.Context, View, error)             {}
func (NopHooks) ActorEntered(context.Context, View, uuid.UUID, Reason) {}
func (NopHooks) ActorLeft(context.Context, View, uuid.UUID, Reason)    {}
