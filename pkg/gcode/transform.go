package gcode

import (
	"sync"

	"gcode-host/pkg/gcerrors"
)

// Transform is the pluggable provider that turns a target position plus
// feed rate into physical motion and reports the executor's authoritative
// position. The motion executor itself implements it, as does any
// compensation layer (e.g. bed-mesh leveling) that wraps one.
type Transform interface {
	// Move performs or queues a move to the given toolhead position at
	// the given speed. The provider is the last layer; physical limit
	// checking is its responsibility.
	Move(pos Position, speed float64) error

	// GetPosition reads back the provider's authoritative position.
	GetPosition() Position
}

// TransformBinding owns the single active move transform. A compensation
// layer may claim the slot exactly once; forcing a rebind replaces the
// binding atomically. The fallback is the plain motion executor used when
// no compensation layer has claimed the slot.
type TransformBinding struct {
	mu       sync.RWMutex
	provider Transform
	fallback Transform
}

// Bind claims the transform slot. If a provider is already bound and force
// is false it fails with an AlreadyBoundError. On success the previous
// provider is returned (the fallback executor when no custom transform was
// bound yet) so the new layer can chain to it.
func (b *TransformBinding) Bind(provider Transform, force bool) (Transform, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.provider != nil && !force {
		return nil, gcerrors.AlreadyBoundError()
	}
	prev := b.provider
	if prev == nil {
		prev = b.fallback
	}
	b.provider = provider
	return prev, nil
}

// SetFallback installs the default motion executor used while no custom
// transform is bound.
func (b *TransformBinding) SetFallback(executor Transform) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback = executor
}

// active returns the provider moves are routed to, or nil before any
// executor exists.
func (b *TransformBinding) active() Transform {
	if b.provider != nil {
		return b.provider
	}
	return b.fallback
}

// Move forwards to the active provider. Before any provider exists it is a
// no-op, modeling the pre-ready state.
func (b *TransformBinding) Move(pos Position, speed float64) error {
	b.mu.RLock()
	t := b.active()
	b.mu.RUnlock()
	if t == nil {
		return nil
	}
	return t.Move(pos, speed)
}

// GetPosition forwards to the active provider. Before any provider exists
// it returns the zero position.
func (b *TransformBinding) GetPosition() Position {
	b.mu.RLock()
	t := b.active()
	b.mu.RUnlock()
	if t == nil {
		return Position{}
	}
	return t.GetPosition()
}

// Ready reports whether any provider (custom or fallback) is available.
func (b *TransformBinding) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active() != nil
}
