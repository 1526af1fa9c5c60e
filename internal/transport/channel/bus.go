package channel

import "context"

// Bus is a bounded in-process event channel with a single consumer.
type Bus[T any] struct {
	ch chan T
}

func NewBus[T any](buffer int) *Bus[T] {
	return &Bus[T]{
		ch: make(chan T, buffer),
	}
}

// Emit delivers the event, blocking until there is buffer space or the
// context ends.
func (b *Bus[T]) Emit(ctx context.Context, event T) error {
	select {
	case b.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEmit delivers without blocking and reports whether the event was
// accepted. Producers that must never stall on a full buffer use this.
func (b *Bus[T]) TryEmit(event T) bool {
	select {
	case b.ch <- event:
		return true
	default:
		return false
	}
}

func (b *Bus[T]) Channel() <-chan T {
	return b.ch
}

// Len reports the number of buffered events.
func (b *Bus[T]) Len() int {
	return len(b.ch)
}
