package core

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Broadcast delivers every sent value to every current subscriber.
// Each subscriber has its own channel, so a slow subscriber makes Send suspend.
type Broadcast[T any] struct {
	mu       sync.Mutex
	capacity int
	subs     []*Channel[T]
	closed   bool
}

// NewBroadcast creates a broadcast whose subscriber channels have the given capacity.
func NewBroadcast[T any](capacity int) *Broadcast[T] {
	return &Broadcast[T]{capacity: capacity}
}

// Subscribe returns a channel that receives every value sent from now on.
// Subscribing to a closed broadcast returns a closed channel.
func (b *Broadcast[T]) Subscribe() *Channel[T] {
	ch := NewChannel[T](b.capacity)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch.Close()
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe detaches and closes ch. Values already buffered in ch can still be received.
func (b *Broadcast[T]) Unsubscribe(ch *Channel[T]) {
	b.mu.Lock()
	b.subs = slices.DeleteFunc(b.subs, func(x *Channel[T]) bool { return x == ch })
	b.mu.Unlock()
	ch.Close()
}

// Send delivers v to each subscriber in subscription order.
// Subscribers that unsubscribe meanwhile are skipped.
func (b *Broadcast[T]) Send(ctx context.Context, v T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosedChannel
	}
	subs := slices.Clone(b.subs)
	b.mu.Unlock()

	for _, ch := range subs {
		if err := ch.Send(ctx, v); err != nil && !errors.Is(err, ErrClosedChannel) {
			return err
		}
	}
	return nil
}

// Close closes the broadcast and every subscriber channel. It returns true only for the closing call.
func (b *Broadcast[T]) Close() bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, ch := range subs {
		ch.Close()
	}
	return true
}

// Subscribers returns the number of attached subscribers.
func (b *Broadcast[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
