package core

import (
	"context"
	"errors"
	"iter"
	"sync"
)

const (
	// Rendezvous channels have no buffer: every Send waits for a Receive.
	Rendezvous = 0

	// Unlimited channels buffer every value; Send never suspends.
	Unlimited = -1
)

type sendOp[T any] struct {
	value T
	taken bool
	ctx   context.Context
	w     *waiter // nil for TrySend hand-offs
}

// Channel is a FIFO queue between jobs (or plain goroutines).
//
// Values are received in the order they arrived, whichever sender they came from, and each
// value goes to exactly one receiver. Send suspends while the buffer is full and Receive
// suspends while it is empty. After Close, receivers drain the buffer and then get
// ErrClosedChannel; senders still waiting fail with ErrClosedChannel.
type Channel[T any] struct {
	mu        sync.Mutex
	capacity  int
	buf       []T
	sendq     []*sendOp[T]
	receivers []*waiter
	closed    bool
}

// NewChannel creates a channel. capacity is Rendezvous, Unlimited or a positive buffer size.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 0 {
		capacity = Unlimited
	}
	return &Channel[T]{capacity: capacity}
}

// Send delivers v, suspending while the channel is full.
// It returns ErrClosedChannel if the channel is or becomes closed before v was accepted,
// and a *CancellationError if ctx is cancelled first. A value that was not accepted is dropped.
func (c *Channel[T]) Send(ctx context.Context, v T) error {
	if err := EnsureActive(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosedChannel
	}
	if c.hasSpaceLocked() {
		c.buf = append(c.buf, v)
		c.wakeReceiverLocked()
		c.mu.Unlock()
		return nil
	}

	op := &sendOp[T]{value: v, ctx: ctx, w: newWaiter(ctx)}
	c.sendq = append(c.sendq, op)
	c.wakeReceiverLocked()
	c.mu.Unlock()

	op.w.park(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if op.taken {
		return nil
	}
	c.removeSenderLocked(op)
	if ctx.Err() != nil {
		return cancellationError(ctx)
	}
	return ErrClosedChannel
}

// TrySend delivers v only if that needs no suspension: ErrChannelFull otherwise.
func (c *Channel[T]) TrySend(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosedChannel
	}
	if c.hasSpaceLocked() {
		c.buf = append(c.buf, v)
		c.wakeReceiverLocked()
		return nil
	}
	if c.capacity == Rendezvous && len(c.receivers) > 0 {
		c.sendq = append(c.sendq, &sendOp[T]{value: v})
		c.wakeReceiverLocked()
		return nil
	}
	return ErrChannelFull
}

// Receive takes the oldest value, suspending while the channel is empty.
// It returns ErrClosedChannel once the channel is closed and drained, and a
// *CancellationError if ctx is cancelled first.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	if err := EnsureActive(ctx); err != nil {
		return zero, err
	}

	for {
		c.mu.Lock()
		if v, ok := c.takeLocked(); ok {
			c.mu.Unlock()
			return v, nil
		}
		if c.closed {
			c.mu.Unlock()
			return zero, ErrClosedChannel
		}
		w := newWaiter(ctx)
		c.receivers = append(c.receivers, w)
		c.mu.Unlock()

		w.park(ctx)

		if ctx.Err() != nil {
			c.mu.Lock()
			c.removeReceiverLocked(w)
			// The wakeup may have been meant for a value; pass it on.
			if len(c.buf) > 0 || len(c.sendq) > 0 || c.closed {
				c.wakeReceiverLocked()
			}
			c.mu.Unlock()
			return zero, cancellationError(ctx)
		}
	}
}

// TryReceive takes a value without suspending. ok is false when none is available;
// err is ErrClosedChannel once the channel is closed and drained.
func (c *Channel[T]) TryReceive() (v T, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.takeLocked(); ok {
		return v, true, nil
	}
	if c.closed {
		return v, false, ErrClosedChannel
	}
	return v, false, nil
}

// Close marks the channel closed. It returns true only for the call that closed it.
func (c *Channel[T]) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true

	// Hand-offs from TrySend were already accepted; only parked senders fail.
	for _, op := range c.sendq {
		if op.w == nil {
			op.taken = true
			c.buf = append(c.buf, op.value)
			continue
		}
		op.w.wake()
	}
	c.sendq = nil

	for _, w := range c.receivers {
		w.wake()
	}
	c.receivers = nil
	return true
}

// Len returns the number of buffered values.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Cap returns the capacity given to NewChannel.
func (c *Channel[T]) Cap() int {
	return c.capacity
}

// IsClosed reports whether Close was called; Send fails from then on.
func (c *Channel[T]) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// IsClosedForReceive reports whether the channel is closed and drained.
func (c *Channel[T]) IsClosedForReceive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed && len(c.buf) == 0
}

// All yields received values until the channel is closed and drained or ctx is cancelled.
func (c *Channel[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := c.Receive(ctx)
			if err != nil {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// ConsumeEach calls fn for every received value until the channel is closed and drained.
// It returns nil at the end of the channel, fn's error, or a *CancellationError.
func (c *Channel[T]) ConsumeEach(ctx context.Context, fn func(T) error) error {
	for {
		v, err := c.Receive(ctx)
		if errors.Is(err, ErrClosedChannel) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

func (c *Channel[T]) hasSpaceLocked() bool {
	return c.capacity == Unlimited || len(c.buf) < c.capacity
}

// takeLocked pops the oldest value and refills the buffer from the oldest waiting sender.
func (c *Channel[T]) takeLocked() (T, bool) {
	if len(c.buf) > 0 {
		v := c.buf[0]
		var zero T
		c.buf[0] = zero
		c.buf = c.buf[1:]
		if len(c.buf) == 0 {
			c.buf = nil
		}
		if op := c.popSenderLocked(); op != nil {
			c.buf = append(c.buf, op.value)
		}
		return v, true
	}
	if op := c.popSenderLocked(); op != nil {
		return op.value, true
	}
	var zero T
	return zero, false
}

// popSenderLocked hands the baton back to the oldest live sender.
// Cancelled senders are skipped; their own wakeup reports the cancellation.
func (c *Channel[T]) popSenderLocked() *sendOp[T] {
	for len(c.sendq) > 0 {
		op := c.sendq[0]
		c.sendq[0] = nil
		c.sendq = c.sendq[1:]
		if op.w == nil {
			op.taken = true
			return op
		}
		if op.ctx.Err() != nil || op.w.fired.Load() {
			continue
		}
		op.taken = true
		op.w.wake()
		return op
	}
	return nil
}

func (c *Channel[T]) wakeReceiverLocked() {
	for len(c.receivers) > 0 {
		w := c.receivers[0]
		c.receivers[0] = nil
		c.receivers = c.receivers[1:]
		if w.wake() {
			return
		}
	}
}

func (c *Channel[T]) removeSenderLocked(op *sendOp[T]) {
	for i, x := range c.sendq {
		if x == op {
			c.sendq = append(c.sendq[:i], c.sendq[i+1:]...)
			return
		}
	}
}

func (c *Channel[T]) removeReceiverLocked(w *waiter) {
	for i, x := range c.receivers {
		if x == w {
			c.receivers = append(c.receivers[:i], c.receivers[i+1:]...)
			return
		}
	}
}
