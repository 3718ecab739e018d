// Package queue defines the work queue contract shared by the asset
// downloader and its implementations.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned by Push after Close, and by Pop once a closed queue
// has been drained.
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO of pending work items.
type Queue[T any] interface {
	// Push enqueues item without blocking.
	Push(item T) error
	// Pop blocks until an item is available, the queue is closed and empty,
	// or ctx ends.
	Pop(ctx context.Context) (T, error)
	// Close stops accepting items; queued items remain poppable.
	Close()
	// Len reports the number of queued items.
	Len() int
}
