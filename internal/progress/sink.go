package progress

import "context"

// Sink receives delivered batches. The hub calls Consume and Close from one
// goroutine, so implementations need no locking of their own; each Consume
// carries a deadline that must be respected.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events. Hub and Reporter both satisfy it.
type Emitter interface {
	Emit(evt Event)
}
