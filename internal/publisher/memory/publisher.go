// Package memory keeps discovery notifications in process memory so tests
// can assert on what would have been published.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// Message is one recorded publish call.
type Message struct {
	ID      string
	Kind    string
	Payload any
}

// Publisher satisfies the archive publisher contract without a broker.
type Publisher struct {
	mu   sync.Mutex
	log  []Message
	fail error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err. Pass nil to recover.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

// Publish appends the message and hands back an ID of the form "memory-N".
func (p *Publisher) Publish(ctx context.Context, kind string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	msg := Message{ID: "memory-" + strconv.Itoa(len(p.log)+1), Kind: kind, Payload: payload}
	p.log = append(p.log, msg)
	return msg.ID, nil
}

// Messages snapshots everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.log))
	copy(out, p.log)
	return out
}
