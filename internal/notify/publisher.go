// Package notify publishes case status-changed payloads for downstream
// consumers. The subsystem guarantees payload correctness only; delivery,
// ordering, and retry belong to whatever sits on the other side of the
// channel.
package notify

import (
	"context"
	"sync"

	"github.com/casefold/grantflow/model"
)

// Publisher delivers status-changed notifications. Channel names the
// destination for logging and metric labels.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, payload model.StatusChanged) error
	Channel() string
}

// MemoryPublisher records published payloads in memory. For tests and
// deployments with no broker configured.
type MemoryPublisher struct {
	mu       sync.Mutex
	payloads []model.StatusChanged
}

// NewMemoryPublisher creates a new in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Channel names the in-memory destination.
func (p *MemoryPublisher) Channel() string { return "memory" }

// PublishStatusChanged records the payload.
func (p *MemoryPublisher) PublishStatusChanged(_ context.Context, payload model.StatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return nil
}

// Published returns a copy of everything published so far. For testing.
func (p *MemoryPublisher) Published() []model.StatusChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.StatusChanged, len(p.payloads))
	copy(out, p.payloads)
	return out
}
