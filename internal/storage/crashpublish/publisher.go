// Package crashpublish announces saved crashes to the processing queue.
package crashpublish

import (
	"context"
	"sync"

	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"go.uber.org/zap"
)

// Publisher sends the ids of saved crashes downstream.
type Publisher interface {
	Publish(ctx context.Context, crashID string) error
	CheckHealth(ctx context.Context, state *domain.HealthState)
}

// NoopPublisher logs and records published crash ids.
type NoopPublisher struct {
	log *zap.Logger

	mu        sync.Mutex
	published []string
}

func NewNoop(log *zap.Logger) *NoopPublisher {
	return &NoopPublisher{log: log}
}

func (p *NoopPublisher) Publish(_ context.Context, crashID string) error {
	p.mu.Lock()
	p.published = append(p.published, crashID)
	p.mu.Unlock()

	p.log.Debug("noop: published crash", zap.String("crash_id", crashID))
	return nil
}

func (p *NoopPublisher) CheckHealth(context.Context, *domain.HealthState) {}

// Published returns the ids published so far.
func (p *NoopPublisher) Published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.published))
	copy(out, p.published)
	return out
}
