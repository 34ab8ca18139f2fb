package service

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"github.com/crashstats/antenna/internal/metrics"
	"github.com/crashstats/antenna/internal/storage/crashpublish"
	"github.com/crashstats/antenna/internal/storage/crashstorage"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Pipeline saves crash reports in the background. Reports wait in a FIFO
// queue; at most maxWorkers goroutines drain it. A report whose save fails
// goes back on the queue, and re-queues are paced by a rate limiter. A report
// with dumps that cannot be stored under any name is dropped instead.
//
// From the moment a crash is accepted until it is saved it lives only in
// memory.
type Pipeline struct {
	storage   crashstorage.CrashStorage
	publisher crashpublish.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger

	maxWorkers int
	retry      *rate.Limiter
	now        func() time.Time

	// ctx is cancelled when Shutdown gives up on draining.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   []domain.CrashReport
	active  int
	stopped bool
	wg      sync.WaitGroup
}

type PipelineOptions struct {
	ConcurrentSaves int
	// RetryRate is the number of failed saves that may be re-queued per
	// second.
	RetryRate float64
}

func NewPipeline(storage crashstorage.CrashStorage, publisher crashpublish.Publisher, m *metrics.Metrics, log *zap.Logger, opt PipelineOptions) *Pipeline {
	if opt.ConcurrentSaves < 1 {
		opt.ConcurrentSaves = 1
	}
	if opt.RetryRate <= 0 {
		opt.RetryRate = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		storage:    storage,
		publisher:  publisher,
		metrics:    m,
		log:        log,
		maxWorkers: opt.ConcurrentSaves,
		retry:      rate.NewLimiter(rate.Limit(opt.RetryRate), 1),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Add queues report and starts a worker if the pool has room.
func (p *Pipeline) Add(report domain.CrashReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return domain.ErrPipelineStopped
	}

	p.queue = append(p.queue, report)
	p.spawnLocked()
	return nil
}

func (p *Pipeline) spawnLocked() {
	if p.active >= p.maxWorkers {
		return
	}
	p.active++
	p.wg.Add(1)
	go p.work()
}

// QueueSize is the number of reports waiting to be saved.
func (p *Pipeline) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// ActiveWorkers is the number of goroutines currently saving.
func (p *Pipeline) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Wait blocks until the queue is empty and every worker has exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Shutdown refuses new reports and waits for queued ones to be saved. If ctx
// expires first, workers are stopped and the unsaved reports are logged
// and dropped.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done

		p.mu.Lock()
		lost := p.queue
		p.queue = nil
		p.mu.Unlock()

		for _, report := range lost {
			p.log.Error("crash not saved before shutdown", zap.String("crash_id", report.CrashID))
		}
		return ctx.Err()
	}
}

func (p *Pipeline) next() (domain.CrashReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 || p.ctx.Err() != nil {
		p.active--
		return domain.CrashReport{}, false
	}

	report := p.queue[0]
	p.queue = p.queue[1:]
	return report, true
}

func (p *Pipeline) work() {
	defer p.wg.Done()

	for {
		report, ok := p.next()
		if !ok {
			return
		}

		if err := p.save(p.ctx, report); err != nil {
			p.metrics.Incr(p.ctx, "save_crash.error")
			if errors.Is(err, domain.ErrInvalidDumpName) {
				// Retrying can't fix the report.
				p.log.Error(report.CrashID+" dropped: unstorable dump",
					zap.String("crash_id", report.CrashID),
					zap.Error(err),
				)
				continue
			}
			p.log.Warn("failed to save crash; requeueing",
				zap.String("crash_id", report.CrashID),
				zap.Error(err),
			)
			p.requeue(report)
		}
	}
}

func (p *Pipeline) requeue(report domain.CrashReport) {
	// Wait only fails once Shutdown has cancelled p.ctx; the report then
	// stays queued and is reported as lost.
	_ = p.retry.Wait(p.ctx)

	p.mu.Lock()
	p.queue = append(p.queue, report)
	p.mu.Unlock()
}

// save writes dumps, then the raw crash, then publishes the crash id. Any
// error aborts the rest so the whole report is retried.
func (p *Pipeline) save(ctx context.Context, report domain.CrashReport) error {
	if err := p.storage.SaveDumps(ctx, report.CrashID, report.Dumps); err != nil {
		return err
	}
	if err := p.storage.SaveRawCrash(ctx, report.CrashID, report.RawCrash); err != nil {
		return err
	}
	if err := p.publisher.Publish(ctx, report.CrashID); err != nil {
		return err
	}

	if !report.ReceivedAt.IsZero() {
		p.metrics.Timing(ctx, "crash_handling.time", p.now().Sub(report.ReceivedAt))
	}
	p.metrics.Incr(ctx, "save_crash.count")
	p.log.Info(report.CrashID+" saved", zap.String("crash_id", report.CrashID))
	return nil
}
