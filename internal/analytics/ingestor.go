package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulzo/uniapi/internal/store"
	"github.com/nulzo/uniapi/internal/store/model"
	"go.uber.org/zap"
)

// Ingestor persists request logs off the request path.
type Ingestor interface {
	Log(log *model.RequestLog)
	Start(ctx context.Context)
	Stop()
}

const (
	defaultBuffer    = 10000
	defaultBatchSize = 50
	defaultFlush     = 5 * time.Second
)

type IngestorOption func(*ingestor)

// WithBatching overrides how many logs are written together and how long a
// partial batch may wait.
func WithBatching(size int, every time.Duration) IngestorOption {
	return func(i *ingestor) {
		if size > 0 {
			i.batchSize = size
		}
		if every > 0 {
			i.flushEvery = every
		}
	}
}

type ingestor struct {
	logger     *zap.Logger
	repo       store.RequestRepository
	queue      chan *model.RequestLog
	batchSize  int
	flushEvery time.Duration
	dropped    atomic.Int64

	// mu guards closed so Log never sends on a closed queue.
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewIngestor(logger *zap.Logger, repo store.RequestRepository, opts ...IngestorOption) Ingestor {
	i := &ingestor{
		logger:     logger,
		repo:       repo,
		queue:      make(chan *model.RequestLog, defaultBuffer),
		batchSize:  defaultBatchSize,
		flushEvery: defaultFlush,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Log enqueues without blocking. A full queue drops the log.
func (i *ingestor) Log(log *model.RequestLog) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return
	}

	select {
	case i.queue <- log:
	default:
		n := i.dropped.Add(1)
		i.logger.Warn("Request log queue full, dropping entry",
			zap.String("request_id", log.ID),
			zap.Int64("dropped_total", n),
		)
	}
}

func (i *ingestor) Start(ctx context.Context) {
	go i.run(ctx)
}

// Stop closes the queue and blocks until everything queued is written.
func (i *ingestor) Stop() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	close(i.queue)
	i.mu.Unlock()

	<-i.done
}

func (i *ingestor) run(ctx context.Context) {
	defer close(i.done)

	ticker := time.NewTicker(i.flushEvery)
	defer ticker.Stop()

	batch := make([]*model.RequestLog, 0, i.batchSize)
	for {
		select {
		case log, ok := <-i.queue:
			if !ok {
				i.write(batch)
				return
			}
			if batch = append(batch, log); len(batch) >= i.batchSize {
				batch = i.write(batch)
			}
		case <-ticker.C:
			batch = i.write(batch)
		case <-ctx.Done():
			i.write(i.drain(batch))
			return
		}
	}
}

// drain appends whatever is queued right now without waiting for more.
func (i *ingestor) drain(batch []*model.RequestLog) []*model.RequestLog {
	for {
		select {
		case log, ok := <-i.queue:
			if !ok {
				return batch
			}
			batch = append(batch, log)
		default:
			return batch
		}
	}
}

// write stores batch and returns it emptied for reuse. Writes outlive the
// worker context so a shutdown flush still lands.
func (i *ingestor) write(batch []*model.RequestLog) []*model.RequestLog {
	for _, log := range batch {
		if err := i.repo.Log(context.Background(), log); err != nil {
			i.logger.Error("Failed to persist request log", zap.String("request_id", log.ID), zap.Error(err))
		}
	}
	return batch[:0]
}
