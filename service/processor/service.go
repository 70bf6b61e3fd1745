// Package processor drives ready operations through their execution
// trigger on a pool of workers, and drains the deferred-trigger queue
// that keeps stage transitions from nesting under operation locks.
package processor

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cqyuan/legion/internal/clock"
	"github.com/cqyuan/legion/runtime/ops"
	"github.com/cqyuan/legion/service/messaging"
	"github.com/cqyuan/legion/tracing"
)

// Config represents processor configuration.
type Config struct {
	// WorkerCount is the number of workers executing ready operations.
	WorkerCount int `json:"workers" yaml:"workers"`
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() Config {
	return Config{WorkerCount: 4}
}

// Ready is one entry on the ready queue.
type Ready struct {
	Op  ops.Op
	Gen ops.GenerationID
}

// Deferred is one parked trigger transition.
type Deferred struct {
	Fn func()
}

// Service consumes the ready and deferred queues.
type Service struct {
	config   Config
	ready    messaging.Queue[Ready]
	deferred messaging.Queue[Deferred]
	log      *logrus.Entry

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
}

// New creates a processor over the given queues.
func New(config Config, ready messaging.Queue[Ready], deferred messaging.Queue[Deferred], log *logrus.Entry) *Service {
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	return &Service{
		config:     config,
		ready:      ready,
		deferred:   deferred,
		log:        log,
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the workers. It returns immediately.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(2)
		go s.readyWorker(ctx, i)
		go s.deferredWorker(ctx, i)
	}
}

// Shutdown stops the workers after their current message.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	s.wg.Wait()
}

func (s *Service) readyWorker(ctx context.Context, id int) {
	defer s.wg.Done()
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-s.shutdownCh
		cancel()
	}()
	for {
		msg, err := s.ready.Consume(workerCtx)
		if err != nil {
			return
		}
		entry := msg.T()
		if entry.Op.Base().Generation() != entry.Gen {
			// The slot advanced past the enqueued generation.
			_ = msg.Ack()
			continue
		}
		started := clock.Now()
		spanCtx, span := tracing.StartSpan(workerCtx, "execute")
		outcome := entry.Op.TriggerExecution(spanCtx)
		tracing.EndSpan(span, nil)
		if s.log != nil {
			s.log.WithFields(logrus.Fields{
				"worker":  id,
				"op":      entry.Op.LoggingName(),
				"outcome": outcome.String(),
				"took":    clock.Now().Sub(started).String(),
			}).Debug("execution trigger")
		}
		_ = msg.Ack()
	}
}

func (s *Service) deferredWorker(ctx context.Context, id int) {
	defer s.wg.Done()
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-s.shutdownCh
		cancel()
	}()
	for {
		msg, err := s.deferred.Consume(workerCtx)
		if err != nil {
			return
		}
		if fn := msg.T().Fn; fn != nil {
			fn()
		}
		_ = msg.Ack()
	}
}
