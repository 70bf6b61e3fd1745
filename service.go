package legion

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/x"

	"github.com/cqyuan/legion/extension"
	"github.com/cqyuan/legion/internal/idgen"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/runtime/ops"
	"github.com/cqyuan/legion/runtime/task"
	"github.com/cqyuan/legion/service/event"
	evmemory "github.com/cqyuan/legion/service/event/memory"
	"github.com/cqyuan/legion/service/filemem"
	"github.com/cqyuan/legion/service/forest"
	"github.com/cqyuan/legion/service/mapper"
	mmemory "github.com/cqyuan/legion/service/messaging/memory"
	"github.com/cqyuan/legion/service/processor"
)

// Service wires the operation core to its collaborators and owns the
// execution workers.
type Service struct {
	config *Config
	logger *logrus.Logger

	events    event.System
	mapperSvc mapper.Mapper
	forestSvc forest.Forest
	fs        afs.Service
	files     *filemem.FileMemory

	extensionTypes []*x.Type
	types          *extension.Types

	env   *ops.Env
	pools *ops.Pools

	readyQueue    *mmemory.Queue[processor.Ready]
	deferredQueue *mmemory.Queue[processor.Deferred]
	processor     *processor.Service

	runtime *Runtime
	cancel  context.CancelFunc
}

// New creates and starts a runtime service.
func New(options ...Option) *Service {
	s := &Service{}
	for _, option := range options {
		option(s)
	}
	s.ensureBaseSetup()

	log := s.logger.WithField("component", "legion")
	s.env = &ops.Env{
		Events: s.events,
		Mapper: s.mapperSvc,
		Forest: s.forestSvc,
		Files:  s.files,
		IDs:    idgen.NewAllocator(),
		Log:    log,
	}
	s.env.Ready = func(op ops.Op) {
		entry := processor.Ready{Op: op, Gen: op.Base().Generation()}
		if !s.readyQueue.TryPublish(&entry) {
			// Never block a trigger path on a full queue.
			go op.TriggerExecution(context.Background())
		}
	}
	s.env.Defer = func(fn func()) {
		entry := processor.Deferred{Fn: fn}
		if !s.deferredQueue.TryPublish(&entry) {
			go fn()
		}
	}
	s.pools = ops.NewPools(s.env)
	s.types = extension.NewTypes(s.extensionTypes...)
	s.processor = processor.New(s.config.Processor, s.readyQueue, s.deferredQueue, log)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.processor.Start(ctx)

	s.runtime = &Runtime{service: s}
	return s
}

func (s *Service) ensureBaseSetup() {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.events == nil {
		s.events = evmemory.New()
	}
	if s.mapperSvc == nil {
		s.mapperSvc = mapper.NewDefault()
	}
	if s.forestSvc == nil {
		s.forestSvc = forest.NewMemory(s.events)
	}
	if s.fs == nil {
		s.fs = afs.New()
	}
	if s.files == nil {
		s.files = filemem.New(s.fs)
	}
	s.readyQueue = mmemory.NewQueue[processor.Ready](s.config.Queue)
	s.deferredQueue = mmemory.NewQueue[processor.Deferred](s.config.Queue)
}

// Runtime returns the issue surface.
func (s *Service) Runtime() *Runtime { return s.runtime }

// Types returns the extension type registry.
func (s *Service) Types() *extension.Types { return s.types }

// RegisterExtensionTypes adds collaborator types after construction.
func (s *Service) RegisterExtensionTypes(types ...*x.Type) {
	for i := range types {
		s.types.Register(types[i])
	}
}

// NewContext creates a parent context holding the given privileges.
func (s *Service) NewContext(privileges ...region.Requirement) *task.Context {
	return task.NewContext(s.env, s.pools, s.config.Context, privileges)
}

// Env exposes the collaborator bundle, mainly for tests.
func (s *Service) Env() *ops.Env { return s.env }

// Shutdown stops the workers.
func (s *Service) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.processor.Shutdown()
}
