package legion

import (
	"github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/x"

	"github.com/cqyuan/legion/service/event"
	"github.com/cqyuan/legion/service/forest"
	"github.com/cqyuan/legion/service/mapper"
)

// Option customises a Service.
type Option func(s *Service)

// WithConfig replaces the whole configuration.
func WithConfig(cfg *Config) Option {
	return func(s *Service) { s.config = cfg }
}

// WithEventSystem sets the deferred-completion collaborator.
func WithEventSystem(events event.System) Option {
	return func(s *Service) { s.events = events }
}

// WithMapper sets the placement-policy collaborator.
func WithMapper(m mapper.Mapper) Option {
	return func(s *Service) { s.mapperSvc = m }
}

// WithForest sets the region-tree collaborator.
func WithForest(f forest.Forest) Option {
	return func(s *Service) { s.forestSvc = f }
}

// WithFileService sets the abstract file service backing attaches.
func WithFileService(fs afs.Service) Option {
	return func(s *Service) { s.fs = fs }
}

// WithLogger sets the root logger.
func WithLogger(log *logrus.Logger) Option {
	return func(s *Service) { s.logger = log }
}

// WithExtensionTypes registers external collaborator types by name.
func WithExtensionTypes(types ...*x.Type) Option {
	return func(s *Service) { s.extensionTypes = append(s.extensionTypes, types...) }
}
