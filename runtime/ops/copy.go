package ops

import (
	"context"

	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/service/mapper"
)

// CopyLauncher describes a deferred region-to-region copy: source and
// destination requirement lists are paired by index.
type CopyLauncher struct {
	Sources      []region.Requirement `json:"sources" yaml:"sources"`
	Destinations []region.Requirement `json:"destinations" yaml:"destinations"`
	Predicate    Predicate            `json:"-" yaml:"-"`
}

// CopyOp copies data between pairs of regions. It is speculative: a
// false predicate skips the copy entirely.
type CopyOp struct {
	SpeculativeOp
	sources      []region.Requirement
	destinations []region.Requirement
	placement    mapper.Placement
}

// InitializeCopy validates the launcher and starts the operation.
func (c *CopyOp) InitializeCopy(parent ParentContext, launcher CopyLauncher) error {
	if len(launcher.Sources) != len(launcher.Destinations) {
		return ErrAliasedRequirements
	}
	for i := range launcher.Sources {
		if err := parent.CheckPrivilege(&launcher.Sources[i]); err != nil {
			return err
		}
		if err := parent.CheckPrivilege(&launcher.Destinations[i]); err != nil {
			return err
		}
	}
	// Destinations may not alias each other on the same state.
	for i := range launcher.Destinations {
		for j := i + 1; j < len(launcher.Destinations); j++ {
			if region.Interferes(launcher.Destinations[i].Region, launcher.Destinations[j].Region) &&
				launcher.Destinations[i].Mask().Overlaps(launcher.Destinations[j].Mask()) {
				c.ReportAliasedRequirements(len(launcher.Sources)+i, len(launcher.Sources)+j)
				return ErrAliasedRequirements
			}
		}
	}
	regions := len(launcher.Sources) + len(launcher.Destinations)
	c.InitializeSpeculation(parent, true, nil, regions, launcher.Predicate)
	c.sources = launcher.Sources
	c.destinations = launcher.Destinations
	return nil
}

func (c *CopyOp) TriggerDependenceAnalysis() {
	c.RegisterPredicateDependence()
	for i := range c.sources {
		c.parent.AnalyzeRegion(c.self, i, &c.sources[i])
	}
	base := len(c.sources)
	for i := range c.destinations {
		c.parent.AnalyzeRegion(c.self, base+i, &c.destinations[i])
	}
}

func (c *CopyOp) Speculate(ctx context.Context) (bool, bool) {
	return c.env.Mapper.Speculate(ctx, c.speculationRequest())
}

// ResolveTrue proceeds into the normal mapping path.
func (c *CopyOp) ResolveTrue() {
	c.ContinueMapping()
}

// ResolveFalse skips the copy: the completion event still fires so
// consumers observe an ordered no-op.
func (c *CopyOp) ResolveFalse() {
	c.CompleteMapping()
	c.CompleteExecution()
}

func (c *CopyOp) TriggerExecution(ctx context.Context) Outcome {
	reqs := append(append([]region.Requirement{}, c.sources...), c.destinations...)
	placement, err := c.env.Mapper.MapCopy(ctx, &mapper.Request{
		OpID:         uint64(c.UniqueOpID()),
		Kind:         c.kind.String(),
		Requirements: reqs,
	})
	if err != nil {
		c.Poison()
		c.CompleteMapping()
		c.CompleteExecution()
		return Poisoned
	}
	c.placement = placement
	c.CompleteMapping()
	return c.LaunchWhenReady(func() { c.CompleteExecution() })
}

func (c *CopyOp) Deactivate() {
	c.sources = nil
	c.destinations = nil
	c.placement = mapper.Placement{}
	c.deactivateSpeculative()
}
