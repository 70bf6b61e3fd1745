// Package forest defines the region-tree collaborator surface consumed
// by partition operations, plus an in-memory implementation sufficient
// for driving the operation core without a distributed region tree.
package forest

import (
	"context"
	"fmt"
	"sync"

	"github.com/cqyuan/legion/model/domain"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/service/event"
)

// Forest exposes the partitioning primitives partition thunks invoke.
// Every call returns an event that fires when the partition metadata is
// ready; a poisoned event signals a failed computation.
type Forest interface {
	CreateEqualPartition(ctx context.Context, pid region.IndexPartition, granularity int) event.Event
	CreateWeightedPartition(ctx context.Context, pid region.IndexPartition, granularity int, weights map[domain.Point]int) event.Event
	CreatePartitionByUnion(ctx context.Context, pid, h1, h2 region.IndexPartition) event.Event
	CreatePartitionByIntersection(ctx context.Context, pid, h1, h2 region.IndexPartition) event.Event
	CreatePartitionByDifference(ctx context.Context, pid, h1, h2 region.IndexPartition) event.Event
	CreateCrossProduct(ctx context.Context, base, source region.IndexPartition, handles map[domain.Point]region.IndexPartition) event.Event
	ComputePendingSpace(ctx context.Context, target region.IndexSpace, union bool, handles []region.IndexSpace) event.Event
	ComputePendingDifference(ctx context.Context, target, initial region.IndexSpace, handles []region.IndexSpace) event.Event

	PartitionByField(ctx context.Context, pid region.IndexPartition, req *region.Requirement, colorSpace domain.Domain) event.Event
	PartitionByImage(ctx context.Context, pid region.IndexPartition, projection region.LogicalPartition, req *region.Requirement, colorSpace domain.Domain) event.Event
	PartitionByPreimage(ctx context.Context, pid region.IndexPartition, projection region.IndexPartition, req *region.Requirement, colorSpace domain.Domain) event.Event
}

// Memory is an in-process forest that records created partitions.
type Memory struct {
	events event.System

	mu         sync.Mutex
	partitions map[uint64]string
}

// NewMemory returns an in-memory forest backed by the given event system.
func NewMemory(events event.System) *Memory {
	return &Memory{events: events, partitions: map[uint64]string{}}
}

// Partition returns the recorded description of a partition.
func (m *Memory) Partition(pid region.IndexPartition) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc, ok := m.partitions[pid.ID]
	return desc, ok
}

func (m *Memory) record(pid region.IndexPartition, desc string) event.Event {
	m.mu.Lock()
	m.partitions[pid.ID] = desc
	m.mu.Unlock()
	return m.events.Completed()
}

func (m *Memory) CreateEqualPartition(_ context.Context, pid region.IndexPartition, granularity int) event.Event {
	if granularity <= 0 {
		ev := m.events.NewUserEvent()
		ev.TriggerWithPoison()
		return ev
	}
	return m.record(pid, fmt.Sprintf("equal/%d", granularity))
}

func (m *Memory) CreateWeightedPartition(_ context.Context, pid region.IndexPartition, granularity int, weights map[domain.Point]int) event.Event {
	return m.record(pid, fmt.Sprintf("weighted/%d/%d", granularity, len(weights)))
}

func (m *Memory) CreatePartitionByUnion(_ context.Context, pid, h1, h2 region.IndexPartition) event.Event {
	return m.record(pid, fmt.Sprintf("union/%d+%d", h1.ID, h2.ID))
}

func (m *Memory) CreatePartitionByIntersection(_ context.Context, pid, h1, h2 region.IndexPartition) event.Event {
	return m.record(pid, fmt.Sprintf("intersection/%d&%d", h1.ID, h2.ID))
}

func (m *Memory) CreatePartitionByDifference(_ context.Context, pid, h1, h2 region.IndexPartition) event.Event {
	return m.record(pid, fmt.Sprintf("difference/%d-%d", h1.ID, h2.ID))
}

func (m *Memory) CreateCrossProduct(_ context.Context, base, source region.IndexPartition, handles map[domain.Point]region.IndexPartition) event.Event {
	return m.record(base, fmt.Sprintf("cross/%dx%d", base.ID, source.ID))
}

func (m *Memory) ComputePendingSpace(_ context.Context, target region.IndexSpace, union bool, handles []region.IndexSpace) event.Event {
	if len(handles) == 0 {
		ev := m.events.NewUserEvent()
		ev.TriggerWithPoison()
		return ev
	}
	return m.events.Completed()
}

func (m *Memory) ComputePendingDifference(_ context.Context, target, initial region.IndexSpace, handles []region.IndexSpace) event.Event {
	return m.events.Completed()
}

func (m *Memory) PartitionByField(_ context.Context, pid region.IndexPartition, req *region.Requirement, colorSpace domain.Domain) event.Event {
	return m.record(pid, "by_field")
}

func (m *Memory) PartitionByImage(_ context.Context, pid region.IndexPartition, projection region.LogicalPartition, req *region.Requirement, colorSpace domain.Domain) event.Event {
	return m.record(pid, "by_image")
}

func (m *Memory) PartitionByPreimage(_ context.Context, pid region.IndexPartition, projection region.IndexPartition, req *region.Requirement, colorSpace domain.Domain) event.Event {
	return m.record(pid, "by_preimage")
}
