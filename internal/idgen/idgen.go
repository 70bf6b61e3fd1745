package idgen

import (
	"sync/atomic"

	"github.com/google/uuid"
)

const shardCount = 16

// Allocator hands out unique uint64 ids. Ids are unique across shards
// because the shard index occupies the low bits.
type Allocator struct {
	next   uint64
	shards [shardCount]struct {
		counter uint64
		_       [7]uint64 // pad to a cache line
	}
}

// NewAllocator returns an empty allocator. Ids are never zero: the first
// id it hands out is 17 (sequence one of shard one).
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Next returns a fresh unique id.
func (a *Allocator) Next() uint64 {
	shard := atomic.AddUint64(&a.next, 1) % shardCount
	seq := atomic.AddUint64(&a.shards[shard].counter, 1)
	return seq*shardCount + shard
}

// NewFunc returns a new globally unique identifier as string. It is implemented
// as a thin wrapper so tests can stub it.

var NewFunc = func() string { return uuid.New().String() }

// New returns a fresh uuid string.
func New() string { return NewFunc() }
