// Package objcache provides the identity and recycling machinery shared by the
// device layer: fixed-record slab pools, intrusive reference counts, and
// hashed object caches with cycle-based aging.
package objcache

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/foundry/gputils"
)

// Index identifies a record within a Pool. Indices are recycled, so an Index
// is only meaningful while its record is live.
type Index int32

// NilIndex is the Index value that refers to no record.
const NilIndex Index = -1

const poolChunkSize = 64

// Pool is a fixed-record slab allocator. Records are stored in fixed-size
// chunks so that pointers returned by Get and Lookup remain stable as the pool
// grows. Released indices go to a free list and are handed out again by later
// Get calls- the pool never returns memory to the runtime.
//
// Pool performs no locking of its own. The owning structure decides whether
// access needs synchronization.
type Pool[T any] struct {
	chunks [][]T
	free   []Index

	live     int
	recycled int
}

func NewPool[T any]() *Pool[T] {
	return &Pool[T]{}
}

// Get returns a zeroed record and its index, growing the pool by one chunk if
// the free list is empty.
func (p *Pool[T]) Get() (Index, *T) {
	if len(p.free) == 0 {
		base := Index(len(p.chunks) * poolChunkSize)
		p.chunks = append(p.chunks, make([]T, poolChunkSize))
		for i := poolChunkSize - 1; i >= 0; i-- {
			p.free = append(p.free, base+Index(i))
		}
	} else {
		p.recycled++
	}

	index := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.live++

	return index, p.Lookup(index)
}

// Lookup returns the record for a live index.
func (p *Pool[T]) Lookup(index Index) *T {
	return &p.chunks[int(index)/poolChunkSize][int(index)%poolChunkSize]
}

// Release zeroes the record and returns its index to the free list. The caller
// must not use the record or any pointer to it afterwards.
func (p *Pool[T]) Release(index Index) {
	gputils.DebugAssertf(index != NilIndex, "released NilIndex")
	if gputils.DebugBuild {
		for _, free := range p.free {
			gputils.DebugAssertf(free != index, "index %d released twice", index)
		}
	}

	var zero T
	*p.Lookup(index) = zero

	p.free = append(p.free, index)
	p.live--
}

func (p *Pool[T]) Stats() gputils.PoolStatistics {
	return gputils.PoolStatistics{
		Capacity: len(p.chunks) * poolChunkSize,
		Live:     p.live,
		Recycled: p.recycled,
	}
}

// Validate performs internal consistency checks on the pool.
func (p *Pool[T]) Validate() error {
	capacity := len(p.chunks) * poolChunkSize
	if p.live+len(p.free) != capacity {
		return errors.Newf("pool has %d live and %d free records, but capacity is %d", p.live, len(p.free), capacity)
	}
	seen := make(map[Index]struct{}, len(p.free))
	for _, index := range p.free {
		if int(index) < 0 || int(index) >= capacity {
			return errors.Newf("free list contains out-of-range index %d", index)
		}
		if _, ok := seen[index]; ok {
			return errors.Newf("free list contains index %d more than once", index)
		}
		seen[index] = struct{}{}
	}
	return nil
}

var _ gputils.Validatable = &Pool[int]{}
