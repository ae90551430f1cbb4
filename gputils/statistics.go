package gputils

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// CacheStatistics describes the behavior of a single hashed object cache over
// its lifetime.
type CacheStatistics struct {
	// Hits is the number of lookups that returned an existing live entry
	Hits int
	// Misses is the number of lookups that had to construct a new object
	Misses int
	// Evictions is the number of entries aged out and released
	Evictions int
	// LiveEntries is the number of entries currently in the cache
	LiveEntries int
}

func (s *CacheStatistics) Clear() {
	s.Hits = 0
	s.Misses = 0
	s.Evictions = 0
	s.LiveEntries = 0
}

func (s *CacheStatistics) AddStatistics(other *CacheStatistics) {
	s.Hits += other.Hits
	s.Misses += other.Misses
	s.Evictions += other.Evictions
	s.LiveEntries += other.LiveEntries
}

func (s *CacheStatistics) PrintJSON(json *jwriter.ObjectState) {
	json.Name("Hits").Int(s.Hits)
	json.Name("Misses").Int(s.Misses)
	json.Name("Evictions").Int(s.Evictions)
	json.Name("LiveEntries").Int(s.LiveEntries)
}

// PoolStatistics describes a fixed-record slab pool.
type PoolStatistics struct {
	// Capacity is the total number of records the pool has ever grown to hold
	Capacity int
	// Live is the number of records currently handed out
	Live int
	// Recycled is the number of Get calls that were satisfied from the free list
	Recycled int
}

func (s *PoolStatistics) Clear() {
	s.Capacity = 0
	s.Live = 0
	s.Recycled = 0
}

func (s *PoolStatistics) AddStatistics(other *PoolStatistics) {
	s.Capacity += other.Capacity
	s.Live += other.Live
	s.Recycled += other.Recycled
}

func (s *PoolStatistics) PrintJSON(json *jwriter.ObjectState) {
	json.Name("Capacity").Int(s.Capacity)
	json.Name("Live").Int(s.Live)
	json.Name("Recycled").Int(s.Recycled)
}

// LinearStatistics describes one class of scratch-buffer blocks.
type LinearStatistics struct {
	// BlocksCreated is the number of backing buffers created from the driver
	BlocksCreated int
	// BlocksRecycled is the number of retired blocks returned to the free list
	BlocksRecycled int
	// BlocksDestroyed is the number of retired blocks destroyed instead of pooled,
	// which happens to oversized blocks
	BlocksDestroyed int
	// BytesAllocated is the total number of bytes handed out by Allocate calls
	BytesAllocated int
}

func (s *LinearStatistics) Clear() {
	s.BlocksCreated = 0
	s.BlocksRecycled = 0
	s.BlocksDestroyed = 0
	s.BytesAllocated = 0
}

func (s *LinearStatistics) AddStatistics(other *LinearStatistics) {
	s.BlocksCreated += other.BlocksCreated
	s.BlocksRecycled += other.BlocksRecycled
	s.BlocksDestroyed += other.BlocksDestroyed
	s.BytesAllocated += other.BytesAllocated
}

func (s *LinearStatistics) PrintJSON(json *jwriter.ObjectState) {
	json.Name("BlocksCreated").Int(s.BlocksCreated)
	json.Name("BlocksRecycled").Int(s.BlocksRecycled)
	json.Name("BlocksDestroyed").Int(s.BlocksDestroyed)
	json.Name("BytesAllocated").Int(s.BytesAllocated)
}

// DescriptorStatistics describes a descriptor-set allocator. The interesting
// property is Writes: a signature that hits in the cache performs zero
// descriptor writes.
type DescriptorStatistics struct {
	CacheStatistics
	// Writes is the number of descriptor-set write operations issued to the driver
	Writes int
	// PoolSets is the number of descriptor sets the backing pools have grown to
	PoolSets int
}

func (s *DescriptorStatistics) Clear() {
	s.CacheStatistics.Clear()
	s.Writes = 0
	s.PoolSets = 0
}

func (s *DescriptorStatistics) AddStatistics(other *DescriptorStatistics) {
	s.CacheStatistics.AddStatistics(&other.CacheStatistics)
	s.Writes += other.Writes
	s.PoolSets += other.PoolSets
}

func (s *DescriptorStatistics) PrintJSON(json *jwriter.ObjectState) {
	s.CacheStatistics.PrintJSON(json)
	json.Name("Writes").Int(s.Writes)
	json.Name("PoolSets").Int(s.PoolSets)
}
