package objcache

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"

	"github.com/vkngwrapper/foundry/gputils"
)

type cacheEntry[K comparable, V any] struct {
	hash  uint64
	key   K
	value V

	// ring slot the entry currently lives in, and its position in that slot
	slot int
	pos  int
}

// Cache maps content hashes to expensive-to-construct objects. Lookups compare
// the full key on a hash match, so two distinct keys that happen to collide
// always produce two distinct entries.
//
// A Cache created with a non-zero horizon ages its entries: every BeginCycle
// call advances the cache by one cycle, and an entry that has not been looked
// up for horizon cycles is evicted and handed to the eviction callback. A zero
// horizon produces a persistent cache whose entries are only released through
// Drain.
//
// Cache performs no locking of its own. Devices that record from multiple
// threads must synchronize access.
type Cache[K comparable, V any] struct {
	index   *swiss.Map[uint64, []*cacheEntry[K, V]]
	ring    [][]*cacheEntry[K, V]
	cycle   uint64
	onEvict func(K, V)

	stats gputils.CacheStatistics
}

// NewCache creates a Cache with the given eviction horizon in cycles. A zero
// horizon disables eviction. onEvict may be nil; it is invoked for entries
// removed by aging and by Drain.
func NewCache[K comparable, V any](horizon int, onEvict func(K, V)) *Cache[K, V] {
	c := &Cache[K, V]{
		index:   swiss.NewMap[uint64, []*cacheEntry[K, V]](16),
		onEvict: onEvict,
	}
	if horizon > 0 {
		c.ring = make([][]*cacheEntry[K, V], horizon)
	}
	return c
}

// Find returns the live object for key, if any, without constructing one.
// A hit stamps the entry as used this cycle.
func (c *Cache[K, V]) Find(hash uint64, key K) (V, bool) {
	bucket, ok := c.index.Get(hash)
	if ok {
		for _, entry := range bucket {
			if entry.key == key {
				c.touch(entry)
				c.stats.Hits++
				return entry.value, true
			}
		}
	}

	var zero V
	return zero, false
}

// FindOrCreate returns the live object for key, invoking factory to build one
// on a miss. On a hit the existing object is returned unchanged and stamped as
// used this cycle. When factory fails, nothing is inserted.
func (c *Cache[K, V]) FindOrCreate(hash uint64, key K, factory func(K) (V, error)) (V, error) {
	bucket, _ := c.index.Get(hash)
	for _, entry := range bucket {
		if entry.key == key {
			c.touch(entry)
			c.stats.Hits++
			return entry.value, nil
		}
	}

	value, err := factory(key)
	if err != nil {
		var zero V
		return zero, errors.Wrapf(err, "failed to construct cache object for hash %x", hash)
	}

	entry := &cacheEntry[K, V]{
		hash:  hash,
		key:   key,
		value: value,
		slot:  -1,
	}
	c.index.Put(hash, append(bucket, entry))
	if c.ring != nil {
		c.ringInsert(entry)
	}

	c.stats.Misses++
	c.stats.LiveEntries++
	return value, nil
}

func (c *Cache[K, V]) currentSlot() int {
	return int(c.cycle % uint64(len(c.ring)))
}

func (c *Cache[K, V]) ringInsert(entry *cacheEntry[K, V]) {
	slot := c.currentSlot()
	entry.slot = slot
	entry.pos = len(c.ring[slot])
	c.ring[slot] = append(c.ring[slot], entry)
}

func (c *Cache[K, V]) ringRemove(entry *cacheEntry[K, V]) {
	slot := c.ring[entry.slot]
	last := slot[len(slot)-1]
	slot[entry.pos] = last
	last.pos = entry.pos
	c.ring[entry.slot] = slot[:len(slot)-1]
	entry.slot = -1
}

func (c *Cache[K, V]) touch(entry *cacheEntry[K, V]) {
	if c.ring == nil || entry.slot == c.currentSlot() {
		return
	}
	c.ringRemove(entry)
	c.ringInsert(entry)
}

func (c *Cache[K, V]) indexRemove(entry *cacheEntry[K, V]) {
	bucket, _ := c.index.Get(entry.hash)
	for i, other := range bucket {
		if other == entry {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		c.index.Delete(entry.hash)
	} else {
		c.index.Put(entry.hash, bucket)
	}
}

// BeginCycle advances the cache by one cycle and evicts every entry that has
// not been used for the cache's horizon.
func (c *Cache[K, V]) BeginCycle() {
	c.cycle++
	if c.ring == nil {
		return
	}

	slot := c.currentSlot()
	for _, entry := range c.ring[slot] {
		c.indexRemove(entry)
		c.stats.Evictions++
		c.stats.LiveEntries--
		if c.onEvict != nil {
			c.onEvict(entry.key, entry.value)
		}
	}
	c.ring[slot] = c.ring[slot][:0]
}

// ForEach visits every live entry.
func (c *Cache[K, V]) ForEach(fn func(K, V)) {
	c.index.Iter(func(_ uint64, bucket []*cacheEntry[K, V]) bool {
		for _, entry := range bucket {
			fn(entry.key, entry.value)
		}
		return false
	})
}

// Drain removes every live entry, invoking the eviction callback for each.
func (c *Cache[K, V]) Drain() {
	entries := make([]*cacheEntry[K, V], 0, c.stats.LiveEntries)
	c.index.Iter(func(_ uint64, bucket []*cacheEntry[K, V]) bool {
		entries = append(entries, bucket...)
		return false
	})

	for _, entry := range entries {
		c.indexRemove(entry)
		if entry.slot >= 0 {
			c.ringRemove(entry)
		}
		c.stats.LiveEntries--
		if c.onEvict != nil {
			c.onEvict(entry.key, entry.value)
		}
	}
}

func (c *Cache[K, V]) Len() int {
	return c.stats.LiveEntries
}

func (c *Cache[K, V]) Stats() gputils.CacheStatistics {
	return c.stats
}
