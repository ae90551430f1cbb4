package objcache

import "sync/atomic"

// RefCount is an intrusive reference count. When atomic is false the count is
// updated with plain integer operations, which is only safe when a single
// goroutine ever holds handles to the object. Multi-threaded devices enable
// the atomic path.
type RefCount struct {
	count  int32
	atomic bool
}

// Init sets the count to 1.
func (r *RefCount) Init(atomic bool) {
	r.count = 1
	r.atomic = atomic
}

func (r *RefCount) Retain() {
	if r.atomic {
		atomic.AddInt32(&r.count, 1)
	} else {
		r.count++
	}
}

// Release decrements the count and returns true exactly once, when the count
// reaches zero.
func (r *RefCount) Release() bool {
	if r.atomic {
		return atomic.AddInt32(&r.count, -1) == 0
	}
	r.count--
	return r.count == 0
}

func (r *RefCount) Count() int32 {
	if r.atomic {
		return atomic.LoadInt32(&r.count)
	}
	return r.count
}
