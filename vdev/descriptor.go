package vdev

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/foundry/gputils"
	"github.com/vkngwrapper/foundry/objcache"
	"github.com/vkngwrapper/foundry/vdev/internal/utils"
)

// descriptorPoolChunkSize is how many sets a backing pool grows by at a time.
const descriptorPoolChunkSize = 16

// resourceBinding is the identity of one bound resource slot: which resource
// (by cookie), where in it, and in which layout. It deliberately carries no
// reference to the resource itself.
type resourceBinding struct {
	Cookie    uint64
	AuxCookie uint64
	Offset    int
	Range     int
	Layout    ImageLayout
}

// bindingSignature is the full content key of a descriptor set: the resource
// identities bound to every slot the layout declares live.
type bindingSignature [MaxBindingsPerSet]resourceBinding

// DescriptorSetAllocator issues and recycles descriptor sets for exactly one
// set layout. Sets are cached by binding signature: binding the same
// resources again returns the same set with zero descriptor writes. Sets not
// looked up for the configured horizon are marked vacant and their storage is
// reused for new signatures; pool memory only grows.
//
// The allocator takes no references on bound resources. A set whose resources
// have been destroyed can never be looked up again (its signature cannot
// recur) and ages out naturally.
type DescriptorSetAllocator struct {
	device       *Device
	layoutInfo   SetLayoutInfo
	driverLayout DriverSetLayout

	mutex  utils.OptionalRWMutex
	sets   *objcache.Cache[bindingSignature, DriverDescriptorSet]
	vacant []DriverDescriptorSet
	pools  []DriverDescriptorPool

	writes   int
	poolSets int
}

func newDescriptorSetAllocator(d *Device, info SetLayoutInfo) (*DescriptorSetAllocator, error) {
	var bindings []SetLayoutBinding
	for binding := 0; binding < MaxBindingsPerSet; binding++ {
		layoutBinding := info.Bindings[binding]
		if layoutBinding.Count == 0 {
			continue
		}
		bindings = append(bindings, SetLayoutBinding{
			Binding: binding,
			Type:    layoutBinding.Type,
			Count:   layoutBinding.Count,
			Stages:  layoutBinding.Stages,
		})
	}

	driverLayout, err := d.driver.CreateSetLayout(bindings)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create descriptor set layout")
	}

	a := &DescriptorSetAllocator{
		device:       d,
		layoutInfo:   info,
		driverLayout: driverLayout,
		mutex:        utils.OptionalRWMutex{UseMutex: d.useMutex},
	}
	a.sets = objcache.NewCache[bindingSignature, DriverDescriptorSet](
		d.descriptorHorizon,
		func(_ bindingSignature, set DriverDescriptorSet) {
			a.vacant = append(a.vacant, set)
		})

	return a, nil
}

// getOrAllocate returns the descriptor set for a binding signature. On a hit
// the existing set is returned without touching the driver. On a miss a
// vacant set is reused, or the backing pool grows by a chunk, and the
// resource writes are applied exactly once.
func (a *DescriptorSetAllocator) getOrAllocate(hash uint64, signature bindingSignature, writes []DescriptorWrite) (DriverDescriptorSet, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.sets.FindOrCreate(hash, signature, func(bindingSignature) (DriverDescriptorSet, error) {
		if len(a.vacant) == 0 {
			pool, err := a.device.driver.CreateDescriptorPool(a.driverLayout, descriptorPoolChunkSize)
			if err != nil {
				return nil, errors.Wrap(err, "failed to grow descriptor pool")
			}
			chunk, err := pool.Allocate(descriptorPoolChunkSize)
			if err != nil {
				pool.Destroy()
				return nil, errors.Wrap(err, "failed to allocate descriptor sets from new pool")
			}
			a.pools = append(a.pools, pool)
			a.vacant = append(a.vacant, chunk...)
			a.poolSets += len(chunk)
		}

		set := a.vacant[len(a.vacant)-1]
		a.vacant = a.vacant[:len(a.vacant)-1]

		set.Write(writes)
		a.writes += len(writes)

		return set, nil
	})
}

// beginCycle advances the recycling clock; called on frame-context advance.
func (a *DescriptorSetAllocator) beginCycle() {
	a.mutex.Lock()
	a.sets.BeginCycle()
	a.mutex.Unlock()
}

func (a *DescriptorSetAllocator) Stats() gputils.DescriptorStatistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return gputils.DescriptorStatistics{
		CacheStatistics: a.sets.Stats(),
		Writes:          a.writes,
		PoolSets:        a.poolSets,
	}
}

func (a *DescriptorSetAllocator) destroy() {
	for _, pool := range a.pools {
		pool.Destroy()
	}
	a.pools = nil
	a.vacant = nil
	a.driverLayout.Destroy()
}
