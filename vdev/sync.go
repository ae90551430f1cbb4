package vdev

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// Fence tracks a flushed submission. Wait blocks until the GPU has completed
// all work in that submission. The underlying driver fence is recycled when
// the issuing frame context drains; waiting after that point returns
// immediately, since the work is then known complete.
type Fence struct {
	mutex       sync.Mutex
	driverFence DriverFence
	recycled    bool
}

func (f *Fence) Wait() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.recycled {
		return nil
	}
	return f.driverFence.Wait()
}

func (f *Fence) retire() {
	f.mutex.Lock()
	f.recycled = true
	f.driverFence = nil
	f.mutex.Unlock()
}

// Semaphore is a GPU→GPU handoff signaled by one submission. It may be
// consumed by AddWaitSemaphore at most once: a semaphore wait destroys the
// signal, so a second consumer would deadlock on hardware.
type Semaphore struct {
	device    *Device
	driverSem DriverSemaphore
	signaled  bool
	consumed  bool
}

// Consumed reports whether the semaphore has already been claimed by a queue
// wait.
func (s *Semaphore) Consumed() bool {
	return s.consumed
}

// Release disposes of a semaphore that will never be consumed. Consumed
// semaphores are recycled automatically and must not be released.
func (s *Semaphore) Release() {
	if s.consumed || s.driverSem == nil {
		return
	}

	d := s.device
	d.frameMutex.Lock()
	frame := d.currentFrameLocked()
	frame.destroyedSemaphores = append(frame.destroyedSemaphores, s.driverSem)
	d.frameMutex.Unlock()
	s.driverSem = nil
}

// fenceManager hands out cleared driver fences and recycles them once their
// frame context has drained.
type fenceManager struct {
	driver Driver
	free   []DriverFence
}

func (m *fenceManager) requestClearedFence() (DriverFence, error) {
	if len(m.free) > 0 {
		fence := m.free[len(m.free)-1]
		m.free = m.free[:len(m.free)-1]
		return fence, nil
	}

	fence, err := m.driver.CreateFence()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fence")
	}
	return fence, nil
}

func (m *fenceManager) recycleFence(fence DriverFence) error {
	err := fence.Reset()
	if err != nil {
		return errors.Wrap(err, "failed to reset fence for recycling")
	}
	m.free = append(m.free, fence)
	return nil
}

func (m *fenceManager) destroyAll() {
	for _, fence := range m.free {
		fence.Destroy()
	}
	m.free = nil
}

// semaphoreManager hands out fresh driver semaphores and recycles consumed
// ones once their frame context has drained.
type semaphoreManager struct {
	driver Driver
	free   []DriverSemaphore
}

func (m *semaphoreManager) requestSemaphore() (DriverSemaphore, error) {
	if len(m.free) > 0 {
		sem := m.free[len(m.free)-1]
		m.free = m.free[:len(m.free)-1]
		return sem, nil
	}

	sem, err := m.driver.CreateSemaphore()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create semaphore")
	}
	return sem, nil
}

func (m *semaphoreManager) recycleSemaphore(sem DriverSemaphore) {
	m.free = append(m.free, sem)
}

func (m *semaphoreManager) destroyAll() {
	for _, sem := range m.free {
		sem.Destroy()
	}
	m.free = nil
}
