package vdev

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
)

// Platform abstracts the window system for swapchain-backed rendering. The
// device layer itself never talks to a window; an application hands its
// Platform to whatever presentation layer sits on top, which drives the
// device's frame-context ring once per presented frame.
type Platform interface {
	// InstanceExtensions returns the instance extensions the platform's
	// surface type requires.
	InstanceExtensions() []string
	// CreateSurface creates the presentable surface for the platform's window.
	CreateSurface(instance core1_0.Instance) (khr_surface.Surface, error)
	// DrawableSize returns the current pixel size of the drawable area.
	DrawableSize() (width, height int)
	// PollEvents pumps the platform event loop.
	PollEvents() error
	// Alive reports whether the window is still open.
	Alive() bool
}

// RunPresentLoop drives the device's frame-context ring off a platform's
// event loop: each iteration pumps events, records the frame through the
// callback, and advances the ring. It returns when the window closes, waiting
// out outstanding device work, or as soon as any step fails.
func RunPresentLoop(device *Device, platform Platform, frame func(width, height int) error) error {
	for platform.Alive() {
		if err := platform.PollEvents(); err != nil {
			return errors.Wrap(err, "platform event pump failed")
		}

		width, height := platform.DrawableSize()
		if err := frame(width, height); err != nil {
			return err
		}
		if err := device.NextFrameContext(); err != nil {
			return err
		}
	}
	return device.WaitIdle()
}
