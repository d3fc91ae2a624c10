// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"math"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
)

// Frame is one frame in flight: a command buffer and the primitives that
// order it against presentation and the host.
type Frame struct {
	index     int
	recorder  *CommandBuffer
	fence     vk.Fence
	available vk.Semaphore
	finished  vk.Semaphore
}

// Index returns the position of the frame in the cycle.
func (f *Frame) Index() int {
	return f.index
}

// Recorder returns the command buffer of the frame.
func (f *Frame) Recorder() *CommandBuffer {
	return f.recorder
}

// Available is signalled when the acquired swapchain image may be written.
func (f *Frame) Available() vk.Semaphore {
	return f.available
}

// Finished is signalled when the frame's commands have executed.
func (f *Frame) Finished() vk.Semaphore {
	return f.finished
}

// Frames cycles through a fixed number of frames in flight.
type Frames struct {
	ctx     *Context
	pool    vk.CommandPool
	frames  []Frame
	current int
}

// NewFrames creates count frames in flight.
func NewFrames(ctx *Context, count int) (*Frames, error) {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: ctx.QueueFamily(),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(ctx.Device(), &cpci, nil, &pool)); err != nil {
		return nil, errors.Errorf("vk.CreateCommandPool(): %s", err)
	}
	fs := &Frames{ctx: ctx, pool: pool}

	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}
	commandBuffers := make([]vk.CommandBuffer, count)
	if err := vk.Error(vk.AllocateCommandBuffers(ctx.Device(), &cbai, commandBuffers)); err != nil {
		fs.Release()
		return nil, errors.Errorf("vk.AllocateCommandBuffers(): %s", err)
	}

	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}
	for i, cmd := range commandBuffers {
		f := Frame{index: i, recorder: NewCommandBuffer(cmd)}
		if err := vk.Error(vk.CreateSemaphore(ctx.Device(), &sci, nil, &f.available)); err != nil {
			fs.Release()
			return nil, errors.Errorf("vk.CreateSemaphore(): %s", err)
		}
		if err := vk.Error(vk.CreateSemaphore(ctx.Device(), &sci, nil, &f.finished)); err != nil {
			vk.DestroySemaphore(ctx.Device(), f.available, nil)
			fs.Release()
			return nil, errors.Errorf("vk.CreateSemaphore(): %s", err)
		}
		if err := vk.Error(vk.CreateFence(ctx.Device(), &fci, nil, &f.fence)); err != nil {
			vk.DestroySemaphore(ctx.Device(), f.available, nil)
			vk.DestroySemaphore(ctx.Device(), f.finished, nil)
			fs.Release()
			return nil, errors.Errorf("vk.CreateFence(): %s", err)
		}
		fs.frames = append(fs.frames, f)
	}
	return fs, nil
}

// Wait blocks until the next frame has finished executing on the GPU and
// returns it. Its resources may be reused afterwards.
func (fs *Frames) Wait() *Frame {
	f := &fs.frames[fs.current]
	vk.WaitForFences(fs.ctx.Device(), 1, []vk.Fence{f.fence}, vk.True, math.MaxUint64)
	return f
}

// Begin resets and begins recording the command buffer of f.
func (fs *Frames) Begin(f *Frame) error {
	cmd := f.recorder.Handle()
	if err := vk.Error(vk.ResetCommandBuffer(cmd, 0)); err != nil {
		return errors.Errorf("vk.ResetCommandBuffer(): %s", err)
	}
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(cmd, &cbbi)); err != nil {
		return errors.Errorf("vk.BeginCommandBuffer(): %s", err)
	}
	return nil
}

// Submit ends recording of f and submits it. The submission waits on the
// acquired image before any of its commands and signals Finished.
func (fs *Frames) Submit(f *Frame) error {
	cmd := f.recorder.Handle()
	if err := vk.Error(vk.EndCommandBuffer(cmd)); err != nil {
		return errors.Errorf("vk.EndCommandBuffer(): %s", err)
	}
	vk.ResetFences(fs.ctx.Device(), 1, []vk.Fence{f.fence})

	submit := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{f.available},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cmd},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{f.finished},
	}}
	if err := vk.Error(vk.QueueSubmit(fs.ctx.Queue(), 1, submit, f.fence)); err != nil {
		return errors.Errorf("vk.QueueSubmit(): %s", err)
	}
	fs.current = (fs.current + 1) % len(fs.frames)
	return nil
}

// Len returns the number of frames in flight.
func (fs *Frames) Len() int {
	return len(fs.frames)
}

// Release destroys every frame and the command pool.
func (fs *Frames) Release() {
	device := fs.ctx.Device()
	vk.DeviceWaitIdle(device)
	for _, f := range fs.frames {
		vk.DestroySemaphore(device, f.available, nil)
		vk.DestroySemaphore(device, f.finished, nil)
		vk.DestroyFence(device, f.fence, nil)
	}
	fs.frames = nil
	vk.DestroyCommandPool(device, fs.pool, nil)
}
