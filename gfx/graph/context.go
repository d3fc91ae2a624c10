// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package graph

import (
	"fmt"

	vk "github.com/devblok/vulkan"
)

// CommandRecorder is the command buffer a frame is recorded into. The graph
// itself only inserts barriers; pass callbacks record everything else.
type CommandRecorder interface {
	PipelineBarrier(src, dst vk.PipelineStageFlags, mem []MemoryBarrier, buffers []BufferBarrier, images []ImageBarrier)
	Handle() vk.CommandBuffer
}

// ResolvedColorAttachment is a colour attachment bound to its view.
type ResolvedColorAttachment struct {
	View   *ImageView
	LoadOp LoadOp
	Clear  [4]float32
}

// ResolvedDepthAttachment is a depth attachment bound to its view.
type ResolvedDepthAttachment struct {
	View         *ImageView
	LoadOp       LoadOp
	ClearDepth   float32
	ClearStencil uint32
}

// RenderPassCache begins and ends render pass scopes for resolved
// attachments. Attachments are already in their attachment layouts when
// BeginPass is called and must be left in them.
type RenderPassCache interface {
	BeginPass(cmd CommandRecorder, colors []ResolvedColorAttachment, depth *ResolvedDepthAttachment) (vk.RenderPass, error)
	EndPass(cmd CommandRecorder)
}

// ProfileScope is an open profiler measurement.
type ProfileScope interface {
	End()
}

// Profiler measures labelled scopes of a frame.
type Profiler interface {
	Begin(cmd CommandRecorder, info ProfilerInfo) ProfileScope
}

type nopScope struct{}

func (nopScope) End() {}

func beginScope(p Profiler, cmd CommandRecorder, info ProfilerInfo) ProfileScope {
	if p == nil {
		return nopScope{}
	}
	return p.Begin(cmd, info)
}

type resolvedImageUse struct {
	id    ImageViewProxyID
	view  *ImageView
	usage ImageUsage
}

type resolvedBufferUse struct {
	id     BufferProxyID
	buffer *Buffer
	usage  BufferUsage
}

type taskUses struct {
	images  []resolvedImageUse
	buffers []resolvedBufferUse
}

// PassContext is handed to a pass's record callback.
type PassContext struct {
	cmd  CommandRecorder
	uses *taskUses
}

// ImageView returns the view bound to id. id must be declared by the pass.
func (c *PassContext) ImageView(id ImageViewProxyID) *ImageView {
	for _, u := range c.uses.images {
		if u.id == id {
			return u.view
		}
	}
	panic(fmt.Sprintf("graph: image view %d is not declared by this pass", id))
}

// Buffer returns the buffer bound to id. id must be declared by the pass.
func (c *PassContext) Buffer(id BufferProxyID) *Buffer {
	for _, u := range c.uses.buffers {
		if u.id == id {
			return u.buffer
		}
	}
	panic(fmt.Sprintf("graph: buffer %d is not declared by this pass", id))
}

// CommandBuffer returns the recorder of the frame.
func (c *PassContext) CommandBuffer() CommandRecorder {
	return c.cmd
}

// RenderPassContext is handed to render pass callbacks, inside the render
// pass scope.
type RenderPassContext struct {
	PassContext
	renderPass vk.RenderPass
}

// RenderPass returns the render pass the callback records into.
func (c *RenderPassContext) RenderPass() vk.RenderPass {
	return c.renderPass
}
