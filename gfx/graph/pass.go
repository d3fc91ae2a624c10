// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package graph

import (
	"fmt"

	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
)

// TaskKind tags an entry of the task list.
type TaskKind uint8

// Task kinds
const (
	TaskRenderPass TaskKind = iota
	TaskComputePass
	TaskTransferPass
	TaskImagePresent
	TaskFrameSyncBegin
	TaskFrameSyncEnd
)

func (k TaskKind) String() string {
	switch k {
	case TaskRenderPass:
		return "RenderPass"
	case TaskComputePass:
		return "ComputePass"
	case TaskTransferPass:
		return "TransferPass"
	case TaskImagePresent:
		return "ImagePresent"
	case TaskFrameSyncBegin:
		return "FrameSyncBegin"
	case TaskFrameSyncEnd:
		return "FrameSyncEnd"
	}
	return fmt.Sprintf("TaskKind(%d)", k)
}

// Task references one pass descriptor of the matching kind. The task list
// is the submission order of a frame.
type Task struct {
	Kind  TaskKind
	Index int
}

// LoadOp is what happens to an attachment's contents when a render pass begins.
type LoadOp uint8

// Attachment load operations
const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

// Vulkan returns the matching vk.AttachmentLoadOp.
func (op LoadOp) Vulkan() vk.AttachmentLoadOp {
	switch op {
	case LoadOpClear:
		return vk.AttachmentLoadOpClear
	case LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	}
	return vk.AttachmentLoadOpLoad
}

// ColorAttachment is a colour target of a render pass.
type ColorAttachment struct {
	View   ImageViewProxyID
	LoadOp LoadOp
	Clear  glm.Vec4
}

// DepthAttachment is the depth/stencil target of a render pass.
type DepthAttachment struct {
	View         ImageViewProxyID
	LoadOp       LoadOp
	ClearDepth   float32
	ClearStencil uint32
}

// ProfilerInfo labels a pass in profiler output.
type ProfilerInfo struct {
	Name  string
	Color glm.Vec4
}

// Pass is a pass descriptor accepted by Graph.AddPass.
type Pass interface {
	kind() TaskKind
}

type imageUse struct {
	view  ImageViewProxyID
	usage ImageUsage
}

type bufferUse struct {
	buffer BufferProxyID
	usage  BufferUsage
}

func appendImageUses(uses []imageUse, usage ImageUsage, views []ImageViewProxyID) []imageUse {
	for _, v := range views {
		uses = append(uses, imageUse{view: v, usage: usage})
	}
	return uses
}

func appendBufferUses(uses []bufferUse, usage BufferUsage, buffers []BufferProxyID) []bufferUse {
	for _, b := range buffers {
		uses = append(uses, bufferUse{buffer: b, usage: usage})
	}
	return uses
}

// RenderPassDesc describes a graphics pass.
type RenderPassDesc struct {
	colorAttachments []ColorAttachment
	depthAttachment  *DepthAttachment
	inputImages      []ImageViewProxyID
	storageImages    []ImageViewProxyID
	inputBuffers     []BufferProxyID
	storageBuffers   []BufferProxyID
	uniformBuffers   []BufferProxyID
	vertexBuffers    []BufferProxyID
	indexBuffers     []BufferProxyID
	indirectBuffers  []BufferProxyID
	record           func(*RenderPassContext)
	profiler         ProfilerInfo
}

// NewRenderPassDesc starts a render pass description.
func NewRenderPassDesc() *RenderPassDesc {
	return &RenderPassDesc{}
}

// SetColorAttachments sets the colour targets, in attachment order.
func (d *RenderPassDesc) SetColorAttachments(attachments ...ColorAttachment) *RenderPassDesc {
	d.colorAttachments = attachments
	return d
}

// SetDepthAttachment sets the depth target.
func (d *RenderPassDesc) SetDepthAttachment(attachment DepthAttachment) *RenderPassDesc {
	d.depthAttachment = &attachment
	return d
}

// SetInputImages declares images sampled by the pass's shaders.
func (d *RenderPassDesc) SetInputImages(views ...ImageViewProxyID) *RenderPassDesc {
	d.inputImages = views
	return d
}

// SetStorageImages declares images the pass's shaders read and write.
func (d *RenderPassDesc) SetStorageImages(views ...ImageViewProxyID) *RenderPassDesc {
	d.storageImages = views
	return d
}

// SetInputBuffers declares storage buffers the pass's shaders only read.
func (d *RenderPassDesc) SetInputBuffers(buffers ...BufferProxyID) *RenderPassDesc {
	d.inputBuffers = buffers
	return d
}

// SetStorageBuffers declares storage buffers the pass's shaders read and write.
func (d *RenderPassDesc) SetStorageBuffers(buffers ...BufferProxyID) *RenderPassDesc {
	d.storageBuffers = buffers
	return d
}

// SetUniformBuffers declares uniform buffers.
func (d *RenderPassDesc) SetUniformBuffers(buffers ...BufferProxyID) *RenderPassDesc {
	d.uniformBuffers = buffers
	return d
}

// SetVertexBuffers declares vertex buffers.
func (d *RenderPassDesc) SetVertexBuffers(buffers ...BufferProxyID) *RenderPassDesc {
	d.vertexBuffers = buffers
	return d
}

// SetIndexBuffers declares index buffers.
func (d *RenderPassDesc) SetIndexBuffers(buffers ...BufferProxyID) *RenderPassDesc {
	d.indexBuffers = buffers
	return d
}

// SetIndirectBuffers declares buffers holding indirect draw arguments.
func (d *RenderPassDesc) SetIndirectBuffers(buffers ...BufferProxyID) *RenderPassDesc {
	d.indirectBuffers = buffers
	return d
}

// SetRecordFunc sets the callback that records the pass's commands.
func (d *RenderPassDesc) SetRecordFunc(f func(*RenderPassContext)) *RenderPassDesc {
	d.record = f
	return d
}

// SetProfilerInfo sets the pass's profiler label.
func (d *RenderPassDesc) SetProfilerInfo(name string, color glm.Vec4) *RenderPassDesc {
	d.profiler = ProfilerInfo{Name: name, Color: color}
	return d
}

func (d *RenderPassDesc) kind() TaskKind { return TaskRenderPass }

func (d *RenderPassDesc) imageUses() []imageUse {
	var uses []imageUse
	for _, a := range d.colorAttachments {
		uses = append(uses, imageUse{view: a.View, usage: ImageUsageColorAttachment})
	}
	if d.depthAttachment != nil {
		uses = append(uses, imageUse{view: d.depthAttachment.View, usage: ImageUsageDepthAttachment})
	}
	uses = appendImageUses(uses, ImageUsageGraphicsShaderRead, d.inputImages)
	return appendImageUses(uses, ImageUsageGraphicsShaderReadWrite, d.storageImages)
}

func (d *RenderPassDesc) bufferUses() []bufferUse {
	var uses []bufferUse
	uses = appendBufferUses(uses, BufferUsageGraphicsShaderRead, d.inputBuffers)
	uses = appendBufferUses(uses, BufferUsageGraphicsShaderReadWrite, d.storageBuffers)
	uses = appendBufferUses(uses, BufferUsageUniform, d.uniformBuffers)
	uses = appendBufferUses(uses, BufferUsageVertex, d.vertexBuffers)
	uses = appendBufferUses(uses, BufferUsageIndex, d.indexBuffers)
	return appendBufferUses(uses, BufferUsageIndirect, d.indirectBuffers)
}

// ComputePassDesc describes a compute pass.
type ComputePassDesc struct {
	inputImages    []ImageViewProxyID
	storageImages  []ImageViewProxyID
	inputBuffers   []BufferProxyID
	storageBuffers []BufferProxyID
	record         func(*PassContext)
	profiler       ProfilerInfo
}

// NewComputePassDesc starts a compute pass description.
func NewComputePassDesc() *ComputePassDesc {
	return &ComputePassDesc{}
}

// SetInputImages declares images the pass only reads.
func (d *ComputePassDesc) SetInputImages(views ...ImageViewProxyID) *ComputePassDesc {
	d.inputImages = views
	return d
}

// SetStorageImages declares images the pass reads and writes.
func (d *ComputePassDesc) SetStorageImages(views ...ImageViewProxyID) *ComputePassDesc {
	d.storageImages = views
	return d
}

// SetInputBuffers declares buffers the pass only reads.
func (d *ComputePassDesc) SetInputBuffers(buffers ...BufferProxyID) *ComputePassDesc {
	d.inputBuffers = buffers
	return d
}

// SetStorageBuffers declares buffers the pass reads and writes.
func (d *ComputePassDesc) SetStorageBuffers(buffers ...BufferProxyID) *ComputePassDesc {
	d.storageBuffers = buffers
	return d
}

// SetRecordFunc sets the callback that records the dispatches.
func (d *ComputePassDesc) SetRecordFunc(f func(*PassContext)) *ComputePassDesc {
	d.record = f
	return d
}

// SetProfilerInfo sets the pass's profiler label.
func (d *ComputePassDesc) SetProfilerInfo(name string, color glm.Vec4) *ComputePassDesc {
	d.profiler = ProfilerInfo{Name: name, Color: color}
	return d
}

func (d *ComputePassDesc) kind() TaskKind { return TaskComputePass }

func (d *ComputePassDesc) imageUses() []imageUse {
	uses := appendImageUses(nil, ImageUsageComputeShaderRead, d.inputImages)
	return appendImageUses(uses, ImageUsageComputeShaderReadWrite, d.storageImages)
}

func (d *ComputePassDesc) bufferUses() []bufferUse {
	uses := appendBufferUses(nil, BufferUsageComputeShaderRead, d.inputBuffers)
	return appendBufferUses(uses, BufferUsageComputeShaderReadWrite, d.storageBuffers)
}

// TransferPassDesc describes copies, blits and clears.
type TransferPassDesc struct {
	srcImages  []ImageViewProxyID
	dstImages  []ImageViewProxyID
	srcBuffers []BufferProxyID
	dstBuffers []BufferProxyID
	record     func(*PassContext)
	profiler   ProfilerInfo
}

// NewTransferPassDesc starts a transfer pass description.
func NewTransferPassDesc() *TransferPassDesc {
	return &TransferPassDesc{}
}

// SetSrcImages declares images read by transfers.
func (d *TransferPassDesc) SetSrcImages(views ...ImageViewProxyID) *TransferPassDesc {
	d.srcImages = views
	return d
}

// SetDstImages declares images written by transfers.
func (d *TransferPassDesc) SetDstImages(views ...ImageViewProxyID) *TransferPassDesc {
	d.dstImages = views
	return d
}

// SetSrcBuffers declares buffers read by transfers.
func (d *TransferPassDesc) SetSrcBuffers(buffers ...BufferProxyID) *TransferPassDesc {
	d.srcBuffers = buffers
	return d
}

// SetDstBuffers declares buffers written by transfers.
func (d *TransferPassDesc) SetDstBuffers(buffers ...BufferProxyID) *TransferPassDesc {
	d.dstBuffers = buffers
	return d
}

// SetRecordFunc sets the callback that records the transfers.
func (d *TransferPassDesc) SetRecordFunc(f func(*PassContext)) *TransferPassDesc {
	d.record = f
	return d
}

// SetProfilerInfo sets the pass's profiler label.
func (d *TransferPassDesc) SetProfilerInfo(name string, color glm.Vec4) *TransferPassDesc {
	d.profiler = ProfilerInfo{Name: name, Color: color}
	return d
}

func (d *TransferPassDesc) kind() TaskKind { return TaskTransferPass }

func (d *TransferPassDesc) imageUses() []imageUse {
	uses := appendImageUses(nil, ImageUsageTransferSrc, d.srcImages)
	return appendImageUses(uses, ImageUsageTransferDst, d.dstImages)
}

func (d *TransferPassDesc) bufferUses() []bufferUse {
	uses := appendBufferUses(nil, BufferUsageTransferSrc, d.srcBuffers)
	return appendBufferUses(uses, BufferUsageTransferDst, d.dstBuffers)
}

// ImagePresentPassDesc transitions an image for presentation.
type ImagePresentPassDesc struct {
	view ImageViewProxyID
}

// NewImagePresentPassDesc creates a present pass for view.
func NewImagePresentPassDesc(view ImageViewProxyID) *ImagePresentPassDesc {
	return &ImagePresentPassDesc{view: view}
}

func (d *ImagePresentPassDesc) kind() TaskKind { return TaskImagePresent }

func (d *ImagePresentPassDesc) imageUses() []imageUse {
	return []imageUse{{view: d.view, usage: ImageUsagePresent}}
}

// FrameSyncBeginPassDesc marks the start of the frame's GPU work.
type FrameSyncBeginPassDesc struct{}

// NewFrameSyncBeginPassDesc creates a frame begin marker.
func NewFrameSyncBeginPassDesc() *FrameSyncBeginPassDesc {
	return &FrameSyncBeginPassDesc{}
}

func (d *FrameSyncBeginPassDesc) kind() TaskKind { return TaskFrameSyncBegin }

// FrameSyncEndPassDesc marks the end of the frame's GPU work. Every external
// image view with a known usage is returned to that usage here.
type FrameSyncEndPassDesc struct{}

// NewFrameSyncEndPassDesc creates a frame end marker.
func NewFrameSyncEndPassDesc() *FrameSyncEndPassDesc {
	return &FrameSyncEndPassDesc{}
}

func (d *FrameSyncEndPassDesc) kind() TaskKind { return TaskFrameSyncEnd }
