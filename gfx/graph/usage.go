// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package graph

import (
	"fmt"

	vk "github.com/devblok/vulkan"
)

// ImageUsage is how an image subresource is used at one point of a frame.
type ImageUsage uint8

// Image usages
const (
	ImageUsageNone ImageUsage = iota
	ImageUsageColorAttachment
	ImageUsageDepthAttachment
	ImageUsageGraphicsShaderRead
	ImageUsageGraphicsShaderReadWrite
	ImageUsageComputeShaderRead
	ImageUsageComputeShaderReadWrite
	ImageUsageTransferSrc
	ImageUsageTransferDst
	ImageUsagePresent
	ImageUsageUnknown
)

var imageUsageNames = [...]string{
	ImageUsageNone:                    "None",
	ImageUsageColorAttachment:         "ColorAttachment",
	ImageUsageDepthAttachment:         "DepthAttachment",
	ImageUsageGraphicsShaderRead:      "GraphicsShaderRead",
	ImageUsageGraphicsShaderReadWrite: "GraphicsShaderReadWrite",
	ImageUsageComputeShaderRead:       "ComputeShaderRead",
	ImageUsageComputeShaderReadWrite:  "ComputeShaderReadWrite",
	ImageUsageTransferSrc:             "TransferSrc",
	ImageUsageTransferDst:             "TransferDst",
	ImageUsagePresent:                 "Present",
	ImageUsageUnknown:                 "Unknown",
}

func (u ImageUsage) String() string {
	if int(u) < len(imageUsageNames) {
		return imageUsageNames[u]
	}
	return fmt.Sprintf("ImageUsage(%d)", u)
}

// known reports whether u names a state an image can be handed over in.
func (u ImageUsage) known() bool {
	return u != ImageUsageNone && u < ImageUsageUnknown
}

// BufferUsage is how a buffer is used at one point of a frame.
type BufferUsage uint8

// Buffer usages
const (
	BufferUsageNone BufferUsage = iota
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageIndirect
	BufferUsageUniform
	BufferUsageGraphicsShaderRead
	BufferUsageGraphicsShaderReadWrite
	BufferUsageComputeShaderRead
	BufferUsageComputeShaderReadWrite
	BufferUsageTransferSrc
	BufferUsageTransferDst
	BufferUsageUnknown
)

var bufferUsageNames = [...]string{
	BufferUsageNone:                    "None",
	BufferUsageVertex:                  "Vertex",
	BufferUsageIndex:                   "Index",
	BufferUsageIndirect:                "Indirect",
	BufferUsageUniform:                 "Uniform",
	BufferUsageGraphicsShaderRead:      "GraphicsShaderRead",
	BufferUsageGraphicsShaderReadWrite: "GraphicsShaderReadWrite",
	BufferUsageComputeShaderRead:       "ComputeShaderRead",
	BufferUsageComputeShaderReadWrite:  "ComputeShaderReadWrite",
	BufferUsageTransferSrc:             "TransferSrc",
	BufferUsageTransferDst:             "TransferDst",
	BufferUsageUnknown:                 "Unknown",
}

func (u BufferUsage) String() string {
	if int(u) < len(bufferUsageNames) {
		return bufferUsageNames[u]
	}
	return fmt.Sprintf("BufferUsage(%d)", u)
}

// QueueClass is the kind of queue an access pattern belongs to.
type QueueClass uint8

// Queue classes
const (
	QueueGraphics QueueClass = iota
	QueueCompute
	QueueTransfer
	QueuePresent
)

func (q QueueClass) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	case QueuePresent:
		return "present"
	}
	return fmt.Sprintf("QueueClass(%d)", q)
}

// AccessPattern is the synchronization scope implied by a usage.
type AccessPattern struct {
	Stage  vk.PipelineStageFlags
	Access vk.AccessFlags
	Layout vk.ImageLayout
	Queue  QueueClass
}

const (
	graphicsShaderStages = vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit)
	computeShaderStage   = vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	transferStage        = vk.PipelineStageFlags(vk.PipelineStageTransferBit)

	shaderRead      = vk.AccessFlags(vk.AccessShaderReadBit)
	shaderReadWrite = vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit)

	writeAccess = vk.AccessFlags(vk.AccessShaderWriteBit |
		vk.AccessColorAttachmentWriteBit |
		vk.AccessDepthStencilAttachmentWriteBit |
		vk.AccessTransferWriteBit |
		vk.AccessHostWriteBit |
		vk.AccessMemoryWriteBit)
)

var imagePatterns = [...]AccessPattern{
	ImageUsageNone: {
		Stage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		Layout: vk.ImageLayoutUndefined,
		Queue:  QueueGraphics,
	},
	ImageUsageColorAttachment: {
		Stage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		Access: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
		Layout: vk.ImageLayoutColorAttachmentOptimal,
		Queue:  QueueGraphics,
	},
	ImageUsageDepthAttachment: {
		Stage:  vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
		Access: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
		Layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
		Queue:  QueueGraphics,
	},
	ImageUsageGraphicsShaderRead: {
		Stage:  graphicsShaderStages,
		Access: shaderRead,
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
		Queue:  QueueGraphics,
	},
	ImageUsageGraphicsShaderReadWrite: {
		Stage:  graphicsShaderStages,
		Access: shaderReadWrite,
		Layout: vk.ImageLayoutGeneral,
		Queue:  QueueGraphics,
	},
	ImageUsageComputeShaderRead: {
		Stage:  computeShaderStage,
		Access: shaderRead,
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
		Queue:  QueueCompute,
	},
	ImageUsageComputeShaderReadWrite: {
		Stage:  computeShaderStage,
		Access: shaderReadWrite,
		Layout: vk.ImageLayoutGeneral,
		Queue:  QueueCompute,
	},
	ImageUsageTransferSrc: {
		Stage:  transferStage,
		Access: vk.AccessFlags(vk.AccessTransferReadBit),
		Layout: vk.ImageLayoutTransferSrcOptimal,
		Queue:  QueueTransfer,
	},
	ImageUsageTransferDst: {
		Stage:  transferStage,
		Access: vk.AccessFlags(vk.AccessTransferWriteBit),
		Layout: vk.ImageLayoutTransferDstOptimal,
		Queue:  QueueTransfer,
	},
	ImageUsagePresent: {
		Stage:  vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		Layout: vk.ImageLayoutPresentSrc,
		Queue:  QueuePresent,
	},
}

var bufferPatterns = [...]AccessPattern{
	BufferUsageNone: {
		Stage: vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		Queue: QueueGraphics,
	},
	BufferUsageVertex: {
		Stage:  vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
		Access: vk.AccessFlags(vk.AccessVertexAttributeReadBit),
		Queue:  QueueGraphics,
	},
	BufferUsageIndex: {
		Stage:  vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
		Access: vk.AccessFlags(vk.AccessIndexReadBit),
		Queue:  QueueGraphics,
	},
	BufferUsageIndirect: {
		Stage:  vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit),
		Access: vk.AccessFlags(vk.AccessIndirectCommandReadBit),
		Queue:  QueueGraphics,
	},
	BufferUsageUniform: {
		Stage:  graphicsShaderStages,
		Access: vk.AccessFlags(vk.AccessUniformReadBit),
		Queue:  QueueGraphics,
	},
	BufferUsageGraphicsShaderRead: {
		Stage:  graphicsShaderStages,
		Access: shaderRead,
		Queue:  QueueGraphics,
	},
	BufferUsageGraphicsShaderReadWrite: {
		Stage:  graphicsShaderStages,
		Access: shaderReadWrite,
		Queue:  QueueGraphics,
	},
	BufferUsageComputeShaderRead: {
		Stage:  computeShaderStage,
		Access: shaderRead,
		Queue:  QueueCompute,
	},
	BufferUsageComputeShaderReadWrite: {
		Stage:  computeShaderStage,
		Access: shaderReadWrite,
		Queue:  QueueCompute,
	},
	BufferUsageTransferSrc: {
		Stage:  transferStage,
		Access: vk.AccessFlags(vk.AccessTransferReadBit),
		Queue:  QueueTransfer,
	},
	BufferUsageTransferDst: {
		Stage:  transferStage,
		Access: vk.AccessFlags(vk.AccessTransferWriteBit),
		Queue:  QueueTransfer,
	},
}

// ImagePattern returns the access pattern of u. Unknown usages panic.
func ImagePattern(u ImageUsage) AccessPattern {
	if u >= ImageUsageUnknown {
		panic(fmt.Sprintf("graph: no access pattern for image usage %v", u))
	}
	return imagePatterns[u]
}

// BufferPattern returns the access pattern of u. Unknown usages panic.
func BufferPattern(u BufferUsage) AccessPattern {
	if u >= BufferUsageUnknown {
		panic(fmt.Sprintf("graph: no access pattern for buffer usage %v", u))
	}
	return bufferPatterns[u]
}

func (p AccessPattern) writes() bool {
	return p.Access&writeAccess != 0
}

// imageBarrierNeeded is false only for a read followed by the same read,
// which needs neither a layout change nor a memory dependency.
func imageBarrierNeeded(src, dst ImageUsage) bool {
	if src != dst {
		return true
	}
	return ImagePattern(src).writes()
}

// Buffers have no layout, so only hazards involving a write matter.
func bufferBarrierNeeded(src, dst BufferUsage) bool {
	if src == BufferUsageNone {
		return false
	}
	return BufferPattern(src).writes() || BufferPattern(dst).writes()
}
