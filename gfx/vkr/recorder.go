// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/korugraph/gfx/graph"
	vk "github.com/devblok/vulkan"
)

// CommandBuffer records graph barriers into a vulkan command buffer.
type CommandBuffer struct {
	cmd vk.CommandBuffer

	// scratch slices, reused between barrier calls
	memory  []vk.MemoryBarrier
	buffers []vk.BufferMemoryBarrier
	images  []vk.ImageMemoryBarrier
}

// NewCommandBuffer wraps cmd.
func NewCommandBuffer(cmd vk.CommandBuffer) *CommandBuffer {
	return &CommandBuffer{cmd: cmd}
}

// Handle implements interface
func (c *CommandBuffer) Handle() vk.CommandBuffer {
	return c.cmd
}

// PipelineBarrier implements interface
func (c *CommandBuffer) PipelineBarrier(src, dst vk.PipelineStageFlags, mem []graph.MemoryBarrier, buffers []graph.BufferBarrier, images []graph.ImageBarrier) {
	c.memory = c.memory[:0]
	for _, m := range mem {
		c.memory = append(c.memory, vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: m.SrcAccess,
			DstAccessMask: m.DstAccess,
		})
	}

	c.buffers = c.buffers[:0]
	for _, b := range buffers {
		c.buffers = append(c.buffers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       b.SrcAccess,
			DstAccessMask:       b.DstAccess,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              b.Buffer.Handle,
			Offset:              0,
			Size:                vk.DeviceSize(vk.WholeSize),
		})
	}

	c.images = c.images[:0]
	for _, i := range images {
		c.images = append(c.images, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       i.SrcAccess,
			DstAccessMask:       i.DstAccess,
			OldLayout:           i.OldLayout,
			NewLayout:           i.NewLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               i.Image.Handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     i.Aspect,
				BaseMipLevel:   i.Range.BaseMip,
				LevelCount:     i.Range.MipCount,
				BaseArrayLayer: i.Range.BaseLayer,
				LayerCount:     i.Range.LayerCount,
			},
		})
	}

	vk.CmdPipelineBarrier(c.cmd, src, dst, 0,
		uint32(len(c.memory)), c.memory,
		uint32(len(c.buffers)), c.buffers,
		uint32(len(c.images)), c.images)
}
