// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	"github.com/devblok/korugraph/gfx"
	"github.com/devblok/korugraph/gfx/graph"
	vk "github.com/devblok/vulkan"
	qt "github.com/frankban/quicktest"
)

func TestSafeStrings(t *testing.T) {
	c := qt.New(t)
	c.Assert(safeString("Koru3D"), qt.Equals, "Koru3D\x00")
	c.Assert(safeStrings([]string{"a", "bc"}), qt.DeepEquals, []string{"a\x00", "bc\x00"})
	c.Assert(safeStrings(nil), qt.HasLen, 0)
}

func TestSubresourceRangeAspect(t *testing.T) {
	c := qt.New(t)
	rng := graph.SubresourceRange{BaseMip: 2, MipCount: 3, BaseLayer: 1, LayerCount: 4}

	depth := subresourceRange(vk.FormatD32SfloatS8Uint, rng)
	c.Assert(depth.AspectMask, qt.Equals, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit))
	c.Assert(depth.BaseMipLevel, qt.Equals, uint32(2))
	c.Assert(depth.LevelCount, qt.Equals, uint32(3))
	c.Assert(depth.BaseArrayLayer, qt.Equals, uint32(1))
	c.Assert(depth.LayerCount, qt.Equals, uint32(4))

	color := subresourceRange(vk.FormatR16g16b16a16Sfloat, rng)
	c.Assert(color.AspectMask, qt.Equals, vk.ImageAspectFlags(vk.ImageAspectColorBit))
}

func view(width, height uint32, rng graph.SubresourceRange) *graph.ImageView {
	img := &graph.Image{Key: graph.ImageKey{
		Format:     vk.FormatR8g8b8a8Unorm,
		Extent:     gfx.Extent2D(width, height),
		MipCount:   4,
		LayerCount: 2,
	}}
	return &graph.ImageView{Image: img, Range: rng}
}

func TestAttachmentExtent(t *testing.T) {
	c := qt.New(t)

	colors := []graph.ResolvedColorAttachment{{
		View: view(1280, 720, graph.SubresourceRange{MipCount: 1, LayerCount: 1}),
	}}
	w, h, l := attachmentExtent(colors, nil)
	c.Assert([]uint32{w, h, l}, qt.DeepEquals, []uint32{1280, 720, 1})

	colors[0].View = view(1280, 720, graph.SubresourceRange{BaseMip: 2, MipCount: 1, LayerCount: 2})
	w, h, l = attachmentExtent(colors, nil)
	c.Assert([]uint32{w, h, l}, qt.DeepEquals, []uint32{320, 180, 2})

	depth := &graph.ResolvedDepthAttachment{
		View: view(3, 1, graph.SubresourceRange{BaseMip: 3, MipCount: 1, LayerCount: 1}),
	}
	w, h, l = attachmentExtent(nil, depth)
	c.Assert([]uint32{w, h, l}, qt.DeepEquals, []uint32{1, 1, 1})
}

func TestRenderPassRejectsBadAttachmentCounts(t *testing.T) {
	c := qt.New(t)
	cache := NewRenderPassCache(nil, nil)

	_, err := cache.BeginPass(NewCommandBuffer(nil), nil, nil)
	c.Assert(err, qt.ErrorMatches, "render pass without attachments")

	colors := make([]graph.ResolvedColorAttachment, MaxColorAttachments+1)
	_, err = cache.BeginPass(NewCommandBuffer(nil), colors, nil)
	c.Assert(err, qt.ErrorMatches, "9 colour attachments, at most 8 supported")
}

func TestFindMemoryType(t *testing.T) {
	c := qt.New(t)
	ma := &MemoryAllocator{}
	ma.memProperties.MemoryTypeCount = 3
	ma.memProperties.MemoryTypes[0].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	ma.memProperties.MemoryTypes[1].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	ma.memProperties.MemoryTypes[2].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit | vk.MemoryPropertyHostVisibleBit)

	idx, err := ma.findMemoryType(0x7, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	c.Assert(err, qt.IsNil)
	c.Assert(idx, qt.Equals, uint32(1))

	idx, err = ma.findMemoryType(0x5, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	c.Assert(err, qt.IsNil)
	c.Assert(idx, qt.Equals, uint32(2))

	_, err = ma.findMemoryType(0x1, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	c.Assert(err, qt.ErrorIs, ErrNoMemoryType)
}

func TestStagingBufferRejectsEmptyData(t *testing.T) {
	c := qt.New(t)
	_, err := (&Device{}).CreateStagingBuffer("empty", nil)
	c.Assert(err, qt.ErrorMatches, "empty staging buffer")
}

func TestMallocWithoutMatchingType(t *testing.T) {
	c := qt.New(t)
	ma := &MemoryAllocator{}
	ma.memProperties.MemoryTypeCount = 1
	ma.memProperties.MemoryTypes[0].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)

	m, err := ma.Malloc(vk.MemoryRequirements{Size: 64, MemoryTypeBits: 0x1}, vk.MemoryPropertyHostVisibleBit)
	c.Assert(err, qt.ErrorIs, ErrNoMemoryType)
	c.Assert(m.Len(), qt.Equals, uint(0))
}
