// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"fmt"
	"math"

	"github.com/devblok/korugraph/gfx"
	"github.com/devblok/korugraph/gfx/graph"
	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
)

type vertex struct {
	Position glm.Vec3
	Normal   glm.Vec3
	UV       glm.Vec2
}

type drawCommand struct {
	VertexCount, InstanceCount, FirstVertex, FirstInstance uint32
}

const bloomMips = 5

// sampleFrame declares the resources of a small deferred frame once and
// adds its passes every frame.
type sampleFrame struct {
	vertices graph.BufferProxyID
	draws    graph.BufferProxyID

	albedo    graph.ImageViewProxyID
	depth     graph.ImageViewProxyID
	bloom     graph.ImageViewProxyID
	bloomMips [bloomMips]graph.ImageViewProxyID
	backbuf   graph.ImageViewProxyID
}

func newSampleFrame(g *graph.Graph, backbuffer *graph.ImageView, vertexCount, drawCount int) *sampleFrame {
	extent := backbuffer.Image.Key.Extent
	f := &sampleFrame{
		vertices: graph.AddBuffer[vertex](g, vertexCount,
			vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit|vk.BufferUsageStorageBufferBit)),
		draws: graph.AddBuffer[drawCommand](g, drawCount,
			vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit|vk.BufferUsageStorageBufferBit)),
		backbuf: g.AddExternalImageView(backbuffer, graph.ImageUsagePresent),
	}

	albedoKey := graph.ImageKey{
		Format:     vk.FormatR16g16b16a16Sfloat,
		Extent:     extent,
		MipCount:   1,
		LayerCount: 1,
		Usage:      vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit | vk.ImageUsageTransferSrcBit),
	}
	f.albedo = g.AddImageView(g.AddImage(albedoKey), graph.WholeImage(albedoKey))

	depthKey := graph.ImageKey{
		Format:     vk.FormatD24UnormS8Uint,
		Extent:     extent,
		MipCount:   1,
		LayerCount: 1,
		Usage:      vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
	}
	f.depth = g.AddImageView(g.AddImage(depthKey), graph.WholeImage(depthKey))

	bloomKey := graph.ImageKey{
		Format:     vk.FormatR16g16b16a16Sfloat,
		Extent:     gfx.Extent2D(extent.Width/2, extent.Height/2),
		MipCount:   bloomMips,
		LayerCount: 1,
		Usage:      vk.ImageUsageFlags(vk.ImageUsageStorageBit | vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit),
	}
	bloom := g.AddImage(bloomKey)
	f.bloom = g.AddImageView(bloom, graph.WholeImage(bloomKey))
	for mip := range f.bloomMips {
		f.bloomMips[mip] = g.AddImageView(bloom, graph.SubresourceRange{
			BaseMip:    uint32(mip),
			MipCount:   1,
			LayerCount: 1,
		})
	}
	return f
}

func (f *sampleFrame) addPasses(g *graph.Graph, t float32) {
	g.AddPass(graph.NewFrameSyncBeginPassDesc())

	g.AddPass(graph.NewTransferPassDesc().
		SetDstBuffers(f.vertices).
		SetProfilerInfo("upload", glm.Vec4{0.2, 0.2, 0.8, 1}))

	g.AddPass(graph.NewComputePassDesc().
		SetInputBuffers(f.vertices).
		SetStorageBuffers(f.draws).
		SetProfilerInfo("cull", glm.Vec4{0.8, 0.2, 0.2, 1}))

	g.AddPass(graph.NewRenderPassDesc().
		SetColorAttachments(graph.ColorAttachment{
			View:   f.albedo,
			LoadOp: graph.LoadOpClear,
			Clear:  glm.Vec4{0.5 + 0.5*float32(math.Sin(float64(t))), 0.1, 0.2, 1},
		}).
		SetDepthAttachment(graph.DepthAttachment{
			View:       f.depth,
			LoadOp:     graph.LoadOpClear,
			ClearDepth: 1,
		}).
		SetVertexBuffers(f.vertices).
		SetIndirectBuffers(f.draws).
		SetProfilerInfo("gbuffer", glm.Vec4{0.2, 0.8, 0.2, 1}))

	g.AddPass(graph.NewTransferPassDesc().
		SetSrcImages(f.albedo).
		SetDstImages(f.bloomMips[0]).
		SetProfilerInfo("bloom-seed", glm.Vec4{0.6, 0.6, 0.2, 1}))

	for mip := 1; mip < bloomMips; mip++ {
		g.AddPass(graph.NewComputePassDesc().
			SetInputImages(f.bloomMips[mip-1]).
			SetStorageImages(f.bloomMips[mip]).
			SetProfilerInfo(fmt.Sprintf("bloom-down-%d", mip), glm.Vec4{0.6, 0.6, 0.2, 1}))
	}

	g.AddPass(graph.NewRenderPassDesc().
		SetColorAttachments(graph.ColorAttachment{
			View:   f.backbuf,
			LoadOp: graph.LoadOpDontCare,
		}).
		SetInputImages(f.albedo, f.bloom).
		SetProfilerInfo("tonemap", glm.Vec4{0.8, 0.8, 0.8, 1}))

	g.AddPass(graph.NewImagePresentPassDesc(f.backbuf))
	g.AddPass(graph.NewFrameSyncEndPassDesc())
}
