// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package graph_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/korugraph/gfx"
	"github.com/devblok/korugraph/gfx/graph"
	"github.com/devblok/korugraph/internal/dryrun"
	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
)

type vertex struct {
	Position glm.Vec3
	Color    glm.Vec4
}

type fixture struct {
	dev    *dryrun.Device
	caches *graph.Caches
	passes *dryrun.RenderPassCache
	cmd    *dryrun.Recorder
	g      *graph.Graph
}

func newFixture(opts ...graph.Option) *fixture {
	f := &fixture{
		dev:    &dryrun.Device{},
		passes: &dryrun.RenderPassCache{},
		cmd:    &dryrun.Recorder{},
	}
	f.caches = graph.NewCaches(f.dev, nil)
	f.g = graph.New(f.caches, f.passes, opts...)
	return f
}

func (f *fixture) execute(c *qt.C) []graph.BarrierBatch {
	f.cmd.Reset()
	c.Assert(f.g.Execute(f.cmd, nil, nil), qt.IsNil)
	return f.g.LastPlan()
}

func colorKey(mips, layers uint32) graph.ImageKey {
	return graph.ImageKey{
		Format:     vk.FormatR8g8b8a8Unorm,
		Extent:     gfx.Extent2D(256, 256),
		MipCount:   mips,
		LayerCount: layers,
		Usage:      vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit | vk.ImageUsageStorageBit),
	}
}

func (f *fixture) image(mips, layers uint32) (graph.ImageProxyID, graph.ImageViewProxyID) {
	key := colorKey(mips, layers)
	img := f.g.AddImage(key)
	return img, f.g.AddImageView(img, graph.WholeImage(key))
}

func TestWriteThenReadEmitsOneTransition(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, view := f.image(1, 1)

	f.g.AddPass(graph.NewComputePassDesc().SetStorageImages(view))
	f.g.AddPass(graph.NewRenderPassDesc().SetInputImages(view))
	plan := f.execute(c)

	c.Assert(plan, qt.HasLen, 2)
	c.Assert(plan[1].Task, qt.Equals, graph.Task{Kind: graph.TaskRenderPass, Index: 0})
	c.Assert(plan[1].Images, qt.HasLen, 1)

	b := plan[1].Images[0]
	c.Assert(b.SrcUsage, qt.Equals, graph.ImageUsageComputeShaderReadWrite)
	c.Assert(b.DstUsage, qt.Equals, graph.ImageUsageGraphicsShaderRead)
	c.Assert(b.OldLayout, qt.Equals, vk.ImageLayoutGeneral)
	c.Assert(b.NewLayout, qt.Equals, vk.ImageLayoutShaderReadOnlyOptimal)
	c.Assert(b.SrcAccess, qt.Equals, vk.AccessFlags(vk.AccessShaderWriteBit))
	c.Assert(b.DstAccess, qt.Equals, vk.AccessFlags(vk.AccessShaderReadBit))
	c.Assert(b.Aspect, qt.Equals, vk.ImageAspectFlags(vk.ImageAspectColorBit))
	c.Assert(plan[1].SrcStage, qt.Equals, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit))
	c.Assert(plan[1].DstStage, qt.Equals, vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit|vk.PipelineStageFragmentShaderBit))
}

func TestFirstUseTransitionsFromUndefined(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, view := f.image(1, 1)

	f.g.AddPass(graph.NewRenderPassDesc().SetColorAttachments(graph.ColorAttachment{View: view, LoadOp: graph.LoadOpClear}))
	plan := f.execute(c)

	c.Assert(plan, qt.HasLen, 1)
	b := plan[0].Images[0]
	c.Assert(b.SrcUsage, qt.Equals, graph.ImageUsageNone)
	c.Assert(b.OldLayout, qt.Equals, vk.ImageLayoutUndefined)
	c.Assert(b.NewLayout, qt.Equals, vk.ImageLayoutColorAttachmentOptimal)
	c.Assert(b.SrcAccess, qt.Equals, vk.AccessFlags(0))
	c.Assert(plan[0].SrcStage, qt.Equals, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit))
}

func TestConsecutiveSamplesEmitNoBarrier(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, view := f.image(1, 1)

	f.g.AddPass(graph.NewRenderPassDesc().SetInputImages(view).SetProfilerInfo("A", glm.Vec4{}))
	f.g.AddPass(graph.NewRenderPassDesc().SetInputImages(view).SetProfilerInfo("B", glm.Vec4{}))
	plan := f.execute(c)

	// Only the first use leaves Undefined; nothing sits between A and B.
	c.Assert(plan, qt.HasLen, 1)
	c.Assert(plan[0].Task.Index, qt.Equals, 0)
	c.Assert(f.cmd.Calls, qt.HasLen, 1)
}

func TestExternalReadOnlyImageNeedsNoBarrier(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	img := dryrun.ExternalImage("texture", vk.FormatR8g8b8a8Unorm, 64, 64)
	view := f.g.AddExternalImageView(dryrun.ExternalView(img), graph.ImageUsageGraphicsShaderRead)

	f.g.AddPass(graph.NewRenderPassDesc().SetInputImages(view))
	f.g.AddPass(graph.NewRenderPassDesc().SetInputImages(view))
	f.g.AddPass(graph.NewFrameSyncEndPassDesc())
	plan := f.execute(c)

	c.Assert(plan, qt.HasLen, 0)
	c.Assert(f.cmd.Calls, qt.HasLen, 0)
}

func TestMipsAreTrackedIndependently(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	key := colorKey(2, 1)
	img := f.g.AddImage(key)
	mip0 := f.g.AddImageView(img, graph.SubresourceRange{BaseMip: 0, MipCount: 1, LayerCount: 1})
	mip1 := f.g.AddImageView(img, graph.SubresourceRange{BaseMip: 1, MipCount: 1, LayerCount: 1})

	// Same task, then adjacent tasks.
	f.g.AddPass(graph.NewRenderPassDesc().
		SetColorAttachments(graph.ColorAttachment{View: mip0}).
		SetInputImages(mip1))
	f.g.AddPass(graph.NewComputePassDesc().SetStorageImages(mip0))
	f.g.AddPass(graph.NewComputePassDesc().SetInputImages(mip1))
	f.execute(c)

	for _, b := range f.cmd.ImageBarriers() {
		if b.Range.BaseMip == 1 {
			c.Assert(b.Range.MipCount, qt.Equals, uint32(1))
			c.Assert(b.SrcUsage, qt.Not(qt.Equals), graph.ImageUsageColorAttachment)
			c.Assert(b.SrcUsage, qt.Not(qt.Equals), graph.ImageUsageComputeShaderReadWrite)
		}
	}
	barriers := f.cmd.ImageBarriers()
	c.Assert(barriers, qt.HasLen, 4)
	c.Assert(barriers[2].SrcUsage, qt.Equals, graph.ImageUsageColorAttachment)
	c.Assert(barriers[2].Range.BaseMip, qt.Equals, uint32(0))
	c.Assert(barriers[3].SrcUsage, qt.Equals, graph.ImageUsageGraphicsShaderRead)
	c.Assert(barriers[3].DstUsage, qt.Equals, graph.ImageUsageComputeShaderRead)
}

func TestContiguousMipsAreMerged(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	key := colorKey(4, 1)
	img := f.g.AddImage(key)
	whole := f.g.AddImageView(img, graph.WholeImage(key))
	mip2 := f.g.AddImageView(img, graph.SubresourceRange{BaseMip: 2, MipCount: 1, LayerCount: 1})

	f.g.AddPass(graph.NewTransferPassDesc().SetDstImages(whole))
	f.g.AddPass(graph.NewRenderPassDesc().SetColorAttachments(graph.ColorAttachment{View: mip2, LoadOp: graph.LoadOpLoad}))
	f.g.AddPass(graph.NewRenderPassDesc().SetInputImages(whole))
	plan := f.execute(c)

	c.Assert(plan, qt.HasLen, 3)
	c.Assert(plan[0].Images, qt.HasLen, 1)
	c.Assert(plan[0].Images[0].Range, qt.Equals, graph.WholeImage(key))

	read := plan[2].Images
	c.Assert(read, qt.HasLen, 3)
	c.Assert(read[0].Range, qt.Equals, graph.SubresourceRange{BaseMip: 0, MipCount: 2, LayerCount: 1})
	c.Assert(read[0].SrcUsage, qt.Equals, graph.ImageUsageTransferDst)
	c.Assert(read[1].Range, qt.Equals, graph.SubresourceRange{BaseMip: 2, MipCount: 1, LayerCount: 1})
	c.Assert(read[1].SrcUsage, qt.Equals, graph.ImageUsageColorAttachment)
	c.Assert(read[2].Range, qt.Equals, graph.SubresourceRange{BaseMip: 3, MipCount: 1, LayerCount: 1})
	c.Assert(read[2].SrcUsage, qt.Equals, graph.ImageUsageTransferDst)
	c.Assert(plan[2].SrcStage, qt.Equals,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit|vk.PipelineStageColorAttachmentOutputBit))
}

func TestLayersAreMerged(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, view := f.image(1, 6)

	f.g.AddPass(graph.NewComputePassDesc().SetStorageImages(view))
	plan := f.execute(c)

	c.Assert(plan, qt.HasLen, 1)
	c.Assert(plan[0].Images, qt.HasLen, 1)
	c.Assert(plan[0].Images[0].Range, qt.Equals, graph.SubresourceRange{MipCount: 1, LayerCount: 6})
}

func TestLayersAreTrackedIndependently(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	key := colorKey(1, 2)
	img := f.g.AddImage(key)
	whole := f.g.AddImageView(img, graph.WholeImage(key))
	layer1 := f.g.AddImageView(img, graph.SubresourceRange{MipCount: 1, BaseLayer: 1, LayerCount: 1})

	f.g.AddPass(graph.NewComputePassDesc().SetInputImages(whole))
	f.g.AddPass(graph.NewComputePassDesc().SetStorageImages(layer1))
	f.g.AddPass(graph.NewComputePassDesc().SetInputImages(whole))
	plan := f.execute(c)

	c.Assert(plan, qt.HasLen, 3)
	c.Assert(plan[1].Images, qt.HasLen, 1)
	c.Assert(plan[1].Images[0].Range, qt.Equals, graph.SubresourceRange{MipCount: 1, BaseLayer: 1, LayerCount: 1})
	c.Assert(plan[1].Images[0].SrcUsage, qt.Equals, graph.ImageUsageComputeShaderRead)

	// Layer 0 is still in the read state, only layer 1 comes back.
	c.Assert(plan[2].Images, qt.HasLen, 1)
	b := plan[2].Images[0]
	c.Assert(b.Range, qt.Equals, graph.SubresourceRange{MipCount: 1, BaseLayer: 1, LayerCount: 1})
	c.Assert(b.SrcUsage, qt.Equals, graph.ImageUsageComputeShaderReadWrite)
	c.Assert(b.DstUsage, qt.Equals, graph.ImageUsageComputeShaderRead)
}

func TestOverlappingReadsInOneTaskTransitionOnce(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	key := colorKey(4, 1)
	img := f.g.AddImage(key)
	whole := f.g.AddImageView(img, graph.WholeImage(key))
	mip2 := f.g.AddImageView(img, graph.SubresourceRange{BaseMip: 2, MipCount: 1, LayerCount: 1})

	f.g.AddPass(graph.NewTransferPassDesc().SetDstImages(whole))
	f.g.AddPass(graph.NewRenderPassDesc().SetInputImages(whole, mip2))
	f.g.AddPass(graph.NewRenderPassDesc().SetInputImages(mip2, whole))
	plan := f.execute(c)

	c.Assert(plan, qt.HasLen, 2)
	c.Assert(plan[1].Images, qt.HasLen, 1)
	c.Assert(plan[1].Images[0].Range, qt.Equals, graph.WholeImage(key))
	c.Assert(plan[1].Images[0].SrcUsage, qt.Equals, graph.ImageUsageTransferDst)
	c.Assert(plan[1].Images[0].DstUsage, qt.Equals, graph.ImageUsageGraphicsShaderRead)
}

func TestConflictingUsagesInOneTaskPanic(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, view := f.image(1, 1)

	f.g.AddPass(graph.NewRenderPassDesc().
		SetColorAttachments(graph.ColorAttachment{View: view, LoadOp: graph.LoadOpClear}).
		SetInputImages(view))
	c.Assert(func() { f.g.Execute(f.cmd, nil, nil) }, qt.PanicMatches,
		"graph: image#1 mip 0 layer 0 declared twice with different usages .*")
	c.Assert(f.cmd.Calls, qt.HasLen, 0)
	c.Assert(f.g.Tasks(), qt.HasLen, 0)
}

func TestMergingCanBeDisabled(t *testing.T) {
	c := qt.New(t)
	f := newFixture(graph.WithSubresourceMerging(false))
	_, view := f.image(2, 3)

	f.g.AddPass(graph.NewComputePassDesc().SetStorageImages(view))
	plan := f.execute(c)

	c.Assert(plan, qt.HasLen, 1)
	c.Assert(plan[0].Images, qt.HasLen, 6)
	c.Assert(f.cmd.Calls, qt.HasLen, 1)
}

func TestComputeWriteThenVertexRead(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	buf := graph.AddBuffer[vertex](f.g, 1024, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageStorageBufferBit))

	f.g.AddPass(graph.NewComputePassDesc().SetStorageBuffers(buf))
	f.g.AddPass(graph.NewRenderPassDesc().SetVertexBuffers(buf))
	f.execute(c)

	c.Assert(f.cmd.Calls, qt.HasLen, 1)
	call := f.cmd.Calls[0]
	c.Assert(call.Images, qt.HasLen, 0)
	c.Assert(call.Buffers, qt.HasLen, 1)
	c.Assert(call.SrcStage, qt.Equals, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit))
	c.Assert(call.DstStage, qt.Equals, vk.PipelineStageFlags(vk.PipelineStageVertexInputBit))
	c.Assert(call.Buffers[0].SrcAccess, qt.Equals, vk.AccessFlags(vk.AccessShaderWriteBit))
	c.Assert(call.Buffers[0].DstAccess, qt.Equals, vk.AccessFlags(vk.AccessVertexAttributeReadBit))
}

func TestBufferReadsNeedNoBarrier(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	buf := graph.AddBuffer[uint32](f.g, 64, vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit|vk.BufferUsageStorageBufferBit))

	f.g.AddPass(graph.NewTransferPassDesc().SetDstBuffers(buf))
	f.g.AddPass(graph.NewRenderPassDesc().SetIndexBuffers(buf))
	f.g.AddPass(graph.NewComputePassDesc().SetInputBuffers(buf))
	f.g.AddPass(graph.NewComputePassDesc().SetStorageBuffers(buf))
	f.execute(c)

	barriers := f.cmd.BufferBarriers()
	c.Assert(barriers, qt.HasLen, 2)
	c.Assert(barriers[0].SrcUsage, qt.Equals, graph.BufferUsageTransferDst)
	c.Assert(barriers[0].DstUsage, qt.Equals, graph.BufferUsageIndex)
	// Write after read only needs an execution dependency.
	c.Assert(barriers[1].SrcUsage, qt.Equals, graph.BufferUsageComputeShaderRead)
	c.Assert(barriers[1].SrcAccess, qt.Equals, vk.AccessFlags(0))
}

func TestFrameSyncEndRestoresExternalUsage(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	swapchain := dryrun.ExternalImage("swapchain[0]", vk.FormatB8g8r8a8Unorm, 800, 600)
	target := f.g.AddExternalImageView(dryrun.ExternalView(swapchain), graph.ImageUsagePresent)

	f.g.AddPass(graph.NewFrameSyncBeginPassDesc())
	f.g.AddPass(graph.NewRenderPassDesc().SetColorAttachments(graph.ColorAttachment{
		View:   target,
		LoadOp: graph.LoadOpClear,
		Clear:  glm.Vec4{0.1, 0.2, 0.3, 1},
	}))
	f.g.AddPass(graph.NewFrameSyncEndPassDesc())
	plan := f.execute(c)

	c.Assert(plan, qt.HasLen, 3)
	c.Assert(plan[0].Memory, qt.HasLen, 1)

	acquire := plan[1].Images[0]
	c.Assert(acquire.SrcUsage, qt.Equals, graph.ImageUsagePresent)
	c.Assert(acquire.OldLayout, qt.Equals, vk.ImageLayoutPresentSrc)
	c.Assert(acquire.NewLayout, qt.Equals, vk.ImageLayoutColorAttachmentOptimal)

	c.Assert(plan[2].Task.Kind, qt.Equals, graph.TaskFrameSyncEnd)
	c.Assert(plan[2].Images, qt.HasLen, 1)
	release := plan[2].Images[0]
	c.Assert(release.Image, qt.Equals, swapchain)
	c.Assert(release.SrcUsage, qt.Equals, graph.ImageUsageColorAttachment)
	c.Assert(release.DstUsage, qt.Equals, graph.ImageUsagePresent)
	c.Assert(release.OldLayout, qt.Equals, vk.ImageLayoutColorAttachmentOptimal)
	c.Assert(release.NewLayout, qt.Equals, vk.ImageLayoutPresentSrc)
	c.Assert(release.SrcAccess, qt.Equals, vk.AccessFlags(vk.AccessColorAttachmentWriteBit))

	c.Assert(f.passes.Colors, qt.HasLen, 1)
	c.Assert(f.passes.Colors[0][0].Clear, qt.Equals, [4]float32{0.1, 0.2, 0.3, 1})
}

func TestFrameSyncEndSkipsUntrackedViews(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	img := dryrun.ExternalImage("offscreen", vk.FormatR8g8b8a8Unorm, 32, 32)
	view := f.g.AddExternalImageView(dryrun.ExternalView(img), graph.ImageUsageUnknown)

	f.g.AddPass(graph.NewRenderPassDesc().SetColorAttachments(graph.ColorAttachment{View: view}))
	f.g.AddPass(graph.NewFrameSyncEndPassDesc())
	plan := f.execute(c)

	c.Assert(plan, qt.HasLen, 1)
	c.Assert(plan[0].Task.Kind, qt.Equals, graph.TaskRenderPass)
	c.Assert(plan[0].Images[0].SrcUsage, qt.Equals, graph.ImageUsageNone)
}

func TestTransientViewOfExternalImageSeesExternalUsage(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	swapchain := dryrun.ExternalImage("swapchain[1]", vk.FormatB8g8r8a8Unorm, 800, 600)
	f.g.AddExternalImageView(dryrun.ExternalView(swapchain), graph.ImageUsagePresent)
	img := f.g.AddExternalImage(swapchain)
	view := f.g.AddImageView(img, graph.WholeImage(swapchain.Key))

	f.g.AddPass(graph.NewTransferPassDesc().SetDstImages(view))
	f.g.AddPass(graph.NewImagePresentPassDesc(view))
	plan := f.execute(c)

	c.Assert(plan, qt.HasLen, 2)
	c.Assert(plan[0].Images[0].SrcUsage, qt.Equals, graph.ImageUsagePresent)
	c.Assert(plan[1].Images[0].SrcUsage, qt.Equals, graph.ImageUsageTransferDst)
	c.Assert(plan[1].Images[0].NewLayout, qt.Equals, vk.ImageLayoutPresentSrc)
}

func TestOneBarrierCallPerTask(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, albedo := f.image(1, 1)
	_, normals := f.image(1, 1)
	depthKey := graph.ImageKey{
		Format:     vk.FormatD32Sfloat,
		Extent:     gfx.Extent2D(256, 256),
		MipCount:   1,
		LayerCount: 1,
		Usage:      vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
	}
	depthImg := f.g.AddImage(depthKey)
	depth := f.g.AddImageView(depthImg, graph.WholeImage(depthKey))
	verts := graph.AddBuffer[vertex](f.g, 3, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))

	f.g.AddPass(graph.NewComputePassDesc().SetStorageBuffers(verts))
	f.g.AddPass(graph.NewRenderPassDesc().
		SetColorAttachments(graph.ColorAttachment{View: albedo}, graph.ColorAttachment{View: normals}).
		SetDepthAttachment(graph.DepthAttachment{View: depth, LoadOp: graph.LoadOpClear, ClearDepth: 1}).
		SetVertexBuffers(verts).
		SetRecordFunc(func(ctx *graph.RenderPassContext) {
			f.cmd.Mark("draw")
		}))
	f.execute(c)

	c.Assert(f.cmd.Calls, qt.HasLen, 1)
	c.Assert(f.cmd.Calls[0].Images, qt.HasLen, 3)
	c.Assert(f.cmd.Calls[0].Buffers, qt.HasLen, 1)
	c.Assert(f.cmd.Calls[0].Images[2].Aspect, qt.Equals, vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	c.Assert(f.cmd.Events, qt.DeepEquals, []string{"barrier", "begin", "draw", "end"})
}

func TestResolveIsStableWithinFrame(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, a := f.image(1, 1)
	_, b := f.image(1, 1)
	buf := graph.AddBuffer[float32](f.g, 16, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit))

	var first, second *graph.ImageView
	f.g.AddPass(graph.NewComputePassDesc().
		SetStorageImages(a, b).
		SetStorageBuffers(buf).
		SetRecordFunc(func(ctx *graph.PassContext) {
			first = ctx.ImageView(a)
			c.Assert(ctx.ImageView(b), qt.Not(qt.Equals), first)
			c.Assert(ctx.Buffer(buf), qt.Equals, ctx.Buffer(buf))
			c.Assert(ctx.CommandBuffer(), qt.Equals, graph.CommandRecorder(f.cmd))
		}))
	f.g.AddPass(graph.NewComputePassDesc().
		SetInputImages(a).
		SetRecordFunc(func(ctx *graph.PassContext) {
			second = ctx.ImageView(a)
		}))
	f.execute(c)

	c.Assert(first, qt.Not(qt.IsNil))
	c.Assert(second, qt.Equals, first)
}

func TestUndeclaredResourcePanics(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, declared := f.image(1, 1)
	_, other := f.image(1, 1)

	f.g.AddPass(graph.NewComputePassDesc().
		SetInputImages(declared).
		SetRecordFunc(func(ctx *graph.PassContext) {
			ctx.ImageView(other)
		}))
	c.Assert(func() { f.g.Execute(f.cmd, nil, nil) }, qt.PanicMatches, "graph: image view .* is not declared by this pass")
	c.Assert(f.g.Tasks(), qt.HasLen, 0)
}

func TestCachesDoNotGrowWithoutDemand(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	key := colorKey(1, 1)

	frame := func(n int) {
		var ids []graph.ImageProxyID
		for i := 0; i < n; i++ {
			ids = append(ids, f.g.AddImage(key))
		}
		f.execute(c)
		for _, id := range ids {
			f.g.ReleaseImage(id)
		}
	}

	frame(3)
	c.Assert(f.dev.Images, qt.Equals, 3)
	frame(3)
	frame(2)
	c.Assert(f.dev.Images, qt.Equals, 3)
	c.Assert(f.caches.Images.Stats(), qt.DeepEquals, map[graph.ImageKey]int{key: 3})
	frame(4)
	c.Assert(f.dev.Images, qt.Equals, 4)
}

func TestTransientImagesWithEqualKeysAreDistinct(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, a := f.image(1, 1)
	_, b := f.image(1, 1)

	f.g.AddPass(graph.NewComputePassDesc().
		SetStorageImages(a, b).
		SetRecordFunc(func(ctx *graph.PassContext) {
			c.Assert(ctx.ImageView(a).Image, qt.Not(qt.Equals), ctx.ImageView(b).Image)
		}))
	f.execute(c)
	c.Assert(f.dev.Images, qt.Equals, 2)
	c.Assert(f.dev.Views, qt.Equals, 2)

	// Views are deduplicated across frames.
	f.g.AddPass(graph.NewComputePassDesc().SetStorageImages(a, b))
	f.execute(c)
	c.Assert(f.dev.Views, qt.Equals, 2)
	c.Assert(f.caches.Views.Len(), qt.Equals, 2)
}

func TestAllocationFailurePropagates(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	f.dev.Budget = 1
	f.g.AddImage(colorKey(1, 1))
	f.g.AddImage(colorKey(1, 1))
	f.g.AddPass(graph.NewFrameSyncBeginPassDesc())

	err := f.g.Execute(f.cmd, nil, nil)
	c.Assert(err, qt.ErrorIs, dryrun.ErrOutOfMemory)
	c.Assert(err, qt.ErrorMatches, "image cache: .*: dryrun: out of device memory")
	c.Assert(f.cmd.Calls, qt.HasLen, 0)
	c.Assert(f.g.Tasks(), qt.HasLen, 0)
}

func TestRenderPassErrorPropagates(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	f.passes.Err = dryrun.ErrOutOfMemory
	_, view := f.image(1, 1)
	f.g.AddPass(graph.NewRenderPassDesc().SetColorAttachments(graph.ColorAttachment{View: view}))

	err := f.g.Execute(f.cmd, nil, nil)
	c.Assert(err, qt.ErrorIs, dryrun.ErrOutOfMemory)
	c.Assert(err, qt.ErrorMatches, "task 0 \\(RenderPass\\): .*")
}

func TestFrameStateIsCleared(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, view := f.image(1, 1)
	f.g.AddPass(graph.NewComputePassDesc().SetStorageImages(view))
	c.Assert(f.g.Tasks(), qt.HasLen, 1)
	f.execute(c)
	c.Assert(f.g.Tasks(), qt.HasLen, 0)

	// Nothing carries over: the next frame sees the image as fresh.
	f.g.AddPass(graph.NewComputePassDesc().SetInputImages(view))
	plan := f.execute(c)
	c.Assert(plan, qt.HasLen, 1)
	c.Assert(plan[0].Images[0].SrcUsage, qt.Equals, graph.ImageUsageNone)
}

type profiler struct {
	open, closed []string
}

type scope struct {
	p    *profiler
	name string
}

func (s scope) End() { s.p.closed = append(s.p.closed, s.name) }

func (p *profiler) Begin(cmd graph.CommandRecorder, info graph.ProfilerInfo) graph.ProfileScope {
	p.open = append(p.open, info.Name)
	return scope{p: p, name: info.Name}
}

func TestProfilersSeeEveryTask(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, view := f.image(1, 1)
	cpu, gpu := &profiler{}, &profiler{}

	f.g.AddPass(graph.NewFrameSyncBeginPassDesc())
	f.g.AddPass(graph.NewComputePassDesc().SetStorageImages(view).SetProfilerInfo("blur", glm.Vec4{1, 0, 0, 1}))
	f.g.AddPass(graph.NewFrameSyncEndPassDesc())
	c.Assert(f.g.Execute(f.cmd, cpu, gpu), qt.IsNil)

	c.Assert(cpu.open, qt.DeepEquals, []string{"graph.Execute", "FrameSyncBegin", "blur", "FrameSyncEnd"})
	c.Assert(cpu.closed, qt.HasLen, 4)
	c.Assert(gpu.open, qt.DeepEquals, []string{"blur"})
	c.Assert(gpu.closed, qt.DeepEquals, []string{"blur"})
}

func TestContractViolationsPanic(t *testing.T) {
	c := qt.New(t)
	f := newFixture()

	c.Assert(func() { graph.ImagePattern(graph.ImageUsageUnknown) }, qt.PanicMatches, "graph: no access pattern for image usage Unknown")
	c.Assert(func() { graph.BufferPattern(graph.BufferUsageUnknown) }, qt.PanicMatches, "graph: no access pattern for buffer usage Unknown")
	c.Assert(func() { f.g.AddImage(colorKey(0, 1)) }, qt.PanicMatches, "graph: image .* has no subresources")

	img, _ := f.image(2, 1)
	c.Assert(func() {
		f.g.AddImageView(img, graph.SubresourceRange{BaseMip: 1, MipCount: 2, LayerCount: 1})
	}, qt.PanicMatches, "graph: range .* outside of image .*")
	c.Assert(func() {
		f.g.AddImageView(img, graph.SubresourceRange{BaseMip: 0xFFFFFFFF, MipCount: 2, LayerCount: 1})
	}, qt.PanicMatches, "graph: range .* outside of image .*")
	c.Assert(func() {
		f.g.AddImageView(img, graph.SubresourceRange{MipCount: 1, BaseLayer: 0xFFFFFFFF, LayerCount: 1})
	}, qt.PanicMatches, "graph: range .* outside of image .*")
	ext := dryrun.ExternalView(dryrun.ExternalImage("ext", vk.FormatR8g8b8a8Unorm, 4, 4))
	c.Assert(func() { f.g.AddExternalImageView(ext, graph.ImageUsage(42)) }, qt.PanicMatches, "graph: unknown image usage 42")
	c.Assert(func() { graph.AddBuffer[vertex](f.g, 0, 0) }, qt.PanicMatches, "graph: empty buffer .*")
	c.Assert(func() { f.g.AddPass(nil) }, qt.PanicMatches, "graph: unhandled pass <nil>")

	f.g.ReleaseImage(img)
	c.Assert(func() { f.g.AddImageView(img, graph.WholeImage(colorKey(2, 1))) }, qt.PanicMatches, "graph: id .* has been released")
}

func TestDanglingViewPanics(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	img, _ := f.image(1, 1)
	f.g.ReleaseImage(img)

	c.Assert(func() { f.g.Execute(f.cmd, nil, nil) }, qt.PanicMatches, "graph: image view .* outlived image .*")
}

func TestEvictImageReleasesViews(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	swapchain := dryrun.ExternalImage("swapchain[0]", vk.FormatB8g8r8a8Unorm, 800, 600)
	img := f.g.AddExternalImage(swapchain)
	view := f.g.AddImageView(img, graph.WholeImage(swapchain.Key))
	f.g.AddPass(graph.NewImagePresentPassDesc(view))
	f.execute(c)
	c.Assert(f.dev.Views, qt.Equals, 1)

	f.g.EvictImage(swapchain)
	c.Assert(f.caches.Views.Len(), qt.Equals, 0)
	c.Assert(f.dev.Released, qt.Equals, 1)
}

func TestCachesDestroy(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	_, view := f.image(1, 1)
	graph.AddBuffer[vertex](f.g, 8, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	f.g.AddPass(graph.NewComputePassDesc().SetStorageImages(view))
	f.execute(c)
	c.Assert(f.dev.Live(), qt.Equals, 3)

	f.caches.Destroy()
	c.Assert(f.dev.Live(), qt.Equals, 0)
	c.Assert(f.caches.Images.Allocations(), qt.Equals, 0)
}

func TestElementCount(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	buf := graph.AddBuffer[vertex](f.g, 10, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))

	size, count := f.g.ElementCount(buf)
	c.Assert(size, qt.Equals, uint64(28))
	c.Assert(count, qt.Equals, 10)
}

func BenchmarkExecute(b *testing.B) {
	f := newFixture()
	key := colorKey(4, 1)
	var views []graph.ImageViewProxyID
	for i := 0; i < 8; i++ {
		img := f.g.AddImage(key)
		views = append(views, f.g.AddImageView(img, graph.WholeImage(key)))
	}
	b.ResetTimer()
	for idx := 0; idx < b.N; idx++ {
		for i := range views {
			f.g.AddPass(graph.NewComputePassDesc().SetStorageImages(views[i]))
			f.g.AddPass(graph.NewRenderPassDesc().SetInputImages(views...))
		}
		if err := f.g.Execute(f.cmd, nil, nil); err != nil {
			b.Fatal(err)
		}
		f.cmd.Reset()
	}
}
