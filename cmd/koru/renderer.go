// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"math"
	"unsafe"

	"github.com/devblok/korugraph/core"
	"github.com/devblok/korugraph/gfx"
	"github.com/devblok/korugraph/gfx/graph"
	"github.com/devblok/korugraph/gfx/vkr"
	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	framesInFlight = 2
	particleCount  = 1024
)

type particle struct {
	Position glm.Vec4
	Velocity glm.Vec4
}

// renderer draws one graph frame per swapchain image.
type renderer struct {
	logger log.FieldLogger

	ctx       *vkr.Context
	swapchain *vkr.Swapchain
	frames    *vkr.Frames
	caches    *graph.Caches
	passes    *vkr.RenderPassCache
	device    *vkr.Device
	gpu       []*vkr.TimestampProfiler
	cpu       *core.CPUProfiler
	g         *graph.Graph

	backbuffers []graph.ImageViewProxyID
	color       graph.ImageViewProxyID
	depth       graph.ImageViewProxyID
	particles   graph.BufferProxyID
	seed        *graph.Buffer
	seedProxy   graph.BufferProxyID
}

// seedParticles lays particles out on a ring.
func seedParticles() []particle {
	ps := make([]particle, particleCount)
	for i := range ps {
		a := 2 * math.Pi * float64(i) / particleCount
		ps[i].Position = glm.Vec4{float32(math.Cos(a)), float32(math.Sin(a)), 0, 1}
		ps[i].Velocity = glm.Vec4{-float32(math.Sin(a)), float32(math.Cos(a)), 0, 0}.Mul(0.01)
	}
	return ps
}

func newRenderer(ctx *vkr.Context, cfg core.Configuration, logger log.FieldLogger) (*renderer, error) {
	r := &renderer{
		logger: logger,
		ctx:    ctx,
		cpu:    core.NewCPUProfiler(logger),
	}

	swapchain, err := vkr.NewSwapchain(ctx, vkr.SwapchainConfiguration{
		Size:   cfg.Renderer.SwapchainSize,
		Width:  cfg.Renderer.ScreenWidth,
		Height: cfg.Renderer.ScreenHeight,
	}, logger)
	if err != nil {
		return nil, err
	}
	r.swapchain = swapchain

	if r.frames, err = vkr.NewFrames(ctx, framesInFlight); err != nil {
		r.release()
		return nil, err
	}
	for i := 0; i < framesInFlight; i++ {
		p, err := vkr.NewTimestampProfiler(ctx, cfg.Renderer.ProfilerScopes, logger)
		if err != nil {
			r.release()
			return nil, err
		}
		r.gpu = append(r.gpu, p)
	}

	r.device = vkr.NewDevice(ctx)
	r.caches = graph.NewCaches(r.device, logger)
	r.passes = vkr.NewRenderPassCache(ctx.Device(), logger)
	r.g = graph.New(r.caches, r.passes, core.GraphOptions(cfg.Graph, logger)...)

	extent := gfx.Extent2D(cfg.Renderer.ScreenWidth, cfg.Renderer.ScreenHeight)
	colorKey := graph.ImageKey{
		Format:     vk.FormatR16g16b16a16Sfloat,
		Extent:     extent,
		MipCount:   1,
		LayerCount: 1,
		Usage:      vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit),
	}
	r.color = r.g.AddImageView(r.g.AddImage(colorKey), graph.WholeImage(colorKey))

	depthKey := graph.ImageKey{
		Format:     vk.FormatD32Sfloat,
		Extent:     extent,
		MipCount:   1,
		LayerCount: 1,
		Usage:      vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
	}
	r.depth = r.g.AddImageView(r.g.AddImage(depthKey), graph.WholeImage(depthKey))

	r.particles = graph.AddBuffer[particle](r.g, particleCount,
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit))

	ps := seedParticles()
	data := unsafe.Slice((*byte)(unsafe.Pointer(&ps[0])), len(ps)*int(unsafe.Sizeof(ps[0])))
	if r.seed, err = r.device.CreateStagingBuffer("particle-seed", data); err != nil {
		r.release()
		return nil, err
	}
	r.seedProxy = r.g.AddExternalBuffer(r.seed)

	r.addBackbuffers()
	return r, nil
}

func (r *renderer) addBackbuffers() {
	r.backbuffers = r.backbuffers[:0]
	for i := 0; i < r.swapchain.Len(); i++ {
		r.backbuffers = append(r.backbuffers,
			r.g.AddExternalImageView(r.swapchain.View(uint32(i)), graph.ImageUsagePresent))
	}
}

// recreate rebuilds the swapchain and rebinds the graph to its images.
func (r *renderer) recreate() error {
	r.ctx.WaitIdle()
	r.passes.ReleaseFramebuffers()
	for _, id := range r.backbuffers {
		r.g.ReleaseImageView(id)
	}

	old, err := r.swapchain.Recreate()
	for _, img := range old {
		r.g.EvictImage(img)
	}
	if err != nil {
		return err
	}
	r.addBackbuffers()
	return nil
}

// draw records, submits and presents one frame.
func (r *renderer) draw(elapsed float32) error {
	f := r.frames.Wait()

	profiler := r.gpu[f.Index()]
	if _, err := profiler.Results(); err != nil {
		r.logger.WithError(err).Warn("reading gpu timings")
	}

	index, err := r.swapchain.Acquire(f.Available())
	if errors.Cause(err) == vkr.ErrOutOfDate {
		return r.recreate()
	}
	if err != nil {
		return err
	}

	if err := r.frames.Begin(f); err != nil {
		return err
	}
	profiler.Reset(f.Recorder())
	r.cpu.Reset()

	r.addPasses(r.backbuffers[index], elapsed)
	if err := r.g.Execute(f.Recorder(), r.cpu, profiler); err != nil {
		return errors.Wrap(err, "recording frame")
	}
	if err := r.frames.Submit(f); err != nil {
		return err
	}

	err = r.swapchain.Present(f.Finished(), index)
	if errors.Cause(err) == vkr.ErrOutOfDate {
		return r.recreate()
	}
	return err
}

func (r *renderer) addPasses(backbuffer graph.ImageViewProxyID, elapsed float32) {
	g := r.g
	g.AddPass(graph.NewFrameSyncBeginPassDesc())

	g.AddPass(graph.NewTransferPassDesc().
		SetSrcBuffers(r.seedProxy).
		SetDstBuffers(r.particles).
		SetRecordFunc(func(ctx *graph.PassContext) {
			src, dst := ctx.Buffer(r.seedProxy), ctx.Buffer(r.particles)
			region := vk.BufferCopy{Size: vk.DeviceSize(dst.Key.Size)}
			vk.CmdCopyBuffer(ctx.CommandBuffer().Handle(), src.Handle, dst.Handle, 1, []vk.BufferCopy{region})
		}).
		SetProfilerInfo("particles", glm.Vec4{0.2, 0.2, 0.8, 1}))

	pulse := 0.5 + 0.5*float32(math.Sin(float64(elapsed)))
	g.AddPass(graph.NewRenderPassDesc().
		SetColorAttachments(graph.ColorAttachment{
			View:   r.color,
			LoadOp: graph.LoadOpClear,
			Clear:  glm.Vec4{0.05, 0.1 * pulse, 0.3 * pulse, 1},
		}).
		SetDepthAttachment(graph.DepthAttachment{
			View:       r.depth,
			LoadOp:     graph.LoadOpClear,
			ClearDepth: 1,
		}).
		SetVertexBuffers(r.particles).
		SetRecordFunc(func(ctx *graph.RenderPassContext) {
			buf := ctx.Buffer(r.particles)
			vk.CmdBindVertexBuffers(ctx.CommandBuffer().Handle(), 0, 1, []vk.Buffer{buf.Handle}, []vk.DeviceSize{0})
		}).
		SetProfilerInfo("scene", glm.Vec4{0.2, 0.8, 0.2, 1}))

	g.AddPass(graph.NewTransferPassDesc().
		SetSrcImages(r.color).
		SetDstImages(backbuffer).
		SetRecordFunc(func(ctx *graph.PassContext) {
			blit(ctx.CommandBuffer().Handle(), ctx.ImageView(r.color), ctx.ImageView(backbuffer))
		}).
		SetProfilerInfo("blit", glm.Vec4{0.8, 0.8, 0.8, 1}))

	g.AddPass(graph.NewImagePresentPassDesc(backbuffer))
	g.AddPass(graph.NewFrameSyncEndPassDesc())
}

func blit(cmd vk.CommandBuffer, src, dst *graph.ImageView) {
	corner := func(v *graph.ImageView) vk.Offset3D {
		e := v.Image.Key.Extent
		return vk.Offset3D{X: int32(e.Width), Y: int32(e.Height), Z: 1}
	}
	layers := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	region := vk.ImageBlit{
		SrcSubresource: layers,
		SrcOffsets:     [2]vk.Offset3D{{}, corner(src)},
		DstSubresource: layers,
		DstOffsets:     [2]vk.Offset3D{{}, corner(dst)},
	}
	vk.CmdBlitImage(cmd,
		src.Image.Handle, vk.ImageLayoutTransferSrcOptimal,
		dst.Image.Handle, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{region}, vk.FilterLinear)
}

func (r *renderer) release() {
	if r.ctx != nil {
		r.ctx.WaitIdle()
	}
	if r.caches != nil {
		r.caches.Destroy()
	}
	if r.seed != nil {
		r.seed.Release()
	}
	if r.passes != nil {
		r.passes.Release()
	}
	for _, p := range r.gpu {
		p.Release()
	}
	if r.frames != nil {
		r.frames.Release()
	}
	if r.swapchain != nil {
		r.swapchain.Release()
	}
}
