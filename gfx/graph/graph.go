// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package graph implements a per-frame render graph. A frame is described
// as a list of passes declaring the images and buffers they touch; the graph
// binds transient resources from pooled caches, inserts the pipeline
// barriers the declared usages require and records the passes in order.
//
// A Graph is not safe for concurrent use.
package graph

import (
	"fmt"
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger barriers and cache growth are reported to.
func WithLogger(logger log.FieldLogger) Option {
	return func(g *Graph) {
		g.log = logger
	}
}

// WithSubresourceMerging controls whether neighbouring mips and layers
// sharing a transition are emitted as one barrier. Enabled by default.
func WithSubresourceMerging(enabled bool) Option {
	return func(g *Graph) {
		g.mergeSubresources = enabled
	}
}

func defaultLogger() log.FieldLogger {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return logger
}

// Graph is the render graph. Passes and the task list live for one
// Execute call; proxies live until released; caches outlive the graph.
type Graph struct {
	caches            *Caches
	passes            RenderPassCache
	log               log.FieldLogger
	mergeSubresources bool

	images  Pool[ImageProxyID, imageProxy]
	views   Pool[ImageViewProxyID, imageViewProxy]
	buffers Pool[BufferProxyID, bufferProxy]

	renderPasses    []RenderPassDesc
	computePasses   []ComputePassDesc
	transferPasses  []TransferPassDesc
	presentPasses   []ImagePresentPassDesc
	syncBeginPasses []FrameSyncBeginPassDesc
	syncEndPasses   []FrameSyncEndPassDesc
	tasks           []Task

	plan []BarrierBatch
}

// New creates a graph resolving transient proxies from caches and opening
// render passes through passes.
func New(caches *Caches, passes RenderPassCache, opts ...Option) *Graph {
	g := &Graph{
		caches:            caches,
		passes:            passes,
		log:               defaultLogger(),
		mergeSubresources: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddImage declares a transient image.
func (g *Graph) AddImage(key ImageKey) ImageProxyID {
	if key.MipCount == 0 || key.LayerCount == 0 {
		panic(fmt.Sprintf("graph: image %v has no subresources", key))
	}
	return g.images.Add(imageProxy{key: key})
}

// AddExternalImage declares an image owned outside the graph.
func (g *Graph) AddExternalImage(image *Image) ImageProxyID {
	if image == nil {
		panic("graph: nil external image")
	}
	return g.images.Add(imageProxy{key: image.Key, external: image})
}

// AddImageView declares a view of rng on image.
func (g *Graph) AddImageView(image ImageProxyID, rng SubresourceRange) ImageViewProxyID {
	key := g.images.Get(image).key
	if rng.MipCount == 0 || rng.LayerCount == 0 ||
		rng.MipCount > key.MipCount || rng.BaseMip > key.MipCount-rng.MipCount ||
		rng.LayerCount > key.LayerCount || rng.BaseLayer > key.LayerCount-rng.LayerCount {
		panic(fmt.Sprintf("graph: range %v outside of image %v", rng, key))
	}
	return g.views.Add(imageViewProxy{image: image, rng: rng})
}

// AddExternalImageView declares a view owned outside the graph. usage is
// the state the view is in before the frame and must be returned to by
// FrameSyncEnd; ImageUsageUnknown leaves it untracked.
func (g *Graph) AddExternalImageView(view *ImageView, usage ImageUsage) ImageViewProxyID {
	if view == nil || view.Image == nil {
		panic("graph: external image view without image")
	}
	if usage > ImageUsageUnknown {
		panic(fmt.Sprintf("graph: unknown image usage %d", usage))
	}
	return g.views.Add(imageViewProxy{rng: view.Range, external: view, externalUsage: usage})
}

// AddBuffer declares a transient buffer of count elements of type T.
func AddBuffer[T any](g *Graph, count int, usage vk.BufferUsageFlags) BufferProxyID {
	var zero T
	elemSize := uint64(unsafe.Sizeof(zero))
	if count <= 0 || elemSize == 0 {
		panic(fmt.Sprintf("graph: empty buffer of %d %T", count, zero))
	}
	return g.buffers.Add(bufferProxy{
		key:      BufferKey{Size: elemSize * uint64(count), Usage: usage},
		elemSize: elemSize,
		count:    count,
	})
}

// AddExternalBuffer declares a buffer owned outside the graph.
func (g *Graph) AddExternalBuffer(buffer *Buffer) BufferProxyID {
	if buffer == nil {
		panic("graph: nil external buffer")
	}
	return g.buffers.Add(bufferProxy{key: buffer.Key, external: buffer})
}

// ReleaseImage releases an image proxy.
func (g *Graph) ReleaseImage(id ImageProxyID) {
	g.images.Release(id)
}

// ReleaseImageView releases an image view proxy.
func (g *Graph) ReleaseImageView(id ImageViewProxyID) {
	g.views.Release(id)
}

// ReleaseBuffer releases a buffer proxy.
func (g *Graph) ReleaseBuffer(id BufferProxyID) {
	g.buffers.Release(id)
}

// ElementCount returns the element size and count a transient buffer was
// declared with. External buffers report their size as a single element.
func (g *Graph) ElementCount(id BufferProxyID) (elemSize uint64, count int) {
	p := g.buffers.Get(id)
	if p.external != nil {
		return p.key.Size, 1
	}
	return p.elemSize, p.count
}

// EvictImage drops cached views of an external image that is about to be
// destroyed.
func (g *Graph) EvictImage(image *Image) {
	g.caches.Views.Evict(image)
}

// AddPass appends a pass to the frame.
func (g *Graph) AddPass(p Pass) {
	switch d := p.(type) {
	case *RenderPassDesc:
		g.tasks = append(g.tasks, Task{Kind: TaskRenderPass, Index: len(g.renderPasses)})
		g.renderPasses = append(g.renderPasses, *d)
	case *ComputePassDesc:
		g.tasks = append(g.tasks, Task{Kind: TaskComputePass, Index: len(g.computePasses)})
		g.computePasses = append(g.computePasses, *d)
	case *TransferPassDesc:
		g.tasks = append(g.tasks, Task{Kind: TaskTransferPass, Index: len(g.transferPasses)})
		g.transferPasses = append(g.transferPasses, *d)
	case *ImagePresentPassDesc:
		g.tasks = append(g.tasks, Task{Kind: TaskImagePresent, Index: len(g.presentPasses)})
		g.presentPasses = append(g.presentPasses, *d)
	case *FrameSyncBeginPassDesc:
		g.tasks = append(g.tasks, Task{Kind: TaskFrameSyncBegin, Index: len(g.syncBeginPasses)})
		g.syncBeginPasses = append(g.syncBeginPasses, *d)
	case *FrameSyncEndPassDesc:
		g.tasks = append(g.tasks, Task{Kind: TaskFrameSyncEnd, Index: len(g.syncEndPasses)})
		g.syncEndPasses = append(g.syncEndPasses, *d)
	default:
		panic(fmt.Sprintf("graph: unhandled pass %T", p))
	}
}

// Tasks returns the task list of the frame being built.
func (g *Graph) Tasks() []Task {
	return g.tasks
}

// LastPlan returns the barrier batches flushed by the last Execute.
func (g *Graph) LastPlan() []BarrierBatch {
	return g.plan
}

// Execute binds every proxy, then records the frame's tasks in order into
// cmd, each preceded by the barriers it needs. Passes and tasks are
// cleared when it returns, successful or not.
func (g *Graph) Execute(cmd CommandRecorder, cpu, gpu Profiler) error {
	defer g.reset()

	scope := beginScope(cpu, cmd, ProfilerInfo{Name: "graph.Execute"})
	defer scope.End()

	g.plan = nil
	g.caches.Release()
	if err := g.resolve(); err != nil {
		return err
	}

	frame := g.frameUses()
	for i, task := range g.tasks {
		if err := g.run(cmd, cpu, gpu, frame, i, task); err != nil {
			return errors.Wrapf(err, "task %d (%v)", i, task.Kind)
		}
	}
	return nil
}

func (g *Graph) resolve() error {
	for _, p := range g.images.All() {
		if p.external != nil {
			p.resolved = p.external
			continue
		}
		img, err := g.caches.Images.Get(p.key)
		if err != nil {
			return err
		}
		p.resolved = img
	}

	for id, p := range g.views.All() {
		if p.external != nil {
			p.resolved = p.external
			continue
		}
		if !g.images.Live(p.image) {
			panic(fmt.Sprintf("graph: image view %d outlived image %d", id, p.image))
		}
		view, err := g.caches.Views.Get(g.images.Get(p.image).resolved, p.rng)
		if err != nil {
			return err
		}
		p.resolved = view
	}

	for _, p := range g.buffers.All() {
		if p.external != nil {
			p.resolved = p.external
			continue
		}
		buf, err := g.caches.Buffers.Get(p.key)
		if err != nil {
			return err
		}
		p.resolved = buf
	}
	return nil
}

// frameUses binds the declared usages of every task to resolved resources.
func (g *Graph) frameUses() []taskUses {
	frame := make([]taskUses, len(g.tasks))
	for i, task := range g.tasks {
		var (
			images  []imageUse
			buffers []bufferUse
		)
		switch task.Kind {
		case TaskRenderPass:
			d := &g.renderPasses[task.Index]
			images, buffers = d.imageUses(), d.bufferUses()
		case TaskComputePass:
			d := &g.computePasses[task.Index]
			images, buffers = d.imageUses(), d.bufferUses()
		case TaskTransferPass:
			d := &g.transferPasses[task.Index]
			images, buffers = d.imageUses(), d.bufferUses()
		case TaskImagePresent:
			images = g.presentPasses[task.Index].imageUses()
		case TaskFrameSyncEnd:
			for id, p := range g.views.All() {
				if p.external != nil && p.externalUsage.known() {
					images = append(images, imageUse{view: id, usage: p.externalUsage})
				}
			}
		}

		for _, u := range images {
			frame[i].images = append(frame[i].images, resolvedImageUse{
				id:    u.view,
				view:  g.views.Get(u.view).resolved,
				usage: u.usage,
			})
		}
		for _, u := range buffers {
			frame[i].buffers = append(frame[i].buffers, resolvedBufferUse{
				id:     u.buffer,
				buffer: g.buffers.Get(u.buffer).resolved,
				usage:  u.usage,
			})
		}
	}
	return frame
}

func (g *Graph) run(cmd CommandRecorder, cpu, gpu Profiler, frame []taskUses, i int, task Task) error {
	info := g.profilerInfo(task)
	scope := beginScope(cpu, cmd, info)
	defer scope.End()

	g.flush(cmd, g.synthesize(frame, i))

	ctx := PassContext{cmd: cmd, uses: &frame[i]}
	switch task.Kind {
	case TaskRenderPass:
		d := &g.renderPasses[task.Index]
		gpuScope := beginScope(gpu, cmd, info)
		defer gpuScope.End()

		colors, depth := g.attachments(d)
		rp, err := g.passes.BeginPass(cmd, colors, depth)
		if err != nil {
			return err
		}
		if d.record != nil {
			d.record(&RenderPassContext{PassContext: ctx, renderPass: rp})
		}
		g.passes.EndPass(cmd)
	case TaskComputePass:
		d := &g.computePasses[task.Index]
		gpuScope := beginScope(gpu, cmd, info)
		defer gpuScope.End()
		if d.record != nil {
			d.record(&ctx)
		}
	case TaskTransferPass:
		d := &g.transferPasses[task.Index]
		gpuScope := beginScope(gpu, cmd, info)
		defer gpuScope.End()
		if d.record != nil {
			d.record(&ctx)
		}
	case TaskImagePresent, TaskFrameSyncBegin, TaskFrameSyncEnd:
	default:
		panic(fmt.Sprintf("graph: unhandled task %v", task.Kind))
	}
	return nil
}

func (g *Graph) profilerInfo(task Task) ProfilerInfo {
	var info ProfilerInfo
	switch task.Kind {
	case TaskRenderPass:
		info = g.renderPasses[task.Index].profiler
	case TaskComputePass:
		info = g.computePasses[task.Index].profiler
	case TaskTransferPass:
		info = g.transferPasses[task.Index].profiler
	}
	if info.Name == "" {
		info.Name = task.Kind.String()
	}
	return info
}

func (g *Graph) attachments(d *RenderPassDesc) ([]ResolvedColorAttachment, *ResolvedDepthAttachment) {
	colors := make([]ResolvedColorAttachment, len(d.colorAttachments))
	for i, a := range d.colorAttachments {
		colors[i] = ResolvedColorAttachment{
			View:   g.views.Get(a.View).resolved,
			LoadOp: a.LoadOp,
			Clear:  [4]float32(a.Clear),
		}
	}
	if d.depthAttachment == nil {
		return colors, nil
	}
	return colors, &ResolvedDepthAttachment{
		View:         g.views.Get(d.depthAttachment.View).resolved,
		LoadOp:       d.depthAttachment.LoadOp,
		ClearDepth:   d.depthAttachment.ClearDepth,
		ClearStencil: d.depthAttachment.ClearStencil,
	}
}

func (g *Graph) flush(cmd CommandRecorder, batch BarrierBatch) {
	if batch.Empty() {
		return
	}
	cmd.PipelineBarrier(batch.SrcStage, batch.DstStage, batch.Memory, batch.Buffers, batch.Images)
	g.plan = append(g.plan, batch)
	g.log.WithFields(log.Fields{
		"task":    batch.Task.Kind.String(),
		"index":   batch.Task.Index,
		"memory":  len(batch.Memory),
		"buffers": len(batch.Buffers),
		"images":  len(batch.Images),
		"src":     fmt.Sprintf("%#x", batch.SrcStage),
		"dst":     fmt.Sprintf("%#x", batch.DstStage),
	}).Debug("pipeline barrier")
}

func (g *Graph) reset() {
	clear(g.renderPasses)
	clear(g.computePasses)
	clear(g.transferPasses)
	g.renderPasses = g.renderPasses[:0]
	g.computePasses = g.computePasses[:0]
	g.transferPasses = g.transferPasses[:0]
	g.presentPasses = g.presentPasses[:0]
	g.syncBeginPasses = g.syncBeginPasses[:0]
	g.syncEndPasses = g.syncEndPasses[:0]
	g.tasks = g.tasks[:0]

	for _, p := range g.images.All() {
		p.resolved = nil
	}
	for _, p := range g.views.All() {
		p.resolved = nil
	}
	for _, p := range g.buffers.All() {
		p.resolved = nil
	}
}
