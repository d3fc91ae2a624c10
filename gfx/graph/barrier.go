// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package graph

import (
	"fmt"

	vk "github.com/devblok/vulkan"
)

// MemoryBarrier is a global memory dependency.
type MemoryBarrier struct {
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

// BufferBarrier is a dependency on a whole buffer.
type BufferBarrier struct {
	Buffer    *Buffer
	SrcUsage  BufferUsage
	DstUsage  BufferUsage
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

// ImageBarrier is a dependency and layout transition on a subresource range.
type ImageBarrier struct {
	Image     *Image
	Range     SubresourceRange
	Aspect    vk.ImageAspectFlags
	SrcUsage  ImageUsage
	DstUsage  ImageUsage
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
	OldLayout vk.ImageLayout
	NewLayout vk.ImageLayout
}

// BarrierBatch is everything one task waits on, flushed as a single
// pipeline barrier before the task runs.
type BarrierBatch struct {
	Task     Task
	SrcStage vk.PipelineStageFlags
	DstStage vk.PipelineStageFlags
	Memory   []MemoryBarrier
	Buffers  []BufferBarrier
	Images   []ImageBarrier
}

// Empty reports whether the batch holds no barrier.
func (b *BarrierBatch) Empty() bool {
	return len(b.Memory) == 0 && len(b.Buffers) == 0 && len(b.Images) == 0
}

func (b *BarrierBatch) addImage(img *Image, rng SubresourceRange, src, dst ImageUsage, merge bool) {
	srcPattern, dstPattern := ImagePattern(src), ImagePattern(dst)
	b.SrcStage |= srcPattern.Stage
	b.DstStage |= dstPattern.Stage

	for i := range b.Images {
		prev := &b.Images[i]
		if prev.Image != img || prev.SrcUsage != src || prev.DstUsage != dst ||
			prev.Range.BaseMip != rng.BaseMip || prev.Range.MipCount != rng.MipCount {
			continue
		}
		if prev.Range.BaseLayer <= rng.BaseLayer && rng.BaseLayer+rng.LayerCount <= prev.Range.BaseLayer+prev.Range.LayerCount {
			return
		}
		if merge && prev.Range.BaseLayer+prev.Range.LayerCount == rng.BaseLayer {
			prev.Range.LayerCount += rng.LayerCount
			return
		}
	}

	b.Images = append(b.Images, ImageBarrier{
		Image:     img,
		Range:     rng,
		Aspect:    aspectOf(img.Key.Format),
		SrcUsage:  src,
		DstUsage:  dst,
		SrcAccess: srcPattern.Access & writeAccess,
		DstAccess: dstPattern.Access,
		OldLayout: srcPattern.Layout,
		NewLayout: dstPattern.Layout,
	})
}

func (b *BarrierBatch) addBuffer(buf *Buffer, src, dst BufferUsage) {
	srcPattern, dstPattern := BufferPattern(src), BufferPattern(dst)
	b.SrcStage |= srcPattern.Stage
	b.DstStage |= dstPattern.Stage

	for _, prev := range b.Buffers {
		if prev.Buffer == buf && prev.SrcUsage == src && prev.DstUsage == dst {
			return
		}
	}
	b.Buffers = append(b.Buffers, BufferBarrier{
		Buffer:    buf,
		SrcUsage:  src,
		DstUsage:  dst,
		SrcAccess: srcPattern.Access & writeAccess,
		DstAccess: dstPattern.Access,
	})
}

// synthesize computes the barriers task t needs given the usages of the
// tasks before it.
func (g *Graph) synthesize(frame []taskUses, t int) BarrierBatch {
	batch := BarrierBatch{Task: g.tasks[t]}

	if g.tasks[t].Kind == TaskFrameSyncBegin {
		batch.SrcStage = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		batch.DstStage = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		batch.Memory = append(batch.Memory, MemoryBarrier{
			SrcAccess: vk.AccessFlags(vk.AccessMemoryWriteBit),
			DstAccess: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		})
		return batch
	}

	for i, u := range frame[t].images {
		g.synthesizeImage(&batch, frame, t, i, u)
	}
	for _, u := range frame[t].buffers {
		src := lastBufferUsage(frame, t, u.buffer)
		if bufferBarrierNeeded(src, u.usage) {
			batch.addBuffer(u.buffer, src, u.usage)
		}
	}
	return batch
}

// synthesizeImage tracks every mip and layer of the view separately, then
// coalesces neighbouring mips that undergo the same transition.
// Subresources already declared by an earlier use i of the same task are
// skipped; declaring them with another usage panics.
func (g *Graph) synthesizeImage(batch *BarrierBatch, frame []taskUses, t, i int, u resolvedImageUse) {
	img, r := u.view.Image, u.view.Range
	earlier := frame[t].images[:i]
	for layer := r.BaseLayer; layer < r.BaseLayer+r.LayerCount; layer++ {
		var (
			runBase, runLen uint32
			runSrc          ImageUsage
		)
		flush := func() {
			if runLen == 0 {
				return
			}
			rng := SubresourceRange{BaseMip: runBase, MipCount: runLen, BaseLayer: layer, LayerCount: 1}
			batch.addImage(img, rng, runSrc, u.usage, g.mergeSubresources)
			runLen = 0
		}
		for mip := r.BaseMip; mip < r.BaseMip+r.MipCount; mip++ {
			if prev, ok := declaredUsage(earlier, img, mip, layer); ok {
				if prev != u.usage {
					panic(fmt.Sprintf("graph: %s mip %d layer %d declared twice with different usages (%v, %v)",
						img.Label, mip, layer, prev, u.usage))
				}
				flush()
				continue
			}
			src := g.lastImageUsage(frame, t, img, mip, layer)
			if !imageBarrierNeeded(src, u.usage) {
				flush()
				continue
			}
			if g.mergeSubresources && runLen > 0 && runSrc == src {
				runLen++
				continue
			}
			flush()
			runBase, runLen, runSrc = mip, 1, src
		}
		flush()
	}
}

func declaredUsage(uses []resolvedImageUse, img *Image, mip, layer uint32) (ImageUsage, bool) {
	for _, u := range uses {
		if u.view.Image == img && u.view.Range.Contains(mip, layer) {
			return u.usage, true
		}
	}
	return ImageUsageNone, false
}

// lastImageUsage scans the tasks before t, latest first, for the usage of
// one subresource of img. Without one, the usage declared by an external
// view of the same image applies.
func (g *Graph) lastImageUsage(frame []taskUses, t int, img *Image, mip, layer uint32) ImageUsage {
	for i := t - 1; i >= 0; i-- {
		uses := frame[i].images
		for j := len(uses) - 1; j >= 0; j-- {
			if uses[j].view.Image == img && uses[j].view.Range.Contains(mip, layer) {
				return uses[j].usage
			}
		}
	}
	for _, p := range g.views.All() {
		if p.external == nil || !p.externalUsage.known() {
			continue
		}
		if p.external.Image == img && p.external.Range.Contains(mip, layer) {
			return p.externalUsage
		}
	}
	return ImageUsageNone
}

func lastBufferUsage(frame []taskUses, t int, buf *Buffer) BufferUsage {
	for i := t - 1; i >= 0; i-- {
		uses := frame[i].buffers
		for j := len(uses) - 1; j >= 0; j-- {
			if uses[j].buffer == buf {
				return uses[j].usage
			}
		}
	}
	return BufferUsageNone
}
