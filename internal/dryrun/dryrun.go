// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package dryrun provides graph collaborators that allocate and record
// nothing on a GPU. They let a frame be planned and inspected headless.
package dryrun

import (
	"fmt"

	"github.com/devblok/korugraph/gfx"
	"github.com/devblok/korugraph/gfx/graph"
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
)

// ErrOutOfMemory is returned by a Device once its budget is spent.
var ErrOutOfMemory = errors.New("dryrun: out of device memory")

// Device implements graph.Device by handing out labelled records.
type Device struct {
	// Budget limits the number of live allocations. Zero means unlimited.
	Budget int

	Images, Views, Buffers int
	Released               int
}

func (d *Device) allocate() error {
	if d.Budget > 0 && d.Live() >= d.Budget {
		return ErrOutOfMemory
	}
	return nil
}

// Live returns the number of allocations not yet released.
func (d *Device) Live() int {
	return d.Images + d.Views + d.Buffers - d.Released
}

func (d *Device) releaser() gfx.Releasable {
	return gfx.ReleaseFunc(func() { d.Released++ })
}

// CreateImage implements interface
func (d *Device) CreateImage(key graph.ImageKey) (*graph.Image, error) {
	if err := d.allocate(); err != nil {
		return nil, err
	}
	d.Images++
	return &graph.Image{
		Key:     key,
		Label:   fmt.Sprintf("image#%d", d.Images),
		Backing: d.releaser(),
	}, nil
}

// CreateImageView implements interface
func (d *Device) CreateImageView(image *graph.Image, rng graph.SubresourceRange) (*graph.ImageView, error) {
	if err := d.allocate(); err != nil {
		return nil, err
	}
	d.Views++
	return &graph.ImageView{
		Image:   image,
		Range:   rng,
		Backing: d.releaser(),
	}, nil
}

// CreateBuffer implements interface
func (d *Device) CreateBuffer(key graph.BufferKey) (*graph.Buffer, error) {
	if err := d.allocate(); err != nil {
		return nil, err
	}
	d.Buffers++
	return &graph.Buffer{
		Key:     key,
		Label:   fmt.Sprintf("buffer#%d", d.Buffers),
		Backing: d.releaser(),
	}, nil
}

// ExternalImage returns an image as a swapchain would own it.
func ExternalImage(label string, format vk.Format, width, height uint32) *graph.Image {
	return &graph.Image{
		Key: graph.ImageKey{
			Format:     format,
			Extent:     gfx.Extent2D(width, height),
			MipCount:   1,
			LayerCount: 1,
			Usage:      vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		},
		Label: label,
	}
}

// ExternalView returns a view of the whole of image.
func ExternalView(image *graph.Image) *graph.ImageView {
	return &graph.ImageView{Image: image, Range: graph.WholeImage(image.Key)}
}

// Call is one recorded pipeline barrier.
type Call struct {
	SrcStage vk.PipelineStageFlags
	DstStage vk.PipelineStageFlags
	Memory   []graph.MemoryBarrier
	Buffers  []graph.BufferBarrier
	Images   []graph.ImageBarrier
}

// Recorder implements graph.CommandRecorder by keeping every call.
type Recorder struct {
	Calls []Call

	// Events lists barriers and pass boundaries in recording order.
	Events []string
}

// PipelineBarrier implements interface
func (r *Recorder) PipelineBarrier(src, dst vk.PipelineStageFlags, mem []graph.MemoryBarrier, buffers []graph.BufferBarrier, images []graph.ImageBarrier) {
	r.Calls = append(r.Calls, Call{
		SrcStage: src,
		DstStage: dst,
		Memory:   append([]graph.MemoryBarrier(nil), mem...),
		Buffers:  append([]graph.BufferBarrier(nil), buffers...),
		Images:   append([]graph.ImageBarrier(nil), images...),
	})
	r.Events = append(r.Events, "barrier")
}

// Handle implements interface
func (r *Recorder) Handle() vk.CommandBuffer {
	return nil
}

// Mark appends a user event, typically from a pass callback.
func (r *Recorder) Mark(event string) {
	r.Events = append(r.Events, event)
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.Calls = r.Calls[:0]
	r.Events = r.Events[:0]
}

// ImageBarriers returns every image barrier recorded, in order.
func (r *Recorder) ImageBarriers() []graph.ImageBarrier {
	var out []graph.ImageBarrier
	for _, c := range r.Calls {
		out = append(out, c.Images...)
	}
	return out
}

// BufferBarriers returns every buffer barrier recorded, in order.
func (r *Recorder) BufferBarriers() []graph.BufferBarrier {
	var out []graph.BufferBarrier
	for _, c := range r.Calls {
		out = append(out, c.Buffers...)
	}
	return out
}

// RenderPassCache implements graph.RenderPassCache without creating anything.
type RenderPassCache struct {
	// Err, if set, is returned by BeginPass.
	Err error

	Begun, Ended int
	Colors       [][]graph.ResolvedColorAttachment
}

// BeginPass implements interface
func (c *RenderPassCache) BeginPass(cmd graph.CommandRecorder, colors []graph.ResolvedColorAttachment, depth *graph.ResolvedDepthAttachment) (vk.RenderPass, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.Begun++
	c.Colors = append(c.Colors, colors)
	if r, ok := cmd.(*Recorder); ok {
		r.Mark("begin")
	}
	return nil, nil
}

// EndPass implements interface
func (c *RenderPassCache) EndPass(cmd graph.CommandRecorder) {
	c.Ended++
	if r, ok := cmd.(*Recorder); ok {
		r.Mark("end")
	}
}
