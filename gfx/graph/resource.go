// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package graph

import (
	"fmt"

	"github.com/devblok/korugraph/gfx"
	vk "github.com/devblok/vulkan"
)

// ImageProxyID identifies an image declared on a Graph.
type ImageProxyID uint32

// ImageViewProxyID identifies an image view declared on a Graph.
type ImageViewProxyID uint32

// BufferProxyID identifies a buffer declared on a Graph.
type BufferProxyID uint32

// ImageKey describes a transient image. Images with equal keys
// are interchangeable and pooled together.
type ImageKey struct {
	Format     vk.Format
	Extent     gfx.Extent3D
	MipCount   uint32
	LayerCount uint32
	Usage      vk.ImageUsageFlags
}

func (k ImageKey) String() string {
	return fmt.Sprintf("%dx%dx%d fmt=%d mips=%d layers=%d usage=%#x",
		k.Extent.Width, k.Extent.Height, k.Extent.Depth, k.Format, k.MipCount, k.LayerCount, k.Usage)
}

// BufferKey describes a transient buffer.
type BufferKey struct {
	Size  uint64
	Usage vk.BufferUsageFlags
}

func (k BufferKey) String() string {
	return fmt.Sprintf("size=%d usage=%#x", k.Size, k.Usage)
}

// SubresourceRange is a window of mip levels and array layers of an image.
type SubresourceRange struct {
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// WholeImage returns the range covering every mip and layer of key.
func WholeImage(key ImageKey) SubresourceRange {
	return SubresourceRange{MipCount: key.MipCount, LayerCount: key.LayerCount}
}

// Contains reports whether the subresource at (mip, layer) lies in r.
func (r SubresourceRange) Contains(mip, layer uint32) bool {
	return mip >= r.BaseMip && mip < r.BaseMip+r.MipCount &&
		layer >= r.BaseLayer && layer < r.BaseLayer+r.LayerCount
}

func (r SubresourceRange) String() string {
	return fmt.Sprintf("mips[%d+%d] layers[%d+%d]", r.BaseMip, r.MipCount, r.BaseLayer, r.LayerCount)
}

// Image is a concrete image. The allocation owns this record; views only
// point back at it.
type Image struct {
	Handle  vk.Image
	Key     ImageKey
	Label   string
	Backing gfx.Releasable
}

// Release implements gfx.Releasable
func (i *Image) Release() {
	if i.Backing != nil {
		i.Backing.Release()
	}
}

// ImageView is a concrete view of a subresource range of an Image.
type ImageView struct {
	Handle  vk.ImageView
	Image   *Image
	Range   SubresourceRange
	Backing gfx.Releasable
}

// Release implements gfx.Releasable
func (v *ImageView) Release() {
	if v.Backing != nil {
		v.Backing.Release()
	}
}

// Buffer is a concrete buffer.
type Buffer struct {
	Handle  vk.Buffer
	Key     BufferKey
	Label   string
	Backing gfx.Releasable
}

// Release implements gfx.Releasable
func (b *Buffer) Release() {
	if b.Backing != nil {
		b.Backing.Release()
	}
}

// Device allocates the concrete resources that back transient proxies.
type Device interface {
	CreateImage(key ImageKey) (*Image, error)
	CreateImageView(image *Image, rng SubresourceRange) (*ImageView, error)
	CreateBuffer(key BufferKey) (*Buffer, error)
}

type imageProxy struct {
	key      ImageKey
	external *Image
	resolved *Image
}

type imageViewProxy struct {
	image         ImageProxyID
	rng           SubresourceRange
	external      *ImageView
	externalUsage ImageUsage
	resolved      *ImageView
}

type bufferProxy struct {
	key      BufferKey
	elemSize uint64
	count    int
	external *Buffer
	resolved *Buffer
}

func aspectOf(format vk.Format) vk.ImageAspectFlags {
	switch format {
	case vk.FormatD16Unorm, vk.FormatX8D24UnormPack32, vk.FormatD32Sfloat:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	case vk.FormatS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}
