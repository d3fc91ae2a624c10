// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vkr implements the vulkan renderer.
package vkr

import (
	"fmt"
	"unsafe"

	"github.com/devblok/korugraph/gfx"
	"github.com/devblok/korugraph/gfx/graph"
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
)

// NewBuffer creates, configures, allocates and binds a new buffer.
func NewBuffer(dev vk.Device, size uint64, usage vk.BufferUsageFlags, prop vk.MemoryPropertyFlagBits, ma *MemoryAllocator) (*Buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := vk.Error(vk.CreateBuffer(dev, &createInfo, nil, &buffer)); err != nil {
		return nil, errors.Errorf("vk.CreateBuffer(): %s", err)
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, buffer, &req)
	req.Deref()

	memory, err := ma.Malloc(req, prop)
	if err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		return nil, err
	}

	if err := vk.Error(vk.BindBufferMemory(dev, buffer, memory.Get(), vk.DeviceSize(memory.Offset()))); err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		memory.Release()
		return nil, errors.Errorf("vk.BindBufferMemory(): %s", err)
	}

	return &Buffer{
		device: dev,
		buffer: buffer,
		memory: memory,
	}, nil
}

// Buffer implements a generic vulkan buffer.
type Buffer struct {
	device vk.Device
	buffer vk.Buffer

	memory Memory
}

// Mem returns the Memory that the buffer is based on.
func (b *Buffer) Mem() *Memory {
	return &b.memory
}

// Get returns the vulkan Buffer handle.
func (b *Buffer) Get() vk.Buffer {
	return b.buffer
}

// Release destroys the buffer and memory asociated with it.
func (b *Buffer) Release() {
	vk.DestroyBuffer(b.device, b.buffer, nil)
	b.memory.Release()
}

// NewImage creates a device local image described by key.
func NewImage(dev vk.Device, key graph.ImageKey, ma *MemoryAllocator) (*Image, error) {
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  key.Extent.Width,
			Height: key.Extent.Height,
			Depth:  key.Extent.Depth,
		},
		MipLevels:     key.MipCount,
		ArrayLayers:   key.LayerCount,
		Format:        key.Format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         key.Usage,
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}
	if key.Extent.Depth > 1 {
		createInfo.ImageType = vk.ImageType3d
	}

	var image vk.Image
	if err := vk.Error(vk.CreateImage(dev, &createInfo, nil, &image)); err != nil {
		return nil, errors.Errorf("vk.CreateImage(): %s", err)
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, image, &req)
	req.Deref()

	memory, err := ma.Malloc(req, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(dev, image, nil)
		return nil, err
	}

	if err := vk.Error(vk.BindImageMemory(dev, image, memory.Get(), vk.DeviceSize(memory.Offset()))); err != nil {
		vk.DestroyImage(dev, image, nil)
		memory.Release()
		return nil, errors.Errorf("vk.BindImageMemory(): %s", err)
	}

	return &Image{
		device: dev,
		image:  image,
		memory: memory,
	}, nil
}

// Image implements and abstracts vulkan image primitive.
type Image struct {
	device vk.Device
	image  vk.Image
	memory Memory
}

// Get returns the vulkan Image handle.
func (i *Image) Get() vk.Image {
	return i.image
}

// Release destroys the image and its memory.
func (i *Image) Release() {
	vk.DestroyImage(i.device, i.image, nil)
	i.memory.Release()
}

// NewImageView creates a view of rng on image.
func NewImageView(dev vk.Device, image vk.Image, format vk.Format, rng graph.SubresourceRange) (vk.ImageView, error) {
	viewType := vk.ImageViewType2d
	if rng.LayerCount > 1 {
		viewType = vk.ImageViewType2dArray
	}
	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: subresourceRange(format, rng),
	}

	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(dev, &ivci, nil, &view)); err != nil {
		return nil, errors.Errorf("vk.CreateImageView(): %s", err)
	}
	return view, nil
}

func subresourceRange(format vk.Format, rng graph.SubresourceRange) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     aspectOf(format),
		BaseMipLevel:   rng.BaseMip,
		LevelCount:     rng.MipCount,
		BaseArrayLayer: rng.BaseLayer,
		LayerCount:     rng.LayerCount,
	}
}

func aspectOf(format vk.Format) vk.ImageAspectFlags {
	switch format {
	case vk.FormatD16Unorm, vk.FormatX8D24UnormPack32, vk.FormatD32Sfloat:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

// Device allocates the resources backing transient graph proxies.
type Device struct {
	device    vk.Device
	allocator *MemoryAllocator
	images    int
	buffers   int
}

// NewDevice creates a graph.Device allocating on ctx's logical device.
func NewDevice(ctx *Context) *Device {
	return &Device{
		device:    ctx.Device(),
		allocator: NewMemoryAllocator(ctx.Device(), ctx.PhysicalDevice()),
	}
}

// CreateImage implements interface
func (d *Device) CreateImage(key graph.ImageKey) (*graph.Image, error) {
	img, err := NewImage(d.device, key, d.allocator)
	if err != nil {
		return nil, err
	}
	d.images++
	return &graph.Image{
		Handle:  img.Get(),
		Key:     key,
		Label:   fmt.Sprintf("transient-image-%d", d.images),
		Backing: img,
	}, nil
}

// CreateImageView implements interface
func (d *Device) CreateImageView(image *graph.Image, rng graph.SubresourceRange) (*graph.ImageView, error) {
	view, err := NewImageView(d.device, image.Handle, image.Key.Format, rng)
	if err != nil {
		return nil, err
	}
	return &graph.ImageView{
		Handle: view,
		Image:  image,
		Range:  rng,
		Backing: gfx.ReleaseFunc(func() {
			vk.DestroyImageView(d.device, view, nil)
		}),
	}, nil
}

// CreateBuffer implements interface
func (d *Device) CreateBuffer(key graph.BufferKey) (*graph.Buffer, error) {
	buf, err := NewBuffer(d.device, key.Size, key.Usage, vk.MemoryPropertyDeviceLocalBit, d.allocator)
	if err != nil {
		return nil, err
	}
	d.buffers++
	return &graph.Buffer{
		Handle:  buf.Get(),
		Key:     key,
		Label:   fmt.Sprintf("transient-buffer-%d", d.buffers),
		Backing: buf,
	}, nil
}

// CreateStagingBuffer creates a host visible transfer source holding a copy
// of data. The caller owns the returned buffer.
func (d *Device) CreateStagingBuffer(label string, data []byte) (*graph.Buffer, error) {
	if len(data) == 0 {
		return nil, errors.New("empty staging buffer")
	}
	usage := vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	buf, err := NewBuffer(d.device, uint64(len(data)), usage,
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit, d.allocator)
	if err != nil {
		return nil, err
	}

	ptr, err := buf.Mem().Map()
	if err != nil {
		buf.Release()
		return nil, err
	}
	copy(unsafe.Slice((*byte)(ptr), buf.Mem().Len()), data)
	buf.Mem().Unmap()

	return &graph.Buffer{
		Handle:  buf.Get(),
		Key:     graph.BufferKey{Size: uint64(len(data)), Usage: usage},
		Label:   label,
		Backing: buf,
	}, nil
}
