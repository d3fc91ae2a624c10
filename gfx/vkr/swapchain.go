// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"fmt"
	"math"

	"github.com/devblok/korugraph/gfx"
	"github.com/devblok/korugraph/gfx/graph"
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrOutOfDate is returned when the swapchain no longer matches its surface.
var ErrOutOfDate = errors.New("swapchain out of date")

// SwapchainConfiguration configures swapchain creation.
type SwapchainConfiguration struct {
	Size   uint32
	Width  uint32
	Height uint32
}

// Swapchain owns the presentable images. They are handed to the graph as
// external images.
type Swapchain struct {
	ctx    *Context
	cfg    SwapchainConfiguration
	logger log.FieldLogger

	swapchain  vk.Swapchain
	format     vk.Format
	colorSpace vk.ColorSpace
	extent     gfx.Extent3D

	images []*graph.Image
	views  []*graph.ImageView
}

// NewSwapchain creates a swapchain on the surface of ctx.
func NewSwapchain(ctx *Context, cfg SwapchainConfiguration, logger log.FieldLogger) (*Swapchain, error) {
	s := &Swapchain{
		ctx:    ctx,
		cfg:    cfg,
		logger: logger,
		extent: gfx.Extent2D(cfg.Width, cfg.Height),
	}
	if err := s.chooseFormat(); err != nil {
		return nil, err
	}
	if err := s.create(nil); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Swapchain) chooseFormat() error {
	var count uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(s.ctx.PhysicalDevice(), s.ctx.Surface(), &count, nil)); err != nil {
		return errors.Errorf("vk.GetPhysicalDeviceSurfaceFormats(): %s", err)
	}
	if count == 0 {
		return errors.New("vk.GetPhysicalDeviceSurfaceFormats(): surface has no formats")
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(s.ctx.PhysicalDevice(), s.ctx.Surface(), &count, formats)); err != nil {
		return errors.Errorf("vk.GetPhysicalDeviceSurfaceFormats(): %s", err)
	}
	formats[0].Deref()
	s.format = formats[0].Format
	s.colorSpace = formats[0].ColorSpace
	return nil
}

func (s *Swapchain) create(old vk.Swapchain) error {
	var caps vk.SurfaceCapabilities
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(s.ctx.PhysicalDevice(), s.ctx.Surface(), &caps)); err != nil {
		return errors.Errorf("vk.GetPhysicalDeviceSurfaceCapabilities(): %s", err)
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	if caps.CurrentExtent.Width != math.MaxUint32 {
		s.extent = gfx.Extent2D(caps.CurrentExtent.Width, caps.CurrentExtent.Height)
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit)
	scci := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         s.ctx.Surface(),
		MinImageCount:   s.cfg.Size,
		ImageFormat:     s.format,
		ImageColorSpace: s.colorSpace,
		ImageExtent: vk.Extent2D{
			Width:  s.extent.Width,
			Height: s.extent.Height,
		},
		ImageUsage:       usage,
		PreTransform:     vk.SurfaceTransformIdentityBit,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     old,
	}

	var swapchain vk.Swapchain
	if err := vk.Error(vk.CreateSwapchain(s.ctx.Device(), &scci, nil, &swapchain)); err != nil {
		return errors.Errorf("vk.CreateSwapchain(): %s", err)
	}
	s.swapchain = swapchain

	var numImages uint32
	if err := vk.Error(vk.GetSwapchainImages(s.ctx.Device(), swapchain, &numImages, nil)); err != nil {
		return errors.Errorf("vk.GetSwapchainImages(num): %s", err)
	}
	handles := make([]vk.Image, numImages)
	if err := vk.Error(vk.GetSwapchainImages(s.ctx.Device(), swapchain, &numImages, handles)); err != nil {
		return errors.Errorf("vk.GetSwapchainImages(images): %s", err)
	}

	key := graph.ImageKey{
		Format:     s.format,
		Extent:     s.extent,
		MipCount:   1,
		LayerCount: 1,
		Usage:      usage,
	}
	for i, handle := range handles {
		img := &graph.Image{
			Handle: handle,
			Key:    key,
			Label:  fmt.Sprintf("swapchain-%d", i),
		}
		view, err := NewImageView(s.ctx.Device(), handle, s.format, graph.WholeImage(key))
		if err != nil {
			return err
		}
		device := s.ctx.Device()
		s.images = append(s.images, img)
		s.views = append(s.views, &graph.ImageView{
			Handle: view,
			Image:  img,
			Range:  graph.WholeImage(key),
			Backing: gfx.ReleaseFunc(func() {
				vk.DestroyImageView(device, view, nil)
			}),
		})
	}

	s.logger.WithFields(log.Fields{
		"images": numImages,
		"width":  s.extent.Width,
		"height": s.extent.Height,
	}).Info("swapchain created")
	return nil
}

// Acquire returns the index of the next image, signalling available once
// it may be written.
func (s *Swapchain) Acquire(available vk.Semaphore) (uint32, error) {
	var index uint32
	result := vk.AcquireNextImage(s.ctx.Device(), s.swapchain, math.MaxUint64, available, nil, &index)
	switch result {
	case vk.Success, vk.Suboptimal:
		return index, nil
	case vk.ErrorOutOfDate:
		return 0, ErrOutOfDate
	}
	return 0, errors.Errorf("vk.AcquireNextImage(): %s", vk.Error(result))
}

// Present queues image index for presentation once wait is signalled.
func (s *Swapchain) Present(wait vk.Semaphore, index uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.swapchain},
		PImageIndices:      []uint32{index},
	}
	result := vk.QueuePresent(s.ctx.Queue(), &presentInfo)
	switch result {
	case vk.Success:
		return nil
	case vk.Suboptimal, vk.ErrorOutOfDate:
		return ErrOutOfDate
	}
	return errors.Errorf("vk.QueuePresent(): %s", vk.Error(result))
}

// Recreate rebuilds the swapchain for the current surface size. The
// previous images are returned so that anything derived from them can
// be evicted; they are no longer valid.
func (s *Swapchain) Recreate() ([]*graph.Image, error) {
	s.ctx.WaitIdle()

	old := s.images
	for _, v := range s.views {
		v.Release()
	}
	s.images, s.views = nil, nil

	previous := s.swapchain
	if err := s.create(previous); err != nil {
		return old, err
	}
	vk.DestroySwapchain(s.ctx.Device(), previous, nil)
	return old, nil
}

// Len returns the number of swapchain images.
func (s *Swapchain) Len() int {
	return len(s.images)
}

// Image returns image index.
func (s *Swapchain) Image(index uint32) *graph.Image {
	return s.images[index]
}

// View returns the whole image view of image index.
func (s *Swapchain) View(index uint32) *graph.ImageView {
	return s.views[index]
}

// Format returns the format of the swapchain images.
func (s *Swapchain) Format() vk.Format {
	return s.format
}

// Extent returns the size of the swapchain images.
func (s *Swapchain) Extent() gfx.Extent3D {
	return s.extent
}

// Release destroys the views and the swapchain.
func (s *Swapchain) Release() {
	for _, v := range s.views {
		v.Release()
	}
	s.images, s.views = nil, nil
	vk.DestroySwapchain(s.ctx.Device(), s.swapchain, nil)
}
