// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/korugraph/gfx/graph"
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MaxColorAttachments is the most colour attachments a render pass may use.
const MaxColorAttachments = 8

type renderPassKey struct {
	colorCount   int
	colorFormats [MaxColorAttachments]vk.Format
	colorLoadOps [MaxColorAttachments]graph.LoadOp
	hasDepth     bool
	depthFormat  vk.Format
	depthLoadOp  graph.LoadOp
}

type framebufferKey struct {
	renderPass vk.RenderPass
	views      [MaxColorAttachments + 1]vk.ImageView
	width      uint32
	height     uint32
	layers     uint32
}

// RenderPassCache creates render passes and framebuffers on demand for
// graph render pass tasks and keeps them for later frames.
type RenderPassCache struct {
	device vk.Device
	logger log.FieldLogger

	renderPasses map[renderPassKey]vk.RenderPass
	framebuffers map[framebufferKey]vk.Framebuffer
}

// NewRenderPassCache creates an empty cache on device.
func NewRenderPassCache(device vk.Device, logger log.FieldLogger) *RenderPassCache {
	return &RenderPassCache{
		device:       device,
		logger:       logger,
		renderPasses: make(map[renderPassKey]vk.RenderPass),
		framebuffers: make(map[framebufferKey]vk.Framebuffer),
	}
}

// BeginPass implements interface
func (c *RenderPassCache) BeginPass(cmd graph.CommandRecorder, colors []graph.ResolvedColorAttachment, depth *graph.ResolvedDepthAttachment) (vk.RenderPass, error) {
	if len(colors) > MaxColorAttachments {
		return nil, errors.Errorf("%d colour attachments, at most %d supported", len(colors), MaxColorAttachments)
	}
	if len(colors) == 0 && depth == nil {
		return nil, errors.New("render pass without attachments")
	}

	renderPass, err := c.renderPass(colors, depth)
	if err != nil {
		return nil, err
	}

	width, height, layers := attachmentExtent(colors, depth)
	framebuffer, err := c.framebuffer(renderPass, colors, depth, width, height, layers)
	if err != nil {
		return nil, err
	}

	clearValues := make([]vk.ClearValue, 0, len(colors)+1)
	for _, a := range colors {
		var cv vk.ClearValue
		cv.SetColor(a.Clear[:])
		clearValues = append(clearValues, cv)
	}
	if depth != nil {
		var cv vk.ClearValue
		cv.SetDepthStencil(depth.ClearDepth, depth.ClearStencil)
		clearValues = append(clearValues, cv)
	}

	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  renderPass,
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: width, Height: height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd.Handle(), &rpbi, vk.SubpassContentsInline)
	return renderPass, nil
}

// EndPass implements interface
func (c *RenderPassCache) EndPass(cmd graph.CommandRecorder) {
	vk.CmdEndRenderPass(cmd.Handle())
}

func attachmentExtent(colors []graph.ResolvedColorAttachment, depth *graph.ResolvedDepthAttachment) (width, height, layers uint32) {
	var view *graph.ImageView
	if len(colors) > 0 {
		view = colors[0].View
	} else {
		view = depth.View
	}
	extent := view.Image.Key.Extent
	width = max(extent.Width>>view.Range.BaseMip, 1)
	height = max(extent.Height>>view.Range.BaseMip, 1)
	return width, height, view.Range.LayerCount
}

func (c *RenderPassCache) renderPass(colors []graph.ResolvedColorAttachment, depth *graph.ResolvedDepthAttachment) (vk.RenderPass, error) {
	key := renderPassKey{colorCount: len(colors)}
	for i, a := range colors {
		key.colorFormats[i] = a.View.Image.Key.Format
		key.colorLoadOps[i] = a.LoadOp
	}
	if depth != nil {
		key.hasDepth = true
		key.depthFormat = depth.View.Image.Key.Format
		key.depthLoadOp = depth.LoadOp
	}
	if rp, ok := c.renderPasses[key]; ok {
		return rp, nil
	}

	var (
		attachments []vk.AttachmentDescription
		colorRefs   []vk.AttachmentReference
	)
	for i := 0; i < key.colorCount; i++ {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.colorFormats[i],
			Samples:        vk.SampleCount1Bit,
			LoadOp:         key.colorLoadOps[i].Vulkan(),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if key.hasDepth {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         key.depthLoadOp.Vulkan(),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  key.depthLoadOp.Vulkan(),
			StencilStoreOp: vk.AttachmentStoreOpStore,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(key.colorCount),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}

	var renderPass vk.RenderPass
	if err := vk.Error(vk.CreateRenderPass(c.device, &rpci, nil, &renderPass)); err != nil {
		return nil, errors.Errorf("vk.CreateRenderPass(): %s", err)
	}
	c.renderPasses[key] = renderPass
	c.logger.WithFields(log.Fields{
		"colors": key.colorCount,
		"depth":  key.hasDepth,
	}).Debug("render pass created")
	return renderPass, nil
}

func (c *RenderPassCache) framebuffer(renderPass vk.RenderPass, colors []graph.ResolvedColorAttachment, depth *graph.ResolvedDepthAttachment, width, height, layers uint32) (vk.Framebuffer, error) {
	key := framebufferKey{
		renderPass: renderPass,
		width:      width,
		height:     height,
		layers:     layers,
	}
	views := make([]vk.ImageView, 0, len(colors)+1)
	for _, a := range colors {
		views = append(views, a.View.Handle)
	}
	if depth != nil {
		views = append(views, depth.View.Handle)
	}
	copy(key.views[:], views)

	if fb, ok := c.framebuffers[key]; ok {
		return fb, nil
	}

	fci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderPass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           width,
		Height:          height,
		Layers:          layers,
	}
	var framebuffer vk.Framebuffer
	if err := vk.Error(vk.CreateFramebuffer(c.device, &fci, nil, &framebuffer)); err != nil {
		return nil, errors.Errorf("vk.CreateFramebuffer(): %s", err)
	}
	c.framebuffers[key] = framebuffer
	c.logger.WithFields(log.Fields{
		"width":       width,
		"height":      height,
		"attachments": len(views),
	}).Debug("framebuffer created")
	return framebuffer, nil
}

// ReleaseFramebuffers destroys every framebuffer. Call it before the views
// they reference are destroyed, such as on swapchain recreation.
func (c *RenderPassCache) ReleaseFramebuffers() {
	for key, fb := range c.framebuffers {
		vk.DestroyFramebuffer(c.device, fb, nil)
		delete(c.framebuffers, key)
	}
}

// Release destroys every framebuffer and render pass.
func (c *RenderPassCache) Release() {
	c.ReleaseFramebuffers()
	for key, rp := range c.renderPasses {
		vk.DestroyRenderPass(c.device, rp, nil)
		delete(c.renderPasses, key)
	}
}
