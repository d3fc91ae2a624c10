// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultApplicationInfo describes the application to the vulkan driver.
var DefaultApplicationInfo = &vk.ApplicationInfo{
	SType:              vk.StructureTypeApplicationInfo,
	ApiVersion:         vk.MakeVersion(1, 0, 0),
	ApplicationVersion: vk.MakeVersion(1, 0, 0),
	PApplicationName:   safeString("Koru3D"),
	PEngineName:        safeString("Koru3D"),
}

// InstanceConfiguration configures instance creation.
type InstanceConfiguration struct {
	DebugMode  bool
	Extensions []string
	Layers     []string
}

// PhysicalDeviceInfo describes one GPU visible to the instance.
type PhysicalDeviceInfo struct {
	ID            int
	VendorID      int
	DriverVersion int
	Name          string
	Memory        uint
	Extensions    []string
	Layers        []string
	Invalid       bool
}

// Instance wraps a vulkan instance and the devices it enumerated.
type Instance struct {
	configuration InstanceConfiguration

	availableDevices []vk.PhysicalDevice
	surface          vk.Surface
	instance         vk.Instance
}

// NewInstance creates a vulkan instance. A nil procAddr loads the default
// vulkan library, otherwise it is the window system's loader.
func NewInstance(appInfo *vk.ApplicationInfo, procAddr unsafe.Pointer, cfg InstanceConfiguration) (*Instance, error) {
	if cfg.DebugMode {
		cfg.Layers = append(cfg.Layers, "VK_LAYER_LUNARG_standard_validation")
		cfg.Extensions = append(cfg.Extensions, "VK_EXT_debug_report")
	}

	if procAddr == nil {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return nil, errors.Wrap(err, "vk.SetDefaultGetInstanceProcAddr()")
		}
	} else {
		vk.SetGetInstanceProcAddr(procAddr)
	}

	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "vk.Init()")
	}

	instanceInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(cfg.Extensions)),
		PpEnabledExtensionNames: safeStrings(cfg.Extensions),
		EnabledLayerCount:       uint32(len(cfg.Layers)),
		PpEnabledLayerNames:     safeStrings(cfg.Layers),
	}

	var instance vk.Instance
	if err := vk.Error(vk.CreateInstance(&instanceInfo, nil, &instance)); err != nil {
		return nil, errors.Errorf("vk.CreateInstance(): %s", err)
	}
	vk.InitInstance(instance)

	physicalDevices, err := enumerateDevices(instance)
	if err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, err
	}

	return &Instance{
		configuration:    cfg,
		instance:         instance,
		availableDevices: physicalDevices,
	}, nil
}

func enumerateDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var deviceCount uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &deviceCount, nil)); err != nil {
		return nil, errors.Errorf("vk.EnumeratePhysicalDevices(): %s", err)
	}
	availableDevices := make([]vk.PhysicalDevice, deviceCount)
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &deviceCount, availableDevices)); err != nil {
		return nil, errors.Errorf("vk.EnumeratePhysicalDevices(): %s", err)
	}
	return availableDevices, nil
}

// PhysicalDevicesInfo describes every enumerated device.
func (v *Instance) PhysicalDevicesInfo() []PhysicalDeviceInfo {
	pdi := make([]PhysicalDeviceInfo, len(v.availableDevices))
	for i, dev := range v.availableDevices {
		var numDeviceExtensions uint32
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(dev, "", &numDeviceExtensions, nil)); err != nil {
			pdi[i].Invalid = true
		}
		deviceExt := make([]vk.ExtensionProperties, numDeviceExtensions)
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(dev, "", &numDeviceExtensions, deviceExt)); err != nil {
			pdi[i].Invalid = true
		}
		for _, ext := range deviceExt {
			ext.Deref()
			pdi[i].Extensions = append(pdi[i].Extensions, vk.ToString(ext.ExtensionName[:]))
		}

		var numDeviceLayers uint32
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(dev, &numDeviceLayers, nil)); err != nil {
			pdi[i].Invalid = true
		}
		deviceLayers := make([]vk.LayerProperties, numDeviceLayers)
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(dev, &numDeviceLayers, deviceLayers)); err != nil {
			pdi[i].Invalid = true
		}
		for _, layer := range deviceLayers {
			layer.Deref()
			pdi[i].Layers = append(pdi[i].Layers, vk.ToString(layer.LayerName[:]))
		}

		var memoryProperties vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(dev, &memoryProperties)
		memoryProperties.Deref()
		for iMem := uint32(0); iMem < memoryProperties.MemoryHeapCount; iMem++ {
			memoryProperties.MemoryHeaps[iMem].Deref()
			pdi[i].Memory += uint(memoryProperties.MemoryHeaps[iMem].Size)
		}

		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(dev, &props)
		props.Deref()
		pdi[i].ID = int(props.DeviceID)
		pdi[i].VendorID = int(props.VendorID)
		pdi[i].Name = vk.ToString(props.DeviceName[:])
		pdi[i].DriverVersion = int(props.DriverVersion)
	}
	return pdi
}

// SetSurface sets the window surface for rendering.
func (v *Instance) SetSurface(pSurface unsafe.Pointer) {
	v.surface = vk.SurfaceFromPointer(uintptr(pSurface))
}

// Surface returns the window surface, or a null surface if none is set.
func (v *Instance) Surface() vk.Surface {
	if v.surface == nil {
		return vk.NullSurface
	}
	return v.surface
}

// Inner returns the vulkan instance handle.
func (v *Instance) Inner() vk.Instance {
	return v.instance
}

// AvailableDevices returns handles of every physical device.
func (v *Instance) AvailableDevices() []vk.PhysicalDevice {
	return v.availableDevices
}

// Release destroys the surface and the instance.
func (v *Instance) Release() {
	if v.surface != nil {
		vk.DestroySurface(v.instance, v.surface, nil)
	}
	v.availableDevices = nil
	vk.DestroyInstance(v.instance, nil)
}

// Context owns the logical device and the single queue a frame is
// submitted to.
type Context struct {
	logger log.FieldLogger

	instance       *Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	queue          vk.Queue
	queueFamily    uint32

	timestampPeriod float32
}

// NewContext picks the first device of instance with a queue family
// that can both render and present, and creates a logical device on it.
func NewContext(instance *Instance, logger log.FieldLogger) (*Context, error) {
	if len(instance.AvailableDevices()) == 0 {
		return nil, errors.New("no vulkan capable device found")
	}
	ctx := &Context{
		logger:         logger,
		instance:       instance,
		physicalDevice: instance.AvailableDevices()[0],
	}

	family, err := ctx.findQueueFamily()
	if err != nil {
		return nil, err
	}
	ctx.queueFamily = family

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: family,
		QueueCount:       1,
		PQueuePriorities: []float32{1},
	}}
	requiredExtensions := []string{
		vk.KhrSwapchainExtensionName,
	}

	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(requiredExtensions)),
		PpEnabledExtensionNames: safeStrings(requiredExtensions),
	}
	var device vk.Device
	if err := vk.Error(vk.CreateDevice(ctx.physicalDevice, &dci, nil, &device)); err != nil {
		return nil, errors.Errorf("vk.CreateDevice(): %s", err)
	}
	ctx.device = device

	var queue vk.Queue
	vk.GetDeviceQueue(device, family, 0, &queue)
	ctx.queue = queue

	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(ctx.physicalDevice, &props)
	props.Deref()
	props.Limits.Deref()
	ctx.timestampPeriod = props.Limits.TimestampPeriod

	logger.WithFields(log.Fields{
		"device":      vk.ToString(props.DeviceName[:]),
		"queueFamily": family,
	}).Info("vulkan context ready")
	return ctx, nil
}

func (c *Context) findQueueFamily() (uint32, error) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(c.physicalDevice, &count, nil)
	if count == 0 {
		return 0, errors.New("vk.GetPhysicalDeviceQueueFamilyProperties(): no queue families on GPU")
	}
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(c.physicalDevice, &count, families)

	required := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	surface := c.instance.Surface()
	for i := uint32(0); i < count; i++ {
		families[i].Deref()
		if families[i].QueueFlags&required != required {
			continue
		}
		if surface != vk.NullSurface {
			var supportsPresent vk.Bool32
			vk.GetPhysicalDeviceSurfaceSupport(c.physicalDevice, i, surface, &supportsPresent)
			if !supportsPresent.B() {
				continue
			}
		}
		return i, nil
	}
	return 0, errors.New("could not find a queue family with graphics, compute and present support")
}

// Device returns the logical device.
func (c *Context) Device() vk.Device {
	return c.device
}

// PhysicalDevice returns the device the context was created on.
func (c *Context) PhysicalDevice() vk.PhysicalDevice {
	return c.physicalDevice
}

// Queue returns the queue frames are submitted to.
func (c *Context) Queue() vk.Queue {
	return c.queue
}

// QueueFamily returns the family index of Queue.
func (c *Context) QueueFamily() uint32 {
	return c.queueFamily
}

// Surface returns the surface of the instance.
func (c *Context) Surface() vk.Surface {
	return c.instance.Surface()
}

// WaitIdle blocks until the device has finished all submitted work.
func (c *Context) WaitIdle() {
	vk.DeviceWaitIdle(c.device)
}

// Release destroys the logical device.
func (c *Context) Release() {
	vk.DeviceWaitIdle(c.device)
	vk.DestroyDevice(c.device, nil)
}
