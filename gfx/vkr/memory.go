// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
)

// ErrNoMemoryType is returned when no heap satisfies an allocation.
var ErrNoMemoryType = errors.New("suitable memory type not found")

// Memory is one device allocation backing a single image or buffer. The
// owning resource binds it at Offset and frees it on Release.
type Memory struct {
	mapped      bool
	len, offset uint
	device      vk.Device
	memory      vk.DeviceMemory
}

// Len is the allocation size in bytes, which may exceed the size the
// resource asked for.
func (m *Memory) Len() uint {
	return m.len
}

// Offset is where the resource is bound inside the allocation. Always zero
// while every resource gets its own allocation.
func (m *Memory) Offset() uint {
	return m.offset
}

// Get returns the vk.DeviceMemory handle.
func (m *Memory) Get() vk.DeviceMemory {
	return m.memory
}

// Map makes the allocation visible to the host. Only memory allocated
// with MemoryPropertyHostVisibleBit can be mapped; for anything else the
// vk.MapMemory() result is returned and the memory stays unmapped.
func (m *Memory) Map() (unsafe.Pointer, error) {
	var data unsafe.Pointer
	if err := vk.Error(vk.MapMemory(m.device, m.memory, vk.DeviceSize(m.offset), vk.DeviceSize(m.len), 0, &data)); err != nil {
		return nil, errors.Errorf("vk.MapMemory(): %s", err)
	}
	m.mapped = true
	return data, nil
}

// Unmap is a no-op unless Map succeeded.
func (m *Memory) Unmap() {
	if m.mapped {
		vk.UnmapMemory(m.device, m.memory)
		m.mapped = false
	}
}

// Release unmaps and frees the allocation. The resource bound to it must
// already be destroyed.
func (m *Memory) Release() {
	m.Unmap()
	vk.FreeMemory(m.device, m.memory, nil)
}

// NewMemoryAllocator reads the memory types of phyDevice once; allocations
// are then made on device.
func NewMemoryAllocator(device vk.Device, phyDevice vk.PhysicalDevice) *MemoryAllocator {
	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(phyDevice, &memProperties)
	memProperties.Deref()
	for idx := uint32(0); idx < memProperties.MemoryTypeCount; idx++ {
		memProperties.MemoryTypes[idx].Deref()
	}

	return &MemoryAllocator{
		device:        device,
		memProperties: memProperties,
	}
}

// MemoryAllocator hands out one dedicated allocation per resource.
type MemoryAllocator struct {
	device        vk.Device
	memProperties vk.PhysicalDeviceMemoryProperties
}

// Malloc allocates req.Size bytes from the first memory type allowed by
// req.MemoryTypeBits that has all of prop. ErrNoMemoryType is returned,
// wrapped, when none qualifies.
func (ma *MemoryAllocator) Malloc(req vk.MemoryRequirements, prop vk.MemoryPropertyFlagBits) (Memory, error) {
	typeIndex, err := ma.findMemoryType(req.MemoryTypeBits, vk.MemoryPropertyFlags(prop))
	if err != nil {
		return Memory{}, err
	}

	m := Memory{len: uint(req.Size), device: ma.device}
	if err := vk.Error(vk.AllocateMemory(ma.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: typeIndex,
	}, nil, &m.memory)); err != nil {
		return Memory{}, errors.Errorf("vk.AllocateMemory(): %s", err)
	}
	return m, nil
}

func (ma *MemoryAllocator) findMemoryType(filter uint32, prop vk.MemoryPropertyFlags) (uint32, error) {
	for idx := uint32(0); idx < ma.memProperties.MemoryTypeCount; idx++ {
		if filter&(1<<idx) != 0 && (ma.memProperties.MemoryTypes[idx].PropertyFlags&prop) == prop {
			return idx, nil
		}
	}
	return 0, errors.Wrapf(ErrNoMemoryType, "flags %#x", prop)
}
