// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vulkan implements the device abstraction on the Vulkan API
package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
)

// DefaultApplicationInfo describes the engine to the Vulkan loader
var DefaultApplicationInfo = &vk.ApplicationInfo{
	SType:              vk.StructureTypeApplicationInfo,
	ApiVersion:         vk.MakeVersion(1, 0, 0),
	ApplicationVersion: vk.MakeVersion(1, 0, 0),
	PApplicationName:   safeString("Koru3D"),
	PEngineName:        safeString("Koru3D"),
}

// SwapchainExtension has to be enabled on devices that present
const SwapchainExtension = vk.KhrSwapchainExtensionName

// NewInstance creates a Vulkan instance. procAddr is the loader entry point
// of the windowing library, nil uses the default loader.
func NewInstance(appInfo *vk.ApplicationInfo, procAddr unsafe.Pointer, cfg core.InstanceConfiguration) (*Instance, error) {
	if cfg.DebugMode {
		cfg.Layers = append(cfg.Layers, "VK_LAYER_LUNARG_standard_validation")
		cfg.Extensions = append(cfg.Extensions, "VK_EXT_debug_report")
	}

	if procAddr == nil {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return nil, core.Fatal(err, "vk.SetDefaultGetInstanceProcAddr()")
		}
	} else {
		vk.SetGetInstanceProcAddr(procAddr)
	}
	if err := vk.Init(); err != nil {
		return nil, core.Fatal(err, "vk.Init()")
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
		return nil, core.Fatal(err, "vk.CreateInstance()")
	}
	vk.InitInstance(instance)

	var count uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &count, nil)); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, core.Fatal(err, "vk.EnumeratePhysicalDevices()")
	}
	physical := make([]vk.PhysicalDevice, count)
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &count, physical)); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, core.Fatal(err, "vk.EnumeratePhysicalDevices()")
	}

	log.WithFields(log.Fields{
		"devices":    count,
		"extensions": cfg.Extensions,
		"layers":     cfg.Layers,
	}).Info("vulkan instance created")
	return &Instance{
		configuration: cfg,
		instance:      instance,
		physical:      physical,
	}, nil
}

// Instance is a Vulkan API instance. It owns the window system surfaces.
type Instance struct {
	configuration core.InstanceConfiguration
	instance      vk.Instance
	physical      []vk.PhysicalDevice
	surfaces      table[device.Surface, vk.Surface]
}

// PhysicalDevicesInfo implements device.Instance
func (v *Instance) PhysicalDevicesInfo() []device.PhysicalDeviceInfo {
	pdi := make([]device.PhysicalDeviceInfo, len(v.physical))
	for i, pd := range v.physical {
		pdi[i].Index = i

		var numExtensions uint32
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(pd, "", &numExtensions, nil)); err != nil {
			pdi[i].Invalid = true
		}
		extensions := make([]vk.ExtensionProperties, numExtensions)
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(pd, "", &numExtensions, extensions)); err != nil {
			pdi[i].Invalid = true
		}
		for _, ext := range extensions {
			ext.Deref()
			pdi[i].Extensions = append(pdi[i].Extensions, vk.ToString(ext.ExtensionName[:]))
		}

		var numLayers uint32
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(pd, &numLayers, nil)); err != nil {
			pdi[i].Invalid = true
		}
		layers := make([]vk.LayerProperties, numLayers)
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(pd, &numLayers, layers)); err != nil {
			pdi[i].Invalid = true
		}
		for _, layer := range layers {
			layer.Deref()
			pdi[i].Layers = append(pdi[i].Layers, vk.ToString(layer.LayerName[:]))
		}

		var memoryProperties vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(pd, &memoryProperties)
		memoryProperties.Deref()
		for h := uint32(0); h < memoryProperties.MemoryHeapCount; h++ {
			memoryProperties.MemoryHeaps[h].Deref()
			pdi[i].Memory += uint64(memoryProperties.MemoryHeaps[h].Size)
		}

		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &properties)
		properties.Deref()
		pdi[i].ID = int(properties.DeviceID)
		pdi[i].VendorID = int(properties.VendorID)
		pdi[i].Name = vk.ToString(properties.DeviceName[:])
		pdi[i].DriverVersion = int(properties.DriverVersion)
		pdi[i].QueueFamilies = queueFamilies(pd)
	}
	return pdi
}

func queueFamilies(pd vk.PhysicalDevice) []device.QueueFamily {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, props)
	families := make([]device.QueueFamily, count)
	for i := range props {
		props[i].Deref()
		families[i] = device.QueueFamily{
			Flags: device.QueueFlags(props[i].QueueFlags),
			Count: props[i].QueueCount,
		}
	}
	return families
}

// Extensions implements device.Instance
func (v *Instance) Extensions() []string {
	return v.configuration.Extensions
}

// Inner implements device.Instance, it returns the vk.Instance
func (v *Instance) Inner() interface{} {
	return v.instance
}

// RegisterSurface takes ownership of a native surface created by the
// windowing library and returns its handle.
func (v *Instance) RegisterSurface(surface unsafe.Pointer) device.Surface {
	return v.surfaces.add(vk.SurfaceFromPointer(uintptr(surface)))
}

func (v *Instance) destroySurface(s device.Surface) {
	if surface, ok := v.surfaces.remove(s); ok {
		vk.DestroySurface(v.instance, surface, nil)
	}
}

// NewDriver creates a logical device on the physical device at index,
// with every queue of every family. extensions are device extensions.
func (v *Instance) NewDriver(index int, extensions []string) (*Driver, error) {
	if index < 0 || index >= len(v.physical) {
		return nil, errors.Wrapf(core.ErrConfiguration, "physical device %d out of %d", index, len(v.physical))
	}
	pd := v.physical[index]
	families := queueFamilies(pd)

	var queueInfos []vk.DeviceQueueCreateInfo
	for i, f := range families {
		if f.Count == 0 {
			continue
		}
		priorities := make([]float32, f.Count)
		for p := range priorities {
			priorities[p] = 1
		}
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: uint32(i),
			QueueCount:       f.Count,
			PQueuePriorities: priorities,
		})
	}

	var logical vk.Device
	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	if err := vk.Error(vk.CreateDevice(pd, &dci, nil, &logical)); err != nil {
		return nil, core.Fatal(err, "vk.CreateDevice()")
	}

	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &memoryProperties)
	memoryProperties.Deref()
	types := make([]device.MemoryType, memoryProperties.MemoryTypeCount)
	for i := range types {
		memoryProperties.MemoryTypes[i].Deref()
		types[i] = device.MemoryType{
			Properties: device.MemoryProperty(memoryProperties.MemoryTypes[i].PropertyFlags),
			HeapIndex:  memoryProperties.MemoryTypes[i].HeapIndex,
		}
	}

	log.WithFields(log.Fields{
		"physical":   index,
		"families":   len(families),
		"extensions": extensions,
	}).Info("vulkan device created")
	return &Driver{
		instance: v,
		physical: pd,
		device:   logical,
		types:    types,
		families: families,
	}, nil
}

// Destroy implements device.Instance. Surfaces still registered are destroyed too.
func (v *Instance) Destroy() {
	v.surfaces.mutex.Lock()
	v.surfaces.items.Each(func(_ device.Surface, s vk.Surface) {
		vk.DestroySurface(v.instance, s, nil)
	})
	v.surfaces.items.Clear()
	v.surfaces.mutex.Unlock()

	v.physical = nil
	vk.DestroyInstance(v.instance, nil)
}

func safeString(s string) string {
	return fmt.Sprintf("%s\x00", s)
}

func safeStrings(sgs []string) []string {
	safe := make([]string, 0, len(sgs))
	for _, s := range sgs {
		safe = append(safe, safeString(s))
	}
	return safe
}

var _ device.Instance = (*Instance)(nil)
