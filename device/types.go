// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

// Handles are opaque integers handed out by a Driver. Zero is the null handle.
type (
	Buffer        uint64
	Image         uint64
	ImageView     uint64
	Memory        uint64
	Framebuffer   uint64
	RenderPass    uint64
	CommandPool   uint64
	CommandBuffer uint64
	Semaphore     uint64
	Fence         uint64
	Queue         uint64
	Swapchain     uint64
	Surface       uint64
)

// Flag and enum types carry the numeric values of their Vulkan counterparts,
// backends convert them with a plain type conversion.
type (
	BufferUsage        uint32
	ImageUsage         uint32
	MemoryProperty     uint32
	ImageAspect        uint32
	SampleCount        uint32
	AccessFlags        uint32
	PipelineStage      uint32
	DependencyFlags    uint32
	QueueFlags         uint32
	CommandBufferUsage uint32
	SurfaceTransform   uint32
	CompositeAlpha     uint32
	ImageCreateFlags   uint32

	ImageLayout        int32
	Format             int32
	PresentMode        int32
	ColorSpace         int32
	CommandBufferLevel int32
	SubpassContents    int32
	ImageType          int32
	ImageViewType      int32
	ImageTiling        int32
	SharingMode        int32
	AttachmentLoadOp   int32
	AttachmentStoreOp  int32
)

// Buffer usage bits
const (
	BufferUsageTransferSrc BufferUsage = 0x1
	BufferUsageTransferDst BufferUsage = 0x2
	BufferUsageUniform     BufferUsage = 0x10
	BufferUsageStorage     BufferUsage = 0x20
	BufferUsageIndex       BufferUsage = 0x40
	BufferUsageVertex      BufferUsage = 0x80
	BufferUsageIndirect    BufferUsage = 0x100
)

// Image usage bits
const (
	ImageUsageTransferSrc            ImageUsage = 0x1
	ImageUsageTransferDst            ImageUsage = 0x2
	ImageUsageSampled                ImageUsage = 0x4
	ImageUsageStorage                ImageUsage = 0x8
	ImageUsageColorAttachment        ImageUsage = 0x10
	ImageUsageDepthStencilAttachment ImageUsage = 0x20
	ImageUsageTransientAttachment    ImageUsage = 0x40
	ImageUsageInputAttachment        ImageUsage = 0x80
)

// Memory property bits
const (
	MemoryPropertyDeviceLocal  MemoryProperty = 0x1
	MemoryPropertyHostVisible  MemoryProperty = 0x2
	MemoryPropertyHostCoherent MemoryProperty = 0x4
	MemoryPropertyHostCached   MemoryProperty = 0x8
)

// Image aspect bits
const (
	ImageAspectColor   ImageAspect = 0x1
	ImageAspectDepth   ImageAspect = 0x2
	ImageAspectStencil ImageAspect = 0x4
)

// Sample counts
const (
	SampleCount1 SampleCount = 0x1
	SampleCount2 SampleCount = 0x2
	SampleCount4 SampleCount = 0x4
	SampleCount8 SampleCount = 0x8
)

// Image layouts
const (
	ImageLayoutUndefined                     ImageLayout = 0
	ImageLayoutGeneral                       ImageLayout = 1
	ImageLayoutColorAttachmentOptimal        ImageLayout = 2
	ImageLayoutDepthStencilAttachmentOptimal ImageLayout = 3
	ImageLayoutDepthStencilReadOnlyOptimal   ImageLayout = 4
	ImageLayoutShaderReadOnlyOptimal         ImageLayout = 5
	ImageLayoutTransferSrcOptimal            ImageLayout = 6
	ImageLayoutTransferDstOptimal            ImageLayout = 7
	ImageLayoutPreinitialized                ImageLayout = 8
	ImageLayoutPresentSrc                    ImageLayout = 1000001002
)

// Access bits
const (
	AccessInputAttachmentRead         AccessFlags = 0x10
	AccessShaderRead                  AccessFlags = 0x20
	AccessColorAttachmentRead         AccessFlags = 0x80
	AccessColorAttachmentWrite        AccessFlags = 0x100
	AccessDepthStencilAttachmentRead  AccessFlags = 0x200
	AccessDepthStencilAttachmentWrite AccessFlags = 0x400
	AccessTransferRead                AccessFlags = 0x800
	AccessTransferWrite               AccessFlags = 0x1000
	AccessHostWrite                   AccessFlags = 0x4000
	AccessMemoryRead                  AccessFlags = 0x8000
	AccessMemoryWrite                 AccessFlags = 0x10000
)

// Pipeline stage bits
const (
	PipelineStageTopOfPipe             PipelineStage = 0x1
	PipelineStageVertexInput           PipelineStage = 0x4
	PipelineStageFragmentShader        PipelineStage = 0x80
	PipelineStageEarlyFragmentTests    PipelineStage = 0x100
	PipelineStageLateFragmentTests     PipelineStage = 0x200
	PipelineStageColorAttachmentOutput PipelineStage = 0x400
	PipelineStageTransfer              PipelineStage = 0x1000
	PipelineStageBottomOfPipe          PipelineStage = 0x2000
	PipelineStageHost                  PipelineStage = 0x4000
	PipelineStageAllGraphics           PipelineStage = 0x8000
	PipelineStageAllCommands           PipelineStage = 0x10000
)

// DependencyByRegion is the only dependency flag in use
const DependencyByRegion DependencyFlags = 0x1

// Queue capability bits
const (
	QueueGraphics      QueueFlags = 0x1
	QueueCompute       QueueFlags = 0x2
	QueueTransfer      QueueFlags = 0x4
	QueueSparseBinding QueueFlags = 0x8
)

// Command buffer usage bits
const (
	CommandBufferUsageOneTimeSubmit      CommandBufferUsage = 0x1
	CommandBufferUsageRenderPassContinue CommandBufferUsage = 0x2
	CommandBufferUsageSimultaneousUse    CommandBufferUsage = 0x4
)

// Command buffer levels
const (
	CommandBufferLevelPrimary   CommandBufferLevel = 0
	CommandBufferLevelSecondary CommandBufferLevel = 1
)

// Subpass contents
const (
	SubpassContentsInline                  SubpassContents = 0
	SubpassContentsSecondaryCommandBuffers SubpassContents = 1
)

// Formats
const (
	FormatUndefined          Format = 0
	FormatR8g8b8a8Unorm      Format = 37
	FormatR8g8b8a8Srgb       Format = 43
	FormatB8g8r8a8Unorm      Format = 44
	FormatB8g8r8a8Srgb       Format = 50
	FormatR16g16b16a16Sfloat Format = 97
	FormatR32g32b32Sfloat    Format = 106
	FormatR32g32b32a32Sfloat Format = 109
	FormatD16Unorm           Format = 124
	FormatD32Sfloat          Format = 126
	FormatD24UnormS8Uint     Format = 129
	FormatD32SfloatS8Uint    Format = 130
)

// Present modes
const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFifo        PresentMode = 2
	PresentModeFifoRelaxed PresentMode = 3
)

// ColorSpaceSrgbNonlinear is the only color space every surface supports
const ColorSpaceSrgbNonlinear ColorSpace = 0

// Surface transform bits
const (
	SurfaceTransformIdentity SurfaceTransform = 0x1
)

// Composite alpha bits
const (
	CompositeAlphaOpaque         CompositeAlpha = 0x1
	CompositeAlphaPreMultiplied  CompositeAlpha = 0x2
	CompositeAlphaPostMultiplied CompositeAlpha = 0x4
	CompositeAlphaInherit        CompositeAlpha = 0x8
)

// Image types
const (
	ImageType1D ImageType = 0
	ImageType2D ImageType = 1
	ImageType3D ImageType = 2
)

// Image view types
const (
	ImageViewType1D      ImageViewType = 0
	ImageViewType2D      ImageViewType = 1
	ImageViewType3D      ImageViewType = 2
	ImageViewTypeCube    ImageViewType = 3
	ImageViewType2DArray ImageViewType = 5
)

// Image tiling
const (
	ImageTilingOptimal ImageTiling = 0
	ImageTilingLinear  ImageTiling = 1
)

// Sharing modes
const (
	SharingModeExclusive  SharingMode = 0
	SharingModeConcurrent SharingMode = 1
)

// Attachment load and store operations
const (
	AttachmentLoadOpLoad      AttachmentLoadOp  = 0
	AttachmentLoadOpClear     AttachmentLoadOp  = 1
	AttachmentLoadOpDontCare  AttachmentLoadOp  = 2
	AttachmentStoreOpStore    AttachmentStoreOp = 0
	AttachmentStoreOpDontCare AttachmentStoreOp = 1
)

// Extent2D is a width and height pair
type Extent2D struct {
	Width, Height uint32
}

// Extent3D is a width, height and depth triple
type Extent3D struct {
	Width, Height, Depth uint32
}

// MemoryRequirements is what a buffer or an image needs from memory
type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

// MemoryType is one memory type of a physical device
type MemoryType struct {
	Properties MemoryProperty
	HeapIndex  uint32
}

// QueueFamily describes one queue family of a physical device
type QueueFamily struct {
	Flags QueueFlags
	Count uint32
}

// SubresourceLayout locates an image subresource inside its memory
type SubresourceLayout struct {
	Offset     uint64
	Size       uint64
	RowPitch   uint64
	ArrayPitch uint64
	DepthPitch uint64
}

// ImageSubresourceRange selects mip levels and layers of an image
type ImageSubresourceRange struct {
	Aspect         ImageAspect
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// ImageCreateInfo describes a new image
type ImageCreateInfo struct {
	Flags         ImageCreateFlags
	Type          ImageType
	Format        Format
	Extent        Extent3D
	MipLevels     uint32
	ArrayLayers   uint32
	Samples       SampleCount
	Tiling        ImageTiling
	Usage         ImageUsage
	SharingMode   SharingMode
	InitialLayout ImageLayout
}

// ImageViewCreateInfo describes a new image view
type ImageViewCreateInfo struct {
	Image  Image
	Type   ImageViewType
	Format Format
	Range  ImageSubresourceRange
}

// FramebufferCreateInfo describes a new framebuffer
type FramebufferCreateInfo struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Width       uint32
	Height      uint32
	Layers      uint32
}

// AttachmentDescription is one render pass attachment
type AttachmentDescription struct {
	Format         Format
	Samples        SampleCount
	LoadOp         AttachmentLoadOp
	StoreOp        AttachmentStoreOp
	StencilLoadOp  AttachmentLoadOp
	StencilStoreOp AttachmentStoreOp
	InitialLayout  ImageLayout
	FinalLayout    ImageLayout
}

// AttachmentReference points a subpass at an attachment
type AttachmentReference struct {
	Attachment uint32
	Layout     ImageLayout
}

// RenderPassCreateInfo describes a single subpass render pass
type RenderPassCreateInfo struct {
	Attachments  []AttachmentDescription
	Color        []AttachmentReference
	Input        []AttachmentReference
	DepthStencil *AttachmentReference
}

// ImageBarrier is an image memory barrier with a layout transition
type ImageBarrier struct {
	SrcAccess AccessFlags
	DstAccess AccessFlags
	OldLayout ImageLayout
	NewLayout ImageLayout
	Image     Image
	Range     ImageSubresourceRange
}

// BufferCopy is one region of a buffer to buffer copy
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// ClearValue is a color or a depth/stencil clear value
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// RenderPassBeginInfo starts a render pass on a framebuffer
type RenderPassBeginInfo struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Extent      Extent2D
	ClearValues []ClearValue
}

// SubmitInfo is one queue submission
type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStage
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

// PresentInfo presents one swapchain image
type PresentInfo struct {
	WaitSemaphores []Semaphore
	Swapchain      Swapchain
	ImageIndex     uint32
}

// SurfaceCapabilities mirror what the window system supports for a surface
type SurfaceCapabilities struct {
	MinImageCount       uint32
	MaxImageCount       uint32
	CurrentExtent       Extent2D
	MinImageExtent      Extent2D
	MaxImageExtent      Extent2D
	MaxImageArrayLayers uint32
	SupportedTransforms SurfaceTransform
	CurrentTransform    SurfaceTransform
	CompositeAlpha      CompositeAlpha
	SupportedUsage      ImageUsage
}

// SurfaceFormat is a format and color space pair
type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

// SwapchainCreateInfo describes a new swapchain
type SwapchainCreateInfo struct {
	Surface        Surface
	MinImageCount  uint32
	Format         Format
	ColorSpace     ColorSpace
	Extent         Extent2D
	ArrayLayers    uint32
	Usage          ImageUsage
	SharingMode    SharingMode
	QueueFamilies  []uint32
	PreTransform   SurfaceTransform
	CompositeAlpha CompositeAlpha
	PresentMode    PresentMode
	Clipped        bool
	OldSwapchain   Swapchain
}

// Has reports whether all bits of o are set in p
func (p MemoryProperty) Has(o MemoryProperty) bool {
	return p&o == o
}

// Has reports whether all bits of o are set in f
func (f QueueFlags) Has(o QueueFlags) bool {
	return f&o == o
}

// DepthStencil reports whether f is a depth and/or stencil format
func (f Format) DepthStencil() bool {
	return f >= FormatD16Unorm && f <= FormatD32SfloatS8Uint
}
