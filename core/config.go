// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"strconv"
	"strings"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Environment keys read by LoadConfiguration
const (
	KeyFramesPerSecond  = "KORU_FPS"
	KeyEventPollDelay   = "KORU_EVENT_POLL_DELAY"
	KeySwapchainSize    = "KORU_SWAPCHAIN_SIZE"
	KeyPresentMode      = "KORU_PRESENT_MODE"
	KeyScreenWidth      = "KORU_SCREEN_WIDTH"
	KeyScreenHeight     = "KORU_SCREEN_HEIGHT"
	KeyDeviceExtensions = "KORU_DEVICE_EXTENSIONS"
	KeyHeapSize         = "KORU_HEAP_SIZE"
	KeyStagingPool      = "KORU_STAGING_POOL"
	KeyDebugMode        = "KORU_DEBUG"
	KeyInstanceLayers   = "KORU_INSTANCE_LAYERS"
	KeyLogLevel         = "KORU_LOG_LEVEL"
	KeyLogFormat        = "KORU_LOG_FORMAT"
	KeyAssetArchive     = "KORU_ASSET_ARCHIVE"
)

// Present modes understood by the configuration
const (
	PresentModeFifo      = "fifo"
	PresentModeMailbox   = "mailbox"
	PresentModeImmediate = "immediate"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration
	Renderer RendererConfiguration
	Instance InstanceConfiguration
	Log      LogConfiguration
	Assets   AssetsConfiguration
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int

	// EventPollDelay is the window event polling interval in milliseconds
	EventPollDelay int
}

// RendererConfiguration is used to configure surfaces and devices
type RendererConfiguration struct {
	SwapchainSize    uint32
	PresentMode      string
	DeviceExtensions []string

	ScreenWidth  uint32
	ScreenHeight uint32

	// HeapSize is the size in bytes of each device memory heap
	HeapSize uint64

	// StagingPool is the number of released staging buffers kept for reuse
	StagingPool int
}

// InstanceConfiguration is used to create the graphics API instance
type InstanceConfiguration struct {
	DebugMode  bool
	Extensions []string
	Layers     []string
}

// LogConfiguration sets up the standard logger
type LogConfiguration struct {
	Level  string
	Format string
}

// AssetsConfiguration points to resource archives
type AssetsConfiguration struct {
	Archive string
}

// LoadConfiguration reads the configuration from the environment. Files are
// loaded first, then keys that are still unset are taken from defaults, which
// is text in .env format.
func LoadConfiguration(defaults string, files ...string) (Configuration, error) {
	if len(files) > 0 {
		if err := envy.Load(files...); err != nil {
			return Configuration{}, errors.Wrap(ErrConfiguration, "envy.Load(): "+err.Error())
		}
	}

	values, err := godotenv.Unmarshal(defaults)
	if err != nil {
		return Configuration{}, errors.Wrap(ErrConfiguration, "godotenv.Unmarshal(): "+err.Error())
	}
	for k, v := range values {
		if _, err := envy.MustGet(k); err != nil {
			envy.Set(k, v)
		}
	}

	r := envReader{}
	cfg := Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: r.int(KeyFramesPerSecond, 60),
			EventPollDelay:  r.int(KeyEventPollDelay, 10),
		},
		Renderer: RendererConfiguration{
			SwapchainSize:    uint32(r.int(KeySwapchainSize, 3)),
			PresentMode:      strings.ToLower(envy.Get(KeyPresentMode, PresentModeFifo)),
			DeviceExtensions: r.list(KeyDeviceExtensions, "VK_KHR_swapchain"),
			ScreenWidth:      uint32(r.int(KeyScreenWidth, 800)),
			ScreenHeight:     uint32(r.int(KeyScreenHeight, 600)),
			HeapSize:         uint64(r.int(KeyHeapSize, 64<<20)),
			StagingPool:      r.int(KeyStagingPool, 4),
		},
		Instance: InstanceConfiguration{
			DebugMode: r.bool(KeyDebugMode, false),
			Layers:    r.list(KeyInstanceLayers, ""),
		},
		Log: LogConfiguration{
			Level:  envy.Get(KeyLogLevel, "info"),
			Format: envy.Get(KeyLogFormat, "text"),
		},
		Assets: AssetsConfiguration{
			Archive: envy.Get(KeyAssetArchive, ""),
		},
	}
	if r.err != nil {
		return Configuration{}, r.err
	}

	switch cfg.Renderer.PresentMode {
	case PresentModeFifo, PresentModeMailbox, PresentModeImmediate:
	default:
		return Configuration{}, errors.Wrapf(ErrConfiguration, "%s: unknown present mode %q", KeyPresentMode, cfg.Renderer.PresentMode)
	}
	if cfg.Renderer.SwapchainSize == 0 {
		return Configuration{}, errors.Wrapf(ErrConfiguration, "%s: must be positive", KeySwapchainSize)
	}
	return cfg, nil
}

// envReader keeps the first parse failure so reading can go on uninterrupted
type envReader struct {
	err error
}

func (r *envReader) int(key string, fallback int) int {
	raw := envy.Get(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		if r.err == nil {
			r.err = errors.Wrapf(ErrConfiguration, "%s: %s", key, err.Error())
		}
		return fallback
	}
	return v
}

func (r *envReader) bool(key string, fallback bool) bool {
	raw := envy.Get(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		if r.err == nil {
			r.err = errors.Wrapf(ErrConfiguration, "%s: %s", key, err.Error())
		}
		return fallback
	}
	return v
}

func (r *envReader) list(key, fallback string) []string {
	var out []string
	for _, s := range strings.Split(envy.Get(key, fallback), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
