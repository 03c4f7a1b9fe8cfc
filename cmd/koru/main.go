// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobuffalo/packr"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/device/vulkan"
	"github.com/devblok/kframe/surface"
)

func init() {
	runtime.LockOSThread()
}

var (
	configFile = flag.String("config", "", "Environment file to load before the defaults")
	meshName   = flag.String("mesh", "", "Archive entry to draw, the first entry when empty")
	cpuProfile = flag.String("cpuprof", "", "Profile CPU usage to file")
	debug      = flag.Bool("vkdbg", false, "Load Vulkan validation layers")
)

var frameCounter int64

func loadConfiguration() (core.Configuration, error) {
	box := packr.NewBox("./resources")
	defaults, err := box.FindString("default.env")
	if err != nil {
		return core.Configuration{}, errors.Wrap(core.ErrConfiguration, "packr: "+err.Error())
	}
	var files []string
	if *configFile != "" {
		files = append(files, *configFile)
	}
	return core.LoadConfiguration(defaults, files...)
}

func hasExtension(info device.PhysicalDeviceInfo, name string) bool {
	for _, e := range info.Extensions {
		if e == name {
			return true
		}
	}
	return false
}

// pickDevice returns the first valid physical device with a graphics queue
// that can present
func pickDevice(infos []device.PhysicalDeviceInfo) (device.PhysicalDeviceInfo, error) {
	for _, info := range infos {
		if info.Invalid || !hasExtension(info, vulkan.SwapchainExtension) {
			continue
		}
		for _, f := range info.QueueFamilies {
			if graphics.Matches(f.Flags) {
				return info, nil
			}
		}
	}
	return device.PhysicalDeviceInfo{}, errors.Wrap(core.ErrConfiguration, "no suitable physical device")
}

func main() {
	flag.Parse()

	cfg, err := loadConfiguration()
	if err != nil {
		log.Fatal(err)
	}
	if err := core.ConfigureLogging(cfg.Log); err != nil {
		log.Fatal(err)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	if err := run(cfg); err != nil {
		log.WithError(err).Error("koru exited")
		os.Exit(1)
	}
}

func run(cfg core.Configuration) error {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return errors.Wrap(err, "sdl.Init()")
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		return errors.Wrap(err, "sdl.VulkanLoadLibrary()")
	}
	defer sdl.VulkanUnloadLibrary()

	window, err := sdl.CreateWindow("Koru3D",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.Renderer.ScreenWidth),
		int32(cfg.Renderer.ScreenHeight),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return errors.Wrap(err, "sdl.CreateWindow()")
	}
	defer window.Destroy()

	cfg.Instance.DebugMode = cfg.Instance.DebugMode || *debug
	cfg.Instance.Extensions = window.VulkanGetInstanceExtensions()
	instance, err := vulkan.NewInstance(vulkan.DefaultApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), cfg.Instance)
	if err != nil {
		return err
	}
	defer instance.Destroy()

	nativeSurface, err := window.VulkanCreateSurface(instance.Inner())
	if err != nil {
		return errors.Wrap(err, "sdl.VulkanCreateSurface()")
	}
	surfaceHandle := instance.RegisterSurface(nativeSurface)

	info, err := pickDevice(instance.PhysicalDevicesInfo())
	if err != nil {
		return err
	}
	driver, err := instance.NewDriver(info.Index, cfg.Renderer.DeviceExtensions)
	if err != nil {
		return err
	}
	dev, err := device.New(driver, []device.QueueTraits{graphics},
		device.WithName(info.Name),
		device.WithStagingPool(cfg.Renderer.StagingPool))
	if err != nil {
		driver.Destroy()
		return err
	}
	var devices device.Registry
	devices.Register(dev)
	defer devices.Destroy()

	mesh := triangle()
	if cfg.Assets.Archive != "" {
		if mesh, err = loadMesh(cfg.Assets.Archive, *meshName); err != nil {
			return err
		}
	}
	sc := newScene(cfg, mesh)
	defer sc.release()

	traits, err := surface.TraitsFromConfiguration(cfg.Renderer)
	if err != nil {
		return err
	}
	s := surface.New(dev, surfaceHandle, traits)
	defer s.Cleanup()
	s.SetRenderWorkflow(sc.workflow)
	if err := s.Realize(); err != nil {
		return err
	}

	return loop(cfg, window, s, sc)
}

// loop renders on its own goroutine while the window events are polled here,
// on the thread SDL was initialised on
func loop(cfg core.Configuration, window *sdl.Window, s *surface.Surface, sc *scene) error {
	timeService := core.NewTime(cfg.Time)
	defer timeService.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		wg       sync.WaitGroup
		frameErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.WithFields(log.Fields{
					"fps": atomic.SwapInt64(&frameCounter, 0),
					"cgo": runtime.NumCgoCall(),
				}).Debug("frame statistics")
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timeService.FrameTicker().C:
				sc.update(s, timeService.Elapsed())
				if err := s.Frame(); err != nil {
					frameErr = err
					cancel()
					return
				}
				atomic.AddInt64(&frameCounter, 1)
			}
		}
	}()

EventLoop:
	for {
		select {
		case <-ctx.Done():
			break EventLoop
		case <-timeService.EventTicker().C:
			for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch et := event.(type) {
				case *sdl.KeyboardEvent:
					if et.Keysym.Sym == sdl.K_ESCAPE {
						cancel()
					}
				case *sdl.QuitEvent:
					cancel()
				case *sdl.WindowEvent:
					if et.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
						width, height := uint32(et.Data1), uint32(et.Data2)
						s.AddAction(func() error {
							return s.ResizeSurface(width, height)
						})
					}
				}
			}
		}
	}

	wg.Wait()
	log.Info("event loop exited")
	return frameErr
}
