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

	"github.com/devblok/korugraph/core"
	"github.com/devblok/korugraph/gfx/vkr"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

func init() {
	runtime.LockOSThread()
}

// Profiling
var (
	cpuProfile = flag.String("cpuprof", "", "Profile CPU usage to file")
	debug      = flag.Bool("vkdbg", false, "Load Vulkan validation layers")
	envFile    = flag.String("env", ".env", "Configuration file")
)

var frameCounter int64

func newWindow(cfg core.RendererConfiguration) *sdl.Window {
	window, err := sdl.CreateWindow("Koru3D",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.ScreenWidth),
		int32(cfg.ScreenHeight),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		panic(err)
	}
	return window
}

func main() {
	flag.Parse()

	configuration, err := core.LoadConfiguration(*envFile)
	if err != nil {
		panic(err)
	}
	if *debug {
		configuration.Renderer.DebugMode = true
	}
	logger, err := core.NewLogger(configuration.Log)
	if err != nil {
		panic(err)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			panic(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			panic(err)
		}
		defer pprof.StopCPUProfile()
	}

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		panic(err)
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		panic(err)
	}
	defer sdl.VulkanUnloadLibrary()

	window := newWindow(configuration.Renderer)
	defer window.Destroy()

	instance, err := vkr.NewInstance(vkr.DefaultApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), vkr.InstanceConfiguration{
		DebugMode:  configuration.Renderer.DebugMode,
		Extensions: window.VulkanGetInstanceExtensions(),
	})
	if err != nil {
		panic(err)
	}
	defer instance.Release()

	surface, err := window.VulkanCreateSurface(instance.Inner())
	if err != nil {
		panic(err)
	}
	instance.SetSurface(surface)

	vkContext, err := vkr.NewContext(instance, logger)
	if err != nil {
		panic(err)
	}
	defer vkContext.Release()

	r, err := newRenderer(vkContext, configuration, logger)
	if err != nil {
		panic(err)
	}
	defer r.release()

	timeService := core.NewTime(configuration.Time)
	defer timeService.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	programSync := sync.WaitGroup{}

	/* Frame counter loop */
	programSync.Add(1)
	go func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.WithFields(log.Fields{
					"fps":      atomic.SwapInt64(&frameCounter, 0),
					"cgoCalls": runtime.NumCgoCall(),
				}).Info("frame statistics")
			}
		}
	}(ctx, &programSync)

	/* Renderer loop */
	programSync.Add(1)
	go func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				logger.Info("render loop exited")
				return
			case <-timeService.FpsTicker().C:
				if err := r.draw(float32(timeService.Elapsed().Seconds())); err != nil {
					logger.WithError(err).Error("draw")
					cancel()
					return
				}
				atomic.AddInt64(&frameCounter, 1)
			}
		}
	}(ctx, &programSync)

	/* Event loop */
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
						continue EventLoop
					}
				case *sdl.QuitEvent:
					cancel()
					continue EventLoop
				}
			}
		}
	}

	programSync.Wait()
}
