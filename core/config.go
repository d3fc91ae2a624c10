// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"os"
	"strconv"

	"github.com/devblok/korugraph/gfx/graph"
	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration
	Renderer RendererConfiguration
	Graph    GraphConfiguration
	Log      LogConfiguration
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int

	// EventPollDelay is the period of the event loop in milliseconds
	EventPollDelay int
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	SwapchainSize uint32
	ScreenWidth   uint32
	ScreenHeight  uint32

	// DebugMode loads the validation layers
	DebugMode bool

	// ProfilerScopes is how many GPU scopes are timed per frame
	ProfilerScopes uint32
}

// GraphConfiguration configures the render graph.
type GraphConfiguration struct {
	MergeSubresources bool
}

// LogConfiguration configures logging.
type LogConfiguration struct {
	Level string
}

// DefaultConfiguration returns the configuration used when nothing is set.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 60,
			EventPollDelay:  50,
		},
		Renderer: RendererConfiguration{
			SwapchainSize:  3,
			ScreenWidth:    800,
			ScreenHeight:   600,
			ProfilerScopes: 16,
		},
		Graph: GraphConfiguration{
			MergeSubresources: true,
		},
		Log: LogConfiguration{
			Level: "info",
		},
	}
}

// LoadConfiguration overlays the defaults with the environment. The given
// dotenv files are loaded first, skipping the ones that do not exist;
// variables already in the environment take precedence over them.
func LoadConfiguration(files ...string) (Configuration, error) {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return Configuration{}, errors.Wrap(err, "loading dotenv files")
		}
	}
	envy.Reload()

	cfg := DefaultConfiguration()
	p := envParser{}
	p.int("KORU_FPS", &cfg.Time.FramesPerSecond)
	p.int("KORU_EVENT_POLL_DELAY", &cfg.Time.EventPollDelay)
	p.uint32("KORU_SWAPCHAIN_SIZE", &cfg.Renderer.SwapchainSize)
	p.uint32("KORU_SCREEN_WIDTH", &cfg.Renderer.ScreenWidth)
	p.uint32("KORU_SCREEN_HEIGHT", &cfg.Renderer.ScreenHeight)
	p.bool("KORU_VK_DEBUG", &cfg.Renderer.DebugMode)
	p.uint32("KORU_GPU_PROFILER_SCOPES", &cfg.Renderer.ProfilerScopes)
	p.bool("KORU_GRAPH_MERGE_SUBRESOURCES", &cfg.Graph.MergeSubresources)
	cfg.Log.Level = envy.Get("KORU_LOG_LEVEL", cfg.Log.Level)
	if p.err != nil {
		return Configuration{}, p.err
	}

	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return Configuration{}, errors.Wrap(err, "KORU_LOG_LEVEL")
	}
	return cfg, nil
}

// envParser keeps the first error so that keys can be read in sequence.
type envParser struct {
	err error
}

func (p *envParser) lookup(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, err := envy.MustGet(key)
	return v, err == nil && v != ""
}

func (p *envParser) int(key string, dst *int) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = errors.Wrap(err, key)
		return
	}
	*dst = n
}

func (p *envParser) uint32(key string, dst *uint32) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		p.err = errors.Wrap(err, key)
		return
	}
	*dst = uint32(n)
}

func (p *envParser) bool(key string, dst *bool) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.err = errors.Wrap(err, key)
		return
	}
	*dst = b
}

// NewLogger creates the logger described by cfg.
func NewLogger(cfg LogConfiguration) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	logger := log.New()
	logger.SetLevel(level)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return logger, nil
}

// GraphOptions translates cfg into render graph options.
func GraphOptions(cfg GraphConfiguration, logger log.FieldLogger) []graph.Option {
	opts := []graph.Option{
		graph.WithSubresourceMerging(cfg.MergeSubresources),
	}
	if logger != nil {
		opts = append(opts, graph.WithLogger(logger))
	}
	return opts
}
