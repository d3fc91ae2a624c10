// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/devblok/korugraph/core"
	"github.com/devblok/korugraph/gfx/graph"
	"github.com/devblok/korugraph/gfx/vkr"
	"github.com/devblok/korugraph/internal/dryrun"
	vk "github.com/devblok/vulkan"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	devices = flag.Bool("devices", false, "List the physical devices instead of planning a frame")
	frames  = flag.Int("frames", 3, "Number of frames to plan")
	width   = flag.Uint("width", 1280, "Backbuffer width")
	height  = flag.Uint("height", 720, "Backbuffer height")
	env     = flag.String("env", ".env", "Configuration file")
	out     = flag.String("o", "", "Write the report to a file, lz4 compressed if it ends in .lz4")
)

func main() {
	flag.Parse()

	cfg, err := core.LoadConfiguration(*env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := core.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger.SetOutput(os.Stderr)

	if *devices {
		if err := listDevices(os.Stdout, cfg); err != nil {
			logger.Fatal(err)
		}
		return
	}

	r, err := plan(cfg, logger, *frames, uint32(*width), uint32(*height))
	if err != nil {
		logger.Fatal(err)
	}
	if *out == "" {
		err = writeReport(os.Stdout, r)
	} else {
		err = saveReport(*out, r)
	}
	if err != nil {
		logger.Fatal(err)
	}
}

func writeReport(w io.Writer, r report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// saveReport writes r to path.
func saveReport(path string, r report) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating report")
	}
	defer f.Close()

	if !strings.HasSuffix(path, ".lz4") {
		return writeReport(f, r)
	}
	zw := lz4.NewWriter(f)
	if err := writeReport(zw, r); err != nil {
		return err
	}
	return errors.Wrap(zw.Close(), "compressing report")
}

func listDevices(w io.Writer, cfg core.Configuration) error {
	instance, err := vkr.NewInstance(vkr.DefaultApplicationInfo, nil, vkr.InstanceConfiguration{
		DebugMode: cfg.Renderer.DebugMode,
	})
	if err != nil {
		return err
	}
	defer instance.Release()

	bytes, err := json.Marshal(instance.PhysicalDevicesInfo())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", bytes)
	return err
}

// plan records the sample frame the given number of times without a GPU
// and reports the barriers of the last one.
func plan(cfg core.Configuration, logger log.FieldLogger, frames int, width, height uint32) (report, error) {
	dev := &dryrun.Device{}
	caches := graph.NewCaches(dev, logger)
	defer caches.Destroy()

	g := graph.New(caches, &dryrun.RenderPassCache{}, core.GraphOptions(cfg.Graph, logger)...)
	backbuffer := dryrun.ExternalView(dryrun.ExternalImage("swapchain", vk.FormatB8g8r8a8Unorm, width, height))
	sample := newSampleFrame(g, backbuffer, 4096, 64)

	var tasks []graph.Task
	for frame := 0; frame < frames; frame++ {
		sample.addPasses(g, float32(frame)/60)
		tasks = append(tasks[:0], g.Tasks()...)
		if err := g.Execute(&dryrun.Recorder{}, nil, nil); err != nil {
			return report{}, err
		}
	}
	return newReport(frames, tasks, g.LastPlan(), caches), nil
}
