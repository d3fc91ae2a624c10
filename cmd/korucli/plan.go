// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"fmt"
	"strings"

	"github.com/devblok/korugraph/gfx/graph"
	"golang.org/x/exp/slices"
)

type imageBarrierReport struct {
	Image     string `json:"image"`
	Range     string `json:"range"`
	Src       string `json:"src"`
	Dst       string `json:"dst"`
	OldLayout int32  `json:"oldLayout"`
	NewLayout int32  `json:"newLayout"`
}

type bufferBarrierReport struct {
	Buffer string `json:"buffer"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
}

type batchReport struct {
	Task     string                `json:"task"`
	SrcStage string                `json:"srcStage"`
	DstStage string                `json:"dstStage"`
	Memory   int                   `json:"memory,omitempty"`
	Images   []imageBarrierReport  `json:"images,omitempty"`
	Buffers  []bufferBarrierReport `json:"buffers,omitempty"`
}

type cacheReport struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type report struct {
	Frames   int           `json:"frames"`
	Tasks    []string      `json:"tasks"`
	Barriers []batchReport `json:"barriers"`
	Images   []cacheReport `json:"images"`
	Buffers  []cacheReport `json:"buffers"`
	Views    int           `json:"views"`
}

func taskName(t graph.Task) string {
	return fmt.Sprintf("%v#%d", t.Kind, t.Index)
}

func newBatchReport(b graph.BarrierBatch) batchReport {
	r := batchReport{
		Task:     taskName(b.Task),
		SrcStage: fmt.Sprintf("%#x", b.SrcStage),
		DstStage: fmt.Sprintf("%#x", b.DstStage),
		Memory:   len(b.Memory),
	}
	for _, i := range b.Images {
		r.Images = append(r.Images, imageBarrierReport{
			Image:     i.Image.Label,
			Range:     i.Range.String(),
			Src:       i.SrcUsage.String(),
			Dst:       i.DstUsage.String(),
			OldLayout: int32(i.OldLayout),
			NewLayout: int32(i.NewLayout),
		})
	}
	for _, buf := range b.Buffers {
		r.Buffers = append(r.Buffers, bufferBarrierReport{
			Buffer: buf.Buffer.Label,
			Src:    buf.SrcUsage.String(),
			Dst:    buf.DstUsage.String(),
		})
	}
	return r
}

func cacheStats[K interface {
	comparable
	fmt.Stringer
}](stats map[K]int) []cacheReport {
	out := make([]cacheReport, 0, len(stats))
	for key, n := range stats {
		out = append(out, cacheReport{Key: key.String(), Count: n})
	}
	slices.SortFunc(out, func(a, b cacheReport) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out
}

func newReport(frames int, tasks []graph.Task, plan []graph.BarrierBatch, caches *graph.Caches) report {
	r := report{
		Frames:  frames,
		Images:  cacheStats(caches.Images.Stats()),
		Buffers: cacheStats(caches.Buffers.Stats()),
		Views:   caches.Views.Len(),
	}
	for _, t := range tasks {
		r.Tasks = append(r.Tasks, taskName(t))
	}
	for _, b := range plan {
		r.Barriers = append(r.Barriers, newBatchReport(b))
	}
	return r
}
