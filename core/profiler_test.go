// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/korugraph/gfx/graph"
	"github.com/devblok/korugraph/internal/dryrun"
)

func TestCPUProfilerNestsScopes(t *testing.T) {
	c := qt.New(t)
	p := NewCPUProfiler(nil)

	clock := time.Unix(0, 0)
	p.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}

	outer := p.Begin(nil, graph.ProfilerInfo{Name: "frame"})
	inner := p.Begin(nil, graph.ProfilerInfo{Name: "shadows"})
	inner.End()
	outer.End()

	c.Assert(p.Samples(), qt.DeepEquals, []Sample{
		{Name: "frame", Depth: 0, Duration: 3 * time.Millisecond},
		{Name: "shadows", Depth: 1, Duration: time.Millisecond},
	})

	p.Reset()
	c.Assert(p.Samples(), qt.HasLen, 0)
}

func TestCPUProfilerSeesGraphTasks(t *testing.T) {
	c := qt.New(t)
	p := NewCPUProfiler(nil)

	g := graph.New(graph.NewCaches(&dryrun.Device{}, nil), &dryrun.RenderPassCache{})
	g.AddPass(graph.NewFrameSyncBeginPassDesc())
	g.AddPass(graph.NewComputePassDesc().SetProfilerInfo("cull", [4]float32{1, 0, 0, 1}))
	g.AddPass(graph.NewFrameSyncEndPassDesc())
	c.Assert(g.Execute(&dryrun.Recorder{}, p, nil), qt.IsNil)

	var names []string
	for _, s := range p.Samples() {
		names = append(names, s.Name)
	}
	c.Assert(names, qt.DeepEquals, []string{"graph.Execute", "FrameSyncBegin", "cull", "FrameSyncEnd"})
	c.Assert(p.Samples()[1].Depth, qt.Equals, 1)
}

func TestTimeIntervals(t *testing.T) {
	c := qt.New(t)
	c.Assert(frameInterval(0), qt.Equals, time.Nanosecond)
	c.Assert(frameInterval(50), qt.Equals, 20*time.Millisecond)
	c.Assert(pollInterval(0), qt.Equals, time.Millisecond)
	c.Assert(pollInterval(16), qt.Equals, 16*time.Millisecond)

	tm := NewTime(TimeConfiguration{FramesPerSecond: 60, EventPollDelay: 10})
	defer tm.Stop()
	c.Assert(tm.Fps(), qt.Equals, 60)
	c.Assert(tm.Elapsed() >= 0, qt.IsTrue)
}
