// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"time"

	"github.com/devblok/korugraph/gfx/graph"
	log "github.com/sirupsen/logrus"
)

// Sample is one measured CPU scope.
type Sample struct {
	Name     string
	Depth    int
	Duration time.Duration
}

// CPUProfiler measures how long the recording of each graph task takes.
// Samples are kept in the order their scopes were opened.
type CPUProfiler struct {
	logger log.FieldLogger
	now    func() time.Time

	depth   int
	samples []Sample
}

// NewCPUProfiler creates a profiler logging every sample at debug level.
func NewCPUProfiler(logger log.FieldLogger) *CPUProfiler {
	return &CPUProfiler{
		logger: logger,
		now:    time.Now,
	}
}

// Begin implements interface
func (p *CPUProfiler) Begin(_ graph.CommandRecorder, info graph.ProfilerInfo) graph.ProfileScope {
	p.samples = append(p.samples, Sample{Name: info.Name, Depth: p.depth})
	p.depth++
	return &cpuScope{
		profiler: p,
		index:    len(p.samples) - 1,
		start:    p.now(),
	}
}

type cpuScope struct {
	profiler *CPUProfiler
	index    int
	start    time.Time
}

func (s *cpuScope) End() {
	p := s.profiler
	p.depth--
	sample := &p.samples[s.index]
	sample.Duration = p.now().Sub(s.start)
	if p.logger != nil {
		p.logger.WithFields(log.Fields{
			"scope":    sample.Name,
			"depth":    sample.Depth,
			"duration": sample.Duration,
		}).Debug("cpu timing")
	}
}

// Samples returns the samples taken since the last Reset.
func (p *CPUProfiler) Samples() []Sample {
	return p.samples
}

// Reset forgets every sample.
func (p *CPUProfiler) Reset() {
	p.samples = p.samples[:0]
	p.depth = 0
}
