// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"time"
	"unsafe"

	"github.com/devblok/korugraph/gfx/graph"
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Timing is one measured GPU scope.
type Timing struct {
	Name     string
	Duration time.Duration
}

// TimestampProfiler measures graph tasks on the GPU with timestamp queries.
// Each scope takes two queries, scopes beyond capacity are not measured.
type TimestampProfiler struct {
	device vk.Device
	logger log.FieldLogger
	period float32

	pool     vk.QueryPool
	capacity uint32
	used     uint32
	names    []string
	results  []uint64
}

// NewTimestampProfiler creates a profiler measuring up to scopes scopes a frame.
func NewTimestampProfiler(ctx *Context, scopes uint32, logger log.FieldLogger) (*TimestampProfiler, error) {
	qpci := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeTimestamp,
		QueryCount: scopes * 2,
	}
	var pool vk.QueryPool
	if err := vk.Error(vk.CreateQueryPool(ctx.Device(), &qpci, nil, &pool)); err != nil {
		return nil, errors.Errorf("vk.CreateQueryPool(): %s", err)
	}
	return &TimestampProfiler{
		device:   ctx.Device(),
		logger:   logger,
		period:   ctx.timestampPeriod,
		pool:     pool,
		capacity: scopes * 2,
		results:  make([]uint64, scopes*2),
	}, nil
}

// Reset prepares the query pool for a new frame. It must be recorded
// before any scope of the frame.
func (p *TimestampProfiler) Reset(cmd graph.CommandRecorder) {
	vk.CmdResetQueryPool(cmd.Handle(), p.pool, 0, p.capacity)
	p.used = 0
	p.names = p.names[:0]
}

// Begin implements interface
func (p *TimestampProfiler) Begin(cmd graph.CommandRecorder, info graph.ProfilerInfo) graph.ProfileScope {
	if p.used+2 > p.capacity {
		return timestampScope{}
	}
	query := p.used
	p.used += 2
	p.names = append(p.names, info.Name)
	vk.CmdWriteTimestamp(cmd.Handle(), vk.PipelineStageTopOfPipeBit, p.pool, query)
	return timestampScope{profiler: p, cmd: cmd, query: query + 1}
}

type timestampScope struct {
	profiler *TimestampProfiler
	cmd      graph.CommandRecorder
	query    uint32
}

func (s timestampScope) End() {
	if s.profiler == nil {
		return
	}
	vk.CmdWriteTimestamp(s.cmd.Handle(), vk.PipelineStageBottomOfPipeBit, s.profiler.pool, s.query)
}

// Results reads back the timings of the last frame. The frame's command
// buffer must have completed.
func (p *TimestampProfiler) Results() ([]Timing, error) {
	if p.used == 0 {
		return nil, nil
	}
	flags := vk.QueryResultFlags(vk.QueryResult64Bit | vk.QueryResultWaitBit)
	if err := vk.Error(vk.GetQueryPoolResults(p.device, p.pool, 0, p.used,
		uint(p.used)*8, unsafe.Pointer(&p.results[0]), 8, flags)); err != nil {
		return nil, errors.Errorf("vk.GetQueryPoolResults(): %s", err)
	}

	timings := make([]Timing, len(p.names))
	for i, name := range p.names {
		ticks := p.results[2*i+1] - p.results[2*i]
		timings[i] = Timing{
			Name:     name,
			Duration: time.Duration(float64(ticks) * float64(p.period)),
		}
		p.logger.WithFields(log.Fields{
			"scope":    name,
			"duration": timings[i].Duration,
		}).Debug("gpu timing")
	}
	return timings, nil
}

// Release destroys the query pool.
func (p *TimestampProfiler) Release() {
	vk.DestroyQueryPool(p.device, p.pool, nil)
}
