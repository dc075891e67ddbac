// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	_ "embed"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/terrain/cull"
)

//go:embed shaders/cull.wgsl
var cullShaderSource string

// cullWorkgroupSize must match @workgroup_size in cull.wgsl.
const cullWorkgroupSize = 64

var _ cull.GPUDispatcher = (*CullPipeline)(nil)

// CullPipeline runs the culling kernel. On a stub context it evaluates
// the CPU reference per record instead, which keeps the dispatch path
// testable without a device.
type CullPipeline struct {
	ctx *Context

	mu         sync.Mutex
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
	destroyed  bool
}

// NewCullPipeline compiles the culling shader and builds the compute
// pipeline on the context's device.
func NewCullPipeline(ctx *Context) (*CullPipeline, error) {
	p := &CullPipeline{ctx: ctx}
	if ctx.Stub() {
		return p, nil
	}

	spirvBytes, err := naga.Compile(cullShaderSource)
	if err != nil {
		return nil, fmt.Errorf("gpu: compile cull shader: %w", err)
	}
	spirv := make([]uint32, len(spirvBytes)/4)
	for i := range spirv {
		spirv[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	shader, err := ctx.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "terrain_cull",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create cull shader module: %w", err)
	}
	p.shader = shader

	bindLayout, err := ctx.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "terrain_cull_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("gpu: create cull bind group layout: %w", err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := ctx.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "terrain_cull_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("gpu: create cull pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	pipeline, err := ctx.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   "terrain_cull_pipeline",
		Layout:  pipeLayout,
		Compute: hal.ComputeState{Module: shader, EntryPoint: "main"},
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("gpu: create cull compute pipeline: %w", err)
	}
	p.pipeline = pipeline
	return p, nil
}

// DispatchCull runs one kernel invocation per record and returns the
// packed result words in record order.
func (p *CullPipeline) DispatchCull(records []cull.Record, planes [6]cull.PackedPlane, params cull.Params) ([]uint32, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if p.ctx.Stub() {
		out := make([]uint32, len(records))
		for i, r := range records {
			out[i] = cull.EvaluateRecord(r, planes, params)
		}
		return out, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, ErrClosed
	}

	device, queue := p.ctx.device, p.ctx.queue
	flagsSize := uint64(len(records)) * 4

	type namedBuf struct {
		label string
		data  []byte
		size  uint64
		usage gputypes.BufferUsage
	}
	specs := []namedBuf{
		{"cull_params", cull.ParamsBytes(params), 0, gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst},
		{"cull_records", cull.RecordsBytes(records), 0, gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst},
		{"cull_planes", cull.PlanesBytes(planes), 0, gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst},
		{"cull_flags", nil, flagsSize, gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc},
		{"cull_staging", nil, flagsSize, gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst},
	}

	bufs := make([]hal.Buffer, len(specs))
	defer func() {
		for _, b := range bufs {
			if b != nil {
				device.DestroyBuffer(b)
			}
		}
	}()
	for i, s := range specs {
		size := s.size
		if s.data != nil {
			size = uint64(len(s.data))
		}
		buf, err := device.CreateBuffer(&hal.BufferDescriptor{
			Label: s.label,
			Size:  size,
			Usage: s.usage,
		})
		if err != nil {
			return nil, fmt.Errorf("gpu: create %s: %w", s.label, err)
		}
		bufs[i] = buf
		if s.data != nil {
			queue.WriteBuffer(buf, 0, s.data)
		}
	}
	paramsBuf, recordsBuf, planesBuf, flagsBuf, stagingBuf := bufs[0], bufs[1], bufs[2], bufs[3], bufs[4]

	entry := func(binding uint32, buf hal.Buffer) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{
			Binding: binding,
			Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(),
				Offset: 0,
				Size:   0, // 0 = entire buffer
			},
		}
	}
	bg, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "terrain_cull_bg",
		Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			entry(0, paramsBuf),
			entry(1, recordsBuf),
			entry(2, planesBuf),
			entry(3, flagsBuf),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create cull bind group: %w", err)
	}
	defer device.DestroyBindGroup(bg)

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "terrain_cull",
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create cull encoder: %w", err)
	}
	if err := encoder.BeginEncoding("terrain_cull"); err != nil {
		return nil, fmt.Errorf("gpu: begin cull encoding: %w", err)
	}

	workgroups := (uint32(len(records)) + cullWorkgroupSize - 1) / cullWorkgroupSize
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "terrain_cull"})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(workgroups, 1, 1)
	pass.End()

	encoder.CopyBufferToBuffer(flagsBuf, stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: flagsSize},
	})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("gpu: end cull encoding: %w", err)
	}
	defer cmdBuf.Destroy()

	if err := p.ctx.submitAndWait(device, queue, cmdBuf); err != nil {
		return nil, err
	}

	mapping, err := device.MapBuffer(stagingBuf, 0, flagsSize)
	if err != nil {
		return nil, fmt.Errorf("gpu: read cull flags: %w", err)
	}
	readback := make([]byte, flagsSize)
	copy(readback, unsafe.Slice((*byte)(mapping.Ptr), flagsSize))
	if err := device.UnmapBuffer(stagingBuf); err != nil {
		return nil, fmt.Errorf("gpu: read cull flags: %w", err)
	}

	slogger().Debug("cull pass dispatched",
		"records", len(records), "workgroups", workgroups)
	return cull.DecodeFlags(readback, len(records)), nil
}

// Destroy releases the pipeline objects in reverse creation order. Safe
// to call more than once and on a stub pipeline.
func (p *CullPipeline) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || p.ctx.Stub() {
		p.destroyed = true
		return
	}
	device := p.ctx.device
	if device == nil {
		p.destroyed = true
		return
	}
	if p.pipeline != nil {
		device.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLayout != nil {
		device.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		device.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.shader != nil {
		device.DestroyShaderModule(p.shader)
		p.shader = nil
	}
	p.destroyed = true
}
