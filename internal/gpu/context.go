// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpu owns the wgpu device context for terrain streaming: it
// backs the memory pools with real device buffers and textures, uploads
// tile data, and runs the culling compute pipeline.
//
// A Context comes in three flavors: owned (the engine creates its own
// device), shared (a host application hands its device in through a
// gpucontext.DeviceProvider), and stub (no device at all; handles are
// minted locally and copies are skipped). Stub mode is how tests run.
package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Context errors.
var (
	// ErrNoGPU is returned when no usable adapter is found.
	ErrNoGPU = errors.New("gpu: no suitable GPU adapter available")

	// ErrNoHALProvider is returned when a device provider does not
	// expose wgpu/hal handles.
	ErrNoHALProvider = errors.New("gpu: provider does not expose HAL device and queue")

	// ErrClosed is returned by operations on a closed context.
	ErrClosed = errors.New("gpu: context is closed")

	// ErrUnknownHandle is returned when a handle does not name a live
	// resource.
	ErrUnknownHandle = errors.New("gpu: unknown resource handle")
)

// GPUInfo describes the selected adapter.
type GPUInfo struct {
	Name       string
	DeviceType gputypes.DeviceType
}

// String returns a human-readable description of the GPU.
func (g *GPUInfo) String() string {
	return fmt.Sprintf("%s (%v)", g.Name, g.DeviceType)
}

// texture pairs a hal texture with the metadata WriteTexture needs.
type texture struct {
	tex    hal.Texture
	width  uint32
	height uint32
	bpp    uint32
}

// Context is the device-facing half of the terrain engine. It implements
// pool.Backing, tile.Uploader, and creates the culling dispatcher.
type Context struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	owned    bool // destroy device/instance on Close
	info     *GPUInfo

	buffers    map[uint64]hal.Buffer
	textures   map[uint64]texture
	nextHandle uint64
	closed     bool
}

// New creates a context with its own device, preferring a discrete GPU.
func New() (*Context, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoGPU)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpu: open device: %w", err)
	}

	c := newContext(openDev.Device, openDev.Queue)
	c.instance = instance
	c.owned = true
	c.info = &GPUInfo{Name: selected.Info.Name, DeviceType: selected.Info.DeviceType}
	slogger().Info("GPU context initialized", "gpu", c.info.String())
	return c, nil
}

// NewFromProvider wraps a host application's shared device. The provider
// must expose HalDevice() any and HalQueue() any returning wgpu/hal
// types; the context never destroys resources it does not own.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Context, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHALProvider)
	}
	c := newContext(device, queue)
	slogger().Info("GPU context attached to shared device")
	return c, nil
}

// NewStubContext creates a device-free context: resource handles are
// minted and tracked, all device calls are skipped. Pool accounting, the
// tile state machine, and the culling paths behave exactly as with a
// device attached.
func NewStubContext() *Context {
	return newContext(nil, nil)
}

func newContext(device hal.Device, queue hal.Queue) *Context {
	return &Context{
		device:   device,
		queue:    queue,
		buffers:  make(map[uint64]hal.Buffer),
		textures: make(map[uint64]texture),
	}
}

// Stub reports whether the context runs without a device.
func (c *Context) Stub() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device == nil
}

// Info returns adapter information for owned contexts, or nil.
func (c *Context) Info() *GPUInfo { return c.info }

// Close destroys every live tracked resource, then the device and
// instance when owned. Shared devices are left untouched.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	if c.device != nil {
		for _, b := range c.buffers {
			c.device.DestroyBuffer(b)
		}
		for _, t := range c.textures {
			c.device.DestroyTexture(t.tex)
		}
	}
	c.buffers = nil
	c.textures = nil

	if c.owned {
		if c.device != nil {
			c.device.Destroy()
		}
		if c.instance != nil {
			c.instance.Destroy()
		}
	}
	c.device = nil
	c.queue = nil
}
