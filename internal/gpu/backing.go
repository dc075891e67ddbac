// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/terrain/pool"
	"github.com/gogpu/terrain/tile"
)

// fenceTimeout bounds how long a submitted copy may run before the
// context gives up on the device.
const fenceTimeout = 5 * time.Second

var (
	_ pool.Backing  = (*Context)(nil)
	_ tile.Uploader = (*Context)(nil)
)

// mint returns a fresh nonzero handle. Callers hold c.mu.
func (c *Context) mint() uint64 {
	c.nextHandle++
	return c.nextHandle
}

// bufferUsage maps a pool usage class to device usage flags. Every class
// carries CopySrc and CopyDst so defragmentation can relocate spans.
func bufferUsage(u pool.BufferUsage) gputypes.BufferUsage {
	base := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	switch u {
	case pool.UsageVertex:
		return base | gputypes.BufferUsageVertex
	case pool.UsageIndex:
		return base | gputypes.BufferUsageIndex
	case pool.UsageUniform:
		return base | gputypes.BufferUsageUniform
	case pool.UsageStaging:
		return base | gputypes.BufferUsageMapRead
	default:
		return base | gputypes.BufferUsageStorage
	}
}

// textureFormat maps a pool texel format to the device format.
func textureFormat(f pool.TextureFormat) gputypes.TextureFormat {
	if f == pool.FormatR32Float {
		return gputypes.TextureFormatR32Float
	}
	return gputypes.TextureFormatRGBA8Unorm
}

// CreateBuffer creates a device buffer for a pool block.
func (c *Context) CreateBuffer(size uint64, usage pool.BufferUsage) (pool.BufferHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}

	h := c.mint()
	if c.device == nil {
		c.buffers[h] = nil
		return pool.BufferHandle(h), nil
	}

	buf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("terrain_pool_%d", h),
		Size:  size,
		Usage: bufferUsage(usage),
	})
	if err != nil {
		return 0, fmt.Errorf("gpu: create buffer (%d bytes): %w", size, err)
	}
	c.buffers[h] = buf
	return pool.BufferHandle(h), nil
}

// DestroyBuffer releases a pool block's device buffer. Unknown handles
// are ignored; the pool may race Close.
func (c *Context) DestroyBuffer(h pool.BufferHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	buf, ok := c.buffers[uint64(h)]
	if !ok {
		return
	}
	delete(c.buffers, uint64(h))
	if c.device != nil && buf != nil {
		c.device.DestroyBuffer(buf)
	}
}

// CreateTexture2D creates a dedicated sampled texture for tile elevation
// or normal data.
func (c *Context) CreateTexture2D(width, height uint32, format pool.TextureFormat) (pool.TextureHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}

	h := c.mint()
	meta := texture{width: width, height: height, bpp: uint32(format.BytesPerTexel())}
	if c.device == nil {
		c.textures[h] = meta
		return pool.TextureHandle(h), nil
	}

	tex, err := c.device.CreateTexture(&hal.TextureDescriptor{
		Label: fmt.Sprintf("terrain_tile_%d", h),
		Size: hal.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        textureFormat(format),
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return 0, fmt.Errorf("gpu: create texture %dx%d: %w", width, height, err)
	}
	meta.tex = tex
	c.textures[h] = meta
	return pool.TextureHandle(h), nil
}

// DestroyTexture releases a tile texture. Unknown handles are ignored.
func (c *Context) DestroyTexture(h pool.TextureHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	t, ok := c.textures[uint64(h)]
	if !ok {
		return
	}
	delete(c.textures, uint64(h))
	if c.device != nil && t.tex != nil {
		c.device.DestroyTexture(t.tex)
	}
}

// CopyBuffer copies a byte range between pool blocks. Defragmentation
// relocates live spans through this; the copy is synchronous so the pool
// can retire the source block as soon as the call returns.
func (c *Context) CopyBuffer(src, dst pool.BufferHandle, srcOffset, dstOffset, size uint64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	srcBuf, srcOK := c.buffers[uint64(src)]
	dstBuf, dstOK := c.buffers[uint64(dst)]
	device, queue := c.device, c.queue
	c.mu.Unlock()

	if !srcOK || !dstOK {
		return ErrUnknownHandle
	}
	if device == nil {
		return nil
	}

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "terrain_defrag_copy",
	})
	if err != nil {
		return fmt.Errorf("gpu: create copy encoder: %w", err)
	}
	if err := encoder.BeginEncoding("terrain_defrag_copy"); err != nil {
		return fmt.Errorf("gpu: begin copy encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(srcBuf, dstBuf, []hal.BufferCopy{
		{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end copy encoding: %w", err)
	}
	defer cmdBuf.Destroy()

	return c.submitAndWait(device, queue, cmdBuf)
}

// submitAndWait submits one command buffer and blocks until the device
// signals completion.
func (c *Context) submitAndWait(device hal.Device, queue hal.Queue, cmdBuf hal.CommandBuffer) error {
	idx, err := queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}
	deadline := time.Now().Add(fenceTimeout)
	for queue.PollCompleted() < idx {
		if time.Now().After(deadline) {
			return fmt.Errorf("gpu: timeout after %v", fenceTimeout)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// WriteBuffer copies tile data into a pool buffer at the given offset.
func (c *Context) WriteBuffer(h pool.BufferHandle, offset uint64, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	buf, ok := c.buffers[uint64(h)]
	queue := c.queue
	c.mu.Unlock()

	if !ok {
		return ErrUnknownHandle
	}
	if queue == nil || len(data) == 0 {
		return nil
	}
	queue.WriteBuffer(buf, offset, data)
	return nil
}

// WriteTexture copies tightly packed texel rows into a tile texture. The
// data must cover the full texture.
func (c *Context) WriteTexture(h pool.TextureHandle, width, height uint32, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	t, ok := c.textures[uint64(h)]
	queue := c.queue
	c.mu.Unlock()

	if !ok {
		return ErrUnknownHandle
	}
	if t.width != width || t.height != height {
		return fmt.Errorf("gpu: texture %d is %dx%d, write is %dx%d",
			h, t.width, t.height, width, height)
	}
	if want := uint64(width) * uint64(height) * uint64(t.bpp); uint64(len(data)) != want {
		return fmt.Errorf("gpu: texture write size %d, want %d", len(data), want)
	}
	if queue == nil {
		return nil
	}

	dst := &hal.ImageCopyTexture{
		Texture:  t.tex,
		MipLevel: 0,
		Origin:   hal.Origin3D{X: 0, Y: 0, Z: 0},
		Aspect:   gputypes.TextureAspectAll,
	}
	layout := &hal.ImageDataLayout{
		Offset:       0,
		BytesPerRow:  width * t.bpp,
		RowsPerImage: height,
	}
	size := &hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1}
	queue.WriteTexture(dst, data, layout, size)
	return nil
}
