// Package terrain streams heightfield terrain tiles to the GPU.
//
// # Overview
//
// The engine manages a set of terrain tiles addressed by dataset, LOD
// level, and grid position. Each frame it culls the resident set against
// the camera frustum, selects LOD levels by distance band, prioritizes
// what the camera needs next, and streams tile data through a background
// worker pool: dataset read, elevation validation, GPU upload into typed
// memory pools. Tiles the camera left behind are evicted under memory
// pressure and transparently reloaded when they come back.
//
// # Quick Start
//
//	eng, err := terrain.NewEngine(nil,
//		terrain.WithDatasetReader(reader),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//
//	// Per frame:
//	eng.Update(frustum, cameraPos, dt)
//	eng.RenderVisible(recorder, frustum)
//
// # Architecture
//
//   - terrain (root): Engine facade, tile Manager, streaming Scheduler,
//     YAML configuration and functional options
//   - tile: tile lifecycle state machine and height data
//   - pool: typed GPU memory pools with pressure and defragmentation
//   - cull: frustum and LOD culling, CPU and GPU paths in agreement
//   - internal/gpu: wgpu device context and the culling compute pipeline
//   - internal/cache: byte-budgeted LRU for decoded height data
//
// The GPU is optional everywhere: without a device the engine runs in
// stub mode with identical state machines and accounting, which is also
// how the tests run.
package terrain
