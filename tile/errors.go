package tile

import "errors"

// Errors returned by the tile lifecycle. Callers match with errors.Is.
var (
	// ErrAlreadyLoading is returned by LoadData when the tile is not in a
	// loadable state (Empty or Evicted). It covers both a load already in
	// flight and a tile that has finished loading.
	ErrAlreadyLoading = errors.New("tile: load already in progress or data present")

	// ErrNotLoaded is returned by UploadToGPU when the tile has no CPU
	// height data to upload.
	ErrNotLoaded = errors.New("tile: no height data loaded")

	// ErrNotReady is returned by Render when the tile has no valid GPU
	// resources. Callers treat it as "skip this tile", never as a frame
	// failure.
	ErrNotReady = errors.New("tile: not ready for rendering")

	// ErrStaleLoad is returned when a load completes after the tile was
	// evicted or recreated. The result has been discarded.
	ErrStaleLoad = errors.New("tile: load result discarded, tile changed during load")

	// ErrInvalidHeightData is returned for height grids whose dimensions
	// and sample count disagree.
	ErrInvalidHeightData = errors.New("tile: invalid height data")

	// ErrTileFailed is returned when operating on a tile in the Error
	// state. The tile stays excluded until the manager removes it.
	ErrTileFailed = errors.New("tile: tile is in error state")
)
