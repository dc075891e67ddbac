package tile

import "context"

// DatasetReader decodes one tile's elevation data. Implementations live
// outside this module (GeoTIFF readers, network fetchers, procedural
// generators); the engine only depends on this interface.
type DatasetReader interface {
	// LoadTile reads and decodes the tile at path. The context bounds the
	// read; a canceled context should return the context error.
	LoadTile(ctx context.Context, path string) (*HeightData, error)
}

// HeightCache stores decoded height grids so a recently evicted tile can
// be recreated without another dataset read. LoadData consults it before
// the reader and populates it after a successful read.
type HeightCache interface {
	Get(c Coordinate) (*HeightData, bool)
	Put(c Coordinate, d *HeightData)
}
