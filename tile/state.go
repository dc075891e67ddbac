package tile

// State is the lifecycle state of a terrain tile.
//
// The forward path is Empty -> Loading -> Loaded -> Uploading -> Ready.
// UnloadFromGPU steps Ready back to Loaded; EvictFromMemory moves any
// non-Error state to Evicted. Empty and Evicted are equivalent restart
// points. Error is terminal until the manager removes the tile and
// recreates it at the same coordinate.
type State uint8

const (
	// StateEmpty is a freshly created tile with no data.
	StateEmpty State = iota
	// StateLoading means a worker is reading height data.
	StateLoading
	// StateLoaded means CPU height data is present.
	StateLoaded
	// StateUploading means GPU resources are being created.
	StateUploading
	// StateReady means the tile holds valid GPU resources and can render.
	StateReady
	// StateEvicted means all CPU and GPU resources were released.
	StateEvicted
	// StateError means a load or upload failed. The error message is
	// retained on the tile.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "Empty"
	case StateLoading:
		return "Loading"
	case StateLoaded:
		return "Loaded"
	case StateUploading:
		return "Uploading"
	case StateReady:
		return "Ready"
	case StateEvicted:
		return "Evicted"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Loadable reports whether LoadData may start from this state.
func (s State) Loadable() bool {
	return s == StateEmpty || s == StateEvicted
}
