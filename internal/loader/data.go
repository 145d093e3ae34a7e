// Package loader runs the background load of engine heightfields: it cooks
// a file node, polls the engine until the cook settles, pulls volume layers
// and assembles them into terrain tiles for the owning goroutine.
package loader

import (
	"github.com/Faultbox/hfsync/pkg/hapi"
	"github.com/Faultbox/hfsync/pkg/heightfield"
)

// Material defaults for layers whose attributes are absent.
var (
	DefaultNormalScale float32 = 1
	DefaultMetallic    float32 = 0
	DefaultSmoothness  float32 = 0
	DefaultSpecular            = [4]float32{0, 0, 0, 1}
	DefaultTileOffset          = [2]float32{0, 0}
	DefaultTileSize            = [2]float32{10, 10}
)

// Layer is one heightfield channel pulled from a volume part.
type Layer struct {
	Name       string
	PartID     hapi.PartID
	Resolution int
	Heights    []float32 // resolution*resolution raw samples
	MinHeight  float32
	MaxHeight  float32

	Transform hapi.Transform
	Bounds    hapi.VolumeBounds

	DiffuseTexture string
	MaskTexture    string
	NormalTexture  string
	NormalScale    float32
	Metallic       float32
	Smoothness     float32
	Specular       [4]float32
	TileOffset     [2]float32
	TileSize       [2]float32

	// Existing assets the output should reuse instead of generating.
	TerrainDataFile  string
	TerrainLayerFile string
}

func newLayer(name string, part hapi.PartID) *Layer {
	return &Layer{
		Name:        name,
		PartID:      part,
		NormalScale: DefaultNormalScale,
		Metallic:    DefaultMetallic,
		Smoothness:  DefaultSmoothness,
		Specular:    DefaultSpecular,
		TileOffset:  DefaultTileOffset,
		TileSize:    DefaultTileSize,
	}
}

// IsHeight reports whether the layer carries elevation.
func (l *Layer) IsHeight() bool {
	return l.Name == heightfield.HeightLayerName
}

// TerrainTile is one contiguous heightfield tile. Layers[0] is the height
// layer; Heights and Splats exist once the tile is assembled.
type TerrainTile struct {
	Index  int
	Layers []*Layer

	Resolution int
	Size       heightfield.Size
	MinHeight  float32
	MaxHeight  float32
	Position   [3]float32

	Heights [][]float32   // [row][col], normalized
	Splats  [][][]float32 // [row][col][layer-1]

	TerrainDataFile string
}

// HeightLayer returns the layer that drives elevation, or nil.
func (t *TerrainTile) HeightLayer() *Layer {
	if len(t.Layers) == 0 {
		return nil
	}
	return t.Layers[0]
}

// SplatLayers returns every layer after the height layer.
func (t *TerrainTile) SplatLayers() []*Layer {
	if len(t.Layers) < 2 {
		return nil
	}
	return t.Layers[1:]
}

// LoadData is the result a task hands to the owning goroutine. Ownership
// moves with it; the worker never touches it again.
type LoadData struct {
	FilePath  string
	Status    LoadStatus
	Log       string
	NodeID    hapi.NodeID
	Tiles     []*TerrainTile // sorted by Index; nil unless Status is SUCCESS
	MeshParts int            // mesh parts seen but not converted
}

// LayerCount returns the number of layers across all tiles.
func (d *LoadData) LayerCount() int {
	n := 0
	for _, t := range d.Tiles {
		n += len(t.Layers)
	}
	return n
}
