// Package output turns finished load data into scene nodes and terrain data
// assets through a SceneBuilder. Everything here runs on the owning goroutine.
package output

import "github.com/Faultbox/hfsync/pkg/heightfield"

// NodeHandle identifies a node created by a SceneBuilder. Zero means none.
type NodeHandle uint64

// NoParent creates a node at the scene root.
const NoParent NodeHandle = 0

// TerrainLayer is the material description of one splat layer.
type TerrainLayer struct {
	Name           string
	DiffuseTexture string
	MaskTexture    string
	NormalTexture  string
	NormalScale    float32
	Metallic       float32
	Smoothness     float32
	Specular       [4]float32
	TileOffset     [2]float32
	TileSize       [2]float32
	AssetPath      string // existing terrain layer asset to use as-is
}

// TerrainData is what a terrain node receives.
type TerrainData struct {
	AssetPath  string
	Resolution int
	Size       heightfield.Size
	Heights    [][]float32
	Splats     [][][]float32
	Layers     []TerrainLayer
}

// Vertex is a preview mesh vertex.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	TexCoord [2]float32
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min [3]float32
	Max [3]float32
}

// MeshData is what a mesh node receives.
type MeshData struct {
	Name     string
	Vertices []Vertex
	Indices  []uint32
	Bounds   Bounds
}

// SceneBuilder is the host scene the generator writes into.
type SceneBuilder interface {
	CreateNode(name string, parent NodeHandle) (NodeHandle, error)
	AttachTerrainData(node NodeHandle, data TerrainData) error
	AttachMeshData(node NodeHandle, data MeshData) error
	SetPosition(node NodeHandle, pos [3]float32) error
	// DestroyNode removes a node and its children.
	DestroyNode(node NodeHandle) error
}
