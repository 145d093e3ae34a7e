package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/hfsync/internal/loader"
	"github.com/Faultbox/hfsync/internal/logger"
)

// ErrNotLoaded is returned when Generate is handed data that did not load.
var ErrNotLoaded = errors.New("load data is not in SUCCESS state")

// TileNodePrefix names generated tile nodes, followed by the tile index.
const TileNodePrefix = "HF_Tile_"

// Options configures a Generator.
type Options struct {
	AssetDir    string
	PreviewMesh bool
}

// Generator builds scene content from finished load data.
type Generator struct {
	builder SceneBuilder
	opts    Options
	log     *zap.Logger
}

// NewGenerator creates a generator writing into builder.
func NewGenerator(builder SceneBuilder, opts Options) *Generator {
	return &Generator{
		builder: builder,
		opts:    opts,
		log:     logger.Named("output"),
	}
}

// GeneratedOutput tracks everything one Generate call created.
type GeneratedOutput struct {
	Root        NodeHandle
	Nodes       []NodeHandle // tile nodes, in tile order
	OutputFiles []string
}

// Destroy removes the generated nodes and asset files.
func (o *GeneratedOutput) Destroy(builder SceneBuilder) error {
	var errs []error
	for i := len(o.Nodes) - 1; i >= 0; i-- {
		if err := builder.DestroyNode(o.Nodes[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if o.Root != NoParent {
		if err := builder.DestroyNode(o.Root); err != nil {
			errs = append(errs, err)
		}
	}
	for _, path := range o.OutputFiles {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	o.Root, o.Nodes, o.OutputFiles = NoParent, nil, nil
	return errors.Join(errs...)
}

// Generate creates a root node under parent named after the source file,
// then one terrain node per tile with its asset written to the asset
// directory. On failure everything created so far is removed.
func (g *Generator) Generate(data *loader.LoadData, parent NodeHandle) (*GeneratedOutput, error) {
	if data == nil || data.Status != loader.StatusSuccess {
		return nil, ErrNotLoaded
	}

	base := assetBaseName(data.FilePath)
	out := &GeneratedOutput{}

	root, err := g.builder.CreateNode(base, parent)
	if err != nil {
		return nil, fmt.Errorf("create root node: %w", err)
	}
	out.Root = root

	for _, tile := range data.Tiles {
		if err := g.generateTile(out, data.FilePath, base, tile); err != nil {
			if derr := out.Destroy(g.builder); derr != nil {
				g.log.Warn("rollback incomplete", zap.Error(derr))
			}
			return nil, fmt.Errorf("tile %d: %w", tile.Index, err)
		}
	}

	g.log.Info("generated output",
		zap.String("file", data.FilePath),
		zap.Int("tiles", len(out.Nodes)),
		zap.Int("assets", len(out.OutputFiles)))
	return out, nil
}

func (g *Generator) generateTile(out *GeneratedOutput, source, base string, tile *loader.TerrainTile) error {
	node, err := g.builder.CreateNode(fmt.Sprintf("%s%d", TileNodePrefix, tile.Index), out.Root)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	out.Nodes = append(out.Nodes, node)

	asset := g.buildAsset(source, tile)
	assetPath := filepath.Join(g.opts.AssetDir, fmt.Sprintf("%s_tile%d%s", base, tile.Index, TerrainAssetExt))
	if err := WriteTerrainAsset(assetPath, asset); err != nil {
		return fmt.Errorf("write asset: %w", err)
	}
	out.OutputFiles = append(out.OutputFiles, assetPath)

	terrain := TerrainData{
		AssetPath:  assetPath,
		Resolution: tile.Resolution,
		Size:       asset.Size,
		Heights:    asset.Heights,
		Splats:     asset.Splats,
		Layers:     asset.Layers,
	}
	if err := g.builder.AttachTerrainData(node, terrain); err != nil {
		return fmt.Errorf("attach terrain: %w", err)
	}
	if err := g.builder.SetPosition(node, tile.Position); err != nil {
		return fmt.Errorf("set position: %w", err)
	}

	if g.opts.PreviewMesh {
		mesh := BuildPreviewMesh(tile)
		mesh.Name = fmt.Sprintf("%s_tile%d_preview", base, tile.Index)
		if err := g.builder.AttachMeshData(node, mesh); err != nil {
			return fmt.Errorf("attach mesh: %w", err)
		}
	}
	return nil
}

// buildAsset converts a tile into an asset. When the tile references an
// existing asset, it is copied and its heights and splats replaced; layer
// materials missing from the load are taken from the referenced asset.
func (g *Generator) buildAsset(source string, tile *loader.TerrainTile) *TerrainAsset {
	asset := &TerrainAsset{
		Header: AssetHeader{
			Version:    AssetVersion,
			Tile:       tile.Index,
			Resolution: tile.Resolution,
		},
		Size:    tile.Size,
		Heights: tile.Heights,
		Splats:  tile.Splats,
	}
	for _, l := range tile.SplatLayers() {
		asset.Layers = append(asset.Layers, terrainLayer(l))
	}

	if tile.TerrainDataFile != "" {
		ref := tile.TerrainDataFile
		if !filepath.IsAbs(ref) {
			ref = filepath.Join(filepath.Dir(source), ref)
		}
		existing, err := ReadTerrainAsset(ref)
		if err != nil {
			g.log.Warn("referenced terrain data unusable, generating new asset",
				zap.Int("tile", tile.Index), zap.String("ref", ref), zap.Error(err))
		} else {
			asset.Header.Source = ref
			inheritMaterials(asset.Layers, existing.Layers)
		}
	}

	asset.Header.Layers = len(asset.Layers)
	return asset
}

func inheritMaterials(layers, from []TerrainLayer) {
	byName := make(map[string]TerrainLayer, len(from))
	for _, l := range from {
		byName[l.Name] = l
	}
	for i := range layers {
		prev, ok := byName[layers[i].Name]
		if !ok || layers[i].DiffuseTexture != "" {
			continue
		}
		name := layers[i].Name
		layers[i] = prev
		layers[i].Name = name
	}
}

func terrainLayer(l *loader.Layer) TerrainLayer {
	return TerrainLayer{
		Name:           l.Name,
		DiffuseTexture: l.DiffuseTexture,
		MaskTexture:    l.MaskTexture,
		NormalTexture:  l.NormalTexture,
		NormalScale:    l.NormalScale,
		Metallic:       l.Metallic,
		Smoothness:     l.Smoothness,
		Specular:       l.Specular,
		TileOffset:     l.TileOffset,
		TileSize:       l.TileSize,
		AssetPath:      l.TerrainLayerFile,
	}
}

// assetBaseName strips every extension, so terrain.bgeo.sc becomes terrain.
func assetBaseName(path string) string {
	name, _, _ := strings.Cut(filepath.Base(path), ".")
	if name == "" {
		return "terrain"
	}
	return name
}
