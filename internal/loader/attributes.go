package loader

import (
	"errors"

	"github.com/Faultbox/hfsync/pkg/hapi"
)

// Attribute names read from volume parts.
const (
	AttrTextureDiffuse   = "unity_hf_texture_diffuse"
	AttrTextureMask      = "unity_hf_texture_mask"
	AttrTextureNormal    = "unity_hf_texture_normal"
	AttrNormalScale      = "unity_hf_normal_scale"
	AttrMetallic         = "unity_hf_metallic"
	AttrSmoothness       = "unity_hf_smoothness"
	AttrSpecular         = "unity_hf_specular"
	AttrTileOffset       = "unity_hf_tile_offset"
	AttrTileSize         = "unity_hf_tile_size"
	AttrTerrainDataFile  = "unity_hf_terraindata_file"
	AttrTerrainLayerFile = "unity_hf_terrainlayer_file"
	AttrTile             = "tile"
)

// attrOwners is the lookup order: the volume primitive, then the detail.
var attrOwners = []hapi.AttributeOwner{hapi.OwnerPrim, hapi.OwnerDetail}

type attrReader struct {
	session hapi.Session
	node    hapi.NodeID
	part    hapi.PartID
}

// find returns info for the first owner that has the attribute with the
// wanted storage. ok is false when it is absent everywhere.
func (r attrReader) find(name string, storage hapi.StorageType) (hapi.AttributeInfo, bool, error) {
	for _, owner := range attrOwners {
		info, err := r.session.GetAttributeInfo(r.node, r.part, name, owner)
		if errors.Is(err, hapi.ErrAttributeNotFound) {
			continue
		}
		if err != nil {
			return info, false, sessionError("GetAttributeInfo "+name, err)
		}
		if info.Exists && info.Storage == storage && info.Count > 0 {
			return info, true, nil
		}
	}
	return hapi.AttributeInfo{}, false, nil
}

func (r attrReader) text(name string) (string, bool, error) {
	info, ok, err := r.find(name, hapi.StorageString)
	if !ok || err != nil {
		return "", false, err
	}
	values, err := r.session.GetAttributeStringData(r.node, r.part, name, info)
	if errors.Is(err, hapi.ErrAttributeNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, sessionError("GetAttributeStringData "+name, err)
	}
	if len(values) == 0 {
		return "", false, nil
	}
	return values[0], true, nil
}

// floats returns the first tuple of a float attribute. A tuple size outside
// sizes is treated as absent.
func (r attrReader) floats(name string, sizes ...int) ([]float32, bool, error) {
	info, ok, err := r.find(name, hapi.StorageFloat)
	if !ok || err != nil {
		return nil, false, err
	}
	if !tupleAllowed(info.TupleSize, sizes) {
		return nil, false, nil
	}
	values, err := r.session.GetAttributeFloatData(r.node, r.part, name, info)
	if errors.Is(err, hapi.ErrAttributeNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, sessionError("GetAttributeFloatData "+name, err)
	}
	if len(values) < info.TupleSize {
		return nil, false, nil
	}
	return values[:info.TupleSize], true, nil
}

func (r attrReader) float(name string) (float32, bool, error) {
	v, ok, err := r.floats(name, 1)
	if !ok || err != nil {
		return 0, false, err
	}
	return v[0], true, nil
}

func (r attrReader) integer(name string) (int, bool, error) {
	info, ok, err := r.find(name, hapi.StorageInt)
	if !ok || err != nil {
		return 0, false, err
	}
	if info.TupleSize != 1 {
		return 0, false, nil
	}
	values, err := r.session.GetAttributeIntData(r.node, r.part, name, info)
	if errors.Is(err, hapi.ErrAttributeNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, sessionError("GetAttributeIntData "+name, err)
	}
	if len(values) == 0 {
		return 0, false, nil
	}
	return int(values[0]), true, nil
}

func tupleAllowed(size int, sizes []int) bool {
	for _, s := range sizes {
		if s == size {
			return true
		}
	}
	return false
}

// readLayerAttributes fills material properties. Missing or mis-shaped
// attributes keep the layer's defaults.
func readLayerAttributes(r attrReader, l *Layer) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{AttrTextureDiffuse, &l.DiffuseTexture},
		{AttrTextureMask, &l.MaskTexture},
		{AttrTextureNormal, &l.NormalTexture},
		{AttrTerrainDataFile, &l.TerrainDataFile},
		{AttrTerrainLayerFile, &l.TerrainLayerFile},
	}
	for _, s := range strs {
		v, ok, err := r.text(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = v
		}
	}

	scalars := []struct {
		name string
		dst  *float32
	}{
		{AttrNormalScale, &l.NormalScale},
		{AttrMetallic, &l.Metallic},
		{AttrSmoothness, &l.Smoothness},
	}
	for _, s := range scalars {
		v, ok, err := r.float(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = v
		}
	}

	spec, ok, err := r.floats(AttrSpecular, 3, 4)
	if err != nil {
		return err
	}
	if ok {
		l.Specular = [4]float32{spec[0], spec[1], spec[2], 1}
		if len(spec) == 4 {
			l.Specular[3] = spec[3]
		}
	}

	vec2s := []struct {
		name string
		dst  *[2]float32
	}{
		{AttrTileOffset, &l.TileOffset},
		{AttrTileSize, &l.TileSize},
	}
	for _, s := range vec2s {
		v, ok, err := r.floats(s.name, 2)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = [2]float32{v[0], v[1]}
		}
	}
	return nil
}
