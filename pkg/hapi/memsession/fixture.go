package memsession

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/hfsync/pkg/hapi"
)

//go:embed geometry.schema.json
var geometrySchemaJSON string

// Geometry is the cooked output of a node: a list of parts.
type Geometry struct {
	Name  string `yaml:"name" json:"name"`
	Parts []Part `yaml:"parts" json:"parts"`
}

// Part is a single geometry part.
type Part struct {
	Name           string      `yaml:"name" json:"name"`
	Type           string      `yaml:"type" json:"type"` // mesh, volume, curve, instancer
	PointCount     int         `yaml:"point_count,omitempty" json:"point_count,omitempty"`
	PrimitiveCount int         `yaml:"primitive_count,omitempty" json:"primitive_count,omitempty"`
	Volume         *Volume     `yaml:"volume,omitempty" json:"volume,omitempty"`
	Attributes     []Attribute `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// Volume holds the layout and samples of a volume part.
type Volume struct {
	Name      string     `yaml:"name" json:"name"`
	XLength   int        `yaml:"x_length" json:"x_length"`
	YLength   int        `yaml:"y_length" json:"y_length"`
	ZLength   int        `yaml:"z_length" json:"z_length"`
	TupleSize int        `yaml:"tuple_size" json:"tuple_size"`
	Storage   string     `yaml:"storage" json:"storage"` // float, int
	Position  [3]float32 `yaml:"position" json:"position"`
	Rotation  [4]float32 `yaml:"rotation" json:"rotation"`
	Scale     [3]float32 `yaml:"scale" json:"scale"`
	Samples   []float32  `yaml:"samples" json:"samples"`

	// Explicit bounds. When nil, bounds are position +/- scale.
	BoundsMin *[3]float32 `yaml:"bounds_min,omitempty" json:"bounds_min,omitempty"`
	BoundsMax *[3]float32 `yaml:"bounds_max,omitempty" json:"bounds_max,omitempty"`
}

// Attribute is a named attribute attached to a part.
type Attribute struct {
	Name      string    `yaml:"name" json:"name"`
	Owner     string    `yaml:"owner" json:"owner"`     // point, vertex, prim, detail
	Storage   string    `yaml:"storage" json:"storage"` // float, int, string
	TupleSize int       `yaml:"tuple_size" json:"tuple_size"`
	Floats    []float32 `yaml:"floats,omitempty" json:"floats,omitempty"`
	Ints      []int32   `yaml:"ints,omitempty" json:"ints,omitempty"`
	Strings   []string  `yaml:"strings,omitempty" json:"strings,omitempty"`
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func geometrySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("geometry.schema.json", strings.NewReader(geometrySchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile("geometry.schema.json")
	})
	return compiledSchema, schemaErr
}

// LoadFixture reads a YAML geometry fixture from path.
func LoadFixture(path string) (*Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	geo, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return geo, nil
}

// ParseFixture decodes and validates a YAML geometry fixture.
func ParseFixture(data []byte) (*Geometry, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}

	// The validator wants JSON-shaped values.
	jb, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting to json: %w", err)
	}
	var doc any
	if err := json.Unmarshal(jb, &doc); err != nil {
		return nil, err
	}

	schema, err := geometrySchema()
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}

	var geo Geometry
	if err := yaml.Unmarshal(data, &geo); err != nil {
		return nil, fmt.Errorf("decoding geometry: %w", err)
	}
	geo.applyDefaults()
	return &geo, nil
}

func (g *Geometry) applyDefaults() {
	for i := range g.Parts {
		for j := range g.Parts[i].Attributes {
			if g.Parts[i].Attributes[j].TupleSize == 0 {
				g.Parts[i].Attributes[j].TupleSize = 1
			}
		}
		v := g.Parts[i].Volume
		if v == nil {
			continue
		}
		if v.ZLength == 0 {
			v.ZLength = 1
		}
		if v.TupleSize == 0 {
			v.TupleSize = 1
		}
		if v.Storage == "" {
			v.Storage = "float"
		}
		if v.Scale == ([3]float32{}) {
			v.Scale = [3]float32{1, 1, 1}
		}
		if v.Rotation == ([4]float32{}) {
			v.Rotation = [4]float32{0, 0, 0, 1}
		}
	}
}

func parsePartType(s string) hapi.PartType {
	switch s {
	case "mesh":
		return hapi.PartMesh
	case "curve":
		return hapi.PartCurve
	case "volume":
		return hapi.PartVolume
	case "instancer":
		return hapi.PartInstancer
	case "box":
		return hapi.PartBox
	case "sphere":
		return hapi.PartSphere
	default:
		return hapi.PartInvalid
	}
}

func parseStorage(s string) hapi.StorageType {
	switch s {
	case "int":
		return hapi.StorageInt
	case "int64":
		return hapi.StorageInt64
	case "float":
		return hapi.StorageFloat
	case "float64":
		return hapi.StorageFloat64
	case "string":
		return hapi.StorageString
	default:
		return hapi.StorageInvalid
	}
}

func parseOwner(s string) hapi.AttributeOwner {
	switch s {
	case "point":
		return hapi.OwnerPoint
	case "vertex":
		return hapi.OwnerVertex
	case "detail":
		return hapi.OwnerDetail
	default:
		return hapi.OwnerPrim
	}
}
