package scene

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/hfsync/internal/output"
)

type nodeDump struct {
	Name     string       `yaml:"name"`
	Position [3]float32   `yaml:"position,flow"`
	Terrain  *terrainDump `yaml:"terrain,omitempty"`
	Mesh     *meshDump    `yaml:"mesh,omitempty"`
	Children []nodeDump   `yaml:"children,omitempty"`
}

type terrainDump struct {
	Asset      string     `yaml:"asset"`
	Resolution int        `yaml:"resolution"`
	Size       [3]float32 `yaml:"size,flow"`
	Layers     []string   `yaml:"layers,omitempty,flow"`
}

type meshDump struct {
	Name      string `yaml:"name"`
	Vertices  int    `yaml:"vertices"`
	Triangles int    `yaml:"triangles"`
}

// Dump writes the graph as a YAML tree. Grid data is summarized, not listed.
func (g *Graph) Dump(w io.Writer) error {
	out := make([]nodeDump, 0, len(g.roots))
	for _, h := range g.roots {
		out = append(out, g.dumpNode(h))
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string][]nodeDump{"nodes": out}); err != nil {
		return err
	}
	return enc.Close()
}

func (g *Graph) dumpNode(h output.NodeHandle) nodeDump {
	n := g.nodes[h]
	d := nodeDump{Name: n.Name, Position: n.Position}
	if t := n.Terrain; t != nil {
		td := &terrainDump{
			Asset:      t.AssetPath,
			Resolution: t.Resolution,
			Size:       [3]float32{t.Size.X, t.Size.Height, t.Size.Z},
		}
		for _, l := range t.Layers {
			td.Layers = append(td.Layers, l.Name)
		}
		d.Terrain = td
	}
	if m := n.Mesh; m != nil {
		d.Mesh = &meshDump{Name: m.Name, Vertices: len(m.Vertices), Triangles: len(m.Indices) / 3}
	}
	for _, c := range n.Children {
		d.Children = append(d.Children, g.dumpNode(c))
	}
	return d
}
