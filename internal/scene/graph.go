// Package scene is an in-memory node graph that stands in for a host scene.
// A Graph is owned by one goroutine and is not safe for concurrent use.
package scene

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Faultbox/hfsync/internal/output"
)

// ErrNoNode is returned for handles that do not name a live node.
var ErrNoNode = errors.New("no such node")

// Node is one scene node.
type Node struct {
	Handle   output.NodeHandle
	Name     string
	Parent   output.NodeHandle
	Children []output.NodeHandle
	Position [3]float32
	Terrain  *output.TerrainData
	Mesh     *output.MeshData
}

// Graph implements output.SceneBuilder.
type Graph struct {
	nodes map[output.NodeHandle]*Node
	roots []output.NodeHandle
	next  output.NodeHandle
}

var _ output.SceneBuilder = (*Graph)(nil)

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[output.NodeHandle]*Node)}
}

func (g *Graph) CreateNode(name string, parent output.NodeHandle) (output.NodeHandle, error) {
	var p *Node
	if parent != output.NoParent {
		var err error
		if p, err = g.get(parent); err != nil {
			return output.NoParent, fmt.Errorf("parent %d: %w", parent, err)
		}
	}

	g.next++
	n := &Node{Handle: g.next, Name: name, Parent: parent}
	g.nodes[n.Handle] = n
	if p != nil {
		p.Children = append(p.Children, n.Handle)
	} else {
		g.roots = append(g.roots, n.Handle)
	}
	return n.Handle, nil
}

func (g *Graph) AttachTerrainData(h output.NodeHandle, data output.TerrainData) error {
	n, err := g.get(h)
	if err != nil {
		return err
	}
	n.Terrain = &data
	return nil
}

func (g *Graph) AttachMeshData(h output.NodeHandle, data output.MeshData) error {
	n, err := g.get(h)
	if err != nil {
		return err
	}
	n.Mesh = &data
	return nil
}

func (g *Graph) SetPosition(h output.NodeHandle, pos [3]float32) error {
	n, err := g.get(h)
	if err != nil {
		return err
	}
	n.Position = pos
	return nil
}

func (g *Graph) DestroyNode(h output.NodeHandle) error {
	n, err := g.get(h)
	if err != nil {
		return err
	}
	if n.Parent != output.NoParent {
		if p, ok := g.nodes[n.Parent]; ok {
			p.Children = slices.DeleteFunc(p.Children, func(c output.NodeHandle) bool { return c == h })
		}
	} else {
		g.roots = slices.DeleteFunc(g.roots, func(c output.NodeHandle) bool { return c == h })
	}
	g.remove(n)
	return nil
}

func (g *Graph) remove(n *Node) {
	for _, c := range n.Children {
		if child, ok := g.nodes[c]; ok {
			g.remove(child)
		}
	}
	delete(g.nodes, n.Handle)
}

func (g *Graph) get(h output.NodeHandle) (*Node, error) {
	n, ok := g.nodes[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoNode, h)
	}
	return n, nil
}

// Node returns the node for h, or nil.
func (g *Graph) Node(h output.NodeHandle) *Node {
	return g.nodes[h]
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Roots returns the top-level nodes in creation order.
func (g *Graph) Roots() []output.NodeHandle {
	return slices.Clone(g.roots)
}

// Find returns the first node named name in depth-first order.
func (g *Graph) Find(name string) *Node {
	var walk func(hs []output.NodeHandle) *Node
	walk = func(hs []output.NodeHandle) *Node {
		for _, h := range hs {
			n := g.nodes[h]
			if n.Name == name {
				return n
			}
			if found := walk(n.Children); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(g.roots)
}
