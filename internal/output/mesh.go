package output

import (
	"math"

	"github.com/Faultbox/hfsync/internal/loader"
)

// BuildPreviewMesh creates a grid mesh from a tile's normalized heights,
// scaled to the tile's terrain size. Rows run along Z, columns along X.
func BuildPreviewMesh(tile *loader.TerrainTile) MeshData {
	res := tile.Resolution
	mesh := MeshData{
		Bounds: Bounds{
			Min: [3]float32{1e10, 1e10, 1e10},
			Max: [3]float32{-1e10, -1e10, -1e10},
		},
	}
	if res < 2 || len(tile.Heights) != res {
		return mesh
	}

	stepX := tile.Size.X / float32(res-1)
	stepZ := tile.Size.Z / float32(res-1)

	pos := func(row, col int) [3]float32 {
		return [3]float32{
			float32(col) * stepX,
			tile.Heights[row][col] * tile.Size.Height,
			float32(row) * stepZ,
		}
	}

	mesh.Vertices = make([]Vertex, 0, res*res)
	for row := range res {
		for col := range res {
			p := pos(row, col)
			updateBounds(&mesh.Bounds, p)

			// Central differences, clamped at the edges.
			l, r := pos(row, max(col-1, 0)), pos(row, min(col+1, res-1))
			d, u := pos(max(row-1, 0), col), pos(min(row+1, res-1), col)
			normal := normalize(cross(sub(u, d), sub(r, l)))

			mesh.Vertices = append(mesh.Vertices, Vertex{
				Position: p,
				Normal:   normal,
				TexCoord: [2]float32{float32(col) / float32(res-1), float32(row) / float32(res-1)},
			})
		}
	}

	mesh.Indices = make([]uint32, 0, (res-1)*(res-1)*6)
	for row := range res - 1 {
		for col := range res - 1 {
			i := uint32(row*res + col)
			next := i + uint32(res)
			mesh.Indices = append(mesh.Indices,
				i, next, i+1,
				i+1, next, next+1,
			)
		}
	}
	return mesh
}

func updateBounds(b *Bounds, p [3]float32) {
	for i := range 3 {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

func sub(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func cross(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float32) [3]float32 {
	l := float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
	if l < 1e-6 {
		return [3]float32{0, 1, 0}
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}
