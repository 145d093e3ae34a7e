// Package heightfield converts engine heightfield volumes into terrain
// conventions: normalized height grids, stacked splat weights and placement.
//
// Volume samples arrive with X varying fastest (index = x + y*res). Terrain
// grids are indexed [row][col] where rows follow the volume's Y axis and
// columns follow world X. The engine is right-handed and the terrain side is
// left-handed, so X is mirrored and the other two axes are kept.
package heightfield

import (
	"errors"
	"fmt"
	"math"
)

// FlatHeight is the normalized value of every sample in a tile whose min and
// max heights are equal.
const FlatHeight float32 = 0

// HeightLayerName is the volume name of the layer that carries elevation.
const HeightLayerName = "height"

// ErrResolution is returned when sample counts don't match a square grid.
var ErrResolution = errors.New("samples do not match resolution")

// Normalize maps h from [min, max] into [0, 1].
func Normalize(h, min, max float32) float32 {
	r := max - min
	if r == 0 {
		return FlatHeight
	}
	return (h - min) / r
}

// Range returns the smallest and largest sample.
func Range(samples []float32) (min, max float32) {
	if len(samples) == 0 {
		return 0, 0
	}
	min, max = samples[0], samples[0]
	for _, v := range samples[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Index returns the grid cell a volume sample (vx, vy) lands on.
func Index(vx, vy, res int) (row, col int) {
	return vy, res - 1 - vx
}

// HeightGrid builds a res x res grid of heights normalized with min/max.
func HeightGrid(samples []float32, res int, min, max float32) ([][]float32, error) {
	if res <= 0 || len(samples) != res*res {
		return nil, fmt.Errorf("%w: %d samples for resolution %d", ErrResolution, len(samples), res)
	}

	grid := make([][]float32, res)
	for row := range grid {
		grid[row] = make([]float32, res)
	}
	for vy := 0; vy < res; vy++ {
		for vx := 0; vx < res; vx++ {
			row, col := Index(vx, vy, res)
			grid[row][col] = Normalize(samples[vx+vy*res], min, max)
		}
	}
	return grid, nil
}

// SplatGrid stacks layers into a [row][col][layer] weight grid.
// Weights are copied as-is; they are not renormalized to sum to one.
func SplatGrid(layers [][]float32, res int) ([][][]float32, error) {
	if res <= 0 {
		return nil, fmt.Errorf("%w: resolution %d", ErrResolution, res)
	}
	for i, l := range layers {
		if len(l) != res*res {
			return nil, fmt.Errorf("%w: layer %d has %d samples for resolution %d", ErrResolution, i, len(l), res)
		}
	}

	n := len(layers)
	grid := make([][][]float32, res)
	for row := range grid {
		grid[row] = make([][]float32, res)
		cells := make([]float32, res*n)
		for col := range grid[row] {
			grid[row][col] = cells[col*n : (col+1)*n : (col+1)*n]
		}
	}
	for m, l := range layers {
		for vy := 0; vy < res; vy++ {
			for vx := 0; vx < res; vx++ {
				row, col := Index(vx, vy, res)
				grid[row][col][m] = l[vx+vy*res]
			}
		}
	}
	return grid, nil
}

// FlipX mirrors a position across the YZ plane.
func FlipX(v [3]float32) [3]float32 {
	return [3]float32{-v[0], v[1], v[2]}
}

// Size is the world-space extent of a terrain tile.
type Size struct {
	X      float32
	Z      float32
	Height float32
}

// TerrainSize computes a tile's extent from its resolution, volume scale and
// height range. Volume scale is half the voxel box, so spacing is scale*2.
// A flat tile gets a height of 1 so the terrain stays well-formed.
func TerrainSize(res int, scale [3]float32, minHeight, maxHeight float32) Size {
	spacingX := float64(scale[0]) * 2
	spacingZ := float64(scale[1]) * 2
	h := maxHeight - minHeight
	if h <= 0 {
		h = 1
	}
	return Size{
		X:      float32(math.Round(float64(res-1) * spacingX)),
		Z:      float32(math.Round(float64(res-1) * spacingZ)),
		Height: h,
	}
}

// Placement returns the terrain origin for a volume with the given world
// bounds. X is mirrored, so the terrain's minimum X is the volume's -max X.
func Placement(boundsMin, boundsMax [3]float32, minHeight float32) [3]float32 {
	return [3]float32{-boundsMax[0], minHeight, boundsMin[2]}
}

// InsertLayer adds layer to an ordered list. The height layer always
// goes to the front; every other layer is appended.
func InsertLayer[T any](list []T, layer T, isHeight bool) []T {
	if !isHeight {
		return append(list, layer)
	}
	list = append(list, layer)
	copy(list[1:], list[:len(list)-1])
	list[0] = layer
	return list
}
