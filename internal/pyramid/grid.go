package pyramid

import (
	"fmt"
	"image"
)

// LevelTiles returns the minimum tile grid covering a width x height level.
func LevelTiles(width, height, edge int) (nx, ny int) {
	if edge <= 0 {
		return 0, 0
	}
	return ceilDiv(width, edge), ceilDiv(height, edge)
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

// TotalTiles sums the tile grids of every visible level.
func TotalTiles(src Source, edge int) (int, error) {
	if edge <= 0 {
		return 0, ErrInvalidTileSize
	}
	total := 0
	for level := 0; level < src.Shape().Levels; level++ {
		nx, ny, err := src.LevelTiles(level, edge)
		if err != nil {
			return 0, fmt.Errorf("level %d: %w", level, err)
		}
		total += nx * ny
	}
	return total, nil
}

// TotalWork is the number of tile files a render writes when every tile
// succeeds: TotalTiles times the number of groups.
func TotalWork(src Source, edge, groups int) (int, error) {
	tiles, err := TotalTiles(src, edge)
	if err != nil {
		return 0, err
	}
	return tiles * groups, nil
}

// CoalescedLevelCount returns how many levels remain visible once every
// level whose grid is a single tile in both dimensions is folded into one
// terminal level.
//
// Deep Zoom style pyramids keep halving until 1x1 pixel, which yields
// several single-tile levels. Exposing all of them would repeat the same
// tile at several indices.
func CoalescedLevelCount(grids []image.Point) int {
	single := 0
	for _, g := range grids {
		if max(g.X, g.Y) == 1 {
			single++
		}
	}
	if single == 0 {
		return len(grids)
	}
	return len(grids) - single + 1
}

// Addresses lists every tile address of a source, level-major with rows
// (ty) outside columns (tx).
func Addresses(src Source, edge int) ([]TileAddress, error) {
	if edge <= 0 {
		return nil, ErrInvalidTileSize
	}
	var out []TileAddress
	for level := 0; level < src.Shape().Levels; level++ {
		nx, ny, err := src.LevelTiles(level, edge)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", level, err)
		}
		for ty := 0; ty < ny; ty++ {
			for tx := 0; tx < nx; tx++ {
				out = append(out, TileAddress{Level: level, X: tx, Y: ty, Edge: edge})
			}
		}
	}
	return out, nil
}
