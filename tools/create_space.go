package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"ChunkCore/world"
)

// Writes a sample mapping directory: a grid of outside chunks with terrain
// and one hall standing on it.
func main() {
	dir := flag.String("dir", "spaces/sample", "Mapping directory to create")
	width := flag.Int("width", 16, "Outside chunks along x")
	depth := flag.Int("depth", 16, "Outside chunks along z")
	res := flag.Int("terrain", 9, "Terrain samples along each chunk side")
	flag.Parse()

	logger := zap.Must(zap.NewDevelopment())
	defer func() { _ = logger.Sync() }()

	layout := world.SpaceLayout{
		Width:             *width,
		Depth:             *depth,
		TerrainResolution: *res,
		Rocks:             true,
		Halls: []world.HallLayout{{
			Name: "hall_i",
			// straddles four outside chunks
			Box: world.BoundingBox{
				Min: world.Vector3{X: 160, Y: 0, Z: 160},
				Max: world.Vector3{X: 240, Y: 30, Z: 240},
			},
		}},
	}
	if err := os.RemoveAll(*dir); err != nil {
		logger.Fatal("Clear space dir fail", zap.Error(err))
	}
	if err := layout.Write(*dir); err != nil {
		logger.Fatal("Write space fail", zap.Error(err))
	}
	logger.Info("Space written",
		zap.String("dir", *dir),
		zap.Int("chunks", *width**depth+len(layout.Halls)),
	)
}
