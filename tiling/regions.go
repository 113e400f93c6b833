package tiling

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// tileBound is the pixel rectangle covering tiles [col0, col1) of one tile row
func tileBound(tile TileSize, row, col0, col1 int) orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(col0 * tile.Width), float64(row * tile.Height)},
		Max: orb.Point{float64(col1 * tile.Width), float64((row + 1) * tile.Height)},
	}
}

// ClassRegions groups the tiles of each class into a MultiPolygon in padded
// image pixel coordinates. Each polygon is one horizontal run of equal labels.
// The result is indexed by class; absent classes map to an empty MultiPolygon.
func ClassRegions(g *LabelGrid, tile TileSize, classN int) []orb.MultiPolygon {
	regions := make([]orb.MultiPolygon, classN)
	for r := 0; r < g.Rows; r++ {
		start := 0
		for c := 1; c <= g.Cols; c++ {
			if c < g.Cols && g.At(r, c) == g.At(r, start) {
				continue
			}
			label := g.At(r, start)
			if label >= 0 && label < classN {
				regions[label] = append(regions[label], tileBound(tile, r, start, c).ToPolygon())
			}
			start = c
		}
	}
	return regions
}

// RegionsGeoJSON exports a label grid as a FeatureCollection with one
// MultiPolygon feature per class present in the grid
func RegionsGeoJSON(g *LabelGrid, tile TileSize, classes []ClassMeta) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	counts := ClassCounts(g, len(classes))
	for label, mp := range ClassRegions(g, tile, len(classes)) {
		if len(mp) == 0 {
			continue
		}
		f := geojson.NewFeature(mp)
		f.Properties["class"] = label
		f.Properties["name"] = ClassName(classes, label)
		f.Properties["color"] = classes[label].Color
		f.Properties["tiles"] = counts[label]
		f.Properties["area"] = planar.Area(mp)
		fc.Append(f)
	}
	return fc
}

// PlanGeoJSON exports the block layout of a plan, one polygon per block
func PlanGeoJSON(plan *Plan) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, b := range plan.Blocks {
		f := geojson.NewFeature(b.Bound().ToPolygon())
		f.Properties["row"] = b.Row
		f.Properties["col"] = b.Col
		f.Properties["tileRow"] = b.TileRow
		f.Properties["tileCol"] = b.TileCol
		f.Properties["tiles"] = b.TileCount()
		fc.Append(f)
	}
	fc.ExtraMembers = geojson.Properties{
		"factor":   plan.Factor,
		"tileRows": plan.TileRows,
		"tileCols": plan.TileCols,
	}
	return fc
}
