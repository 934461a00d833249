// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package merge

import (
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
)

// Integer merges raw int32/uint32 tiles (see Float for the tile layout) into out.
//
// If appendTo is true, the raw values are added to the existing output (the contracting dimension
// is being processed in blocks, and this isn't the first one), otherwise out is overwritten.
// bias, if not nil, is indexed by the absolute column and added only when not appending, so
// it is included exactly once.
//
// Arithmetic wraps around, as the hardware accumulators do.
func Integer[T int32 | uint32](out matrix.View[T], tiles []T, mr, nr, y0, ymax, x0, xmax int, bias []T, appendTo bool) {
	tileSize := mr * nr
	tileIdx := 0
	for y := y0; y < ymax; y += mr {
		rows := min(mr, ymax-y)
		for x := x0; x < xmax; x += nr {
			cols := min(nr, xmax-x)
			tile := tiles[tileIdx : tileIdx+tileSize]
			tileIdx += tileSize
			for r := range rows {
				outRow := out.Data[(y+r)*out.Stride+x : (y+r)*out.Stride+x+cols]
				in := tile[r*nr : r*nr+cols]
				switch {
				case appendTo:
					for c, v := range in {
						outRow[c] += v
					}
				case bias != nil:
					for c, v := range in {
						outRow[c] = v + bias[x+c]
					}
				default:
					copy(outRow, in)
				}
			}
		}
	}
}
