// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package merge

import (
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/x448/float16"
)

// FloatToHalf merges float32 raw tiles into a half precision output.
// The merge itself is computed in float32 (same formula as Float) and rounded once to the output.
func FloatToHalf(out matrix.View[float16.Float16], tiles []float32, mr, nr, y0, ymax, x0, xmax int, p FloatParams[float32]) {
	lo, hi := p.Act.Range()
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
				for c := range cols {
					var old float32
					if p.Beta != 0 {
						old = outRow[c].Float32()
					}
					v := affine(p.Alpha, p.Beta, tile[r*nr+c], old)
					if p.Bias != nil {
						v += p.Bias[x+c]
					}
					outRow[c] = float16.Fromfloat32(Clamp(v, lo, hi))
				}
			}
		}
	}
}

// Half merges half precision raw tiles into a half precision output. Arithmetic is done in float32.
func Half(out matrix.View[float16.Float16], tiles []float16.Float16, mr, nr, y0, ymax, x0, xmax int, p FloatParams[float32]) {
	lo, hi := p.Act.Range()
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
				for c := range cols {
					var old float32
					if p.Beta != 0 {
						old = outRow[c].Float32()
					}
					v := affine(p.Alpha, p.Beta, tile[r*nr+c].Float32(), old)
					if p.Bias != nil {
						v += p.Bias[x+c]
					}
					outRow[c] = float16.Fromfloat32(Clamp(v, lo, hi))
				}
			}
		}
	}
}
