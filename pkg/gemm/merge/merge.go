// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package merge implements the output stage: it folds the raw tiles produced by the interleaved
// micro-kernels back into the caller's output matrix.
//
// The raw tiles are laid out as the kernels write them: for each block of mr rows of the output
// region, for each block of nr columns, one mr x nr row-major tile. Tiles crossing the edge of the
// region are still complete: the values beyond the edge are discarded here, never written.
//
// Full tiles take the per-row fast paths, edge tiles are merged element by element with the same
// formula, so the results don't depend on whether a boundary is hit.
package merge

import (
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
)

// FloatParams configures the floating point merge: out = act(alpha*raw + beta*out + bias[col]).
type FloatParams[T dtypes.GoFloat] struct {
	Alpha, Beta T

	// Bias, if not nil, is indexed by the absolute output column and broadcast over the rows.
	Bias []T

	Act Activation
}

// Float merges the raw tiles for the output region [y0, ymax) x [x0, xmax) into out.
//
// beta == 0 doesn't read the previous output (so it can be uninitialized, even NaN),
// beta == 1 adds to it without multiplying.
func Float[T dtypes.GoFloat](out matrix.View[T], tiles []T, mr, nr, y0, ymax, x0, xmax int, p FloatParams[T]) {
	lo32, hi32 := p.Act.Range()
	lo, hi := T(lo32), T(hi32)
	withAct := !p.Act.IsNone()
	tileSize := mr * nr
	tileIdx := 0
	for y := y0; y < ymax; y += mr {
		rows := min(mr, ymax-y)
		for x := x0; x < xmax; x += nr {
			cols := min(nr, xmax-x)
			tile := tiles[tileIdx : tileIdx+tileSize]
			tileIdx += tileSize
			if rows == mr && cols == nr {
				floatFullTile(out, tile, mr, nr, y, x, p)
				if withAct {
					for r := range mr {
						outRow := out.Data[(y+r)*out.Stride+x : (y+r)*out.Stride+x+nr]
						for c, v := range outRow {
							outRow[c] = Clamp(v, lo, hi)
						}
					}
				}
				continue
			}
			// Ragged edge.
			for r := range rows {
				outBase := (y+r)*out.Stride + x
				for c := range cols {
					v := affine(p.Alpha, p.Beta, tile[r*nr+c], out.Data[outBase+c])
					if p.Bias != nil {
						v += p.Bias[x+c]
					}
					if withAct {
						v = Clamp(v, lo, hi)
					}
					out.Data[outBase+c] = v
				}
			}
		}
	}
}

// affine is the reference formula used for every merged element.
func affine[T dtypes.GoFloat](alpha, beta, raw, old T) T {
	switch beta {
	case 0:
		return alpha * raw
	case 1:
		return alpha*raw + old
	}
	return alpha*raw + beta*old
}

func floatFullTile[T dtypes.GoFloat](out matrix.View[T], tile []T, mr, nr, y, x int, p FloatParams[T]) {
	var bias []T
	if p.Bias != nil {
		bias = p.Bias[x : x+nr]
	}
	alpha, beta := p.Alpha, p.Beta
	for r := range mr {
		outRow := out.Data[(y+r)*out.Stride+x : (y+r)*out.Stride+x+nr]
		in := tile[r*nr : r*nr+nr]
		switch {
		case beta == 0 && bias == nil:
			for c, v := range in {
				outRow[c] = alpha * v
			}
		case beta == 0:
			for c, v := range in {
				outRow[c] = alpha*v + bias[c]
			}
		case beta == 1 && bias == nil:
			for c, v := range in {
				outRow[c] = alpha*v + outRow[c]
			}
		case beta == 1:
			for c, v := range in {
				outRow[c] = alpha*v + outRow[c] + bias[c]
			}
		case bias == nil:
			for c, v := range in {
				outRow[c] = alpha*v + beta*outRow[c]
			}
		default:
			for c, v := range in {
				outRow[c] = alpha*v + beta*outRow[c] + bias[c]
			}
		}
	}
}
