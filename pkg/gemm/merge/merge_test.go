// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package merge

import (
	"math"
	"testing"

	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// generalMerge applies out = act(alpha*raw + beta*out + bias) element by element, without any fast path.
func generalMerge(out matrix.View[float32], tiles []float32, mr, nr, y0, ymax, x0, xmax int, p FloatParams[float32]) {
	lo, hi := p.Act.Range()
	numColBlocks := (xmax - x0 + nr - 1) / nr
	for y := y0; y < ymax; y++ {
		for x := x0; x < xmax; x++ {
			yb, xb := (y-y0)/mr, (x-x0)/nr
			tile := tiles[(yb*numColBlocks+xb)*mr*nr:]
			raw := tile[((y-y0)%mr)*nr+(x-x0)%nr]
			v := p.Alpha*raw + p.Beta*out.At(y, x)
			if p.Bias != nil {
				v += p.Bias[x]
			}
			out.Set(y, x, Clamp(v, lo, hi))
		}
	}
}

func TestFloatFastPaths(t *testing.T) {
	const mr, nr = 4, 3
	// Region [1, 8) x [2, 9) of a 10x10 output: 2 row blocks (second ragged), 3 col blocks (third ragged).
	y0, ymax, x0, xmax := 1, 8, 2, 9
	numTiles := 2 * 3
	tiles := xslices.Iota[float32](-20, numTiles*mr*nr)
	initial := xslices.Iota[float32](0.5, 100)
	bias := xslices.Iota[float32](-5, 10)

	for _, tc := range []struct {
		name string
		p    FloatParams[float32]
	}{
		{"beta0", FloatParams[float32]{Alpha: 1, Beta: 0}},
		{"beta0-alpha2-bias", FloatParams[float32]{Alpha: 2, Beta: 0, Bias: bias}},
		{"beta1", FloatParams[float32]{Alpha: 0.5, Beta: 1}},
		{"beta1-bias-relu", FloatParams[float32]{Alpha: 1, Beta: 1, Bias: bias, Act: Activation{Kind: ReLU}}},
		{"general", FloatParams[float32]{Alpha: 1.5, Beta: -0.25}},
		{"general-bounded", FloatParams[float32]{Alpha: 3, Beta: 2, Bias: bias, Act: Activation{Kind: BoundedReLU, Param1: 6}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := matrix.New(append([]float32(nil), initial...), 10, 10)
			want := matrix.New(append([]float32(nil), initial...), 10, 10)
			Float(got, tiles, mr, nr, y0, ymax, x0, xmax, tc.p)
			generalMerge(want, tiles, mr, nr, y0, ymax, x0, xmax, tc.p)
			assert.Equal(t, want.Data, got.Data)
			// Outside the region nothing is touched.
			assert.Equal(t, initial[:10], got.Data[:10])
			assert.Equal(t, initial[90:], got.Data[90:])
			for y := range 10 {
				assert.Equal(t, initial[y*10:y*10+2], got.Data[y*10:y*10+2])
				assert.Equal(t, initial[y*10+9], got.Data[y*10+9])
			}
		})
	}
}

func TestFloatBeta0IgnoresOutput(t *testing.T) {
	const mr, nr = 2, 2
	out := matrix.New(xslices.SliceWithValue(9, float32(math.NaN())), 3, 3)
	tiles := xslices.Iota[float32](1, 4*mr*nr)
	Float(out, tiles, mr, nr, 0, 3, 0, 3, FloatParams[float32]{Alpha: 1, Beta: 0})
	assert.Equal(t, []float32{1, 2, 5, 3, 4, 7, 9, 10, 13}, out.Data)
}

func TestActivationRange(t *testing.T) {
	lo, hi := Activation{}.Range()
	assert.True(t, math.IsInf(float64(lo), -1))
	assert.True(t, math.IsInf(float64(hi), 1))
	lo, hi = Activation{Kind: ReLU}.Range()
	assert.Equal(t, float32(0), lo)
	assert.True(t, math.IsInf(float64(hi), 1))
	lo, hi = Activation{Kind: BoundedReLU, Param1: 6}.Range()
	assert.Equal(t, []float32{0, 6}, []float32{lo, hi})
	assert.Equal(t, "BoundedReLU(6)", Activation{Kind: BoundedReLU, Param1: 6}.String())
}

func TestInteger(t *testing.T) {
	const mr, nr = 2, 4
	out := matrix.Make[int32](3, 5)
	tiles := xslices.Iota[int32](1, 4*mr*nr)
	bias := []int32{100, 200, 300, 400, 500}
	Integer(out, tiles, mr, nr, 0, 3, 0, 5, bias, false)
	// First tile is rows 0-1, cols 0-3; second tile holds col 4 (plus discarded values).
	require.Equal(t, []int32{101, 202, 303, 404, 509}, out.Row(0))
	require.Equal(t, []int32{105, 206, 307, 408, 513}, out.Row(1))
	require.Equal(t, []int32{117, 218, 319, 420, 525}, out.Row(2))

	// Append: adds raw values, bias not included again.
	Integer(out, tiles, mr, nr, 0, 3, 0, 5, bias, true)
	assert.Equal(t, []int32{102, 204, 306, 408, 518}, out.Row(0))

	uout := matrix.Make[uint32](1, 2)
	Integer(uout, []uint32{7, 8, 9, 10}, 2, 2, 0, 1, 0, 2, nil, false)
	assert.Equal(t, []uint32{7, 8}, uout.Data)
}

func TestHalf(t *testing.T) {
	const mr, nr = 2, 2
	out := matrix.Make[float16.Float16](2, 3)
	tiles := []float32{1, 2, 3, 4, 5, -6, 7, 8}
	FloatToHalf(out, tiles, mr, nr, 0, 2, 0, 3, FloatParams[float32]{Alpha: 1, Act: Activation{Kind: ReLU}})
	assert.Equal(t, []float32{1, 2, 5, 3, 4, 7}, xslices.Map(out.Data, float16.Float16.Float32))

	htiles := xslices.Map(tiles, float16.Fromfloat32)
	Half(out, htiles, mr, nr, 0, 2, 0, 3, FloatParams[float32]{Alpha: 1, Beta: 1})
	assert.Equal(t, []float32{2, 4, 10, 6, 8, 14}, xslices.Map(out.Data, float16.Float16.Float32))
}
