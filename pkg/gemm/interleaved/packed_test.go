// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interleaved

import (
	"fmt"
	"testing"

	"github.com/gomlx/microgemm/pkg/gemm/config"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/merge"
	"github.com/gomlx/microgemm/pkg/gemm/quantize"
	"github.com/gomlx/microgemm/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// The packed operand is reused with LHS of different numbers of rows.
var packedLHSRows = []int{1, 9, 30}

func TestGemmPacked(t *testing.T) {
	for _, shape := range testShapes {
		n, k := shape[1], shape[2]
		_, b := floatOperands(0, n, k)
		bias := xslices.Cycle[float32](-2, 4, n)
		p := merge.FloatParams[float32]{Alpha: 2, Beta: 0.5, Bias: bias, Act: merge.Activation{Kind: merge.ReLU}}
		for _, cfg := range testConfigs {
			t.Run(fmt.Sprintf("%dx%d/%s", k, n, cfg), func(t *testing.T) {
				packed, err := PackRHS(cfg, b)
				require.NoError(t, err)
				assert.Equal(t, "a64-sgemm-8x12", packed.Kernel())
				assert.Equal(t, k, packed.Rows())
				assert.Equal(t, n, packed.Cols())
				for _, m := range packedLHSRows {
					a, _ := floatOperands(m, n, k)
					c0 := matrix.New(xslices.Cycle[float32](-5, 11, m*n), m, n)
					want := c0.Clone()
					require.NoError(t, Gemm(cfg, a, b, want, p))
					c := c0.Clone()
					require.NoError(t, GemmPacked(a, packed, c, p))
					assert.Equal(t, want.Data, c.Data, "m=%d", m)

					wantHalf := matrix.New(xslices.Map(c0.Data, float16.Fromfloat32), m, n)
					require.NoError(t, GemmToHalf(cfg, a, b, wantHalf, p))
					cHalf := matrix.New(xslices.Map(c0.Data, float16.Fromfloat32), m, n)
					require.NoError(t, GemmToHalfPacked(a, packed, cHalf, p))
					assert.Equal(t, wantHalf.Data, cHalf.Data, "m=%d, half", m)
				}
			})
		}
	}

	// Half precision operands.
	aF32, bF32 := floatOperands(7, 19, 13)
	a := matrix.New(xslices.Map(aF32.Data, float16.Fromfloat32), 7, 13)
	b := matrix.New(xslices.Map(bF32.Data, float16.Fromfloat32), 13, 19)
	packed, err := PackRHS(config.Config{KBlock: 4}, b)
	require.NoError(t, err)
	assert.Equal(t, "a64-hgemm-fp16fp32-8x24", packed.Kernel())
	want, c := matrix.Make[float32](7, 19), matrix.Make[float32](7, 19)
	p := merge.FloatParams[float32]{Alpha: 1}
	require.NoError(t, Gemm(config.Config{KBlock: 4}, a, b, want, p))
	require.NoError(t, GemmPacked(a, packed, c, p))
	assert.Equal(t, want.Data, c.Data)
}

func TestQuantizedGemmPacked(t *testing.T) {
	for _, shape := range testShapes {
		n, k := shape[1], shape[2]
		b := matrix.New(xslices.Cycle[int8](-6, 13, k*n), k, n)
		bU8 := matrix.New(xslices.Cycle[uint8](120, 17, k*n), k, n)
		for _, cfg := range testConfigs {
			t.Run(fmt.Sprintf("%dx%d/%s", k, n, cfg), func(t *testing.T) {
				packed, err := PackQuantizedRHS(cfg, b)
				require.NoError(t, err)
				packedU8, err := PackQuantizedRHS(cfg, bU8)
				require.NoError(t, err)
				assert.Equal(t, "a64-gemm-u8-8x12", packedU8.Kernel())
				perLayer, err := quantize.NewPerLayer(0.05, 2, -1, 3, -128, 127)
				require.NoError(t, err)
				for _, m := range packedLHSRows {
					a := matrix.New(xslices.Cycle[int8](-9, 19, m*k), m, k)
					for _, qp := range []*quantize.Requantize32{perLayer, perChannelParams(t, n, -2, 3, -5, -100, 100)} {
						want := matrix.Make[int8](m, n)
						require.NoError(t, QuantizedGemm(cfg, a, b, want, qp))
						c := matrix.Make[int8](m, n)
						require.NoError(t, QuantizedGemmPacked(a, packed, c, qp))
						assert.Equal(t, want.Data, c.Data, "m=%d, per-channel=%v", m, qp.PerChannel)
					}

					aU8 := matrix.New(xslices.Cycle[uint8](100, 50, m*k), m, k)
					qpU8 := perChannelParams(t, n, 110, 128, 128, 0, 255)
					want := matrix.Make[uint8](m, n)
					require.NoError(t, QuantizedGemm(cfg, aU8, bU8, want, qpU8))
					c := matrix.Make[uint8](m, n)
					require.NoError(t, QuantizedGemmPacked(aU8, packedU8, c, qpU8))
					assert.Equal(t, want.Data, c.Data, "m=%d, uint8", m)
				}
			})
		}
	}
}

func TestNativePacked(t *testing.T) {
	for _, shape := range testShapes {
		n, k := shape[1], shape[2]
		_, b := floatOperands(0, n, k)
		packed, err := PackNativeRHS(config.Config{}, b)
		require.NoError(t, err)
		assert.Equal(t, "a64-sgemm-nativeA-pretransposeB-16x4", packed.Kernel())
		for _, m := range packedLHSRows {
			a, _ := floatOperands(m, n, k)
			c0 := matrix.New(xslices.Cycle[float32](-5, 11, m*n), m, n)
			want := c0.Clone()
			require.NoError(t, Native(config.Config{}, a, b, want, 2, 0.5))
			c := c0.Clone()
			require.NoError(t, NativePacked(a, packed, c, 2, 0.5))
			assert.Equal(t, want.Data, c.Data, "%dx%dx%d", m, n, k)
		}
	}
}

func TestPackedValidation(t *testing.T) {
	a, b := floatOperands(3, 4, 5)
	p := merge.FloatParams[float32]{Alpha: 1}
	packed, err := PackRHS(config.Config{}, b)
	require.NoError(t, err)
	require.Error(t, GemmPacked(a, nil, matrix.Make[float32](3, 4), p))
	require.Error(t, GemmPacked(a, packed, matrix.Make[float32](3, 5), p))
	require.Error(t, GemmPacked(matrix.Make[float32](3, 4), packed, matrix.Make[float32](3, 4), p))
	require.Error(t, GemmPacked(a, packed, matrix.Make[float32](3, 4), merge.FloatParams[float32]{Bias: []float32{1}}))
	require.NoError(t, GemmPacked(a, packed, matrix.Make[float32](3, 4), p))

	// Operands packed for one path can't be used by the others.
	native, err := PackNativeRHS(config.Config{}, b)
	require.NoError(t, err)
	require.Error(t, GemmPacked(a, native, matrix.Make[float32](3, 4), p))
	require.Error(t, NativePacked(a, packed, matrix.Make[float32](3, 4), 1, 0))

	bS8 := matrix.Make[int8](5, 4)
	packedS8, err := PackQuantizedRHS(config.Config{}, bS8)
	require.NoError(t, err)
	qp, err := quantize.NewPerLayer(0.1, 0, 0, 0, -128, 127)
	require.NoError(t, err)
	aS8 := matrix.Make[int8](3, 5)
	require.NoError(t, QuantizedGemmPacked(aS8, packedS8, matrix.Make[int8](3, 4), qp))
	require.Error(t, QuantizedGemmPacked(aS8, packedS8, matrix.Make[int8](3, 4), nil))
	require.Error(t, GemmPacked(aS8, packedS8, matrix.Make[float32](3, 4), p))
	packedF32ForS8, err := PackRHS(config.Config{KBlock: 4}, bS8)
	require.Error(t, err, "no float32 accumulating kernel for int8 operands")
	assert.Nil(t, packedF32ForS8)

	// Sign flipping is not available for the packed operands.
	_, err = PackQuantizedRHS(config.Config{Kernel: "a64-gemm-u8-8x12"}, bS8)
	require.Error(t, err)
	_, err = PackRHS(config.Config{}, matrix.View[float32]{Data: b.Data, Rows: 5, Cols: 4, Stride: 3})
	require.Error(t, err)
}
