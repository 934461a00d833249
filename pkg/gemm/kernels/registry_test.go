// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"testing"

	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	for _, name := range []string{"a64-sgemm-8x12", "a64-gemm-s8-12x8", "a64-gemm-u8-8x12", "a64-hgemm-fp16fp32-8x24",
		"a64-bf16fp32-dot-8x12", "a64-sgemm-native-16x4", "a64-sgemv-trans", "a64-sgemv-pretransposed"} {
		reg, found := Default.ByName(name)
		require.True(t, found, "kernel %q not registered", name)
		assert.True(t, reg.IsAvailable())
	}

	best, err := Default.Best(dtypes.PairOf[float32, float32](), KindInterleaved)
	require.NoError(t, err)
	assert.Equal(t, "a64-sgemm-8x12", best.Name)
	fn, err := InterleavedFn[float32, float32](best)
	require.NoError(t, err)
	assert.NotNil(t, fn)

	_, err = InterleavedFn[int8, int32](best)
	assert.Error(t, err)
	native, _ := Default.ByName("a64-sgemm-native-16x4")
	_, err = InterleavedFn[float32, float32](native)
	assert.Error(t, err)

	best, err = Default.Best(dtypes.PairOf[int8, int32](), KindInterleaved)
	require.NoError(t, err)
	assert.Equal(t, 4, best.Params.KR)

	_, err = Default.Best(dtypes.PairOf[float64, float64](), KindInterleaved)
	assert.Error(t, err)
}

func TestRegistryOrdering(t *testing.T) {
	r := NewRegistry()
	pair := dtypes.PairOf[float32, float32]()
	noop := Interleaved[float32, float32](func(_, _, _ []float32, _, _, _ int) {})
	params := &CacheParams{MR: 1, NR: 1, KR: 1}
	r.Register(&Registration{Name: "base", Pair: pair, Params: params, Priority: PriorityBase, Fn: noop})
	r.Register(&Registration{Name: "isa-missing", Pair: pair, Params: params, Priority: PriorityISA, Fn: noop,
		Available: func() bool { return false }})
	r.Register(&Registration{Name: "specific-b", Pair: pair, Params: params, Priority: PriorityDTypeSpecific, Fn: noop})
	r.Register(&Registration{Name: "specific-a", Pair: pair, Params: params, Priority: PriorityDTypeSpecific, Fn: noop})
	r.Register(&Registration{Name: "gemv", Pair: pair, Kind: KindGEMVTrans, Params: params, Priority: PriorityISA,
		Fn: GEMV(SGEMVTrans)})

	names := func(regs []*Registration) (names []string) {
		for _, reg := range regs {
			names = append(names, reg.Name)
		}
		return
	}
	assert.Equal(t, []string{"specific-a", "specific-b", "base"}, names(r.ForPair(pair, KindInterleaved)))
	assert.Equal(t, []string{"gemv"}, names(r.ForPair(pair, KindGEMVTrans)))
	assert.Equal(t, []string{"base", "gemv", "isa-missing", "specific-a", "specific-b"}, r.Names())

	reg, found := r.ByName("isa-missing")
	require.True(t, found)
	assert.False(t, reg.IsAvailable())

	require.Panics(t, func() {
		r.Register(&Registration{Name: "base", Pair: pair, Params: params, Fn: noop})
	})
	require.Panics(t, func() {
		r.Register(&Registration{Name: "no-fn", Pair: pair, Params: params})
	})
	assert.Equal(t, "GEMVTrans", KindGEMVTrans.String())
	assert.Equal(t, "NativePretransposedB", KindNativePretransposedB.String())
}

func TestLayouts(t *testing.T) {
	a, b := GEMMS8x12x8Params.LHSLayout(), GEMMS8x12x8Params.RHSLayout()
	assert.Equal(t, 12, a.IntBy)
	assert.Equal(t, 8, b.IntBy)
	assert.Equal(t, 4, a.Block)
	assert.Equal(t, 8, a.PackedDepth(5))
}
