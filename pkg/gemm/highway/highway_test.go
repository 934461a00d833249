// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package highway

import (
	"fmt"
	"testing"

	"github.com/ajroetker/go-highway/hwy"
	"github.com/gomlx/microgemm/internal/cpuinfo"
	"github.com/gomlx/microgemm/internal/reference"
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/config"
	"github.com/gomlx/microgemm/pkg/gemm/interleaved"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/merge"
	"github.com/gomlx/microgemm/pkg/gemm/pack"
	"github.com/gomlx/microgemm/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHighwayRegistration(t *testing.T) {
	reg, found := kernels.Default.ByName(KernelName)
	require.True(t, found, "importing the package should register %q", KernelName)
	assert.Equal(t, kernels.KindInterleaved, reg.Kind)
	assert.Equal(t, hwy.MaxLanes[float32](), reg.Params.NR)
	assert.Equal(t, hwy.CurrentLevel() != hwy.DispatchScalar, reg.IsAvailable())
	assert.Equal(t, ISA(), reg.ISA)
	t.Logf("go-highway target %q: kernel %q, ISA %s, available=%v", hwy.CurrentName(), reg.Name, reg.ISA, reg.IsAvailable())

	switch hwy.CurrentName() {
	case "neon":
		assert.Equal(t, cpuinfo.NEON, ISA())
	case "avx2":
		assert.Equal(t, cpuinfo.AVX2, ISA())
	case "avx512":
		assert.Equal(t, cpuinfo.AVX512, ISA())
	case "scalar":
		assert.Equal(t, cpuinfo.Generic, ISA())
	}
}

func TestSGEMM(t *testing.T) {
	for _, shape := range [][3]int{{1, 1, 1}, {4, 8, 2}, {5, 7, 3}, {13, 9, 5}, {17, 25, 10}, {9, 33, 33}} {
		m, n, k := shape[0], shape[1], shape[2]
		t.Run(fmt.Sprintf("%dx%dx%d", m, n, k), func(t *testing.T) {
			a := matrix.New(xslices.Cycle[float32](-3, 7, m*k), m, k)
			b := matrix.New(xslices.Cycle[float32](-2, 5, k*n), k, n)
			aLayout, bLayout := Params.LHSLayout(), Params.RHSLayout()
			aPanel := make([]float32, pack.PackedSize(m, k, aLayout))
			bPanel := make([]float32, pack.PackedSize(n, k, bLayout))
			pack.Interleave(aPanel, a, 0, m, 0, k, aLayout, pack.Identity[float32])
			pack.TransposeInterleave(bPanel, b, 0, n, 0, k, bLayout, pack.Identity[float32])
			aBlocks := pack.RoundUp(m, Params.MR) / Params.MR
			bBlocks := pack.RoundUp(n, Params.NR) / Params.NR
			tiles := make([]float32, aBlocks*bBlocks*Params.MR*Params.NR)
			SGEMM(aPanel, bPanel, tiles, aBlocks, bBlocks, k)

			got := matrix.Make[float32](m, n)
			merge.Float(got, tiles, Params.MR, Params.NR, 0, m, 0, n, merge.FloatParams[float32]{Alpha: 1})
			want := reference.MatMulFloat32(a.Data, a.Stride, b.Data, b.Stride, m, n, k)
			assert.Equal(t, want, got.Data)
		})
	}
}

func TestGemm(t *testing.T) {
	if !Available() {
		t.Skipf("go-highway dispatches to %q, the kernel is not available", hwy.CurrentName())
	}
	const m, n, k = 19, 37, 29
	a := matrix.New(xslices.Cycle[float32](-3, 7, m*k), m, k)
	b := matrix.New(xslices.Cycle[float32](-2, 5, k*n), k, n)
	want := reference.MatMulFloat32(a.Data, a.Stride, b.Data, b.Stride, m, n, k)
	for _, cfg := range []config.Config{{}, {Kernel: KernelName, KBlock: 8, XBlock: 2 * Params.NR}} {
		reg, err := interleaved.SelectKernel(cfg, dtypes.PairOf[float32, float32](), kernels.KindInterleaved)
		require.NoError(t, err)
		assert.Equal(t, KernelName, reg.Name)
		c := matrix.Make[float32](m, n)
		require.NoError(t, interleaved.Gemm(cfg, a, b, c, merge.FloatParams[float32]{Alpha: 1}))
		assert.Equal(t, want, c.Data, "config %s", cfg)
	}
}
