// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"slices"
	"time"

	"github.com/gomlx/microgemm/internal/reference"
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/microgemm/pkg/gemm/config"
	"github.com/gomlx/microgemm/pkg/gemm/interleaved"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/merge"
	"github.com/gomlx/microgemm/pkg/gemm/quantize"
	"github.com/gomlx/microgemm/pkg/gemm/za"
	"github.com/gomlx/microgemm/pkg/support/xslices"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/x448/float16"
)

// bench is one prepared benchmark: operands allocated, kernel selected.
type bench struct {
	kernel string
	bytes  int
	run    func() error

	// check returns the error of the last run against the reference: the maximum relative error for
	// the float modes, the fraction of mismatched elements for the quantized ones.
	check func() float64
}

type benchMode struct {
	description string
	prepare     func(cfg config.Config, s Shape) (*bench, error)
}

// benchModes by name.
var benchModes = map[string]benchMode{
	"f32":           {"float32 interleaved kernel", prepareFloat[float32](pack32)},
	"f16":           {"float16 interleaved kernel, float32 accumulation", prepareFloat(float16.Fromfloat32)},
	"bf16":          {"bfloat16 interleaved kernel, float32 accumulation", prepareFloat(bfloat16.FromFloat32)},
	"s8":            {"int8 interleaved kernel, requantized", prepareQuantized[int8]},
	"u8":            {"uint8 interleaved kernel, requantized", prepareQuantized[uint8]},
	"packed-f32":    {"float32 interleaved kernel, the rhs packed once before timing", preparePacked},
	"fastmath-f32":  {"float32 operands narrowed to bfloat16, bfloat16 interleaved kernel", prepareFastMath},
	"native":        {"float32 native kernel on unpacked operands", prepareNative},
	"gemv":          {"float32 pretransposed GEMV, uses N and K only", prepareGEMV},
	"streaming-f32": {"float32 nomerge kernel with the streaming buffer", prepareStreamingFloat},
	"streaming-s8q": {"int8 nomerge kernel with the streaming buffer, requantized", prepareStreamingQuantized},
}

func modeNames() []string {
	names := lo.Keys(benchModes)
	slices.Sort(names)
	return names
}

func pack32(v float32) float32 { return v }

// floatOperands are small integers, so all float modes are exact up to the output rounding.
func floatOperands(s Shape) (a, b matrix.View[float32]) {
	a = matrix.New(xslices.Cycle[float32](-4, 9, s.M*s.K), s.M, s.K)
	b = matrix.New(xslices.Cycle[float32](-3, 7, s.K*s.N), s.K, s.N)
	return
}

func floatReference(a, b matrix.View[float32]) []float32 {
	return reference.MatMulFloat32(a.Data, a.Cols, b.Data, b.Cols, a.Rows, b.Cols, a.Cols)
}

func kernelName(cfg config.Config, pair dtypes.DTypePair, kind kernels.Kind) string {
	reg, err := interleaved.SelectKernel(cfg, pair, kind)
	if err != nil {
		return "?"
	}
	return reg.Name
}

func prepareFloat[TOp dtypes.Supported](convert func(float32) TOp) func(cfg config.Config, s Shape) (*bench, error) {
	return func(cfg config.Config, s Shape) (*bench, error) {
		a32, b32 := floatOperands(s)
		want := floatReference(a32, b32)
		a := matrix.New(xslices.Map(a32.Data, convert), s.M, s.K)
		b := matrix.New(xslices.Map(b32.Data, convert), s.K, s.N)
		c := matrix.Make[float32](s.M, s.N)
		return &bench{
			kernel: kernelName(cfg, dtypes.PairOf[TOp, float32](), kernels.KindInterleaved),
			bytes:  (len(a.Data) + len(b.Data)) * dtypes.FromGenericsType[TOp]().Size(),
			run: func() error {
				return interleaved.Gemm(cfg, a, b, c, merge.FloatParams[float32]{Alpha: 1})
			},
			check: func() float64 { return xslices.MaxRelError(c.Data, want) },
		}, nil
	}
}

func preparePacked(cfg config.Config, s Shape) (*bench, error) {
	a, b := floatOperands(s)
	want := floatReference(a, b)
	packed, err := interleaved.PackRHS(cfg, b)
	if err != nil {
		return nil, err
	}
	c := matrix.Make[float32](s.M, s.N)
	return &bench{
		kernel: packed.Kernel(),
		bytes:  len(a.Data) * 4,
		run: func() error {
			return interleaved.GemmPacked(a, packed, c, merge.FloatParams[float32]{Alpha: 1})
		},
		check: func() float64 { return xslices.MaxRelError(c.Data, want) },
	}, nil
}

// prepareFastMath uses operands that bfloat16 represents exactly, so the check stays exact.
func prepareFastMath(cfg config.Config, s Shape) (*bench, error) {
	cfg.FastMath = true
	a, b := floatOperands(s)
	want := floatReference(a, b)
	c := matrix.Make[float32](s.M, s.N)
	return &bench{
		kernel: kernelName(cfg, dtypes.PairOf[bfloat16.BFloat16, float32](), kernels.KindInterleaved),
		bytes:  (len(a.Data) + len(b.Data)) * 4,
		run: func() error {
			return interleaved.Gemm(cfg, a, b, c, merge.FloatParams[float32]{Alpha: 1})
		},
		check: func() float64 { return xslices.MaxRelError(c.Data, want) },
	}, nil
}

func prepareNative(cfg config.Config, s Shape) (*bench, error) {
	a, b := floatOperands(s)
	want := floatReference(a, b)
	c := matrix.Make[float32](s.M, s.N)
	return &bench{
		kernel: kernelName(cfg, dtypes.PairOf[float32, float32](), kernels.KindNative),
		bytes:  (len(a.Data) + len(b.Data)) * 4,
		run:    func() error { return interleaved.Native(cfg, a, b, c, 1, 0) },
		check:  func() float64 { return xslices.MaxRelError(c.Data, want) },
	}, nil
}

func prepareGEMV(cfg config.Config, s Shape) (*bench, error) {
	a, x := floatOperands(Shape{M: s.N, N: 1, K: s.K})
	want := floatReference(a, x)
	y := make([]float32, s.N)
	return &bench{
		kernel: kernelName(cfg, dtypes.PairOf[float32, float32](), kernels.KindGEMVPretransposed),
		bytes:  (len(a.Data) + len(x.Data)) * 4,
		run:    func() error { return interleaved.GEMVPretransposed(cfg, a, x.Data, y, 1, 0) },
		check:  func() float64 { return xslices.MaxRelError(y, want) },
	}, nil
}

func prepareStreamingFloat(cfg config.Config, s Shape) (*bench, error) {
	kernel, err := interleaved.NoMergeKernel[float32, float32, float32](cfg)
	if err != nil {
		return nil, err
	}
	a, b := floatOperands(s)
	want := floatReference(a, b)
	c := matrix.Make[float32](s.M, s.N)
	return &bench{
		kernel: kernel.Name,
		bytes:  (len(a.Data) + len(b.Data)) * 4,
		run: func() error {
			return interleaved.StreamingGemm(cfg, kernel, a, b, c, nil, za.FloatActivation{})
		},
		check: func() float64 { return xslices.MaxRelError(c.Data, want) },
	}, nil
}

// quantizedOperands returns the 8-bit operands and the per-layer requantization parameters.
func quantizedOperands[T int8 | uint8](s Shape) (a, b matrix.View[T], qp *quantize.Requantize32, err error) {
	lhsAffine := quantize.ChooseAffine[T](-1, 1)
	rhsAffine := quantize.ChooseAffine[T](-0.5, 0.5)
	outAffine := quantize.ChooseAffine[T](-4, 4)
	aF, bF := floatOperands(s)
	a = matrix.New(xslices.Map(aF.Data, func(v float32) T { return quantize.Quantize[T](v/8, lhsAffine) }), s.M, s.K)
	b = matrix.New(xslices.Map(bF.Data, func(v float32) T { return quantize.Quantize[T](v/12, rhsAffine) }), s.K, s.N)
	qlo, qhi := quantize.Limits[T]()
	multiplier := float64(lhsAffine.Scale) * float64(rhsAffine.Scale) / float64(outAffine.Scale) / float64(s.K)
	qp, err = quantize.NewPerLayer(multiplier, lhsAffine.ZeroPoint, rhsAffine.ZeroPoint, outAffine.ZeroPoint, qlo, qhi)
	return
}

func quantizedReference[T int8 | uint8](a, b matrix.View[T], qp *quantize.Requantize32) []T {
	m, k, n := a.Rows, a.Cols, b.Cols
	exact := reference.MatMulInt(reference.Widen(a.Data), k, reference.Widen(b.Data), n, m, n, k, qp.AOffset, qp.BOffset)
	return xslices.Map(exact, func(v int32) T { return T(qp.Requantize(v, 0)) })
}

func mismatches[T comparable](got, want []T) float64 {
	var count int
	for ii, v := range got {
		if v != want[ii] {
			count++
		}
	}
	return float64(count) / float64(max(len(got), 1))
}

func prepareQuantized[T int8 | uint8](cfg config.Config, s Shape) (*bench, error) {
	a, b, qp, err := quantizedOperands[T](s)
	if err != nil {
		return nil, err
	}
	want := quantizedReference(a, b, qp)
	c := matrix.Make[T](s.M, s.N)
	var zero T
	var pair dtypes.DTypePair
	switch any(zero).(type) {
	case int8:
		pair = dtypes.PairOf[int8, int32]()
	default:
		pair = dtypes.PairOf[uint8, uint32]()
	}
	return &bench{
		kernel: kernelName(cfg, pair, kernels.KindInterleaved),
		bytes:  len(a.Data) + len(b.Data),
		run:    func() error { return interleaved.QuantizedGemm(cfg, a, b, c, qp) },
		check:  func() float64 { return mismatches(c.Data, want) },
	}, nil
}

func prepareStreamingQuantized(cfg config.Config, s Shape) (*bench, error) {
	kernel, err := interleaved.NoMergeKernel[int8, int32, int8](cfg)
	if err != nil {
		return nil, err
	}
	a, b, qp, err := quantizedOperands[int8](s)
	if err != nil {
		return nil, err
	}
	want := quantizedReference(a, b, qp)
	c := matrix.Make[int8](s.M, s.N)
	return &bench{
		kernel: kernel.Name,
		bytes:  len(a.Data) + len(b.Data),
		run:    func() error { return interleaved.StreamingQuantizedGemm(cfg, kernel, a, b, c, qp) },
		check:  func() float64 { return mismatches(c.Data, want) },
	}, nil
}

// result of one benchmark.
type result struct {
	mode   string
	shape  Shape
	kernel string
	bytes  int
	perRun time.Duration
	err    float64
}

// flops returns the number of floating point (or integer) operations per second.
func (r result) flops() float64 {
	return 2 * float64(r.shape.M) * float64(r.shape.N) * float64(r.shape.K) / max(r.perRun.Seconds(), 1e-12)
}

func runBenchmarks(cfg config.Config, shapes []Shape, modes []string, repeats int, withProgress bool) ([]result, error) {
	var bar *progressbar.ProgressBar
	if withProgress {
		bar = progressbar.NewOptions(len(shapes)*len(modes)*(repeats+1),
			progressbar.OptionSetDescription("benchmarking"),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("runs"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish(),
		)
	}
	var results []result
	for _, shape := range shapes {
		for _, mode := range modes {
			b, err := benchModes[mode].prepare(cfg, shape)
			if err != nil {
				return nil, errors.WithMessagef(err, "preparing mode %q for shape %s", mode, shape)
			}
			// Warm-up.
			if err := b.run(); err != nil {
				return nil, errors.WithMessagef(err, "running mode %q for shape %s", mode, shape)
			}
			if bar != nil {
				_ = bar.Add(1)
			}
			start := time.Now()
			for range repeats {
				if err := b.run(); err != nil {
					return nil, errors.WithMessagef(err, "running mode %q for shape %s", mode, shape)
				}
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			elapsed := time.Since(start)
			results = append(results, result{
				mode:   mode,
				shape:  shape,
				kernel: b.kernel,
				bytes:  b.bytes,
				perRun: elapsed / time.Duration(repeats),
				err:    b.check(),
			})
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return results, nil
}
