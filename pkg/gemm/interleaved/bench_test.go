// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interleaved

import (
	"flag"
	"fmt"
	"testing"

	"github.com/gomlx/microgemm/pkg/gemm/config"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/merge"
	"github.com/gomlx/microgemm/pkg/gemm/quantize"
	"github.com/gomlx/microgemm/pkg/gemm/za"
	"github.com/gomlx/microgemm/pkg/support/xslices"
)

var flagBenchConfig = flag.String("bench_config", "",
	"Configuration used by the benchmarks, in the format \"<kernel>:<options>\".")

var benchShapes = [][3]int{{64, 64, 64}, {256, 256, 256}, {512, 96, 1024}}

func benchConfig(b *testing.B) config.Config {
	cfg, err := config.Parse(*flagBenchConfig)
	if err != nil {
		b.Fatalf("invalid -bench_config: %+v", err)
	}
	return cfg
}

// Benchmarks are run with, for instance:
//
//	$ go test ./pkg/gemm/interleaved -run=NONE -bench=. -bench_config=":kblock=128"
func BenchmarkGemm(b *testing.B) {
	cfg := benchConfig(b)
	for _, shape := range benchShapes {
		m, n, k := shape[0], shape[1], shape[2]
		lhs, rhs := floatOperands(m, n, k)
		c := matrix.Make[float32](m, n)
		b.Run(fmt.Sprintf("%dx%dx%d", m, n, k), func(b *testing.B) {
			b.SetBytes(int64(4 * (m*k + k*n)))
			for b.Loop() {
				if err := Gemm(cfg, lhs, rhs, c, merge.FloatParams[float32]{Alpha: 1}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkQuantizedGemm(b *testing.B) {
	cfg := benchConfig(b)
	for _, shape := range benchShapes {
		m, n, k := shape[0], shape[1], shape[2]
		lhs := matrix.New(xslices.Cycle[int8](-20, 41, m*k), m, k)
		rhs := matrix.New(xslices.Cycle[int8](-15, 31, k*n), k, n)
		c := matrix.Make[int8](m, n)
		qp, err := quantize.NewPerLayer(1.0/float64(16*k), 3, -2, 1, -128, 127)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(fmt.Sprintf("%dx%dx%d", m, n, k), func(b *testing.B) {
			b.SetBytes(int64(m*k + k*n))
			for b.Loop() {
				if err := QuantizedGemm(cfg, lhs, rhs, c, qp); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkStreamingGemm(b *testing.B) {
	cfg := benchConfig(b)
	kernel, err := NoMergeKernel[float32, float32, float32](cfg)
	if err != nil {
		b.Fatal(err)
	}
	for _, shape := range benchShapes {
		m, n, k := shape[0], shape[1], shape[2]
		lhs, rhs := floatOperands(m, n, k)
		c := matrix.Make[float32](m, n)
		b.Run(fmt.Sprintf("%dx%dx%d", m, n, k), func(b *testing.B) {
			b.SetBytes(int64(4 * (m*k + k*n)))
			for b.Loop() {
				if err := StreamingGemm(cfg, kernel, lhs, rhs, c, nil, za.FloatActivation{}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
