// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gemmbench lists the registered GEMM kernels and benchmarks the orchestrators over a set of shapes.
//
// Examples:
//
//	gemmbench -list
//	gemmbench -list -isa=dotprod,sme2 -types=s8:s32
//	gemmbench -shapes=256x256x256,1024x64x512 -modes=f32,s8,streaming-f32
//	MICROGEMM_CONFIG=":kblock=128,xblock=96" gemmbench -repeats=20
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/microgemm/internal/cpuinfo"
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/config"
	"github.com/gomlx/microgemm/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Shape of one benchmark: output [M, N], contracting dimension K.
type Shape struct {
	M, N, K int
}

// String implements fmt.Stringer, in the format accepted by parseShape.
func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.M, s.N, s.K)
}

// parseShape parses "MxNxK".
func parseShape(value string) (Shape, error) {
	parts := strings.Split(strings.ToLower(value), "x")
	if len(parts) != 3 {
		return Shape{}, errors.Errorf("invalid shape %q, expected MxNxK", value)
	}
	dims := make([]int, 3)
	for ii, part := range parts {
		dim, err := strconv.Atoi(part)
		if err != nil || dim <= 0 {
			return Shape{}, errors.Errorf("invalid dimension %q in shape %q", part, value)
		}
		dims[ii] = dim
	}
	return Shape{M: dims[0], N: dims[1], K: dims[2]}, nil
}

func parseISA(value string) (cpuinfo.ISA, error) {
	isa, ok := cpuinfo.ParseISA(value)
	if !ok {
		return isa, errors.Errorf("unknown ISA %q", value)
	}
	return isa, nil
}

func parseMode(value string) (string, error) {
	if _, found := benchModes[value]; !found {
		return "", errors.Errorf("unknown mode %q, valid modes are %q", value, modeNames())
	}
	return value, nil
}

var (
	flagList   = flag.Bool("list", false, "List the registered kernels and exit.")
	flagConfig = flag.String("config", "", "Configuration in the format \"<kernel>:<options>\". "+
		"If empty, the environment variable "+config.MICROGEMM_CONFIG+" is used.")
	flagRepeats = flag.Int("repeats", 10, "Number of timed runs of each benchmark, after one warm-up run.")
	flagShapes  = xslices.Flag("shapes",
		[]Shape{{64, 64, 64}, {256, 256, 256}, {512, 96, 1024}, {1, 1024, 1024}},
		"Comma separated list of shapes MxNxK to benchmark.", parseShape)
	flagModes = xslices.Flag("modes", []string{"f32", "bf16", "s8", "u8", "native", "streaming-f32", "streaming-s8q"},
		"Comma separated list of benchmark modes.", parseMode)
	flagISAs = xslices.Flag("isa", nil,
		"Comma separated list of ISAs (e.g. NEON,DotProd): -list only shows the kernels modelled on them.", parseISA)
	flagPairs = xslices.Flag("types", nil,
		"Comma separated list of dtype pairs (e.g. s8:s32,f32:f32): -list only shows the kernels for them.", dtypes.ParsePair)
	flagProgress = flag.Bool("progress", true, "Display a progress bar while benchmarking.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	fmt.Println(titleStyle.Render("gemmbench: " + cpuinfo.Description()))

	if *flagList {
		listKernels(*flagISAs, *flagPairs)
		return
	}
	if *flagRepeats <= 0 {
		klog.Exitf("-repeats must be > 0, got %d", *flagRepeats)
	}

	var cfg config.Config
	if *flagConfig != "" {
		cfg = must.M1(config.Parse(*flagConfig))
	} else {
		cfg = must.M1(config.FromEnv())
	}
	klog.V(1).Infof("configuration: %q", cfg)

	results, err := runBenchmarks(cfg, *flagShapes, *flagModes, *flagRepeats, *flagProgress)
	if err != nil {
		klog.Errorf("benchmark failed: %+v", err)
		os.Exit(1)
	}
	reportResults(results)
}
