// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the configuration of the GEMM orchestrators: which kernel to use and the
// block sizes, given as a string "<kernel_name>:<options>" (usually from the environment variable
// MICROGEMM_CONFIG):
//
//	export MICROGEMM_CONFIG="a64-sgemm-8x12:kblock=256,xblock=96"
//
// Options are comma separated "key=value" pairs:
//
//   - kblock: contracting elements per K block. 0 (the default) sizes it from the L1 data cache, see KBlockSize.
//   - xblock: output columns per N block. 0 (the default) sizes it from the L2 cache, see XBlockSize.
//   - vl: vector length, in 32-bit lanes, of the accumulator array used by the nomerge kernels.
//   - rounding: requantization rounding, one of HalfToEven, HalfAwayFromZero or HalfUp.
//   - fastmath: if true, float32 and float16 operands are narrowed to bfloat16 while packing and
//     multiplied by the bfloat16 kernels, accumulating in float32.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/microgemm/internal/cpuinfo"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/gomlx/microgemm/pkg/gemm/pack"
	"github.com/gomlx/microgemm/pkg/gemm/quantize"
	"github.com/pkg/errors"
)

// MICROGEMM_CONFIG is the environment variable with the default configuration, see Parse for its format.
const MICROGEMM_CONFIG = "MICROGEMM_CONFIG"

// Config of a GEMM orchestration. The zero value is valid: best kernel available, block sizes from
// the cache sizes.
type Config struct {
	// Kernel is the name of a registered kernel. Empty selects the best available one for the dtypes.
	Kernel string

	KBlock, XBlock int

	// VectorLength of the accumulator array, in 32-bit lanes. 0 leaves the array as it is.
	VectorLength int

	Rounding quantize.Rounding

	// FastMath allows narrowing the operands to bfloat16.
	FastMath bool
}

// Parse a configuration string formatted as "<kernel_name>:<options>". Either part can be empty, and
// a string without ":" is just a kernel name.
func Parse(config string) (Config, error) {
	var c Config
	options := ""
	c.Kernel = config
	if idx := strings.Index(config, ":"); idx != -1 {
		c.Kernel = config[:idx]
		options = config[idx+1:]
	}
	c.Kernel = strings.TrimSpace(c.Kernel)
	for _, part := range strings.Split(options, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return Config{}, errors.Errorf("configuration option %q in %q is not in the key=value format", part, config)
		}
		key, value = strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value)
		var err error
		switch key {
		case "kblock":
			c.KBlock, err = parseSize(key, value)
		case "xblock":
			c.XBlock, err = parseSize(key, value)
		case "vl":
			c.VectorLength, err = parseSize(key, value)
		case "rounding":
			c.Rounding, err = parseRounding(value)
		case "fastmath":
			c.FastMath, err = parseBool(key, value)
		default:
			return Config{}, errors.Errorf("unknown configuration option %q in %q, valid options are kblock, xblock, vl, rounding and fastmath",
				key, config)
		}
		if err != nil {
			return Config{}, errors.WithMessagef(err, "parsing configuration %q", config)
		}
	}
	return c, nil
}

func parseSize(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid value for option %q", key)
	}
	if v < 0 {
		return 0, errors.Errorf("option %q must be >= 0, got %d", key, v)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Wrapf(err, "invalid value for option %q", key)
	}
	return v, nil
}

func parseRounding(value string) (quantize.Rounding, error) {
	for _, r := range []quantize.Rounding{quantize.RoundHalfToEven, quantize.RoundHalfAwayFromZero, quantize.RoundHalfUp} {
		if strings.EqualFold(value, r.String()) {
			return r, nil
		}
	}
	return 0, errors.Errorf("unknown rounding %q, valid values are HalfToEven, HalfAwayFromZero and HalfUp", value)
}

// FromEnv parses the configuration in MICROGEMM_CONFIG. It returns the zero Config if it is not set.
func FromEnv() (Config, error) {
	config, found := os.LookupEnv(MICROGEMM_CONFIG)
	if !found {
		return Config{}, nil
	}
	c, err := Parse(config)
	if err != nil {
		return Config{}, errors.WithMessagef(err, "environment variable %s", MICROGEMM_CONFIG)
	}
	return c, nil
}

// String returns the configuration in the format accepted by Parse.
func (c Config) String() string {
	var options []string
	if c.KBlock > 0 {
		options = append(options, fmt.Sprintf("kblock=%d", c.KBlock))
	}
	if c.XBlock > 0 {
		options = append(options, fmt.Sprintf("xblock=%d", c.XBlock))
	}
	if c.VectorLength > 0 {
		options = append(options, fmt.Sprintf("vl=%d", c.VectorLength))
	}
	if c.Rounding != quantize.RoundHalfToEven {
		options = append(options, fmt.Sprintf("rounding=%s", c.Rounding))
	}
	if c.FastMath {
		options = append(options, "fastmath=true")
	}
	if len(options) == 0 {
		return c.Kernel
	}
	return c.Kernel + ":" + strings.Join(options, ",")
}

// KBlockSize returns the number of contracting elements per K block, such that the A and B slices of one
// tile (max(MR, NR) rows of elemSize bytes each) fill half of an L1 cache of l1Bytes. The result is a
// multiple of KR and the blocks are evened out so the last one is not much smaller than the others.
func KBlockSize(l1Bytes, elemSize int, params *kernels.CacheParams, k int) int {
	kr := max(params.KR, 1)
	kBlock := (l1Bytes / 2) / (elemSize * max(params.MR, params.NR))
	kBlock = max(kBlock/kr, 1) * kr
	if k <= 0 {
		return kBlock
	}
	numKBlocks := (k + kBlock - 1) / kBlock
	kBlock = (k + numKBlocks - 1) / numKBlocks
	return pack.RoundUp(kBlock, kr)
}

// KBlockFor returns the configured KBlock (rounded up to KR) or, if not set, the one sized for the
// machine's L1 data cache.
func (c Config) KBlockFor(params *kernels.CacheParams, elemSize, k int) int {
	if c.KBlock > 0 {
		return pack.RoundUp(c.KBlock, max(params.KR, 1))
	}
	return KBlockSize(cpuinfo.L1DataCacheSize(), elemSize, params, k)
}

// XBlockSize returns the number of output columns per N block, such that the B panel of one block
// (kBlock contracting elements of elemSize bytes per column) fits in 90% of an L2 cache of l2Bytes, after
// reserving one A and one B slice of the tile. The result is a multiple of NR and the blocks are evened out.
func XBlockSize(l2Bytes, elemSize int, params *kernels.CacheParams, kBlock, n int) int {
	nr := params.NR
	kBlock = max(kBlock, 1)
	xBlock := (l2Bytes*9/10 - kBlock*elemSize*(params.MR+nr)) / (elemSize * kBlock)
	xBlock = max(xBlock/nr, 1) * nr
	if n <= 0 {
		return xBlock
	}
	numXBlocks := (n + xBlock - 1) / xBlock
	xBlock = (n + numXBlocks - 1) / numXBlocks
	return pack.RoundUp(xBlock, nr)
}

// XBlockFor returns the configured XBlock (rounded up to NR) or, if not set, the one sized for the
// machine's L2 cache.
func (c Config) XBlockFor(params *kernels.CacheParams, elemSize, kBlock, n int) int {
	if c.XBlock > 0 {
		return pack.RoundUp(c.XBlock, params.NR)
	}
	return XBlockSize(cpuinfo.L2CacheSize(), elemSize, params, kBlock, n)
}
