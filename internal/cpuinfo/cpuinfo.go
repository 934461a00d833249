// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpuinfo reports the CPU features and cache sizes used to tag and size the GEMM kernels.
//
// Feature flags come from golang.org/x/sys/cpu, cache sizes and the brand string from
// github.com/klauspost/cpuid/v2.
package cpuinfo

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sys/cpu"
)

// ISA is an instruction-set capability a kernel variant may require.
type ISA int

const (
	// Generic kernels run anywhere.
	Generic ISA = iota

	// NEON is the arm64 baseline Advanced SIMD.
	NEON

	// DotProd is arm64 SDOT/UDOT (ARMv8.2 dot product).
	DotProd

	// FP16 is arm64 half-precision arithmetic.
	FP16

	// BF16 is arm64 BFDOT/BFMMLA.
	BF16

	// SVE is the arm64 scalable vector extension.
	SVE

	// SME2 is the arm64 scalable matrix extension, version 2.
	SME2

	// AVX2 (with FMA) on amd64.
	AVX2

	// AVX512 on amd64.
	AVX512
)

var isaNames = []string{"Generic", "NEON", "DotProd", "FP16", "BF16", "SVE", "SME2", "AVX2", "AVX512"}

// String implements fmt.Stringer.
func (isa ISA) String() string {
	if int(isa) < 0 || int(isa) >= len(isaNames) {
		return fmt.Sprintf("ISA(%d)", int(isa))
	}
	return isaNames[isa]
}

// ParseISA converts a name (case-insensitive) to an ISA.
func ParseISA(name string) (ISA, bool) {
	for ii, isaName := range isaNames {
		if strings.EqualFold(isaName, name) {
			return ISA(ii), true
		}
	}
	return Generic, false
}

// Has reports whether the running CPU supports isa.
//
// Neither x/sys/cpu nor cpuid expose SME2 or the arm64 BF16 extensions, so those report false
// on arm64 (BF16 maps to AVX512-BF16 on amd64).
func Has(isa ISA) bool {
	switch isa {
	case Generic:
		return true
	case NEON:
		return runtime.GOARCH == "arm64" && cpu.ARM64.HasASIMD
	case DotProd:
		return runtime.GOARCH == "arm64" && cpu.ARM64.HasASIMDDP
	case FP16:
		return runtime.GOARCH == "arm64" && cpu.ARM64.HasFPHP && cpu.ARM64.HasASIMDHP
	case BF16:
		return runtime.GOARCH == "amd64" && cpu.X86.HasAVX512BF16
	case SVE:
		return runtime.GOARCH == "arm64" && cpu.ARM64.HasSVE
	case SME2:
		return false
	case AVX2:
		return runtime.GOARCH == "amd64" && cpu.X86.HasAVX2 && cpuid.CPU.Supports(cpuid.FMA3)
	case AVX512:
		return runtime.GOARCH == "amd64" && cpu.X86.HasAVX512F
	}
	return false
}

// Default cache sizes used when cpuid can't tell, in bytes.
const (
	DefaultL1DataCache = 32 * 1024
	DefaultL2Cache     = 512 * 1024
)

// L1DataCacheSize returns the size of the per-core L1 data cache in bytes.
func L1DataCacheSize() int {
	if size := cpuid.CPU.Cache.L1D; size > 0 {
		return size
	}
	return DefaultL1DataCache
}

// L2CacheSize returns the size of the L2 cache in bytes.
func L2CacheSize() int {
	if size := cpuid.CPU.Cache.L2; size > 0 {
		return size
	}
	return DefaultL2Cache
}

// Description returns a one line description of the CPU, used by the benchmark tool.
func Description() string {
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = "unknown CPU"
	}
	var features []string
	for ii := range isaNames {
		if isa := ISA(ii); isa != Generic && Has(isa) {
			features = append(features, isa.String())
		}
	}
	return fmt.Sprintf("%s (%s/%s, L1d=%dKiB, L2=%dKiB, features=[%s])", brand, runtime.GOOS, runtime.GOARCH,
		L1DataCacheSize()/1024, L2CacheSize()/1024, strings.Join(features, ","))
}
