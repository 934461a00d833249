// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package interleaved is the sequential reference orchestrator of the GEMM kernels: it validates the
// operands, walks the output and the contracting dimension in blocks (sized by a config.Config),
// owns the packed panels, the raw tiles and the streaming accumulator buffers, and calls the packer,
// the kernels and the merge/output stages in order.
//
// Everything runs in the calling goroutine.
package interleaved

import (
	"sync"

	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/config"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Registry used to look up the kernels. Tests may replace it.
var Registry = kernels.Default

// fallbackWarned holds the names of the requested kernels already reported as unavailable.
var fallbackWarned sync.Map

// SelectKernel returns the kernel named by cfg.Kernel, or the best available one for the pair and kind
// if no kernel is named. A named kernel that is not available on this machine is replaced by the best
// available one, with a warning logged once per name.
func SelectKernel(cfg config.Config, pair dtypes.DTypePair, kind kernels.Kind) (*kernels.Registration, error) {
	if cfg.Kernel != "" {
		reg, found := Registry.ByName(cfg.Kernel)
		if !found {
			return nil, errors.Errorf("unknown kernel %q, registered kernels are %q", cfg.Kernel, Registry.Names())
		}
		if reg.Pair != pair || reg.Kind != kind {
			return nil, errors.Errorf("kernel %q is a %s kernel for %s, but a %s kernel for %s is required",
				reg.Name, reg.Kind, reg.Pair, kind, pair)
		}
		if reg.IsAvailable() {
			klog.V(1).Infof("using configured kernel %q for %s", reg.Name, pair)
			return reg, nil
		}
		if _, warned := fallbackWarned.LoadOrStore(reg.Name, true); !warned {
			klog.Warningf("kernel %q is not available on this machine (ISA %s), using the best available one for %s",
				reg.Name, reg.ISA, pair)
		}
	}
	reg, err := Registry.Best(pair, kind)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("using kernel %q for %s (%s)", reg.Name, pair, kind)
	return reg, nil
}

// flipsSign reports whether cfg names an uint8 interleaved kernel, on which int8 GEMMs run with the
// operands sign flipped.
func flipsSign(cfg config.Config) bool {
	if cfg.Kernel == "" {
		return false
	}
	reg, found := Registry.ByName(cfg.Kernel)
	return found && reg.Kind == kernels.KindInterleaved && reg.Pair == dtypes.PairOf[uint8, uint32]()
}

// checkOperands validates c = a x b shapes: a [M, K], b [K, N] and c [M, N].
func checkOperands[TA, TB, TC any](a matrix.View[TA], b matrix.View[TB], c matrix.View[TC]) error {
	if err := a.Check(); err != nil {
		return errors.WithMessage(err, "lhs operand")
	}
	if err := b.Check(); err != nil {
		return errors.WithMessage(err, "rhs operand")
	}
	if err := c.Check(); err != nil {
		return errors.WithMessage(err, "output")
	}
	if a.Cols != b.Rows {
		return errors.Errorf("contracting dimensions don't match: lhs is [%d, %d] and rhs is [%d, %d]",
			a.Rows, a.Cols, b.Rows, b.Cols)
	}
	if c.Rows != a.Rows || c.Cols != b.Cols {
		return errors.Errorf("output shaped [%d, %d], but lhs [%d, %d] x rhs [%d, %d] is [%d, %d]",
			c.Rows, c.Cols, a.Rows, a.Cols, b.Rows, b.Cols, a.Rows, b.Cols)
	}
	return nil
}

// checkPerColumn validates an optional vector indexed by output column.
func checkPerColumn[T any](name string, values []T, n int) error {
	if values != nil && len(values) < n {
		return errors.Errorf("%s has %d elements, but the output has %d columns", name, len(values), n)
	}
	return nil
}
