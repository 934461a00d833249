// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interleaved

import (
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/config"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/pkg/errors"
)

var float32Pair = dtypes.PairOf[float32, float32]()

// Native computes c = alpha * a x b + beta * c with a native kernel, working on the unpacked operands.
func Native(cfg config.Config, a, b, c matrix.View[float32], alpha, beta float32) error {
	if err := checkOperands(a, b, c); err != nil {
		return err
	}
	reg, err := SelectKernel(cfg, float32Pair, kernels.KindNative)
	if err != nil {
		return err
	}
	fn, ok := reg.Fn.(kernels.Native)
	if !ok {
		return errors.Errorf("kernel %q has function type %T, not kernels.Native", reg.Name, reg.Fn)
	}
	fn(a, b, c, alpha, beta)
	return nil
}

func gemv(cfg config.Config, kind kernels.Kind, a matrix.View[float32], x, y []float32, alpha, beta float32) error {
	reg, err := SelectKernel(cfg, float32Pair, kind)
	if err != nil {
		return err
	}
	fn, ok := reg.Fn.(kernels.GEMV)
	if !ok {
		return errors.Errorf("kernel %q has function type %T, not kernels.GEMV", reg.Name, reg.Fn)
	}
	fn(a, x, y, alpha, beta)
	return nil
}

// GEMVTrans computes y = alpha * a^T x + beta * y, for a shaped [M, N], x of length M and y of length N.
func GEMVTrans(cfg config.Config, a matrix.View[float32], x, y []float32, alpha, beta float32) error {
	if err := a.Check(); err != nil {
		return err
	}
	if len(x) != a.Rows || len(y) != a.Cols {
		return errors.Errorf("GEMVTrans with a shaped [%d, %d] requires x of length %d and y of length %d, got %d and %d",
			a.Rows, a.Cols, a.Rows, a.Cols, len(x), len(y))
	}
	return gemv(cfg, kernels.KindGEMVTrans, a, x, y, alpha, beta)
}

// GEMVPretransposed computes y = alpha * a x + beta * y, for a shaped [N, K], x of length K and y of length N.
func GEMVPretransposed(cfg config.Config, a matrix.View[float32], x, y []float32, alpha, beta float32) error {
	if err := a.Check(); err != nil {
		return err
	}
	if len(x) != a.Cols || len(y) != a.Rows {
		return errors.Errorf("GEMVPretransposed with a shaped [%d, %d] requires x of length %d and y of length %d, got %d and %d",
			a.Rows, a.Cols, a.Cols, a.Rows, len(x), len(y))
	}
	return gemv(cfg, kernels.KindGEMVPretransposed, a, x, y, alpha, beta)
}
