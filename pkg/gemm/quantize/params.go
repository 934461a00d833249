// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package quantize

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/microgemm/pkg/gemm/merge"
	"github.com/pkg/errors"
)

// QuantizeMultiplier converts a positive real multiplier to the fixed-point representation used by
// Requantize32: realMultiplier ~= mul * 2^(leftShift - 31 - rightShift), with mul in [2^30, 2^31).
func QuantizeMultiplier(realMultiplier float64) (mul, leftShift, rightShift int32, err error) {
	if !(realMultiplier > 0) || math.IsInf(realMultiplier, 0) {
		err = errors.Errorf("requantization multiplier must be positive and finite, got %g", realMultiplier)
		return
	}
	frac, exp := math.Frexp(realMultiplier) // realMultiplier = frac * 2^exp, frac in [0.5, 1).
	q := int64(math.RoundToEven(frac * (1 << 31)))
	if q == 1<<31 {
		q /= 2
		exp++
	}
	if exp > 0 {
		leftShift = int32(exp)
	} else {
		rightShift = int32(-exp)
	}
	if leftShift > 30 || rightShift > 31 {
		err = errors.Errorf("requantization multiplier %g out of the representable range", realMultiplier)
		return
	}
	mul = int32(q)
	return
}

// NewPerLayer returns the Requantize32 for a per-layer real multiplier (lhsScale*rhsScale/outScale),
// with the given offsets and output clamping range.
func NewPerLayer(realMultiplier float64, aOffset, bOffset, cOffset, minVal, maxVal int32) (*Requantize32, error) {
	mul, left, right, err := QuantizeMultiplier(realMultiplier)
	if err != nil {
		return nil, err
	}
	return &Requantize32{
		AOffset: aOffset, BOffset: bOffset, COffset: cOffset,
		MinVal: minVal, MaxVal: maxVal,
		PerLayerMul: mul, PerLayerLeftShift: left, PerLayerRightShift: right,
	}, nil
}

// NewPerChannel returns the Requantize32 with one real multiplier per output column.
func NewPerChannel(realMultipliers []float64, aOffset, bOffset, cOffset, minVal, maxVal int32) (*Requantize32, error) {
	qp := &Requantize32{
		AOffset: aOffset, BOffset: bOffset, COffset: cOffset,
		MinVal: minVal, MaxVal: maxVal,
		PerChannel:            true,
		PerChannelMuls:        make([]int32, len(realMultipliers)),
		PerChannelLeftShifts:  make([]int32, len(realMultipliers)),
		PerChannelRightShifts: make([]int32, len(realMultipliers)),
	}
	for ii, multiplier := range realMultipliers {
		mul, left, right, err := QuantizeMultiplier(multiplier)
		if err != nil {
			return nil, errors.WithMessagef(err, "channel #%d", ii)
		}
		qp.PerChannelMuls[ii], qp.PerChannelLeftShifts[ii], qp.PerChannelRightShifts[ii] = mul, left, right
	}
	return qp, nil
}

// Affine is the scale and zero-point of an affinely quantized tensor: real = Scale * (q - ZeroPoint).
type Affine struct {
	Scale     float32
	ZeroPoint int32
}

// Limits returns the range of values of the quantized type T.
func Limits[T int8 | uint8]() (lo, hi int32) {
	var zero T
	if T(zero-1) < zero {
		return math.MinInt8, math.MaxInt8
	}
	return 0, math.MaxUint8
}

// Quantize converts x to T, rounding half to even and saturating to T's range.
func Quantize[T int8 | uint8](x float32, a Affine) T {
	lo, hi := Limits[T]()
	if math32.IsNaN(x) {
		return T(min(max(a.ZeroPoint, lo), hi))
	}
	q := math.RoundToEven(float64(x)/float64(a.Scale)) + float64(a.ZeroPoint)
	q = min(max(q, float64(lo)), float64(hi))
	return T(int32(q))
}

// Dequantize converts q back to float32.
func Dequantize[T int8 | uint8](q T, a Affine) float32 {
	return a.Scale * float32(int32(q)-a.ZeroPoint)
}

// ChooseAffine returns the Affine parameters that map [lo, hi] (extended to include 0, so that zero is exactly
// representable) onto the full range of T.
func ChooseAffine[T int8 | uint8](lo, hi float32) Affine {
	qlo, qhi := Limits[T]()
	lo, hi = math32.Min(lo, 0), math32.Max(hi, 0)
	if hi == lo {
		return Affine{Scale: 1, ZeroPoint: 0}
	}
	scale := (hi - lo) / float32(qhi-qlo)
	zp := float64(qlo) - math.RoundToEven(float64(lo)/float64(scale))
	zp = min(max(zp, float64(qlo)), float64(qhi))
	return Affine{Scale: scale, ZeroPoint: int32(zp)}
}

// ClampRange returns the [minVal, maxVal] output clamp in the quantized domain of T that implements the
// activation for an output quantized with a.
func ClampRange[T int8 | uint8](act merge.Activation, a Affine) (minVal, maxVal int32) {
	minVal, maxVal = Limits[T]()
	lo, hi := act.Range()
	if !math32.IsInf(lo, -1) {
		minVal = max(minVal, a.ZeroPoint+int32(math32.Ceil(lo/a.Scale)))
	}
	if !math32.IsInf(hi, 1) {
		maxVal = min(maxVal, a.ZeroPoint+int32(math32.Floor(hi/a.Scale)))
	}
	return
}

// DequantizeFloat is the output stage of the kernels that produce float32 from int32 accumulators:
// out = float32(acc)*Scale + lateBias[col], then clamped by the activation.
type DequantizeFloat struct {
	Scale float32
}

// Apply dequantizes one accumulator.
func (dq DequantizeFloat) Apply(acc int32, lateBias float32) float32 {
	return float32(acc)*dq.Scale + lateBias
}
