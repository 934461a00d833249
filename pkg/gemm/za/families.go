// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package za

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/microgemm/internal/cpuinfo"
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Family of nomerge kernels sharing operand, accumulator and output types: one Kernel per Shape.
type Family[TOp dtypes.Supported, TAcc Word, TOut dtypes.Supported] struct {
	Name string
	KR   int

	// Kernels in the order of Shapes.
	Kernels []*Kernel[TOp, TAcc, TOut]
}

func newFamily[TOp dtypes.Supported, TAcc Word, TOut dtypes.Supported](name string, kr int, widen func(TOp) TAcc) *Family[TOp, TAcc, TOut] {
	f := &Family[TOp, TAcc, TOut]{Name: name, KR: kr}
	for _, shape := range Shapes {
		f.Kernels = append(f.Kernels, &Kernel[TOp, TAcc, TOut]{
			Name:   fmt.Sprintf("sme2-interleaved-nomerge-%s-mopa-%s", name, shape),
			Family: name,
			Shape:  shape,
			KR:     kr,
			widen:  widen,
		})
	}
	return f
}

// ForShape returns the kernel of the family for the shape.
func (f *Family[TOp, TAcc, TOut]) ForShape(shape Shape) *Kernel[TOp, TAcc, TOut] {
	for _, k := range f.Kernels {
		if k.Shape == shape {
			return k
		}
	}
	exceptions.Panicf("za: family %s has no kernel for shape %s", f.Name, shape)
	return nil
}

// register the kernels of the family in the kernels.Default registry. The CacheParams are those of the
// DefaultVectorLength.
func (f *Family[TOp, TAcc, TOut]) register() {
	pair := dtypes.PairOf[TOp, TOut]()
	for _, k := range f.Kernels {
		mr, nr := k.TileShape(DefaultVectorLength)
		kernels.Register(&kernels.Registration{
			Name:     k.Name,
			Pair:     pair,
			Kind:     kernels.KindNoMerge,
			Params:   &kernels.CacheParams{MR: mr, NR: nr, KR: k.KR, KUnroll: 2},
			ISA:      cpuinfo.SME2,
			Priority: kernels.PriorityISA,
			Fn:       k,
		})
	}
}

func identity[T any](v T) T { return v }

func widenInt[T int8 | uint8](v T) int32 { return int32(v) }

var (
	// FP32 accumulates float32 operands, with a FloatActivation output.
	FP32 = newFamily[float32, float32, float32]("fp32", 1, identity[float32])

	// BF16FP32 accumulates pairs of bfloat16 products in float32.
	BF16FP32 = newFamily[bfloat16.BFloat16, float32, float32]("bf16fp32", 2, bfloat16.BFloat16.Float32)

	// FP16FP32 accumulates pairs of float16 products in float32, storing float32.
	FP16FP32 = newFamily[float16.Float16, float32, float32]("fp16fp32", 2, float16.Float16.Float32)

	// FP16FP32FP16 accumulates like FP16FP32, but stores float16, see HalfActivation.
	FP16FP32FP16 = newFamily[float16.Float16, float32, float16.Float16]("fp16fp32fp16", 2, float16.Float16.Float32)

	// S8S32 accumulates groups of 4 int8 products in int32, stored as they are.
	S8S32 = newFamily[int8, int32, int32]("s8s32", 4, widenInt[int8])

	// S8Q accumulates like S8S32 and requantizes to int8, see Requantize.
	S8Q = newFamily[int8, int32, int8]("s8q", 4, widenInt[int8])

	// U8Q accumulates groups of 4 uint8 products in 32 bits and requantizes to uint8.
	U8Q = newFamily[uint8, int32, uint8]("u8q", 4, widenInt[uint8])

	// S8QFP32 accumulates like S8S32 and dequantizes to float32, see DequantizeFloat.
	S8QFP32 = newFamily[int8, int32, float32]("s8qfp32", 4, widenInt[int8])
)

func init() {
	FP32.register()
	BF16FP32.register()
	FP16FP32.register()
	FP16FP32FP16.register()
	S8S32.register()
	S8Q.register()
	U8Q.register()
	S8QFP32.register()
}

// KernelOf returns the typed kernel of a KindNoMerge registration.
func KernelOf[TOp dtypes.Supported, TAcc Word, TOut dtypes.Supported](reg *kernels.Registration) (*Kernel[TOp, TAcc, TOut], error) {
	if reg.Kind != kernels.KindNoMerge {
		return nil, errors.Errorf("kernel %q is of kind %s, not %s", reg.Name, reg.Kind, kernels.KindNoMerge)
	}
	k, ok := reg.Fn.(*Kernel[TOp, TAcc, TOut])
	if !ok {
		return nil, errors.Errorf("kernel %q has type %T, not %T", reg.Name, reg.Fn, k)
	}
	return k, nil
}
