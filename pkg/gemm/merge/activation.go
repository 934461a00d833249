// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package merge

import (
	"fmt"

	"github.com/chewxy/math32"
)

// ActivationKind enumerates the clamping activations fused into the output stage.
type ActivationKind int

const (
	// None is a pass-through.
	None ActivationKind = iota

	// ReLU clamps from below at 0.
	ReLU

	// BoundedReLU clamps to [0, Param1].
	BoundedReLU
)

// Activation is applied after the bias (and after requantization for the integer kernels).
// Every activation is expressed as a single [min, max] clamp.
type Activation struct {
	Kind ActivationKind

	// Param1 is the upper bound for BoundedReLU.
	Param1 float32
}

// String implements fmt.Stringer.
func (a Activation) String() string {
	switch a.Kind {
	case None:
		return "None"
	case ReLU:
		return "ReLU"
	case BoundedReLU:
		return fmt.Sprintf("BoundedReLU(%g)", a.Param1)
	}
	return fmt.Sprintf("Activation(%d)", int(a.Kind))
}

// Range returns the [min, max] clamp equivalent to the activation.
func (a Activation) Range() (lo, hi float32) {
	lo, hi = math32.Inf(-1), math32.Inf(1)
	switch a.Kind {
	case BoundedReLU:
		hi = a.Param1
		lo = 0
	case ReLU:
		lo = 0
	}
	return
}

// IsNone returns whether the activation is a pass-through.
func (a Activation) IsNone() bool {
	return a.Kind == None
}

// Clamp applies the [lo, hi] range. NaNs are passed through.
func Clamp[T float32 | float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
