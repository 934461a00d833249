// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIotaAndCycle(t *testing.T) {
	assert.Equal(t, []float64{3, 4}, Iota(3.0, 2))
	assert.Equal(t, []int8{-1, 0, 1, -1, 0}, Cycle(int8(-1), 3, 5))
	assert.Equal(t, []string{"1", "2"}, Map([]int{1, 2}, strconv.Itoa))
	assert.Equal(t, []bool{true, true, true}, SliceWithValue(3, true))
}

func TestMaxRelError(t *testing.T) {
	assert.Equal(t, 0.0, MaxRelError([]float32{1, 2}, []float32{1, 2}))
	assert.InDelta(t, 0.1, MaxRelError([]float64{11, 0.5}, []float64{10, 0.5}), 1e-9)
	// Values below 1 use absolute error.
	assert.InDelta(t, 0.01, MaxRelError([]float64{0.01}, []float64{0}), 1e-12)
	assert.True(t, math.IsInf(MaxRelError([]float32{1}, []float32{1, 2}), 1))
	assert.True(t, SlicesInRelDelta([]float32{100, 200}, []float32{100.001, 200}, 1e-4))
	assert.False(t, SlicesInRelDelta([]float32{float32(math.NaN())}, []float32{1}, 1e-4))
}

func TestFlag(t *testing.T) {
	f := &genericSliceFlagImpl[int]{parserFn: strconv.Atoi}
	assert.NoError(t, f.Set("1, 2,3"))
	assert.Equal(t, []int{1, 2, 3}, f.parsedSlice)
	assert.Equal(t, "1,2,3", f.String())
	assert.Error(t, f.Set("x"))
}
