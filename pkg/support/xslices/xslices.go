// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package, mostly
// used by tests and the benchmark tool.
package xslices

import (
	"flag"
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/constraints"
)

// SliceWithValue creates a slice of given size filled with given value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	for ii := range s {
		s[ii] = value
	}
	return s
}

// Iota returns a slice of incremental int values, starting with start and of length len.
// Eg: Iota(3.0, 2) -> []float64{3.0, 4.0}
func Iota[T interface {
	constraints.Integer | constraints.Float
}](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Cycle returns a slice of length len with the values start, start+1, ..., start+period-1 repeated.
// Useful to build integer test matrices that don't overflow narrow types.
func Cycle[T constraints.Integer | constraints.Float](start T, period, len int) []T {
	slice := make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii%period)
	}
	return slice
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// MaxRelError returns the largest relative error between the two slices, as
// |a-b| / max(|b|, 1). It returns +Inf if the slices have different lengths.
func MaxRelError[T constraints.Float](got, want []T) float64 {
	if len(got) != len(want) {
		return math.Inf(1)
	}
	var maxErr float64
	for ii := range got {
		a, b := float64(got[ii]), float64(want[ii])
		diff := math.Abs(a - b)
		if diff == 0 {
			continue
		}
		diff /= max(math.Abs(b), 1)
		if math.IsNaN(diff) {
			return math.Inf(1)
		}
		maxErr = max(maxErr, diff)
	}
	return maxErr
}

// SlicesInRelDelta checks whether the two slices have the same length and are element-wise
// within the relative delta (see MaxRelError).
func SlicesInRelDelta[T constraints.Float](got, want []T, delta float64) bool {
	return MaxRelError(got, want) <= delta
}

// Flag creates a flag for []T with the given name, description and default value.
// It takes as input a parser for an individual T value.
func Flag[T any](name string, defaultValue []T, usage string,
	parserFn func(valueStr string) (T, error)) *[]T {
	f := &genericSliceFlagImpl[T]{
		parsedSlice: defaultValue,
		parserFn:    parserFn,
	}
	flag.Var(f, name, usage)
	return &f.parsedSlice
}

// genericSliceFlagImpl implements flag.Value for a generic type.
type genericSliceFlagImpl[T any] struct {
	parsedSlice []T
	parserFn    func(valueStr string) (T, error)
}

func (f *genericSliceFlagImpl[T]) String() string {
	if f == nil || len(f.parsedSlice) == 0 {
		return ""
	}
	parts := make([]string, len(f.parsedSlice))
	for ii, elem := range f.parsedSlice {
		parts[ii] = fmt.Sprintf("%v", elem)
	}
	return strings.Join(parts, ",")
}

func (f *genericSliceFlagImpl[T]) Set(listStr string) error {
	if listStr == "" {
		f.parsedSlice = make([]T, 0)
		return nil
	}
	parts := strings.Split(listStr, ",")
	f.parsedSlice = make([]T, len(parts))
	var err error
	for ii, part := range parts {
		f.parsedSlice[ii], err = f.parserFn(strings.TrimSpace(part))
		if err != nil {
			return err
		}
	}
	return nil
}
