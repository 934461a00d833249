// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package za implements the matrix-engine ("nomerge") GEMM kernels over an emulated accumulator array,
// modelled on the Arm SME2 ZA storage: a square array of 32-bit words, VL x VL per tile and 4 tiles,
// where VL is the vector length in 32-bit lanes.
//
// The accumulator array is a shared resource that has to be entered before use and released after,
// wrapping every logical output block:
//
//	release := za.Enter()
//	defer release()
//	kernel.Run(za.Default, &call)
//
// When the computation of an output block is split in several calls over K (or when the array must be
// vacated between calls), the kernels spill the accumulators into a Buffer and fill them back on the next
// call, see Call.Accumulate and Call.C.
package za

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// DefaultVectorLength is the number of 32-bit lanes of the emulated vectors: 4 is 128 bits, the smallest
// streaming vector length.
const DefaultVectorLength = 4

// maxKR is the largest contracting block consumed per outer product, by the 8-bit families.
const maxKR = 4

// Array is the emulated accumulator array.
//
// It is not a lock: entering an Array that is already active panics. Callers using the same Array from
// several goroutines must serialize their Enter/release sequences themselves.
type Array struct {
	mu     sync.Mutex
	vl     int
	active bool

	// words holds the 4 VLxVL tiles, scratch holds the widened operands of one outer product.
	words, scratch []uint32
}

// NewArray returns an Array with vector length vl (in 32-bit lanes).
func NewArray(vl int) *Array {
	a := &Array{}
	a.resize(vl)
	return a
}

// Default is the process-wide accumulator array.
var Default = NewArray(DefaultVectorLength)

// Enter the Default accumulator array, see Array.Enter.
func Enter() (release func()) {
	return Default.Enter()
}

func (a *Array) resize(vl int) {
	if vl <= 0 {
		exceptions.Panicf("za: invalid vector length %d", vl)
	}
	a.vl = vl
	a.words = make([]uint32, 4*vl*vl)
	a.scratch = make([]uint32, 2*4*vl*maxKR)
}

// VL returns the vector length in 32-bit lanes.
func (a *Array) VL() int {
	return a.vl
}

// SetVL changes the vector length. It panics if the array is active.
func (a *Array) SetVL(vl int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		exceptions.Panicf("za: cannot change the vector length of an active accumulator array")
	}
	if vl != a.vl {
		klog.V(1).Infof("za: vector length set to %d lanes (%d bits)", vl, vl*32)
		a.resize(vl)
	}
}

// Enter enables the accumulator array for the current goroutine: it pins the goroutine to its OS thread,
// zeroes the accumulators and marks the array active. It returns the function that vacates the array,
// to be called (typically deferred) by the same goroutine. Calling release more than once is a no-op.
//
// It panics if the array is already active.
func (a *Array) Enter() (release func()) {
	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		exceptions.Panicf("za: accumulator array entered while already active")
	}
	a.active = true
	clear(a.words)
	a.mu.Unlock()
	runtime.LockOSThread()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.active = false
			a.mu.Unlock()
			runtime.UnlockOSThread()
		})
	}
}

// Active reports whether the array has been entered and not yet released.
func (a *Array) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Array) mustBeActive() {
	if !a.Active() {
		exceptions.Panicf("za: kernel invoked outside of an accumulator array scope, call Enter first")
	}
}

// Word is the type of the accumulator words: 32 bits wide.
type Word interface {
	float32 | int32
}

// castWords returns the words typed as T, sharing the same memory.
func castWords[T Word](words []uint32) []T {
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(words))), len(words))
}

// tiles returns the accumulators, as a row-major [rows, cols] tile with rows*cols == 4*VL*VL.
func tiles[T Word](a *Array) []T {
	return castWords[T](a.words)
}

// operandScratch returns the scratch space for the widened A and B blocks of one outer product.
func operandScratch[T Word](a *Array, aLen, bLen int) (aScratch, bScratch []T) {
	all := castWords[T](a.scratch)
	return all[:aLen], all[aLen : aLen+bLen]
}
