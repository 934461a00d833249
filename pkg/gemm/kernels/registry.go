// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels holds the register-blocked ("interleaved") micro-kernels and the registry of all
// kernel variants, keyed by the pair of operand/accumulator dtypes.
//
// A kernel of Kind Interleaved computes aBlocks x bBlocks raw tiles from packed panels (see package pack
// and CacheParams.LHSLayout/RHSLayout) and writes them, tile-major, to a scratch C panel that is later
// folded into the output by package merge. The native kernel and the GEMV kernels read unpacked
// matrices and write their output directly.
//
// The registry only holds metadata and function values: picking a kernel (and checking the shapes) is
// the job of the caller, see package interleaved.
package kernels

import (
	"cmp"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/microgemm/internal/cpuinfo"
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/pack"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"k8s.io/klog/v2"
)

// Interleaved is the contract of the register-blocked kernels: aPanel holds aBlocks packed groups of MR
// rows, bPanel holds bBlocks packed strips of NR columns, both with packed depth k (a multiple of KR).
// cPanel receives aBlocks*bBlocks tiles of MR*NR accumulators, for each a-block, for each b-block, row-major.
type Interleaved[TOp, TAcc any] func(aPanel, bPanel []TOp, cPanel []TAcc, aBlocks, bBlocks, k int)

// Native is the contract of the kernels working directly on the unpacked matrices:
// c = alpha * a x b + beta * c, with a shaped [M, K], b shaped [K, N] and c shaped [M, N].
type Native func(a, b, c matrix.View[float32], alpha, beta float32)

// NativePretransposed is the contract of the native kernels reading B pretransposed: c = alpha * a x b + beta * c,
// with a shaped [M, K] and c shaped [M, N] unpacked, and b packed whole (K and N) with CacheParams.RHSLayout.
type NativePretransposed func(a matrix.View[float32], bPanel []float32, c matrix.View[float32], alpha, beta float32)

// GEMV is the contract of the matrix-vector kernels: y = alpha * op(a) x + beta * y, where op depends on
// the Kind of the kernel, see KindGEMVTrans and KindGEMVPretransposed.
type GEMV func(a matrix.View[float32], x, y []float32, alpha, beta float32)

// Kind of contract implemented by a registered kernel, which defines the type of Registration.Fn.
type Kind int

const (
	// KindInterleaved kernels have a Fn of type Interleaved[TOp, TAcc].
	KindInterleaved Kind = iota

	// KindNative kernels have a Fn of type Native.
	KindNative

	// KindGEMVTrans kernels have a Fn of type GEMV, computing y = alpha * a^T x + beta * y for a [M, N].
	KindGEMVTrans

	// KindGEMVPretransposed kernels have a Fn of type GEMV, computing y = alpha * a x + beta * y for a [N, K].
	KindGEMVPretransposed

	// KindNoMerge are the accumulator array kernels of package za, whose Fn type is defined there.
	KindNoMerge

	// KindNativePretransposedB kernels have a Fn of type NativePretransposed.
	KindNativePretransposedB
)

var kindNames = []string{"Interleaved", "Native", "GEMVTrans", "GEMVPretransposed", "NoMerge", "NativePretransposedB"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return "Kind(?)"
	}
	return kindNames[k]
}

// Priority of a kernel when more than one is available for the same dtype pair and kind: higher first.
type Priority int

const (
	PriorityBase          Priority = 0
	PriorityDTypeSpecific Priority = 10
	PriorityISA           Priority = 20
)

// CacheParams are the blocking factors of a kernel, plus tuning metadata.
//
// Only MR, NR and KR affect results (they define the packed layouts); PrefetchDistance and KUnroll
// describe the schedule of the kernel and can be used by callers to size their blocks.
type CacheParams struct {
	MR int // Rows of the output tile: LHS rows interleaved per packed group.
	NR int // Columns of the output tile: RHS columns interleaved per packed strip.
	KR int // Contracting elements kept contiguous per row/column, the depth of one multiply-accumulate.

	PrefetchDistance int // In K steps.
	KUnroll          int // K blocks per main loop iteration.
}

// LHSLayout is the pack.Layout the kernel expects for the A panel.
func (p *CacheParams) LHSLayout() pack.Layout {
	return pack.Layout{IntBy: p.MR, Block: p.KR}
}

// RHSLayout is the pack.Layout the kernel expects for the B panel.
func (p *CacheParams) RHSLayout() pack.Layout {
	return pack.Layout{IntBy: p.NR, Block: p.KR}
}

// Registration of one kernel variant.
type Registration struct {
	Name   string
	Pair   dtypes.DTypePair
	Kind   Kind
	Params *CacheParams

	// ISA whose instructions the kernel's schedule is modelled on. The kernels of this module are
	// written in Go and run everywhere, so it is informative unless Available checks it.
	ISA cpuinfo.ISA

	Priority Priority

	// Available reports whether the kernel can run on this machine. Nil means always.
	Available func() bool

	// Fn is the kernel, with the type defined by Kind.
	Fn any
}

// IsAvailable returns whether the kernel can be used.
func (reg *Registration) IsAvailable() bool {
	return reg.Available == nil || reg.Available()
}

// Registry of kernel variants. It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	byName map[string]*Registration
	byPair map[dtypes.DTypePair][]*Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Registration),
		byPair: make(map[dtypes.DTypePair][]*Registration),
	}
}

// Default registry, where the kernels of this module register themselves during initialization.
var Default = NewRegistry()

// Register a kernel in the Default registry.
func Register(reg *Registration) {
	Default.Register(reg)
}

// Register a kernel. It panics if the name is already registered or if the registration is incomplete:
// these are bugs in the code.
func (r *Registry) Register(reg *Registration) {
	if reg.Name == "" || reg.Fn == nil || reg.Params == nil {
		exceptions.Panicf("kernels.Register: incomplete registration %+v", reg)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.byName[reg.Name]; found {
		exceptions.Panicf("kernels.Register: kernel %q registered twice", reg.Name)
	}
	r.byName[reg.Name] = reg
	r.byPair[reg.Pair] = append(r.byPair[reg.Pair], reg)
	klog.V(2).Infof("registered kernel %q (%s, %s, ISA %s, priority %d)", reg.Name, reg.Pair, reg.Kind, reg.ISA, reg.Priority)
}

// byPriority sorts registrations by decreasing priority, then by name.
func byPriority(a, b *Registration) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

// ForPair returns the available kernels of the given kind for the dtype pair, ordered by decreasing priority.
func (r *Registry) ForPair(pair dtypes.DTypePair, kind Kind) []*Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := lo.Filter(r.byPair[pair], func(reg *Registration, _ int) bool {
		return reg.Kind == kind && reg.IsAvailable()
	})
	slices.SortFunc(regs, byPriority)
	return regs
}

// Best returns the available kernel with the highest priority for the pair and kind.
func (r *Registry) Best(pair dtypes.DTypePair, kind Kind) (*Registration, error) {
	regs := r.ForPair(pair, kind)
	if len(regs) == 0 {
		return nil, errors.Errorf("no %s kernel available for %s", kind, pair)
	}
	return regs[0], nil
}

// ByName returns the kernel registered with the given name, available or not.
func (r *Registry) ByName(name string) (*Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, found := r.byName[name]
	return reg, found
}

// All returns all registered kernels, sorted by name.
func (r *Registry) All() []*Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := lo.Values(r.byName)
	slices.SortFunc(regs, func(a, b *Registration) int { return cmp.Compare(a.Name, b.Name) })
	return regs
}

// Names returns the sorted names of all registered kernels.
func (r *Registry) Names() []string {
	return lo.Map(r.All(), func(reg *Registration, _ int) string { return reg.Name })
}

// InterleavedFn returns the typed kernel function of an interleaved kernel.
func InterleavedFn[TOp, TAcc any](reg *Registration) (Interleaved[TOp, TAcc], error) {
	if reg.Kind != KindInterleaved {
		return nil, errors.Errorf("kernel %q is of kind %s, not %s", reg.Name, reg.Kind, KindInterleaved)
	}
	fn, ok := reg.Fn.(Interleaved[TOp, TAcc])
	if !ok {
		return nil, errors.Errorf("kernel %q has function type %T, not %T", reg.Name, reg.Fn, fn)
	}
	return fn, nil
}
