// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package za

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// SlotState is the state of one slot of a Buffer.
type SlotState uint8

const (
	// SlotEmpty slots hold nothing: the next call must start its tile from zero (or bias).
	SlotEmpty SlotState = iota

	// SlotAccumulating slots are being accumulated in the array by the current call.
	SlotAccumulating

	// SlotSpilled slots hold partial accumulators, to be filled back by a call with Accumulate set.
	SlotSpilled

	// SlotFinalized slots were written to the output. Only Reset leaves this state.
	SlotFinalized
)

var slotStateNames = []string{"Empty", "Accumulating", "Spilled", "Finalized"}

// String implements fmt.Stringer.
func (s SlotState) String() string {
	if int(s) >= len(slotStateNames) {
		return fmt.Sprintf("SlotState(%d)", int(s))
	}
	return slotStateNames[s]
}

// Buffer is the streaming accumulator buffer: storage for the tiles of an output region whose
// computation is split in several kernel calls, one slot per (row-block, col-block) tile.
//
// Every slot follows Empty -> Accumulating -> Spilled -> Accumulating -> ... -> Finalized. Any other
// transition is a bug in the caller and panics. Invocations using the same slot must be sequential.
type Buffer[T Word] struct {
	rowBlocks, colBlocks int
	tileRows, tileCols   int
	data                 []T
	states               []SlotState
}

// NewBuffer allocates a buffer for rowBlocks x colBlocks tiles of [tileRows, tileCols] accumulators.
func NewBuffer[T Word](rowBlocks, colBlocks, tileRows, tileCols int) *Buffer[T] {
	numSlots := rowBlocks * colBlocks
	return &Buffer[T]{
		rowBlocks: rowBlocks, colBlocks: colBlocks,
		tileRows: tileRows, tileCols: tileCols,
		data:   make([]T, numSlots*tileRows*tileCols),
		states: make([]SlotState, numSlots),
	}
}

// Blocks returns the number of row and column blocks of the buffer.
func (b *Buffer[T]) Blocks() (rowBlocks, colBlocks int) {
	return b.rowBlocks, b.colBlocks
}

// TileShape returns the shape of each slot.
func (b *Buffer[T]) TileShape() (rows, cols int) {
	return b.tileRows, b.tileCols
}

// State returns the state of the slot (rowBlock, colBlock).
func (b *Buffer[T]) State(rowBlock, colBlock int) SlotState {
	return b.states[b.slotIdx(rowBlock, colBlock)]
}

// Reset returns all slots to SlotEmpty, to reuse the buffer for another output region.
func (b *Buffer[T]) Reset() {
	clear(b.states)
}

func (b *Buffer[T]) slotIdx(rowBlock, colBlock int) int {
	if rowBlock < 0 || rowBlock >= b.rowBlocks || colBlock < 0 || colBlock >= b.colBlocks {
		exceptions.Panicf("za.Buffer: slot (%d, %d) out of range for %dx%d blocks", rowBlock, colBlock, b.rowBlocks, b.colBlocks)
	}
	return rowBlock*b.colBlocks + colBlock
}

func (b *Buffer[T]) slot(idx int) []T {
	size := b.tileRows * b.tileCols
	return b.data[idx*size : (idx+1)*size]
}

func (b *Buffer[T]) transition(rowBlock, colBlock int, from, to SlotState) int {
	idx := b.slotIdx(rowBlock, colBlock)
	if b.states[idx] != from {
		exceptions.Panicf("za.Buffer: slot (%d, %d) cannot go from %s to %s, expected it to be %s",
			rowBlock, colBlock, b.states[idx], to, from)
	}
	b.states[idx] = to
	return idx
}

// begin marks a slot whose tile starts from zero.
func (b *Buffer[T]) begin(rowBlock, colBlock int) {
	b.transition(rowBlock, colBlock, SlotEmpty, SlotAccumulating)
}

// fill copies the spilled accumulators of a slot into acc.
func (b *Buffer[T]) fill(rowBlock, colBlock int, acc []T) {
	idx := b.transition(rowBlock, colBlock, SlotSpilled, SlotAccumulating)
	copy(acc, b.slot(idx))
}

// spill saves acc into the slot.
func (b *Buffer[T]) spill(rowBlock, colBlock int, acc []T) {
	idx := b.transition(rowBlock, colBlock, SlotAccumulating, SlotSpilled)
	copy(b.slot(idx), acc)
}

// finalize marks a slot as written to the output.
func (b *Buffer[T]) finalize(rowBlock, colBlock int) {
	b.transition(rowBlock, colBlock, SlotAccumulating, SlotFinalized)
}
