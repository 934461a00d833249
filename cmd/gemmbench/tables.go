// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/microgemm/internal/cpuinfo"
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/samber/lo"
)

// maxError above which a result is reported in red.
const maxError = 1e-3

var (
	titleStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "63", Dark: "86"})
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// newTable returns a table whose rows are styled alternately, except those for which isRed returns true.
func newTable(isRed func(row int) bool, alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case isRed != nil && isRed(row):
				s = redRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

// listKernels prints the registered kernels sorted by name. Non-empty isas or pairs restrict the list to
// the kernels modelled on one of isas and for one of pairs.
func listKernels(isas []cpuinfo.ISA, pairs []dtypes.DTypePair) {
	all := lo.Filter(kernels.Default.All(), func(reg *kernels.Registration, _ int) bool {
		return (len(isas) == 0 || lo.Contains(isas, reg.ISA)) && (len(pairs) == 0 || lo.Contains(pairs, reg.Pair))
	})
	table := newTable(func(row int) bool { return !all[row].IsAvailable() },
		lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Center)
	table.Headers("Kernel", "Types", "Kind", "ISA", "MRxNRxKR", "Priority", "Available")
	rows := lo.Map(all, func(reg *kernels.Registration, _ int) []string {
		tile := "-"
		if reg.Params != nil {
			tile = fmt.Sprintf("%dx%dx%d", reg.Params.MR, reg.Params.NR, reg.Params.KR)
		}
		return []string{reg.Name, reg.Pair.String(), reg.Kind.String(), reg.ISA.String(), tile,
			strconv.Itoa(int(reg.Priority)), lo.Ternary(reg.IsAvailable(), "yes", "no")}
	})
	table.Rows(rows...)
	fmt.Println(table.Render())
}

// reportResults prints one row per benchmark. Rows whose output disagrees with the reference are in red.
func reportResults(results []result) {
	table := newTable(func(row int) bool { return results[row].err > maxError },
		lipgloss.Left, lipgloss.Right, lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Right)
	table.Headers("Mode", "Shape", "Kernel", "Time/run", "Throughput", "Operands", "Error")
	for _, r := range results {
		table.Row(r.mode, r.shape.String(), r.kernel, r.perRun.String(),
			humanize.SIWithDigits(r.flops(), 2, "OP/s"),
			humanize.Bytes(uint64(r.bytes)),
			fmt.Sprintf("%.2g", r.err))
	}
	fmt.Println(table.Render())
}
