// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
	headerStyle  = lipgloss.NewStyle().Reverse(true).Padding(0, 2)
	keyStyle     = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	flaggedStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"})
)

// report is a titled table printed by the commands.
//
// Without headers it is a summary: one "key: value" row per field, with the keys in bold.
// Flagged rows (unused variables, empty generated sequences) are highlighted.
type report struct {
	title   string
	headers []string
	rows    [][]string
	flagged map[int]bool
}

func newReport(title string, headers ...string) *report {
	return &report{title: title, headers: headers, flagged: make(map[int]bool)}
}

// add appends a row, highlighted if flagged.
func (r *report) add(flagged bool, cells ...string) {
	if flagged {
		r.flagged[len(r.rows)] = true
	}
	r.rows = append(r.rows, cells)
}

// field appends a summary row.
func (r *report) field(key string, format string, args ...any) {
	r.add(false, key, fmt.Sprintf(format, args...))
}

// Render returns the title followed by the table.
func (r *report) Render() string {
	t := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Rows(r.rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row < 0:
				return headerStyle
			case r.flagged[row]:
				return flaggedStyle
			case col == 0 && len(r.headers) == 0:
				return keyStyle
			}
			return cellStyle
		})
	if len(r.headers) > 0 {
		t.Headers(r.headers...)
	}
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(r.title), t.Render())
}
