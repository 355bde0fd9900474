package ui

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fatih/color"
)

// Table represents a simple table for displaying tabular data
type Table struct {
	writer    io.Writer
	headers   []string
	rows      [][]string
	noColor   bool
	cellColor func(col int, cell string) *color.Color
}

// TableOptions configures table behavior
type TableOptions struct {
	NoColor bool
	// CellColor picks the color of a body cell; nil leaves it plain
	CellColor func(col int, cell string) *color.Color
}

// NewTable creates a new table with the given headers
func NewTable(w io.Writer, headers []string, opts *TableOptions) *Table {
	t := &Table{
		writer:  w,
		headers: headers,
		rows:    make([][]string, 0),
	}
	if opts != nil {
		t.noColor = opts.NoColor
		t.cellColor = opts.CellColor
	}
	return t
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of body rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render renders the table to the writer
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	// Calculate column widths
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	// Render header
	bold := t.color(color.Bold, color.FgCyan)
	for i, header := range t.headers {
		bold.Fprint(t.writer, padRight(header, widths[i]))
		if i < len(t.headers)-1 {
			fmt.Fprint(t.writer, "  ")
		}
	}
	fmt.Fprintln(t.writer)

	// Render separator
	gray := t.color(color.FgHiBlack)
	for i, width := range widths {
		gray.Fprint(t.writer, strings.Repeat("─", width))
		if i < len(widths)-1 {
			gray.Fprint(t.writer, "  ")
		}
	}
	fmt.Fprintln(t.writer)

	// Render rows
	for _, row := range t.rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			padded := padRight(cell, widths[i])
			if c := t.cellColorFor(i, cell); c != nil {
				c.Fprint(t.writer, padded)
			} else {
				fmt.Fprint(t.writer, padded)
			}
			if i < len(row)-1 && i < len(widths)-1 {
				fmt.Fprint(t.writer, "  ")
			}
		}
		fmt.Fprintln(t.writer)
	}
}

func (t *Table) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if t.noColor {
		c.DisableColor()
	}
	return c
}

func (t *Table) cellColorFor(col int, cell string) *color.Color {
	if t.cellColor == nil {
		return nil
	}
	c := t.cellColor(col, cell)
	if c != nil && t.noColor {
		c.DisableColor()
	}
	return c
}

// padRight pads a string with spaces on the right to reach the target width
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// HTTPMethodColor returns the conventional color of an HTTP verb
func HTTPMethodColor(method string) *color.Color {
	switch method {
	case http.MethodGet:
		return color.New(color.FgGreen)
	case http.MethodPost:
		return color.New(color.FgYellow)
	case http.MethodPut, http.MethodPatch:
		return color.New(color.FgBlue)
	case http.MethodDelete:
		return color.New(color.FgRed)
	default:
		return nil
	}
}

// KeyValueTable renders a simple key-value table (2 columns)
type KeyValueTable struct {
	writer  io.Writer
	rows    []kvRow
	noColor bool
}

type kvRow struct {
	key   string
	value string
}

// NewKeyValueTable creates a new key-value table
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{
		writer:  w,
		rows:    make([]kvRow, 0),
		noColor: noColor,
	}
}

// AddRow adds a key-value pair to the table
func (t *KeyValueTable) AddRow(key, value string) {
	t.rows = append(t.rows, kvRow{key: key, value: value})
}

// Render renders the key-value table
func (t *KeyValueTable) Render() {
	if len(t.rows) == 0 {
		return
	}

	maxKeyWidth := 0
	for _, row := range t.rows {
		if len(row.key) > maxKeyWidth {
			maxKeyWidth = len(row.key)
		}
	}

	cyan := color.New(color.FgCyan)
	if t.noColor {
		cyan.DisableColor()
	}
	for _, row := range t.rows {
		cyan.Fprint(t.writer, padRight(row.key+":", maxKeyWidth+1))
		fmt.Fprintf(t.writer, " %s\n", row.value)
	}
}
