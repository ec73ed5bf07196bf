// Package table renders rows of strings as an ASCII table with
// column alignment. Cell contents may contain ANSI escape sequences;
// widths are computed on the visible text.
package table

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Alignment controls how cell contents are padded within a column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
	AlignCenter
)

// Table accumulates a header and rows and renders them to a writer.
type Table struct {
	writer          io.Writer
	header          []string
	rows            [][]string
	columnAlignment []Alignment
	headerAlignment []Alignment
}

// NewTable creates a table that renders to the given writer.
func NewTable(writer io.Writer) *Table {
	return &Table{writer: writer}
}

// WithHeader sets the header row.
func (t *Table) WithHeader(header []string) *Table {
	t.header = header
	return t
}

// WithColumnAlignment sets the per-column alignment of row cells.
func (t *Table) WithColumnAlignment(alignment []Alignment) *Table {
	t.columnAlignment = alignment
	return t
}

// WithHeaderAlignment sets the per-column alignment of header cells.
func (t *Table) WithHeaderAlignment(alignment []Alignment) *Table {
	t.headerAlignment = alignment
	return t
}

// WithRows sets all rows at once.
func (t *Table) WithRows(rows [][]string) *Table {
	t.rows = rows
	return t
}

// Append adds one row.
func (t *Table) Append(row []string) *Table {
	t.rows = append(t.rows, row)
	return t
}

// Render writes the table.
func (t *Table) Render() {
	widths := t.columnWidths()
	if len(widths) == 0 {
		return
	}
	border := renderBorder(widths)
	fmt.Fprintln(t.writer, border)
	if len(t.header) > 0 {
		fmt.Fprintln(t.writer, renderRow(t.header, widths, t.headerAlignment))
		fmt.Fprintln(t.writer, border)
	}
	for _, row := range t.rows {
		fmt.Fprintln(t.writer, renderRow(row, widths, t.columnAlignment))
	}
	fmt.Fprintln(t.writer, border)
}

func (t *Table) columnWidths() []int {
	count := len(t.header)
	for _, row := range t.rows {
		if len(row) > count {
			count = len(row)
		}
	}
	widths := make([]int, count)
	for i, cell := range t.header {
		if w := visibleWidth(cell); w > widths[i] {
			widths[i] = w
		}
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := visibleWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

func renderBorder(widths []int) string {
	var sb strings.Builder
	for _, width := range widths {
		sb.WriteString("+")
		sb.WriteString(strings.Repeat("-", width+2))
	}
	sb.WriteString("+")
	return sb.String()
}

func renderRow(cells []string, widths []int, alignment []Alignment) string {
	var sb strings.Builder
	for i, width := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		align := AlignLeft
		if i < len(alignment) {
			align = alignment[i]
		}
		sb.WriteString("| ")
		sb.WriteString(pad(cell, width, align))
		sb.WriteString(" ")
	}
	sb.WriteString("|")
	return sb.String()
}

// pad fills cell out to the given visible width. ANSI sequences do not
// count toward the width.
func pad(cell string, width int, align Alignment) string {
	gap := width - visibleWidth(cell)
	if gap <= 0 {
		return cell
	}
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + cell
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + cell + strings.Repeat(" ", gap-left)
	default:
		return cell + strings.Repeat(" ", gap)
	}
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripAnsi(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func visibleWidth(s string) int {
	return len([]rune(stripAnsi(s)))
}
