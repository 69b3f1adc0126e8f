package format

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"jdata/internal/fetcher"
)

// Writer renders records under a schema.
type Writer interface {
	Write(w io.Writer, s Schema, records []fetcher.Record) error
}

// CSVWriter writes a header row of display names followed by one row per
// record holding each field as the upstream sent it.
type CSVWriter struct{}

// Write implements Writer.
func (CSVWriter) Write(w io.Writer, s Schema, records []fetcher.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(s.Headers()); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	line := make([]string, len(s.Columns))
	for i, rec := range records {
		for j, c := range s.Columns {
			v, ok := rec.Field(c.Source)
			if !ok && !s.AllowMissing {
				return missingField(i, c.Source)
			}
			line[j] = v
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// TableWriter draws typed rows as a bordered terminal table.
type TableWriter struct{}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Write implements Writer.
func (TableWriter) Write(w io.Writer, s Schema, records []fetcher.Record) error {
	rows, err := Rows(records, s)
	if err != nil {
		return err
	}

	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = make([]string, len(row))
		for j, v := range row {
			cells[i][j] = Display(v)
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(s.Headers()...).
		Rows(cells...)

	_, err = fmt.Fprintln(w, t.Render())
	return err
}

// New returns the writer for a format name: "csv" or "table".
func New(name string) (Writer, error) {
	switch strings.ToLower(name) {
	case "", "csv":
		return CSVWriter{}, nil
	case "table":
		return TableWriter{}, nil
	}
	return nil, fetcher.NewInvalidArgumentError(fmt.Sprintf("unknown output format %q, should be csv or table", name))
}

// FileName builds the default output name SYMBOL-from-to[-extra...].csv.
func FileName(symbol string, from, to time.Time, extra ...string) string {
	parts := []string{symbol, from.Format("2006-01-02"), to.Format("2006-01-02")}
	for _, e := range extra {
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "-") + ".csv"
}
