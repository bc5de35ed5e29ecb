package models

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Table is an in-memory tabular dataset. Rows hold raw string cells in
// source order; Columns preserves the header order of the origin file.
type Table struct {
	Name    string     `json:"name"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// ReadCSVTable parses CSV content into a Table. The first record is the
// header. Short rows are padded with empty cells so every row has one
// cell per column.
func ReadCSVTable(r io.Reader, name string) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read csv %s: no header row", name)
	}

	header := records[0]
	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]string, len(header))
		copy(row, rec)
		rows = append(rows, row)
	}

	return &Table{Name: name, Columns: header, Rows: rows}, nil
}

// Column returns the values of the named column in row order.
// Returns false if the column does not exist.
func (t *Table) Column(name string) ([]string, bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}

	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			values[i] = row[idx]
		}
	}
	return values, true
}
