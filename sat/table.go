package sat

import (
	"context"
	"fmt"

	"segstats/errs"
)

type ColumnType int

const (
	Integer ColumnType = iota
	Real
	String
)

func (columnType ColumnType) String() string {
	switch columnType {
	case Integer:
		return "integer"
	case Real:
		return "real"
	case String:
		return "string"
	}
	return fmt.Sprintf("column-type(%d)", int(columnType))
}

type Column struct {
	Name string
	Type ColumnType
}

const (
	DefaultBlockLength = 10000

	// HistogramColumn holds the pixel count of every segment.
	HistogramColumn = "Histogram"
)

// Table is a segment attribute table: one row per segment ID, row 0 being
// the background, and typed named columns. Bulk reads and writes address a
// contiguous row range of one column and must match the column type.
type Table interface {
	RowCount() int
	// SetRowCount grows the table. New rows read as zero or empty.
	SetRowCount(n int) error
	BlockLength() int

	Columns() []Column
	ColumnIndex(name string) (int, bool)
	FindOrCreateColumn(name string, columnType ColumnType) (int, error)

	ReadReals(ctx context.Context, col, start, n int) ([]float64, error)
	WriteReals(ctx context.Context, col, start int, values []float64) error
	ReadInts(ctx context.Context, col, start, n int) ([]int64, error)
	WriteInts(ctx context.Context, col, start int, values []int64) error
	ReadStrings(ctx context.Context, col, start, n int) ([]string, error)
	WriteStrings(ctx context.Context, col, start int, values []string) error
}

type options struct {
	blockLength int
}

type Option func(*options)

// WithBlockLength sets the number of rows moved per block of table I/O.
func WithBlockLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockLength = n
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{blockLength: DefaultBlockLength}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func checkColumn(op string, columns []Column, col int, want ColumnType) error {
	if col < 0 || col >= len(columns) {
		return errs.Config(op, "column index %d out of range [0,%d)", col, len(columns))
	}
	if columns[col].Type != want {
		return errs.Config(op, "column %q is %v, not %v", columns[col].Name, columns[col].Type, want)
	}
	return nil
}

func checkRange(op string, rowCount, start, n int) error {
	if start < 0 || n < 0 || start+n > rowCount {
		return errs.Config(op, "rows [%d,%d) outside table of %d rows", start, start+n, rowCount)
	}
	return nil
}

func checkNewColumn(op string, columns []Column, index map[string]int, name string, columnType ColumnType) (int, bool, error) {
	if name == "" {
		return 0, false, errs.Config(op, "empty column name")
	}
	if columnType < Integer || columnType > String {
		return 0, false, errs.Config(op, "unknown %v for column %q", columnType, name)
	}
	if idx, ok := index[name]; ok {
		if columns[idx].Type != columnType {
			return 0, false, errs.Config(op, "column %q exists as %v, requested %v",
				name, columns[idx].Type, columnType)
		}
		return idx, true, nil
	}
	return 0, false, nil
}
