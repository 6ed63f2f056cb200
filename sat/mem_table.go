package sat

import (
	"context"

	"segstats/errs"
)

type memColumn struct {
	reals []float64
	ints  []int64
	strs  []string
}

// MemTable is a Table held in columnar slices.
type MemTable struct {
	blockLength int
	rowCount    int
	columns     []Column
	data        []*memColumn
	index       map[string]int
}

func NewMemTable(opts ...Option) *MemTable {
	o := applyOptions(opts)
	return &MemTable{
		blockLength: o.blockLength,
		columns:     make([]Column, 0),
		data:        make([]*memColumn, 0),
		index:       make(map[string]int),
	}
}

func (table *MemTable) RowCount() int {
	return table.rowCount
}

func (table *MemTable) BlockLength() int {
	return table.blockLength
}

func (table *MemTable) SetRowCount(n int) error {
	if n < table.rowCount {
		return errs.Config("sat.SetRowCount", "cannot shrink table from %d to %d rows", table.rowCount, n)
	}
	for i, column := range table.columns {
		table.data[i].grow(column.Type, n)
	}
	table.rowCount = n
	return nil
}

func (column *memColumn) grow(columnType ColumnType, n int) {
	switch columnType {
	case Integer:
		column.ints = append(column.ints, make([]int64, n-len(column.ints))...)
	case Real:
		column.reals = append(column.reals, make([]float64, n-len(column.reals))...)
	case String:
		column.strs = append(column.strs, make([]string, n-len(column.strs))...)
	}
}

func (table *MemTable) Columns() []Column {
	return append([]Column(nil), table.columns...)
}

func (table *MemTable) ColumnIndex(name string) (int, bool) {
	idx, ok := table.index[name]
	return idx, ok
}

func (table *MemTable) FindOrCreateColumn(name string, columnType ColumnType) (int, error) {
	idx, found, err := checkNewColumn("sat.FindOrCreateColumn", table.columns, table.index, name, columnType)
	if err != nil || found {
		return idx, err
	}
	column := &memColumn{}
	column.grow(columnType, table.rowCount)
	table.columns = append(table.columns, Column{Name: name, Type: columnType})
	table.data = append(table.data, column)
	table.index[name] = len(table.columns) - 1
	return len(table.columns) - 1, nil
}

func (table *MemTable) ReadReals(ctx context.Context, col, start, n int) ([]float64, error) {
	if err := table.check("sat.ReadReals", col, Real, start, n); err != nil {
		return nil, err
	}
	return append([]float64(nil), table.data[col].reals[start:start+n]...), nil
}

func (table *MemTable) WriteReals(ctx context.Context, col, start int, values []float64) error {
	if err := table.check("sat.WriteReals", col, Real, start, len(values)); err != nil {
		return err
	}
	copy(table.data[col].reals[start:], values)
	return nil
}

func (table *MemTable) ReadInts(ctx context.Context, col, start, n int) ([]int64, error) {
	if err := table.check("sat.ReadInts", col, Integer, start, n); err != nil {
		return nil, err
	}
	return append([]int64(nil), table.data[col].ints[start:start+n]...), nil
}

func (table *MemTable) WriteInts(ctx context.Context, col, start int, values []int64) error {
	if err := table.check("sat.WriteInts", col, Integer, start, len(values)); err != nil {
		return err
	}
	copy(table.data[col].ints[start:], values)
	return nil
}

func (table *MemTable) ReadStrings(ctx context.Context, col, start, n int) ([]string, error) {
	if err := table.check("sat.ReadStrings", col, String, start, n); err != nil {
		return nil, err
	}
	return append([]string(nil), table.data[col].strs[start:start+n]...), nil
}

func (table *MemTable) WriteStrings(ctx context.Context, col, start int, values []string) error {
	if err := table.check("sat.WriteStrings", col, String, start, len(values)); err != nil {
		return err
	}
	copy(table.data[col].strs[start:], values)
	return nil
}

func (table *MemTable) check(op string, col int, want ColumnType, start, n int) error {
	if err := checkColumn(op, table.columns, col, want); err != nil {
		return err
	}
	return checkRange(op, table.rowCount, start, n)
}
