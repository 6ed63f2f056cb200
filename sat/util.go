package sat

import (
	"context"

	"segstats/errs"
)

// ForEachBlock calls fn for consecutive row ranges of at most blockLength
// rows covering [0, rowCount).
func ForEachBlock(rowCount, blockLength int, fn func(start, n int) error) error {
	if blockLength <= 0 {
		blockLength = DefaultBlockLength
	}
	for start := 0; start < rowCount; start += blockLength {
		n := blockLength
		if start+n > rowCount {
			n = rowCount - start
		}
		if err := fn(start, n); err != nil {
			return err
		}
	}
	return nil
}

// EnsureRows grows table to at least n rows.
func EnsureRows(table Table, n int) error {
	if table.RowCount() >= n {
		return nil
	}
	return table.SetRowCount(n)
}

// ColumnByName returns the index of an existing column.
func ColumnByName(table Table, name string) (int, error) {
	idx, ok := table.ColumnIndex(name)
	if !ok {
		return 0, errs.Config("sat.ColumnByName", "no column %q", name)
	}
	return idx, nil
}

func ColumnTypeOf(table Table, col int) (ColumnType, error) {
	columns := table.Columns()
	if col < 0 || col >= len(columns) {
		return 0, errs.Config("sat.ColumnTypeOf", "column index %d out of range [0,%d)", col, len(columns))
	}
	return columns[col].Type, nil
}

// ReadAsReals reads an Integer or Real column as float64.
func ReadAsReals(ctx context.Context, table Table, col, start, n int) ([]float64, error) {
	columnType, err := ColumnTypeOf(table, col)
	if err != nil {
		return nil, err
	}
	switch columnType {
	case Real:
		return table.ReadReals(ctx, col, start, n)
	case Integer:
		ints, err := table.ReadInts(ctx, col, start, n)
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(ints))
		for i, v := range ints {
			values[i] = float64(v)
		}
		return values, nil
	}
	return nil, errs.Config("sat.ReadAsReals", "column %d is %v", col, columnType)
}

// ReadAsInts reads an Integer or Real column as int64, truncating reals
// toward zero.
func ReadAsInts(ctx context.Context, table Table, col, start, n int) ([]int64, error) {
	columnType, err := ColumnTypeOf(table, col)
	if err != nil {
		return nil, err
	}
	switch columnType {
	case Integer:
		return table.ReadInts(ctx, col, start, n)
	case Real:
		reals, err := table.ReadReals(ctx, col, start, n)
		if err != nil {
			return nil, err
		}
		values := make([]int64, len(reals))
		for i, v := range reals {
			values[i] = int64(v)
		}
		return values, nil
	}
	return nil, errs.Config("sat.ReadAsInts", "column %d is %v", col, columnType)
}

// RealValue, IntValue and StringValue read one row. Meant for small lookups,
// not for aggregation.
func RealValue(ctx context.Context, table Table, row, col int) (float64, error) {
	values, err := ReadAsReals(ctx, table, col, row, 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

func IntValue(ctx context.Context, table Table, row, col int) (int64, error) {
	values, err := ReadAsInts(ctx, table, col, row, 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

func StringValue(ctx context.Context, table Table, row, col int) (string, error) {
	values, err := table.ReadStrings(ctx, col, row, 1)
	if err != nil {
		return "", err
	}
	return values[0], nil
}

// CopyColumns copies the named columns of src into dst row for row, creating
// them with the same type and growing dst if src has more rows.
func CopyColumns(ctx context.Context, src, dst Table, names []string) error {
	const op = "sat.CopyColumns"
	srcColumns := src.Columns()
	type pair struct{ from, to int }
	pairs := make([]pair, 0, len(names))
	for _, name := range names {
		from, err := ColumnByName(src, name)
		if err != nil {
			return err
		}
		to, err := dst.FindOrCreateColumn(name, srcColumns[from].Type)
		if err != nil {
			return err
		}
		pairs = append(pairs, pair{from, to})
	}
	if err := EnsureRows(dst, src.RowCount()); err != nil {
		return err
	}

	return ForEachBlock(src.RowCount(), src.BlockLength(), func(start, n int) error {
		for _, p := range pairs {
			var err error
			switch srcColumns[p.from].Type {
			case Real:
				var values []float64
				if values, err = src.ReadReals(ctx, p.from, start, n); err == nil {
					err = dst.WriteReals(ctx, p.to, start, values)
				}
			case Integer:
				var values []int64
				if values, err = src.ReadInts(ctx, p.from, start, n); err == nil {
					err = dst.WriteInts(ctx, p.to, start, values)
				}
			case String:
				var values []string
				if values, err = src.ReadStrings(ctx, p.from, start, n); err == nil {
					err = dst.WriteStrings(ctx, p.to, start, values)
				}
			}
			if err != nil {
				return errs.IO(op, err)
			}
		}
		return nil
	})
}

// WriteRealColumn writes values, indexed by row, to the Real column name,
// creating the column and growing the table as needed.
func WriteRealColumn(ctx context.Context, table Table, name string, values []float64) error {
	col, err := table.FindOrCreateColumn(name, Real)
	if err != nil {
		return err
	}
	if err := EnsureRows(table, len(values)); err != nil {
		return err
	}
	return ForEachBlock(len(values), table.BlockLength(), func(start, n int) error {
		return errs.IO("sat.WriteRealColumn", table.WriteReals(ctx, col, start, values[start:start+n]))
	})
}

func WriteIntColumn(ctx context.Context, table Table, name string, values []int64) error {
	col, err := table.FindOrCreateColumn(name, Integer)
	if err != nil {
		return err
	}
	if err := EnsureRows(table, len(values)); err != nil {
		return err
	}
	return ForEachBlock(len(values), table.BlockLength(), func(start, n int) error {
		return errs.IO("sat.WriteIntColumn", table.WriteInts(ctx, col, start, values[start:start+n]))
	})
}

// ReadRealColumn reads a whole Integer or Real column as float64.
func ReadRealColumn(ctx context.Context, table Table, name string) ([]float64, error) {
	col, err := ColumnByName(table, name)
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, table.RowCount())
	err = ForEachBlock(table.RowCount(), table.BlockLength(), func(start, n int) error {
		block, err := ReadAsReals(ctx, table, col, start, n)
		values = append(values, block...)
		return errs.IO("sat.ReadRealColumn", err)
	})
	return values, err
}

// ReadIntColumn reads a whole Integer or Real column as int64.
func ReadIntColumn(ctx context.Context, table Table, name string) ([]int64, error) {
	col, err := ColumnByName(table, name)
	if err != nil {
		return nil, err
	}
	values := make([]int64, 0, table.RowCount())
	err = ForEachBlock(table.RowCount(), table.BlockLength(), func(start, n int) error {
		block, err := ReadAsInts(ctx, table, col, start, n)
		values = append(values, block...)
		return errs.IO("sat.ReadIntColumn", err)
	})
	return values, err
}
