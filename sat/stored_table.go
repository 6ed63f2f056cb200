package sat

import (
	"context"

	"github.com/tinylib/msgp/msgp"

	"segstats/errs"
	"segstats/storage"
)

// StoredTable is a Table persisted through a BackingStore. Every column is
// split into blocks of BlockLength rows, one key per block; the header with
// row count and column list lives under the table-meta key of the band.
type StoredTable struct {
	store       *storage.BackingStore
	datasetID   int64
	band        int32
	blockLength int
	rowCount    int
	columns     []Column
	index       map[string]int
}

// OpenStoredTable loads the table of one dataset band, or returns an empty
// one if none was written yet.
func OpenStoredTable(store *storage.BackingStore, datasetID int64, band int, opts ...Option) (*StoredTable, error) {
	o := applyOptions(opts)
	table := &StoredTable{
		store:       store,
		datasetID:   datasetID,
		band:        int32(band),
		blockLength: o.blockLength,
		columns:     make([]Column, 0),
		index:       make(map[string]int),
	}
	buf, err := store.GetRaw(table.headerKey())
	if err == storage.ErrKeyNotFound {
		return table, nil
	}
	if err != nil {
		return nil, errs.IO("sat.OpenStoredTable", err)
	}
	if err := table.decodeHeader(buf); err != nil {
		return nil, errs.IO("sat.OpenStoredTable", err)
	}
	return table, nil
}

// DropStoredTable deletes the header and every column block of a band.
func DropStoredTable(store *storage.BackingStore, datasetID int64, band int) error {
	err := store.DeletePrefix(storage.GetPrefix(datasetID, storage.KindColumn, int32(band)))
	if err != nil {
		return errs.IO("sat.DropStoredTable", err)
	}
	return errs.IO("sat.DropStoredTable", store.DeletePrefix(storage.GetPrefix(datasetID, storage.KindTableMeta, int32(band))))
}

func (table *StoredTable) headerKey() []byte {
	return storage.GetKey(table.datasetID, storage.KindTableMeta, table.band, 0, 0)
}

func (table *StoredTable) blockKey(col int, block int) []byte {
	return storage.GetKey(table.datasetID, storage.KindColumn, table.band, int32(col), int64(block))
}

func (table *StoredTable) encodeHeader() []byte {
	buf := msgp.AppendInt(nil, table.blockLength)
	buf = msgp.AppendInt(buf, table.rowCount)
	buf = msgp.AppendArrayHeader(buf, uint32(len(table.columns)))
	for _, column := range table.columns {
		buf = msgp.AppendString(buf, column.Name)
		buf = msgp.AppendInt(buf, int(column.Type))
	}
	return buf
}

func (table *StoredTable) decodeHeader(buf []byte) error {
	var err error
	if table.blockLength, buf, err = msgp.ReadIntBytes(buf); err != nil {
		return err
	}
	if table.rowCount, buf, err = msgp.ReadIntBytes(buf); err != nil {
		return err
	}
	n, buf, err := msgp.ReadArrayHeaderBytes(buf)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		var column Column
		var columnType int
		if column.Name, buf, err = msgp.ReadStringBytes(buf); err != nil {
			return err
		}
		if columnType, buf, err = msgp.ReadIntBytes(buf); err != nil {
			return err
		}
		column.Type = ColumnType(columnType)
		table.index[column.Name] = len(table.columns)
		table.columns = append(table.columns, column)
	}
	return nil
}

func (table *StoredTable) flushHeader(op string) error {
	return errs.IO(op, table.store.PutRaw(table.headerKey(), table.encodeHeader()))
}

func (table *StoredTable) RowCount() int {
	return table.rowCount
}

func (table *StoredTable) BlockLength() int {
	return table.blockLength
}

func (table *StoredTable) SetRowCount(n int) error {
	if n < table.rowCount {
		return errs.Config("sat.SetRowCount", "cannot shrink table from %d to %d rows", table.rowCount, n)
	}
	table.rowCount = n
	return table.flushHeader("sat.SetRowCount")
}

func (table *StoredTable) Columns() []Column {
	return append([]Column(nil), table.columns...)
}

func (table *StoredTable) ColumnIndex(name string) (int, bool) {
	idx, ok := table.index[name]
	return idx, ok
}

func (table *StoredTable) FindOrCreateColumn(name string, columnType ColumnType) (int, error) {
	idx, found, err := checkNewColumn("sat.FindOrCreateColumn", table.columns, table.index, name, columnType)
	if err != nil || found {
		return idx, err
	}
	table.columns = append(table.columns, Column{Name: name, Type: columnType})
	table.index[name] = len(table.columns) - 1
	return len(table.columns) - 1, table.flushHeader("sat.FindOrCreateColumn")
}

func (table *StoredTable) check(ctx context.Context, op string, col int, want ColumnType, start, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkColumn(op, table.columns, col, want); err != nil {
		return err
	}
	return checkRange(op, table.rowCount, start, n)
}

// blockSpan calls fn for every block touched by rows [start, start+n) with
// the overlap expressed as offsets inside the block and inside the range.
func (table *StoredTable) blockSpan(start, n int, fn func(block, blockOffset, rangeOffset, length int) error) error {
	for row := start; row < start+n; {
		block := row / table.blockLength
		blockOffset := row - block*table.blockLength
		length := table.blockLength - blockOffset
		if row+length > start+n {
			length = start + n - row
		}
		if err := fn(block, blockOffset, row-start, length); err != nil {
			return err
		}
		row += length
	}
	return nil
}

// blockRows is the number of table rows a stored block of index block covers.
func (table *StoredTable) blockRows(block int) int {
	rows := table.rowCount - block*table.blockLength
	if rows > table.blockLength {
		rows = table.blockLength
	}
	return rows
}

func (table *StoredTable) ReadReals(ctx context.Context, col, start, n int) ([]float64, error) {
	const op = "sat.ReadReals"
	if err := table.check(ctx, op, col, Real, start, n); err != nil {
		return nil, err
	}
	values := make([]float64, n)
	err := table.blockSpan(start, n, func(block, blockOffset, rangeOffset, length int) error {
		stored, err := table.store.GetReals(table.blockKey(col, block))
		if err != nil {
			return errs.IO(op, err)
		}
		if blockOffset < len(stored) {
			copy(values[rangeOffset:rangeOffset+length], stored[blockOffset:])
		}
		return nil
	})
	return values, err
}

func (table *StoredTable) WriteReals(ctx context.Context, col, start int, values []float64) error {
	const op = "sat.WriteReals"
	if err := table.check(ctx, op, col, Real, start, len(values)); err != nil {
		return err
	}
	return table.blockSpan(start, len(values), func(block, blockOffset, rangeOffset, length int) error {
		key := table.blockKey(col, block)
		stored, err := table.store.GetReals(key)
		if err != nil {
			return errs.IO(op, err)
		}
		if rows := table.blockRows(block); len(stored) < rows {
			stored = append(stored, make([]float64, rows-len(stored))...)
		}
		copy(stored[blockOffset:], values[rangeOffset:rangeOffset+length])
		return errs.IO(op, table.store.PutReals(key, stored))
	})
}

func (table *StoredTable) ReadInts(ctx context.Context, col, start, n int) ([]int64, error) {
	const op = "sat.ReadInts"
	if err := table.check(ctx, op, col, Integer, start, n); err != nil {
		return nil, err
	}
	values := make([]int64, n)
	err := table.blockSpan(start, n, func(block, blockOffset, rangeOffset, length int) error {
		stored, err := table.store.GetInts(table.blockKey(col, block))
		if err != nil {
			return errs.IO(op, err)
		}
		if blockOffset < len(stored) {
			copy(values[rangeOffset:rangeOffset+length], stored[blockOffset:])
		}
		return nil
	})
	return values, err
}

func (table *StoredTable) WriteInts(ctx context.Context, col, start int, values []int64) error {
	const op = "sat.WriteInts"
	if err := table.check(ctx, op, col, Integer, start, len(values)); err != nil {
		return err
	}
	return table.blockSpan(start, len(values), func(block, blockOffset, rangeOffset, length int) error {
		key := table.blockKey(col, block)
		stored, err := table.store.GetInts(key)
		if err != nil {
			return errs.IO(op, err)
		}
		if rows := table.blockRows(block); len(stored) < rows {
			stored = append(stored, make([]int64, rows-len(stored))...)
		}
		copy(stored[blockOffset:], values[rangeOffset:rangeOffset+length])
		return errs.IO(op, table.store.PutInts(key, stored))
	})
}

func (table *StoredTable) ReadStrings(ctx context.Context, col, start, n int) ([]string, error) {
	const op = "sat.ReadStrings"
	if err := table.check(ctx, op, col, String, start, n); err != nil {
		return nil, err
	}
	values := make([]string, n)
	err := table.blockSpan(start, n, func(block, blockOffset, rangeOffset, length int) error {
		stored, err := table.store.GetStrings(table.blockKey(col, block))
		if err != nil {
			return errs.IO(op, err)
		}
		if blockOffset < len(stored) {
			copy(values[rangeOffset:rangeOffset+length], stored[blockOffset:])
		}
		return nil
	})
	return values, err
}

func (table *StoredTable) WriteStrings(ctx context.Context, col, start int, values []string) error {
	const op = "sat.WriteStrings"
	if err := table.check(ctx, op, col, String, start, len(values)); err != nil {
		return err
	}
	return table.blockSpan(start, len(values), func(block, blockOffset, rangeOffset, length int) error {
		key := table.blockKey(col, block)
		stored, err := table.store.GetStrings(key)
		if err != nil {
			return errs.IO(op, err)
		}
		if rows := table.blockRows(block); len(stored) < rows {
			stored = append(stored, make([]string, rows-len(stored))...)
		}
		copy(stored[blockOffset:], values[rangeOffset:rangeOffset+length])
		return errs.IO(op, table.store.PutStrings(key, stored))
	})
}
