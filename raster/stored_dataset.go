package raster

import (
	"context"

	"github.com/tinylib/msgp/msgp"

	"segstats/errs"
	"segstats/sat"
	"segstats/storage"
)

// Layout describes a raster to be created.
type Layout struct {
	Width, Height int
	Bands         int
	DataType      DataType
}

// StoredDataset keeps pixel blocks of BlockHeight rows and the band tables
// in a BackingStore under its dataset ID.
type StoredDataset struct {
	store    *storage.BackingStore
	id       int64
	layout   Layout
	opts     options
	thematic []bool
	tables   map[int]*sat.StoredTable
}

// CreateStoredDataset writes the header of a new dataset. Pixels read as 0
// until written.
func CreateStoredDataset(store *storage.BackingStore, id int64, layout Layout, opts ...Option) (*StoredDataset, error) {
	const op = "raster.CreateStoredDataset"
	if layout.Width <= 0 || layout.Height <= 0 || layout.Bands <= 0 {
		return nil, errs.Config(op, "invalid layout %dx%d with %d bands", layout.Width, layout.Height, layout.Bands)
	}
	ds := &StoredDataset{
		store:    store,
		id:       id,
		layout:   layout,
		opts:     applyOptions(opts),
		thematic: make([]bool, layout.Bands),
		tables:   make(map[int]*sat.StoredTable),
	}
	if err := ds.flushHeader(op); err != nil {
		return nil, err
	}
	return ds, nil
}

func OpenStoredDataset(store *storage.BackingStore, id int64, opts ...Option) (*StoredDataset, error) {
	const op = "raster.OpenStoredDataset"
	buf, err := store.GetRaw(headerKey(id))
	if err != nil {
		return nil, errs.IO(op, err)
	}
	ds := &StoredDataset{
		store:  store,
		id:     id,
		opts:   applyOptions(opts),
		tables: make(map[int]*sat.StoredTable),
	}
	if err := ds.decodeHeader(buf); err != nil {
		return nil, errs.IO(op, err)
	}
	return ds, nil
}

// DropStoredDataset deletes every key of a dataset.
func DropStoredDataset(store *storage.BackingStore, id int64) error {
	return errs.IO("raster.DropStoredDataset", store.DeletePrefix(storage.GetDatasetPrefix(id)))
}

func headerKey(id int64) []byte {
	return storage.GetKey(id, storage.KindDatasetMeta, 0, 0, 0)
}

func (ds *StoredDataset) ID() int64 {
	return ds.id
}

func (ds *StoredDataset) encodeHeader() []byte {
	buf := msgp.AppendInt(nil, ds.layout.Width)
	buf = msgp.AppendInt(buf, ds.layout.Height)
	buf = msgp.AppendInt(buf, ds.layout.Bands)
	buf = msgp.AppendInt(buf, int(ds.layout.DataType))
	buf = msgp.AppendInt(buf, ds.opts.blockHeight)
	for _, v := range ds.opts.geoTransform {
		buf = msgp.AppendFloat64(buf, v)
	}
	buf = msgp.AppendArrayHeader(buf, uint32(len(ds.thematic)))
	for _, thematic := range ds.thematic {
		buf = msgp.AppendBool(buf, thematic)
	}
	return buf
}

func (ds *StoredDataset) decodeHeader(buf []byte) error {
	var err error
	var dataType int
	fields := []*int{&ds.layout.Width, &ds.layout.Height, &ds.layout.Bands, &dataType, &ds.opts.blockHeight}
	for _, field := range fields {
		if *field, buf, err = msgp.ReadIntBytes(buf); err != nil {
			return err
		}
	}
	ds.layout.DataType = DataType(dataType)
	for i := range ds.opts.geoTransform {
		if ds.opts.geoTransform[i], buf, err = msgp.ReadFloat64Bytes(buf); err != nil {
			return err
		}
	}
	n, buf, err := msgp.ReadArrayHeaderBytes(buf)
	if err != nil {
		return err
	}
	ds.thematic = make([]bool, n)
	for i := range ds.thematic {
		if ds.thematic[i], buf, err = msgp.ReadBoolBytes(buf); err != nil {
			return err
		}
	}
	return nil
}

func (ds *StoredDataset) flushHeader(op string) error {
	return errs.IO(op, ds.store.PutRaw(headerKey(ds.id), ds.encodeHeader()))
}

func (ds *StoredDataset) Size() (int, int) {
	return ds.layout.Width, ds.layout.Height
}

func (ds *StoredDataset) BandCount() int {
	return ds.layout.Bands
}

func (ds *StoredDataset) DataType() DataType {
	return ds.layout.DataType
}

func (ds *StoredDataset) GeoTransform() GeoTransform {
	return ds.opts.geoTransform
}

func (ds *StoredDataset) BlockHeight() int {
	return ds.opts.blockHeight
}

func (ds *StoredDataset) blockKey(band, block int) []byte {
	return storage.GetKey(ds.id, storage.KindPixels, int32(band), 0, int64(block))
}

func (ds *StoredDataset) readBlock(band, block int) ([]float64, error) {
	key := ds.blockKey(band, block)
	if !ds.layout.DataType.IsInteger() {
		return ds.store.GetReals(key)
	}
	ints, err := ds.store.GetInts(key)
	if err != nil || ints == nil {
		return nil, err
	}
	values := make([]float64, len(ints))
	for i, v := range ints {
		values[i] = float64(v)
	}
	return values, nil
}

func (ds *StoredDataset) writeBlock(band, block int, values []float64) error {
	key := ds.blockKey(band, block)
	if !ds.layout.DataType.IsInteger() {
		return ds.store.PutReals(key, values)
	}
	ints := make([]int64, len(values))
	for i, v := range values {
		ints[i] = int64(v)
	}
	return ds.store.PutInts(key, ints)
}

// blockValues is the number of pixels held by a full block.
func (ds *StoredDataset) blockValues(block int) int {
	rows := ds.layout.Height - block*ds.opts.blockHeight
	if rows > ds.opts.blockHeight {
		rows = ds.opts.blockHeight
	}
	return rows * ds.layout.Width
}

func (ds *StoredDataset) ReadRows(ctx context.Context, band, yOff, nRows int, buf []float64) error {
	const op = "raster.ReadRows"
	if err := checkBand(op, band, ds.layout.Bands); err != nil {
		return err
	}
	if err := checkRows(op, ds.layout.Width, ds.layout.Height, yOff, nRows, buf); err != nil {
		return err
	}
	width, blockHeight := ds.layout.Width, ds.opts.blockHeight
	for row := yOff; row < yOff+nRows; {
		block := row / blockHeight
		blockRow := row - block*blockHeight
		rows := blockHeight - blockRow
		if row+rows > yOff+nRows {
			rows = yOff + nRows - row
		}
		values, err := ds.readBlock(band, block)
		if err != nil {
			return errs.IO(op, err)
		}
		dst := buf[(row-yOff)*width : (row-yOff+rows)*width]
		for i := range dst {
			dst[i] = 0
		}
		if start := blockRow * width; start < len(values) {
			copy(dst, values[start:])
		}
		row += rows
	}
	return nil
}

func (ds *StoredDataset) WriteRows(ctx context.Context, band, yOff, nRows int, buf []float64) error {
	const op = "raster.WriteRows"
	if err := checkBand(op, band, ds.layout.Bands); err != nil {
		return err
	}
	if err := checkRows(op, ds.layout.Width, ds.layout.Height, yOff, nRows, buf); err != nil {
		return err
	}
	width, blockHeight := ds.layout.Width, ds.opts.blockHeight
	for row := yOff; row < yOff+nRows; {
		block := row / blockHeight
		blockRow := row - block*blockHeight
		rows := blockHeight - blockRow
		if row+rows > yOff+nRows {
			rows = yOff + nRows - row
		}

		var values []float64
		if blockRow != 0 || rows*width != ds.blockValues(block) {
			var err error
			if values, err = ds.readBlock(band, block); err != nil {
				return errs.IO(op, err)
			}
		}
		if n := ds.blockValues(block); len(values) < n {
			values = append(values, make([]float64, n-len(values))...)
		}
		src := buf[(row-yOff)*width : (row-yOff+rows)*width]
		dst := values[blockRow*width:]
		for i, v := range src {
			dst[i] = ds.layout.DataType.Coerce(v)
		}
		if err := ds.writeBlock(band, block, values); err != nil {
			return errs.IO(op, err)
		}
		row += rows
	}
	return nil
}

func (ds *StoredDataset) SetThematic(band int, thematic bool) error {
	const op = "raster.SetThematic"
	if err := checkBand(op, band, ds.layout.Bands); err != nil {
		return err
	}
	ds.thematic[band-1] = thematic
	return ds.flushHeader(op)
}

func (ds *StoredDataset) Thematic(band int) bool {
	if band < 1 || band > len(ds.thematic) {
		return false
	}
	return ds.thematic[band-1]
}

func (ds *StoredDataset) Table(ctx context.Context, band int) (sat.Table, error) {
	if err := checkBand("raster.Table", band, ds.layout.Bands); err != nil {
		return nil, err
	}
	if table, ok := ds.tables[band]; ok {
		return table, nil
	}
	table, err := sat.OpenStoredTable(ds.store, ds.id, band, ds.opts.tableOpts...)
	if err != nil {
		return nil, err
	}
	ds.tables[band] = table
	return table, nil
}

func (ds *StoredDataset) ResetTable(ctx context.Context, band int) (sat.Table, error) {
	if err := checkBand("raster.ResetTable", band, ds.layout.Bands); err != nil {
		return nil, err
	}
	if err := sat.DropStoredTable(ds.store, ds.id, band); err != nil {
		return nil, err
	}
	delete(ds.tables, band)
	return ds.Table(ctx, band)
}
