package raster

import (
	"context"

	"segstats/errs"
	"segstats/sat"
)

// MemDataset keeps every band in memory.
type MemDataset struct {
	width, height int
	dataType      DataType
	opts          options
	pixels        [][]float64
	thematic      []bool
	tables        []sat.Table
}

func NewMemDataset(width, height, bands int, dataType DataType, opts ...Option) *MemDataset {
	ds := &MemDataset{
		width:    width,
		height:   height,
		dataType: dataType,
		opts:     applyOptions(opts),
		pixels:   make([][]float64, bands),
		thematic: make([]bool, bands),
		tables:   make([]sat.Table, bands),
	}
	for i := range ds.pixels {
		ds.pixels[i] = make([]float64, width*height)
	}
	return ds
}

// NewMemDatasetFromBands builds a dataset from row-major band values.
func NewMemDatasetFromBands(width, height int, dataType DataType, bands [][]float64, opts ...Option) (*MemDataset, error) {
	ds := NewMemDataset(width, height, len(bands), dataType, opts...)
	for i, values := range bands {
		if len(values) != width*height {
			return nil, errs.Config("raster.NewMemDatasetFromBands",
				"band %d has %d values, expected %d", i+1, len(values), width*height)
		}
		for j, v := range values {
			ds.pixels[i][j] = dataType.Coerce(v)
		}
	}
	return ds, nil
}

func (ds *MemDataset) Size() (int, int) {
	return ds.width, ds.height
}

func (ds *MemDataset) BandCount() int {
	return len(ds.pixels)
}

func (ds *MemDataset) DataType() DataType {
	return ds.dataType
}

func (ds *MemDataset) GeoTransform() GeoTransform {
	return ds.opts.geoTransform
}

func (ds *MemDataset) BlockHeight() int {
	return ds.opts.blockHeight
}

func (ds *MemDataset) ReadRows(ctx context.Context, band, yOff, nRows int, buf []float64) error {
	const op = "raster.ReadRows"
	if err := checkBand(op, band, len(ds.pixels)); err != nil {
		return err
	}
	if err := checkRows(op, ds.width, ds.height, yOff, nRows, buf); err != nil {
		return err
	}
	copy(buf, ds.pixels[band-1][yOff*ds.width:(yOff+nRows)*ds.width])
	return nil
}

func (ds *MemDataset) WriteRows(ctx context.Context, band, yOff, nRows int, buf []float64) error {
	const op = "raster.WriteRows"
	if err := checkBand(op, band, len(ds.pixels)); err != nil {
		return err
	}
	if err := checkRows(op, ds.width, ds.height, yOff, nRows, buf); err != nil {
		return err
	}
	dst := ds.pixels[band-1][yOff*ds.width : (yOff+nRows)*ds.width]
	for i := range dst {
		dst[i] = ds.dataType.Coerce(buf[i])
	}
	return nil
}

func (ds *MemDataset) SetThematic(band int, thematic bool) error {
	if err := checkBand("raster.SetThematic", band, len(ds.pixels)); err != nil {
		return err
	}
	ds.thematic[band-1] = thematic
	return nil
}

func (ds *MemDataset) Thematic(band int) bool {
	if band < 1 || band > len(ds.thematic) {
		return false
	}
	return ds.thematic[band-1]
}

func (ds *MemDataset) Table(ctx context.Context, band int) (sat.Table, error) {
	if err := checkBand("raster.Table", band, len(ds.pixels)); err != nil {
		return nil, err
	}
	if ds.tables[band-1] == nil {
		ds.tables[band-1] = sat.NewMemTable(ds.opts.tableOpts...)
	}
	return ds.tables[band-1], nil
}

func (ds *MemDataset) ResetTable(ctx context.Context, band int) (sat.Table, error) {
	if err := checkBand("raster.ResetTable", band, len(ds.pixels)); err != nil {
		return nil, err
	}
	ds.tables[band-1] = sat.NewMemTable(ds.opts.tableOpts...)
	return ds.tables[band-1], nil
}

// Pixels returns a copy of one band; meant for tests and small rasters.
func (ds *MemDataset) Pixels(band int) []float64 {
	return append([]float64(nil), ds.pixels[band-1]...)
}
