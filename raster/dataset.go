package raster

import (
	"context"
	"fmt"
	"math"

	"segstats/errs"
	"segstats/sat"
)

type DataType int

const (
	Byte DataType = iota
	UInt16
	UInt32
	Int32
	Float32
	Float64
)

func (dataType DataType) String() string {
	switch dataType {
	case Byte:
		return "Byte"
	case UInt16:
		return "UInt16"
	case UInt32:
		return "UInt32"
	case Int32:
		return "Int32"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	}
	return fmt.Sprintf("DataType(%d)", int(dataType))
}

func (dataType DataType) IsInteger() bool {
	return dataType <= Int32
}

func (dataType DataType) bounds() (float64, float64) {
	switch dataType {
	case Byte:
		return 0, math.MaxUint8
	case UInt16:
		return 0, math.MaxUint16
	case UInt32:
		return 0, math.MaxUint32
	case Int32:
		return math.MinInt32, math.MaxInt32
	}
	return math.Inf(-1), math.Inf(1)
}

// Coerce converts v to the value a band of this type would store: integer
// types round to nearest and saturate, with NaN stored as 0.
func (dataType DataType) Coerce(v float64) float64 {
	switch {
	case dataType == Float32:
		return float64(float32(v))
	case dataType == Float64:
		return v
	case math.IsNaN(v):
		return 0
	}
	lo, hi := dataType.bounds()
	return math.Max(lo, math.Min(hi, math.Round(v)))
}

// GeoTransform maps pixel to world coordinates:
//
//	X = gt[0] + x*gt[1] + y*gt[2]
//	Y = gt[3] + x*gt[4] + y*gt[5]
type GeoTransform [6]float64

var DefaultGeoTransform = GeoTransform{0, 1, 0, 0, 0, -1}

func (gt GeoTransform) Resolution() (float64, float64) {
	return gt[1], gt[5]
}

// PixelExtent returns the world envelope of pixel (x, y).
func (gt GeoTransform) PixelExtent(x, y int) Extent {
	fx, fy := float64(x), float64(y)
	x0 := gt[0] + fx*gt[1] + fy*gt[2]
	y0 := gt[3] + fx*gt[4] + fy*gt[5]
	x1 := gt[0] + (fx+1)*gt[1] + (fy+1)*gt[2]
	y1 := gt[3] + (fx+1)*gt[4] + (fy+1)*gt[5]
	return Extent{
		MinX: math.Min(x0, x1),
		MaxX: math.Max(x0, x1),
		MinY: math.Min(y0, y1),
		MaxY: math.Max(y0, y1),
	}
}

type Extent struct {
	MinX, MaxX, MinY, MaxY float64
}

func (extent *Extent) Union(other Extent) {
	extent.MinX = math.Min(extent.MinX, other.MinX)
	extent.MaxX = math.Max(extent.MaxX, other.MaxX)
	extent.MinY = math.Min(extent.MinY, other.MinY)
	extent.MaxY = math.Max(extent.MaxY, other.MaxY)
}

// Dataset is a band-interleaved raster with one attribute table per band.
// Bands are 1-based. Pixel I/O moves whole rows of one band as float64.
type Dataset interface {
	Size() (int, int)
	BandCount() int
	DataType() DataType
	GeoTransform() GeoTransform
	// BlockHeight is the number of rows the storage reads or writes at once.
	BlockHeight() int

	ReadRows(ctx context.Context, band, yOff, nRows int, buf []float64) error
	WriteRows(ctx context.Context, band, yOff, nRows int, buf []float64) error

	SetThematic(band int, thematic bool) error
	Thematic(band int) bool

	Table(ctx context.Context, band int) (sat.Table, error)
	// ResetTable discards the band's table and returns an empty one.
	ResetTable(ctx context.Context, band int) (sat.Table, error)
}

type options struct {
	blockHeight  int
	geoTransform GeoTransform
	tableOpts    []sat.Option
}

type Option func(*options)

func WithBlockHeight(rows int) Option {
	return func(o *options) {
		if rows > 0 {
			o.blockHeight = rows
		}
	}
}

func WithGeoTransform(gt GeoTransform) Option {
	return func(o *options) {
		o.geoTransform = gt
	}
}

func WithTableOptions(opts ...sat.Option) Option {
	return func(o *options) {
		o.tableOpts = append(o.tableOpts, opts...)
	}
}

const DefaultBlockHeight = 256

func applyOptions(opts []Option) options {
	o := options{blockHeight: DefaultBlockHeight, geoTransform: DefaultGeoTransform}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func checkBand(op string, band, bands int) error {
	if band < 1 || band > bands {
		return errs.Config(op, "band %d out of range [1,%d]", band, bands)
	}
	return nil
}

func checkRows(op string, width, height, yOff, nRows int, buf []float64) error {
	if yOff < 0 || nRows < 0 || yOff+nRows > height {
		return errs.Config(op, "rows [%d,%d) outside raster of %d rows", yOff, yOff+nRows, height)
	}
	if len(buf) < nRows*width {
		return errs.Config(op, "buffer of %d values too small for %d rows of %d", len(buf), nRows, width)
	}
	return nil
}

// CheckAligned fails with a GeometryError unless every dataset has the size
// and geotransform of the first.
func CheckAligned(op string, datasets ...Dataset) error {
	if len(datasets) == 0 {
		return errs.Config(op, "no datasets")
	}
	width, height := datasets[0].Size()
	gt := datasets[0].GeoTransform()
	for i, ds := range datasets[1:] {
		w, h := ds.Size()
		if w != width || h != height {
			return errs.Geometry(op, "dataset %d is %dx%d, expected %dx%d", i+1, w, h, width, height)
		}
		other := ds.GeoTransform()
		for j := range gt {
			if !closeTo(gt[j], other[j]) {
				return errs.Geometry(op, "dataset %d geotransform %v differs from %v", i+1, other, gt)
			}
		}
	}
	return nil
}

func closeTo(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= 1e-9*scale
}

// SegmentID returns the segment held by a segmentation pixel value, false
// for the background and for non-finite values.
func SegmentID(v float64) (int, bool) {
	if !(v >= 1) || math.IsInf(v, 1) {
		return 0, false
	}
	return int(v), true
}
