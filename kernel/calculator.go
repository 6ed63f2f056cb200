package kernel

import (
	"fmt"

	"segstats/errs"
	"segstats/raster"
)

type Mode int

const (
	ModePixel Mode = iota
	ModeWindow
	ModeExtent
	ModeOutput
)

func (mode Mode) String() string {
	switch mode {
	case ModePixel:
		return "pixel"
	case ModeWindow:
		return "window"
	case ModeExtent:
		return "extent"
	case ModeOutput:
		return "output"
	}
	return fmt.Sprintf("mode(%d)", int(mode))
}

// Calculator receives pixels from a sweep. The values slice holds every band
// of every input dataset, in dataset then band order, and is reused between
// calls.
type Calculator interface {
	CalcPixel(values []float64) error
	CalcWindow(win *Window) error
	CalcExtent(values []float64, extent raster.Extent) error
	// CalcOutput fills output, one value per band of the output dataset;
	// output is zeroed before every call.
	CalcOutput(values []float64, output []float64) error
}

// Unimplemented fails every mode. Embed it and override the modes a
// calculator supports.
type Unimplemented struct{}

func notImplemented(mode Mode) error {
	return fmt.Errorf("%v: %w", mode, errs.ErrModeNotImplemented)
}

func (Unimplemented) CalcPixel([]float64) error { return notImplemented(ModePixel) }

func (Unimplemented) CalcWindow(*Window) error { return notImplemented(ModeWindow) }

func (Unimplemented) CalcExtent([]float64, raster.Extent) error { return notImplemented(ModeExtent) }

func (Unimplemented) CalcOutput([]float64, []float64) error { return notImplemented(ModeOutput) }

type PixelFunc func(values []float64) error

func (f PixelFunc) CalcPixel(values []float64) error { return f(values) }

func (f PixelFunc) CalcWindow(*Window) error { return notImplemented(ModeWindow) }

func (f PixelFunc) CalcExtent([]float64, raster.Extent) error { return notImplemented(ModeExtent) }

func (f PixelFunc) CalcOutput([]float64, []float64) error { return notImplemented(ModeOutput) }

type WindowFunc func(win *Window) error

func (f WindowFunc) CalcPixel([]float64) error { return notImplemented(ModePixel) }

func (f WindowFunc) CalcWindow(win *Window) error { return f(win) }

func (f WindowFunc) CalcExtent([]float64, raster.Extent) error { return notImplemented(ModeExtent) }

func (f WindowFunc) CalcOutput([]float64, []float64) error { return notImplemented(ModeOutput) }

type ExtentFunc func(values []float64, extent raster.Extent) error

func (f ExtentFunc) CalcPixel([]float64) error { return notImplemented(ModePixel) }

func (f ExtentFunc) CalcWindow(*Window) error { return notImplemented(ModeWindow) }

func (f ExtentFunc) CalcExtent(values []float64, extent raster.Extent) error {
	return f(values, extent)
}

func (f ExtentFunc) CalcOutput([]float64, []float64) error { return notImplemented(ModeOutput) }

type OutputFunc func(values []float64, output []float64) error

func (f OutputFunc) CalcPixel([]float64) error { return notImplemented(ModePixel) }

func (f OutputFunc) CalcWindow(*Window) error { return notImplemented(ModeWindow) }

func (f OutputFunc) CalcExtent([]float64, raster.Extent) error { return notImplemented(ModeExtent) }

func (f OutputFunc) CalcOutput(values []float64, output []float64) error { return f(values, output) }

// Window is the (2r+1)x(2r+1) neighbourhood of one pixel across every input
// band.
type Window struct {
	Radius int
	X, Y   int
	bands  int
	size   int
	values []float64
}

func newWindow(radius, bands int) *Window {
	size := 2*radius + 1
	return &Window{
		Radius: radius,
		bands:  bands,
		size:   size,
		values: make([]float64, bands*size*size),
	}
}

func (win *Window) Bands() int {
	return win.bands
}

// At returns the value of band b (0-based) at offset (dx, dy) from the
// centre, with |dx|, |dy| <= Radius.
func (win *Window) At(b, dx, dy int) float64 {
	return win.values[b*win.size*win.size+(dy+win.Radius)*win.size+dx+win.Radius]
}

func (win *Window) Center(b int) float64 {
	return win.At(b, 0, 0)
}

func (win *Window) set(b, dx, dy int, v float64) {
	win.values[b*win.size*win.size+(dy+win.Radius)*win.size+dx+win.Radius] = v
}
