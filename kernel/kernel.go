package kernel

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"segstats/errs"
	"segstats/raster"
)

type EdgePolicy int

const (
	// EdgeSkip does not visit pixels whose window would leave the raster.
	EdgeSkip EdgePolicy = iota
	// EdgeReplicate clamps out-of-raster window coordinates to the edge.
	EdgeReplicate
)

// ProgressFunc is called after every row block.
type ProgressFunc func(doneRows, totalRows int)

type Kernel struct {
	logger       zerolog.Logger
	metrics      *Metrics
	maxBlockRows int
	edgePolicy   EdgePolicy
	progress     ProgressFunc
}

type Option func(*Kernel)

func WithLogger(logger zerolog.Logger) Option {
	return func(k *Kernel) {
		k.logger = logger
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(k *Kernel) {
		k.metrics = metrics
	}
}

// WithMaxBlockRows caps the number of rows read per block. 0 means no cap.
func WithMaxBlockRows(rows int) Option {
	return func(k *Kernel) {
		k.maxBlockRows = rows
	}
}

func WithEdgePolicy(policy EdgePolicy) Option {
	return func(k *Kernel) {
		k.edgePolicy = policy
	}
}

func WithProgress(progress ProgressFunc) Option {
	return func(k *Kernel) {
		k.progress = progress
	}
}

func New(opts ...Option) *Kernel {
	k := &Kernel{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// With returns a copy of the kernel with opts applied.
func (k *Kernel) With(opts ...Option) *Kernel {
	clone := *k
	for _, opt := range opts {
		opt(&clone)
	}
	return &clone
}

// BlockHeight is the row count the kernel reads per block for the given
// datasets: their smallest natural block height, capped by MaxBlockRows and
// the raster height.
func (k *Kernel) BlockHeight(datasets ...raster.Dataset) int {
	height := 0
	for _, ds := range datasets {
		if bh := ds.BlockHeight(); height == 0 || bh < height {
			height = bh
		}
	}
	if k.maxBlockRows > 0 && height > k.maxBlockRows {
		height = k.maxBlockRows
	}
	if len(datasets) > 0 {
		if _, rows := datasets[0].Size(); height > rows {
			height = rows
		}
	}
	if height < 1 {
		height = 1
	}
	return height
}

// sweep holds the row buffers of one kernel invocation.
type sweep struct {
	kernel      *Kernel
	mode        Mode
	datasets    []raster.Dataset
	width       int
	height      int
	blockHeight int
	// bufs has one row buffer per input band, in dataset then band order.
	bufs [][]float64
	// bufStart is the first raster row held in bufs.
	bufStart int
}

func (k *Kernel) newSweep(op string, mode Mode, datasets []raster.Dataset, extra ...raster.Dataset) (*sweep, error) {
	if len(datasets) == 0 {
		return nil, errs.Config(op, "no input datasets")
	}
	if err := raster.CheckAligned(op, append(append([]raster.Dataset(nil), datasets...), extra...)...); err != nil {
		return nil, err
	}
	width, height := datasets[0].Size()
	s := &sweep{
		kernel:      k,
		mode:        mode,
		datasets:    datasets,
		width:       width,
		height:      height,
		blockHeight: k.BlockHeight(append(append([]raster.Dataset(nil), datasets...), extra...)...),
	}
	for _, ds := range datasets {
		for b := 0; b < ds.BandCount(); b++ {
			s.bufs = append(s.bufs, nil)
		}
	}
	k.logger.Debug().
		Str("op", op).
		Stringer("mode", mode).
		Int("width", width).
		Int("height", height).
		Int("bands", len(s.bufs)).
		Int("blockHeight", s.blockHeight).
		Msg("starting sweep")
	return s, nil
}

func (s *sweep) bands() int {
	return len(s.bufs)
}

// read loads rows [start, start+rows) of every input band.
func (s *sweep) read(ctx context.Context, start, rows int) error {
	n := rows * s.width
	i := 0
	for _, ds := range s.datasets {
		for band := 1; band <= ds.BandCount(); band++ {
			if cap(s.bufs[i]) < n {
				s.bufs[i] = make([]float64, n)
			}
			s.bufs[i] = s.bufs[i][:n]
			if err := ds.ReadRows(ctx, band, start, rows, s.bufs[i]); err != nil {
				return errs.IO("kernel.read", err)
			}
			i++
		}
	}
	s.bufStart = start
	return nil
}

// gather copies the band values of pixel (x, y) into values.
func (s *sweep) gather(x, y int, values []float64) {
	offset := (y-s.bufStart)*s.width + x
	for b, buf := range s.bufs {
		values[b] = buf[offset]
	}
}

// run walks the raster block by block, calling visit for each block after
// the context check.
func (s *sweep) run(ctx context.Context, visit func(y0, rows int) error) error {
	for y0 := 0; y0 < s.height; y0 += s.blockHeight {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows := s.blockHeight
		if y0+rows > s.height {
			rows = s.height - y0
		}
		start := time.Now()
		if err := visit(y0, rows); err != nil {
			return err
		}
		s.kernel.metrics.observe(s.mode, rows*s.width, time.Since(start))
		if s.kernel.progress != nil {
			s.kernel.progress(y0+rows, s.height)
		}
	}
	return nil
}

// CalcPixels calls calc.CalcPixel for every pixel, row-major.
func (k *Kernel) CalcPixels(ctx context.Context, calc Calculator, datasets ...raster.Dataset) error {
	s, err := k.newSweep("kernel.CalcPixels", ModePixel, datasets)
	if err != nil {
		return err
	}
	values := make([]float64, s.bands())
	return s.run(ctx, func(y0, rows int) error {
		if err := s.read(ctx, y0, rows); err != nil {
			return err
		}
		for y := y0; y < y0+rows; y++ {
			for x := 0; x < s.width; x++ {
				s.gather(x, y, values)
				if err := calc.CalcPixel(values); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CalcExtents calls calc.CalcExtent for every pixel with its world extent.
func (k *Kernel) CalcExtents(ctx context.Context, calc Calculator, datasets ...raster.Dataset) error {
	s, err := k.newSweep("kernel.CalcExtents", ModeExtent, datasets)
	if err != nil {
		return err
	}
	gt := datasets[0].GeoTransform()
	values := make([]float64, s.bands())
	return s.run(ctx, func(y0, rows int) error {
		if err := s.read(ctx, y0, rows); err != nil {
			return err
		}
		for y := y0; y < y0+rows; y++ {
			for x := 0; x < s.width; x++ {
				s.gather(x, y, values)
				if err := calc.CalcExtent(values, gt.PixelExtent(x, y)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CalcWindows calls calc.CalcWindow for the (2*radius+1)^2 neighbourhood of
// every pixel the edge policy admits.
func (k *Kernel) CalcWindows(ctx context.Context, calc Calculator, radius int, datasets ...raster.Dataset) error {
	const op = "kernel.CalcWindows"
	if radius < 0 {
		return errs.Config(op, "negative window radius %d", radius)
	}
	s, err := k.newSweep(op, ModeWindow, datasets)
	if err != nil {
		return err
	}
	win := newWindow(radius, s.bands())
	return s.run(ctx, func(y0, rows int) error {
		lo := max(0, y0-radius)
		hi := min(s.height, y0+rows+radius)
		if err := s.read(ctx, lo, hi-lo); err != nil {
			return err
		}
		for y := y0; y < y0+rows; y++ {
			for x := 0; x < s.width; x++ {
				if k.edgePolicy == EdgeSkip &&
					(y-radius < 0 || y+radius >= s.height || x-radius < 0 || x+radius >= s.width) {
					continue
				}
				win.X, win.Y = x, y
				for dy := -radius; dy <= radius; dy++ {
					yy := min(max(y+dy, 0), s.height-1)
					row := (yy - s.bufStart) * s.width
					for dx := -radius; dx <= radius; dx++ {
						xx := min(max(x+dx, 0), s.width-1)
						for b, buf := range s.bufs {
							win.set(b, dx, dy, buf[row+xx])
						}
					}
				}
				if err := calc.CalcWindow(win); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CalcOutput calls calc.CalcOutput for every pixel and writes the results to
// out, one value per output band. out may be one of the inputs: every block
// is read before it is written.
func (k *Kernel) CalcOutput(ctx context.Context, calc Calculator, out raster.Dataset, datasets ...raster.Dataset) error {
	const op = "kernel.CalcOutput"
	if out == nil {
		return errs.Config(op, "no output dataset")
	}
	s, err := k.newSweep(op, ModeOutput, datasets, out)
	if err != nil {
		return err
	}
	outBands := out.BandCount()
	outBufs := make([][]float64, outBands)
	values := make([]float64, s.bands())
	output := make([]float64, outBands)
	return s.run(ctx, func(y0, rows int) error {
		if err := s.read(ctx, y0, rows); err != nil {
			return err
		}
		n := rows * s.width
		for b := range outBufs {
			if cap(outBufs[b]) < n {
				outBufs[b] = make([]float64, n)
			}
			outBufs[b] = outBufs[b][:n]
		}
		for y := y0; y < y0+rows; y++ {
			for x := 0; x < s.width; x++ {
				s.gather(x, y, values)
				for b := range output {
					output[b] = 0
				}
				if err := calc.CalcOutput(values, output); err != nil {
					return err
				}
				offset := (y-y0)*s.width + x
				for b, v := range output {
					outBufs[b][offset] = v
				}
			}
		}
		for b, buf := range outBufs {
			if err := out.WriteRows(ctx, b+1, y0, rows, buf); err != nil {
				return errs.IO(op, err)
			}
		}
		return nil
	})
}
