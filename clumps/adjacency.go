package clumps

import (
	"context"

	"github.com/rs/zerolog"

	"segstats/errs"
	"segstats/kernel"
	"segstats/raster"
)

// MaxNeighbours bounds an AdjacencySet: one neighbour per cardinal direction.
const MaxNeighbours = 4

// AdjacencySet holds the distinct neighbour IDs of a segment in the order
// they were found.
type AdjacencySet []int

func (set AdjacencySet) Contains(id int) bool {
	for _, n := range set {
		if n == id {
			return true
		}
	}
	return false
}

// Add appends id unless it is present or the set is full.
func (set *AdjacencySet) Add(id int) bool {
	if len(*set) >= MaxNeighbours || set.Contains(id) {
		return false
	}
	*set = append(*set, id)
	return true
}

func (set *AdjacencySet) Remove(id int) {
	for i, n := range *set {
		if n == id {
			*set = append((*set)[:i], (*set)[i+1:]...)
			return
		}
	}
}

// Replace substitutes to for from, dropping from if to is already present or
// is self.
func (set *AdjacencySet) Replace(from, to, self int) {
	for i, n := range *set {
		if n != from {
			continue
		}
		if to == self || set.Contains(to) {
			set.Remove(from)
		} else {
			(*set)[i] = to
		}
		return
	}
}

// cardinal offsets in the order neighbours are recorded.
var cardinal = [4]struct {
	dx, dy     int
	horizontal bool
}{
	{0, -1, false},
	{-1, 0, true},
	{1, 0, true},
	{0, 1, false},
}

// Engine computes neighbourhood relations between the segments of a
// segmentation raster.
type Engine struct {
	logger zerolog.Logger
	kernel *kernel.Kernel
}

type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithKernel sets the kernel the engine derives its sweeps from; the edge
// policy is chosen per operation.
func WithKernel(k *kernel.Kernel) Option {
	return func(engine *Engine) {
		engine.kernel = k
	}
}

func NewEngine(opts ...Option) *Engine {
	engine := &Engine{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(engine)
	}
	if engine.kernel == nil {
		engine.kernel = kernel.New(kernel.WithLogger(engine.logger))
	}
	return engine
}

func checkBand(op string, seg raster.Dataset, band int) error {
	if seg == nil {
		return errs.Config(op, "no segmentation dataset")
	}
	if band < 1 || band > seg.BandCount() {
		return errs.Config(op, "segmentation band %d out of range [1,%d]", band, seg.BandCount())
	}
	return nil
}

// grow extends sets so that id is a valid index.
func grow[T any](values []T, id int) []T {
	if id < len(values) {
		return values
	}
	return append(values, make([]T, id+1-len(values))...)
}

// Adjacency returns, per segment ID, the distinct IDs of segments that touch
// it through a cardinal neighbour. Pixels on the raster edge are not
// visited, and a set stops growing at MaxNeighbours. The relation is not
// symmetrised; see Symmetrise.
func (engine *Engine) Adjacency(ctx context.Context, seg raster.Dataset, band int) ([]AdjacencySet, error) {
	const op = "clumps.Adjacency"
	if err := checkBand(op, seg, band); err != nil {
		return nil, err
	}
	b := band - 1
	sets := []AdjacencySet{nil}
	calc := kernel.WindowFunc(func(win *kernel.Window) error {
		id, ok := raster.SegmentID(win.Center(b))
		if !ok {
			return nil
		}
		sets = grow(sets, id)
		for _, dir := range cardinal {
			n, ok := raster.SegmentID(win.At(b, dir.dx, dir.dy))
			if ok && n != id {
				sets[id].Add(n)
			}
		}
		return nil
	})
	k := engine.kernel.With(kernel.WithEdgePolicy(kernel.EdgeSkip))
	if err := k.CalcWindows(ctx, calc, 1, seg); err != nil {
		return nil, err
	}
	engine.logger.Debug().Str("op", op).Int("rows", len(sets)).Msg("built adjacency")
	return sets, nil
}

// Symmetrise adds i to the set of every neighbour of i, bounded by
// MaxNeighbours. Sets grow to cover every referenced ID.
func Symmetrise(sets []AdjacencySet) []AdjacencySet {
	for i := range sets {
		for _, n := range sets[i] {
			sets = grow(sets, n)
			sets[n].Add(i)
		}
	}
	return sets
}
