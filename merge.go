package mosaic

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/airbusgeo/mosaic/internal/log"
	"github.com/sourcegraph/conc/stream"
	"go.uber.org/zap"
)

// State is a step of a merge run
type State int

const (
	Collecting State = iota
	Planning
	OpeningOutput
	Creating
	Reusing
	Initializing
	Copying
	Done
)

var stateNames = []string{"collecting", "planning", "opening-output", "creating", "reusing", "initializing", "copying", "done"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Config holds the parameters of a merge run
type Config struct {
	// Separate places each tile's bands into their own output bands
	Separate bool
	// NoData, if set, is the source value that never overwrites the output.
	// NaN matches NaN samples.
	NoData *float64
	// AssignedNoData, if set, is written as nodata on every output band
	AssignedNoData *float64
	// InitValues pre-fill the output bands before copying: band i gets
	// InitValues[i] when there are at least as many values as bands, a
	// single value is used for every band, otherwise nothing is filled.
	InitValues          []float64
	TargetAlignedPixels bool
	// CreateOnly stops after the output has been created and initialized
	CreateOnly bool
	// DataType overrides the output type. Unknown uses the first tile's type.
	DataType DataType
	// CreationOptions are passed through to the backend when creating the
	// output
	CreationOptions []string
	// CopyColorTable copies the first tile's color table onto band 1 of a
	// created output
	CopyColorTable bool
	// Workers bounds the number of sources opened concurrently
	Workers int
	// TargetPixelCount bounds the number of pixels copied at once from a
	// single band. 0 disables splitting.
	TargetPixelCount int
	// Verbose logs a report per tile at info level
	Verbose bool
	// Progress is called with the fraction of tiles processed, once per tile
	Progress func(float64)
}

// DefaultConfig returns a Config with one worker per CPU and 64 MPixel strips
func DefaultConfig() Config {
	return Config{
		Workers:          runtime.GOMAXPROCS(0),
		TargetPixelCount: 8192 * 8192,
	}
}

// Result describes what a merge run did
type Result struct {
	// State is the last state reached
	State State
	// Tiles are the usable inputs, in input order
	Tiles []Tile
	// Dropped are the inputs that could not be opened
	Dropped []string
	// Reused is set when an existing output was updated in place
	Reused bool
	Width  int
	Height int
	Bands  int
	// Copied and Skipped count tiles that did and did not intersect the output
	Copied  int
	Skipped int
}

type merger struct {
	cfg      Config
	opener   Opener
	logger   *zap.Logger
	res      Result
	stripper Stripper
}

func (m *merger) enter(s State) {
	m.res.State = s
	m.logger.Debug("merge state", zap.Stringer("state", s))
}

// Merge composites inputs, in order, into output. Later inputs overwrite
// earlier ones where they overlap. An existing output is updated in place,
// keeping its own geometry; otherwise it is created to cover the union of
// all inputs.
//
// Inputs that cannot be opened are dropped. ErrNoTiles is returned, without
// touching the output, when none remain.
func (cfg Config) Merge(ctx context.Context, opener Opener, inputs []string, output string) (Result, error) {
	m := &merger{cfg: cfg, opener: opener, logger: log.Logger(ctx)}
	var err error
	if m.stripper, err = NewStripper(TargetPixelCount(cfg.TargetPixelCount)); err != nil {
		return m.res, err
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	m.enter(Collecting)
	m.res.Tiles, m.res.Dropped, err = Collect(ctx, opener, inputs, workers)
	if err != nil {
		return m.res, err
	}
	if len(m.res.Tiles) == 0 {
		return m.res, fmt.Errorf("%w: %d inputs given", ErrNoTiles, len(inputs))
	}

	m.enter(Planning)
	opts := []PlanOption{OutputDataType(cfg.DataType)}
	if cfg.Separate {
		opts = append(opts, SeparateBands())
	}
	if cfg.TargetAlignedPixels {
		opts = append(opts, TargetAlignedPixels())
	}
	plan, err := NewPlan(m.res.Tiles, opts...)
	if err != nil {
		return m.res, err
	}

	m.enter(OpeningOutput)
	dst, err := m.openOutput(plan, output)
	if err != nil {
		return m.res, err
	}

	err = m.fill(ctx, dst)
	if cerr := dst.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close %s: %w", output, cerr)
	}
	if err != nil {
		return m.res, err
	}
	m.enter(Done)
	return m.res, nil
}

func (m *merger) openOutput(plan Plan, output string) (Dataset, error) {
	if dst, err := m.opener.OpenUpdate(output); err == nil {
		m.enter(Reusing)
		m.res.Reused = true
		m.res.Width, m.res.Height = dst.Size()
		m.res.Bands = dst.BandCount()
		return dst, nil
	}

	m.enter(Creating)
	dst, err := m.opener.Create(output, plan.Width, plan.Height, plan.Bands, plan.DataType, m.cfg.CreationOptions)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCreateOutput, output, err)
	}
	if err = m.setupOutput(plan, dst); err != nil {
		dst.Close()
		return nil, fmt.Errorf("%w %s: %v", ErrCreateOutput, output, err)
	}
	m.res.Width, m.res.Height, m.res.Bands = plan.Width, plan.Height, plan.Bands
	return dst, nil
}

func (m *merger) setupOutput(plan Plan, dst Dataset) error {
	if err := dst.SetGeoTransform(plan.GeoTransform); err != nil {
		return fmt.Errorf("set geotransform: %w", err)
	}
	if err := dst.SetProjection(plan.Projection); err != nil {
		return fmt.Errorf("set projection: %w", err)
	}
	if m.cfg.CopyColorTable && plan.ColorTable != nil {
		b, err := dst.Band(1)
		if err != nil {
			return err
		}
		if err = b.SetColorTable(plan.ColorTable.Clone()); err != nil {
			return fmt.Errorf("set color table: %w", err)
		}
	}
	return nil
}

func (m *merger) fill(ctx context.Context, dst Dataset) error {
	m.enter(Initializing)
	if err := m.initialize(dst); err != nil {
		return err
	}
	if m.cfg.CreateOnly {
		return nil
	}
	m.enter(Copying)
	return m.copyTiles(ctx, dst)
}

func (m *merger) initialize(dst Dataset) error {
	bands := dst.BandCount()
	values := m.cfg.InitValues
	for i := 1; i <= bands; i++ {
		b, err := dst.Band(i)
		if err != nil {
			return err
		}
		if nd := m.cfg.AssignedNoData; nd != nil {
			if err = b.SetNoData(*nd); err != nil {
				return fmt.Errorf("set nodata on band %d: %w", i, err)
			}
		}
		var v float64
		switch {
		case len(values) >= bands:
			v = values[i-1]
		case len(values) == 1:
			v = values[0]
		default:
			continue
		}
		if err = b.Fill(v); err != nil {
			return fmt.Errorf("fill band %d: %w", i, err)
		}
	}
	if len(values) > 1 && len(values) < bands {
		m.logger.Warn("ignoring init values", zap.Int("values", len(values)), zap.Int("bands", bands))
	}
	return nil
}

// bandPair maps a 1-based tile band onto a 1-based output band
type bandPair struct {
	src, dst int
}

type tileJob struct {
	index int
	tile  Tile
	cw    CopyWindow
	ok    bool
	pairs []bandPair
}

// jobs computes the copy windows and band mapping of every tile
func (m *merger) jobs(dst Dataset) ([]tileJob, error) {
	gt, err := dst.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("output geotransform: %w", err)
	}
	w, h := dst.Size()
	bands := dst.BandCount()
	jobs := make([]tileJob, len(m.res.Tiles))
	cursor := 1
	for i, t := range m.res.Tiles {
		j := tileJob{index: i, tile: t}
		j.cw, j.ok = ComputeCopyWindow(gt, w, h, t.GeoTransform, t.Width, t.Height)
		if m.cfg.Separate {
			for b := 1; b <= t.Bands; b++ {
				if cursor > bands {
					m.logger.Warn("no output band left", zap.String("tile", t.Name), zap.Int("band", b))
				} else {
					j.pairs = append(j.pairs, bandPair{src: b, dst: cursor})
				}
				cursor++
			}
		} else {
			for b := 1; b <= bands && b <= t.Bands; b++ {
				j.pairs = append(j.pairs, bandPair{src: b, dst: b})
			}
		}
		jobs[i] = j
	}
	return jobs, nil
}

func (m *merger) report(j tileJob, total int) {
	fields := append([]zap.Field{
		zap.Int("tile", j.index+1),
		zap.Int("of", total),
	}, j.tile.Fields()...)
	if j.ok {
		fields = append(fields, zap.Stringer("window", j.cw))
	}
	if m.cfg.Verbose {
		m.logger.Info("processing tile", fields...)
	} else {
		m.logger.Debug("processing tile", fields...)
	}
}

func (m *merger) progress(done, total int) {
	if m.cfg.Progress != nil {
		m.cfg.Progress(float64(done) / float64(total))
	}
}

func (m *merger) copyTiles(ctx context.Context, dst Dataset) error {
	jobs, err := m.jobs(dst)
	if err != nil {
		return err
	}
	if m.cfg.Workers <= 1 {
		for i, j := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.copyTile(j, dst); err != nil {
				return err
			}
			m.progress(i+1, len(jobs))
		}
		return nil
	}

	var (
		mu       sync.Mutex
		firstErr error
		done     int
	)
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}
	s := stream.New().WithMaxGoroutines(m.cfg.Workers)
	for _, j := range jobs {
		if ctx.Err() != nil || failed() {
			break
		}
		j := j
		s.Go(func() stream.Callback {
			var data *tileData
			var err error
			if !failed() {
				data, err = m.readTile(j)
			}
			return func() {
				if failed() {
					return
				}
				if err == nil {
					err = ctx.Err()
				}
				if err == nil {
					err = m.commitTile(j, data, dst)
				}
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					firstErr = err
					return
				}
				done++
				m.progress(done, len(jobs))
			}
		})
	}
	s.Wait()
	if firstErr != nil {
		return firstErr
	}
	if done < len(jobs) {
		return ctx.Err()
	}
	return nil
}

// tileData holds the source samples of a tile, per band pair then per strip
type tileData struct {
	strategies []Strategy
	strips     []CopyWindow
	data       [][]sourceData
}

// source opens the tile and selects the strategy of each band pair
func (m *merger) source(j tileJob) (Dataset, []Band, []Strategy, error) {
	src, err := m.opener.OpenRead(j.tile.Name)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w %s: %v", ErrSourceOpen, j.tile.Name, err)
	}
	bands := make([]Band, len(j.pairs))
	strategies := make([]Strategy, len(j.pairs))
	for p, pair := range j.pairs {
		if bands[p], err = src.Band(pair.src); err != nil {
			src.Close()
			return nil, nil, nil, fmt.Errorf("%s band %d: %w", j.tile.Name, pair.src, err)
		}
		if strategies[p], err = SelectStrategy(bands[p], m.cfg.NoData); err != nil {
			src.Close()
			return nil, nil, nil, fmt.Errorf("%s band %d: %w", j.tile.Name, pair.src, err)
		}
	}
	return src, bands, strategies, nil
}

// copyTile copies one tile strip by strip, holding a single strip in memory
func (m *merger) copyTile(j tileJob, dst Dataset) error {
	m.report(j, len(m.res.Tiles))
	if !j.ok || len(j.pairs) == 0 {
		m.res.Skipped++
		return nil
	}
	src, bands, strategies, err := m.source(j)
	if err != nil {
		return err
	}
	defer src.Close()
	strips := m.stripper.Split(j.cw)
	for p, pair := range j.pairs {
		db, err := dst.Band(pair.dst)
		if err != nil {
			return err
		}
		for _, strip := range strips {
			if err := strategies[p].Copy(bands[p], db, strip); err != nil {
				return fmt.Errorf("%s band %d: %w", j.tile.Name, pair.src, err)
			}
		}
	}
	m.res.Copied++
	return nil
}

// readTile reads all the source samples of a tile
func (m *merger) readTile(j tileJob) (*tileData, error) {
	if !j.ok || len(j.pairs) == 0 {
		return nil, nil
	}
	src, bands, strategies, err := m.source(j)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	td := &tileData{
		strategies: strategies,
		strips:     m.stripper.Split(j.cw),
		data:       make([][]sourceData, len(j.pairs)),
	}
	for p, pair := range j.pairs {
		td.data[p] = make([]sourceData, len(td.strips))
		for s, strip := range td.strips {
			if td.data[p][s], err = strategies[p].readSource(bands[p], strip); err != nil {
				return nil, fmt.Errorf("%s band %d: %w", j.tile.Name, pair.src, err)
			}
		}
	}
	return td, nil
}

// commitTile writes data read by readTile into dst
func (m *merger) commitTile(j tileJob, td *tileData, dst Dataset) error {
	m.report(j, len(m.res.Tiles))
	if td == nil {
		m.res.Skipped++
		return nil
	}
	for p, pair := range j.pairs {
		db, err := dst.Band(pair.dst)
		if err != nil {
			return err
		}
		for s, strip := range td.strips {
			if err := td.strategies[p].commit(td.data[p][s], db, strip); err != nil {
				return fmt.Errorf("%s band %d: %w", j.tile.Name, pair.src, err)
			}
		}
	}
	m.res.Copied++
	return nil
}
