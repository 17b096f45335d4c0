package mosaic

import (
	"context"
	"errors"
	"fmt"

	"github.com/airbusgeo/mosaic/internal/log"
	"github.com/tbonfort/gobs"
	"go.uber.org/zap"
)

// A Tile is a metadata snapshot of one input raster. It holds no reference to
// the opened source once built.
type Tile struct {
	Name          string
	Width, Height int
	Bands         int
	DataType      DataType
	GeoTransform  GeoTransform
	Projection    string
	ColorTable    *ColorTable
}

// Extent returns the world rectangle covered by the tile
func (t Tile) Extent() Extent {
	return t.GeoTransform.Extent(t.Width, t.Height)
}

// PixelSize returns the tile's pixel width and signed pixel height
func (t Tile) PixelSize() (float64, float64) {
	return t.GeoTransform.PixelSize()
}

// Fields returns the zap fields describing t
func (t Tile) Fields() []zap.Field {
	e := t.Extent()
	return []zap.Field{
		zap.String("name", t.Name),
		zap.String("size", fmt.Sprintf("%dx%dx%d", t.Width, t.Height, t.Bands)),
		zap.String("pixel_size", fmt.Sprintf("%f x %f", t.GeoTransform[1], t.GeoTransform[5])),
		zap.String("extent", e.String()),
	}
}

// Describe opens name for reading and snapshots its metadata. Failing to
// open the source returns an error wrapping ErrSourceOpen, which callers are
// expected to treat as a tile to drop. An unusable geotransform wraps
// ErrUnsupportedGeometry.
func Describe(opener Opener, name string) (Tile, error) {
	ds, err := opener.OpenRead(name)
	if err != nil {
		return Tile{}, fmt.Errorf("%w %s: %v", ErrSourceOpen, name, err)
	}
	defer ds.Close()

	t := Tile{
		Name:       name,
		Bands:      ds.BandCount(),
		Projection: ds.Projection(),
	}
	t.Width, t.Height = ds.Size()
	if t.Width <= 0 || t.Height <= 0 || t.Bands <= 0 {
		return Tile{}, fmt.Errorf("%w %s: empty raster %dx%dx%d", ErrSourceOpen, name, t.Width, t.Height, t.Bands)
	}
	if t.GeoTransform, err = ds.GeoTransform(); err != nil {
		return Tile{}, fmt.Errorf("%w %s: geotransform: %v", ErrSourceOpen, name, err)
	}
	if err = t.GeoTransform.Validate(); err != nil {
		return Tile{}, fmt.Errorf("%s: %w", name, err)
	}
	b1, err := ds.Band(1)
	if err != nil {
		return Tile{}, fmt.Errorf("%w %s: band 1: %v", ErrSourceOpen, name, err)
	}
	t.DataType = b1.DataType()
	t.ColorTable = b1.ColorTable().Clone()
	return t, nil
}

// Collect describes names concurrently, with at most parallelism sources opened
// at once. The returned tiles keep the order of names; sources that cannot be
// opened are left out and reported in dropped. A non-nil error is only
// returned for failures that must abort the whole run.
func Collect(ctx context.Context, opener Opener, names []string, parallelism int) (tiles []Tile, dropped []string, err error) {
	if parallelism < 1 {
		parallelism = 1
	}
	results := make([]Tile, len(names))
	errs := make([]error, len(names))

	pool := gobs.NewPool(parallelism)
	batch := pool.Batch()
	for i := range names {
		i := i
		batch.Submit(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			results[i], errs[i] = Describe(opener, names[i])
			return nil
		})
	}
	if err := batch.Wait(); err != nil {
		return nil, nil, err
	}

	logger := log.Logger(ctx)
	for i := range names {
		switch {
		case errs[i] == nil:
			tiles = append(tiles, results[i])
		case errors.Is(errs[i], ErrSourceOpen):
			logger.Warn("dropping tile", zap.String("name", names[i]), zap.Error(errs[i]))
			dropped = append(dropped, names[i])
		default:
			return nil, nil, errs[i]
		}
	}
	return tiles, dropped, nil
}
