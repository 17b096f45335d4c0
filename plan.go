package mosaic

import (
	"fmt"
	"math"
)

// BandLayout tells how tile bands map onto output bands
type BandLayout int

const (
	// Stacked composites band b of every tile into output band b
	Stacked BandLayout = iota
	// Separate appends the bands of each tile into their own output bands
	Separate
)

func (l BandLayout) String() string {
	if l == Separate {
		return "separate"
	}
	return "stacked"
}

// A Plan is the output raster's shape, computed once from the full tile list
type Plan struct {
	GeoTransform  GeoTransform
	Width, Height int
	Bands         int
	Layout        BandLayout
	DataType      DataType
	Projection    string
	ColorTable    *ColorTable
}

// Extent returns the world rectangle covered by the plan
func (p Plan) Extent() Extent {
	return p.GeoTransform.Extent(p.Width, p.Height)
}

type planner struct {
	layout  BandLayout
	aligned bool
	dtype   DataType
}

type PlanOption func(p *planner) error

// SeparateBands places each tile's bands into distinct output bands
func SeparateBands() PlanOption {
	return func(p *planner) error {
		p.layout = Separate
		return nil
	}
}

// TargetAlignedPixels snaps the output extent outwards onto multiples of the
// pixel size
func TargetAlignedPixels() PlanOption {
	return func(p *planner) error {
		p.aligned = true
		return nil
	}
}

// OutputDataType overrides the output sample type, which otherwise is the
// type of the first tile. Unknown keeps the default.
func OutputDataType(dt DataType) PlanOption {
	return func(p *planner) error {
		if dt < Unknown || dt > Float64 {
			return ErrInvalidOption{fmt.Sprintf("invalid data type %d", int(dt))}
		}
		p.dtype = dt
		return nil
	}
}

// NewPlan computes the output raster covering the union of tiles, at the
// resolution of the first tile
func NewPlan(tiles []Tile, options ...PlanOption) (Plan, error) {
	p := planner{}
	for _, o := range options {
		if err := o(&p); err != nil {
			return Plan{}, err
		}
	}
	if len(tiles) == 0 {
		return Plan{}, ErrNoTiles
	}
	first := tiles[0]
	ext := first.Extent()
	for _, t := range tiles[1:] {
		ext = ext.Union(t.Extent())
	}
	psx, psy := first.PixelSize()
	if p.aligned {
		ext = AlignExtent(ext, psx, psy)
	}

	plan := Plan{
		GeoTransform: GeoTransform{ext.ULX, psx, 0, ext.ULY, 0, psy},
		Width:        int((ext.LRX-ext.ULX)/psx + sizeBias),
		Height:       int((ext.LRY-ext.ULY)/psy + sizeBias),
		Layout:       p.layout,
		DataType:     first.DataType,
		Projection:   first.Projection,
		ColorTable:   first.ColorTable,
	}
	if p.dtype != Unknown {
		plan.DataType = p.dtype
	}
	switch p.layout {
	case Separate:
		for _, t := range tiles {
			plan.Bands += t.Bands
		}
	default:
		plan.Bands = first.Bands
	}
	if plan.Width < 1 || plan.Height < 1 {
		return Plan{}, fmt.Errorf("%w: empty output %dx%d", ErrUnsupportedGeometry, plan.Width, plan.Height)
	}
	return plan, nil
}

// gridTolerance is the fraction of a pixel under which a coordinate is
// considered to already lie on the grid
const gridTolerance = 1e-9

func snapDown(v, step float64) float64 {
	q := v / step
	if r := math.Round(q); math.Abs(q-r) < gridTolerance {
		return r * step
	}
	return math.Floor(q) * step
}

func snapUp(v, step float64) float64 {
	q := v / step
	if r := math.Round(q); math.Abs(q-r) < gridTolerance {
		return r * step
	}
	return math.Ceil(q) * step
}

// AlignExtent grows e outwards so that its corners are multiples of the pixel
// size. psy is the signed pixel height. Aligning an aligned extent is a no-op.
func AlignExtent(e Extent, psx, psy float64) Extent {
	stepY := -psy
	return Extent{
		ULX: snapDown(e.ULX, psx),
		LRX: snapUp(e.LRX, psx),
		ULY: snapUp(e.ULY, stepY),
		LRY: snapDown(e.LRY, stepY),
	}
}
