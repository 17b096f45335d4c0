package mosaic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTile(name string, ulx, uly float64, w, h int, ps float64, bands int) Tile {
	return Tile{
		Name:         name,
		Width:        w,
		Height:       h,
		Bands:        bands,
		DataType:     Byte,
		GeoTransform: GeoTransform{ulx, ps, 0, uly, 0, -ps},
		Projection:   "LOCAL_CS[\"test\"]",
	}
}

func TestPlanUnionExtent(t *testing.T) {
	tiles := []Tile{
		testTile("a", 0, 10, 10, 10, 1, 1),
		testTile("b", 5, 10, 15, 15, 1, 1),
	}
	plan, err := NewPlan(tiles)
	require.NoError(t, err)
	assert.Equal(t, Extent{ULX: 0, ULY: 10, LRX: 20, LRY: -5}, plan.Extent())
	assert.Equal(t, 20, plan.Width)
	assert.Equal(t, 15, plan.Height)
	assert.Equal(t, GeoTransform{0, 1, 0, 10, 0, -1}, plan.GeoTransform)
	assert.Equal(t, Stacked, plan.Layout)
	assert.Equal(t, 1, plan.Bands)
	assert.Equal(t, Byte, plan.DataType)
	assert.Equal(t, "LOCAL_CS[\"test\"]", plan.Projection)
}

func TestPlanFirstTileResolution(t *testing.T) {
	tiles := []Tile{
		testTile("a", 0, 10, 5, 5, 2, 1),
		testTile("b", 0, 10, 10, 10, 1, 1),
	}
	plan, err := NewPlan(tiles)
	require.NoError(t, err)
	w, h := plan.GeoTransform.PixelSize()
	assert.Equal(t, 2.0, w)
	assert.Equal(t, -2.0, h)
	assert.Equal(t, 5, plan.Width)
	assert.Equal(t, 5, plan.Height)
}

func TestPlanSizeRounding(t *testing.T) {
	tiles := []Tile{
		testTile("a", 0, 10, 10, 10, 1, 1),
		// half a pixel further on x, a little less than half on y
		testTile("b", 0.5, 9.6, 10, 10, 1, 1),
	}
	plan, err := NewPlan(tiles)
	require.NoError(t, err)
	assert.Equal(t, 11, plan.Width)
	assert.Equal(t, 10, plan.Height)
}

func TestPlanBandLayout(t *testing.T) {
	tiles := []Tile{
		testTile("a", 0, 10, 10, 10, 1, 3),
		testTile("b", 10, 10, 10, 10, 1, 1),
		testTile("c", 20, 10, 10, 10, 1, 2),
	}
	plan, err := NewPlan(tiles)
	require.NoError(t, err)
	assert.Equal(t, 3, plan.Bands)

	plan, err = NewPlan(tiles, SeparateBands())
	require.NoError(t, err)
	assert.Equal(t, Separate, plan.Layout)
	assert.Equal(t, 6, plan.Bands)
}

func TestPlanDataType(t *testing.T) {
	tiles := []Tile{testTile("a", 0, 10, 10, 10, 1, 1)}
	tiles[0].DataType = Int16

	plan, err := NewPlan(tiles)
	require.NoError(t, err)
	assert.Equal(t, Int16, plan.DataType)

	plan, err = NewPlan(tiles, OutputDataType(Float32))
	require.NoError(t, err)
	assert.Equal(t, Float32, plan.DataType)

	plan, err = NewPlan(tiles, OutputDataType(Unknown))
	require.NoError(t, err)
	assert.Equal(t, Int16, plan.DataType)

	_, err = NewPlan(tiles, OutputDataType(DataType(42)))
	var ierr ErrInvalidOption
	assert.True(t, errors.As(err, &ierr))
}

func TestPlanEmpty(t *testing.T) {
	_, err := NewPlan(nil)
	assert.True(t, errors.Is(err, ErrNoTiles))
}

func TestPlanColorTableFromFirstTile(t *testing.T) {
	ct := &ColorTable{Entries: [][4]int16{{0, 0, 0, 255}, {255, 0, 0, 255}}}
	tiles := []Tile{testTile("a", 0, 10, 10, 10, 1, 1), testTile("b", 0, 10, 10, 10, 1, 1)}
	tiles[0].ColorTable = ct
	plan, err := NewPlan(tiles)
	require.NoError(t, err)
	assert.Equal(t, ct, plan.ColorTable)
}

func TestPlanTargetAlignedPixels(t *testing.T) {
	tiles := []Tile{
		testTile("a", 0.3, 10.5, 10, 10, 1, 1),
		testTile("b", 9.2, 5.3, 10, 10, 1, 1),
	}
	plan, err := NewPlan(tiles, TargetAlignedPixels())
	require.NoError(t, err)
	assert.Equal(t, Extent{ULX: 0, ULY: 11, LRX: 20, LRY: -5}, plan.Extent())
	assert.Equal(t, 20, plan.Width)
	assert.Equal(t, 16, plan.Height)
}

func TestAlignIdempotent(t *testing.T) {
	cases := []struct {
		e        Extent
		psx, psy float64
	}{
		{Extent{ULX: 0.3, ULY: 10.5, LRX: 19.2, LRY: -4.7}, 1, -1},
		{Extent{ULX: 0.31, ULY: 0.97, LRX: 2.03, LRY: 0.12}, 0.1, -0.1},
		{Extent{ULX: -123.456, ULY: 45.678, LRX: -120.001, LRY: 40.5}, 0.0003, -0.0003},
		{Extent{ULX: 100, ULY: 0, LRX: 200, LRY: 50}, 10, 10},
	}
	for _, c := range cases {
		once := AlignExtent(c.e, c.psx, c.psy)
		twice := AlignExtent(once, c.psx, c.psy)
		assert.Equal(t, once, twice)
		assert.LessOrEqual(t, once.ULX, c.e.ULX)
		assert.GreaterOrEqual(t, once.LRX, c.e.LRX)
	}

	tiles := []Tile{
		testTile("a", 0.31, 0.97, 10, 7, 0.1, 1),
		testTile("b", 0.77, 0.55, 12, 4, 0.1, 1),
	}
	p1, err := NewPlan(tiles, TargetAlignedPixels())
	require.NoError(t, err)
	aligned := Tile{Name: "p1", Width: p1.Width, Height: p1.Height, Bands: 1, DataType: Byte, GeoTransform: p1.GeoTransform}
	p2, err := NewPlan([]Tile{aligned}, TargetAlignedPixels())
	require.NoError(t, err)
	assert.Equal(t, p1.GeoTransform, p2.GeoTransform)
	assert.Equal(t, p1.Width, p2.Width)
	assert.Equal(t, p1.Height, p2.Height)
}

func TestAlignSouthUp(t *testing.T) {
	e := AlignExtent(Extent{ULX: 0.5, ULY: 0.5, LRX: 9.5, LRY: 9.5}, 1, 1)
	assert.Equal(t, Extent{ULX: 0, ULY: 0, LRX: 10, LRY: 10}, e)
}
