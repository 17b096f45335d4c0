// Package memraster is an in-memory raster backend. Samples are held as
// float64 and converted to the band's data type on write, with GDAL's
// clamping and rounding rules. Resampled reads use nearest neighbour.
package memraster

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/airbusgeo/mosaic"
)

// Registry maps names to datasets and implements mosaic.Opener
type Registry struct {
	mu       sync.Mutex
	datasets map[string]*Dataset
	// CreateErr, when set, is returned by Create
	CreateErr error
	// ReadOnly names cannot be opened for update
	ReadOnly map[string]bool
}

// New returns an empty registry
func New() *Registry {
	return &Registry{
		datasets: map[string]*Dataset{},
		ReadOnly: map[string]bool{},
	}
}

// Add registers ds under name, replacing any previous dataset
func (r *Registry) Add(name string, ds *Dataset) {
	r.mu.Lock()
	r.datasets[name] = ds
	r.mu.Unlock()
}

// Get returns the dataset registered under name, or nil
func (r *Registry) Get(name string) *Dataset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.datasets[name]
}

func (r *Registry) OpenRead(name string) (mosaic.Dataset, error) {
	if ds := r.Get(name); ds != nil {
		return ds, nil
	}
	return nil, fmt.Errorf("%s: no such dataset", name)
}

func (r *Registry) OpenUpdate(name string) (mosaic.Dataset, error) {
	r.mu.Lock()
	ro := r.ReadOnly[name]
	r.mu.Unlock()
	if ro {
		return nil, fmt.Errorf("%s: read-only", name)
	}
	return r.OpenRead(name)
}

func (r *Registry) Create(name string, width, height, bands int, dtype mosaic.DataType, options []string) (mosaic.Dataset, error) {
	if r.CreateErr != nil {
		return nil, r.CreateErr
	}
	if width <= 0 || height <= 0 || bands <= 0 {
		return nil, fmt.Errorf("invalid dataset shape %dx%dx%d", width, height, bands)
	}
	ds := NewDataset(width, height, bands, dtype)
	ds.Options = append([]string(nil), options...)
	r.Add(name, ds)
	return ds, nil
}

// Dataset is an in-memory raster
type Dataset struct {
	mu            sync.RWMutex
	width, height int
	bands         []*Band
	gt            mosaic.GeoTransform
	hasGT         bool
	projection    string
	closes        int32
	// Options holds the creation options the dataset was created with
	Options []string
}

// NewDataset allocates a zero-filled dataset
func NewDataset(width, height, bands int, dtype mosaic.DataType) *Dataset {
	ds := &Dataset{width: width, height: height}
	for i := 0; i < bands; i++ {
		ds.bands = append(ds.bands, &Band{
			ds:    ds,
			dtype: dtype,
			data:  make([]float64, width*height),
		})
	}
	return ds
}

func (ds *Dataset) Size() (int, int) {
	return ds.width, ds.height
}

func (ds *Dataset) BandCount() int {
	return len(ds.bands)
}

func (ds *Dataset) Band(n int) (mosaic.Band, error) {
	if n < 1 || n > len(ds.bands) {
		return nil, fmt.Errorf("band %d out of range 1-%d", n, len(ds.bands))
	}
	return ds.bands[n-1], nil
}

// RasterBand returns the concrete band n, 1-based
func (ds *Dataset) RasterBand(n int) *Band {
	return ds.bands[n-1]
}

// GeoTransform returns GDAL's default transform when none was set
func (ds *Dataset) GeoTransform() (mosaic.GeoTransform, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if !ds.hasGT {
		return mosaic.GeoTransform{0, 1, 0, 0, 0, 1}, nil
	}
	return ds.gt, nil
}

func (ds *Dataset) SetGeoTransform(gt mosaic.GeoTransform) error {
	ds.mu.Lock()
	ds.gt, ds.hasGT = gt, true
	ds.mu.Unlock()
	return nil
}

func (ds *Dataset) Projection() string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.projection
}

func (ds *Dataset) SetProjection(wkt string) error {
	ds.mu.Lock()
	ds.projection = wkt
	ds.mu.Unlock()
	return nil
}

// Close only counts calls, data stays available through the registry
func (ds *Dataset) Close() error {
	atomic.AddInt32(&ds.closes, 1)
	return nil
}

// Closes returns the number of times Close was called
func (ds *Dataset) Closes() int {
	return int(atomic.LoadInt32(&ds.closes))
}

// Band is an in-memory raster band
type Band struct {
	ds        *Dataset
	dtype     mosaic.DataType
	data      []float64
	nodata    float64
	hasNoData bool
	mask      []float64
	interp    mosaic.ColorInterp
	ct        *mosaic.ColorTable
	writes    int
}

func (b *Band) DataType() mosaic.DataType {
	return b.dtype
}

func (b *Band) checkWindow(win mosaic.Window) error {
	if win.XOff < 0 || win.YOff < 0 || win.XSize < 1 || win.YSize < 1 ||
		win.XOff+win.XSize > b.ds.width || win.YOff+win.YSize > b.ds.height {
		return fmt.Errorf("window %s outside of %dx%d raster", win, b.ds.width, b.ds.height)
	}
	return nil
}

// sample reads win resampled to bufWidth*bufHeight with nearest neighbour,
// fetching values through at
func (b *Band) sample(win mosaic.Window, bufWidth, bufHeight int, at func(idx int) float64) ([]float64, error) {
	if err := b.checkWindow(win); err != nil {
		return nil, err
	}
	if bufWidth < 1 || bufHeight < 1 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", bufWidth, bufHeight)
	}
	b.ds.mu.RLock()
	defer b.ds.mu.RUnlock()
	buf := make([]float64, bufWidth*bufHeight)
	xratio := float64(win.XSize) / float64(bufWidth)
	yratio := float64(win.YSize) / float64(bufHeight)
	for j := 0; j < bufHeight; j++ {
		sy := win.YOff + int((float64(j)+0.5)*yratio)
		for i := 0; i < bufWidth; i++ {
			sx := win.XOff + int((float64(i)+0.5)*xratio)
			buf[j*bufWidth+i] = at(sy*b.ds.width + sx)
		}
	}
	return buf, nil
}

func (b *Band) Read(win mosaic.Window, bufWidth, bufHeight int) ([]float64, error) {
	return b.sample(win, bufWidth, bufHeight, func(idx int) float64 { return b.data[idx] })
}

func (b *Band) Write(win mosaic.Window, buf []float64) error {
	if err := b.checkWindow(win); err != nil {
		return err
	}
	if len(buf) != win.Pixels() {
		return fmt.Errorf("buffer holds %d samples, window %s needs %d", len(buf), win, win.Pixels())
	}
	b.ds.mu.Lock()
	defer b.ds.mu.Unlock()
	for j := 0; j < win.YSize; j++ {
		row := (win.YOff+j)*b.ds.width + win.XOff
		for i := 0; i < win.XSize; i++ {
			b.data[row+i] = Convert(b.dtype, buf[j*win.XSize+i])
		}
	}
	b.writes++
	return nil
}

// Writes returns the number of successful Write calls
func (b *Band) Writes() int {
	b.ds.mu.RLock()
	defer b.ds.mu.RUnlock()
	return b.writes
}

func (b *Band) MaskFlags() mosaic.MaskFlags {
	switch {
	case b.mask != nil:
		return mosaic.MaskPerDataset
	case b.hasNoData:
		return mosaic.MaskNoData
	}
	return mosaic.MaskAllValid
}

// MaskBand returns a read-only Byte band holding 0 for invalid pixels and 255
// for valid ones
func (b *Band) MaskBand() (mosaic.Band, error) {
	return &maskBand{parent: b}, nil
}

func (b *Band) ColorInterp() mosaic.ColorInterp {
	return b.interp
}

// SetColorInterp changes the color interpretation of b
func (b *Band) SetColorInterp(ci mosaic.ColorInterp) {
	b.interp = ci
}

// SetMask attaches an explicit validity mask, 0 meaning invalid
func (b *Band) SetMask(mask []float64) {
	b.mask = append([]float64(nil), mask...)
}

func (b *Band) NoData() (float64, bool) {
	return b.nodata, b.hasNoData
}

func (b *Band) SetNoData(nodata float64) error {
	b.nodata, b.hasNoData = nodata, true
	return nil
}

func (b *Band) Fill(value float64) error {
	b.ds.mu.Lock()
	defer b.ds.mu.Unlock()
	v := Convert(b.dtype, value)
	for i := range b.data {
		b.data[i] = v
	}
	return nil
}

// ColorTable returns the band's own table, not a copy
func (b *Band) ColorTable() *mosaic.ColorTable {
	return b.ct
}

func (b *Band) SetColorTable(ct *mosaic.ColorTable) error {
	b.ct = ct
	return nil
}

// SetData replaces all samples of b, converting them to b's data type
func (b *Band) SetData(data []float64) error {
	if len(data) != len(b.data) {
		return fmt.Errorf("got %d samples, need %d", len(data), len(b.data))
	}
	b.ds.mu.Lock()
	defer b.ds.mu.Unlock()
	for i, v := range data {
		b.data[i] = Convert(b.dtype, v)
	}
	return nil
}

// Data returns a copy of all samples of b
func (b *Band) Data() []float64 {
	b.ds.mu.RLock()
	defer b.ds.mu.RUnlock()
	return append([]float64(nil), b.data...)
}

// At returns the sample at column x, row y
func (b *Band) At(x, y int) float64 {
	b.ds.mu.RLock()
	defer b.ds.mu.RUnlock()
	return b.data[y*b.ds.width+x]
}

type maskBand struct {
	parent *Band
}

func (m *maskBand) valid(idx int) float64 {
	p := m.parent
	switch {
	case p.mask != nil:
		if p.mask[idx] == 0 {
			return 0
		}
	case p.hasNoData:
		v := p.data[idx]
		if v == p.nodata || (math.IsNaN(p.nodata) && math.IsNaN(v)) {
			return 0
		}
	}
	return 255
}

func (m *maskBand) DataType() mosaic.DataType { return mosaic.Byte }

func (m *maskBand) Read(win mosaic.Window, bufWidth, bufHeight int) ([]float64, error) {
	return m.parent.sample(win, bufWidth, bufHeight, m.valid)
}

func (m *maskBand) Write(mosaic.Window, []float64) error {
	return fmt.Errorf("mask band is read-only")
}

func (m *maskBand) MaskFlags() mosaic.MaskFlags            { return mosaic.MaskAllValid }
func (m *maskBand) MaskBand() (mosaic.Band, error)         { return m, nil }
func (m *maskBand) ColorInterp() mosaic.ColorInterp        { return mosaic.ColorUndefined }
func (m *maskBand) NoData() (float64, bool)                { return 0, false }
func (m *maskBand) SetNoData(float64) error                { return fmt.Errorf("mask band is read-only") }
func (m *maskBand) Fill(float64) error                     { return fmt.Errorf("mask band is read-only") }
func (m *maskBand) ColorTable() *mosaic.ColorTable         { return nil }
func (m *maskBand) SetColorTable(*mosaic.ColorTable) error { return fmt.Errorf("mask band is read-only") }

// Convert returns v as stored in a band of type dt: integers are rounded and
// clamped to their range, NaN becoming 0
func Convert(dt mosaic.DataType, v float64) float64 {
	switch dt {
	case mosaic.Byte:
		return clampRound(v, 0, math.MaxUint8)
	case mosaic.UInt16:
		return clampRound(v, 0, math.MaxUint16)
	case mosaic.Int16:
		return clampRound(v, math.MinInt16, math.MaxInt16)
	case mosaic.UInt32:
		return clampRound(v, 0, math.MaxUint32)
	case mosaic.Int32:
		return clampRound(v, math.MinInt32, math.MaxInt32)
	case mosaic.Float32:
		return float64(float32(v))
	}
	return v
}

func clampRound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, math.Round(v)))
}
