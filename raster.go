package mosaic

import (
	"fmt"
	"strings"
)

// DataType is the sample type of a raster band
type DataType int

const (
	Unknown DataType = iota
	Byte
	UInt16
	Int16
	UInt32
	Int32
	Float32
	Float64
)

var dataTypeNames = []string{"Unknown", "Byte", "UInt16", "Int16", "UInt32", "Int32", "Float32", "Float64"}

func (dt DataType) String() string {
	if dt < 0 || int(dt) >= len(dataTypeNames) {
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
	return dataTypeNames[dt]
}

// Size returns the size in bytes of a single sample
func (dt DataType) Size() int {
	switch dt {
	case Byte:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// Sample returns v as it reads back from a band of type dt. Values an
// integer type cannot hold are returned unchanged, as no sample of that type
// can equal them.
func (dt DataType) Sample(v float64) float64 {
	if dt == Float32 {
		return float64(float32(v))
	}
	return v
}

// ParseDataType maps a GDAL style type name (case insensitive) to a DataType
func ParseDataType(name string) (DataType, error) {
	for i, n := range dataTypeNames[1:] {
		if strings.EqualFold(n, name) {
			return DataType(i + 1), nil
		}
	}
	return Unknown, fmt.Errorf("unknown data type %q", name)
}

// MaskFlags follow GDAL's GMF_* bitfield semantics
type MaskFlags int

const (
	MaskAllValid   MaskFlags = 0x01
	MaskPerDataset MaskFlags = 0x02
	MaskAlpha      MaskFlags = 0x04
	MaskNoData     MaskFlags = 0x08
)

// ColorInterp is the color interpretation of a band. Only the values the
// compositing engine cares about are named.
type ColorInterp int

const (
	ColorUndefined ColorInterp = iota
	ColorGray
	ColorPalette
	ColorRed
	ColorGreen
	ColorBlue
	ColorAlpha
)

// ColorTable is an opaque palette snapshot
type ColorTable struct {
	Interp  int
	Entries [][4]int16
}

// Clone returns a deep copy of ct. A nil table clones to nil.
func (ct *ColorTable) Clone() *ColorTable {
	if ct == nil {
		return nil
	}
	c := &ColorTable{Interp: ct.Interp, Entries: make([][4]int16, len(ct.Entries))}
	copy(c.Entries, ct.Entries)
	return c
}

// Window is a rectangle of pixels
type Window struct {
	XOff, YOff   int
	XSize, YSize int
}

func (w Window) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", w.XOff, w.YOff, w.XSize, w.YSize)
}

// Pixels returns the number of pixels covered by w
func (w Window) Pixels() int {
	return w.XSize * w.YSize
}

// Band is a single raster band. Band numbers are 1-based.
type Band interface {
	DataType() DataType
	// Read returns the samples of win resampled to bufWidth*bufHeight,
	// row-major.
	Read(win Window, bufWidth, bufHeight int) ([]float64, error)
	// Write stores buf, which must hold win.XSize*win.YSize samples.
	Write(win Window, buf []float64) error
	MaskFlags() MaskFlags
	MaskBand() (Band, error)
	ColorInterp() ColorInterp
	NoData() (float64, bool)
	SetNoData(nodata float64) error
	Fill(value float64) error
	ColorTable() *ColorTable
	SetColorTable(ct *ColorTable) error
}

// Dataset is an opened raster
type Dataset interface {
	Size() (width, height int)
	BandCount() int
	Band(n int) (Band, error)
	GeoTransform() (GeoTransform, error)
	SetGeoTransform(gt GeoTransform) error
	Projection() string
	SetProjection(wkt string) error
	Close() error
}

// Opener gives access to a raster backend. Format and driver selection are
// the Opener's concern.
type Opener interface {
	OpenRead(name string) (Dataset, error)
	OpenUpdate(name string) (Dataset, error)
	Create(name string, width, height, bands int, dtype DataType, options []string) (Dataset, error)
}
