// Package gdalraster implements the mosaic raster backend on top of GDAL,
// through godal.
//
// godal datasets are not safe for concurrent use: each handle returned by the
// Opener must only be used by one goroutine at a time.
package gdalraster

import (
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/mosaic"
)

// Opener opens and creates datasets with GDAL. Driver is the driver used by
// Create, GTiff when empty.
type Opener struct {
	Driver godal.DriverName
}

func (o Opener) OpenRead(name string) (mosaic.Dataset, error) {
	ds, err := godal.Open(name, godal.RasterOnly())
	if err != nil {
		return nil, err
	}
	return &Dataset{ds: ds}, nil
}

func (o Opener) OpenUpdate(name string) (mosaic.Dataset, error) {
	ds, err := godal.Open(name, godal.RasterOnly(), godal.Update())
	if err != nil {
		return nil, err
	}
	return &Dataset{ds: ds}, nil
}

func (o Opener) Create(name string, width, height, bands int, dtype mosaic.DataType, options []string) (mosaic.Dataset, error) {
	gdt, err := toGodal(dtype)
	if err != nil {
		return nil, err
	}
	drv := o.Driver
	if drv == "" {
		drv = godal.GTiff
	}
	ds, err := godal.Create(drv, name, bands, gdt, width, height, godal.CreationOption(options...))
	if err != nil {
		return nil, err
	}
	return &Dataset{ds: ds}, nil
}

// Dataset wraps a godal dataset
type Dataset struct {
	ds *godal.Dataset
}

func (d *Dataset) Size() (int, int) {
	st := d.ds.Structure()
	return st.SizeX, st.SizeY
}

func (d *Dataset) BandCount() int {
	return d.ds.Structure().NBands
}

func (d *Dataset) Band(n int) (mosaic.Band, error) {
	bands := d.ds.Bands()
	if n < 1 || n > len(bands) {
		return nil, fmt.Errorf("band %d out of range 1-%d", n, len(bands))
	}
	return Band{b: bands[n-1]}, nil
}

func (d *Dataset) GeoTransform() (mosaic.GeoTransform, error) {
	gt, err := d.ds.GeoTransform()
	if err != nil {
		return mosaic.GeoTransform{}, err
	}
	return mosaic.GeoTransform(gt), nil
}

func (d *Dataset) SetGeoTransform(gt mosaic.GeoTransform) error {
	return d.ds.SetGeoTransform([6]float64(gt))
}

func (d *Dataset) Projection() string {
	return d.ds.Projection()
}

func (d *Dataset) SetProjection(wkt string) error {
	if wkt == "" {
		return nil
	}
	return d.ds.SetProjection(wkt)
}

func (d *Dataset) Close() error {
	return d.ds.Close()
}

// Band wraps a godal band. Samples are exchanged as float64, GDAL converting
// them from and to the band's type.
type Band struct {
	b godal.Band
}

func (b Band) DataType() mosaic.DataType {
	return fromGodal(b.b.Structure().DataType)
}

func (b Band) Read(win mosaic.Window, bufWidth, bufHeight int) ([]float64, error) {
	buf := make([]float64, bufWidth*bufHeight)
	if err := b.b.Read(win.XOff, win.YOff, buf, bufWidth, bufHeight,
		godal.Window(win.XSize, win.YSize)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b Band) Write(win mosaic.Window, buf []float64) error {
	if len(buf) != win.Pixels() {
		return fmt.Errorf("buffer holds %d samples, window %s needs %d", len(buf), win, win.Pixels())
	}
	return b.b.Write(win.XOff, win.YOff, buf, win.XSize, win.YSize)
}

func (b Band) MaskFlags() mosaic.MaskFlags {
	return mosaic.MaskFlags(b.b.MaskFlags())
}

func (b Band) MaskBand() (mosaic.Band, error) {
	return Band{b: b.b.MaskBand()}, nil
}

func (b Band) ColorInterp() mosaic.ColorInterp {
	switch b.b.ColorInterp() {
	case godal.CIGray:
		return mosaic.ColorGray
	case godal.CIPalette:
		return mosaic.ColorPalette
	case godal.CIRed:
		return mosaic.ColorRed
	case godal.CIGreen:
		return mosaic.ColorGreen
	case godal.CIBlue:
		return mosaic.ColorBlue
	case godal.CIAlpha:
		return mosaic.ColorAlpha
	}
	return mosaic.ColorUndefined
}

func (b Band) NoData() (float64, bool) {
	return b.b.NoData()
}

func (b Band) SetNoData(nodata float64) error {
	return b.b.SetNoData(nodata)
}

func (b Band) Fill(value float64) error {
	return b.b.Fill(value, 0)
}

func (b Band) ColorTable() *mosaic.ColorTable {
	ct := b.b.ColorTable()
	if len(ct.Entries) == 0 {
		return nil
	}
	return &mosaic.ColorTable{Interp: int(ct.PaletteInterp), Entries: ct.Entries}
}

func (b Band) SetColorTable(ct *mosaic.ColorTable) error {
	if ct == nil {
		return nil
	}
	return b.b.SetColorTable(godal.ColorTable{
		PaletteInterp: godal.PaletteInterp(ct.Interp),
		Entries:       ct.Entries,
	})
}

var dataTypes = map[mosaic.DataType]godal.DataType{
	mosaic.Byte:    godal.Byte,
	mosaic.UInt16:  godal.UInt16,
	mosaic.Int16:   godal.Int16,
	mosaic.UInt32:  godal.UInt32,
	mosaic.Int32:   godal.Int32,
	mosaic.Float32: godal.Float32,
	mosaic.Float64: godal.Float64,
}

func toGodal(dt mosaic.DataType) (godal.DataType, error) {
	gdt, ok := dataTypes[dt]
	if !ok {
		return godal.Unknown, fmt.Errorf("unsupported data type %s", dt)
	}
	return gdt, nil
}

func fromGodal(gdt godal.DataType) mosaic.DataType {
	for dt, g := range dataTypes {
		if g == gdt {
			return dt
		}
	}
	return mosaic.Unknown
}

// TranslateCOG converts the dataset src into a Cloud Optimized GeoTIFF at dst
func TranslateCOG(src, dst string, options []string) error {
	ds, err := godal.Open(src, godal.RasterOnly())
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer ds.Close()
	cog, err := ds.Translate(dst, []string{"-of", "COG"}, godal.CreationOption(options...))
	if err != nil {
		return fmt.Errorf("translate %s: %w", dst, err)
	}
	if err = cog.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
