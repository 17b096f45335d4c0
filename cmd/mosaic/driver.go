package main

import (
	"fmt"
	"path"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/mosaic/internal/log"
	"go.uber.org/zap"
)

// extensionDrivers lists the drivers able to create a raster with a given
// extension, preferred first
var extensionDrivers = map[string][]godal.DriverName{
	"tif":  {godal.GTiff},
	"tiff": {godal.GTiff},
	"img":  {"HFA"},
	"nc":   {"netCDF", "GMT"},
	"kea":  {"KEA"},
	"ntf":  {"NITF"},
	"pix":  {"PCIDSK"},
	"rst":  {"RST"},
	"gpkg": {"GPKG"},
	"vrt":  {godal.VRT},
	"mpr":  {"ILWIS"},
	"bt":   {"BT"},
}

// outputDriver returns format if set, or else the driver matching the
// extension of filename. GTiff is used when there is no extension.
func outputDriver(filename, format string) (godal.DriverName, error) {
	if format != "" {
		return godal.DriverName(format), nil
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" {
		return godal.GTiff, nil
	}
	drivers, ok := extensionDrivers[ext]
	if !ok {
		return "", fmt.Errorf("cannot guess driver for %s", filename)
	}
	if len(drivers) > 1 {
		log.Debug("several drivers matching extension",
			zap.String("extension", ext), zap.String("using", string(drivers[0])))
	}
	return drivers[0], nil
}
