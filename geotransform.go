package mosaic

import (
	"fmt"
	"math"
)

// Rounding constants applied when mapping world coordinates to pixel windows.
// Offsets absorb floating point noise at pixel boundaries, sizes round to the
// nearest pixel edge.
const (
	offsetEpsilon = 0.1
	sizeBias      = 0.5
)

// GeoTransform is the affine transform between pixel/line and world
// coordinates: [originX, pixelWidth, rowRotation, originY, colRotation, pixelHeight]
type GeoTransform [6]float64

// PixelSize returns the pixel width and the (signed) pixel height
func (gt GeoTransform) PixelSize() (float64, float64) {
	return gt[1], gt[5]
}

// Origin returns the world coordinates of the top left corner of pixel 0,0
func (gt GeoTransform) Origin() (float64, float64) {
	return gt[0], gt[3]
}

// AxisAligned reports whether the rotation terms are null
func (gt GeoTransform) AxisAligned() bool {
	return gt[2] == 0 && gt[4] == 0
}

// NorthUp reports whether rows go southward, i.e. the pixel height is negative
func (gt GeoTransform) NorthUp() bool {
	return gt[5] < 0
}

// Validate checks that gt can be handled by the window arithmetic
func (gt GeoTransform) Validate() error {
	if !gt.AxisAligned() {
		return fmt.Errorf("%w: rotation terms %g,%g", ErrUnsupportedGeometry, gt[2], gt[4])
	}
	if !(gt[1] > 0) {
		return fmt.Errorf("%w: pixel width %g", ErrUnsupportedGeometry, gt[1])
	}
	if gt[5] == 0 || math.IsNaN(gt[5]) {
		return fmt.Errorf("%w: pixel height %g", ErrUnsupportedGeometry, gt[5])
	}
	return nil
}

// WorldToPixel returns the fractional pixel/line position of world point x,y
func (gt GeoTransform) WorldToPixel(x, y float64) (float64, float64) {
	return (x - gt[0]) / gt[1], (y - gt[3]) / gt[5]
}

// PixelToWorld returns the world position of fractional pixel/line px,py
func (gt GeoTransform) PixelToWorld(px, py float64) (float64, float64) {
	return gt[0] + px*gt[1] + py*gt[2], gt[3] + px*gt[4] + py*gt[5]
}

// Extent returns the world rectangle covered by a width*height grid
func (gt GeoTransform) Extent(width, height int) Extent {
	return Extent{
		ULX: gt[0],
		ULY: gt[3],
		LRX: gt[0] + gt[1]*float64(width),
		LRY: gt[3] + gt[5]*float64(height),
	}
}

// Window maps the world rectangle e onto the pixel grid of gt. ok is false
// when the resulting window is less than one pixel wide or high. Offsets are
// floored, sizes are truncated.
func (gt GeoTransform) Window(e Extent) (w Window, ok bool) {
	w.XOff = int(math.Floor((e.ULX-gt[0])/gt[1] + offsetEpsilon))
	w.YOff = int(math.Floor((e.ULY-gt[3])/gt[5] + offsetEpsilon))
	w.XSize = int((e.LRX-gt[0])/gt[1]+sizeBias) - w.XOff
	w.YSize = int((e.LRY-gt[3])/gt[5]+sizeBias) - w.YOff
	return w, w.XSize >= 1 && w.YSize >= 1
}

// Extent is a world rectangle given by its upper left and lower right corners.
// For north-up grids ULY > LRY.
type Extent struct {
	ULX, ULY float64
	LRX, LRY float64
}

func (e Extent) String() string {
	return fmt.Sprintf("UL:(%f,%f) LR:(%f,%f)", e.ULX, e.ULY, e.LRX, e.LRY)
}

// Union grows e to include o, using the north-up convention
func (e Extent) Union(o Extent) Extent {
	return Extent{
		ULX: math.Min(e.ULX, o.ULX),
		ULY: math.Max(e.ULY, o.ULY),
		LRX: math.Max(e.LRX, o.LRX),
		LRY: math.Min(e.LRY, o.LRY),
	}
}

// Intersect returns the overlap of e and o on a grid whose rows advance by
// pixelHeight. ok is false when they do not overlap, which is not an error.
func (e Extent) Intersect(o Extent, pixelHeight float64) (r Extent, ok bool) {
	r.ULX = math.Max(e.ULX, o.ULX)
	r.LRX = math.Min(e.LRX, o.LRX)
	if pixelHeight < 0 {
		r.ULY = math.Min(e.ULY, o.ULY)
		r.LRY = math.Max(e.LRY, o.LRY)
	} else {
		r.ULY = math.Max(e.ULY, o.ULY)
		r.LRY = math.Min(e.LRY, o.LRY)
	}
	if r.ULX >= r.LRX {
		return r, false
	}
	if pixelHeight < 0 && r.ULY <= r.LRY {
		return r, false
	}
	if pixelHeight > 0 && r.ULY >= r.LRY {
		return r, false
	}
	return r, true
}

// CopyWindow pairs the source pixel window of a tile with the target pixel
// window it is composited into. Sizes may differ, in which case the source is
// resampled to the target size.
type CopyWindow struct {
	Src, Dst Window
}

func (cw CopyWindow) String() string {
	return fmt.Sprintf("%s to %s", cw.Src, cw.Dst)
}

// ComputeCopyWindow intersects a source grid with a target grid. ok is false
// when the source contributes nothing to the target.
func ComputeCopyWindow(dstGT GeoTransform, dstWidth, dstHeight int,
	srcGT GeoTransform, srcWidth, srcHeight int) (cw CopyWindow, ok bool) {
	overlap, ok := dstGT.Extent(dstWidth, dstHeight).Intersect(srcGT.Extent(srcWidth, srcHeight), dstGT[5])
	if !ok {
		return cw, false
	}
	if cw.Dst, ok = dstGT.Window(overlap); !ok {
		return cw, false
	}
	if cw.Src, ok = srcGT.Window(overlap); !ok {
		return cw, false
	}
	return cw, true
}
