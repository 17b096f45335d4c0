package mosaic

import (
	"fmt"
	"math"
)

// StrategyKind enumerates the ways a source window is composited onto the
// output
type StrategyKind int

const (
	// Plain overwrites the target window unconditionally
	Plain StrategyKind = iota
	// NoData keeps the target pixel wherever the source equals the nodata value
	NoData
	// Mask keeps the target pixel wherever the source mask is 0. Partial
	// transparency is not blended.
	Mask
)

func (k StrategyKind) String() string {
	switch k {
	case NoData:
		return "nodata"
	case Mask:
		return "mask"
	}
	return "plain"
}

// A Strategy is the compositing decision made for one (tile, band) pair
type Strategy struct {
	Kind   StrategyKind
	NoData float64
	// MaskBand is the validity band of a Mask strategy. It may be the source
	// band itself for alpha bands.
	MaskBand Band
}

// SelectStrategy chooses how src is composited. An explicit nodata value wins
// over the band's own mask, which wins over an alpha color interpretation.
// The nodata value is compared in the sample type of src.
func SelectStrategy(src Band, nodata *float64) (Strategy, error) {
	if nodata != nil {
		return Strategy{Kind: NoData, NoData: src.DataType().Sample(*nodata)}, nil
	}
	if src.MaskFlags() != MaskAllValid {
		mb, err := src.MaskBand()
		if err != nil {
			return Strategy{}, fmt.Errorf("mask band: %w", err)
		}
		return Strategy{Kind: Mask, MaskBand: mb}, nil
	}
	if src.ColorInterp() == ColorAlpha {
		return Strategy{Kind: Mask, MaskBand: src}, nil
	}
	return Strategy{Kind: Plain}, nil
}

// sourceData is the part of a copy that only touches the source raster
type sourceData struct {
	data []float64
	mask []float64
}

// readSource reads the source (and mask) window resampled to the target
// window size
func (s Strategy) readSource(src Band, cw CopyWindow) (sourceData, error) {
	var sd sourceData
	var err error
	if sd.data, err = src.Read(cw.Src, cw.Dst.XSize, cw.Dst.YSize); err != nil {
		return sd, fmt.Errorf("read source %s: %w", cw.Src, err)
	}
	if s.Kind == Mask {
		if sd.mask, err = s.MaskBand.Read(cw.Src, cw.Dst.XSize, cw.Dst.YSize); err != nil {
			return sd, fmt.Errorf("read mask %s: %w", cw.Src, err)
		}
	}
	return sd, nil
}

// commit composites sd into the target window of dst
func (s Strategy) commit(sd sourceData, dst Band, cw CopyWindow) error {
	if s.Kind == Plain {
		if err := dst.Write(cw.Dst, sd.data); err != nil {
			return fmt.Errorf("write %s: %w", cw.Dst, err)
		}
		return nil
	}
	cur, err := dst.Read(cw.Dst, cw.Dst.XSize, cw.Dst.YSize)
	if err != nil {
		return fmt.Errorf("read target %s: %w", cw.Dst, err)
	}
	switch s.Kind {
	case NoData:
		CompositeNoData(cur, sd.data, s.NoData)
	case Mask:
		CompositeMask(cur, sd.data, sd.mask)
	}
	if err = dst.Write(cw.Dst, cur); err != nil {
		return fmt.Errorf("write %s: %w", cw.Dst, err)
	}
	return nil
}

// Copy composites the cw.Src window of src onto the cw.Dst window of dst
func (s Strategy) Copy(src, dst Band, cw CopyWindow) error {
	sd, err := s.readSource(src, cw)
	if err != nil {
		return err
	}
	return s.commit(sd, dst, cw)
}

// CompositeNoData overwrites dst with src except where src holds the nodata
// value. A NaN nodata matches NaN samples.
func CompositeNoData(dst, src []float64, nodata float64) {
	if math.IsNaN(nodata) {
		for i, v := range src {
			if !math.IsNaN(v) {
				dst[i] = v
			}
		}
		return
	}
	for i, v := range src {
		if v != nodata {
			dst[i] = v
		}
	}
}

// CompositeMask overwrites dst with src where mask is not 0
func CompositeMask(dst, src, mask []float64) {
	for i, v := range src {
		if mask[i] != 0 {
			dst[i] = v
		}
	}
}
