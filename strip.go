package mosaic

// A Stripper splits copy windows into horizontal strips of roughly similar
// pixel counts, so that a single copy never holds more than about
// TargetPixelCount samples of a band in memory.
//
// Only windows whose source and target heights are equal are split: rows then
// map one to one and stripping does not alter the resampled output.
type Stripper struct {
	targetPixelCount    int
	stripHeightMultiple int
}

type StripperOption func(s *Stripper) error

// TargetPixelCount sets the approximate number of target pixels of a single
// strip. 0 disables splitting.
func TargetPixelCount(count int) StripperOption {
	return func(s *Stripper) error {
		if count < 0 {
			return ErrInvalidOption{"target pixel count must be >=0"}
		}
		s.targetPixelCount = count
		return nil
	}
}

func (s Stripper) TargetPixelCount() int {
	return s.targetPixelCount
}

// StripHeightMultiple forces strip heights (except the last one) to be a
// multiple of the given value, typically the block height of the sources.
func StripHeightMultiple(height int) StripperOption {
	return func(s *Stripper) error {
		if height <= 0 {
			return ErrInvalidOption{"strip height multiple must be >=1"}
		}
		s.stripHeightMultiple = height
		return nil
	}
}

func (s Stripper) StripHeightMultiple() int {
	return s.stripHeightMultiple
}

// NewStripper creates a stripper. Default options are 64 MPixel strips and no
// height multiple.
func NewStripper(options ...StripperOption) (Stripper, error) {
	s := Stripper{
		targetPixelCount:    8192 * 8192,
		stripHeightMultiple: 1,
	}
	for _, o := range options {
		if err := o(&s); err != nil {
			return s, err
		}
	}
	return s, nil
}

// Split returns the strips covering cw, top to bottom. cw itself is returned
// when it is small enough or cannot be split.
func (s Stripper) Split(cw CopyWindow) []CopyWindow {
	pixels := cw.Dst.Pixels()
	if s.targetPixelCount == 0 || pixels <= s.targetPixelCount || cw.Src.YSize != cw.Dst.YSize {
		return []CopyWindow{cw}
	}
	numStrips := pixels / s.targetPixelCount
	if pixels%s.targetPixelCount != 0 {
		numStrips++
	}
	height := cw.Dst.YSize / numStrips
	if height < 1 {
		height = 1
	}
	if m := s.stripHeightMultiple; m > 1 && height%m != 0 {
		height = (height/m + 1) * m
	}

	var strips []CopyWindow
	for row := 0; row < cw.Dst.YSize; row += height {
		h := height
		if row+h > cw.Dst.YSize {
			h = cw.Dst.YSize - row
		}
		strip := cw
		strip.Src.YOff += row
		strip.Src.YSize = h
		strip.Dst.YOff += row
		strip.Dst.YSize = h
		strips = append(strips, strip)
	}
	return strips
}
