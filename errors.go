package mosaic

import "errors"

var (
	ErrSourceOpen          = errors.New("cannot open source")
	ErrNoTiles             = errors.New("no usable input tiles")
	ErrCreateOutput        = errors.New("cannot create output")
	ErrUnsupportedGeometry = errors.New("unsupported geotransform")
)

// ErrInvalidOption is returned when an option is given an unusable value
type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}
