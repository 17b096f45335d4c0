package main

import (
	"fmt"
	"io"
)

// termProgress prints GDAL style "0...10...20" progress, one dot per 2.5%
type termProgress struct {
	w    io.Writer
	last int
}

func newTermProgress(w io.Writer) *termProgress {
	fmt.Fprint(w, "0")
	return &termProgress{w: w}
}

func (p *termProgress) Update(done float64) {
	step := int(done*40 + 1e-6)
	if step > 40 {
		step = 40
	}
	for p.last < step {
		p.last++
		switch {
		case p.last == 40:
			fmt.Fprint(p.w, "100 - done.\n")
		case p.last%4 == 0:
			fmt.Fprintf(p.w, "%d", p.last/4*10)
		default:
			fmt.Fprint(p.w, ".")
		}
	}
}
