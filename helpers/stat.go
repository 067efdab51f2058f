package helpers

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

// StatReader counts bytes read from R, plus fix per Read call.
type StatReader struct {
	R io.Reader
	C prometheus.Counter
	F int64
}

var _ io.Reader = &StatReader{}

func NewStatReader(r io.Reader, c prometheus.Counter, fix int64) io.Reader {
	return &StatReader{R: r, C: c, F: fix}
}

func (sr *StatReader) Read(p []byte) (n int, err error) {
	n, err = sr.R.Read(p)
	if n+int(sr.F) > 0 {
		sr.C.Add(float64(int64(n) + sr.F))
	}
	return
}
