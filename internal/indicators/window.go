package indicators

import (
	"math"

	"github.com/galafis/financial-data-etl/internal/models"
)

// window keeps the last size samples of a series. Statistics are recomputed over the
// buffer on every read instead of being maintained incrementally, so a window of equal
// samples yields an exact mean and an exact zero deviation.
type window struct {
	size  int
	buf   []models.Value
	next  int
	count int
}

func newWindow(size int) *window {
	return &window{size: size, buf: make([]models.Value, size)}
}

// push appends a sample, evicting the oldest once the window is full.
func (w *window) push(v models.Value) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

func (w *window) full() bool {
	return w.count == w.size
}

// sum returns the sum of the window's samples, treating undefined samples as zero.
func (w *window) sum() float64 {
	total := 0.0
	for i := 0; i < w.count; i++ {
		if w.buf[i].Valid {
			total += w.buf[i].V
		}
	}
	return total
}

// complete reports whether the window is full and every sample is defined.
func (w *window) complete() bool {
	if !w.full() {
		return false
	}
	for _, v := range w.buf {
		if !v.Valid {
			return false
		}
	}
	return true
}

// mean returns the average of a complete window, or None.
func (w *window) mean() models.Value {
	if !w.complete() {
		return models.None()
	}
	return models.Finite(w.sum() / float64(w.size))
}

// stddev returns the sample standard deviation (n-1 denominator) of a complete window, or None.
func (w *window) stddev() models.Value {
	if w.size < 2 || !w.complete() {
		return models.None()
	}
	m := w.sum() / float64(w.size)
	ss := 0.0
	for _, v := range w.buf {
		d := v.V - m
		ss += d * d
	}
	return models.Finite(math.Sqrt(ss / float64(w.size-1)))
}
