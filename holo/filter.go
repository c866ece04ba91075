package holo

import (
	"fmt"
	"math"
	"math/cmplx"
)

// DefaultFilterOrder is the Butterworth order used when none is configured.
const DefaultFilterOrder = 5

// Butterworth builds an ny x nx radially symmetric low-pass transfer function
//
//	H = 1 / (1 + (r^2/r0^2)^order),  r0 = sqrt((ny/pass)*(nx/pass)/pi)
//
// over integer frequency coordinates centered on the fftshift zero-frequency bin
// (row ny/2, column nx/2), where H is exactly 1.
func Butterworth(nx, ny int, passFraction float64, order int) (Plane, error) {
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("%w: filter grid must be positive, got %dx%d", ErrConfiguration, ny, nx)
	}
	if !(passFraction > 0) || math.IsInf(passFraction, 0) {
		return nil, fmt.Errorf("%w: pass fraction must be positive, got %g", ErrConfiguration, passFraction)
	}
	if order <= 0 {
		return nil, fmt.Errorf("%w: filter order must be positive, got %d", ErrConfiguration, order)
	}

	r0sq := (float64(ny) / passFraction) * (float64(nx) / passFraction) / math.Pi
	h := NewPlane(ny, nx)
	for y := 0; y < ny; y++ {
		fy := float64(y - ny/2)
		for x := 0; x < nx; x++ {
			fx := float64(x - nx/2)
			r2 := fy*fy + fx*fx
			h[y][x] = 1 / (1 + math.Pow(r2/r0sq, float64(order)))
		}
	}
	return h, nil
}

// ApplyFilter treats a non-negative real field as the magnitude of a zero-phase
// complex signal, multiplies its centered spectrum by h and returns the
// magnitude of the inverse transform.
func ApplyFilter(field, h Plane) (Plane, error) {
	if err := checkPlane("field", field, 0, 0); err != nil {
		return nil, err
	}
	rows, cols := len(field), len(field[0])
	if err := checkPlane("transfer function", h, rows, cols); err != nil {
		return nil, err
	}
	f := newFilterOp(h)
	out, _ := f.forward(field)
	return out, nil
}

// ApplyFilterBatch filters every plane of a batch with the same transfer function.
func ApplyFilterBatch(fields PhaseField, h Plane) (PhaseField, error) {
	out := make(PhaseField, len(fields))
	for k, p := range fields {
		var err error
		if out[k], err = ApplyFilter(p, h); err != nil {
			return nil, fmt.Errorf("batch element %d: %w", k, err)
		}
	}
	return out, nil
}

// filterOp carries the plans for one resolution. forward also returns the
// complex pre-magnitude signal that the adjoint needs.
type filterOp struct {
	h   Plane
	fft *fft2
}

func newFilterOp(h Plane) *filterOp {
	rows, cols := h.Dims()
	return &filterOp{h: h, fft: newFFT2(rows, cols)}
}

func (f *filterOp) forward(field Plane) (Plane, [][]complex128) {
	rows, cols := f.fft.rows, f.fft.cols
	z := makeComplex2D(rows, cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			z[y][x] = complex(field[y][x], 0)
		}
	}
	f.fft.forward(z)
	spectrum := fftshift(z)
	f.mulH(spectrum)
	g := ifftshift(spectrum)
	f.fft.inverse(g)

	scale := complex(1/float64(rows*cols), 0)
	out := NewPlane(rows, cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			g[y][x] *= scale
			out[y][x] = cmplx.Abs(g[y][x])
		}
	}
	return out, g
}

// adjoint maps the loss gradient w.r.t. the complex output g back to the real
// input: Re(W^H . ishift . H . shift . (1/N)W . grad).
func (f *filterOp) adjoint(grad [][]complex128) Plane {
	rows, cols := f.fft.rows, f.fft.cols
	v := makeComplex2D(rows, cols)
	scale := complex(1/float64(rows*cols), 0)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v[y][x] = grad[y][x] * scale
		}
	}
	f.fft.forward(v)
	spectrum := fftshift(v)
	f.mulH(spectrum)
	back := ifftshift(spectrum)
	f.fft.inverse(back)

	out := NewPlane(rows, cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			out[y][x] = real(back[y][x])
		}
	}
	return out
}

func (f *filterOp) mulH(spectrum [][]complex128) {
	for y, row := range spectrum {
		for x := range row {
			row[x] *= complex(f.h[y][x], 0)
		}
	}
}

type filterKey struct {
	nx, ny int
	pass   float64
	order  int
}

// FilterCache memoizes transfer functions by (resolution, pass fraction, order).
// A changed key builds a new H; an unchanged key returns the shared, read-only
// plane. Not safe for concurrent use.
type FilterCache struct {
	entries map[filterKey]Plane
}

// Get returns the cached transfer function, building it on first use.
func (c *FilterCache) Get(nx, ny int, passFraction float64, order int) (Plane, error) {
	key := filterKey{nx: nx, ny: ny, pass: passFraction, order: order}
	if h, ok := c.entries[key]; ok {
		return h, nil
	}
	h, err := Butterworth(nx, ny, passFraction, order)
	if err != nil {
		return nil, err
	}
	if c.entries == nil {
		c.entries = make(map[filterKey]Plane)
	}
	c.entries[key] = h
	return h, nil
}

// Len reports how many transfer functions are cached.
func (c *FilterCache) Len() int { return len(c.entries) }
