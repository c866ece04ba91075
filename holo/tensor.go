package holo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Plane is a row-major 2D real field (amplitude, phase, intensity or a transfer function).
type Plane [][]float64

// PhaseField is a batch of phase planes in radians. Batch element k holds one
// independent modulator realization used for speckle averaging.
type PhaseField []Plane

// NewPlane returns a zero-filled rows x cols plane.
func NewPlane(rows, cols int) Plane {
	p := make(Plane, rows)
	for i := range p {
		p[i] = make([]float64, cols)
	}
	return p
}

// UniformPlane returns a rows x cols plane filled with v.
func UniformPlane(rows, cols int, v float64) Plane {
	p := NewPlane(rows, cols)
	for _, row := range p {
		for x := range row {
			row[x] = v
		}
	}
	return p
}

// Dims returns (rows, cols). A plane with no rows reports (0, 0).
func (p Plane) Dims() (int, int) {
	if len(p) == 0 {
		return 0, 0
	}
	return len(p), len(p[0])
}

// Clone returns a deep copy.
func (p Plane) Clone() Plane {
	out := make(Plane, len(p))
	for i, row := range p {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Mean returns the arithmetic mean over the whole plane.
func (p Plane) Mean() float64 {
	rows, cols := p.Dims()
	if rows == 0 || cols == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, row := range p {
		sum += floats.Sum(row)
	}
	return sum / float64(rows*cols)
}

// Dims returns (batch, rows, cols).
func (f PhaseField) Dims() (int, int, int) {
	if len(f) == 0 {
		return 0, 0, 0
	}
	rows, cols := f[0].Dims()
	return len(f), rows, cols
}

// Clone returns a deep copy.
func (f PhaseField) Clone() PhaseField {
	out := make(PhaseField, len(f))
	for k, p := range f {
		out[k] = p.Clone()
	}
	return out
}

// newContiguousField allocates a batch of planes backed by one slice so the
// optimizer can treat the whole field as a flat parameter vector.
func newContiguousField(batch, rows, cols int) (PhaseField, []float64) {
	backing := make([]float64, batch*rows*cols)
	f := make(PhaseField, batch)
	for k := range f {
		f[k] = make(Plane, rows)
		for y := range f[k] {
			off := (k*rows + y) * cols
			f[k][y] = backing[off : off+cols : off+cols]
		}
	}
	return f, backing
}

// checkPlane verifies a plane is rectangular and, when rows/cols are positive,
// that it has exactly that shape.
func checkPlane(name string, p Plane, rows, cols int) error {
	h, w, err := rectSize(p)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrShapeMismatch, name, err)
	}
	if h == 0 || w == 0 {
		return fmt.Errorf("%w: %s is empty", ErrShapeMismatch, name)
	}
	if rows > 0 && cols > 0 && (h != rows || w != cols) {
		return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrShapeMismatch, name, h, w, rows, cols)
	}
	return nil
}

func rectSize(m Plane) (h, w int, err error) {
	h = len(m)
	if h == 0 {
		return 0, 0, nil
	}
	w = len(m[0])
	for i := 1; i < h; i++ {
		if len(m[i]) != w {
			return 0, 0, fmt.Errorf("ragged matrix")
		}
	}
	return h, w, nil
}

func makeComplex2D(h, w int) [][]complex128 {
	m := make([][]complex128, h)
	for i := range m {
		m[i] = make([]complex128, w)
	}
	return m
}

// upsampleNearest repeats every sample factor x factor times.
func upsampleNearest(p Plane, factor int) Plane {
	rows, cols := p.Dims()
	out := NewPlane(rows*factor, cols*factor)
	for y := range out {
		src := p[y/factor]
		for x := range out[y] {
			out[y][x] = src[x/factor]
		}
	}
	return out
}

// ResizeNearest resamples p to rows x cols by nearest neighbor, picking source
// index floor(dst * in / out) along each axis.
func ResizeNearest(p Plane, rows, cols int) Plane {
	inH, inW := p.Dims()
	out := NewPlane(rows, cols)
	if inH == 0 || inW == 0 {
		return out
	}
	scaleY := float64(inH) / float64(rows)
	scaleX := float64(inW) / float64(cols)
	for y := 0; y < rows; y++ {
		sy := min(int(math.Floor(float64(y)*scaleY)), inH-1)
		for x := 0; x < cols; x++ {
			sx := min(int(math.Floor(float64(x)*scaleX)), inW-1)
			out[y][x] = p[sy][sx]
		}
	}
	return out
}

// crop returns a copy of the [r0,r1) x [c0,c1) window.
func crop(p Plane, r0, r1, c0, c1 int) Plane {
	out := make(Plane, r1-r0)
	for y := r0; y < r1; y++ {
		out[y-r0] = append([]float64(nil), p[y][c0:c1]...)
	}
	return out
}
