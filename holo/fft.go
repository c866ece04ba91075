package holo

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2 holds reusable row/column plans for one grid size. Gonum transforms are
// unnormalized in both directions; callers scale the inverse by 1/(rows*cols)
// where a normalized inverse is wanted.
type fft2 struct {
	rows, cols int
	rowFFT     *fourier.CmplxFFT
	colFFT     *fourier.CmplxFFT
	col        []complex128
}

func newFFT2(rows, cols int) *fft2 {
	return &fft2{
		rows:   rows,
		cols:   cols,
		rowFFT: fourier.NewCmplxFFT(cols),
		colFFT: fourier.NewCmplxFFT(rows),
		col:    make([]complex128, rows),
	}
}

func (f *fft2) forward(a [][]complex128) { f.transform(a, true) }

func (f *fft2) inverse(a [][]complex128) { f.transform(a, false) }

// transform runs a 2D FFT in place: rows then columns.
func (f *fft2) transform(a [][]complex128, forward bool) {
	for y := 0; y < f.rows; y++ {
		if forward {
			f.rowFFT.Coefficients(a[y], a[y])
		} else {
			f.rowFFT.Sequence(a[y], a[y])
		}
	}

	col := f.col
	for x := 0; x < f.cols; x++ {
		for y := 0; y < f.rows; y++ {
			col[y] = a[y][x]
		}
		if forward {
			f.colFFT.Coefficients(col, col)
		} else {
			f.colFFT.Sequence(col, col)
		}
		for y := 0; y < f.rows; y++ {
			a[y][x] = col[y]
		}
	}
}

// fftshift moves the zero-frequency bin to (rows/2, cols/2).
func fftshift(a [][]complex128) [][]complex128 {
	h := len(a)
	w := len(a[0])
	return roll(a, (h+1)/2, (w+1)/2)
}

// ifftshift undoes fftshift, moving the center back to (0,0).
func ifftshift(a [][]complex128) [][]complex128 {
	h := len(a)
	w := len(a[0])
	return roll(a, h/2, w/2)
}

// roll returns out[y][x] = a[(y+dy)%h][(x+dx)%w].
func roll(a [][]complex128, dy, dx int) [][]complex128 {
	h := len(a)
	w := len(a[0])
	out := makeComplex2D(h, w)
	for y := 0; y < h; y++ {
		src := a[(y+dy)%h]
		for x := 0; x < w; x++ {
			out[y][x] = src[(x+dx)%w]
		}
	}
	return out
}
