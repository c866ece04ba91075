package holo

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Padding is the border (in propagation pixels) that exists only because a
// channel was shrunk to match the reference wavelength's magnification. It is
// excluded from power normalization and from the loss.
type Padding struct {
	Rows int
	Cols int
}

// Validate rejects asymmetric or negative padding. Rows != Cols never results
// in a silent crop.
func (p Padding) Validate() error {
	if p.Rows < 0 || p.Cols < 0 {
		return fmt.Errorf("%w: negative wavelength padding (%d, %d)", ErrShapeMismatch, p.Rows, p.Cols)
	}
	if p.Rows != p.Cols {
		return fmt.Errorf("%w: wavelength padding must be equal in both dimensions, got rows=%d cols=%d",
			ErrShapeMismatch, p.Rows, p.Cols)
	}
	return nil
}

// region returns the valid window [r0,r1) x [c0,c1) of a rows x cols frame.
func (p Padding) region(rows, cols int) (r0, r1, c0, c1 int, err error) {
	if err := p.Validate(); err != nil {
		return 0, 0, 0, 0, err
	}
	r0, r1 = p.Rows, rows-p.Rows
	c0, c1 = p.Cols, cols-p.Cols
	if r1 <= r0 || c1 <= c0 {
		return 0, 0, 0, 0, fmt.Errorf("%w: padding %d leaves no valid region in a %dx%d frame",
			ErrShapeMismatch, p.Rows, rows, cols)
	}
	return r0, r1, c0, c1, nil
}

// Problem bundles the fixed inputs shared by every evaluation: the target,
// the expander fields, the transfer function and the modulator geometry.
// Everything here is read-only once a Model is built.
type Problem struct {
	Target        Plane
	ExpanderAmp   Plane
	ExpanderPhase Plane
	H             Plane
	Padding       Padding

	// Rows x Cols is the modulator's native resolution. Propagation runs at
	// (Rows*Upsample) x (Cols*Upsample), which must match the expander, the
	// target and H.
	Rows     int
	Cols     int
	Upsample int
}

// PropagationSize returns the supersampled grid the optics are simulated on.
func (p Problem) PropagationSize() (int, int) {
	return p.Rows * p.Upsample, p.Cols * p.Upsample
}

func (p Problem) validate() error {
	if p.Rows <= 0 || p.Cols <= 0 {
		return fmt.Errorf("%w: modulator resolution must be positive, got %dx%d", ErrConfiguration, p.Rows, p.Cols)
	}
	if p.Upsample <= 0 {
		return fmt.Errorf("%w: upsample factor must be positive, got %d", ErrConfiguration, p.Upsample)
	}
	rows, cols := p.PropagationSize()
	for _, c := range []struct {
		name string
		p    Plane
	}{
		{"target", p.Target},
		{"expander amplitude", p.ExpanderAmp},
		{"expander phase", p.ExpanderPhase},
		{"transfer function", p.H},
	} {
		if err := checkPlane(c.name, c.p, rows, cols); err != nil {
			return err
		}
	}
	_, _, _, _, err := p.Padding.region(rows, cols)
	return err
}

// Model is the differentiable forward model for one Problem: field
// construction, Fraunhofer propagation, speckle averaging, low-pass filtering,
// power normalization and the clipped MSE loss.
type Model struct {
	p              Problem
	rows, cols     int
	r0, r1, c0, c1 int
	count          int
	targetMean     float64
	fft            *fft2
	filter         *filterOp
}

// NewModel validates every shape precondition up front.
func NewModel(p Problem) (*Model, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	rows, cols := p.PropagationSize()
	r0, r1, c0, c1, _ := p.Padding.region(rows, cols)
	m := &Model{
		p:      p,
		rows:   rows,
		cols:   cols,
		r0:     r0,
		r1:     r1,
		c0:     c0,
		c1:     c1,
		count:  (r1 - r0) * (c1 - c0),
		fft:    newFFT2(rows, cols),
		filter: newFilterOp(p.H),
	}
	m.targetMean = m.validMean(p.Target)
	return m, nil
}

// Problem returns the inputs the model was built from.
func (m *Model) Problem() Problem { return m.p }

func (m *Model) validMean(p Plane) float64 {
	sum := 0.0
	for y := m.r0; y < m.r1; y++ {
		for x := m.c0; x < m.c1; x++ {
			sum += p[y][x]
		}
	}
	return sum / float64(m.count)
}

// liftPlanes brings modulator planes to the propagation grid. Planes already at
// propagation size pass through; planes at native size are upsampled.
func (m *Model) liftPlanes(name string, f PhaseField) (PhaseField, error) {
	out := make(PhaseField, len(f))
	for k, p := range f {
		h, w, err := rectSize(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ErrShapeMismatch, name, k, err)
		}
		switch {
		case h == m.rows && w == m.cols:
			out[k] = p
		case h == m.p.Rows && w == m.p.Cols:
			out[k] = upsampleNearest(p, m.p.Upsample)
		default:
			return nil, fmt.Errorf("%w: %s[%d] is %dx%d, want %dx%d or %dx%d", ErrShapeMismatch,
				name, k, h, w, m.p.Rows, m.p.Cols, m.rows, m.cols)
		}
	}
	return out, nil
}

// Evaluate runs steps 1-7 on caller-supplied modulator fields without
// recording gradients. amp may hold one plane (broadcast) or one per batch
// element, or be nil for a uniform amplitude. Returns the loss and the
// power-normalized (unclipped) intensity.
func (m *Model) Evaluate(amp, phase PhaseField) (float64, Plane, error) {
	if len(phase) == 0 {
		return 0, nil, fmt.Errorf("%w: empty modulator phase", ErrShapeMismatch)
	}
	ph, err := m.liftPlanes("modulator phase", phase)
	if err != nil {
		return 0, nil, err
	}
	amps, err := m.amplitudes(amp, len(ph))
	if err != nil {
		return 0, nil, err
	}
	loss, norm := m.run(nil, amps, &node{val: ph})
	return loss, norm.val[0], nil
}

func (m *Model) amplitudes(amp PhaseField, batch int) (PhaseField, error) {
	if len(amp) == 0 {
		return PhaseField{UniformPlane(m.rows, m.cols, 1)}, nil
	}
	if len(amp) != 1 && len(amp) != batch {
		return nil, fmt.Errorf("%w: modulator amplitude batch %d does not broadcast to %d",
			ErrShapeMismatch, len(amp), batch)
	}
	return m.liftPlanes("modulator amplitude", amp)
}

// run chains the differentiable steps. With a non-nil tape every step
// records its adjoint.
func (m *Model) run(t *tape, amp PhaseField, phase *node) (float64, *node) {
	field := m.combine(t, amp, phase)
	far := m.propagate(t, field)
	intensity := m.intensity(t, far)
	avg := m.batchMean(t, intensity)
	filtered := m.applyFilter(t, avg)
	norm := m.normalize(t, filtered)
	return m.clippedMSE(t, norm), norm
}

// upsample repeats each native sample Upsample x Upsample times.
func (m *Model) upsample(t *tape, in *node) *node {
	u := m.p.Upsample
	out := newNode(len(in.val), m.rows, m.cols, t != nil)
	for k := range in.val {
		out.val[k] = upsampleNearest(in.val[k], u)
	}
	t.record(func() {
		for k := range out.grad {
			for y, row := range out.grad[k] {
				dst := in.grad[k][y/u]
				for x, g := range row {
					dst[x/u] += g
				}
			}
		}
	})
	return out
}

// combine forms E = ampMod*ampExp * exp(i(phiMod + phiExp)).
func (m *Model) combine(t *tape, amp PhaseField, phase *node) *cnode {
	batch := len(phase.val)
	out := newCNode(batch, m.rows, m.cols, t != nil)
	for k := 0; k < batch; k++ {
		a := amp[0]
		if len(amp) > 1 {
			a = amp[k]
		}
		for y := 0; y < m.rows; y++ {
			for x := 0; x < m.cols; x++ {
				mag := a[y][x] * m.p.ExpanderAmp[y][x]
				out.val[k][y][x] = cmplx.Rect(mag, phase.val[k][y][x]+m.p.ExpanderPhase[y][x])
			}
		}
	}
	t.record(func() {
		// dL/dphi = Re(conj(g) * iE)
		for k := range out.grad {
			for y, row := range out.grad[k] {
				for x, g := range row {
					e := out.val[k][y][x]
					phase.grad[k][y][x] += imag(g)*real(e) - real(g)*imag(e)
				}
			}
		}
	})
	return out
}

// propagate is the far-field step: fftshift(FFT2(E)).
func (m *Model) propagate(t *tape, in *cnode) *cnode {
	batch := len(in.val)
	out := &cnode{val: make([][][]complex128, batch)}
	for k := 0; k < batch; k++ {
		tmp := makeComplex2D(m.rows, m.cols)
		for y := range tmp {
			copy(tmp[y], in.val[k][y])
		}
		m.fft.forward(tmp)
		out.val[k] = fftshift(tmp)
	}
	if t == nil {
		return out
	}
	out.grad = newCNode(batch, m.rows, m.cols, false).val
	t.record(func() {
		for k := range out.grad {
			g := ifftshift(out.grad[k])
			m.fft.inverse(g)
			for y, row := range g {
				for x, v := range row {
					in.grad[k][y][x] += v
				}
			}
		}
	})
	return out
}

// intensity is |F|^2.
func (m *Model) intensity(t *tape, in *cnode) *node {
	out := newNode(len(in.val), m.rows, m.cols, t != nil)
	for k := range in.val {
		for y, row := range in.val[k] {
			for x, v := range row {
				out.val[k][y][x] = real(v)*real(v) + imag(v)*imag(v)
			}
		}
	}
	t.record(func() {
		for k := range out.grad {
			for y, row := range out.grad[k] {
				for x, g := range row {
					in.grad[k][y][x] += complex(2*g, 0) * in.val[k][y][x]
				}
			}
		}
	})
	return out
}

// batchMean averages intensities over realizations (speckle averaging).
func (m *Model) batchMean(t *tape, in *node) *node {
	out := newNode(1, m.rows, m.cols, t != nil)
	inv := 1 / float64(len(in.val))
	for _, p := range in.val {
		for y, row := range p {
			for x, v := range row {
				out.val[0][y][x] += v
			}
		}
	}
	for _, row := range out.val[0] {
		for x := range row {
			row[x] *= inv
		}
	}
	t.record(func() {
		for k := range in.grad {
			for y, row := range out.grad[0] {
				for x, g := range row {
					in.grad[k][y][x] += g * inv
				}
			}
		}
	})
	return out
}

func (m *Model) applyFilter(t *tape, in *node) *node {
	val, z := m.filter.forward(in.val[0])
	out := &node{val: PhaseField{val}}
	if t == nil {
		return out
	}
	out.grad = PhaseField{NewPlane(m.rows, m.cols)}
	t.record(func() {
		// d|z| = Re(conj(z/|z|) dz); zero where z vanishes.
		gz := makeComplex2D(m.rows, m.cols)
		for y, row := range out.grad[0] {
			for x, g := range row {
				if a := val[y][x]; a > 0 {
					gz[y][x] = complex(g/a, 0) * z[y][x]
				}
			}
		}
		back := m.filter.adjoint(gz)
		for y, row := range back {
			for x, v := range row {
				in.grad[0][y][x] += v
			}
		}
	})
	return out
}

// normalize rescales the whole frame so its valid-region mean equals the
// target's valid-region mean.
func (m *Model) normalize(t *tape, in *node) *node {
	f := in.val[0]
	fMean := m.validMean(f)
	s := m.targetMean / fMean
	out := newNode(1, m.rows, m.cols, t != nil)
	for y, row := range f {
		for x, v := range row {
			out.val[0][y][x] = s * v
		}
	}
	t.record(func() {
		// n = s*f with s = mT/mean_V(f):
		// df_j = s*gn_j - [j in V] * s/(mean_V(f)*|V|) * sum_i gn_i*f_i
		dot := 0.0
		for y, row := range out.grad[0] {
			for x, g := range row {
				dot += g * f[y][x]
			}
		}
		corr := s / (fMean * float64(m.count)) * dot
		for y, row := range out.grad[0] {
			for x, g := range row {
				in.grad[0][y][x] += s * g
			}
		}
		for y := m.r0; y < m.r1; y++ {
			for x := m.c0; x < m.c1; x++ {
				in.grad[0][y][x] -= corr
			}
		}
	})
	return out
}

// clippedMSE is mean((clip(n,0,1) - target)^2) over the valid region.
func (m *Model) clippedMSE(t *tape, in *node) float64 {
	n := in.val[0]
	target := m.p.Target
	sum := 0.0
	for y := m.r0; y < m.r1; y++ {
		for x := m.c0; x < m.c1; x++ {
			d := clip01(n[y][x]) - target[y][x]
			sum += d * d
		}
	}
	inv := 1 / float64(m.count)
	t.record(func() {
		for y := m.r0; y < m.r1; y++ {
			for x := m.c0; x < m.c1; x++ {
				v := n[y][x]
				if v >= 0 && v <= 1 {
					in.grad[0][y][x] += 2 * (v - target[y][x]) * inv
				}
			}
		}
	})
	return sum * inv
}

func clip01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

// PowerNormalize rescales field so its mean over the region left by pad equals
// the target's mean over that region. With zero padding the full frame is used.
func PowerNormalize(field, target Plane, pad Padding) (Plane, error) {
	rows, cols, err := rectSize(field)
	if err != nil {
		return nil, fmt.Errorf("%w: field: %v", ErrShapeMismatch, err)
	}
	if err := checkPlane("target", target, rows, cols); err != nil {
		return nil, err
	}
	r0, r1, c0, c1, err := pad.region(rows, cols)
	if err != nil {
		return nil, err
	}
	m := &Model{r0: r0, r1: r1, c0: c0, c1: c1, count: (r1 - r0) * (c1 - c0)}
	s := m.validMean(target) / m.validMean(field)
	out := NewPlane(rows, cols)
	for y, row := range field {
		for x, v := range row {
			out[y][x] = s * v
		}
	}
	return out, nil
}
