package holo

// Rendering is the output of Render.
type Rendering struct {
	Loss float64

	// Intensity is the power-normalized, unclipped far field at propagation
	// resolution.
	Intensity Plane

	// Image is Intensity with the wavelength padding cropped away and resampled
	// back to (Rows*Upsample) x (Cols*Upsample). Without padding it is
	// Intensity itself.
	Image Plane
}

// Render evaluates a fixed modulator phase (for example an optimized one)
// through the full forward model without recording gradients. modulatorAmp
// may be nil for uniform amplitude. Phase and amplitude planes are accepted at
// native or propagation resolution.
func Render(p Problem, modulatorAmp, modulatorPhase PhaseField) (*Rendering, error) {
	m, err := NewModel(p)
	if err != nil {
		return nil, err
	}
	loss, norm, err := m.Evaluate(modulatorAmp, modulatorPhase)
	if err != nil {
		return nil, err
	}

	img := norm
	if p.Padding.Rows > 0 {
		img = ResizeNearest(crop(norm, m.r0, m.r1, m.c0, m.c1), m.rows, m.cols)
	}
	return &Rendering{Loss: loss, Intensity: norm, Image: img}, nil
}
