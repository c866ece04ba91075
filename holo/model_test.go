package holo

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestPowerNormalizeMatchesTargetMean(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, pad := range []int{0, 1, 3} {
		field := randomPlane(rng, 12, 12, 0.1, 5)
		target := randomPlane(rng, 12, 12, 0, 1)
		out, err := PowerNormalize(field, target, Padding{Rows: pad, Cols: pad})
		if err != nil {
			t.Fatalf("pad %d: %v", pad, err)
		}
		got := crop(out, pad, 12-pad, pad, 12-pad).Mean()
		want := crop(target, pad, 12-pad, pad, 12-pad).Mean()
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("pad %d: normalized mean %g, target mean %g", pad, got, want)
		}
	}
}

func TestAsymmetricPaddingFailsFast(t *testing.T) {
	for _, pad := range []Padding{{Rows: 2, Cols: 3}, {Rows: 0, Cols: 1}, {Rows: 1, Cols: 0}} {
		if err := pad.Validate(); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("%+v: Validate = %v, want ErrShapeMismatch", pad, err)
		}

		p := testProblem(t, 4, 4, 2, 0, 1)
		p.Padding = pad
		if _, err := NewModel(p); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("%+v: NewModel = %v, want ErrShapeMismatch", pad, err)
		}
		if _, err := Optimize(context.Background(), p, OptimizeOptions{Batch: 1, Iterations: 1, LearningRate: 0.1}); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("%+v: Optimize = %v, want ErrShapeMismatch", pad, err)
		}
		if _, err := Render(p, nil, InitialPhase(1, 4, 4, 1)); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("%+v: Render = %v, want ErrShapeMismatch", pad, err)
		}
		if _, err := PowerNormalize(p.Target, p.Target, pad); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("%+v: PowerNormalize = %v, want ErrShapeMismatch", pad, err)
		}
	}
}

func TestPaddingMustLeaveValidRegion(t *testing.T) {
	p := testProblem(t, 2, 2, 2, 2, 1)
	if _, err := NewModel(p); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("NewModel = %v, want ErrShapeMismatch", err)
	}
}

func TestNewModelRejectsMismatchedFields(t *testing.T) {
	base := testProblem(t, 4, 4, 2, 0, 1)
	cases := map[string]func(p *Problem){
		"expander phase": func(p *Problem) { p.ExpanderPhase = NewPlane(8, 9) },
		"expander amp":   func(p *Problem) { p.ExpanderAmp = NewPlane(4, 4) },
		"target":         func(p *Problem) { p.Target = NewPlane(7, 8) },
		"H":              func(p *Problem) { p.H = NewPlane(16, 16) },
		"ragged":         func(p *Problem) { p.Target = append(NewPlane(7, 8), make([]float64, 3)) },
	}
	for name, mutate := range cases {
		p := base
		mutate(&p)
		if _, err := NewModel(p); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("%s: NewModel = %v, want ErrShapeMismatch", name, err)
		}
	}

	p := base
	p.Upsample = 0
	if _, err := NewModel(p); !errors.Is(err, ErrConfiguration) {
		t.Errorf("zero upsample: NewModel = %v, want ErrConfiguration", err)
	}
}

func TestEvaluateAcceptsNativeAndPropagationResolution(t *testing.T) {
	p := testProblem(t, 4, 4, 2, 1, 5)
	m, err := NewModel(p)
	if err != nil {
		t.Fatal(err)
	}
	native := InitialPhase(2, 4, 4, 9)
	lossNative, _, err := m.Evaluate(nil, native)
	if err != nil {
		t.Fatal(err)
	}
	lifted := PhaseField{upsampleNearest(native[0], 2), upsampleNearest(native[1], 2)}
	lossLifted, _, err := m.Evaluate(PhaseField{UniformPlane(8, 8, 1)}, lifted)
	if err != nil {
		t.Fatal(err)
	}
	if lossNative != lossLifted {
		t.Errorf("native loss %g != propagation-resolution loss %g", lossNative, lossLifted)
	}
	if _, _, err := m.Evaluate(nil, PhaseField{NewPlane(5, 5)}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("5x5 phase: %v, want ErrShapeMismatch", err)
	}
	if _, _, err := m.Evaluate(PhaseField{NewPlane(8, 8), NewPlane(8, 8), NewPlane(8, 8)}, native); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("amplitude batch 3 vs phase batch 2: %v, want ErrShapeMismatch", err)
	}
}

func TestEvaluateNormalizesToTargetPower(t *testing.T) {
	p := testProblem(t, 4, 4, 2, 1, 6)
	m, err := NewModel(p)
	if err != nil {
		t.Fatal(err)
	}
	_, norm, err := m.Evaluate(nil, InitialPhase(3, 4, 4, 2))
	if err != nil {
		t.Fatal(err)
	}
	got := crop(norm, 1, 7, 1, 7).Mean()
	want := crop(p.Target, 1, 7, 1, 7).Mean()
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("valid-region mean %g, want %g", got, want)
	}
}

// The tape gradient must agree with central differences of the forward loss.
func TestGradientMatchesFiniteDifference(t *testing.T) {
	for _, pad := range []int{0, 1} {
		p := testProblem(t, 4, 4, 2, pad, int64(20+pad))
		m, err := NewModel(p)
		if err != nil {
			t.Fatal(err)
		}
		theta, _ := newContiguousField(2, 4, 4)
		fillUniformPhase(theta, 7)
		grad, _ := newContiguousField(2, 4, 4)
		n := &node{val: theta, grad: grad}

		tp := &tape{}
		amp, _ := m.amplitudes(nil, 2)
		m.run(tp, amp, m.upsample(tp, n))
		tp.backward()

		lossAt := func() float64 {
			l, _, err := m.Evaluate(nil, theta)
			if err != nil {
				t.Fatal(err)
			}
			return l
		}

		const h = 1e-6
		for k := range theta {
			for y := range theta[k] {
				for x := range theta[k][y] {
					orig := theta[k][y][x]
					theta[k][y][x] = orig + h
					up := lossAt()
					theta[k][y][x] = orig - h
					down := lossAt()
					theta[k][y][x] = orig

					numeric := (up - down) / (2 * h)
					analytic := grad[k][y][x]
					tol := 1e-5*(math.Abs(numeric)+math.Abs(analytic)) + 1e-9
					if math.Abs(numeric-analytic) > tol {
						t.Errorf("pad %d: dL/dphi[%d][%d][%d] tape %g, finite difference %g",
							pad, k, y, x, analytic, numeric)
					}
				}
			}
		}
	}
}

func TestRenderCropsAndResamplesPadding(t *testing.T) {
	p := testProblem(t, 4, 4, 2, 2, 8)
	phase := InitialPhase(2, 4, 4, 3)
	r, err := Render(p, nil, phase)
	if err != nil {
		t.Fatal(err)
	}
	rows, cols := r.Image.Dims()
	if rows != 8 || cols != 8 {
		t.Fatalf("image %dx%d, want 8x8", rows, cols)
	}
	// 4x4 valid window stretched 2x: each source pixel becomes a 2x2 block.
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if r.Image[y][x] != r.Intensity[2+y/2][2+x/2] {
				t.Fatalf("image[%d][%d] = %g, want intensity[%d][%d] = %g",
					y, x, r.Image[y][x], 2+y/2, 2+x/2, r.Intensity[2+y/2][2+x/2])
			}
		}
	}

	p.Padding = Padding{}
	r0, err := Render(p, nil, phase)
	if err != nil {
		t.Fatal(err)
	}
	if &r0.Image[0][0] != &r0.Intensity[0][0] {
		t.Error("unpadded rendering should return the intensity frame unchanged")
	}
}

func TestResizeNearest(t *testing.T) {
	p := Plane{{1, 2}, {3, 4}}
	got := ResizeNearest(p, 4, 6)
	want := Plane{
		{1, 1, 1, 2, 2, 2},
		{1, 1, 1, 2, 2, 2},
		{3, 3, 3, 4, 4, 4},
		{3, 3, 3, 4, 4, 4},
	}
	if d := maxAbsDiff(got, want); d != 0 {
		t.Errorf("ResizeNearest = %v, want %v", got, want)
	}
}
