package holo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
)

// DefaultProgressEvery is the progress cadence in iterations.
const DefaultProgressEvery = 100

// ProgressEvent is emitted at a fixed cadence during optimization. It is
// informational only and never influences the loop.
type ProgressEvent struct {
	Iteration  int
	Iterations int
	Loss       float64
}

// ProgressFunc receives progress events on the optimizing goroutine.
type ProgressFunc func(ProgressEvent)

// LogProgress adapts a structured logger into a ProgressFunc.
func LogProgress(logger *slog.Logger) ProgressFunc {
	return func(e ProgressEvent) {
		logger.Info("optimizing modulator phase",
			"iteration", e.Iteration,
			"of", e.Iterations,
			"loss", e.Loss,
		)
	}
}

// OptimizeOptions configures one phase-retrieval run.
type OptimizeOptions struct {
	Batch        int
	Iterations   int
	LearningRate float64
	Seed         int64

	// ModulatorAmp is the modulator amplitude at native or propagation
	// resolution. Nil means uniform amplitude.
	ModulatorAmp Plane

	Progress      ProgressFunc
	ProgressEvery int // defaults to DefaultProgressEvery

	// DetectDivergence stops the run with ErrNumericDivergence on the first
	// non-finite loss. Off by default: divergence then propagates silently
	// into later iterations and the returned phase.
	DetectDivergence bool
}

// Result is the outcome of Optimize.
type Result struct {
	Phase  PhaseField // batch x Rows x Cols, radians
	Losses []float64  // loss of every completed iteration
}

// FinalLoss returns the loss of the last completed iteration, or NaN.
func (r *Result) FinalLoss() float64 {
	if len(r.Losses) == 0 {
		return math.NaN()
	}
	return r.Losses[len(r.Losses)-1]
}

// InitialPhase samples batch x rows x cols phases independently and uniformly
// over [0, 2pi) from a generator seeded with seed.
func InitialPhase(batch, rows, cols int, seed int64) PhaseField {
	f, _ := newContiguousField(batch, rows, cols)
	fillUniformPhase(f, seed)
	return f
}

func fillUniformPhase(f PhaseField, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, p := range f {
		for _, row := range p {
			for x := range row {
				row[x] = 2 * math.Pi * rng.Float64()
			}
		}
	}
}

// Optimize runs exactly opts.Iterations Adam steps on a random modulator phase
// so that the filtered, power-normalized far field matches p.Target. There is
// no convergence test. ctx is only consulted between iterations; an
// interrupted run returns the partial result together with the context error.
func Optimize(ctx context.Context, p Problem, opts OptimizeOptions) (*Result, error) {
	if opts.Batch <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrConfiguration, opts.Batch)
	}
	if opts.Iterations < 0 {
		return nil, fmt.Errorf("%w: iterations must not be negative, got %d", ErrConfiguration, opts.Iterations)
	}
	m, err := NewModel(p)
	if err != nil {
		return nil, err
	}
	amp, err := m.amplitudes(singleOrNone(opts.ModulatorAmp), opts.Batch)
	if err != nil {
		return nil, err
	}

	phase, params := newContiguousField(opts.Batch, p.Rows, p.Cols)
	fillUniformPhase(phase, opts.Seed)
	grad, grads := newContiguousField(opts.Batch, p.Rows, p.Cols)
	theta := &node{val: phase, grad: grad}

	opt, err := newAdam(len(params), opts.LearningRate)
	if err != nil {
		return nil, err
	}

	every := opts.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}

	res := &Result{Phase: phase, Losses: make([]float64, 0, opts.Iterations)}
	t := &tape{}
	for i := 0; i < opts.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("optimization interrupted before iteration %d: %w", i, err)
		}

		t.reset()
		up := m.upsample(t, theta)
		loss, _ := m.run(t, amp, up)
		res.Losses = append(res.Losses, loss)

		if opts.Progress != nil && i%every == 0 {
			opts.Progress(ProgressEvent{Iteration: i, Iterations: opts.Iterations, Loss: loss})
		}
		if opts.DetectDivergence && (math.IsNaN(loss) || math.IsInf(loss, 0)) {
			return res, fmt.Errorf("%w: loss is %g at iteration %d", ErrNumericDivergence, loss, i)
		}

		theta.zeroGrad()
		t.backward()
		opt.step(params, grads)
	}
	return res, nil
}

func singleOrNone(p Plane) PhaseField {
	if p == nil {
		return nil
	}
	return PhaseField{p}
}
