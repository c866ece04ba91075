package holo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas64"
)

// Adam defaults.
const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-8
)

// adam is an adaptive-moment optimizer for one flat parameter vector with a
// fixed learning rate and no weight decay. It does not guard against
// non-finite values: NaN/Inf gradients flow into the parameters.
// Not goroutine-safe; the optimizing loop is its single writer.
type adam struct {
	lr       float64
	beta1    float64
	beta2    float64
	eps      float64
	t        int64
	powBeta1 float64
	powBeta2 float64
	m, v     []float64
}

func newAdam(n int, lr float64) (*adam, error) {
	if n == 0 {
		return nil, fmt.Errorf("%w: no parameters to optimize", ErrConfiguration)
	}
	if !(lr > 0) || math.IsInf(lr, 0) {
		return nil, fmt.Errorf("%w: learning rate must be positive and finite, got %g", ErrConfiguration, lr)
	}
	return &adam{
		lr:       lr,
		beta1:    DefaultBeta1,
		beta2:    DefaultBeta2,
		eps:      DefaultEpsilon,
		powBeta1: 1,
		powBeta2: 1,
		m:        make([]float64, n),
		v:        make([]float64, n),
	}, nil
}

func toVector(data []float64) blas64.Vector {
	return blas64.Vector{N: len(data), Data: data, Inc: 1}
}

// step applies one update in place:
//
//	m = b1*m + (1-b1)*g
//	v = b2*v + (1-b2)*g^2
//	p -= lr/(1-b1^t) * m / (sqrt(v)/sqrt(1-b2^t) + eps)
func (a *adam) step(params, grad []float64) {
	a.t++
	a.powBeta1 *= a.beta1
	a.powBeta2 *= a.beta2
	bc1 := 1 - a.powBeta1
	bc2 := 1 - a.powBeta2

	blas64.Scal(a.beta1, toVector(a.m))
	blas64.Axpy(1-a.beta1, toVector(grad), toVector(a.m))

	stepSize := a.lr / bc1
	sqrtBC2 := math.Sqrt(bc2)
	for i, g := range grad {
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		denom := math.Sqrt(a.v[i])/sqrtBC2 + a.eps
		params[i] -= stepSize * a.m[i] / denom
	}
}
