package holo

import "errors"

// ErrConfiguration marks fatal setup problems: unknown presets, unsupported
// encodings or channels, and invalid hyperparameters. Never retried.
var ErrConfiguration = errors.New("configuration error")

// ErrShapeMismatch marks precondition failures on tensor shapes, including
// asymmetric wavelength padding.
var ErrShapeMismatch = errors.New("shape mismatch")

// ErrNumericDivergence is only returned when OptimizeOptions.DetectDivergence is set.
var ErrNumericDivergence = errors.New("numeric divergence")
