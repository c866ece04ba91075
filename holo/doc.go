// Package holo simulates image formation through a phase-only spatial light
// modulator followed by a fixed diffusing expander, and retrieves a modulator
// phase pattern whose far-field intensity reproduces a target image.
//
// The forward model is
//
//	E = A_slm*A_exp * exp(i(phi_slm + phi_exp))      field construction
//	I = mean_batch |fftshift(FFT2(E))|^2               Fraunhofer propagation, speckle averaging
//	F = |IFFT2(ifftshift(H . fftshift(FFT2(I))))|      Butterworth low-pass (FrequencyFilter)
//	N = F * mean_V(target) / mean_V(F)                 power normalization over the valid region V
//	L = mean_V((clip(N,0,1) - target)^2)
//
// Every step records its adjoint on a small reverse-mode tape so Optimize can
// back-propagate the loss down to the native-resolution phase and take Adam
// steps. Render evaluates a fixed phase without the tape.
//
// All numerical work is single-threaded. The transfer function and the
// expander fields are read-only for the lifetime of a Model; the phase being
// optimized has exactly one writer, the optimizing loop.
package holo
