package alignment

import (
	lkimage "lkalign/internal/image"
)

// Fitting records one alignment call: the image that was aligned and the
// parameter trajectory, starting with the initial vector and holding one
// entry per iteration. Errors[i] is the residual error measured during
// iteration i, at Parameters[i]; DeltaNorms[i] is the norm of the delta it
// solved. A Fitting is not modified after Align returns.
type Fitting struct {
	Image      *lkimage.MaskedImage
	Parameters [][]float64
	Errors     []float64
	DeltaNorms []float64
	Fitted     bool
}

func newFitting(img *lkimage.MaskedImage, initial []float64) *Fitting {
	return &Fitting{
		Image:      img,
		Parameters: [][]float64{append([]float64(nil), initial...)},
	}
}

func (f *Fitting) append(params []float64, residualError, deltaNorm float64) {
	f.Parameters = append(f.Parameters, params)
	f.Errors = append(f.Errors, residualError)
	f.DeltaNorms = append(f.DeltaNorms, deltaNorm)
}

// NIters returns the number of iterations performed.
func (f *Fitting) NIters() int {
	return len(f.Parameters) - 1
}

// InitialParameters returns the vector the alignment started from.
func (f *Fitting) InitialParameters() []float64 {
	return f.Parameters[0]
}

// FinalParameters returns the last parameter vector of the trajectory.
func (f *Fitting) FinalParameters() []float64 {
	return f.Parameters[len(f.Parameters)-1]
}
