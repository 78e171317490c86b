package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Tensors reads a batch of rows and returns them as gomlx tensors: features
// shaped [batch, 6] and weights shaped [batch].
func (d *Weighted) Tensors(indices []int) (features *tensors.Tensor, weights *tensors.Tensor, err error) {
	x, w, err := d.Rows(indices)
	if err != nil {
		return nil, nil, err
	}
	if len(x) == 0 {
		return tensors.FromAnyValue([][]float64{}), tensors.FromAnyValue([]float64{}), nil
	}
	return tensors.FromAnyValue(x), tensors.FromAnyValue(w), nil
}
