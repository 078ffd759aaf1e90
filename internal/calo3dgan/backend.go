package calo3dgan

import (
	"fmt"
	"sync"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"go.uber.org/zap"
)

// modelBackend is the compute backend shared by every model. It is the pure Go
// "go" backend unless GOMLX_BACKEND selects another registered one, e.g. "go:parallelism=4".
var modelBackend = sync.OnceValues(func() (b backends.Backend, err error) {
	defer catch(&err)
	b, err = backends.New()
	if err != nil {
		return nil, err
	}
	logger.Debug("compute backend ready", zap.String("backend", b.Name()), zap.Strings("registered", backends.List()))
	return b, nil
})

// catch turns a panic raised while building or running a graph into an error.
func catch(err *error) {
	r := recover()
	if r == nil {
		return
	}
	switch e := r.(type) {
	case error:
		*err = e
	default:
		*err = fmt.Errorf("graph: %v", r)
	}
}

func toTensors(t *Tensor) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(t.Data, t.Shape...)
}

func fromTensors(t *tensors.Tensor) (*Tensor, error) {
	data, err := tensors.CopyFlatData[Real](t)
	if err != nil {
		return nil, fmt.Errorf("reading graph output: %w", err)
	}
	return NewTensor(t.Shape().Dimensions, data)
}

// column reads a (N, 1) or (N) graph output into one value per event.
func column(t *tensors.Tensor) ([]Real, error) {
	data, err := tensors.CopyFlatData[Real](t)
	if err != nil {
		return nil, fmt.Errorf("reading graph output: %w", err)
	}
	if n := t.Shape().Dimensions; len(n) > 0 && len(data) != n[0] {
		return nil, fmt.Errorf("%w: want one value per event, got %s", ErrShape, t.Shape())
	}
	return data, nil
}
