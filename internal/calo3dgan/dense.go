package calo3dgan

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// dense adds a fully connected layer over (N, F) inputs with Glorot uniform weights
// and zero biases, followed by act.
func (s *stack) dense(x *graph.Node, units int, act Activation) *graph.Node {
	if x.Rank() != 2 {
		panic(fmt.Errorf("%w: dense needs a flat input, got %s", ErrShape, x.Shape()))
	}
	if units <= 0 {
		panic(fmt.Errorf("%w: dense units must be > 0", ErrShape))
	}
	name, lctx := s.next("dense")
	out := layers.DenseWithBias(lctx.WithInitializer(initializers.XavierUniformFn(lctx)), x, units)
	return s.record(name, "dense", lctx, act.apply(out))
}
