package calo3dgan

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
)

// stack appends Keras-style layers to a graph under one model scope. Each layer gets a
// kind_index name (conv3d, conv3d_1, ...) that is both its variable scope and its summary row.
type stack struct {
	ctx *mlctx.Context
	// training switches dropout on and batch norm to batch statistics.
	training bool
	// grad routes convolutions through convolveGrad so the graph can be differentiated.
	grad bool

	rows []LayerSummary
	seen map[string]int
}

func newStack(ctx *mlctx.Context, training, grad bool) *stack {
	return &stack{ctx: ctx, training: training, grad: grad, seen: make(map[string]int)}
}

// next reserves the name of the next layer of the given kind and returns its scope.
func (s *stack) next(kind string) (string, *mlctx.Context) {
	name := kind
	if n := s.seen[kind]; n > 0 {
		name = fmt.Sprintf("%s_%d", kind, n)
	}
	s.seen[kind]++
	return name, s.ctx.In(name)
}

// record adds the summary row for a finished layer and passes its output through.
func (s *stack) record(name, kind string, lctx *mlctx.Context, out *graph.Node) *graph.Node {
	s.rows = append(s.rows, LayerSummary{
		Name:   name,
		Kind:   kind,
		Output: append([]int(nil), out.Shape().Dimensions[1:]...),
		Params: countParams(lctx),
	})
	return out
}

// output is the per-event shape of the last layer.
func (s *stack) output() []int {
	if len(s.rows) == 0 {
		return nil
	}
	return s.rows[len(s.rows)-1].Output
}

// countParams sums the sizes of every variable under ctx's scope, trainable or not.
func countParams(ctx *mlctx.Context) int {
	total := 0
	for v := range ctx.IterVariablesInScope() {
		total += v.Shape().Size()
	}
	return total
}

func check3D(kind string, x *graph.Node) {
	if x.Rank() != 5 {
		panic(fmt.Errorf("%w: %s needs (N, X, Y, Z, C), got %s", ErrShape, kind, x.Shape()))
	}
}
