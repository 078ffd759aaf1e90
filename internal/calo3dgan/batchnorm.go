package calo3dgan

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
)

// batchNorm normalizes over the trailing channel axis. Inference uses the moving
// statistics; training normalizes with batch statistics and folds the unbiased batch
// variance into the moving ones.
func (s *stack) batchNorm(x *graph.Node, epsilon, momentum Real) *graph.Node {
	check3D("batch_normalization", x)
	name, lctx := s.next("batch_normalization")
	g := x.Graph()
	dims := x.Shape().Dimensions
	nc := dims[4]
	shape := shapes.Make(x.DType(), nc)
	gamma := lctx.WithInitializer(initializers.One).VariableWithShape("gamma", shape)
	beta := lctx.WithInitializer(initializers.Zero).VariableWithShape("beta", shape)
	movingMean := lctx.WithInitializer(initializers.Zero).VariableWithShape("moving_mean", shape).SetTrainable(false)
	movingVar := lctx.WithInitializer(initializers.One).VariableWithShape("moving_variance", shape).SetTrainable(false)

	mean, variance := movingMean.ValueGraph(g), movingVar.ValueGraph(g)
	if count := dims[0] * dims[1] * dims[2] * dims[3]; s.training && count > 0 {
		mean = graph.ReduceMean(x, 0, 1, 2, 3)
		variance = graph.ReduceMean(graph.Square(graph.Sub(x, graph.Reshape(mean, 1, 1, 1, 1, nc))), 0, 1, 2, 3)
		unbiased := variance
		if count > 1 {
			unbiased = graph.MulScalar(variance, Real(count)/Real(count-1))
		}
		movingMean.SetValueGraph(graph.Add(
			graph.MulScalar(movingMean.ValueGraph(g), momentum),
			graph.MulScalar(graph.StopGradient(mean), 1-momentum)))
		movingVar.SetValueGraph(graph.Add(
			graph.MulScalar(movingVar.ValueGraph(g), momentum),
			graph.MulScalar(graph.StopGradient(unbiased), 1-momentum)))
	}
	scale := graph.Div(gamma.ValueGraph(g), graph.Sqrt(graph.AddScalar(variance, epsilon)))
	shift := graph.Sub(beta.ValueGraph(g), graph.Mul(mean, scale))
	out := graph.Add(graph.Mul(x, graph.Reshape(scale, 1, 1, 1, 1, nc)), graph.Reshape(shift, 1, 1, 1, 1, nc))
	return s.record(name, "batch_normalization", lctx, out)
}
