package calo3dgan

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
)

// Initializer names a kernel initializer and binds it to a context's RNG state.
type Initializer struct {
	Name string
	New  func(ctx *mlctx.Context) mlctx.VariableInitializer
}

var (
	GlorotUniform = Initializer{Name: "glorot_uniform", New: initializers.XavierUniformFn}
	HeUniform     = Initializer{Name: "he_uniform", New: heUniform}
	// GlorotNormal draws from a normal truncated at two standard deviations, scaled so the
	// truncated distribution keeps variance 2/(fanIn+fanOut).
	GlorotNormal = Initializer{Name: "glorot_normal", New: glorotNormal}
)

// fans follows the Keras convention: dense (in, out) or conv (spatial..., in, out).
func fans(shape shapes.Shape) (fanIn, fanOut int) {
	dims := shape.Dimensions
	r := len(dims)
	receptive := 1
	for _, d := range dims[:r-2] {
		receptive *= d
	}
	return dims[r-2] * receptive, dims[r-1] * receptive
}

func heUniform(ctx *mlctx.Context) mlctx.VariableInitializer {
	return func(g *graph.Graph, shape shapes.Shape) *graph.Node {
		if shape.Rank() < 2 {
			return graph.Zeros(g, shape)
		}
		fanIn, _ := fans(shape)
		limit := math.Sqrt(6 / Real(imax(fanIn, 1)))
		v := ctx.RandomUniform(g, shape)
		return graph.AddScalar(graph.MulScalar(v, 2*limit), -limit)
	}
}

func glorotNormal(ctx *mlctx.Context) mlctx.VariableInitializer {
	return func(g *graph.Graph, shape shapes.Shape) *graph.Node {
		if shape.Rank() < 2 {
			return graph.Zeros(g, shape)
		}
		fanIn, fanOut := fans(shape)
		std := math.Sqrt(2/Real(imax(fanIn+fanOut, 1))) / 0.87962566103423978
		v := ctx.RandomNormal(g, shape)
		redraw := ctx.RandomNormal(g, shape)
		v = graph.Where(graph.GreaterThan(graph.Abs(v), graph.Scalar(g, shape.DType, 2)), redraw, v)
		return graph.MulScalar(graph.ClipScalar(v, -2, 2), std)
	}
}
