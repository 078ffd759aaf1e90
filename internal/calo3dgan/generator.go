package calo3dgan

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/graph"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
)

// Generator maps conditioned latent vectors to calorimeter showers of shape (GridX, GridY, GridZ, 1).
type Generator struct {
	LatentSize int
	Format     DataFormat
	*model
}

func NewGenerator(latentSize int, format DataFormat, opts ...Option) (*Generator, error) {
	if latentSize <= 0 {
		return nil, fmt.Errorf("%w: latent size %d", ErrShape, latentSize)
	}
	if format != ChannelsLast && format != ChannelsFirst {
		return nil, fmt.Errorf("%w: %v", ErrFormat, format)
	}
	o := applyOptions(opts)
	m, err := newModel("generator", "generator", o.seed, []int{latentSize}, generatorGraph(format))
	if err != nil {
		return nil, err
	}
	if out := m.rows[len(m.rows)-1].Output; !sameShape(out, ChannelsLast.ImageShape()) {
		return nil, fmt.Errorf("%w: generator produces %v", ErrShape, out)
	}
	return &Generator{LatentSize: latentSize, Format: format, model: m}, nil
}

// generatorGraph upsamples a dense projection of the latent vector and refines it with
// valid convolutions down to the calorimeter grid. The output is laid out in format.
func generatorGraph(format DataFormat) graphFn {
	return func(s *stack, z *graph.Node) []*graph.Node {
		block := func(x *graph.Node, filters int, kernel [3]int) *graph.Node {
			x = s.conv3d(x, filters, kernel, Valid, HeUniform)
			x = s.activation(x, ReLU)
			return s.batchNorm(x, BNEpsilon, BNMomentum)
		}
		x := s.dense(z, GeneratorDenseUnits, Linear)
		if format == ChannelsFirst {
			x = s.reshape(x, []int{8, 9, 9, 8}, true)
		} else {
			x = s.reshape(x, []int{9, 9, 8, 8}, false)
		}
		x = s.upSampling3D(x, [3]int{6, 6, 6})
		x = block(x, 8, [3]int{6, 6, 8})
		for i := 0; i < 3; i++ {
			x = s.zeroPadding3D(x, [3]int{2, 2, 1})
			x = block(x, 6, [3]int{4, 4, 6})
		}
		x = s.zeroPadding3D(x, [3]int{1, 1, 0})
		x = block(x, 6, [3]int{3, 3, 5})
		x = s.zeroPadding3D(x, [3]int{1, 1, 0})
		x = s.conv3d(x, 6, [3]int{3, 3, 3}, Valid, HeUniform)
		x = s.activation(x, ReLU)
		x = s.conv3d(x, 1, [3]int{2, 2, 2}, Valid, GlorotNormal)
		x = s.activation(x, ReLU)
		if format == ChannelsFirst {
			x = graph.TransposeAllAxes(x, 0, 4, 1, 2, 3)
		}
		return []*graph.Node{x}
	}
}

// OutputShape is the per-event image shape in the generator's data format.
func (g *Generator) OutputShape() []int { return g.Format.ImageShape() }

func (g *Generator) checkLatent(latent *Tensor) error {
	if latent.Rank() != 2 || latent.Shape[1] != g.LatentSize {
		return fmt.Errorf("%w: generator expects (N, %d), got %v", ErrShape, g.LatentSize, latent.Shape)
	}
	return nil
}

// Forward turns a (N, LatentSize) batch into N showers laid out in g.Format.
func (g *Generator) Forward(ctx context.Context, latent *Tensor, training bool) (*Tensor, error) {
	if err := g.checkLatent(latent); err != nil {
		return nil, err
	}
	if latent.Batch() == 0 {
		return Zeros(append([]int{0}, g.OutputShape()...)...), ctx.Err()
	}
	key := "forward"
	if training {
		key = "forward_training"
	}
	out, err := g.run(ctx, key, g.forward(training, false), toTensors(latent))
	if err != nil {
		return nil, err
	}
	return fromTensors(out[0])
}

// Backward returns the gradients of Σ G(latent)·outGrad, i.e. it pulls outGrad, the gradient
// of some loss with respect to the generated showers, back to the latent batch and weights.
func (g *Generator) Backward(ctx context.Context, latent, outGrad *Tensor, training bool) (*Gradients, error) {
	if err := g.checkLatent(latent); err != nil {
		return nil, err
	}
	want := append([]int{latent.Batch()}, g.OutputShape()...)
	if !sameShape(outGrad.Shape, want) {
		return nil, fmt.Errorf("%w: output gradient must be %v, got %v", ErrShape, want, outGrad.Shape)
	}
	if latent.Batch() == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShape)
	}
	key := "backward"
	if training {
		key = "backward_training"
	}
	vars := g.trainable()
	fn := func(mctx *mlctx.Context, z, v *graph.Node) []*graph.Node {
		mctx.SetTraining(z.Graph(), training)
		out := g.build(newStack(mctx.In(g.scope), training, true), z)[0]
		loss := graph.ReduceAllSum(graph.Mul(out, v))
		return append([]*graph.Node{loss}, withRespectTo(loss, z, vars)...)
	}
	out, err := g.run(ctx, key, fn, toTensors(latent), toTensors(outGrad))
	if err != nil {
		return nil, err
	}
	return g.gradients(out, variableNames(vars))
}

// Latent builds generator inputs for the given primary energies: standard normal noise
// scaled by each event's energy.
func Latent(rng *rand.Rand, energies []Real, latentSize int) (*Tensor, error) {
	if latentSize <= 0 {
		return nil, fmt.Errorf("%w: latent size %d", ErrShape, latentSize)
	}
	out := Zeros(len(energies), latentSize)
	for b, e := range energies {
		if !isFinite(e) || e <= 0 {
			return nil, fmt.Errorf("%w: energy %v for event %d must be > 0", ErrConfig, e, b)
		}
		row := out.Sample(b)
		for i := range row {
			row[i] = rng.NormFloat64() * e
		}
	}
	return out, nil
}
