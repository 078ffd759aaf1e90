package calo3dgan

import (
	"context"
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
)

// Discriminator classifies calorimeter showers and re-derives their physics features.
//
// The convolutional trunk feeds two learned heads (real/fake and auxiliary energy
// regression). The angle and energy-sum heads are computed directly from the image
// after undoing the training-time power transform.
type Discriminator struct {
	Power  Real
	Format DataFormat
	*model
}

// discriminatorHeads is the number of summary rows after the trunk.
const discriminatorHeads = 4

// LossWeights weigh the binary cross-entropy, auxiliary MAPE, angle MAE and ecal MAPE
// terms of the discriminator loss.
var LossWeights = [discriminatorHeads]Real{3, 0.1, 25, 0.1}

// DiscriminatorOutput holds one value per event for each head.
type DiscriminatorOutput struct {
	Fake  []Real // sigmoid probability the event is real
	Aux   []Real // regressed primary energy
	Angle []Real // measured incidence angle in radians, EmptyEventAngle for empty events
	Ecal  []Real // total deposited energy
}

// DiscriminatorTargets are the training labels matching DiscriminatorOutput.
type DiscriminatorTargets struct {
	Fake  []Real
	Aux   []Real
	Angle []Real
	Ecal  []Real
}

func NewDiscriminator(power Real, format DataFormat, opts ...Option) (*Discriminator, error) {
	if !isFinite(power) || power <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrPower, power)
	}
	if format != ChannelsLast && format != ChannelsFirst {
		return nil, fmt.Errorf("%w: %v", ErrFormat, format)
	}
	o := applyOptions(opts)
	m, err := newModel("discriminator", "discriminator", o.seed, format.ImageShape(), discriminatorGraph(power, format))
	if err != nil {
		return nil, err
	}
	return &Discriminator{Power: power, Format: format, model: m}, nil
}

// discriminatorGraph returns the fake, aux, angle and ecal heads, each (N, 1).
func discriminatorGraph(power Real, format DataFormat) graphFn {
	return func(s *stack, image *graph.Node) []*graph.Node {
		x := image
		if format == ChannelsFirst {
			x = graph.TransposeAllAxes(x, 0, 2, 3, 4, 1)
		}
		img := x
		kernel := [3]int{5, 6, 6}
		block := func(x *graph.Node, norm bool) *graph.Node {
			x = s.conv3d(x, 8, kernel, Valid, GlorotUniform)
			x = s.activation(x, LeakyReLU(LeakyAlpha))
			if norm {
				x = s.batchNorm(x, BNEpsilon, BNMomentum)
			}
			return s.dropout(x, DropoutRate)
		}
		x = s.conv3d(x, 16, kernel, Same, GlorotUniform)
		x = s.activation(x, LeakyReLU(LeakyAlpha))
		x = s.dropout(x, DropoutRate)
		x = s.zeroPadding3D(x, [3]int{0, 0, 1})
		x = block(x, true)
		x = s.zeroPadding3D(x, [3]int{0, 0, 1})
		x = block(x, true)
		x = block(x, true)
		x = s.averagePooling3D(x, [3]int{2, 2, 2})
		h := s.flatten(x)

		head := func(name string, act Activation) *graph.Node {
			lctx := s.ctx.In(name)
			out := layers.DenseWithBias(lctx.WithInitializer(initializers.XavierUniformFn(lctx)), h, 1)
			return s.record(name, "dense", lctx, act.apply(out))
		}
		fake := head("generation", Sigmoid)
		aux := head("auxiliary", Linear)

		inv := PowGraph(img, 1/power)
		ang := s.record("ang", "lambda", s.ctx.In("ang"), EcalAngleGraph(inv))
		ecal := s.record("ecal", "lambda", s.ctx.In("ecal"), EcalSumGraph(inv))
		return []*graph.Node{fake, aux, ang, ecal}
	}
}

// InputShape is the per-event image shape in the discriminator's data format.
func (d *Discriminator) InputShape() []int { return d.Format.ImageShape() }

// Layers returns the trunk rows; Heads returns the four output heads.
func (d *Discriminator) Layers() []LayerSummary {
	rows := d.model.Layers()
	return rows[:len(rows)-discriminatorHeads]
}

func (d *Discriminator) Heads() []LayerSummary {
	rows := d.model.Layers()
	return rows[len(rows)-discriminatorHeads:]
}

// TrunkParams counts the convolutional trunk alone.
func (d *Discriminator) TrunkParams() int {
	total := 0
	for _, r := range d.Layers() {
		total += r.Params
	}
	return total
}

// Forward evaluates all four heads for a batch laid out in d.Format.
func (d *Discriminator) Forward(ctx context.Context, image *Tensor, training bool) (*DiscriminatorOutput, error) {
	if err := d.checkImage(image); err != nil {
		return nil, err
	}
	if image.Batch() == 0 {
		return &DiscriminatorOutput{}, ctx.Err()
	}
	key := "forward"
	if training {
		key = "forward_training"
	}
	outs, err := d.run(ctx, key, d.forward(training, false), toTensors(image))
	if err != nil {
		return nil, err
	}
	cols := make([][]Real, len(outs))
	for i, t := range outs {
		if cols[i], err = column(t); err != nil {
			return nil, err
		}
	}
	return &DiscriminatorOutput{Fake: cols[0], Aux: cols[1], Angle: cols[2], Ecal: cols[3]}, nil
}

// Backward returns the gradients of the weighted discriminator loss
//
//	LossWeights · (BCE(fake), MAPE(aux), MAE(angle), MAPE(ecal))
//
// with respect to the image and every trainable weight.
func (d *Discriminator) Backward(ctx context.Context, image *Tensor, targets *DiscriminatorTargets, training bool) (*Gradients, error) {
	if err := d.checkImage(image); err != nil {
		return nil, err
	}
	n := image.Batch()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShape)
	}
	labels := [][]Real{targets.Fake, targets.Aux, targets.Angle, targets.Ecal}
	args := []any{toTensors(image)}
	for i, l := range labels {
		if len(l) != n {
			return nil, fmt.Errorf("%w: target %d has %d values for %d events", ErrShape, i, len(l), n)
		}
		t, err := NewTensor([]int{n, 1}, l)
		if err != nil {
			return nil, err
		}
		args = append(args, toTensors(t))
	}
	key := "backward"
	if training {
		key = "backward_training"
	}
	vars := d.trainable()
	fn := func(mctx *mlctx.Context, x, fake, aux, ang, ecal *graph.Node) []*graph.Node {
		mctx.SetTraining(x.Graph(), training)
		heads := d.build(newStack(mctx.In(d.scope), training, true), x)
		loss := discriminatorLoss(heads, []*graph.Node{fake, aux, ang, ecal})
		return append([]*graph.Node{loss}, withRespectTo(loss, x, vars)...)
	}
	outs, err := d.run(ctx, key, fn, args...)
	if err != nil {
		return nil, err
	}
	return d.gradients(outs, variableNames(vars))
}

// discriminatorLoss combines the four head losses with LossWeights.
func discriminatorLoss(heads, labels []*graph.Node) *graph.Node {
	fake := graph.ClipScalar(heads[0], Epsilon, 1-Epsilon)
	terms := []*graph.Node{
		losses.BinaryCrossentropy(labels[:1], []*graph.Node{fake}),
		meanAbsolutePercentageError(labels[1], heads[1]),
		losses.MeanAbsoluteError(labels[2:3], heads[2:3]),
		meanAbsolutePercentageError(labels[3], heads[3]),
	}
	var loss *graph.Node
	for i, t := range terms {
		t = graph.MulScalar(t, LossWeights[i])
		if loss == nil {
			loss = t
			continue
		}
		loss = graph.Add(loss, t)
	}
	return loss
}

// meanAbsolutePercentageError is 100·mean(|y-p| / max(|y|, Epsilon)).
func meanAbsolutePercentageError(labels, predictions *graph.Node) *graph.Node {
	diff := graph.Abs(graph.Sub(labels, predictions))
	scale := graph.MaxScalar(graph.Abs(labels), Epsilon)
	return graph.MulScalar(graph.ReduceAllMean(graph.Div(diff, scale)), 100)
}

// BinCounts histograms the power-inverted image into occupancy bins, shape (N, NumBins, 1).
func (d *Discriminator) BinCounts(ctx context.Context, image *Tensor) (*Tensor, error) {
	if err := d.checkImage(image); err != nil {
		return nil, err
	}
	if image.Batch() == 0 {
		return Zeros(0, NumBins, 1), ctx.Err()
	}
	fn := func(_ *mlctx.Context, x *graph.Node) *graph.Node {
		if d.Format == ChannelsFirst {
			x = graph.TransposeAllAxes(x, 0, 2, 3, 4, 1)
		}
		return CountGraph(PowGraph(x, 1/d.Power))
	}
	outs, err := d.run(ctx, "bins", fn, toTensors(image))
	if err != nil {
		return nil, err
	}
	return fromTensors(outs[0])
}

func (d *Discriminator) checkImage(image *Tensor) error {
	want := d.InputShape()
	if image.Rank() != 5 || !sameShape(image.Shape[1:], want) {
		return fmt.Errorf("%w: discriminator expects (N, %v) %s, got %v", ErrShape, want, d.Format, image.Shape)
	}
	return nil
}
