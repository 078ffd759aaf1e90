package calo3dgan

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireFinite(t *testing.T, name string, data []Real) {
	t.Helper()
	for i, v := range data {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s[%d] = %v", name, i, v)
	}
}

// centralDifference perturbs data[i] by ±h and differentiates loss.
func centralDifference(data []Real, i int, h Real, loss func() Real) Real {
	orig := data[i]
	data[i] = orig + h
	up := loss()
	data[i] = orig - h
	down := loss()
	data[i] = orig
	return (up - down) / (2 * h)
}

func variableBySuffix(t *testing.T, grads map[string]*Tensor, suffix string) string {
	t.Helper()
	for name := range grads {
		if strings.HasSuffix(name, suffix) {
			return name
		}
	}
	require.Failf(t, "missing gradient", "no variable ends with %q", suffix)
	return ""
}

func TestGeneratorBackward(t *testing.T) {
	ctx := context.Background()
	g, err := NewGenerator(8, ChannelsLast, WithSeed(6))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	latent, err := Latent(rng, []Real{1.5, 3}, 8)
	require.NoError(t, err)
	v := randomTensor(rng, append([]int{2}, g.OutputShape()...)...)

	grads, err := g.Backward(ctx, latent, v, false)
	require.NoError(t, err)
	assert.Equal(t, latent.Shape, grads.Input.Shape)
	requireFinite(t, "latent", grads.Input.Data)
	// Dense and seven convolutions with weights and biases, five batch norms with gamma and beta.
	assert.Len(t, grads.Variables, 26)
	for name, grad := range grads.Variables {
		value, err := g.Variable(name)
		require.NoError(t, err)
		assert.Equal(t, value.Shape, grad.Shape, name)
		requireFinite(t, name, grad.Data)
	}

	loss := func() Real {
		out, err := g.Forward(ctx, latent, false)
		require.NoError(t, err)
		var s Real
		for i, o := range out.Data {
			s += o * v.Data[i]
		}
		return s
	}
	assert.InDelta(t, loss(), grads.Loss, 1e-9*(1+math.Abs(grads.Loss)))
	if testing.Short() {
		t.Skip("finite differences run the full generator")
	}
	for _, i := range []int{0, 5, 11} {
		want := centralDifference(latent.Data, i, 1e-5, loss)
		assert.InDelta(t, want, grads.Input.Data[i], 1e-4*(1+math.Abs(want)), "latent[%d]", i)
	}

	name := variableBySuffix(t, grads.Variables, "conv3d_6/biases")
	bias, err := g.Variable(name)
	require.NoError(t, err)
	want := centralDifference(bias.Data, 0, 1e-5, func() Real {
		require.NoError(t, g.SetVariable(name, bias))
		return loss()
	})
	require.NoError(t, g.SetVariable(name, bias))
	assert.InDelta(t, want, grads.Variables[name].Data[0], 1e-4*(1+math.Abs(want)))
}

func TestGeneratorBackwardValidation(t *testing.T) {
	ctx := context.Background()
	g, err := NewGenerator(4, ChannelsLast)
	require.NoError(t, err)
	_, err = g.Backward(ctx, Zeros(1, 4), Zeros(1, 2, 2, 2, 1), false)
	require.ErrorIs(t, err, ErrShape)
	_, err = g.Backward(ctx, Zeros(0, 4), Zeros(append([]int{0}, g.OutputShape()...)...), false)
	require.ErrorIs(t, err, ErrShape)
	_, err = g.Backward(ctx, Zeros(1, 3), Zeros(append([]int{1}, g.OutputShape()...)...), false)
	require.ErrorIs(t, err, ErrShape)
}

// discriminatorLossOf recomputes the weighted discriminator loss from a forward pass.
func discriminatorLossOf(out *DiscriminatorOutput, y *DiscriminatorTargets) Real {
	var bce, aux, ang, ecal Real
	for i, p := range out.Fake {
		p = math.Min(math.Max(p, Epsilon), 1-Epsilon)
		bce -= y.Fake[i]*math.Log(p) + (1-y.Fake[i])*math.Log(1-p)
		aux += math.Abs(y.Aux[i]-out.Aux[i]) / math.Max(math.Abs(y.Aux[i]), Epsilon)
		ang += math.Abs(y.Angle[i] - out.Angle[i])
		ecal += math.Abs(y.Ecal[i]-out.Ecal[i]) / math.Max(math.Abs(y.Ecal[i]), Epsilon)
	}
	n := Real(len(out.Fake))
	terms := [discriminatorHeads]Real{bce / n, 100 * aux / n, ang / n, 100 * ecal / n}
	var loss Real
	for i, term := range terms {
		loss += LossWeights[i] * term
	}
	return loss
}

func TestDiscriminatorBackward(t *testing.T) {
	ctx := context.Background()
	d, err := NewDiscriminator(0.85, ChannelsLast, WithSeed(9))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(4))
	img := Zeros(2, GridX, GridY, GridZ, GridC)
	for i := range img.Data {
		img.Data[i] = 0.01 + 0.1*rng.Float64()
	}
	targets := &DiscriminatorTargets{
		Fake:  []Real{1, 0},
		Aux:   []Real{100, 250},
		Angle: []Real{0.1, 0.2},
		Ecal:  []Real{1, 2},
	}

	grads, err := d.Backward(ctx, img, targets, false)
	require.NoError(t, err)
	assert.Equal(t, img.Shape, grads.Input.Shape)
	requireFinite(t, "image", grads.Input.Data)
	// Four convolutions, three batch norms and the two dense heads, two tensors each.
	assert.Len(t, grads.Variables, 18)
	for name, grad := range grads.Variables {
		requireFinite(t, name, grad.Data)
	}
	assert.Greater(t, grads.Loss, 0.0)

	loss := func() Real {
		out, err := d.Forward(ctx, img, false)
		require.NoError(t, err)
		return discriminatorLossOf(out, targets)
	}
	assert.InDelta(t, loss(), grads.Loss, 1e-9*(1+grads.Loss))
	if testing.Short() {
		t.Skip("finite differences run the full discriminator")
	}
	for _, i := range []int{0, 1234, 40000, len(img.Data) - 1} {
		want := centralDifference(img.Data, i, 1e-6, loss)
		assert.InDelta(t, want, grads.Input.Data[i], 1e-4*(1+math.Abs(want)), "image[%d]", i)
	}

	name := variableBySuffix(t, grads.Variables, "generation/dense/biases")
	bias, err := d.Variable(name)
	require.NoError(t, err)
	want := centralDifference(bias.Data, 0, 1e-6, func() Real {
		require.NoError(t, d.SetVariable(name, bias))
		return loss()
	})
	require.NoError(t, d.SetVariable(name, bias))
	assert.InDelta(t, want, grads.Variables[name].Data[0], 1e-4*(1+math.Abs(want)))
}

func TestDiscriminatorBackwardValidation(t *testing.T) {
	ctx := context.Background()
	d, err := NewDiscriminator(1, ChannelsLast)
	require.NoError(t, err)
	img := Zeros(2, GridX, GridY, GridZ, GridC)
	short := &DiscriminatorTargets{Fake: []Real{1}, Aux: []Real{1, 1}, Angle: []Real{1, 1}, Ecal: []Real{1, 1}}
	_, err = d.Backward(ctx, img, short, false)
	require.ErrorIs(t, err, ErrShape)
	_, err = d.Backward(ctx, Zeros(0, GridX, GridY, GridZ, GridC), &DiscriminatorTargets{}, false)
	require.ErrorIs(t, err, ErrShape)
	_, err = d.Backward(ctx, Zeros(1, 2, 2, 2, 1), short, false)
	require.ErrorIs(t, err, ErrShape)
}

func TestModelSetVariableShape(t *testing.T) {
	g, err := NewGenerator(4, ChannelsLast)
	require.NoError(t, err)
	names := g.Variables()
	require.NotEmpty(t, names)
	require.ErrorIs(t, g.SetVariable(names[0], Zeros(1)), ErrShape)
	_, err = g.Variable("/generator/nope/weights")
	require.ErrorIs(t, err, ErrConfig)
}
