package calo3dgan

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscriminatorTopology(t *testing.T) {
	d, err := NewDiscriminator(1, ChannelsLast, WithSeed(3))
	require.NoError(t, err)
	rows := d.Layers()
	assert.Equal(t, []int{19 * 18 * 7 * 8}, rows[len(rows)-1].Output)
	assert.Equal(t, 49096, d.TrunkParams())
	assert.Equal(t, 49096+2*(19152+1), d.Params())
	assert.Equal(t, []int{GridX, GridY, GridZ, GridC}, d.InputShape())

	assert.Equal(t, []int{51, 51, 25, 16}, rows[0].Output)
	assert.Equal(t, []int{51, 51, 27, 16}, rows[3].Output)
	assert.Equal(t, []int{47, 46, 22, 8}, rows[4].Output)
	assert.Equal(t, []int{39, 36, 14, 8}, rows[len(rows)-3].Output)
	assert.Contains(t, d.Summary(), "auxiliary (dense)")
	assert.Contains(t, d.Summary(), `Model: "discriminator_features"`)

	heads := d.Heads()
	require.Len(t, heads, 4)
	assert.Equal(t, []string{"generation", "auxiliary", "ang", "ecal"},
		[]string{heads[0].Name, heads[1].Name, heads[2].Name, heads[3].Name})
	assert.Equal(t, []int{1}, heads[2].Output)
}

func TestDiscriminatorValidation(t *testing.T) {
	for _, p := range []Real{0, -1, math.Inf(1), math.NaN()} {
		_, err := NewDiscriminator(p, ChannelsLast)
		require.ErrorIs(t, err, ErrPower, "power %v", p)
	}
	_, err := NewDiscriminator(1, DataFormat(9))
	require.ErrorIs(t, err, ErrFormat)

	d, err := NewDiscriminator(1, ChannelsLast)
	require.NoError(t, err)
	_, err = d.Forward(context.Background(), Zeros(1, 51, 51, 24, 1), false)
	require.ErrorIs(t, err, ErrShape)
	_, err = d.Forward(context.Background(), Zeros(1, 1, 51, 51, 25), false)
	require.ErrorIs(t, err, ErrShape)
}

func TestDiscriminatorEmptyShowers(t *testing.T) {
	// With zero input every activation is zero, so the heads reduce to their biases.
	d, err := NewDiscriminator(1, ChannelsLast)
	require.NoError(t, err)
	out, err := d.Forward(context.Background(), Zeros(2, GridX, GridY, GridZ, GridC), false)
	require.NoError(t, err)
	assert.Equal(t, []Real{0.5, 0.5}, out.Fake)
	assert.Equal(t, []Real{0, 0}, out.Aux)
	assert.Equal(t, []Real{EmptyEventAngle, EmptyEventAngle}, out.Angle)
	assert.Equal(t, []Real{0, 0}, out.Ecal)
}

func TestDiscriminatorPhysicsHeads(t *testing.T) {
	const power = 0.85
	d, err := NewDiscriminator(power, ChannelsFirst, WithSeed(11))
	require.NoError(t, err)
	assert.Equal(t, []int{1, GridX, GridY, GridZ}, d.InputShape())

	// One event: a straight track along z at the grid centre with raw energies e_k,
	// fed in as e_k^power the way training images are stored.
	last := Zeros(1, GridX, GridY, GridZ, GridC)
	var total Real
	for k := 0; k < GridZ; k++ {
		e := 0.011 + 0.01*Real(k)
		total += e
		last.Set(0, 25, 25, k, 0, math.Pow(e, power))
	}
	img, err := FromChannelsLast(last, ChannelsFirst)
	require.NoError(t, err)

	out, err := d.Forward(context.Background(), img, false)
	require.NoError(t, err)
	require.Len(t, out.Fake, 1)
	assert.InDelta(t, total, out.Ecal[0], 1e-9)
	assert.InDelta(t, math.Pi/2, out.Angle[0], 1e-9)
	assert.Greater(t, out.Fake[0], 0.0)
	assert.Less(t, out.Fake[0], 1.0)
	assert.False(t, math.IsNaN(out.Aux[0]))

	bins, err := d.BinCounts(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, []int{1, NumBins, 1}, bins.Shape)
	var counted Real
	for _, v := range bins.Data {
		counted += v
	}
	assert.Equal(t, Real(GridX*GridY*GridZ), counted)
	assert.Equal(t, Real(GridX*GridY*GridZ-GridZ), bins.Data[NumBins-1])
}

func TestDiscriminatorDeterministicSeed(t *testing.T) {
	img := Zeros(1, GridX, GridY, GridZ, GridC)
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 5; i++ {
		img.Set(0, rng.Intn(GridX), rng.Intn(GridY), rng.Intn(GridZ), 0, rng.Float64())
	}
	run := func() *DiscriminatorOutput {
		d, err := NewDiscriminator(1, ChannelsLast, WithSeed(21))
		require.NoError(t, err)
		out, err := d.Forward(context.Background(), img, false)
		require.NoError(t, err)
		return out
	}
	a, b := run(), run()
	assert.Equal(t, a.Fake, b.Fake)
	assert.Equal(t, a.Aux, b.Aux)
	assert.Equal(t, a.Angle, b.Angle)
}

func TestGeneratorTopology(t *testing.T) {
	g, err := NewGenerator(LatentSize, ChannelsLast, WithSeed(2))
	require.NoError(t, err)
	assert.Equal(t, 1365047, g.Params())
	rows := g.Layers()
	assert.Equal(t, []int{GridX, GridY, GridZ, GridC}, rows[len(rows)-1].Output)

	assert.Equal(t, []int{9, 9, 8, 8}, rows[1].Output)
	assert.Equal(t, []int{54, 54, 48, 8}, rows[2].Output)
	assert.Equal(t, []int{49, 49, 41, 8}, rows[3].Output)
	assert.Contains(t, g.Summary(), `Model: "generator"`)

	gf, err := NewGenerator(LatentSize, ChannelsFirst, WithSeed(2))
	require.NoError(t, err)
	assert.Equal(t, []int{1, GridX, GridY, GridZ}, gf.OutputShape())
	assert.Equal(t, []int{9, 9, 8, 8}, gf.Layers()[1].Output)
}

func TestGeneratorValidation(t *testing.T) {
	_, err := NewGenerator(0, ChannelsLast)
	require.ErrorIs(t, err, ErrShape)
	_, err = NewGenerator(LatentSize, DataFormat(-1))
	require.ErrorIs(t, err, ErrFormat)

	g, err := NewGenerator(8, ChannelsLast)
	require.NoError(t, err)
	_, err = g.Forward(context.Background(), Zeros(1, 9), false)
	require.ErrorIs(t, err, ErrShape)
}

func TestGeneratorForward(t *testing.T) {
	if testing.Short() {
		t.Skip("full generator pass is slow")
	}
	g, err := NewGenerator(16, ChannelsFirst, WithSeed(4))
	require.NoError(t, err)
	latent, err := Latent(rand.New(rand.NewSource(1)), []Real{2}, 16)
	require.NoError(t, err)

	out, err := g.Forward(context.Background(), latent, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, GridX, GridY, GridZ}, out.Shape)
	for _, v := range out.Data {
		require.GreaterOrEqual(t, v, 0.0, "relu output must be non-negative")
	}
}

func TestGeneratorCancelled(t *testing.T) {
	g, err := NewGenerator(4, ChannelsLast)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Forward(ctx, Zeros(1, 4), false)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLatent(t *testing.T) {
	energies := []Real{1, 3}
	a, err := Latent(rand.New(rand.NewSource(9)), energies, 32)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 32}, a.Shape)

	// Same noise, scaled by energy.
	b, err := Latent(rand.New(rand.NewSource(9)), []Real{1}, 32)
	require.NoError(t, err)
	assert.Equal(t, b.Sample(0), a.Sample(0))

	_, err = Latent(rand.New(rand.NewSource(9)), []Real{1, 0}, 32)
	require.ErrorIs(t, err, ErrConfig)
	_, err = Latent(rand.New(rand.NewSource(9)), []Real{1}, 0)
	require.ErrorIs(t, err, ErrShape)
}
