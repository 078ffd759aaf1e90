package calo3dgan

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// trackVolume saves two events: an empty one and a straight track through the grid centre.
func trackVolume(t *testing.T, power Real) string {
	t.Helper()
	vol := Zeros(2, GridX, GridY, GridZ, GridC)
	for k := 0; k < GridZ; k++ {
		vol.Set(1, 25, 25, k, 0, math.Pow(0.1, power))
	}
	path := filepath.Join(t.TempDir(), "track.raw")
	require.NoError(t, SaveRawVolume(path, vol))
	return path
}

func TestScore(t *testing.T) {
	path := trackVolume(t, 1)
	for _, format := range []DataFormat{ChannelsLast, ChannelsFirst} {
		cfg := DefaultConfig()
		cfg.DataFormat = format
		out, err := Score(context.Background(), cfg, path)
		require.NoError(t, err, format.String())
		require.Len(t, out.Fake, 2)
		assert.Equal(t, 0.5, out.Fake[0])
		assert.Equal(t, EmptyEventAngle, out.Angle[0])
		assert.InDelta(t, math.Pi/2, out.Angle[1], 1e-9)
		assert.InDelta(t, 0, out.Ecal[0], 0)
		assert.InDelta(t, 2.5, out.Ecal[1], 1e-9)
	}

	cfg := DefaultConfig()
	cfg.Power = 0
	_, err := Score(context.Background(), cfg, path)
	require.ErrorIs(t, err, ErrConfig)

	_, err = Score(context.Background(), DefaultConfig(), filepath.Join(t.TempDir(), "missing.raw"))
	require.Error(t, err)
}

func TestFeatures(t *testing.T) {
	path := trackVolume(t, 0.5)
	rep, err := Features(context.Background(), path, 0.5, 2)
	require.NoError(t, err)
	require.Len(t, rep.Ecal, 2)
	assert.InDelta(t, 0, rep.Ecal[0], 0)
	assert.InDelta(t, 2.5, rep.Ecal[1], 1e-9)
	assert.Equal(t, EmptyEventAngle, rep.Angle[0])
	assert.InDelta(t, math.Pi/2, rep.Angle[1], 1e-9)

	total := Real(GridX * GridY * GridZ)
	assert.Equal(t, []Real{0, 0, 0, 0, 0, 0, 0, total}, rep.Bins[0])
	assert.Equal(t, []Real{GridZ, 0, 0, 0, 0, 0, 0, total - GridZ}, rep.Bins[1])

	_, err = Features(context.Background(), path, math.NaN(), 0)
	require.ErrorIs(t, err, ErrPower)
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("full generator pass is slow")
	}
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.LatentSize = 32
	cfg.Energies = []Real{2}
	cfg.RawOut = filepath.Join(dir, "out", "gen.raw")
	cfg.GIFOut = filepath.Join(dir, "gen.gif")
	cfg.PNGPrefix = filepath.Join(dir, "gen")

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	_, err = uuid.Parse(res.ID)
	require.NoError(t, err)
	assert.Equal(t, Outputs{Raw: cfg.RawOut, GIF: cfg.GIFOut, PNGPrefix: cfg.PNGPrefix}, res.Outputs)
	assert.Equal(t, []int{1, GridX, GridY, GridZ, GridC}, res.Showers.Shape)
	require.Len(t, res.Scores.Fake, 1)
	want := floats.Sum(res.Showers.Data)
	assert.InDelta(t, want, res.Scores.Ecal[0], 1e-9*(1+math.Abs(want)))

	back, err := LoadRawVolume(cfg.RawOut)
	require.NoError(t, err)
	assert.Equal(t, res.Showers.Data, back.Data)
	for _, p := range []string{cfg.GIFOut, cfg.PNGPrefix + "_00.png", cfg.PNGPrefix + "_24.png"} {
		_, err := os.Stat(p)
		require.NoError(t, err, p)
	}
}

func TestRunNamesOutputsByID(t *testing.T) {
	if testing.Short() {
		t.Skip("full generator pass is slow")
	}
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.LatentSize = 8
	cfg.Energies = []Real{1}
	cfg.RawOut = filepath.Join(dir, "gen-"+RunPlaceholder+".raw")
	cfg.PNGPrefix = filepath.Join(dir, "layer-"+RunPlaceholder)

	first, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	second, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	for _, res := range []*RunResult{first, second} {
		assert.Equal(t, filepath.Join(dir, "gen-"+res.ID+".raw"), res.Outputs.Raw)
		assert.Empty(t, res.Outputs.GIF)
		_, err := os.Stat(res.Outputs.Raw)
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(dir, "layer-"+res.ID+"_00.png"))
		require.NoError(t, err)
	}
	// The placeholder lives in the config, so repeated runs do not overwrite each other.
	assert.Contains(t, cfg.RawOut, RunPlaceholder)
}

func TestConfigOutputs(t *testing.T) {
	cfg := &Config{RawOut: "runs/{run}/gen.raw", GIFOut: "{run}.gif"}
	assert.Equal(t, Outputs{Raw: "runs/abc/gen.raw", GIF: "abc.gif"}, cfg.outputs("abc"))
	cfg = &Config{RawOut: "gen.raw", PNGPrefix: "png/layer"}
	assert.Equal(t, Outputs{Raw: "gen.raw", PNGPrefix: "png/layer"}, cfg.outputs("abc"))
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Energies = []Real{-1}
	_, err := Run(context.Background(), cfg)
	require.ErrorIs(t, err, ErrConfig)
}
