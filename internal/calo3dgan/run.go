package calo3dgan

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunPlaceholder in an output path is replaced by the run ID.
const RunPlaceholder = "{run}"

// RunResult is what a generate run produced.
type RunResult struct {
	ID       string
	Energies []Real
	Showers  *Tensor // in the configured data format
	Scores   *DiscriminatorOutput
	Elapsed  time.Duration
	Outputs  Outputs
}

// Outputs are the files a run writes, with RunPlaceholder expanded. Empty GIF and
// PNGPrefix are skipped.
type Outputs struct {
	Raw       string
	GIF       string
	PNGPrefix string
}

func (c *Config) outputs(id string) Outputs {
	expand := func(p string) string { return strings.ReplaceAll(p, RunPlaceholder, id) }
	return Outputs{Raw: expand(c.RawOut), GIF: expand(c.GIFOut), PNGPrefix: expand(c.PNGPrefix)}
}

// Run generates one shower per configured energy, scores them with a freshly built
// discriminator and writes the raw volume plus optional GIF/PNG renderings of event 0.
// Each run gets a random ID that names its outputs wherever their paths contain RunPlaceholder.
func Run(ctx context.Context, cfg *Config) (*RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	log := logger.With(zap.String("run", id))
	opts := []Option{WithSeed(cfg.Seed)}

	gen, err := NewGenerator(cfg.LatentSize, cfg.DataFormat, opts...)
	if err != nil {
		return nil, fmt.Errorf("build generator: %w", err)
	}
	disc, err := NewDiscriminator(cfg.Power, cfg.DataFormat, opts...)
	if err != nil {
		return nil, fmt.Errorf("build discriminator: %w", err)
	}
	log.Info("models built",
		zap.Int("generatorParams", gen.Params()),
		zap.Int("discriminatorParams", disc.Params()),
		zap.Stringer("format", cfg.DataFormat),
	)

	rng := rand.New(rand.NewSource(cfg.Seed))
	latent, err := Latent(rng, cfg.Energies, cfg.LatentSize)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	showers, err := gen.Forward(ctx, latent, false)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	// Generated images already live in the powered space the discriminator expects.
	scores, err := disc.Forward(ctx, showers, false)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	elapsed := time.Since(start)
	for i, e := range cfg.Energies {
		log.Info("event",
			zap.Int("event", i),
			zap.Float64("energy", e),
			zap.Float64("fake", scores.Fake[i]),
			zap.Float64("aux", scores.Aux[i]),
			zap.Float64("angle", scores.Angle[i]),
			zap.Float64("ecal", scores.Ecal[i]),
		)
	}
	log.Info("forward passes done", zap.Int("events", len(cfg.Energies)), zap.Duration("elapsed", elapsed))

	out := cfg.outputs(id)
	if err := writeOutputs(cfg, out, showers, log); err != nil {
		return nil, err
	}
	return &RunResult{ID: id, Energies: cfg.Energies, Showers: showers, Scores: scores, Elapsed: elapsed, Outputs: out}, nil
}

func writeOutputs(cfg *Config, out Outputs, showers *Tensor, log *zap.Logger) error {
	cl, err := ToChannelsLast(showers, cfg.DataFormat)
	if err != nil {
		return err
	}
	if err := SaveRawVolume(out.Raw, cl); err != nil {
		return fmt.Errorf("save %s: %w", out.Raw, err)
	}
	log.Info("saved raw volume", zap.String("path", out.Raw))
	if cl.Batch() == 0 {
		return nil
	}
	if out.GIF != "" {
		if err := SaveAnimatedGIF(cl, 0, out.GIF, cfg.GIFDelay, cfg.Gamma); err != nil {
			return fmt.Errorf("save %s: %w", out.GIF, err)
		}
		log.Info("saved animated GIF", zap.String("path", out.GIF))
	}
	if out.PNGPrefix != "" {
		if err := SavePNGSequence16(cl, 0, out.PNGPrefix, cfg.Gamma); err != nil {
			return fmt.Errorf("save %s: %w", out.PNGPrefix, err)
		}
		log.Info("saved PNG sequence", zap.String("prefix", out.PNGPrefix))
	}
	return nil
}

// Score runs a discriminator built from cfg over showers stored by SaveRawVolume.
func Score(ctx context.Context, cfg *Config, path string) (*DiscriminatorOutput, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	vol, err := LoadRawVolume(path)
	if err != nil {
		return nil, err
	}
	disc, err := NewDiscriminator(cfg.Power, cfg.DataFormat, WithSeed(cfg.Seed))
	if err != nil {
		return nil, err
	}
	img, err := FromChannelsLast(vol, cfg.DataFormat)
	if err != nil {
		return nil, err
	}
	return disc.Forward(ctx, img, false)
}

// FeatureReport holds the model-free physics features of a batch.
type FeatureReport struct {
	Ecal  []Real
	Angle []Real
	Bins  [][]Real // NumBins occupancy counts per event
}

// Features computes energy sum, incidence angle and occupancy bins for showers stored
// by SaveRawVolume, after undoing power. Angles are measured on up to workers goroutines
// (0 means one per CPU).
func Features(ctx context.Context, path string, power Real, workers int) (*FeatureReport, error) {
	if !isFinite(power) || power <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrPower, power)
	}
	vol, err := LoadRawVolume(path)
	if err != nil {
		return nil, err
	}
	inv := vol.Pow(1 / power)
	ecal, err := EcalSum(inv, ChannelsLast)
	if err != nil {
		return nil, err
	}
	ang, err := ecalAngle(ctx, inv, ChannelsLast, workers)
	if err != nil {
		return nil, err
	}
	counts, err := Count(inv, ChannelsLast)
	if err != nil {
		return nil, err
	}
	rep := &FeatureReport{Ecal: ecal.Data, Angle: ang.Data, Bins: make([][]Real, inv.Batch())}
	for b := range rep.Bins {
		rep.Bins[b] = counts.Sample(b)
	}
	return rep, nil
}
