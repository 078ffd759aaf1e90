package calo3dgan

type buildOptions struct {
	seed int64
}

// Option tunes model construction.
type Option func(*buildOptions)

// WithSeed fixes the weight initialization and dropout RNG.
func WithSeed(seed int64) Option { return func(o *buildOptions) { o.seed = seed } }

func applyOptions(opts []Option) buildOptions {
	o := buildOptions{seed: Seed}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
