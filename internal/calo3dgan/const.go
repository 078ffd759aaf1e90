package calo3dgan

import "github.com/gomlx/gomlx/pkg/core/dtypes"

// Real is the scalar type of every tensor buffer; realDType is its graph dtype.
type Real = float64

const realDType = dtypes.Float64

// Calorimeter grid and model constants.
const (
	GridX               = 51
	GridY               = 51
	GridZ               = 25
	GridC               = 1
	LatentSize          = 256
	GeneratorDenseUnits = 5184 // 9*9*8*8
	Power               = 1.0  // default image power the discriminator inverts
	EmptyEventAngle     = 100.0
	Epsilon             = 1e-7 // stability floor for the z projection
	BNEpsilon           = 1e-6
	BNMomentum          = 0.99
	LeakyAlpha          = 0.3
	DropoutRate         = 0.2
	NumBins             = 8
	Seed                = 1
	RawOut              = "showers.raw"
	GIFOut              = "shower.gif"
	GIFDelay            = 20 // 100ths of a second per frame
	Gamma               = 0.75
)

// BinLimits are the descending occupancy histogram boundaries used by Count.
var BinLimits = [NumBins - 2]Real{0.05, 0.03, 0.02, 0.0125, 0.008, 0.003}

// DefaultEnergies are primary particle energies (in units of 100 GeV) used when the config has none.
var DefaultEnergies = []Real{1.0, 2.0, 3.0, 4.0}
