package calo3dgan

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// EcalSum returns the total deposited intensity per event and channel, shape (N, C).
func EcalSum(image *Tensor, format DataFormat) (*Tensor, error) {
	img, err := ToChannelsLast(image, format)
	if err != nil {
		return nil, err
	}
	n, _, _, _, nc, _ := img.Dims5()
	out := Zeros(n, nc)
	for b := 0; b < n; b++ {
		ev := img.Sample(b)
		sums := out.Sample(b)
		if nc == 1 {
			sums[0] = floats.Sum(ev)
			continue
		}
		for v := 0; v < len(ev); v += nc {
			floats.Add(sums, ev[v:v+nc])
		}
	}
	return out, nil
}

// binOf maps a voxel value to its occupancy bin, or -1 when it falls in none.
// Bin boundaries are exclusive on both sides, so values equal to a limit are not counted.
func binOf(v Real) int {
	switch {
	case v > BinLimits[0]:
		return 0
	case v == 0:
		return NumBins - 1
	case v > 0 && v < BinLimits[len(BinLimits)-1]:
		return NumBins - 2
	}
	for i := 1; i < len(BinLimits); i++ {
		if v < BinLimits[i-1] && v > BinLimits[i] {
			return i
		}
	}
	return -1
}

// Count histograms voxel intensities into NumBins occupancy bins, shape (N, NumBins*C, 1).
// Bins are laid out bin-major: all channels of bin 0, then bin 1, and so on.
func Count(image *Tensor, format DataFormat) (*Tensor, error) {
	img, err := ToChannelsLast(image, format)
	if err != nil {
		return nil, err
	}
	n, _, _, _, nc, _ := img.Dims5()
	out := Zeros(n, NumBins*nc, 1)
	for b := 0; b < n; b++ {
		ev := img.Sample(b)
		bins := out.Sample(b)
		for v, val := range ev {
			if k := binOf(val); k >= 0 {
				bins[k*nc+v%nc]++
			}
		}
	}
	return out, nil
}

// EcalAngle measures the incidence angle of each event from the drift of per-layer
// barycenters around the global barycenter, shape (N, 1). The image must have a single
// channel. Events with no deposit get EmptyEventAngle.
func EcalAngle(image *Tensor, format DataFormat) (*Tensor, error) {
	return ecalAngle(context.Background(), image, format, 0)
}

func ecalAngle(ctx context.Context, image *Tensor, format DataFormat, workers int) (*Tensor, error) {
	img, err := ToChannelsLast(image, format)
	if err != nil {
		return nil, err
	}
	n, nx, ny, nz, nc, _ := img.Dims5()
	if nc != 1 {
		return nil, fmt.Errorf("%w: angle needs a single channel, got %d", ErrShape, nc)
	}
	out := Zeros(n, 1)
	err = parallelFor(ctx, n, workers, func(b int) error {
		out.Data[b] = eventAngle(img.Sample(b), nx, ny, nz)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func eventAngle(ev []Real, nx, ny, nz int) Real {
	sumtot := floats.Sum(ev)
	if sumtot == 0 {
		return EmptyEventAngle
	}

	sumx := make([]Real, nx)
	sumy := make([]Real, ny)
	sumz := make([]Real, nz)
	xz := make([]Real, nz) // Σ_xy v*(x+0.5) per layer
	yz := make([]Real, nz)
	for i := 0; i < nx; i++ {
		xp := Real(i) + 0.5
		for j := 0; j < ny; j++ {
			yp := Real(j) + 0.5
			row := ev[(i*ny+j)*nz : (i*ny+j+1)*nz]
			for k, v := range row {
				if v == 0 {
					continue
				}
				sumx[i] += v
				sumy[j] += v
				sumz[k] += v
				xz[k] += v * xp
				yz[k] += v * yp
			}
		}
	}

	pos := func(n int) []Real {
		p := make([]Real, n)
		if n == 1 {
			p[0] = 0.5
			return p
		}
		floats.Span(p, 0.5, Real(n)-0.5)
		return p
	}
	xref := floats.Dot(sumx, pos(nx)) / sumtot
	yref := floats.Dot(sumy, pos(ny)) / sumtot
	zref := floats.Dot(sumz, pos(nz)) / sumtot

	var weighted, weights Real
	for k := 0; k < nz; k++ {
		if sumz[k] == 0 {
			continue
		}
		z := Real(k) + 0.5
		xmid := xz[k] / sumz[k]
		ymid := yz[k] / sumz[k]
		dx, dz := xmid-xref, z-zref
		zproj := math.Sqrt(math.Max(dx*dx+dz*dz, Epsilon))
		if zproj == 0 {
			continue
		}
		m := (ymid - yref) / zproj
		if z < zref {
			m = -m
		}
		ang := math.Pi/2 - math.Atan(m)
		weighted += ang * z
		weights += z
	}
	if weights == 0 {
		return EmptyEventAngle
	}
	return weighted / weights
}
