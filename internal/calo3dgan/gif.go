package calo3dgan

import (
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"math"
	"os"
)

var grayPalette = func() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{Y: uint8(i)}
	}
	return p
}()

// sliceScale returns 1/max over the z layer k of one event, or 1 for an empty layer.
func sliceScale(ev []Real, nx, ny, nz, k int) Real {
	sliceMax := 0.0
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			if v := ev[(i*ny+j)*nz+k]; v > sliceMax {
				sliceMax = v
			}
		}
	}
	if sliceMax == 0 {
		return 1 // avoid div-by-zero, will be black anyway
	}
	return 1 / sliceMax
}

// gammaMap maps v*scale in [0,1] through 1/gamma.
func gammaMap(v, scale, gamma Real) Real {
	if v <= 0 {
		return 0
	}
	n := v * scale
	if n > 1 {
		n = 1
	}
	if gamma != 1 {
		n = math.Pow(n, 1.0/gamma)
	}
	return n
}

func singleEvent(t *Tensor, event int) (ev []Real, nx, ny, nz int, err error) {
	n, nx, ny, nz, nc, err := t.Dims5()
	if err != nil {
		return nil, 0, 0, 0, err
	}
	if nc != 1 {
		return nil, 0, 0, 0, fmt.Errorf("%w: rendering needs a single channel, got %d", ErrShape, nc)
	}
	if event < 0 || event >= n {
		return nil, 0, 0, 0, fmt.Errorf("%w: event %d out of range [0, %d)", ErrShape, event, n)
	}
	return t.Sample(event), nx, ny, nz, nil
}

// SaveAnimatedGIF writes one grayscale frame per calorimeter layer (z) of a channels-last
// shower. Each layer is normalized to its own peak; delay is in 100ths of a second.
func SaveAnimatedGIF(t *Tensor, event int, path string, delay int, gamma Real) error {
	ev, nx, ny, nz, err := singleEvent(t, event)
	if err != nil {
		return err
	}
	out := &gif.GIF{
		Image:     make([]*image.Paletted, 0, nz),
		Delay:     make([]int, 0, nz),
		LoopCount: 0,
	}
	for k := 0; k < nz; k++ {
		scale := sliceScale(ev, nx, ny, nz, k)
		img := image.NewPaletted(image.Rect(0, 0, nx, ny), grayPalette)
		// flip Y so up is up
		for j := 0; j < ny; j++ {
			row := (ny - 1 - j) * img.Stride
			for i := 0; i < nx; i++ {
				img.Pix[row+i] = uint8(math.Round(gammaMap(ev[(i*ny+j)*nz+k], scale, gamma) * 255))
			}
		}
		out.Image = append(out.Image, img)
		out.Delay = append(out.Delay, delay)
	}
	DebugLog("GIF %s: %d layers of %dx%d", path, nz, nx, ny)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gif.EncodeAll(f, out)
}
