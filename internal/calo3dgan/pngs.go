package calo3dgan

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
)

// SavePNGSequence16 writes one 16-bit grayscale PNG per calorimeter layer as
// <prefix>_<k>.png, zero-padded to the number of layers.
func SavePNGSequence16(t *Tensor, event int, prefix string, gamma Real) error {
	ev, nx, ny, nz, err := singleEvent(t, event)
	if err != nil {
		return err
	}

	width := 1
	if nz > 1 {
		width = int(math.Log10(Real(nz-1))) + 1
	}

	for k := 0; k < nz; k++ {
		scale := sliceScale(ev, nx, ny, nz, k)
		img := image.NewGray16(image.Rect(0, 0, nx, ny))
		for j := 0; j < ny; j++ {
			row := (ny - 1 - j) * img.Stride
			for i := 0; i < nx; i++ {
				v := uint16(math.Round(gammaMap(ev[(i*ny+j)*nz+k], scale, gamma) * 65535))
				// Gray16 stores big-endian uint16.
				img.Pix[row+2*i] = uint8(v >> 8)
				img.Pix[row+2*i+1] = uint8(v)
			}
		}

		full := fmt.Sprintf("%s_%0*d.png", prefix, width, k)
		f, err := os.Create(full)
		if err != nil {
			return err
		}
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(f, img); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	DebugLog("PNG %s: %d layers", prefix, nz)
	return nil
}
