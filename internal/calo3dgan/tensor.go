package calo3dgan

import (
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// DataFormat selects where the channel axis lives in 5-D image tensors.
type DataFormat int

const (
	ChannelsLast  DataFormat = iota // (N, X, Y, Z, C)
	ChannelsFirst                   // (N, C, X, Y, Z)
)

func (f DataFormat) String() string {
	switch f {
	case ChannelsLast:
		return "channels_last"
	case ChannelsFirst:
		return "channels_first"
	}
	return fmt.Sprintf("DataFormat(%d)", int(f))
}

func ParseDataFormat(s string) (DataFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "channels_last", "last":
		return ChannelsLast, nil
	case "channels_first", "first":
		return ChannelsFirst, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrFormat, s)
}

func (f DataFormat) MarshalYAML() (interface{}, error) { return f.String(), nil }

func (f *DataFormat) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseDataFormat(value.Value)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ImageShape returns the per-event image shape for the grid in format f.
func (f DataFormat) ImageShape() []int {
	if f == ChannelsFirst {
		return []int{GridC, GridX, GridY, GridZ}
	}
	return []int{GridX, GridY, GridZ, GridC}
}

// Tensor is a dense row-major buffer. Shape[0] is the batch axis for every model input/output.
type Tensor struct {
	Shape []int
	Data  []Real
}

// MaxElements bounds the number of values in a Tensor so its byte size fits in an int.
const MaxElements = math.MaxInt / 8

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// checkedNumel is numel for untrusted shapes: it rejects negative dimensions and
// products above MaxElements.
func checkedNumel(shape []int) (int, error) {
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
		if d == 0 {
			return 0, nil
		}
	}
	n := 1
	for _, d := range shape {
		if n > MaxElements/d {
			return 0, fmt.Errorf("%w: shape %v exceeds %d elements", ErrShape, shape, MaxElements)
		}
		n *= d
	}
	return n, nil
}

// NewTensor wraps data; a nil data allocates zeros.
func NewTensor(shape []int, data []Real) (*Tensor, error) {
	n, err := checkedNumel(shape)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = make([]Real, n)
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: %d values for shape %v (want %d)", ErrShape, len(data), shape, n)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Zeros allocates a zero tensor; it panics on negative dimensions.
func Zeros(shape ...int) *Tensor {
	t, err := NewTensor(shape, nil)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Tensor) Len() int { return len(t.Data) }

func (t *Tensor) Rank() int { return len(t.Shape) }

// Batch is the size of the leading axis.
func (t *Tensor) Batch() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Sample returns the per-event slice of the buffer (shares memory).
func (t *Tensor) Sample(n int) []Real {
	size := numel(t.Shape[1:])
	return t.Data[n*size : (n+1)*size]
}

func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: append([]int(nil), t.Shape...), Data: append([]Real(nil), t.Data...)}
}

// Reshape returns a view with a new shape over the same data.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if n, err := checkedNumel(shape); err != nil || n != len(t.Data) {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShape, t.Shape, shape)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: t.Data}, nil
}

// Dims5 returns the dimensions of a rank-5 channels-last tensor.
func (t *Tensor) Dims5() (n, x, y, z, c int, err error) {
	if len(t.Shape) != 5 {
		return 0, 0, 0, 0, 0, fmt.Errorf("%w: want rank 5, got %v", ErrShape, t.Shape)
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], t.Shape[4], nil
}

// idx5 is the flat index of (n, i, j, k, c) in a channels-last buffer.
func idx5(i, j, k, c, ny, nz, nc int) int {
	return ((i*ny+j)*nz+k)*nc + c
}

// At reads element (n, x, y, z, c) of a rank-5 channels-last tensor.
func (t *Tensor) At(n, x, y, z, c int) Real {
	s := t.Shape
	return t.Data[n*s[1]*s[2]*s[3]*s[4]+idx5(x, y, z, c, s[2], s[3], s[4])]
}

func (t *Tensor) Set(n, x, y, z, c int, v Real) {
	s := t.Shape
	t.Data[n*s[1]*s[2]*s[3]*s[4]+idx5(x, y, z, c, s[2], s[3], s[4])] = v
}

// Pow raises every element to a. Exponent 1 returns a copy.
func (t *Tensor) Pow(a Real) *Tensor {
	out := t.Clone()
	if a == 1 {
		return out
	}
	for i, v := range out.Data {
		out.Data[i] = math.Pow(v, a)
	}
	return out
}

// ToChannelsLast converts a rank-5 tensor laid out in format from to (N, X, Y, Z, C).
// A channels-last input is returned as is.
func ToChannelsLast(t *Tensor, from DataFormat) (*Tensor, error) {
	if len(t.Shape) != 5 {
		return nil, fmt.Errorf("%w: want rank 5, got %v", ErrShape, t.Shape)
	}
	switch from {
	case ChannelsLast:
		return t, nil
	case ChannelsFirst:
	default:
		return nil, fmt.Errorf("%w: %v", ErrFormat, from)
	}
	n, nc, nx, ny, nz := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], t.Shape[4]
	out := Zeros(n, nx, ny, nz, nc)
	vol := nx * ny * nz
	for b := 0; b < n; b++ {
		src := t.Sample(b)
		dst := out.Sample(b)
		for c := 0; c < nc; c++ {
			plane := src[c*vol : (c+1)*vol]
			for v, val := range plane {
				dst[v*nc+c] = val
			}
		}
	}
	return out, nil
}

// FromChannelsLast converts a channels-last rank-5 tensor into format to.
func FromChannelsLast(t *Tensor, to DataFormat) (*Tensor, error) {
	if len(t.Shape) != 5 {
		return nil, fmt.Errorf("%w: want rank 5, got %v", ErrShape, t.Shape)
	}
	switch to {
	case ChannelsLast:
		return t, nil
	case ChannelsFirst:
	default:
		return nil, fmt.Errorf("%w: %v", ErrFormat, to)
	}
	n, nx, ny, nz, nc := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], t.Shape[4]
	out := Zeros(n, nc, nx, ny, nz)
	vol := nx * ny * nz
	for b := 0; b < n; b++ {
		src := t.Sample(b)
		dst := out.Sample(b)
		for v := 0; v < vol; v++ {
			for c := 0; c < nc; c++ {
				dst[c*vol+v] = src[v*nc+c]
			}
		}
	}
	return out, nil
}
