package calo3dgan

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SaveRawVolume writes a channels-last rank-5 tensor as five little-endian int32 dimensions
// (N, X, Y, Z, C) followed by the float64 body.
func SaveRawVolume(path string, t *Tensor) error {
	n, nx, ny, nz, nc, err := t.Dims5()
	if err != nil {
		return err
	}
	// Use 64-bit multiply to avoid overflow.
	exp64 := int64(n) * int64(nx) * int64(ny) * int64(nz) * int64(nc)
	if int64(len(t.Data)) != exp64 {
		return fmt.Errorf("%w: data length %d, expected %d", ErrShape, len(t.Data), exp64)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, d := range t.Shape {
		if err := binary.Write(w, binary.LittleEndian, int32(d)); err != nil {
			return err
		}
	}
	if exp64 > 0 {
		if err := binary.Write(w, binary.LittleEndian, t.Data); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// rawHeaderSize is the byte length of the five int32 dimensions.
const rawHeaderSize = 5 * 4

// LoadRawVolume reads a file written by SaveRawVolume. The header must agree with the
// file size before the body is allocated.
func LoadRawVolume(path string) (*Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	r := bufio.NewReader(f)
	var hdr [5]int32
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	shape := make([]int, 5)
	for i, d := range hdr {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dimension in header %v", ErrShape, hdr)
		}
		shape[i] = int(d)
	}
	n, err := checkedNumel(shape)
	if err != nil {
		return nil, fmt.Errorf("header of %s: %w", path, err)
	}
	if want := rawHeaderSize + 8*int64(n); info.Size() != want {
		return nil, fmt.Errorf("%w: %s is %d bytes, header %v needs %d", ErrShape, path, info.Size(), hdr, want)
	}
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, t.Data); err != nil {
		return nil, fmt.Errorf("read body of %s: %w", path, err)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data in %s", ErrShape, path)
	}
	return t, nil
}
