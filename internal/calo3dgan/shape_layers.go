package calo3dgan

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// zeroPadding3D pads each spatial axis symmetrically with zeros.
func (s *stack) zeroPadding3D(x *graph.Node, pad [3]int) *graph.Node {
	check3D("zero_padding3d", x)
	name, lctx := s.next("zero_padding3d")
	out := x
	for a, p := range pad {
		if p <= 0 {
			continue
		}
		dims := append([]int(nil), out.Shape().Dimensions...)
		dims[a+1] = p
		z := graph.Zeros(x.Graph(), shapes.Make(x.DType(), dims...))
		out = graph.Concatenate([]*graph.Node{z, out, z}, a+1)
	}
	return s.record(name, "zero_padding3d", lctx, out)
}

// upSampling3D repeats every voxel size times along each spatial axis.
func (s *stack) upSampling3D(x *graph.Node, size [3]int) *graph.Node {
	check3D("up_sampling3d", x)
	if size[0] <= 0 || size[1] <= 0 || size[2] <= 0 {
		panic(fmt.Errorf("%w: upsampling size %v", ErrShape, size))
	}
	name, lctx := s.next("up_sampling3d")
	d := x.Shape().Dimensions
	out := graph.Reshape(x, d[0], d[1], 1, d[2], 1, d[3], 1, d[4])
	out = graph.BroadcastToDims(out, d[0], d[1], size[0], d[2], size[1], d[3], size[2], d[4])
	out = graph.Reshape(out, d[0], d[1]*size[0], d[2]*size[1], d[3]*size[2], d[4])
	return s.record(name, "up_sampling3d", lctx, out)
}

// averagePooling3D averages non-overlapping pool windows; trailing remainders are dropped.
func (s *stack) averagePooling3D(x *graph.Node, pool [3]int) *graph.Node {
	check3D("average_pooling3d", x)
	name, lctx := s.next("average_pooling3d")
	d := x.Shape().Dimensions
	out := [3]int{}
	for a, p := range pool {
		if p <= 0 || d[a+1]/p == 0 {
			panic(fmt.Errorf("%w: pool %v does not fit input %v", ErrShape, pool, d[1:]))
		}
		out[a] = d[a+1] / p
	}
	cropped := x
	for a := range pool {
		if keep := out[a] * pool[a]; keep != d[a+1] {
			start := graph.Const(x.Graph(), []int32{0})
			cropped = graph.GatherSlices(cropped, []int{a + 1}, start, []int{keep}, true)
		}
	}
	cropped = graph.Reshape(cropped, d[0], out[0], pool[0], out[1], pool[1], out[2], pool[2], d[4])
	return s.record(name, "average_pooling3d", lctx, graph.ReduceMean(cropped, 2, 4, 6))
}

// flatten collapses every non-batch axis.
func (s *stack) flatten(x *graph.Node) *graph.Node {
	name, lctx := s.next("flatten")
	d := x.Shape().Dimensions
	return s.record(name, "flatten", lctx, graph.Reshape(x, d[0], x.Shape().Size()/imax(d[0], 1)))
}

// reshape views each event with the target shape. With channelsFirst the target is read
// as (C, X, Y, Z) and the result is transposed to (X, Y, Z, C).
func (s *stack) reshape(x *graph.Node, target []int, channelsFirst bool) *graph.Node {
	n := x.Shape().Dimensions[0]
	if numel(target)*n != x.Shape().Size() {
		panic(fmt.Errorf("%w: cannot reshape %s into %v", ErrShape, x.Shape(), target))
	}
	if channelsFirst && len(target) != 4 {
		panic(fmt.Errorf("%w: channels-first reshape needs (C, X, Y, Z), got %v", ErrShape, target))
	}
	name, lctx := s.next("reshape")
	out := graph.Reshape(x, append([]int{n}, target...)...)
	if channelsFirst {
		out = graph.TransposeAllAxes(out, 0, 2, 3, 4, 1)
	}
	return s.record(name, "reshape", lctx, out)
}
