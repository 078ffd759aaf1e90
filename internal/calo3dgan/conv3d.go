package calo3dgan

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
)

type Padding int

const (
	Valid Padding = iota
	Same
)

func (p Padding) String() string {
	if p == Same {
		return "same"
	}
	return "valid"
}

// pads returns per-axis (before, after) zero padding. Same puts the odd voxel after, as Keras does.
func (p Padding) pads(kernel [3]int) [][2]int {
	out := make([][2]int, 3)
	if p != Same {
		return out
	}
	for a, k := range kernel {
		out[a] = [2]int{(k - 1) / 2, k / 2}
	}
	return out
}

// conv3d adds a stride-1 3-D convolution with bias. Weights are (kx, ky, kz, cin, filters).
func (s *stack) conv3d(x *graph.Node, filters int, kernel [3]int, padding Padding, init Initializer) *graph.Node {
	check3D("conv3d", x)
	if filters <= 0 {
		panic(fmt.Errorf("%w: conv3d filters must be > 0", ErrShape))
	}
	dims := x.Shape().Dimensions
	pads := padding.pads(kernel)
	for a, k := range kernel {
		if k <= 0 || dims[a+1]+pads[a][0]+pads[a][1]-k+1 <= 0 {
			panic(fmt.Errorf("%w: kernel %v with %s padding does not fit input %v", ErrShape, kernel, padding, dims[1:]))
		}
	}
	name, lctx := s.next("conv3d")
	dtype := x.DType()
	w := lctx.WithInitializer(init.New(lctx)).
		VariableWithShape("weights", shapes.Make(dtype, kernel[0], kernel[1], kernel[2], dims[4], filters)).
		ValueGraph(x.Graph())
	b := lctx.WithInitializer(initializers.Zero).
		VariableWithShape("biases", shapes.Make(dtype, filters)).
		ValueGraph(x.Graph())

	var out *graph.Node
	if s.grad {
		out = convolveGrad(x, w, pads)
	} else {
		out = graph.Convolve(x, w).PaddingPerDim(pads).Done()
	}
	out = graph.Add(out, graph.Reshape(b, 1, 1, 1, 1, filters))
	return s.record(name, "conv3d", lctx, out)
}

// convolveGrad is Convolve with gradients computed by convGradients. The convolution's own
// gradient needs backend ops the pure Go backend lacks, so the forward value is taken as a
// constant and a zero-valued carrier built from x and kernel brings the gradients back in.
func convolveGrad(x, kernel *graph.Node, pads [][2]int) *graph.Node {
	g := x.Graph()
	out := graph.Convolve(x, kernel).PaddingPerDim(pads).Done()
	outDims := out.Shape().Dimensions
	lx, lk, ly := x.Shape().Size(), kernel.Shape().Size(), out.Shape().Size()
	extra := ly - lx - lk

	parts := []*graph.Node{graph.Reshape(x, lx), graph.Reshape(kernel, lk)}
	if extra > 0 {
		parts = append(parts, graph.Zeros(g, shapes.Make(x.DType(), extra)))
	}
	carrier := graph.IdentityWithCustomGradient(graph.Concatenate(parts, 0), func(_, v *graph.Node) *graph.Node {
		dx, dk := convGradients(x, kernel, graph.Reshape(leading(v, ly), outDims...), pads)
		grads := []*graph.Node{graph.Reshape(dx, lx), graph.Reshape(dk, lk)}
		if extra > 0 {
			grads = append(grads, graph.Zeros(g, shapes.Make(x.DType(), extra)))
		}
		return graph.Concatenate(grads, 0)
	})
	zero := graph.Sub(carrier, graph.StopGradient(carrier))
	return graph.Add(graph.StopGradient(out), graph.Reshape(leading(zero, ly), outDims...))
}

// convGradients returns the gradients of a channels-last convolution with respect to its
// input and kernel, given v, the gradient with respect to its output.
func convGradients(x, kernel, v *graph.Node, pads [][2]int) (dx, dk *graph.Node) {
	g := x.Graph()
	kd := kernel.Shape().Dimensions
	kx, ky, kz, cin, cout := kd[0], kd[1], kd[2], kd[3], kd[4]

	// Input: full correlation of v with the spatially flipped, in/out swapped kernel.
	receptive := kx * ky * kz
	reversed := make([][]int32, receptive)
	for i := range reversed {
		reversed[i] = []int32{int32(receptive - 1 - i)}
	}
	flipped := graph.Gather(graph.Reshape(kernel, receptive, cin, cout), graph.Const(g, reversed))
	flipped = graph.TransposeAllAxes(graph.Reshape(flipped, kx, ky, kz, cin, cout), 0, 1, 2, 4, 3)
	back := make([][2]int, 3)
	for a, k := range [3]int{kx, ky, kz} {
		back[a] = [2]int{k - 1 - pads[a][0], k - 1 - pads[a][1]}
	}
	dx = graph.Convolve(v, flipped).PaddingPerDim(back).Done()

	// Kernel: correlate the input with v, with the batch axis playing the channel role.
	xt := graph.TransposeAllAxes(x, 4, 1, 2, 3, 0)
	vt := graph.TransposeAllAxes(v, 1, 2, 3, 0, 4)
	dk = graph.Convolve(xt, vt).PaddingPerDim(pads).Done()
	dk = graph.TransposeAllAxes(dk, 1, 2, 3, 0, 4)
	return dx, dk
}

// leading returns the first n entries of the flat node v.
func leading(v *graph.Node, n int) *graph.Node {
	if v.Shape().Size() == n {
		return v
	}
	start := graph.Const(v.Graph(), []int32{0})
	return graph.GatherSlices(v, []int{0}, start, []int{n}, true)
}
