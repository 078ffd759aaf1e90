package calo3dgan

import (
	"fmt"
	"math"

	"github.com/gomlx/gomlx/pkg/core/graph"
)

// The graph versions of the physics features below take channels-last (N, X, Y, Z, C)
// nodes and are differentiable, so the discriminator's angle and energy heads pass
// gradients back to the image.

// EcalSumGraph is the graph form of EcalSum, shape (N, C).
func EcalSumGraph(x *graph.Node) *graph.Node {
	check3D("ecal sum", x)
	return graph.ReduceSum(x, 1, 2, 3)
}

// CountGraph is the graph form of Count, shape (N, NumBins*C, 1), bin-major.
func CountGraph(x *graph.Node) *graph.Node {
	check3D("count", x)
	g := x.Graph()
	limit := func(i int) *graph.Node { return graph.Scalar(g, x.DType(), BinLimits[i]) }
	zero := graph.ScalarZero(g, x.DType())
	last := len(BinLimits) - 1

	masks := make([]*graph.Node, 0, NumBins)
	masks = append(masks, graph.GreaterThan(x, limit(0)))
	for i := 1; i <= last; i++ {
		masks = append(masks, graph.LogicalAnd(graph.LessThan(x, limit(i-1)), graph.GreaterThan(x, limit(i))))
	}
	masks = append(masks,
		graph.LogicalAnd(graph.GreaterThan(x, zero), graph.LessThan(x, limit(last))),
		graph.Equal(x, zero))

	bins := make([]*graph.Node, len(masks))
	for i, m := range masks {
		bins[i] = graph.ReduceSum(graph.ConvertDType(m, x.DType()), 1, 2, 3)
	}
	n, nc := x.Shape().Dimensions[0], x.Shape().Dimensions[4]
	return graph.Reshape(graph.Concatenate(bins, 1), n, NumBins*nc, 1)
}

// EcalAngleGraph is the graph form of EcalAngle, shape (N, 1). x must have a single channel.
func EcalAngleGraph(x *graph.Node) *graph.Node {
	check3D("angle", x)
	d := x.Shape().Dimensions
	if d[4] != 1 {
		panic(fmt.Errorf("%w: angle needs a single channel, got %d", ErrShape, d[4]))
	}
	g := x.Graph()
	dtype := x.DType()
	n, nx, ny, nz := d[0], d[1], d[2], d[3]
	v := graph.Reshape(x, n, nx, ny, nz)

	// Voxel centres along one axis, shaped to broadcast against dims.
	centres := func(size int, dims ...int) *graph.Node {
		p := make([]Real, size)
		for i := range p {
			p[i] = Real(i) + 0.5
		}
		return graph.Reshape(graph.Const(g, p), dims...)
	}
	px := centres(nx, 1, nx)
	py := centres(ny, 1, ny)
	pz := graph.BroadcastToDims(centres(nz, 1, nz), n, nz)

	sumtot := graph.ReduceSum(v, 1, 2, 3)
	sumx := graph.ReduceSum(v, 2, 3)
	sumy := graph.ReduceSum(v, 1, 3)
	sumz := graph.ReduceSum(v, 1, 2)
	xz := graph.ReduceSum(graph.Mul(v, graph.Reshape(px, 1, nx, 1, 1)), 1, 2)
	yz := graph.ReduceSum(graph.Mul(v, graph.Reshape(py, 1, 1, ny, 1)), 1, 2)

	perEvent := func(ref *graph.Node) *graph.Node {
		return graph.BroadcastToDims(graph.Reshape(ref, n, 1), n, nz)
	}
	xref := perEvent(safeDiv(graph.ReduceSum(graph.Mul(sumx, px), 1), sumtot))
	yref := perEvent(safeDiv(graph.ReduceSum(graph.Mul(sumy, py), 1), sumtot))
	zref := perEvent(safeDiv(graph.ReduceSum(graph.Mul(sumz, pz), 1), sumtot))

	dx := graph.Sub(safeDiv(xz, sumz), xref)
	dz := graph.Sub(pz, zref)
	zproj := graph.Sqrt(graph.MaxScalar(graph.Add(graph.Square(dx), graph.Square(dz)), Epsilon))
	m := graph.Div(graph.Sub(safeDiv(yz, sumz), yref), zproj)
	m = graph.Where(graph.LessThan(pz, zref), graph.Neg(m), m)
	ang := graph.Sub(graph.Scalar(g, dtype, math.Pi/2), atanGraph(m))

	zero := graph.ScalarZero(g, dtype)
	w := graph.Where(graph.NotEqual(sumz, zero), pz, graph.ZerosLike(pz))
	weighted := graph.ReduceSum(graph.Mul(ang, w), 1)
	weights := graph.ReduceSum(w, 1)

	empty := graph.LogicalOr(graph.Equal(sumtot, zero), graph.Equal(weights, zero))
	out := graph.Where(empty, graph.Scalar(g, dtype, EmptyEventAngle), safeDiv(weighted, weights))
	return graph.Reshape(out, n, 1)
}

// PowGraph raises x to a elementwise with a gradient that stays finite at zero.
func PowGraph(x *graph.Node, a Real) *graph.Node {
	if a == 1 {
		return x
	}
	zero := graph.ScalarZero(x.Graph(), x.DType())
	isZero := graph.Equal(x, zero)
	safe := graph.Where(isZero, graph.OnesLike(x), x)
	return graph.Where(isZero, graph.ZerosLike(x), graph.PowScalar(safe, a))
}

// safeDiv is a/b with 0 wherever b is 0; a and b have the same shape.
func safeDiv(a, b *graph.Node) *graph.Node {
	isZero := graph.Equal(b, graph.ScalarZero(b.Graph(), b.DType()))
	den := graph.Where(isZero, graph.OnesLike(b), b)
	return graph.Where(isZero, graph.ZerosLike(a), graph.Div(a, den))
}

// atanGraph computes arctan with four half-angle reductions, atan(t) = 2 atan(t / (1 + sqrt(1 + t²))),
// which bring |t| under tan(π/32), then an odd Taylor series.
func atanGraph(t *graph.Node) *graph.Node {
	const halvings = 4
	for i := 0; i < halvings; i++ {
		t = graph.Div(t, graph.AddScalar(graph.Sqrt(graph.AddScalar(graph.Square(t), 1)), 1))
	}
	t2 := graph.Square(t)
	// Horner form of t - t³/3 + t⁵/5 - ... - t¹⁵/15.
	sum := graph.ZerosLike(t)
	for k := 15; k >= 1; k -= 2 {
		c := 1 / Real(k)
		if (k/2)%2 == 1 {
			c = -c
		}
		sum = graph.AddScalar(graph.Mul(sum, t2), c)
	}
	return graph.MulScalar(graph.Mul(sum, t), 1<<halvings)
}
