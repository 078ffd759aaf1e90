package calo3dgan

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// Activation is an elementwise nonlinearity. A nil Fn is the identity.
type Activation struct {
	Name string
	Fn   func(x *graph.Node) *graph.Node
}

var (
	Linear  = Activation{Name: "linear"}
	ReLU    = Activation{Name: "relu", Fn: activations.Relu}
	Sigmoid = Activation{Name: "sigmoid", Fn: graph.Sigmoid}
)

func LeakyReLU(alpha Real) Activation {
	return Activation{Name: "leaky_re_lu", Fn: func(x *graph.Node) *graph.Node {
		return activations.LeakyReluWithAlpha(x, alpha)
	}}
}

func (a Activation) apply(x *graph.Node) *graph.Node {
	if a.Fn == nil {
		return x
	}
	return a.Fn(x)
}

// activation adds a as a standalone layer. Leaky ReLU keeps its own Keras layer kind.
func (s *stack) activation(x *graph.Node, a Activation) *graph.Node {
	kind := "activation"
	if a.Name == "leaky_re_lu" {
		kind = a.Name
	}
	name, lctx := s.next(kind)
	return s.record(name, kind, lctx, a.apply(x))
}

// dropout zeroes a rate fraction of activations in training and rescales the rest;
// at inference it is the identity.
func (s *stack) dropout(x *graph.Node, rate Real) *graph.Node {
	name, lctx := s.next("dropout")
	return s.record(name, "dropout", lctx, layers.DropoutStatic(lctx, x, rate))
}
