package calo3dgan

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	"go.uber.org/zap"
)

// graphFn builds a model's forward pass on a channels-last batch through s.
type graphFn func(s *stack, x *graph.Node) []*graph.Node

// model owns the variables and compiled executors of one network.
type model struct {
	name    string
	scope   string
	backend backends.Backend
	build   graphFn
	rows    []LayerSummary

	mu    sync.Mutex
	ctx   *mlctx.Context
	execs map[string]*mlctx.Exec
}

// newModel creates the variables of build by tracing it once on a single event of shape
// input, then initializes them from seed.
func newModel(name, scope string, seed int64, input []int, build graphFn) (m *model, err error) {
	defer catch(&err)
	backend, err := modelBackend()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	ctx := mlctx.New()
	if err := ctx.SetRNGStateFromSeed(seed); err != nil {
		return nil, err
	}
	m = &model{name: name, scope: scope, backend: backend, build: build, execs: make(map[string]*mlctx.Exec)}

	var rows []LayerSummary
	trace, err := mlctx.NewExec(backend, ctx, func(ctx *mlctx.Context, x *graph.Node) []*graph.Node {
		s := newStack(ctx.In(scope), false, false)
		ctx.SetTraining(x.Graph(), false)
		outs := build(s, x)
		rows = s.rows
		return outs
	})
	if err != nil {
		return nil, err
	}
	defer trace.Finalize()
	if err := trace.PreCompile(tensors.FromShape(shapes.Make(realDType, append([]int{1}, input...)...))); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := ctx.InitializeVariables(backend, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	m.rows = rows
	m.ctx = ctx.Reuse()
	logger.Debug("model built", zap.String("model", name), zap.Int("params", m.Params()), zap.String("backend", backend.Name()))
	return m, nil
}

// exec returns the executor cached under key, creating it with fn on first use.
// Callers hold m.mu.
func (m *model) exec(key string, fn any) (*mlctx.Exec, error) {
	if e, ok := m.execs[key]; ok {
		return e, nil
	}
	e, err := mlctx.NewExecAny(m.backend, m.ctx, fn)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", m.name, key, err)
	}
	m.execs[key] = e
	return e, nil
}

// run executes the executor under key, stopping early if ctx is done.
func (m *model) run(ctx context.Context, key string, fn any, args ...any) (out []*tensors.Tensor, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defer catch(&err)
	e, err := m.exec(key, fn)
	if err != nil {
		return nil, err
	}
	out, err = e.Exec(args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", m.name, key, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// forward is the graph function of a plain forward pass.
func (m *model) forward(training, grad bool) func(ctx *mlctx.Context, x *graph.Node) []*graph.Node {
	return func(ctx *mlctx.Context, x *graph.Node) []*graph.Node {
		ctx.SetTraining(x.Graph(), training)
		return m.build(newStack(ctx.In(m.scope), training, grad), x)
	}
}

// Layers returns one summary row per layer, in order.
func (m *model) Layers() []LayerSummary { return slices.Clone(m.rows) }

// Params counts every variable of the model, trainable or not.
func (m *model) Params() int { return countParams(m.ctx.In(m.scope)) }

// Variables lists the scoped names of the model's variables, sorted.
func (m *model) Variables() []string {
	var names []string
	for v := range m.ctx.In(m.scope).IterVariablesInScope() {
		names = append(names, v.ScopeAndName())
	}
	slices.Sort(names)
	return names
}

func (m *model) variable(name string) (*mlctx.Variable, error) {
	for v := range m.ctx.In(m.scope).IterVariablesInScope() {
		if v.ScopeAndName() == name {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no variable %q", ErrConfig, m.name, name)
}

// Variable returns a copy of the named variable's value.
func (m *model) Variable(name string) (*Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.variable(name)
	if err != nil {
		return nil, err
	}
	t, err := v.Value()
	if err != nil {
		return nil, err
	}
	return fromTensors(t)
}

// SetVariable overwrites the named variable; the shape must match.
func (m *model) SetVariable(name string, value *Tensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.variable(name)
	if err != nil {
		return err
	}
	if want := v.Shape().Dimensions; !sameShape(want, value.Shape) {
		return fmt.Errorf("%w: %s is %v, got %v", ErrShape, name, want, value.Shape)
	}
	return v.SetValue(toTensors(value))
}

// trainable returns the model's trainable variables in name order.
func (m *model) trainable() []*mlctx.Variable {
	var vars []*mlctx.Variable
	for v := range m.ctx.In(m.scope).IterVariablesInScope() {
		if v.Trainable {
			vars = append(vars, v)
		}
	}
	slices.SortFunc(vars, func(a, b *mlctx.Variable) int {
		return strings.Compare(a.ScopeAndName(), b.ScopeAndName())
	})
	return vars
}

// Gradients holds the gradient of a scalar loss with respect to a model's input and
// each trainable variable, keyed by scoped variable name.
type Gradients struct {
	Loss      Real
	Input     *Tensor
	Variables map[string]*Tensor
}

func (m *model) gradients(outs []*tensors.Tensor, vars []string) (*Gradients, error) {
	if len(outs) != len(vars)+2 {
		return nil, fmt.Errorf("%w: %s gradients: got %d outputs for %d variables", ErrShape, m.name, len(outs), len(vars))
	}
	loss, err := column(outs[0])
	if err != nil {
		return nil, err
	}
	in, err := fromTensors(outs[1])
	if err != nil {
		return nil, err
	}
	g := &Gradients{Loss: loss[0], Input: in, Variables: make(map[string]*Tensor, len(vars))}
	for i, name := range vars {
		if g.Variables[name], err = fromTensors(outs[i+2]); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// withRespectTo differentiates loss with respect to x and the value of each variable.
func withRespectTo(loss, x *graph.Node, vars []*mlctx.Variable) []*graph.Node {
	nodes := []*graph.Node{x}
	for _, v := range vars {
		nodes = append(nodes, v.ValueGraph(x.Graph()))
	}
	return graph.Gradient(loss, nodes...)
}

func variableNames(vars []*mlctx.Variable) []string {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.ScopeAndName()
	}
	return names
}
