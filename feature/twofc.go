// Package feature - the fully connected ROI feature extractor that feeds the
// box-classification head: two dense layers with ReLU activations (fc6, fc7)
// turning pooled ROI features into one fixed-width vector per proposal.
package feature

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// TwoFCConfig carries the construction-time constants of the feature head.
type TwoFCConfig struct {
	// InDim is the width of the flattened pooled ROI features.
	InDim int
	// Hidden is the width of both hidden layers and of the output vector.
	Hidden int
	// Seed drives the variance-scaling weight initialization.
	Seed int64
}

// TwoFCHead holds the weights of the two dense layers. Construction is
// deterministic for a fixed config; the weights are read only afterwards.
type TwoFCHead struct {
	cfg    TwoFCConfig
	w6, w7 *tensor.Dense
	b6, b7 *tensor.Dense
}

// NewTwoFCHead initializes both layers with a seeded variance-scaling
// Gaussian (stddev sqrt(1/fanIn)) and zero biases.
func NewTwoFCHead(cfg TwoFCConfig) (*TwoFCHead, error) {
	if cfg.InDim <= 0 || cfg.Hidden <= 0 {
		return nil, errors.Errorf("feature: dimensions must be positive, got in=%d hidden=%d", cfg.InDim, cfg.Hidden)
	}

	src := rand.NewSource(uint64(cfg.Seed))
	return &TwoFCHead{
		cfg: cfg,
		w6:  weightTensor(cfg.InDim, cfg.Hidden, src),
		b6:  zeroVector(cfg.Hidden),
		w7:  weightTensor(cfg.Hidden, cfg.Hidden, src),
		b7:  zeroVector(cfg.Hidden),
	}, nil
}

// Forward runs features [N, InDim] through fc6-relu-fc7-relu on a gorgonia
// graph and returns the [N, Hidden] feature matrix.
func (h *TwoFCHead) Forward(features *tensor.Dense) (*tensor.Dense, error) {
	shape := features.Shape()
	if len(shape) != 2 || shape[1] != h.cfg.InDim {
		return nil, errors.Errorf("feature: input must have shape [N, %d], got %v", h.cfg.InDim, shape)
	}
	n := shape[0]
	if n == 0 {
		return nil, errors.New("feature: forward pass over zero proposals")
	}

	g := G.NewGraph()
	x := G.NewMatrix(g, tensor.Float32, G.WithShape(n, h.cfg.InDim), G.WithName("roi_features"))
	w6 := G.NodeFromAny(g, h.w6, G.WithName("fc6_w"))
	b6 := G.NodeFromAny(g, h.b6, G.WithName("fc6_b"))
	w7 := G.NodeFromAny(g, h.w7, G.WithName("fc7_w"))
	b7 := G.NodeFromAny(g, h.b7, G.WithName("fc7_b"))

	hidden, err := denseRelu(x, w6, b6)
	if err != nil {
		return nil, errors.Wrap(err, "feature: fc6")
	}
	out, err := denseRelu(hidden, w7, b7)
	if err != nil {
		return nil, errors.Wrap(err, "feature: fc7")
	}

	vm := G.NewTapeMachine(g)
	defer vm.Close()

	if err := G.Let(x, features); err != nil {
		return nil, errors.Wrap(err, "feature: binding input")
	}
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "feature: running graph")
	}

	val, ok := out.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("feature: unexpected output value type %T", out.Value())
	}
	// The tape machine owns its buffers, so hand back a copy.
	return val.Clone().(*tensor.Dense), nil
}

// denseRelu wires one x·w + b layer with a ReLU activation into the graph.
func denseRelu(x, w, b *G.Node) (*G.Node, error) {
	out, err := G.Mul(x, w)
	if err != nil {
		return nil, err
	}
	out, err = G.BroadcastAdd(out, b, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	return G.Rectify(out)
}

func weightTensor(fanIn, fanOut int, src rand.Source) *tensor.Dense {
	dist := distuv.Normal{Mu: 0, Sigma: math.Sqrt(1 / float64(fanIn)), Src: src}
	backing := make([]float32, fanIn*fanOut)
	for i := range backing {
		backing[i] = float32(dist.Rand())
	}
	return tensor.New(tensor.WithShape(fanIn, fanOut),
		tensor.Of(tensor.Float32), tensor.WithBacking(backing))
}

func zeroVector(n int) *tensor.Dense {
	return tensor.New(tensor.WithShape(n),
		tensor.Of(tensor.Float32), tensor.WithBacking(make([]float32, n)))
}
