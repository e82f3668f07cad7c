package head

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// Params holds the fully connected weights of the head's classification and
// box-regression output layers. Params are read only after construction.
type Params struct {
	cfg     Config
	featDim int

	clsW *tensor.Dense // featDim x NumClasses
	clsB []float32     // NumClasses
	boxW *tensor.Dense // featDim x K*4
	boxB []float32     // K*4
}

// NewParams builds the output layers for features of width featDim. Layer
// weights are drawn from seeded Gaussians (stddev 0.01 for classification,
// 0.001 for regression) and biases start at zero, so construction is
// deterministic for a fixed Config.
func NewParams(featDim int, cfg Config) (*Params, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if featDim <= 0 {
		return nil, errors.Errorf("head: feature dimension must be positive, got %d", featDim)
	}

	src := rand.NewSource(uint64(cfg.Seed))
	k := cfg.Kind.Slots(cfg.NumClasses)

	clsW := gaussianBacking(featDim*cfg.NumClasses, 0.01, src)
	boxW := gaussianBacking(featDim*k*4, 0.001, src)

	return &Params{
		cfg:     cfg,
		featDim: featDim,
		clsW: tensor.New(tensor.WithShape(featDim, cfg.NumClasses),
			tensor.Of(tensor.Float32), tensor.WithBacking(clsW)),
		clsB: make([]float32, cfg.NumClasses),
		boxW: tensor.New(tensor.WithShape(featDim, k*4),
			tensor.Of(tensor.Float32), tensor.WithBacking(boxW)),
		boxB: make([]float32, k*4),
	}, nil
}

// gaussianBacking draws n samples from N(0, stddev^2) using the shared source.
func gaussianBacking(n int, stddev float64, src rand.Source) []float32 {
	dist := distuv.Normal{Mu: 0, Sigma: stddev, Src: src}
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(dist.Rand())
	}
	return out
}

// Forward runs the two output layers over a feature matrix of shape [N,
// featDim], producing classification logits [N, NumClasses] and
// box-regression logits [N, K, 4]. The computation is a pure function of the
// features and the params; no state is retained between calls.
func (p *Params) Forward(features *tensor.Dense) (labelLogits, boxLogits *tensor.Dense, err error) {
	shape := features.Shape()
	if len(shape) != 2 || shape[1] != p.featDim {
		return nil, nil, errors.Errorf("head: features must have shape [N, %d], got %v", p.featDim, shape)
	}
	if shape[0] == 0 {
		return nil, nil, errors.New("head: forward pass over zero proposals")
	}

	labelLogits, err = denseLayer(features, p.clsW, p.clsB)
	if err != nil {
		return nil, nil, errors.Wrap(err, "head: classification layer")
	}

	boxLogits, err = denseLayer(features, p.boxW, p.boxB)
	if err != nil {
		return nil, nil, errors.Wrap(err, "head: box regression layer")
	}
	k := p.cfg.Kind.Slots(p.cfg.NumClasses)
	if err := boxLogits.Reshape(shape[0], k, 4); err != nil {
		return nil, nil, errors.Wrap(err, "head: reshaping box logits")
	}
	return labelLogits, boxLogits, nil
}

// denseLayer computes features·w + b.
func denseLayer(features, w *tensor.Dense, b []float32) (*tensor.Dense, error) {
	out, err := features.MatMul(w)
	if err != nil {
		return nil, err
	}
	data := out.Data().([]float32)
	cols := len(b)
	for i := range data {
		data[i] += b[i%cols]
	}
	return out, nil
}
