package head

import (
	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

// DecodedBoxes applies the box coder in reverse over the regression logits,
// broadcasting each proposal box across the K class slots as the anchor. The
// result has shape [N, K, 4] and ignores the proposals' image tags; use
// DecodedBoxesBatch when the caller needs to re-associate boxes with their
// source image.
func (o *Output) DecodedBoxes() (*tensor.Dense, error) {
	return o.decodeAll()
}

// DecodedBoxesBatch is DecodedBoxes for batch-tagged proposals: the image
// index is stripped before the proposal is used as an anchor and returned
// separately, one entry per proposal row.
func (o *Output) DecodedBoxesBatch() (*tensor.Dense, []int, error) {
	decoded, err := o.decodeAll()
	if err != nil {
		return nil, nil, err
	}
	if o.decodedIDs == nil {
		ids := make([]int, len(o.proposals))
		for i, p := range o.proposals {
			ids[i] = p.Image
		}
		o.decodedIDs = ids
	}
	return decoded, o.decodedIDs, nil
}

func (o *Output) decodeAll() (*tensor.Dense, error) {
	if o.decoded != nil {
		return o.decoded, nil
	}

	n := len(o.proposals)
	k := o.cfg.Kind.Slots(o.cfg.NumClasses)
	logits := o.boxLogits.Data().([]float32)
	out := make([]float32, n*k*4)

	for i, p := range o.proposals {
		for s := 0; s < k; s++ {
			off := (i*k + s) * 4
			var target [4]float32
			copy(target[:], logits[off:off+4])
			b := o.coder.Decode(target, p.Box)
			out[off+0] = b.X1
			out[off+1] = b.Y1
			out[off+2] = b.X2
			out[off+3] = b.Y2
		}
	}

	o.decoded = tensor.New(tensor.WithShape(n, k, 4),
		tensor.Of(tensor.Float32), tensor.WithBacking(out))
	return o.decoded, nil
}

// Scores returns the row softmax of the classification logits, shape [N,
// NumClasses]; each row sums to one.
func (o *Output) Scores() *tensor.Dense {
	if o.scores != nil {
		return o.scores
	}

	n := len(o.proposals)
	c := o.cfg.NumClasses
	logits := o.labelLogits.Data().([]float32)
	out := make([]float32, n*c)

	for i := 0; i < n; i++ {
		row := logits[i*c : (i+1)*c]
		m := row[argmax(row)]
		var sum float32
		for j, v := range row {
			e := math32.Exp(v - m)
			out[i*c+j] = e
			sum += e
		}
		for j := 0; j < c; j++ {
			out[i*c+j] /= sum
		}
	}

	o.scores = tensor.New(tensor.WithShape(n, c),
		tensor.Of(tensor.Float32), tensor.WithBacking(out))
	return o.scores
}
