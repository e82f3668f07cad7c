// Package boxcoder implements the transform between absolute box coordinates
// and the normalized, scale-invariant regression targets the box head is
// trained against.
package boxcoder

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-frcnn/boxes"
)

// sizeEpsilon is the minimum width/height a box is treated as having when
// converted to center form. A degenerate anchor would otherwise feed a zero
// into the divide and log below and poison the targets with Inf/NaN.
const sizeEpsilon = 1e-3

// maxSizeDelta caps the log-size component of a target before it is
// exponentiated during decode, so a wild regression output cannot blow a box
// up to an astronomical size. log(1000/16) is the largest size ratio a 1000px
// input can produce over a 16px feature stride.
var maxSizeDelta = math32.Log(1000.0 / 16.0)

// Weights rescales each target coordinate (dx, dy, dw, dh). The four values
// are fixed for the lifetime of a model configuration, must be positive, and
// are never mutated after construction, so a Weights value may be shared
// freely across goroutines.
type Weights [4]float32

// DefaultWeights is the standard Faster-RCNN second-stage weighting.
var DefaultWeights = Weights{10, 10, 5, 5}

// Validate reports whether every weight is a positive finite number.
func (w Weights) Validate() error {
	for i, v := range w {
		if !(v > 0) || math32.IsInf(v, 0) {
			return errors.Errorf("boxcoder: regression weight %d must be a positive finite number, got %v", i, v)
		}
	}
	return nil
}

// Coder converts between absolute boxes and weighted regression targets. The
// zero value is invalid; construct with a validated Weights. A Coder is
// stateless and safe for concurrent use.
type Coder struct {
	Weights Weights
}

// Encode expresses gt relative to anchor as a center-offset / log-size-ratio
// target, scaled elementwise by the coder weights:
//
//	dx = w0 * (cx(gt) - cx(anchor)) / width(anchor)
//	dy = w1 * (cy(gt) - cy(anchor)) / height(anchor)
//	dw = w2 * log(width(gt) / width(anchor))
//	dh = w3 * log(height(gt) / height(anchor))
//
// Widths and heights are clamped to sizeEpsilon first, so near-zero anchors
// produce large but finite targets instead of Inf/NaN.
func (c Coder) Encode(gt, anchor boxes.Box) [4]float32 {
	aw, ah := clampSize(anchor)
	gw, gh := clampSize(gt)
	return [4]float32{
		c.Weights[0] * (gt.CenterX() - anchor.CenterX()) / aw,
		c.Weights[1] * (gt.CenterY() - anchor.CenterY()) / ah,
		c.Weights[2] * math32.Log(gw/aw),
		c.Weights[3] * math32.Log(gh/ah),
	}
}

// Decode inverts Encode: the target is divided elementwise by the coder
// weights and the resulting deltas are applied to anchor. The size deltas are
// clamped to maxSizeDelta before exponentiation.
//
// For well-formed inputs Decode(Encode(b, a), a) reproduces b up to floating
// point tolerance.
func (c Coder) Decode(target [4]float32, anchor boxes.Box) boxes.Box {
	aw, ah := clampSize(anchor)
	dx := target[0] / c.Weights[0]
	dy := target[1] / c.Weights[1]
	dw := math32.Min(target[2]/c.Weights[2], maxSizeDelta)
	dh := math32.Min(target[3]/c.Weights[3], maxSizeDelta)

	w := math32.Exp(dw) * aw
	h := math32.Exp(dh) * ah
	cx := dx*aw + anchor.CenterX()
	cy := dy*ah + anchor.CenterY()
	return boxes.Box{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

func clampSize(b boxes.Box) (w, h float32) {
	return math32.Max(b.Width(), sizeEpsilon), math32.Max(b.Height(), sizeEpsilon)
}
