package boxcoder

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-frcnn/boxes"
)

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		ok      bool
	}{
		{name: "default weights", weights: DefaultWeights, ok: true},
		{name: "uniform weights", weights: Weights{1, 1, 1, 1}, ok: true},
		{name: "zero weight", weights: Weights{10, 0, 5, 5}, ok: false},
		{name: "negative weight", weights: Weights{10, 10, -5, 5}, ok: false},
		{name: "infinite weight", weights: Weights{10, 10, 5, math32.Inf(1)}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	coder := Coder{Weights: DefaultWeights}

	tests := []struct {
		name   string
		gt     boxes.Box
		anchor boxes.Box
	}{
		{
			name:   "gt equals anchor",
			gt:     boxes.Box{X1: 10, Y1: 10, X2: 50, Y2: 50},
			anchor: boxes.Box{X1: 10, Y1: 10, X2: 50, Y2: 50},
		},
		{
			name:   "shifted and scaled",
			gt:     boxes.Box{X1: 12, Y1: 8, X2: 60, Y2: 44},
			anchor: boxes.Box{X1: 10, Y1: 10, X2: 50, Y2: 50},
		},
		{
			name:   "much larger gt",
			gt:     boxes.Box{X1: 0, Y1: 0, X2: 200, Y2: 300},
			anchor: boxes.Box{X1: 90, Y1: 140, X2: 110, Y2: 160},
		},
		{
			name:   "negative coordinate space",
			gt:     boxes.Box{X1: -40, Y1: -30, X2: -10, Y2: -5},
			anchor: boxes.Box{X1: -35, Y1: -28, X2: -12, Y2: -8},
		},
		{
			name:   "small boxes",
			gt:     boxes.Box{X1: 1.5, Y1: 2.5, X2: 2.25, Y2: 3.75},
			anchor: boxes.Box{X1: 1, Y1: 2, X2: 3, Y2: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := coder.Encode(tt.gt, tt.anchor)
			got := coder.Decode(target, tt.anchor)
			assert.InDelta(t, tt.gt.X1, got.X1, 1e-3)
			assert.InDelta(t, tt.gt.Y1, got.Y1, 1e-3)
			assert.InDelta(t, tt.gt.X2, got.X2, 1e-3)
			assert.InDelta(t, tt.gt.Y2, got.Y2, 1e-3)
		})
	}
}

// A zero-size anchor must produce large but finite targets thanks to the
// minimum-size clamp, and decoding them must stay finite as well.
func TestDegenerateAnchor(t *testing.T) {
	coder := Coder{Weights: DefaultWeights}
	gt := boxes.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	anchor := boxes.Box{X1: 5, Y1: 5, X2: 5, Y2: 5}

	target := coder.Encode(gt, anchor)
	for i, v := range target {
		require.False(t, math32.IsNaN(v), "target[%d] is NaN", i)
		require.False(t, math32.IsInf(v, 0), "target[%d] is Inf", i)
	}

	decoded := coder.Decode(target, anchor)
	for i, v := range [4]float32{decoded.X1, decoded.Y1, decoded.X2, decoded.Y2} {
		require.False(t, math32.IsNaN(v), "decoded coord %d is NaN", i)
		require.False(t, math32.IsInf(v, 0), "decoded coord %d is Inf", i)
	}
}

// Larger size deltas than the clamp cannot survive a round trip; the decode
// side caps the log-size ratio instead of exploding.
func TestDecodeClampsSizeDelta(t *testing.T) {
	coder := Coder{Weights: Weights{1, 1, 1, 1}}
	anchor := boxes.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}

	decoded := coder.Decode([4]float32{0, 0, 100, 100}, anchor)
	maxSize := math32.Exp(maxSizeDelta) * 10
	assert.InDelta(t, maxSize, decoded.Width(), 1e-2)
	assert.InDelta(t, maxSize, decoded.Height(), 1e-2)
}

func TestWeightsScaleTargets(t *testing.T) {
	gt := boxes.Box{X1: 12, Y1: 8, X2: 60, Y2: 44}
	anchor := boxes.Box{X1: 10, Y1: 10, X2: 50, Y2: 50}

	unit := Coder{Weights: Weights{1, 1, 1, 1}}.Encode(gt, anchor)
	scaled := Coder{Weights: DefaultWeights}.Encode(gt, anchor)
	for i := range unit {
		assert.InDelta(t, unit[i]*DefaultWeights[i], scaled[i], 1e-6)
	}
}
