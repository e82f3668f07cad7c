package head

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// LossReport carries the two training losses plus the diagnostic metrics
// computed alongside them. The diagnostics are informational only and never
// block training.
type LossReport struct {
	// LabelLoss is the mean softmax cross-entropy over all proposals.
	LabelLoss float32
	// BoxLoss is the Huber loss summed over every foreground target element
	// and divided by the total proposal count (foreground + background), not
	// the foreground count. The unusual normalizer keeps the loss scale
	// stable as the foreground ratio varies between batches.
	BoxLoss float32

	// Accuracy is the argmax match rate over all proposals.
	Accuracy float32
	// FgAccuracy is the argmax match rate over foreground proposals only.
	// Exactly 0 when the batch has no foreground.
	FgAccuracy float32
	// FalseNegative is the fraction of foreground proposals predicted as
	// background. Exactly 0 when the batch has no foreground.
	FalseNegative float32
	// NumFg is the number of foreground proposals in the batch.
	NumFg int
}

// Losses reassembles the batch and computes the classification and
// box-regression losses. AttachTrainingInfo must have been called first;
// asking for losses without it is a contract violation. The report is cached,
// so repeated calls are free.
func (o *Output) Losses(batchSize int) (*LossReport, error) {
	// Validate before consulting the cache: a contradictory batch size is a
	// contract violation whether or not a previous call already succeeded.
	if batchSize <= 0 {
		return nil, errors.Errorf("head: batch size must be positive, got %d", batchSize)
	}
	if len(o.gtCounts) != batchSize {
		return nil, errors.Errorf("head: %d ground-truth counts for batch size %d", len(o.gtCounts), batchSize)
	}
	if o.losses != nil {
		return o.losses, nil
	}
	if o.training == nil {
		return nil, errors.New("head: losses requested before training info was attached")
	}

	ab, err := o.resolveBatch(batchSize)
	if err != nil {
		return nil, err
	}
	rep, err := assembleLosses(ab, o.cfg.Kind)
	if err != nil {
		return nil, err
	}
	o.losses = rep
	return rep, nil
}

func assembleLosses(ab *alignedBatch, kind RegressionKind) (*LossReport, error) {
	n := len(ab.labels)
	if n == 0 {
		return nil, errors.New("head: loss is undefined for a batch with zero proposals")
	}
	numClasses := len(ab.labelLogits[0])

	// Classification loss and overall accuracy in one pass over the rows.
	// Cross-entropy runs in float64 with the usual max-shift so large logits
	// cannot overflow the exponentials.
	var ceSum float64
	correct := make([]float64, n)
	predicted := make([]int, n)
	for i, row := range ab.labelLogits {
		label := ab.labels[i]
		if label < 0 || label >= numClasses {
			return nil, errors.Errorf("head: label %d outside [0, %d)", label, numClasses)
		}
		ceSum += crossEntropy(row, label)
		predicted[i] = argmax(row)
		if predicted[i] == label {
			correct[i] = 1
		}
	}

	// Foreground diagnostics. Both metrics are defined as exactly 0 for a
	// batch without foreground rather than 0/0.
	var fgRows []int
	for i, label := range ab.labels {
		if label > 0 {
			fgRows = append(fgRows, i)
		}
	}
	numFg := len(fgRows)
	if len(ab.fgBoxLogits) != numFg {
		return nil, errors.Errorf("head: %d foreground box-logit rows for %d foreground labels",
			len(ab.fgBoxLogits), numFg)
	}

	var fgAccuracy, falseNegative float32
	if numFg > 0 {
		fgCorrect := make([]float64, numFg)
		background := 0
		for j, i := range fgRows {
			fgCorrect[j] = correct[i]
			if predicted[i] == 0 {
				background++
			}
		}
		fgAccuracy = float32(stat.Mean(fgCorrect, nil))
		falseNegative = float32(background) / float32(numFg)
	}

	// Box regression: per-class heads gather the logit slot matching the
	// ground-truth label; class-agnostic heads use their single slot.
	var boxSum float64
	for j, i := range fgRows {
		slot := 0
		if kind == PerClassRegression {
			slot = ab.labels[i]
		}
		row := ab.fgBoxLogits[j]
		if (slot+1)*4 > len(row) {
			return nil, errors.Errorf("head: regression slot %d outside row of width %d", slot, len(row)/4)
		}
		target := ab.fgTargets[j]
		for c := 0; c < 4; c++ {
			boxSum += huber(float64(row[slot*4+c]) - float64(target[c]))
		}
	}

	return &LossReport{
		LabelLoss:     float32(ceSum / float64(n)),
		BoxLoss:       float32(boxSum / float64(n)),
		Accuracy:      float32(stat.Mean(correct, nil)),
		FgAccuracy:    fgAccuracy,
		FalseNegative: falseNegative,
		NumFg:         numFg,
	}, nil
}

// crossEntropy is the sparse softmax cross-entropy of one logit row:
// logsumexp(row) - row[label].
func crossEntropy(row []float32, label int) float64 {
	m := float64(row[argmax(row)])
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - m)
	}
	return math.Log(sum) + m - float64(row[label])
}

// huber is the robust regression loss with delta 1: quadratic inside the
// unit interval, linear outside.
func huber(x float64) float64 {
	ax := math.Abs(x)
	if ax <= 1 {
		return 0.5 * ax * ax
	}
	return ax - 0.5
}

// argmax returns the index of the largest value, ties resolved to the first.
func argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
