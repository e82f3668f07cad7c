package head

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-frcnn/boxcoder"
	"github.com/nvr-ai/go-frcnn/boxes"
)

// Output bundles one forward pass of the head: the raw logits, the proposal
// boxes they were computed for, and the per-image ground-truth counts. The
// inputs are treated as immutable; derived values (decoded boxes, scores,
// losses) are computed on demand and cached on the aggregate, which makes an
// Output cheap to query repeatedly but not safe for concurrent use.
type Output struct {
	cfg   Config
	coder boxcoder.Coder

	labelLogits *tensor.Dense      // N x NumClasses
	boxLogits   *tensor.Dense      // N x K x 4
	proposals   []boxes.BatchedBox // N image-tagged proposal boxes
	gtCounts    []int              // per image, the GT box count before padding

	training *TrainingInfo

	decoded    *tensor.Dense
	decodedIDs []int
	scores     *tensor.Dense
	losses     *LossReport
}

// TrainingInfo carries the ground-truth alignment produced by the upstream
// proposal-matching stage. All slices are flattened across the batch unless
// noted otherwise; the head trusts them to be mutually consistent.
type TrainingInfo struct {
	// GTBoxes is the padded per-image ground truth: one fixed-size row per
	// image of which only the first gtCounts[i] entries are valid.
	GTBoxes [][]boxes.Box
	// Labels assigns each proposal its matched class, 0 for background.
	Labels []int
	// FgIndices are the positions of the foreground proposals within the
	// flattened proposal list.
	FgIndices []int
	// FgBoxes are the foreground proposals themselves, image-tagged, in the
	// same order as FgIndices.
	FgBoxes []boxes.BatchedBox
	// FgLabels is the class label of each foreground proposal. It must agree
	// with the Labels entry at the corresponding FgIndices position.
	FgLabels []int
	// FgGTIDs holds, per image, the index of the matched ground-truth box for
	// each of that image's foreground proposals. The index is local to the
	// image's valid (unpadded) ground-truth list.
	FgGTIDs [][]int
}

// NewOutput validates and bundles the head outputs for N proposals. The
// logit shapes must agree with the config and with each other; a mismatch is
// a contract violation. A batch with zero proposals is rejected here rather
// than allowed to surface as NaN losses downstream.
func NewOutput(cfg Config, labelLogits, boxLogits *tensor.Dense, proposals []boxes.BatchedBox, gtCounts []int) (*Output, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := len(proposals)
	if n == 0 {
		return nil, errors.New("head: output over zero proposals")
	}

	ls := labelLogits.Shape()
	if len(ls) != 2 || ls[0] != n || ls[1] != cfg.NumClasses {
		return nil, errors.Errorf("head: label logits must have shape [%d, %d], got %v", n, cfg.NumClasses, ls)
	}
	k := cfg.Kind.Slots(cfg.NumClasses)
	bs := boxLogits.Shape()
	if len(bs) != 3 || bs[0] != n || bs[1] != k || bs[2] != 4 {
		return nil, errors.Errorf("head: box logits must have shape [%d, %d, 4], got %v", n, k, bs)
	}
	for _, c := range gtCounts {
		if c < 0 {
			return nil, errors.Errorf("head: negative ground-truth count %d", c)
		}
	}

	return &Output{
		cfg:         cfg,
		coder:       boxcoder.Coder{Weights: cfg.Weights},
		labelLogits: labelLogits,
		boxLogits:   boxLogits,
		proposals:   proposals,
		gtCounts:    gtCounts,
	}, nil
}

// NumProposals returns N, the number of proposals this output covers.
func (o *Output) NumProposals() int { return len(o.proposals) }

// AttachTrainingInfo attaches the ground-truth alignment needed by Losses.
// Basic length consistency is checked here; the per-image index bookkeeping
// is validated when losses are computed.
func (o *Output) AttachTrainingInfo(info *TrainingInfo) error {
	if info == nil {
		return errors.New("head: nil training info")
	}
	n := len(o.proposals)
	if len(info.Labels) != n {
		return errors.Errorf("head: got %d labels for %d proposals", len(info.Labels), n)
	}
	fg := len(info.FgIndices)
	if len(info.FgBoxes) != fg || len(info.FgLabels) != fg {
		return errors.Errorf("head: foreground slices disagree: %d indices, %d boxes, %d labels",
			fg, len(info.FgBoxes), len(info.FgLabels))
	}
	if len(info.GTBoxes) != len(o.gtCounts) || len(info.FgGTIDs) != len(o.gtCounts) {
		return errors.Errorf("head: ground truth covers %d images, foreground ids %d, expected %d",
			len(info.GTBoxes), len(info.FgGTIDs), len(o.gtCounts))
	}
	o.training = info
	o.losses = nil
	return nil
}
