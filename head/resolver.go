package head

import (
	"github.com/pkg/errors"
)

// alignedBatch is the result of reassembling the flattened, padded training
// inputs: per-image groups concatenated back together in image order, with
// predictions lined up against their matched ground truth. Row order within
// an image follows the flattened input; images contribute contiguous blocks.
type alignedBatch struct {
	labels      []int        // all proposals
	labelLogits [][]float32  // classification logit row per proposal
	fgTargets   [][4]float32 // encoded regression target per foreground proposal
	fgBoxLogits [][]float32  // box logit row (K*4 wide) per foreground proposal
}

// resolveBatch folds over the images of the batch, gathering each image's
// proposals, foreground boxes and matched ground truth, encoding the
// regression targets, and concatenating the per-image results. An image with
// zero foreground proposals contributes zero rows and is not an error. Image
// indices outside [0, batchSize) and ground-truth indices past an image's
// valid count are contract violations and fail immediately. The caller has
// already checked batchSize against the ground-truth counts.
func (o *Output) resolveBatch(batchSize int) (*alignedBatch, error) {
	t := o.training

	for _, p := range o.proposals {
		if p.Image < 0 || p.Image >= batchSize {
			return nil, errors.Errorf("head: proposal image index %d outside [0, %d)", p.Image, batchSize)
		}
	}
	for _, p := range t.FgBoxes {
		if p.Image < 0 || p.Image >= batchSize {
			return nil, errors.Errorf("head: foreground image index %d outside [0, %d)", p.Image, batchSize)
		}
	}

	n := len(o.proposals)
	numClasses := o.cfg.NumClasses
	slotWidth := o.cfg.Kind.Slots(numClasses) * 4
	labelData := o.labelLogits.Data().([]float32)
	boxData := o.boxLogits.Data().([]float32)

	out := &alignedBatch{
		labels:      make([]int, 0, n),
		labelLogits: make([][]float32, 0, n),
		fgTargets:   make([][4]float32, 0, len(t.FgBoxes)),
		fgBoxLogits: make([][]float32, 0, len(t.FgBoxes)),
	}

	for img := 0; img < batchSize; img++ {
		count := o.gtCounts[img]
		if count > len(t.GTBoxes[img]) {
			return nil, errors.Errorf("head: image %d claims %d ground-truth boxes but only %d are stored",
				img, count, len(t.GTBoxes[img]))
		}
		valid := t.GTBoxes[img][:count]

		// Foreground boxes of this image, in flattened order, paired with the
		// image-local ground-truth ids recorded by the matching stage.
		gtIDs := t.FgGTIDs[img]
		fgSeen := 0
		for fi, fb := range t.FgBoxes {
			if fb.Image != img {
				continue
			}
			if fgSeen >= len(gtIDs) {
				return nil, errors.Errorf("head: image %d has more foreground boxes than ground-truth ids (%d)",
					img, len(gtIDs))
			}
			id := gtIDs[fgSeen]
			fgSeen++
			if id < 0 || id >= count {
				return nil, errors.Errorf("head: image %d foreground matched ground-truth id %d outside [0, %d)",
					img, id, count)
			}

			out.fgTargets = append(out.fgTargets, o.coder.Encode(valid[id], fb.Box))

			global := t.FgIndices[fi]
			if global < 0 || global >= n {
				return nil, errors.Errorf("head: foreground index %d outside proposal range [0, %d)", global, n)
			}
			if t.FgLabels[fi] != t.Labels[global] {
				return nil, errors.Errorf("head: foreground label %d disagrees with label %d of proposal %d",
					t.FgLabels[fi], t.Labels[global], global)
			}
			out.fgBoxLogits = append(out.fgBoxLogits, boxData[global*slotWidth:(global+1)*slotWidth])
		}
		if fgSeen != len(gtIDs) {
			return nil, errors.Errorf("head: image %d has %d ground-truth ids but %d foreground boxes",
				img, len(gtIDs), fgSeen)
		}

		// Full per-image label and logit rows, foreground and background.
		for pi, p := range o.proposals {
			if p.Image != img {
				continue
			}
			out.labels = append(out.labels, t.Labels[pi])
			out.labelLogits = append(out.labelLogits, labelData[pi*numClasses:(pi+1)*numClasses])
		}
	}
	return out, nil
}
