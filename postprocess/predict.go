// Package postprocess - turns the head's dense box/score grid into the final
// ranked detection list: score thresholding, per-class coordinate
// offsetting, and one greedy NMS pass shared by all classes.
package postprocess

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-frcnn/boxes"
)

// Config defines the prediction-generation parameters. All values are fixed
// at construction time.
type Config struct {
	// NumClasses is the score-grid width, including background at column 0.
	NumClasses int
	// ScoreThreshold is a hard filter: only scores strictly greater survive.
	ScoreThreshold float32
	// IoUThreshold is the overlap above which a lower-scoring box of the same
	// class is suppressed.
	IoUThreshold float32
	// MaxDetections caps the number of returned detections.
	MaxDetections int
}

func (c Config) validate() error {
	if c.NumClasses < 2 {
		return errors.Errorf("postprocess: NumClasses must be at least 2 (background + one category), got %d", c.NumClasses)
	}
	if c.MaxDetections <= 0 {
		return errors.Errorf("postprocess: MaxDetections must be positive, got %d", c.MaxDetections)
	}
	return nil
}

// Detection is one final detection, ranked by score.
type Detection struct {
	// Box holds the original decoded coordinates, never the NMS-offset ones.
	Box boxes.Box
	// Score is the classification score that survived the threshold.
	Score float32
	// Class is the 1-based category id; background can never appear.
	Class int
	// Proposal is the row in the head's proposal list that produced this box,
	// so downstream consumers (a mask branch, a visualizer) can recover the
	// matching per-proposal features.
	Proposal int
}

// candidate is one (box, class, score) triple that survived the threshold,
// before suppression. offset is the box shifted into its class's private
// coordinate range.
type candidate struct {
	box      boxes.Box
	offset   boxes.Box
	score    float32
	class    int
	proposal int
}

// Predictions filters and suppresses the per-class candidate grid down to the
// final ranked detection list. decoded must have shape [N, NumClasses, 4] and
// scores [N, NumClasses]; column 0 is background and is dropped entirely.
//
// Classes stay independent through a single NMS pass by offsetting every
// surviving box by classSlot * (maxCoord + 1), where maxCoord is the largest
// coordinate across all non-background boxes: different classes land in
// disjoint coordinate ranges and can never suppress each other, while boxes
// of the same class keep their true overlap.
//
// Zero survivors is not an error; the result is simply empty.
func Predictions(decoded, scores *tensor.Dense, cfg Config) ([]Detection, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ss := scores.Shape()
	if len(ss) != 2 || ss[1] != cfg.NumClasses {
		return nil, errors.Errorf("postprocess: scores must have shape [N, %d], got %v", cfg.NumClasses, ss)
	}
	n := ss[0]
	ds := decoded.Shape()
	if len(ds) != 3 || ds[0] != n || ds[1] != cfg.NumClasses || ds[2] != 4 {
		return nil, errors.Errorf("postprocess: decoded boxes must have shape [%d, %d, 4], got %v", n, cfg.NumClasses, ds)
	}

	boxData := decoded.Data().([]float32)
	scoreData := scores.Data().([]float32)
	c := cfg.NumClasses

	boxAt := func(row, class int) boxes.Box {
		off := (row*c + class) * 4
		return boxes.Box{X1: boxData[off], Y1: boxData[off+1], X2: boxData[off+2], Y2: boxData[off+3]}
	}

	// The offset step size comes from every non-background box, filtered or
	// not, so it does not move with the threshold.
	all := make([]boxes.Box, 0, n*(c-1))
	for row := 0; row < n; row++ {
		for class := 1; class < c; class++ {
			all = append(all, boxAt(row, class))
		}
	}
	step := boxes.MaxCoord(all) + 1

	// Candidates are enumerated class-major, which fixes the original order
	// used for stable score tie-breaking in the NMS below.
	var cands []candidate
	for class := 1; class < c; class++ {
		shift := float32(class-1) * step
		for row := 0; row < n; row++ {
			s := scoreData[row*c+class]
			if s <= cfg.ScoreThreshold {
				continue
			}
			b := boxAt(row, class)
			cands = append(cands, candidate{
				box:      b,
				offset:   b.Offset(shift, shift),
				score:    s,
				class:    class,
				proposal: row,
			})
		}
	}
	if len(cands) == 0 {
		return []Detection{}, nil
	}

	offset := make([]boxes.Box, len(cands))
	scoreCol := make([]float32, len(cands))
	for i, cd := range cands {
		offset[i] = cd.offset
		scoreCol[i] = cd.score
	}

	kept := greedyNMS(offset, scoreCol, cfg.IoUThreshold, cfg.MaxDetections)

	out := make([]Detection, 0, len(kept))
	for _, i := range kept {
		out = append(out, Detection{
			Box:      cands[i].box,
			Score:    cands[i].score,
			Class:    cands[i].class,
			Proposal: cands[i].proposal,
		})
	}
	return out, nil
}
