// Package head implements the box-classification head of a two-stage
// detector: classification and box-regression logits from ROI features, the
// training losses against ground truth, and the decoded per-class candidate
// boxes consumed by the postprocess package at inference time.
package head

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-frcnn/boxcoder"
)

// RegressionKind selects how many box-regression slots the head produces per
// proposal. The kind is decided once at construction and threaded through the
// decode and loss paths, instead of being re-derived from tensor shapes at
// every call site.
type RegressionKind int

const (
	// PerClassRegression produces one 4-vector per class, background included.
	PerClassRegression RegressionKind = iota
	// ClassAgnosticRegression produces a single 4-vector shared by all classes.
	ClassAgnosticRegression
)

// Slots returns the number of regression slots K for a head with the given
// class count.
func (k RegressionKind) Slots(numClasses int) int {
	if k == ClassAgnosticRegression {
		return 1
	}
	return numClasses
}

// Config carries the construction-time constants of the head. None of them
// change at runtime.
type Config struct {
	// NumClasses is the category count including the background class at
	// index 0.
	NumClasses int
	// Kind selects per-class or class-agnostic box regression.
	Kind RegressionKind
	// Weights rescales the regression targets; see boxcoder.Weights.
	Weights boxcoder.Weights
	// Seed drives the Gaussian weight initialization so that two heads built
	// from the same Config are identical.
	Seed int64
}

func (c Config) validate() error {
	if c.NumClasses < 2 {
		return errors.Errorf("head: NumClasses must be at least 2 (background + one category), got %d", c.NumClasses)
	}
	if c.Kind != PerClassRegression && c.Kind != ClassAgnosticRegression {
		return errors.Errorf("head: unknown regression kind %d", c.Kind)
	}
	return c.Weights.Validate()
}
