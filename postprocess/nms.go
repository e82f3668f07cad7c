package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-frcnn/boxes"
)

// greedyNMS runs greedy Non-Maximum Suppression over bs and returns the
// indices of the kept boxes, at most maxKeep of them, in selection order
// (descending score). Ties are broken by original index, so the result is
// deterministic for identical inputs. An empty input yields an empty result.
func greedyNMS(bs []boxes.Box, scores []float32, iouThreshold float32, maxKeep int) []int {
	n := len(bs)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	suppressed := make([]bool, n)
	kept := make([]int, 0, min(n, maxKeep))

	for pos, i := range order {
		if suppressed[i] {
			continue
		}
		kept = append(kept, i)
		if len(kept) == maxKeep {
			break
		}
		for _, j := range order[pos+1:] {
			if suppressed[j] {
				continue
			}
			if bs[i].IoU(bs[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
