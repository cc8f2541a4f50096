package sequencer

import (
	"github.com/ameesme/chaser-v2/layer"
	"github.com/ameesme/chaser-v2/program"
)

// buildLayerBLocked computes the sequencer's interpolated output for the
// current step/position, per spec.md §4.2 "Layer B construction".
func (s *Sequencer) buildLayerBLocked() layer.Values {
	out := make(layer.Values)
	if s.program == nil || len(s.program.Steps) == 0 {
		return out
	}
	steps := s.program.Steps
	i := s.state.StepIndex
	if i < 0 {
		i = 0
	}
	if i >= len(steps) {
		i = len(steps) - 1
	}
	curr := &steps[i]

	prev := curr
	if i > 0 {
		prev = &steps[i-1]
	} else if s.state.Loop && !(s.state.IsPlaying && i == 0 && s.state.PositionMs == 0) {
		// Wrap to the last step as "previous", except right at the
		// program-start boundary (spec.md §8 boundary behavior).
		prev = &steps[len(steps)-1]
	}

	ratio := 1.0
	if s.state.IsPlaying && curr.FadeMs > 0 {
		ratio = clamp01(float64(s.state.PositionMs) / float64(curr.FadeMs))
	}

	out = interpolateSteps(prev, curr, ratio)

	if s.state.IsBlackout {
		return make(layer.Values)
	}
	return out
}

// interpolateSteps linearly interpolates every key appearing in either
// step's frames from prev -> curr by ratio, eliding all-zero results.
func interpolateSteps(prev, curr *program.Step, ratio float64) layer.Values {
	out := make(layer.Values)
	keys := make(map[program.FrameKey]struct{}, len(prev.Frames)+len(curr.Frames))
	for k := range prev.Frames {
		keys[k] = struct{}{}
	}
	for k := range curr.Frames {
		keys[k] = struct{}{}
	}
	for k := range keys {
		pv := prev.Frames[k]
		cv := curr.Frames[k]
		n := len(cv)
		if n == 0 {
			n = len(pv)
		}
		vec := make([]float64, n)
		for idx := 0; idx < n; idx++ {
			var a, b float64
			if idx < len(pv) {
				a = float64(pv[idx])
			}
			if idx < len(cv) {
				b = float64(cv[idx])
			}
			vec[idx] = a + (b-a)*ratio
		}
		bs := layer.ClampBytes(vec)
		if !allZero(bs) {
			out[k] = bs
		}
	}
	return out
}
