// Package program holds the in-memory, ordered-step program model: the
// timeline the sequencer plays back and cross-fades against layer A.
package program

import (
	"fmt"

	"github.com/ameesme/chaser-v2/environment"
	"github.com/ameesme/chaser-v2/fixture"
	"github.com/ameesme/chaser-v2/validate"
)

// FrameKey names one (fixture, feature) pair within a step.
type FrameKey struct {
	FixtureID string
	FeatureID string
}

func (k FrameKey) String() string {
	return k.FixtureID + ":" + k.FeatureID
}

// Step is one keyframe: a duration, a fade time, and the feature values
// pinned at that keyframe.
type Step struct {
	ID         string
	DurationMs int
	FadeMs     int
	Frames     map[FrameKey][]byte
}

// Program is an ordered list of steps driven at a steps-per-minute pace.
type Program struct {
	ID            string
	Name          string
	EnvironmentID string
	SPM           int // [1,500]
	Loop          bool
	Steps         []Step
}

// ClampedSPM returns SPM clamped to the spec's [1,500] range.
func (p *Program) ClampedSPM() int {
	switch {
	case p.SPM < 1:
		return 1
	case p.SPM > 500:
		return 500
	default:
		return p.SPM
	}
}

// Validate checks spec.md §3's program invariants: every frame
// references a fixture that exists in env and a feature that exists on
// that fixture's type, with value arity equal to the feature's channel
// count; at most one frame per (fixture, feature) per step (guaranteed
// by the map key type); every step duration is positive.
func (p *Program) Validate(env *environment.Environment, types map[string]*fixture.Type) error {
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.DurationMs <= 0 {
			return fmt.Errorf("%w: program %q step %q has non-positive duration", validate.ErrValidation, p.ID, s.ID)
		}
		if s.FadeMs < 0 {
			return fmt.Errorf("%w: program %q step %q has negative fade", validate.ErrValidation, p.ID, s.ID)
		}
		for key, values := range s.Frames {
			f, ok := env.Fixture(key.FixtureID)
			if !ok {
				return fmt.Errorf("%w: program %q step %q references unknown fixture %q", validate.ErrValidation, p.ID, s.ID, key.FixtureID)
			}
			t, ok := types[f.TypeID]
			if !ok {
				return fmt.Errorf("%w: program %q step %q fixture %q has unknown type %q", validate.ErrValidation, p.ID, s.ID, key.FixtureID, f.TypeID)
			}
			feat, ok := t.Feature(key.FeatureID)
			if !ok {
				return fmt.Errorf("%w: program %q step %q references unknown feature %q on fixture %q", validate.ErrValidation, p.ID, s.ID, key.FeatureID, key.FixtureID)
			}
			if len(values) != len(feat.Channels) {
				return fmt.Errorf("%w: program %q step %q frame %s has %d values, feature wants %d", validate.ErrValidation, p.ID, s.ID, key, len(values), len(feat.Channels))
			}
		}
	}
	return nil
}
