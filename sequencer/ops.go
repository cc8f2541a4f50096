package sequencer

import (
	"time"

	"github.com/ameesme/chaser-v2/layer"
	"github.com/ameesme/chaser-v2/program"
)

// SetProgram replaces the active program reference. Per spec.md §4.2 and
// §5 ("the sequencer holds a non-owning reference... mutations...
// applied via setProgram which fully replaces the active reference"),
// the caller (program store / editor) owns the Program value; the
// sequencer never mutates it.
func (s *Sequencer) SetProgram(p *program.Program, opts SetProgramOptions) {
	s.mu.Lock()
	now := s.clock.Now()
	s.program = p
	if p != nil {
		s.state.ProgramID = p.ID
		s.state.SPM = clampSPM(p.SPM)
		s.state.Loop = p.Loop
	} else {
		s.state.ProgramID = ""
	}
	maxStep := 0
	if p != nil && len(p.Steps) > 0 {
		maxStep = len(p.Steps) - 1
	}
	if !opts.PreservePlayhead {
		s.state.StepIndex = 0
		s.state.PositionMs = 0
	} else {
		if s.state.StepIndex < 0 {
			s.state.StepIndex = 0
		}
		if s.state.StepIndex > maxStep {
			s.state.StepIndex = maxStep
		}
	}
	s.rescheduleLocked(now)
	var f Frame
	emit := !opts.SuppressEmit
	if emit {
		f = s.emitLocked()
	}
	s.mu.Unlock()
	if emit {
		s.notify(f)
	}
}

// Play resets the playhead to the start and begins playback.
func (s *Sequencer) Play() {
	s.withEmit(func(now time.Time) bool {
		if s.state.IsPlaying || s.program == nil || len(s.program.Steps) == 0 {
			return false
		}
		s.state.StepIndex = 0
		s.state.PositionMs = 0
		s.startPlaybackLocked(now)
		return true
	})
}

// Resume begins playback without resetting the playhead.
func (s *Sequencer) Resume() {
	s.withEmit(func(now time.Time) bool {
		if s.state.IsPlaying || s.program == nil || len(s.program.Steps) == 0 {
			return false
		}
		s.startPlaybackLocked(now)
		return true
	})
}

func (s *Sequencer) startPlaybackLocked(now time.Time) {
	s.startModeSwitchLocked(now)
	s.state.IsPlaying = true
	s.rescheduleLocked(now)
}

// Pause stops playback and begins a cross-fade to static mode.
func (s *Sequencer) Pause() {
	s.withEmit(func(now time.Time) bool {
		if !s.state.IsPlaying {
			return false
		}
		s.startModeSwitchLocked(now)
		s.state.IsPlaying = false
		s.rescheduleLocked(now)
		return true
	})
}

// NextStep advances stepIndex with wraparound iff Loop, else clamps.
func (s *Sequencer) NextStep() {
	s.withEmit(func(now time.Time) bool {
		if s.program == nil || len(s.program.Steps) == 0 {
			return false
		}
		n := len(s.program.Steps)
		if s.state.StepIndex >= n-1 {
			if s.state.Loop {
				s.state.StepIndex = 0
			}
		} else {
			s.state.StepIndex++
		}
		s.state.PositionMs = 0
		return true
	})
}

// PreviousStep retreats stepIndex with wraparound iff Loop, else clamps.
func (s *Sequencer) PreviousStep() {
	s.withEmit(func(now time.Time) bool {
		if s.program == nil || len(s.program.Steps) == 0 {
			return false
		}
		n := len(s.program.Steps)
		if s.state.StepIndex <= 0 {
			if s.state.Loop {
				s.state.StepIndex = n - 1
			}
		} else {
			s.state.StepIndex--
		}
		s.state.PositionMs = 0
		return true
	})
}

// SetStep clamps i to [0, max(0, stepCount-1)] and resets position.
func (s *Sequencer) SetStep(i int) {
	s.withEmit(func(now time.Time) bool {
		maxIdx := 0
		if s.program != nil && len(s.program.Steps) > 0 {
			maxIdx = len(s.program.Steps) - 1
		}
		if i < 0 {
			i = 0
		}
		if i > maxIdx {
			i = maxIdx
		}
		s.state.StepIndex = i
		s.state.PositionMs = 0
		return true
	})
}

// SetSpm clamps spm to [1,500].
func (s *Sequencer) SetSpm(spm int) {
	s.withEmit(func(now time.Time) bool {
		s.state.SPM = clampSPM(spm)
		return true
	})
}

// SetLoop updates the loop flag.
func (s *Sequencer) SetLoop(b bool) {
	s.withEmit(func(now time.Time) bool {
		s.state.Loop = b
		return true
	})
}

// SetBlackout updates the blackout flag.
func (s *Sequencer) SetBlackout(b bool) {
	s.withEmit(func(now time.Time) bool {
		s.state.IsBlackout = b
		return true
	})
}

// SetFrameRate recomputes the tick period and restarts whichever timer
// is active. It does not itself emit a frame.
func (s *Sequencer) SetFrameRate(fps int) {
	s.mu.Lock()
	now := s.clock.Now()
	s.renderFPS = clampFPS(fps)
	s.rescheduleLocked(now)
	s.mu.Unlock()
}

// SetLayerAValue clamps and stores value under (fixtureID, featureID).
// Returns whether anything changed.
func (s *Sequencer) SetLayerAValue(fixtureID, featureID string, value []float64) bool {
	changed := false
	s.withEmit(func(now time.Time) bool {
		key := layer.Key{FixtureID: fixtureID, FeatureID: featureID}
		wasStatic := s.visibleModeLocked() == ModeStatic
		c := s.layerA.Set(key, value)
		if c && wasStatic {
			s.startModeSwitchLocked(now)
		}
		changed = c
		return c
	})
	return changed
}

// ClearLayerAFeature removes the (fixtureID, featureID) key if present.
func (s *Sequencer) ClearLayerAFeature(fixtureID, featureID string) bool {
	changed := false
	s.withEmit(func(now time.Time) bool {
		key := layer.Key{FixtureID: fixtureID, FeatureID: featureID}
		wasStatic := s.visibleModeLocked() == ModeStatic
		c := s.layerA.ClearFeature(key)
		if c && wasStatic {
			s.startModeSwitchLocked(now)
		}
		changed = c
		return c
	})
	return changed
}

// ClearLayerAFixture removes every key for fixtureID.
func (s *Sequencer) ClearLayerAFixture(fixtureID string) bool {
	changed := false
	s.withEmit(func(now time.Time) bool {
		wasStatic := s.visibleModeLocked() == ModeStatic
		c := s.layerA.ClearFixture(fixtureID)
		if c && wasStatic {
			s.startModeSwitchLocked(now)
		}
		changed = c
		return c
	})
	return changed
}

// ApplyLayerABatch applies every op atomically: the pre-batch visible
// snapshot is captured once, all ops are applied, and at most one frame
// + one cross-fade transition results (spec.md §4.3).
func (s *Sequencer) ApplyLayerABatch(ops []layer.Op) bool {
	changed := false
	s.withEmit(func(now time.Time) bool {
		wasStatic := s.visibleModeLocked() == ModeStatic
		c := s.layerA.Batch(ops)
		if c && wasStatic {
			s.startModeSwitchLocked(now)
		}
		changed = c
		return c
	})
	return changed
}

// ApplyStateSnapshot applies a partial PlayheadState with clamping,
// restarting the correct timer and cross-fading if the visible mode
// changed (spec.md §4.2).
func (s *Sequencer) ApplyStateSnapshot(snap StateSnapshot) {
	s.withEmit(func(now time.Time) bool {
		before := s.visibleModeLocked()
		wasPlaying := s.state.IsPlaying

		if snap.SPM != nil {
			s.state.SPM = clampSPM(*snap.SPM)
		}
		if snap.Loop != nil {
			s.state.Loop = *snap.Loop
		}
		if snap.Blackout != nil {
			s.state.IsBlackout = *snap.Blackout
		}
		if snap.IsPlaying != nil {
			s.state.IsPlaying = *snap.IsPlaying && s.program != nil && len(s.program.Steps) > 0
		}
		maxStep := 0
		if s.program != nil && len(s.program.Steps) > 0 {
			maxStep = len(s.program.Steps) - 1
		}
		if snap.StepIndex != nil {
			idx := *snap.StepIndex
			if idx < 0 {
				idx = 0
			}
			if idx > maxStep {
				idx = maxStep
			}
			s.state.StepIndex = idx
		}
		if snap.PositionMs != nil {
			p := *snap.PositionMs
			if p < 0 {
				p = 0
			}
			s.state.PositionMs = p
		}

		if s.state.IsPlaying && !wasPlaying {
			s.lastTick = now
		}

		after := s.visibleModeLocked()
		if before != after {
			s.startModeSwitchLocked(now)
		}
		s.rescheduleLocked(now)
		return true
	})
}
