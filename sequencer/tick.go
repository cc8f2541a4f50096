package sequencer

import "time"

// rescheduleLocked starts or stops the single timer goroutine so that
// exactly one of {sequencer tick, mix tick} is running, per spec.md
// §4.1: "Only one of the two timers runs at a time." Must be called
// with s.mu held, after any change to IsPlaying, mixActive, or
// renderFPS.
func (s *Sequencer) rescheduleLocked(now time.Time) {
	wantActive := s.state.IsPlaying || (s.mixActive && !s.state.IsPlaying)
	period := tickPeriod(s.renderFPS)

	if !wantActive {
		if s.runnerActive {
			close(s.runnerStop)
			s.runnerActive = false
		}
		return
	}

	if s.runnerActive && period == s.runnerPeriod {
		return
	}
	if s.runnerActive {
		close(s.runnerStop)
	}
	s.lastTick = now
	stop := make(chan struct{})
	s.runnerStop = stop
	s.runnerPeriod = period
	s.runnerActive = true
	go s.runLoop(period, stop)
}

func (s *Sequencer) runLoop(period time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.onTick()
		}
	}
}

func (s *Sequencer) onTick() {
	s.mu.Lock()
	now := s.clock.Now()
	changed := s.tickLocked(now)
	var f Frame
	if changed {
		f = s.emitLocked()
	}
	s.rescheduleLocked(now)
	s.mu.Unlock()
	if changed {
		s.notify(f)
	}
}

// tickLocked runs one period of whichever timer is logically active and
// reports whether a frame should be emitted.
func (s *Sequencer) tickLocked(now time.Time) bool {
	if s.state.IsPlaying {
		s.advanceLocked(now)
		return true
	}
	if s.mixActive {
		return true
	}
	return false
}

// advanceLocked implements spec.md §4.2's sequencer tick algorithm.
func (s *Sequencer) advanceLocked(now time.Time) {
	dt := now.Sub(s.lastTick)
	if dt < 0 {
		dt = 0
	}
	if dt > time.Second {
		dt = time.Second
	}
	s.lastTick = now
	s.state.PositionMs += dt.Milliseconds()

	steps := s.program.Steps
	for {
		step := &steps[s.state.StepIndex]
		stepScale := float64(step.DurationMs)
		if stepScale < 1 {
			stepScale = 1
		}
		stepScale /= 500.0
		targetDuration := (60000.0 / float64(clampSPM(s.state.SPM))) * stepScale

		if float64(s.state.PositionMs) < targetDuration {
			return
		}
		s.state.PositionMs -= int64(targetDuration)

		if s.state.StepIndex == len(steps)-1 {
			if s.state.Loop {
				s.state.StepIndex = 0
				continue
			}
			s.state.IsPlaying = false
			s.startModeSwitchLocked(now)
			return
		}
		s.state.StepIndex++
	}
}
