// Package sequencer implements the transport state machine, timebase,
// step progression, fade interpolation, and the static/sequencer
// mode cross-fade described in spec.md §4.1–4.3. Exported methods run
// on their callers' goroutines and timer ticks on one timer goroutine;
// all of them take the same mutex, so state mutations never interleave.
package sequencer

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ameesme/chaser-v2/layer"
	"github.com/ameesme/chaser-v2/logging"
	"github.com/ameesme/chaser-v2/program"
)

// ModeSwitchFadeMs is the cross-fade duration used whenever the visible
// mix mode changes, or layer A is edited while in static mode.
const ModeSwitchFadeMs = 500

// Mode is the current visible-mix mode.
type Mode string

const (
	ModeStatic    Mode = "static"
	ModeSequencer Mode = "sequencer"
)

// State is a snapshot of the transport.
type State struct {
	IsPlaying  bool
	IsBlackout bool
	ProgramID  string
	StepIndex  int
	PositionMs int64
	SPM        int
	Loop       bool
}

// StateSnapshot is a partial update applied via ApplyStateSnapshot;
// nil fields are left untouched.
type StateSnapshot struct {
	StepIndex  *int
	PositionMs *int64
	SPM        *int
	Loop       *bool
	Blackout   *bool
	IsPlaying  *bool
}

// Frame is the RenderFrame snapshot emitted to listeners after every
// state change (spec.md §3's RenderFrame).
type Frame struct {
	Timestamp    time.Time
	State        State
	LayerAValues layer.Values
	LayerBValues layer.Values
	Values       layer.Values
}

// SetProgramOptions controls SetProgram's playhead/emission behavior.
type SetProgramOptions struct {
	PreservePlayhead bool
	SuppressEmit     bool
}

// Listener receives a Frame after every settled state change. It is
// invoked synchronously, outside the sequencer's lock, on the goroutine
// that made the change (a method's caller, or the timer goroutine for
// ticks), and must not block.
type Listener func(Frame)

// clock abstracts monotonic time so tests can drive ticks without
// sleeping; production code uses realClock.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Sequencer is the transport state machine. All exported methods are
// safe for concurrent use: each acquires mu, performs its mutation, and
// — outside the lock — emits at most one frame, matching spec.md §5's
// "every state mutation produces exactly one frame emission" guarantee.
type Sequencer struct {
	mu sync.Mutex

	clock clock
	log   *slog.Logger

	program   *program.Program
	layerA    *layer.Store
	state     State
	renderFPS int

	// single timer goroutine; only one runs at a time (spec.md §4.1/§9
	// design note), driving either the sequencer tick or the mix tick
	// depending on state at the moment it fires.
	runnerActive bool
	runnerStop   chan struct{}
	runnerPeriod time.Duration
	lastTick     time.Time

	// mode cross-fade
	mixFrom     layer.Values
	mixStart    time.Time
	mixActive   bool
	visibleLast layer.Values

	listeners   map[int]Listener
	nextListener int
}

// New creates a Sequencer with no active program and default render FPS.
func New() *Sequencer {
	return newWithClock(realClock{})
}

func newWithClock(c clock) *Sequencer {
	return &Sequencer{
		clock:       c,
		log:         logging.Component("sequencer"),
		layerA:      layer.NewStore(),
		renderFPS:   30,
		listeners:   make(map[int]Listener),
		visibleLast: make(layer.Values),
	}
}

// Subscribe registers a listener and returns an unsubscribe func.
func (s *Sequencer) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Sequencer) notify(f Frame) {
	// Copy the listener set out from under the lock: a listener calling
	// back into the sequencer (e.g. the MQTT bridge applying a batch on
	// receipt of the very frame it triggered) must not deadlock.
	s.mu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()
	for _, l := range ls {
		l(f)
	}
}

// tickPeriod returns max(1, round(1000/fps)) ms.
func tickPeriod(fps int) time.Duration {
	if fps <= 0 {
		fps = 30
	}
	ms := int(math.Round(1000 / float64(fps)))
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampSPM(v int) int {
	if v < 1 {
		return 1
	}
	if v > 500 {
		return 500
	}
	return v
}

func clampFPS(v int) int {
	if v < 1 {
		return 1
	}
	if v > 120 {
		return 120
	}
	return v
}

// visibleModeLocked reports the current visible-mix mode per spec.md §4.2.
func (s *Sequencer) visibleModeLocked() Mode {
	if s.state.IsPlaying && s.program != nil && len(s.program.Steps) > 0 {
		return ModeSequencer
	}
	return ModeStatic
}

// GetState returns a copy of the current transport state.
func (s *Sequencer) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetFrame returns the currently visible frame without advancing time.
func (s *Sequencer) GetFrame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildFrameLocked()
}

func (s *Sequencer) buildFrameLocked() Frame {
	now := s.clock.Now()
	layerA := s.layerA.Snapshot()
	layerB := s.buildLayerBLocked()
	visible := s.mixLocked(now, layerA, layerB)
	return Frame{
		Timestamp:    now,
		State:        s.state,
		LayerAValues: layerA,
		LayerBValues: layerB,
		Values:       visible,
	}
}

// mixLocked computes the visible values: layer B in sequencer mode,
// layer A in static mode, cross-faded from mixFrom while a mode-switch
// transition is active.
func (s *Sequencer) mixLocked(now time.Time, layerA, layerB layer.Values) layer.Values {
	mode := s.visibleModeLocked()
	var target layer.Values
	if mode == ModeSequencer {
		target = layerB
	} else {
		target = layerA
	}

	if !s.mixActive {
		s.visibleLast = target.Clone()
		return target
	}

	elapsed := now.Sub(s.mixStart)
	ratio := clamp01(float64(elapsed) / float64(ModeSwitchFadeMs*time.Millisecond))
	mixed := mixValues(s.mixFrom, target, ratio)
	s.visibleLast = mixed.Clone()
	if ratio >= 1 {
		s.mixActive = false
	}
	return mixed
}

// mixValues linearly interpolates from -> to per key by ratio, eliding
// all-zero results.
func mixValues(from, to layer.Values, ratio float64) layer.Values {
	out := make(layer.Values)
	keys := make(map[layer.Key]struct{}, len(from)+len(to))
	for k := range from {
		keys[k] = struct{}{}
	}
	for k := range to {
		keys[k] = struct{}{}
	}
	for k := range keys {
		fv := from[k]
		tv := to[k]
		n := len(tv)
		if n == 0 {
			n = len(fv)
		}
		vec := make([]float64, n)
		for i := 0; i < n; i++ {
			var a, b float64
			if i < len(fv) {
				a = float64(fv[i])
			}
			if i < len(tv) {
				b = float64(tv[i])
			}
			vec[i] = a + (b-a)*ratio
		}
		bs := layer.ClampBytes(vec)
		if !allZero(bs) {
			out[k] = bs
		}
	}
	return out
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// startModeSwitchLocked begins a cross-fade from the current visible
// values to whatever mixLocked will compute as the target next call.
func (s *Sequencer) startModeSwitchLocked(now time.Time) {
	s.mixFrom = s.visibleLast.Clone()
	s.mixStart = now
	s.mixActive = true
}

func (s *Sequencer) emitLocked() Frame {
	f := s.buildFrameLocked()
	return f
}

// withEmit runs fn under the lock, then emits a frame (unless fn
// returns false, meaning nothing changed and no emission should
// happen).
func (s *Sequencer) withEmit(fn func(now time.Time) bool) {
	s.mu.Lock()
	now := s.clock.Now()
	changed := fn(now)
	var f Frame
	if changed {
		f = s.emitLocked()
	}
	s.mu.Unlock()
	if changed {
		s.notify(f)
	}
}
