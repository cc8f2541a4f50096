// Package environment places fixture types in a world: per-fixture
// universe/address, and the output targets a sequencer for that world
// fans frames out to.
package environment

import (
	"fmt"

	"github.com/ameesme/chaser-v2/fixture"
	"github.com/ameesme/chaser-v2/validate"
)

// Position is an optional 2D placement, carried through for the
// external editor/simulator; the core never reads it.
type Position struct {
	X, Y float64
}

// Fixture places one instance of a fixture type in the environment.
type Fixture struct {
	ID          string
	TypeID      string
	Name        string
	Universe    int // [0, 32767]
	Address     int // [1, 512], 1-based DMX start address
	Position    *Position
	MQTTExpose  *bool // nil = exposed (default true); false opts out
}

// Exposed reports whether this fixture should get MQTT light discovery.
func (f *Fixture) Exposed() bool {
	return f.MQTTExpose == nil || *f.MQTTExpose
}

// OutputKind tags the variant of an Output.
type OutputKind string

const (
	OutputSimulator OutputKind = "simulator"
	OutputArtNet    OutputKind = "artnet"
	OutputMQTT      OutputKind = "mqtt"
)

// Output is a tagged-variant transport target. Only the fields relevant
// to Kind are meaningful; this mirrors spec.md's design note ("model
// polymorphic outputs as tagged variants... a tagged enum with
// per-variant state").
type Output struct {
	ID      string
	Kind    OutputKind
	Enabled bool

	// Art-Net fields
	Host      string
	Port      int
	Universes []int // allow-list; empty means all universes in this environment

	// MQTT fields
	BrokerURL       string
	BaseTopic       string // defaults to chaser/{env}/{output} if empty
	DiscoveryPrefix string // defaults to "homeassistant"
	NodeID          string // defaults to chaser_{env}
	Topic           string // legacy raw per-frame payload topic, optional
}

// Environment is the world a program runs in: its fixtures and the
// transports that should receive rendered frames.
type Environment struct {
	ID        string
	RenderFPS int // [1,120], default 30
	Fixtures  []Fixture
	Outputs   []Output
}

// Fixture looks up a placed fixture by id.
func (e *Environment) Fixture(id string) (*Fixture, bool) {
	for i := range e.Fixtures {
		if e.Fixtures[i].ID == id {
			return &e.Fixtures[i], true
		}
	}
	return nil, false
}

// EffectiveRenderFPS returns RenderFPS clamped/defaulted to spec.md's
// [1,120] range, default 30.
func (e *Environment) EffectiveRenderFPS() int {
	switch {
	case e.RenderFPS <= 0:
		return 30
	case e.RenderFPS > 120:
		return 120
	default:
		return e.RenderFPS
	}
}

// Validate checks the per-fixture address/universe invariants from
// spec.md §3. Channels that fall outside [1,512] are not an error here
// (the render builder silently drops them); only universe/address range
// and unknown fixture types are rejected.
func (e *Environment) Validate(types map[string]*fixture.Type) error {
	seen := make(map[string]bool, len(e.Fixtures))
	for _, f := range e.Fixtures {
		if seen[f.ID] {
			return fmt.Errorf("%w: environment %q has duplicate fixture id %q", validate.ErrValidation, e.ID, f.ID)
		}
		seen[f.ID] = true
		if f.Universe < 0 || f.Universe > 32767 {
			return fmt.Errorf("%w: fixture %q universe %d out of range [0,32767]", validate.ErrValidation, f.ID, f.Universe)
		}
		if f.Address < 1 || f.Address > 512 {
			return fmt.Errorf("%w: fixture %q address %d out of range [1,512]", validate.ErrValidation, f.ID, f.Address)
		}
		if _, ok := types[f.TypeID]; !ok {
			return fmt.Errorf("%w: fixture %q references unknown fixture type %q", validate.ErrValidation, f.ID, f.TypeID)
		}
	}
	return nil
}
