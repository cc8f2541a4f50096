// Package store turns the three JSON files named in spec.md §6
// (fixtures.json, environments.json, programs.json) into the in-memory
// catalog the sequencer runs against. It is a thin loader, not a CRUD
// layer — persistence/validation UI is out of scope (spec.md Non-goals);
// this just gives cmd/chaserd and tests something to load.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ameesme/chaser-v2/environment"
	"github.com/ameesme/chaser-v2/fixture"
	"github.com/ameesme/chaser-v2/program"
)

// Catalog is everything loaded from one data directory.
type Catalog struct {
	Types        map[string]*fixture.Type
	Environments map[string]*environment.Environment
	Programs     map[string]*program.Program
}

// ProgramsForEnvironment returns every program in the catalog bound to
// environmentID, in no particular order.
func (c *Catalog) ProgramsForEnvironment(environmentID string) []*program.Program {
	var out []*program.Program
	for _, p := range c.Programs {
		if p.EnvironmentID == environmentID {
			out = append(out, p)
		}
	}
	return out
}

// Load reads fixtures.json, environments.json, and programs.json from
// dir and validates each against the others.
func Load(dir string) (*Catalog, error) {
	types, err := loadFixtureTypes(filepath.Join(dir, "fixtures.json"))
	if err != nil {
		return nil, fmt.Errorf("store: loading fixtures: %w", err)
	}
	for _, t := range types {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}

	envs, err := loadEnvironments(filepath.Join(dir, "environments.json"))
	if err != nil {
		return nil, fmt.Errorf("store: loading environments: %w", err)
	}
	for _, e := range envs {
		if err := e.Validate(types); err != nil {
			return nil, err
		}
	}

	progs, err := loadPrograms(filepath.Join(dir, "programs.json"))
	if err != nil {
		return nil, fmt.Errorf("store: loading programs: %w", err)
	}
	for _, p := range progs {
		env, ok := envs[p.EnvironmentID]
		if !ok {
			return nil, fmt.Errorf("store: program %q references unknown environment %q", p.ID, p.EnvironmentID)
		}
		if err := p.Validate(env, types); err != nil {
			return nil, err
		}
	}

	return &Catalog{Types: types, Environments: envs, Programs: progs}, nil
}

type fixtureTypeJSON struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	TotalChannels int          `json:"totalChannels"`
	Features      []featureJSON `json:"features"`
}

type featureJSON struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Channels []int      `json:"channels"`
	Range    *rangeJSON `json:"range,omitempty"`
}

type rangeJSON struct {
	Min byte `json:"min"`
	Max byte `json:"max"`
}

func loadFixtureTypes(path string) (map[string]*fixture.Type, error) {
	var raw []fixtureTypeJSON
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]*fixture.Type, len(raw))
	for _, t := range raw {
		features := make([]fixture.Feature, len(t.Features))
		for i, f := range t.Features {
			feat := fixture.Feature{
				ID:       f.ID,
				Kind:     fixture.Kind(f.Kind),
				Channels: f.Channels,
			}
			if f.Range != nil {
				feat.Range = &fixture.Range{Min: f.Range.Min, Max: f.Range.Max}
			}
			features[i] = feat
		}
		out[t.ID] = &fixture.Type{
			ID:            t.ID,
			Name:          t.Name,
			TotalChannels: t.TotalChannels,
			Features:      features,
		}
	}
	return out, nil
}

type environmentJSON struct {
	ID        string        `json:"id"`
	RenderFPS int           `json:"renderFps"`
	Fixtures  []fixtureJSON `json:"fixtures"`
	Outputs   []outputJSON  `json:"outputs"`
}

type fixtureJSON struct {
	ID         string    `json:"id"`
	TypeID     string    `json:"typeId"`
	Name       string    `json:"name"`
	Universe   int       `json:"universe"`
	Address    int       `json:"address"`
	Position   *posJSON  `json:"position,omitempty"`
	MQTTExpose *bool     `json:"mqttExpose,omitempty"`
}

type posJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type outputJSON struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host,omitempty"`
	Port            int    `json:"port,omitempty"`
	Universes       []int  `json:"universes,omitempty"`
	BrokerURL       string `json:"brokerUrl,omitempty"`
	BaseTopic       string `json:"baseTopic,omitempty"`
	DiscoveryPrefix string `json:"discoveryPrefix,omitempty"`
	NodeID          string `json:"nodeId,omitempty"`
	Topic           string `json:"topic,omitempty"`
}

func loadEnvironments(path string) (map[string]*environment.Environment, error) {
	var raw []environmentJSON
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]*environment.Environment, len(raw))
	for _, e := range raw {
		fixtures := make([]environment.Fixture, len(e.Fixtures))
		for i, f := range e.Fixtures {
			ef := environment.Fixture{
				ID:         f.ID,
				TypeID:     f.TypeID,
				Name:       f.Name,
				Universe:   f.Universe,
				Address:    f.Address,
				MQTTExpose: f.MQTTExpose,
			}
			if f.Position != nil {
				ef.Position = &environment.Position{X: f.Position.X, Y: f.Position.Y}
			}
			fixtures[i] = ef
		}
		outputs := make([]environment.Output, len(e.Outputs))
		for i, o := range e.Outputs {
			outputs[i] = environment.Output{
				ID:              o.ID,
				Kind:            environment.OutputKind(o.Kind),
				Enabled:         o.Enabled,
				Host:            o.Host,
				Port:            o.Port,
				Universes:       o.Universes,
				BrokerURL:       o.BrokerURL,
				BaseTopic:       o.BaseTopic,
				DiscoveryPrefix: o.DiscoveryPrefix,
				NodeID:          o.NodeID,
				Topic:           o.Topic,
			}
		}
		out[e.ID] = &environment.Environment{
			ID:        e.ID,
			RenderFPS: e.RenderFPS,
			Fixtures:  fixtures,
			Outputs:   outputs,
		}
	}
	return out, nil
}

type programJSON struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	EnvironmentID string     `json:"environmentId"`
	SPM           *int       `json:"spm,omitempty"`
	TempoBpm      *int       `json:"tempoBpm,omitempty"`
	Loop          *bool      `json:"loop,omitempty"`
	Steps         []stepJSON `json:"steps"`
}

type stepJSON struct {
	ID         string      `json:"id"`
	DurationMs int         `json:"durationMs"`
	FadeMs     int         `json:"fadeMs"`
	Frames     []frameJSON `json:"frames"`
}

type frameJSON struct {
	FixtureID string         `json:"fixtureId"`
	FeatureID string         `json:"featureId"`
	Value     flexibleValues `json:"value"`
}

// flexibleValues decodes a FeatureFrame's value, which per spec.md §3
// is either a single scalar 0-255 or an array matching the feature's
// channel count.
type flexibleValues []byte

func (v *flexibleValues) UnmarshalJSON(data []byte) error {
	var scalar float64
	if err := json.Unmarshal(data, &scalar); err == nil {
		*v = []byte{clampByteJSON(scalar)}
		return nil
	}
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("store: feature frame value must be a number or array of numbers: %w", err)
	}
	out := make([]byte, len(arr))
	for i, f := range arr {
		out[i] = clampByteJSON(f)
	}
	*v = out
	return nil
}

func clampByteJSON(f float64) byte {
	if f <= 0 {
		return 0
	}
	if f >= 255 {
		return 255
	}
	return byte(f + 0.5)
}

// normalizeSPM honors spec.md §6's "programs normalize spm from either
// spm or a legacy tempoBpm, default loop=true".
func (p programJSON) normalizeSPM() int {
	if p.SPM != nil {
		return *p.SPM
	}
	if p.TempoBpm != nil {
		return *p.TempoBpm
	}
	return 120
}

func (p programJSON) normalizeLoop() bool {
	if p.Loop != nil {
		return *p.Loop
	}
	return true
}

func loadPrograms(path string) (map[string]*program.Program, error) {
	var raw []programJSON
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]*program.Program, len(raw))
	for _, p := range raw {
		steps := make([]program.Step, len(p.Steps))
		for i, s := range p.Steps {
			frames := make(map[program.FrameKey][]byte, len(s.Frames))
			for _, f := range s.Frames {
				frames[program.FrameKey{FixtureID: f.FixtureID, FeatureID: f.FeatureID}] = []byte(f.Value)
			}
			steps[i] = program.Step{ID: s.ID, DurationMs: s.DurationMs, FadeMs: s.FadeMs, Frames: frames}
		}
		out[p.ID] = &program.Program{
			ID:            p.ID,
			Name:          p.Name,
			EnvironmentID: p.EnvironmentID,
			SPM:           p.normalizeSPM(),
			Loop:          p.normalizeLoop(),
			Steps:         steps,
		}
	}
	return out, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}
