// Package render converts a mixed RenderFrame into universe-addressed
// DMX byte buffers: spec.md §4.4's Render Packet Builder.
package render

import (
	"log/slog"
	"strings"

	"github.com/ameesme/chaser-v2/environment"
	"github.com/ameesme/chaser-v2/fixture"
	"github.com/ameesme/chaser-v2/layer"
	"github.com/ameesme/chaser-v2/logging"
)

// UniverseSize is the number of channels (bytes) in one DMX universe.
const UniverseSize = 512

// Packet is the output of Build: one 512-byte buffer per universe
// touched by the environment's fixtures.
type Packet struct {
	EnvironmentID string
	DMXByUniverse map[int]*[UniverseSize]byte
}

// Input is the minimal view of a RenderFrame the builder needs, so this
// package does not depend on the sequencer package.
type Input struct {
	Values layer.Values
}

// Builder maps environment fixtures to DMX addresses using a fixture
// type catalog. It holds no mutable state and is safe for concurrent
// use — grounded on the teacher's platform/segment.go pure
// index-to-offset mapping, generalized from one LED segment to one DMX
// universe.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a Builder that logs dropped/structural issues at
// slog.Default().
func NewBuilder() *Builder {
	return &Builder{log: logging.Component("render")}
}

// Build produces a DMX buffer per universe referenced by env's fixtures.
// Every modeled channel of every fixture is written on every call
// (zeroed first), so a feature with no entry in frame.Values still gets
// an explicit zero byte — downstream devices never latch stale data
// from a feature nobody is driving this frame (spec.md §4.4 invariant).
func (b *Builder) Build(frame Input, env *environment.Environment, types map[string]*fixture.Type) *Packet {
	if env == nil {
		return nil
	}
	pkt := &Packet{
		EnvironmentID: env.ID,
		DMXByUniverse: make(map[int]*[UniverseSize]byte),
	}

	for i := range env.Fixtures {
		f := &env.Fixtures[i]
		t, ok := types[f.TypeID]
		if !ok {
			b.log.Debug("skipping fixture with unknown type", "fixture", f.ID, "type", f.TypeID)
			continue
		}
		buf := b.universeBuf(pkt, f.Universe)
		for ch := 1; ch <= t.TotalChannels; ch++ {
			addr := f.Address + ch - 1
			if addr >= 1 && addr <= UniverseSize {
				buf[addr-1] = 0
			}
		}
	}

	for key, values := range frame.Values {
		b.writeFeature(pkt, env, types, key, values)
	}

	return pkt
}

func (b *Builder) universeBuf(pkt *Packet, universe int) *[UniverseSize]byte {
	if buf, ok := pkt.DMXByUniverse[universe]; ok {
		return buf
	}
	buf := &[UniverseSize]byte{}
	pkt.DMXByUniverse[universe] = buf
	return buf
}

func (b *Builder) writeFeature(pkt *Packet, env *environment.Environment, types map[string]*fixture.Type, key layer.Key, values []byte) {
	f, ok := env.Fixture(key.FixtureID)
	if !ok {
		b.log.Debug("dropping frame for unknown fixture", "fixture", key.FixtureID)
		return
	}
	t, ok := types[f.TypeID]
	if !ok {
		return
	}
	feat, ok := t.Feature(key.FeatureID)
	if !ok {
		b.log.Debug("dropping frame for unknown feature", "fixture", key.FixtureID, "feature", key.FeatureID)
		return
	}
	buf := b.universeBuf(pkt, f.Universe)
	for i, ch := range feat.Channels {
		raw := 0.0
		if i < len(values) {
			raw = float64(values[i])
		} else if len(values) > 0 {
			raw = float64(values[0])
		}
		out := scale(raw, feat.Range)
		addr := f.Address + ch - 1
		if addr >= 1 && addr <= UniverseSize {
			buf[addr-1] = out
		}
	}
}

// scale clamps raw to [0,255] then maps it through the feature's
// optional output range, per spec.md §4.4:
//   - min==0 && 0<max<255: linear-scale the DMX domain into [0,max].
//   - otherwise: clamp raw to [min,max].
func scale(raw float64, r *fixture.Range) byte {
	clamped := layer.ClampByte(raw)
	if r == nil {
		return clamped
	}
	if r.Min == 0 && r.Max > 0 && r.Max < 255 {
		return layer.ClampByte((float64(clamped) / 255.0) * float64(r.Max))
	}
	if clamped < r.Min {
		return r.Min
	}
	if clamped > r.Max {
		return r.Max
	}
	return clamped
}

// ParseKey parses the legacy "{fixtureId}:{featureId}" wire format used
// by JSON persistence and MQTT raw payloads back into a layer.Key.
func ParseKey(s string) (layer.Key, bool) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return layer.Key{}, false
	}
	return layer.Key{FixtureID: s[:idx], FeatureID: s[idx+1:]}, true
}
