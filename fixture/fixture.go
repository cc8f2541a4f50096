// Package fixture defines the immutable catalog of fixture types: how
// many DMX channels a fixture has and which channels belong to which
// logical feature (an RGB triple, a warm/cool CCT pair, or a single
// scalar such as a dimmer).
package fixture

import (
	"fmt"

	"github.com/ameesme/chaser-v2/validate"
)

// Kind names a feature's channel arity and interpretation.
type Kind string

const (
	KindScalar Kind = "scalar"
	KindRGB    Kind = "rgb"
	KindCCT    Kind = "cct"
)

// Channels returns the number of DMX channels a feature of this kind
// occupies.
func (k Kind) Channels() int {
	switch k {
	case KindRGB:
		return 3
	case KindCCT:
		return 2
	case KindScalar:
		return 1
	default:
		return 0
	}
}

// Range restricts a feature's output to a sub-range of the 8-bit DMX
// domain. A nil *Range means the feature uses the full 0-255 range
// unscaled.
type Range struct {
	Min byte
	Max byte
}

// Feature is a logical group of channels on a fixture type, addressed
// by fixture-local, 1-based channel indices.
type Feature struct {
	ID       string
	Kind     Kind
	Channels []int // 1-based, length == Kind.Channels()
	Range    *Range
}

// Type is an immutable catalog entry describing one kind of physical
// fixture: its total channel count and the features addressable on it.
type Type struct {
	ID           string
	Name         string
	TotalChannels int
	Features     []Feature
}

// Feature looks up a feature by id on this fixture type.
func (t *Type) Feature(id string) (*Feature, bool) {
	for i := range t.Features {
		if t.Features[i].ID == id {
			return &t.Features[i], true
		}
	}
	return nil, false
}

// Validate checks the invariants spec.md §3 places on a fixture type:
// channel counts match kind, channel indices are in range, and no
// channel is claimed by two features.
func (t *Type) Validate() error {
	if t.TotalChannels <= 0 {
		return fmt.Errorf("%w: fixture type %q has non-positive total channels", validate.ErrValidation, t.ID)
	}
	seen := make(map[int]string, t.TotalChannels)
	for _, f := range t.Features {
		want := f.Kind.Channels()
		if want == 0 {
			return fmt.Errorf("%w: fixture type %q feature %q has unknown kind %q", validate.ErrValidation, t.ID, f.ID, f.Kind)
		}
		if len(f.Channels) != want {
			return fmt.Errorf("%w: fixture type %q feature %q wants %d channels, got %d", validate.ErrValidation, t.ID, f.ID, want, len(f.Channels))
		}
		for _, ch := range f.Channels {
			if ch < 1 || ch > t.TotalChannels {
				return fmt.Errorf("%w: fixture type %q feature %q channel %d out of range [1,%d]", validate.ErrValidation, t.ID, f.ID, ch, t.TotalChannels)
			}
			if owner, ok := seen[ch]; ok {
				return fmt.Errorf("%w: fixture type %q channel %d claimed by both %q and %q", validate.ErrValidation, t.ID, ch, owner, f.ID)
			}
			seen[ch] = f.ID
		}
		if f.Range != nil && f.Range.Min > f.Range.Max {
			return fmt.Errorf("%w: fixture type %q feature %q has min > max", validate.ErrValidation, t.ID, f.ID)
		}
	}
	return nil
}
