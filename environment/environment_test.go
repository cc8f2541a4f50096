package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ameesme/chaser-v2/fixture"
)

func parType() map[string]*fixture.Type {
	return map[string]*fixture.Type{
		"par": {
			ID:            "par",
			TotalChannels: 4,
			Features: []fixture.Feature{
				{ID: "rgb", Kind: fixture.KindRGB, Channels: []int{1, 2, 3}},
				{ID: "dimmer", Kind: fixture.KindScalar, Channels: []int{4}},
			},
		},
	}
}

func TestExposedDefaultsTrue(t *testing.T) {
	f := Fixture{ID: "par1"}
	assert.True(t, f.Exposed())

	no := false
	f.MQTTExpose = &no
	assert.False(t, f.Exposed())

	yes := true
	f.MQTTExpose = &yes
	assert.True(t, f.Exposed())
}

func TestEffectiveRenderFPSDefaultsAndClamps(t *testing.T) {
	assert.Equal(t, 30, (&Environment{}).EffectiveRenderFPS())
	assert.Equal(t, 30, (&Environment{RenderFPS: -5}).EffectiveRenderFPS())
	assert.Equal(t, 120, (&Environment{RenderFPS: 500}).EffectiveRenderFPS())
	assert.Equal(t, 60, (&Environment{RenderFPS: 60}).EffectiveRenderFPS())
}

func TestFixtureLookup(t *testing.T) {
	env := &Environment{Fixtures: []Fixture{{ID: "par1"}}}
	f, ok := env.Fixture("par1")
	require.True(t, ok)
	assert.Equal(t, "par1", f.ID)

	_, ok = env.Fixture("missing")
	assert.False(t, ok)
}

func TestValidateAcceptsWellFormedEnvironment(t *testing.T) {
	env := &Environment{
		ID: "stage",
		Fixtures: []Fixture{
			{ID: "par1", TypeID: "par", Universe: 0, Address: 1},
		},
	}
	require.NoError(t, env.Validate(parType()))
}

func TestValidateRejectsDuplicateFixtureID(t *testing.T) {
	env := &Environment{
		ID: "stage",
		Fixtures: []Fixture{
			{ID: "par1", TypeID: "par", Universe: 0, Address: 1},
			{ID: "par1", TypeID: "par", Universe: 0, Address: 5},
		},
	}
	assert.Error(t, env.Validate(parType()))
}

func TestValidateRejectsOutOfRangeUniverse(t *testing.T) {
	env := &Environment{ID: "stage", Fixtures: []Fixture{{ID: "p", TypeID: "par", Universe: 40000, Address: 1}}}
	assert.Error(t, env.Validate(parType()))
}

func TestValidateRejectsOutOfRangeAddress(t *testing.T) {
	env := &Environment{ID: "stage", Fixtures: []Fixture{{ID: "p", TypeID: "par", Universe: 0, Address: 600}}}
	assert.Error(t, env.Validate(parType()))
}

func TestValidateRejectsUnknownFixtureType(t *testing.T) {
	env := &Environment{ID: "stage", Fixtures: []Fixture{{ID: "p", TypeID: "ghost", Universe: 0, Address: 1}}}
	assert.Error(t, env.Validate(parType()))
}
