package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ameesme/chaser-v2/environment"
	"github.com/ameesme/chaser-v2/fixture"
	"github.com/ameesme/chaser-v2/layer"
)

func testCatalog() (map[string]*fixture.Type, *environment.Environment) {
	types := map[string]*fixture.Type{
		"par": {
			ID:            "par",
			TotalChannels: 4,
			Features: []fixture.Feature{
				{ID: "rgb", Kind: fixture.KindRGB, Channels: []int{1, 2, 3}},
				{ID: "dimmer", Kind: fixture.KindScalar, Channels: []int{4}, Range: &fixture.Range{Min: 0, Max: 200}},
			},
		},
	}
	env := &environment.Environment{
		ID: "stage",
		Fixtures: []environment.Fixture{
			{ID: "par1", TypeID: "par", Universe: 0, Address: 1},
			{ID: "par2", TypeID: "par", Universe: 1, Address: 500},
		},
	}
	return types, env
}

func TestBuildZeroesUnmentionedChannels(t *testing.T) {
	types, env := testCatalog()
	b := NewBuilder()
	pkt := b.Build(Input{Values: layer.Values{}}, env, types)

	require.Contains(t, pkt.DMXByUniverse, 0)
	require.Contains(t, pkt.DMXByUniverse, 1)
	for i := 0; i < 4; i++ {
		assert.Equal(t, byte(0), pkt.DMXByUniverse[0][i])
	}
}

func TestBuildWritesFeatureChannels(t *testing.T) {
	types, env := testCatalog()
	b := NewBuilder()
	values := layer.Values{
		{FixtureID: "par1", FeatureID: "rgb"}: {10, 20, 30},
	}
	pkt := b.Build(Input{Values: values}, env, types)
	buf := pkt.DMXByUniverse[0]
	assert.Equal(t, byte(10), buf[0])
	assert.Equal(t, byte(20), buf[1])
	assert.Equal(t, byte(30), buf[2])
	assert.Equal(t, byte(0), buf[3], "dimmer untouched this frame must read zero")
}

func TestBuildScalesOutputRange(t *testing.T) {
	types, env := testCatalog()
	b := NewBuilder()
	values := layer.Values{
		{FixtureID: "par1", FeatureID: "dimmer"}: {255},
	}
	pkt := b.Build(Input{Values: values}, env, types)
	assert.Equal(t, byte(200), pkt.DMXByUniverse[0][3], "full-scale input should map to the feature's max")
}

func TestBuildDropsAddressesOutsideUniverse(t *testing.T) {
	types, env := testCatalog()
	b := NewBuilder()
	// Moved to address 510, par2's rgb feature lands on 510-512 while its
	// dimmer (fixture channel 4) would land on 513, past the end of the
	// universe: the dimmer is dropped and the rgb channels are still written.
	env.Fixtures[1].Address = 510
	values := layer.Values{
		{FixtureID: "par2", FeatureID: "rgb"}:    {1, 2, 3},
		{FixtureID: "par2", FeatureID: "dimmer"}: {255},
	}
	pkt := b.Build(Input{Values: values}, env, types)
	buf := pkt.DMXByUniverse[1]
	assert.Equal(t, byte(1), buf[509])
	assert.Equal(t, byte(2), buf[510])
	assert.Equal(t, byte(3), buf[511])
}

func TestBuildSkipsUnknownFixtureType(t *testing.T) {
	types, env := testCatalog()
	env.Fixtures = append(env.Fixtures, environment.Fixture{ID: "ghost", TypeID: "missing", Universe: 2, Address: 1})
	b := NewBuilder()
	pkt := b.Build(Input{Values: layer.Values{}}, env, types)
	_, ok := pkt.DMXByUniverse[2]
	assert.False(t, ok, "a fixture with an unknown type should not create a universe buffer")
}

func TestBuildDropsFrameForUnknownFixture(t *testing.T) {
	types, env := testCatalog()
	b := NewBuilder()
	values := layer.Values{
		{FixtureID: "ghost", FeatureID: "rgb"}: {1, 2, 3},
	}
	pkt := b.Build(Input{Values: values}, env, types)
	assert.NotNil(t, pkt)
}

func TestParseKey(t *testing.T) {
	k, ok := ParseKey("par1:rgb")
	require.True(t, ok)
	assert.Equal(t, layer.Key{FixtureID: "par1", FeatureID: "rgb"}, k)

	_, ok = ParseKey("malformed")
	assert.False(t, ok)
}
