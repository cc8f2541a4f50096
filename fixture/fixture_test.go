package fixture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ameesme/chaser-v2/validate"
)

func TestKindChannels(t *testing.T) {
	assert.Equal(t, 1, KindScalar.Channels())
	assert.Equal(t, 3, KindRGB.Channels())
	assert.Equal(t, 2, KindCCT.Channels())
	assert.Equal(t, 0, Kind("unknown").Channels())
}

func validType() *Type {
	return &Type{
		ID:            "par",
		Name:          "PAR Can",
		TotalChannels: 4,
		Features: []Feature{
			{ID: "rgb", Kind: KindRGB, Channels: []int{1, 2, 3}},
			{ID: "dimmer", Kind: KindScalar, Channels: []int{4}},
		},
	}
}

func TestValidateAcceptsWellFormedType(t *testing.T) {
	require.NoError(t, validType().Validate())
}

func TestValidateRejectsNonPositiveTotalChannels(t *testing.T) {
	typ := validType()
	typ.TotalChannels = 0
	err := typ.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, validate.ErrValidation)
}

func TestValidateRejectsWrongChannelArity(t *testing.T) {
	typ := validType()
	typ.Features[0].Channels = []int{1, 2}
	err := typ.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, validate.ErrValidation)
}

func TestValidateRejectsOutOfRangeChannel(t *testing.T) {
	typ := validType()
	typ.Features[1].Channels = []int{5}
	err := typ.Validate()
	require.Error(t, err)
}

func TestValidateRejectsDuplicateChannelClaim(t *testing.T) {
	typ := validType()
	typ.Features[1].Channels = []int{1}
	err := typ.Validate()
	require.Error(t, err)
}

func TestValidateRejectsInvertedRange(t *testing.T) {
	typ := validType()
	typ.Features[1].Range = &Range{Min: 200, Max: 100}
	err := typ.Validate()
	require.Error(t, err)
}

func TestFeatureLookup(t *testing.T) {
	typ := validType()
	f, ok := typ.Feature("dimmer")
	require.True(t, ok)
	assert.Equal(t, KindScalar, f.Kind)

	_, ok = typ.Feature("missing")
	assert.False(t, ok)
}
