package mqtt

import (
	"fmt"

	"github.com/ameesme/chaser-v2/layer"
	"github.com/ameesme/chaser-v2/sequencer"
)

type lightStatePayload struct {
	State      string   `json:"state"`
	Brightness float64  `json:"brightness"`
	ColorMode  string   `json:"color_mode"`
	Color      *rgbJSON `json:"color,omitempty"`
	ColorTemp  *float64 `json:"color_temp,omitempty"`
}

type rgbJSON struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// mirrorLightStates re-derives each light's effective color mode and
// brightness from the current layer-A values and publishes retained
// state, per spec.md §4.6's "Layer-A state mirroring".
func (b *Bridge) mirrorLightStates(f sequencer.Frame) {
	for fixtureID, meta := range b.lightMeta {
		rgb := f.LayerAValues[layer.Key{FixtureID: fixtureID, FeatureID: meta.RGBFeatureID}]
		cct := f.LayerAValues[layer.Key{FixtureID: fixtureID, FeatureID: meta.CCTFeatureID}]
		dimmer := f.LayerAValues[layer.Key{FixtureID: fixtureID, FeatureID: meta.DimmerFeatureID}]

		b.mu.Lock()
		state := b.lightStates[fixtureID]
		b.mu.Unlock()

		rgbMax := maxBytes(rgb)
		cctMax := maxBytes(cct)
		dimmerVal := maxBytes(dimmer)

		switch {
		case meta.RGBFeatureID != "" && rgbMax > 0:
			state.Mode = ModeRGB
			if state.Brightness == 0 {
				state.Brightness = rgbMax
			}
		case meta.CCTFeatureID != "" && cctMax > 0:
			state.Mode = ModeColorTemp
			if state.Brightness == 0 {
				state.Brightness = cctMax
			}
		case meta.DimmerFeatureID != "" && dimmerVal > 0:
			state.Mode = ModeBrightness
			state.Brightness = dimmerVal
		}

		ratio := state.Brightness / 255.0
		if ratio > 0 {
			if meta.RGBFeatureID != "" && len(rgb) == 3 {
				state.BaseRGB = [3]float64{float64(rgb[0]) / ratio, float64(rgb[1]) / ratio, float64(rgb[2]) / ratio}
			}
			if meta.CCTFeatureID != "" && len(cct) == 2 {
				state.BaseCCT = [2]float64{float64(cct[0]) / ratio, float64(cct[1]) / ratio}
			}
		}

		b.mu.Lock()
		b.lightStates[fixtureID] = state
		b.mu.Unlock()

		b.publishLightState(fixtureID, meta, state)
	}
}

func maxBytes(v []byte) float64 {
	m := 0.0
	for _, b := range v {
		if f := float64(b); f > m {
			m = f
		}
	}
	return m
}

func (b *Bridge) publishLightState(fixtureID string, meta LightMeta, state FixtureLightState) {
	payload := lightStatePayload{
		Brightness: state.Brightness,
		ColorMode:  string(state.Mode),
	}
	if state.Brightness > 0 {
		payload.State = "ON"
	} else {
		payload.State = "OFF"
	}
	if meta.RGBFeatureID != "" && state.Mode == ModeRGB {
		payload.Color = &rgbJSON{R: state.BaseRGB[0], G: state.BaseRGB[1], B: state.BaseRGB[2]}
	}
	if meta.CCTFeatureID != "" && state.Mode == ModeColorTemp {
		kelvin := 2700 + (state.BaseCCT[1]/255.0)*3800
		mireds := kelvinToMired(kelvin)
		payload.ColorTemp = &mireds
	}
	topic := fmt.Sprintf("%s/light/%s/state", b.baseTopic, fixtureID)
	b.publishJSON(topic, true, payload)
}
