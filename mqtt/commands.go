package mqtt

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"

	"github.com/ameesme/chaser-v2/layer"
	"github.com/ameesme/chaser-v2/sequencer"
)

// dispatch routes an inbound message to the handler matching its topic
// shape, per the table in spec.md §4.6 "Command handling".
func (b *Bridge) dispatch(_ mqttlib.Client, msg mqttlib.Message) {
	topic := msg.Topic()
	payload := msg.Payload()

	switch {
	case topic == b.baseTopic+"/control/spm/set":
		b.handleSetSpm(payload)
	case topic == b.baseTopic+"/control/play_from_start/press":
		b.seq.SetStep(0)
		b.seq.Resume()
	case topic == b.baseTopic+"/control/pause/press":
		b.seq.Pause()
	case topic == b.baseTopic+"/control/blackout/set":
		b.handleSetBlackout(payload)
	case strings.HasPrefix(topic, b.baseTopic+"/program/") && strings.HasSuffix(topic, "/press"):
		programID := strings.TrimSuffix(strings.TrimPrefix(topic, b.baseTopic+"/program/"), "/press")
		b.handleTriggerProgram(programID)
	case strings.HasPrefix(topic, b.baseTopic+"/light/") && strings.HasSuffix(topic, "/set"):
		fixtureID := strings.TrimSuffix(strings.TrimPrefix(topic, b.baseTopic+"/light/"), "/set")
		b.handleLightSet(fixtureID, payload)
	default:
		b.log.Debug("unrecognized command topic", "topic", topic)
	}
}

func parseNumberOrObject(payload []byte) (float64, bool) {
	var f float64
	if err := json.Unmarshal(payload, &f); err == nil {
		return f, true
	}
	var wrapped struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil {
		return wrapped.Value, true
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64); err == nil {
		return v, true
	}
	return 0, false
}

func parseBool(payload []byte) (bool, bool) {
	s := strings.TrimSpace(strings.ToUpper(string(payload)))
	switch s {
	case "ON", "TRUE", "1":
		return true, true
	case "OFF", "FALSE", "0":
		return false, true
	}
	var wrapped struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.State != "" {
		return parseBool([]byte(wrapped.State))
	}
	return false, false
}

func clampSpm(v int) int {
	if v < 1 {
		return 1
	}
	if v > 500 {
		return 500
	}
	return v
}

func (b *Bridge) handleSetSpm(payload []byte) {
	v, ok := parseNumberOrObject(payload)
	if !ok {
		b.log.Warn("malformed spm payload", "payload", string(payload))
		return
	}
	b.seq.SetSpm(clampSpm(int(v)))
}

func (b *Bridge) handleSetBlackout(payload []byte) {
	v, ok := parseBool(payload)
	if !ok {
		b.log.Warn("malformed blackout payload", "payload", string(payload))
		return
	}
	b.seq.SetBlackout(v)
}

func (b *Bridge) handleTriggerProgram(programID string) {
	if b.seq.GetState().IsPlaying {
		return
	}
	for _, p := range b.programsSnapshot() {
		if p.ID != programID {
			continue
		}
		b.seq.SetSpm(clampSpm(p.SPM))
		b.seq.SetProgram(p, sequencer.SetProgramOptions{})
		b.seq.SetStep(0)
		b.seq.Resume()
		return
	}
	b.log.Warn("trigger for unknown program", "program", programID)
}

type lightCommandPayload struct {
	State      *string  `json:"state,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Color      *struct {
		R float64 `json:"r"`
		G float64 `json:"g"`
		B float64 `json:"b"`
	} `json:"color,omitempty"`
	ColorTemp *float64 `json:"color_temp,omitempty"`
}

func clampChannel(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func clampKelvin(v float64) float64 {
	if v < 2700 {
		return 2700
	}
	if v > 6500 {
		return 6500
	}
	return v
}

// handleLightSet parses one light/set command into layer-A ops per
// spec.md §4.6's "Light command payload" semantics, queues them
// (overwriting any ops already queued for this fixture), and schedules
// the trailing batch flush.
func (b *Bridge) handleLightSet(fixtureID string, payload []byte) {
	meta, ok := b.lightMeta[fixtureID]
	if !ok {
		b.log.Warn("light command for unknown fixture", "fixture", fixtureID)
		return
	}
	var cmd lightCommandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.log.Warn("malformed light payload", "fixture", fixtureID, "error", err)
		return
	}

	b.mu.Lock()
	state := b.lightStates[fixtureID]
	b.mu.Unlock()

	if cmd.State != nil {
		if on, ok := parseBool([]byte(*cmd.State)); ok && !on {
			b.queueOps(fixtureID, clearFixtureOps(fixtureID, meta))
			b.mu.Lock()
			state.Brightness = 0
			b.lightStates[fixtureID] = state
			b.mu.Unlock()
			b.scheduleFlush()
			return
		}
	}

	if state.Brightness == 0 {
		state.Brightness = 255
	}
	if cmd.Brightness != nil {
		state.Brightness = clampChannel(*cmd.Brightness)
	}
	if cmd.Color != nil && meta.RGBFeatureID != "" {
		state.BaseRGB = [3]float64{clampChannel(cmd.Color.R), clampChannel(cmd.Color.G), clampChannel(cmd.Color.B)}
		state.Mode = ModeRGB
	}
	if cmd.ColorTemp != nil && meta.CCTFeatureID != "" {
		kelvin := clampKelvin(1e6 / *cmd.ColorTemp)
		state.BaseCCT = [2]float64{
			255 * (6500 - kelvin) / 3800,
			255 * (kelvin - 2700) / 3800,
		}
		state.Mode = ModeColorTemp
	}

	b.mu.Lock()
	b.lightStates[fixtureID] = state
	b.mu.Unlock()

	ops := lightStateOps(fixtureID, meta, state)
	b.queueOps(fixtureID, ops)
	b.scheduleFlush()
}

// lightStateOps produces the set/clear ops for one fixture's current
// mode, per spec.md §4.6's "Produce operations by mode".
func lightStateOps(fixtureID string, meta LightMeta, state FixtureLightState) []layer.Op {
	ratio := state.Brightness / 255.0
	var ops []layer.Op
	switch {
	case state.Mode == ModeRGB && meta.RGBFeatureID != "":
		ops = append(ops, layer.Op{
			Key: layer.Key{FixtureID: fixtureID, FeatureID: meta.RGBFeatureID},
			Value: []float64{
				state.BaseRGB[0] * ratio,
				state.BaseRGB[1] * ratio,
				state.BaseRGB[2] * ratio,
			},
		})
		if meta.CCTFeatureID != "" {
			ops = append(ops, layer.Op{Key: layer.Key{FixtureID: fixtureID, FeatureID: meta.CCTFeatureID}, Clear: true})
		}
		if meta.DimmerFeatureID != "" {
			ops = append(ops, layer.Op{Key: layer.Key{FixtureID: fixtureID, FeatureID: meta.DimmerFeatureID}, Clear: true})
		}
	case state.Mode == ModeColorTemp && meta.CCTFeatureID != "":
		ops = append(ops, layer.Op{
			Key: layer.Key{FixtureID: fixtureID, FeatureID: meta.CCTFeatureID},
			Value: []float64{
				state.BaseCCT[0] * ratio,
				state.BaseCCT[1] * ratio,
			},
		})
		if meta.RGBFeatureID != "" {
			ops = append(ops, layer.Op{Key: layer.Key{FixtureID: fixtureID, FeatureID: meta.RGBFeatureID}, Clear: true})
		}
		if meta.DimmerFeatureID != "" {
			ops = append(ops, layer.Op{Key: layer.Key{FixtureID: fixtureID, FeatureID: meta.DimmerFeatureID}, Clear: true})
		}
	case meta.DimmerFeatureID != "":
		ops = append(ops, layer.Op{
			Key:   layer.Key{FixtureID: fixtureID, FeatureID: meta.DimmerFeatureID},
			Value: []float64{state.Brightness},
		})
	case meta.CCTFeatureID != "":
		ops = append(ops, layer.Op{
			Key: layer.Key{FixtureID: fixtureID, FeatureID: meta.CCTFeatureID},
			Value: []float64{
				state.BaseCCT[0] * ratio,
				state.BaseCCT[1] * ratio,
			},
		})
	case meta.RGBFeatureID != "":
		ops = append(ops, layer.Op{
			Key: layer.Key{FixtureID: fixtureID, FeatureID: meta.RGBFeatureID},
			Value: []float64{
				state.BaseRGB[0] * ratio,
				state.BaseRGB[1] * ratio,
				state.BaseRGB[2] * ratio,
			},
		})
	}
	return ops
}

// clearFixtureOps expands a whole-fixture clear into one Clear op per
// feature this light touches, since layer.Store.Batch clears by
// (fixture, feature) key rather than by fixture alone.
func clearFixtureOps(fixtureID string, meta LightMeta) []layer.Op {
	var ops []layer.Op
	for _, featureID := range []string{meta.RGBFeatureID, meta.CCTFeatureID, meta.DimmerFeatureID} {
		if featureID != "" {
			ops = append(ops, layer.Op{Key: layer.Key{FixtureID: fixtureID, FeatureID: featureID}, Clear: true})
		}
	}
	return ops
}

func (b *Bridge) queueOps(fixtureID string, ops []layer.Op) {
	b.mu.Lock()
	b.pendingOps[fixtureID] = ops
	b.mu.Unlock()
}

// scheduleFlush arranges a single trailing timer at LightCommandBatchMs:
// if one is already pending, further enqueues just extend its queue
// (spec.md §4.6).
func (b *Bridge) scheduleFlush() {
	b.mu.Lock()
	if b.flushPending {
		b.mu.Unlock()
		return
	}
	b.flushPending = true
	b.mu.Unlock()

	time.AfterFunc(LightCommandBatchMs*time.Millisecond, b.flush)
}

func (b *Bridge) flush() {
	b.mu.Lock()
	b.flushPending = false
	ops := make([]layer.Op, 0)
	for _, fixtureOps := range b.pendingOps {
		ops = append(ops, fixtureOps...)
	}
	b.pendingOps = make(map[string][]layer.Op)
	b.mu.Unlock()

	if len(ops) > 0 {
		b.seq.ApplyLayerABatch(ops)
	}
}
