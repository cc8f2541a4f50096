// Package mqtt bridges a Sequencer to a home-automation broker: it
// advertises Home-Assistant-style discovery payloads, accepts commands
// that translate into sequencer/layer-A operations, and mirrors layer-A
// per fixture as light states (spec.md §4.6). Grounded on the teacher's
// AbstractProducer connection-lifecycle pattern and AtomicMapEvent
// debounce-notify idiom; the MQTT client itself (paho.mqtt.golang) is an
// out-of-pack ecosystem dependency — no example repo in the retrieved
// pack implements an MQTT client.
package mqtt

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	mqttlib "github.com/eclipse/paho.mqtt.golang"

	"github.com/ameesme/chaser-v2/environment"
	"github.com/ameesme/chaser-v2/fixture"
	"github.com/ameesme/chaser-v2/layer"
	"github.com/ameesme/chaser-v2/logging"
	"github.com/ameesme/chaser-v2/program"
	"github.com/ameesme/chaser-v2/render"
	"github.com/ameesme/chaser-v2/sequencer"
)

// LightCommandBatchMs is the trailing debounce window for queued light
// commands before they are applied as a single layer-A batch.
const LightCommandBatchMs = 25

var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

func sanitize(s string) string {
	s = strings.ToLower(s)
	s = sanitizeRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// ColorMode names the color mode a light fixture is currently driven in.
type ColorMode string

const (
	ModeRGB        ColorMode = "rgb"
	ModeColorTemp  ColorMode = "color_temp"
	ModeBrightness ColorMode = "brightness"
)

// LightMeta is the precomputed light-capability summary for one fixture
// (spec.md §4.6 "Light meta").
type LightMeta struct {
	FixtureID      string
	Name           string
	RGBFeatureID   string
	CCTFeatureID   string
	DimmerFeatureID string
}

// FixtureLightState is the remembered, round-trip-stable light state
// used to reconstruct commands and mirror status.
type FixtureLightState struct {
	Mode       ColorMode
	Brightness float64
	BaseRGB    [3]float64
	BaseCCT    [2]float64
}

func defaultLightState(meta LightMeta) FixtureLightState {
	mode := ModeBrightness
	switch {
	case meta.RGBFeatureID != "":
		mode = ModeRGB
	case meta.CCTFeatureID != "":
		mode = ModeColorTemp
	}
	return FixtureLightState{
		Mode:       mode,
		Brightness: 255,
		BaseRGB:    [3]float64{255, 255, 255},
		BaseCCT:    [2]float64{255, 255},
	}
}

// Config configures one bridge instance. It mirrors environment.Output's
// MQTT fields plus the environment/program context the bridge needs.
type Config struct {
	EnvironmentID string
	OutputID      string
	BrokerURL     string
	BaseTopic     string
	DiscoveryPrefix string
	NodeID        string
	LegacyTopic   string
}

func (c Config) resolvedBaseTopic() string {
	if c.BaseTopic != "" {
		return c.BaseTopic
	}
	return fmt.Sprintf("chaser/%s/%s", sanitize(c.EnvironmentID), sanitize(c.OutputID))
}

func (c Config) resolvedDiscoveryPrefix() string {
	if c.DiscoveryPrefix != "" {
		return c.DiscoveryPrefix
	}
	return "homeassistant"
}

func (c Config) resolvedNodeID() string {
	if c.NodeID != "" {
		return c.NodeID
	}
	return sanitize("chaser_" + c.EnvironmentID)
}

// Bridge is one MQTT connection serving one environment/output pair.
type Bridge struct {
	cfg Config
	seq *sequencer.Sequencer
	env *environment.Environment
	types map[string]*fixture.Type
	log *slog.Logger

	baseTopic       string
	discoveryPrefix string
	nodeID          string

	client       mqttlib.Client
	newClient    func(*mqttlib.ClientOptions) mqttlib.Client

	mu                 sync.Mutex
	lightMeta          map[string]LightMeta
	retained           map[string]string
	subscribed         []string
	advertisedPrograms map[string]bool
	lightStates        map[string]FixtureLightState
	pendingOps         map[string][]layer.Op
	flushPending       bool
	programs           []*program.Program
	unsubFrame         func()
}

// New builds a Bridge. It does not connect until Start is called.
func New(cfg Config, seq *sequencer.Sequencer, env *environment.Environment, types map[string]*fixture.Type, programs []*program.Program) *Bridge {
	b := &Bridge{
		cfg:                cfg,
		seq:                seq,
		env:                env,
		types:              types,
		programs:           programs,
		log:                logging.Component("mqtt", slog.String("output", cfg.OutputID)),
		baseTopic:          cfg.resolvedBaseTopic(),
		discoveryPrefix:    cfg.resolvedDiscoveryPrefix(),
		nodeID:             cfg.resolvedNodeID(),
		retained:           make(map[string]string),
		advertisedPrograms: make(map[string]bool),
		lightStates:        make(map[string]FixtureLightState),
		pendingOps:         make(map[string][]layer.Op),
		newClient:          mqttlib.NewClient,
	}
	b.lightMeta = computeLightMeta(env, types)
	for id, meta := range b.lightMeta {
		b.lightStates[id] = defaultLightState(meta)
	}
	return b
}

// SetPrograms replaces the list of programs this bridge advertises
// discovery buttons for. Callers (e.g. store.Watcher on a data reload)
// use this to keep per-push discovery in sync with the live program
// list instead of the one captured at construction time.
func (b *Bridge) SetPrograms(programs []*program.Program) {
	b.mu.Lock()
	b.programs = programs
	b.mu.Unlock()
}

func (b *Bridge) programsSnapshot() []*program.Program {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*program.Program(nil), b.programs...)
}

func computeLightMeta(env *environment.Environment, types map[string]*fixture.Type) map[string]LightMeta {
	out := make(map[string]LightMeta)
	for i := range env.Fixtures {
		f := &env.Fixtures[i]
		if !f.Exposed() {
			continue
		}
		t, ok := types[f.TypeID]
		if !ok {
			continue
		}
		meta := LightMeta{FixtureID: f.ID, Name: f.Name}
		for _, feat := range t.Features {
			switch feat.Kind {
			case fixture.KindRGB:
				if meta.RGBFeatureID == "" {
					meta.RGBFeatureID = feat.ID
				}
			case fixture.KindCCT:
				if meta.CCTFeatureID == "" {
					meta.CCTFeatureID = feat.ID
				}
			case fixture.KindScalar:
				if meta.DimmerFeatureID == "" {
					meta.DimmerFeatureID = feat.ID
				}
			}
		}
		if meta.RGBFeatureID == "" && meta.CCTFeatureID == "" && meta.DimmerFeatureID == "" {
			continue
		}
		out[f.ID] = meta
	}
	return out
}

// Start connects to the broker, subscribes to command topics, and
// publishes the initial discovery/state sync.
func (b *Bridge) Start(ctx context.Context) error {
	opts := mqttlib.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(b.nodeID + "-" + randomSuffix()).
		SetAutoReconnect(true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(b.onConnectionLost)
	b.client = b.newClient(opts)

	token := b.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect %s: %w", b.cfg.BrokerURL, err)
	}

	b.unsubFrame = b.seq.Subscribe(b.onFrame)
	return nil
}

// Stop disconnects from the broker and stops mirroring frames.
func (b *Bridge) Stop() {
	if b.unsubFrame != nil {
		b.unsubFrame()
	}
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

// onConnect re-subscribes to every remembered topic and republishes the
// entire retained-payload cache (spec.md §4.6 connection lifecycle).
func (b *Bridge) onConnect(c mqttlib.Client) {
	b.log.Info("connected", "broker", b.cfg.BrokerURL)
	b.SyncDiscovery()

	b.mu.Lock()
	topics := append([]string(nil), b.subscribed...)
	cache := make(map[string]string, len(b.retained))
	for k, v := range b.retained {
		cache[k] = v
	}
	b.mu.Unlock()

	for _, topic := range topics {
		b.subscribeTopic(topic)
	}
	for topic, payload := range cache {
		b.publishRaw(topic, true, payload)
	}
}

func (b *Bridge) onConnectionLost(c mqttlib.Client, err error) {
	b.log.Warn("connection lost", "error", err)
}

func randomSuffix() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%x", buf)
}

// publishRetained publishes payload retained, skipping the send if it
// is identical to what was last published to topic.
func (b *Bridge) publishRetained(topic string, payload []byte) {
	s := string(payload)
	b.mu.Lock()
	if prev, ok := b.retained[topic]; ok && prev == s {
		b.mu.Unlock()
		return
	}
	b.retained[topic] = s
	b.mu.Unlock()
	b.publishRaw(topic, true, s)
}

func (b *Bridge) publishRaw(topic string, retained bool, payload string) {
	if b.client == nil || !b.client.IsConnected() {
		return
	}
	b.client.Publish(topic, 0, retained, payload)
}

func (b *Bridge) publishJSON(topic string, retained bool, v interface{}) {
	buf, err := json.Marshal(v)
	if err != nil {
		b.log.Error("marshal failed", "topic", topic, "error", err)
		return
	}
	if retained {
		b.publishRetained(topic, buf)
	} else {
		b.publishRaw(topic, false, string(buf))
	}
}

func (b *Bridge) subscribeTopic(topic string) {
	if b.client == nil {
		return
	}
	token := b.client.Subscribe(topic, 0, b.dispatch)
	token.Wait()
	if err := token.Error(); err != nil {
		b.log.Error("subscribe failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) remember(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.subscribed {
		if t == topic {
			return
		}
	}
	b.subscribed = append(b.subscribed, topic)
}

// onFrame republishes discovery (cheap: deduplicated by the retained
// cache), mirrors layer-A light states, publishes control states, and
// optionally publishes the legacy raw per-frame payload.
func (b *Bridge) onFrame(f sequencer.Frame) {
	b.SyncDiscovery()
	b.publishControlStates(f)
	b.mirrorLightStates(f)
	if b.cfg.LegacyTopic != "" {
		b.publishLegacyPayload(f)
	}
}

func (b *Bridge) publishControlStates(f sequencer.Frame) {
	b.publishRetained(b.baseTopic+"/control/blackout/state", []byte(onOff(f.State.IsBlackout)))
	b.publishRetained(b.baseTopic+"/control/spm/state", []byte(strconv.Itoa(f.State.SPM)))
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

type legacyPayload struct {
	Timestamp     int64                `json:"timestamp"`
	State         sequencer.State      `json:"state"`
	Values        map[string][]byte    `json:"values"`
	LayerAValues  map[string][]byte    `json:"layerAValues"`
	LayerBValues  map[string][]byte    `json:"layerBValues"`
	DMXByUniverse map[int][]byte       `json:"dmxByUniverse"`
}

func (b *Bridge) publishLegacyPayload(f sequencer.Frame) {
	builder := render.NewBuilder()
	pkt := builder.Build(render.Input{Values: f.Values}, b.env, b.types)
	dmx := make(map[int][]byte)
	if pkt != nil {
		for universe, buf := range pkt.DMXByUniverse {
			dmx[universe] = append([]byte(nil), buf[:]...)
		}
	}
	payload := legacyPayload{
		Timestamp:     f.Timestamp.UnixMilli(),
		State:         f.State,
		Values:        flattenValues(f.Values),
		LayerAValues:  flattenValues(f.LayerAValues),
		LayerBValues:  flattenValues(f.LayerBValues),
		DMXByUniverse: dmx,
	}
	b.publishJSON(b.cfg.LegacyTopic, false, payload)
}

func flattenValues(v layer.Values) map[string][]byte {
	out := make(map[string][]byte, len(v))
	for k, val := range v {
		out[k.String()] = val
	}
	return out
}
