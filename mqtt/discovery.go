package mqtt

import "fmt"

type lightDiscovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	Schema              string   `json:"schema"`
	CommandTopic        string   `json:"command_topic"`
	StateTopic          string   `json:"state_topic"`
	AvailabilityTopic   string   `json:"availability_topic"`
	Brightness          bool     `json:"brightness"`
	SupportedColorModes []string `json:"supported_color_modes"`
	MinMireds           float64  `json:"min_mireds,omitempty"`
	MaxMireds           float64  `json:"max_mireds,omitempty"`
}

type numberDiscovery struct {
	Name              string  `json:"name"`
	UniqueID          string  `json:"unique_id"`
	CommandTopic      string  `json:"command_topic"`
	StateTopic        string  `json:"state_topic"`
	AvailabilityTopic string  `json:"availability_topic"`
	Min               float64 `json:"min"`
	Max               float64 `json:"max"`
	Step              float64 `json:"step"`
}

type buttonDiscovery struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	CommandTopic      string `json:"command_topic"`
	AvailabilityTopic string `json:"availability_topic"`
	PayloadPress      string `json:"payload_press"`
}

type switchDiscovery struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	CommandTopic      string `json:"command_topic"`
	StateTopic        string `json:"state_topic"`
	AvailabilityTopic string `json:"availability_topic"`
	PayloadOn         string `json:"payload_on"`
	PayloadOff        string `json:"payload_off"`
	StateOn           string `json:"state_on"`
	StateOff          string `json:"state_off"`
}

// kelvinToMired converts a color temperature in kelvin to mireds.
func kelvinToMired(k float64) float64 {
	if k <= 0 {
		return 0
	}
	return 1e6 / k
}

// SyncDiscovery (re)publishes every discovery config this bridge owns:
// per-light configs, the SPM number, the play/pause buttons, the
// blackout switch, and one button per known program — removing configs
// for programs no longer present (spec.md §4.6 "Discovery").
func (b *Bridge) SyncDiscovery() {
	for fixtureID, meta := range b.lightMeta {
		b.publishLightDiscovery(fixtureID, meta)
	}
	b.publishSpmDiscovery()
	b.publishButtonDiscovery("play_from_start", "Play From Start")
	b.publishButtonDiscovery("pause", "Pause")
	b.publishBlackoutDiscovery()
	b.syncProgramDiscovery()

	b.publishRetained(b.baseTopic+"/availability", []byte("online"))
}

func (b *Bridge) publishLightDiscovery(fixtureID string, meta LightMeta) {
	modes := []string{}
	var minMireds, maxMireds float64
	if meta.RGBFeatureID != "" {
		modes = append(modes, "rgb")
	}
	if meta.CCTFeatureID != "" {
		modes = append(modes, "color_temp")
		minMireds = kelvinToMired(6500)
		maxMireds = kelvinToMired(2700)
	}
	if len(modes) == 0 {
		modes = append(modes, "brightness")
	}
	cfg := lightDiscovery{
		Name:                meta.Name,
		UniqueID:            b.nodeID + "_light_" + fixtureID,
		Schema:              "json",
		CommandTopic:        fmt.Sprintf("%s/light/%s/set", b.baseTopic, fixtureID),
		StateTopic:          fmt.Sprintf("%s/light/%s/state", b.baseTopic, fixtureID),
		AvailabilityTopic:   b.baseTopic + "/availability",
		Brightness:          true,
		SupportedColorModes: modes,
		MinMireds:           minMireds,
		MaxMireds:           maxMireds,
	}
	topic := fmt.Sprintf("%s/light/%s/%s/config", b.discoveryPrefix, b.nodeID, sanitize(fixtureID))
	b.publishJSON(topic, true, cfg)
	b.subscribeCommand(cfg.CommandTopic)
}

func (b *Bridge) publishSpmDiscovery() {
	cfg := numberDiscovery{
		Name:              "SPM",
		UniqueID:          b.nodeID + "_spm",
		CommandTopic:      b.baseTopic + "/control/spm/set",
		StateTopic:        b.baseTopic + "/control/spm/state",
		AvailabilityTopic: b.baseTopic + "/availability",
		Min:               1,
		Max:               500,
		Step:              1,
	}
	topic := fmt.Sprintf("%s/number/%s/spm/config", b.discoveryPrefix, b.nodeID)
	b.publishJSON(topic, true, cfg)
	b.subscribeCommand(cfg.CommandTopic)
}

func (b *Bridge) publishButtonDiscovery(objectID, name string) {
	cfg := buttonDiscovery{
		Name:              name,
		UniqueID:          b.nodeID + "_" + objectID,
		CommandTopic:      fmt.Sprintf("%s/control/%s/press", b.baseTopic, objectID),
		AvailabilityTopic: b.baseTopic + "/availability",
		PayloadPress:      "PRESS",
	}
	topic := fmt.Sprintf("%s/button/%s/%s/config", b.discoveryPrefix, b.nodeID, objectID)
	b.publishJSON(topic, true, cfg)
	b.subscribeCommand(cfg.CommandTopic)
}

func (b *Bridge) publishBlackoutDiscovery() {
	cfg := switchDiscovery{
		Name:              "Blackout",
		UniqueID:          b.nodeID + "_blackout",
		CommandTopic:      b.baseTopic + "/control/blackout/set",
		StateTopic:        b.baseTopic + "/control/blackout/state",
		AvailabilityTopic: b.baseTopic + "/availability",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		StateOn:           "ON",
		StateOff:          "OFF",
	}
	topic := fmt.Sprintf("%s/switch/%s/blackout/config", b.discoveryPrefix, b.nodeID)
	b.publishJSON(topic, true, cfg)
	b.subscribeCommand(cfg.CommandTopic)
}

func (b *Bridge) syncProgramDiscovery() {
	programs := b.programsSnapshot()
	current := make(map[string]bool, len(programs))
	for _, p := range programs {
		current[p.ID] = true
		cfg := buttonDiscovery{
			Name:              p.Name,
			UniqueID:          b.nodeID + "_program_" + p.ID,
			CommandTopic:      fmt.Sprintf("%s/program/%s/press", b.baseTopic, p.ID),
			AvailabilityTopic: b.baseTopic + "/availability",
			PayloadPress:      "PRESS",
		}
		topic := fmt.Sprintf("%s/button/%s/program_%s/config", b.discoveryPrefix, b.nodeID, sanitize(p.ID))
		b.publishJSON(topic, true, cfg)
		b.subscribeCommand(cfg.CommandTopic)
	}

	b.mu.Lock()
	stale := make([]string, 0)
	for id := range b.advertisedPrograms {
		if !current[id] {
			stale = append(stale, id)
		}
	}
	b.advertisedPrograms = current
	b.mu.Unlock()

	for _, id := range stale {
		topic := fmt.Sprintf("%s/button/%s/program_%s/config", b.discoveryPrefix, b.nodeID, sanitize(id))
		b.publishRaw(topic, true, "")
		b.mu.Lock()
		delete(b.retained, topic)
		b.mu.Unlock()
	}
}

func (b *Bridge) subscribeCommand(topic string) {
	b.remember(topic)
	b.subscribeTopic(topic)
}
