//go:build !no_mqtt

package mqtt

import (
	"strconv"
	"strings"

	"wificonf/internal/profile"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/wifi_home_wpa_psk/status/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	StateOn           string   `json:"state_on,omitempty"`
	StateOff          string   `json:"state_off,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// profileTopicName turns the stable key into a topic segment. The stable
// key survives security upgrades, so the topic does too. Private profiles
// carry their user.
func profileTopicName(p *profile.Profile) string {
	name := strings.ToLower(p.StableKey())
	if !p.Shared {
		name += "_u" + strconv.Itoa(p.UserID())
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.Trim(name, `"`))
}

func profileIdentifier(p *profile.Profile) string {
	return "wifi_" + profileTopicName(p)
}

// buildDiscovery generates HA discovery messages for a profile: a sensor
// with the selection status, a timestamp sensor for the last connection and
// a switch for autojoin.
func buildDiscovery(p *profile.Profile, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/profiles/" + profileTopicName(p)
	nodeID := profileIdentifier(p)
	name := p.Name()

	dev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "wificonf",
		Model:        p.DefaultSecurity.String(),
		Name:         name,
	}

	return []discoveryMsg{
		{
			Topic: "homeassistant/sensor/" + nodeID + "/status/config",
			Payload: mustJSON(haDiscovery{
				Name:              name + " Status",
				UniqueID:          nodeID + "_status",
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json.status }}",
				Icon:              "mdi:wifi",
				Device:            dev,
			}),
		},
		{
			Topic: "homeassistant/sensor/" + nodeID + "/last_connected/config",
			Payload: mustJSON(haDiscovery{
				Name:              name + " Last Connected",
				UniqueID:          nodeID + "_last_connected",
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json.last_connected }}",
				DeviceClass:       "timestamp",
				Device:            dev,
			}),
		},
		{
			Topic: "homeassistant/switch/" + nodeID + "/autojoin/config",
			Payload: mustJSON(haDiscovery{
				Name:              name + " Autojoin",
				UniqueID:          nodeID + "_autojoin",
				StateTopic:        stateTopic,
				CommandTopic:      stateTopic + "/set",
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json.autojoin }}",
				PayloadOn:         `{"autojoin":"ON"}`,
				PayloadOff:        `{"autojoin":"OFF"}`,
				StateOn:           "ON",
				StateOff:          "OFF",
				Device:            dev,
			}),
		},
	}
}

// buildRemoveDiscovery returns empty payloads that clear every discovery
// topic of p.
func buildRemoveDiscovery(p *profile.Profile) []discoveryMsg {
	nodeID := profileIdentifier(p)
	return []discoveryMsg{
		{Topic: "homeassistant/sensor/" + nodeID + "/status/config"},
		{Topic: "homeassistant/sensor/" + nodeID + "/last_connected/config"},
		{Topic: "homeassistant/switch/" + nodeID + "/autojoin/config"},
	}
}
