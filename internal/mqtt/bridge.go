//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"wificonf/internal/profile"
	"wificonf/internal/repository"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// Runner runs closures against the repository, as repository.Loop does.
type Runner interface {
	Do(ctx context.Context, fn func(*repository.Repository) error) error
}

// systemRequester is who MQTT commands act as.
var systemRequester = repository.Requester{UID: profile.SystemUID, Package: "android"}

// Bridge mirrors repository events to MQTT with HA autodiscovery and
// accepts a small set of commands.
type Bridge struct {
	client pahomqtt.Client
	bus    *repository.EventBus
	runner Runner
	prefix string
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]string // profile topic name -> profile key
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(bus *repository.EventBus, runner Runner, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(nil, bus, runner, cfg.TopicPrefix, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "wificonfd"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.subscribeCommands()
			go b.publishAll()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

func newBridge(client pahomqtt.Client, bus *repository.EventBus, runner Runner, prefix string, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client: client,
		bus:    bus,
		runner: runner,
		prefix: prefix,
		logger: logger.With("component", "mqtt"),
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]string),
	}
}

// Start subscribes to repository events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.bus.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// handleEvent runs on the repository loop and must not call the runner.
func (b *Bridge) handleEvent(event repository.Event) {
	b.publish(b.prefix+"/events/"+event.Type, mustJSON(event), false)

	switch event.Type {
	case repository.EventAdded:
		b.publishDiscovery(event.Profile)
		b.publishState(event.Profile)
	case repository.EventUpdated:
		if old := event.Old; old != nil && profileTopicName(old) != profileTopicName(event.Profile) {
			b.clearProfile(old)
			b.publishDiscovery(event.Profile)
		}
		b.publishState(event.Profile)
	case repository.EventEnabled, repository.EventTemporarilyDisabled, repository.EventPermanentlyDisabled:
		b.publishState(event.Profile)
	case repository.EventRemoved:
		b.clearProfile(event.Profile)
	case repository.EventStoreLoaded, repository.EventUserSwitched:
		go b.publishAll()
	}
}

// profileState is the retained JSON published for each profile.
type profileState struct {
	ID            int        `json:"id"`
	Key           string     `json:"key"`
	Name          string     `json:"name"`
	Security      string     `json:"security"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	Autojoin      string     `json:"autojoin"`
	Hidden        bool       `json:"hidden"`
	LastConnected *time.Time `json:"last_connected"`
}

func stateOf(p *profile.Profile) profileState {
	s := profileState{
		ID:       p.ID,
		Key:      p.Key(),
		Name:     p.Name(),
		Security: p.DefaultSecurity.String(),
		Status:   p.Status.Kind.String(),
		Autojoin: "OFF",
		Hidden:   p.Hidden,
	}
	if !p.Status.Enabled() {
		s.Reason = p.Status.Reason.String()
	}
	if p.AllowAutojoin {
		s.Autojoin = "ON"
	}
	if !p.LastConnected.IsZero() {
		t := p.LastConnected.UTC()
		s.LastConnected = &t
	}
	return s
}

func (b *Bridge) publishState(p *profile.Profile) {
	if p == nil {
		return
	}
	name := profileTopicName(p)
	b.mu.Lock()
	b.topics[name] = p.Key()
	b.mu.Unlock()
	b.publish(b.prefix+"/profiles/"+name, mustJSON(stateOf(p)), true)
}

func (b *Bridge) publishDiscovery(p *profile.Profile) {
	if p == nil {
		return
	}
	for _, msg := range buildDiscovery(p, b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Debug("published HA discovery", "key", p.Key())
}

// clearProfile empties the retained state and discovery topics of p.
func (b *Bridge) clearProfile(p *profile.Profile) {
	if p == nil {
		return
	}
	name := profileTopicName(p)
	b.mu.Lock()
	delete(b.topics, name)
	b.mu.Unlock()
	b.publish(b.prefix+"/profiles/"+name, nil, true)
	for _, msg := range buildRemoveDiscovery(p) {
		b.publish(msg.Topic, msg.Payload, true)
	}
}

// publishAll republishes every visible profile. It calls the runner and so
// must not run on the repository loop.
func (b *Bridge) publishAll() {
	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	var list []*profile.Profile
	err := b.runner.Do(ctx, func(r *repository.Repository) error {
		list = r.List(systemRequester)
		return nil
	})
	if err != nil {
		b.logger.Error("list profiles for discovery", "err", err)
		return
	}
	for _, p := range list {
		b.publishDiscovery(p)
		b.publishState(p)
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) subscribeCommands() {
	b.client.Subscribe(b.prefix+"/profiles/+/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Topic(), msg.Payload())
	})
	b.client.Subscribe(b.prefix+"/command/+", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Topic(), msg.Payload())
	})
}

// handleCommand dispatches one command message. Errors are logged; MQTT has
// no reply channel here.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()

	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return
	}
	parts := strings.Split(rest, "/")
	var err error
	switch {
	case len(parts) == 3 && parts[0] == "profiles" && parts[2] == "set":
		err = b.handleSet(ctx, parts[1], payload)
	case len(parts) == 2 && parts[0] == "command":
		err = b.handleGlobal(ctx, parts[1], payload)
	default:
		b.logger.Warn("unknown command topic", "topic", topic)
		return
	}
	if err != nil {
		b.logger.Warn("command failed", "topic", topic, "err", err)
	}
}

func (b *Bridge) handleSet(ctx context.Context, name string, payload []byte) error {
	var cmd struct {
		Autojoin string `json:"autojoin"`
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("invalid command JSON: %w", err)
	}
	b.mu.Lock()
	key, ok := b.topics[name]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no profile published as %q", name)
	}

	var allow bool
	switch strings.ToUpper(cmd.Autojoin) {
	case "ON":
		allow = true
	case "OFF":
	default:
		return fmt.Errorf("autojoin must be ON or OFF, got %q", cmd.Autojoin)
	}
	return b.runner.Do(ctx, func(r *repository.Repository) error {
		p, ok := r.GetByKey(key, systemRequester)
		if !ok {
			return fmt.Errorf("profile %s: %w", key, repository.ErrInvalidID)
		}
		return r.AllowAutojoin(p.ID, allow, systemRequester)
	})
}

func (b *Bridge) handleGlobal(ctx context.Context, name string, payload []byte) error {
	switch name {
	case "user_disable", "user_enable":
		var cmd struct {
			SSID string `json:"ssid"`
		}
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("invalid command JSON: %w", err)
		}
		if cmd.SSID == "" {
			return fmt.Errorf("ssid is required")
		}
		return b.runner.Do(ctx, func(r *repository.Repository) error {
			if name == "user_disable" {
				r.UserTemporarilyDisable(cmd.SSID)
			} else {
				r.UserEnable(cmd.SSID)
			}
			return nil
		})
	case "scan":
		var sightings []repository.Sighting
		if err := json.Unmarshal(payload, &sightings); err != nil {
			return fmt.Errorf("invalid scan JSON: %w", err)
		}
		return b.runner.Do(ctx, func(r *repository.Repository) error {
			matched := r.IngestScan(sightings)
			b.logger.Debug("scan ingested", "sightings", len(sightings), "matched", len(matched))
			return nil
		})
	}
	return fmt.Errorf("unknown command %q", name)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
