//go:build !no_mqtt

package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"wificonf/internal/policy"
	"wificonf/internal/profile"
	"wificonf/internal/repository"
	"wificonf/internal/store"
)

type doneToken struct{}

func (doneToken) Wait() bool { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	payload  []byte
	retained bool
}

// fakeClient records publishes. Methods the bridge never calls are left to
// the embedded nil interface.
type fakeClient struct {
	pahomqtt.Client
	mu   sync.Mutex
	msgs map[string]published
	subs []string
}

func newFakeClient() *fakeClient { return &fakeClient{msgs: make(map[string]published)} }

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs[topic] = published{payload: payload.([]byte), retained: retained}
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, topic)
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {}

func (c *fakeClient) get(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.msgs[topic]
	return m, ok
}

var creator = repository.Requester{UID: 10010, Package: "com.example.app"}

type testEnv struct {
	client *fakeClient
	bridge *Bridge
	loop   *repository.Loop
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"), nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	repo := repository.New(repository.DefaultConfig(), policy.Policy{}, repository.Deps{
		Store:       st,
		Permissions: systemOnly{},
		Logger:      logger,
	})
	if err := repo.Load(); err != nil {
		t.Fatal(err)
	}
	repo.TakeEvents()

	bus := repository.NewEventBus(logger)
	loop := repository.NewLoop(repo, bus, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	client := newFakeClient()
	b := newBridge(client, bus, loop, "wificonf", logger)
	b.Start()
	t.Cleanup(b.Stop)
	return &testEnv{client: client, bridge: b, loop: loop}
}

type systemOnly struct{}

func (systemOnly) HasNetworkSettings(uid int) bool { return uid == profile.SystemUID }
func (systemOnly) HasSetupWizard(int) bool { return false }
func (systemOnly) HasManagedProvisioning(int) bool { return false }
func (systemOnly) IsDeviceOwner(int, string) bool { return false }
func (systemOnly) IsProfileOwner(int, string) bool { return false }

func (e *testEnv) add(t *testing.T, ssid string) int {
	t.Helper()
	p := profile.New(ssid, profile.SecurityPSK)
	p.Credentials.PSK = "password123"
	var id int
	err := e.loop.Do(context.Background(), func(r *repository.Repository) error {
		out, err := r.AddOrUpdate(p, creator)
		id = out.ID
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestPublishesAddedProfile(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "Home Net")

	msg, ok := env.client.get("wificonf/profiles/home_net_wpa_psk")
	if !ok || !msg.retained {
		t.Fatalf("state = %+v, %v", msg, ok)
	}
	var st profileState
	if err := json.Unmarshal(msg.payload, &st); err != nil {
		t.Fatal(err)
	}
	if st.Name != "Home Net" || st.Status != "enabled" || st.Autojoin != "ON" {
		t.Errorf("state = %+v", st)
	}
	if _, ok := env.client.get("homeassistant/switch/wifi_home_net_wpa_psk/autojoin/config"); !ok {
		t.Error("autojoin discovery missing")
	}
	ev, ok := env.client.get("wificonf/events/" + repository.EventAdded)
	if !ok || ev.retained {
		t.Fatalf("event = %+v, %v", ev, ok)
	}
	if !json.Valid(ev.payload) {
		t.Errorf("event payload not json: %s", ev.payload)
	}
}

func TestEventsCarryNoSecrets(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "home")
	env.client.mu.Lock()
	defer env.client.mu.Unlock()
	for topic, m := range env.client.msgs {
		if bytes.Contains(m.payload, []byte("password123")) {
			t.Errorf("%s leaks the psk: %s", topic, m.payload)
		}
	}
}

func TestRemovedProfileClearsTopics(t *testing.T) {
	env := newTestEnv(t)
	id := env.add(t, "home")
	err := env.loop.Do(context.Background(), func(r *repository.Repository) error {
		_, err := r.Remove(id, creator)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	msg, ok := env.client.get("wificonf/profiles/home_wpa_psk")
	if !ok || len(msg.payload) != 0 || !msg.retained {
		t.Errorf("state after remove = %+v, %v", msg, ok)
	}
	if msg, _ := env.client.get("homeassistant/sensor/wifi_home_wpa_psk/status/config"); len(msg.payload) != 0 {
		t.Errorf("discovery not cleared: %s", msg.payload)
	}
}

func TestAutojoinCommand(t *testing.T) {
	env := newTestEnv(t)
	id := env.add(t, "home")

	env.bridge.handleCommand("wificonf/profiles/home_wpa_psk/set", []byte(`{"autojoin":"OFF"}`))

	var allowed bool
	env.loop.Do(context.Background(), func(r *repository.Repository) error {
		p, _ := r.Get(id, creator)
		allowed = p.AllowAutojoin
		return nil
	})
	if allowed {
		t.Error("autojoin still on")
	}
	msg, _ := env.client.get("wificonf/profiles/home_wpa_psk")
	var st profileState
	json.Unmarshal(msg.payload, &st)
	if st.Autojoin != "OFF" {
		t.Errorf("published autojoin = %q, want OFF", st.Autojoin)
	}
}

func TestUserDisableCommand(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.handleCommand("wificonf/command/user_disable", []byte(`{"ssid":"cafe"}`))

	var disabled bool
	env.loop.Do(context.Background(), func(r *repository.Repository) error {
		disabled = r.IsUserTemporarilyDisabled("cafe")
		return nil
	})
	if !disabled {
		t.Error("cafe not user-disabled")
	}

	env.bridge.handleCommand("wificonf/command/user_enable", []byte(`{"ssid":"cafe"}`))
	env.loop.Do(context.Background(), func(r *repository.Repository) error {
		disabled = r.IsUserTemporarilyDisabled("cafe")
		return nil
	})
	if disabled {
		t.Error("cafe still user-disabled")
	}
}

func TestScanCommand(t *testing.T) {
	env := newTestEnv(t)
	id := env.add(t, "home")
	env.bridge.handleCommand("wificonf/command/scan",
		[]byte(`[{"bssid":"aa:bb:cc:00:00:01","ssid":"home","security":"psk","level":-40}]`))

	var cached []repository.Sighting
	env.loop.Do(context.Background(), func(r *repository.Repository) error {
		cached = r.ScanCache(id)
		return nil
	})
	if len(cached) != 1 {
		t.Errorf("scan cache = %v, want one sighting", cached)
	}
}

func TestProfileTopicName(t *testing.T) {
	p := profile.New("My Café", profile.SecuritySAE)
	if got := profileTopicName(p); got != "my_caf__wpa_psk" {
		t.Errorf("topic = %q", got)
	}
	p.Shared = false
	p.OwnerUID = 10*profile.PerUserRange + 10010
	if got := profileTopicName(p); got != "my_caf__wpa_psk_u10" {
		t.Errorf("private topic = %q", got)
	}
}
