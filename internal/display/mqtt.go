package display

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"voicescope/internal/domain"
)

// MQTTConfig configures the display state publisher.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

// stateEvent is the payload published on every display state change.
type stateEvent struct {
	Generation domain.Generation   `json:"generation"`
	State      domain.DisplayState `json:"state"`
	Label      string              `json:"label"`
	RMS        float64             `json:"rms"`
	ZCR        int                 `json:"zcr"`
	At         time.Time           `json:"at"`
}

// Publisher is the subset of the paho client the state publisher uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher sends a small event whenever the readout state changes.
// Publishing is fire-and-forget at QoS 0 and never blocks the loop.
type MQTTPublisher struct {
	client Publisher
	topic  string
	log    *slog.Logger

	mu   sync.Mutex
	last domain.DisplayState
	gen  domain.Generation
}

// ConnectMQTT dials the broker and returns a publisher plus a disconnect
// function.
func ConnectMQTT(cfg MQTTConfig, log *slog.Logger) (*MQTTPublisher, func(), error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "voicescope"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "err", err)
	}

	client := mqtt.NewClient(opts)
	if err := connect(client, mqttConnectTimeout); err != nil {
		return nil, nil, err
	}

	disconnect := func() { client.Disconnect(250) }
	return NewMQTTPublisher(client, cfg.Topic, log), disconnect, nil
}

const mqttConnectTimeout = 5 * time.Second

// connector is the subset of the paho client used while dialing.
type connector interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
}

// connect waits for the first connection. On failure the client is
// disconnected so connect-retry stops in the background.
func connect(client connector, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func NewMQTTPublisher(client Publisher, topic string, log *slog.Logger) *MQTTPublisher {
	if topic == "" {
		topic = "voicescope/state"
	}
	if log == nil {
		log = slog.Default()
	}
	return &MQTTPublisher{client: client, topic: topic, log: log}
}

func (p *MQTTPublisher) Render(display domain.Display) {
	p.mu.Lock()
	if display.State == p.last && display.Generation == p.gen {
		p.mu.Unlock()
		return
	}
	p.last = display.State
	p.gen = display.Generation
	p.mu.Unlock()

	payload, err := json.Marshal(stateEvent{
		Generation: display.Generation,
		State:      display.State,
		Label:      display.Label,
		RMS:        display.RMS,
		ZCR:        display.ZCR,
		At:         time.Now().UTC(),
	})
	if err != nil {
		p.log.Warn("mqtt payload encode failed", "err", err)
		return
	}

	// QoS 0: the token completes without waiting on the broker.
	token := p.client.Publish(p.topic, 0, false, payload)
	go func() {
		if token.WaitTimeout(2*time.Second) && token.Error() != nil {
			p.log.Debug("mqtt publish failed", "topic", p.topic, "err", token.Error())
		}
	}()
}
