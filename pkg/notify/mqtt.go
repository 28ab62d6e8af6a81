package notify

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jgoldverg/nexusgw/internal"
)

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type MQTTConfig struct {
	Broker    string
	ClientID  string
	Topic     string
	GatewayID string
}

// MQTT publishes each event as JSON on <topic>/<kind>.
type MQTT struct {
	pub       Publisher
	client    mqtt.Client
	topic     string
	gatewayID string
	timeout   time.Duration
}

type mqttPayload struct {
	GatewayID string `json:"gateway_id"`
	Event
}

// DialMQTT connects to the broker and returns a ready sink.
func DialMQTT(cfg MQTTConfig) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		internal.Warn("mqtt connection lost", internal.Fields{internal.FieldError: err.Error()})
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		internal.Info("mqtt connected", internal.Fields{internal.FieldAddr: cfg.Broker})
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, token.Error())
	}
	sink := NewMQTT(client, cfg.Topic, cfg.GatewayID)
	sink.client = client
	return sink, nil
}

func NewMQTT(pub Publisher, topic, gatewayID string) *MQTT {
	return &MQTT{pub: pub, topic: topic, gatewayID: gatewayID, timeout: 2 * time.Second}
}

func (m *MQTT) Notify(ev Event) {
	payload, err := json.Marshal(mqttPayload{GatewayID: m.gatewayID, Event: ev})
	if err != nil {
		internal.Warn("mqtt encode event failed", internal.Fields{internal.FieldError: err.Error()})
		return
	}
	topic := m.topic + "/" + string(ev.Kind)
	token := m.pub.Publish(topic, 0, false, payload)
	go func() {
		if token.WaitTimeout(m.timeout) && token.Error() != nil {
			internal.Warn("mqtt publish failed", internal.Fields{
				internal.FieldKey("topic"): topic,
				internal.FieldError:        token.Error().Error(),
			})
		}
	}()
}

// Close disconnects a sink created with DialMQTT.
func (m *MQTT) Close() {
	if m.client != nil {
		m.client.Disconnect(250)
	}
}
