// Package mqttpub mirrors the controller state to retained MQTT topics.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/towerd/internal/eventbus"
)

// Availability payloads
const (
	Online  = "online"
	Offline = "offline"
)

const publishTimeout = 5 * time.Second

// Config holds the broker connection settings.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Sink delivers a payload to a topic.
type Sink interface {
	Publish(topic string, retained bool, payload []byte) error
}

// Publisher turns bus events into topic updates.
type Publisher struct {
	sink   Sink
	prefix string
}

// New creates a publisher over sink.
func New(sink Sink, prefix string) *Publisher {
	return &Publisher{sink: sink, prefix: prefix}
}

// AvailabilityTopic is where online/offline is announced.
func (p *Publisher) AvailabilityTopic() string {
	return availabilityTopic(p.prefix)
}

func availabilityTopic(prefix string) string {
	return fmt.Sprintf("%s/status", prefix)
}

// Subscribe wires the publisher to the bus. Reset and the state events share
// retained topics, so they go through one handler on one queue.
func (p *Publisher) Subscribe(bus *eventbus.Bus) {
	bus.SubscribeTypes(p.Handle,
		eventbus.EventTypeLeds,
		eventbus.EventTypeMute,
		eventbus.EventTypeAmbient,
		eventbus.EventTypeSettings,
		eventbus.EventTypeReset,
	)
}

// Handle publishes the retained state carried by e.
func (p *Publisher) Handle(e eventbus.Event) {
	switch e.Type {
	case eventbus.EventTypeLeds:
		p.onLeds(e)
	case eventbus.EventTypeMute:
		p.onMute(e)
	case eventbus.EventTypeAmbient:
		p.onAmbient(e)
	case eventbus.EventTypeSettings:
		p.onSettings(e)
	case eventbus.EventTypeReset:
		p.onReset(e)
	}
}

func (p *Publisher) onLeds(e eventbus.Event) {
	p.publishJSON("leds", map[string]any{
		"green":  e.Data["green"],
		"yellow": e.Data["yellow"],
		"red":    e.Data["red"],
		"muted":  e.Data["muted"],
	})
}

func (p *Publisher) onMute(e eventbus.Event) {
	muted, _ := e.Data["muted"].(bool)
	p.publish("muted", []byte(strconv.FormatBool(muted)))
}

func (p *Publisher) onAmbient(e eventbus.Event) {
	if v, ok := e.Data["ambient"].(int); ok {
		p.publish("ambient", []byte(strconv.Itoa(v)))
	}
}

func (p *Publisher) onSettings(e eventbus.Event) {
	p.publishJSON("settings", map[string]any{
		"threshold":  e.Data["threshold"],
		"hysteresis": e.Data["hysteresis"],
	})
}

// onReset republishes everything a reinitialization changed.
func (p *Publisher) onReset(e eventbus.Event) {
	p.onSettings(e)
	p.publishJSON("leds", map[string]any{"green": false, "yellow": false, "red": false, "muted": false})
	p.publish("muted", []byte("false"))
}

func (p *Publisher) publishJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to encode MQTT payload")
		return
	}
	p.publish(topic, payload)
}

func (p *Publisher) publish(topic string, payload []byte) {
	full := p.prefix + "/" + topic
	if err := p.sink.Publish(full, true, payload); err != nil {
		log.Warn().Err(err).Str("topic", full).Msg("MQTT publish failed")
	}
}

// Client is a Sink backed by a paho MQTT connection.
type Client struct {
	client mqtt.Client
	prefix string
}

// Connect opens the broker connection. The availability topic flips to offline
// through the last will if the process dies.
func Connect(cfg Config) (*Client, error) {
	avail := availabilityTopic(cfg.TopicPrefix)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetWill(avail, Offline, 1, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
		c.Publish(avail, 1, true, Online)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connection failed: %w", token.Error())
	}

	return &Client{client: client, prefix: cfg.TopicPrefix}, nil
}

// Publish sends payload with QoS 1.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Close announces offline and disconnects.
func (c *Client) Close() {
	if err := c.Publish(availabilityTopic(c.prefix), true, []byte(Offline)); err != nil {
		log.Warn().Err(err).Msg("Failed to publish offline status")
	}
	c.client.Disconnect(250)
}
