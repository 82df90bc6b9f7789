package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/Comcast/automata/automata"
	"github.com/Comcast/automata/broadcast"
)

// ErrNotConnected is a transient delivery failure.
var ErrNotConnected = errors.New("mqtt not connected")

// MQTTBridge applies events that arrive on "<prefix>/in/<automataId>"
// and publishes state updates for mirrored Automata to
// "<prefix>/state/<automataId>".  The outcome of each inbound event
// goes to "<prefix>/result/<automataId>".
type MQTTBridge struct {
	Service *Service
	Client  mqtt.Client

	Prefix string
	Mirror []string
	QoS    byte

	// PublishTimeout bounds waiting for a publish to complete.
	PublishTimeout time.Duration

	conn *mqttConn
}

// NewMQTTClient makes a client that reconnects on its own.
func NewMQTTClient(cfg MQTTConfig) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	}
	return mqtt.NewClient(opts)
}

func NewMQTTBridge(s *Service, c mqtt.Client) *MQTTBridge {
	b := &MQTTBridge{
		Service:        s,
		Client:         c,
		Prefix:         s.Config.MQTT.Prefix,
		Mirror:         s.Config.MQTT.Mirror,
		QoS:            1,
		PublishTimeout: 5 * time.Second,
	}
	b.conn = &mqttConn{
		id:     "mqtt:" + s.Config.MQTT.ClientID,
		bridge: b,
	}
	return b
}

// MQTTEvent is the payload on an ingress topic.
type MQTTEvent struct {
	Token     string      `json:"token" validate:"required"`
	EventType string      `json:"eventType" validate:"required"`
	Data      interface{} `json:"data"`
	EventID   string      `json:"eventId,omitempty"`
}

// MQTTResult is published for each MQTTEvent.
type MQTTResult struct {
	EventID string           `json:"eventId,omitempty"`
	Result  *automata.Result `json:"result,omitempty"`
	Error   *apiErrorBody    `json:"error,omitempty"`
}

func (b *MQTTBridge) topic(kind, automataID string) string {
	return b.Prefix + "/" + kind + "/" + automataID
}

// Start connects, subscribes to the ingress topics, and starts the
// mirrors.
func (b *MQTTBridge) Start(ctx context.Context) error {
	if t := b.Client.Connect(); t.Wait() && t.Error() != nil {
		return t.Error()
	}

	in := b.Prefix + "/in/+"
	handler := func(_ mqtt.Client, m mqtt.Message) {
		// Not in paho's goroutine, which must not block on
		// our publishes.
		go b.handle(ctx, m.Topic(), m.Payload())
	}
	if t := b.Client.Subscribe(in, b.QoS, handler); t.Wait() && t.Error() != nil {
		return t.Error()
	}
	log.Info().Str("topic", in).Msg("mqtt subscribed")

	for _, id := range b.Mirror {
		if err := b.mirror(ctx, id); err != nil {
			return fmt.Errorf("mirror %s: %w", id, err)
		}
	}

	return nil
}

func (b *MQTTBridge) Stop() {
	b.Service.Registry.Disconnect(b.conn.id)
	b.Client.Disconnect(250)
}

// mirrorAll lets the bridge read everything it's configured to
// mirror.
type mirrorAll struct{}

func (mirrorAll) CanReadAutomata(automataID, realmID string) bool {
	return true
}

func (b *MQTTBridge) mirror(ctx context.Context, id string) error {
	s := b.Service
	a, err := s.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Registry.Subscribe(ctx, b.conn, mirrorAll{}, a.ID, a.RealmID); err != nil {
		return err
	}
	if a, err = s.Store.Get(ctx, id); err != nil {
		return err
	}
	_, err = s.Registry.Send(ctx, b.conn.id, &broadcast.Message{
		Type:       broadcast.Snapshot,
		AutomataID: a.ID,
		Version:    a.Version,
		State:      a.State,
	})
	return err
}

func (b *MQTTBridge) handle(ctx context.Context, topic string, payload []byte) {
	automataID := strings.TrimPrefix(topic, b.Prefix+"/in/")
	logger := log.With().Str("topic", topic).Str("automata", automataID).Logger()

	var (
		ev  MQTTEvent
		out MQTTResult
	)

	r, err := func() (*automata.Result, error) {
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", BadRequest, err)
		}
		if err := validate.Struct(&ev); err != nil {
			return nil, err
		}
		id, err := b.Service.Verifier.Verify(ctx, ev.Token)
		if err != nil {
			return nil, err
		}
		return b.Service.Apply(ctx, id, &EventRequest{
			AutomataID: automataID,
			EventType:  ev.EventType,
			Data:       ev.Data,
			EventID:    ev.EventID,
		})
	}()

	out.EventID = ev.EventID
	if err != nil {
		logger.Info().Err(err).Msg("mqtt event rejected")
		out.Error = &newAPIError(err).Body
	} else {
		out.Result = r
		out.EventID = r.EventID
	}

	if err := b.publish(b.topic("result", automataID), false, &out); err != nil {
		logger.Warn().Err(err).Msg("mqtt result publish")
	}
}

func (b *MQTTBridge) publish(topic string, retained bool, x interface{}) error {
	if !b.Client.IsConnectionOpen() {
		return ErrNotConnected
	}
	js, err := json.Marshal(x)
	if err != nil {
		return err
	}
	t := b.Client.Publish(topic, b.QoS, retained, js)
	if !t.WaitTimeout(b.PublishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return t.Error()
}

// mqttConn publishes mirrored state.  Its failures are always
// transient since the client reconnects.
type mqttConn struct {
	id     string
	bridge *MQTTBridge
}

func (c *mqttConn) ID() string {
	return c.id
}

func (c *mqttConn) Deliver(ctx context.Context, m *broadcast.Message) error {
	return c.bridge.publish(c.bridge.topic("state", m.AutomataID), true, m)
}
