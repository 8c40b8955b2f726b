package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/voltbay/powerbank/core/channel"
	"github.com/voltbay/powerbank/core/model"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	publishes    []publishCall
	failFirst    int
	handlers     map[string]paho.MessageHandler
	subscribeQoS map[string]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]paho.MessageHandler{}, subscribeQoS: map[string]byte{}}
}

func (c *fakeClient) IsConnected() bool       { return true }
func (c *fakeClient) Connect() paho.Token     { return &fakeToken{} }
func (c *fakeClient) Disconnect(quiesce uint) {}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	if c.failFirst > 0 {
		c.failFirst--
		return &fakeToken{err: errors.New("broker unavailable")}
	}
	c.publishes = append(c.publishes, publishCall{topic, qos, retained, payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.handlers[topic] = callback
	c.subscribeQoS[topic] = qos
	return &fakeToken{}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestChannel(t *testing.T) (*PahoChannel, *fakeClient) {
	t.Helper()
	cli := newFakeClient()
	orig := newMQTTClient
	newMQTTClient = func(_ *paho.ClientOptions) pahoClient { return cli }
	t.Cleanup(func() { newMQTTClient = orig })

	pc, err := NewPahoChannel(Config{Broker: "tcp://localhost:1883", ClientID: "test", BackoffMS: 1})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	return pc, cli
}

func TestPublishCommandRetainedQoS1(t *testing.T) {
	pc, cli := newTestChannel(t)

	cmd := model.ChargeCommand{
		Kind:            model.CommandStartCharge,
		SessionID:       "s1",
		DeviceID:        "bay-1",
		DurationMinutes: 30,
	}
	if err := pc.Publish(cmd); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(cli.publishes) != 1 {
		t.Fatalf("published %d messages", len(cli.publishes))
	}
	p := cli.publishes[0]
	if p.topic != "powerbank/charges/bay-1" {
		t.Fatalf("topic %s", p.topic)
	}
	if !p.retained || p.qos != 1 {
		t.Fatalf("retained=%v qos=%d", p.retained, p.qos)
	}
	var decoded model.ChargeCommand
	if err := json.Unmarshal(p.payload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.SessionID != "s1" || decoded.DurationMinutes != 30 {
		t.Fatalf("decoded %#v", decoded)
	}
}

func TestPublishStatusNotRetained(t *testing.T) {
	pc, cli := newTestChannel(t)

	ev := model.StatusEvent{SessionID: "s1", DeviceID: "bay-1", Kind: model.StatusKindCompleted}
	if err := pc.PublishStatus(ev); err != nil {
		t.Fatalf("publish status: %v", err)
	}
	p := cli.publishes[0]
	if p.topic != "powerbank/status/bay-1" {
		t.Fatalf("topic %s", p.topic)
	}
	if p.retained {
		t.Fatalf("status must not be retained")
	}
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	pc, cli := newTestChannel(t)
	cli.failFirst = 2

	if err := pc.Publish(model.ChargeCommand{SessionID: "s1", DeviceID: "bay-1"}); err != nil {
		t.Fatalf("publish with transient failures: %v", err)
	}
	if len(cli.publishes) != 1 {
		t.Fatalf("published %d messages", len(cli.publishes))
	}
}

func TestPublishExhaustsRetries(t *testing.T) {
	pc, cli := newTestChannel(t)
	cli.failFirst = 100

	err := pc.Publish(model.ChargeCommand{SessionID: "s1", DeviceID: "bay-1"})
	if !errors.Is(err, channel.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}

func TestSubscribeCommandsDecodes(t *testing.T) {
	pc, cli := newTestChannel(t)

	var got []model.ChargeCommand
	if err := pc.SubscribeCommands("bay-1", func(cmd model.ChargeCommand) { got = append(got, cmd) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	handler, ok := cli.handlers["powerbank/charges/bay-1"]
	if !ok {
		t.Fatalf("no subscription registered, have %v", cli.handlers)
	}

	payload, _ := json.Marshal(model.ChargeCommand{SessionID: "s1", DeviceID: "bay-1", DurationMinutes: 30})
	handler(nil, &fakeMessage{topic: "powerbank/charges/bay-1", payload: payload})
	if len(got) != 1 || got[0].SessionID != "s1" {
		t.Fatalf("got %#v", got)
	}

	// Malformed payloads are dropped without invoking handlers.
	handler(nil, &fakeMessage{topic: "powerbank/charges/bay-1", payload: []byte("{broken")})
	if len(got) != 1 {
		t.Fatalf("malformed payload reached the handler")
	}
}

func TestSubscribeStatusWildcard(t *testing.T) {
	pc, cli := newTestChannel(t)

	var got []model.StatusEvent
	if err := pc.SubscribeStatus(func(ev model.StatusEvent) { got = append(got, ev) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	handler, ok := cli.handlers["powerbank/status/+"]
	if !ok {
		t.Fatalf("no wildcard subscription, have %v", cli.handlers)
	}
	payload, _ := json.Marshal(model.StatusEvent{SessionID: "s1", DeviceID: "bay-2", Kind: model.StatusKindStarted})
	handler(nil, &fakeMessage{topic: "powerbank/status/bay-2", payload: payload})
	if len(got) != 1 || got[0].DeviceID != "bay-2" {
		t.Fatalf("got %#v", got)
	}
}
