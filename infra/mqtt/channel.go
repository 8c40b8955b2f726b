// Package mqtt implements the command channel over an MQTT broker using
// Eclipse Paho. Commands are published retained at QoS 1: the broker keeps the
// latest command per device, so a controller that was offline receives it on
// reconnect. Together with QoS 1 this gives the at-least-once,
// latest-retained semantics the core requires.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/voltbay/powerbank/core/channel"
	"github.com/voltbay/powerbank/core/model"
	"github.com/voltbay/powerbank/infra/logger"
)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// PahoChannel implements channel.Channel over an MQTT broker.
type PahoChannel struct {
	cli        pahoClient
	prefix     string
	qos        map[string]byte
	maxRetries int
	backoff    time.Duration
	logger     logger.Logger

	mu         sync.Mutex
	cmdSubs    map[string][]func(model.ChargeCommand)
	statusSubs []func(model.StatusEvent)
}

var _ channel.Channel = (*PahoChannel)(nil)

// NewPahoChannel connects to the MQTT broker. Subscriptions registered through
// SubscribeCommands and SubscribeStatus are re-established on every reconnect,
// which replays the retained command for each subscribed device.
func NewPahoChannel(cfg Config) (*PahoChannel, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_channel")
	pc := &PahoChannel{
		prefix:     cfg.TopicPrefix,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		logger:     log,
		cmdSubs:    make(map[string][]func(model.ChargeCommand)),
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		pc.resubscribe()
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

func (p *PahoChannel) qosFor(key string) byte {
	if q, ok := p.qos[key]; ok {
		return q
	}
	return 1
}

// publish retries with exponential backoff until the bounded attempts are
// exhausted.
func (p *PahoChannel) publish(topic string, retained bool, qos byte, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, retained, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		p.logger.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		time.Sleep(p.backoff * time.Duration(1<<attempt))
	}
	return fmt.Errorf("%w: %v", channel.ErrPublishFailed, publishErr)
}

// Publish sends a charge command to the device topic, retained.
func (p *PahoChannel) Publish(cmd model.ChargeCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	topic := commandTopic(p.prefix, cmd.DeviceID)
	if err := p.publish(topic, true, p.qosFor("command"), payload); err != nil {
		return err
	}
	p.logger.Infof("sent command for session %s to %s", cmd.SessionID, topic)
	return nil
}

// PublishStatus sends a status event to the device status topic.
func (p *PahoChannel) PublishStatus(ev model.StatusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.publish(statusTopic(p.prefix, ev.DeviceID), false, p.qosFor("status"), payload)
}

// SubscribeCommands registers a handler for commands addressed to the device.
func (p *PahoChannel) SubscribeCommands(deviceID string, fn func(model.ChargeCommand)) error {
	p.mu.Lock()
	p.cmdSubs[deviceID] = append(p.cmdSubs[deviceID], fn)
	p.mu.Unlock()
	return p.subscribeCommandTopic(deviceID)
}

func (p *PahoChannel) subscribeCommandTopic(deviceID string) error {
	handler := func(_ paho.Client, msg paho.Message) {
		var cmd model.ChargeCommand
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			p.logger.Errorf("decode command on %s: %v", msg.Topic(), err)
			return
		}
		p.mu.Lock()
		subs := append([]func(model.ChargeCommand){}, p.cmdSubs[deviceID]...)
		p.mu.Unlock()
		for _, fn := range subs {
			fn(cmd)
		}
	}
	token := p.cli.Subscribe(commandTopic(p.prefix, deviceID), p.qosFor("command"), handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// SubscribeStatus registers a handler for status events from all devices.
func (p *PahoChannel) SubscribeStatus(fn func(model.StatusEvent)) error {
	p.mu.Lock()
	p.statusSubs = append(p.statusSubs, fn)
	p.mu.Unlock()
	return p.subscribeStatusTopic()
}

func (p *PahoChannel) subscribeStatusTopic() error {
	handler := func(_ paho.Client, msg paho.Message) {
		var ev model.StatusEvent
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			p.logger.Errorf("decode status on %s: %v", msg.Topic(), err)
			return
		}
		p.mu.Lock()
		subs := append([]func(model.StatusEvent){}, p.statusSubs...)
		p.mu.Unlock()
		for _, fn := range subs {
			fn(ev)
		}
	}
	token := p.cli.Subscribe(statusWildcard(p.prefix), p.qosFor("status"), handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (p *PahoChannel) resubscribe() {
	p.mu.Lock()
	devices := make([]string, 0, len(p.cmdSubs))
	for d := range p.cmdSubs {
		devices = append(devices, d)
	}
	hasStatus := len(p.statusSubs) > 0
	p.mu.Unlock()
	for _, d := range devices {
		if err := p.subscribeCommandTopic(d); err != nil {
			p.logger.Errorf("resubscribe commands for %s: %v", d, err)
		}
	}
	if hasStatus {
		if err := p.subscribeStatusTopic(); err != nil {
			p.logger.Errorf("resubscribe status: %v", err)
		}
	}
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoChannel) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
