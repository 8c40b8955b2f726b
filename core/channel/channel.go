// Package channel defines the abstract command channel between the Session
// Authority and field controllers. Implementations must provide at-least-once
// delivery and should retain the most recent command per device so that an
// offline controller receives it on reconnect.
package channel

import "github.com/voltbay/powerbank/core/model"

// CommandPublisher sends charge commands towards a device. Publish performs a
// bounded retry internally and returns once the command was handed to the
// transport or retries are exhausted.
type CommandPublisher interface {
	Publish(cmd model.ChargeCommand) error
}

// CommandSubscriber delivers commands addressed to a single device. The
// handler may be invoked more than once for the same command.
type CommandSubscriber interface {
	SubscribeCommands(deviceID string, fn func(model.ChargeCommand)) error
}

// StatusPublisher sends status events back to the issuing side.
type StatusPublisher interface {
	PublishStatus(ev model.StatusEvent) error
}

// StatusSubscriber delivers status events from all devices.
type StatusSubscriber interface {
	SubscribeStatus(fn func(model.StatusEvent)) error
}

// Channel combines both directions of the command path.
type Channel interface {
	CommandPublisher
	CommandSubscriber
	StatusPublisher
	StatusSubscriber
}
