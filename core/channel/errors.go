package channel

import "errors"

// ErrPublishFailed is returned when a publish could not be delivered to the
// transport after the bounded retries.
var ErrPublishFailed = errors.New("publish failed after retries")
