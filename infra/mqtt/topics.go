package mqtt

import "fmt"

// Commands are addressed per device; status flows back on a parallel subtree
// so the authority can subscribe with a single wildcard.

func commandTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/charges/%s", prefix, deviceID)
}

func statusTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/status/%s", prefix, deviceID)
}

func statusWildcard(prefix string) string {
	return fmt.Sprintf("%s/status/+", prefix)
}
