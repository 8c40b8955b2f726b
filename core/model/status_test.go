package model

import "testing"

func TestStatusEvent_SessionStatus(t *testing.T) {
	cases := []struct {
		kind StatusKind
		want SessionStatus
		ok   bool
	}{
		{StatusKindStarted, StatusStarted, true},
		{StatusKindCompleted, StatusCompleted, true},
		{StatusKindError, StatusErrored, true},
		{StatusKind("heartbeat"), 0, false},
	}
	for _, c := range cases {
		got, ok := StatusEvent{Kind: c.kind}.SessionStatus()
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("kind %q: got %v/%v want %v/%v", c.kind, got, ok, c.want, c.ok)
		}
	}
}
