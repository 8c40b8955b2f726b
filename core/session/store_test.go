package session

import (
	"testing"
	"time"

	"github.com/voltbay/powerbank/core/model"
)

func TestMemoryStore_CreateAndLookup(t *testing.T) {
	s := NewMemoryStore()
	sess := model.ChargeSession{
		ID:              model.SessionID("evt_1"),
		ProviderEventID: "evt_1",
		DeviceID:        "bay-1",
		Status:          model.StatusCreated,
		CreatedAt:       time.Now(),
	}
	if err := s.Create(sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(sess); err == nil {
		t.Fatalf("duplicate create accepted")
	}
	got, ok := s.Get(sess.ID)
	if !ok || got.DeviceID != "bay-1" {
		t.Fatalf("get: %#v ok=%v", got, ok)
	}
	got, ok = s.GetByEvent("evt_1")
	if !ok || got.ID != sess.ID {
		t.Fatalf("get by event: %#v ok=%v", got, ok)
	}
	if _, ok := s.GetByEvent("evt_2"); ok {
		t.Fatalf("unexpected session for unknown event")
	}
}

func TestMemoryStore_SetStatus(t *testing.T) {
	s := NewMemoryStore()
	sess := model.ChargeSession{ID: "s1", ProviderEventID: "e1"}
	if err := s.Create(sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	at := time.Now()
	if err := s.SetStatus("s1", model.StatusStarted, at); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _ := s.Get("s1")
	if got.Status != model.StatusStarted || !got.UpdatedAt.Equal(at) {
		t.Fatalf("got %#v", got)
	}
	if err := s.SetStatus("missing", model.StatusStarted, at); err == nil {
		t.Fatalf("set status on unknown session accepted")
	}
}

func TestMemoryStore_ListSorted(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	for i, id := range []string{"c", "a", "b"} {
		err := s.Create(model.ChargeSession{
			ID:              id,
			ProviderEventID: id,
			CreatedAt:       base.Add(time.Duration(2-i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("len %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.Before(list[i-1].CreatedAt) {
			t.Fatalf("list not sorted by creation time")
		}
	}
}
