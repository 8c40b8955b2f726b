package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/voltbay/powerbank/core/model"
)

// SessionStore holds charge sessions keyed both by session ID and by provider
// event ID. The Session Authority is its only writer.
type SessionStore interface {
	// Create inserts a new session. It fails if the session or its provider
	// event is already present.
	Create(s model.ChargeSession) error
	Get(sessionID string) (model.ChargeSession, bool)
	GetByEvent(providerEventID string) (model.ChargeSession, bool)
	// SetStatus overwrites the status of an existing session.
	SetStatus(sessionID string, st model.SessionStatus, at time.Time) error
	List() []model.ChargeSession
}

// MemoryStore is the default in-memory SessionStore.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]model.ChargeSession
	byEvent map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]model.ChargeSession),
		byEvent: make(map[string]string),
	}
}

func (s *MemoryStore) Create(sess model.ChargeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	if _, ok := s.byEvent[sess.ProviderEventID]; ok {
		return fmt.Errorf("event %s already has a session", sess.ProviderEventID)
	}
	s.byID[sess.ID] = sess
	s.byEvent[sess.ProviderEventID] = sess.ID
	return nil
}

func (s *MemoryStore) Get(sessionID string) (model.ChargeSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[sessionID]
	return sess, ok
}

func (s *MemoryStore) GetByEvent(providerEventID string) (model.ChargeSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEvent[providerEventID]
	if !ok {
		return model.ChargeSession{}, false
	}
	sess, ok := s.byID[id]
	return sess, ok
}

func (s *MemoryStore) SetStatus(sessionID string, st model.SessionStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	sess.Status = st
	sess.UpdatedAt = at
	s.byID[sessionID] = sess
	return nil
}

func (s *MemoryStore) List() []model.ChargeSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ChargeSession, 0, len(s.byID))
	for _, sess := range s.byID {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
