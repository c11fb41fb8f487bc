package reconcile

import (
	"errors"
	"sync"

	"github.com/geoquest/geoquest/pkg/logx"
	"github.com/geoquest/geoquest/pkg/store"
)

// State tracks the daily reconciliation bookkeeping. NotificationSent set
// for a day implies a reconciliation ran that day and found at least one
// discovery. Both flags reset at day rollover.
type State struct {
	mu     sync.Mutex
	store  store.Store
	logger *logx.Logger

	lastCheckDateKey        string
	notificationSentDateKey string
}

// LoadState restores the reconciliation flags from durable storage.
func LoadState(st store.Store, logger *logx.Logger) *State {
	s := &State{store: st, logger: logger}

	if blob, err := st.Get(store.KeyLastCheckDate); err == nil {
		s.lastCheckDateKey = string(blob)
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("last check date restore failed", "error", err)
	}

	if blob, err := st.Get(store.KeyNotificationSent); err == nil {
		s.notificationSentDateKey = string(blob)
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("notification sent date restore failed", "error", err)
	}

	return s
}

// LastCheckDateKey returns the day of the most recent foreground check.
func (s *State) LastCheckDateKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCheckDateKey
}

// NotificationSentDateKey returns the day a discovery notification last fired.
func (s *State) NotificationSentDateKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notificationSentDateKey
}

// MarkChecked stamps the foreground check for dateKey.
func (s *State) MarkChecked(dateKey string) {
	s.mu.Lock()
	s.lastCheckDateKey = dateKey
	s.mu.Unlock()

	if err := s.store.Put(store.KeyLastCheckDate, []byte(dateKey)); err != nil {
		s.logger.Warn("last check date persist failed", "error", err)
	}
}

// MarkNotified stamps the discovery notification for dateKey.
func (s *State) MarkNotified(dateKey string) {
	s.mu.Lock()
	s.notificationSentDateKey = dateKey
	s.mu.Unlock()

	if err := s.store.Put(store.KeyNotificationSent, []byte(dateKey)); err != nil {
		s.logger.Warn("notification sent date persist failed", "error", err)
	}
}

// Reset clears both flags, in memory and in storage. Run at day rollover.
func (s *State) Reset() {
	s.mu.Lock()
	s.lastCheckDateKey = ""
	s.notificationSentDateKey = ""
	s.mu.Unlock()

	if err := s.store.Delete(store.KeyLastCheckDate); err != nil {
		s.logger.Warn("last check date clear failed", "error", err)
	}
	if err := s.store.Delete(store.KeyNotificationSent); err != nil {
		s.logger.Warn("notification sent date clear failed", "error", err)
	}
}
