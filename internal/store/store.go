package store

import (
	"slices"
	"sync"
	"time"

	"github.com/goevery/notifier/internal/notification"
)

const DefaultLimit = 5

type Listener func(notifications []notification.Notification)

// Store is a bounded, newest-first log of notifications. Entries expire on
// their own after their duration unless it is zero or negative.
type Store struct {
	limit int
	now   func() time.Time

	mu            sync.Mutex
	notifications []notification.Notification
	timers        map[string]*time.Timer
	listeners     map[int]Listener
	nextListener  int
	version       uint64

	// deliverMu orders listener calls; snapshots older than the last one
	// delivered are dropped.
	deliverMu sync.Mutex
	delivered uint64
}

type Option func(*Store)

func WithLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		limit:     DefaultLimit,
		now:       time.Now,
		timers:    make(map[string]*time.Timer),
		listeners: make(map[int]Listener),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Add stores the draft as the newest notification and returns it.
func (s *Store) Add(draft notification.Draft) notification.Notification {
	now := s.now()
	n := notification.Complete(draft, notification.NewId(now), now)

	s.mu.Lock()

	s.notifications = append([]notification.Notification{n}, s.notifications...)
	if len(s.notifications) > s.limit {
		for _, evicted := range s.notifications[s.limit:] {
			s.stopTimerLocked(evicted.Id)
		}
		s.notifications = s.notifications[:s.limit]
	}

	if n.Expires() {
		id := n.Id
		s.timers[id] = time.AfterFunc(n.ExpiresIn(), func() {
			s.Remove(id)
		})
	}

	snapshot, listeners, version := s.snapshotLocked()
	s.mu.Unlock()

	s.deliver(version, listeners, snapshot)

	return n
}

// Remove is a no-op for ids that are no longer stored.
func (s *Store) Remove(id string) {
	s.mu.Lock()

	index := slices.IndexFunc(s.notifications, func(n notification.Notification) bool {
		return n.Id == id
	})
	if index < 0 {
		s.mu.Unlock()
		return
	}

	s.notifications = slices.Delete(s.notifications, index, index+1)
	s.stopTimerLocked(id)

	snapshot, listeners, version := s.snapshotLocked()
	s.mu.Unlock()

	s.deliver(version, listeners, snapshot)
}

func (s *Store) Clear() {
	s.mu.Lock()

	for id := range s.timers {
		s.stopTimerLocked(id)
	}
	s.notifications = nil

	snapshot, listeners, version := s.snapshotLocked()
	s.mu.Unlock()

	s.deliver(version, listeners, snapshot)
}

// List returns the stored notifications, newest first.
func (s *Store) List() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.notifications)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.notifications)
}

// Subscribe registers a listener called with a snapshot after every change.
// Listeners are called one at a time and never see an older snapshot after a
// newer one; they must not modify the store synchronously. The returned
// function removes the listener.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.nextListener
	s.nextListener++
	s.listeners[key] = listener

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.listeners, key)
	}
}

func (s *Store) Success(message string) notification.Notification {
	return s.Add(notification.Draft{Type: notification.TypeSuccess, Message: message})
}

func (s *Store) Error(message string) notification.Notification {
	return s.Add(notification.Draft{Type: notification.TypeError, Message: message})
}

func (s *Store) Warning(message string) notification.Notification {
	return s.Add(notification.Draft{Type: notification.TypeWarning, Message: message})
}

func (s *Store) Info(message string) notification.Notification {
	return s.Add(notification.Draft{Type: notification.TypeInfo, Message: message})
}

func (s *Store) stopTimerLocked(id string) {
	timer, ok := s.timers[id]
	if !ok {
		return
	}

	timer.Stop()
	delete(s.timers, id)
}

func (s *Store) snapshotLocked() ([]notification.Notification, []Listener, uint64) {
	s.version++

	listeners := make([]Listener, 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}

	return slices.Clone(s.notifications), listeners, s.version
}

func (s *Store) deliver(version uint64, listeners []Listener, snapshot []notification.Notification) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if version <= s.delivered {
		return
	}
	s.delivered = version

	for _, listener := range listeners {
		listener(snapshot)
	}
}
