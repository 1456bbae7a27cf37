package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goevery/notifier/internal/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Add(t *testing.T) {
	t.Run("assigns id timestamp and defaults", func(t *testing.T) {
		now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
		s := New(WithClock(func() time.Time { return now }))

		n := s.Add(notification.Draft{Type: notification.TypeSuccess, Message: "تم خصم الحصة بنجاح"})

		assert.NotEmpty(t, n.Id)
		assert.Equal(t, now, n.Timestamp)
		assert.Equal(t, notification.DefaultDuration, n.Duration)
		assert.True(t, n.Sound)
		assert.Equal(t, notification.DefaultTitle(notification.TypeSuccess), n.Title)
		assert.Equal(t, []notification.Notification{n}, s.List())
	})

	t.Run("keeps the five newest", func(t *testing.T) {
		s := New()

		for i := 0; i < 12; i++ {
			s.Add(notification.Draft{Type: notification.TypeInfo, Message: fmt.Sprintf("m%d", i), Duration: notification.Int(0)})
			assert.LessOrEqual(t, s.Len(), DefaultLimit)
		}

		list := s.List()
		require.Len(t, list, DefaultLimit)
		assert.Equal(t, "m11", list[0].Message)
		assert.Equal(t, "m7", list[4].Message)
	})

	t.Run("ids are unique", func(t *testing.T) {
		s := New(WithLimit(100))
		seen := make(map[string]struct{})

		for i := 0; i < 100; i++ {
			n := s.Add(notification.Draft{Type: notification.TypeInfo, Message: "m", Duration: notification.Int(0)})
			_, dup := seen[n.Id]
			assert.False(t, dup)
			seen[n.Id] = struct{}{}
		}
	})

	t.Run("concurrent adds stay bounded", func(t *testing.T) {
		s := New()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Info("burst")
			}()
		}
		wg.Wait()

		assert.Equal(t, DefaultLimit, s.Len())
	})
}

func TestStore_Expiry(t *testing.T) {
	t.Run("expires after duration", func(t *testing.T) {
		s := New()

		n := s.Add(notification.Draft{Type: notification.TypeInfo, Message: "m", Duration: notification.Int(200)})

		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, n.Id, s.List()[0].Id)

		assert.Eventually(t, func() bool {
			return s.Len() == 0
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("zero duration never expires", func(t *testing.T) {
		s := New()

		s.Add(notification.Draft{Type: notification.TypeInfo, Message: "sticky", Duration: notification.Int(0)})
		s.Add(notification.Draft{Type: notification.TypeInfo, Message: "negative", Duration: notification.Int(-1)})

		assert.Never(t, func() bool {
			return s.Len() != 2
		}, 300*time.Millisecond, 20*time.Millisecond)
	})

	t.Run("manual removal before expiry", func(t *testing.T) {
		s := New()

		n := s.Add(notification.Draft{Type: notification.TypeInfo, Message: "m", Duration: notification.Int(50)})
		other := s.Add(notification.Draft{Type: notification.TypeInfo, Message: "other", Duration: notification.Int(0)})

		s.Remove(n.Id)
		time.Sleep(100 * time.Millisecond)

		assert.Equal(t, []notification.Notification{other}, s.List())
	})
}

func TestStore_Remove(t *testing.T) {
	s := New()

	a := s.Add(notification.Draft{Type: notification.TypeInfo, Message: "a", Duration: notification.Int(0)})
	b := s.Add(notification.Draft{Type: notification.TypeInfo, Message: "b", Duration: notification.Int(0)})

	s.Remove(a.Id)
	s.Remove(a.Id)
	s.Remove("missing")

	assert.Equal(t, []notification.Notification{b}, s.List())
}

func TestStore_Clear(t *testing.T) {
	s := New()
	s.Success("a")
	s.Error("b")

	s.Clear()

	assert.Empty(t, s.List())
}

func TestStore_Subscribe(t *testing.T) {
	s := New()

	var mu sync.Mutex
	var sizes []int
	cancel := s.Subscribe(func(notifications []notification.Notification) {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(notifications))
	})

	a := s.Warning("a")
	s.Info("b")
	s.Remove(a.Id)
	s.Clear()

	cancel()
	s.Info("ignored")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 1, 0}, sizes)
}

func TestStore_SubscribeConcurrentChanges(t *testing.T) {
	s := New(WithLimit(50))

	var mu sync.Mutex
	var last []notification.Notification
	var calls int
	s.Subscribe(func(notifications []notification.Notification) {
		mu.Lock()
		defer mu.Unlock()
		last = notifications
		calls++
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			duration := 1
			if i%4 == 0 {
				duration = 0
			}
			s.Add(notification.Draft{
				Type:     notification.TypeInfo,
				Message:  fmt.Sprintf("m%d", i),
				Duration: notification.Int(duration),
			})
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return s.Len() == 5 && len(last) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, calls)
	assert.ElementsMatch(t, s.List(), last)
}
