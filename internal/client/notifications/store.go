package notifications

import (
	"context"
	"log/slog"
	"sync"

	"eyecare-realtime/internal/client/rest"
	"eyecare-realtime/internal/client/socket"
	"eyecare-realtime/internal/models"
)

const DefaultPageSize = 20

type API interface {
	ListNotifications(ctx context.Context, limit, skip int) (*models.NotificationPage, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

type Socket interface {
	On(eventType string, handler socket.Handler) (off func())
}

// State is a copy of the store's contents.
type State struct {
	Notifications    []models.Notification
	UnreadCount      int64
	Total            int64
	HasMore          bool
	Loading          bool
	PermissionDenied bool
	Error            string
}

// Store is the local notification cache. Edits are applied optimistically
// and reconciled with a refetch when the server rejects them.
type Store struct {
	api     API
	onError func(error)

	mu               sync.Mutex
	items            []models.Notification
	unread           int64
	total            int64
	hasMore          bool
	loading          bool
	permissionDenied bool
	lastError        string

	reconciling      bool
	reconcilePending bool
}

// NewStore returns an empty store. onError is told about every failure
// that should reach the user; permission failures are not reported.
func NewStore(api API, onError func(error)) *Store {
	if onError == nil {
		onError = func(error) {}
	}
	return &Store{api: api, onError: onError}
}

// Fetch loads one page. A page at skip 0 replaces the cache, later pages
// are merged into it.
func (s *Store) Fetch(ctx context.Context, limit, skip int) error {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	page, err := s.api.ListNotifications(ctx, limit, skip)

	s.mu.Lock()
	s.loading = false

	if rest.IsPermissionDenied(err) {
		s.items = nil
		s.unread = 0
		s.total = 0
		s.hasMore = false
		s.permissionDenied = true
		s.lastError = ""
		s.mu.Unlock()
		slog.Debug("[NOTIFICATIONS] No permission to list notifications")
		return nil
	}
	if err != nil {
		s.lastError = err.Error()
		s.mu.Unlock()
		s.onError(err)
		return err
	}

	if skip == 0 {
		s.items = append([]models.Notification(nil), page.Notifications...)
	} else {
		for _, n := range page.Notifications {
			if s.indexOf(n.ID) < 0 {
				s.items = append(s.items, n)
			}
		}
	}
	s.setUnread(page.UnreadCount)
	s.total = page.Total
	s.hasMore = page.HasMore
	s.permissionDenied = false
	s.lastError = ""
	s.mu.Unlock()

	return nil
}

func (s *Store) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	if i := s.indexOf(id); i >= 0 && !s.items[i].Read {
		s.items[i].Read = true
		s.setUnread(s.unread - 1)
	}
	s.mu.Unlock()

	return s.settle(ctx, s.api.MarkNotificationRead(ctx, id))
}

func (s *Store) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	s.unread = 0
	s.mu.Unlock()

	return s.settle(ctx, s.api.MarkAllNotificationsRead(ctx))
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if i := s.indexOf(id); i >= 0 {
		if !s.items[i].Read {
			s.setUnread(s.unread - 1)
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		if s.total > 0 {
			s.total--
		}
	}
	s.mu.Unlock()

	return s.settle(ctx, s.api.DeleteNotification(ctx, id))
}

// settle reports a failed remote edit and reconciles the cache.
func (s *Store) settle(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	slog.Warn("[NOTIFICATIONS] Remote update failed, refetching", "error", err)
	s.onError(err)
	s.reconcile(ctx)
	return err
}

// reconcile refetches everything loaded so far. Only one reconcile runs at
// a time; failures arriving meanwhile schedule a single trailing refetch.
func (s *Store) reconcile(ctx context.Context) {
	s.mu.Lock()
	if s.reconciling {
		s.reconcilePending = true
		s.mu.Unlock()
		return
	}
	s.reconciling = true
	s.mu.Unlock()

	for {
		s.mu.Lock()
		limit := len(s.items)
		s.mu.Unlock()
		if limit < DefaultPageSize {
			limit = DefaultPageSize
		}

		if err := s.Fetch(ctx, limit, 0); err != nil {
			slog.Warn("[NOTIFICATIONS] Reconcile failed", "error", err)
		}

		s.mu.Lock()
		if !s.reconcilePending {
			s.reconciling = false
			s.mu.Unlock()
			return
		}
		s.reconcilePending = false
		s.mu.Unlock()
	}
}

// HandleNew inserts a pushed notification at the head of the cache. It
// returns false for a notification already present.
func (s *Store) HandleNew(n models.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(n.ID) >= 0 {
		return false
	}

	s.items = append([]models.Notification{n}, s.items...)
	s.total++
	if !n.Read {
		s.setUnread(s.unread + 1)
	}
	return true
}

func (s *Store) HandleUnreadCount(count int64) {
	s.mu.Lock()
	s.setUnread(count)
	s.mu.Unlock()
}

// Attach subscribes the store to the socket's notification events.
func (s *Store) Attach(sock Socket) (detach func()) {
	offNew := sock.On(models.EventNewNotification, func(event models.Event) {
		var n models.Notification
		if err := event.Decode(&n); err != nil || n.ID == "" {
			slog.Warn("[NOTIFICATIONS] Ignoring malformed notification event", "error", err)
			return
		}
		s.HandleNew(n)
	})

	offCount := sock.On(models.EventUnreadCount, func(event models.Event) {
		var count models.UnreadCount
		if err := event.Decode(&count); err != nil {
			slog.Warn("[NOTIFICATIONS] Ignoring malformed unread count event", "error", err)
			return
		}
		s.HandleUnreadCount(count.Count)
	})

	return func() {
		offNew()
		offCount()
	}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		Notifications:    append([]models.Notification(nil), s.items...),
		UnreadCount:      s.unread,
		Total:            s.total,
		HasMore:          s.hasMore,
		Loading:          s.loading,
		PermissionDenied: s.permissionDenied,
		Error:            s.lastError,
	}
}

func (s *Store) indexOf(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// setUnread must be called with s.mu held.
func (s *Store) setUnread(count int64) {
	if count < 0 {
		count = 0
	}
	s.unread = count
}
