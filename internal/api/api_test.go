package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"eyecare-realtime/internal/auth"
	"eyecare-realtime/internal/models"
	"eyecare-realtime/internal/store"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "api-secret"

type fakeStore struct {
	mu            sync.Mutex
	notifications map[string][]models.Notification
	conversations []models.Conversation
	access        *models.ConsultationAccess
	err           error
}

func newFakeStore() *fakeStore {
	return &fakeStore{notifications: make(map[string][]models.Notification)}
}

func (s *fakeStore) ListNotifications(ctx context.Context, userID string, limit, skip int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	all := s.notifications[userID]
	if skip >= len(all) {
		return []models.Notification{}, nil
	}
	end := skip + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]models.Notification{}, all[skip:end]...), nil
}

func (s *fakeStore) CountNotifications(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.notifications[userID])), s.err
}

func (s *fakeStore) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, item := range s.notifications[userID] {
		if !item.Read {
			n++
		}
	}
	return n, s.err
}

func (s *fakeStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	n.ID = "generated-" + n.UserID
	s.notifications[n.UserID] = append(s.notifications[n.UserID], *n)
	return nil
}

func (s *fakeStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for i := range s.notifications[userID] {
		if s.notifications[userID][i].ID == id {
			s.notifications[userID][i].Read = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	for i := range s.notifications[userID] {
		if !s.notifications[userID][i].Read {
			s.notifications[userID][i].Read = true
			changed++
		}
	}
	return changed, s.err
}

func (s *fakeStore) DeleteNotification(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.notifications[userID]
	for i := range items {
		if items[i].ID == id {
			s.notifications[userID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return s.conversations, s.err
}

func (s *fakeStore) ConsultationAccess(ctx context.Context, roomID, userID string) (*models.ConsultationAccess, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.access, nil
}

type fakePusher struct {
	mu            sync.Mutex
	notifications []*models.Notification
	counts        map[string]int64
}

func (p *fakePusher) Notification(ctx context.Context, n *models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, n)
	return nil
}

func (p *fakePusher) UnreadCount(ctx context.Context, userID string, count int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts == nil {
		p.counts = make(map[string]int64)
	}
	p.counts[userID] = count
	return nil
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type apiEnv struct {
	store  *fakeStore
	pusher *fakePusher
	server http.Handler
}

func newAPIEnv() *apiEnv {
	s := newFakeStore()
	p := &fakePusher{}
	router := NewRouter(NewHandler(s, p), auth.NewHMACValidator(testSecret, ""), nil)
	return &apiEnv{store: s, pusher: p, server: router}
}

func (e *apiEnv) do(t *testing.T, method, path, userID, role, body string) (*httptest.ResponseRecorder, models.Response) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID, role))
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)

	var resp models.Response
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func seed(s *fakeStore, userID string, n int) {
	for i := 0; i < n; i++ {
		s.notifications[userID] = append(s.notifications[userID], models.Notification{
			ID:     "n" + string(rune('a'+i)),
			UserID: userID,
			Type:   models.NotificationAppointmentReminder,
			Title:  "Reminder",
			Read:   i%2 == 1,
		})
	}
}

func TestHealth(t *testing.T) {
	env := newAPIEnv()
	rec, _ := env.do(t, http.MethodGet, "/health", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequiresToken(t *testing.T) {
	env := newAPIEnv()
	rec, resp := env.do(t, http.MethodGet, "/api/notifications", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)
}

func TestListNotificationsPaging(t *testing.T) {
	env := newAPIEnv()
	seed(env.store, "u1", 5)

	rec, resp := env.do(t, http.MethodGet, "/api/notifications?limit=2&skip=2", "u1", models.RolePatient, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	var page models.NotificationPage
	raw, _ := json.Marshal(resp.Data)
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Len(t, page.Notifications, 2)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, int64(3), page.UnreadCount)
	assert.True(t, page.HasMore)

	rec, _ = env.do(t, http.MethodGet, "/api/notifications?limit=abc", "u1", models.RolePatient, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/notifications?skip=-1", "u1", models.RolePatient, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListNotificationsStoreFailure(t *testing.T) {
	env := newAPIEnv()
	env.store.err = errors.New("db down")

	rec, resp := env.do(t, http.MethodGet, "/api/notifications", "u1", models.RolePatient, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "unable to load notifications", resp.Message)
}

func TestMarkReadPushesUnreadCount(t *testing.T) {
	env := newAPIEnv()
	seed(env.store, "u1", 3)

	rec, resp := env.do(t, http.MethodPatch, "/api/notifications/na/read", "u1", models.RolePatient, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(1), env.pusher.counts["u1"])

	rec, resp = env.do(t, http.MethodPatch, "/api/notifications/zzz/read", "u1", models.RolePatient, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}

func TestMarkAllReadAndDelete(t *testing.T) {
	env := newAPIEnv()
	seed(env.store, "u1", 4)

	rec, _ := env.do(t, http.MethodPatch, "/api/notifications/read-all", "u1", models.RolePatient, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), env.pusher.counts["u1"])

	rec, _ = env.do(t, http.MethodDelete, "/api/notifications/nb", "u1", models.RolePatient, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.store.notifications["u1"], 3)

	rec, _ = env.do(t, http.MethodDelete, "/api/notifications/nb", "u1", models.RolePatient, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnreadCountEndpoint(t *testing.T) {
	env := newAPIEnv()
	seed(env.store, "u1", 4)

	rec, resp := env.do(t, http.MethodGet, "/api/notifications/unread-count", "u1", models.RolePatient, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"count": float64(2)}, resp.Data)
}

func TestCreateNotificationsAdminOnly(t *testing.T) {
	env := newAPIEnv()
	body := `{"userIds":["u1","u2"],"type":"system_alert","title":"Clinic closed","message":"Back Monday"}`

	rec, _ := env.do(t, http.MethodPost, "/api/admin/notifications", "u1", models.RolePatient, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp := env.do(t, http.MethodPost, "/api/admin/notifications", "admin", models.RoleAdmin, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	assert.Len(t, env.pusher.notifications, 2)
	assert.Equal(t, int64(1), env.pusher.counts["u2"])
}

func TestCreateNotificationsValidation(t *testing.T) {
	env := newAPIEnv()

	rec, resp := env.do(t, http.MethodPost, "/api/admin/notifications", "admin", models.RoleAdmin, `{"userIds":[],"type":"spam","title":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation failed", resp.Message)
	assert.NotEmpty(t, resp.Data)

	rec, _ = env.do(t, http.MethodPost, "/api/admin/notifications", "admin", models.RoleAdmin, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListConversations(t *testing.T) {
	env := newAPIEnv()
	env.store.conversations = []models.Conversation{{ID: "c1", UnreadCount: 2}}

	rec, resp := env.do(t, http.MethodGet, "/api/conversations", "u1", models.RolePatient, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)
}

func TestConsultationAccess(t *testing.T) {
	env := newAPIEnv()

	env.store.access = &models.ConsultationAccess{RoomID: "r1", Allowed: true}
	rec, resp := env.do(t, http.MethodGet, "/api/consultations/r1/access", "u1", models.RolePatient, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	env.store.access = &models.ConsultationAccess{
		RoomID:  "r1",
		Reason:  "booking is pending, not confirmed",
		Booking: &models.BookingSummary{ID: "b1", Status: "pending"},
	}
	rec, resp = env.do(t, http.MethodGet, "/api/consultations/r1/access", "u1", models.RolePatient, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "booking is pending, not confirmed", resp.Message)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotNil(t, data["booking"])
}
