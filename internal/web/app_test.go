package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"newsletterapp/internal/config"
	"newsletterapp/internal/infrastructure/memstore"
	"newsletterapp/internal/model"
	"newsletterapp/internal/newsletter"
	"newsletterapp/pkg/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMailer struct{}

func (stubMailer) Send(_ context.Context, msg newsletter.Message) (string, error) {
	return "ses-" + msg.To, nil
}

type stubTasks map[string]task.Info

func (s stubTasks) Status(id string) (task.Info, bool) {
	info, ok := s[id]
	return info, ok
}

type testApp struct {
	app     *WebApp
	manager *newsletter.Manager
	store   *memstore.Store
}

func newTestApp(t *testing.T, conf config.WebConfig) *testApp {
	t.Helper()
	store := memstore.New()
	manager := newsletter.NewManager(store, stubMailer{}, nil, newsletter.Config{
		Render: newsletter.RenderConfig{SiteURL: "https://example.com"},
	})
	if conf.SiteURL == "" {
		conf.SiteURL = "https://example.com"
	}
	tasks := stubTasks{"task-1": {ID: "task-1", Name: "send_newsletter:1", Status: task.StatusDone}}
	return &testApp{
		app:     NewWebApp(conf, manager, tasks),
		manager: manager,
		store:   store,
	}
}

func (ta *testApp) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ta.app.Router.ServeHTTP(rec, req)
	return rec
}

var (
	asAuthor = map[string]string{"X-User-ID": "7"}
	asStaff  = map[string]string{"X-User-ID": "1", "X-User-Staff": "true"}
)

func (ta *testApp) createNewsletter(t *testing.T) model.Newsletter {
	t.Helper()
	rec := ta.do(http.MethodPost, "/api/newsletters", map[string]string{
		"title":   "Выпуск",
		"subject": "Тема",
		"content": "<p>Текст</p>",
	}, asAuthor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var n model.Newsletter
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	return n
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestNewsletterCRUD(t *testing.T) {
	ta := newTestApp(t, config.WebConfig{})
	n := ta.createNewsletter(t)
	assert.Equal(t, model.NewsletterDraft, n.Status)

	rec := ta.do(http.MethodGet, "/api/newsletters/"+itoa(n.ID), nil, asAuthor)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(http.MethodGet, "/api/newsletters/"+itoa(n.ID), nil, map[string]string{"X-User-ID": "8"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ta.do(http.MethodGet, "/api/newsletters/999", nil, asStaff)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do(http.MethodPatch, "/api/newsletters/"+itoa(n.ID), map[string]string{"title": "Новый"}, asAuthor)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated model.Newsletter
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Новый", updated.Title)

	rec = ta.do(http.MethodPatch, "/api/newsletters/"+itoa(n.ID), map[string]string{"status": "sent"}, asAuthor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "status", decodeError(t, rec).Field)
}

func TestCreateNewsletterValidation(t *testing.T) {
	ta := newTestApp(t, config.WebConfig{})

	rec := ta.do(http.MethodPost, "/api/newsletters", "{broken", asAuthor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(http.MethodPost, "/api/newsletters", map[string]string{"subject": "s", "content": "c"}, asAuthor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "title", decodeError(t, rec).Field)

	rec = ta.do(http.MethodPost, "/api/newsletters", map[string]string{"title": "t", "subject": "s", "content": "c"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSendNewsletter(t *testing.T) {
	ta := newTestApp(t, config.WebConfig{})
	_, _, err := ta.manager.AddOrGet(context.Background(), "a@example.com", newsletter.SubscriberAttrs{}, false)
	require.NoError(t, err)
	n := ta.createNewsletter(t)

	rec := ta.do(http.MethodPost, "/api/newsletters/"+itoa(n.ID)+"/send", nil, asAuthor)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp taskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)

	got, err := ta.store.GetNewsletter(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NewsletterSent, got.Status)

	rec = ta.do(http.MethodPost, "/api/newsletters/"+itoa(n.ID)+"/send", nil, asAuthor)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ta.do(http.MethodPost, "/api/newsletters/"+itoa(n.ID)+"/cancel", nil, asAuthor)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ta.do(http.MethodGet, "/api/newsletters/"+itoa(n.ID)+"/analytics", nil, asAuthor)
	require.Equal(t, http.StatusOK, rec.Code)
	var a model.NewsletterAnalytics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, 1, a.TotalSent)
}

func TestScheduleNewsletter(t *testing.T) {
	ta := newTestApp(t, config.WebConfig{})
	n := ta.createNewsletter(t)

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	rec := ta.do(http.MethodPost, "/api/newsletters/"+itoa(n.ID)+"/schedule",
		map[string]string{"scheduled_at": at.Format(time.RFC3339)}, asAuthor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got model.Newsletter
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.NewsletterScheduled, got.Status)

	rec = ta.do(http.MethodPost, "/api/newsletters/"+itoa(n.ID)+"/schedule", nil, asAuthor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "scheduled_at", decodeError(t, rec).Field)
}

func TestTaskStatus(t *testing.T) {
	ta := newTestApp(t, config.WebConfig{})

	rec := ta.do(http.MethodGet, "/api/tasks/task-1", nil, asAuthor)
	require.Equal(t, http.StatusOK, rec.Code)
	var info task.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, task.StatusDone, info.Status)

	rec = ta.do(http.MethodGet, "/api/tasks/unknown", nil, asAuthor)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscriberEndpoints(t *testing.T) {
	ta := newTestApp(t, config.WebConfig{})

	rec := ta.do(http.MethodPost, "/api/subscribers/import", map[string][]string{
		"emails": {"a@example.com", "b@example.com"},
	}, asStaff)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"imported":2}`, rec.Body.String())

	rec = ta.do(http.MethodPost, "/api/subscribers/import", map[string][]string{
		"emails": {"c@example.com", "a@example.com"},
	}, asStaff)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "emails", resp.Field)
	assert.Equal(t, []interface{}{"a@example.com"}, resp.Value)

	rec = ta.do(http.MethodPost, "/api/subscribers/import", map[string][]string{"emails": {"x@example.com"}}, asAuthor)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ta.do(http.MethodPost, "/api/subscribers/1/unsubscribe", nil, asStaff)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(http.MethodGet, "/api/subscribers/stats", nil, asStaff)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats newsletter.SubscriberStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalActive)
	assert.Equal(t, int64(1), stats.TotalUnsubscribed)

	rec = ta.do(http.MethodPost, "/api/subscribers/1/resubscribe", nil, asStaff)
	require.Equal(t, http.StatusOK, rec.Code)
	var sub model.Subscriber
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.True(t, sub.IsActive)
}

func TestTrackingEndpoints(t *testing.T) {
	ta := newTestApp(t, config.WebConfig{})
	_, _, err := ta.manager.AddOrGet(context.Background(), "a@example.com", newsletter.SubscriberAttrs{}, false)
	require.NoError(t, err)
	n := ta.createNewsletter(t)
	_, err = ta.manager.RequestSend(context.Background(), newsletter.Caller{UserID: 7}, n.ID)
	require.NoError(t, err)

	sends, err := ta.store.ListSends(context.Background(), n.ID)
	require.NoError(t, err)
	require.Len(t, sends, 1)
	token := *sends[0].TrackingID

	rec := ta.do(http.MethodGet, "/newsletters/track/open/"+token+"/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, pixel, rec.Body.Bytes())

	rec = ta.do(http.MethodGet, "/newsletters/track/open/unknown/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pixel, rec.Body.Bytes())

	rec = ta.do(http.MethodGet, "/newsletters/track/click/"+token+"/?url=https://blog.example.com/post", nil, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://blog.example.com/post", rec.Header().Get("Location"))

	rec = ta.do(http.MethodGet, "/newsletters/track/click/"+token+"/?url=javascript:alert(1)", nil, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Location"))

	send, err := ta.store.GetSend(context.Background(), sends[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.SendClicked, send.Status)
	assert.Equal(t, 1, send.OpenCount)
	assert.Equal(t, 2, send.ClickCount)

	rec = ta.do(http.MethodPost, "/api/sends/"+itoa(send.ID)+"/mark-opened", nil, asAuthor)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ta.do(http.MethodPost, "/api/sends/"+itoa(send.ID)+"/mark-opened", nil, asStaff)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ta.do(http.MethodPost, "/api/sends/999/mark-clicked", nil, asStaff)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do(http.MethodGet, "/newsletters/unsubscribe/"+itoa(sends[0].SubscriberID)+"/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a@example.com")

	rec = ta.do(http.MethodGet, "/newsletters/unsubscribe/999/", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLimitMiddleware(t *testing.T) {
	// httptest.NewRequest приходит с 192.0.2.1
	ta := newTestApp(t, config.WebConfig{RequestsPerSec: 1, RequestsBurst: 1, TrustedProxies: []string{"192.0.2.0/24"}})

	rec := ta.do(http.MethodGet, "/api/newsletters/stats", nil, map[string]string{"X-Forwarded-For": "10.0.0.1", "X-User-Staff": "true"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ta.do(http.MethodGet, "/api/newsletters/stats", nil, map[string]string{"X-Forwarded-For": "10.0.0.1", "X-User-Staff": "true"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	rec = ta.do(http.MethodGet, "/api/newsletters/stats", nil, map[string]string{"X-Forwarded-For": "10.0.0.2", "X-User-Staff": "true"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLimitMiddlewareIgnoresSpoofedHeader(t *testing.T) {
	ta := newTestApp(t, config.WebConfig{RequestsPerSec: 1, RequestsBurst: 1})

	rec := ta.do(http.MethodGet, "/api/newsletters/stats", nil, map[string]string{"X-Forwarded-For": "10.0.0.1", "X-User-Staff": "true"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ta.do(http.MethodGet, "/api/newsletters/stats", nil, map[string]string{"X-Forwarded-For": "10.0.0.2", "X-User-Staff": "true"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestClientIP(t *testing.T) {
	proxies := parseProxies([]string{"10.0.0.0/8", "192.168.1.5", "bogus", "2001:db8::/32"})
	require.Len(t, proxies, 3)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:41000"
	assert.Equal(t, "192.168.1.5", clientIP(req, proxies))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req, proxies))
	assert.Equal(t, "192.168.1.5", clientIP(req, nil))

	// подделанный клиентом первый адрес не учитывается
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req, proxies))

	req.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.1")
	assert.Equal(t, "10.0.0.9", clientIP(req, proxies))

	req.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "192.168.1.5", clientIP(req, proxies))

	req.RemoteAddr = "198.51.100.3:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "198.51.100.3", clientIP(req, proxies))
}

func TestTestEmail(t *testing.T) {
	ta := newTestApp(t, config.WebConfig{})
	n := ta.createNewsletter(t)

	rec := ta.do(http.MethodPost, "/api/newsletters/test-email", map[string]string{"email": "qa@example.com"}, asAuthor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp testEmailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ses-qa@example.com", resp.MessageID)
	assert.Equal(t, "qa@example.com", resp.Email)

	rec = ta.do(http.MethodPost, "/api/newsletters/test-email", map[string]interface{}{"email": "qa@example.com", "newsletter_id": n.ID}, asAuthor)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(http.MethodPost, "/api/newsletters/test-email", map[string]interface{}{"email": "qa@example.com", "newsletter_id": n.ID}, map[string]string{"X-User-ID": "8"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ta.do(http.MethodPost, "/api/newsletters/test-email", map[string]string{"email": "nope"}, asAuthor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email", decodeError(t, rec).Field)

	rec = ta.do(http.MethodPost, "/api/newsletters/test-email", map[string]string{"email": "qa@example.com"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusOf(&newsletter.Error{Type: newsletter.ErrorValidation}))
	assert.Equal(t, http.StatusNotFound, statusOf(&newsletter.Error{Type: newsletter.ErrorNotFound}))
	assert.Equal(t, http.StatusConflict, statusOf(&newsletter.Error{Type: newsletter.ErrorInvalidTransition}))
	assert.Equal(t, http.StatusForbidden, statusOf(&newsletter.Error{Type: newsletter.ErrorForbidden}))
	assert.Equal(t, http.StatusInternalServerError, statusOf(assert.AnError))
}
