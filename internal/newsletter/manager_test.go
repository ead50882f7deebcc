package newsletter_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"newsletterapp/internal/infrastructure/memstore"
	"newsletterapp/internal/model"
	"newsletterapp/internal/newsletter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	author = newsletter.Caller{UserID: 7}
	staff  = newsletter.Caller{UserID: 1, IsStaff: true}
)

// syncTasks выполняет задачи сразу, отложенные только запоминает.
// alive задает ответ Alive для всех задач
type syncTasks struct {
	mu        sync.Mutex
	submitted []string
	delayed   map[string]time.Time
	alive     bool
}

func (t *syncTasks) Submit(name string, fn func(ctx context.Context) error) string {
	t.mu.Lock()
	t.submitted = append(t.submitted, name)
	id := fmt.Sprintf("task-%d", len(t.submitted))
	t.mu.Unlock()

	_ = fn(context.Background())
	return id
}

func (t *syncTasks) SubmitAt(name string, eta time.Time, _ func(ctx context.Context) error) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.delayed == nil {
		t.delayed = make(map[string]time.Time)
	}
	t.delayed[name] = eta
	return "delayed-" + name
}

func (t *syncTasks) Alive(string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive
}

func (t *syncTasks) setAlive(alive bool) {
	t.mu.Lock()
	t.alive = alive
	t.mu.Unlock()
}

type fakeMailer struct {
	mu   sync.Mutex
	fail map[string]bool
	sent []newsletter.Message
}

func (f *fakeMailer) Send(_ context.Context, msg newsletter.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[msg.To] {
		return "", errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, msg)
	return "msg-" + msg.To, nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// perRecipient количество писем по адресатам
func (f *fakeMailer) perRecipient() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.sent))
	for _, msg := range f.sent {
		out[msg.To]++
	}
	return out
}

type fakeNotifier struct {
	results []*newsletter.BulkResult
}

func (f *fakeNotifier) NewsletterSent(_ context.Context, _ *model.Newsletter, res *newsletter.BulkResult) error {
	f.results = append(f.results, res)
	return nil
}

type fakeExporter struct {
	exported []model.NewsletterAnalytics
}

func (f *fakeExporter) ExportAnalytics(_ context.Context, _ *model.Newsletter, a *model.NewsletterAnalytics) error {
	f.exported = append(f.exported, *a)
	return nil
}

type testEnv struct {
	manager  *newsletter.Manager
	store    *memstore.Store
	mailer   *fakeMailer
	tasks    *syncTasks
	notifier *fakeNotifier
	exporter *fakeExporter
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    memstore.New(),
		mailer:   &fakeMailer{fail: map[string]bool{}},
		tasks:    &syncTasks{},
		notifier: &fakeNotifier{},
		exporter: &fakeExporter{},
		now:      time.Now().Truncate(time.Second),
	}
	env.manager = env.newManager(env.store)
	return env
}

// newManager еще один экземпляр сервиса над store, например после перезапуска
func (e *testEnv) newManager(store newsletter.Store) *newsletter.Manager {
	return newsletter.NewManager(store, e.mailer, e.tasks, newsletter.Config{
		Render: newsletter.RenderConfig{
			SiteURL:     "https://example.com/",
			FromAddress: "news@example.com",
		},
		Concurrency: 2,
		StaleAfter:  10 * time.Minute,
		Now:         func() time.Time { return e.now },
	}, newsletter.WithNotifier(e.notifier), newsletter.WithExporter(e.exporter))
}

func (e *testEnv) subscribe(t *testing.T, emails ...string) []*model.Subscriber {
	t.Helper()
	out := make([]*model.Subscriber, 0, len(emails))
	for _, email := range emails {
		sub, created, err := e.manager.AddOrGet(context.Background(), email, newsletter.SubscriberAttrs{}, false)
		require.NoError(t, err)
		require.True(t, created)
		out = append(out, sub)
	}
	return out
}

func (e *testEnv) draft(t *testing.T) *model.Newsletter {
	t.Helper()
	n, err := e.manager.CreateNewsletter(context.Background(), author, newsletter.CreateInput{
		Title:   "Выпуск 1",
		Subject: "Новости недели",
		Content: "<p>Привет!</p>",
	})
	require.NoError(t, err)
	return n
}

// sending переводит рассылку в sending напрямую через хранилище
func (e *testEnv) sending(t *testing.T, id uint, from string) {
	t.Helper()
	ok, err := e.store.UpdateNewsletterIf(context.Background(), id,
		newsletter.NewsletterCond{Statuses: []string{from}},
		map[string]interface{}{"status": model.NewsletterSending},
	)
	require.NoError(t, err)
	require.True(t, ok)
}

func (e *testEnv) sends(t *testing.T, id uint) []model.NewsletterSend {
	t.Helper()
	sends, err := e.store.ListSends(context.Background(), id)
	require.NoError(t, err)
	return sends
}

func (e *testEnv) sendOf(t *testing.T, id, subscriberID uint) model.NewsletterSend {
	t.Helper()
	for _, s := range e.sends(t, id) {
		if s.SubscriberID == subscriberID {
			return s
		}
	}
	t.Fatalf("нет отправки рассылки %d подписчику %d", id, subscriberID)
	return model.NewsletterSend{}
}

func TestCreateNewsletter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	n := env.draft(t)
	assert.Equal(t, model.NewsletterDraft, n.Status)
	assert.Equal(t, author.UserID, n.AuthorID)
	assert.Equal(t, "<p>Привет!</p>", n.Summary)

	_, err := env.manager.CreateNewsletter(ctx, newsletter.Caller{}, newsletter.CreateInput{Title: "a", Subject: "b", Content: "c"})
	assert.True(t, newsletter.IsType(err, newsletter.ErrorForbidden))

	_, err = env.manager.CreateNewsletter(ctx, author, newsletter.CreateInput{Subject: "b", Content: "c"})
	require.Error(t, err)
	var nerr *newsletter.Error
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, newsletter.ErrorValidation, nerr.Type)
	assert.Equal(t, "title", nerr.Field)

	missing := uint(99)
	_, err = env.manager.CreateNewsletter(ctx, author, newsletter.CreateInput{Title: "a", Subject: "b", Content: "c", TemplateID: &missing})
	assert.True(t, newsletter.IsType(err, newsletter.ErrorNotFound))
}

func TestNewsletterAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.draft(t)

	_, err := env.manager.GetNewsletter(ctx, newsletter.Caller{UserID: 8}, n.ID)
	assert.True(t, newsletter.IsType(err, newsletter.ErrorForbidden))

	got, err := env.manager.GetNewsletter(ctx, staff, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)

	_, err = env.manager.GetNewsletter(ctx, staff, 404)
	assert.True(t, newsletter.IsType(err, newsletter.ErrorNotFound))
}

func TestUpdateNewsletter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.draft(t)

	title := "Новый заголовок"
	content := "Другое содержимое"
	updated, err := env.manager.UpdateNewsletter(ctx, author, n.ID, newsletter.UpdateInput{Title: &title, Content: &content})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, content, updated.Summary)

	status := model.NewsletterSent
	_, err = env.manager.UpdateNewsletter(ctx, author, n.ID, newsletter.UpdateInput{Status: &status})
	assert.True(t, newsletter.IsType(err, newsletter.ErrorValidation))
}

func TestRequestSendSkipsInactiveSubscribers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subs := env.subscribe(t, "a@example.com", "b@example.com", "c@example.com", "d@example.com")
	_, err := env.manager.Unsubscribe(ctx, staff, subs[3].ID)
	require.NoError(t, err)

	n := env.draft(t)
	taskID, err := env.manager.RequestSend(ctx, author, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "task-1", taskID)
	assert.Equal(t, []string{fmt.Sprintf("send_newsletter:%d", n.ID)}, env.tasks.submitted)

	got, err := env.manager.GetNewsletter(ctx, author, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NewsletterSent, got.Status)
	assert.NotNil(t, got.SentAt)
	assert.Equal(t, 3, got.TotalRecipients)
	assert.Equal(t, 3, got.TotalSent)

	sends := env.sends(t, n.ID)
	require.Len(t, sends, 3)
	for _, s := range sends {
		assert.Equal(t, model.SendSent, s.Status)
		assert.NotEqual(t, subs[3].ID, s.SubscriberID)
		require.NotNil(t, s.TrackingID)
		assert.Equal(t, "OK", s.ProviderResponse)
	}
	assert.Equal(t, 3, env.mailer.count())

	require.Len(t, env.notifier.results, 1)
	assert.Equal(t, 3, env.notifier.results[0].Sent)
	require.Len(t, env.exporter.exported, 1)
	assert.Equal(t, 3, env.exporter.exported[0].TotalSent)

	sub, err := env.store.GetSubscriber(ctx, subs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.TotalEmailsReceived)
	assert.NotNil(t, sub.LastEmailSent)
}

func TestMessageHeadersAndLinks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subs := env.subscribe(t, "a@example.com")
	n := env.draft(t)

	_, err := env.manager.RequestSend(ctx, author, n.ID)
	require.NoError(t, err)

	require.Equal(t, 1, env.mailer.count())
	msg := env.mailer.sent[0]
	sends := env.sends(t, n.ID)
	require.Len(t, sends, 1)

	assert.Equal(t, "news@example.com", msg.From)
	assert.Equal(t, "Новости недели", msg.Subject)
	assert.Equal(t, fmt.Sprint(n.ID), msg.Headers[newsletter.HeaderNewsletterID])
	assert.Equal(t, fmt.Sprint(subs[0].ID), msg.Headers[newsletter.HeaderSubscriberID])
	assert.Equal(t, *sends[0].TrackingID, msg.Headers[newsletter.HeaderTrackingID])
	assert.Equal(t, "Привет!", msg.Text)
	assert.Equal(t, "msg-a@example.com", sends[0].MessageID)
}

func TestSendBulkPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subscribe(t, "a@example.com", "b@example.com", "c@example.com")
	env.mailer.fail["b@example.com"] = true

	n := env.draft(t)
	env.sending(t, n.ID, model.NewsletterDraft)

	res, err := env.manager.SendBulk(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Recipients)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "b@example.com")

	got, err := env.store.GetNewsletter(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NewsletterSent, got.Status)
	assert.Equal(t, 2, got.TotalSent)

	statuses := map[string]int{}
	for _, s := range env.sends(t, n.ID) {
		statuses[s.Status]++
	}
	assert.Equal(t, map[string]int{model.SendSent: 2, model.SendBounced: 1}, statuses)

	a, err := env.manager.GetAnalytics(ctx, author, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalSent)
	assert.Equal(t, 1, a.TotalBounced)
}

func TestSendBulkTwiceCreatesNoDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subscribe(t, "a@example.com", "b@example.com", "c@example.com")
	n := env.draft(t)

	env.sending(t, n.ID, model.NewsletterDraft)
	_, err := env.manager.SendBulk(ctx, n.ID)
	require.NoError(t, err)

	env.sending(t, n.ID, model.NewsletterSent)
	res, err := env.manager.SendBulk(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 3, res.Skipped)

	assert.Len(t, env.sends(t, n.ID), 3)
	assert.Equal(t, 3, env.mailer.count())
}

func TestSendBulkRequiresSendingStatus(t *testing.T) {
	env := newTestEnv(t)
	n := env.draft(t)

	_, err := env.manager.SendBulk(context.Background(), n.ID)
	assert.True(t, newsletter.IsType(err, newsletter.ErrorInvalidTransition))
	assert.Equal(t, 0, env.mailer.count())
}

func TestSentNewsletterIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subscribe(t, "a@example.com")
	n := env.draft(t)
	_, err := env.manager.RequestSend(ctx, author, n.ID)
	require.NoError(t, err)

	draft := model.NewsletterDraft
	_, err = env.manager.UpdateNewsletter(ctx, author, n.ID, newsletter.UpdateInput{Status: &draft})
	assert.True(t, newsletter.IsType(err, newsletter.ErrorValidation))

	title := "поздно"
	_, err = env.manager.UpdateNewsletter(ctx, author, n.ID, newsletter.UpdateInput{Title: &title})
	assert.True(t, newsletter.IsType(err, newsletter.ErrorInvalidTransition))

	_, err = env.manager.Cancel(ctx, author, n.ID)
	assert.True(t, newsletter.IsType(err, newsletter.ErrorInvalidTransition))

	_, err = env.manager.RequestSend(ctx, author, n.ID)
	assert.True(t, newsletter.IsType(err, newsletter.ErrorInvalidTransition))

	at := env.now.Add(time.Hour)
	_, err = env.manager.Schedule(ctx, author, n.ID, &at)
	assert.True(t, newsletter.IsType(err, newsletter.ErrorInvalidTransition))

	got, err := env.store.GetNewsletter(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NewsletterSent, got.Status)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.draft(t)

	got, err := env.manager.Cancel(ctx, author, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NewsletterCancelled, got.Status)

	_, err = env.manager.RequestSend(ctx, author, n.ID)
	assert.True(t, newsletter.IsType(err, newsletter.ErrorInvalidTransition))
}

func TestScheduleAndTriggerDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subscribe(t, "a@example.com", "b@example.com")
	n := env.draft(t)

	past := env.now.Add(-time.Minute)
	_, err := env.manager.Schedule(ctx, author, n.ID, &past)
	assert.True(t, newsletter.IsType(err, newsletter.ErrorValidation))
	_, err = env.manager.Schedule(ctx, author, n.ID, nil)
	assert.True(t, newsletter.IsType(err, newsletter.ErrorValidation))

	at := env.now.Add(time.Hour)
	got, err := env.manager.Schedule(ctx, author, n.ID, &at)
	require.NoError(t, err)
	assert.Equal(t, model.NewsletterScheduled, got.Status)
	require.NotNil(t, got.ScheduledAt)
	assert.True(t, at.Equal(*got.ScheduledAt))
	assert.Equal(t, at, env.tasks.delayed[fmt.Sprintf("scheduled_newsletter:%d", n.ID)])

	started, err := env.manager.TriggerDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, started)

	env.now = env.now.Add(2 * time.Hour)
	started, err = env.manager.TriggerDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, started)

	got, err = env.store.GetNewsletter(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NewsletterSent, got.Status)
	assert.Equal(t, 2, env.mailer.count())

	started, err = env.manager.TriggerDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, started)
	assert.Equal(t, 2, env.mailer.count())
}

func TestUpdateMetricsIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subscribe(t, "a@example.com", "b@example.com", "c@example.com")
	n := env.draft(t)
	_, err := env.manager.RequestSend(ctx, author, n.ID)
	require.NoError(t, err)

	first, err := env.manager.UpdateMetrics(ctx, n.ID)
	require.NoError(t, err)
	second, err := env.manager.UpdateMetrics(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	recomputed, err := env.manager.RecomputeAnalytics(ctx, author, n.ID)
	require.NoError(t, err)
	assert.Equal(t, first, recomputed)
}

func TestAnalyticsWithoutSends(t *testing.T) {
	env := newTestEnv(t)
	n := env.draft(t)

	a, err := env.manager.GetAnalytics(context.Background(), author, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, a.TotalSent)
	assert.Zero(t, a.DeliveryRate)
	assert.Zero(t, a.OpenRate)
	assert.Zero(t, a.ClickRate)
	assert.Zero(t, a.UnsubscribeRate)
	assert.Nil(t, a.AverageTimeToOpen)
}

func TestTrackingOpenThenClick(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subs := env.subscribe(t, "a@example.com", "b@example.com", "c@example.com")
	n := env.draft(t)
	_, err := env.manager.RequestSend(ctx, author, n.ID)
	require.NoError(t, err)

	before, err := env.manager.GetAnalytics(ctx, author, n.ID)
	require.NoError(t, err)
	assert.Zero(t, before.TotalOpened)

	token := *env.sendOf(t, n.ID, subs[0].ID).TrackingID

	env.now = env.now.Add(2 * time.Hour)
	send, err := env.manager.TrackOpen(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.SendOpened, send.Status)

	send, err = env.manager.TrackClick(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.SendClicked, send.Status)

	send, err = env.manager.TrackOpen(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.SendClicked, send.Status)
	assert.Equal(t, 2, send.OpenCount)
	assert.Equal(t, 1, send.ClickCount)

	got, err := env.store.GetNewsletter(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalOpened)
	assert.Equal(t, 1, got.TotalClicked)
	assert.Equal(t, 33.33, got.OpenRate)
	assert.Equal(t, 33.33, got.ClickRate)

	a, err := env.manager.GetAnalytics(ctx, author, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, a.TotalOpened)
	assert.Equal(t, 1, a.TotalClicked)
	require.NotNil(t, a.AverageTimeToOpen)
	assert.Equal(t, 2.0, *a.AverageTimeToOpen)

	sub, err := env.store.GetSubscriber(ctx, subs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.TotalEmailsOpened)
	assert.Equal(t, 1, sub.TotalEmailsClicked)

	_, err = env.manager.TrackOpen(ctx, "unknown")
	assert.True(t, newsletter.IsType(err, newsletter.ErrorNotFound))
}

func TestHandleProviderEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subs := env.subscribe(t, "a@example.com", "b@example.com")
	n := env.draft(t)
	_, err := env.manager.RequestSend(ctx, author, n.ID)
	require.NoError(t, err)

	delivered := env.now.Add(time.Minute)
	require.NoError(t, env.manager.HandleProviderEvent(ctx, newsletter.ProviderEvent{
		Type: newsletter.EventDelivery, MessageID: "msg-a@example.com", Timestamp: delivered,
	}))
	require.NoError(t, env.manager.HandleProviderEvent(ctx, newsletter.ProviderEvent{
		Type: newsletter.EventBounce, MessageID: "msg-a@example.com", Reason: "late bounce",
	}))
	require.NoError(t, env.manager.HandleProviderEvent(ctx, newsletter.ProviderEvent{
		Type: newsletter.EventComplaint, MessageID: "msg-b@example.com", Reason: "abuse",
	}))
	require.NoError(t, env.manager.HandleProviderEvent(ctx, newsletter.ProviderEvent{
		Type: "Reject", MessageID: "msg-b@example.com",
	}))

	first := env.sendOf(t, n.ID, subs[0].ID)
	assert.Equal(t, model.SendDelivered, first.Status)
	require.NotNil(t, first.DeliveredAt)
	assert.True(t, delivered.Equal(*first.DeliveredAt))
	second := env.sendOf(t, n.ID, subs[1].ID)
	assert.Equal(t, model.SendUnsubscribed, second.Status)
	assert.Equal(t, "abuse", second.ProviderResponse)

	sub, err := env.store.GetSubscriber(ctx, subs[1].ID)
	require.NoError(t, err)
	assert.False(t, sub.IsActive)
	assert.NotNil(t, sub.UnsubscribedAt)

	got, err := env.store.GetNewsletter(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalSent)
	assert.Equal(t, 1, got.TotalDelivered)

	err = env.manager.HandleProviderEvent(ctx, newsletter.ProviderEvent{Type: newsletter.EventDelivery, MessageID: "missing"})
	assert.True(t, newsletter.IsType(err, newsletter.ErrorNotFound))
	err = env.manager.HandleProviderEvent(ctx, newsletter.ProviderEvent{Type: newsletter.EventDelivery})
	assert.True(t, newsletter.IsType(err, newsletter.ErrorValidation))
}

func TestCleanupSends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subscribe(t, "a@example.com", "b@example.com")
	n := env.draft(t)
	_, err := env.manager.RequestSend(ctx, author, n.ID)
	require.NoError(t, err)

	deleted, err := env.manager.CleanupSends(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	env.now = env.now.AddDate(0, 0, 91)
	deleted, err = env.manager.CleanupSends(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Empty(t, env.sends(t, n.ID))
}

func TestNewsletterStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subs := env.subscribe(t, "a@example.com", "b@example.com")

	sent := env.draft(t)
	_, err := env.manager.RequestSend(ctx, author, sent.ID)
	require.NoError(t, err)
	_, err = env.manager.TrackOpen(ctx, *env.sendOf(t, sent.ID, subs[0].ID).TrackingID)
	require.NoError(t, err)
	draft := env.draft(t)

	_, err = env.manager.CreateNewsletter(ctx, newsletter.Caller{UserID: 9}, newsletter.CreateInput{Title: "a", Subject: "b", Content: "c"})
	require.NoError(t, err)

	own, err := env.manager.NewsletterStats(ctx, author, "")
	require.NoError(t, err)
	assert.Equal(t, "30d", own.Period)
	assert.Equal(t, env.now, own.EndDate)
	assert.Equal(t, env.now.Add(-30*24*time.Hour), own.StartDate)
	assert.Equal(t, 2, own.Total)
	assert.Equal(t, 1, own.ByStatus[model.NewsletterSent])
	assert.Equal(t, 1, own.ByStatus[model.NewsletterDraft])
	assert.Equal(t, 1, own.TotalDraft)
	assert.Zero(t, own.TotalScheduled)
	assert.Equal(t, int64(2), own.SubscriberGrowth)

	// одно из двух писем открыто, доставка подтверждена только открытием
	assert.Equal(t, 2, own.TotalSent)
	assert.Equal(t, 1, own.TotalDelivered)
	assert.Equal(t, 1, own.TotalOpened)
	assert.Equal(t, 1, own.TotalBounces)
	assert.Equal(t, 50.0, own.DeliveryRate)
	assert.Equal(t, 50.0, own.BounceRate)
	assert.Equal(t, 100.0, own.OpenRate)
	assert.Zero(t, own.ClickRate)
	assert.Equal(t, 50.0, own.AvgOpenRate)
	assert.Zero(t, own.OpenRateChange)
	assert.Equal(t, newsletter.EngagementTrends{High: 1}, own.EngagementTrends)

	require.Len(t, own.TimeSeries, 31)
	today := own.TimeSeries[len(own.TimeSeries)-1]
	assert.Equal(t, env.now.Format(time.DateOnly), today.Date)
	assert.Equal(t, newsletter.DailyStats{Date: today.Date, Newsletters: 2, Sent: 1, Opens: 1}, today)

	require.Len(t, own.TopPerforming, 1)
	assert.Equal(t, sent.ID, own.TopPerforming[0].ID)
	require.Len(t, own.Recent, 2)
	assert.ElementsMatch(t, []uint{sent.ID, draft.ID}, []uint{own.Recent[0].ID, own.Recent[1].ID})

	all, err := env.manager.NewsletterStats(ctx, staff, "7d")
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Len(t, all.TimeSeries, 8)

	_, err = env.manager.NewsletterStats(ctx, staff, "2w")
	assert.True(t, newsletter.IsType(err, newsletter.ErrorValidation))
	_, err = env.manager.NewsletterStats(ctx, newsletter.Caller{}, "7d")
	assert.True(t, newsletter.IsType(err, newsletter.ErrorForbidden))
}

// listStore отдает заранее подготовленный список рассылок
type listStore struct {
	*memstore.Store
	list []model.Newsletter
}

func (s *listStore) ListNewsletters(_ context.Context, since time.Time, authorID uint) ([]model.Newsletter, error) {
	var out []model.Newsletter
	for _, n := range s.list {
		if n.CreatedAt.Before(since) || (authorID != 0 && n.AuthorID != authorID) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func TestNewsletterStatsTrends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.now
	day := 24 * time.Hour
	sentAt := func(id uint, created time.Time, openRate, clickRate float64, total, delivered, opened, clicked int) model.Newsletter {
		return model.Newsletter{
			ID: id, AuthorID: author.UserID, Status: model.NewsletterSent, CreatedAt: created,
			OpenRate: openRate, ClickRate: clickRate,
			TotalSent: total, TotalDelivered: delivered, TotalOpened: opened, TotalClicked: clicked,
		}
	}
	store := &listStore{Store: env.store, list: []model.Newsletter{
		sentAt(1, now.Add(-45*day), 20, 2, 10, 10, 2, 0),
		sentAt(2, now.Add(-2*day), 30, 5, 10, 8, 3, 1),
		sentAt(3, now.Add(-day), 15, 1, 10, 10, 2, 0),
		sentAt(4, now.Add(-day), 5, 0, 10, 9, 1, 0),
		{ID: 5, AuthorID: author.UserID, Status: model.NewsletterDraft, CreatedAt: now},
		{ID: 6, AuthorID: author.UserID, Status: model.NewsletterScheduled, CreatedAt: now.Add(-3 * day)},
	}}
	m := env.newManager(store)

	stats, err := m.NewsletterStats(ctx, author, "30d")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 1, stats.TotalDraft)
	assert.Equal(t, 1, stats.TotalScheduled)
	assert.Equal(t, 30, stats.TotalSent)
	assert.Equal(t, 27, stats.TotalDelivered)
	assert.Equal(t, 3, stats.TotalBounces)
	assert.Equal(t, 90.0, stats.DeliveryRate)
	assert.Equal(t, 10.0, stats.BounceRate)
	assert.Equal(t, 22.22, stats.OpenRate)
	assert.Equal(t, 3.7, stats.ClickRate)
	assert.Equal(t, 16.67, stats.AvgOpenRate)
	assert.Equal(t, 2.0, stats.AvgClickRate)
	assert.Equal(t, -16.67, stats.OpenRateChange)
	assert.Equal(t, newsletter.EngagementTrends{High: 1, Medium: 1, Low: 1}, stats.EngagementTrends)

	require.Len(t, stats.TopPerforming, 3)
	assert.Equal(t, []uint{2, 3, 4}, []uint{stats.TopPerforming[0].ID, stats.TopPerforming[1].ID, stats.TopPerforming[2].ID})
	require.Len(t, stats.Recent, 5)
	assert.Equal(t, uint(5), stats.Recent[0].ID)

	yesterday := now.Add(-day).Format(time.DateOnly)
	var found bool
	for _, ds := range stats.TimeSeries {
		if ds.Date == yesterday {
			found = true
			assert.Equal(t, newsletter.DailyStats{Date: yesterday, Newsletters: 2, Sent: 2, Opens: 3}, ds)
		}
	}
	assert.True(t, found)

	week, err := m.NewsletterStats(ctx, author, "7d")
	require.NoError(t, err)
	assert.Equal(t, 5, week.Total)
	assert.Zero(t, week.OpenRateChange)
}

func TestCreateTemplateAndRender(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.CreateTemplate(ctx, author, newsletter.TemplateInput{Name: "t", SubjectTemplate: "s", HTMLTemplate: "h"})
	assert.True(t, newsletter.IsType(err, newsletter.ErrorForbidden))

	tpl, err := env.manager.CreateTemplate(ctx, staff, newsletter.TemplateInput{
		Name:            "Основной",
		SubjectTemplate: "{{ subject }}",
		HTMLTemplate:    "<h1>{{ title }}</h1>{{ content }}<a href=\"{{ unsubscribe_url }}\">x</a>",
	})
	require.NoError(t, err)
	assert.True(t, tpl.IsActive)

	subs := env.subscribe(t, "a@example.com")
	n, err := env.manager.CreateNewsletter(ctx, author, newsletter.CreateInput{
		Title: "Заголовок", Subject: "Тема", Content: "<p>Текст</p>", TemplateID: &tpl.ID,
	})
	require.NoError(t, err)
	_, err = env.manager.RequestSend(ctx, author, n.ID)
	require.NoError(t, err)

	require.Equal(t, 1, env.mailer.count())
	msg := env.mailer.sent[0]
	assert.Equal(t, fmt.Sprintf("<h1>Заголовок</h1><p>Текст</p><a href=\"https://example.com/newsletters/unsubscribe/%d/\">x</a>", subs[0].ID), msg.HTML)
	assert.Equal(t, "ЗаголовокТекстx", msg.Text)
}
