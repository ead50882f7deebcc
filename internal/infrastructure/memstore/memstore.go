package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"newsletterapp/internal/model"
	"newsletterapp/internal/newsletter"
)

// Store хранилище в памяти процесса. Все операции выполняются под одной блокировкой,
// поэтому условные обновления атомарны так же, как в БД
type Store struct {
	mu sync.Mutex

	subscribers map[uint]*model.Subscriber
	templates   map[uint]*model.NewsletterTemplate
	newsletters map[uint]*model.Newsletter
	sends       map[uint]*model.NewsletterSend
	analytics   map[uint]*model.NewsletterAnalytics // по newsletter_id

	nextID map[string]uint
	now    func() time.Time
}

var _ newsletter.Store = (*Store)(nil)

// New создает пустое хранилище
func New() *Store {
	return &Store{
		subscribers: make(map[uint]*model.Subscriber),
		templates:   make(map[uint]*model.NewsletterTemplate),
		newsletters: make(map[uint]*model.Newsletter),
		sends:       make(map[uint]*model.NewsletterSend),
		analytics:   make(map[uint]*model.NewsletterAnalytics),
		nextID:      make(map[string]uint),
		now:         time.Now,
	}
}

func (s *Store) id(table string) uint {
	s.nextID[table]++
	return s.nextID[table]
}

func timeValue(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		if t == nil {
			return nil
		}
		c := *t
		return &c
	default:
		return nil
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ===== Подписчики =====

func (s *Store) CreateSubscriber(_ context.Context, sub *model.Subscriber) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscribers {
		if existing.Email == sub.Email {
			return false, nil
		}
	}
	sub.ID = s.id("subscribers")
	sub.CreatedAt, sub.UpdatedAt = s.now(), s.now()
	c := *sub
	s.subscribers[sub.ID] = &c
	return true, nil
}

func (s *Store) GetSubscriber(_ context.Context, id uint) (*model.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscribers[id]
	if !ok {
		return nil, newsletter.ErrNotFound
	}
	c := *sub
	return &c, nil
}

func (s *Store) GetSubscriberByEmail(_ context.Context, email string) (*model.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscribers {
		if sub.Email == email {
			c := *sub
			return &c, nil
		}
	}
	return nil, newsletter.ErrNotFound
}

func (s *Store) UpdateSubscriber(_ context.Context, id uint, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscribers[id]
	if !ok {
		return newsletter.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "first_name":
			sub.FirstName = v.(string)
		case "last_name":
			sub.LastName = v.(string)
		case "source":
			sub.Source = v.(string)
		case "frequency":
			sub.Frequency = v.(string)
		case "is_active":
			sub.IsActive = v.(bool)
		case "unsubscribed_at":
			sub.UnsubscribedAt = timeValue(v)
		default:
			return fmt.Errorf("неизвестное поле подписчика: %s", k)
		}
	}
	sub.UpdatedAt = s.now()
	return nil
}

func (s *Store) ActiveSubscribers(_ context.Context) ([]model.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Subscriber
	for _, sub := range s.subscribers {
		if sub.IsActive {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ActiveEmails(_ context.Context, emails []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, sub := range s.subscribers {
		if sub.IsActive && contains(emails, sub.Email) {
			out = append(out, sub.Email)
		}
	}
	return out, nil
}

func (s *Store) ImportSubscribers(_ context.Context, subs []model.Subscriber) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := make(map[string]struct{}, len(s.subscribers))
	for _, sub := range s.subscribers {
		taken[sub.Email] = struct{}{}
	}

	imported := 0
	for i := range subs {
		if _, ok := taken[subs[i].Email]; ok {
			continue
		}
		c := subs[i]
		c.ID = s.id("subscribers")
		c.CreatedAt, c.UpdatedAt = s.now(), s.now()
		s.subscribers[c.ID] = &c
		taken[c.Email] = struct{}{}
		imported++
	}
	return imported, nil
}

func (s *Store) IncrementSubscriberCounters(_ context.Context, id uint, received, opened, clicked int, lastSent, lastOpened *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscribers[id]
	if !ok {
		return newsletter.ErrNotFound
	}
	sub.TotalEmailsReceived += received
	sub.TotalEmailsOpened += opened
	sub.TotalEmailsClicked += clicked
	if lastSent != nil {
		sub.LastEmailSent = timeValue(lastSent)
	}
	if lastOpened != nil {
		sub.LastEmailOpened = timeValue(lastOpened)
	}
	return nil
}

func (s *Store) CountSubscribers(_ context.Context, f newsletter.SubscriberFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, sub := range s.subscribers {
		if f.Active != nil && sub.IsActive != *f.Active {
			continue
		}
		if f.SubscribedAfter != nil && !sub.SubscribedAt.After(*f.SubscribedAfter) {
			continue
		}
		if f.UnsubscribedAfter != nil && (sub.UnsubscribedAt == nil || !sub.UnsubscribedAt.After(*f.UnsubscribedAfter)) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *Store) SubscriberDistribution(_ context.Context, column string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64)
	for _, sub := range s.subscribers {
		if !sub.IsActive {
			continue
		}
		switch column {
		case "frequency":
			out[sub.Frequency]++
		case "source":
			out[sub.Source]++
		default:
			return nil, fmt.Errorf("неизвестная колонка распределения: %s", column)
		}
	}
	return out, nil
}

// ===== Шаблоны =====

func (s *Store) CreateTemplate(_ context.Context, t *model.NewsletterTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ID = s.id("templates")
	t.CreatedAt, t.UpdatedAt = s.now(), s.now()
	c := *t
	s.templates[t.ID] = &c
	return nil
}

func (s *Store) GetTemplate(_ context.Context, id uint) (*model.NewsletterTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, newsletter.ErrNotFound
	}
	c := *t
	return &c, nil
}

// ===== Рассылки =====

func (s *Store) CreateNewsletter(_ context.Context, n *model.Newsletter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = s.id("newsletters")
	n.CreatedAt, n.UpdatedAt = s.now(), s.now()
	c := *n
	s.newsletters[n.ID] = &c
	return nil
}

func (s *Store) GetNewsletter(_ context.Context, id uint) (*model.Newsletter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.newsletters[id]
	if !ok {
		return nil, newsletter.ErrNotFound
	}
	c := *n
	return &c, nil
}

func (s *Store) UpdateNewsletterIf(_ context.Context, id uint, cond newsletter.NewsletterCond, fields map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.newsletters[id]
	if !ok {
		return false, nil
	}
	if len(cond.Statuses) > 0 && !contains(cond.Statuses, n.Status) {
		return false, nil
	}
	if cond.DueBy != nil && (n.ScheduledAt == nil || n.ScheduledAt.After(*cond.DueBy)) {
		return false, nil
	}
	if cond.UpdatedBy != nil && n.UpdatedAt.After(*cond.UpdatedBy) {
		return false, nil
	}

	c := *n
	c.UpdatedAt = s.now()
	for k, v := range fields {
		switch k {
		case "title":
			c.Title = v.(string)
		case "subject":
			c.Subject = v.(string)
		case "content":
			c.Content = v.(string)
		case "html_content":
			c.HTMLContent = v.(string)
		case "summary":
			c.Summary = v.(string)
		case "status":
			c.Status = v.(string)
		case "template_id":
			id := v.(uint)
			c.TemplateID = &id
		case "scheduled_at":
			c.ScheduledAt = timeValue(v)
		case "sent_at":
			c.SentAt = timeValue(v)
		case "total_recipients":
			c.TotalRecipients = v.(int)
		case "updated_at":
			if t := timeValue(v); t != nil {
				c.UpdatedAt = *t
			}
		default:
			return false, fmt.Errorf("неизвестное поле рассылки: %s", k)
		}
	}
	s.newsletters[id] = &c
	return true, nil
}

func (s *Store) DueNewsletters(_ context.Context, now time.Time) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint
	for id, n := range s.newsletters {
		if n.Status == model.NewsletterScheduled && n.ScheduledAt != nil && !n.ScheduledAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) StaleSending(_ context.Context, before time.Time) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint
	for id, n := range s.newsletters {
		if n.Status == model.NewsletterSending && !n.UpdatedAt.After(before) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) ListNewsletters(_ context.Context, since time.Time, authorID uint) ([]model.Newsletter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Newsletter
	for _, n := range s.newsletters {
		if n.CreatedAt.Before(since) {
			continue
		}
		if authorID != 0 && n.AuthorID != authorID {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RefreshRollups(_ context.Context, newsletterID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.newsletters[newsletterID]
	if !ok {
		return newsletter.ErrNotFound
	}
	r := newsletter.ComputeRollup(s.sendsOf(newsletterID))
	n.TotalSent = r.Sent
	n.TotalDelivered = r.Delivered
	n.TotalOpened = r.Opened
	n.TotalClicked = r.Clicked
	n.OpenRate = r.OpenRate
	n.ClickRate = r.ClickRate
	n.UpdatedAt = s.now()
	return nil
}

// ===== Отправки =====

func (s *Store) sendsOf(newsletterID uint) []model.NewsletterSend {
	var out []model.NewsletterSend
	for _, send := range s.sends {
		if send.NewsletterID == newsletterID {
			out = append(out, *send)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetOrCreateSend(_ context.Context, newsletterID, subscriberID uint) (*model.NewsletterSend, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, send := range s.sends {
		if send.NewsletterID == newsletterID && send.SubscriberID == subscriberID {
			c := *send
			return &c, false, nil
		}
	}
	send := &model.NewsletterSend{
		ID:           s.id("sends"),
		NewsletterID: newsletterID,
		SubscriberID: subscriberID,
		Status:       model.SendPending,
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}
	s.sends[send.ID] = send
	c := *send
	return &c, true, nil
}

func (s *Store) ClaimSend(_ context.Context, sendID uint, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.sends[sendID]
	if !ok || send.Status != model.SendPending || send.TrackingID != nil {
		return false, nil
	}
	for _, other := range s.sends {
		if other.TrackingID != nil && *other.TrackingID == token {
			return false, fmt.Errorf("токен трекинга %s уже используется", token)
		}
	}
	send.TrackingID = &token
	send.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) UpdateSendIf(_ context.Context, sendID uint, statuses []string, fields map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.sends[sendID]
	if !ok || (len(statuses) > 0 && !contains(statuses, send.Status)) {
		return false, nil
	}
	c := *send
	for k, v := range fields {
		switch k {
		case "status":
			c.Status = v.(string)
		case "sent_at":
			c.SentAt = timeValue(v)
		case "delivered_at":
			c.DeliveredAt = timeValue(v)
		case "message_id":
			c.MessageID = v.(string)
		case "provider_response":
			c.ProviderResponse = v.(string)
		default:
			return false, fmt.Errorf("неизвестное поле отправки: %s", k)
		}
	}
	c.UpdatedAt = s.now()
	s.sends[sendID] = &c
	return true, nil
}

func (s *Store) GetSend(_ context.Context, id uint) (*model.NewsletterSend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.sends[id]
	if !ok {
		return nil, newsletter.ErrNotFound
	}
	c := *send
	return &c, nil
}

func (s *Store) GetSendByToken(_ context.Context, token string) (*model.NewsletterSend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, send := range s.sends {
		if send.TrackingID != nil && *send.TrackingID == token {
			c := *send
			return &c, nil
		}
	}
	return nil, newsletter.ErrNotFound
}

func (s *Store) GetSendByMessageID(_ context.Context, messageID string) (*model.NewsletterSend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, send := range s.sends {
		if send.MessageID == messageID {
			c := *send
			return &c, nil
		}
	}
	return nil, newsletter.ErrNotFound
}

func (s *Store) ApplySendEvent(_ context.Context, sendID uint, fn func(*model.NewsletterSend) (bool, error)) (*model.NewsletterSend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.sends[sendID]
	if !ok {
		return nil, newsletter.ErrNotFound
	}
	c := *send
	changed, err := fn(&c)
	if err != nil {
		return nil, err
	}
	if changed {
		c.UpdatedAt = s.now()
		s.sends[sendID] = &c
	}
	out := *s.sends[sendID]
	return &out, nil
}

func (s *Store) ListSends(_ context.Context, newsletterID uint) ([]model.NewsletterSend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendsOf(newsletterID), nil
}

func (s *Store) DeleteSendsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, send := range s.sends {
		if send.SentAt != nil && send.SentAt.Before(cutoff) {
			delete(s.sends, id)
			deleted++
		}
	}
	return deleted, nil
}

// ===== Аналитика =====

func (s *Store) SaveAnalytics(_ context.Context, a *model.NewsletterAnalytics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.analytics[a.NewsletterID]; ok {
		a.ID = existing.ID
	} else {
		a.ID = s.id("analytics")
	}
	c := *a
	s.analytics[a.NewsletterID] = &c
	return nil
}
