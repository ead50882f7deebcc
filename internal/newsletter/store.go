package newsletter

import (
	"context"
	"time"

	"newsletterapp/internal/model"
)

// NewsletterCond условие условного обновления рассылки.
// Обновление проходит только если статус входит в Statuses
// и (при заданном DueBy) scheduled_at <= DueBy,
// (при заданном UpdatedBy) updated_at <= UpdatedBy
type NewsletterCond struct {
	Statuses  []string
	DueBy     *time.Time
	UpdatedBy *time.Time
}

// SubscriberFilter фильтр для подсчета подписчиков. Пустые поля не учитываются
type SubscriberFilter struct {
	Active            *bool
	SubscribedAfter   *time.Time
	UnsubscribedAfter *time.Time
}

// Store хранилище подписчиков, шаблонов, рассылок, отправок и аналитики.
// Все методы возвращают ErrNotFound, если запись не найдена
type Store interface {
	// CreateSubscriber вставляет подписчика, если email еще не занят. created=false, если уже был
	CreateSubscriber(ctx context.Context, s *model.Subscriber) (created bool, err error)
	GetSubscriber(ctx context.Context, id uint) (*model.Subscriber, error)
	GetSubscriberByEmail(ctx context.Context, email string) (*model.Subscriber, error)
	UpdateSubscriber(ctx context.Context, id uint, fields map[string]interface{}) error
	ActiveSubscribers(ctx context.Context) ([]model.Subscriber, error)
	// ActiveEmails возвращает те из emails, что принадлежат активным подписчикам
	ActiveEmails(ctx context.Context, emails []string) ([]string, error)
	// ImportSubscribers вставляет подписчиков в одной транзакции, пропуская занятые email
	ImportSubscribers(ctx context.Context, subs []model.Subscriber) (int, error)
	// IncrementSubscriberCounters атомарно увеличивает счетчики писем подписчика.
	// Нулевые lastSent/lastOpened не меняют соответствующие отметки
	IncrementSubscriberCounters(ctx context.Context, id uint, received, opened, clicked int, lastSent, lastOpened *time.Time) error
	CountSubscribers(ctx context.Context, f SubscriberFilter) (int64, error)
	// SubscriberDistribution количество активных подписчиков по значениям колонки (frequency, source)
	SubscriberDistribution(ctx context.Context, column string) (map[string]int64, error)

	CreateTemplate(ctx context.Context, t *model.NewsletterTemplate) error
	GetTemplate(ctx context.Context, id uint) (*model.NewsletterTemplate, error)

	CreateNewsletter(ctx context.Context, n *model.Newsletter) error
	GetNewsletter(ctx context.Context, id uint) (*model.Newsletter, error)
	// UpdateNewsletterIf применяет fields только при выполнении cond. Возвращает, было ли обновление
	UpdateNewsletterIf(ctx context.Context, id uint, cond NewsletterCond, fields map[string]interface{}) (bool, error)
	// DueNewsletters ID запланированных рассылок с scheduled_at <= now
	DueNewsletters(ctx context.Context, now time.Time) ([]uint, error)
	// StaleSending ID рассылок в статусе sending с updated_at <= before
	StaleSending(ctx context.Context, before time.Time) ([]uint, error)
	// ListNewsletters рассылки, созданные после since. authorID = 0 - все авторы
	ListNewsletters(ctx context.Context, since time.Time, authorID uint) ([]model.Newsletter, error)
	// RefreshRollups пересчитывает total_sent/delivered/opened/clicked и rate рассылки из отправок одним запросом
	RefreshRollups(ctx context.Context, newsletterID uint) error

	// GetOrCreateSend атомарно получает или создает запись отправки для пары (рассылка, подписчик)
	GetOrCreateSend(ctx context.Context, newsletterID, subscriberID uint) (*model.NewsletterSend, bool, error)
	// ClaimSend записывает токен трекинга в pending-запись без токена. false - запись уже захвачена
	ClaimSend(ctx context.Context, sendID uint, token string) (bool, error)
	// UpdateSendIf обновляет запись отправки, если ее статус входит в statuses
	UpdateSendIf(ctx context.Context, sendID uint, statuses []string, fields map[string]interface{}) (bool, error)
	GetSend(ctx context.Context, id uint) (*model.NewsletterSend, error)
	GetSendByToken(ctx context.Context, token string) (*model.NewsletterSend, error)
	GetSendByMessageID(ctx context.Context, messageID string) (*model.NewsletterSend, error)
	// ApplySendEvent выполняет fn над заблокированной записью отправки и сохраняет ее, если fn вернула true
	ApplySendEvent(ctx context.Context, sendID uint, fn func(s *model.NewsletterSend) (bool, error)) (*model.NewsletterSend, error)
	ListSends(ctx context.Context, newsletterID uint) ([]model.NewsletterSend, error)
	// DeleteSendsBefore удаляет записи отправок с sent_at раньше cutoff
	DeleteSendsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// SaveAnalytics вставляет или заменяет аналитику рассылки по newsletter_id
	SaveAnalytics(ctx context.Context, a *model.NewsletterAnalytics) error
}
