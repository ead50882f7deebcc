package model

import (
	"strings"
	"time"
)

// Статусы рассылки
const (
	NewsletterDraft     = "draft"
	NewsletterScheduled = "scheduled"
	NewsletterSending   = "sending"
	NewsletterSent      = "sent"
	NewsletterCancelled = "cancelled"
)

// Статусы отправки одному подписчику
const (
	SendPending      = "pending"
	SendSent         = "sent"
	SendDelivered    = "delivered"
	SendOpened       = "opened"
	SendClicked      = "clicked"
	SendBounced      = "bounced"
	SendUnsubscribed = "unsubscribed"
)

// Частота получения рассылки
const (
	FrequencyWeekly   = "weekly"
	FrequencyBiweekly = "biweekly"
	FrequencyMonthly  = "monthly"
)

// SuccessfulSendStatuses статусы, при которых письмо считается отправленным
var SuccessfulSendStatuses = []string{SendSent, SendDelivered, SendOpened, SendClicked, SendUnsubscribed}

// Subscriber подписчик рассылки. Никогда не удаляется, только деактивируется
type Subscriber struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Email          string     `gorm:"column:email;size:254;not null;uniqueIndex" json:"email"`
	FirstName      string     `gorm:"column:first_name;size:100" json:"first_name"`
	LastName       string     `gorm:"column:last_name;size:100" json:"last_name"`
	IsActive       bool       `gorm:"column:is_active;not null;index" json:"is_active"`
	SubscribedAt   time.Time  `gorm:"column:subscribed_at;not null" json:"subscribed_at"`
	UnsubscribedAt *time.Time `gorm:"column:unsubscribed_at" json:"unsubscribed_at"`
	Source         string     `gorm:"column:source;size:100" json:"source"`
	Frequency      string     `gorm:"column:frequency;size:20;not null" json:"frequency"`

	TotalEmailsReceived int        `gorm:"column:total_emails_received;not null" json:"total_emails_received"`
	TotalEmailsOpened   int        `gorm:"column:total_emails_opened;not null" json:"total_emails_opened"`
	TotalEmailsClicked  int        `gorm:"column:total_emails_clicked;not null" json:"total_emails_clicked"`
	LastEmailSent       *time.Time `gorm:"column:last_email_sent" json:"last_email_sent"`
	LastEmailOpened     *time.Time `gorm:"column:last_email_opened" json:"last_email_opened"`
}

// FullName имя и фамилия, если указаны оба, иначе email
func (s *Subscriber) FullName() string {
	if s.FirstName != "" && s.LastName != "" {
		return strings.TrimSpace(s.FirstName + " " + s.LastName)
	}
	return s.Email
}

// NewsletterTemplate шаблон письма. Редактируется из админки, при отправке только читается
type NewsletterTemplate struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name            string `gorm:"column:name;size:100;not null" json:"name"`
	SubjectTemplate string `gorm:"column:subject_template;size:200;not null" json:"subject_template"`
	HTMLTemplate    string `gorm:"column:html_template;type:text;not null" json:"html_template"`
	TextTemplate    string `gorm:"column:text_template;type:text" json:"text_template"`
	IsActive        bool   `gorm:"column:is_active;not null" json:"is_active"`
}

// Newsletter рассылка. Счетчики total_* и rate - кэш, пересчитываемый из таблицы отправок
type Newsletter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title       string     `gorm:"column:title;size:200;not null" json:"title"`
	Subject     string     `gorm:"column:subject;size:200;not null" json:"subject"`
	Content     string     `gorm:"column:content;type:text;not null" json:"content"`
	HTMLContent string     `gorm:"column:html_content;type:text" json:"html_content"`
	Summary     string     `gorm:"column:summary;type:text" json:"summary"`
	Status      string     `gorm:"column:status;size:20;not null;index" json:"status"`
	AuthorID    uint       `gorm:"column:author_id;not null;index" json:"author_id"`
	TemplateID  *uint      `gorm:"column:template_id" json:"template_id"`
	ScheduledAt *time.Time `gorm:"column:scheduled_at;index" json:"scheduled_at"`
	SentAt      *time.Time `gorm:"column:sent_at" json:"sent_at"`

	TotalRecipients int     `gorm:"column:total_recipients;not null" json:"total_recipients"`
	TotalSent       int     `gorm:"column:total_sent;not null" json:"total_sent"`
	TotalDelivered  int     `gorm:"column:total_delivered;not null" json:"total_delivered"`
	TotalOpened     int     `gorm:"column:total_opened;not null" json:"total_opened"`
	TotalClicked    int     `gorm:"column:total_clicked;not null" json:"total_clicked"`
	OpenRate        float64 `gorm:"column:open_rate;not null" json:"open_rate"`
	ClickRate       float64 `gorm:"column:click_rate;not null" json:"click_rate"`
}

// NewsletterSend запись об отправке рассылки одному подписчику. Одна на пару (рассылка, подписчик)
type NewsletterSend struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	NewsletterID uint   `gorm:"column:newsletter_id;not null;uniqueIndex:idx_send_pair" json:"newsletter_id"`
	SubscriberID uint   `gorm:"column:subscriber_id;not null;uniqueIndex:idx_send_pair" json:"subscriber_id"`
	Status       string `gorm:"column:status;size:20;not null;index" json:"status"`

	SentAt      *time.Time `gorm:"column:sent_at;index" json:"sent_at"`
	DeliveredAt *time.Time `gorm:"column:delivered_at" json:"delivered_at"`
	OpenedAt    *time.Time `gorm:"column:opened_at" json:"opened_at"`
	ClickedAt   *time.Time `gorm:"column:clicked_at" json:"clicked_at"`

	// Токен трекинга, он же отметка о захвате записи отправителем
	TrackingID *string `gorm:"column:tracking_id;size:64;uniqueIndex" json:"-"`
	// ID письма у почтового провайдера
	MessageID        string `gorm:"column:message_id;size:255;index" json:"message_id"`
	ProviderResponse string `gorm:"column:provider_response;type:text" json:"provider_response"`

	OpenCount  int `gorm:"column:open_count;not null" json:"open_count"`
	ClickCount int `gorm:"column:click_count;not null" json:"click_count"`
}

// NewsletterAnalytics агрегированная аналитика рассылки. Всегда вычисляется из таблицы отправок
type NewsletterAnalytics struct {
	ID           uint `gorm:"primaryKey" json:"-"`
	NewsletterID uint `gorm:"column:newsletter_id;not null;uniqueIndex" json:"newsletter_id"`

	TotalSent         int `gorm:"column:total_sent;not null" json:"total_sent"`
	TotalDelivered    int `gorm:"column:total_delivered;not null" json:"total_delivered"`
	TotalBounced      int `gorm:"column:total_bounced;not null" json:"total_bounced"`
	TotalOpened       int `gorm:"column:total_opened;not null" json:"total_opened"`
	TotalClicked      int `gorm:"column:total_clicked;not null" json:"total_clicked"`
	TotalUnsubscribed int `gorm:"column:total_unsubscribed;not null" json:"total_unsubscribed"`

	DeliveryRate    float64 `gorm:"column:delivery_rate;not null" json:"delivery_rate"`
	OpenRate        float64 `gorm:"column:open_rate;not null" json:"open_rate"`
	ClickRate       float64 `gorm:"column:click_rate;not null" json:"click_rate"`
	UnsubscribeRate float64 `gorm:"column:unsubscribe_rate;not null" json:"unsubscribe_rate"`

	FirstOpenAt       *time.Time `gorm:"column:first_open_at" json:"first_open_at"`
	LastOpenAt        *time.Time `gorm:"column:last_open_at" json:"last_open_at"`
	AverageTimeToOpen *float64   `gorm:"column:average_time_to_open" json:"average_time_to_open"` // в часах
}

// TableName имя таблицы аналитики
func (NewsletterAnalytics) TableName() string {
	return "newsletter_analytics"
}
