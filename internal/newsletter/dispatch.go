package newsletter

import "context"

// Заголовки, которыми помечается каждое письмо рассылки
const (
	HeaderNewsletterID = "X-Newsletter-ID"
	HeaderSubscriberID = "X-Subscriber-ID"
	HeaderTrackingID   = "X-Tracking-ID"
)

// Message письмо одному получателю
type Message struct {
	Subject string
	Text    string
	HTML    string
	From    string
	To      string
	Headers map[string]string
}

// Mailer отправка письма. Любая ошибка считается недоставкой этому получателю.
// Возвращает ID письма у провайдера
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}
