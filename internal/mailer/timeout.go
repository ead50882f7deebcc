package mailer

import (
	"context"
	"fmt"
	"time"

	"newsletterapp/internal/newsletter"
)

type timeoutMailer struct {
	next    newsletter.Mailer
	timeout time.Duration
}

// WithTimeout ограничивает время отправки одного письма. Зависшая отправка
// возвращает ошибку, и рассылка переходит к следующему подписчику
func WithTimeout(next newsletter.Mailer, timeout time.Duration) newsletter.Mailer {
	if timeout <= 0 {
		return next
	}
	return &timeoutMailer{next: next, timeout: timeout}
}

type sendResult struct {
	id  string
	err error
}

func (t *timeoutMailer) Send(ctx context.Context, msg newsletter.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan sendResult, 1)
	go func() {
		id, err := t.next.Send(ctx, msg)
		done <- sendResult{id: id, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("отправка письма %s прервана: %w", msg.To, ctx.Err())
	case r := <-done:
		return r.id, r.err
	}
}
