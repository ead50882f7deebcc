package mailer

import (
	"context"

	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/newsletter"

	"github.com/google/uuid"
)

// Log пишет письма в лог вместо отправки. Для локального запуска
type Log struct{}

func (Log) Send(_ context.Context, msg newsletter.Message) (string, error) {
	id := uuid.NewString()
	logger.WithFields(map[string]interface{}{
		"to":         msg.To,
		"subject":    msg.Subject,
		"message_id": id,
		"headers":    msg.Headers,
	}).Info("Письмо не отправлено, MAIL_TRANSPORT=log")
	return id, nil
}
