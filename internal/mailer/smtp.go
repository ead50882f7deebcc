package mailer

import (
	"context"
	"fmt"
	"strings"

	"newsletterapp/internal/newsletter"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// dialer часть gomail.Dialer, нужна для подмены в тестах
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTP отправка писем через SMTP-сервер
type SMTP struct {
	dialer dialer
	domain string // Домен для Message-ID
}

// NewSMTP создает отправителя. Домен Message-ID берется из адреса отправителя
func NewSMTP(host string, port int, user, password, from string) *SMTP {
	return &SMTP{
		dialer: gomail.NewDialer(host, port, user, password),
		domain: domainOf(from, host),
	}
}

func domainOf(address, fallback string) string {
	address = strings.TrimSuffix(strings.TrimSpace(address), ">")
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return fallback
}

// buildMessage собирает письмо: text/plain с альтернативой text/html и служебные заголовки
func (s *SMTP) buildMessage(msg newsletter.Message, messageID string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}
	return m
}

// Send отправляет письмо. Возвращает сгенерированный Message-ID, SMTP его не выдает
func (s *SMTP) Send(ctx context.Context, msg newsletter.Message) (string, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.domain)
	m := s.buildMessage(msg, messageID)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("ошибка SMTP: %w", err)
		}
		return messageID, nil
	}
}
