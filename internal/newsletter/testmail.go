package newsletter

import (
	"context"
	"fmt"

	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/model"
)

const (
	testSubject       = "Тестовое письмо - платформа рассылок"
	testSubjectPrefix = "[Тест] "
	testBody          = "<h1>Тестовое письмо</h1><p>Это тестовое письмо платформы рассылок.</p><p>Если вы его получили, отправка почты настроена верно.</p>"
)

// TestInput запрос тестового письма. Без NewsletterID уходит письмо проверки настроек почты
type TestInput struct {
	Email        string `json:"email" validate:"required,email,max=254"`
	NewsletterID *uint  `json:"newsletter_id"`
}

// SendTest отправляет тестовое письмо на адрес из запроса. С рассылкой письмо собирается
// так же, как для подписчика, но без записи отправки и без счетчиков.
// Возвращает ID письма у провайдера
func (m *Manager) SendTest(ctx context.Context, caller Caller, in TestInput) (string, error) {
	if caller.UserID == 0 && !caller.IsStaff {
		return "", forbiddenError("тестовое письмо", 0)
	}
	if err := m.validateStruct(in); err != nil {
		return "", err
	}

	msg := Message{
		Subject: testSubject,
		HTML:    testBody,
		Text:    m.renderer.PlainText(testBody),
		From:    m.renderer.cfg.FromAddress,
		To:      in.Email,
	}
	if in.NewsletterID != nil {
		n, err := m.loadNewsletter(ctx, caller, *in.NewsletterID)
		if err != nil {
			return "", err
		}
		sample := &model.Subscriber{Email: in.Email}
		rendered := m.renderer.Render(m.sendTemplate(ctx, n), n, sample, m.renderer.Links(0, "test"))
		msg.Subject = testSubjectPrefix + rendered.Subject
		msg.HTML = rendered.HTML
		msg.Text = rendered.Text
		msg.Headers = map[string]string{HeaderNewsletterID: fmt.Sprint(n.ID)}
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}
	messageID, err := m.mailer.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("не удалось отправить тестовое письмо на %s: %w", in.Email, err)
	}
	logger.Infof("Тестовое письмо отправлено на %s, id %s", in.Email, messageID)
	return messageID, nil
}
