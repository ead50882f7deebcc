package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/model"
	"newsletterapp/internal/newsletter"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLen предел длины сообщения Telegram
const maxMessageLen = 4096

const sendAttempts = 3

// sender часть tgbotapi.BotAPI, которой пользуется уведомитель
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram уведомляет администраторов о завершенных рассылках и ошибках
type Telegram struct {
	bot     sender
	chatIDs []int64
}

var _ newsletter.Notifier = (*Telegram)(nil)

// NewTelegram подключается к Bot API по токену
func NewTelegram(token string, chatIDs []int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Telegram: %w", err)
	}
	logger.Infof("Авторизован бот уведомлений %s", bot.Self.UserName)
	return &Telegram{bot: bot, chatIDs: chatIDs}, nil
}

// NewsletterSent отчет о завершенной рассылке
func (t *Telegram) NewsletterSent(ctx context.Context, n *model.Newsletter, res *newsletter.BulkResult) error {
	return t.sendAll(ctx, splitMessage(FormatNewsletterSent(n, res), maxMessageLen))
}

// Alert текст ошибки всем администраторам
func (t *Telegram) Alert(ctx context.Context, text string) error {
	return t.sendAll(ctx, splitMessage("⚠️ "+html.EscapeString(text), maxMessageLen))
}

// FormatNewsletterSent текст отчета о рассылке в HTML-разметке Telegram
func FormatNewsletterSent(n *model.Newsletter, res *newsletter.BulkResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📬 Рассылка <b>%s</b> (#%d) отправлена\n", html.EscapeString(n.Title), n.ID)
	fmt.Fprintf(&b, "Получателей: %d\n", res.Recipients)
	fmt.Fprintf(&b, "Отправлено: %d\n", res.Sent)
	fmt.Fprintf(&b, "Ошибок: %d\n", res.Failed)
	if res.Skipped > 0 {
		fmt.Fprintf(&b, "Пропущено: %d\n", res.Skipped)
	}
	if len(res.Errors) > 0 {
		b.WriteString("\nОшибки:\n")
		for _, e := range res.Errors {
			b.WriteString("🟥 " + html.EscapeString(e) + "\n")
		}
	}
	return b.String()
}

// splitMessage делит текст по строкам на части не длиннее limit байт.
// Строка длиннее limit режется как есть
func splitMessage(text string, limit int) []string {
	var messages []string
	current := ""
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if current != "" {
				messages = append(messages, current)
				current = ""
			}
			cut := limit
			for cut > 0 && !utf8Start(line[cut]) {
				cut--
			}
			messages = append(messages, line[:cut])
			line = line[cut:]
		}
		if len(current)+len(line) > limit {
			messages = append(messages, current)
			current = line
		} else {
			current += line
		}
	}
	if current != "" {
		messages = append(messages, current)
	}
	return messages
}

// utf8Start байт начинает символ UTF-8
func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

func (t *Telegram) sendAll(ctx context.Context, parts []string) error {
	var failed int
	for _, chatID := range t.chatIDs {
		for _, text := range parts {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			msg := tgbotapi.NewMessage(chatID, text)
			msg.ParseMode = tgbotapi.ModeHTML
			if err := t.sendRepeat(msg, sendAttempts); err != nil {
				logger.Errorf("Не удалось отправить уведомление в чат %d: %v", chatID, err)
				failed++
				break
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("уведомление не доставлено в %d из %d чатов", failed, len(t.chatIDs))
	}
	return nil
}

// sendRepeat несколько попыток отправки, останавливается после первой успешной
func (t *Telegram) sendRepeat(msg tgbotapi.MessageConfig, attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		if _, err = t.bot.Send(msg); err == nil {
			return nil
		}
		logger.Info("Ошибка при отправке уведомления с повтором (", i, "): ", err)
	}
	return err
}
