package web

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/newsletter"

	"github.com/tidwall/gjson"
)

// Типы сообщений SNS
const (
	snsNotification             = "Notification"
	snsSubscriptionConfirmation = "SubscriptionConfirmation"
)

var errNotNotification = errors.New("сообщение SNS не является уведомлением")

// ParseSESEvent разбирает событие SES из конверта SNS. Поддерживаются события
// event publishing (eventType) и уведомления (notificationType)
func ParseSESEvent(body []byte) (newsletter.ProviderEvent, error) {
	if !gjson.ValidBytes(body) {
		return newsletter.ProviderEvent{}, errors.New("тело запроса не JSON")
	}
	envelope := gjson.ParseBytes(body)

	msg := envelope
	if t := envelope.Get("Type"); t.Exists() {
		if t.String() != snsNotification {
			return newsletter.ProviderEvent{}, errNotNotification
		}
		raw := envelope.Get("Message").String()
		if !gjson.Valid(raw) {
			return newsletter.ProviderEvent{}, errors.New("поле Message не JSON")
		}
		msg = gjson.Parse(raw)
	}

	ev := newsletter.ProviderEvent{
		Type:      msg.Get("eventType").String(),
		MessageID: msg.Get("mail.messageId").String(),
	}
	if ev.Type == "" {
		ev.Type = msg.Get("notificationType").String()
	}
	if ev.Type == "" {
		return ev, errors.New("в событии нет eventType/notificationType")
	}

	section := msg.Get(strings.ToLower(ev.Type))
	ts := section.Get("timestamp").String()
	if ts == "" {
		ts = msg.Get("mail.timestamp").String()
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		ev.Timestamp = t
	}

	switch ev.Type {
	case newsletter.EventBounce:
		reason := section.Get("bounceType").String()
		if sub := section.Get("bounceSubType").String(); sub != "" {
			reason += "/" + sub
		}
		if diag := section.Get("bouncedRecipients.0.diagnosticCode").String(); diag != "" {
			reason += ": " + diag
		}
		ev.Reason = reason
	case newsletter.EventComplaint:
		ev.Reason = "complaint"
		if fb := section.Get("complaintFeedbackType").String(); fb != "" {
			ev.Reason += ": " + fb
		}
	}
	return ev, nil
}

// HandleSESWebhook принимает события доставки SES через SNS
func (app *WebApp) HandleSESWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		badRequest(w, "не удалось прочитать тело: "+err.Error())
		return
	}

	if gjson.GetBytes(body, "Type").String() == snsSubscriptionConfirmation {
		logger.Warnf("Получен запрос подтверждения подписки SNS, подтвердите вручную: %s", gjson.GetBytes(body, "SubscribeURL").String())
		w.WriteHeader(http.StatusOK)
		return
	}

	ev, err := ParseSESEvent(body)
	if errors.Is(err, errNotNotification) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		logger.Warn("Не удалось разобрать событие SES: ", err)
		badRequest(w, err.Error())
		return
	}

	if err := app.manager.HandleProviderEvent(r.Context(), ev); err != nil {
		if newsletter.IsType(err, newsletter.ErrorNotFound) {
			// письмо не из рассылки или запись уже удалена
			logger.Debugf("Событие %s для неизвестного письма %s", ev.Type, ev.MessageID)
			w.WriteHeader(http.StatusOK)
			return
		}
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
