package newsletter

import (
	"context"
	"fmt"
	"time"

	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/model"
)

// Типы событий почтового провайдера
const (
	EventDelivery  = "Delivery"
	EventBounce    = "Bounce"
	EventComplaint = "Complaint"
	EventOpen      = "Open"
	EventClick     = "Click"
)

// ProviderEvent событие почтового провайдера по отправленному письму
type ProviderEvent struct {
	Type      string
	MessageID string
	Timestamp time.Time
	Reason    string // Диагностика для Bounce и Complaint
}

// applyOpen открытие письма. clicked и unsubscribed не откатываются до opened.
// Возвращает true при первом открытии
func applyOpen(s *model.NewsletterSend, now time.Time) bool {
	first := s.OpenedAt == nil
	if !statusIn(s.Status, model.SendClicked, model.SendUnsubscribed) {
		s.Status = model.SendOpened
	}
	if first {
		s.OpenedAt = timePtr(now)
	}
	s.OpenCount++
	return first
}

// applyClick переход по ссылке. Возвращает true при первом переходе
func applyClick(s *model.NewsletterSend, now time.Time) bool {
	first := s.ClickedAt == nil
	if s.Status != model.SendUnsubscribed {
		s.Status = model.SendClicked
	}
	if first {
		s.ClickedAt = timePtr(now)
	}
	s.ClickCount++
	return first
}

// MarkOpened отмечает открытие письма по ID отправки
func (m *Manager) MarkOpened(ctx context.Context, sendID uint) (*model.NewsletterSend, error) {
	var first bool
	now := m.now()
	send, err := m.store.ApplySendEvent(ctx, sendID, func(s *model.NewsletterSend) (bool, error) {
		first = applyOpen(s, now)
		return true, nil
	})
	if err != nil {
		return nil, notFound(err, "отправка", sendID)
	}

	opened := 0
	if first {
		opened = 1
	}
	if err := m.store.IncrementSubscriberCounters(ctx, send.SubscriberID, 0, opened, 0, nil, &now); err != nil {
		logger.Errorf("Не удалось обновить счетчики подписчика %d: %v", send.SubscriberID, err)
	}
	m.afterTracking(ctx, send.NewsletterID)
	return send, nil
}

// MarkClicked отмечает переход по ссылке по ID отправки
func (m *Manager) MarkClicked(ctx context.Context, sendID uint) (*model.NewsletterSend, error) {
	var first bool
	now := m.now()
	send, err := m.store.ApplySendEvent(ctx, sendID, func(s *model.NewsletterSend) (bool, error) {
		first = applyClick(s, now)
		return true, nil
	})
	if err != nil {
		return nil, notFound(err, "отправка", sendID)
	}

	if first {
		if err := m.store.IncrementSubscriberCounters(ctx, send.SubscriberID, 0, 0, 1, nil, nil); err != nil {
			logger.Errorf("Не удалось обновить счетчики подписчика %d: %v", send.SubscriberID, err)
		}
	}
	m.afterTracking(ctx, send.NewsletterID)
	return send, nil
}

// TrackOpen открытие по токену из пикселя
func (m *Manager) TrackOpen(ctx context.Context, token string) (*model.NewsletterSend, error) {
	send, err := m.store.GetSendByToken(ctx, token)
	if err != nil {
		return nil, notFound(err, "отправка", token)
	}
	return m.MarkOpened(ctx, send.ID)
}

// TrackClick переход по токену из ссылки
func (m *Manager) TrackClick(ctx context.Context, token string) (*model.NewsletterSend, error) {
	send, err := m.store.GetSendByToken(ctx, token)
	if err != nil {
		return nil, notFound(err, "отправка", token)
	}
	return m.MarkClicked(ctx, send.ID)
}

// HandleProviderEvent применяет событие провайдера к записи отправки
func (m *Manager) HandleProviderEvent(ctx context.Context, ev ProviderEvent) error {
	if ev.MessageID == "" {
		return validationError("message_id", "", "обязательное поле")
	}
	send, err := m.store.GetSendByMessageID(ctx, ev.MessageID)
	if err != nil {
		return notFound(err, "отправка", ev.MessageID)
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = m.now()
	}

	switch ev.Type {
	case EventOpen:
		_, err := m.MarkOpened(ctx, send.ID)
		return err
	case EventClick:
		_, err := m.MarkClicked(ctx, send.ID)
		return err
	case EventDelivery:
		_, err = m.store.ApplySendEvent(ctx, send.ID, func(s *model.NewsletterSend) (bool, error) {
			if s.Status != model.SendSent {
				return false, nil
			}
			s.Status = model.SendDelivered
			if s.DeliveredAt == nil {
				s.DeliveredAt = timePtr(at)
			}
			return true, nil
		})
	case EventBounce:
		_, err = m.store.ApplySendEvent(ctx, send.ID, func(s *model.NewsletterSend) (bool, error) {
			if !statusIn(s.Status, model.SendPending, model.SendSent) {
				return false, nil
			}
			s.Status = model.SendBounced
			s.ProviderResponse = ev.Reason
			return true, nil
		})
	case EventComplaint:
		_, err = m.store.ApplySendEvent(ctx, send.ID, func(s *model.NewsletterSend) (bool, error) {
			if s.Status == model.SendUnsubscribed {
				return false, nil
			}
			s.Status = model.SendUnsubscribed
			s.ProviderResponse = ev.Reason
			return true, nil
		})
		if err == nil {
			_, err = m.deactivate(ctx, send.SubscriberID)
		}
	default:
		logger.Debugf("Событие провайдера %s пропущено (письмо %s)", ev.Type, ev.MessageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("не удалось применить событие %s к отправке %d: %w", ev.Type, send.ID, err)
	}

	m.afterTracking(ctx, send.NewsletterID)
	return nil
}

// afterTracking пересчитывает счетчики рассылки и сбрасывает кэш аналитики
func (m *Manager) afterTracking(ctx context.Context, newsletterID uint) {
	if err := m.store.RefreshRollups(ctx, newsletterID); err != nil {
		logger.Errorf("Не удалось пересчитать счетчики рассылки %d: %v", newsletterID, err)
	}
	m.invalidateAnalytics(newsletterID)
}
