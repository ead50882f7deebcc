package newsletter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/model"
)

// BulkResult итог массовой отправки
type BulkResult struct {
	NewsletterID uint     `json:"newsletter_id"`
	Recipients   int      `json:"recipients"` // Активные подписчики на момент старта
	Sent         int      `json:"sent"`
	Failed       int      `json:"failed"`
	Skipped      int      `json:"skipped"` // Уже отправленные ранее пары
	Errors       []string `json:"errors"`
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (r *BulkResult) add(o outcome, reason string) {
	switch o {
	case outcomeSent:
		r.Sent++
	case outcomeFailed:
		r.Failed++
		r.Errors = append(r.Errors, reason)
	case outcomeSkipped:
		r.Skipped++
	}
}

// SendBulk рассылает письмо всем активным подписчикам. Ошибка отправки одному подписчику
// не прерывает рассылку: запись получает статус bounced, а причина попадает в итог.
// Рассылка должна быть в статусе sending
func (m *Manager) SendBulk(ctx context.Context, newsletterID uint) (*BulkResult, error) {
	n, err := m.store.GetNewsletter(ctx, newsletterID)
	if err != nil {
		return nil, notFound(err, "рассылка", newsletterID)
	}
	if n.Status != model.NewsletterSending {
		return nil, transitionError("рассылки", n.Status, "массовая отправка возможна только в статусе sending")
	}
	defer m.heartbeat(n.ID)()

	tpl := m.sendTemplate(ctx, n)

	subs, err := m.ActiveSubscribers(ctx)
	if err != nil {
		return nil, err
	}
	logger.Infof("Начало рассылки %d: %d получателей", n.ID, len(subs))

	res := &BulkResult{NewsletterID: n.ID, Recipients: len(subs)}
	var mu sync.Mutex

	jobs := make(chan model.Subscriber)
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				o, reason := m.sendOneSafe(ctx, n, tpl, sub)
				mu.Lock()
				res.add(o, reason)
				mu.Unlock()
			}
		}()
	}
	for _, sub := range subs {
		jobs <- sub
	}
	close(jobs)
	wg.Wait()

	if err := m.finishBulk(ctx, n, res); err != nil {
		return res, err
	}
	return res, nil
}

// heartbeat периодически обновляет updated_at отправляемой рассылки, пока не вызвана
// возвращенная функция. Так идущая отправка не попадает в RecoverSending
func (m *Manager) heartbeat(id uint) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.cfg.StaleAfter / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := m.touchSending(context.Background(), id, nil); err != nil {
					logger.Warnf("Не удалось обновить отметку рассылки %d: %v", id, err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// sendTemplate активный шаблон рассылки или nil
func (m *Manager) sendTemplate(ctx context.Context, n *model.Newsletter) *model.NewsletterTemplate {
	if n.TemplateID == nil {
		return nil
	}
	tpl, err := m.store.GetTemplate(ctx, *n.TemplateID)
	if err != nil {
		logger.Warnf("Шаблон %d рассылки %d недоступен, письмо уйдет без шаблона: %v", *n.TemplateID, n.ID, err)
		return nil
	}
	if !tpl.IsActive {
		logger.Warnf("Шаблон %d рассылки %d выключен, письмо уйдет без шаблона", tpl.ID, n.ID)
		return nil
	}
	return tpl
}

// sendOneSafe отправка одному подписчику с перехватом паники
func (m *Manager) sendOneSafe(ctx context.Context, n *model.Newsletter, tpl *model.NewsletterTemplate, sub model.Subscriber) (o outcome, reason string) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorWithStack(fmt.Errorf("%v", r), fmt.Sprintf("Паника при отправке рассылки %d подписчику %d", n.ID, sub.ID))
			o, reason = outcomeFailed, fmt.Sprintf("%s: паника: %v", sub.Email, r)
		}
	}()
	return m.sendOne(ctx, n, tpl, &sub)
}

// sendOne отправка одному подписчику. Запись отправки захватывается записью токена трекинга,
// поэтому два исполнителя не могут отправить письмо одной паре
func (m *Manager) sendOne(ctx context.Context, n *model.Newsletter, tpl *model.NewsletterTemplate, sub *model.Subscriber) (outcome, string) {
	send, _, err := m.store.GetOrCreateSend(ctx, n.ID, sub.ID)
	if err != nil {
		return outcomeFailed, fmt.Sprintf("%s: не удалось создать запись отправки: %v", sub.Email, err)
	}
	if send.Status != model.SendPending {
		return outcomeSkipped, ""
	}

	token := m.cfg.NewToken()
	claimed, err := m.store.ClaimSend(ctx, send.ID, token)
	if err != nil {
		return outcomeFailed, fmt.Sprintf("%s: не удалось захватить запись отправки: %v", sub.Email, err)
	}
	if !claimed {
		return outcomeSkipped, ""
	}

	if err := m.limiter.Wait(ctx); err != nil {
		m.markBounced(ctx, send.ID, err)
		return outcomeFailed, fmt.Sprintf("%s: %v", sub.Email, err)
	}

	links := m.renderer.Links(sub.ID, token)
	rendered := m.renderer.Render(tpl, n, sub, links)
	msg := m.renderer.Message(rendered, n, sub, token)

	messageID, err := m.mailer.Send(ctx, msg)
	if err != nil {
		m.markBounced(ctx, send.ID, err)
		logger.Warnf("Письмо рассылки %d не отправлено %s: %v", n.ID, sub.Email, err)
		return outcomeFailed, fmt.Sprintf("%s: %v", sub.Email, err)
	}

	now := m.now()
	ok, err := m.store.UpdateSendIf(ctx, send.ID, []string{model.SendPending}, map[string]interface{}{
		"status":            model.SendSent,
		"sent_at":           now,
		"message_id":        messageID,
		"provider_response": "OK",
	})
	if err != nil {
		return outcomeFailed, fmt.Sprintf("%s: письмо отправлено, но статус не сохранен: %v", sub.Email, err)
	}
	if !ok {
		logger.Warnf("Запись отправки %d изменилась во время отправки", send.ID)
	}
	if err := m.store.IncrementSubscriberCounters(ctx, sub.ID, 1, 0, 0, &now, nil); err != nil {
		logger.Errorf("Не удалось обновить счетчики подписчика %d: %v", sub.ID, err)
	}
	return outcomeSent, ""
}

func (m *Manager) markBounced(ctx context.Context, sendID uint, cause error) {
	_, err := m.store.UpdateSendIf(ctx, sendID, []string{model.SendPending}, map[string]interface{}{
		"status":            model.SendBounced,
		"provider_response": cause.Error(),
	})
	if err != nil {
		logger.Errorf("Не удалось отметить отправку %d как bounced: %v", sendID, err)
	}
}

// finishBulk пересчитывает счетчики рассылки, переводит ее в sent и уведомляет админов
func (m *Manager) finishBulk(ctx context.Context, n *model.Newsletter, res *BulkResult) error {
	if err := m.store.RefreshRollups(ctx, n.ID); err != nil {
		return fmt.Errorf("не удалось пересчитать счетчики рассылки %d: %w", n.ID, err)
	}

	ok, err := m.store.UpdateNewsletterIf(ctx, n.ID,
		NewsletterCond{Statuses: []string{model.NewsletterSending}},
		map[string]interface{}{
			"status":           model.NewsletterSent,
			"sent_at":          m.now(),
			"total_recipients": res.Recipients,
		},
	)
	if err != nil {
		return fmt.Errorf("не удалось завершить рассылку %d: %w", n.ID, err)
	}
	if !ok {
		return transitionError("рассылки", model.NewsletterSending, "статус рассылки изменился во время отправки")
	}

	logger.Infof("Рассылка %d завершена: получателей %d, отправлено %d, ошибок %d, пропущено %d",
		n.ID, res.Recipients, res.Sent, res.Failed, res.Skipped)

	analytics, err := m.UpdateMetrics(ctx, n.ID)
	if err != nil {
		logger.Errorf("Не удалось пересчитать аналитику рассылки %d: %v", n.ID, err)
	}

	sent, err := m.store.GetNewsletter(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("не удалось перечитать рассылку %d: %w", n.ID, err)
	}
	if m.notifier != nil {
		if err := m.notifier.NewsletterSent(ctx, sent, res); err != nil {
			logger.Errorf("Не удалось уведомить администраторов о рассылке %d: %v", n.ID, err)
		}
	}
	if m.exporter != nil && analytics != nil {
		if err := m.exporter.ExportAnalytics(ctx, sent, analytics); err != nil {
			logger.Errorf("Не удалось выгрузить аналитику рассылки %d: %v", n.ID, err)
		}
	}
	return nil
}
