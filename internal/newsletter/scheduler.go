package newsletter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/model"
)

// TriggerDue находит запланированные рассылки, время которых наступило, и отправляет каждую
// ровно один раз: рассылка сначала переводится scheduled -> sending условным обновлением,
// и только выигравший перевод ставит отправку в очередь. Возвращает число запущенных рассылок
func (m *Manager) TriggerDue(ctx context.Context) (int, error) {
	ids, err := m.store.DueNewsletters(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("не удалось получить запланированные рассылки: %w", err)
	}

	started := 0
	for _, id := range ids {
		ok, err := m.triggerOne(ctx, id)
		if err != nil {
			logger.Errorf("Не удалось запустить запланированную рассылку %d: %v", id, err)
			continue
		}
		if ok {
			started++
		}
	}
	if started > 0 {
		logger.Infof("Запущено запланированных рассылок: %d", started)
	}
	return started, nil
}

// triggerOne захватывает одну запланированную рассылку и ставит ее отправку в очередь
func (m *Manager) triggerOne(ctx context.Context, id uint) (bool, error) {
	now := m.now()
	ok, err := m.store.UpdateNewsletterIf(ctx, id,
		NewsletterCond{Statuses: []string{model.NewsletterScheduled}, DueBy: &now},
		map[string]interface{}{"status": model.NewsletterSending},
	)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	taskID := m.submitBulk(id)
	logger.Infof("Запланированная рассылка %d поставлена в очередь, задача %s", id, taskID)
	return true, nil
}

// RecoverSending возобновляет рассылки, застрявшие в статусе sending: задача отправки
// завершилась ошибкой, не попала в очередь или потерялась при перезапуске.
// Рассылка, чья задача в этом процессе уже не жива, возобновляется сразу.
// Остальные возобновляются, если не обновлялись дольше StaleAfter.
// Повторный запуск отправки не дублирует письма: захваченные пары пропускаются
func (m *Manager) RecoverSending(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.cfg.StaleAfter)
	stale, err := m.store.StaleSending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("не удалось получить зависшие рассылки: %w", err)
	}

	// nil - без проверки давности
	candidates := make(map[uint]*time.Time, len(stale))
	for _, id := range stale {
		candidates[id] = &cutoff
	}
	m.inflightMu.Lock()
	for id, taskID := range m.inflight {
		if m.tasks != nil && m.tasks.Alive(taskID) {
			delete(candidates, id)
			continue
		}
		delete(m.inflight, id)
		candidates[id] = nil
	}
	m.inflightMu.Unlock()

	ids := make([]uint, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	resumed := 0
	for _, id := range ids {
		ok, err := m.touchSending(ctx, id, candidates[id])
		if err != nil {
			logger.Errorf("Не удалось возобновить рассылку %d: %v", id, err)
			continue
		}
		if !ok {
			continue
		}
		taskID := m.submitBulk(id)
		logger.Warnf("Рассылка %d зависла в статусе sending, отправка возобновлена, задача %s", id, taskID)
		resumed++
	}
	return resumed, nil
}

// touchSending обновляет updated_at рассылки в статусе sending. При заданном updatedBy
// обновление проходит только если рассылка не обновлялась после него
func (m *Manager) touchSending(ctx context.Context, id uint, updatedBy *time.Time) (bool, error) {
	return m.store.UpdateNewsletterIf(ctx, id,
		NewsletterCond{Statuses: []string{model.NewsletterSending}, UpdatedBy: updatedBy},
		map[string]interface{}{"updated_at": m.now()},
	)
}

// CleanupSends удаляет записи отправок старше срока хранения
func (m *Manager) CleanupSends(ctx context.Context) (int64, error) {
	cutoff := m.now().AddDate(0, 0, -m.cfg.RetentionDays)
	deleted, err := m.store.DeleteSendsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("не удалось удалить старые отправки: %w", err)
	}
	logger.Infof("Удалено старых записей отправок: %d (старше %s)", deleted, cutoff.Format("2006-01-02"))
	return deleted, nil
}
