package newsletter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/model"
)

// MaxImportEmails максимум адресов в одном импорте
const MaxImportEmails = 1000

// SubscriberAttrs атрибуты подписчика при добавлении
type SubscriberAttrs struct {
	FirstName string
	LastName  string
	Source    string
	Frequency string
}

// ImportInput импорт подписчиков списком адресов
type ImportInput struct {
	Emails    []string `json:"emails" validate:"required,min=1,max=1000,dive,required,email"`
	Frequency string   `json:"frequency" validate:"omitempty,oneof=weekly biweekly monthly"`
	Source    string   `json:"source" validate:"max=100"`
}

// SubscriberStats статистика подписчиков
type SubscriberStats struct {
	TotalActive        int64            `json:"total_active"`
	TotalUnsubscribed  int64            `json:"total_unsubscribed"`
	NewLast7Days       int64            `json:"new_last_7_days"`
	NewLast30Days      int64            `json:"new_last_30_days"`
	UnsubscribedLast30 int64            `json:"unsubscribed_last_30_days"`
	FrequencyBreakdown map[string]int64 `json:"frequency_breakdown"`
	SourceBreakdown    map[string]int64 `json:"source_breakdown"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AddOrGet добавляет подписчика по email или возвращает существующего.
// Атрибуты существующего подписчика перезаписываются только при overwrite
func (m *Manager) AddOrGet(ctx context.Context, email string, attrs SubscriberAttrs, overwrite bool) (*model.Subscriber, bool, error) {
	email = normalizeEmail(email)
	if err := m.validate.Var(email, "required,email"); err != nil {
		return nil, false, validationError("email", email, "некорректный email")
	}
	if attrs.Frequency == "" {
		attrs.Frequency = model.FrequencyWeekly
	}

	sub := &model.Subscriber{
		Email:        email,
		FirstName:    attrs.FirstName,
		LastName:     attrs.LastName,
		Source:       attrs.Source,
		Frequency:    attrs.Frequency,
		IsActive:     true,
		SubscribedAt: m.now(),
	}
	created, err := m.store.CreateSubscriber(ctx, sub)
	if err != nil {
		return nil, false, fmt.Errorf("не удалось создать подписчика %s: %w", email, err)
	}
	if created {
		return sub, true, nil
	}

	existing, err := m.store.GetSubscriberByEmail(ctx, email)
	if err != nil {
		return nil, false, notFound(err, "подписчик", email)
	}
	if !overwrite {
		return existing, false, nil
	}

	fields := map[string]interface{}{}
	if attrs.FirstName != "" {
		fields["first_name"] = attrs.FirstName
	}
	if attrs.LastName != "" {
		fields["last_name"] = attrs.LastName
	}
	if attrs.Source != "" {
		fields["source"] = attrs.Source
	}
	fields["frequency"] = attrs.Frequency
	if err := m.store.UpdateSubscriber(ctx, existing.ID, fields); err != nil {
		return nil, false, fmt.Errorf("не удалось обновить подписчика %s: %w", email, err)
	}
	updated, err := m.store.GetSubscriber(ctx, existing.ID)
	if err != nil {
		return nil, false, notFound(err, "подписчик", existing.ID)
	}
	return updated, false, nil
}

// Unsubscribe отписка подписчика сотрудником
func (m *Manager) Unsubscribe(ctx context.Context, caller Caller, id uint) (*model.Subscriber, error) {
	if err := requireStaff(caller, "подписчика", id); err != nil {
		return nil, err
	}
	return m.deactivate(ctx, id)
}

// PublicUnsubscribe отписка по ссылке из письма
func (m *Manager) PublicUnsubscribe(ctx context.Context, id uint) (*model.Subscriber, error) {
	return m.deactivate(ctx, id)
}

// Resubscribe повторная подписка
func (m *Manager) Resubscribe(ctx context.Context, caller Caller, id uint) (*model.Subscriber, error) {
	if err := requireStaff(caller, "подписчика", id); err != nil {
		return nil, err
	}
	if _, err := m.store.GetSubscriber(ctx, id); err != nil {
		return nil, notFound(err, "подписчик", id)
	}
	err := m.store.UpdateSubscriber(ctx, id, map[string]interface{}{
		"is_active":       true,
		"unsubscribed_at": nil,
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось восстановить подписку %d: %w", id, err)
	}
	logger.Infof("Подписчик %d снова подписан", id)
	return m.store.GetSubscriber(ctx, id)
}

// deactivate снимает флаг активности и ставит время отписки
func (m *Manager) deactivate(ctx context.Context, id uint) (*model.Subscriber, error) {
	sub, err := m.store.GetSubscriber(ctx, id)
	if err != nil {
		return nil, notFound(err, "подписчик", id)
	}
	if !sub.IsActive {
		return sub, nil
	}
	err = m.store.UpdateSubscriber(ctx, id, map[string]interface{}{
		"is_active":       false,
		"unsubscribed_at": m.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось отписать подписчика %d: %w", id, err)
	}
	logger.Infof("Подписчик %d отписан", id)
	return m.store.GetSubscriber(ctx, id)
}

// ActiveSubscribers подписчики, которым уйдет рассылка, на момент вызова
func (m *Manager) ActiveSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	subs, err := m.store.ActiveSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить активных подписчиков: %w", err)
	}
	return subs, nil
}

// ImportSubscribers импортирует список адресов. Если хотя бы один адрес уже активно
// подписан, отклоняется весь список. Повторы внутри списка схлопываются
func (m *Manager) ImportSubscribers(ctx context.Context, caller Caller, in ImportInput) (int, error) {
	if err := requireStaff(caller, "импорт подписчиков", 0); err != nil {
		return 0, err
	}
	if len(in.Emails) > MaxImportEmails {
		return 0, validationError("emails", len(in.Emails), fmt.Sprintf("не более %d адресов за один импорт", MaxImportEmails))
	}
	in.Emails = append([]string(nil), in.Emails...)
	for i := range in.Emails {
		in.Emails[i] = normalizeEmail(in.Emails[i])
	}
	if err := m.validateStruct(in); err != nil {
		return 0, err
	}
	if in.Frequency == "" {
		in.Frequency = model.FrequencyWeekly
	}
	if in.Source == "" {
		in.Source = "import"
	}

	seen := make(map[string]struct{}, len(in.Emails))
	emails := make([]string, 0, len(in.Emails))
	for _, email := range in.Emails {
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		emails = append(emails, email)
	}

	active, err := m.store.ActiveEmails(ctx, emails)
	if err != nil {
		return 0, fmt.Errorf("не удалось проверить существующих подписчиков: %w", err)
	}
	if len(active) > 0 {
		sort.Strings(active)
		return 0, &Error{
			Type:  ErrorValidation,
			Field: "emails",
			Value: active,
			Err:   errors.New("адреса уже подписаны"),
		}
	}

	now := m.now()
	subs := make([]model.Subscriber, 0, len(emails))
	for _, email := range emails {
		subs = append(subs, model.Subscriber{
			Email:        email,
			IsActive:     true,
			SubscribedAt: now,
			Source:       in.Source,
			Frequency:    in.Frequency,
		})
	}

	imported, err := m.store.ImportSubscribers(ctx, subs)
	if err != nil {
		return 0, fmt.Errorf("не удалось импортировать подписчиков: %w", err)
	}
	logger.Infof("Импортировано подписчиков: %d из %d", imported, len(in.Emails))
	return imported, nil
}

// SubscriberStats статистика подписчиков для сотрудников
func (m *Manager) SubscriberStats(ctx context.Context, caller Caller) (*SubscriberStats, error) {
	if err := requireStaff(caller, "статистику подписчиков", 0); err != nil {
		return nil, err
	}

	now := m.now()
	active, inactive := true, false
	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, 0, -30)

	stats := &SubscriberStats{}
	type counter struct {
		dst    *int64
		filter SubscriberFilter
	}
	counts := []counter{
		{&stats.TotalActive, SubscriberFilter{Active: &active}},
		{&stats.TotalUnsubscribed, SubscriberFilter{Active: &inactive}},
		{&stats.NewLast7Days, SubscriberFilter{SubscribedAfter: &weekAgo}},
		{&stats.NewLast30Days, SubscriberFilter{SubscribedAfter: &monthAgo}},
		{&stats.UnsubscribedLast30, SubscriberFilter{Active: &inactive, UnsubscribedAfter: &monthAgo}},
	}

	for _, c := range counts {
		n, err := m.store.CountSubscribers(ctx, c.filter)
		if err != nil {
			return nil, fmt.Errorf("не удалось посчитать подписчиков: %w", err)
		}
		*c.dst = n
	}

	var err error
	if stats.FrequencyBreakdown, err = m.store.SubscriberDistribution(ctx, "frequency"); err != nil {
		return nil, fmt.Errorf("не удалось получить распределение по частоте: %w", err)
	}
	if stats.SourceBreakdown, err = m.store.SubscriberDistribution(ctx, "source"); err != nil {
		return nil, fmt.Errorf("не удалось получить распределение по источникам: %w", err)
	}
	return stats, nil
}
