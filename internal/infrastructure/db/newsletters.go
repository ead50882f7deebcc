package db

import (
	"context"
	"time"

	"newsletterapp/internal/model"
	"newsletterapp/internal/newsletter"

	"gorm.io/gorm/clause"
)

func (s *Store) CreateTemplate(ctx context.Context, t *model.NewsletterTemplate) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) GetTemplate(ctx context.Context, id uint) (*model.NewsletterTemplate, error) {
	var t model.NewsletterTemplate
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) CreateNewsletter(ctx context.Context, n *model.Newsletter) error {
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *Store) GetNewsletter(ctx context.Context, id uint) (*model.Newsletter, error) {
	var n model.Newsletter
	if err := s.db.WithContext(ctx).First(&n, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

// UpdateNewsletterIf условное обновление одним UPDATE ... WHERE status IN (...)
func (s *Store) UpdateNewsletterIf(ctx context.Context, id uint, cond newsletter.NewsletterCond, fields map[string]interface{}) (bool, error) {
	q := s.db.WithContext(ctx).Model(&model.Newsletter{}).Where("id = ?", id)
	if len(cond.Statuses) > 0 {
		q = q.Where("status IN ?", cond.Statuses)
	}
	if cond.DueBy != nil {
		q = q.Where("scheduled_at <= ?", *cond.DueBy)
	}
	if cond.UpdatedBy != nil {
		q = q.Where("updated_at <= ?", *cond.UpdatedBy)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) DueNewsletters(ctx context.Context, now time.Time) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.Newsletter{}).
		Where("status = ? AND scheduled_at <= ?", model.NewsletterScheduled, now).
		Order("scheduled_at").
		Pluck("id", &ids).Error
	return ids, err
}

// StaleSending рассылки в статусе sending, не обновлявшиеся с before
func (s *Store) StaleSending(ctx context.Context, before time.Time) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.Newsletter{}).
		Where("status = ? AND updated_at <= ?", model.NewsletterSending, before).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) ListNewsletters(ctx context.Context, since time.Time, authorID uint) ([]model.Newsletter, error) {
	q := s.db.WithContext(ctx).Where("created_at >= ?", since)
	if authorID != 0 {
		q = q.Where("author_id = ?", authorID)
	}
	var list []model.Newsletter
	err := q.Order("id").Find(&list).Error
	return list, err
}

// refreshRollupsSQL пересчитывает счетчики рассылки из таблицы отправок.
// Rate считается от успешно отправленных писем и ограничен 100
const refreshRollupsSQL = `
UPDATE newsletters SET
	total_sent = r.sent,
	total_delivered = r.delivered,
	total_opened = r.opened,
	total_clicked = r.clicked,
	open_rate = CASE WHEN r.sent = 0 THEN 0 ELSE LEAST(100, ROUND(r.opened * 100.0 / r.sent, 2)) END,
	click_rate = CASE WHEN r.sent = 0 THEN 0 ELSE LEAST(100, ROUND(r.clicked * 100.0 / r.sent, 2)) END,
	updated_at = ?
FROM (
	SELECT
		COUNT(*) FILTER (WHERE status IN ?) AS sent,
		COUNT(*) FILTER (WHERE status IN ?) AS delivered,
		COUNT(*) FILTER (WHERE status IN ?) AS opened,
		COUNT(*) FILTER (WHERE status = ?) AS clicked
	FROM newsletter_sends
	WHERE newsletter_id = ?
) AS r
WHERE newsletters.id = ?`

func (s *Store) RefreshRollups(ctx context.Context, newsletterID uint) error {
	res := s.db.WithContext(ctx).Exec(refreshRollupsSQL,
		time.Now(),
		model.SuccessfulSendStatuses,
		[]string{model.SendDelivered, model.SendOpened, model.SendClicked},
		[]string{model.SendOpened, model.SendClicked},
		model.SendClicked,
		newsletterID,
		newsletterID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return newsletter.ErrNotFound
	}
	return nil
}

// SaveAnalytics upsert по newsletter_id
func (s *Store) SaveAnalytics(ctx context.Context, a *model.NewsletterAnalytics) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "newsletter_id"}},
			UpdateAll: true,
		}).
		Create(a).Error
}
