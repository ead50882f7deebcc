package db

import (
	"context"
	"time"

	"newsletterapp/internal/model"
	"newsletterapp/internal/newsletter"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ newsletter.Store = (*Store)(nil)

// GetOrCreateSend вставка с ON CONFLICT DO NOTHING по паре (рассылка, подписчик).
// При конфликте читается существующая запись
func (s *Store) GetOrCreateSend(ctx context.Context, newsletterID, subscriberID uint) (*model.NewsletterSend, bool, error) {
	send := model.NewsletterSend{
		NewsletterID: newsletterID,
		SubscriberID: subscriberID,
		Status:       model.SendPending,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "newsletter_id"}, {Name: "subscriber_id"}},
			DoNothing: true,
		}).
		Create(&send)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return &send, true, nil
	}

	var existing model.NewsletterSend
	err := s.db.WithContext(ctx).
		Where("newsletter_id = ? AND subscriber_id = ?", newsletterID, subscriberID).
		First(&existing).Error
	if err != nil {
		return nil, false, notFound(err)
	}
	return &existing, false, nil
}

func (s *Store) ClaimSend(ctx context.Context, sendID uint, token string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.NewsletterSend{}).
		Where("id = ? AND status = ? AND tracking_id IS NULL", sendID, model.SendPending).
		Update("tracking_id", token)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) UpdateSendIf(ctx context.Context, sendID uint, statuses []string, fields map[string]interface{}) (bool, error) {
	q := s.db.WithContext(ctx).Model(&model.NewsletterSend{}).Where("id = ?", sendID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetSend(ctx context.Context, id uint) (*model.NewsletterSend, error) {
	var send model.NewsletterSend
	if err := s.db.WithContext(ctx).First(&send, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &send, nil
}

func (s *Store) GetSendByToken(ctx context.Context, token string) (*model.NewsletterSend, error) {
	var send model.NewsletterSend
	if err := s.db.WithContext(ctx).Where("tracking_id = ?", token).First(&send).Error; err != nil {
		return nil, notFound(err)
	}
	return &send, nil
}

func (s *Store) GetSendByMessageID(ctx context.Context, messageID string) (*model.NewsletterSend, error) {
	var send model.NewsletterSend
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&send).Error; err != nil {
		return nil, notFound(err)
	}
	return &send, nil
}

// ApplySendEvent читает запись под SELECT ... FOR UPDATE, поэтому параллельные события
// по одной отправке применяются последовательно
func (s *Store) ApplySendEvent(ctx context.Context, sendID uint, fn func(*model.NewsletterSend) (bool, error)) (*model.NewsletterSend, error) {
	var send model.NewsletterSend
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&send, sendID).Error; err != nil {
			return notFound(err)
		}
		changed, err := fn(&send)
		if err != nil || !changed {
			return err
		}
		return tx.Save(&send).Error
	})
	if err != nil {
		return nil, err
	}
	return &send, nil
}

func (s *Store) ListSends(ctx context.Context, newsletterID uint) ([]model.NewsletterSend, error) {
	var sends []model.NewsletterSend
	err := s.db.WithContext(ctx).Where("newsletter_id = ?", newsletterID).Order("id").Find(&sends).Error
	return sends, err
}

func (s *Store) DeleteSendsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("sent_at < ?", cutoff).Delete(&model.NewsletterSend{})
	return res.RowsAffected, res.Error
}
