package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newsletterapp/internal/model"
	"newsletterapp/internal/newsletter"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const importBatchSize = 200

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newsletter.ErrNotFound
	}
	return err
}

func (s *Store) CreateSubscriber(ctx context.Context, sub *model.Subscriber) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(sub)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetSubscriber(ctx context.Context, id uint) (*model.Subscriber, error) {
	var sub model.Subscriber
	if err := s.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (s *Store) GetSubscriberByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	var sub model.Subscriber
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&sub).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (s *Store) UpdateSubscriber(ctx context.Context, id uint, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&model.Subscriber{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return newsletter.ErrNotFound
	}
	return nil
}

func (s *Store) ActiveSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	var subs []model.Subscriber
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&subs).Error
	return subs, err
}

func (s *Store) ActiveEmails(ctx context.Context, emails []string) ([]string, error) {
	var found []string
	if len(emails) == 0 {
		return found, nil
	}
	err := s.db.WithContext(ctx).Model(&model.Subscriber{}).
		Where("is_active = ? AND email IN ?", true, emails).
		Pluck("email", &found).Error
	return found, err
}

// ImportSubscribers вставляет всех подписчиков в одной транзакции. Занятые email пропускаются
func (s *Store) ImportSubscribers(ctx context.Context, subs []model.Subscriber) (int, error) {
	if len(subs) == 0 {
		return 0, nil
	}
	var imported int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
			CreateInBatches(&subs, importBatchSize)
		if res.Error != nil {
			return res.Error
		}
		imported = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(imported), nil
}

func (s *Store) IncrementSubscriberCounters(ctx context.Context, id uint, received, opened, clicked int, lastSent, lastOpened *time.Time) error {
	fields := map[string]interface{}{
		"total_emails_received": gorm.Expr("total_emails_received + ?", received),
		"total_emails_opened":   gorm.Expr("total_emails_opened + ?", opened),
		"total_emails_clicked":  gorm.Expr("total_emails_clicked + ?", clicked),
	}
	if lastSent != nil {
		fields["last_email_sent"] = *lastSent
	}
	if lastOpened != nil {
		fields["last_email_opened"] = *lastOpened
	}
	return s.UpdateSubscriber(ctx, id, fields)
}

func (s *Store) CountSubscribers(ctx context.Context, f newsletter.SubscriberFilter) (int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Subscriber{})
	if f.Active != nil {
		q = q.Where("is_active = ?", *f.Active)
	}
	if f.SubscribedAfter != nil {
		q = q.Where("subscribed_at > ?", *f.SubscribedAfter)
	}
	if f.UnsubscribedAfter != nil {
		q = q.Where("unsubscribed_at > ?", *f.UnsubscribedAfter)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// distributionColumns колонки, по которым разрешена группировка
var distributionColumns = map[string]struct{}{
	"frequency": {},
	"source":    {},
}

func (s *Store) SubscriberDistribution(ctx context.Context, column string) (map[string]int64, error) {
	if _, ok := distributionColumns[column]; !ok {
		return nil, fmt.Errorf("неизвестная колонка распределения: %s", column)
	}

	var rows []struct {
		Value string
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&model.Subscriber{}).
		Select(column + " AS value, COUNT(*) AS count").
		Where("is_active = ?", true).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Value] = r.Count
	}
	return out, nil
}
