package db

import (
	"context"
	"database/sql"
	"fmt"

	"newsletterapp/internal/config"
	"newsletterapp/internal/model"
	"newsletterapp/pkg/db"

	"gorm.io/gorm"
)

// Store хранилище рассылок в PostgreSQL
type Store struct {
	db *gorm.DB
}

// Open подключается к базе по конфигурации приложения и применяет миграции
func Open(ctx context.Context, cfg config.DataBaseConfig) (*Store, error) {
	conn, err := db.NewDatabase(ctx, db.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		UserName: cfg.UserName,
		DBName:   cfg.DBName,
		Password: cfg.Password,
		SSLMode:  cfg.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к базе данных: %w", err)
	}

	s := NewStore(conn)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStore оборачивает готовое подключение gorm
func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// Migrate создает и обновляет таблицы
func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&model.Subscriber{},
		&model.NewsletterTemplate{},
		&model.Newsletter{},
		&model.NewsletterSend{},
		&model.NewsletterAnalytics{},
	)
	if err != nil {
		return fmt.Errorf("ошибка миграции: %w", err)
	}
	return nil
}

// SQL низкоуровневое подключение, нужно для advisory-блокировок
func (s *Store) SQL() (*sql.DB, error) {
	return s.db.DB()
}

// Close закрывает пул соединений
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
