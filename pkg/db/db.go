package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config параметры подключения к PostgreSQL
type Config struct {
	Host     string
	Port     string
	UserName string
	DBName   string
	Password string
	SSLMode  string

	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// DSN строка подключения. Пустой порт не передается, драйвер подставит порт по умолчанию
func (c Config) DSN() string {
	if c.Port == "" {
		return fmt.Sprintf("host=%s user=%s dbname=%s password=%s sslmode=%s", c.Host, c.UserName, c.DBName, c.Password, c.SSLMode)
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s password=%s sslmode=%s", c.Host, c.Port, c.UserName, c.DBName, c.Password, c.SSLMode)
}

// NewDatabase открывает подключение к базе данных и проверяет его
func NewDatabase(ctx context.Context, conf Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(conf.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if conf.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(conf.MaxOpenConns)
	}
	if conf.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(conf.MaxIdleConns)
	}
	if conf.ConnLifetime > 0 {
		sqlDB.SetConnMaxLifetime(conf.ConnLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, err
	}

	return db, nil
}
