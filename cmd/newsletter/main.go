package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newsletterapp/internal/config"
	"newsletterapp/internal/infrastructure/db"
	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/infrastructure/memstore"
	"newsletterapp/internal/mailer"
	"newsletterapp/internal/newsletter"
	"newsletterapp/internal/notify"
	"newsletterapp/internal/report"
	"newsletterapp/internal/scheduler"
	"newsletterapp/internal/web"
	"newsletterapp/pkg/distlock"
	"newsletterapp/pkg/task"

	"github.com/redis/go-redis/v9"
)

// alerts уведомления администраторов. nil, если Telegram не настроен
var alerts *notify.Telegram

func main() {
	cfg, err := config.Load(".env")
	HandleFatalError(err)

	HandleFatalError(logger.Init(cfg.LoggerConfig))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TelegramConfig.Token != "" {
		alerts, err = notify.NewTelegram(cfg.TelegramConfig.Token, cfg.TelegramConfig.AdminChatIDs)
		HandleFatalError(err)
	}

	store, sqlDB, closeStore, err := openStore(ctx, cfg.DataBaseConfig)
	HandleFatalError(err)
	defer closeStore()

	transport, err := newMailer(ctx, cfg.MailConfig)
	HandleFatalError(err)

	runner := task.New(task.Config{
		Workers:    cfg.SendConfig.Workers,
		BufferSize: cfg.SendConfig.QueueSize,
		StatusTTL:  cfg.CacheConfig.TaskTTL,
		Logger:     logger.Log,
	})
	if alerts != nil {
		runner.OnFailure(func(name string, err error) {
			if err := alerts.Alert(context.Background(), fmt.Sprintf("Задача %s завершилась ошибкой: %v", name, err)); err != nil {
				logger.Error("Не удалось отправить уведомление об ошибке задачи: ", err)
			}
		})
	}
	runner.Start()

	var opts []newsletter.Option
	if alerts != nil {
		opts = append(opts, newsletter.WithNotifier(alerts))
	}
	if cfg.GoogleSheetConfig.CredentialsFile != "" {
		sheets, err := report.NewSheets(ctx, cfg.GoogleSheetConfig.CredentialsFile,
			cfg.GoogleSheetConfig.ReportTableID, cfg.GoogleSheetConfig.ReportListName)
		HandleFatalError(err)
		opts = append(opts, newsletter.WithExporter(sheets))
	}

	manager := newsletter.NewManager(store, mailer.WithTimeout(transport, cfg.MailConfig.Timeout), runner, newsletter.Config{
		Render: newsletter.RenderConfig{
			SiteURL:     cfg.WebConfig.SiteURL,
			FromAddress: cfg.MailConfig.FromAddress,
		},
		Concurrency:   cfg.SendConfig.Concurrency,
		RatePerSecond: cfg.SendConfig.RatePerSecond,
		RateBurst:     cfg.SendConfig.RateBurst,
		RetentionDays: cfg.SchedulerConfig.RetentionDays,
		AnalyticsTTL:  cfg.CacheConfig.AnalyticsTTL,
		StaleAfter:    cfg.SendConfig.StaleAfter,
	}, opts...)

	// рассылки, оставшиеся в статусе sending после прошлого запуска
	if resumed, err := manager.RecoverSending(ctx); err != nil {
		logger.Errorf("Не удалось возобновить зависшие рассылки: %v", err)
	} else if resumed > 0 {
		logger.Infof("Возобновлено зависших рассылок: %d", resumed)
	}

	locks, err := lockFactory(ctx, cfg.RedisConfig, sqlDB, cfg.SchedulerConfig.LockTTL)
	HandleFatalError(err)

	sched, err := scheduler.New(cfg.SchedulerConfig, manager, locks)
	HandleFatalError(err)
	sched.Start()

	app := web.NewWebApp(cfg.WebConfig, manager, runner)
	serveErr := app.Serve(ctx)

	sched.Stop()
	runner.Stop()
	HandleFatalError(serveErr)
}

// openStore хранилище по DB_DRIVER. sqlDB nil для хранилища в памяти
func openStore(ctx context.Context, cfg config.DataBaseConfig) (newsletter.Store, *sql.DB, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("Используется хранилище в памяти, данные не сохраняются между запусками")
		return memstore.New(), nil, func() {}, nil
	case "postgres", "":
		store, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		sqlDB, err := store.SQL()
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := store.Close(); err != nil {
				logger.Error("Не удалось закрыть подключение к базе данных: ", err)
			}
		}
		return store, sqlDB, closeFn, nil
	default:
		return nil, nil, nil, fmt.Errorf("неизвестный DB_DRIVER: %s", cfg.Driver)
	}
}

// newMailer почтовый транспорт по MAIL_TRANSPORT
func newMailer(ctx context.Context, cfg config.MailConfig) (newsletter.Mailer, error) {
	switch cfg.Transport {
	case "ses":
		return mailer.NewSES(ctx, cfg.SESRegion, cfg.SESAccessKey, cfg.SESSecretKey)
	case "smtp", "":
		return mailer.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.FromAddress), nil
	case "log":
		return mailer.Log{}, nil
	default:
		return nil, fmt.Errorf("неизвестный MAIL_TRANSPORT: %s", cfg.Transport)
	}
}

// lockFactory блокировки планировщика: Redis, если задан адрес, иначе PostgreSQL.
// Без обоих планировщик работает без блокировки (один экземпляр)
func lockFactory(ctx context.Context, cfg config.RedisConfig, sqlDB *sql.DB, ttl time.Duration) (scheduler.LockFactory, error) {
	var client *redis.Client
	if cfg.Addr != "" {
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("не удалось подключиться к Redis %s: %w", cfg.Addr, err)
		}
	}
	if client == nil && sqlDB == nil {
		logger.Warn("Распределенная блокировка планировщика отключена")
		return nil, nil
	}
	return func(key string) distlock.DistLock {
		return distlock.NewLock(client, sqlDB, key, ttl)
	}, nil
}

// HandleFatalError если err ошибка, то логгирует ее, отправляет всем админам в тг и завершает программу
func HandleFatalError(err error) {
	if err == nil {
		return
	}
	logger.Error("Критическая ошибка: ", err)

	if alerts != nil {
		if sendErr := alerts.Alert(context.Background(), "Критическая ошибка: "+err.Error()); sendErr != nil {
			logger.Error("Не удалось уведомить администраторов: ", sendErr)
		}
	}
	os.Exit(1)
}
