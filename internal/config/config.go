package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WebConfig
	DataBaseConfig
	RedisConfig
	MailConfig
	SendConfig
	SchedulerConfig
	CacheConfig
	TelegramConfig
	GoogleSheetConfig
	LoggerConfig
}

type WebConfig struct {
	APPIP          string   `envconfig:"APP_IP" default:"localhost"`                   // IP адрес приложения
	APPPORT        string   `envconfig:"APP_PORT" default:"8080"`                      // Порт приложения
	SiteURL        string   `envconfig:"APP_SITE_URL" default:"http://localhost:8080"` // Публичный адрес для ссылок трекинга и отписки
	RequestsPerSec float64  `envconfig:"APP_REQUESTS_PER_SEC" default:"20"`            // Лимит запросов в секунду с одного IP
	RequestsBurst  int      `envconfig:"APP_REQUESTS_BURST" default:"40"`
	TrustedProxies []string `envconfig:"APP_TRUSTED_PROXIES" default:""` // IP или CIDR прокси, которым доверяется X-Forwarded-For
}

type DataBaseConfig struct {
	Driver   string `envconfig:"DB_DRIVER" default:"postgres"` // postgres или memory
	Host     string `envconfig:"DBHOST" default:"localhost"`   // IP адресс для подключение к БД
	Port     string `envconfig:"DBPORT" default:""`            // Port для подключение к БД
	DBName   string `envconfig:"DBNAME" default:"newsletter"`  // Имя базы данных
	UserName string `envconfig:"DBUSER" default:"postgres"`    // Имя пользователя
	Password string `envconfig:"DBPASS" default:""`            // Пароль пользователя
	SSLMode  string `envconfig:"DBSSLMODE" default:"disable"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:""` // Пустой адрес отключает распределенную блокировку планировщика
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type MailConfig struct {
	Transport    string        `envconfig:"MAIL_TRANSPORT" default:"smtp"` // smtp, ses или log
	FromAddress  string        `envconfig:"MAIL_FROM" default:"newsletter@example.com"`
	Timeout      time.Duration `envconfig:"MAIL_TIMEOUT" default:"30s"` // Таймаут на одно письмо
	SMTPHost     string        `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int           `envconfig:"SMTP_PORT" default:"25"`
	SMTPUser     string        `envconfig:"SMTP_USER" default:""`
	SMTPPassword string        `envconfig:"SMTP_PASSWORD" default:""`
	SESRegion    string        `envconfig:"SES_REGION" default:"us-east-1"`
	SESAccessKey string        `envconfig:"SES_ACCESS_KEY" default:""`
	SESSecretKey string        `envconfig:"SES_SECRET_KEY" default:""`
}

type SendConfig struct {
	Concurrency   int           `envconfig:"SEND_CONCURRENCY" default:"4"`   // Количество параллельных отправок в рассылке
	RatePerSecond float64       `envconfig:"SEND_RATE_PER_SEC" default:"14"` // Ограничение писем в секунду
	RateBurst     int           `envconfig:"SEND_RATE_BURST" default:"14"`
	StaleAfter    time.Duration `envconfig:"SEND_STALE_AFTER" default:"10m"` // Рассылка в статусе sending без обновлений дольше возобновляется
	Workers       int           `envconfig:"TASK_WORKERS" default:"2"`       // Воркеры фоновых задач
	QueueSize     int           `envconfig:"TASK_QUEUE_SIZE" default:"100"`
}

type SchedulerConfig struct {
	TriggerSpec   string        `envconfig:"SCHEDULER_SPEC" default:"0 * * * * *"` // Проверка запланированных рассылок (cron с секундами)
	CleanupSpec   string        `envconfig:"CLEANUP_SPEC" default:"0 0 3 * * *"`   // Очистка старых записей отправок
	RetentionDays int           `envconfig:"RETENTION_DAYS" default:"90"`
	LockTTL       time.Duration `envconfig:"SCHEDULER_LOCK_TTL" default:"50s"`
}

type CacheConfig struct {
	AnalyticsTTL time.Duration `envconfig:"ANALYTICS_CACHE_TTL" default:"1m"` // Время жизни аналитики в кэше
	TaskTTL      time.Duration `envconfig:"TASK_STATUS_TTL" default:"24h"`    // Сколько хранить статус фоновой задачи
}

type TelegramConfig struct {
	Token        string  `envconfig:"TELEGRAM_TOKEN" default:""` // Токен бота. Пустой токен отключает уведомления
	AdminChatIDs []int64 `envconfig:"TELEGRAM_ADMIN_CHAT_IDS" default:""`
}

type GoogleSheetConfig struct {
	CredentialsFile string `envconfig:"SHEET_CREDENTIALS_FILE" default:""` // Пустой путь отключает выгрузку
	ReportTableID   string `envconfig:"SHEET_REPORT_TABLE_ID" default:""`
	ReportListName  string `envconfig:"SHEET_REPORT_LIST_NAME" default:"analytics"`
}

type LoggerConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDir      string `envconfig:"LOG_DIR" default:""`
	TimeFormat  string `envconfig:"LOG_TIME_FORMAT" default:"2006-01-02_15-04-05"`
	FilePattern string `envconfig:"LOG_FILE_PATTERN" default:"newsletter_%s.log"`
	Console     bool   `envconfig:"LOG_CONSOLE" default:"false"` // Человекочитаемый вывод вместо JSON
}

var File *Config

// Load читает .env (если он есть) и переменные окружения
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("не удалось загрузить %s: %w", envPath, err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации: %w", err)
	}

	if cfg.SendConfig.Concurrency < 1 {
		cfg.SendConfig.Concurrency = 1
	}
	if cfg.SchedulerConfig.RetentionDays < 1 {
		return nil, fmt.Errorf("RETENTION_DAYS должен быть положительным: %d", cfg.SchedulerConfig.RetentionDays)
	}

	File = cfg
	return cfg, nil
}
