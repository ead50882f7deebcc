package newsletter

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"newsletterapp/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// TaskRunner фоновый исполнитель задач. Возвращает ID задачи для опроса статуса
type TaskRunner interface {
	Submit(name string, fn func(ctx context.Context) error) string
	SubmitAt(name string, eta time.Time, fn func(ctx context.Context) error) string
	// Alive true, если задача ждет выполнения или выполняется
	Alive(id string) bool
}

// Notifier уведомляет администраторов о завершенной рассылке
type Notifier interface {
	NewsletterSent(ctx context.Context, n *model.Newsletter, res *BulkResult) error
}

// Exporter выгружает аналитику рассылки во внешнюю систему
type Exporter interface {
	ExportAnalytics(ctx context.Context, n *model.Newsletter, a *model.NewsletterAnalytics) error
}

// Caller тот, кто выполняет операцию. Аутентификация выполняется снаружи
type Caller struct {
	UserID  uint
	IsStaff bool
}

// CanManage владелец рассылки или сотрудник
func (c Caller) CanManage(n *model.Newsletter) bool {
	return c.IsStaff || (c.UserID != 0 && c.UserID == n.AuthorID)
}

// Config параметры Manager
type Config struct {
	Render RenderConfig

	Concurrency   int     // Параллельные отправки внутри одной рассылки
	RatePerSecond float64 // Ограничение писем в секунду. 0 - без ограничения
	RateBurst     int

	RetentionDays int           // Сколько дней хранить записи отправок
	AnalyticsTTL  time.Duration // Время жизни аналитики в кэше
	StaleAfter    time.Duration // Рассылка в статусе sending без обновлений дольше считается зависшей

	Now      func() time.Time // Источник времени
	NewToken func() string    // Генератор токенов трекинга
}

// Manager сервис рассылок: подписчики, статусы рассылок, массовая отправка, трекинг и аналитика
type Manager struct {
	store    Store
	mailer   Mailer
	tasks    TaskRunner
	renderer *Renderer
	cfg      Config

	limiter  *rate.Limiter
	cache    *cache.Cache
	validate *validator.Validate

	notifier Notifier
	exporter Exporter

	inflightMu sync.Mutex
	inflight   map[uint]string // ID рассылки -> ID задачи отправки в этом процессе
}

// Option дополнительная настройка Manager
type Option func(*Manager)

// WithNotifier уведомления администраторов после рассылки
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithExporter выгрузка аналитики после рассылки
func WithExporter(e Exporter) Option {
	return func(m *Manager) { m.exporter = e }
}

// NewManager создает сервис рассылок
func NewManager(store Store, mailer Mailer, tasks TaskRunner, cfg Config, opts ...Option) *Manager {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RetentionDays < 1 {
		cfg.RetentionDays = 90
	}
	if cfg.AnalyticsTTL <= 0 {
		cfg.AnalyticsTTL = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewToken == nil {
		cfg.NewToken = func() string { return uuid.NewString() }
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	m := &Manager{
		store:    store,
		mailer:   mailer,
		tasks:    tasks,
		renderer: NewRenderer(cfg.Render),
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		cache:    cache.New(cfg.AnalyticsTTL, 2*cfg.AnalyticsTTL),
		validate: newValidator(),
		inflight: make(map[uint]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) now() time.Time {
	return m.cfg.Now()
}

// newValidator валидатор, использующий json-имена полей в ошибках
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validateStruct переводит ошибки validator в ErrorValidation
func (m *Manager) validateStruct(s interface{}) error {
	err := m.validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return validationError("input", nil, err.Error())
	}
	fe := verrs[0]
	field := fe.Field()
	if i := strings.Index(field, "["); i > 0 {
		field = field[:i]
	}
	value := fe.Value()
	if fe.Kind() == reflect.Slice {
		value = nil
	}
	return validationError(field, value, validationMessage(fe))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "обязательное поле"
	case "email":
		return "некорректный email"
	case "max":
		return "превышено максимальное значение " + fe.Param()
	case "min":
		return "меньше минимального значения " + fe.Param()
	case "oneof":
		return "допустимые значения: " + fe.Param()
	default:
		return "не прошло проверку " + fe.Tag()
	}
}

// loadNewsletter получает рассылку и проверяет права
func (m *Manager) loadNewsletter(ctx context.Context, caller Caller, id uint) (*model.Newsletter, error) {
	n, err := m.store.GetNewsletter(ctx, id)
	if err != nil {
		return nil, notFound(err, "рассылка", id)
	}
	if !caller.CanManage(n) {
		return nil, forbiddenError("рассылку", id)
	}
	return n, nil
}

func requireStaff(caller Caller, entity string, id uint) error {
	if !caller.IsStaff {
		return forbiddenError(entity, id)
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
