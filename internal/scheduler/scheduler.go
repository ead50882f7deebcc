package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newsletterapp/internal/config"
	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/pkg/distlock"
	"newsletterapp/pkg/logger/interfaces"

	"github.com/robfig/cron/v3"
)

// Service операции, которые планировщик вызывает по расписанию
type Service interface {
	TriggerDue(ctx context.Context) (int, error)
	RecoverSending(ctx context.Context) (int, error)
	CleanupSends(ctx context.Context) (int64, error)
}

// LockFactory создает распределенную блокировку по ключу. nil - без блокировки
type LockFactory func(key string) distlock.DistLock

// Scheduler периодически запускает запланированные рассылки, возобновляет зависшие
// и очищает старые отправки.
// При нескольких экземплярах приложения каждое срабатывание выполняет только
// экземпляр, взявший блокировку
type Scheduler struct {
	cron    *cron.Cron
	service Service
	locks   LockFactory
	timeout time.Duration
}

// cronLogger адаптер логгера приложения для cron
type cronLogger struct {
	log interfaces.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugf("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}

// New регистрирует задачи по расписаниям из конфигурации
func New(cfg config.SchedulerConfig, service Service, locks LockFactory) (*Scheduler, error) {
	cl := cronLogger{log: logger.Log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(
				cron.Recover(cl),
				cron.SkipIfStillRunning(cl),
			),
		),
		service: service,
		locks:   locks,
		timeout: cfg.LockTTL,
	}

	if _, err := s.cron.AddJob(cfg.TriggerSpec, s.job("trigger_due", s.triggerDue)); err != nil {
		return nil, fmt.Errorf("неверное расписание SCHEDULER_SPEC %q: %w", cfg.TriggerSpec, err)
	}
	if _, err := s.cron.AddJob(cfg.CleanupSpec, s.job("cleanup_sends", s.cleanup)); err != nil {
		return nil, fmt.Errorf("неверное расписание CLEANUP_SPEC %q: %w", cfg.CleanupSpec, err)
	}
	return s, nil
}

// Start запускает планировщик в фоне
func (s *Scheduler) Start() {
	logger.Info("Планировщик рассылок запущен")
	s.cron.Start()
}

// Stop останавливает планировщик и ждет завершения выполняемых задач
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Планировщик рассылок остановлен")
}

func (s *Scheduler) triggerDue(ctx context.Context) error {
	_, err := s.service.TriggerDue(ctx)
	_, recoverErr := s.service.RecoverSending(ctx)
	return errors.Join(err, recoverErr)
}

func (s *Scheduler) cleanup(ctx context.Context) error {
	_, err := s.service.CleanupSends(ctx)
	return err
}

// lockedJob задача cron, выполняемая под распределенной блокировкой
type lockedJob struct {
	name    string
	fn      func(ctx context.Context) error
	locks   LockFactory
	timeout time.Duration
}

func (s *Scheduler) job(name string, fn func(ctx context.Context) error) *lockedJob {
	return &lockedJob{name: name, fn: fn, locks: s.locks, timeout: s.timeout}
}

func (j *lockedJob) Name() string { return j.name }

func (j *lockedJob) Run() {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	if j.locks != nil {
		lock := j.locks("newsletter:scheduler:" + j.name)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			logger.Errorf("Задача %s: не удалось взять блокировку: %v", j.name, err)
			return
		}
		if !ok {
			logger.Debugf("Задача %s выполняется другим экземпляром", j.name)
			return
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				logger.Errorf("Задача %s: не удалось снять блокировку: %v", j.name, err)
			}
		}()
	}

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		logger.Errorf("Задача %s завершилась ошибкой: %v", j.name, err)
		return
	}
	logger.Debugf("Задача %s выполнена за %s", j.name, time.Since(start))
}
