package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"newsletterapp/pkg/logger/interfaces"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// Status состояние задачи
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

var (
	// ErrStopped задача не будет выполнена, Runner остановлен
	ErrStopped = errors.New("обработчик задач остановлен")
	// ErrQueueFull очередь задач заполнена, задача не принята
	ErrQueueFull = errors.New("очередь задач заполнена")
)

// Func тело задачи
type Func func(ctx context.Context) error

// Info состояние задачи для опроса клиентом
type Info struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ETA        *time.Time `json:"eta,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type job struct {
	id   string
	name string
	fn   Func
}

// Runner выполняет задачи в фоне фиксированным числом воркеров.
// Статусы задач хранятся в кэше и доступны по ID
type Runner struct {
	queue    chan job
	statuses *gocache.Cache
	workers  int
	logger   interfaces.SimpleLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	started   bool
	timers    map[string]*time.Timer
	onFailure func(name string, err error)
}

// New создает Runner. Воркеры запускаются методом Start
func New(cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = def.StatusTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		queue:    make(chan job, cfg.BufferSize),
		statuses: gocache.New(cfg.StatusTTL, cfg.StatusTTL/2),
		workers:  cfg.Workers,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[string]*time.Timer),
	}
}

func (r *Runner) logf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Infof(format, args...)
	}
}

func (r *Runner) logError(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Errorf(format, args...)
	}
}

// OnFailure задает обработчик задач, завершившихся ошибкой
func (r *Runner) OnFailure(fn func(name string, err error)) {
	r.mu.Lock()
	r.onFailure = fn
	r.mu.Unlock()
}

// Start запускает воркеры. Повторный вызов ничего не делает
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.logf("Обработчик задач уже запущен")
		return
	}
	r.started = true

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
}

func (r *Runner) work() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case j := <-r.queue:
			r.run(j)
		}
	}
}

// run выполняет задачу. Контекст задачи не отменяется при Stop: Stop дожидается
// завершения уже начатых задач
func (r *Runner) run(j job) {
	r.update(j.id, func(info *Info) {
		info.Status = StatusRunning
		info.StartedAt = now()
	})

	err := safeCall(j.fn)

	r.update(j.id, func(info *Info) {
		info.FinishedAt = now()
		if err != nil {
			info.Status = StatusFailed
			info.Error = err.Error()
		} else {
			info.Status = StatusDone
		}
	})

	if err != nil {
		r.logError("Задача %s (%s) завершилась ошибкой: %v", j.name, j.id, err)
		r.mu.Lock()
		hook := r.onFailure
		r.mu.Unlock()
		if hook != nil {
			hook(j.name, err)
		}
		return
	}
	r.logf("Задача %s (%s) выполнена", j.name, j.id)
}

func safeCall(fn Func) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("паника: %v", rec)
		}
	}()
	return fn(context.Background())
}

func now() *time.Time {
	t := time.Now()
	return &t
}

func (r *Runner) update(id string, fn func(info *Info)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.statuses.Get(id)
	if !ok {
		return
	}
	info := v.(Info)
	fn(&info)
	r.statuses.SetDefault(id, info)
}

func (r *Runner) register(name string, eta *time.Time) string {
	id := uuid.NewString()
	r.statuses.SetDefault(id, Info{
		ID:        id,
		Name:      name,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		ETA:       eta,
	})
	return id
}

// Submit ставит задачу в очередь и возвращает ее ID
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) string {
	id := r.register(name, nil)
	r.enqueue(job{id: id, name: name, fn: fn})
	return id
}

// SubmitAt ставит задачу в очередь в момент eta. Прошедший eta ставит задачу сразу
func (r *Runner) SubmitAt(name string, eta time.Time, fn func(ctx context.Context) error) string {
	id := r.register(name, &eta)
	j := job{id: id, name: name, fn: fn}

	delay := time.Until(eta)
	if delay <= 0 {
		r.enqueue(j)
		return id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[id] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, id)
		r.mu.Unlock()
		r.enqueue(j)
	})
	return id
}

// enqueue не блокирует вызывающего: при заполненной очереди задача сразу помечается failed
func (r *Runner) enqueue(j job) {
	if r.ctx.Err() != nil {
		r.fail(j.id, ErrStopped)
		return
	}
	select {
	case r.queue <- j:
	default:
		r.logError("Задача %s (%s) отклонена: %v", j.name, j.id, ErrQueueFull)
		r.fail(j.id, ErrQueueFull)
	}
}

func (r *Runner) fail(id string, err error) {
	r.update(id, func(info *Info) {
		info.Status = StatusFailed
		info.Error = err.Error()
		info.FinishedAt = now()
	})
}

// Status состояние задачи по ID. false, если задача неизвестна или ее статус истек
func (r *Runner) Status(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.statuses.Get(id)
	if !ok {
		return Info{}, false
	}
	return v.(Info), true
}

// Alive true, если задача ждет выполнения или выполняется
func (r *Runner) Alive(id string) bool {
	info, ok := r.Status(id)
	return ok && (info.Status == StatusPending || info.Status == StatusRunning)
}

// Stop отменяет отложенные задачи и ждет завершения выполняемых.
// Задачи, оставшиеся в очереди, помечаются как failed
func (r *Runner) Stop() {
	var delayed []string
	r.mu.Lock()
	for id, t := range r.timers {
		if t.Stop() {
			delete(r.timers, id)
			delayed = append(delayed, id)
		}
	}
	r.mu.Unlock()
	for _, id := range delayed {
		r.fail(id, ErrStopped)
	}

	r.cancel()
	r.wg.Wait()

	for {
		select {
		case j := <-r.queue:
			r.fail(j.id, ErrStopped)
		default:
			return
		}
	}
}
