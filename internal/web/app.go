package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"newsletterapp/internal/config"
	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/newsletter"
	"newsletterapp/pkg/task"

	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"
)

// TaskStatus доступ к статусам фоновых задач
type TaskStatus interface {
	Status(id string) (task.Info, bool)
}

// WebApp HTTP API рассылок, трекинг писем и прием событий почтового провайдера
type WebApp struct {
	Router *mux.Router

	manager  *newsletter.Manager
	tasks    TaskStatus
	conf     config.WebConfig
	limiters *gocache.Cache // *rate.Limiter по IP
	proxies  []*net.IPNet   // доверенные прокси для X-Forwarded-For
}

// NewWebApp создает веб приложение и маршруты
func NewWebApp(conf config.WebConfig, manager *newsletter.Manager, tasks TaskStatus) *WebApp {
	app := &WebApp{
		manager:  manager,
		tasks:    tasks,
		conf:     conf,
		limiters: gocache.New(10*time.Minute, 20*time.Minute),
		proxies:  parseProxies(conf.TrustedProxies),
	}
	app.Router = app.SetRoutes()
	return app
}

// Serve запускает HTTP сервер и останавливает его при отмене ctx
func (app *WebApp) Serve(ctx context.Context) error {
	addr := app.conf.APPIP + ":" + app.conf.APPPORT
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Сервер рассылок запущен (" + addr + ")")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка при запуске сервера: %v", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при остановке сервера: %v", err)
	}
	logger.Info("Сервер рассылок остановлен")
	return nil
}
