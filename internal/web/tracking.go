package web

import (
	"fmt"
	"html"
	"net/http"
	"net/url"

	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/newsletter"

	"github.com/gorilla/mux"
)

// pixel прозрачный GIF 1x1
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0xff, 0xff, 0xff,
	0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func (app *WebApp) staffOnly(w http.ResponseWriter, r *http.Request) bool {
	if callerOf(r).IsStaff {
		return true
	}
	writeJSON(w, http.StatusForbidden, errorResponse{Error: "действие доступно только сотрудникам"})
	return false
}

// HandleMarkOpened ручная отметка открытия по ID отправки
func (app *WebApp) HandleMarkOpened(w http.ResponseWriter, r *http.Request) {
	if !app.staffOnly(w, r) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	send, err := app.manager.MarkOpened(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, send)
}

// HandleMarkClicked ручная отметка перехода по ID отправки
func (app *WebApp) HandleMarkClicked(w http.ResponseWriter, r *http.Request) {
	if !app.staffOnly(w, r) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	send, err := app.manager.MarkClicked(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, send)
}

// HandleTrackOpen пиксель открытия. Картинка отдается при любом токене
func (app *WebApp) HandleTrackOpen(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if _, err := app.manager.TrackOpen(r.Context(), token); err != nil {
		if newsletter.IsType(err, newsletter.ErrorNotFound) {
			logger.Debugf("Открытие с неизвестным токеном %s", token)
		} else {
			logger.Errorf("Не удалось отметить открытие %s: %v", token, err)
		}
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixel)
}

// redirectTarget адрес перехода из ?url=. Допускаются только абсолютные http(s) ссылки
func (app *WebApp) redirectTarget(r *http.Request) string {
	raw := r.URL.Query().Get("url")
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return app.conf.SiteURL
	}
	return u.String()
}

// HandleTrackClick отмечает переход и перенаправляет на исходную ссылку
func (app *WebApp) HandleTrackClick(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if _, err := app.manager.TrackClick(r.Context(), token); err != nil {
		if newsletter.IsType(err, newsletter.ErrorNotFound) {
			logger.Debugf("Переход с неизвестным токеном %s", token)
		} else {
			logger.Errorf("Не удалось отметить переход %s: %v", token, err)
		}
	}
	http.Redirect(w, r, app.redirectTarget(r), http.StatusFound)
}

// HandlePublicUnsubscribe отписка по ссылке из письма
func (app *WebApp) HandlePublicUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, err := app.manager.PublicUnsubscribe(r.Context(), id)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusNotFound {
			http.Error(w, "Подписчик не найден", status)
			return
		}
		logger.Errorf("Не удалось отписать подписчика %d: %v", id, err)
		http.Error(w, "Не удалось отписаться, попробуйте позже", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<!doctype html><html><body><p>Адрес %s отписан от рассылки.</p></body></html>", html.EscapeString(s.Email))
}
