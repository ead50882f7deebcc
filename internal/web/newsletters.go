package web

import (
	"net/http"
	"time"

	"newsletterapp/internal/newsletter"

	"github.com/gorilla/mux"
)

type scheduleRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type testEmailResponse struct {
	MessageID string `json:"message_id"`
	Email     string `json:"email"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// HandleCreateNewsletter создание черновика рассылки
func (app *WebApp) HandleCreateNewsletter(w http.ResponseWriter, r *http.Request) {
	var in newsletter.CreateInput
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	n, err := app.manager.CreateNewsletter(r.Context(), callerOf(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (app *WebApp) HandleGetNewsletter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	n, err := app.manager.GetNewsletter(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (app *WebApp) HandleUpdateNewsletter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var in newsletter.UpdateInput
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	n, err := app.manager.UpdateNewsletter(r.Context(), callerOf(r), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// HandleSendNewsletter ставит рассылку в очередь и сразу отвечает 202 с ID задачи
func (app *WebApp) HandleSendNewsletter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	taskID, err := app.manager.RequestSend(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, taskResponse{TaskID: taskID, Status: "queued"})
}

func (app *WebApp) HandleScheduleNewsletter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	n, err := app.manager.Schedule(r.Context(), callerOf(r), id, req.ScheduledAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (app *WebApp) HandleCancelNewsletter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	n, err := app.manager.Cancel(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (app *WebApp) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	a, err := app.manager.GetAnalytics(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (app *WebApp) HandleRecomputeAnalytics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	a, err := app.manager.RecomputeAnalytics(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandleNewsletterStats статистика за период ?period=7d|30d|90d|1y
func (app *WebApp) HandleNewsletterStats(w http.ResponseWriter, r *http.Request) {
	stats, err := app.manager.NewsletterStats(r.Context(), callerOf(r), r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleTestEmail тестовое письмо на указанный адрес, с рассылкой или без
func (app *WebApp) HandleTestEmail(w http.ResponseWriter, r *http.Request) {
	var in newsletter.TestInput
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	messageID, err := app.manager.SendTest(r.Context(), callerOf(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, testEmailResponse{MessageID: messageID, Email: in.Email})
}

func (app *WebApp) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in newsletter.TemplateInput
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	t, err := app.manager.CreateTemplate(r.Context(), callerOf(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// HandleTaskStatus статус фоновой задачи по ID из ответа на send
func (app *WebApp) HandleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if app.tasks == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "фоновые задачи отключены"})
		return
	}
	id := mux.Vars(r)["id"]
	info, ok := app.tasks.Status(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "задача " + id + " не найдена"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}
