package web

import (
	"net/http"

	"newsletterapp/internal/newsletter"
)

type importResponse struct {
	Imported int `json:"imported"`
}

func (app *WebApp) HandleImportSubscribers(w http.ResponseWriter, r *http.Request) {
	var in newsletter.ImportInput
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	n, err := app.manager.ImportSubscribers(r.Context(), callerOf(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, importResponse{Imported: n})
}

func (app *WebApp) HandleSubscriberStats(w http.ResponseWriter, r *http.Request) {
	stats, err := app.manager.SubscriberStats(r.Context(), callerOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (app *WebApp) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	s, err := app.manager.Unsubscribe(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (app *WebApp) HandleResubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	s, err := app.manager.Resubscribe(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
