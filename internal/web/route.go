package web

import (
	"github.com/gorilla/mux"
)

// SetRoutes маршрутизатор
func (app *WebApp) SetRoutes() *mux.Router {
	router := mux.NewRouter()

	// Ограничение количества запросов от одного IP
	router.Use(app.LimitMiddleware)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/newsletters", app.HandleCreateNewsletter).Methods("POST")
	api.HandleFunc("/newsletters/stats", app.HandleNewsletterStats).Methods("GET")
	api.HandleFunc("/newsletters/test-email", app.HandleTestEmail).Methods("POST")
	api.HandleFunc("/newsletters/{id:[0-9]+}", app.HandleGetNewsletter).Methods("GET")
	api.HandleFunc("/newsletters/{id:[0-9]+}", app.HandleUpdateNewsletter).Methods("PATCH")
	api.HandleFunc("/newsletters/{id:[0-9]+}/send", app.HandleSendNewsletter).Methods("POST")
	api.HandleFunc("/newsletters/{id:[0-9]+}/schedule", app.HandleScheduleNewsletter).Methods("POST")
	api.HandleFunc("/newsletters/{id:[0-9]+}/cancel", app.HandleCancelNewsletter).Methods("POST")
	api.HandleFunc("/newsletters/{id:[0-9]+}/analytics", app.HandleAnalytics).Methods("GET")
	api.HandleFunc("/newsletters/{id:[0-9]+}/analytics/recompute", app.HandleRecomputeAnalytics).Methods("POST")

	api.HandleFunc("/tasks/{id}", app.HandleTaskStatus).Methods("GET")

	api.HandleFunc("/sends/{id:[0-9]+}/mark-opened", app.HandleMarkOpened).Methods("POST")
	api.HandleFunc("/sends/{id:[0-9]+}/mark-clicked", app.HandleMarkClicked).Methods("POST")

	api.HandleFunc("/subscribers/import", app.HandleImportSubscribers).Methods("POST")
	api.HandleFunc("/subscribers/stats", app.HandleSubscriberStats).Methods("GET")
	api.HandleFunc("/subscribers/{id:[0-9]+}/unsubscribe", app.HandleUnsubscribe).Methods("POST")
	api.HandleFunc("/subscribers/{id:[0-9]+}/resubscribe", app.HandleResubscribe).Methods("POST")

	api.HandleFunc("/templates", app.HandleCreateTemplate).Methods("POST")

	/////////////////////////////////////////////////////////////////////////////////////////
	//////////////////              ПУБЛИЧНЫЕ ССЫЛКИ ИЗ ПИСЕМ         ///////////////////////
	/////////////////////////////////////////////////////////////////////////////////////////
	router.HandleFunc("/newsletters/track/open/{token}/", app.HandleTrackOpen).Methods("GET")
	router.HandleFunc("/newsletters/track/click/{token}/", app.HandleTrackClick).Methods("GET")
	router.HandleFunc("/newsletters/unsubscribe/{id:[0-9]+}/", app.HandlePublicUnsubscribe).Methods("GET")

	router.HandleFunc("/webhooks/ses", app.HandleSESWebhook).Methods("POST")

	return router
}
