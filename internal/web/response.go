package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/newsletter"

	"github.com/gorilla/mux"
)

type errorResponse struct {
	Error string      `json:"error"`
	Field string      `json:"field,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Не удалось записать ответ: ", err)
	}
}

// statusOf код ответа по типу ошибки
func statusOf(err error) int {
	var e *newsletter.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Type {
	case newsletter.ErrorValidation:
		return http.StatusBadRequest
	case newsletter.ErrorNotFound:
		return http.StatusNotFound
	case newsletter.ErrorInvalidTransition:
		return http.StatusConflict
	case newsletter.ErrorForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	resp := errorResponse{Error: err.Error()}

	var e *newsletter.Error
	if errors.As(err, &e) && e.Type == newsletter.ErrorValidation {
		resp.Field = e.Field
		resp.Value = e.Value
	}

	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		resp = errorResponse{Error: "внутренняя ошибка сервера"}
	} else {
		logger.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// decodeBody читает JSON тела запроса. Пустое тело допустимо
func decodeBody(r *http.Request, v interface{}) error {
	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("не удалось прочитать тело: %v", err)
	}
	if len(strings.TrimSpace(string(bodyBytes))) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, v); err != nil {
		return fmt.Errorf("ошибка при разборе JSON: %v", err)
	}
	return nil
}

// pathID числовой параметр {id} маршрута
func pathID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("неверный id: %q", mux.Vars(r)["id"])
	}
	return uint(id), nil
}

// callerOf пользователь запроса из заголовков X-User-ID и X-User-Staff
func callerOf(r *http.Request) newsletter.Caller {
	var c newsletter.Caller
	if id, err := strconv.ParseUint(r.Header.Get("X-User-ID"), 10, 64); err == nil {
		c.UserID = uint(id)
	}
	c.IsStaff, _ = strconv.ParseBool(r.Header.Get("X-User-Staff"))
	return c
}
