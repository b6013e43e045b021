package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/models"
)

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type pageResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	models.Page[T]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendSuccess(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Message: message, Data: data})
}

func sendPage[T any](w http.ResponseWriter, message string, page models.Page[T]) {
	writeJSON(w, http.StatusOK, pageResponse[T]{Success: true, Message: message, Page: page})
}

// sendError writes err with the status its code maps to. Causes stay in the
// log.
func sendError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := statusOf(apperr.CodeOf(err))
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Warn("request rejected", zap.Error(err))
	}
	writeJSON(w, status, Response{Success: false, Message: apperr.MessageOf(err)})
}

func statusOf(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperr.CodeAlreadyExists, apperr.CodeConflict, apperr.CodeAdminMustReassign:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("malformed request body")
	}
	return nil
}

// pageParams reads page and limit from the query. Missing values fall back to
// the listing defaults.
func pageParams(r *http.Request) (page, limit int, err error) {
	q := r.URL.Query()
	if page, err = intParam(q.Get("page")); err != nil {
		return 0, 0, apperr.Validation("page must be a number")
	}
	if limit, err = intParam(q.Get("limit")); err != nil {
		return 0, 0, apperr.Validation("limit must be a number")
	}
	return page, limit, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func requiredParam(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", apperr.Validation(name + " is required")
	}
	return v, nil
}
