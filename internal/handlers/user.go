package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/logging"
	"github.com/pliu/cipherchat/internal/middleware"
	"github.com/pliu/cipherchat/internal/store"
)

type SearchRequest struct {
	Username string `json:"username"`
}

// SearchResult exposes public key material only; the email is masked.
type SearchResult struct {
	ID          string    `json:"_id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Avatar      string    `json:"avatar"`
	ActiveKeyID string    `json:"activeKeyId"`
	Keys        []KeyView `json:"keys"`
}

type UserHandler struct {
	store store.UserStore
	log   *zap.Logger
}

func NewUserHandler(st store.UserStore, log *zap.Logger) *UserHandler {
	return &UserHandler{store: st, log: logging.OrNop(log).Named("users")}
}

// SearchUsers finds users by username substring, leaving out the caller and
// the people they are already connected to.
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decode(r, &req); err != nil {
		sendError(w, h.log, err)
		return
	}
	query := strings.TrimSpace(req.Username)
	if query == "" {
		sendError(w, h.log, apperr.Validation("username is required"))
		return
	}

	ctx := r.Context()
	userID, _ := middleware.UserIDFromContext(ctx)
	users, err := h.store.SearchUsers(ctx, query, userID)
	if err != nil {
		sendError(w, h.log, apperr.Wrap(apperr.CodeInternal, "Searching Users failed. Try again later", err))
		return
	}

	results := make([]SearchResult, 0, len(users))
	for _, u := range users {
		keys, err := h.store.ListUserKeys(ctx, u.ID)
		if err != nil {
			sendError(w, h.log, apperr.Wrap(apperr.CodeInternal, "Searching Users failed. Try again later", err))
			return
		}
		res := SearchResult{
			ID:          u.ID,
			Username:    u.Username,
			Email:       u.Email,
			Avatar:      u.Avatar,
			ActiveKeyID: u.ActiveKeyID,
			Keys:        make([]KeyView, 0, len(keys)),
		}
		for _, k := range keys {
			res.Keys = append(res.Keys, KeyView{ID: k.ID, PublicKey: k.PublicKey})
		}
		results = append(results, res)
	}

	message := "Users found"
	if len(results) == 0 {
		message = "Users not found"
	}
	sendSuccess(w, message, results)
}
