package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pliu/cipherchat/internal/chat"
	"github.com/pliu/cipherchat/internal/logging"
	"github.com/pliu/cipherchat/internal/middleware"
)

type ChatHandler struct {
	chats *chat.Service
	log   *zap.Logger
}

func NewChatHandler(cs *chat.Service, log *zap.Logger) *ChatHandler {
	return &ChatHandler{chats: cs, log: logging.OrNop(log).Named("chats")}
}

func (h *ChatHandler) GetChatList(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	chats, err := h.chats.Chats(r.Context(), userID)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendSuccess(w, "Chat list fetched successfully", chats)
}

func (h *ChatHandler) GetChatInfo(w http.ResponseWriter, r *http.Request) {
	chatID, err := requiredParam(r, "chat")
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())
	info, err := h.chats.ChatInfo(r.Context(), userID, chatID)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendSuccess(w, "Chat info fetched successfully", info)
}

// GetMessages returns one decrypted page of a direct chat, newest first.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	chatID, err := requiredParam(r, "chat")
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	page, limit, err := pageParams(r)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())
	msgs, err := h.chats.Messages(r.Context(), userID, chatID, page, limit)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendPage(w, "Messages fetched successfully", msgs)
}
