package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pliu/cipherchat/internal/group"
	"github.com/pliu/cipherchat/internal/logging"
	"github.com/pliu/cipherchat/internal/middleware"
)

type CreateGroupRequest struct {
	GroupName string `json:"groupName"`
}

type GroupHandler struct {
	groups *group.Service
	log    *zap.Logger
}

func NewGroupHandler(gs *group.Service, log *zap.Logger) *GroupHandler {
	return &GroupHandler{groups: gs, log: logging.OrNop(log).Named("groups")}
}

func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := decode(r, &req); err != nil {
		sendError(w, h.log, err)
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())
	g, err := h.groups.Create(r.Context(), userID, req.GroupName)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendSuccess(w, "Group created successfully.", g)
}

func (h *GroupHandler) GetGroupList(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())
	groups, err := h.groups.Groups(r.Context(), userID, page, limit)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendPage(w, "Group list fetched successfully", groups)
}

func (h *GroupHandler) GetGroupInfo(w http.ResponseWriter, r *http.Request) {
	groupID, err := requiredParam(r, "groupId")
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())
	g, err := h.groups.Info(r.Context(), userID, groupID)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendSuccess(w, "fetched group info successfully", g)
}

// GetMessages returns the caller's copies of one page of group history.
func (h *GroupHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	groupID, err := requiredParam(r, "group")
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
	msgs, err := h.groups.Messages(r.Context(), userID, groupID, page, limit)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendPage(w, "Messages fetched successfully", msgs)
}
