package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pliu/cipherchat/internal/middleware"
)

type API struct {
	Auth   *AuthHandler
	Users  *UserHandler
	Chats  *ChatHandler
	Groups *GroupHandler
	// Socket serves the websocket endpoint behind the auth middleware.
	Socket http.Handler
	Tokens middleware.TokenVerifier
	Log    *zap.Logger
}

func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(a.Log))
	requireAuth := middleware.AuthMiddleware(a.Tokens)

	api := r.PathPrefix("/api").Subrouter()

	authR := api.PathPrefix("/auth").Subrouter()
	authR.HandleFunc("/sign-up", a.Auth.SignUp).Methods(http.MethodPost)
	authR.HandleFunc("/sign-in", a.Auth.SignIn).Methods(http.MethodPost)
	authR.HandleFunc("/sign-out", a.Auth.SignOut).Methods(http.MethodGet)
	authR.Handle("/renew-keys", requireAuth(http.HandlerFunc(a.Auth.RenewKeys))).Methods(http.MethodGet)

	userR := api.PathPrefix("/user").Subrouter()
	userR.Use(requireAuth)
	userR.HandleFunc("/search-users", a.Users.SearchUsers).Methods(http.MethodPost)

	chatR := api.PathPrefix("/chat").Subrouter()
	chatR.Use(requireAuth)
	chatR.HandleFunc("/get-chat-list", a.Chats.GetChatList).Methods(http.MethodGet)
	chatR.HandleFunc("/get-chat-info", a.Chats.GetChatInfo).Methods(http.MethodGet)
	chatR.HandleFunc("/get-messages", a.Chats.GetMessages).Methods(http.MethodGet)

	groupR := api.PathPrefix("/group").Subrouter()
	groupR.Use(requireAuth)
	groupR.HandleFunc("/create-group", a.Groups.CreateGroup).Methods(http.MethodPost)
	groupR.HandleFunc("/get-group-list", a.Groups.GetGroupList).Methods(http.MethodGet)
	groupR.HandleFunc("/get-group-info", a.Groups.GetGroupInfo).Methods(http.MethodGet)
	groupR.HandleFunc("/get-messages", a.Groups.GetMessages).Methods(http.MethodGet)

	if a.Socket != nil {
		r.Handle("/ws", requireAuth(a.Socket))
	}
	return r
}
