package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/cipherchat/internal/auth"
	"github.com/pliu/cipherchat/internal/chat"
	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/events"
	"github.com/pliu/cipherchat/internal/events/eventstest"
	"github.com/pliu/cipherchat/internal/group"
	"github.com/pliu/cipherchat/internal/keys"
	"github.com/pliu/cipherchat/internal/store/sqlstore"
)

type testAPI struct {
	router http.Handler
	store  *sqlstore.SQLStore
	chats  *chat.Service
	groups *group.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := sqlstore.New(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	km := keys.NewManager(st, "handler-test-secret", nil)
	rec := eventstest.NewRecorder()
	issuer := auth.NewIssuer("jwt-test-secret", time.Hour)
	cs := chat.NewService(st, km, rec, 3, nil)
	gs := group.NewService(st, km, rec, group.Options{Workers: 2, MaxRetries: 3}, nil)

	api := &API{
		Auth:   NewAuthHandler(st, km, issuer, nil),
		Users:  NewUserHandler(st, nil),
		Chats:  NewChatHandler(cs, nil),
		Groups: NewGroupHandler(gs, nil),
		Tokens: issuer,
	}
	return &testAPI{router: api.Router(), store: st, chats: cs, groups: gs}
}

type session struct {
	userID string
	cookie *http.Cookie
}

func (a *testAPI) do(t *testing.T, method, path string, body any, s *session) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if s != nil {
		req.AddCookie(s.cookie)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	TotalDocs  int             `json:"totalDocs"`
	TotalPages int             `json:"totalPages"`
	Limit      int             `json:"limit"`
}

func parse(t *testing.T, rr *httptest.ResponseRecorder, into any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	if into != nil {
		require.NoError(t, json.Unmarshal(env.Data, into))
	}
	return env
}

func (a *testAPI) signUp(t *testing.T, username string) *session {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/api/auth/sign-up", SignUpRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "Secret123",
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var user struct {
		ID string `json:"_id"`
	}
	parse(t, rr, &user)
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			return &session{userID: user.ID, cookie: c}
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func TestSignUp(t *testing.T) {
	a := newTestAPI(t)
	s := a.signUp(t, "alice")

	u, err := a.store.GetUserByID(context.Background(), s.userID)
	require.NoError(t, err)
	assert.Equal(t, "https://robohash.org/alice", u.Avatar)
	assert.NotEqual(t, "Secret123", u.Password)
	assert.NotEmpty(t, u.ActiveKeyID)

	tests := []struct {
		name   string
		req    SignUpRequest
		status int
	}{
		{"duplicate email", SignUpRequest{Username: "alice2", Email: "alice@example.com", Password: "Secret123"}, http.StatusConflict},
		{"duplicate username", SignUpRequest{Username: "alice", Email: "other@example.com", Password: "Secret123"}, http.StatusConflict},
		{"weak password", SignUpRequest{Username: "bob", Email: "bob@example.com", Password: "secret"}, http.StatusBadRequest},
		{"bad username", SignUpRequest{Username: "9bob", Email: "bob@example.com", Password: "Secret123"}, http.StatusBadRequest},
		{"bad email", SignUpRequest{Username: "bob", Email: "bob", Password: "Secret123"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := a.do(t, http.MethodPost, "/api/auth/sign-up", tt.req, nil)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.False(t, parse(t, rr, nil).Success)
		})
	}
}

func TestSignInAndOut(t *testing.T) {
	a := newTestAPI(t)
	a.signUp(t, "alice")

	rr := a.do(t, http.MethodPost, "/api/auth/sign-in", SignInRequest{Email: "alice@example.com", Password: "wrong1A"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = a.do(t, http.MethodPost, "/api/auth/sign-in", SignInRequest{Email: "nobody@example.com", Password: "Secret123"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(t, http.MethodPost, "/api/auth/sign-in", SignInRequest{Email: "alice@example.com", Password: "Secret123"}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var user map[string]any
	parse(t, rr, &user)
	assert.Equal(t, "alice", user["username"])
	assert.NotContains(t, user, "password")
	require.NotEmpty(t, rr.Result().Cookies())

	rr = a.do(t, http.MethodGet, "/api/auth/sign-out", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	a := newTestAPI(t)
	for _, path := range []string{
		"/api/auth/renew-keys",
		"/api/chat/get-chat-list",
		"/api/group/get-group-list",
	} {
		rr := a.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestRenewKeys(t *testing.T) {
	a := newTestAPI(t)
	s := a.signUp(t, "alice")
	ctx := context.Background()
	before, err := a.store.GetUserByID(ctx, s.userID)
	require.NoError(t, err)

	rr := a.do(t, http.MethodGet, "/api/auth/renew-keys", nil, s)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var key KeyView
	parse(t, rr, &key)
	assert.NotEqual(t, before.ActiveKeyID, key.ID)
	assert.Contains(t, key.PublicKey, "PUBLIC KEY")

	after, err := a.store.GetUserByID(ctx, s.userID)
	require.NoError(t, err)
	assert.Equal(t, key.ID, after.ActiveKeyID)
	all, err := a.store.ListUserKeys(ctx, s.userID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSearchUsers(t *testing.T) {
	a := newTestAPI(t)
	alice := a.signUp(t, "alice")
	bob := a.signUp(t, "bob")
	a.signUp(t, "bobby")

	search := func(q string) []SearchResult {
		rr := a.do(t, http.MethodPost, "/api/user/search-users", SearchRequest{Username: q}, alice)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var out []SearchResult
		parse(t, rr, &out)
		return out
	}

	found := search("BOB")
	require.Len(t, found, 2)
	for _, r := range found {
		assert.NotContains(t, []string{"bob@example.com", "bobby@example.com"}, r.Email)
		require.Len(t, r.Keys, 1)
		assert.Equal(t, r.ActiveKeyID, r.Keys[0].ID)
	}
	assert.Empty(t, search("alice"))

	_, err := a.chats.Connect(context.Background(), alice.userID, bob.userID)
	require.NoError(t, err)
	found = search("bob")
	require.Len(t, found, 1)
	assert.Equal(t, "bobby", found[0].Username)

	rr := a.do(t, http.MethodPost, "/api/user/search-users", SearchRequest{}, alice)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChatEndpoints(t *testing.T) {
	a := newTestAPI(t)
	alice, bob, eve := a.signUp(t, "alice"), a.signUp(t, "bob"), a.signUp(t, "eve")
	ctx := context.Background()

	res, err := a.chats.Connect(ctx, alice.userID, bob.userID)
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := a.chats.SendDirect(ctx, alice.userID, events.SendMessageRequest{Recipient: bob.userID, ChatID: res.ChatID, Message: text})
		require.NoError(t, err)
	}

	rr := a.do(t, http.MethodGet, "/api/chat/get-chat-list", nil, bob)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []chat.View
	parse(t, rr, &list)
	require.Len(t, list, 1)
	assert.Equal(t, res.ChatID, list[0].ID)

	rr = a.do(t, http.MethodGet, "/api/chat/get-chat-info?chat="+res.ChatID, nil, eve)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = a.do(t, http.MethodGet, "/api/chat/get-chat-info", nil, bob)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = a.do(t, http.MethodGet, "/api/chat/get-chat-info?chat=missing", nil, bob)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = a.do(t, http.MethodGet, "/api/chat/get-messages?chat="+res.ChatID+"&page=1&limit=2", nil, bob)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var msgs []chat.HistoryMessage
	env := parse(t, rr, &msgs)
	assert.Equal(t, 3, env.TotalDocs)
	assert.Equal(t, 2, env.TotalPages)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.NotNil(t, m.Message)
		assert.Contains(t, []string{"one", "two", "three"}, *m.Message)
	}

	rr = a.do(t, http.MethodGet, "/api/chat/get-messages?chat="+res.ChatID+"&page=x", nil, bob)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGroupEndpoints(t *testing.T) {
	a := newTestAPI(t)
	alice, bob := a.signUp(t, "alice"), a.signUp(t, "bob")
	ctx := context.Background()

	rr := a.do(t, http.MethodPost, "/api/group/create-group", CreateGroupRequest{GroupName: "no"}, alice)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(t, http.MethodPost, "/api/group/create-group", CreateGroupRequest{GroupName: "friends_1"}, alice)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var g events.GroupView
	parse(t, rr, &g)
	assert.Equal(t, "friends_1", g.GroupName)

	rr = a.do(t, http.MethodGet, "/api/group/get-group-info?groupId="+g.ID, nil, bob)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	_, err := a.groups.AddMember(ctx, alice.userID, events.GroupMemberRequest{GroupID: g.ID, UserID: bob.userID})
	require.NoError(t, err)
	_, err = a.groups.SendGroup(ctx, alice.userID, events.SendGroupMessageRequest{GroupID: g.ID, Message: "welcome"})
	require.NoError(t, err)

	rr = a.do(t, http.MethodGet, "/api/group/get-group-list", nil, bob)
	require.Equal(t, http.StatusOK, rr.Code)
	var groups []events.GroupView
	env := parse(t, rr, &groups)
	assert.Equal(t, group.DefaultListLimit, env.Limit)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Members, 2)

	rr = a.do(t, http.MethodGet, "/api/group/get-messages?group="+g.ID, nil, bob)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var msgs []group.HistoryMessage
	parse(t, rr, &msgs)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Message)
	assert.Equal(t, "welcome", *msgs[0].Message)
}

func TestStatusOf(t *testing.T) {
	tests := map[apperr.Code]int{
		apperr.CodeValidation:        http.StatusBadRequest,
		apperr.CodeNotFound:          http.StatusNotFound,
		apperr.CodeForbidden:         http.StatusForbidden,
		apperr.CodeUnauthenticated:   http.StatusUnauthorized,
		apperr.CodeAlreadyExists:     http.StatusConflict,
		apperr.CodeConflict:          http.StatusConflict,
		apperr.CodeAdminMustReassign: http.StatusConflict,
		apperr.CodeKey:               http.StatusInternalServerError,
		apperr.CodeCrypto:            http.StatusInternalServerError,
		apperr.CodeUnknown:           http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, statusOf(code), code)
	}
}
