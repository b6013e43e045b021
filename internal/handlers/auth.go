package handlers

import (
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pliu/cipherchat/internal/auth"
	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/keys"
	"github.com/pliu/cipherchat/internal/logging"
	"github.com/pliu/cipherchat/internal/middleware"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

var usernamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{2,}$`)

var errInvalidCredentials = apperr.Validation("Invalid Credentials")

type SignUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar,omitempty"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// KeyView is the public half of a user key.
type KeyView struct {
	ID        string `json:"_id"`
	PublicKey string `json:"publicKey"`
}

type AuthHandler struct {
	store  store.UserStore
	keys   *keys.Manager
	tokens *auth.Issuer
	log    *zap.Logger
}

func NewAuthHandler(st store.UserStore, km *keys.Manager, tokens *auth.Issuer, log *zap.Logger) *AuthHandler {
	return &AuthHandler{store: st, keys: km, tokens: tokens, log: logging.OrNop(log).Named("auth")}
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decode(r, &req); err != nil {
		sendError(w, h.log, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := validateSignUp(req); err != nil {
		sendError(w, h.log, err)
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetUserByEmail(ctx, req.Email); err == nil {
		sendError(w, h.log, apperr.New(apperr.CodeAlreadyExists, "Email already in use."))
		return
	} else if !apperr.Is(err, store.ErrNotFound) {
		sendError(w, h.log, apperr.Wrap(apperr.CodeInternal, "Signup failed. Try again later", err))
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		sendError(w, h.log, apperr.Wrap(apperr.CodeInternal, "Signup failed. Try again later", err))
		return
	}
	key, err := h.keys.Generate()
	if err != nil {
		sendError(w, h.log, err)
		return
	}

	avatar := req.Avatar
	if avatar == "" {
		avatar = "https://robohash.org/" + req.Username
	}
	user := &models.User{
		ID:       uuid.NewString(),
		Username: req.Username,
		Email:    req.Email,
		Password: string(hashed),
		Avatar:   avatar,
	}
	if err := h.store.CreateUser(ctx, user, key); err != nil {
		if apperr.Is(err, store.ErrDuplicate) {
			sendError(w, h.log, apperr.ErrUsernameTaken)
			return
		}
		sendError(w, h.log, apperr.Wrap(apperr.CodeInternal, "Signup failed. Try again later", err))
		return
	}

	if err := h.startSession(w, user.ID); err != nil {
		sendError(w, h.log, err)
		return
	}
	h.log.Info("user registered", zap.String("user_id", user.ID))
	sendSuccess(w, "User registered successfully!", user)
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decode(r, &req); err != nil {
		sendError(w, h.log, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		sendError(w, h.log, apperr.Validation("email and password are required"))
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		if apperr.Is(err, store.ErrNotFound) {
			sendError(w, h.log, errInvalidCredentials)
			return
		}
		sendError(w, h.log, apperr.Wrap(apperr.CodeInternal, "Sign in failed. Try again later", err))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		sendError(w, h.log, errInvalidCredentials)
		return
	}

	if err := h.startSession(w, user.ID); err != nil {
		sendError(w, h.log, err)
		return
	}
	sendSuccess(w, "Logged in successfully.", user)
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	auth.ClearCookie(w)
	sendSuccess(w, "Logged out successfully.", nil)
}

// RenewKeys appends a fresh key pair for the caller and makes it active.
// Older keys stay on file so existing history still decrypts.
func (h *AuthHandler) RenewKeys(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	key, err := h.keys.Rotate(r.Context(), userID)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendSuccess(w, "Keys renewed successfully.", KeyView{ID: key.ID, PublicKey: key.PublicKey})
}

func (h *AuthHandler) startSession(w http.ResponseWriter, userID string) error {
	token, err := h.tokens.IssueToken(userID)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "could not start session", err)
	}
	h.tokens.SetCookie(w, token)
	return nil
}

func validateSignUp(req SignUpRequest) error {
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		return apperr.Validation("email must be a valid email")
	}
	if !usernamePattern.MatchString(req.Username) {
		return apperr.Validation("Username must start with a letter, be at least 3 characters long and contain only lowercase letters, numbers, or underscores.")
	}
	if !strongPassword(req.Password) {
		return apperr.Validation("Password must be 6-20 characters long, include at least one numeric digit, one lowercase letter, and one uppercase letter.")
	}
	return nil
}

func strongPassword(p string) bool {
	if n := len([]rune(p)); n < 6 || n > 20 {
		return false
	}
	var digit, lower, upper bool
	for _, r := range p {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		}
	}
	return digit && lower && upper
}
