package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/avatar"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/service"
)

// AvatarUploader persists an uploaded image and returns its stored name.
// *avatar.Store implements it.
type AvatarUploader interface {
	Save(r io.Reader) (string, error)
}

// AccountHandler serves the /users endpoints.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister           → create an account
//   - HandleLogin              → check credentials, issue a session token
//   - HandleLogout             → end the current session
//   - HandleCurrent            → return the caller's profile
//   - HandleUpdateSubscription → change plan
//   - HandleUpdateAvatar       → accept an image upload and point the avatar at it
//
// Everything after login runs behind auth.RequireSession, so those handlers
// read the caller from the request context instead of parsing headers.
type AccountHandler struct {
	accounts *service.AccountService
	uploads  AvatarUploader
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts *service.AccountService, uploads AvatarUploader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		uploads:  uploads,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// credentialsRequest is the body of register and login.
type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

type subscriptionRequest struct {
	Subscription string `json:"subscription"`
}

// publicUser is the part of a user a client gets back from register and login.
type publicUser struct {
	Email        string             `json:"email"`
	Subscription model.Subscription `json:"subscription"`
}

// profileResponse is the full view a user gets of their own account.
type profileResponse struct {
	ID           string             `json:"id"`
	Email        string             `json:"email"`
	Subscription model.Subscription `json:"subscription"`
	AvatarURL    string             `json:"avatarURL"`
}

type loginResponse struct {
	Token string     `json:"token"`
	User  publicUser `json:"user"`
}

type avatarResponse struct {
	AvatarURL string `json:"avatarURL"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// HandleRegister creates an account.
//
// HTTP: POST /users/register
// REQUEST BODY: {"email": "a@x.com", "password": "secret"}
// RESPONSE: 201 {"email": "a@x.com", "subscription": "free"}
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logFailure("register", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPublicUser(user))
}

// HandleLogin checks credentials and returns a fresh session token.
//
// HTTP: POST /users/login
// RESPONSE: 200 {"token": "...", "user": {"email": "...", "subscription": "..."}}
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logFailure("login", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: res.Token,
		User:  toPublicUser(res.User),
	})
}

// HandleLogout ends the caller's session.
//
// HTTP: POST /users/logout
// RESPONSE: 204 No Content
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	if err := h.accounts.Logout(r.Context(), user); err != nil {
		h.logFailure("logout", err)
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleCurrent returns the caller's profile.
//
// HTTP: GET /users/current
func (h *AccountHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toProfile(user))
}

// HandleUpdateSubscription moves the caller to another plan.
//
// HTTP: PATCH /users/subscription
// REQUEST BODY: {"subscription": "pro"}
func (h *AccountHandler) HandleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	var req subscriptionRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.accounts.UpdateSubscription(r.Context(), user, req.Subscription)
	if err != nil {
		h.logFailure("update subscription", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfile(updated))
}

// HandleUpdateAvatar stores an uploaded image and makes it the caller's avatar.
//
// HTTP: PATCH /users/avatar (multipart/form-data, field "avatar")
// RESPONSE: 200 {"avatarURL": "http://host/images/<name>"}
//
// The body is capped at avatar.MaxUploadBytes plus a little room for the
// multipart framing; anything bigger fails while parsing.
func (h *AccountHandler) HandleUpdateAvatar(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, avatar.MaxUploadBytes+(64<<10))
	if err := r.ParseMultipartForm(avatar.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, apperror.ValidationFailed("avatar", "avatar must be 5 MB or smaller"))
			return
		}
		writeError(w, apperror.ValidationFailed("avatar", "expected a multipart form with an \"avatar\" file"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, apperror.ValidationFailed("avatar", "avatar file is required"))
		return
	}
	defer file.Close()

	name, err := h.uploads.Save(file)
	if err != nil {
		h.logFailure("save avatar", err)
		writeError(w, err)
		return
	}

	updated, err := h.accounts.UpdateAvatar(r.Context(), user, name)
	if err != nil {
		h.logFailure("update avatar", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, avatarResponse{AvatarURL: updated.AvatarURL})
}

// HandleHealth reports whether the user store answers.
//
// HTTP: GET /healthz
func (h *AccountHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// sessionUser pulls the user RequireSession attached. A missing user means
// the route was mounted without the middleware; treat it as unauthorized.
func (h *AccountHandler) sessionUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Not authorized"))
		return nil, false
	}
	return user, true
}

// logFailure logs unexpected errors at Error and expected client errors at Debug.
func (h *AccountHandler) logFailure(op string, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && !errors.Is(err, context.Canceled) {
		h.logger.Debug(op+" rejected", slog.String("reason", appErr.Message))
		return
	}
	h.logger.Error(op+" failed", slog.String("error", err.Error()))
}

func toPublicUser(u *model.User) publicUser {
	return publicUser{Email: u.Email, Subscription: u.Subscription}
}

func toProfile(u *model.User) profileResponse {
	return profileResponse{
		ID:           u.ID,
		Email:        u.Email,
		Subscription: u.Subscription,
		AvatarURL:    u.AvatarURL,
	}
}
