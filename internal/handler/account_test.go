package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/avatar"
	"github.com/sakif/account-service/internal/handler"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository/sqlite"
	"github.com/sakif/account-service/internal/service"
)

const testPublicURL = "http://accounts.test"

type testEnv struct {
	h       *handler.AccountHandler
	svc     *service.AccountService
	avatars *avatar.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := avatar.NewStore(filepath.Join(t.TempDir(), "images"))
	require.NoError(t, err)

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789")
	require.NoError(t, err)
	passwords, err := auth.NewPasswordService(4)
	require.NoError(t, err)

	svc := service.NewAccountService(db, tokens, passwords, store,
		service.AccountConfig{PublicURL: testPublicURL}, logger)

	return &testEnv{
		h:       handler.NewAccountHandler(svc, store, logger),
		svc:     svc,
		avatars: store,
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// loggedIn registers and logs in a user, returning it with its token.
func (e *testEnv) loggedIn(t *testing.T, email string) (*model.User, string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.svc.Register(ctx, email, "pw123456")
	require.NoError(t, err)
	res, err := e.svc.Login(ctx, email, "pw123456")
	require.NoError(t, err)
	return res.User, res.Token
}

func withSession(req *http.Request, user *model.User, token string) *http.Request {
	return req.WithContext(auth.WithSession(req.Context(), user, token))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var body handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func pngUpload(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "me.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{B: 0xff, A: 0xff})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHandleRegister(t *testing.T) {
	t.Run("creates account", func(t *testing.T) {
		env := newTestEnv(t)
		rr := httptest.NewRecorder()

		env.h.HandleRegister(rr, jsonRequest(http.MethodPost, "/users/register", `{"email":"a@x.com","password":"pw123"}`))

		assert.Equal(t, http.StatusCreated, rr.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, map[string]string{"email": "a@x.com", "subscription": "free"}, body)
	})

	t.Run("duplicate email", func(t *testing.T) {
		env := newTestEnv(t)
		body := `{"email":"a@x.com","password":"pw123"}`
		env.h.HandleRegister(httptest.NewRecorder(), jsonRequest(http.MethodPost, "/users/register", body))

		rr := httptest.NewRecorder()
		env.h.HandleRegister(rr, jsonRequest(http.MethodPost, "/users/register", body))

		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "conflict", decodeError(t, rr).Error)
	})

	bad := map[string]string{
		"malformed json":   `{"email":`,
		"missing email":    `{"password":"pw123"}`,
		"invalid email":    `{"email":"not-an-email","password":"pw123"}`,
		"missing password": `{"email":"a@x.com"}`,
		"unknown field":    `{"email":"a@x.com","password":"pw123","admin":true}`,
		"long password":    `{"email":"a@x.com","password":"` + strings.Repeat("p", 73) + `"}`,
	}
	for name, body := range bad {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			rr := httptest.NewRecorder()

			env.h.HandleRegister(rr, jsonRequest(http.MethodPost, "/users/register", body))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "validation_error", decodeError(t, rr).Error)
		})
	}
}

func TestHandleLogin(t *testing.T) {
	env := newTestEnv(t)
	env.h.HandleRegister(httptest.NewRecorder(),
		jsonRequest(http.MethodPost, "/users/register", `{"email":"a@x.com","password":"pw123"}`))

	t.Run("success", func(t *testing.T) {
		rr := httptest.NewRecorder()
		env.h.HandleLogin(rr, jsonRequest(http.MethodPost, "/users/login", `{"email":"a@x.com","password":"pw123"}`))

		require.Equal(t, http.StatusOK, rr.Code)
		var body struct {
			Token string `json:"token"`
			User  struct {
				Email        string `json:"email"`
				Subscription string `json:"subscription"`
			} `json:"user"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.NotEmpty(t, body.Token)
		assert.Equal(t, "a@x.com", body.User.Email)
		assert.Equal(t, "free", body.User.Subscription)

		_, err := env.svc.Authorize(context.Background(), body.Token)
		assert.NoError(t, err)
	})

	t.Run("wrong password and unknown email look the same", func(t *testing.T) {
		wrong := httptest.NewRecorder()
		env.h.HandleLogin(wrong, jsonRequest(http.MethodPost, "/users/login", `{"email":"a@x.com","password":"nope"}`))
		unknown := httptest.NewRecorder()
		env.h.HandleLogin(unknown, jsonRequest(http.MethodPost, "/users/login", `{"email":"b@x.com","password":"pw123"}`))

		assert.Equal(t, http.StatusUnauthorized, wrong.Code)
		assert.Equal(t, http.StatusUnauthorized, unknown.Code)
		assert.Equal(t, decodeError(t, wrong), decodeError(t, unknown))
	})

	t.Run("missing fields", func(t *testing.T) {
		rr := httptest.NewRecorder()
		env.h.HandleLogin(rr, jsonRequest(http.MethodPost, "/users/login", `{}`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestHandleLogout(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.loggedIn(t, "a@x.com")

	rr := httptest.NewRecorder()
	env.h.HandleLogout(rr, withSession(httptest.NewRequest(http.MethodPost, "/users/logout", nil), user, token))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())

	_, err := env.svc.Authorize(context.Background(), token)
	assert.Error(t, err, "token must stop working after logout")
}

func TestHandleCurrent(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.loggedIn(t, "a@x.com")

	rr := httptest.NewRecorder()
	env.h.HandleCurrent(rr, withSession(httptest.NewRequest(http.MethodGet, "/users/current", nil), user, token))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, user.ID, body["id"])
	assert.Equal(t, "a@x.com", body["email"])
	assert.Equal(t, "free", body["subscription"])
	assert.True(t, strings.HasPrefix(body["avatarURL"], testPublicURL+"/images/"), body["avatarURL"])
	assert.NotContains(t, rr.Body.String(), "password")
	assert.NotContains(t, rr.Body.String(), token)
}

func TestHandlers_WithoutSession(t *testing.T) {
	env := newTestEnv(t)

	handlers := map[string]http.HandlerFunc{
		"logout":       env.h.HandleLogout,
		"current":      env.h.HandleCurrent,
		"subscription": env.h.HandleUpdateSubscription,
		"avatar":       env.h.HandleUpdateAvatar,
	}
	for name, fn := range handlers {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			fn(rr, httptest.NewRequest(http.MethodPost, "/", nil))
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestHandleUpdateSubscription(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.loggedIn(t, "a@x.com")

	t.Run("valid", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := withSession(jsonRequest(http.MethodPatch, "/users/subscription", `{"subscription":"pro"}`), user, token)
		env.h.HandleUpdateSubscription(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "pro", body["subscription"])
	})

	t.Run("invalid leaves plan unchanged", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := withSession(jsonRequest(http.MethodPatch, "/users/subscription", `{"subscription":"gold"}`), user, token)
		env.h.HandleUpdateSubscription(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Message, "free, pro, premium")

		current, err := env.svc.Authorize(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionPro, current.Subscription)
	})
}

func TestHandleUpdateAvatar(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.loggedIn(t, "a@x.com")

	t.Run("stores upload and returns its URL", func(t *testing.T) {
		data := tinyPNG(t)
		body, ct := pngUpload(t, "avatar", data)
		req := withSession(httptest.NewRequest(http.MethodPatch, "/users/avatar", body), user, token)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()

		env.h.HandleUpdateAvatar(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var resp map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		url := resp["avatarURL"]
		assert.True(t, strings.HasPrefix(url, testPublicURL+"/images/"), url)

		stored, err := os.ReadFile(filepath.Join(env.avatars.Dir(), path.Base(url)))
		require.NoError(t, err)
		assert.Equal(t, data, stored)
	})

	t.Run("missing field", func(t *testing.T) {
		body, ct := pngUpload(t, "picture", tinyPNG(t))
		req := withSession(httptest.NewRequest(http.MethodPatch, "/users/avatar", body), user, token)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()

		env.h.HandleUpdateAvatar(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		req := withSession(jsonRequest(http.MethodPatch, "/users/avatar", `{}`), user, token)
		rr := httptest.NewRecorder()

		env.h.HandleUpdateAvatar(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("not an image", func(t *testing.T) {
		body, ct := pngUpload(t, "avatar", []byte("just some text, really"))
		req := withSession(httptest.NewRequest(http.MethodPatch, "/users/avatar", body), user, token)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()

		env.h.HandleUpdateAvatar(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("too large", func(t *testing.T) {
		big := append(tinyPNG(t), bytes.Repeat([]byte{0}, avatar.MaxUploadBytes+(128<<10))...)
		body, ct := pngUpload(t, "avatar", big)
		req := withSession(httptest.NewRequest(http.MethodPatch, "/users/avatar", body), user, token)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()

		env.h.HandleUpdateAvatar(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()

	env.h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
