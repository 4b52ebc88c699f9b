package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"duo-chat/backend/internal/models"
	"duo-chat/backend/internal/repository"
	"duo-chat/backend/internal/service"
	"duo-chat/backend/internal/ws"
	"duo-chat/backend/pkg/blob"
	apperrors "duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/health"
	"duo-chat/backend/pkg/jwt"
	"duo-chat/backend/pkg/logger"
	"duo-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type fixture struct {
	engine *gin.Engine
	tokens *jwt.Service
	users  repository.UserRepository
	blobs  *blob.LocalStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	users := repository.NewGormUserRepository(db, time.Second)
	require.NoError(t, users.Migrate())
	messages := repository.NewGormMessageRepository(db, time.Second)
	require.NoError(t, messages.Migrate())

	blobs, err := blob.NewLocalStore(blob.LocalConfig{BasePath: t.TempDir(), PublicPrefix: "/uploads", MaxSize: 1 << 20})
	require.NoError(t, err)

	log := logger.Discard()
	tokens := jwt.NewService("api-test-secret", time.Hour)
	directory := service.NewUserService(users, blobs, nil, time.Minute, log)
	auth := service.NewAuthService(users, directory, tokens, log)
	media := service.NewMediaService(blobs, log)
	router := service.NewMessageRouter(messages, directory, ws.NewRegistry(), blobs, service.RouterOptions{}, log)

	authHandler := NewAuthHandler(auth, CookieOptions{}, log)
	userHandler := NewUserHandler(directory, router)
	messageHandler := NewMessageHandler(router, media)

	engine := gin.New()
	engine.Use(apperrors.ErrorHandler())
	jwtAuth := middleware.JWTAuthMiddleware(tokens, log, "")

	engine.POST("/auth/register", authHandler.Register)
	engine.POST("/auth/logout", authHandler.Logout)
	engine.GET("/auth/me", jwtAuth, authHandler.Me)
	engine.GET("/users/search", jwtAuth, userHandler.Search)
	engine.POST("/users/profile", jwtAuth, userHandler.UpdateProfile)
	engine.POST("/messages/media", jwtAuth, messageHandler.SubmitMedia)
	engine.POST("/media", jwtAuth, messageHandler.UploadMedia)
	// no auth middleware: the handler must refuse on its own
	engine.GET("/unguarded/history/:chatId", messageHandler.History)

	return &fixture{engine: engine, tokens: tokens, users: users, blobs: blobs}
}

func (f *fixture) createUser(t *testing.T, name string) (*models.User, string) {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com", Password: "secret123"}
	require.NoError(t, f.users.Create(context.Background(), u))
	token, err := f.tokens.GenerateToken(u.ID, u.Email)
	require.NoError(t, err)
	return u, token
}

type part struct {
	field, filename string
	data            []byte
}

func (f *fixture) multipart(t *testing.T, method, path, token string, fields map[string]string, files ...part) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, p := range files {
		w, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func mediaFiles(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, blob.PrefixMedia))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRegisterWithAvatar(t *testing.T) {
	f := newFixture(t)

	rec := f.multipart(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name":     "Dana",
		"email":    "Dana@Example.com",
		"password": "secret123",
	}, part{field: "profilepic", filename: "me.png", data: pngHeader})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		User models.UserResponse `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "dana@example.com", resp.User.Email)
	assert.NotEmpty(t, resp.User.ProfilePicURL)

	rec = f.multipart(t, http.MethodPost, "/auth/register", "", map[string]string{"name": "NoMail"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutExpiresCookie(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.TokenCookieName, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestMeEchoesToken(t *testing.T) {
	f := newFixture(t)
	_, token := f.createUser(t, "erin")

	rec := f.get(t, "/auth/me", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		User  models.UserResponse `json:"user"`
		Token string              `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, token, resp.Token)
	assert.Equal(t, "erin@example.com", resp.User.Email)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	_, token := f.createUser(t, "frank")
	f.createUser(t, "francesca")

	rec := f.get(t, "/users/search?query=fra", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var found []models.UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "francesca", found[0].Name)
	assert.Empty(t, found[0].Email)

	rec = f.get(t, "/users/search?query=%20", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	_, token := f.createUser(t, "gail")

	rec := f.multipart(t, http.MethodPost, "/users/profile", token, map[string]string{"name": "Gail G"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Gail G")

	rec = f.multipart(t, http.MethodPost, "/users/profile", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.multipart(t, http.MethodPost, "/users/profile", token, nil,
		part{field: "profile_pic", filename: "notes.txt", data: []byte("plain text, not an image")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadMedia(t *testing.T) {
	f := newFixture(t)
	_, token := f.createUser(t, "hank")

	rec := f.multipart(t, http.MethodPost, "/media", token, nil, part{field: "file", filename: "pic.png", data: pngHeader})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var stored service.StoredMedia
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.NotEmpty(t, stored.Ref)
	assert.Equal(t, "image/png", stored.ContentType)
	assert.Len(t, mediaFiles(t, f.blobs.BasePath()), 1)

	rec = f.multipart(t, http.MethodPost, "/media", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.multipart(t, http.MethodPost, "/media", "", nil, part{field: "file", filename: "pic.png", data: pngHeader})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitMedia(t *testing.T) {
	f := newFixture(t)
	_, token := f.createUser(t, "ivy")
	jack, _ := f.createUser(t, "jack")

	rec := f.multipart(t, http.MethodPost, "/messages/media", token,
		map[string]string{"receiver_id": strconv.Itoa(int(jack.ID)), "content": "look"},
		part{field: "file", filename: "pic.png", data: pngHeader})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Success bool            `json:"success"`
		Message *models.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "look", *resp.Message.Content)
	assert.NotEmpty(t, resp.Message.MediaURL)

	rec = f.multipart(t, http.MethodPost, "/messages/media", token, nil,
		part{field: "file", filename: "pic.png", data: pngHeader})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// the upload is discarded when the message is rejected
	before := len(mediaFiles(t, f.blobs.BasePath()))
	rec = f.multipart(t, http.MethodPost, "/messages/media", token,
		map[string]string{"receiver_id": "4242"},
		part{field: "file", filename: "pic.png", data: pngHeader})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, mediaFiles(t, f.blobs.BasePath()), before)
}

func TestHandlersRequireAuthenticatedUser(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/unguarded/history/1_2", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := health.NewChecker(logger.Discard(), time.Minute)
	down := false
	checker.RegisterCheck("database", true, func(context.Context) (health.Status, string, error) {
		if down {
			return health.StatusDown, "Database connection failed", errors.New("dial tcp: refused")
		}
		return health.StatusUp, "ok", nil
	})

	h := NewHealthHandler(checker, func() int { return 3 }, "1.2.3")
	engine := gin.New()
	engine.GET("/health", h.Health)

	checker.RunChecks(context.Background())
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, 3, resp.WebSocket.ActiveConnections)
	assert.Contains(t, resp.Components, "database")

	down = true
	checker.RunChecks(context.Background())
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
