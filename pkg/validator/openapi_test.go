package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"duo-chat/backend/api"
	"duo-chat/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidatedEngine(t *testing.T) *gin.Engine {
	t.Helper()
	v, err := NewOpenAPIValidator(api.OpenAPI)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(errors.ErrorHandler(), v.Middleware())
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	r.POST("/api/v1/messages", ok)
	r.GET("/api/v1/messages/:chatId", ok)
	r.GET("/api/v1/users/search", ok)
	r.GET("/unlisted", ok)
	return r
}

func TestRejectsInvalidJSONBody(t *testing.T) {
	r := newValidatedEngine(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(`{"receiver_id": 0}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), errors.CodeInvalidArgument)
}

func TestAcceptsValidJSONBody(t *testing.T) {
	r := newValidatedEngine(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(`{"receiver_id": 3, "content": "hi"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestValidatesPathAndQuery(t *testing.T) {
	r := newValidatedEngine(t)

	cases := map[string]int{
		"/api/v1/messages/3_7":          http.StatusNoContent,
		"/api/v1/messages/general":      http.StatusBadRequest,
		"/api/v1/users/search?query=al": http.StatusNoContent,
		"/api/v1/users/search":          http.StatusBadRequest,
		"/unlisted":                     http.StatusNoContent,
	}
	for path, want := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
}

func TestLoadRejectsBrokenDocument(t *testing.T) {
	_, err := NewOpenAPIValidator([]byte("openapi: 3.0.3\npaths: 12\n"))
	assert.Error(t, err)
}
