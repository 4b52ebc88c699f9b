package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromErrorKeepsWrappedAppError(t *testing.T) {
	base := NewNotFoundError(CodeNotFound, "receiver not found")
	wrapped := fmt.Errorf("submit: %w", base)

	got := FromError(wrapped)
	assert.Same(t, base, got)
	assert.Equal(t, http.StatusNotFound, GetStatusCode(wrapped))
	assert.Equal(t, CodeNotFound, GetErrorCode(wrapped))
}

func TestFromErrorHidesPlainErrors(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	got := FromError(cause)

	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	assert.Equal(t, CodeInternal, got.Code)
	assert.NotContains(t, got.Message, "connection refused")
	assert.ErrorIs(t, got, cause)
}

func TestIsComparesCodes(t *testing.T) {
	err := NewServiceUnavailableError(CodeUnavailable, "store unavailable")
	assert.True(t, Is(err, NewServiceUnavailableError(CodeUnavailable, "")))
	assert.False(t, Is(err, NewNotFoundError(CodeNotFound, "")))
	assert.False(t, Is(stderrors.New("x"), NewNotFoundError(CodeNotFound, "")))
}

func TestErrorHandlerRendersEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(NewForbiddenError(CodeForbidden, "not a participant"))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":{"code":"FORBIDDEN","message":"not a participant","details":null}}`, w.Body.String())
}

func TestRecoveryWithLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryWithLogger())
	r.GET("/panic", func(c *gin.Context) {
		panic("unexpected")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "SERVER_ERROR")
}
