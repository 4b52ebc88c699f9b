package api

import (
	"mime/multipart"

	"duo-chat/backend/internal/service"
	"duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// currentUser returns the authenticated user id, reporting 401 when absent
func currentUser(c *gin.Context) (uint, bool) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		_ = c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Authentication required"))
		c.Abort()
	}
	return userID, ok
}

// formUpload opens an optional multipart file. The returned close func is
// never nil.
func formUpload(c *gin.Context, field string) (*service.Upload, func(), error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, func() {}, nil
	}
	return openUpload(header)
}

func openUpload(header *multipart.FileHeader) (*service.Upload, func(), error) {
	f, err := header.Open()
	if err != nil {
		return nil, func() {}, errors.NewBadRequestError(errors.CodeInvalidArgument, "Unreadable file")
	}
	return &service.Upload{Body: f, Size: header.Size}, func() { _ = f.Close() }, nil
}
