package api

import (
	"net/http"

	"duo-chat/backend/internal/service"

	"github.com/gin-gonic/gin"
)

// UserHandler serves the user directory
type UserHandler struct {
	users  *service.UserService
	router *service.MessageRouter
}

func NewUserHandler(users *service.UserService, router *service.MessageRouter) *UserHandler {
	return &UserHandler{users: users, router: router}
}

// Search matches users by name, never returning the caller
func (h *UserHandler) Search(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	users, err := h.users.Search(c.Request.Context(), userID, c.Query("query"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// Conversations lists everyone the caller has exchanged messages with
func (h *UserHandler) Conversations(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	ids, err := h.router.Conversations(ctx, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	users, err := h.users.GetMany(ctx, ids)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.users.PresentAll(ctx, users))
}

// UpdateProfile changes the caller's name and/or profile picture
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	avatar, closeAvatar, err := formUpload(c, "profile_pic")
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer closeAvatar()

	user, err := h.users.UpdateProfile(c.Request.Context(), userID, c.PostForm("name"), avatar)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}
