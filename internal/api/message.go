package api

import (
	"net/http"
	"strconv"

	"duo-chat/backend/internal/models"
	"duo-chat/backend/internal/service"
	"duo-chat/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// MessageHandler exposes history and HTTP submission. Messages sent here
// are delivered live like WebSocket submissions but get no ack frame.
type MessageHandler struct {
	router *service.MessageRouter
	media  *service.MediaService
}

func NewMessageHandler(router *service.MessageRouter, media *service.MediaService) *MessageHandler {
	return &MessageHandler{router: router, media: media}
}

// History returns a whole conversation, oldest first
func (h *MessageHandler) History(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	chatID := c.Param("chatId")
	messages, err := h.router.History(c.Request.Context(), userID, chatID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, models.HistoryResponse{ChatID: chatID, Messages: messages})
}

// Submit sends a text message, optionally referencing uploaded media
func (h *MessageHandler) Submit(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.BadRequestWithDetails(errors.CodeInvalidArgument, "Receiver ID and message content are required", err.Error()))
		return
	}

	msg, err := h.router.Submit(c.Request.Context(), nil, userID, service.SubmitRequest{
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		MediaRef:   req.MediaRef,
		ClientRef:  req.ClientRef,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Message sent", "data": msg})
}

// SubmitMedia uploads a file and sends it as a message in one request
func (h *MessageHandler) SubmitMedia(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	receiverID, err := strconv.ParseUint(c.PostForm("receiver_id"), 10, 0)
	if err != nil || receiverID == 0 {
		_ = c.Error(errors.NewBadRequestError(errors.CodeInvalidArgument, "Receiver ID is required"))
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		_ = c.Error(errors.NewBadRequestError(errors.CodeInvalidArgument, "Message or file is required"))
		return
	}
	upload, closeUpload, err := openUpload(header)
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer closeUpload()

	ctx := c.Request.Context()
	stored, err := h.media.Store(ctx, upload)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var content *string
	if text, ok := c.GetPostForm("content"); ok {
		content = &text
	}

	msg, err := h.router.Submit(ctx, nil, userID, service.SubmitRequest{
		ReceiverID: uint(receiverID),
		Content:    content,
		MediaRef:   &stored.Ref,
	})
	if err != nil {
		h.media.Discard(ctx, stored.Ref)
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": msg})
}

// UploadMedia stores an attachment and returns the reference to submit
func (h *MessageHandler) UploadMedia(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		_ = c.Error(errors.NewBadRequestError(errors.CodeInvalidArgument, "File is required"))
		return
	}
	upload, closeUpload, err := openUpload(header)
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer closeUpload()

	stored, err := h.media.Store(c.Request.Context(), upload)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}
