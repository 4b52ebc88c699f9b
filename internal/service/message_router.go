package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"duo-chat/backend/internal/models"
	"duo-chat/backend/internal/repository"
	apperrors "duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/logger"
	"duo-chat/backend/pkg/resilience"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Conn is a live session as seen by the router. Deliver and Ack must not
// block; they report whether the frame was queued.
type Conn interface {
	SessionID() string
	UserID() uint
	Deliver(msg *models.Message) bool
	Ack(msg *models.Message, clientRef string) bool
	Close()
}

// ConnLookup finds the live session of a user
type ConnLookup interface {
	Lookup(userID uint) (Conn, bool)
}

// UserDirectory answers whether a user exists
type UserDirectory interface {
	Exists(ctx context.Context, userID uint) (bool, error)
}

// MediaResolver turns a stored media reference into a fetchable URL
type MediaResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// SubmitRequest is a message a user wants to send
type SubmitRequest struct {
	ReceiverID uint
	Content    *string
	MediaRef   *string
	ClientRef  string
}

// RouterOptions tunes store access of the router
type RouterOptions struct {
	Retry   resilience.RetryPolicy
	Breaker resilience.CircuitBreakerConfig
	Meter   metric.Meter
	Tracer  trace.Tracer
}

// MessageRouter validates, persists and fans out messages. It keeps no state
// of its own beyond the circuit breaker guarding the store.
type MessageRouter struct {
	store   repository.MessageRepository
	users   UserDirectory
	conns   ConnLookup
	media   MediaResolver
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	metrics *routerMetrics
	tracer  trace.Tracer
	log     *logger.Logger
}

func NewMessageRouter(store repository.MessageRepository, users UserDirectory, conns ConnLookup, media MediaResolver, opts RouterOptions, log *logger.Logger) *MessageRouter {
	if opts.Retry.Attempts == 0 {
		opts.Retry = resilience.DefaultRetryPolicy()
	}
	if opts.Breaker.Name == "" {
		opts.Breaker = resilience.DefaultCircuitBreakerConfig("message-store")
	}
	if opts.Breaker.IsFailure == nil {
		opts.Breaker.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}

	return &MessageRouter{
		store:   store,
		users:   users,
		conns:   conns,
		media:   media,
		retry:   opts.Retry,
		breaker: resilience.NewCircuitBreaker(opts.Breaker, log),
		metrics: newRouterMetrics(opts.Meter),
		tracer:  opts.Tracer,
		log:     log,
	}
}

// Submit persists a message from senderID and hands it to the receiver's
// live session, if any. origin, when non-nil, receives the ack. Nothing is
// delivered or acknowledged unless the append succeeded.
func (r *MessageRouter) Submit(ctx context.Context, origin Conn, senderID uint, req SubmitRequest) (*models.Message, error) {
	ctx, span := r.tracer.Start(ctx, "MessageRouter.Submit", trace.WithAttributes(
		attribute.Int64("chat.sender_id", int64(senderID)),
		attribute.Int64("chat.receiver_id", int64(req.ReceiverID)),
	))
	defer span.End()

	msg, err := r.submit(ctx, origin, senderID, req)
	if err != nil {
		code := apperrors.GetErrorCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		r.metrics.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
		return nil, err
	}
	span.SetAttributes(attribute.String("chat.id", msg.ChatID), attribute.Int64("chat.message_id", int64(msg.ID)))
	return msg, nil
}

func (r *MessageRouter) submit(ctx context.Context, origin Conn, senderID uint, req SubmitRequest) (*models.Message, error) {
	msg := &models.Message{
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		FilePath:   req.MediaRef,
	}
	if msg.FilePath != nil && strings.TrimSpace(*msg.FilePath) == "" {
		msg.FilePath = nil
	}

	switch {
	case req.ReceiverID == 0:
		return nil, apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "Receiver ID is required")
	case senderID == req.ReceiverID:
		return nil, apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "You cannot message yourself")
	case !msg.HasBody():
		return nil, apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "Message or file is required")
	}

	ok, err := r.users.Exists(ctx, req.ReceiverID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperrors.NewServiceUnavailableError(apperrors.CodeUnavailable, "User directory unavailable").WithCause(err)
	}
	if !ok {
		return nil, apperrors.NewNotFoundError(apperrors.CodeNotFound, "Receiver not found")
	}

	stored, err := r.append(ctx, msg)
	if err != nil {
		return nil, err
	}
	r.metrics.submitted.Add(ctx, 1)
	r.resolveMedia(ctx, stored)

	if conn, online := r.conns.Lookup(stored.ReceiverID); online && conn.Deliver(stored) {
		r.metrics.delivered.Add(ctx, 1)
	} else {
		r.metrics.deliveryMiss.Add(ctx, 1)
		if online {
			r.log.Debug("receiver session saturated", "user_id", stored.ReceiverID, "message_id", stored.ID)
		}
	}

	if origin != nil && !origin.Ack(stored, req.ClientRef) {
		r.log.Debug("sender session saturated", "user_id", senderID, "message_id", stored.ID)
	}

	return stored, nil
}

// append persists msg with retries on transient store failures
func (r *MessageRouter) append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	start := time.Now()
	defer func() {
		r.metrics.appendLatency.Record(ctx, float64(time.Since(start).Microseconds())/1000)
	}()

	var stored *models.Message
	err := r.breaker.Execute(func() error {
		return resilience.Retry(ctx, r.retry, isTransient, func() error {
			var err error
			stored, err = r.store.Append(ctx, msg)
			return err
		})
	})
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, context.Canceled):
		return nil, err
	case errors.Is(err, resilience.ErrCircuitOpen):
		return nil, apperrors.NewServiceUnavailableError(apperrors.CodeUnavailable, "Message store unavailable").WithCause(err)
	default:
		r.log.LogError(err, "failed to persist message", "chat_id", models.ConversationKey(msg.SenderID, msg.ReceiverID))
		return nil, apperrors.NewServiceUnavailableError(apperrors.CodeUnavailable, "Message store unavailable").WithCause(err)
	}
}

func isTransient(err error) bool {
	return errors.Is(err, repository.ErrStoreUnavailable)
}

func (r *MessageRouter) resolveMedia(ctx context.Context, msg *models.Message) {
	if msg.FilePath == nil || r.media == nil {
		return
	}
	url, err := r.media.Resolve(ctx, *msg.FilePath)
	if err != nil {
		r.log.Warn("failed to resolve media", "message_id", msg.ID, "error", err.Error())
		return
	}
	msg.MediaURL = url
}

// History returns the full conversation chatID as seen by requesterID, who
// must be one of its participants.
func (r *MessageRouter) History(ctx context.Context, requesterID uint, chatID string) ([]models.Message, error) {
	ctx, span := r.tracer.Start(ctx, "MessageRouter.History", trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	a, b, err := models.ParseConversationKey(chatID)
	if err != nil {
		return nil, apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "Invalid chat ID")
	}
	if !models.IsParticipant(chatID, requesterID) {
		return nil, apperrors.NewForbiddenError(apperrors.CodeForbidden, "Unauthorized access to chat")
	}

	for _, id := range []uint{a, b} {
		ok, err := r.users.Exists(ctx, id)
		if err != nil {
			return nil, apperrors.NewServiceUnavailableError(apperrors.CodeUnavailable, "User directory unavailable").WithCause(err)
		}
		if !ok {
			return nil, apperrors.NewNotFoundError(apperrors.CodeNotFound, "Invalid chat participants")
		}
	}

	messages, err := r.store.FetchHistory(ctx, chatID)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.NewServiceUnavailableError(apperrors.CodeUnavailable, "Message store unavailable").WithCause(err)
	}
	for i := range messages {
		r.resolveMedia(ctx, &messages[i])
	}
	return messages, nil
}

// Conversations returns the ids of everyone userID has exchanged messages
// with, ascending
func (r *MessageRouter) Conversations(ctx context.Context, userID uint) ([]uint, error) {
	ids, err := r.store.ListCounterparts(ctx, userID)
	if err != nil {
		return nil, apperrors.NewServiceUnavailableError(apperrors.CodeUnavailable, "Message store unavailable").WithCause(err)
	}
	return ids, nil
}
