package errors

import (
	stderrors "errors"
	"net/http"
)

// As unwraps err looking for an *AppError
func As(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// FromError converts a standard error to an AppError.
// AppErrors anywhere in the chain are returned as-is; anything else becomes
// an internal error whose message does not leak the cause.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := As(err); appErr != nil {
		return appErr
	}
	return NewInternalServerError(CodeInternal, "An unexpected error occurred").WithCause(err)
}

// GetStatusCode extracts the HTTP status code, 500 if err is not an AppError
func GetStatusCode(err error) int {
	if appErr := As(err); appErr != nil {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code, CodeInternal if err is not an AppError
func GetErrorCode(err error) string {
	if appErr := As(err); appErr != nil {
		return appErr.Code
	}
	return CodeInternal
}

// GetErrorMessage extracts the client-facing message
func GetErrorMessage(err error) string {
	if appErr := As(err); appErr != nil {
		return appErr.Message
	}
	return "An unexpected error occurred"
}

// BadRequestWithDetails creates a 400 Bad Request error with details
func BadRequestWithDetails(code string, message string, details any) *AppError {
	return NewBadRequestError(code, message).WithDetails(details)
}
