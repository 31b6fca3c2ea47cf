package errorhandler

import (
	"context"
	"net/http"

	"github.com/stampcard/loyalty-api/internal/pkg/apperr"
	"github.com/stampcard/loyalty-api/internal/pkg/logger"
	"github.com/stampcard/loyalty-api/internal/pkg/response"
)

// HandleError logs err with the request-scoped logger and sends a formatted
// error response. The cause is logged, never sent to the client.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	event := logger.FromContext(ctx).Error().
		Str("error_code", code).
		Int("status_code", status)

	if err != nil {
		event.Err(err)
	}

	event.Msg("Request error")

	response.Error(w, status, code, message)
}

// HandleDomainError answers with the status and code carried by a typed
// domain error. Untyped and internal errors become a logged 500.
func HandleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		HandleError(ctx, w, status, apperr.ErrInternal.Code, "An unexpected error occurred", err)
		return
	}

	logger.FromContext(ctx).Debug().
		Str("error_code", apperr.CodeOf(err)).
		Int("status_code", status).
		Msg("Domain failure")

	response.Error(w, status, apperr.CodeOf(err), apperr.MessageOf(err))
}
