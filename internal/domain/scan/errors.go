package scan

import "github.com/stampcard/loyalty-api/internal/pkg/apperr"

var (
	ErrTokenNotFound        = apperr.New(apperr.KindNotFound, "TOKEN_NOT_FOUND", "token not found")
	ErrSessionNotFound      = apperr.New(apperr.KindNotFound, "SESSION_NOT_FOUND", "scan session not found")
	ErrTokenAlreadyConsumed = apperr.New(apperr.KindStateConflict, "TOKEN_ALREADY_CONSUMED", "token has already been used")
	ErrSessionNotPending    = apperr.New(apperr.KindStateConflict, "SESSION_NOT_PENDING", "scan session is no longer pending")
	ErrNoSelections         = apperr.New(apperr.KindStateConflict, "NO_SELECTIONS", "scan session has no reward selections")
	ErrTokenExpired         = apperr.New(apperr.KindExpired, "TOKEN_EXPIRED", "token has expired")
	ErrBusinessMismatch     = apperr.New(apperr.KindOwnershipMismatch, "BUSINESS_MISMATCH", "token was issued for another business")
	ErrLocationMismatch     = apperr.New(apperr.KindOwnershipMismatch, "LOCATION_MISMATCH", "location does not belong to this business")
	ErrModeMismatch         = apperr.New(apperr.KindInputInvalid, "MODE_MISMATCH", "scan session was prepared for another mode")
	ErrInvalidMode          = apperr.New(apperr.KindInputInvalid, "INVALID_MODE", "mode must be accrual or redemption")
	ErrInvalidSelection     = apperr.New(apperr.KindInputInvalid, "INVALID_SELECTION", "reward selection is invalid")
	ErrInvalidPoints        = apperr.New(apperr.KindInputInvalid, "INVALID_POINTS", "points are out of range")
)
