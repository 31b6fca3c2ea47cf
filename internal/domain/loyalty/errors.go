package loyalty

import "github.com/stampcard/loyalty-api/internal/pkg/apperr"

var (
	ErrAccountNotFound    = apperr.New(apperr.KindNotFound, "ACCOUNT_NOT_FOUND", "loyalty account not found")
	ErrAccountInactive    = apperr.New(apperr.KindStateConflict, "ACCOUNT_NOT_ACTIVE", "loyalty account is not active")
	ErrInsufficientPoints = apperr.New(apperr.KindInsufficientPoints, "INSUFFICIENT_POINTS", "not enough points")
)
