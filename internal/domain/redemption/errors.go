package redemption

import "github.com/stampcard/loyalty-api/internal/pkg/apperr"

var (
	ErrNotFound         = apperr.New(apperr.KindNotFound, "REDEMPTION_NOT_FOUND", "redemption not found")
	ErrBusinessMismatch = apperr.New(apperr.KindOwnershipMismatch, "BUSINESS_MISMATCH", "redemption belongs to another business")
	ErrAlreadyConfirmed = apperr.New(apperr.KindStateConflict, "ALREADY_CONFIRMED", "redemption is already confirmed")
	ErrCancelled        = apperr.New(apperr.KindStateConflict, "REDEMPTION_CANCELLED", "redemption was cancelled")
	ErrVersionConflict  = apperr.New(apperr.KindStateConflict, "VERSION_CONFLICT", "redemption was modified by another request")
)
