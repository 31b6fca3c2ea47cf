package ledger

import "github.com/stampcard/loyalty-api/internal/pkg/apperr"

var (
	ErrZeroDelta    = apperr.New(apperr.KindInputInvalid, "INVALID_POINTS", "points delta must not be zero")
	ErrNoteRequired = apperr.New(apperr.KindInputInvalid, "NOTE_REQUIRED", "adjustments require a note")
)
