package scan

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ConsumerRoutes returns the consumer scan router, mounted at /scan.
// prepareLimit throttles session preparation per user and device.
func (h *Handler) ConsumerRoutes(authMiddleware, prepareLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.With(prepareLimit).Post("/sessions", h.Prepare)
	r.Get("/sessions/status", h.Status)

	return r
}

// StaffRoutes returns the business terminal router, mounted at /business/scan.
func (h *Handler) StaffRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/resolve", h.Resolve)
	r.Post("/accrual", h.ConfirmAccrual)
	r.Post("/redemption", h.ConfirmRedemption)

	return r
}
