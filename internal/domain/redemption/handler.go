package redemption

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stampcard/loyalty-api/internal/middleware"
	"github.com/stampcard/loyalty-api/internal/pkg/errorhandler"
	"github.com/stampcard/loyalty-api/internal/pkg/response"
	"github.com/stampcard/loyalty-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

// settleRequest is the optional body of confirm and cancel.
type settleRequest struct {
	RowVersion *int64 `json:"row_version" validate:"omitempty,gte=1"`
}

type listQuery struct {
	Status string `json:"status" validate:"redemption_status"`
}

type confirmResponse struct {
	Redemption *Redemption `json:"redemption"`
	NewBalance int64       `json:"new_balance"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List handles GET /business/redemptions?status=pending
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := listQuery{Status: r.URL.Query().Get("status")}
	if errs := validator.Validate(q); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	p := Pagination{Limit: 20}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		p.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		p.Offset = v
	}

	items, err := h.svc.List(r.Context(), middleware.GetBusinessID(r.Context()), Status(q.Status), p)
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}
	response.OK(w, items)
}

// Get handles GET /business/redemptions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid redemption ID")
		return
	}

	red, err := h.svc.Get(r.Context(), middleware.GetBusinessID(r.Context()), id)
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}
	response.OK(w, red)
}

// Confirm handles POST /business/redemptions/{id}/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, req, ok := parseSettle(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Confirm(r.Context(), ConfirmInput{
		RedemptionID: id,
		BusinessID:   middleware.GetBusinessID(r.Context()),
		StaffID:      middleware.GetUserID(r.Context()),
		RowVersion:   req.RowVersion,
	})
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}
	response.OK(w, confirmResponse{Redemption: res.Redemption, NewBalance: res.NewBalance})
}

// Cancel handles POST /business/redemptions/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, req, ok := parseSettle(w, r)
	if !ok {
		return
	}

	red, err := h.svc.Cancel(r.Context(), CancelInput{
		RedemptionID: id,
		BusinessID:   middleware.GetBusinessID(r.Context()),
		StaffID:      middleware.GetUserID(r.Context()),
		RowVersion:   req.RowVersion,
	})
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}
	response.OK(w, red)
}

func parseSettle(w http.ResponseWriter, r *http.Request) (uuid.UUID, settleRequest, bool) {
	var req settleRequest
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid redemption ID")
		return uuid.Nil, req, false
	}
	// The body is optional.
	if err := response.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid JSON body")
		return uuid.Nil, req, false
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return uuid.Nil, req, false
	}
	return id, req, true
}

// StaffRoutes are mounted under /business/redemptions behind staff auth.
func (h *Handler) StaffRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/confirm", h.Confirm)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}
