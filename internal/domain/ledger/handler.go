package ledger

import (
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

type adjustmentRequest struct {
	PointsDelta int64  `json:"points_delta" validate:"ne=0,gte=-1000000,lte=1000000"`
	Note        string `json:"note" validate:"required,max=500"`
}

type postingResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	NewBalance    int64     `json:"new_balance"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Balance handles GET /loyalty/accounts/{businessID}
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		response.BadRequest(w, "Invalid business ID")
		return
	}

	acc, err := h.svc.Balance(r.Context(), middleware.GetUserID(r.Context()), businessID)
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}

	response.OK(w, acc)
}

// History handles GET /loyalty/accounts/{businessID}/transactions
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		response.BadRequest(w, "Invalid business ID")
		return
	}

	p := paginationFromQuery(r)
	items, total, err := h.svc.History(r.Context(), middleware.GetUserID(r.Context()), businessID, p)
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}

	response.WithMeta(w, items, response.Meta{Total: total, Limit: p.Limit, Offset: p.Offset})
}

// Adjust handles POST /business/accounts/{id}/adjustments
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid account ID")
		return
	}

	var req adjustmentRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	posting, err := h.svc.Adjust(r.Context(), Adjustment{
		AccountID:  accountID,
		BusinessID: middleware.GetBusinessID(r.Context()),
		StaffID:    middleware.GetUserID(r.Context()),
		Delta:      req.PointsDelta,
		Note:       req.Note,
	})
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}

	response.Created(w, postingResponse{
		TransactionID: posting.Transaction.ID,
		NewBalance:    posting.Balance,
	})
}

// Reconcile handles GET /business/accounts/{id}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid account ID")
		return
	}

	rec, err := h.svc.Reconcile(r.Context(), middleware.GetBusinessID(r.Context()), accountID)
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}

	response.OK(w, rec)
}

// ConsumerRoutes are mounted under /loyalty/accounts behind consumer auth.
func (h *Handler) ConsumerRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/{businessID}", h.Balance)
	r.Get("/{businessID}/transactions", h.History)
	return r
}

// StaffRoutes are mounted under /business/accounts behind staff auth.
func (h *Handler) StaffRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/{id}/adjustments", h.Adjust)
	r.Get("/{id}/reconcile", h.Reconcile)
	return r
}

func paginationFromQuery(r *http.Request) Pagination {
	p := Pagination{Limit: 20}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		p.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		p.Offset = v
	}
	return p
}
