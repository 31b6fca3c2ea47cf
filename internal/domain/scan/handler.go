package scan

import (
	"net/http"

	"github.com/stampcard/loyalty-api/internal/middleware"
	"github.com/stampcard/loyalty-api/internal/pkg/errorhandler"
	"github.com/stampcard/loyalty-api/internal/pkg/response"
	"github.com/stampcard/loyalty-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Prepare handles POST /scan/sessions
func (h *Handler) Prepare(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if !decode(w, r, &req) {
		return
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = r.Header.Get("X-Device-ID")
	}

	res, err := h.svc.Prepare(r.Context(), PrepareInput{
		UserID:     middleware.GetUserID(r.Context()),
		BusinessID: req.BusinessID,
		Mode:       Mode(req.Mode),
		Selections: req.selections(),
		DeviceID:   deviceID,
	})
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}

	response.Created(w, PrepareResponse{
		Token:          res.Token,
		ExpiresAt:      res.ExpiresAt,
		CurrentBalance: res.CurrentBalance,
	})
}

// Status handles GET /scan/sessions/status?token=
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		response.BadRequest(w, "token is required")
		return
	}

	view, err := h.svc.SessionStatus(r.Context(), middleware.GetUserID(r.Context()), token)
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}

	response.OK(w, StatusResponse{
		BusinessID:  view.BusinessID,
		Mode:        view.Mode,
		Status:      view.Status,
		Outcome:     view.Outcome,
		ExpiresAt:   view.ExpiresAt,
		CompletedAt: view.CompletedAt,
	})
}

// Resolve handles POST /business/scan/resolve
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.svc.Resolve(r.Context(), req.Token, middleware.GetBusinessID(r.Context()))
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}

	response.OK(w, PreviewResponse{
		Mode:           p.Mode,
		ExpiresAt:      p.ExpiresAt,
		Lines:          p.Lines,
		TotalPoints:    p.TotalPoints,
		CurrentBalance: p.CurrentBalance,
	})
}

// ConfirmAccrual handles POST /business/scan/accrual
func (h *Handler) ConfirmAccrual(w http.ResponseWriter, r *http.Request) {
	var req AccrualRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.ConfirmAccrual(r.Context(), AccrualInput{
		Token:      req.Token,
		BusinessID: middleware.GetBusinessID(r.Context()),
		StaffID:    middleware.GetUserID(r.Context()),
		LocationID: req.LocationID,
		Points:     req.Points,
		Note:       req.Note,
	})
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}

	response.OK(w, AccrualResponse{TransactionID: res.TransactionID, NewBalance: res.NewBalance})
}

// ConfirmRedemption handles POST /business/scan/redemption
func (h *Handler) ConfirmRedemption(w http.ResponseWriter, r *http.Request) {
	var req RedemptionRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.ConfirmRedemption(r.Context(), RedemptionInput{
		Token:      req.Token,
		BusinessID: middleware.GetBusinessID(r.Context()),
		StaffID:    middleware.GetUserID(r.Context()),
		LocationID: req.LocationID,
	})
	if err != nil {
		errorhandler.HandleDomainError(r.Context(), w, err)
		return
	}

	response.OK(w, RedemptionResponse{
		TransactionID:        res.TransactionID,
		NewBalance:           res.NewBalance,
		RedemptionIDs:        nonNilIDs(res.RedemptionIDs),
		PendingRedemptionIDs: nonNilIDs(res.PendingRedemptionIDs),
	})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := response.DecodeJSON(r.Body, v); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	if errs := validator.Validate(v); errs != nil {
		response.ValidationError(w, errs)
		return false
	}
	return true
}

