package scan

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stampcard/loyalty-api/internal/middleware"
	"github.com/stampcard/loyalty-api/internal/pkg/jwt"
	"github.com/stampcard/loyalty-api/internal/pkg/tokencodec"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func newTestRouter(f *fixture, jwtSvc *jwt.Service) chi.Router {
	h := NewHandler(f.svc)
	passthrough := func(next http.Handler) http.Handler { return next }

	consumerAuth := func(next http.Handler) http.Handler {
		return middleware.Auth(jwtSvc)(middleware.RequireConsumer()(next))
	}
	staffAuth := func(next http.Handler) http.Handler {
		return middleware.Auth(jwtSvc)(middleware.RequireStaff()(next))
	}

	r := chi.NewRouter()
	r.Mount("/api/v1/scan", h.ConsumerRoutes(consumerAuth, passthrough))
	r.Mount("/api/v1/business/scan", h.StaffRoutes(staffAuth))
	return r
}

func doRequest(t *testing.T, r http.Handler, token, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestScanEndpoints(t *testing.T) {
	f := newFixture(t, 5)
	jwtSvc := jwt.NewService("scan-handler-secret", time.Hour)
	r := newTestRouter(f, jwtSvc)

	consumerToken, err := jwtSvc.GenerateAccessToken(f.userID, jwt.RoleConsumer, uuid.Nil)
	require.NoError(t, err)
	staffToken, err := jwtSvc.GenerateAccessToken(f.staffID, jwt.RoleStaff, f.businessID)
	require.NoError(t, err)

	var qr string
	t.Run("consumer prepares accrual", func(t *testing.T) {
		rec, body := doRequest(t, r, consumerToken, http.MethodPost, "/api/v1/scan/sessions", map[string]interface{}{
			"business_id": f.businessID,
			"mode":        "accrual",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var data PrepareResponse
		require.NoError(t, json.Unmarshal(body.Data, &data))
		require.Len(t, data.Token, tokencodec.TokenLength)
		require.Equal(t, int64(5), data.CurrentBalance)
		qr = data.Token
	})

	t.Run("staff cannot prepare", func(t *testing.T) {
		rec, _ := doRequest(t, r, staffToken, http.MethodPost, "/api/v1/scan/sessions", map[string]interface{}{
			"business_id": f.businessID,
			"mode":        "accrual",
		})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("invalid mode is a validation error", func(t *testing.T) {
		rec, body := doRequest(t, r, consumerToken, http.MethodPost, "/api/v1/scan/sessions", map[string]interface{}{
			"business_id": f.businessID,
			"mode":        "gift",
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.Contains(t, body.Error.Details, "mode")
	})

	t.Run("staff resolves", func(t *testing.T) {
		rec, body := doRequest(t, r, staffToken, http.MethodPost, "/api/v1/business/scan/resolve", map[string]interface{}{
			"token": qr,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var data PreviewResponse
		require.NoError(t, json.Unmarshal(body.Data, &data))
		require.Equal(t, ModeAccrual, data.Mode)
	})

	t.Run("staff confirms accrual", func(t *testing.T) {
		rec, body := doRequest(t, r, staffToken, http.MethodPost, "/api/v1/business/scan/accrual", map[string]interface{}{
			"token":  qr,
			"points": 3,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var data AccrualResponse
		require.NoError(t, json.Unmarshal(body.Data, &data))
		require.Equal(t, int64(8), data.NewBalance)
	})

	t.Run("second confirmation conflicts", func(t *testing.T) {
		rec, body := doRequest(t, r, staffToken, http.MethodPost, "/api/v1/business/scan/accrual", map[string]interface{}{
			"token":  qr,
			"points": 3,
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, "TOKEN_ALREADY_CONSUMED", body.Error.Code)
	})

	t.Run("consumer polls status", func(t *testing.T) {
		rec, body := doRequest(t, r, consumerToken, http.MethodGet, "/api/v1/scan/sessions/status?token="+qr, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var data StatusResponse
		require.NoError(t, json.Unmarshal(body.Data, &data))
		require.Equal(t, StatusCompleted, data.Status)
		require.Equal(t, OutcomeCompleted, data.Outcome)
	})

	t.Run("pricing input is rejected", func(t *testing.T) {
		rec, _ := doRequest(t, r, staffToken, http.MethodPost, "/api/v1/business/scan/redemption", map[string]interface{}{
			"token":        qr,
			"total_points": 1,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExpiredTokenIsGone(t *testing.T) {
	f := newFixture(t, 0)
	jwtSvc := jwt.NewService("scan-handler-secret", time.Hour)
	r := newTestRouter(f, jwtSvc)

	qr := f.prepare(t, ModeAccrual)
	f.clock.Advance(6 * time.Minute)

	staffToken, err := jwtSvc.GenerateAccessToken(f.staffID, jwt.RoleStaff, f.businessID)
	require.NoError(t, err)

	rec, body := doRequest(t, r, staffToken, http.MethodPost, "/api/v1/business/scan/accrual", map[string]interface{}{
		"token":  qr,
		"points": 1,
	})
	require.Equal(t, http.StatusGone, rec.Code)
	require.Equal(t, "TOKEN_EXPIRED", body.Error.Code)
}
