package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/stampcard/loyalty-api/internal/pkg/jwt"
	"github.com/stampcard/loyalty-api/internal/pkg/response"
)

type contextKey string

const (
	UserIDKey     contextKey = "user_id"
	RoleKey       contextKey = "role"
	BusinessIDKey contextKey = "business_id"
)

// Auth returns middleware that validates JWT
func Auth(jwtService *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateAccessToken(parts[1])
			if err != nil {
				if err == jwt.ErrExpiredToken {
					response.Unauthorized(w, "Token expired")
				} else {
					response.Unauthorized(w, "Invalid token")
				}
				return
			}

			ctx := WithIdentity(r.Context(), claims.UserID, claims.Role, claims.BusinessID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, userID uuid.UUID, role string, businessID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, RoleKey, role)
	return context.WithValue(ctx, BusinessIDKey, businessID)
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(UserIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// GetRole extracts role from context
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}

// GetBusinessID extracts the staff member's business from context
func GetBusinessID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(BusinessIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// RequireRole returns middleware that checks user role
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userRole := GetRole(r.Context())

			for _, role := range roles {
				if userRole == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			response.Forbidden(w, "Insufficient permissions")
		})
	}
}

// RequireConsumer returns middleware that requires consumer role
func RequireConsumer() func(http.Handler) http.Handler {
	return RequireRole(jwt.RoleConsumer)
}

// RequireStaff returns middleware that requires a staff member bound to a business
func RequireStaff() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireRole(jwt.RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetBusinessID(r.Context()) == uuid.Nil {
				response.Forbidden(w, "Staff token is not bound to a business")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
