package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStaffTokenCarriesBusiness(t *testing.T) {
	svc := NewService("secret", time.Minute)
	userID, businessID := uuid.New(), uuid.New()

	tok, err := svc.GenerateAccessToken(userID, RoleStaff, businessID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.ValidateAccessToken(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != userID || claims.BusinessID != businessID || claims.Role != RoleStaff {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestStaffTokenWithoutBusinessRejected(t *testing.T) {
	svc := NewService("secret", time.Minute)
	tok, _ := svc.GenerateAccessToken(uuid.New(), RoleStaff, uuid.Nil)
	if _, err := svc.ValidateAccessToken(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	svc := NewService("secret", -time.Minute)
	tok, _ := svc.GenerateAccessToken(uuid.New(), RoleConsumer, uuid.Nil)
	if _, err := svc.ValidateAccessToken(tok); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestWrongSecret(t *testing.T) {
	tok, _ := NewService("a", time.Minute).GenerateAccessToken(uuid.New(), RoleConsumer, uuid.Nil)
	if _, err := NewService("b", time.Minute).ValidateAccessToken(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
