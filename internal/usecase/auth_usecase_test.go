package usecase

import (
	"errors"
	"testing"
	"time"
	"wssimple/pkg/jwt"
)

func TestAuthUsecaseAccessTokens(t *testing.T) {
	auth := NewAuthUsecase(jwt.NewJWTManager("secret", "wssimple", time.Minute), "")

	token, err := auth.IssueAccessToken("user-1", "alice")
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}

	claims, err := auth.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if claims.UserId != "user-1" {
		t.Errorf("expected user-1, got %q", claims.UserId)
	}

	if _, err := auth.ValidateAccessToken(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
	if _, err := auth.ValidateAccessToken("garbage"); !errors.Is(err, jwt.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthUsecaseWithoutSigningKey(t *testing.T) {
	auth := NewAuthUsecase(nil, "")

	if _, err := auth.IssueAccessToken("user-1", ""); !errors.Is(err, ErrAuthNotEnabled) {
		t.Errorf("expected ErrAuthNotEnabled, got %v", err)
	}
	if _, err := auth.ValidateAccessToken("token"); !errors.Is(err, ErrAuthNotEnabled) {
		t.Errorf("expected ErrAuthNotEnabled, got %v", err)
	}
}

func TestAuthUsecaseAPIKey(t *testing.T) {
	hash, err := HashAPIKey("s3cret")
	if err != nil {
		t.Fatalf("HashAPIKey failed: %v", err)
	}

	auth := NewAuthUsecase(nil, hash)
	if !auth.APIKeyRequired() {
		t.Fatal("expected api key to be required")
	}

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "valid", key: "s3cret"},
		{name: "wrong", key: "guess", wantErr: ErrInvalidAPIKey},
		{name: "empty", key: "", wantErr: ErrInvalidAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := auth.ValidateAPIKey(tt.key); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAPIKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestAuthUsecaseOpenAdminAPI(t *testing.T) {
	auth := NewAuthUsecase(nil, "")
	if auth.APIKeyRequired() {
		t.Error("expected admin api to be open without a hash")
	}
	if err := auth.ValidateAPIKey(""); err != nil {
		t.Errorf("expected open admin api to accept any key, got %v", err)
	}
}

func TestHashAPIKeyRejectsEmpty(t *testing.T) {
	if _, err := HashAPIKey(""); !errors.Is(err, ErrEmptyAPIKey) {
		t.Errorf("expected ErrEmptyAPIKey, got %v", err)
	}
}
