package usecase

import (
	"errors"
	"wssimple/internal/entity"
	"wssimple/pkg/jwt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken   = errors.New("missing access token")
	ErrInvalidAPIKey  = errors.New("invalid api key")
	ErrEmptyAPIKey    = errors.New("api key must not be empty")
	ErrAuthNotEnabled = errors.New("token signing is not configured")
)

type AuthUsecase interface {
	ValidateAccessToken(token string) (*entity.TokenClaims, error)
	IssueAccessToken(userId, username string) (string, error)
	ValidateAPIKey(key string) error
	APIKeyRequired() bool
}

type authUsecase struct {
	jwtManager *jwt.JWTManager
	apiKeyHash []byte
}

// NewAuthUsecase builds the authenticator for websocket clients and the
// admin API. An empty apiKeyHash leaves the admin API open.
func NewAuthUsecase(jwtManager *jwt.JWTManager, apiKeyHash string) AuthUsecase {
	return &authUsecase{
		jwtManager: jwtManager,
		apiKeyHash: []byte(apiKeyHash),
	}
}

func (u *authUsecase) ValidateAccessToken(token string) (*entity.TokenClaims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if u.jwtManager == nil {
		return nil, ErrAuthNotEnabled
	}
	return u.jwtManager.ValidateAccessToken(token)
}

func (u *authUsecase) IssueAccessToken(userId, username string) (string, error) {
	if u.jwtManager == nil {
		return "", ErrAuthNotEnabled
	}
	return u.jwtManager.GenerateAccessToken(userId, username)
}

func (u *authUsecase) APIKeyRequired() bool {
	return len(u.apiKeyHash) > 0
}

func (u *authUsecase) ValidateAPIKey(key string) error {
	if !u.APIKeyRequired() {
		return nil
	}
	if key == "" {
		return ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword(u.apiKeyHash, []byte(key)); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}

// HashAPIKey produces the value expected in ADMIN_API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyAPIKey
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
