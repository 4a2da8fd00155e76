package jwt

import (
	"errors"
	"time"
	"wssimple/internal/entity"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingUser  = errors.New("token subject is required")
)

type Claims struct {
	UserId   string `json:"userId"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	secretKey           string
	issuer              string
	accessTokenDuration time.Duration
}

func NewJWTManager(secretKey, issuer string, accessTokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:           secretKey,
		issuer:              issuer,
		accessTokenDuration: accessTokenDuration,
	}
}

// GenerateAccessToken signs a token identifying the user a websocket
// connection is opened for.
func (m *JWTManager) GenerateAccessToken(userId, username string) (string, error) {
	return m.GenerateAccessTokenWithTTL(userId, username, m.accessTokenDuration)
}

func (m *JWTManager) GenerateAccessTokenWithTTL(userId, username string, ttl time.Duration) (string, error) {
	if userId == "" {
		return "", ErrMissingUser
	}

	now := time.Now()
	claims := Claims{
		UserId:   userId,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userId,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secretKey))
}

// ValidateAccessToken validates and parses an access token
func (m *JWTManager) ValidateAccessToken(tokenString string) (*entity.TokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.secretKey), nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserId == "" {
		return nil, ErrInvalidToken
	}

	return &entity.TokenClaims{
		UserId:   claims.UserId,
		Username: claims.Username,
	}, nil
}
