package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	authdomain "levramail-backend/internal/auth/domain"
	"levramail-backend/internal/auth/repository"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrEmptyFCM     = errors.New("fcm token required")
)

// Claims are the access token claims. Subject holds the user id.
type Claims struct {
	AccountID string `json:"account_id,omitempty"`
	jwt.RegisteredClaims
}

type AuthUsecase interface {
	// IssueToken signs an HS256 access token for userID, optionally bound to a mailbox account.
	IssueToken(userID, accountID string, ttl time.Duration) (string, error)
	ValidateToken(token string) (*authdomain.Principal, error)
}

type authUsecase struct {
	secret []byte
	now    func() time.Time
}

func NewAuthUsecase(secret string) AuthUsecase {
	return &authUsecase{secret: []byte(secret), now: time.Now}
}

func (u *authUsecase) IssueToken(userID, accountID string, ttl time.Duration) (string, error) {
	now := u.now()
	claims := Claims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(u.secret)
}

func (u *authUsecase) ValidateToken(tokenString string) (*authdomain.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return u.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(u.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &authdomain.Principal{UserID: claims.Subject, AccountID: claims.AccountID}, nil
}

// FCMUsecase manages the push devices of a user.
type FCMUsecase interface {
	Register(userID, token, deviceInfo string) error
	// Unregister reports whether the token belonged to userID and was removed.
	Unregister(userID, token string) (bool, error)
}

type fcmUsecase struct {
	tokens repository.FCMTokenRepository
}

func NewFCMUsecase(tokens repository.FCMTokenRepository) FCMUsecase {
	return &fcmUsecase{tokens: tokens}
}

func (u *fcmUsecase) Register(userID, token, deviceInfo string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyFCM
	}
	if err := u.tokens.SaveToken(userID, token, deviceInfo); err != nil {
		return fmt.Errorf("failed to save fcm token: %w", err)
	}
	return nil
}

func (u *fcmUsecase) Unregister(userID, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, ErrEmptyFCM
	}
	return u.tokens.DeleteToken(userID, token)
}
