package auth

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/momentum/internal/model"
)

const (
	magicLinkIssuer   = "momentum"
	magicLinkAudience = "magic-link"
)

// MagicLinkClaims はマジックリンクトークンの検証済みクレーム。
type MagicLinkClaims struct {
	TokenID    string
	Email      string
	RedirectTo string
	ExpiresAt  time.Time
}

type magicLinkClaims struct {
	jwt.RegisteredClaims
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// MagicLinkIssuer はマジックリンク用のHS256署名トークンを発行・検証する。
type MagicLinkIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewMagicLinkIssuer はMagicLinkIssuerを生成する。
func NewMagicLinkIssuer(secret string, ttl time.Duration) *MagicLinkIssuer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MagicLinkIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue はメールアドレスとリダイレクト先を埋め込んだトークンを発行する。
func (i *MagicLinkIssuer) Issue(email, redirectTo string) (string, *MagicLinkClaims, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	tokenID := uuid.New().String()

	claims := &magicLinkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    magicLinkIssuer,
			Audience:  jwt.ClaimStrings{magicLinkAudience},
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:      email,
		RedirectTo: redirectTo,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign magic link token: %w", err)
	}

	return token, &MagicLinkClaims{
		TokenID:    tokenID,
		Email:      email,
		RedirectTo: redirectTo,
		ExpiresAt:  expiresAt,
	}, nil
}

// Parse はトークンの署名・有効期限・発行者を検証し、クレームを返す。
func (i *MagicLinkIssuer) Parse(token string) (*MagicLinkClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, model.NewMagicLinkInvalidError()
	}

	var parsed magicLinkClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(magicLinkIssuer),
		jwt.WithAudience(magicLinkAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.NewMagicLinkExpiredError()
		}
		return nil, model.NewMagicLinkInvalidError()
	}
	if parsed.ID == "" || parsed.Email == "" {
		return nil, model.NewMagicLinkInvalidError()
	}

	return &MagicLinkClaims{
		TokenID:    parsed.ID,
		Email:      parsed.Email,
		RedirectTo: parsed.RedirectTo,
		ExpiresAt:  parsed.ExpiresAt.Time,
	}, nil
}

// NormalizeEmail はメールアドレスを検証し、小文字化したアドレス部分を返す。
// 表示名付きの形式（"Alice <alice@example.com>"）は受け付けない。
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", model.NewInvalidEmailError(email)
	}
	return strings.ToLower(addr.Address), nil
}
