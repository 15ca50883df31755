package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "empires"

var ErrInvalidToken = errors.New("invalid token")

// Session is what a freshly minted token is handed out as.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

type claims struct {
	Username string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 bearer tokens whose subject is the player id.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

func NewTokens(secret string) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 8 {
		return nil, fmt.Errorf("token secret must be at least 8 characters")
	}
	return &Tokens{secret: []byte(secret), now: time.Now}, nil
}

func (t *Tokens) Mint(userID int64, username string, ttl time.Duration) (Session, error) {
	if userID <= 0 {
		return Session{}, fmt.Errorf("user id must be positive")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := t.now()
	exp := now.Add(ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	return Session{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   exp.UTC().Truncate(time.Second),
		User:        User{ID: userID, Username: username},
	}, nil
}

func (t *Tokens) VerifyAccessToken(_ context.Context, accessToken string) (User, error) {
	var c claims
	_, err := jwt.ParseWithClaims(accessToken, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return User{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, c.Subject)
	}
	return User{ID: id, Username: c.Username}, nil
}
