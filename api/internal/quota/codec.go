package quota

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

// Codec converts State to and from the opaque token handed to clients.
// Decode never fails: an absent or unreadable token is the zero State,
// which the Tracker treats as a fresh day.
type Codec interface {
	Encode(State) (string, error)
	Decode(token string) State
}

// JSONCodec stores the state as plain JSON, e.g. {"count":3,"date":"2026-01-02"}.
type JSONCodec struct{}

func (JSONCodec) Encode(s State) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode quota state: %w", err)
	}
	return string(b), nil
}

func (JSONCodec) Decode(token string) State {
	var s State
	if token == "" {
		return s
	}
	if err := json.Unmarshal([]byte(token), &s); err != nil {
		return State{}
	}
	return s
}

type stateClaims struct {
	Count int    `json:"cnt"`
	Date  string `json:"day"`
	jwt.RegisteredClaims
}

// SignedCodec wraps the state in an HS256 JWT so clients cannot edit it.
type SignedCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSignedCodec(secret string) (*SignedCodec, error) {
	if secret == "" {
		return nil, errors.New("quota secret is empty")
	}
	return &SignedCodec{secret: []byte(secret), ttl: 48 * time.Hour, now: time.Now}, nil
}

func (c *SignedCodec) Encode(s State) (string, error) {
	now := c.now()
	claims := stateClaims{
		Count: s.Count,
		Date:  s.Date,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign quota token: %w", err)
	}
	return tok, nil
}

func (c *SignedCodec) Decode(token string) State {
	if token == "" {
		return State{}
	}
	var claims stateClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		return State{}
	}
	return State{Count: claims.Count, Date: claims.Date}
}

// NewCodec picks SignedCodec when a secret is configured.
func NewCodec(secret string) Codec {
	if secret == "" {
		return JSONCodec{}
	}
	c, _ := NewSignedCodec(secret)
	return c
}
