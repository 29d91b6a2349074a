package remote

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider supplies the bearer token attached to transport calls.
type TokenProvider interface {
	Token() (string, error)
}

// StaticToken is a fixed token, mostly for tests.
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

// FileTokenProvider reads the token from a 0600 file written by the
// application's auth flow. When the token is a JWT with an exp claim, an
// expired token is rejected locally instead of burning a round trip on a
// guaranteed 401.
type FileTokenProvider struct {
	Path string
}

var _ TokenProvider = (*FileTokenProvider)(nil)

func (p *FileTokenProvider) Token() (string, error) {
	b, err := os.ReadFile(p.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", errors.New("empty token file")
	}
	if err := checkExpiry(tok); err != nil {
		return "", err
	}
	return tok, nil
}

func checkExpiry(tok string) error {
	// Signature verification belongs to the server; locally we only look
	// at the exp claim. Opaque non-JWT tokens pass through untouched.
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return errors.New("auth token expired")
	}
	return nil
}
