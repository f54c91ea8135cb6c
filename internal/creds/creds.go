// ABOUTME: Bearer credential loading for the remote queue session
// ABOUTME: Reads the token file written by the login flow and inspects JWT claims

package creds

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential errors
var (
	ErrNoToken = errors.New("no session token")
	ErrNotJWT  = errors.New("token is not a JWT")
)

// TokenInfo is what can be read from an unverified session token.
// Verification is the backend's job; the agent only inspects claims to
// warn about expiry before the backend would reject the call anyway.
type TokenInfo struct {
	Subject   string
	IssuedAt  *time.Time
	ExpiresAt *time.Time
}

// Expired reports whether the token's exp claim is in the past. Tokens
// without an exp claim never expire locally.
func (i *TokenInfo) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && i.ExpiresAt.Before(now)
}

// FileSource loads the bearer token from a file on disk. The login flow
// owns the file; the agent only reads it. The token is cached and
// re-read when the file changes, so a refreshed credential is picked up
// without restarting.
type FileSource struct {
	path string

	mu      sync.Mutex
	token   string
	modTime time.Time
}

// NewFileSource creates a token source reading from the given path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Token returns the current bearer token, re-reading the file if it has
// changed since the last call.
func (s *FileSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNoToken, s.path)
		}
		return "", fmt.Errorf("checking token file: %w", err)
	}

	if s.token != "" && info.ModTime().Equal(s.modTime) {
		return s.token, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoToken, s.path)
	}

	s.token = token
	s.modTime = info.ModTime()
	return token, nil
}

// Inspect parses the token as a JWT without verifying the signature and
// returns its claims. Opaque (non-JWT) tokens yield ErrNotJWT; callers
// treat those as valid-until-rejected.
func Inspect(token string) (*TokenInfo, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	info := &TokenInfo{}
	if sub, err := parsed.Claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if iat, err := parsed.Claims.GetIssuedAt(); err == nil && iat != nil {
		t := iat.Time
		info.IssuedAt = &t
	}
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		info.ExpiresAt = &t
	}
	return info, nil
}
