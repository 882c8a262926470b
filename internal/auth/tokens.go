// Package auth signs and checks the credentials workers present when they
// post a task envelope back to the orchestrator.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

var (
	ErrInvalidToken  = errors.New("invalid worker token")
	ErrNotConfigured = errors.New("worker secret not configured")
	ErrTaskMismatch  = errors.New("token issued for another task")
)

const issuer = "pharmaflow"

// TaskTokens issues HS256 tokens whose subject is a task id. A worker may
// present either such a token or the shared secret itself.
type TaskTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

var _ ports.TokenIssuer = (*TaskTokens)(nil)

func NewTaskTokens(secret string, ttl time.Duration) *TaskTokens {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TaskTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *TaskTokens) IssueTaskToken(taskID domain.TaskID) (string, error) {
	if len(t.secret) == 0 {
		return "", ErrNotConfigured
	}
	now := t.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   string(taskID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign task token: %w", err)
	}
	return signed, nil
}

// Verify checks the credential presented for taskID.
func (t *TaskTokens) Verify(taskID domain.TaskID, presented string) error {
	if len(t.secret) == 0 {
		return ErrNotConfigured
	}
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(presented), t.secret) == 1 {
		return nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(presented, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject != string(taskID) {
		return ErrTaskMismatch
	}
	return nil
}

// APIKeys checks user API keys. An empty set disables the check.
type APIKeys map[string]struct{}

func NewAPIKeys(keys []string) APIKeys {
	set := make(APIKeys, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

func (k APIKeys) Enabled() bool { return len(k) > 0 }

func (k APIKeys) Allow(key string) bool {
	if !k.Enabled() {
		return true
	}
	_, ok := k[strings.TrimSpace(key)]
	return ok
}
