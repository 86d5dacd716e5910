// Package verify implements the six-digit email verification code flow gating agent registration.
package verify

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cc4me/cc4me/internal/relayerr"
	"github.com/cc4me/cc4me/internal/store"
)

const (
	codeTTL      = 10 * time.Minute
	maxAttempts  = 3
	codeDigits   = 6
)

// Sender delivers a verification code to an email address. The relay's HTTP layer supplies a concrete
// implementation (SMTP, a transactional email API, or a no-op for tests); verify itself only generates and
// checks codes.
type Sender interface {
	Send(ctx context.Context, email, code string) error
}

// Service implements the six-digit email verification code flow that gates agent registration.
type Service struct {
	store  *store.Store
	sender Sender
}

// New constructs a verification Service.
func New(s *store.Store, sender Sender) *Service {
	return &Service{store: s, sender: sender}
}

// Send generates a new 6-digit code for agentName/email, overwriting any prior pending code and resetting attempts.
func (s *Service) Send(ctx context.Context, agentName, email string, now time.Time) error {
	code, err := randomDigitCode(codeDigits)
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}

	hash := hashCode(code)
	if err := s.store.Verifications.Upsert(ctx, agentName, email, hash, now.Add(codeTTL)); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}

	if err := s.sender.Send(ctx, email, code); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

// Confirm checks a submitted code against the stored hash, enforcing the attempt cap and expiry.
func (s *Service) Confirm(ctx context.Context, agentName, code string, now time.Time) error {
	v, err := s.store.Verifications.Get(ctx, agentName)
	if errors.Is(err, store.ErrNotFound) {
		return relayerr.New(relayerr.CodeNotFound, "no verification in progress")
	}
	if err != nil {
		return fmt.Errorf("load verification: %w", err)
	}

	if v.Verified {
		return nil
	}
	if v.Attempts >= maxAttempts {
		return relayerr.New(relayerr.CodeForbidden, "too many verification attempts")
	}
	if now.After(v.ExpiresAt) {
		return relayerr.New(relayerr.CodeBadRequest, "verification code has expired")
	}

	if hashCode(code) != v.CodeHash {
		if err := s.store.Verifications.IncrementAttempts(ctx, agentName); err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		return relayerr.New(relayerr.CodeBadRequest, "incorrect verification code")
	}

	if err := s.store.Verifications.MarkVerified(ctx, agentName); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// IsVerified reports whether agentName/email has a completed verification row.
func (s *Service) IsVerified(ctx context.Context, agentName, email string) (bool, error) {
	v, err := s.store.Verifications.Get(ctx, agentName)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load verification: %w", err)
	}
	return v.Verified && v.Email == email, nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func randomDigitCode(digits int) (string, error) {
	out := make([]byte, digits)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		out[i] = byte('0') + byte(n.Int64())
	}
	return string(out), nil
}
