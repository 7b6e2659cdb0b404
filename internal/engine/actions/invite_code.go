package actions

import (
	"context"
	"crypto/rand"
	"fmt"

	"cloudcompanion/internal/pkg/errors"
	"cloudcompanion/internal/platform/models"
)

const (
	// 32 symbols, no 0/O or 1/I, so a random byte maps onto it without bias.
	inviteCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	inviteCodeLength = 12
)

type inviteLookup interface {
	GetByKey(ctx context.Context, key string) (*models.InviteKey, error)
}

// generateInviteKey returns custom if it is well formed and unused, or a fresh
// random key otherwise.
func generateInviteKey(ctx context.Context, custom string, lookup inviteLookup) (string, error) {
	if custom != "" {
		if !isValidInviteKey(custom) {
			return "", errors.InvalidInput("Invite key may only contain letters, digits, '-' and '_'")
		}
		existing, err := lookup.GetByKey(ctx, custom)
		if err != nil {
			return "", errors.Persistence("Failed to check invite key", err)
		}
		if existing != nil {
			return "", errors.Conflict("Invite key already exists")
		}
		return custom, nil
	}

	for i := 0; i < 5; i++ {
		code, err := randomInviteCode(inviteCodeLength)
		if err != nil {
			return "", err
		}
		existing, err := lookup.GetByKey(ctx, code)
		if err != nil {
			return "", errors.Persistence("Failed to check invite key", err)
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", errors.New(errors.ErrCodeInternal, "Failed to generate a unique invite key")
}

func randomInviteCode(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i := range b {
		b[i] = inviteCodeChars[int(b[i])%len(inviteCodeChars)]
	}
	return string(b), nil
}

func isValidInviteKey(key string) bool {
	if len(key) < 4 || len(key) > 64 {
		return false
	}
	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
